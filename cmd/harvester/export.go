package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/repo-harvester/pkg/export"
	"github.com/Sternrassler/repo-harvester/pkg/sink"
)

func newExportCmd() *cobra.Command {
	var outPath string

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the stored repositories as CSV",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}

			db, err := sink.Connect(cmd.Context(), cfg.DatabaseURL())
			if err != nil {
				return err
			}
			defer db.Close()

			if outPath == "" || outPath == "-" {
				rows, err := export.CSV(cmd.Context(), sink.NewPostgres(db), cmd.OutOrStdout())
				if err != nil {
					return err
				}
				logger.Info().Int("rows", rows).Msg("Export complete")
				return nil
			}

			rows, err := exportFile(cmd.Context(), sink.NewPostgres(db), outPath)
			if err != nil {
				return err
			}
			logger.Info().Int("rows", rows).Str("out", outPath).Msg("Export complete")
			return nil
		},
	}

	cmd.Flags().StringVarP(&outPath, "out", "o", "repositories.csv", `output file ("-" for stdout)`)
	return cmd
}

// exportFile writes the CSV to path. A failed close is reported, since
// it can lose buffered rows.
func exportFile(ctx context.Context, src sink.Reader, path string) (int, error) {
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}

	rows, err := export.CSV(ctx, src, f)
	if err != nil {
		f.Close()
		return rows, err
	}
	if err := f.Close(); err != nil {
		return rows, fmt.Errorf("close %s: %w", path, err)
	}
	return rows, nil
}
