package main

import (
	"github.com/spf13/cobra"

	"github.com/Sternrassler/repo-harvester/pkg/logging"
	"github.com/Sternrassler/repo-harvester/pkg/sink"
)

func newMigrateCmd() *cobra.Command {
	var down bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the github_data schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := setup()
			if err != nil {
				return err
			}

			db, err := sink.Connect(cmd.Context(), cfg.DatabaseURL())
			if err != nil {
				return err
			}
			defer db.Close()

			logger := logging.NewLogger("migrate")
			if down {
				return sink.MigrateDown(db, logger)
			}
			return sink.Migrate(db, logger)
		},
	}

	cmd.Flags().BoolVar(&down, "down", false, "revert all migrations")
	return cmd
}
