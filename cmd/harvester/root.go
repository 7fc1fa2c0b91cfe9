package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/repo-harvester/pkg/config"
	"github.com/Sternrassler/repo-harvester/pkg/logging"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "harvester",
		Short: "Collect unique GitHub repositories through the search API",
		Long: `harvester partitions the repository search space into ranges that fit
the 1000-result search window, pages through each range under the API rate
limit, and upserts every unique repository into Postgres until the target
count is reached.

Configuration is read from the environment and an optional .env file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newCrawlCmd(), newMigrateCmd(), newExportCmd())
	return root
}

// setup loads configuration and configures logging.
func setup() (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, zerolog.Nop(), err
	}

	level, _ := logging.ParseLevel(cfg.LogLevel)
	logger := logging.Setup(logging.Config{
		Level:  level,
		Pretty: cfg.LogPretty,
	})
	return cfg, logger, nil
}
