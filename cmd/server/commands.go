package main

import (
	"github.com/spf13/cobra"

	"github.com/crasbi/crasbi-api/internal/config"
	"github.com/crasbi/crasbi-api/internal/migration"
)

var (
	cfgFile string
	debug   bool
)

func newRootCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the REST API (default)",
		RunE:  runServe,
	}

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply registry schema migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(debug)
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			return migration.RunMigrations(cfg.DatabaseURL, logger)
		},
	}

	rootCmd := &cobra.Command{
		Use:   "crasbi",
		Short: "crasbi: source connections, ETL jobs and runs",
		Long: `crasbi serves the REST API behind the data-integration console:
source connection and job registries, and a synchronous ETL run trigger.

Running without a subcommand starts the server.`,
		SilenceUsage: true,
		RunE:         runServe,
	}
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./config.yaml or ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(serveCmd, migrateCmd)
	return rootCmd
}

func runServe(cmd *cobra.Command, args []string) error {
	logger := newLogger(debug)
	cfg, err := config.Load(cfgFile)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to load configuration")
		return err
	}
	return serve(cfg, logger)
}
