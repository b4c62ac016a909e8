// Package cmd implements the telemetry-engine command line.
package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"telemetry-engine/internal/config"
	"telemetry-engine/internal/observability/logging"
)

// Set by the linker at release time.
var version = "dev"

var (
	configFile string
	v          = config.New()
	cfg        config.Config
	logger     = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:           "telemetry-engine",
	Short:         "Telemetry point and aggregation engine",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(*cobra.Command, []string) error {
		loaded, err := config.Load(v, configFile)
		if err != nil {
			return err
		}
		cfg = loaded
		logger, err = logging.New(cfg.Log.Level, cfg.Log.Format)
		return err
	},
	PersistentPostRun: func(*cobra.Command, []string) {
		_ = logger.Sync()
	},
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "YAML config file")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.String("database-url", "", "Postgres URL (defaults to DATABASE_URL or PG_DSN)")
	flags.String("cache-backend", "", "latest-value cache backend (memory, redis)")
	_ = v.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = v.BindPFlag("database.url", flags.Lookup("database-url"))
	_ = v.BindPFlag("cache.backend", flags.Lookup("cache-backend"))

	rootCmd.AddCommand(serveCmd, migrateCmd, aggregateCmd, purgeCmd, cacheCmd, seriesCmd, registryCmd, versionCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.ExecuteContext(context.Background())
}

// withApp builds the engine for one command invocation.
func withApp(ctx context.Context, fn func(context.Context, *app) error) error {
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}
