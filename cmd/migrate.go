package cmd

import (
	"github.com/spf13/cobra"

	platformpg "telemetry-engine/internal/platform/postgres"
)

var migrateTarget int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long: `Apply the embedded schema migrations.

  --to -1  migrate to the latest version (default)
  --to 0   roll every migration back
  --to N   migrate to version N`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		db, err := platformpg.Open(cmd.Context(), cfg.Database.URL, logger)
		if err != nil {
			return err
		}
		defer db.Close()
		return platformpg.Migrate(db, migrateTarget, logger)
	},
}

func init() {
	migrateCmd.Flags().IntVar(&migrateTarget, "to", -1, "target schema version")
}
