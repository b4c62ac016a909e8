package cmd

import (
	"context"
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

var purgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete data past its retention window",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			report, err := a.analytics.Purge(ctx, time.Now().UTC())
			if err != nil {
				return err
			}
			return renderTable(cmd.OutOrStdout(),
				[]string{"Tier", "Deleted", "Archived", "Kept"},
				[][]string{
					{"raw", i64(report.RawDeleted), i64(report.RawArchived), i64(report.RawKept)},
					{"5m", i64(report.FiveMinuteDeleted), "-", "-"},
					{"1d", i64(report.DailyDeleted), "-", "-"},
				},
			)
		})
	},
}

func i64(v int64) string { return strconv.FormatInt(v, 10) }
