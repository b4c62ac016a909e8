package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"telemetry-engine/internal/series/filter"
)

var (
	seriesFilter   string
	seriesInterval string
)

var seriesCmd = &cobra.Command{
	Use:   "series",
	Short: "Inspect series descriptors",
}

var seriesListCmd = &cobra.Command{
	Use:   "list <systemID>",
	Short: "List the series a system exposes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		systemID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid system id %q", args[0])
		}
		var patterns []string
		if seriesFilter != "" {
			if patterns, err = filter.ParsePatterns(seriesFilter); err != nil {
				return err
			}
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			list, err := a.series.ListSeries(ctx, systemID, patterns, seriesInterval)
			if err != nil {
				return err
			}
			rows := make([][]string, 0, len(list))
			for _, d := range list {
				intervals := make([]string, 0, len(d.Intervals))
				for _, i := range d.Intervals {
					intervals = append(intervals, string(i))
				}
				rows = append(rows, []string{
					d.ID,
					strconv.Itoa(d.PointIndex),
					d.LogicalPath,
					string(d.Column),
					strings.Join(intervals, ","),
					d.Label,
					d.Unit,
				})
			}
			return renderTable(cmd.OutOrStdout(),
				[]string{"ID", "Point", "Logical path", "Column", "Intervals", "Label", "Unit"}, rows)
		})
	},
}

func init() {
	seriesListCmd.Flags().StringVar(&seriesFilter, "filter", "", "comma separated path patterns, e.g. pv/*,{bess,load}/power")
	seriesListCmd.Flags().StringVar(&seriesInterval, "interval", "", "5m or 1d")
	seriesCmd.AddCommand(seriesListCmd)
}
