package cmd

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	aggapp "telemetry-engine/internal/analytics/application"
	"telemetry-engine/internal/analytics/domain/rollup"
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Run daily aggregation",
}

var aggregateDayCmd = &cobra.Command{
	Use:   "day <systemID> <YYYY-MM-DD>",
	Short: "Aggregate one system day",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		systemID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid system id %q", args[0])
		}
		day, err := rollup.ParseDay(args[1])
		if err != nil {
			return err
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			result, err := a.analytics.AggregateDay(ctx, systemID, day)
			if err != nil {
				return err
			}
			return renderTable(cmd.OutOrStdout(),
				[]string{"System", "Day", "Rows", "Degraded"},
				[][]string{{
					strconv.FormatInt(result.SystemID, 10),
					rollup.DayKey(result.Day),
					strconv.Itoa(result.Rows),
					strconv.Itoa(result.Degraded),
				}},
			)
		})
	},
}

var aggregateCatchupCmd = &cobra.Command{
	Use:   "catchup",
	Short: "Aggregate every missing day for every system",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return sweepCommand(cmd, func(ctx context.Context, a *app) (aggapp.SweepReport, error) {
			return a.analytics.AggregateAllMissingDaysForAllSystems(ctx)
		})
	},
}

var lastDays int

var aggregateLastCmd = &cobra.Command{
	Use:   "last",
	Short: "Re-aggregate the last N days for every system",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return sweepCommand(cmd, func(ctx context.Context, a *app) (aggapp.SweepReport, error) {
			return a.analytics.AggregateLastNDays(ctx, lastDays)
		})
	},
}

var aggregateRegenerateCmd = &cobra.Command{
	Use:   "regenerate",
	Short: "Rebuild every daily row from five-minute data",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return sweepCommand(cmd, func(ctx context.Context, a *app) (aggapp.SweepReport, error) {
			return a.analytics.RegenerateAll(ctx)
		})
	},
}

func init() {
	aggregateLastCmd.Flags().IntVarP(&lastDays, "days", "n", 7, "number of days, including today")
	aggregateCmd.AddCommand(aggregateDayCmd, aggregateCatchupCmd, aggregateLastCmd, aggregateRegenerateCmd)
}

func sweepCommand(cmd *cobra.Command, run func(context.Context, *app) (aggapp.SweepReport, error)) error {
	return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
		report, err := run(ctx, a)
		if err != nil {
			return err
		}
		if err := printSweep(cmd, report); err != nil {
			return err
		}
		if failed := report.Failed(); len(failed) > 0 {
			return fmt.Errorf("%s: %d of %d systems failed", report.Sweep, len(failed), len(report.Results))
		}
		return nil
	})
}

func printSweep(cmd *cobra.Command, report aggapp.SweepReport) error {
	rows := make([][]string, 0, len(report.Results))
	for _, r := range report.Results {
		status := "ok"
		if r.Err != nil {
			status = r.Err.Error()
		}
		rows = append(rows, []string{
			strconv.FormatInt(r.SystemID, 10),
			strconv.Itoa(len(r.Days)),
			dayRange(r.Days),
			status,
		})
	}
	if err := renderTable(cmd.OutOrStdout(), []string{"System", "Days", "Range", "Status"}, rows); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s finished in %s\n", report.Sweep, report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	return nil
}

func dayRange(days []time.Time) string {
	switch len(days) {
	case 0:
		return "-"
	case 1:
		return rollup.DayKey(days[0])
	}
	first, last := days[0], days[0]
	for _, d := range days[1:] {
		if d.Before(first) {
			first = d
		}
		if d.After(last) {
			last = d
		}
	}
	return strings.Join([]string{rollup.DayKey(first), rollup.DayKey(last)}, "..")
}
