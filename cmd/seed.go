package cmd

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"telemetry-engine/internal/analytics/domain/rollup"
	points "telemetry-engine/internal/points/domain"
	teleapp "telemetry-engine/internal/telemetry/application"
)

var seedOpts struct {
	firstSystem int64
	systems     int
	start       string
	days        int
	step        time.Duration
	aggregate   bool
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Ingest synthetic telemetry for load and demo runs",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if seedOpts.systems <= 0 || seedOpts.days <= 0 || seedOpts.firstSystem <= 0 {
			return fmt.Errorf("systems, days and first-system must be positive")
		}
		if seedOpts.step < time.Second || seedOpts.step > rollup.BucketWidth {
			return fmt.Errorf("step must be between 1s and %s", rollup.BucketWidth)
		}
		start := rollup.DayStart(time.Now().UTC()).AddDate(0, 0, -seedOpts.days)
		if seedOpts.start != "" {
			day, err := rollup.ParseDay(seedOpts.start)
			if err != nil {
				return err
			}
			start = day
		}
		return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
			rows := make([][]string, 0, seedOpts.systems)
			for i := 0; i < seedOpts.systems; i++ {
				systemID := seedOpts.firstSystem + int64(i)
				total, err := seedSystem(ctx, a, systemID, start, seedOpts.days, seedOpts.step)
				if err != nil {
					return fmt.Errorf("system %d: %w", systemID, err)
				}
				aggregated := "-"
				if seedOpts.aggregate {
					for d := 0; d < seedOpts.days; d++ {
						if _, err := a.analytics.AggregateDay(ctx, systemID, start.AddDate(0, 0, d)); err != nil {
							return fmt.Errorf("system %d: %w", systemID, err)
						}
					}
					aggregated = strconv.Itoa(seedOpts.days)
				}
				rows = append(rows, []string{strconv.FormatInt(systemID, 10), strconv.Itoa(total.Readings), strconv.Itoa(total.Buckets), aggregated})
			}
			return renderTable(cmd.OutOrStdout(), []string{"System", "Readings", "Buckets", "Days aggregated"}, rows)
		})
	},
}

func init() {
	flags := seedCmd.Flags()
	flags.Int64Var(&seedOpts.firstSystem, "first-system", 1000, "first system id")
	flags.IntVar(&seedOpts.systems, "systems", 1, "number of systems")
	flags.StringVar(&seedOpts.start, "start-date", "", "first day (YYYY-MM-DD), defaults to days before today")
	flags.IntVar(&seedOpts.days, "days", 1, "number of days")
	flags.DurationVar(&seedOpts.step, "step", time.Minute, "sample spacing")
	flags.BoolVar(&seedOpts.aggregate, "aggregate", true, "aggregate each seeded day")
	rootCmd.AddCommand(seedCmd)
}

// seedSystem ingests one batch per hour of synthetic samples.
func seedSystem(ctx context.Context, a *app, systemID int64, start time.Time, days int, step time.Duration) (teleapp.Result, error) {
	var total teleapp.Result
	end := start.AddDate(0, 0, days)
	for hour := start; hour.Before(end); hour = hour.Add(time.Hour) {
		batch := teleapp.Batch{SystemID: systemID, ReceivedTime: hour.Add(time.Hour)}
		for ts := hour; ts.Before(hour.Add(time.Hour)); ts = ts.Add(step) {
			batch.Samples = append(batch.Samples, syntheticSamples(ts, step)...)
		}
		res, err := a.ingest.Ingest(ctx, batch)
		if err != nil {
			return total, err
		}
		total.Readings += res.Readings
		total.Buckets += res.Buckets
		total.CacheWrites += res.CacheWrites
	}
	a.logger.Info("system seeded",
		zap.Int64("system_id", systemID),
		zap.Int("readings", total.Readings),
		zap.Int("buckets", total.Buckets),
	)
	return total, nil
}

// syntheticSamples returns a solar, load, battery and grid import sample at ts.
// Grid import is the energy drawn during the step, in Wh.
func syntheticSamples(ts time.Time, step time.Duration) []teleapp.Sample {
	hourOfDay := float64(ts.Hour()) + float64(ts.Minute())/60
	solar := 0.0
	if hourOfDay > 6 && hourOfDay < 18 {
		solar = 5000 * math.Sin(math.Pi*(hourOfDay-6)/12)
	}
	load := 1500 + 800*math.Sin(2*math.Pi*hourOfDay/24)
	soc := 50 + 40*math.Sin(2*math.Pi*(hourOfDay-9)/24)
	imported := math.Max(load-solar, 0) * step.Hours()

	return []teleapp.Sample{
		sample("pv1/ac_power", ts, solar, points.VendorMetadata{DefaultName: "PV power", MetricType: points.MetricPower, Subsystem: "pv"}),
		sample("load/active_power", ts, load, points.VendorMetadata{DefaultName: "Load power", MetricType: points.MetricPower, Subsystem: "load"}),
		sample("bms/soc", ts, soc, points.VendorMetadata{DefaultName: "Battery SoC", MetricType: points.MetricSOC, Subsystem: "battery"}),
		sample("meter/import_wh", ts, imported, points.VendorMetadata{DefaultName: "Grid import", MetricType: points.MetricEnergy, Subsystem: "grid", Integration: points.IntegrationInterval}),
	}
}

func sample(path string, ts time.Time, v float64, meta points.VendorMetadata) teleapp.Sample {
	return teleapp.Sample{PhysicalPathTail: path, Meta: meta, MeasurementTime: ts, Value: &v, Quality: "good"}
}
