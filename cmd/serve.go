package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	agghttp "telemetry-engine/internal/analytics/interfaces"
	apihttp "telemetry-engine/internal/api/http"
	"telemetry-engine/internal/observability/tracing"
	ingesthttp "telemetry-engine/internal/telemetry/interfaces/http"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server and the retention ticker",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if cfg.Tracing.Enabled {
			shutdown, err := tracing.Init("telemetry-engine", version, os.Stdout)
			if err != nil {
				return err
			}
			defer func() { _ = shutdown(context.Background()) }()
		}
		return withApp(ctx, serve)
	},
}

func serve(ctx context.Context, a *app) error {
	if err := a.registry.Build(ctx, nil); err != nil {
		a.logger.Warn("initial registry build failed", zap.Error(err))
	}

	handler, err := newHTTPHandler(a)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Addr:         a.cfg.HTTP.Addr,
		Handler:      handler,
		ReadTimeout:  a.cfg.HTTP.ReadTimeout,
		WriteTimeout: a.cfg.HTTP.WriteTimeout,
	}

	if a.cfg.Retention.Interval > 0 {
		go runRetention(ctx, a, a.cfg.Retention.Interval)
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server listening", zap.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	a.logger.Info("http server shutting down")
	return srv.Shutdown(shutdownCtx)
}

func newHTTPHandler(a *app) (http.Handler, error) {
	points, err := apihttp.NewPointHandler(a.points, a.logger)
	if err != nil {
		return nil, err
	}
	series, err := apihttp.NewSeriesHandler(a.series, a.logger)
	if err != nil {
		return nil, err
	}
	latest, err := apihttp.NewLatestHandler(a.latest, a.logger)
	if err != nil {
		return nil, err
	}
	registry, err := apihttp.NewRegistryHandler(a.registry, a.logger)
	if err != nil {
		return nil, err
	}
	ingest, err := ingesthttp.NewHandler(a.ingest, a.logger)
	if err != nil {
		return nil, err
	}
	aggregation, err := agghttp.NewAggregationHandler(a.analytics, a.logger)
	if err != nil {
		return nil, err
	}
	export, err := agghttp.NewExportHandler(a.analytics, a.logger)
	if err != nil {
		return nil, err
	}
	return apihttp.NewRouter(apihttp.Routes{
		Points:   points,
		Series:   series,
		Latest:   latest,
		Registry: registry,
		Ingest:   ingest,
		Export:   export,
		Aggregation: apihttp.AggregationRoutes{
			Day:        aggregation.Day,
			Catchup:    aggregation.Catchup,
			Last:       aggregation.Last,
			Regenerate: aggregation.Regenerate,
		},
		Ready: a.ready,
	}, a.logger), nil
}

// runRetention purges expired data and catches up missing days on every tick.
func runRetention(ctx context.Context, a *app, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			report, err := a.analytics.AggregateAllMissingDaysForAllSystems(ctx)
			if err != nil {
				a.logger.Error("catch-up sweep failed", zap.Error(err))
			} else if failed := report.Failed(); len(failed) > 0 {
				a.logger.Warn("catch-up sweep had failures", zap.Int("systems", len(failed)))
			}
			purged, err := a.analytics.Purge(ctx, now.UTC())
			if err != nil {
				a.logger.Error("purge failed", zap.Error(err))
				continue
			}
			a.logger.Info("retention pass done",
				zap.Int("days_aggregated", report.DaysAggregated()),
				zap.Int64("raw_deleted", purged.RawDeleted),
				zap.Int64("fivemin_deleted", purged.FiveMinuteDeleted),
				zap.Int64("daily_deleted", purged.DailyDeleted),
			)
		}
	}
}
