package metrics

import (
	"database/sql"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

const (
	metricPrefix = "telemetry_"

	resultSuccess = "success"
	resultError   = "error"

	cacheResultWritten  = "written"
	cacheResultRejected = "rejected"
	cacheResultHit      = "hit"
	cacheResultMiss     = "miss"
)

var (
	registerOnce sync.Once

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec
	ingestReadings prometheus.Counter

	bucketUpserts prometheus.Counter

	aggregationDayTotal   *prometheus.CounterVec
	aggregationDayLatency *prometheus.HistogramVec
	sweepFailures         *prometheus.CounterVec
	degradedRows          *prometheus.CounterVec
	purgedRows            *prometheus.CounterVec

	cacheWrites  *prometheus.CounterVec
	cacheLookups *prometheus.CounterVec

	seriesRebuilds      prometheus.Counter
	compositeRecomputes *prometheus.CounterVec

	consumerLag *prometheus.GaugeVec
)

// Init registers engine metrics and DB-backed gauges.
func Init(db *sql.DB, logger *zap.Logger) {
	registerOnce.Do(func() {
		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_requests_total",
				Help: "Total ingest batches by result",
			},
			[]string{"result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_errors_total",
				Help: "Total ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "ingest_latency_seconds",
				Help:    "Ingest batch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		ingestReadings = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "ingest_readings_total",
				Help: "Total raw readings stored",
			},
		)

		bucketUpserts = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "fivemin_bucket_upserts_total",
				Help: "Total five-minute bucket upserts",
			},
		)

		aggregationDayTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "aggregation_day_total",
				Help: "Total daily aggregations by result",
			},
			[]string{"result"},
		)
		aggregationDayLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "aggregation_day_latency_seconds",
				Help:    "Daily aggregation latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		sweepFailures = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "sweep_system_failures_total",
				Help: "Per-system failures during aggregation sweeps",
			},
			[]string{"sweep"},
		)
		degradedRows = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "degraded_rows_total",
				Help: "Aggregate rows written with a degraded-computation flag",
			},
			[]string{"flag"},
		)
		purgedRows = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "purged_rows_total",
				Help: "Rows deleted by retention by store",
			},
			[]string{"store"},
		)

		cacheWrites = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "latest_cache_writes_total",
				Help: "Latest-value cache writes by result",
			},
			[]string{"result"},
		)
		cacheLookups = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "latest_cache_lookups_total",
				Help: "Latest-value cache lookups by result",
			},
			[]string{"result"},
		)

		seriesRebuilds = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: metricPrefix + "series_cache_rebuilds_total",
				Help: "Series descriptor cache rebuilds",
			},
		)
		compositeRecomputes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "composite_recomputes_total",
				Help: "Composite point recomputations by result",
			},
			[]string{"result"},
		)

		consumerLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: metricPrefix + "event_consumer_lag_seconds",
				Help: "Consumer processing lag in seconds",
			},
			[]string{"consumer"},
		)

		prometheus.MustRegister(
			ingestRequests,
			ingestErrors,
			ingestLatency,
			ingestReadings,
			bucketUpserts,
			aggregationDayTotal,
			aggregationDayLatency,
			sweepFailures,
			degradedRows,
			purgedRows,
			cacheWrites,
			cacheLookups,
			seriesRebuilds,
			compositeRecomputes,
			consumerLag,
		)

		if db != nil {
			prometheus.MustRegister(newStoreCollector(db, logger))
		}
	})
}

// ObserveIngest records ingest batch duration and result.
func ObserveIngest(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// AddIngestedReadings counts stored raw readings.
func AddIngestedReadings(count int) {
	if count <= 0 || ingestReadings == nil {
		return
	}
	ingestReadings.Add(float64(count))
}

// AddBucketUpserts counts five-minute rows written.
func AddBucketUpserts(count int) {
	if count <= 0 || bucketUpserts == nil {
		return
	}
	bucketUpserts.Add(float64(count))
}

// ObserveAggregationDay records day aggregation latency and result.
func ObserveAggregationDay(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if aggregationDayTotal != nil {
		aggregationDayTotal.WithLabelValues(result).Inc()
	}
	if aggregationDayLatency != nil {
		aggregationDayLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// IncSweepFailure counts a per-system failure inside a sweep.
func IncSweepFailure(sweep string) {
	if sweep == "" {
		sweep = "unknown"
	}
	if sweepFailures != nil {
		sweepFailures.WithLabelValues(sweep).Inc()
	}
}

// IncDegradedRow counts a row carrying a degraded flag.
func IncDegradedRow(flag string) {
	if degradedRows != nil {
		degradedRows.WithLabelValues(flag).Inc()
	}
}

// AddPurgedRows counts rows deleted by retention.
func AddPurgedRows(store string, count int64) {
	if count <= 0 || purgedRows == nil {
		return
	}
	purgedRows.WithLabelValues(store).Add(float64(count))
}

// IncCacheWrite counts a latest-value write outcome.
func IncCacheWrite(result string) {
	if cacheWrites != nil {
		cacheWrites.WithLabelValues(result).Inc()
	}
}

// IncCacheLookup counts a latest-value lookup as hit or miss.
func IncCacheLookup(hit bool) {
	if cacheLookups == nil {
		return
	}
	if hit {
		cacheLookups.WithLabelValues(cacheResultHit).Inc()
		return
	}
	cacheLookups.WithLabelValues(cacheResultMiss).Inc()
}

// IncSeriesRebuild counts a series cache rebuild.
func IncSeriesRebuild() {
	if seriesRebuilds != nil {
		seriesRebuilds.Inc()
	}
}

// IncCompositeRecompute counts a composite recompute outcome.
func IncCompositeRecompute(result string) {
	if result == "" {
		result = resultSuccess
	}
	if compositeRecomputes != nil {
		compositeRecomputes.WithLabelValues(result).Inc()
	}
}

// ObserveConsumerLag sets consumer lag in seconds.
func ObserveConsumerLag(consumer string, lag time.Duration) {
	if consumer == "" {
		consumer = "unknown"
	}
	if lag < 0 {
		lag = 0
	}
	if consumerLag != nil {
		consumerLag.WithLabelValues(consumer).Set(lag.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError
	ResultSkipped = "skipped"

	CacheWritten  = cacheResultWritten
	CacheRejected = cacheResultRejected
)
