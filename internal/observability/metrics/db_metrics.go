package metrics

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// storeCollector reports table sizes on scrape. A failed query skips its
// sample rather than reporting zero.
type storeCollector struct {
	db      *sql.DB
	logger  *zap.Logger
	timeout time.Duration

	activePoints *prometheus.Desc
	rows         *prometheus.Desc
	unaggregated *prometheus.Desc
}

var storeTables = []string{"points", "raw_readings", "fivemin_aggregates", "daily_aggregates"}

func newStoreCollector(db *sql.DB, logger *zap.Logger) *storeCollector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &storeCollector{
		db:      db,
		logger:  logger.Named("metrics"),
		timeout: 5 * time.Second,
		activePoints: prometheus.NewDesc(metricPrefix+"points_active",
			"Active points across all systems", nil, nil),
		rows: prometheus.NewDesc(metricPrefix+"store_rows",
			"Estimated rows per table", []string{"table"}, nil),
		unaggregated: prometheus.NewDesc(metricPrefix+"raw_readings_unaggregated",
			"Raw readings whose five-minute bucket has not been written", nil, nil),
	}
}

func (c *storeCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.activePoints
	ch <- c.rows
	ch <- c.unaggregated
}

func (c *storeCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	if n, ok := c.count(ctx, `SELECT COUNT(*) FROM points WHERE active`); ok {
		ch <- prometheus.MustNewConstMetric(c.activePoints, prometheus.GaugeValue, n)
	}
	for _, table := range storeTables {
		// reltuples avoids a full scan of the reading tables.
		if n, ok := c.count(ctx, `SELECT GREATEST(reltuples, 0)::BIGINT FROM pg_class WHERE relname = $1`, table); ok {
			ch <- prometheus.MustNewConstMetric(c.rows, prometheus.GaugeValue, n, table)
		}
	}
	if n, ok := c.count(ctx, `
SELECT COUNT(*) FROM raw_readings r
WHERE NOT EXISTS (
	SELECT 1 FROM fivemin_aggregates f
	WHERE f.system_id = r.system_id
		AND f.point_index = r.point_index
		AND f.interval_end = r.bucket_end
)`); ok {
		ch <- prometheus.MustNewConstMetric(c.unaggregated, prometheus.GaugeValue, n)
	}
}

func (c *storeCollector) count(ctx context.Context, query string, args ...any) (float64, bool) {
	var n int64
	if err := c.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		c.logger.Warn("store metric query failed", zap.Error(err))
		return 0, false
	}
	return float64(max(n, 0)), true
}
