package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"telemetry-engine/internal/analytics/domain/rollup"
)

const defaultDailyTable = "daily_aggregates"

// DailyRepository is a Postgres implementation for daily aggregates.
type DailyRepository struct {
	db    *sql.DB
	table string
}

// NewDailyRepository creates a repository using the default table name.
func NewDailyRepository(db *sql.DB, opts ...DailyOption) *DailyRepository {
	repo := &DailyRepository{db: db, table: defaultDailyTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// DailyOption configures the repository.
type DailyOption func(*DailyRepository)

// WithDailyTable overrides the default table name.
func WithDailyTable(table string) DailyOption {
	return func(repo *DailyRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// UpsertDaily writes rows in one transaction keyed by (system, point, day).
func (r *DailyRepository) UpsertDaily(ctx context.Context, rows []rollup.Daily) error {
	if r == nil || r.db == nil {
		return errors.New("daily repo: nil db")
	}
	if len(rows) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	system_id,
	point_index,
	day,
	time_key,
	avg_value,
	min_value,
	max_value,
	last_value,
	delta_value,
	interval_count,
	expected_count,
	flags
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
)
ON CONFLICT (system_id, point_index, day)
DO UPDATE SET
	avg_value = EXCLUDED.avg_value,
	min_value = EXCLUDED.min_value,
	max_value = EXCLUDED.max_value,
	last_value = EXCLUDED.last_value,
	delta_value = EXCLUDED.delta_value,
	interval_count = EXCLUDED.interval_count,
	expected_count = EXCLUDED.expected_count,
	flags = EXCLUDED.flags,
	updated_at = NOW()`, r.table)

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, row := range rows {
		day := rollup.DayStart(row.Day)
		if _, err := stmt.ExecContext(
			ctx,
			row.SystemID,
			row.PointIndex,
			day,
			rollup.DayKey(day),
			nullFloat(row.Avg),
			nullFloat(row.Min),
			nullFloat(row.Max),
			nullFloat(row.Last),
			nullFloat(row.Delta),
			row.IntervalCount,
			row.ExpectedCount,
			row.Flags.String(),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ListRange returns a system's rows with day in [from, to).
func (r *DailyRepository) ListRange(ctx context.Context, systemID int64, from, to time.Time) ([]rollup.Daily, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("daily repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT
	system_id,
	point_index,
	day,
	avg_value,
	min_value,
	max_value,
	last_value,
	delta_value,
	interval_count,
	expected_count,
	flags
FROM %s
WHERE system_id = $1
	AND day >= $2
	AND day < $3
ORDER BY day ASC, point_index ASC`, r.table)

	rows, err := r.db.QueryContext(ctx, query, systemID, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rollup.Daily
	for rows.Next() {
		var (
			row   rollup.Daily
			flags string

			avg, minV, maxV, last, dlt sql.NullFloat64
		)
		if err := rows.Scan(
			&row.SystemID,
			&row.PointIndex,
			&row.Day,
			&avg,
			&minV,
			&maxV,
			&last,
			&dlt,
			&row.IntervalCount,
			&row.ExpectedCount,
			&flags,
		); err != nil {
			return nil, err
		}
		row.Day = row.Day.UTC()
		row.Avg = floatPtr(avg)
		row.Min = floatPtr(minV)
		row.Max = floatPtr(maxV)
		row.Last = floatPtr(last)
		row.Delta = floatPtr(dlt)
		row.Flags = rollup.ParseFlags(flags)
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// DayCounts returns recorded interval counts per point and day.
func (r *DailyRepository) DayCounts(ctx context.Context, systemID int64) ([]rollup.DayCount, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("daily repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT point_index, day, interval_count
FROM %s
WHERE system_id = $1
ORDER BY day ASC, point_index ASC`, r.table)
	return queryDayCounts(ctx, r.db, query, systemID)
}

// DeleteAll clears the daily store.
func (r *DailyRepository) DeleteAll(ctx context.Context) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("daily repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s`, r.table))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteBefore removes rows with day before cutoff.
func (r *DailyRepository) DeleteBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("daily repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE day < $1`, r.table), cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
