package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"telemetry-engine/internal/analytics/domain/rollup"
)

const defaultFiveMinuteTable = "fivemin_aggregates"

const fiveMinuteColumns = `
	system_id,
	point_index,
	interval_end,
	avg_value,
	min_value,
	max_value,
	last_value,
	delta_value,
	sample_count,
	good_count,
	flags`

// FiveMinuteRepository is a Postgres implementation for five-minute aggregates.
type FiveMinuteRepository struct {
	db    *sql.DB
	table string
}

// NewFiveMinuteRepository creates a repository using the default table name.
func NewFiveMinuteRepository(db *sql.DB, opts ...FiveMinuteOption) *FiveMinuteRepository {
	repo := &FiveMinuteRepository{db: db, table: defaultFiveMinuteTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// FiveMinuteOption configures the repository.
type FiveMinuteOption func(*FiveMinuteRepository)

// WithFiveMinuteTable overrides the default table name.
func WithFiveMinuteTable(table string) FiveMinuteOption {
	return func(repo *FiveMinuteRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// UpsertFiveMinute writes rows in one transaction; each row is one ON CONFLICT statement.
func (r *FiveMinuteRepository) UpsertFiveMinute(ctx context.Context, rows []rollup.FiveMinute) error {
	if r == nil || r.db == nil {
		return errors.New("fivemin repo: nil db")
	}
	if len(rows) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	system_id,
	point_index,
	interval_end,
	day,
	avg_value,
	min_value,
	max_value,
	last_value,
	delta_value,
	sample_count,
	good_count,
	flags
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
)
ON CONFLICT (system_id, point_index, interval_end)
DO UPDATE SET
	avg_value = EXCLUDED.avg_value,
	min_value = EXCLUDED.min_value,
	max_value = EXCLUDED.max_value,
	last_value = EXCLUDED.last_value,
	delta_value = EXCLUDED.delta_value,
	sample_count = EXCLUDED.sample_count,
	good_count = EXCLUDED.good_count,
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
		end := row.IntervalEnd.UTC()
		if !end.Truncate(rollup.BucketWidth).Equal(end) {
			_ = tx.Rollback()
			return rollup.ErrInvalidBucketEnd
		}
		if _, err := stmt.ExecContext(
			ctx,
			row.SystemID,
			row.PointIndex,
			end,
			rollup.DayOfBucket(end),
			nullFloat(row.Avg),
			nullFloat(row.Min),
			nullFloat(row.Max),
			nullFloat(row.Last),
			nullFloat(row.Delta),
			row.SampleCount,
			row.GoodCount,
			row.Flags.String(),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// ListPointRange returns rows with interval end in (after, through].
func (r *FiveMinuteRepository) ListPointRange(ctx context.Context, systemID int64, pointIndex int, after, through time.Time) ([]rollup.FiveMinute, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("fivemin repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE system_id = $1
	AND point_index = $2
	AND interval_end > $3
	AND interval_end <= $4
ORDER BY interval_end ASC`, fiveMinuteColumns, r.table)

	rows, err := r.db.QueryContext(ctx, query, systemID, pointIndex, after.UTC(), through.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFiveMinuteRows(rows)
}

// ListSystemDay returns a system's rows for day.
func (r *FiveMinuteRepository) ListSystemDay(ctx context.Context, systemID int64, day time.Time) ([]rollup.FiveMinute, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("fivemin repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE system_id = $1
	AND day = $2
ORDER BY interval_end ASC, point_index ASC`, fiveMinuteColumns, r.table)

	rows, err := r.db.QueryContext(ctx, query, systemID, rollup.DayStart(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanFiveMinuteRows(rows)
}

// DayCounts counts rows per point and day.
func (r *FiveMinuteRepository) DayCounts(ctx context.Context, systemID int64) ([]rollup.DayCount, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("fivemin repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT point_index, day, COUNT(*)
FROM %s
WHERE system_id = $1
GROUP BY point_index, day
ORDER BY day ASC, point_index ASC`, r.table)
	return queryDayCounts(ctx, r.db, query, systemID)
}

// DeleteSystemDay removes a system's rows for day.
func (r *FiveMinuteRepository) DeleteSystemDay(ctx context.Context, systemID int64, day time.Time) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("fivemin repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE system_id = $1 AND day = $2`, r.table), systemID, rollup.DayStart(day))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanFiveMinuteRows(rows *sql.Rows) ([]rollup.FiveMinute, error) {
	var out []rollup.FiveMinute
	for rows.Next() {
		var (
			row   rollup.FiveMinute
			flags string

			avg, minV, maxV, last, dlt sql.NullFloat64
		)
		if err := rows.Scan(
			&row.SystemID,
			&row.PointIndex,
			&row.IntervalEnd,
			&avg,
			&minV,
			&maxV,
			&last,
			&dlt,
			&row.SampleCount,
			&row.GoodCount,
			&flags,
		); err != nil {
			return nil, err
		}
		row.IntervalEnd = row.IntervalEnd.UTC()
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

func queryDayCounts(ctx context.Context, db *sql.DB, query string, args ...any) ([]rollup.DayCount, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rollup.DayCount
	for rows.Next() {
		var c rollup.DayCount
		if err := rows.Scan(&c.PointIndex, &c.Day, &c.Count); err != nil {
			return nil, err
		}
		c.Day = c.Day.UTC()
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func nullFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}

func floatPtr(value sql.NullFloat64) *float64 {
	if !value.Valid {
		return nil
	}
	v := value.Float64
	return &v
}
