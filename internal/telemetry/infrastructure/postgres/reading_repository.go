package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"telemetry-engine/internal/analytics/domain/rollup"
	telemetry "telemetry-engine/internal/telemetry/domain"
)

const defaultReadingsTable = "raw_readings"

const readingColumns = `system_id, point_index, measurement_time, received_time, raw_value, value, quality`

// ReadingRepository is a Postgres implementation for raw readings.
type ReadingRepository struct {
	db    *sql.DB
	table string
}

// NewReadingRepository constructs a repository with default table name.
func NewReadingRepository(db *sql.DB, opts ...RepositoryOption) *ReadingRepository {
	repo := &ReadingRepository{db: db, table: defaultReadingsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// RepositoryOption configures the repository.
type RepositoryOption func(*ReadingRepository)

// WithTable overrides the default table name.
func WithTable(table string) RepositoryOption {
	return func(repo *ReadingRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// UpsertReadings upserts readings in one transaction.
func (r *ReadingRepository) UpsertReadings(ctx context.Context, readings []telemetry.Reading) error {
	if r == nil || r.db == nil {
		return errors.New("reading repo: nil db")
	}
	if len(readings) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	system_id,
	point_index,
	measurement_time,
	received_time,
	bucket_end,
	raw_value,
	value,
	quality
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)
ON CONFLICT (system_id, point_index, measurement_time)
DO UPDATE SET
	received_time = EXCLUDED.received_time,
	raw_value = EXCLUDED.raw_value,
	value = EXCLUDED.value,
	quality = EXCLUDED.quality,
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

	for _, m := range readings {
		if m.SystemID <= 0 || m.PointIndex <= 0 || m.MeasurementTime.IsZero() {
			_ = tx.Rollback()
			return errors.New("reading repo: invalid reading")
		}
		measured := m.MeasurementTime.UTC()
		if _, err := stmt.ExecContext(
			ctx,
			m.SystemID,
			m.PointIndex,
			measured,
			m.ReceivedTime.UTC(),
			rollup.BucketEnd(measured),
			nullFloat(m.RawValue),
			nullFloat(m.Value),
			string(m.Quality),
		); err != nil {
			_ = tx.Rollback()
			return err
		}
	}

	return tx.Commit()
}

// ListRange returns readings within [from, to).
func (r *ReadingRepository) ListRange(ctx context.Context, systemID int64, pointIndex int, from, to time.Time) ([]telemetry.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE system_id = $1
	AND point_index = $2
	AND measurement_time >= $3
	AND measurement_time < $4
ORDER BY measurement_time ASC`, readingColumns, r.table)

	rows, err := r.db.QueryContext(ctx, query, systemID, pointIndex, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReadings(rows)
}

// Previous returns the latest reading strictly before the given time.
func (r *ReadingRepository) Previous(ctx context.Context, systemID int64, pointIndex int, before time.Time) (telemetry.Reading, bool, error) {
	if r == nil || r.db == nil {
		return telemetry.Reading{}, false, errors.New("reading repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE system_id = $1
	AND point_index = $2
	AND measurement_time < $3
ORDER BY measurement_time DESC
LIMIT 1`, readingColumns, r.table)

	reading, err := scanReading(r.db.QueryRowContext(ctx, query, systemID, pointIndex, before.UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return telemetry.Reading{}, false, nil
	}
	if err != nil {
		return telemetry.Reading{}, false, err
	}
	return reading, true, nil
}

// Next returns the earliest reading strictly after the given time.
func (r *ReadingRepository) Next(ctx context.Context, systemID int64, pointIndex int, after time.Time) (telemetry.Reading, bool, error) {
	if r == nil || r.db == nil {
		return telemetry.Reading{}, false, errors.New("reading repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE system_id = $1
	AND point_index = $2
	AND measurement_time > $3
ORDER BY measurement_time ASC
LIMIT 1`, readingColumns, r.table)

	reading, err := scanReading(r.db.QueryRowContext(ctx, query, systemID, pointIndex, after.UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return telemetry.Reading{}, false, nil
	}
	if err != nil {
		return telemetry.Reading{}, false, err
	}
	return reading, true, nil
}

// ListBefore pages through readings older than cutoff in key order.
func (r *ReadingRepository) ListBefore(ctx context.Context, cutoff time.Time, after *telemetry.ReadingKey, limit int) ([]telemetry.Reading, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("reading repo: nil db")
	}
	if limit <= 0 {
		limit = 1000
	}
	var (
		rows *sql.Rows
		err  error
	)
	if after == nil {
		rows, err = r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT %s
FROM %s
WHERE measurement_time < $1
ORDER BY system_id, point_index, measurement_time
LIMIT $2`, readingColumns, r.table), cutoff.UTC(), limit)
	} else {
		rows, err = r.db.QueryContext(ctx, fmt.Sprintf(`
SELECT %s
FROM %s
WHERE measurement_time < $1
	AND (system_id, point_index, measurement_time) > ($2, $3, $4)
ORDER BY system_id, point_index, measurement_time
LIMIT $5`, readingColumns, r.table), cutoff.UTC(), after.SystemID, after.PointIndex, after.MeasurementTime.UTC(), limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanReadings(rows)
}

// DeleteReadings removes readings by key in one transaction.
func (r *ReadingRepository) DeleteReadings(ctx context.Context, keys []telemetry.ReadingKey) (int64, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("reading repo: nil db")
	}
	if len(keys) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
DELETE FROM %s
WHERE system_id = $1
	AND point_index = $2
	AND measurement_time = $3`, r.table))
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	defer stmt.Close()

	var deleted int64
	for _, k := range keys {
		res, err := stmt.ExecContext(ctx, k.SystemID, k.PointIndex, k.MeasurementTime.UTC())
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		n, err := res.RowsAffected()
		if err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		deleted += n
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return deleted, nil
}

func scanReadings(rows *sql.Rows) ([]telemetry.Reading, error) {
	var out []telemetry.Reading
	for rows.Next() {
		reading, err := scanReading(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, reading)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func scanReading(scanner interface{ Scan(dest ...any) error }) (telemetry.Reading, error) {
	var (
		reading  telemetry.Reading
		rawValue sql.NullFloat64
		value    sql.NullFloat64
		quality  string
	)
	if err := scanner.Scan(
		&reading.SystemID,
		&reading.PointIndex,
		&reading.MeasurementTime,
		&reading.ReceivedTime,
		&rawValue,
		&value,
		&quality,
	); err != nil {
		return telemetry.Reading{}, err
	}
	if rawValue.Valid {
		reading.RawValue = &rawValue.Float64
	}
	if value.Valid {
		reading.Value = &value.Float64
	}
	reading.Quality = telemetry.DataQuality(quality)
	reading.MeasurementTime = reading.MeasurementTime.UTC()
	reading.ReceivedTime = reading.ReceivedTime.UTC()
	return reading, nil
}

func nullFloat(value *float64) sql.NullFloat64 {
	if value == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *value, Valid: true}
}
