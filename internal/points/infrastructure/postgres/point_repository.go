package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	points "telemetry-engine/internal/points/domain"
)

const defaultPointsTable = "points"

const pointColumns = `
	system_id,
	point_index,
	physical_path_tail,
	logical_path_stem,
	metric_type,
	metric_unit,
	transform,
	integration,
	resolution,
	active,
	subsystem,
	default_name,
	display_name,
	created_at,
	updated_at`

// PointRepository is a Postgres implementation for points.
type PointRepository struct {
	db    *sql.DB
	table string
}

// NewPointRepository constructs a repository.
func NewPointRepository(db *sql.DB, opts ...PointOption) *PointRepository {
	repo := &PointRepository{db: db, table: defaultPointsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// PointOption configures the repository.
type PointOption func(*PointRepository)

// WithPointTable overrides the table name.
func WithPointTable(table string) PointOption {
	return func(repo *PointRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// GetOrCreate upserts by (system_id, physical_path_tail). The next point index is
// allocated inside the insert; a concurrent create for the same system loses on the
// (system_id, point_index) unique key and the caller may retry.
func (r *PointRepository) GetOrCreate(ctx context.Context, systemID int64, physicalPathTail string, meta points.VendorMetadata) (points.Point, bool, error) {
	if r == nil || r.db == nil {
		return points.Point{}, false, errors.New("point repo: nil db")
	}
	if systemID <= 0 {
		return points.Point{}, false, points.ErrInvalidSystemID
	}
	if physicalPathTail == "" {
		return points.Point{}, false, points.ErrEmptyPhysicalPath
	}
	seed := points.NewPoint(systemID, 0, physicalPathTail, meta, time.Time{})

	query := fmt.Sprintf(`
INSERT INTO %[1]s (
	system_id,
	point_index,
	physical_path_tail,
	metric_type,
	metric_unit,
	integration,
	resolution,
	active,
	subsystem,
	default_name
) VALUES (
	$1,
	(SELECT COALESCE(MAX(point_index), 0) + 1 FROM %[1]s WHERE system_id = $1),
	$2, $3, $4, $5, $6, TRUE, $7, $8
)
ON CONFLICT (system_id, physical_path_tail)
DO UPDATE SET
	default_name = CASE WHEN EXCLUDED.default_name <> '' THEN EXCLUDED.default_name ELSE %[1]s.default_name END,
	updated_at = CASE WHEN EXCLUDED.default_name <> '' AND EXCLUDED.default_name <> %[1]s.default_name THEN NOW() ELSE %[1]s.updated_at END
RETURNING %[2]s, (xmax = 0) AS inserted`, r.table, pointColumns)

	row := r.db.QueryRowContext(
		ctx,
		query,
		systemID,
		physicalPathTail,
		string(seed.MetricType),
		seed.MetricUnit,
		string(seed.Integration),
		string(seed.Resolution),
		seed.Subsystem,
		seed.DefaultName,
	)
	var inserted bool
	p, err := scanPoint(row, &inserted)
	if err != nil {
		return points.Point{}, false, fmt.Errorf("point repo: get or create: %w", err)
	}
	return p, inserted, nil
}

// Get loads a point by identity.
func (r *PointRepository) Get(ctx context.Context, systemID int64, pointIndex int) (points.Point, error) {
	if r == nil || r.db == nil {
		return points.Point{}, errors.New("point repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE system_id = $1
	AND point_index = $2
LIMIT 1`, pointColumns, r.table)

	p, err := scanPoint(r.db.QueryRowContext(ctx, query, systemID, pointIndex), nil)
	if errors.Is(err, sql.ErrNoRows) {
		return points.Point{}, points.ErrPointNotFound
	}
	if err != nil {
		return points.Point{}, err
	}
	return p, nil
}

// ListBySystem loads a system's points ordered by index.
func (r *PointRepository) ListBySystem(ctx context.Context, systemID int64, includeInactive bool) ([]points.Point, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("point repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE system_id = $1
ORDER BY point_index ASC`, pointColumns, r.table)

	rows, err := r.db.QueryContext(ctx, query, systemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []points.Point
	seen := false
	for rows.Next() {
		p, err := scanPoint(rows, nil)
		if err != nil {
			return nil, err
		}
		seen = true
		if !includeInactive && !p.Active {
			continue
		}
		result = append(result, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if !seen {
		return nil, points.ErrSystemNotFound
	}
	return result, nil
}

// Update persists the user-editable fields.
func (r *PointRepository) Update(ctx context.Context, p points.Point) error {
	if r == nil || r.db == nil {
		return errors.New("point repo: nil db")
	}
	query := fmt.Sprintf(`
UPDATE %s SET
	logical_path_stem = $3,
	display_name = $4,
	active = $5,
	transform = $6,
	updated_at = NOW()
WHERE system_id = $1
	AND point_index = $2`, r.table)

	res, err := r.db.ExecContext(
		ctx,
		query,
		p.SystemID,
		p.PointIndex,
		nullString(p.LogicalPathStem),
		nullString(p.DisplayName),
		p.Active,
		string(p.Transform),
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return points.ErrPointNotFound
	}
	return nil
}

// ListSystems returns all system ids that own at least one point.
func (r *PointRepository) ListSystems(ctx context.Context) ([]int64, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("point repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, fmt.Sprintf(`SELECT DISTINCT system_id FROM %s ORDER BY system_id ASC`, r.table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func scanPoint(scanner interface{ Scan(dest ...any) error }, inserted *bool) (points.Point, error) {
	var (
		p           points.Point
		stem        sql.NullString
		displayName sql.NullString
		metricType  string
		transform   string
		integration string
		resolution  string
	)
	dest := []any{
		&p.SystemID,
		&p.PointIndex,
		&p.PhysicalPathTail,
		&stem,
		&metricType,
		&p.MetricUnit,
		&transform,
		&integration,
		&resolution,
		&p.Active,
		&p.Subsystem,
		&p.DefaultName,
		&displayName,
		&p.CreatedAt,
		&p.UpdatedAt,
	}
	if inserted != nil {
		dest = append(dest, inserted)
	}
	if err := scanner.Scan(dest...); err != nil {
		return points.Point{}, err
	}
	if stem.Valid {
		p.LogicalPathStem = &stem.String
	}
	if displayName.Valid {
		p.DisplayName = &displayName.String
	}
	p.MetricType = points.MetricType(metricType)
	p.Transform = points.Transform(transform)
	p.Integration = points.EnergyIntegration(integration)
	p.Resolution = points.Resolution(resolution)
	p.CreatedAt = p.CreatedAt.UTC()
	p.UpdatedAt = p.UpdatedAt.UTC()
	return p, nil
}

func nullString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}
