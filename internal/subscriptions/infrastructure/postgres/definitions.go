package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	points "telemetry-engine/internal/points/domain"
	subscriptions "telemetry-engine/internal/subscriptions/domain"
)

const defaultDefinitionsTable = "composite_point_sources"

// DefinitionRepository reads composite links from Postgres.
type DefinitionRepository struct {
	db    *sql.DB
	table string
}

// DefinitionOption configures the repository.
type DefinitionOption func(*DefinitionRepository)

// WithDefinitionTable overrides the table name.
func WithDefinitionTable(table string) DefinitionOption {
	return func(repo *DefinitionRepository) {
		if table != "" {
			repo.table = table
		}
	}
}

// NewDefinitionRepository constructs a repository.
func NewDefinitionRepository(db *sql.DB, opts ...DefinitionOption) *DefinitionRepository {
	repo := &DefinitionRepository{db: db, table: defaultDefinitionsTable}
	for _, opt := range opts {
		opt(repo)
	}
	return repo
}

// Links returns all links, or those of one composite system.
func (r *DefinitionRepository) Links(ctx context.Context, compositeSystemID *int64) ([]subscriptions.Link, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("definition repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT composite_system_id, composite_point_index, source_system_id, source_point_index, factor
FROM %s`, r.table)
	args := []any{}
	if compositeSystemID != nil {
		query += `
WHERE composite_system_id = $1`
		args = append(args, *compositeSystemID)
	}
	query += `
ORDER BY composite_system_id, composite_point_index, source_system_id, source_point_index`
	return r.query(ctx, query, args...)
}

// Definition returns the sources of one composite point.
func (r *DefinitionRepository) Definition(ctx context.Context, composite points.Ref) (subscriptions.Definition, bool, error) {
	if r == nil || r.db == nil {
		return subscriptions.Definition{}, false, errors.New("definition repo: nil db")
	}
	query := fmt.Sprintf(`
SELECT composite_system_id, composite_point_index, source_system_id, source_point_index, factor
FROM %s
WHERE composite_system_id = $1
	AND composite_point_index = $2
ORDER BY source_system_id, source_point_index`, r.table)
	links, err := r.query(ctx, query, composite.SystemID, composite.PointIndex)
	if err != nil {
		return subscriptions.Definition{}, false, err
	}
	return subscriptions.Definition{Composite: composite, Sources: links}, len(links) > 0, nil
}

// Replace rewrites the links of one composite point.
func (r *DefinitionRepository) Replace(ctx context.Context, def subscriptions.Definition) error {
	if r == nil || r.db == nil {
		return errors.New("definition repo: nil db")
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE composite_system_id = $1 AND composite_point_index = $2`, r.table),
		def.Composite.SystemID, def.Composite.PointIndex); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
INSERT INTO %s (composite_system_id, composite_point_index, source_system_id, source_point_index, factor)
VALUES ($1, $2, $3, $4, $5)`, r.table))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, link := range def.Sources {
		if err := link.Validate(); err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, def.Composite.SystemID, def.Composite.PointIndex, link.Source.SystemID, link.Source.PointIndex, link.Factor); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *DefinitionRepository) query(ctx context.Context, query string, args ...any) ([]subscriptions.Link, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var links []subscriptions.Link
	for rows.Next() {
		var link subscriptions.Link
		if err := rows.Scan(
			&link.Composite.SystemID,
			&link.Composite.PointIndex,
			&link.Source.SystemID,
			&link.Source.PointIndex,
			&link.Factor,
		); err != nil {
			return nil, err
		}
		links = append(links, link)
	}
	return links, rows.Err()
}
