package application

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	points "telemetry-engine/internal/points/domain"
)

// SeriesInvalidator drops any cached series view for a system.
type SeriesInvalidator interface {
	Invalidate(ctx context.Context, systemID int64) error
}

// ErrInvalidationFailed wraps a failed series cache invalidation after a
// committed point mutation. The mutation itself is persisted.
var ErrInvalidationFailed = errors.New("points: series cache invalidation failed")

// Service owns point identity and user edits.
type Service struct {
	repo        points.Repository
	invalidator SeriesInvalidator
	logger      *zap.Logger
}

// NewService constructs a point service.
func NewService(repo points.Repository, invalidator SeriesInvalidator, logger *zap.Logger) (*Service, error) {
	if repo == nil {
		return nil, errors.New("point service: nil repository")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repo, invalidator: invalidator, logger: logger.Named("points")}, nil
}

// ResolvePoint returns the point for a physical path, creating it on first sight.
func (s *Service) ResolvePoint(ctx context.Context, systemID int64, physicalPathTail string, meta points.VendorMetadata) (points.Point, error) {
	if err := meta.Validate(); err != nil {
		return points.Point{}, err
	}
	p, created, err := s.repo.GetOrCreate(ctx, systemID, physicalPathTail, meta)
	if err != nil {
		return points.Point{}, err
	}
	if created {
		s.logger.Info("point discovered",
			zap.Int64("system_id", p.SystemID),
			zap.Int("point_index", p.PointIndex),
			zap.String("physical_path", p.PhysicalPathTail),
			zap.String("metric_type", string(p.MetricType)),
		)
		if err := s.invalidate(ctx, systemID); err != nil {
			return p, err
		}
	}
	return p, nil
}

// UpdatePoint validates and applies a user patch, then invalidates the series cache.
func (s *Service) UpdatePoint(ctx context.Context, systemID int64, pointIndex int, patch points.Patch) (points.Point, error) {
	current, err := s.repo.Get(ctx, systemID, pointIndex)
	if err != nil {
		return points.Point{}, err
	}
	updated, err := patch.Apply(current)
	if err != nil {
		return points.Point{}, err
	}
	if err := s.repo.Update(ctx, updated); err != nil {
		return points.Point{}, err
	}
	if err := s.invalidate(ctx, systemID); err != nil {
		return updated, err
	}
	return updated, nil
}

// DeactivatePoint soft-deletes a point. History is retained.
func (s *Service) DeactivatePoint(ctx context.Context, systemID int64, pointIndex int) error {
	inactive := false
	_, err := s.UpdatePoint(ctx, systemID, pointIndex, points.Patch{Active: &inactive})
	return err
}

// GetPoint loads a point by identity.
func (s *Service) GetPoint(ctx context.Context, systemID int64, pointIndex int) (points.Point, error) {
	return s.repo.Get(ctx, systemID, pointIndex)
}

// ListPoints lists a system's points.
func (s *Service) ListPoints(ctx context.Context, systemID int64, includeInactive bool) ([]points.Point, error) {
	return s.repo.ListBySystem(ctx, systemID, includeInactive)
}

// ListSystems lists every system known to the point store.
func (s *Service) ListSystems(ctx context.Context) ([]int64, error) {
	return s.repo.ListSystems(ctx)
}

func (s *Service) invalidate(ctx context.Context, systemID int64) error {
	if s.invalidator == nil {
		return nil
	}
	if err := s.invalidator.Invalidate(ctx, systemID); err != nil {
		s.logger.Error("series invalidation failed", zap.Int64("system_id", systemID), zap.Error(err))
		return fmt.Errorf("%w: system %d: %v", ErrInvalidationFailed, systemID, err)
	}
	return nil
}
