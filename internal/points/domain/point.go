package points

import (
	"context"
	"fmt"
	"time"
)

// Ref addresses a point by its immutable identity.
type Ref struct {
	SystemID   int64 `json:"systemId" yaml:"system_id"`
	PointIndex int   `json:"pointIndex" yaml:"point_index"`
}

// String renders "system:index", used as a map and log key.
func (r Ref) String() string {
	return fmt.Sprintf("%d:%d", r.SystemID, r.PointIndex)
}

// Point is a single monitored quantity for one system.
// Invariants:
// 1) (SystemID, PointIndex) and PhysicalPathTail never change after creation.
// 2) LogicalPathStem is either nil or matches the path grammar.
// 3) Points are never deleted, only deactivated.
type Point struct {
	SystemID         int64
	PointIndex       int
	PhysicalPathTail string

	LogicalPathStem *string
	MetricType      MetricType
	MetricUnit      string
	Transform       Transform
	Integration     EnergyIntegration
	Resolution      Resolution
	Active          bool

	Subsystem   string
	DefaultName string
	DisplayName *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Ref returns the point identity.
func (p Point) Ref() Ref { return Ref{SystemID: p.SystemID, PointIndex: p.PointIndex} }

// LogicalPath returns "stem/metricType"; ok is false when the point has no
// canonical mapping and is addressable only by (SystemID, PointIndex).
func (p Point) LogicalPath() (string, bool) {
	if p.LogicalPathStem == nil || *p.LogicalPathStem == "" {
		return "", false
	}
	return JoinLogicalPath(*p.LogicalPathStem, p.MetricType), true
}

// Name returns the user override when set, else the vendor default name.
func (p Point) Name() string {
	if p.DisplayName != nil && *p.DisplayName != "" {
		return *p.DisplayName
	}
	if p.DefaultName != "" {
		return p.DefaultName
	}
	return p.PhysicalPathTail
}

// IsBidirectional reports whether the point carries a signed flow.
func (p Point) IsBidirectional() bool {
	return p.LogicalPathStem != nil && IsBidirectional(*p.LogicalPathStem)
}

// EffectiveResolution defaults an unset resolution to five minutes.
func (p Point) EffectiveResolution() Resolution {
	if p.Resolution == "" {
		return Resolution5m
	}
	return p.Resolution
}

// EffectiveIntegration defaults an unset integration to interval counters.
func (p Point) EffectiveIntegration() EnergyIntegration {
	if p.Integration == "" {
		return IntegrationInterval
	}
	return p.Integration
}

// VendorMetadata is what an adapter knows about a point at discovery time.
type VendorMetadata struct {
	DefaultName string
	MetricType  MetricType
	MetricUnit  string
	Subsystem   string
	Integration EnergyIntegration
	Resolution  Resolution
}

// Validate checks vendor metadata before a point is created from it.
func (m VendorMetadata) Validate() error {
	if !m.MetricType.IsValid() {
		return &ValidationError{Field: "metricType", Input: string(m.MetricType), Reason: "must be one of power, energy, soc, diagnostic, status, time"}
	}
	switch m.Integration {
	case "", IntegrationInterval, IntegrationTrapezoid:
	default:
		return &ValidationError{Field: "integration", Input: string(m.Integration), Reason: "must be interval or trapezoid"}
	}
	switch m.Resolution {
	case "", Resolution5m, Resolution1d:
	default:
		return &ValidationError{Field: "resolution", Input: string(m.Resolution), Reason: "must be 5m or 1d"}
	}
	return nil
}

// NewPoint seeds a fresh point from vendor metadata.
func NewPoint(systemID int64, pointIndex int, physicalPathTail string, meta VendorMetadata, now time.Time) Point {
	unit := meta.MetricUnit
	if unit == "" {
		unit = meta.MetricType.DefaultUnit()
	}
	return Point{
		SystemID:         systemID,
		PointIndex:       pointIndex,
		PhysicalPathTail: physicalPathTail,
		MetricType:       meta.MetricType,
		MetricUnit:       unit,
		Integration:      meta.Integration,
		Resolution:       meta.Resolution,
		Active:           true,
		Subsystem:        meta.Subsystem,
		DefaultName:      meta.DefaultName,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Patch carries user edits. Nil fields are left unchanged.
// ClearStem and ClearDisplayName reset the nullable fields to nil.
type Patch struct {
	LogicalPathStem  *string
	ClearStem        bool
	DisplayName      *string
	ClearDisplayName bool
	Active           *bool
	Transform        *string
}

// Apply validates the patch and applies it to p.
func (patch Patch) Apply(p Point) (Point, error) {
	if patch.LogicalPathStem != nil {
		if err := ValidateStem(*patch.LogicalPathStem); err != nil {
			return p, err
		}
		stem := *patch.LogicalPathStem
		p.LogicalPathStem = &stem
	} else if patch.ClearStem {
		p.LogicalPathStem = nil
	}
	if patch.Transform != nil {
		transform, err := ParseTransform(*patch.Transform)
		if err != nil {
			return p, err
		}
		p.Transform = transform
	}
	if patch.DisplayName != nil {
		name := *patch.DisplayName
		p.DisplayName = &name
	} else if patch.ClearDisplayName {
		p.DisplayName = nil
	}
	if patch.Active != nil {
		p.Active = *patch.Active
	}
	return p, nil
}

// Repository persists points.
type Repository interface {
	// GetOrCreate atomically returns the point keyed by (systemID, physicalPathTail),
	// creating it from meta when absent. On an existing point only DefaultName is refreshed.
	GetOrCreate(ctx context.Context, systemID int64, physicalPathTail string, meta VendorMetadata) (Point, bool, error)
	Get(ctx context.Context, systemID int64, pointIndex int) (Point, error)
	ListBySystem(ctx context.Context, systemID int64, includeInactive bool) ([]Point, error)
	// Update persists the user-editable fields of p.
	Update(ctx context.Context, p Point) error
	ListSystems(ctx context.Context) ([]int64, error)
}
