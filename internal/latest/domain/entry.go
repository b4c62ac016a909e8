package latest

import (
	"context"
	"errors"
	"time"

	points "telemetry-engine/internal/points/domain"
)

var (
	// ErrUnavailable marks a cache backend failure. Callers may retry.
	ErrUnavailable = errors.New("latest: cache unavailable")
	// ErrInvalidEntry is returned for entries without system or path.
	ErrInvalidEntry = errors.New("latest: invalid entry")
)

// Entry is the most recent raw observation for one logical path.
type Entry struct {
	SystemID        int64     `json:"systemId"`
	LogicalPath     string    `json:"logicalPath"`
	PointIndex      int       `json:"pointIndex"`
	Value           float64   `json:"value"`
	MeasurementTime time.Time `json:"measurementTime"`
	ReceivedTime    time.Time `json:"receivedTime"`
	MetricUnit      string    `json:"metricUnit"`
}

// Validate checks the entry addresses a logical path.
func (e Entry) Validate() error {
	if e.SystemID <= 0 || e.LogicalPath == "" || e.MeasurementTime.IsZero() {
		return ErrInvalidEntry
	}
	return nil
}

// Source returns the point the entry was written for.
func (e Entry) Source() points.Ref {
	return points.Ref{SystemID: e.SystemID, PointIndex: e.PointIndex}
}

// OrderingPolicy decides whether an older measurement may replace a newer one.
type OrderingPolicy string

const (
	// LastWriteWins overwrites unconditionally.
	LastWriteWins OrderingPolicy = "last-write-wins"
	// RejectOlder refuses writes older than the cached measurement time.
	RejectOlder OrderingPolicy = "reject-older"
)

// ParseOrderingPolicy reads a configured policy. Empty means last-write-wins.
func ParseOrderingPolicy(value string) (OrderingPolicy, error) {
	switch OrderingPolicy(value) {
	case "", LastWriteWins:
		return LastWriteWins, nil
	case RejectOlder:
		return RejectOlder, nil
	default:
		return "", &points.ValidationError{Field: "cache.ordering", Input: value, Reason: "must be last-write-wins or reject-older"}
	}
}

// Store is a latest-value backend.
type Store interface {
	// Put writes e. written is false when the policy refused the write.
	Put(ctx context.Context, e Entry, policy OrderingPolicy) (written bool, err error)
	Get(ctx context.Context, systemID int64, logicalPath string) (Entry, bool, error)
	GetAll(ctx context.Context, systemID int64) (map[string]Entry, error)
	Clear(ctx context.Context, systemID int64) error
	// ClearAll removes every system namespace and returns how many were cleared.
	ClearAll(ctx context.Context) (int, error)
}

// LatestValueWritten is published after a successful cache write.
type LatestValueWritten struct {
	SystemID        int64     `json:"systemId"`
	LogicalPath     string    `json:"logicalPath"`
	PointIndex      int       `json:"pointIndex"`
	Value           float64   `json:"value"`
	MeasurementTime time.Time `json:"measurementTime"`
	OccurredAt      time.Time `json:"occurredAt"`
}

func (e LatestValueWritten) EventSystemID() int64 { return e.SystemID }
func (e LatestValueWritten) EventTime() time.Time { return e.OccurredAt }
