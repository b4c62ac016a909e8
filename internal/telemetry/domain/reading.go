package telemetry

import (
	"context"
	"time"

	points "telemetry-engine/internal/points/domain"
)

// DataQuality is the vendor-reported quality of a sample.
type DataQuality string

const (
	QualityGood         DataQuality = "good"
	QualityError        DataQuality = "error"
	QualityEstimated    DataQuality = "estimated"
	QualityInterpolated DataQuality = "interpolated"
)

// ParseDataQuality accepts the known qualities. Empty means good.
func ParseDataQuality(value string) (DataQuality, error) {
	switch DataQuality(value) {
	case "", QualityGood:
		return QualityGood, nil
	case QualityError, QualityEstimated, QualityInterpolated:
		return DataQuality(value), nil
	default:
		return "", &points.ValidationError{Field: "dataQuality", Input: value, Reason: "must be one of good, error, estimated, interpolated"}
	}
}

// IsGood reports whether the sample may feed avg/min/max.
func (q DataQuality) IsGood() bool { return q == "" || q == QualityGood }

// ReadingKey is the unique key of a raw reading.
type ReadingKey struct {
	SystemID        int64
	PointIndex      int
	MeasurementTime time.Time
}

// Reading is one raw observation for a point.
// RawValue is what the vendor delivered; Value is after the point transform.
type Reading struct {
	SystemID        int64
	PointIndex      int
	MeasurementTime time.Time
	ReceivedTime    time.Time

	RawValue *float64
	Value    *float64
	Quality  DataQuality
}

// Key returns the unique key.
func (r Reading) Key() ReadingKey {
	return ReadingKey{SystemID: r.SystemID, PointIndex: r.PointIndex, MeasurementTime: r.MeasurementTime}
}

// Less orders keys by system, point, then time.
func (k ReadingKey) Less(other ReadingKey) bool {
	if k.SystemID != other.SystemID {
		return k.SystemID < other.SystemID
	}
	if k.PointIndex != other.PointIndex {
		return k.PointIndex < other.PointIndex
	}
	return k.MeasurementTime.Before(other.MeasurementTime)
}

// Repository persists raw readings.
type Repository interface {
	// UpsertReadings writes readings; a re-delivered key overwrites.
	UpsertReadings(ctx context.Context, readings []Reading) error
	// ListRange returns a point's readings in [from, to) ordered by time.
	ListRange(ctx context.Context, systemID int64, pointIndex int, from, to time.Time) ([]Reading, error)
	// Previous returns the latest reading strictly before t.
	Previous(ctx context.Context, systemID int64, pointIndex int, before time.Time) (Reading, bool, error)
	// Next returns the earliest reading strictly after t.
	Next(ctx context.Context, systemID int64, pointIndex int, after time.Time) (Reading, bool, error)
	// ListBefore pages through readings older than cutoff in key order, after the given key.
	ListBefore(ctx context.Context, cutoff time.Time, after *ReadingKey, limit int) ([]Reading, error)
	// DeleteReadings removes readings by key.
	DeleteReadings(ctx context.Context, keys []ReadingKey) (int64, error)
}
