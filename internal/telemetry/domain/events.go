package telemetry

import "time"

// ReadingsIngested is published after a batch of raw readings and their
// five-minute buckets were committed for one system.
type ReadingsIngested struct {
	SystemID   int64       `json:"systemId"`
	Readings   int         `json:"readings"`
	BucketEnds []time.Time `json:"bucketEnds"`
	OccurredAt time.Time   `json:"occurredAt"`
}

func (e ReadingsIngested) EventSystemID() int64 { return e.SystemID }
func (e ReadingsIngested) EventTime() time.Time { return e.OccurredAt }
