package events

import "time"

// DayAggregated is emitted after a system day has been (re)rolled up.
type DayAggregated struct {
	SystemID   int64     `json:"systemId"`
	Day        time.Time `json:"day"`
	Rows       int       `json:"rows"`
	Degraded   int       `json:"degraded"`
	OccurredAt time.Time `json:"occurredAt"`
}

func (e DayAggregated) EventSystemID() int64 { return e.SystemID }
func (e DayAggregated) EventTime() time.Time { return e.OccurredAt }

// RawPurged is emitted after a retention pass.
type RawPurged struct {
	RawDeleted        int64     `json:"rawDeleted"`
	FiveMinuteDeleted int64     `json:"fiveMinuteDeleted"`
	DailyDeleted      int64     `json:"dailyDeleted"`
	OccurredAt        time.Time `json:"occurredAt"`
}

func (e RawPurged) EventTime() time.Time { return e.OccurredAt }
