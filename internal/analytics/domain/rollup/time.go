package rollup

import "time"

// BucketWidth is the width of a five-minute aggregate bucket.
const BucketWidth = 5 * time.Minute

// Day is the width of a daily aggregate.
const Day = 24 * time.Hour

// Clock provides time for aggregation services.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

// Now returns current time.
func (SystemClock) Now() time.Time { return time.Now() }

// BucketEnd returns the UTC five-minute mark closing the bucket that holds t.
// A sample exactly on a mark opens the next bucket.
func BucketEnd(t time.Time) time.Time {
	return t.UTC().Truncate(BucketWidth).Add(BucketWidth)
}

// BucketStart returns the inclusive start of the bucket closed by end.
func BucketStart(end time.Time) time.Time {
	return end.Add(-BucketWidth)
}

// DayStart returns UTC midnight of the day holding t.
func DayStart(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}

// DayOfBucket returns the day a bucket belongs to. The bucket closing at
// midnight belongs to the previous day.
func DayOfBucket(end time.Time) time.Time {
	return DayStart(BucketStart(end))
}

// DayBucketRange returns the (exclusive, inclusive] interval_end bounds of a day.
func DayBucketRange(day time.Time) (after, through time.Time) {
	start := DayStart(day)
	return start, start.Add(Day)
}

// DayKey renders a day as the persisted time key.
func DayKey(day time.Time) string {
	return DayStart(day).Format("20060102")
}

// ParseDay accepts "2006-01-02" or "20060102".
func ParseDay(value string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "20060102"} {
		if t, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, ErrInvalidDay
}
