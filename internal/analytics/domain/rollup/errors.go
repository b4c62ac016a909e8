package rollup

import "errors"

var (
	// ErrInvalidDay is returned when a day cannot be parsed.
	ErrInvalidDay = errors.New("rollup: invalid day")
	// ErrInvalidBucketEnd is returned when an interval end is not on a five-minute mark.
	ErrInvalidBucketEnd = errors.New("rollup: bucket end not aligned")
)
