package points

import (
	"errors"
	"fmt"
)

var (
	// ErrPointNotFound is returned when a point cannot be found.
	ErrPointNotFound = errors.New("points: point not found")
	// ErrSystemNotFound is returned when a system has no points at all.
	ErrSystemNotFound = errors.New("points: system not found")
	// ErrEmptyPhysicalPath is returned when a physical path tail is empty.
	ErrEmptyPhysicalPath = errors.New("points: empty physical path")
	// ErrInvalidSystemID is returned for non-positive system ids.
	ErrInvalidSystemID = errors.New("points: invalid system id")
)

// ValidationError reports rejected user input. Input is echoed back verbatim.
type ValidationError struct {
	Field  string
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %q: %s", e.Field, e.Input, e.Reason)
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
