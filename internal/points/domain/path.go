package points

import (
	"regexp"
	"strings"
)

var stemPattern = regexp.MustCompile(`^[a-z0-9]+(\.[a-z0-9]+)*$`)

// BidirectionalPrefix marks stems whose flows carry a sign (battery, grid).
const BidirectionalPrefix = "bidi."

// ValidateStem checks a logical path stem against the path grammar.
func ValidateStem(stem string) error {
	if stem == "" {
		return &ValidationError{Field: "logicalPathStem", Input: stem, Reason: "must not be empty"}
	}
	if !stemPattern.MatchString(stem) {
		return &ValidationError{Field: "logicalPathStem", Input: stem, Reason: "must match ^[a-z0-9]+(\\.[a-z0-9]+)*$"}
	}
	return nil
}

// JoinLogicalPath builds "stem/metricType".
func JoinLogicalPath(stem string, metric MetricType) string {
	return stem + "/" + string(metric)
}

// SplitLogicalPath splits "stem/metricType". ok is false when the path is malformed.
func SplitLogicalPath(path string) (stem string, metric MetricType, ok bool) {
	idx := strings.LastIndex(path, "/")
	if idx <= 0 || idx == len(path)-1 {
		return "", "", false
	}
	metric = MetricType(path[idx+1:])
	if !metric.IsValid() {
		return "", "", false
	}
	return path[:idx], metric, true
}

// IsBidirectional reports whether the stem addresses a signed flow.
func IsBidirectional(stem string) bool {
	return strings.HasPrefix(stem, BidirectionalPrefix)
}
