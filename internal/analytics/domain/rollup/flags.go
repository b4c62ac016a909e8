package rollup

import (
	"sort"
	"strings"
)

// Flag marks a degraded computation on an aggregate row.
type Flag string

const (
	// FlagApproximate marks daily energy derived from average power × 24h.
	FlagApproximate Flag = "approximate"
	// FlagDirectionless marks an approximation that merged both flow directions.
	FlagDirectionless Flag = "directionless"
	// FlagNoGoodSamples marks rows without any good-quality sample.
	FlagNoGoodSamples Flag = "no_good_samples"
	// FlagPartial marks a day with fewer intervals than expected.
	FlagPartial Flag = "partial"
)

// Flags is a sorted set of flags.
type Flags []Flag

// With returns a copy holding f.
func (fs Flags) With(f Flag) Flags {
	if fs.Has(f) {
		return fs
	}
	out := append(append(Flags(nil), fs...), f)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Has reports whether f is set.
func (fs Flags) Has(f Flag) bool {
	for _, x := range fs {
		if x == f {
			return true
		}
	}
	return false
}

// Degraded reports whether any flag is set.
func (fs Flags) Degraded() bool { return len(fs) > 0 }

// String renders flags as a comma list for storage.
func (fs Flags) String() string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = string(f)
	}
	return strings.Join(parts, ",")
}

// ParseFlags reads the stored comma list.
func ParseFlags(value string) Flags {
	var fs Flags
	for _, part := range strings.Split(value, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fs = fs.With(Flag(part))
	}
	return fs
}
