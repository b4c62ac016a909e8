package points

// MetricType classifies what a point measures. It decides which aggregation
// columns are legal for the point.
type MetricType string

const (
	MetricPower      MetricType = "power"
	MetricEnergy     MetricType = "energy"
	MetricSOC        MetricType = "soc"
	MetricDiagnostic MetricType = "diagnostic"
	MetricStatus     MetricType = "status"
	MetricTime       MetricType = "time"
)

// Column is an aggregation column exposed as part of a series.
type Column string

const (
	ColumnAvg   Column = "avg"
	ColumnMin   Column = "min"
	ColumnMax   Column = "max"
	ColumnLast  Column = "last"
	ColumnDelta Column = "delta"
)

var columnsByMetric = map[MetricType][]Column{
	MetricPower:      {ColumnAvg, ColumnMin, ColumnMax, ColumnLast},
	MetricEnergy:     {ColumnDelta},
	MetricSOC:        {ColumnAvg, ColumnMin, ColumnMax},
	MetricDiagnostic: {ColumnAvg, ColumnMin, ColumnMax, ColumnLast},
	MetricStatus:     {ColumnLast},
	MetricTime:       {ColumnLast},
}

// IsValid checks the metric type is one of the supported variants.
func (m MetricType) IsValid() bool {
	_, ok := columnsByMetric[m]
	return ok
}

// Columns returns the legal aggregation columns for the metric type.
// The returned slice is a copy.
func (m MetricType) Columns() []Column {
	cols := columnsByMetric[m]
	return append([]Column(nil), cols...)
}

// Allows reports whether col is a legal column for the metric type.
func (m MetricType) Allows(col Column) bool {
	for _, c := range columnsByMetric[m] {
		if c == col {
			return true
		}
	}
	return false
}

// DefaultUnit returns the display unit implied by the metric type.
// Diagnostic and status units come from the vendor.
func (m MetricType) DefaultUnit() string {
	switch m {
	case MetricPower:
		return "W"
	case MetricEnergy:
		return "Wh"
	case MetricSOC:
		return "%"
	case MetricTime:
		return "s"
	default:
		return ""
	}
}

// Transform is a unary transform applied to raw samples before storage.
type Transform string

const (
	TransformNone          Transform = ""
	TransformInvert        Transform = "invert"
	TransformDifferentiate Transform = "differentiate"
)

// ParseTransform accepts "", "null", "none", "invert" and "differentiate".
func ParseTransform(value string) (Transform, error) {
	switch value {
	case "", "null", "none":
		return TransformNone, nil
	case string(TransformInvert):
		return TransformInvert, nil
	case string(TransformDifferentiate):
		return TransformDifferentiate, nil
	default:
		return TransformNone, &ValidationError{Field: "transform", Input: value, Reason: "must be one of null, invert, differentiate"}
	}
}

// EnergyIntegration tells the pipeline how an energy point's raw values
// turn into interval energy.
type EnergyIntegration string

const (
	// IntegrationInterval means raw values are already interval deltas in Wh.
	IntegrationInterval EnergyIntegration = "interval"
	// IntegrationTrapezoid means raw values are instantaneous power in W.
	IntegrationTrapezoid EnergyIntegration = "trapezoid"
)

// Resolution is the native sampling resolution of a point's vendor data.
type Resolution string

const (
	Resolution5m Resolution = "5m"
	Resolution1d Resolution = "1d"
)

// BucketsPerDay is the number of five-minute buckets in a UTC day.
const BucketsPerDay = 288

// ExpectedIntervals returns how many five-minute rows make a complete day.
func (r Resolution) ExpectedIntervals() int {
	if r == Resolution1d {
		return 1
	}
	return BucketsPerDay
}
