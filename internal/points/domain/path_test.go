package points

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateStem(t *testing.T) {
	valid := []string{"source.solar", "a", "load.heatpump.1", "bidi.battery"}
	for _, stem := range valid {
		assert.NoError(t, ValidateStem(stem), stem)
	}

	invalid := []string{"", "Source.Solar", "source..solar", ".source", "source.", "source/solar", "source solar"}
	for _, stem := range invalid {
		err := ValidateStem(stem)
		require.Error(t, err, stem)
		var vErr *ValidationError
		require.ErrorAs(t, err, &vErr)
		assert.Equal(t, stem, vErr.Input)
		assert.Contains(t, err.Error(), "logicalPathStem")
	}
}

func TestSplitLogicalPath(t *testing.T) {
	stem, metric, ok := SplitLogicalPath("source.solar/power")
	require.True(t, ok)
	assert.Equal(t, "source.solar", stem)
	assert.Equal(t, MetricPower, metric)

	_, _, ok = SplitLogicalPath("source.solar/watts")
	assert.False(t, ok)
	_, _, ok = SplitLogicalPath("/power")
	assert.False(t, ok)
	_, _, ok = SplitLogicalPath("source.solar/")
	assert.False(t, ok)
}

func TestIsBidirectional(t *testing.T) {
	assert.True(t, IsBidirectional("bidi.battery"))
	assert.False(t, IsBidirectional("battery.bidi"))
}
