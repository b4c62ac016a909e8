package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	telemetry "telemetry-engine/internal/telemetry/domain"
)

func TestRawRowSchema(t *testing.T) {
	schema := parquet.SchemaOf(new(RawRow))
	for _, col := range []string{"system_id", "point_index", "measurement_time", "received_time", "raw_value", "value", "quality"} {
		_, ok := schema.Lookup(col)
		assert.True(t, ok, col)
	}
}

func TestArchiveWritesReadableFile(t *testing.T) {
	dir := t.TempDir()
	a, err := NewParquetArchiver(filepath.Join(dir, "raw"), nil)
	require.NoError(t, err)

	at := time.Date(2024, 6, 8, 10, 1, 0, 0, time.UTC)
	raw, value := 1200.0, -1200.0
	require.NoError(t, a.Archive(context.Background(), []telemetry.Reading{
		{SystemID: 42, PointIndex: 3, MeasurementTime: at, ReceivedTime: at.Add(time.Second), RawValue: &raw, Value: &value, Quality: telemetry.QualityGood},
		{SystemID: 42, PointIndex: 3, MeasurementTime: at.Add(time.Minute), ReceivedTime: at.Add(time.Minute), Quality: telemetry.QualityError},
	}))

	files, err := filepath.Glob(filepath.Join(dir, "raw", "raw_20240608_*.parquet"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	info, err := os.Stat(files[0])
	require.NoError(t, err)
	assert.Positive(t, info.Size())

	rows, err := ReadRaw(files[0])
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(42), rows[0].SystemID)
	assert.Equal(t, -1200.0, *rows[0].Value)
	assert.Nil(t, rows[1].Value)
	assert.Equal(t, "error", rows[1].Quality)
}

func TestArchiveEmptyBatchWritesNothing(t *testing.T) {
	dir := t.TempDir()
	a, err := NewParquetArchiver(dir, nil)
	require.NoError(t, err)
	require.NoError(t, a.Archive(context.Background(), nil))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
