// Package archive writes purged raw readings to Parquet files.
package archive

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"
	"go.uber.org/zap"

	telemetry "telemetry-engine/internal/telemetry/domain"
)

// RawRow is the archived shape of a raw reading.
type RawRow struct {
	SystemID        int64     `parquet:"system_id,snappy"`
	PointIndex      int32     `parquet:"point_index,snappy"`
	MeasurementTime time.Time `parquet:"measurement_time,snappy"`
	ReceivedTime    time.Time `parquet:"received_time,snappy"`
	RawValue        *float64  `parquet:"raw_value,optional,snappy"`
	Value           *float64  `parquet:"value,optional,snappy"`
	Quality         string    `parquet:"quality,snappy"`
}

// ParquetArchiver writes one file per archived batch under dir.
type ParquetArchiver struct {
	dir    string
	logger *zap.Logger
}

// NewParquetArchiver creates dir if needed.
func NewParquetArchiver(dir string, logger *zap.Logger) (*ParquetArchiver, error) {
	if dir == "" {
		return nil, errors.New("archive: empty directory")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("archive: create %s: %w", dir, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ParquetArchiver{dir: dir, logger: logger.Named("archive")}, nil
}

// Archive writes readings to raw_<day>_<id>.parquet, named by the first reading's day.
func (a *ParquetArchiver) Archive(ctx context.Context, readings []telemetry.Reading) error {
	if len(readings) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	rows := make([]RawRow, 0, len(readings))
	for _, r := range readings {
		rows = append(rows, RawRow{
			SystemID:        r.SystemID,
			PointIndex:      int32(r.PointIndex),
			MeasurementTime: r.MeasurementTime.UTC(),
			ReceivedTime:    r.ReceivedTime.UTC(),
			RawValue:        r.RawValue,
			Value:           r.Value,
			Quality:         string(r.Quality),
		})
	}
	name := fmt.Sprintf("raw_%s_%s.parquet", rows[0].MeasurementTime.Format("20060102"), uuid.NewString())
	path := filepath.Join(a.dir, name)
	if err := WriteRaw(path, rows); err != nil {
		return err
	}
	a.logger.Info("raw readings archived", zap.String("file", path), zap.Int("rows", len(rows)))
	return nil
}

// WriteRaw writes rows to path.
func WriteRaw(path string, rows []RawRow) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create archive file: %w", err)
	}
	defer func() { _ = file.Close() }()

	writer := parquet.NewGenericWriter[RawRow](file)
	if _, err := writer.Write(rows); err != nil {
		_ = writer.Close()
		return fmt.Errorf("failed to write archive rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to flush archive file: %w", err)
	}
	return file.Sync()
}

// ReadRaw loads an archive file.
func ReadRaw(path string) ([]RawRow, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := parquet.NewGenericReader[RawRow](file)
	defer reader.Close()

	rows := make([]RawRow, reader.NumRows())
	n, err := reader.Read(rows)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	return rows[:n], nil
}
