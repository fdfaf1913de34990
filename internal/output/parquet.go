package output

import (
	"fmt"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/gyeh/claimcheck/internal/claims"
)

// FieldErrorParquet is one failed check, flattened for columnar analysis.
type FieldErrorParquet struct {
	RunID         string `parquet:"run_id"`
	SourceFile    string `parquet:"source_file"`
	RecordIndex   int64  `parquet:"record_index"`
	ImageFileName string `parquet:"image_file_name"`
	ColumnName    string `parquet:"column_name"`
	DisplayName   string `parquet:"display_name"`
	CurrentValue  string `parquet:"current_value"`
	ErrorKind     string `parquet:"error_kind"`
	ErrorMessage  string `parquet:"error_message"`
}

const parquetFlushInterval = 100_000

// ParquetWriter writes field errors to a Parquet file.
type ParquetWriter struct {
	file   *os.File
	writer *parquet.GenericWriter[FieldErrorParquet]
	count  int
}

// NewParquetWriter creates a new Parquet file writer.
func NewParquetWriter(filename string) (*ParquetWriter, error) {
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet file: %w", err)
	}

	writer := parquet.NewGenericWriter[FieldErrorParquet](file,
		parquet.Compression(&parquet.Snappy),
		parquet.CreatedBy("claimcheck", "1.0", ""),
	)

	return &ParquetWriter{
		file:   file,
		writer: writer,
	}, nil
}

// WriteResult writes one row per field error of every failing record in res.
func (pw *ParquetWriter) WriteResult(res *claims.Result) error {
	if res == nil {
		return nil
	}
	var rows []FieldErrorParquet
	for _, rec := range res.ErrorRecords {
		for _, fe := range rec.FieldErrors {
			rows = append(rows, FieldErrorParquet{
				RunID:         res.RunID,
				SourceFile:    res.SourceFilePath,
				RecordIndex:   int64(rec.RecordIndex),
				ImageFileName: rec.ImageFileName,
				ColumnName:    fe.ColumnName,
				DisplayName:   fe.DisplayName,
				CurrentValue:  fe.CurrentValue,
				ErrorKind:     fe.Kind.String(),
				ErrorMessage:  fe.ErrorMessage,
			})
		}
	}
	if len(rows) == 0 {
		return nil
	}

	if _, err := pw.writer.Write(rows); err != nil {
		return fmt.Errorf("failed to write parquet records: %w", err)
	}

	before := pw.count
	pw.count += len(rows)

	// Flush row group periodically to bound memory usage
	if pw.count/parquetFlushInterval != before/parquetFlushInterval {
		if err := pw.writer.Flush(); err != nil {
			return fmt.Errorf("failed to flush parquet row group: %w", err)
		}
	}

	return nil
}

// Close flushes and closes the Parquet writer.
func (pw *ParquetWriter) Close() error {
	if err := pw.writer.Close(); err != nil {
		pw.file.Close()
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return pw.file.Close()
}

// Count returns the number of rows written.
func (pw *ParquetWriter) Count() int {
	return pw.count
}
