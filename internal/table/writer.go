package table

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/csv"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"github.com/apache/arrow/go/v17/parquet"
	"github.com/apache/arrow/go/v17/parquet/compress"
	"github.com/apache/arrow/go/v17/parquet/pqarrow"
)

// Format is an output serialization.
type Format string

const (
	FormatCSV     Format = "csv"
	FormatParquet Format = "parquet"
)

// Writer serializes a table to path, replacing any existing file.
type Writer interface {
	Format() Format
	Write(t *Table, path string) error
}

// NewWriter returns the writer for format.
func NewWriter(format Format) (Writer, error) {
	switch format {
	case FormatCSV, "":
		return &CSVWriter{Comma: ','}, nil
	case FormatParquet:
		return &ParquetWriter{}, nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

// OutputPath derives the generated file name next to the source table:
// prefix + source name, with a .parquet extension for parquet output.
func OutputPath(sourcePath, prefix string, format Format) string {
	dir, name := filepath.Split(sourcePath)
	if format == FormatParquet {
		name = strings.TrimSuffix(name, filepath.Ext(name)) + ".parquet"
	}
	return filepath.Join(dir, prefix+name)
}

// Record converts the table to a single Arrow record with one nullable string
// column per header field. The caller releases the record.
func (t *Table) Record(mem memory.Allocator) arrow.Record {
	fields := make([]arrow.Field, len(t.Header))
	for i, h := range t.Header {
		fields[i] = arrow.Field{Name: h, Type: arrow.BinaryTypes.String, Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()

	for _, row := range t.Rows {
		for i := range t.Header {
			sb := b.Field(i).(*array.StringBuilder)
			if i >= len(row) || !row[i].Valid {
				sb.AppendNull()
				continue
			}
			sb.Append(row[i].Text)
		}
	}

	return b.NewRecord()
}

// CSVWriter writes delimiter-separated output with a header line. Nulls are written empty.
type CSVWriter struct {
	Comma rune
}

func (w *CSVWriter) Format() Format {
	return FormatCSV
}

func (w *CSVWriter) Write(t *Table, path string) error {
	rec := t.Record(memory.NewGoAllocator())
	defer rec.Release()

	return writeFile(path, func(out io.Writer) error {
		cw := csv.NewWriter(out, rec.Schema(),
			csv.WithComma(w.Comma),
			csv.WithHeader(true),
			csv.WithNullWriter(""),
		)
		if err := cw.Write(rec); err != nil {
			return fmt.Errorf("failed to write record to CSV: %w", err)
		}
		if err := cw.Flush(); err != nil {
			return fmt.Errorf("failed to flush CSV: %w", err)
		}
		return cw.Error()
	})
}

// ParquetWriter writes a snappy-compressed Parquet file.
type ParquetWriter struct{}

func (w *ParquetWriter) Format() Format {
	return FormatParquet
}

func (w *ParquetWriter) Write(t *Table, path string) error {
	mem := memory.NewGoAllocator()
	rec := t.Record(mem)
	defer rec.Release()

	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Snappy),
		parquet.WithAllocator(mem),
		parquet.WithCreatedBy("tile-weather-enrich"),
	)

	return writeFile(path, func(out io.Writer) error {
		fw, err := pqarrow.NewFileWriter(rec.Schema(), out, props, pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
		if err != nil {
			return fmt.Errorf("failed to create Parquet writer: %w", err)
		}
		if err := fw.Write(rec); err != nil {
			fw.Close()
			return fmt.Errorf("failed to write record: %w", err)
		}
		if err := fw.Close(); err != nil {
			return fmt.Errorf("failed to close Parquet writer: %w", err)
		}
		return nil
	})
}

// writeFile writes through a temporary file in the target directory and
// renames it over path once complete.
func writeFile(path string, write func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer os.Remove(tmp.Name())

	// The parquet writer closes sinks that implement io.Closer; hide Close from it.
	if err := write(struct{ io.Writer }{tmp}); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	return nil
}
