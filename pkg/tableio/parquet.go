// Package tableio moves profile tables between disk and memory.
//
// Profiles are stored as parquet files. Small parameter files used by the
// sampling sweeps are plain text with one value per line.
package tableio

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/apache/arrow/go/v18/parquet"
	"github.com/apache/arrow/go/v18/parquet/compress"
	"github.com/apache/arrow/go/v18/parquet/pqarrow"

	"timelapsemap/pkg/profile"
)

// ErrNotExist is returned when an input file is missing.
var ErrNotExist = errors.New("input file does not exist")

// pandasIndexPrefix marks the index columns pandas writes alongside data.
const pandasIndexPrefix = "__index_level_"

// ReadParquet loads a parquet file into a profile table. Columns whose names
// start with prefix are metadata; an empty prefix selects the default.
func ReadParquet(ctx context.Context, path, prefix string) (*profile.Table, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotExist, path)
		}
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	mem := memory.NewGoAllocator()
	tbl, err := pqarrow.ReadTable(ctx, f, parquet.NewReaderProperties(mem), pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, fmt.Errorf("read parquet %s: %w", path, err)
	}
	defer tbl.Release()

	out := profile.New(prefix)
	schema := tbl.Schema()
	for i := 0; i < int(tbl.NumCols()); i++ {
		field := schema.Field(i)
		if strings.HasPrefix(field.Name, pandasIndexPrefix) {
			continue
		}
		col, err := convertColumn(field, tbl.Column(i).Data().Chunks(), int(tbl.NumRows()))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if err := out.AddColumn(col); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return out, nil
}

func convertColumn(field arrow.Field, chunks []arrow.Array, n int) (*profile.Column, error) {
	switch field.Type.ID() {
	case arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64:
		vals := make([]float64, 0, n)
		for _, c := range chunks {
			for i := 0; i < c.Len(); i++ {
				vals = append(vals, floatAt(c, i))
			}
		}
		return profile.NewFloatColumn(field.Name, vals), nil

	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		if hasNulls(chunks) {
			vals := make([]float64, 0, n)
			for _, c := range chunks {
				for i := 0; i < c.Len(); i++ {
					vals = append(vals, floatAt(c, i))
				}
			}
			return profile.NewFloatColumn(field.Name, vals), nil
		}
		vals := make([]int64, 0, n)
		for _, c := range chunks {
			for i := 0; i < c.Len(); i++ {
				vals = append(vals, intAt(c, i))
			}
		}
		return profile.NewIntColumn(field.Name, vals), nil

	case arrow.BOOL:
		vals := make([]bool, 0, n)
		for _, c := range chunks {
			b := c.(*array.Boolean)
			for i := 0; i < b.Len(); i++ {
				vals = append(vals, b.IsValid(i) && b.Value(i))
			}
		}
		return profile.NewBoolColumn(field.Name, vals), nil

	default:
		vals := make([]string, 0, n)
		for _, c := range chunks {
			for i := 0; i < c.Len(); i++ {
				vals = append(vals, stringAt(c, i))
			}
		}
		return profile.NewStringColumn(field.Name, vals), nil
	}
}

func hasNulls(chunks []arrow.Array) bool {
	for _, c := range chunks {
		if c.NullN() > 0 {
			return true
		}
	}
	return false
}

func floatAt(c arrow.Array, i int) float64 {
	if c.IsNull(i) {
		return math.NaN()
	}
	switch a := c.(type) {
	case *array.Float64:
		return a.Value(i)
	case *array.Float32:
		return float64(a.Value(i))
	case *array.Float16:
		return float64(a.Value(i).Float32())
	default:
		return float64(intAt(c, i))
	}
}

func intAt(c arrow.Array, i int) int64 {
	switch a := c.(type) {
	case *array.Int8:
		return int64(a.Value(i))
	case *array.Int16:
		return int64(a.Value(i))
	case *array.Int32:
		return int64(a.Value(i))
	case *array.Int64:
		return a.Value(i)
	case *array.Uint8:
		return int64(a.Value(i))
	case *array.Uint16:
		return int64(a.Value(i))
	case *array.Uint32:
		return int64(a.Value(i))
	case *array.Uint64:
		return int64(a.Value(i))
	}
	return 0
}

func stringAt(c arrow.Array, i int) string {
	if c.IsNull(i) {
		return ""
	}
	switch a := c.(type) {
	case *array.String:
		return a.Value(i)
	case *array.LargeString:
		return a.Value(i)
	case *array.Dictionary:
		return stringAt(a.Dictionary(), a.GetValueIndex(i))
	default:
		return c.ValueStr(i)
	}
}

// WriteParquet writes t as a Zstd-compressed parquet file, creating parent
// directories as needed. NaN floats and empty strings are written as nulls.
func WriteParquet(ctx context.Context, path string, t *profile.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	mem := memory.NewGoAllocator()
	fields := make([]arrow.Field, t.NumCols())
	for i := range fields {
		c := t.ColumnAt(i)
		fields[i] = arrow.Field{Name: c.Name(), Type: arrowType(c.Kind()), Nullable: true}
	}
	schema := arrow.NewSchema(fields, nil)

	b := array.NewRecordBuilder(mem, schema)
	defer b.Release()
	for i := range fields {
		appendColumn(b.Field(i), t.ColumnAt(i))
	}
	rec := b.NewRecord()
	defer rec.Release()
	tbl := array.NewTableFromRecords(schema, []arrow.Record{rec})
	defer tbl.Release()

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	props := parquet.NewWriterProperties(
		parquet.WithCompression(compress.Codecs.Zstd),
		parquet.WithAllocator(mem),
	)
	chunk := int64(t.NumRows())
	if chunk == 0 {
		chunk = 1
	}
	if err := pqarrow.WriteTable(tbl, f, chunk, props, pqarrow.DefaultWriterProps()); err != nil {
		f.Close()
		return fmt.Errorf("write parquet %s: %w", path, err)
	}
	// The parquet writer closes its sink.
	if err := f.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

func arrowType(k profile.Kind) arrow.DataType {
	switch k {
	case profile.KindInt:
		return arrow.PrimitiveTypes.Int64
	case profile.KindString:
		return arrow.BinaryTypes.String
	case profile.KindBool:
		return arrow.FixedWidthTypes.Boolean
	default:
		return arrow.PrimitiveTypes.Float64
	}
}

func appendColumn(b array.Builder, c *profile.Column) {
	n := c.Len()
	switch fb := b.(type) {
	case *array.Float64Builder:
		for i := 0; i < n; i++ {
			if c.IsMissing(i) {
				fb.AppendNull()
				continue
			}
			fb.Append(c.Float(i))
		}
	case *array.Int64Builder:
		for i := 0; i < n; i++ {
			fb.Append(c.Int(i))
		}
	case *array.StringBuilder:
		for i := 0; i < n; i++ {
			if c.IsMissing(i) {
				fb.AppendNull()
				continue
			}
			fb.Append(c.Format(i))
		}
	case *array.BooleanBuilder:
		for i := 0; i < n; i++ {
			fb.Append(c.Bool(i))
		}
	}
}
