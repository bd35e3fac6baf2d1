// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package memtable

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/csv"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

var timestampType = &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: "UTC"}

// arrowType returns the Arrow type used to export a column.
func arrowType(t ColumnType) arrow.DataType {
	switch t {
	case TypeInteger:
		return arrow.PrimitiveTypes.Int64
	case TypeFloat:
		return arrow.PrimitiveTypes.Float64
	case TypeBoolean:
		return arrow.FixedWidthTypes.Boolean
	case TypeDate:
		return arrow.FixedWidthTypes.Date32
	case TypeDatetime:
		return timestampType
	default:
		return arrow.BinaryTypes.String
	}
}

// columnType maps an imported Arrow type to a column type. Types without a
// direct counterpart are imported as strings.
func columnType(dt arrow.DataType) ColumnType {
	switch dt.ID() {
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64:
		return TypeInteger
	case arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64, arrow.DECIMAL128:
		return TypeFloat
	case arrow.BOOL:
		return TypeBoolean
	case arrow.DATE32, arrow.DATE64:
		return TypeDate
	case arrow.TIMESTAMP:
		return TypeDatetime
	default:
		return TypeString
	}
}

func arrowSchema(s schema) *arrow.Schema {
	fields := make([]arrow.Field, len(s))
	for i, f := range s {
		fields[i] = arrow.Field{Name: f.Name, Type: arrowType(f.Type), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// buildRecord converts rows laid out in s order into a record batch. The
// caller releases it.
func buildRecord(mem memory.Allocator, s schema, rows [][]any) (arrow.Record, error) {
	b := array.NewRecordBuilder(mem, arrowSchema(s))
	defer b.Release()
	for _, row := range rows {
		for ci, f := range s {
			if err := appendToBuilder(b.Field(ci), f.Type, row[ci]); err != nil {
				return nil, fmt.Errorf("column %s: %w", f.Name, err)
			}
		}
	}
	return b.NewRecord(), nil
}

func appendToBuilder(b array.Builder, t ColumnType, value any) error {
	if value == nil {
		b.AppendNull()
		return nil
	}
	switch t {
	case TypeInteger:
		v, ok := value.(int64)
		if !ok {
			return fmt.Errorf("expected int64, got %T", value)
		}
		b.(*array.Int64Builder).Append(v)
	case TypeFloat:
		v, ok := value.(float64)
		if !ok {
			return fmt.Errorf("expected float64, got %T", value)
		}
		b.(*array.Float64Builder).Append(v)
	case TypeBoolean:
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("expected bool, got %T", value)
		}
		b.(*array.BooleanBuilder).Append(v)
	case TypeDate:
		v, ok := value.(time.Time)
		if !ok {
			return fmt.Errorf("expected time.Time, got %T", value)
		}
		b.(*array.Date32Builder).Append(arrow.Date32FromTime(v))
	case TypeDatetime:
		v, ok := value.(time.Time)
		if !ok {
			return fmt.Errorf("expected time.Time, got %T", value)
		}
		b.(*array.TimestampBuilder).Append(arrow.Timestamp(v.UnixMilli()))
	default:
		b.(*array.StringBuilder).Append(fmt.Sprintf("%v", value))
	}
	return nil
}

// valueAt reads row i of col as a stored value of type t.
func valueAt(col arrow.Array, i int, t ColumnType) (any, error) {
	if col.IsNull(i) {
		return nil, nil
	}
	var v any
	switch c := col.(type) {
	case *array.Int8:
		v = int64(c.Value(i))
	case *array.Int16:
		v = int64(c.Value(i))
	case *array.Int32:
		v = int64(c.Value(i))
	case *array.Int64:
		v = c.Value(i)
	case *array.Uint8:
		v = int64(c.Value(i))
	case *array.Uint16:
		v = int64(c.Value(i))
	case *array.Uint32:
		v = int64(c.Value(i))
	case *array.Uint64:
		v = int64(c.Value(i))
	case *array.Float32:
		v = float64(c.Value(i))
	case *array.Float64:
		v = c.Value(i)
	case *array.Boolean:
		v = c.Value(i)
	case *array.String:
		v = c.Value(i)
	case *array.LargeString:
		v = c.Value(i)
	case *array.Date32:
		v = c.Value(i).ToTime()
	case *array.Date64:
		v = c.Value(i).ToTime()
	case *array.Timestamp:
		unit := col.DataType().(*arrow.TimestampType).Unit
		v = c.Value(i).ToTime(unit)
	default:
		v = col.ValueStr(i)
	}
	return coerce(v, t)
}

// recordRows converts every row of rec into a record keyed by column name.
func recordRows(rec arrow.Record, s schema) ([]map[string]any, error) {
	out := make([]map[string]any, rec.NumRows())
	for r := range out {
		out[r] = make(map[string]any, len(s))
	}
	for ci, f := range s {
		col := rec.Column(ci)
		for r := range out {
			v, err := valueAt(col, r, f.Type)
			if err != nil {
				return nil, fmt.Errorf("column %s row %d: %w", f.Name, r, err)
			}
			out[r][f.Name] = v
		}
	}
	return out, nil
}

func schemaFromArrow(as *arrow.Schema) schema {
	s := make(schema, as.NumFields())
	for i, f := range as.Fields() {
		s[i] = Field{Name: f.Name, Type: columnType(f.Type)}
	}
	return s
}

// recordSource is the reader surface shared by the IPC and CSV readers.
type recordSource interface {
	Schema() *arrow.Schema
	Next() bool
	Record() arrow.Record
	Err() error
	Release()
}

func readRecords(src recordSource) (schema, []map[string]any, error) {
	defer src.Release()
	var rows []map[string]any
	var s schema
	for src.Next() {
		rec := src.Record()
		if s == nil {
			s = schemaFromArrow(rec.Schema())
		}
		batch, err := recordRows(rec, s)
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, batch...)
	}
	if err := src.Err(); err != nil && err != io.EOF {
		return nil, nil, err
	}
	if s == nil && src.Schema() != nil {
		s = schemaFromArrow(src.Schema())
	}
	return s, rows, nil
}

// readIPC decodes an Arrow IPC stream.
func readIPC(mem memory.Allocator, data []byte) (schema, []map[string]any, error) {
	r, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(mem))
	if err != nil {
		return nil, nil, fmt.Errorf("reading arrow stream: %w", err)
	}
	return readRecords(r)
}

// readCSV decodes CSV text with a header row, inferring column types.
func readCSV(mem memory.Allocator, text string) (schema, []map[string]any, error) {
	r := csv.NewInferringReader(strings.NewReader(text),
		csv.WithAllocator(mem),
		csv.WithHeader(true),
		csv.WithChunk(1024),
	)
	return readRecords(r)
}

// writeIPC encodes rows as an Arrow IPC stream. compression is "", "zstd"
// or "lz4".
func writeIPC(mem memory.Allocator, s schema, rows [][]any, compression string) ([]byte, error) {
	rec, err := buildRecord(mem, s, rows)
	if err != nil {
		return nil, err
	}
	defer rec.Release()

	opts := []ipc.Option{ipc.WithSchema(rec.Schema()), ipc.WithAllocator(mem)}
	switch compression {
	case "":
	case "zstd":
		opts = append(opts, ipc.WithZstd())
	case "lz4":
		opts = append(opts, ipc.WithLZ4())
	default:
		return nil, fmt.Errorf("unknown compression %q", compression)
	}

	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, opts...)
	if err := w.Write(rec); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeCSV encodes rows as CSV text with a header row.
func writeCSV(mem memory.Allocator, s schema, rows [][]any) (string, error) {
	rec, err := buildRecord(mem, s, rows)
	if err != nil {
		return "", err
	}
	defer rec.Release()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf, rec.Schema(), csv.WithHeader(true), csv.WithNullWriter(""))
	if err := w.Write(rec); err != nil {
		return "", err
	}
	if err := w.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
