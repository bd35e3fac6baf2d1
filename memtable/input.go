// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package memtable

import (
	"fmt"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// input is table data decoded from any accepted form. schema is set when
// the form carries column types; otherwise the types are inferred.
type input struct {
	schema  schema
	columns []string // column order when schema is nil
	rows    []map[string]any
}

// parseInput accepts a schema ({"col": "integer"}), column arrays
// ({"col": [1, 2]}), records ([{"col": 1}]), Arrow IPC stream bytes, an
// arrow.Record, or CSV text with a header row.
func parseInput(mem memory.Allocator, data any) (*input, error) {
	switch d := data.(type) {
	case nil:
		return &input{schema: schema{}}, nil
	case []byte:
		s, rows, err := readIPC(mem, d)
		if err != nil {
			return nil, err
		}
		return &input{schema: s, rows: rows}, nil
	case arrow.Record:
		s := schemaFromArrow(d.Schema())
		rows, err := recordRows(d, s)
		if err != nil {
			return nil, err
		}
		return &input{schema: s, rows: rows}, nil
	case string:
		s, rows, err := readCSV(mem, d)
		if err != nil {
			return nil, fmt.Errorf("reading csv: %w", err)
		}
		return &input{schema: s, rows: rows}, nil
	case map[string]any:
		return parseObject(d)
	case []map[string]any:
		return parseRecords(d), nil
	case []any:
		records := make([]map[string]any, len(d))
		for i, r := range d {
			obj, ok := r.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("row %d: expected an object, got %T", i, r)
			}
			records[i] = obj
		}
		return parseRecords(records), nil
	}
	return nil, fmt.Errorf("unsupported table data %T", data)
}

// parseObject handles the two object forms: a schema when every value is a
// type name, column arrays when every value is an array.
func parseObject(obj map[string]any) (*input, error) {
	names := sortedKeys(obj)
	if len(names) == 0 {
		return &input{schema: schema{}}, nil
	}

	if _, isSchema := obj[names[0]].(string); isSchema {
		s := make(schema, 0, len(names))
		for _, name := range names {
			typeName, ok := obj[name].(string)
			if !ok {
				return nil, fmt.Errorf("column %s: expected a type name, got %T", name, obj[name])
			}
			t, ok := ParseColumnType(typeName)
			if !ok {
				return nil, fmt.Errorf("column %s: unknown type %q", name, typeName)
			}
			s = append(s, Field{Name: name, Type: t})
		}
		return &input{schema: s}, nil
	}

	n := 0
	cols := make(map[string][]any, len(names))
	for _, name := range names {
		values, ok := obj[name].([]any)
		if !ok {
			return nil, fmt.Errorf("column %s: expected an array, got %T", name, obj[name])
		}
		cols[name] = values
		n = max(n, len(values))
	}
	rows := make([]map[string]any, n)
	for i := range rows {
		row := make(map[string]any, len(names))
		for _, name := range names {
			if i < len(cols[name]) {
				row[name] = cols[name][i]
			}
		}
		rows[i] = row
	}
	return &input{columns: names, rows: rows}, nil
}

// parseRecords orders columns by first appearance, sorted within each
// record.
func parseRecords(records []map[string]any) *input {
	seen := make(map[string]bool)
	var columns []string
	for _, r := range records {
		for _, name := range sortedKeys(r) {
			if !seen[name] {
				seen[name] = true
				columns = append(columns, name)
			}
		}
	}
	return &input{columns: columns, rows: records}
}

// resolveSchema returns the input's schema, inferring column types from the
// row values when the input did not carry them.
func (in *input) resolveSchema() schema {
	if in.schema != nil {
		return in.schema
	}
	s := make(schema, len(in.columns))
	for i, name := range in.columns {
		values := make([]any, 0, len(in.rows))
		for _, r := range in.rows {
			values = append(values, r[name])
		}
		s[i] = Field{Name: name, Type: inferType(values)}
	}
	return s
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
