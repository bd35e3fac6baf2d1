// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package memtable

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/Query-farm/tablerpc/tablerpc"
)

// View config keys.
const (
	ConfigColumns = "columns"
	ConfigFilter  = "filter"
	ConfigSort    = "sort"
)

// Export options.
const (
	OptionStartRow    = "start_row"
	OptionEndRow      = "end_row"
	OptionCompression = "compression"
)

// unsupportedConfig lists view config keys that must be empty.
var unsupportedConfig = []string{"group_by", "split_by", "aggregates", "expressions"}

// View is a filtered, sorted projection of a Table. It reads the table's
// current rows on every call.
type View struct {
	table   *Table
	columns []int // projected column positions
	schema  schema
	filters []filter
	sorts   []sortKey
	deleted atomic.Bool

	onUpdate subscribers
	onDelete subscribers
}

// newView parses config against t's schema. The caller holds t.mu.
func newView(t *Table, config tablerpc.Options) (*View, error) {
	for _, key := range unsupportedConfig {
		if list, ok := config[key].([]any); ok && len(list) > 0 {
			return nil, fmt.Errorf("view config `%s` is not supported", key)
		}
	}

	v := &View{table: t}

	if raw, ok := config[ConfigColumns]; ok && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("columns must be a list, got %T", raw)
		}
		for _, item := range list {
			name, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("column names must be strings, got %T", item)
			}
			ci := t.schema.indexOf(name)
			if ci < 0 {
				return nil, fmt.Errorf("column `%s` does not exist", name)
			}
			v.columns = append(v.columns, ci)
		}
	} else {
		for ci := range t.schema {
			v.columns = append(v.columns, ci)
		}
	}
	for _, ci := range v.columns {
		v.schema = append(v.schema, t.schema[ci])
	}

	if raw, ok := config[ConfigFilter]; ok && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("filter must be a list, got %T", raw)
		}
		for _, item := range list {
			f, err := parseFilter(t.schema, item)
			if err != nil {
				return nil, err
			}
			v.filters = append(v.filters, f)
		}
	}

	if raw, ok := config[ConfigSort]; ok && raw != nil {
		list, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("sort must be a list, got %T", raw)
		}
		for _, item := range list {
			k, err := parseSort(t.schema, item)
			if err != nil {
				return nil, err
			}
			v.sorts = append(v.sorts, k)
		}
	}
	return v, nil
}

func (v *View) matches(row []any) bool {
	for _, f := range v.filters {
		if !f.match(row) {
			return false
		}
	}
	return true
}

func (v *View) project(rows [][]any) [][]any {
	out := make([][]any, len(rows))
	for i, row := range rows {
		p := make([]any, len(v.columns))
		for j, ci := range v.columns {
			p[j] = row[ci]
		}
		out[i] = p
	}
	return out
}

// rows returns the filtered and sorted rows, not yet projected.
func (v *View) rows() [][]any {
	all := v.table.snapshot()
	out := make([][]any, 0, len(all))
	for _, row := range all {
		if v.matches(row) {
			out = append(out, row)
		}
	}
	if len(v.sorts) > 0 {
		slices.SortStableFunc(out, func(a, b []any) int {
			return compareRows(v.sorts, a, b)
		})
	}
	return out
}

// window applies start_row and end_row.
func window(rows [][]any, opts tablerpc.Options) ([][]any, error) {
	start, end := 0, len(rows)
	if raw, ok := opts[OptionStartRow]; ok && raw != nil {
		n, err := asInteger(raw)
		if err != nil {
			return nil, fmt.Errorf("start_row: %w", err)
		}
		start = int(n)
	}
	if raw, ok := opts[OptionEndRow]; ok && raw != nil {
		n, err := asInteger(raw)
		if err != nil {
			return nil, fmt.Errorf("end_row: %w", err)
		}
		end = int(n)
	}
	start = min(max(start, 0), len(rows))
	end = min(max(end, start), len(rows))
	return rows[start:end], nil
}

func (v *View) checkLive() error {
	if v.deleted.Load() {
		return fmt.Errorf("view has been deleted")
	}
	return nil
}

// Schema returns the projected column name to type name.
func (v *View) Schema(context.Context, tablerpc.Options) (any, error) {
	return v.schema.typeMap(), nil
}

// ComputedSchema accepts only an empty expression list.
func (v *View) ComputedSchema(ctx context.Context, args []any, opts tablerpc.Options) (any, error) {
	return v.table.ComputedSchema(ctx, args, opts)
}

// ComputationInputTypes reports that no computations are available.
func (v *View) ComputationInputTypes(ctx context.Context, args []any, opts tablerpc.Options) (any, error) {
	return v.table.ComputationInputTypes(ctx, args, opts)
}

// Export implements to_json (records), to_records, to_columns, to_csv and
// to_arrow.
func (v *View) Export(_ context.Context, format string, opts tablerpc.Options) (tablerpc.Result, error) {
	if err := v.checkLive(); err != nil {
		return tablerpc.Result{}, err
	}
	rows, err := window(v.rows(), opts)
	if err != nil {
		return tablerpc.Result{}, err
	}
	rows = v.project(rows)

	switch format {
	case "json", "records":
		out := make([]map[string]any, len(rows))
		for i, row := range rows {
			rec := make(map[string]any, len(v.schema))
			for j, f := range v.schema {
				rec[f.Name] = row[j]
			}
			out[i] = rec
		}
		return tablerpc.ValueResult(out), nil
	case "columns":
		out := make(map[string][]any, len(v.schema))
		for j, f := range v.schema {
			col := make([]any, len(rows))
			for i, row := range rows {
				col[i] = row[j]
			}
			out[f.Name] = col
		}
		return tablerpc.ValueResult(out), nil
	case "csv":
		text, err := writeCSV(v.table.engine.mem, v.schema, rows)
		if err != nil {
			return tablerpc.Result{}, err
		}
		return tablerpc.ValueResult(text), nil
	case "arrow":
		b, err := writeIPC(v.table.engine.mem, v.schema, rows, opts.String(OptionCompression))
		if err != nil {
			return tablerpc.Result{}, err
		}
		return tablerpc.BinaryResult(b), nil
	}
	return tablerpc.Result{}, fmt.Errorf("unknown export format `to_%s`", format)
}

// Subscribe registers on_update or on_delete callbacks.
func (v *View) Subscribe(_ context.Context, event string, cb tablerpc.Callback, opts tablerpc.Options) error {
	if err := v.checkLive(); err != nil {
		return err
	}
	return subscribe(event, cb, opts, &v.onUpdate, &v.onDelete)
}

// Delete detaches the view from its table and fires on_delete.
func (v *View) Delete(context.Context) error {
	if v.deleted.Swap(true) {
		return nil
	}
	v.table.removeView(v)
	fanOut(deleteCalls(v.onDelete.live()))
	v.onUpdate.reset()
	v.onDelete.reset()
	return nil
}

// Invoke implements num_rows, num_columns, get_config and dimensions.
func (v *View) Invoke(_ context.Context, method string, _ []any) (tablerpc.Result, error) {
	if err := v.checkLive(); err != nil {
		return tablerpc.Result{}, err
	}
	switch method {
	case "num_rows":
		return tablerpc.ValueResult(len(v.rows())), nil
	case "num_columns":
		return tablerpc.ValueResult(len(v.schema)), nil
	case "get_config":
		return tablerpc.ValueResult(v.config()), nil
	case "dimensions":
		return tablerpc.ValueResult(map[string]int{
			"num_view_rows":     len(v.rows()),
			"num_view_columns":  len(v.schema),
			"num_table_rows":    v.table.Size(),
			"num_table_columns": len(v.table.schema),
		}), nil
	}
	return tablerpc.Result{}, fmt.Errorf("unknown method `%s`", method)
}

func (v *View) config() map[string]any {
	filters := make([]any, len(v.filters))
	for i, f := range v.filters {
		filters[i] = f.raw
	}
	sorts := make([]any, len(v.sorts))
	for i, k := range v.sorts {
		sorts[i] = k.raw
	}
	return map[string]any{
		ConfigColumns: v.schema.names(),
		ConfigFilter:  filters,
		ConfigSort:    sorts,
	}
}

// updateCalls builds this view's on_update notifications. The row delta
// holds the changed rows that pass the view's filters, projected.
func (v *View) updateCalls(port int64, changed [][]any, onErr func(error)) []func() {
	subs := v.onUpdate.live()
	if len(subs) == 0 {
		return nil
	}
	delta := sync.OnceValues(func() ([]byte, error) {
		var rows [][]any
		for _, row := range changed {
			if v.matches(row) {
				rows = append(rows, row)
			}
		}
		return writeIPC(v.table.engine.mem, v.schema, v.project(rows), "")
	})
	return updateCalls(subs, port, delta, onErr)
}
