// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package memtable is an in-memory table engine for tablerpc. Rows are held
// as Go values; Arrow is used for import and for the binary and CSV
// exports.
package memtable

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/Query-farm/tablerpc/tablerpc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// Table options.
const (
	OptionIndex  = "index"
	OptionLimit  = "limit"
	OptionPortID = "port_id"
)

// Engine creates Tables. It implements tablerpc.Engine.
type Engine struct {
	mem    memory.Allocator
	logger *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithAllocator sets the Arrow allocator used for import and export.
func WithAllocator(mem memory.Allocator) Option {
	return func(e *Engine) { e.mem = mem }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// NewEngine creates an Engine.
func NewEngine(opts ...Option) *Engine {
	e := &Engine{mem: memory.NewGoAllocator(), logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewTable implements tablerpc.Engine.
func (e *Engine) NewTable(ctx context.Context, data any, opts tablerpc.Options) (tablerpc.Table, error) {
	return e.CreateTable(ctx, data, opts)
}

// CreateTable builds a table from data. See parseInput for the accepted
// forms. opts may name an index column or a row limit, not both.
func (e *Engine) CreateTable(ctx context.Context, data any, opts tablerpc.Options) (*Table, error) {
	in, err := parseInput(e.mem, data)
	if err != nil {
		return nil, err
	}
	t := &Table{
		engine:   e,
		schema:   in.resolveSchema(),
		indexCol: -1,
		keys:     make(map[any]int),
		views:    make(map[*View]struct{}),
	}

	t.index = opts.String(OptionIndex)
	if v, ok := opts[OptionLimit]; ok && v != nil {
		limit, err := asInteger(v)
		if err != nil || limit <= 0 {
			return nil, fmt.Errorf("limit must be a positive integer, got %v", v)
		}
		t.limit = int(limit)
	}
	if t.index != "" && t.limit > 0 {
		return nil, fmt.Errorf("cannot specify both index and limit")
	}
	if t.index != "" {
		t.indexCol = t.schema.indexOf(t.index)
		if t.indexCol < 0 {
			return nil, fmt.Errorf("index column `%s` does not exist", t.index)
		}
	}

	rows, present, err := t.coerceRows(in.rows)
	if err != nil {
		return nil, err
	}
	t.applyLocked(rows, present)

	attrs := []any{"columns", len(t.schema), "rows", len(t.rows)}
	if cc, ok := tablerpc.CallContextFrom(ctx); ok {
		attrs = append(attrs, "client_id", cc.ClientID)
	}
	e.logger.Debug("table created", attrs...)
	return t, nil
}

// Table is an in-memory table. All methods are safe for concurrent use.
type Table struct {
	engine   *Engine
	index    string
	indexCol int
	limit    int
	nextPort atomic.Int64

	mu      sync.RWMutex
	schema  schema
	rows    [][]any
	keys    map[any]int // index value to row position
	views   map[*View]struct{}
	deleted bool

	onUpdate subscribers
	onDelete subscribers
}

// Fields returns the table schema.
func (t *Table) Fields() []Field {
	return slices.Clone(t.schema)
}

// Size returns the number of rows.
func (t *Table) Size() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.rows)
}

// coerceRows converts input records to rows in schema order. present marks
// the columns each record supplied, so indexed updates can be partial.
func (t *Table) coerceRows(records []map[string]any) ([][]any, [][]bool, error) {
	rows := make([][]any, len(records))
	present := make([][]bool, len(records))
	for i, rec := range records {
		row := make([]any, len(t.schema))
		mask := make([]bool, len(t.schema))
		for ci, f := range t.schema {
			raw, ok := rec[f.Name]
			if !ok {
				continue
			}
			v, err := coerce(raw, f.Type)
			if err != nil {
				return nil, nil, fmt.Errorf("row %d column %s: %w", i, f.Name, err)
			}
			row[ci] = v
			mask[ci] = true
		}
		if t.indexCol >= 0 && row[t.indexCol] == nil {
			return nil, nil, fmt.Errorf("row %d has no value for index column `%s`", i, t.index)
		}
		rows[i] = row
		present[i] = mask
	}
	return rows, present, nil
}

// applyLocked upserts rows and returns the resulting rows. The caller
// holds t.mu or owns t exclusively.
func (t *Table) applyLocked(rows [][]any, present [][]bool) [][]any {
	changed := make([][]any, 0, len(rows))
	for i, row := range rows {
		if t.indexCol >= 0 {
			key := row[t.indexCol]
			if pos, ok := t.keys[key]; ok {
				merged := slices.Clone(t.rows[pos])
				for ci := range row {
					if present[i][ci] {
						merged[ci] = row[ci]
					}
				}
				t.rows[pos] = merged
				changed = append(changed, merged)
				continue
			}
			t.keys[key] = len(t.rows)
		}
		t.rows = append(t.rows, row)
		changed = append(changed, row)
	}
	if t.limit > 0 && len(t.rows) > t.limit {
		t.rows = slices.Clone(t.rows[len(t.rows)-t.limit:])
	}
	return changed
}

func (t *Table) rebuildKeysLocked() {
	clear(t.keys)
	if t.indexCol < 0 {
		return
	}
	for pos, row := range t.rows {
		t.keys[row[t.indexCol]] = pos
	}
}

// snapshot returns the rows at this instant. Rows are never mutated in
// place, so the result stays valid after later updates.
func (t *Table) snapshot() [][]any {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return slices.Clone(t.rows)
}

func (t *Table) checkLive() error {
	if t.deleted {
		return fmt.Errorf("table has been deleted")
	}
	return nil
}

func portID(opts tablerpc.Options) int64 {
	v, ok := opts[OptionPortID]
	if !ok || v == nil {
		return 0
	}
	id, err := asInteger(v)
	if err != nil {
		return 0
	}
	return id
}

// Schema returns column name to type name.
func (t *Table) Schema(context.Context, tablerpc.Options) (any, error) {
	return t.schema.typeMap(), nil
}

// ComputedSchema returns the schema of computed expressions. Expressions
// are not supported, so only an empty expression list is accepted.
func (t *Table) ComputedSchema(_ context.Context, args []any, _ tablerpc.Options) (any, error) {
	if err := noExpressions(args); err != nil {
		return nil, err
	}
	return map[string]string{}, nil
}

// ComputationInputTypes reports that no computations are available.
func (t *Table) ComputationInputTypes(_ context.Context, args []any, _ tablerpc.Options) (any, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("get_computation_input_types requires a computation name")
	}
	return nil, fmt.Errorf("unknown computation %v", args[0])
}

func noExpressions(args []any) error {
	if len(args) == 0 || args[0] == nil {
		return nil
	}
	if list, ok := args[0].([]any); ok && len(list) == 0 {
		return nil
	}
	return fmt.Errorf("computed columns are not supported")
}

// Export is only available on views.
func (t *Table) Export(_ context.Context, format string, _ tablerpc.Options) (tablerpc.Result, error) {
	return tablerpc.Result{}, fmt.Errorf("`to_%s` is only available on views", format)
}

// Subscribe registers on_update or on_delete callbacks.
func (t *Table) Subscribe(_ context.Context, event string, cb tablerpc.Callback, opts tablerpc.Options) error {
	return subscribe(event, cb, opts, &t.onUpdate, &t.onDelete)
}

// Delete releases the table. It fails while views exist.
func (t *Table) Delete(context.Context) error {
	t.mu.Lock()
	if n := len(t.views); n > 0 {
		t.mu.Unlock()
		return fmt.Errorf("cannot delete table with %d open views", n)
	}
	t.deleted = true
	t.rows = nil
	clear(t.keys)
	t.mu.Unlock()

	fanOut(deleteCalls(t.onDelete.live()))
	t.onUpdate.reset()
	t.onDelete.reset()
	return nil
}

// Invoke implements size, get_index, get_limit, columns and make_port.
func (t *Table) Invoke(_ context.Context, method string, _ []any) (tablerpc.Result, error) {
	switch method {
	case "size":
		return tablerpc.ValueResult(t.Size()), nil
	case "get_index":
		if t.index == "" {
			return tablerpc.ValueResult(nil), nil
		}
		return tablerpc.ValueResult(t.index), nil
	case "get_limit":
		if t.limit == 0 {
			return tablerpc.ValueResult(nil), nil
		}
		return tablerpc.ValueResult(t.limit), nil
	case "columns":
		return tablerpc.ValueResult(t.schema.names()), nil
	case "make_port":
		return tablerpc.ValueResult(t.nextPort.Add(1)), nil
	}
	return tablerpc.Result{}, fmt.Errorf("unknown method `%s`", method)
}

// Update appends rows, or upserts them by index on an indexed table.
func (t *Table) Update(_ context.Context, data any, opts tablerpc.Options) error {
	in, err := parseInput(t.engine.mem, data)
	if err != nil {
		return err
	}
	rows, present, err := t.coerceRows(in.rows)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if err := t.checkLive(); err != nil {
		t.mu.Unlock()
		return err
	}
	changed := t.applyLocked(rows, present)
	t.mu.Unlock()

	t.notify(portID(opts), changed)
	return nil
}

// Remove deletes rows by index value. data is a list of index values.
func (t *Table) Remove(_ context.Context, data any, opts tablerpc.Options) error {
	if t.indexCol < 0 {
		return fmt.Errorf("remove requires an indexed table")
	}
	list, ok := data.([]any)
	if !ok {
		return fmt.Errorf("remove expects a list of index values, got %T", data)
	}
	drop := make(map[any]bool, len(list))
	for _, raw := range list {
		v, err := coerce(raw, t.schema[t.indexCol].Type)
		if err != nil {
			return err
		}
		drop[v] = true
	}

	t.mu.Lock()
	if err := t.checkLive(); err != nil {
		t.mu.Unlock()
		return err
	}
	t.rows = slices.DeleteFunc(slices.Clone(t.rows), func(row []any) bool {
		return drop[row[t.indexCol]]
	})
	t.rebuildKeysLocked()
	t.mu.Unlock()

	t.notify(portID(opts), nil)
	return nil
}

// Replace swaps all rows for data, keeping the schema.
func (t *Table) Replace(_ context.Context, data any) error {
	in, err := parseInput(t.engine.mem, data)
	if err != nil {
		return err
	}
	rows, present, err := t.coerceRows(in.rows)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if err := t.checkLive(); err != nil {
		t.mu.Unlock()
		return err
	}
	t.rows = nil
	clear(t.keys)
	changed := t.applyLocked(rows, present)
	t.mu.Unlock()

	t.notify(0, changed)
	return nil
}

// Clear removes all rows.
func (t *Table) Clear(context.Context) error {
	t.mu.Lock()
	if err := t.checkLive(); err != nil {
		t.mu.Unlock()
		return err
	}
	t.rows = nil
	clear(t.keys)
	t.mu.Unlock()

	t.notify(0, nil)
	return nil
}

// View creates a view from config.
func (t *Table) View(_ context.Context, config tablerpc.Options) (tablerpc.View, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.checkLive(); err != nil {
		return nil, err
	}
	v, err := newView(t, config)
	if err != nil {
		return nil, err
	}
	t.views[v] = struct{}{}
	return v, nil
}

func (t *Table) removeView(v *View) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.views, v)
}

// notify delivers an update to the table's and every view's on_update
// callbacks and waits for them. changed holds the rows written by the
// update, in schema order.
func (t *Table) notify(port int64, changed [][]any) {
	onErr := func(err error) {
		t.engine.logger.Warn("building update delta failed", "err", err)
	}
	delta := sync.OnceValues(func() ([]byte, error) {
		return writeIPC(t.engine.mem, t.schema, changed, "")
	})
	calls := updateCalls(t.onUpdate.live(), port, delta, onErr)

	t.mu.RLock()
	views := make([]*View, 0, len(t.views))
	for v := range t.views {
		views = append(views, v)
	}
	t.mu.RUnlock()
	for _, v := range views {
		calls = append(calls, v.updateCalls(port, changed, onErr)...)
	}
	fanOut(calls)
}
