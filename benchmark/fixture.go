// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package benchmark builds a seeded manager for measuring dispatch cost
// without a network transport.
package benchmark

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/Query-farm/tablerpc/memtable"
	"github.com/Query-farm/tablerpc/tablerpc"
)

// Names of the hosted fixture entities.
const (
	TableName = "bench"
	ViewName  = "bench_view"
)

// Fixture is a manager hosting one table with Rows rows and one sorted view
// over it.
type Fixture struct {
	Manager *tablerpc.Manager
	Table   *memtable.Table
	Rows    int

	frames atomic.Int64
	bytes  atomic.Int64
	nextID atomic.Int64
}

// NewFixture seeds a table with rows {i, value, label} where value = i * 10.
func NewFixture(ctx context.Context, rows int) (*Fixture, error) {
	engine := memtable.NewEngine(memtable.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	data := map[string]any{
		"i":     make([]any, rows),
		"value": make([]any, rows),
		"label": make([]any, rows),
	}
	for n := range rows {
		data["i"].([]any)[n] = n
		data["value"].([]any)[n] = n * 10
		data["label"].([]any)[n] = fmt.Sprintf("row-%d", n)
	}
	tbl, err := engine.CreateTable(ctx, data, tablerpc.Options{"index": "i"})
	if err != nil {
		return nil, fmt.Errorf("seed table: %w", err)
	}
	view, err := tbl.View(ctx, tablerpc.Options{"sort": []any{[]any{"value", "desc"}}})
	if err != nil {
		return nil, fmt.Errorf("seed view: %w", err)
	}

	m := tablerpc.NewManager(engine, tablerpc.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	m.HostTable(TableName, tbl)
	m.HostView(ViewName, view)
	return &Fixture{Manager: m, Table: tbl, Rows: rows}, nil
}

// Post counts frames and discards them.
func (f *Fixture) Post(frames ...tablerpc.Frame) error {
	for _, fr := range frames {
		f.frames.Add(1)
		f.bytes.Add(int64(len(fr.Data)))
	}
	return nil
}

// Posted reports the frames and bytes seen since the fixture was built.
func (f *Fixture) Posted() (frames, bytes int64) {
	return f.frames.Load(), f.bytes.Load()
}

// Call dispatches one method call on the named entity.
func (f *Fixture) Call(ctx context.Context, cmd, name, method string, args ...any) {
	if args == nil {
		args = []any{}
	}
	f.Manager.Process(ctx, map[string]any{
		"id":     f.nextID.Add(1),
		"cmd":    cmd,
		"name":   name,
		"method": method,
		"args":   args,
	}, f, "bench")
}

// Size asks the table for its row count.
func (f *Fixture) Size(ctx context.Context) {
	f.Call(ctx, tablerpc.CmdTableMethod, TableName, "size")
}

// ToJSON exports the view as records.
func (f *Fixture) ToJSON(ctx context.Context) {
	f.Call(ctx, tablerpc.CmdViewMethod, ViewName, "to_json")
}

// ToArrow exports the view as an arrow stream.
func (f *Fixture) ToArrow(ctx context.Context) {
	f.Call(ctx, tablerpc.CmdViewMethod, ViewName, "to_arrow")
}

// Update upserts one row, overwriting an existing key.
func (f *Fixture) Update(ctx context.Context, n int) {
	key := n % max(f.Rows, 1)
	f.Call(ctx, tablerpc.CmdTableMethod, TableName, "update",
		[]any{map[string]any{"i": key, "value": n, "label": "updated"}})
}
