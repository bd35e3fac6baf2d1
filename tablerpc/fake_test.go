// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tablerpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// recordingPoster keeps every posted frame.
type recordingPoster struct {
	mu     sync.Mutex
	frames []Frame
	err    error
}

func (p *recordingPoster) Post(frames ...Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = append(p.frames, frames...)
	return p.err
}

func (p *recordingPoster) snapshot() []Frame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Frame, len(p.frames))
	copy(out, p.frames)
	return out
}

func (p *recordingPoster) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.frames = nil
}

// texts returns the text frames as strings.
func (p *recordingPoster) texts() []string {
	var out []string
	for _, f := range p.snapshot() {
		if !f.Binary {
			out = append(out, string(f.Data))
		}
	}
	return out
}

// lastText decodes the last posted text frame.
func (p *recordingPoster) lastText(t *testing.T) map[string]any {
	t.Helper()
	texts := p.texts()
	require.NotEmpty(t, texts, "no text frames posted")
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(texts[len(texts)-1]), &out))
	return out
}

// fakeCall is one recorded handle method call.
type fakeCall struct {
	Method string
	Args   []any
	Opts   Options
}

// fakeHandle records calls and returns canned results.
type fakeHandle struct {
	mu      sync.Mutex
	calls   []fakeCall
	results map[string]Result
	errs    map[string]error
	subs    map[string]Callback
	panicOn string
	ctxs    []context.Context
}

func newFakeHandle() fakeHandle {
	return fakeHandle{
		results: map[string]Result{},
		errs:    map[string]error{},
		subs:    map[string]Callback{},
	}
}

func (h *fakeHandle) record(ctx context.Context, method string, args []any, opts Options) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, fakeCall{Method: method, Args: args, Opts: opts})
	h.ctxs = append(h.ctxs, ctx)
	if h.panicOn == method {
		panic("boom")
	}
	return h.errs[method]
}

func (h *fakeHandle) result(method string, fallback Result) Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.results[method]; ok {
		return r
	}
	return fallback
}

func (h *fakeHandle) recorded() []fakeCall {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]fakeCall, len(h.calls))
	copy(out, h.calls)
	return out
}

func (h *fakeHandle) lastCall(t *testing.T) fakeCall {
	t.Helper()
	calls := h.recorded()
	require.NotEmpty(t, calls, "no calls recorded")
	return calls[len(calls)-1]
}

func (h *fakeHandle) subscriber(event string) Callback {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.subs[event]
}

func (h *fakeHandle) Schema(ctx context.Context, opts Options) (any, error) {
	if err := h.record(ctx, MethodSchema, nil, opts); err != nil {
		return nil, err
	}
	return map[string]any{"a": "integer"}, nil
}

func (h *fakeHandle) ComputedSchema(ctx context.Context, args []any, opts Options) (any, error) {
	if err := h.record(ctx, MethodComputedSchema, args, opts); err != nil {
		return nil, err
	}
	return map[string]any{}, nil
}

func (h *fakeHandle) ComputationInputTypes(ctx context.Context, args []any, opts Options) (any, error) {
	if err := h.record(ctx, MethodComputationInputTypes, args, opts); err != nil {
		return nil, err
	}
	return []any{"integer"}, nil
}

func (h *fakeHandle) Export(ctx context.Context, format string, opts Options) (Result, error) {
	method := exportPrefix + format
	if err := h.record(ctx, method, nil, opts); err != nil {
		return Result{}, err
	}
	return h.result(method, ValueResult([]any{})), nil
}

func (h *fakeHandle) Subscribe(ctx context.Context, event string, cb Callback, opts Options) error {
	if err := h.record(ctx, event, nil, opts); err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.subs[event] = cb
	return nil
}

func (h *fakeHandle) Delete(ctx context.Context) error {
	return h.record(ctx, MethodDelete, nil, nil)
}

func (h *fakeHandle) Invoke(ctx context.Context, method string, args []any) (Result, error) {
	if err := h.record(ctx, method, args, nil); err != nil {
		return Result{}, err
	}
	return h.result(method, ValueResult(nil)), nil
}

type fakeView struct {
	fakeHandle
	config Options
}

// fakeUpdatableView accepts update and remove.
type fakeUpdatableView struct {
	*fakeView
}

func (v *fakeUpdatableView) Update(ctx context.Context, data any, opts Options) error {
	return v.record(ctx, MethodUpdate, []any{data}, opts)
}

func (v *fakeUpdatableView) Remove(ctx context.Context, data any, opts Options) error {
	return v.record(ctx, MethodRemove, []any{data}, opts)
}

type fakeTable struct {
	fakeHandle
	data      any
	opts      Options
	updatable bool // views accept update and remove

	viewsMu sync.Mutex
	views   []*fakeView
}

func (t *fakeTable) Update(ctx context.Context, data any, opts Options) error {
	return t.record(ctx, MethodUpdate, []any{data}, opts)
}

func (t *fakeTable) Remove(ctx context.Context, data any, opts Options) error {
	return t.record(ctx, MethodRemove, []any{data}, opts)
}

func (t *fakeTable) Replace(ctx context.Context, data any) error {
	return t.record(ctx, MethodReplace, []any{data}, nil)
}

func (t *fakeTable) Clear(ctx context.Context) error {
	return t.record(ctx, MethodClear, nil, nil)
}

func (t *fakeTable) View(ctx context.Context, config Options) (View, error) {
	if err := t.record(ctx, CmdView, nil, config); err != nil {
		return nil, err
	}
	fv := &fakeView{fakeHandle: newFakeHandle(), config: config}
	t.viewsMu.Lock()
	t.views = append(t.views, fv)
	t.viewsMu.Unlock()
	if t.updatable {
		return &fakeUpdatableView{fakeView: fv}, nil
	}
	return fv, nil
}

func (t *fakeTable) lastView(tb *testing.T) *fakeView {
	tb.Helper()
	t.viewsMu.Lock()
	defer t.viewsMu.Unlock()
	require.NotEmpty(tb, t.views, "no views created")
	return t.views[len(t.views)-1]
}

// fakeEngine creates fakeTables.
type fakeEngine struct {
	mu        sync.Mutex
	tables    []*fakeTable
	err       error
	updatable bool
}

func (e *fakeEngine) NewTable(_ context.Context, data any, opts Options) (Table, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	t := &fakeTable{fakeHandle: newFakeHandle(), data: data, opts: opts, updatable: e.updatable}
	e.tables = append(e.tables, t)
	return t, nil
}

func (e *fakeEngine) last(t *testing.T) *fakeTable {
	t.Helper()
	e.mu.Lock()
	defer e.mu.Unlock()
	require.NotEmpty(t, e.tables, "no tables created")
	return e.tables[len(e.tables)-1]
}

var errFake = errors.New("engine failure")

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testClient = "client-1"

func newTestManager(opts ...ManagerOption) (*Manager, *fakeEngine) {
	e := &fakeEngine{}
	opts = append([]ManagerOption{WithLogger(quietLogger())}, opts...)
	return NewManager(e, opts...), e
}

// send processes raw for testClient.
func send(m *Manager, p Poster, raw string) {
	m.Process(context.Background(), raw, p, testClient)
}

// sendAs processes raw for clientID.
func sendAs(m *Manager, p Poster, clientID, raw string) {
	m.Process(context.Background(), raw, p, clientID)
}
