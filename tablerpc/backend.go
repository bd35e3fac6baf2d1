// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tablerpc

import "context"

// Options is a set of keyword arguments passed to an engine method.
type Options map[string]any

// Merge copies every entry of other into o, overwriting existing keys.
func (o Options) Merge(other map[string]any) {
	for k, v := range other {
		o[k] = v
	}
}

// Bool returns the boolean value of key, or false.
func (o Options) Bool(key string) bool {
	v, _ := o[key].(bool)
	return v
}

// String returns the string value of key, or "".
func (o Options) String(key string) string {
	v, _ := o[key].(string)
	return v
}

// ResultKind says how a Result must be delivered.
type ResultKind int

const (
	// ResultValue is a JSON-encodable value, delivered as {"id", "data"}.
	ResultValue ResultKind = iota
	// ResultBinary is a raw byte payload, delivered with the binary
	// transfer protocol.
	ResultBinary
)

// Result is the value returned by an engine method.
type Result struct {
	Kind   ResultKind
	Value  any    // set when Kind is ResultValue
	Binary []byte // set when Kind is ResultBinary
}

// ValueResult wraps a JSON-encodable value.
func ValueResult(v any) Result {
	return Result{Kind: ResultValue, Value: v}
}

// BinaryResult wraps a binary payload.
func BinaryResult(b []byte) Result {
	return Result{Kind: ResultBinary, Binary: b}
}

// Callback receives change notifications from the engine. The engine calls
// Invoke from any goroutine; the first argument is the port id and an
// optional second argument is a binary payload. Closed reports whether the
// subscription was removed, in which case the engine may drop it.
type Callback interface {
	Invoke(args ...any)
	Closed() bool
}

// Handle is the method surface shared by tables and views.
type Handle interface {
	// Schema returns the column types. asString requests type names
	// rather than engine-native type values.
	Schema(ctx context.Context, opts Options) (any, error)
	// ComputedSchema returns the schema of computed column expressions.
	ComputedSchema(ctx context.Context, args []any, opts Options) (any, error)
	// ComputationInputTypes returns the input types a computation accepts.
	ComputationInputTypes(ctx context.Context, args []any, opts Options) (any, error)
	// Export implements the to_* methods; format is the method name
	// without the "to_" prefix.
	Export(ctx context.Context, format string, opts Options) (Result, error)
	// Subscribe registers cb for an on_* event (for example "on_update").
	Subscribe(ctx context.Context, event string, cb Callback, opts Options) error
	// Delete releases the handle.
	Delete(ctx context.Context) error
	// Invoke calls any other method by name with positional arguments.
	Invoke(ctx context.Context, method string, args []any) (Result, error)
}

// Table is a named dataset owned by the engine.
type Table interface {
	Handle
	Update(ctx context.Context, data any, opts Options) error
	Remove(ctx context.Context, data any, opts Options) error
	Replace(ctx context.Context, data any) error
	Clear(ctx context.Context) error
	// View creates a derived view from a view configuration.
	View(ctx context.Context, config Options) (View, error)
}

// View is a derived projection of a table.
type View interface {
	Handle
}

// Engine creates tables. data is a schema or row data, or nil for an empty
// table.
type Engine interface {
	NewTable(ctx context.Context, data any, opts Options) (Table, error)
}

// Updater is implemented by views whose engine accepts update and remove on
// views as well as tables.
type Updater interface {
	Update(ctx context.Context, data any, opts Options) error
	Remove(ctx context.Context, data any, opts Options) error
}
