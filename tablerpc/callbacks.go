// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tablerpc

import (
	"encoding/json"
	"sync"
	"sync/atomic"
)

// CallbackRecord is a live subscription registered by a client.
type CallbackRecord struct {
	ClientID   string
	CallbackID string // raw JSON of the client's callback_id
	Name       string // table or view the callback was registered on
	Callback   Callback
}

// callbackRegistry holds CallbackRecords. Callback ids are only unique
// within one client, so removal always goes through a predicate over the
// whole record.
type callbackRegistry struct {
	mu      sync.Mutex
	records []CallbackRecord
}

func (r *callbackRegistry) add(rec CallbackRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
}

// removeWhere removes every record matching pred, closes its callback, and
// returns the number removed.
func (r *callbackRegistry) removeWhere(pred func(CallbackRecord) bool) int {
	r.mu.Lock()
	kept := r.records[:0]
	var removed []CallbackRecord
	for _, rec := range r.records {
		if pred(rec) {
			removed = append(removed, rec)
		} else {
			kept = append(kept, rec)
		}
	}
	clear(r.records[len(kept):])
	r.records = kept
	r.mu.Unlock()

	for _, rec := range removed {
		if c, ok := rec.Callback.(interface{ close() }); ok {
			c.close()
		}
	}
	return len(removed)
}

func (r *callbackRegistry) snapshot() []CallbackRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallbackRecord, len(r.records))
	copy(out, r.records)
	return out
}

func (r *callbackRegistry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// boundCallback is the Callback handed to the engine for an on_* method. It
// captures the subscribing message id and the client's Poster; every
// notification is posted as a response to that id.
type boundCallback struct {
	manager *Manager
	id      json.RawMessage
	poster  Poster
	closed  atomic.Bool
}

func (m *Manager) newCallback(id json.RawMessage, p Poster) *boundCallback {
	return &boundCallback{manager: m, id: id, poster: p}
}

// Invoke posts {"id": id, "data": {"port_id": args[0]}}. A []byte second
// argument is delivered with the binary transfer protocol.
func (c *boundCallback) Invoke(args ...any) {
	if c.closed.Load() {
		return
	}
	var portID any
	if len(args) > 0 {
		portID = args[0]
	}
	msg := dataMessage(c.id, map[string]any{FieldPortID: portID})
	if len(args) > 1 {
		if payload, ok := args[1].([]byte); ok {
			c.manager.postBinary(c.poster, c.id, msg, payload)
			return
		}
	}
	c.manager.post(c.poster, Frame{Data: c.manager.encode(c.id, msg)})
}

// Closed reports whether the subscription was removed.
func (c *boundCallback) Closed() bool {
	return c.closed.Load()
}

func (c *boundCallback) close() {
	c.closed.Store(true)
}
