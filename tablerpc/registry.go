// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tablerpc

import (
	"sort"
	"sync"
)

// registry is a name-keyed map safe for concurrent use. Registering an
// existing name replaces the previous entry.
type registry[T any] struct {
	mu      sync.RWMutex
	entries map[string]T
}

func newRegistry[T any]() *registry[T] {
	return &registry[T]{entries: make(map[string]T)}
}

func (r *registry[T]) set(name string, v T) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[name] = v
}

func (r *registry[T]) get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[name]
	return v, ok
}

// pop removes and returns the entry for name.
func (r *registry[T]) pop(name string) (T, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.entries[name]
	if ok {
		delete(r.entries, name)
	}
	return v, ok
}

// popWhere removes every entry matching pred and returns them keyed by name.
func (r *registry[T]) popWhere(pred func(name string, v T) bool) map[string]T {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := make(map[string]T)
	for name, v := range r.entries {
		if pred(name, v) {
			removed[name] = v
			delete(r.entries, name)
		}
	}
	return removed
}

// names returns the registered names in sorted order.
func (r *registry[T]) names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *registry[T]) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// viewEntry is a registered view tagged with the client that created it.
// Views hosted by the server have an empty ClientID.
type viewEntry struct {
	View     View
	ClientID string
}
