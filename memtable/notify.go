// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package memtable

import (
	"fmt"
	"sync"

	"github.com/Query-farm/tablerpc/tablerpc"
	"github.com/sourcegraph/conc"
)

// Update notification modes.
const (
	ModeNone = "none" // callback receives (port_id)
	ModeRow  = "row"  // callback receives (port_id, arrow bytes of changed rows)
)

type subscription struct {
	cb   tablerpc.Callback
	mode string
}

// subscribers is a callback list that drops closed callbacks lazily.
type subscribers struct {
	mu   sync.Mutex
	subs []subscription
}

func (s *subscribers) add(sub subscription) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = append(s.subs, sub)
}

// live prunes closed callbacks and returns the rest.
func (s *subscribers) live() []subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.subs[:0]
	for _, sub := range s.subs {
		if !sub.cb.Closed() {
			kept = append(kept, sub)
		}
	}
	clear(s.subs[len(kept):])
	s.subs = kept
	out := make([]subscription, len(kept))
	copy(out, kept)
	return out
}

func (s *subscribers) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs = nil
}

// subscribe registers cb on the update or delete list for event.
func subscribe(event string, cb tablerpc.Callback, opts tablerpc.Options, onUpdate, onDelete *subscribers) error {
	switch event {
	case "on_update":
		mode := opts.String(tablerpc.OptionMode)
		if mode == "" {
			mode = ModeNone
		}
		if mode != ModeNone && mode != ModeRow {
			return fmt.Errorf("unknown update mode %q", mode)
		}
		onUpdate.add(subscription{cb: cb, mode: mode})
	case "on_delete":
		onDelete.add(subscription{cb: cb})
	default:
		return fmt.Errorf("unknown event `%s`", event)
	}
	return nil
}

// updateCalls builds one notification per subscriber. delta is computed
// at most once, and only if some subscriber asked for rows.
func updateCalls(subs []subscription, port int64, delta func() ([]byte, error), onErr func(error)) []func() {
	calls := make([]func(), 0, len(subs))
	for _, sub := range subs {
		calls = append(calls, func() {
			if sub.mode != ModeRow {
				sub.cb.Invoke(port)
				return
			}
			b, err := delta()
			if err != nil {
				onErr(err)
				sub.cb.Invoke(port)
				return
			}
			sub.cb.Invoke(port, b)
		})
	}
	return calls
}

func deleteCalls(subs []subscription) []func() {
	calls := make([]func(), 0, len(subs))
	for _, sub := range subs {
		calls = append(calls, func() { sub.cb.Invoke() })
	}
	return calls
}

// fanOut runs every call concurrently and waits for all of them. A panic
// in a callback is re-raised here.
func fanOut(calls []func()) {
	var wg conc.WaitGroup
	for _, call := range calls {
		wg.Go(call)
	}
	wg.Wait()
}
