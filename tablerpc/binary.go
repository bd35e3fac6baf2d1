// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tablerpc

import (
	"encoding/json"
	"sync"
)

// Frame is one transport frame: JSON text, or raw bytes when Binary is set.
type Frame struct {
	Data   []byte
	Binary bool
}

// Poster delivers frames to one client. Post must deliver all of its frames
// in order without interleaving frames from concurrent Post calls, and must
// be safe to call from any goroutine: engine callbacks post out of band.
type Poster interface {
	Post(frames ...Frame) error
}

// PostFunc sends a single frame.
type PostFunc func(data []byte, binary bool) error

// SerialPoster adapts fn into a Poster that serializes Post calls with a
// mutex.
func SerialPoster(fn PostFunc) Poster {
	return &serialPoster{fn: fn}
}

type serialPoster struct {
	mu sync.Mutex
	fn PostFunc
}

func (p *serialPoster) Post(frames ...Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, f := range frames {
		if err := p.fn(f.Data, f.Binary); err != nil {
			return err
		}
	}
	return nil
}

// countingPoster records posted frames into per-call statistics.
type countingPoster struct {
	Poster
	stats *CallStatistics
}

func (p *countingPoster) Post(frames ...Frame) error {
	for _, f := range frames {
		p.stats.RecordFrame(f)
	}
	return p.Poster.Post(frames...)
}

// binaryFrames builds the two-frame delivery for a binary payload: the
// announcement with is_transferable set, then the raw bytes.
func (m *Manager) binaryFrames(id json.RawMessage, announce any, payload []byte) []Frame {
	switch a := announce.(type) {
	case *Message:
		marked := *a
		marked.IsTransferable = true
		announce = &marked
	case map[string]any:
		a[FieldIsTransferable] = true
	}
	return []Frame{
		{Data: m.encode(id, announce)},
		{Data: payload, Binary: true},
	}
}

// postBinary delivers a binary payload with the two-frame protocol.
func (m *Manager) postBinary(p Poster, id json.RawMessage, announce any, payload []byte) {
	m.post(p, m.binaryFrames(id, announce, payload)...)
}
