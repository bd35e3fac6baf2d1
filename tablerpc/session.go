// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tablerpc

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Session binds one client connection to a Manager. Every message processed
// through it is tagged with the session's client id, and Close releases the
// views and callbacks the client created.
type Session struct {
	manager  *Manager
	clientID string
	poster   Poster

	closeOnce sync.Once
	closeErr  error
}

// NewSession creates a session posting responses through p. An empty
// clientID is replaced with a random UUID.
func (m *Manager) NewSession(p Poster, clientID string) *Session {
	if clientID == "" {
		clientID = uuid.NewString()
	}
	return &Session{manager: m, clientID: clientID, poster: p}
}

// ClientID returns the session's client identifier.
func (s *Session) ClientID() string {
	return s.clientID
}

// Process dispatches one raw message for this session.
func (s *Session) Process(ctx context.Context, raw any) {
	s.manager.Process(ctx, raw, s.poster, s.clientID)
}

// Close deletes the session's views and removes its callbacks. It is safe
// to call more than once.
func (s *Session) Close(ctx context.Context) error {
	s.closeOnce.Do(func() {
		_, s.closeErr = s.manager.ClearViews(ctx, s.clientID)
		n := s.manager.RemoveCallbacks(func(rec CallbackRecord) bool {
			return rec.ClientID == s.clientID
		})
		s.manager.logger.Debug("session closed", "client_id", s.clientID, "callbacks", n)
	})
	return s.closeErr
}
