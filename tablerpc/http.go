// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tablerpc

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/klauspost/compress/gzhttp"
)

const (
	// DefaultPrefix is the URL prefix used when NewHttpServer gets "".
	DefaultPrefix = "/tablerpc"
	// DefaultReadLimit bounds the size of one inbound WebSocket message.
	DefaultReadLimit = 32 << 20

	writeTimeout = 10 * time.Second
)

// HttpServer serves a Manager over WebSocket. Each connection is one
// Session: text frames are dispatched in order, and responses and
// notifications are written back as text or binary frames.
//
// Routes, relative to the prefix:
//
//	GET /ws        WebSocket endpoint
//	GET /describe  JSON snapshot of the registries
//	GET /          HTML landing page
type HttpServer struct {
	manager        *Manager
	prefix         string
	readLimit      int64
	originPatterns []string
	router         chi.Router
}

// NewHttpServer creates an HTTP server for m mounted under prefix.
func NewHttpServer(m *Manager, prefix string) *HttpServer {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	h := &HttpServer{
		manager:   m,
		prefix:    prefix,
		readLimit: DefaultReadLimit,
	}

	r := chi.NewRouter()
	r.Route(prefix, func(r chi.Router) {
		r.Get("/ws", h.handleWebSocket)
		r.With(gzipMiddleware).Get("/describe", h.handleDescribe)
		r.With(gzipMiddleware).Get("/", h.handleLandingPage)
	})
	r.NotFound(h.handleNotFound)
	h.router = r
	return h
}

// SetReadLimit sets the maximum size in bytes of one inbound message.
func (h *HttpServer) SetReadLimit(n int64) {
	h.readLimit = n
}

// SetOriginPatterns sets the host patterns allowed to open cross-origin
// WebSocket connections. Same-origin connections are always accepted.
func (h *HttpServer) SetOriginPatterns(patterns []string) {
	h.originPatterns = patterns
}

// ServeHTTP implements http.Handler.
func (h *HttpServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func gzipMiddleware(next http.Handler) http.Handler {
	return gzhttp.GzipHandler(next)
}

// handleWebSocket runs one client session until the connection closes.
func (h *HttpServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.manager.logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(h.readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	poster := SerialPoster(func(data []byte, binary bool) error {
		typ := websocket.MessageText
		if binary {
			typ = websocket.MessageBinary
		}
		writeCtx, cancelWrite := context.WithTimeout(ctx, writeTimeout)
		defer cancelWrite()
		return conn.Write(writeCtx, typ, data)
	})

	session := h.manager.NewSession(poster, "")
	logger := h.manager.logger.With("client_id", session.ClientID())
	logger.Debug("client connected", "remote", r.RemoteAddr)

	defer func() {
		// The request context is already cancelled here.
		if err := session.Close(context.Background()); err != nil {
			logger.Warn("session close failed", "err", err)
		}
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			switch websocket.CloseStatus(err) {
			case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				logger.Debug("client disconnected")
			default:
				if errors.Is(err, context.Canceled) {
					logger.Debug("client disconnected")
				} else {
					logger.Warn("websocket read failed", "err", err)
				}
			}
			return
		}
		if typ == websocket.MessageBinary {
			session.Process(ctx, data)
			continue
		}
		session.Process(ctx, string(data))
	}
}

func (h *HttpServer) handleDescribe(w http.ResponseWriter, r *http.Request) {
	data, err := Encode(h.manager.Describe(r.Context()))
	if err != nil {
		http.Error(w, clientMessage(err), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}
