// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

// Package tablerpc implements the session-level dispatcher for a remote
// table engine. Clients send JSON messages that create named tables and
// views, call methods on them, and subscribe to change notifications; the
// [Manager] routes each message to the engine and posts results back
// through a [Poster].
//
// # Messages
//
// A request is a JSON object:
//
//	{"id": 1, "cmd": "view_method", "name": "v", "method": "to_json", "args": []}
//
// Commands are init, table, view, table_method and view_method. Every
// request produces a correlated response, either {"id": ..., "data": ...}
// or {"id": ..., "error": "..."}. The two exceptions are the "heartbeat"
// marker, which is ignored, and subscribe messages that register no
// callback.
//
// Date and time values in results are encoded as milliseconds since the
// epoch (see [ToTimestamp]). NaN and infinite floats cannot be encoded; a
// result containing one is replaced by an error response for the same id.
//
// # Engine
//
// The dispatcher does not store data. It calls an [Engine] to create
// tables, and the [Table] and [View] capability interfaces for
// everything else. Engine methods return a [Result] whose Kind tells the
// dispatcher whether the value is JSON-encodable or a raw binary payload.
// The memtable package provides an Arrow-backed implementation.
//
// # Binary results
//
// Binary payloads (for example Arrow IPC streams from to_arrow) are sent
// as two frames: a JSON announcement carrying "is_transferable": true,
// followed by the raw bytes as a binary frame. [Poster.Post] delivers both
// frames back to back so the client can pair them.
//
// # Locking
//
// A Manager created with [WithLock] rejects table creation and the
// mutating methods update, remove, replace and clear, as well as table
// delete. Deleting a view is always allowed.
//
// # Transports
//
// [HttpServer] serves a Manager over websocket: each connection becomes a
// [Session] whose views and callbacks are released when it closes.
// [Client] speaks the same protocol from Go.
package tablerpc
