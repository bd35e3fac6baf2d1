// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tablerpc

import "context"

// CallContext provides message-scoped information to engine methods.
type CallContext struct {
	// ClientID identifies the session that sent the message.
	ClientID string
	// MessageID is the raw JSON id of the message, echoed in its responses.
	MessageID string
	// ServerID is the server identifier set via [WithServerID].
	ServerID string
	// Command is the cmd field of the message.
	Command string
	// Method is the method field, empty for init, table and view.
	Method string
}

type callContextKey struct{}

func withCallContext(ctx context.Context, cc *CallContext) context.Context {
	return context.WithValue(ctx, callContextKey{}, cc)
}

// CallContextFrom returns the CallContext of the message being dispatched.
// Engines receive it through the ctx passed to every Handle method.
func CallContextFrom(ctx context.Context) (*CallContext, bool) {
	cc, ok := ctx.Value(callContextKey{}).(*CallContext)
	return cc, ok
}
