// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tablerpc

import (
	"context"
)

// DispatchHook provides observability callpoints around message dispatch.
// Implementations must be safe for concurrent use (sessions dispatch
// concurrently).
type DispatchHook interface {
	OnDispatchStart(ctx context.Context, info DispatchInfo) (context.Context, HookToken)
	OnDispatchEnd(ctx context.Context, token HookToken, info DispatchInfo, stats *CallStatistics, err error)
}

// HookToken is an opaque value returned by OnDispatchStart and passed back to
// OnDispatchEnd. Only meaningful to the DispatchHook that created it.
type HookToken interface{}

// DispatchInfo carries message metadata passed to hooks.
type DispatchInfo struct {
	Command   string // cmd field
	Method    string // method field, empty for init/table/view
	Resource  string // table or view name addressed by the message
	ClientID  string // session client identifier
	MessageID string // raw JSON id
	ServerID  string // Manager server identifier
}

// Label returns "cmd" or "cmd.method".
func (i DispatchInfo) Label() string {
	if i.Method == "" {
		return i.Command
	}
	return i.Command + "." + i.Method
}

// CallStatistics holds per-message output counters.
type CallStatistics struct {
	Frames       int64
	Bytes        int64
	BinaryFrames int64
	BinaryBytes  int64
}

// RecordFrame records one posted frame.
func (s *CallStatistics) RecordFrame(f Frame) {
	s.Frames++
	s.Bytes += int64(len(f.Data))
	if f.Binary {
		s.BinaryFrames++
		s.BinaryBytes += int64(len(f.Data))
	}
}

func dispatchInfo(msg *Message, clientID, serverID string) DispatchInfo {
	info := DispatchInfo{
		Command:   msg.Cmd,
		Method:    msg.Method,
		ClientID:  clientID,
		MessageID: string(msg.ID),
		ServerID:  serverID,
	}
	switch msg.Cmd {
	case CmdTable:
		info.Resource = msg.Name
	case CmdView:
		info.Resource = msg.ViewName
	default:
		info.Resource = msg.Name
	}
	return info
}
