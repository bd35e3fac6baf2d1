// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tablerpc

import (
	"errors"
	"fmt"
)

// Error types reported in RpcError.Type.
const (
	TypeMalformedMessage   = "MalformedMessage"
	TypeAccessDenied       = "AccessDenied"
	TypeResourceNotFound   = "ResourceNotFound"
	TypeBackendError       = "BackendError"
	TypeSerializationError = "SerializationError"
	TypeInvalidArgument    = "InvalidArgument"

	// TypeRemoteError marks an error response received by a Client. The
	// wire carries only the message text, not the server-side type.
	TypeRemoteError = "RemoteError"
)

// ErrRpc is a sentinel for use with errors.Is to check whether any error in a
// chain is an *RpcError.
var ErrRpc = &RpcError{}

// Sentinels matching an *RpcError of one type. errors.Is(err, ErrAccessDenied)
// is true for any RpcError whose Type is TypeAccessDenied.
var (
	ErrMalformedMessage = &RpcError{Type: TypeMalformedMessage}
	ErrAccessDenied     = &RpcError{Type: TypeAccessDenied}
	ErrResourceNotFound = &RpcError{Type: TypeResourceNotFound}
	ErrBackend          = &RpcError{Type: TypeBackendError}
	ErrSerialization    = &RpcError{Type: TypeSerializationError}
	ErrInvalidArgument  = &RpcError{Type: TypeInvalidArgument}
	ErrRemote           = &RpcError{Type: TypeRemoteError}
)

// ErrHeartbeat is returned by Decode for the keep-alive marker. It is not
// reported to the client.
var ErrHeartbeat = errors.New("tablerpc: heartbeat")

// RpcError represents an error reported to a client.
type RpcError struct {
	Type    string // one of the Type* constants
	Message string
	Err     error // underlying cause, if any
}

func (e *RpcError) Error() string {
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap returns the underlying cause.
func (e *RpcError) Unwrap() error {
	return e.Err
}

// Is supports errors.Is. The ErrRpc sentinel matches any *RpcError; a target
// with a Type matches errors of the same Type.
func (e *RpcError) Is(target error) bool {
	t, ok := target.(*RpcError)
	if !ok {
		return false
	}
	return t.Type == "" || t.Type == e.Type
}

func newError(typ, format string, args ...any) *RpcError {
	return &RpcError{Type: typ, Message: fmt.Sprintf(format, args...)}
}

// asBackendError wraps err as a BackendError unless it already is an
// *RpcError.
func asBackendError(err error) *RpcError {
	var rpcErr *RpcError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	return &RpcError{Type: TypeBackendError, Message: err.Error(), Err: err}
}

// clientMessage returns the text sent to the client for err: the bare
// message for an *RpcError, err.Error() otherwise.
func clientMessage(err error) string {
	var rpcErr *RpcError
	if errors.As(err, &rpcErr) {
		return rpcErr.Message
	}
	return err.Error()
}
