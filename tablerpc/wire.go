// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tablerpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"time"
)

// nonFiniteMessage replaces the encoder's error text for NaN and infinite
// floats.
const nonFiniteMessage = "Cannot serialize `NaN`, `Infinity` or `-Infinity` to JSON."

var errNonFinite = errors.New(nonFiniteMessage)

// Message is a request decoded from the wire. ID and CallbackID are kept as
// raw JSON so they are echoed back exactly as the client sent them.
type Message struct {
	ID             json.RawMessage `json:"id"`
	Cmd            string          `json:"cmd,omitempty"`
	Name           string          `json:"name,omitempty"`
	TableName      string          `json:"table_name,omitempty"`
	ViewName       string          `json:"view_name,omitempty"`
	Method         string          `json:"method,omitempty"`
	Args           []any           `json:"args,omitempty"`
	Config         map[string]any  `json:"config,omitempty"`
	Options        map[string]any  `json:"options,omitempty"`
	Subscribe      bool            `json:"subscribe,omitempty"`
	CallbackID     json.RawMessage `json:"callback_id,omitempty"`
	IsTransferable bool            `json:"is_transferable,omitempty"`
}

// Label returns "cmd" or "cmd.method", used in access denied errors.
func (m *Message) Label() string {
	if m.Method == "" {
		return m.Cmd
	}
	return m.Cmd + "." + m.Method
}

// HasCallbackID reports whether the message carries a non-null callback_id.
func (m *Message) HasCallbackID() bool {
	return len(m.CallbackID) > 0 && string(m.CallbackID) != "null"
}

// Decode parses a wire message. raw may be a JSON string or []byte, a
// map[string]any, or an already decoded *Message. The heartbeat marker
// yields ErrHeartbeat. A message that names no command, or whose fields
// have the wrong JSON types, is returned (with at least its id) together
// with a MalformedMessage error so the caller can still correlate a
// response.
func Decode(raw any) (*Message, error) {
	var data []byte
	switch v := raw.(type) {
	case *Message:
		if v == nil {
			return nil, newError(TypeMalformedMessage, "message is nil")
		}
		return v, checkCommand(v)
	case string:
		if v == HeartbeatMarker {
			return nil, ErrHeartbeat
		}
		data = []byte(v)
	case []byte:
		if string(v) == HeartbeatMarker {
			return nil, ErrHeartbeat
		}
		data = v
	case map[string]any:
		b, err := json.Marshal(v)
		if err != nil {
			return nil, &RpcError{Type: TypeMalformedMessage, Message: err.Error(), Err: err}
		}
		data = b
	default:
		return nil, newError(TypeMalformedMessage,
			"Message should either be a JSON-serialized string or a key-value object, got %T", raw)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		rpcErr := &RpcError{
			Type:    TypeMalformedMessage,
			Message: fmt.Sprintf("Message is not a valid JSON object: %v", err),
			Err:     err,
		}
		// Keep the id of an object whose other fields are mistyped so the
		// error response stays correlated.
		var head struct {
			ID json.RawMessage `json:"id"`
		}
		if json.Unmarshal(data, &head) == nil && len(head.ID) > 0 {
			return &Message{ID: head.ID}, rpcErr
		}
		return nil, rpcErr
	}
	return &msg, checkCommand(&msg)
}

func checkCommand(msg *Message) error {
	if msg.Cmd == "" {
		return newError(TypeMalformedMessage, "Message has no `cmd` field")
	}
	return nil
}

// ToTimestamp converts t to milliseconds since the Unix epoch. Engines use
// the same conversion for datetime columns so both ends agree on instants.
func ToTimestamp(t time.Time) int64 {
	return t.UnixMilli()
}

// FromTimestamp converts milliseconds since the Unix epoch to a UTC time.
func FromTimestamp(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Encode serializes v as JSON. time.Time values found in maps, slices and
// pointers are written as milliseconds since the epoch; NaN and infinite
// floats fail with a SerializationError.
func Encode(v any) ([]byte, error) {
	normalized, err := normalizeValue(reflect.ValueOf(v))
	if err != nil {
		return nil, serializationError(err)
	}
	data, err := json.Marshal(normalized)
	if err != nil {
		return nil, serializationError(err)
	}
	return data, nil
}

// serializationError builds the client-facing error for an encoding
// failure, clarifying the common non-finite float case.
func serializationError(err error) *RpcError {
	text := err.Error()
	var unsupported *json.UnsupportedValueError
	if errors.Is(err, errNonFinite) || (errors.As(err, &unsupported) &&
		(strings.Contains(text, "NaN") || strings.Contains(text, "Inf"))) {
		text = nonFiniteMessage
	}
	return &RpcError{
		Type:    TypeSerializationError,
		Message: "JSON serialization error: " + text,
		Err:     err,
	}
}

var (
	timeType    = reflect.TypeOf(time.Time{})
	rawJSONType = reflect.TypeOf(json.RawMessage(nil))
)

// normalizeValue rewrites v into plain maps and slices with timestamps
// converted and floats checked. Structs are passed through unchanged.
func normalizeValue(rv reflect.Value) (any, error) {
	if !rv.IsValid() {
		return nil, nil
	}

	switch rv.Type() {
	case timeType:
		return ToTimestamp(rv.Interface().(time.Time)), nil
	case rawJSONType:
		return rv.Interface(), nil
	}

	switch rv.Kind() {
	case reflect.Interface, reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return normalizeValue(rv.Elem())
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, errNonFinite
		}
		return rv.Interface(), nil
	case reflect.Map:
		if rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Key().Kind() != reflect.String {
			return rv.Interface(), nil
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			val, err := normalizeValue(iter.Value())
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = val
		}
		return out, nil
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return rv.Interface(), nil
		}
		out := make([]any, rv.Len())
		for i := range rv.Len() {
			val, err := normalizeValue(rv.Index(i))
			if err != nil {
				return nil, err
			}
			out[i] = val
		}
		return out, nil
	default:
		return rv.Interface(), nil
	}
}

// dataMessage builds a success response.
func dataMessage(id json.RawMessage, data any) map[string]any {
	return map[string]any{FieldID: id, FieldData: data}
}

// errorMessage builds an error response.
func errorMessage(id json.RawMessage, text string) map[string]any {
	return map[string]any{FieldID: id, FieldError: text}
}
