// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tablerpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	raw := `{"id":12,"cmd":"view_method","name":"v","method":"on_update","args":[{"mode":"row"}],"subscribe":true,"callback_id":"cb-1"}`

	for name, input := range map[string]any{
		"string": raw,
		"bytes":  []byte(raw),
		"map": map[string]any{
			"id": 12, "cmd": "view_method", "name": "v", "method": "on_update",
			"args": []any{map[string]any{"mode": "row"}}, "subscribe": true, "callback_id": "cb-1",
		},
	} {
		t.Run(name, func(t *testing.T) {
			msg, err := Decode(input)
			require.NoError(t, err)
			assert.Equal(t, "12", string(msg.ID))
			assert.Equal(t, CmdViewMethod, msg.Cmd)
			assert.Equal(t, "v", msg.Name)
			assert.Equal(t, MethodOnUpdate, msg.Method)
			assert.Equal(t, []any{map[string]any{"mode": "row"}}, msg.Args)
			assert.True(t, msg.Subscribe)
			assert.True(t, msg.HasCallbackID())
			assert.Equal(t, `"cb-1"`, string(msg.CallbackID))
			assert.Equal(t, "view_method.on_update", msg.Label())
		})
	}
}

func TestDecode_Errors(t *testing.T) {
	_, err := Decode(HeartbeatMarker)
	assert.ErrorIs(t, err, ErrHeartbeat)

	_, err = Decode(3.5)
	assert.ErrorIs(t, err, ErrMalformedMessage)

	_, err = Decode(`[1,2]`)
	assert.ErrorIs(t, err, ErrMalformedMessage)

	msg, err := Decode(`{"id":4,"name":"x"}`)
	assert.ErrorIs(t, err, ErrMalformedMessage)
	require.NotNil(t, msg)
	assert.Equal(t, "4", string(msg.ID))

	msg, err = Decode(`{"id":"req-7","cmd":"view","config":[]}`)
	assert.ErrorIs(t, err, ErrMalformedMessage)
	require.NotNil(t, msg, "mistyped fields keep the id")
	assert.Equal(t, `"req-7"`, string(msg.ID))

	_, err = Decode((*Message)(nil))
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestHasCallbackID(t *testing.T) {
	assert.False(t, (&Message{}).HasCallbackID())
	assert.False(t, (&Message{CallbackID: json.RawMessage("null")}).HasCallbackID())
	assert.True(t, (&Message{CallbackID: json.RawMessage("0")}).HasCallbackID())
}

func TestEncode(t *testing.T) {
	type row struct {
		Name string `json:"name"`
	}
	at := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	v := map[string]any{
		"id":    json.RawMessage(`"abc"`),
		"when":  at,
		"ptr":   &at,
		"list":  []any{1, 2.5, "x", nil, []time.Time{at}},
		"bytes": []byte("hi"),
		"ints":  map[int]string{1: "one"},
		"row":   row{Name: "r"},
		"nil":   map[string]any(nil),
	}

	data, err := Encode(v)
	require.NoError(t, err)
	newGolden(t).Assert(t, "encode_values", data)
}

func TestEncode_NonFinite(t *testing.T) {
	for _, f := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		t.Run(fmt.Sprint(f), func(t *testing.T) {
			_, err := Encode(map[string]any{"data": []any{f}})
			require.ErrorIs(t, err, ErrSerialization)
			assert.Equal(t, "JSON serialization error: "+nonFiniteMessage, clientMessage(err))
		})
	}

	_, err := Encode(map[string]float32{"x": float32(math.Inf(1))})
	assert.ErrorIs(t, err, ErrSerialization)
}

func TestEncode_UnsupportedValue(t *testing.T) {
	_, err := Encode(map[string]any{"ch": make(chan int)})

	require.ErrorIs(t, err, ErrSerialization)
	assert.Contains(t, clientMessage(err), "JSON serialization error: ")
}

func TestTimestamps(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 30, 0, 123_000_000, time.FixedZone("x", 3600))

	ms := ToTimestamp(at)

	assert.Equal(t, int64(1709292600123), ms)
	assert.True(t, FromTimestamp(ms).Equal(at))
	assert.Equal(t, time.UTC, FromTimestamp(ms).Location())
}

func TestRpcError(t *testing.T) {
	err := newError(TypeAccessDenied, "`%s` failed", "table")

	assert.Equal(t, "AccessDenied: `table` failed", err.Error())
	assert.ErrorIs(t, err, ErrAccessDenied)
	assert.ErrorIs(t, err, ErrRpc)
	assert.NotErrorIs(t, err, ErrBackend)

	wrapped := fmt.Errorf("outer: %w", err)
	assert.Equal(t, "`table` failed", clientMessage(wrapped))
	assert.Same(t, err, asBackendError(wrapped))

	backend := asBackendError(errFake)
	assert.ErrorIs(t, backend, ErrBackend)
	assert.ErrorIs(t, backend, errFake)
	assert.Equal(t, "engine failure", clientMessage(backend))
	assert.Equal(t, "plain", clientMessage(errors.New("plain")))
}
