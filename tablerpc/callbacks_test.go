// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tablerpc

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscribe_OnUpdate(t *testing.T) {
	m, _ := newTestManager()
	_, fv := hostFakes(m)
	p := &recordingPoster{}

	send(m, p, `{"id":5,"cmd":"view_method","name":"v","method":"on_update","subscribe":true,"callback_id":11}`)

	assert.Empty(t, p.snapshot(), "a subscription has no direct response")
	assert.Equal(t, fakeCall{Method: MethodOnUpdate, Opts: Options{OptionMode: DefaultUpdateMode}}, fv.lastCall(t))

	recs := m.Callbacks()
	require.Len(t, recs, 1)
	assert.Equal(t, testClient, recs[0].ClientID)
	assert.Equal(t, "11", recs[0].CallbackID)
	assert.Equal(t, "v", recs[0].Name)

	cb := fv.subscriber(MethodOnUpdate)
	require.NotNil(t, cb)
	cb.Invoke(int64(7))
	assert.Equal(t, []string{`{"data":{"port_id":7},"id":5}`}, p.texts())
}

func TestSubscribe_OnUpdateRowMode(t *testing.T) {
	m, _ := newTestManager()
	_, fv := hostFakes(m)
	p := &recordingPoster{}

	send(m, p, `{"id":5,"cmd":"view_method","name":"v","method":"on_update","args":[{"mode":"row"}],"subscribe":true,"callback_id":11}`)
	assert.Equal(t, Options{OptionMode: "row"}, fv.lastCall(t).Opts)

	fv.subscriber(MethodOnUpdate).Invoke(int64(0), []byte{9, 9})

	frames := p.snapshot()
	require.Len(t, frames, 2)
	assert.Equal(t, `{"data":{"port_id":0},"id":5,"is_transferable":true}`, string(frames[0].Data))
	assert.Equal(t, Frame{Data: []byte{9, 9}, Binary: true}, frames[1])
}

func TestSubscribe_OnDeleteHasNoOptions(t *testing.T) {
	m, _ := newTestManager()
	ft, _ := hostFakes(m)
	p := &recordingPoster{}

	send(m, p, `{"id":6,"cmd":"table_method","name":"t","method":"on_delete","subscribe":true,"callback_id":"cb"}`)

	assert.Equal(t, fakeCall{Method: "on_delete", Opts: Options{}}, ft.lastCall(t))
	ft.subscriber("on_delete").Invoke()
	assert.Equal(t, []string{`{"data":{"port_id":null},"id":6}`}, p.texts())
	assert.Equal(t, `"cb"`, m.Callbacks()[0].CallbackID)
}

func TestSubscribe_WithoutCallbackIDIsNotRecorded(t *testing.T) {
	m, _ := newTestManager()
	_, fv := hostFakes(m)
	p := &recordingPoster{}

	send(m, p, `{"id":5,"cmd":"view_method","name":"v","method":"on_update","subscribe":true}`)

	assert.Empty(t, m.Callbacks())
	require.NotNil(t, fv.subscriber(MethodOnUpdate))
}

func TestSubscribe_EngineErrorRemovesRecord(t *testing.T) {
	m, _ := newTestManager()
	_, fv := hostFakes(m)
	fv.errs[MethodOnUpdate] = errFake
	p := &recordingPoster{}

	send(m, p, `{"id":5,"cmd":"view_method","name":"v","method":"on_update","subscribe":true,"callback_id":11}`)

	assert.Equal(t, []string{`{"error":"engine failure","id":5}`}, p.texts())
	assert.Empty(t, m.Callbacks())
}

func TestSubscribe_BadOptionsRemovesRecord(t *testing.T) {
	m, _ := newTestManager()
	_, fv := hostFakes(m)
	p := &recordingPoster{}

	send(m, p, `{"id":5,"cmd":"view_method","name":"v","method":"on_update","args":["row"],"subscribe":true,"callback_id":11}`)

	assert.Equal(t, "Options for `on_update` must be an object, got string", p.lastText(t)["error"])
	assert.Empty(t, m.Callbacks())
	assert.Empty(t, fv.recorded())
}

func TestUnsubscribe(t *testing.T) {
	m, _ := newTestManager()
	_, fv := hostFakes(m)
	other := &fakeView{fakeHandle: newFakeHandle()}
	m.HostView("w", other)
	p := &recordingPoster{}

	send(m, p, `{"id":1,"cmd":"view_method","name":"v","method":"on_update","subscribe":true,"callback_id":11}`)
	send(m, p, `{"id":2,"cmd":"view_method","name":"w","method":"on_update","subscribe":true,"callback_id":11}`)
	sendAs(m, p, "other-client", `{"id":1,"cmd":"view_method","name":"v","method":"on_delete","subscribe":true,"callback_id":11}`)
	require.Len(t, m.Callbacks(), 3)
	cb := fv.subscriber(MethodOnUpdate)

	send(m, p, `{"id":3,"cmd":"view_method","name":"v","method":"remove_update","subscribe":true,"callback_id":11}`)

	assert.Empty(t, p.snapshot(), "unsubscribe has no response")
	recs := m.Callbacks()
	require.Len(t, recs, 2)
	for _, rec := range recs {
		assert.False(t, rec.ClientID == testClient && rec.Name == "v")
	}
	assert.True(t, cb.Closed())

	cb.Invoke(int64(1))
	assert.Empty(t, p.snapshot(), "closed callbacks do not post")

	// remove_update never reaches the engine.
	assert.Len(t, fv.recorded(), 2)
}

func TestUnsubscribe_UnknownCallbackID(t *testing.T) {
	m, _ := newTestManager()
	_, fv := hostFakes(m)
	p := &recordingPoster{}

	send(m, p, `{"id":3,"cmd":"view_method","name":"v","method":"remove_update","subscribe":true,"callback_id":99}`)
	send(m, p, `{"id":4,"cmd":"view_method","name":"v","method":"remove_delete","subscribe":true}`)

	assert.Empty(t, p.snapshot())
	assert.Empty(t, fv.recorded())
}

func TestRemoveCallbacks(t *testing.T) {
	m, _ := newTestManager()
	hostFakes(m)
	p := &recordingPoster{}

	send(m, p, `{"id":1,"cmd":"view_method","name":"v","method":"on_update","subscribe":true,"callback_id":1}`)
	send(m, p, `{"id":2,"cmd":"table_method","name":"t","method":"on_update","subscribe":true,"callback_id":2}`)

	n := m.RemoveCallbacks(func(rec CallbackRecord) bool { return rec.Name == "t" })

	assert.Equal(t, 1, n)
	recs := m.Callbacks()
	require.Len(t, recs, 1)
	assert.Equal(t, "v", recs[0].Name)
}

func TestSession_Close(t *testing.T) {
	m, _ := newTestManager()
	hostFakes(m)
	p := &recordingPoster{}
	s := m.NewSession(p, "")
	require.NotEmpty(t, s.ClientID())

	ctx := context.Background()
	s.Process(ctx, `{"id":1,"cmd":"view","table_name":"t","view_name":"mine"}`)
	s.Process(ctx, `{"id":2,"cmd":"view_method","name":"mine","method":"on_update","subscribe":true,"callback_id":1}`)
	send(m, p, `{"id":3,"cmd":"view_method","name":"v","method":"on_update","subscribe":true,"callback_id":1}`)
	require.Len(t, m.Callbacks(), 2)

	require.NoError(t, s.Close(ctx))
	require.NoError(t, s.Close(ctx))

	_, ok := m.GetView("mine")
	assert.False(t, ok)
	_, ok = m.GetView("v")
	assert.True(t, ok)
	recs := m.Callbacks()
	require.Len(t, recs, 1)
	assert.Equal(t, testClient, recs[0].ClientID)
}
