// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tablerpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInvoke_TableMethods(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want fakeCall
	}{
		{
			name: "schema ignores args and asks for strings",
			msg:  `{"id":1,"cmd":"table_method","name":"t","method":"schema","args":[false]}`,
			want: fakeCall{Method: MethodSchema, Opts: Options{OptionAsString: true}},
		},
		{
			name: "computed_schema passes args",
			msg:  `{"id":1,"cmd":"table_method","name":"t","method":"computed_schema","args":[["x"]]}`,
			want: fakeCall{Method: MethodComputedSchema, Args: []any{[]any{"x"}}, Opts: Options{OptionAsString: true}},
		},
		{
			name: "get_computation_input_types passes args",
			msg:  `{"id":1,"cmd":"table_method","name":"t","method":"get_computation_input_types","args":["abs"]}`,
			want: fakeCall{Method: MethodComputationInputTypes, Args: []any{"abs"}, Opts: Options{OptionAsString: true}},
		},
		{
			name: "update with options",
			msg:  `{"id":1,"cmd":"table_method","name":"t","method":"update","args":[[{"a":1}],{"port_id":3}]}`,
			want: fakeCall{Method: MethodUpdate, Args: []any{[]any{map[string]any{"a": 1.0}}}, Opts: Options{"port_id": 3.0}},
		},
		{
			name: "update without options",
			msg:  `{"id":1,"cmd":"table_method","name":"t","method":"update","args":[{"a":[1]}]}`,
			want: fakeCall{Method: MethodUpdate, Args: []any{map[string]any{"a": []any{1.0}}}, Opts: Options{}},
		},
		{
			name: "update with null options",
			msg:  `{"id":1,"cmd":"table_method","name":"t","method":"update","args":[[],null]}`,
			want: fakeCall{Method: MethodUpdate, Args: []any{[]any{}}, Opts: Options{}},
		},
		{
			name: "update ignores non-object options",
			msg:  `{"id":1,"cmd":"table_method","name":"t","method":"update","args":[[{"a":1}],"x"]}`,
			want: fakeCall{Method: MethodUpdate, Args: []any{[]any{map[string]any{"a": 1.0}}}, Opts: Options{}},
		},
		{
			name: "remove ignores non-object options",
			msg:  `{"id":1,"cmd":"table_method","name":"t","method":"remove","args":[["k1"],[1,2]]}`,
			want: fakeCall{Method: MethodRemove, Args: []any{[]any{"k1"}}, Opts: Options{}},
		},
		{
			name: "remove",
			msg:  `{"id":1,"cmd":"table_method","name":"t","method":"remove","args":[["k1"]]}`,
			want: fakeCall{Method: MethodRemove, Args: []any{[]any{"k1"}}, Opts: Options{}},
		},
		{
			name: "replace",
			msg:  `{"id":1,"cmd":"table_method","name":"t","method":"replace","args":[[{"a":2}]]}`,
			want: fakeCall{Method: MethodReplace, Args: []any{[]any{map[string]any{"a": 2.0}}}},
		},
		{
			name: "clear",
			msg:  `{"id":1,"cmd":"table_method","name":"t","method":"clear"}`,
			want: fakeCall{Method: MethodClear},
		},
		{
			name: "other methods get positional args",
			msg:  `{"id":1,"cmd":"table_method","name":"t","method":"make_port","args":[1,"x"]}`,
			want: fakeCall{Method: "make_port", Args: []any{1.0, "x"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager()
			ft, _ := hostFakes(m)
			p := &recordingPoster{}

			send(m, p, tt.msg)

			require.NotContains(t, p.lastText(t), "error")
			assert.Equal(t, tt.want, ft.lastCall(t))
		})
	}
}

func TestInvoke_ExportMergesArgumentObjects(t *testing.T) {
	m, _ := newTestManager()
	_, fv := hostFakes(m)
	fv.results["to_columns"] = ValueResult(map[string]any{"a": []any{1}})
	p := &recordingPoster{}

	send(m, p, `{"id":5,"cmd":"view_method","name":"v","method":"to_columns","args":[{"start_row":1},{"end_row":2,"start_row":0}]}`)

	assert.Equal(t, fakeCall{Method: "to_columns", Opts: Options{"start_row": 0.0, "end_row": 2.0}}, fv.lastCall(t))
	assert.Equal(t, []string{`{"data":{"a":[1]},"id":5}`}, p.texts())
}

func TestInvoke_ExportRejectsNonObjectArgs(t *testing.T) {
	m, _ := newTestManager()
	_, fv := hostFakes(m)
	p := &recordingPoster{}

	send(m, p, `{"id":5,"cmd":"view_method","name":"v","method":"to_json","args":[5]}`)

	assert.Equal(t, "Arguments to `to_json` must be objects, got float64", p.lastText(t)["error"])
	assert.Empty(t, fv.recorded())
}

func TestInvoke_UpdateArgumentErrors(t *testing.T) {
	tests := []struct {
		name string
		msg  string
		want string
	}{
		{"no data", `{"id":1,"cmd":"table_method","name":"t","method":"update"}`, "`update` requires a data argument"},
		{"replace without data", `{"id":1,"cmd":"table_method","name":"t","method":"replace"}`, "`replace` requires a data argument"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager()
			ft, _ := hostFakes(m)
			p := &recordingPoster{}

			send(m, p, tt.msg)

			assert.Equal(t, tt.want, p.lastText(t)["error"])
			assert.Empty(t, ft.recorded())
		})
	}
}

func TestInvoke_ViewUpdate(t *testing.T) {
	t.Run("unsupported", func(t *testing.T) {
		m, _ := newTestManager()
		hostFakes(m)
		p := &recordingPoster{}

		send(m, p, `{"id":1,"cmd":"view_method","name":"v","method":"update","args":[[]]}`)

		assert.Equal(t, "`update` is not supported by `v`", p.lastText(t)["error"])
	})

	t.Run("updater", func(t *testing.T) {
		m, e := newTestManager()
		e.updatable = true
		p := &recordingPoster{}

		send(m, p, `{"id":1,"cmd":"table","name":"t","args":[{}]}`)
		send(m, p, `{"id":2,"cmd":"view","table_name":"t","view_name":"v"}`)
		send(m, p, `{"id":3,"cmd":"view_method","name":"v","method":"remove","args":[["k"]]}`)

		assert.Equal(t, `{"data":null,"id":3}`, p.texts()[2])
		fv := e.last(t).lastView(t)
		assert.Equal(t, fakeCall{Method: MethodRemove, Args: []any{[]any{"k"}}, Opts: Options{}}, fv.lastCall(t))
	})
}

func TestInvoke_ViewReplaceFallsThroughToInvoke(t *testing.T) {
	m, _ := newTestManager()
	_, fv := hostFakes(m)
	p := &recordingPoster{}

	send(m, p, `{"id":1,"cmd":"view_method","name":"v","method":"replace","args":[1]}`)

	assert.Equal(t, fakeCall{Method: MethodReplace, Args: []any{1.0}}, fv.lastCall(t))
}

func TestInvoke_ViewDelete(t *testing.T) {
	m, _ := newTestManager()
	_, fv := hostFakes(m)
	p := &recordingPoster{}

	send(m, p, `{"id":1,"cmd":"view_method","name":"v","method":"delete"}`)
	send(m, p, `{"id":2,"cmd":"view_method","name":"v","method":"to_json"}`)

	assert.Equal(t, []string{
		`{"data":null,"id":1}`,
		`{"error":"View is not initialized","id":2}`,
	}, p.texts())
	assert.Len(t, fv.recorded(), 1)
}

func TestInvoke_ViewDeleteFailureKeepsView(t *testing.T) {
	m, _ := newTestManager()
	_, fv := hostFakes(m)
	fv.errs[MethodDelete] = errFake
	p := &recordingPoster{}

	send(m, p, `{"id":1,"cmd":"view_method","name":"v","method":"delete"}`)

	assert.Equal(t, "engine failure", p.lastText(t)["error"])
	_, ok := m.GetView("v")
	assert.True(t, ok)
}

func TestInvoke_TableDeleteWhenUnlocked(t *testing.T) {
	m, _ := newTestManager()
	ft, _ := hostFakes(m)
	p := &recordingPoster{}

	send(m, p, `{"id":1,"cmd":"table_method","name":"t","method":"delete"}`)

	assert.Equal(t, []string{`{"data":null,"id":1}`}, p.texts())
	assert.Equal(t, MethodDelete, ft.lastCall(t).Method)
	_, ok := m.GetTable("t")
	assert.False(t, ok)
}

func TestSubscribeOptions(t *testing.T) {
	tests := []struct {
		name    string
		msg     Message
		want    Options
		wantErr bool
	}{
		{"on_update default", Message{Method: MethodOnUpdate}, Options{OptionMode: DefaultUpdateMode}, false},
		{"on_update null", Message{Method: MethodOnUpdate, Args: []any{nil}}, Options{OptionMode: DefaultUpdateMode}, false},
		{"on_update row", Message{Method: MethodOnUpdate, Args: []any{map[string]any{"mode": "row"}}}, Options{OptionMode: "row"}, false},
		{"on_update bad", Message{Method: MethodOnUpdate, Args: []any{"row"}}, nil, true},
		{"on_delete", Message{Method: "on_delete", Args: []any{map[string]any{"mode": "row"}}}, Options{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := subscribeOptions(&tt.msg)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMethodPrefixes(t *testing.T) {
	assert.True(t, isSubscribeMethod("on_update"))
	assert.True(t, isSubscribeMethod("on_delete"))
	assert.False(t, isSubscribeMethod("remove_update"))
	assert.True(t, isExportMethod("to_arrow"))
	assert.False(t, isExportMethod("total"))
}
