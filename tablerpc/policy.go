// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tablerpc

import (
	"context"
	"strings"
)

func isSubscribeMethod(method string) bool {
	return strings.HasPrefix(method, subscribePrefix)
}

func isExportMethod(method string) bool {
	return strings.HasPrefix(method, exportPrefix)
}

// invoke calls the method named by the current message on h. The first
// matching rule wins:
//
//  1. schema, computed_schema and get_computation_input_types always
//     request string type names;
//  2. to_* methods merge every argument object into one option set;
//  3. view delete destroys the view and unregisters it;
//  4. update and remove take data plus an optional option object;
//  5. computed_schema and get_computation_input_types pass their
//     positional arguments through;
//  6. anything else is called with its positional arguments.
func (m *Manager) invoke(ctx context.Context, c *call, h Handle) (Result, error) {
	msg := c.msg
	method := msg.Method

	switch method {
	case MethodSchema:
		v, err := h.Schema(ctx, Options{OptionAsString: true})
		return ValueResult(v), err
	case MethodComputedSchema:
		v, err := h.ComputedSchema(ctx, msg.Args, Options{OptionAsString: true})
		return ValueResult(v), err
	case MethodComputationInputTypes:
		v, err := h.ComputationInputTypes(ctx, msg.Args, Options{OptionAsString: true})
		return ValueResult(v), err
	}

	if isExportMethod(method) {
		opts := Options{}
		for _, arg := range msg.Args {
			obj, ok := arg.(map[string]any)
			if !ok {
				return Result{}, newError(TypeInvalidArgument,
					"Arguments to `%s` must be objects, got %T", method, arg)
			}
			opts.Merge(obj)
		}
		return h.Export(ctx, strings.TrimPrefix(method, exportPrefix), opts)
	}

	if method == MethodDelete {
		if err := h.Delete(ctx); err != nil {
			return Result{}, err
		}
		if msg.Cmd == CmdViewMethod {
			m.views.pop(msg.Name)
		} else {
			m.tables.pop(msg.Name)
		}
		return ValueResult(nil), nil
	}

	switch method {
	case MethodUpdate, MethodRemove:
		return ValueResult(nil), m.applyUpdate(ctx, msg, h)
	case MethodReplace, MethodClear:
		if t, ok := h.(Table); ok {
			if method == MethodClear {
				return ValueResult(nil), t.Clear(ctx)
			}
			if len(msg.Args) == 0 {
				return Result{}, newError(TypeInvalidArgument, "`%s` requires a data argument", method)
			}
			return ValueResult(nil), t.Replace(ctx, msg.Args[0])
		}
	}

	return h.Invoke(ctx, method, msg.Args)
}

// applyUpdate calls update or remove as (args[0], args[1]). A second
// argument that is not an object is ignored.
func (m *Manager) applyUpdate(ctx context.Context, msg *Message, h Handle) error {
	if len(msg.Args) == 0 {
		return newError(TypeInvalidArgument, "`%s` requires a data argument", msg.Method)
	}
	opts := Options{}
	if len(msg.Args) > 1 {
		if obj, ok := msg.Args[1].(map[string]any); ok {
			opts.Merge(obj)
		}
	}

	u, ok := h.(Updater)
	if !ok {
		return newError(TypeBackendError, "`%s` is not supported by `%s`", msg.Method, msg.Name)
	}
	if msg.Method == MethodRemove {
		return u.Remove(ctx, msg.Args[0], opts)
	}
	return u.Update(ctx, msg.Args[0], opts)
}

// subscribeOptions returns the options for an on_* subscription. on_update
// defaults to mode "none"; an object in args[0] replaces the default.
func subscribeOptions(msg *Message) (Options, error) {
	opts := Options{}
	if msg.Method != MethodOnUpdate {
		return opts, nil
	}
	if len(msg.Args) == 0 || msg.Args[0] == nil {
		opts[OptionMode] = DefaultUpdateMode
		return opts, nil
	}
	obj, ok := msg.Args[0].(map[string]any)
	if !ok {
		return nil, newError(TypeInvalidArgument,
			"Options for `%s` must be an object, got %T", msg.Method, msg.Args[0])
	}
	opts.Merge(obj)
	return opts, nil
}
