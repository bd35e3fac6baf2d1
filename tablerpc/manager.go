// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tablerpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
)

// Manager routes client messages to tables and views created through an
// Engine. Its registries are shared by every session; all methods are safe
// for concurrent use.
type Manager struct {
	engine       Engine
	tables       *registry[Table]
	views        *registry[viewEntry]
	callbacks    callbackRegistry
	locked       bool
	serverID     string
	dispatchHook DispatchHook
	logger       *slog.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLock makes the Manager reject table creation and mutating methods.
func WithLock(locked bool) ManagerOption {
	return func(m *Manager) { m.locked = locked }
}

// WithServerID sets the server identifier reported to hooks and Describe.
func WithServerID(id string) ManagerOption {
	return func(m *Manager) { m.serverID = id }
}

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a Manager that creates tables with engine.
func NewManager(engine Engine, opts ...ManagerOption) *Manager {
	m := &Manager{
		engine: engine,
		tables: newRegistry[Table](),
		views:  newRegistry[viewEntry](),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Locked reports whether the access lock is enabled.
func (m *Manager) Locked() bool {
	return m.locked
}

// ServerID returns the server identifier, or empty string if not set.
func (m *Manager) ServerID() string {
	return m.serverID
}

// SetDispatchHook registers a hook that is called around each dispatch.
func (m *Manager) SetDispatchHook(hook DispatchHook) {
	m.dispatchHook = hook
}

// SetLogger replaces the logger.
func (m *Manager) SetLogger(logger *slog.Logger) {
	m.logger = logger
}

// HostTable registers a server-created table under name.
func (m *Manager) HostTable(name string, t Table) {
	m.tables.set(name, t)
}

// HostView registers a server-created view under name. Hosted views belong
// to no client and are never garbage collected.
func (m *Manager) HostView(name string, v View) {
	m.views.set(name, viewEntry{View: v})
}

// GetTable returns the table registered under name.
func (m *Manager) GetTable(name string) (Table, bool) {
	return m.tables.get(name)
}

// GetView returns the view registered under name.
func (m *Manager) GetView(name string) (View, bool) {
	e, ok := m.views.get(name)
	return e.View, ok
}

// Callbacks returns a snapshot of the live callback records.
func (m *Manager) Callbacks() []CallbackRecord {
	return m.callbacks.snapshot()
}

// RemoveCallbacks removes every callback record matching pred and returns
// how many were removed. Removed callbacks stop delivering notifications.
func (m *Manager) RemoveCallbacks(pred func(CallbackRecord) bool) int {
	return m.callbacks.removeWhere(pred)
}

// ClearViews deletes every view created by clientID and returns how many
// were removed. It does not touch tables, other clients' views, or
// callback records.
func (m *Manager) ClearViews(ctx context.Context, clientID string) (int, error) {
	if clientID == "" {
		return 0, newError(TypeInvalidArgument,
			"Cannot garbage collect views that are not linked to a specific client ID!")
	}
	removed := m.views.popWhere(func(_ string, e viewEntry) bool {
		return e.ClientID == clientID
	})
	for name, e := range removed {
		if err := e.View.Delete(ctx); err != nil {
			m.logger.Warn("view delete failed during GC", "view", name, "client_id", clientID, "err", err)
		}
	}
	m.logger.Warn(fmt.Sprintf("GC %d views in memory", len(removed)), "client_id", clientID)
	return len(removed), nil
}

// call holds the state of one message being dispatched.
type call struct {
	msg      *Message
	clientID string
	poster   Poster // counts frames for this message
	out      Poster // client poster, captured by callbacks
}

// Process decodes raw and dispatches it for clientID, posting every
// response through p. It never panics on engine failures and never returns
// an error: failures become error responses correlated by message id.
func (m *Manager) Process(ctx context.Context, raw any, p Poster, clientID string) {
	msg, err := Decode(raw)
	if errors.Is(err, ErrHeartbeat) {
		return
	}
	if err != nil {
		var id json.RawMessage
		if msg != nil {
			id = msg.ID
		}
		m.logger.Warn("malformed message", "client_id", clientID, "err", err)
		m.post(p, Frame{Data: m.encode(id, errorMessage(id, clientMessage(err)))})
		return
	}

	info := dispatchInfo(msg, clientID, m.serverID)
	stats := &CallStatistics{}
	c := &call{
		msg:      msg,
		clientID: clientID,
		poster:   &countingPoster{Poster: p, stats: stats},
		out:      p,
	}

	var hookToken HookToken
	var hookActive bool
	if m.dispatchHook != nil {
		func() {
			defer func() {
				if rv := recover(); rv != nil {
					m.logger.Error("dispatch hook start panic", "err", rv)
				}
			}()
			var hookCtx context.Context
			hookCtx, hookToken = m.dispatchHook.OnDispatchStart(ctx, info)
			if hookCtx != nil {
				ctx = hookCtx
			}
			hookActive = true
		}()
	}

	dispatchErr := m.dispatch(ctx, c)

	if hookActive {
		func() {
			defer func() {
				if rv := recover(); rv != nil {
					m.logger.Error("dispatch hook end panic", "err", rv)
				}
			}()
			m.dispatchHook.OnDispatchEnd(ctx, hookToken, info, stats, dispatchErr)
		}()
	}
}

// dispatch applies the lock gate and routes the message. Any error it
// returns has already been posted to the client.
func (m *Manager) dispatch(ctx context.Context, c *call) (err error) {
	if isBlocked(m.locked, c.msg) {
		err = accessDenied(c.msg)
		m.postError(c, err)
		return err
	}

	func() {
		defer func() {
			if rv := recover(); rv != nil {
				err = newError(TypeBackendError, "%v", rv)
			}
		}()
		err = m.route(ctx, c)
	}()
	if err != nil {
		m.postError(c, err)
	}
	return err
}

func (m *Manager) route(ctx context.Context, c *call) error {
	ctx = withCallContext(ctx, &CallContext{
		ClientID:  c.clientID,
		MessageID: string(c.msg.ID),
		ServerID:  m.serverID,
		Command:   c.msg.Cmd,
		Method:    c.msg.Method,
	})

	switch c.msg.Cmd {
	case CmdInit:
		m.postData(c, nil)
		return nil
	case CmdTable:
		return m.createTable(ctx, c)
	case CmdView:
		return m.createView(ctx, c)
	case CmdTableMethod, CmdViewMethod:
		return m.processMethodCall(ctx, c)
	default:
		return newError(TypeMalformedMessage, "Unknown command `%s`", c.msg.Cmd)
	}
}

// createTable registers a table built from the first argument. Without
// arguments an empty placeholder is registered instead.
func (m *Manager) createTable(ctx context.Context, c *call) error {
	msg := c.msg
	if msg.Name == "" {
		return newError(TypeInvalidArgument, "`table` requires a name")
	}
	if len(msg.Args) == 0 {
		m.tables.set(msg.Name, placeholderTable{name: msg.Name})
		m.postData(c, nil)
		return nil
	}
	t, err := m.engine.NewTable(ctx, msg.Args[0], Options(msg.Options))
	if err != nil {
		return asBackendError(err)
	}
	m.tables.set(msg.Name, t)
	m.postData(c, nil)
	return nil
}

// createView builds a view on a registered table and tags it with the
// requesting client.
func (m *Manager) createView(ctx context.Context, c *call) error {
	msg := c.msg
	if msg.ViewName == "" {
		return newError(TypeInvalidArgument, "`view` requires a view_name")
	}
	t, ok := m.tables.get(msg.TableName)
	if !ok {
		return newError(TypeResourceNotFound, "Table is not initialized")
	}
	v, err := t.View(ctx, Options(msg.Config))
	if err != nil {
		return asBackendError(err)
	}
	m.views.set(msg.ViewName, viewEntry{View: v, ClientID: c.clientID})
	m.postData(c, nil)
	return nil
}

// processMethodCall resolves the addressed handle and either manages a
// subscription or invokes the method.
func (m *Manager) processMethodCall(ctx context.Context, c *call) error {
	msg := c.msg
	var h Handle
	if msg.Cmd == CmdTableMethod {
		t, ok := m.tables.get(msg.Name)
		if !ok {
			return newError(TypeResourceNotFound, "Table is not initialized")
		}
		h = t
	} else {
		e, ok := m.views.get(msg.Name)
		if !ok {
			return newError(TypeResourceNotFound, "View is not initialized")
		}
		h = e.View
	}

	if msg.Subscribe {
		return m.processSubscribe(ctx, c, h)
	}

	res, err := m.invoke(ctx, c, h)
	if err != nil {
		return asBackendError(err)
	}

	if res.Kind == ResultBinary {
		if msg.Method == MethodToCSV {
			m.postData(c, string(res.Binary))
			return nil
		}
		m.postBinary(c.poster, msg.ID, msg, res.Binary)
		return nil
	}
	m.postData(c, res.Value)
	return nil
}

// processSubscribe registers a callback for an on_* method, or removes the
// client's callbacks with the given callback_id.
func (m *Manager) processSubscribe(ctx context.Context, c *call, h Handle) error {
	msg := c.msg
	var cb *boundCallback
	callbackID := string(msg.CallbackID)

	if isSubscribeMethod(msg.Method) {
		cb = m.newCallback(msg.ID, c.out)
		if msg.HasCallbackID() {
			m.callbacks.add(CallbackRecord{
				ClientID:   c.clientID,
				CallbackID: callbackID,
				Name:       msg.Name,
				Callback:   cb,
			})
		}
	} else if msg.HasCallbackID() {
		n := m.callbacks.removeWhere(func(rec CallbackRecord) bool {
			return rec.ClientID == c.clientID &&
				rec.CallbackID == callbackID &&
				(msg.Name == "" || rec.Name == msg.Name)
		})
		m.logger.Debug("removed callbacks", "client_id", c.clientID, "callback_id", callbackID, "count", n)
	}

	if cb == nil {
		m.logger.Info("callback not found for remote call",
			"client_id", c.clientID, "id", string(msg.ID), "method", msg.Method, "name", msg.Name)
		return nil
	}

	opts, err := subscribeOptions(msg)
	if err == nil {
		err = h.Subscribe(ctx, msg.Method, cb, opts)
	}
	if err != nil {
		m.callbacks.removeWhere(func(rec CallbackRecord) bool {
			return rec.Callback == Callback(cb)
		})
		return asBackendError(err)
	}
	return nil
}

// postData posts a success response for the current message.
func (m *Manager) postData(c *call, data any) {
	m.post(c.poster, Frame{Data: m.encode(c.msg.ID, dataMessage(c.msg.ID, data))})
}

// postError posts an error response for the current message.
func (m *Manager) postError(c *call, err error) {
	m.post(c.poster, Frame{Data: m.encode(c.msg.ID, errorMessage(c.msg.ID, clientMessage(err)))})
}

func (m *Manager) post(p Poster, frames ...Frame) {
	if err := p.Post(frames...); err != nil {
		m.logger.Error("failed to post frame", "err", err)
	}
}

// encode serializes msg. If that fails, it returns an encoded error
// response for id describing the serialization failure instead.
func (m *Manager) encode(id json.RawMessage, msg any) []byte {
	data, err := Encode(msg)
	if err == nil {
		return data
	}
	text := clientMessage(err)
	m.logger.Warn(text, "id", string(id))
	data, err = json.Marshal(errorMessage(id, text))
	if err != nil {
		// id itself is not valid JSON.
		data, _ = json.Marshal(errorMessage(nil, text))
	}
	return data
}

// placeholderTable is registered by a table command without data.
type placeholderTable struct {
	name string
}

func (p placeholderTable) err() error {
	return newError(TypeBackendError, "Table `%s` was created without data", p.name)
}

func (p placeholderTable) Schema(context.Context, Options) (any, error) {
	return map[string]any{}, nil
}

func (p placeholderTable) ComputedSchema(context.Context, []any, Options) (any, error) {
	return map[string]any{}, nil
}

func (p placeholderTable) ComputationInputTypes(context.Context, []any, Options) (any, error) {
	return nil, p.err()
}

func (p placeholderTable) Export(context.Context, string, Options) (Result, error) {
	return Result{}, p.err()
}

func (p placeholderTable) Subscribe(context.Context, string, Callback, Options) error {
	return p.err()
}

func (p placeholderTable) Delete(context.Context) error { return nil }

func (p placeholderTable) Invoke(_ context.Context, method string, _ []any) (Result, error) {
	if method == "size" {
		return ValueResult(0), nil
	}
	return Result{}, p.err()
}

func (p placeholderTable) Update(context.Context, any, Options) error { return p.err() }
func (p placeholderTable) Remove(context.Context, any, Options) error { return p.err() }
func (p placeholderTable) Replace(context.Context, any) error         { return p.err() }
func (p placeholderTable) Clear(context.Context) error                { return nil }

func (p placeholderTable) View(context.Context, Options) (View, error) {
	return nil, p.err()
}
