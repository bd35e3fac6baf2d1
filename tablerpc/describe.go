// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tablerpc

import "context"

// Description is a snapshot of the Manager's registries.
type Description struct {
	ServerID  string             `json:"server_id,omitempty"`
	Locked    bool               `json:"locked"`
	Tables    []TableDescription `json:"tables"`
	Views     []ViewDescription  `json:"views"`
	Callbacks int                `json:"callbacks"`
}

// TableDescription describes one registered table.
type TableDescription struct {
	Name   string `json:"name"`
	Schema any    `json:"schema,omitempty"`
	Error  string `json:"error,omitempty"`
}

// ViewDescription describes one registered view.
type ViewDescription struct {
	Name     string `json:"name"`
	ClientID string `json:"client_id,omitempty"`
}

// Describe returns the registered tables with their string schemas, the
// registered views with their owning clients, and the live callback count.
func (m *Manager) Describe(ctx context.Context) Description {
	d := Description{
		ServerID:  m.serverID,
		Locked:    m.locked,
		Tables:    []TableDescription{},
		Views:     []ViewDescription{},
		Callbacks: m.callbacks.len(),
	}
	for _, name := range m.tables.names() {
		t, ok := m.tables.get(name)
		if !ok {
			continue
		}
		td := TableDescription{Name: name}
		schema, err := t.Schema(ctx, Options{OptionAsString: true})
		if err != nil {
			td.Error = clientMessage(err)
		} else {
			td.Schema = schema
		}
		d.Tables = append(d.Tables, td)
	}
	for _, name := range m.views.names() {
		e, ok := m.views.get(name)
		if !ok {
			continue
		}
		d.Views = append(d.Views, ViewDescription{Name: name, ClientID: e.ClientID})
	}
	return d
}
