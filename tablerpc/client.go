// © Copyright 2025-2026, Query.Farm LLC - https://query.farm
// SPDX-License-Identifier: Apache-2.0

package tablerpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// ErrClientClosed is returned by calls on a Client whose connection ended.
var ErrClientClosed = errors.New("tablerpc: client closed")

// Reply is one response received by a Client.
type Reply struct {
	ID     int64
	Data   json.RawMessage
	Error  string
	Binary []byte // payload of a binary transfer
}

// envelope is the wire form of a response or binary announcement.
type envelope struct {
	ID             json.RawMessage `json:"id"`
	Data           json.RawMessage `json:"data"`
	Error          *string         `json:"error"`
	IsTransferable bool            `json:"is_transferable"`
}

func (e *envelope) reply() Reply {
	var id int64
	_ = json.Unmarshal(e.ID, &id)
	r := Reply{ID: id, Data: e.Data}
	if e.Error != nil {
		r.Error = *e.Error
	}
	return r
}

// Client speaks the message protocol over a WebSocket connection. It
// assigns integer message ids and reassembles binary transfers.
type Client struct {
	conn   *websocket.Conn
	nextID atomic.Int64
	logger *slog.Logger

	mu       sync.Mutex
	pending  map[int64]chan Reply
	handlers map[int64]func(Reply)
	err      error
	done     chan struct{}
}

// Dial connects to the WebSocket endpoint at url, for example
// "ws://127.0.0.1:8080/tablerpc/ws".
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("tablerpc: dial %s: %w", url, err)
	}
	conn.SetReadLimit(DefaultReadLimit)
	c := &Client{
		conn:     conn,
		logger:   slog.Default(),
		pending:  make(map[int64]chan Reply),
		handlers: make(map[int64]func(Reply)),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Call sends msg with a fresh id and waits for its response. An error
// response is returned as an *RpcError of type TypeRemoteError along with
// the Reply.
func (c *Client) Call(ctx context.Context, msg Message) (Reply, error) {
	id := c.nextID.Add(1)
	msg.ID = json.RawMessage(strconv.FormatInt(id, 10))

	ch := make(chan Reply, 1)
	c.mu.Lock()
	c.pending[id] = ch
	c.mu.Unlock()

	if err := wsjson.Write(ctx, c.conn, &msg); err != nil {
		c.forget(id)
		return Reply{}, fmt.Errorf("tablerpc: write %s: %w", msg.Label(), err)
	}

	select {
	case rep := <-ch:
		if rep.Error != "" {
			return rep, &RpcError{Type: TypeRemoteError, Message: rep.Error}
		}
		return rep, nil
	case <-c.done:
		return Reply{}, c.closedErr()
	case <-ctx.Done():
		c.forget(id)
		return Reply{}, ctx.Err()
	}
}

// Subscribe sends an on_* method with subscribe set and routes every
// notification for it, including a possible error response, to fn. fn runs
// on the read goroutine. The returned callback id identifies the
// subscription for Unsubscribe.
func (c *Client) Subscribe(ctx context.Context, msg Message, fn func(Reply)) (int64, error) {
	id := c.nextID.Add(1)
	raw := json.RawMessage(strconv.FormatInt(id, 10))
	msg.ID = raw
	msg.CallbackID = raw
	msg.Subscribe = true

	c.mu.Lock()
	c.handlers[id] = fn
	c.mu.Unlock()

	if err := wsjson.Write(ctx, c.conn, &msg); err != nil {
		c.forget(id)
		return 0, fmt.Errorf("tablerpc: write %s: %w", msg.Label(), err)
	}
	return id, nil
}

// Unsubscribe removes the subscription registered with callbackID. msg
// names the handle and the removal method, for example remove_update; the
// server sends no response.
func (c *Client) Unsubscribe(ctx context.Context, msg Message, callbackID int64) error {
	msg.ID = json.RawMessage(strconv.FormatInt(c.nextID.Add(1), 10))
	msg.CallbackID = json.RawMessage(strconv.FormatInt(callbackID, 10))
	msg.Subscribe = true
	c.forget(callbackID)
	if err := wsjson.Write(ctx, c.conn, &msg); err != nil {
		return fmt.Errorf("tablerpc: write %s: %w", msg.Label(), err)
	}
	return nil
}

// Heartbeat sends the keep-alive marker.
func (c *Client) Heartbeat(ctx context.Context) error {
	return c.conn.Write(ctx, websocket.MessageText, []byte(HeartbeatMarker))
}

// Close closes the connection.
func (c *Client) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	<-c.done
	return err
}

func (c *Client) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	delete(c.handlers, id)
	c.mu.Unlock()
}

func (c *Client) closedErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return fmt.Errorf("%w: %v", ErrClientClosed, c.err)
	}
	return ErrClientClosed
}

func (c *Client) readLoop() {
	defer close(c.done)
	var announced *envelope
	for {
		typ, data, err := c.conn.Read(context.Background())
		if err != nil {
			c.mu.Lock()
			c.err = err
			c.mu.Unlock()
			return
		}

		if typ == websocket.MessageBinary {
			if announced == nil {
				c.logger.Warn("binary frame without announcement", "bytes", len(data))
				continue
			}
			rep := announced.reply()
			rep.Binary = data
			announced = nil
			c.deliver(rep)
			continue
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			c.logger.Warn("undecodable response", "err", err)
			continue
		}
		if env.IsTransferable {
			announced = &env
			continue
		}
		c.deliver(env.reply())
	}
}

func (c *Client) deliver(rep Reply) {
	c.mu.Lock()
	if fn, ok := c.handlers[rep.ID]; ok {
		c.mu.Unlock()
		fn(rep)
		return
	}
	ch, ok := c.pending[rep.ID]
	if ok {
		delete(c.pending, rep.ID)
	}
	c.mu.Unlock()
	if ok {
		ch <- rep
	}
}
