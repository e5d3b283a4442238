package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kimhsiao/peerwall/core/internal/ids"
	"github.com/kimhsiao/peerwall/core/internal/logging"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 256
)

// ErrClosed is returned for calls issued on, or pending on, a closed bridge.
var ErrClosed = errors.New("bridge: not connected")

// request is one outbound command frame.
type request struct {
	ID      string `json:"id"`
	Command string `json:"command"`
	Args    any    `json:"args,omitempty"`
}

// frame is any inbound frame: a response carries ID, an event carries Type.
type frame struct {
	ID        string          `json:"id,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     json.RawMessage `json:"error,omitempty"`
	Type      string          `json:"type,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp int64           `json:"timestamp,omitempty"`
}

// RemoteError carries a backend failure payload untouched. Callers narrow
// it with errors.Normalize.
type RemoteError struct {
	Command string
	Payload json.RawMessage
}

func (e *RemoteError) Error() string {
	var s string
	if json.Unmarshal(e.Payload, &s) == nil {
		return s
	}
	return string(e.Payload)
}

// WSBridge speaks the command/event protocol over one websocket connection.
type WSBridge struct {
	conn   *websocket.Conn
	send   chan []byte
	log    *logging.Logger
	events *Fanout

	mu      sync.Mutex
	pending map[string]chan frame
	closed  bool
	done    chan struct{}
	once    sync.Once
}

// Dial connects to the backend endpoint at url.
func Dial(ctx context.Context, url string, timeout time.Duration) (*WSBridge, error) {
	dialer := websocket.Dialer{HandshakeTimeout: timeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial backend %s: %w", url, err)
	}
	return newWSBridge(conn), nil
}

func newWSBridge(conn *websocket.Conn) *WSBridge {
	b := &WSBridge{
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		log:     logging.Component("bridge"),
		events:  NewFanout(),
		pending: make(map[string]chan frame),
		done:    make(chan struct{}),
	}
	go b.writePump()
	go b.readPump()
	return b
}

// Call sends command and waits for its response, ctx cancellation or
// connection loss.
func (b *WSBridge) Call(ctx context.Context, command string, args any) (json.RawMessage, error) {
	id := ids.New()
	payload, err := json.Marshal(request{ID: id, Command: command, Args: args})
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", command, err)
	}

	reply := make(chan frame, 1)
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	b.pending[id] = reply
	b.mu.Unlock()
	defer b.forget(id)

	select {
	case b.send <- payload:
	case <-b.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case f := <-reply:
		if len(f.Error) > 0 && string(f.Error) != "null" {
			return nil, &RemoteError{Command: command, Payload: f.Error}
		}
		return f.Result, nil
	case <-b.done:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Subscribe registers fn for every push event from the backend.
func (b *WSBridge) Subscribe(fn func(Event)) func() {
	return b.events.Subscribe(fn)
}

// Done is closed once the connection is gone.
func (b *WSBridge) Done() <-chan struct{} {
	return b.done
}

// Close shuts the connection and fails every pending call.
func (b *WSBridge) Close() error {
	b.shutdown()
	return b.conn.Close()
}

func (b *WSBridge) forget(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}

func (b *WSBridge) shutdown() {
	b.once.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.pending = make(map[string]chan frame)
		b.mu.Unlock()
		close(b.done)
	})
}

// readPump routes responses to their callers and events to subscribers.
func (b *WSBridge) readPump() {
	defer func() {
		b.shutdown()
		b.conn.Close()
	}()

	b.conn.SetReadDeadline(time.Now().Add(pongWait))
	b.conn.SetPongHandler(func(string) error {
		return b.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := b.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				b.log.Warn("connection lost", logging.Fields{"error": err.Error()})
			}
			return
		}

		var f frame
		if err := json.Unmarshal(message, &f); err != nil {
			b.log.Warn("invalid frame", logging.Fields{"error": err.Error()})
			continue
		}

		switch {
		case f.ID != "":
			b.mu.Lock()
			reply, ok := b.pending[f.ID]
			b.mu.Unlock()
			if ok {
				select {
				case reply <- f:
				default:
				}
			}
		case f.Type != "":
			b.events.Publish(Event{Type: f.Type, Data: f.Data, Timestamp: f.Timestamp})
		}
	}
}

// writePump serializes outbound frames and keeps the connection alive.
func (b *WSBridge) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message := <-b.send:
			b.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := b.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				b.log.Warn("write failed", logging.Fields{"error": err.Error()})
				b.shutdown()
				return
			}

		case <-ticker.C:
			b.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := b.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				b.shutdown()
				return
			}

		case <-b.done:
			b.conn.SetWriteDeadline(time.Now().Add(writeWait))
			b.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
