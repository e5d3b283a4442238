// Package bridge is the typed call contract to the native backend. Every
// operation is a named command with a fixed argument shape; push events
// arrive on a subscribe-only stream. The bridge never interprets failures.
package bridge

import (
	"context"
	"encoding/json"
	"sync"
)

// Caller issues one fire-and-await command.
type Caller interface {
	Call(ctx context.Context, command string, args any) (json.RawMessage, error)
}

// Event is one push notification from the backend.
type Event struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

// Decode unmarshals the event payload into v.
func (e Event) Decode(v any) error {
	return json.Unmarshal(e.Data, v)
}

// EventSource delivers push events to subscribers.
type EventSource interface {
	Subscribe(fn func(Event)) (unsubscribe func())
}

// Func adapts a plain function to Caller.
type Func func(ctx context.Context, command string, args any) (json.RawMessage, error)

// Call implements Caller.
func (f Func) Call(ctx context.Context, command string, args any) (json.RawMessage, error) {
	return f(ctx, command, args)
}

// Fanout is an EventSource that shells and tests can publish into directly.
type Fanout struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Event)
}

// NewFanout creates an empty Fanout.
func NewFanout() *Fanout {
	return &Fanout{subs: make(map[int]func(Event))}
}

// Subscribe registers fn for every subsequent event.
func (f *Fanout) Subscribe(fn func(Event)) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, id)
	}
}

// Publish delivers ev to every subscriber synchronously.
func (f *Fanout) Publish(ev Event) {
	f.mu.RLock()
	subs := make([]func(Event), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}

// PublishData marshals data and publishes it as an event of type typ.
func (f *Fanout) PublishData(typ string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	f.Publish(Event{Type: typ, Data: raw})
	return nil
}
