// Package bridgetest provides a scripted in-memory backend for container
// tests.
package bridgetest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/kimhsiao/peerwall/core/internal/invoke"
	"github.com/kimhsiao/peerwall/core/internal/telemetry"
)

// Handler answers one command. The returned value is JSON-encoded.
type Handler func(args json.RawMessage) (any, error)

// Call is one recorded command.
type Call struct {
	Command string
	Args    json.RawMessage
}

// Gate holds calls of one command until released.
type Gate struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

// Entered receives once per call that reached the gate.
func (g *Gate) Entered() <-chan struct{} {
	return g.entered
}

// Release lets every held and future call through.
func (g *Gate) Release() {
	g.once.Do(func() { close(g.release) })
}

// Backend is a bridge.Caller answering from registered handlers. Commands
// without a handler fail with a not-found error.
type Backend struct {
	mu       sync.Mutex
	handlers map[string]Handler
	gates    map[string]*Gate
	calls    []Call
}

// New creates an empty Backend.
func New() *Backend {
	return &Backend{
		handlers: make(map[string]Handler),
		gates:    make(map[string]*Gate),
	}
}

// Handle registers h for command.
func (b *Backend) Handle(command string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[command] = h
}

// Reply makes command always succeed with result.
func (b *Backend) Reply(command string, result any) {
	b.Handle(command, func(json.RawMessage) (any, error) { return result, nil })
}

// Fail makes command always fail with err.
func (b *Backend) Fail(command string, err error) {
	b.Handle(command, func(json.RawMessage) (any, error) { return nil, err })
}

// Gate holds every call of command until the returned gate is released.
func (b *Backend) Gate(command string) *Gate {
	b.mu.Lock()
	defer b.mu.Unlock()
	g := &Gate{entered: make(chan struct{}, 64), release: make(chan struct{})}
	b.gates[command] = g
	return g
}

// Call implements bridge.Caller.
func (b *Backend) Call(ctx context.Context, command string, args any) (json.RawMessage, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	b.calls = append(b.calls, Call{Command: command, Args: raw})
	h := b.handlers[command]
	g := b.gates[command]
	b.mu.Unlock()

	if g != nil {
		select {
		case g.entered <- struct{}{}:
		default:
		}
		select {
		case <-g.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if h == nil {
		return nil, fmt.Errorf("NOT_FOUND: no handler for %s", command)
	}
	result, err := h(raw)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}

// Calls returns how many times command was called.
func (b *Backend) Calls(command string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c.Command == command {
			n++
		}
	}
	return n
}

// History returns every recorded call in order.
func (b *Backend) History() []Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Call(nil), b.calls...)
}

// Args decodes the arguments of the i-th call of command into v.
func (b *Backend) Args(command string, i int, v any) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c.Command != command {
			continue
		}
		if n == i {
			return json.Unmarshal(c.Args, v)
		}
		n++
	}
	return fmt.Errorf("call %d of %s not recorded", i, command)
}

// Invoker wraps b in an Invoker with no retries, no toasts and private
// metrics.
func (b *Backend) Invoker() *invoke.Invoker {
	return invoke.New(b, nil, invoke.Config{Metrics: telemetry.New()})
}
