package media

import (
	"context"
	"sync"

	"github.com/kimhsiao/peerwall/core/internal/models"
)

// Lazy resolves one entry's media in the background when the entry is
// rendered. Close marks the owner gone: results that arrive afterwards are
// dropped and onReady is never called.
type Lazy struct {
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	closed   bool
	locators []string
}

// NewLazy starts resolving refs with r. onReady, if non-nil, receives the
// resolved locators (failed ones omitted) unless Close was called first.
func NewLazy(ctx context.Context, r Resolving, refs []models.MediaRef, onReady func([]string)) *Lazy {
	ctx, cancel := context.WithCancel(ctx)
	l := &Lazy{cancel: cancel, done: make(chan struct{})}

	refs = append([]models.MediaRef(nil), refs...)
	go func() {
		defer close(l.done)
		defer cancel()

		locators := resolveAll(ctx, r, refs)

		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return
		}
		l.locators = locators
		l.mu.Unlock()

		if onReady != nil {
			onReady(locators)
		}
	}()
	return l
}

// Locators returns the resolved locators, or nil while pending or closed.
func (l *Lazy) Locators() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.locators...)
}

// Wait blocks until resolution has finished or been abandoned.
func (l *Lazy) Wait() {
	<-l.done
}

// Close abandons the resolution.
func (l *Lazy) Close() {
	l.mu.Lock()
	l.closed = true
	l.locators = nil
	l.mu.Unlock()
	l.cancel()
}
