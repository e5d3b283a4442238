// Package guard is the last-resort handler at the process boundary. Any
// panic or error that escapes a background goroutine ends up here: it is
// logged and, unless it is known harmless noise, the user sees a generic
// toast.
package guard

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/kimhsiao/peerwall/core/internal/logging"
	"github.com/kimhsiao/peerwall/core/internal/notify"
)

const (
	genericTitle = "Something went wrong"
	genericBody  = "The operation could not be completed. Details were written to the log."
)

// Guard reports unhandled failures.
type Guard struct {
	toaster notify.Toaster
	log     *logging.Logger

	benign []string
	wg     sync.WaitGroup
}

// New creates a Guard. benign lists lower-case substrings of failure texts
// that are logged at debug level and never shown.
func New(toaster notify.Toaster, benign []string) *Guard {
	if toaster == nil {
		toaster = notify.Discard{}
	}
	g := &Guard{toaster: toaster, log: logging.Component("guard")}
	for _, b := range benign {
		if b = strings.ToLower(strings.TrimSpace(b)); b != "" {
			g.benign = append(g.benign, b)
		}
	}
	return g
}

// Benign reports whether err is known noise.
func (g *Guard) Benign(err error) bool {
	if err == nil {
		return true
	}
	if stderrors.Is(err, context.Canceled) {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return true
	}

	text := strings.ToLower(err.Error())
	for _, b := range g.benign {
		if strings.Contains(text, b) {
			return true
		}
	}
	return false
}

// Report handles an unhandled error from source.
func (g *Guard) Report(source string, err error) {
	if err == nil {
		return
	}
	if g.Benign(err) {
		g.log.Debug("ignored benign failure", logging.Fields{"source": source, "error": err.Error()})
		return
	}
	g.log.Error("unhandled failure", err, logging.Fields{"source": source})
	g.toaster.Show(notify.LevelError, genericTitle, genericBody)
}

// Recover reports a panic in progress. Use as `defer g.Recover("source")`.
func (g *Guard) Recover(source string) {
	if r := recover(); r != nil {
		err, ok := r.(error)
		if !ok {
			err = fmt.Errorf("panic: %v", r)
		}
		g.Report(source, err)
	}
}

// Go runs fn in a goroutine, reporting its error or panic.
func (g *Guard) Go(source string, fn func() error) {
	g.wg.Add(1)
	go func() {
		defer g.wg.Done()
		defer g.Recover(source)
		g.Report(source, fn())
	}()
}

// Wait blocks until every goroutine started with Go has returned.
func (g *Guard) Wait() {
	g.wg.Wait()
}
