// Package notify holds the transient user-facing notices (toasts) raised by
// failed operations and alerts. A shell renders them; the core only decides
// the text, level and how long each one stays visible.
package notify

import (
	"sync"
	"time"

	"github.com/kimhsiao/peerwall/core/internal/ids"
)

// Level ranks a toast.
type Level string

const (
	LevelInfo     Level = "info"
	LevelError    Level = "error"
	LevelCritical Level = "critical"
)

// Default display durations.
const (
	DurationNormal   = 4 * time.Second
	DurationCritical = 8 * time.Second
)

// Toast is one visible notice.
type Toast struct {
	ID        string        `json:"id"`
	Level     Level         `json:"level"`
	Title     string        `json:"title"`
	Body      string        `json:"body,omitempty"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// Expired reports whether the toast should no longer be shown at now.
func (t Toast) Expired(now time.Time) bool {
	return !now.Before(t.CreatedAt.Add(t.Duration))
}

// Toaster raises toasts.
type Toaster interface {
	Show(level Level, title, body string) Toast
}

// Center is the in-process Toaster. It keeps the live toasts and tells
// listeners about every new one.
type Center struct {
	normal   time.Duration
	critical time.Duration
	now      func() time.Time

	mu        sync.Mutex
	toasts    []Toast
	listeners []func(Toast)
}

// NewCenter creates a Center with the given durations for normal and
// critical toasts. Zero durations fall back to the defaults.
func NewCenter(normal, critical time.Duration) *Center {
	if normal <= 0 {
		normal = DurationNormal
	}
	if critical <= 0 {
		critical = DurationCritical
	}
	return &Center{normal: normal, critical: critical, now: time.Now}
}

// Show records a toast and returns it.
func (c *Center) Show(level Level, title, body string) Toast {
	duration := c.normal
	if level == LevelCritical {
		duration = c.critical
	}

	toast := Toast{
		ID:        ids.New(),
		Level:     level,
		Title:     title,
		Body:      body,
		Duration:  duration,
		CreatedAt: c.now(),
	}

	c.mu.Lock()
	c.toasts = append(c.pruneLocked(toast.CreatedAt), toast)
	listeners := append([]func(Toast){}, c.listeners...)
	c.mu.Unlock()

	for _, fn := range listeners {
		fn(toast)
	}
	return toast
}

// Active returns the toasts that have not expired yet.
func (c *Center) Active() []Toast {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toasts = c.pruneLocked(c.now())
	return append([]Toast(nil), c.toasts...)
}

// Dismiss removes a toast before it expires.
func (c *Center) Dismiss(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, t := range c.toasts {
		if t.ID == id {
			c.toasts = append(c.toasts[:i], c.toasts[i+1:]...)
			return
		}
	}
}

// OnToast registers fn for every toast shown afterwards.
func (c *Center) OnToast(fn func(Toast)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listeners = append(c.listeners, fn)
}

func (c *Center) pruneLocked(now time.Time) []Toast {
	live := c.toasts[:0]
	for _, t := range c.toasts {
		if !t.Expired(now) {
			live = append(live, t)
		}
	}
	return live
}

// Discard is a Toaster that shows nothing.
type Discard struct{}

// Show implements Toaster.
func (Discard) Show(level Level, title, body string) Toast {
	return Toast{Level: level, Title: title, Body: body}
}
