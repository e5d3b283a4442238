// Package invoke is the single chokepoint through which every backend command
// passes. It classifies failures into the closed error taxonomy, retries
// recoverable ones with backoff, and raises a toast when a call finally
// fails.
package invoke

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/kimhsiao/peerwall/core/internal/bridge"
	apperrors "github.com/kimhsiao/peerwall/core/internal/errors"
	"github.com/kimhsiao/peerwall/core/internal/logging"
	"github.com/kimhsiao/peerwall/core/internal/notify"
	"github.com/kimhsiao/peerwall/core/internal/telemetry"
)

// Doer is what containers depend on to reach the backend.
type Doer interface {
	Invoke(ctx context.Context, command string, args, out any, opts ...Option) error
}

// Option adjusts one Invoke call.
type Option func(*callOptions)

type callOptions struct {
	notify     bool
	retryCount int
	retryDelay time.Duration
}

// Notify controls whether a final failure raises a toast. Default true.
func Notify(enabled bool) Option {
	return func(o *callOptions) { o.notify = enabled }
}

// RetryCount sets how many times a recoverable failure is retried. Default 0.
func RetryCount(n int) Option {
	return func(o *callOptions) {
		if n >= 0 {
			o.retryCount = n
		}
	}
}

// RetryDelay sets the base delay before the first retry. Default 1s.
func RetryDelay(d time.Duration) Option {
	return func(o *callOptions) {
		if d >= 0 {
			o.retryDelay = d
		}
	}
}

// Config holds the Invoker defaults.
type Config struct {
	RetryCount  int
	RetryDelay  time.Duration
	MaxDelay    time.Duration
	CallTimeout time.Duration
	Metrics     *telemetry.Metrics
}

// DefaultConfig returns the defaults used when no configuration is given.
func DefaultConfig() Config {
	return Config{
		RetryCount: 0,
		RetryDelay: time.Second,
		MaxDelay:   30 * time.Second,
	}
}

// Invoker wraps a bridge.Caller with classification, retry and notification.
type Invoker struct {
	caller  bridge.Caller
	toaster notify.Toaster
	cfg     Config
	metrics *telemetry.Metrics
	log     *logging.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

// New creates an Invoker. A nil toaster discards notifications.
func New(caller bridge.Caller, toaster notify.Toaster, cfg Config) *Invoker {
	if toaster == nil {
		toaster = notify.Discard{}
	}
	if cfg.Metrics == nil {
		cfg.Metrics = telemetry.Default()
	}
	return &Invoker{
		caller:  caller,
		toaster: toaster,
		cfg:     cfg,
		metrics: cfg.Metrics,
		log:     logging.Component("invoke"),
		sleep:   sleepContext,
	}
}

// Invoke runs command with args and decodes the result into out (which may
// be nil). The returned error, if any, is always an *errors.AppError.
func (i *Invoker) Invoke(ctx context.Context, command string, args, out any, opts ...Option) error {
	o := callOptions{
		notify:     true,
		retryCount: i.cfg.RetryCount,
		retryDelay: i.cfg.RetryDelay,
	}
	for _, opt := range opts {
		opt(&o)
	}

	for attempt := 0; ; attempt++ {
		i.metrics.InvokeAttempts.WithLabelValues(command).Inc()

		raw, err := i.call(ctx, command, args)
		if err == nil {
			if decodeErr := decode(raw, out); decodeErr != nil {
				appErr := apperrors.Wrap(apperrors.KindUnknown, "unreadable response", decodeErr)
				appErr.Command = command
				return i.fail(ctx, appErr, o)
			}
			return nil
		}

		appErr := apperrors.NormalizeCommand(command, err)
		if !appErr.Kind.Recoverable() || attempt >= o.retryCount || ctx.Err() != nil {
			return i.fail(ctx, appErr, o)
		}

		delay := Backoff(appErr.Kind, o.retryDelay, attempt, i.cfg.MaxDelay)
		i.metrics.InvokeRetries.WithLabelValues(command, string(appErr.Kind)).Inc()
		i.log.Warn("retrying command", logging.Fields{
			"command": command,
			"kind":    string(appErr.Kind),
			"attempt": attempt + 1,
			"delay":   delay.String(),
		})

		if err := i.sleep(ctx, delay); err != nil {
			return i.fail(ctx, apperrors.NormalizeCommand(command, err), o)
		}
	}
}

func (i *Invoker) call(ctx context.Context, command string, args any) (json.RawMessage, error) {
	if i.cfg.CallTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, i.cfg.CallTimeout)
		defer cancel()
	}
	return i.caller.Call(ctx, command, args)
}

// fail records, logs and optionally announces a final failure.
func (i *Invoker) fail(ctx context.Context, appErr *apperrors.AppError, o callOptions) error {
	i.metrics.InvokeFailures.WithLabelValues(appErr.Command, string(appErr.Kind)).Inc()

	// Canceled calls are never announced.
	if stderrors.Is(ctx.Err(), context.Canceled) {
		i.log.Debug("command canceled", logging.Fields{"command": appErr.Command})
		return appErr
	}

	i.log.Error("command failed", appErr, logging.Fields{
		"command": appErr.Command,
		"kind":    string(appErr.Kind),
	})

	if o.notify {
		level := notify.LevelError
		if appErr.Kind.Critical() {
			level = notify.LevelCritical
		}
		i.toaster.Show(level, appErr.Message, appErr.Hint)
	}
	return appErr
}

func decode(raw json.RawMessage, out any) error {
	if out == nil || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
