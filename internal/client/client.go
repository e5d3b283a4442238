// Package client wires the synchronization layer together from one
// configuration: transport, invoker, containers, media, alerts and the
// push-event router.
package client

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/kimhsiao/peerwall/core/internal/alerts"
	"github.com/kimhsiao/peerwall/core/internal/bridge"
	"github.com/kimhsiao/peerwall/core/internal/chat"
	"github.com/kimhsiao/peerwall/core/internal/config"
	"github.com/kimhsiao/peerwall/core/internal/db"
	"github.com/kimhsiao/peerwall/core/internal/feed"
	"github.com/kimhsiao/peerwall/core/internal/guard"
	"github.com/kimhsiao/peerwall/core/internal/invoke"
	"github.com/kimhsiao/peerwall/core/internal/logging"
	"github.com/kimhsiao/peerwall/core/internal/media"
	"github.com/kimhsiao/peerwall/core/internal/network"
	"github.com/kimhsiao/peerwall/core/internal/notify"
	"github.com/kimhsiao/peerwall/core/internal/outbox"
	"github.com/kimhsiao/peerwall/core/internal/telemetry"
	"github.com/kimhsiao/peerwall/core/internal/viewstate"
	"github.com/kimhsiao/peerwall/core/internal/wall"
)

// Client holds every component of the core.
type Client struct {
	Config   *config.Config
	Metrics  *telemetry.Metrics
	DB       *db.DB
	Invoker  *invoke.Invoker
	Toasts   *notify.Center
	Guard    *guard.Guard
	View     *viewstate.Coordinator
	Resolver *media.Resolver
	Staging  *media.Staging
	Chat     *chat.Store
	Feed     *feed.Store
	Wall     *wall.Store
	Network  *network.Tracker
	Alerts   *alerts.Engine
	Outbox   *outbox.Queue
	Drainer  *outbox.Drainer
	Router   *Router

	transport   *bridge.WSBridge
	unsubscribe func()
	ctx         context.Context
	cancel      context.CancelFunc
	log         *logging.Logger
}

// Option adjusts New.
type Option func(*options)

type options struct {
	view    *viewstate.Coordinator
	metrics *telemetry.Metrics
}

// WithView replaces the process-wide view-state coordinator.
func WithView(v *viewstate.Coordinator) Option {
	return func(o *options) { o.view = v }
}

// WithMetrics replaces the process-wide metrics.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// Connect dials the backend named in cfg and builds a Client on it.
func Connect(ctx context.Context, cfg *config.Config, player alerts.CuePlayer, opts ...Option) (*Client, error) {
	transport, err := bridge.Dial(ctx, cfg.Backend.URL, cfg.Backend.DialTimeout)
	if err != nil {
		return nil, err
	}
	c, err := New(cfg, transport, transport, player, opts...)
	if err != nil {
		transport.Close()
		return nil, err
	}
	c.transport = transport
	return c, nil
}

// New builds a Client on an existing caller and event source.
func New(cfg *config.Config, caller bridge.Caller, events bridge.EventSource, player alerts.CuePlayer, opts ...Option) (*Client, error) {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.view == nil {
		o.view = viewstate.Default()
	}
	if o.metrics == nil {
		o.metrics = telemetry.Default()
	}
	if player == nil {
		player = alerts.PlayerFunc(func(alerts.Cue) error { return nil })
	}

	maxUpload, err := cfg.MaxUploadBytes()
	if err != nil {
		return nil, err
	}

	database, err := db.Open(cfg.DBPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Client{
		Config:  cfg,
		Metrics: o.metrics,
		DB:      database,
		View:    o.view,
		ctx:     ctx,
		cancel:  cancel,
		log:     logging.Component("client"),
	}

	c.Toasts = notify.NewCenter(cfg.Notify.Normal, cfg.Notify.Critical)
	c.Guard = guard.New(c.Toasts, cfg.Guard.BenignErrors)
	c.Invoker = invoke.New(caller, c.Toasts, invoke.Config{
		RetryCount:  cfg.Retry.Count,
		RetryDelay:  cfg.Retry.Delay,
		MaxDelay:    cfg.Retry.MaxDelay,
		CallTimeout: cfg.Backend.CallTimeout,
		Metrics:     c.Metrics,
	})

	c.Resolver = media.NewResolver(c.Invoker, cfg.Media.PassthroughPrefixes, c.Metrics)
	c.Staging = media.NewStaging(cfg.StagingDir(), maxUpload)
	uploader := media.NewUploader(c.Invoker, c.Staging)

	c.Outbox = outbox.NewQueue(cfg.Outbox.MaxSize, cfg.Outbox.MaxRetries, c.Metrics)
	c.Drainer = outbox.NewDrainer(c.Outbox, c.Invoker, cfg.Outbox.DrainInterval)

	c.Chat = chat.New(c.Invoker, db.NewKV(database), cfg.Pagination.Messages)
	c.Feed = feed.New(c.Invoker, uploader, c.Chat, cfg.Pagination.Feed, cfg.Pagination.Comments)
	c.Wall = wall.New(c.Invoker, uploader, c.Outbox, cfg.Pagination.Wall)
	c.Network = network.NewTracker(c.Invoker)

	c.Alerts = alerts.NewEngine(c.View, player, alerts.Options{
		SoundEnabled:  cfg.Alerts.SoundEnabled,
		CuesPerSecond: cfg.Alerts.CuesPerSecond,
		Burst:         cfg.Alerts.Burst,
		Metrics:       c.Metrics,
	})

	c.Router = NewRouter(ctx, c.Chat, c.Feed, c.Network, c.Alerts, c.Guard, c.Metrics)
	if events != nil {
		c.unsubscribe = c.Router.Attach(events)
	}
	return c, nil
}

// Start loads the initial state of every container and starts the outbox
// drainer. A failed load is reported but does not stop the others.
func (c *Client) Start(ctx context.Context) error {
	var errs []error
	if err := c.Chat.LoadArchive(ctx); err != nil {
		errs = append(errs, err)
	}
	loads := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"conversations", c.Chat.LoadConversations},
		{"feed", c.Feed.Load},
		{"wall", c.Wall.Load},
		{"network", c.Network.Refresh},
	}
	for _, l := range loads {
		if err := l.fn(ctx); err != nil {
			c.log.Warn("initial load failed", logging.Fields{"container": l.name, "error": err.Error()})
			errs = append(errs, fmt.Errorf("%s: %w", l.name, err))
		}
	}

	c.Drainer.Start(c.ctx)
	c.log.Info("client started", logging.Fields{"backend": c.Config.Backend.URL})
	return stderrors.Join(errs...)
}

// Done is closed when the backend connection is lost. It is nil when the
// client was built on a caller other than the websocket bridge.
func (c *Client) Done() <-chan struct{} {
	if c.transport == nil {
		return nil
	}
	return c.transport.Done()
}

// Close stops background work and releases the connection and the store.
func (c *Client) Close() error {
	if c.unsubscribe != nil {
		c.unsubscribe()
	}
	c.Drainer.Stop()
	c.cancel()
	c.Wall.Close()
	c.Guard.Wait()

	var errs []error
	if c.transport != nil {
		errs = append(errs, c.transport.Close())
	}
	errs = append(errs, c.DB.Close())
	return stderrors.Join(errs...)
}
