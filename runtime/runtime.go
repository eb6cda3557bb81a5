// Package runtime assembles the widget runtime: connection manager,
// execution engine, limiters, and analytics, wired over one store and
// one backend client. There are no package-level singletons; every
// Runtime is self-contained.
package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/lumeoai/widget-sdk-go/analytics"
	"github.com/lumeoai/widget-sdk-go/backend"
	"github.com/lumeoai/widget-sdk-go/connection"
	"github.com/lumeoai/widget-sdk-go/embedcode"
	"github.com/lumeoai/widget-sdk-go/engine"
	"github.com/lumeoai/widget-sdk-go/limiter"
	"github.com/lumeoai/widget-sdk-go/store"
	"github.com/lumeoai/widget-sdk-go/types"
)

type Runtime struct {
	client  *backend.Client
	store   store.Store
	engine  *engine.Engine
	manager *connection.Manager
	sink    analytics.Sink

	mu       sync.Mutex
	trackers []*analytics.Tracker
	closed   bool
}

type config struct {
	store             store.Store
	clock             limiter.Clock
	sink              analytics.Sink
	heartbeatInterval time.Duration
	retryPolicy       *engine.RetryPolicy
	rateLimit         int
	dailyQuota        int
	logf              func(format string, args ...any)
}

type Option func(*config)

// WithStore selects the key-value store backing limiters and widget
// state. Defaults to the in-memory store.
func WithStore(st store.Store) Option {
	return func(c *config) {
		if st != nil {
			c.store = st
		}
	}
}

// WithClock injects the clock used by limiters, the engine, and the
// connection manager.
func WithClock(clock limiter.Clock) Option {
	return func(c *config) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithSink receives every runtime-emitted analytics event.
func WithSink(sink analytics.Sink) Option {
	return func(c *config) {
		if sink != nil {
			c.sink = sink
		}
	}
}

func WithHeartbeatInterval(interval time.Duration) Option {
	return func(c *config) { c.heartbeatInterval = interval }
}

func WithRetryPolicy(policy engine.RetryPolicy) Option {
	return func(c *config) { c.retryPolicy = &policy }
}

// WithRateLimit overrides the default per-minute request cap.
func WithRateLimit(limit int) Option {
	return func(c *config) { c.rateLimit = limit }
}

// WithDailyQuota overrides the default per-day request cap.
func WithDailyQuota(quota int) Option {
	return func(c *config) { c.dailyQuota = quota }
}

func WithLogf(logf func(format string, args ...any)) Option {
	return func(c *config) {
		if logf != nil {
			c.logf = logf
		}
	}
}

// New builds a runtime around a backend client and starts the
// heartbeat loop. Callers own the runtime's lifecycle and must Close it.
func New(client *backend.Client, opts ...Option) (*Runtime, error) {
	if client == nil {
		return nil, errors.New("backend client is required")
	}

	cfg := &config{
		store: store.NewMemory(),
		clock: limiter.SystemClock(),
		sink:  analytics.NoopSink{},
		logf:  func(string, ...any) {},
	}
	for _, opt := range opts {
		opt(cfg)
	}

	rateOpts := []limiter.RateOption{limiter.WithRateClock(cfg.clock)}
	if cfg.rateLimit > 0 {
		rateOpts = append(rateOpts, limiter.WithRateLimit(cfg.rateLimit))
	}
	rates, err := limiter.NewRateLimiter(cfg.store, rateOpts...)
	if err != nil {
		return nil, err
	}

	usageOpts := []limiter.UsageOption{limiter.WithUsageClock(cfg.clock)}
	if cfg.dailyQuota > 0 {
		usageOpts = append(usageOpts, limiter.WithDailyQuota(cfg.dailyQuota))
	}
	usage, err := limiter.NewUsageGuard(cfg.store, usageOpts...)
	if err != nil {
		return nil, err
	}

	engineOpts := []engine.Option{
		engine.WithSink(cfg.sink),
		engine.WithNow(cfg.clock.Now),
	}
	if cfg.retryPolicy != nil {
		engineOpts = append(engineOpts, engine.WithRetryPolicy(*cfg.retryPolicy))
	}
	eng, err := engine.New(client, rates, usage, engineOpts...)
	if err != nil {
		return nil, err
	}

	managerOpts := []connection.Option{
		connection.WithExecutor(eng),
		connection.WithStateStore(cfg.store),
		connection.WithSink(cfg.sink),
		connection.WithLogf(cfg.logf),
		connection.WithNow(cfg.clock.Now),
	}
	if cfg.heartbeatInterval > 0 {
		managerOpts = append(managerOpts, connection.WithHeartbeatInterval(cfg.heartbeatInterval))
	}
	manager, err := connection.NewManager(client, managerOpts...)
	if err != nil {
		return nil, err
	}
	manager.StartHeartbeat()

	return &Runtime{
		client:  client,
		store:   cfg.store,
		engine:  eng,
		manager: manager,
		sink:    cfg.sink,
	}, nil
}

// Establish brings up one widget connection over the given channel.
func (r *Runtime) Establish(ctx context.Context, req connection.EstablishRequest) (*connection.Conn, error) {
	return r.manager.Establish(ctx, req)
}

// Execute runs widget logic outside of any connection, for callers that
// already hold the execution context.
func (r *Runtime) Execute(ctx context.Context, widgetID string, input json.RawMessage, execCtx engine.Context) engine.Result {
	return r.engine.Execute(ctx, widgetID, input, execCtx)
}

// EmbedCode renders the host-page snippet for a widget.
func (r *Runtime) EmbedCode(widget types.Widget, opts embedcode.Options) (string, error) {
	return embedcode.Generate(widget, opts)
}

// Tracker builds a per-widget tracker publishing through the runtime's
// backend client. The runtime closes it on shutdown.
func (r *Runtime) Tracker(widgetID string, opts ...analytics.TrackerOption) (*analytics.Tracker, error) {
	opts = append([]analytics.TrackerOption{analytics.WithSessionPublisher(r.client)}, opts...)
	tracker, err := analytics.NewTracker(r.client, widgetID, opts...)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		_ = tracker.Close(context.Background())
		return nil, errors.New("runtime is closed")
	}
	r.trackers = append(r.trackers, tracker)
	return tracker, nil
}

func (r *Runtime) Manager() *connection.Manager { return r.manager }

func (r *Runtime) Engine() *engine.Engine { return r.engine }

// Close tears down connections first so no new events are produced,
// then gives every tracker its final flush.
func (r *Runtime) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	trackers := r.trackers
	r.trackers = nil
	r.mu.Unlock()

	err := r.manager.CloseAll()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, tracker := range trackers {
		if closeErr := tracker.Close(ctx); closeErr != nil && err == nil {
			err = closeErr
		}
	}
	return err
}
