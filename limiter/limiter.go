// Package limiter bounds widget request volume with a per-session sliding
// window and a per-widget daily quota.
//
// Counters live in a store.Store under the shared key shapes and are
// reset lazily: the staleness check happens on read, never through a
// background timer, so an idle runtime does no work and two runtimes
// sharing a store agree on the window without coordination.
package limiter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lumeoai/widget-sdk-go/store"
)

const (
	DefaultRequestsPerWindow = 60
	DefaultWindow            = 60 * time.Second
	DefaultDailyQuota        = 1000
)

// Clock supplies the current time so tests can drive the window.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock is the wall clock used when no Clock option is given.
func SystemClock() Clock { return systemClock{} }

type rateRecord struct {
	Count     int   `json:"count"`
	Timestamp int64 `json:"timestamp"` // unix millis of the window start
}

type usageRecord struct {
	Count int    `json:"count"`
	Date  string `json:"date"` // UTC calendar date the count belongs to
}

// RateLimiter enforces a fixed request cap per (widget, session) within a
// sliding window. A denied request does not consume from the window.
type RateLimiter struct {
	store  store.Store
	clock  Clock
	limit  int
	window time.Duration
}

type RateOption func(*RateLimiter)

func WithRateClock(clock Clock) RateOption {
	return func(l *RateLimiter) {
		if clock != nil {
			l.clock = clock
		}
	}
}

func WithRateLimit(limit int) RateOption {
	return func(l *RateLimiter) {
		if limit > 0 {
			l.limit = limit
		}
	}
}

func WithWindow(window time.Duration) RateOption {
	return func(l *RateLimiter) {
		if window > 0 {
			l.window = window
		}
	}
}

func NewRateLimiter(st store.Store, opts ...RateOption) (*RateLimiter, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	l := &RateLimiter{
		store:  st,
		clock:  systemClock{},
		limit:  DefaultRequestsPerWindow,
		window: DefaultWindow,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Allow reports whether one more request fits in the current window and,
// if so, consumes a slot. A positive limitOverride (a widget's configured
// requestsPerMinute) supersedes the limiter default.
func (l *RateLimiter) Allow(ctx context.Context, widgetID, sessionID string, limitOverride int) (bool, error) {
	if widgetID == "" || sessionID == "" {
		return false, errors.New("widget id and session id are required")
	}

	limit := l.limit
	if limitOverride > 0 {
		limit = limitOverride
	}

	key := store.RateLimitKey(widgetID, sessionID)
	now := l.clock.Now()

	var rec rateRecord
	raw, err := l.store.Get(ctx, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// fresh window
	case err != nil:
		return false, fmt.Errorf("failed to load rate window: %w", err)
	default:
		if err := json.Unmarshal(raw, &rec); err != nil {
			// Corrupt record: start a fresh window rather than lock the
			// session out permanently.
			rec = rateRecord{}
		}
	}

	windowStart := time.UnixMilli(rec.Timestamp)
	if rec.Timestamp == 0 || now.Sub(windowStart) >= l.window {
		rec = rateRecord{Count: 0, Timestamp: now.UnixMilli()}
	}

	if rec.Count >= limit {
		return false, nil
	}

	rec.Count++
	encoded, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("failed to encode rate window: %w", err)
	}
	if err := l.store.Set(ctx, key, encoded); err != nil {
		return false, fmt.Errorf("failed to save rate window: %w", err)
	}
	return true, nil
}

// UsageGuard enforces the per-widget daily execution quota, keyed by UTC
// calendar date.
type UsageGuard struct {
	store store.Store
	clock Clock
	quota int
}

type UsageOption func(*UsageGuard)

func WithUsageClock(clock Clock) UsageOption {
	return func(g *UsageGuard) {
		if clock != nil {
			g.clock = clock
		}
	}
}

func WithDailyQuota(quota int) UsageOption {
	return func(g *UsageGuard) {
		if quota > 0 {
			g.quota = quota
		}
	}
}

func NewUsageGuard(st store.Store, opts ...UsageOption) (*UsageGuard, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	g := &UsageGuard{
		store: st,
		clock: systemClock{},
		quota: DefaultDailyQuota,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Allow consumes one execution from today's quota, or reports exhaustion.
// A positive quotaOverride supersedes the guard default.
func (g *UsageGuard) Allow(ctx context.Context, widgetID string, quotaOverride int) (bool, error) {
	if widgetID == "" {
		return false, errors.New("widget id is required")
	}

	quota := g.quota
	if quotaOverride > 0 {
		quota = quotaOverride
	}

	now := g.clock.Now().UTC()
	today := now.Format("2006-01-02")
	key := store.UsageKey(widgetID, now)

	var rec usageRecord
	raw, err := g.store.Get(ctx, key)
	switch {
	case errors.Is(err, store.ErrNotFound):
		// first execution today
	case err != nil:
		return false, fmt.Errorf("failed to load usage counter: %w", err)
	default:
		if err := json.Unmarshal(raw, &rec); err != nil {
			rec = usageRecord{}
		}
	}

	if rec.Date != today {
		rec = usageRecord{Count: 0, Date: today}
	}

	if rec.Count >= quota {
		return false, nil
	}

	rec.Count++
	encoded, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("failed to encode usage counter: %w", err)
	}
	if err := g.store.Set(ctx, key, encoded); err != nil {
		return false, fmt.Errorf("failed to save usage counter: %w", err)
	}
	return true, nil
}
