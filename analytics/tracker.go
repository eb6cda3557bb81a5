// Package analytics collects widget telemetry into session-scoped batches
// and delivers them to the backend independently of the message protocol's
// own timing.
//
// Delivery is best-effort: a failed batch is requeued ahead of newer
// events so order is preserved, and delivery errors are logged, never
// surfaced to the embedding page.
package analytics

import (
	"context"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultBatchSize     = 10
	defaultFlushInterval = 30 * time.Second
)

var scrollThresholds = []int{25, 50, 75, 90, 100}

// BatchPublisher delivers a batch of events. Implemented by the backend
// REST client.
type BatchPublisher interface {
	PublishEventBatch(ctx context.Context, events []Event) error
}

// SessionPublisher receives the session summary at teardown.
type SessionPublisher interface {
	PublishWidgetEvents(ctx context.Context, summary SessionSummary) error
}

type Tracker struct {
	publisher      BatchPublisher
	sessionPub     SessionPublisher
	widgetID       string
	page           func() PageInfo
	now            func() time.Time
	logf           func(format string, args ...any)
	batchSize      int
	flushInterval  time.Duration

	mu           sync.Mutex
	session      Session
	queue        []Event
	perf         map[string]float64
	scrollSeen   map[int]bool
	formsTracked map[string]bool
	closed       bool

	stop     chan struct{}
	loopDone chan struct{}
}

type TrackerOption func(*Tracker)

func WithSessionID(sessionID string) TrackerOption {
	return func(t *Tracker) {
		if sessionID != "" {
			t.session.SessionID = sessionID
		}
	}
}

func WithBatchSize(n int) TrackerOption {
	return func(t *Tracker) {
		if n > 0 {
			t.batchSize = n
		}
	}
}

// WithFlushInterval sets the periodic flush cadence. Zero disables the
// timer; batch-size and explicit flushes still apply.
func WithFlushInterval(d time.Duration) TrackerOption {
	return func(t *Tracker) {
		if d >= 0 {
			t.flushInterval = d
		}
	}
}

// WithPageInfo injects the host-page context captured with every event.
func WithPageInfo(page func() PageInfo) TrackerOption {
	return func(t *Tracker) {
		if page != nil {
			t.page = page
		}
	}
}

func WithNow(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		if now != nil {
			t.now = now
		}
	}
}

func WithSessionPublisher(pub SessionPublisher) TrackerOption {
	return func(t *Tracker) {
		t.sessionPub = pub
	}
}

func WithLogf(logf func(format string, args ...any)) TrackerOption {
	return func(t *Tracker) {
		if logf != nil {
			t.logf = logf
		}
	}
}

func NewTracker(publisher BatchPublisher, widgetID string, opts ...TrackerOption) (*Tracker, error) {
	if publisher == nil {
		publisher = nopPublisher{}
	}

	t := &Tracker{
		publisher:     publisher,
		widgetID:      widgetID,
		page:          func() PageInfo { return PageInfo{} },
		now:           func() time.Time { return time.Now().UTC() },
		logf:          log.Printf,
		batchSize:     defaultBatchSize,
		flushInterval: defaultFlushInterval,
		perf:          map[string]float64{},
		scrollSeen:    map[int]bool{},
		formsTracked:  map[string]bool{},
		stop:          make(chan struct{}),
		loopDone:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}

	if t.session.SessionID == "" {
		t.session.SessionID = uuid.NewString()
	}
	started := t.now()
	t.session.StartTime = started
	t.session.LastActivity = started

	info := t.page()
	t.session.Referrer = info.Referrer
	t.session.UTMParams = parseUTMParams(info.URL)

	if t.flushInterval > 0 {
		go t.flushLoop()
	} else {
		close(t.loopDone)
	}
	return t, nil
}

type nopPublisher struct{}

func (nopPublisher) PublishEventBatch(ctx context.Context, events []Event) error {
	_ = ctx
	_ = events
	return nil
}

// TrackEvent enriches and enqueues one event. Reaching the batch size
// triggers a flush of the entire current queue.
func (t *Tracker) TrackEvent(ctx context.Context, eventType EventType, data map[string]any) {
	event := Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		WidgetID:  t.widgetID,
		Timestamp: t.now(),
		Data:      data,
	}
	t.enqueue(ctx, event)
}

// Emit implements Sink so runtime components can report through the
// tracker without knowing its concrete type.
func (t *Tracker) Emit(ctx context.Context, event Event) error {
	event.Normalize()
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.WidgetID == "" {
		event.WidgetID = t.widgetID
	}
	t.enqueue(ctx, event)
	return nil
}

func (t *Tracker) enqueue(ctx context.Context, event Event) {
	info := t.page()

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}

	if event.Data == nil {
		event.Data = map[string]any{}
	}
	event.Data["url"] = info.URL
	event.Data["referrer"] = info.Referrer
	event.Data["userAgent"] = info.UserAgent
	event.Data["viewport"] = map[string]int{"width": info.ViewportWidth, "height": info.ViewportHeight}
	if event.SessionID == "" {
		event.SessionID = t.session.SessionID
	}

	t.session.LastActivity = event.Timestamp
	switch event.Type {
	case EventView:
		t.session.PageViews++
	case EventConversion:
		t.session.Conversions++
	default:
		t.session.Interactions++
	}

	t.queue = append(t.queue, event)
	full := len(t.queue) >= t.batchSize
	t.mu.Unlock()

	if full {
		_ = t.Flush(ctx)
	}
}

// Flush sends the entire current queue. The queue is swapped for an empty
// one before the network call so events tracked during the call start a
// fresh batch; on failure the batch is prepended back in front of them.
func (t *Tracker) Flush(ctx context.Context) error {
	t.mu.Lock()
	if len(t.queue) == 0 {
		t.mu.Unlock()
		return nil
	}
	batch := t.queue
	t.queue = nil
	t.mu.Unlock()

	if err := t.publisher.PublishEventBatch(ctx, batch); err != nil {
		t.mu.Lock()
		t.queue = append(append(make([]Event, 0, len(batch)+len(t.queue)), batch...), t.queue...)
		t.mu.Unlock()
		t.logf("analytics: failed to deliver batch of %d events, requeued: %v", len(batch), err)
		return err
	}
	return nil
}

// Close stops the flush loop, makes a final delivery attempt, and sends
// the session summary. Events still undelivered after the final attempt
// are abandoned.
func (t *Tracker) Close(ctx context.Context) error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()

	close(t.stop)
	<-t.loopDone

	flushErr := t.Flush(ctx)
	if flushErr != nil {
		t.mu.Lock()
		dropped := len(t.queue)
		t.queue = nil
		t.mu.Unlock()
		if dropped > 0 {
			t.logf("analytics: abandoning %d undelivered events at teardown", dropped)
		}
	}

	if t.sessionPub != nil {
		t.mu.Lock()
		summary := SessionSummary{
			WidgetID:           t.widgetID,
			SessionID:          t.session.SessionID,
			Session:            t.session,
			PerformanceMetrics: copyMetrics(t.perf),
		}
		t.mu.Unlock()
		if err := t.sessionPub.PublishWidgetEvents(ctx, summary); err != nil {
			t.logf("analytics: failed to deliver session summary: %v", err)
		}
	}
	return flushErr
}

func (t *Tracker) flushLoop() {
	defer close(t.loopDone)
	ticker := time.NewTicker(t.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			_ = t.Flush(context.Background())
		}
	}
}

// Session returns a snapshot of the current session record.
func (t *Tracker) Session() Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.session
	s.UTMParams = copyParams(t.session.UTMParams)
	return s
}

// QueueLen reports how many events are waiting for delivery.
func (t *Tracker) QueueLen() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

func copyMetrics(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func copyParams(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func parseUTMParams(rawURL string) map[string]string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil
	}
	var params map[string]string
	for key, values := range u.Query() {
		if !strings.HasPrefix(key, "utm_") || len(values) == 0 {
			continue
		}
		if params == nil {
			params = map[string]string{}
		}
		params[key] = values[0]
	}
	return params
}
