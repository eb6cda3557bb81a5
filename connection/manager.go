// Package connection owns the lifecycle of embedded widget connections:
// establishment with origin and token checks, the per-connection frame
// pump, pause/resume/close transitions, and the heartbeat loop.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lumeoai/widget-sdk-go/analytics"
	"github.com/lumeoai/widget-sdk-go/channel"
	"github.com/lumeoai/widget-sdk-go/engine"
	"github.com/lumeoai/widget-sdk-go/origin"
	"github.com/lumeoai/widget-sdk-go/protocol"
	"github.com/lumeoai/widget-sdk-go/store"
	"github.com/lumeoai/widget-sdk-go/types"
)

const defaultHeartbeatInterval = 30 * time.Second

var (
	ErrUnknownConnection = errors.New("connection: unknown connection id")
	ErrOriginNotAllowed  = errors.New("connection: origin not allowed for widget")
	ErrWidgetInactive    = errors.New("connection: widget is not active")
)

// WidgetFetcher is the slice of the backend client establishment needs.
type WidgetFetcher interface {
	GetWidget(ctx context.Context, widgetID string) (types.Widget, error)
}

// Conn is the record of one established connection.
type Conn struct {
	ID           string            `json:"connectionId"`
	WidgetID     string            `json:"widgetId"`
	ParentOrigin string            `json:"parentOrigin"`
	SessionID    string            `json:"sessionId"`
	IsActive     bool              `json:"isActive"`
	Established  time.Time         `json:"established"`
	LastActivity time.Time         `json:"lastActivity"`
	DeviceInfo   types.DeviceInfo  `json:"deviceInfo"`
	Geolocation  types.Geolocation `json:"geolocation,omitempty"`
	Metadata     map[string]any    `json:"metadata,omitempty"`

	ch         channel.Channel
	dispatcher *protocol.Dispatcher
	stopPump   context.CancelFunc
}

// EstablishRequest carries everything needed to bring up a connection.
type EstablishRequest struct {
	WidgetID     string
	ParentOrigin string
	SessionID    string
	Token        string
	UserAgent    string
	Geolocation  types.Geolocation
	Channel      channel.Channel
}

// Manager owns the connection table. Safe for concurrent use.
type Manager struct {
	backend  WidgetFetcher
	state    store.Store
	sink     analytics.Sink
	executor protocol.Executor

	heartbeatInterval time.Duration
	logf              func(format string, args ...any)
	now               func() time.Time

	mu    sync.RWMutex
	conns map[string]*Conn

	heartbeatStop chan struct{}
	heartbeatOnce sync.Once
	wg            sync.WaitGroup
}

type Option func(*Manager)

// WithExecutor wires the execution engine driven by user_input frames.
func WithExecutor(executor protocol.Executor) Option {
	return func(m *Manager) { m.executor = executor }
}

// WithStateStore wires the store for widget-scoped local state.
func WithStateStore(st store.Store) Option {
	return func(m *Manager) { m.state = st }
}

func WithSink(sink analytics.Sink) Option {
	return func(m *Manager) {
		if sink != nil {
			m.sink = sink
		}
	}
}

func WithHeartbeatInterval(interval time.Duration) Option {
	return func(m *Manager) {
		if interval > 0 {
			m.heartbeatInterval = interval
		}
	}
}

func WithLogf(logf func(format string, args ...any)) Option {
	return func(m *Manager) {
		if logf != nil {
			m.logf = logf
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

func NewManager(backend WidgetFetcher, opts ...Option) (*Manager, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}

	m := &Manager{
		backend:           backend,
		sink:              analytics.NoopSink{},
		heartbeatInterval: defaultHeartbeatInterval,
		logf:              func(string, ...any) {},
		now:               func() time.Time { return time.Now().UTC() },
		conns:             map[string]*Conn{},
		heartbeatStop:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Establish validates the request, registers the connection and its
// frame pump, and confirms over the channel. Any failure leaves no
// record behind.
func (m *Manager) Establish(ctx context.Context, req EstablishRequest) (*Conn, error) {
	if req.WidgetID == "" {
		return nil, m.establishFailed(req, errors.New("widget id is required"))
	}
	if req.Channel == nil {
		return nil, m.establishFailed(req, errors.New("channel is required"))
	}
	parentOrigin := req.ParentOrigin
	if parentOrigin == "" {
		parentOrigin = req.Channel.Origin()
	}
	if parentOrigin == "" {
		return nil, m.establishFailed(req, errors.New("parent origin is required"))
	}

	widget, err := m.backend.GetWidget(ctx, req.WidgetID)
	if err != nil {
		return nil, m.establishFailed(req, fmt.Errorf("fetch widget %q: %w", req.WidgetID, err))
	}
	if !widget.IsActive {
		return nil, m.establishFailed(req, fmt.Errorf("%w: %s", ErrWidgetInactive, req.WidgetID))
	}
	if !origin.Validate(parentOrigin, widget.AllowedDomains) {
		return nil, m.establishFailed(req, fmt.Errorf("%w: %s", ErrOriginNotAllowed, parentOrigin))
	}
	if req.Token != "" {
		if err := validateToken(req.Token, req.WidgetID, m.now()); err != nil {
			return nil, m.establishFailed(req, err)
		}
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	now := m.now()
	conn := &Conn{
		ID:           uuid.NewString(),
		WidgetID:     req.WidgetID,
		ParentOrigin: parentOrigin,
		SessionID:    sessionID,
		IsActive:     true,
		Established:  now,
		LastActivity: now,
		DeviceInfo:   ParseUserAgent(req.UserAgent),
		Geolocation:  req.Geolocation,
		Metadata:     map[string]any{},
		ch:           req.Channel,
	}

	dispatcher, err := protocol.NewDispatcher(conn.ID, conn.WidgetID, conn.SessionID, conn.ParentOrigin,
		req.Channel, m,
		protocol.WithExecutor(m.executor),
		protocol.WithStateStore(m.state),
		protocol.WithSink(m.sink),
		protocol.WithExecutionContext(engine.Context{UserAgent: req.UserAgent, Online: true}),
		protocol.WithLogf(m.logf),
		protocol.WithDispatcherNow(m.now),
	)
	if err != nil {
		return nil, m.establishFailed(req, err)
	}
	conn.dispatcher = dispatcher

	pumpCtx, stop := context.WithCancel(context.Background())
	conn.stopPump = stop

	m.mu.Lock()
	m.conns[conn.ID] = conn
	m.mu.Unlock()

	m.wg.Add(1)
	go m.pump(pumpCtx, conn)

	m.emitView(conn, "connection_established", map[string]any{
		"deviceType": string(conn.DeviceInfo.Type),
		"browser":    conn.DeviceInfo.BrowserName,
	})
	if err := req.Channel.Send(ctx, protocol.ConnectionEstablished(conn.ID, conn.SessionID, m.now())); err != nil {
		m.logf("failed to confirm connection %s: %v", conn.ID, err)
	}
	return conn, nil
}

// pump is the single reader of a connection's channel. It exits when
// the channel or the connection closes.
func (m *Manager) pump(ctx context.Context, conn *Conn) {
	defer m.wg.Done()
	for {
		frame, err := conn.ch.Receive(ctx)
		if err != nil {
			if !errors.Is(err, channel.ErrClosed) && !errors.Is(err, context.Canceled) {
				m.logf("connection %s receive failed: %v", conn.ID, err)
			}
			_ = m.Close(conn.ID)
			return
		}
		if err := conn.dispatcher.Dispatch(ctx, conn.ch.Origin(), frame); err != nil {
			m.logf("connection %s dropped %s frame: %v", conn.ID, frame.Type, err)
		}
	}
}

// Pause suppresses the connection's heartbeat. Frames are still
// received and processed.
func (m *Manager) Pause(ctx context.Context, connectionID string) error {
	conn, err := m.setActive(connectionID, false)
	if err != nil {
		return err
	}
	return conn.ch.Send(ctx, protocol.WidgetPaused(connectionID, m.now()))
}

func (m *Manager) Resume(ctx context.Context, connectionID string) error {
	conn, err := m.setActive(connectionID, true)
	if err != nil {
		return err
	}
	return conn.ch.Send(ctx, protocol.WidgetResumed(connectionID, m.now()))
}

func (m *Manager) setActive(connectionID string, active bool) (*Conn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn, ok := m.conns[connectionID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownConnection, connectionID)
	}
	conn.IsActive = active
	conn.LastActivity = m.now()
	return conn, nil
}

// Close stops the pump, removes the record, and reports the session
// duration. Closing an unknown connection is a no-op.
func (m *Manager) Close(connectionID string) error {
	m.mu.Lock()
	conn, ok := m.conns[connectionID]
	if ok {
		delete(m.conns, connectionID)
	}
	m.mu.Unlock()
	if !ok {
		return nil
	}

	conn.stopPump()
	err := conn.ch.Close()

	duration := m.now().Sub(conn.Established).Milliseconds()
	if duration < 0 {
		duration = 0
	}
	m.emitView(conn, "connection_closed", map[string]any{"duration": duration})
	return err
}

// CloseAll tears down every connection and stops the heartbeat loop.
func (m *Manager) CloseAll() error {
	m.heartbeatOnce.Do(func() { close(m.heartbeatStop) })

	m.mu.RLock()
	ids := make([]string, 0, len(m.conns))
	for id := range m.conns {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	var firstErr error
	for _, id := range ids {
		if err := m.Close(id); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	m.wg.Wait()
	return firstErr
}

// Touch records inbound activity on a connection.
func (m *Manager) Touch(connectionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.conns[connectionID]; ok {
		conn.LastActivity = m.now()
	}
}

// SetMetadata stores host-provided values on the connection record.
func (m *Manager) SetMetadata(connectionID, key string, value any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if conn, ok := m.conns[connectionID]; ok {
		conn.Metadata[key] = value
	}
}

// Status reports active, paused, or unknown for a connection.
func (m *Manager) Status(connectionID string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[connectionID]
	switch {
	case !ok:
		return "unknown"
	case conn.IsActive:
		return "active"
	default:
		return "paused"
	}
}

// Get returns a snapshot of a connection record.
func (m *Manager) Get(connectionID string) (Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.conns[connectionID]
	if !ok {
		return Conn{}, false
	}
	return *conn, true
}

// Len reports the number of live connections.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// StartHeartbeat runs the heartbeat loop until CloseAll. Paused
// connections are skipped.
func (m *Manager) StartHeartbeat() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.heartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.heartbeatStop:
				return
			case <-ticker.C:
				m.heartbeat()
			}
		}
	}()
}

func (m *Manager) heartbeat() {
	m.mu.RLock()
	active := make([]*Conn, 0, len(m.conns))
	for _, conn := range m.conns {
		if conn.IsActive {
			active = append(active, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range active {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := conn.ch.Send(ctx, protocol.Heartbeat(conn.ID, m.now())); err != nil {
			m.logf("heartbeat to connection %s failed: %v", conn.ID, err)
		}
		cancel()
	}
}

func (m *Manager) establishFailed(req EstablishRequest, err error) error {
	event := analytics.Event{
		Type:     analytics.EventError,
		WidgetID: req.WidgetID,
		Data: map[string]any{
			"stage":        "establish",
			"parentOrigin": req.ParentOrigin,
			"message":      err.Error(),
		},
	}
	event.Normalize()
	_ = m.sink.Emit(context.Background(), event)
	return err
}

func (m *Manager) emitView(conn *Conn, action string, data map[string]any) {
	payload := map[string]any{
		"action":       action,
		"connectionId": conn.ID,
		"parentOrigin": conn.ParentOrigin,
	}
	for k, v := range data {
		payload[k] = v
	}
	event := analytics.Event{
		Type:      analytics.EventView,
		WidgetID:  conn.WidgetID,
		SessionID: conn.SessionID,
		Data:      payload,
	}
	event.Normalize()
	_ = m.sink.Emit(context.Background(), event)
}

var _ protocol.ConnectionControl = (*Manager)(nil)
