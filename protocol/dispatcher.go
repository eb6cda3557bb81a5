package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lumeoai/widget-sdk-go/analytics"
	"github.com/lumeoai/widget-sdk-go/engine"
	"github.com/lumeoai/widget-sdk-go/store"
	"github.com/lumeoai/widget-sdk-go/types"
)

// ErrOriginMismatch is returned when an inbound frame's origin does not
// match the origin negotiated at establishment. The frame is dropped.
var ErrOriginMismatch = errors.New("protocol: frame origin does not match connection origin")

// Sender posts outbound frames to the host page. Satisfied by any
// channel implementation.
type Sender interface {
	Send(ctx context.Context, frame Frame) error
}

// Executor runs widget logic for user_input frames.
type Executor interface {
	Execute(ctx context.Context, widgetID string, input json.RawMessage, execCtx engine.Context) engine.Result
}

// ConnectionControl is the slice of the connection manager the
// dispatcher drives for lifecycle commands and activity tracking.
type ConnectionControl interface {
	Pause(ctx context.Context, connectionID string) error
	Resume(ctx context.Context, connectionID string) error
	Close(connectionID string) error
	Touch(connectionID string)
	SetMetadata(connectionID, key string, value any)
	Status(connectionID string) string
}

// Dispatcher routes inbound frames for exactly one connection. Every
// outbound reply goes through the connection's own sender, so it can
// only ever reach the origin negotiated at establishment.
type Dispatcher struct {
	connectionID string
	widgetID     string
	sessionID    string
	parentOrigin string

	sender   Sender
	executor Executor
	control  ConnectionControl
	state    store.Store
	sink     analytics.Sink
	execCtx  engine.Context
	logf     func(format string, args ...any)
	now      func() time.Time
}

type DispatcherOption func(*Dispatcher)

// WithExecutor wires the execution engine for user_input frames.
func WithExecutor(executor Executor) DispatcherOption {
	return func(d *Dispatcher) { d.executor = executor }
}

// WithStateStore wires the store holding widget-scoped local state.
func WithStateStore(st store.Store) DispatcherOption {
	return func(d *Dispatcher) { d.state = st }
}

// WithSink wires the sink receiving host-reported analytics events.
func WithSink(sink analytics.Sink) DispatcherOption {
	return func(d *Dispatcher) {
		if sink != nil {
			d.sink = sink
		}
	}
}

// WithExecutionContext seeds the execution context forwarded on every
// user_input frame (user agent, page URL, locale hints).
func WithExecutionContext(execCtx engine.Context) DispatcherOption {
	return func(d *Dispatcher) { d.execCtx = execCtx }
}

func WithLogf(logf func(format string, args ...any)) DispatcherOption {
	return func(d *Dispatcher) {
		if logf != nil {
			d.logf = logf
		}
	}
}

func WithDispatcherNow(now func() time.Time) DispatcherOption {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

// NewDispatcher binds a dispatcher to one established connection.
func NewDispatcher(connectionID, widgetID, sessionID, parentOrigin string, sender Sender, control ConnectionControl, opts ...DispatcherOption) (*Dispatcher, error) {
	if connectionID == "" || widgetID == "" || parentOrigin == "" {
		return nil, errors.New("connection id, widget id and parent origin are required")
	}
	if sender == nil {
		return nil, errors.New("sender is required")
	}
	if control == nil {
		return nil, errors.New("connection control is required")
	}

	d := &Dispatcher{
		connectionID: connectionID,
		widgetID:     widgetID,
		sessionID:    sessionID,
		parentOrigin: parentOrigin,
		sender:       sender,
		control:      control,
		sink:         analytics.NoopSink{},
		logf:         func(string, ...any) {},
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// Dispatch routes one inbound frame. Frames from any origin other than
// the connection's parent origin are logged and dropped before any state
// is touched, as are frames that fail payload validation.
func (d *Dispatcher) Dispatch(ctx context.Context, origin string, frame Frame) error {
	if origin != d.parentOrigin {
		d.logf("dropping %s frame on connection %s: origin %q does not match %q", frame.Type, d.connectionID, origin, d.parentOrigin)
		d.emitError("origin_mismatch", fmt.Sprintf("frame origin %q rejected", origin))
		return ErrOriginMismatch
	}
	if err := ValidateInbound(frame); err != nil {
		d.logf("dropping frame on connection %s: %v", d.connectionID, err)
		d.emitError("invalid_frame", err.Error())
		return err
	}

	d.control.Touch(d.connectionID)

	switch frame.Type {
	case TypePing:
		return d.send(ctx, Pong(d.connectionID, d.sessionID, d.control.Status(d.connectionID), d.now()))
	case TypeInitConfig:
		return d.handleInitConfig(ctx, frame)
	case TypeResize:
		return d.handleResize(frame)
	case TypeThemeUpdate:
		return d.handleThemeUpdate(frame)
	case TypeUserInput:
		return d.handleUserInput(ctx, frame)
	case TypeWidgetCommand:
		return d.handleCommand(ctx, frame)
	case TypeAnalyticsEvent:
		return d.handleAnalyticsEvent(ctx, frame)
	}
	return nil
}

func (d *Dispatcher) handleInitConfig(ctx context.Context, frame Frame) error {
	var payload InitConfigPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return fmt.Errorf("decode init_config: %w", err)
	}
	d.control.SetMetadata(d.connectionID, "config", payload.Config)
	return d.send(ctx, WidgetReady(d.connectionID, d.sessionID, d.now()))
}

func (d *Dispatcher) handleResize(frame Frame) error {
	var payload ResizePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return fmt.Errorf("decode resize: %w", err)
	}
	d.control.SetMetadata(d.connectionID, "dimensions", payload.Dimensions)
	return nil
}

func (d *Dispatcher) handleThemeUpdate(frame Frame) error {
	var payload ThemeUpdatePayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return fmt.Errorf("decode theme_update: %w", err)
	}
	d.control.SetMetadata(d.connectionID, "theme", payload.Theme)
	return nil
}

func (d *Dispatcher) handleUserInput(ctx context.Context, frame Frame) error {
	if d.executor == nil {
		return d.send(ctx, WidgetError(d.connectionID, d.sessionID, "execution_error", "execution is not configured", d.now()))
	}
	var payload UserInputPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return fmt.Errorf("decode user_input: %w", err)
	}

	execCtx := d.execCtx
	execCtx.SessionID = d.sessionID
	execCtx.Origin = d.parentOrigin

	result := d.executor.Execute(ctx, d.widgetID, payload.Input, execCtx)
	if result.Status == types.ExecutionFailed || result.Error != "" {
		return d.send(ctx, WidgetError(d.connectionID, d.sessionID, string(result.Code), result.Error, d.now()))
	}
	return d.send(ctx, WidgetResponse(d.connectionID, d.sessionID, result, d.now()))
}

func (d *Dispatcher) handleCommand(ctx context.Context, frame Frame) error {
	var payload WidgetCommandPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return fmt.Errorf("decode widget_command: %w", err)
	}

	switch payload.Command {
	case CommandPause:
		return d.control.Pause(ctx, d.connectionID)
	case CommandResume:
		return d.control.Resume(ctx, d.connectionID)
	case CommandReset:
		return d.handleReset(ctx)
	case CommandClose:
		return d.control.Close(d.connectionID)
	}
	return fmt.Errorf("unknown widget command %q", payload.Command)
}

// handleReset clears the widget's locally stored state for this session
// and confirms with a widget_reset frame.
func (d *Dispatcher) handleReset(ctx context.Context) error {
	if d.state != nil {
		key := store.WidgetStateKey(d.widgetID, d.sessionID)
		if err := d.state.Delete(ctx, key); err != nil && !errors.Is(err, store.ErrNotFound) {
			d.logf("failed to clear widget state for connection %s: %v", d.connectionID, err)
		}
	}
	return d.send(ctx, WidgetReset(d.connectionID, d.now()))
}

func (d *Dispatcher) handleAnalyticsEvent(ctx context.Context, frame Frame) error {
	var payload AnalyticsEventPayload
	if err := json.Unmarshal(frame.Payload, &payload); err != nil {
		return fmt.Errorf("decode analytics_event: %w", err)
	}

	data := make(map[string]any, len(payload.Event.Data)+2)
	for k, v := range payload.Event.Data {
		data[k] = v
	}
	data["connectionId"] = d.connectionID
	data["parentOrigin"] = d.parentOrigin
	if payload.Event.Name != "" {
		data["name"] = payload.Event.Name
	}

	event := analytics.Event{
		Type:      analytics.EventType(payload.Event.Type),
		WidgetID:  d.widgetID,
		SessionID: d.sessionID,
		Data:      data,
	}
	event.Normalize()
	return d.sink.Emit(ctx, event)
}

func (d *Dispatcher) send(ctx context.Context, frame Frame) error {
	if err := d.sender.Send(ctx, frame); err != nil {
		d.logf("failed to send %s frame on connection %s: %v", frame.Type, d.connectionID, err)
		return err
	}
	return nil
}

func (d *Dispatcher) emitError(code, message string) {
	event := analytics.Event{
		Type:      analytics.EventError,
		WidgetID:  d.widgetID,
		SessionID: d.sessionID,
		Data: map[string]any{
			"connectionId": d.connectionID,
			"code":         code,
			"message":      message,
		},
	}
	event.Normalize()
	_ = d.sink.Emit(context.Background(), event)
}
