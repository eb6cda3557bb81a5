// Package protocol defines the typed message vocabulary exchanged with a
// host page and the per-connection dispatcher that routes inbound frames.
//
// Frames travel both directions inside a single envelope. Inbound frames
// are schema-validated before dispatch; outbound frames are built through
// the constructors below so connection and session identifiers and the
// timestamp are always stamped.
package protocol

import (
	"encoding/json"
	"time"
)

// Inbound frame types, host page to widget.
const (
	TypePing           = "ping"
	TypeInitConfig     = "init_config"
	TypeResize         = "resize"
	TypeThemeUpdate    = "theme_update"
	TypeUserInput      = "user_input"
	TypeWidgetCommand  = "widget_command"
	TypeAnalyticsEvent = "analytics_event"
)

// Outbound frame types, widget to host page.
const (
	TypePong                  = "pong"
	TypeWidgetReady           = "widget_ready"
	TypeWidgetResponse        = "widget_response"
	TypeWidgetError           = "widget_error"
	TypeWidgetPaused          = "widget_paused"
	TypeWidgetResumed         = "widget_resumed"
	TypeWidgetReset           = "widget_reset"
	TypeHeartbeat             = "heartbeat"
	TypeConnectionEstablished = "widget_connection_established"
)

// Commands carried by a widget_command frame.
const (
	CommandPause  = "pause"
	CommandResume = "resume"
	CommandReset  = "reset"
	CommandClose  = "close"
)

// Frame is the wire envelope. Timestamp is unix milliseconds.
type Frame struct {
	Type         string          `json:"type"`
	ConnectionID string          `json:"connectionId,omitempty"`
	SessionID    string          `json:"sessionId,omitempty"`
	Timestamp    int64           `json:"timestamp"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// InitConfigPayload carries the host-provided configuration delivered
// during the handshake.
type InitConfigPayload struct {
	Config map[string]any `json:"config"`
}

// ResizePayload carries new widget dimensions.
type ResizePayload struct {
	Dimensions Dimensions `json:"dimensions"`
}

type Dimensions struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// ThemeUpdatePayload carries theme variable overrides.
type ThemeUpdatePayload struct {
	Theme map[string]string `json:"theme"`
}

// UserInputPayload carries the opaque input forwarded to execution.
type UserInputPayload struct {
	Input json.RawMessage `json:"input"`
}

// WidgetCommandPayload carries a lifecycle command.
type WidgetCommandPayload struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

// AnalyticsEventPayload carries a host-reported analytics event.
type AnalyticsEventPayload struct {
	Event struct {
		Type string         `json:"type"`
		Name string         `json:"name,omitempty"`
		Data map[string]any `json:"data,omitempty"`
	} `json:"event"`
}

func newFrame(frameType, connectionID, sessionID string, now time.Time, payload any) Frame {
	frame := Frame{
		Type:         frameType,
		ConnectionID: connectionID,
		SessionID:    sessionID,
		Timestamp:    now.UnixMilli(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err == nil {
			frame.Payload = raw
		}
	}
	return frame
}

func Pong(connectionID, sessionID, status string, now time.Time) Frame {
	return newFrame(TypePong, connectionID, sessionID, now, map[string]string{"status": status})
}

func WidgetReady(connectionID, sessionID string, now time.Time) Frame {
	return newFrame(TypeWidgetReady, connectionID, sessionID, now, nil)
}

func WidgetResponse(connectionID, sessionID string, result any, now time.Time) Frame {
	return newFrame(TypeWidgetResponse, connectionID, sessionID, now, map[string]any{"result": result})
}

func WidgetError(connectionID, sessionID, code, message string, now time.Time) Frame {
	return newFrame(TypeWidgetError, connectionID, sessionID, now, map[string]string{
		"code":  code,
		"error": message,
	})
}

func WidgetPaused(connectionID string, now time.Time) Frame {
	return newFrame(TypeWidgetPaused, connectionID, "", now, nil)
}

func WidgetResumed(connectionID string, now time.Time) Frame {
	return newFrame(TypeWidgetResumed, connectionID, "", now, nil)
}

func WidgetReset(connectionID string, now time.Time) Frame {
	return newFrame(TypeWidgetReset, connectionID, "", now, nil)
}

func Heartbeat(connectionID string, now time.Time) Frame {
	return newFrame(TypeHeartbeat, connectionID, "", now, nil)
}

func ConnectionEstablished(connectionID, sessionID string, now time.Time) Frame {
	return newFrame(TypeConnectionEstablished, connectionID, sessionID, now, nil)
}
