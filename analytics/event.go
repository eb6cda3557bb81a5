package analytics

import "time"

type EventType string

const (
	EventView            EventType = "view"
	EventInteraction     EventType = "interaction"
	EventConversion      EventType = "conversion"
	EventError           EventType = "error"
	EventPerformance     EventType = "performance"
	EventAPICall         EventType = "api_call"
	EventIdentify        EventType = "identify"
	EventABTest          EventType = "ab_test"
	EventFormInteraction EventType = "form_interaction"
	EventScroll          EventType = "scroll"
)

// Event is one telemetry record. Data is free-form and is enriched with
// page context (url, referrer, userAgent, viewport) at capture time.
type Event struct {
	ID        string         `json:"id,omitempty"`
	Type      EventType      `json:"type"`
	WidgetID  string         `json:"widgetId,omitempty"`
	SessionID string         `json:"sessionId,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

func (e *Event) Normalize() {
	if e == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Type == "" {
		e.Type = EventInteraction
	}
	if e.Data == nil {
		e.Data = map[string]any{}
	}
}

// Session is the tracker-scoped record of one user's continuous
// interaction period. It is mutated by every tracked event and only
// superseded when a new tracker is constructed.
type Session struct {
	SessionID    string            `json:"sessionId"`
	StartTime    time.Time         `json:"startTime"`
	LastActivity time.Time         `json:"lastActivity"`
	PageViews    int               `json:"pageViews"`
	Interactions int               `json:"interactions"`
	Conversions  int               `json:"conversions"`
	UserID       string            `json:"userId,omitempty"`
	Referrer     string            `json:"referrer,omitempty"`
	UTMParams    map[string]string `json:"utmParams,omitempty"`
}

// PageInfo is the host-page context captured alongside every event.
type PageInfo struct {
	URL            string `json:"url,omitempty"`
	Referrer       string `json:"referrer,omitempty"`
	UserAgent      string `json:"userAgent,omitempty"`
	ViewportWidth  int    `json:"viewportWidth,omitempty"`
	ViewportHeight int    `json:"viewportHeight,omitempty"`
}

// SessionSummary is the teardown payload sent to the widget-events
// endpoint: the session record plus aggregate performance metrics.
type SessionSummary struct {
	WidgetID           string             `json:"widgetId"`
	SessionID          string             `json:"sessionId"`
	Session            Session            `json:"session"`
	Events             []Event            `json:"events,omitempty"`
	PerformanceMetrics map[string]float64 `json:"performanceMetrics,omitempty"`
}
