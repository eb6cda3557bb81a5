package connection

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lumeoai/widget-sdk-go/analytics"
	"github.com/lumeoai/widget-sdk-go/channel"
	"github.com/lumeoai/widget-sdk-go/protocol"
	"github.com/lumeoai/widget-sdk-go/types"
)

const testOrigin = "https://shop.example.com"

type fakeFetcher struct {
	widget types.Widget
	err    error
}

func (f *fakeFetcher) GetWidget(ctx context.Context, widgetID string) (types.Widget, error) {
	_ = ctx
	_ = widgetID
	if f.err != nil {
		return types.Widget{}, f.err
	}
	return f.widget, nil
}

type lockedSink struct {
	mu     sync.Mutex
	events []analytics.Event
}

func (s *lockedSink) Emit(ctx context.Context, event analytics.Event) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *lockedSink) byType(eventType analytics.EventType) []analytics.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []analytics.Event
	for _, event := range s.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

func allowedWidget() types.Widget {
	return types.Widget{ID: "w1", IsActive: true, AllowedDomains: []string{"shop.example.com"}}
}

func newTestManager(t *testing.T, fetcher WidgetFetcher, opts ...Option) *Manager {
	t.Helper()
	m, err := NewManager(fetcher, opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { m.CloseAll() })
	return m
}

// receiveType drains frames from the host end until one of the wanted
// type arrives.
func receiveType(t *testing.T, host channel.Channel, frameType string) protocol.Frame {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		frame, err := host.Receive(ctx)
		if err != nil {
			t.Fatalf("waiting for %s frame: %v", frameType, err)
		}
		if frame.Type == frameType {
			return frame
		}
	}
}

func TestEstablish_Success(t *testing.T) {
	sink := &lockedSink{}
	m := newTestManager(t, &fakeFetcher{widget: allowedWidget()}, WithSink(sink))
	host, widget := channel.NewPair(testOrigin)

	conn, err := m.Establish(context.Background(), EstablishRequest{
		WidgetID:  "w1",
		SessionID: "session-123",
		UserAgent: "Mozilla/5.0 (Windows NT 10.0) Chrome/120.0.0.0 Safari/537.36",
		Channel:   widget,
	})
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	if conn.ID == "" || !conn.IsActive || conn.ParentOrigin != testOrigin {
		t.Fatalf("conn = %+v", conn)
	}
	if conn.DeviceInfo.BrowserName != "Chrome" || conn.DeviceInfo.OS != "Windows" {
		t.Fatalf("device info = %+v", conn.DeviceInfo)
	}
	if m.Len() != 1 {
		t.Fatalf("connections = %d", m.Len())
	}

	frame := receiveType(t, host, protocol.TypeConnectionEstablished)
	if frame.ConnectionID != conn.ID || frame.SessionID != "session-123" {
		t.Fatalf("frame = %+v", frame)
	}

	views := sink.byType(analytics.EventView)
	if len(views) != 1 || views[0].Data["action"] != "connection_established" {
		t.Fatalf("views = %+v", views)
	}
}

func TestEstablish_FailuresLeaveNoRecord(t *testing.T) {
	cases := []struct {
		name    string
		fetcher *fakeFetcher
		req     EstablishRequest
	}{
		{
			"origin not allowed",
			&fakeFetcher{widget: allowedWidget()},
			EstablishRequest{WidgetID: "w1", ParentOrigin: "https://evil.com"},
		},
		{
			"inactive widget",
			&fakeFetcher{widget: types.Widget{ID: "w1"}},
			EstablishRequest{WidgetID: "w1"},
		},
		{
			"fetch failure",
			&fakeFetcher{err: errors.New("backend down")},
			EstablishRequest{WidgetID: "w1"},
		},
		{
			"missing widget id",
			&fakeFetcher{widget: allowedWidget()},
			EstablishRequest{},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sink := &lockedSink{}
			m := newTestManager(t, tc.fetcher, WithSink(sink))
			_, widget := channel.NewPair(testOrigin)
			req := tc.req
			req.Channel = widget

			if _, err := m.Establish(context.Background(), req); err == nil {
				t.Fatal("expected establishment to fail")
			}
			if m.Len() != 0 {
				t.Fatalf("partial record left behind: %d connections", m.Len())
			}
			if len(sink.byType(analytics.EventError)) != 1 {
				t.Fatalf("events = %+v", sink.events)
			}
		})
	}
}

func TestEstablish_TokenChecks(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	m := newTestManager(t, &fakeFetcher{widget: allowedWidget()},
		WithNow(func() time.Time { return now }))

	cases := []struct {
		name    string
		token   string
		wantErr error
	}{
		{"fresh token", EncodeToken("w1", now.Add(-time.Hour)), nil},
		{"expired token", EncodeToken("w1", now.Add(-25*time.Hour)), ErrTokenExpired},
		{"other widget's token", EncodeToken("w2", now), ErrTokenMismatch},
		{"garbage token", "not-base64!", ErrTokenMalformed},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, widget := channel.NewPair(testOrigin)
			conn, err := m.Establish(context.Background(), EstablishRequest{
				WidgetID: "w1",
				Token:    tc.token,
				Channel:  widget,
			})
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("Establish: %v", err)
				}
				m.Close(conn.ID)
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("err = %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestPump_RoutesInboundFrames(t *testing.T) {
	m := newTestManager(t, &fakeFetcher{widget: allowedWidget()})
	host, widget := channel.NewPair(testOrigin)

	conn, err := m.Establish(context.Background(), EstablishRequest{
		WidgetID:  "w1",
		SessionID: "session-123",
		Channel:   widget,
	})
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}
	receiveType(t, host, protocol.TypeConnectionEstablished)

	err = host.Send(context.Background(), protocol.Frame{
		Type:      protocol.TypePing,
		Timestamp: time.Now().UnixMilli(),
	})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	pong := receiveType(t, host, protocol.TypePong)
	if pong.ConnectionID != conn.ID {
		t.Fatalf("pong = %+v", pong)
	}

	var payload map[string]string
	if err := json.Unmarshal(pong.Payload, &payload); err != nil {
		t.Fatalf("decode pong: %v", err)
	}
	if payload["status"] != "active" {
		t.Fatalf("status = %q", payload["status"])
	}
}

func TestPauseResume(t *testing.T) {
	m := newTestManager(t, &fakeFetcher{widget: allowedWidget()})
	host, widget := channel.NewPair(testOrigin)

	conn, err := m.Establish(context.Background(), EstablishRequest{WidgetID: "w1", Channel: widget})
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}

	if err := m.Pause(context.Background(), conn.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	receiveType(t, host, protocol.TypeWidgetPaused)
	if m.Status(conn.ID) != "paused" {
		t.Fatalf("status = %q", m.Status(conn.ID))
	}

	if err := m.Resume(context.Background(), conn.ID); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	receiveType(t, host, protocol.TypeWidgetResumed)
	if m.Status(conn.ID) != "active" {
		t.Fatalf("status = %q", m.Status(conn.ID))
	}

	if err := m.Pause(context.Background(), "nope"); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("Pause unknown = %v", err)
	}
}

func TestHeartbeat_SkipsPausedConnections(t *testing.T) {
	m := newTestManager(t, &fakeFetcher{widget: allowedWidget()},
		WithHeartbeatInterval(10*time.Millisecond))

	activeHost, activeWidget := channel.NewPair(testOrigin)
	pausedHost, pausedWidget := channel.NewPair(testOrigin)

	_, err := m.Establish(context.Background(), EstablishRequest{WidgetID: "w1", Channel: activeWidget})
	if err != nil {
		t.Fatalf("Establish active: %v", err)
	}
	paused, err := m.Establish(context.Background(), EstablishRequest{WidgetID: "w1", Channel: pausedWidget})
	if err != nil {
		t.Fatalf("Establish paused: %v", err)
	}
	if err := m.Pause(context.Background(), paused.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	receiveType(t, pausedHost, protocol.TypeWidgetPaused)

	m.StartHeartbeat()
	receiveType(t, activeHost, protocol.TypeHeartbeat)

	// The paused end must stay silent for several intervals.
	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	for {
		frame, err := pausedHost.Receive(ctx)
		if err != nil {
			break
		}
		if frame.Type == protocol.TypeHeartbeat {
			t.Fatal("paused connection received a heartbeat")
		}
	}
}

func TestClose_RemovesRecordAndReportsDuration(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	sink := &lockedSink{}
	m := newTestManager(t, &fakeFetcher{widget: allowedWidget()},
		WithSink(sink),
		WithNow(func() time.Time { return *clock }))

	host, widget := channel.NewPair(testOrigin)
	conn, err := m.Establish(context.Background(), EstablishRequest{WidgetID: "w1", Channel: widget})
	if err != nil {
		t.Fatalf("Establish: %v", err)
	}

	later := now.Add(90 * time.Second)
	*clock = later
	if err := m.Close(conn.ID); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if m.Len() != 0 {
		t.Fatalf("connections = %d", m.Len())
	}
	if _, err := host.Receive(contextWithShortTimeout()); !errors.Is(err, channel.ErrClosed) {
		// The confirmation frame may still be queued; drain it.
		if _, err := host.Receive(contextWithShortTimeout()); !errors.Is(err, channel.ErrClosed) {
			t.Fatalf("channel still open after close: %v", err)
		}
	}

	var closed []analytics.Event
	for _, event := range sink.byType(analytics.EventView) {
		if event.Data["action"] == "connection_closed" {
			closed = append(closed, event)
		}
	}
	if len(closed) != 1 {
		t.Fatalf("close events = %+v", closed)
	}
	if duration, ok := closed[0].Data["duration"].(int64); !ok || duration != later.Sub(now).Milliseconds() {
		t.Fatalf("duration = %v", closed[0].Data["duration"])
	}

	if err := m.Close(conn.ID); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func contextWithShortTimeout() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	_ = cancel
	return ctx
}

func TestCloseAll(t *testing.T) {
	m := newTestManager(t, &fakeFetcher{widget: allowedWidget()})
	for i := 0; i < 3; i++ {
		_, widget := channel.NewPair(testOrigin)
		if _, err := m.Establish(context.Background(), EstablishRequest{WidgetID: "w1", Channel: widget}); err != nil {
			t.Fatalf("Establish %d: %v", i, err)
		}
	}
	if m.Len() != 3 {
		t.Fatalf("connections = %d", m.Len())
	}
	if err := m.CloseAll(); err != nil {
		t.Fatalf("CloseAll: %v", err)
	}
	if m.Len() != 0 {
		t.Fatalf("connections = %d", m.Len())
	}
}

func TestTokenRoundTrip(t *testing.T) {
	issued := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	token, err := DecodeToken(EncodeToken("w1", issued))
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if token.WidgetID != "w1" || token.Timestamp != issued.UnixMilli() {
		t.Fatalf("token = %+v", token)
	}
}

func TestParseUserAgent(t *testing.T) {
	cases := []struct {
		name        string
		userAgent   string
		wantType    types.DeviceType
		wantOS      string
		wantBrowser string
	}{
		{
			"chrome on windows",
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0.0.0 Safari/537.36",
			types.DeviceDesktop, "Windows", "Chrome",
		},
		{
			"safari on iphone",
			"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 Version/17.0 Mobile/15E148 Safari/604.1",
			types.DeviceMobile, "iOS", "Safari",
		},
		{
			"firefox on linux",
			"Mozilla/5.0 (X11; Linux x86_64; rv:120.0) Gecko/20100101 Firefox/120.0",
			types.DeviceDesktop, "Linux", "Firefox",
		},
		{
			"android tablet",
			"Mozilla/5.0 (Linux; Android 13; SM-X710) AppleWebKit/537.36 Chrome/120.0.0.0 Safari/537.36",
			types.DeviceTablet, "Android", "Chrome",
		},
		{
			"edge on mac",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 Chrome/120.0.0.0 Safari/537.36 Edg/120.0.0.0",
			types.DeviceDesktop, "macOS", "Edge",
		},
		{"empty", "", types.DeviceDesktop, "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			info := ParseUserAgent(tc.userAgent)
			if info.Type != tc.wantType {
				t.Fatalf("type = %s, want %s", info.Type, tc.wantType)
			}
			if info.OS != tc.wantOS {
				t.Fatalf("os = %q, want %q", info.OS, tc.wantOS)
			}
			if info.BrowserName != tc.wantBrowser {
				t.Fatalf("browser = %q, want %q", info.BrowserName, tc.wantBrowser)
			}
		})
	}
}
