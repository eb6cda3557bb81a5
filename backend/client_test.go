package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lumeoai/widget-sdk-go/analytics"
)

func TestClient_GetWidget(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/widgets/w1" || r.Method != http.MethodGet {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer key-1" {
			t.Errorf("Authorization = %q", got)
		}
		_, _ = w.Write([]byte(`{"id":"w1","isActive":true,"isDeployed":true,"allowedDomains":["example.com"]}`))
	}))
	defer srv.Close()

	c, err := New(srv.URL, WithAPIKey("key-1"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	widget, err := c.GetWidget(context.Background(), "w1")
	if err != nil {
		t.Fatalf("GetWidget: %v", err)
	}
	if widget.ID != "w1" || !widget.IsActive || len(widget.AllowedDomains) != 1 {
		t.Fatalf("widget = %+v", widget)
	}
}

func TestClient_ExecuteSendsHeadersAndBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/widgets/w1/execute" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Header.Get("X-Execution-Id") != "exec-1" || r.Header.Get("X-Session-Id") != "sess-1" {
			t.Errorf("missing id headers: %v", r.Header)
		}
		var req ExecuteRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("failed to decode body: %v", err)
		}
		if string(req.Input) != `{"q":"hi"}` {
			t.Errorf("input = %s", req.Input)
		}
		_, _ = w.Write([]byte(`{"success":true,"result":{"answer":"hello"},"tokensUsed":12,"cost":0.004,"cacheHit":true}`))
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	resp, err := c.Execute(context.Background(), "w1", ExecuteRequest{
		Input:       json.RawMessage(`{"q":"hi"}`),
		SessionID:   "sess-1",
		ExecutionID: "exec-1",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !resp.Success || resp.TokensUsed != 12 || !resp.CacheHit {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestClient_NonSuccessStatusYieldsStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	_, err := c.Execute(context.Background(), "w1", ExecuteRequest{})
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if statusErr.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("StatusCode = %d", statusErr.StatusCode)
	}
}

func TestClient_TimeoutIsBounded(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-block
	}))
	defer srv.Close()
	defer close(block)

	c, _ := New(srv.URL, WithTimeout(50*time.Millisecond))
	start := time.Now()
	_, err := c.GetWidget(context.Background(), "w1")
	if err == nil {
		t.Fatal("expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("request not bounded by timeout, took %v", elapsed)
	}
}

func TestClient_PublishEventBatch(t *testing.T) {
	var received struct {
		Events []analytics.Event `json:"events"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/analytics/events/batch" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&received)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	events := []analytics.Event{
		{ID: "e1", Type: analytics.EventView, WidgetID: "w1"},
		{ID: "e2", Type: analytics.EventScroll, WidgetID: "w1"},
	}
	if err := c.PublishEventBatch(context.Background(), events); err != nil {
		t.Fatalf("PublishEventBatch: %v", err)
	}
	if len(received.Events) != 2 || received.Events[0].ID != "e1" {
		t.Fatalf("received = %+v", received.Events)
	}
}

func TestClient_PublishEventBatchSkipsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request sent for empty batch")
	}))
	defer srv.Close()

	c, _ := New(srv.URL)
	if err := c.PublishEventBatch(context.Background(), nil); err != nil {
		t.Fatalf("PublishEventBatch(nil): %v", err)
	}
}

func TestNew_RequiresBaseURL(t *testing.T) {
	if _, err := New("   "); err == nil {
		t.Fatal("New with blank base url succeeded")
	}
}
