// Package backend is the REST client for the widget platform API: widget
// descriptors, widget execution, and analytics ingestion.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/lumeoai/widget-sdk-go/analytics"
	"github.com/lumeoai/widget-sdk-go/types"
)

const defaultTimeout = 10 * time.Second

// StatusError is returned for any non-2xx response so callers can branch
// on the HTTP status code.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Body)
}

type Client struct {
	baseURL    string
	apiKey     string
	timeout    time.Duration
	httpClient *http.Client
}

type Option func(*Client)

func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithTimeout bounds every request, including the descriptor fetch that
// backs connection establishment.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

func New(baseURL string, opts ...Option) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("backend base url is required")
	}

	c := &Client{
		baseURL: baseURL,
		timeout: defaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	return c, nil
}

// GetWidget fetches the widget descriptor.
func (c *Client) GetWidget(ctx context.Context, widgetID string) (types.Widget, error) {
	if strings.TrimSpace(widgetID) == "" {
		return types.Widget{}, fmt.Errorf("widget id is required")
	}

	var widget types.Widget
	err := c.do(ctx, http.MethodGet, "/widgets/"+widgetID, nil, nil, &widget)
	if err != nil {
		return types.Widget{}, fmt.Errorf("failed to fetch widget %q: %w", widgetID, err)
	}
	return widget, nil
}

// ExecuteRequest is the body of POST /widgets/:id/execute.
type ExecuteRequest struct {
	Input       json.RawMessage `json:"input"`
	SessionID   string          `json:"sessionId"`
	ExecutionID string          `json:"executionId"`
	Context     map[string]any  `json:"context,omitempty"`
}

// ExecuteResponse is the application-level result. A 2xx response with
// Success=false carries a terminal application error, not a transport one.
type ExecuteResponse struct {
	Success    bool            `json:"success"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	TokensUsed int             `json:"tokensUsed,omitempty"`
	Cost       float64         `json:"cost,omitempty"`
	CacheHit   bool            `json:"cacheHit,omitempty"`
}

func (c *Client) Execute(ctx context.Context, widgetID string, req ExecuteRequest) (ExecuteResponse, error) {
	if strings.TrimSpace(widgetID) == "" {
		return ExecuteResponse{}, fmt.Errorf("widget id is required")
	}

	headers := map[string]string{
		"X-Execution-Id": req.ExecutionID,
		"X-Session-Id":   req.SessionID,
	}
	var resp ExecuteResponse
	err := c.do(ctx, http.MethodPost, "/widgets/"+widgetID+"/execute", headers, req, &resp)
	if err != nil {
		return ExecuteResponse{}, err
	}
	return resp, nil
}

// PublishEventBatch implements analytics.BatchPublisher.
func (c *Client) PublishEventBatch(ctx context.Context, events []analytics.Event) error {
	if len(events) == 0 {
		return nil
	}
	body := map[string]any{"events": events}
	if err := c.do(ctx, http.MethodPost, "/analytics/events/batch", nil, body, nil); err != nil {
		return fmt.Errorf("failed to publish event batch: %w", err)
	}
	return nil
}

// PublishWidgetEvents implements analytics.SessionPublisher.
func (c *Client) PublishWidgetEvents(ctx context.Context, summary analytics.SessionSummary) error {
	if err := c.do(ctx, http.MethodPost, "/analytics/widget-events", nil, summary, nil); err != nil {
		return fmt.Errorf("failed to publish widget events: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, headers map[string]string, body, out any) error {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range headers {
		if v != "" {
			req.Header.Set(k, v)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	if out != nil && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("failed to decode response body: %w", err)
		}
	}
	return nil
}
