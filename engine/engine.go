// Package engine executes a widget's logic against the backend: access
// validation, quota and rate-limit enforcement, context enrichment, a
// bounded-retry network call, and failure classification.
//
// Execute never returns a Go error. Every failure path resolves to a
// Result with Status failed and a human-readable Error, so the protocol
// layer can always send a well-formed reply to the host page.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/google/uuid"

	"github.com/lumeoai/widget-sdk-go/analytics"
	"github.com/lumeoai/widget-sdk-go/backend"
	"github.com/lumeoai/widget-sdk-go/limiter"
	"github.com/lumeoai/widget-sdk-go/origin"
	"github.com/lumeoai/widget-sdk-go/types"
)

const minSessionIDLength = 8

type ErrorCode string

const (
	CodeValidation ErrorCode = "validation_error"
	CodeQuota      ErrorCode = "quota_exceeded"
	CodeRateLimit  ErrorCode = "rate_limit_error"
	CodePermission ErrorCode = "permission_error"
	CodeTimeout    ErrorCode = "timeout_error"
	CodeServer     ErrorCode = "server_error"
	CodeExecution  ErrorCode = "execution_error"
)

// Context carries the caller-side execution context that enriches the
// backend request.
type Context struct {
	SessionID string
	UserID    string
	Origin    string
	UserAgent string
	PageURL   string
	Referrer  string
	Timezone  string
	Language  string
	Platform  string
	Online    bool
}

// Result is the outcome of one execution. Ephemeral: the runtime never
// persists it, the backend does.
type Result struct {
	ExecutionID     string                `json:"executionId"`
	Status          types.ExecutionStatus `json:"status"`
	Result          json.RawMessage       `json:"result,omitempty"`
	TokensUsed      int                   `json:"tokensUsed,omitempty"`
	Cost            float64               `json:"cost,omitempty"`
	CacheHit        bool                  `json:"cacheHit,omitempty"`
	ExecutionTimeMs int64                 `json:"executionTime"`
	Error           string                `json:"error,omitempty"`
	Code            ErrorCode             `json:"code,omitempty"`
}

// Backend is the slice of the REST client the engine needs.
type Backend interface {
	GetWidget(ctx context.Context, widgetID string) (types.Widget, error)
	Execute(ctx context.Context, widgetID string, req backend.ExecuteRequest) (backend.ExecuteResponse, error)
}

type Engine struct {
	backend Backend
	rates   *limiter.RateLimiter
	usage   *limiter.UsageGuard
	sink    analytics.Sink
	policy  RetryPolicy
	now     func() time.Time
}

type Option func(*Engine)

func WithRetryPolicy(policy RetryPolicy) Option {
	return func(e *Engine) {
		e.policy = normalizeRetryPolicy(policy)
	}
}

func WithSink(sink analytics.Sink) Option {
	return func(e *Engine) {
		if sink != nil {
			e.sink = sink
		}
	}
}

func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func New(be Backend, rates *limiter.RateLimiter, usage *limiter.UsageGuard, opts ...Option) (*Engine, error) {
	if be == nil {
		return nil, errors.New("backend is required")
	}
	if rates == nil || usage == nil {
		return nil, errors.New("rate limiter and usage guard are required")
	}

	e := &Engine{
		backend: be,
		rates:   rates,
		usage:   usage,
		sink:    analytics.NoopSink{},
		policy:  defaultRetryPolicy(),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Execute runs one request/response cycle for the widget.
func (e *Engine) Execute(ctx context.Context, widgetID string, input json.RawMessage, execCtx Context) Result {
	executionID := uuid.NewString()
	started := e.now()

	fail := func(code ErrorCode, message string) Result {
		result := Result{
			ExecutionID:     executionID,
			Status:          types.ExecutionFailed,
			ExecutionTimeMs: e.sinceMs(started),
			Error:           message,
			Code:            code,
		}
		e.emit(ctx, analytics.Event{
			Type:      analytics.EventError,
			WidgetID:  widgetID,
			SessionID: execCtx.SessionID,
			Data: map[string]any{
				"executionId":   executionID,
				"code":          string(code),
				"message":       message,
				"executionTime": result.ExecutionTimeMs,
			},
		})
		return result
	}

	// Access validation: everything here fails fast, before any
	// quota/rate slot is consumed or network call made for execution.
	if widgetID == "" {
		return fail(CodeValidation, "widget id is required")
	}
	if len(execCtx.SessionID) < minSessionIDLength {
		return fail(CodeValidation, "session id is missing or too short")
	}

	widget, err := e.backend.GetWidget(ctx, widgetID)
	if err != nil {
		var statusErr *backend.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == 404 {
			return fail(CodeValidation, fmt.Sprintf("widget %q not found", widgetID))
		}
		code, _ := classify(err)
		return fail(code, fmt.Sprintf("failed to load widget %q: %v", widgetID, err))
	}
	if !widget.IsActive {
		return fail(CodeValidation, fmt.Sprintf("widget %q is not active", widgetID))
	}
	if !widget.IsDeployed {
		return fail(CodeValidation, fmt.Sprintf("widget %q is not deployed", widgetID))
	}
	if widget.Security.RequireAuth && execCtx.UserID == "" {
		return fail(CodeValidation, "authentication required for this widget")
	}
	if len(widget.AllowedDomains) > 0 && !origin.Validate(execCtx.Origin, widget.AllowedDomains) {
		return fail(CodeValidation, fmt.Sprintf("origin %q is not allowed for widget %q", execCtx.Origin, widgetID))
	}

	// Daily quota, then sliding-window rate limit. Both fail fast.
	allowed, err := e.usage.Allow(ctx, widgetID, widget.Security.RateLimiting.RequestsPerDay)
	if err != nil {
		return fail(CodeExecution, fmt.Sprintf("usage check failed: %v", err))
	}
	if !allowed {
		return fail(CodeQuota, "daily usage limit exceeded for this widget")
	}
	allowed, err = e.rates.Allow(ctx, widgetID, execCtx.SessionID, widget.Security.RateLimiting.RequestsPerMinute)
	if err != nil {
		return fail(CodeExecution, fmt.Sprintf("rate check failed: %v", err))
	}
	if !allowed {
		return fail(CodeRateLimit, "rate limit exceeded, slow down")
	}

	req := backend.ExecuteRequest{
		Input:       input,
		SessionID:   execCtx.SessionID,
		ExecutionID: executionID,
		Context: map[string]any{
			"executionId": executionID,
			"userId":      execCtx.UserID,
			"userAgent":   execCtx.UserAgent,
			"pageUrl":     execCtx.PageURL,
			"referrer":    execCtx.Referrer,
			"timezone":    execCtx.Timezone,
			"language":    execCtx.Language,
			"platform":    execCtx.Platform,
			"online":      execCtx.Online,
		},
	}

	resp, code, err := e.executeWithRetry(ctx, widgetID, req)
	if err != nil {
		return fail(code, err.Error())
	}
	if !resp.Success {
		message := resp.Error
		if message == "" {
			message = "widget execution failed"
		}
		return fail(CodeExecution, message)
	}

	result := Result{
		ExecutionID:     executionID,
		Status:          types.ExecutionCompleted,
		Result:          resp.Result,
		TokensUsed:      resp.TokensUsed,
		Cost:            resp.Cost,
		CacheHit:        resp.CacheHit,
		ExecutionTimeMs: e.sinceMs(started),
	}
	e.emit(ctx, analytics.Event{
		Type:      analytics.EventAPICall,
		WidgetID:  widgetID,
		SessionID: execCtx.SessionID,
		Data: map[string]any{
			"executionId":   executionID,
			"status":        string(types.ExecutionCompleted),
			"executionTime": result.ExecutionTimeMs,
			"tokensUsed":    resp.TokensUsed,
			"cost":          resp.Cost,
			"cacheHit":      resp.CacheHit,
		},
	})
	return result
}

// executeWithRetry performs the backend call with linear backoff. Only
// transport failures (timeouts, 5xx, network errors) are retried; an
// application-level failure inside a 2xx response is terminal and never
// reaches this function's retry path.
func (e *Engine) executeWithRetry(ctx context.Context, widgetID string, req backend.ExecuteRequest) (backend.ExecuteResponse, ErrorCode, error) {
	var (
		lastErr  error
		lastCode ErrorCode
	)
	for attempt := 1; attempt <= e.policy.MaxAttempts; attempt++ {
		resp, err := e.backend.Execute(ctx, widgetID, req)
		if err == nil {
			return resp, "", nil
		}

		lastErr = err
		code, retryable := classify(err)
		lastCode = code
		if !retryable || attempt == e.policy.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return backend.ExecuteResponse{}, CodeExecution, ctx.Err()
		case <-time.After(e.policy.delayForAttempt(attempt)):
		}
	}
	return backend.ExecuteResponse{}, lastCode, fmt.Errorf("widget execution failed: %w", lastErr)
}

// classify maps a call failure to its error code and whether it is a
// transport failure worth retrying. HTTP 4xx responses are terminal;
// timeouts, 5xx, and plain network errors are not.
func classify(err error) (ErrorCode, bool) {
	var statusErr *backend.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == 429:
			return CodeRateLimit, false
		case statusErr.StatusCode == 403:
			return CodePermission, false
		case statusErr.StatusCode >= 500:
			return CodeServer, true
		default:
			return CodeExecution, false
		}
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CodeTimeout, true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CodeTimeout, true
	}
	return CodeExecution, true
}

func (e *Engine) sinceMs(started time.Time) int64 {
	ms := e.now().Sub(started).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}

func (e *Engine) emit(ctx context.Context, event analytics.Event) {
	event.Normalize()
	_ = e.sink.Emit(ctx, event)
}
