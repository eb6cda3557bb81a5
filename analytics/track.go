package analytics

import "context"

// Typed convenience wrappers over TrackEvent.

func (t *Tracker) TrackPageView(ctx context.Context, data map[string]any) {
	t.TrackEvent(ctx, EventView, data)
}

func (t *Tracker) TrackInteraction(ctx context.Context, action string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["action"] = action
	t.TrackEvent(ctx, EventInteraction, data)
}

func (t *Tracker) TrackConversion(ctx context.Context, goal string, value float64) {
	t.TrackEvent(ctx, EventConversion, map[string]any{
		"goal":  goal,
		"value": value,
	})
}

func (t *Tracker) TrackError(ctx context.Context, message string, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["message"] = message
	t.TrackEvent(ctx, EventError, data)
}

// TrackPerformance records a named metric both as an event and in the
// aggregate reported with the session summary.
func (t *Tracker) TrackPerformance(ctx context.Context, metric string, value float64) {
	t.mu.Lock()
	t.perf[metric] = value
	t.mu.Unlock()

	t.TrackEvent(ctx, EventPerformance, map[string]any{
		"metric": metric,
		"value":  value,
	})
}

func (t *Tracker) TrackAPIResponse(ctx context.Context, endpoint string, statusCode int, durationMs int64) {
	t.TrackEvent(ctx, EventAPICall, map[string]any{
		"endpoint":   endpoint,
		"statusCode": statusCode,
		"durationMs": durationMs,
	})
}

// TrackFormInteraction dedupes "start" per form so repeated focus inside
// one form reports a single start; "complete" is always reported.
func (t *Tracker) TrackFormInteraction(ctx context.Context, formID, action string) {
	if action == "start" {
		t.mu.Lock()
		if t.formsTracked[formID] {
			t.mu.Unlock()
			return
		}
		t.formsTracked[formID] = true
		t.mu.Unlock()
	}

	t.TrackEvent(ctx, EventFormInteraction, map[string]any{
		"formId": formID,
		"action": action,
	})
}

// TrackScrollDepth reports each fixed threshold (25/50/75/90/100) at most
// once per session, in ascending order.
func (t *Tracker) TrackScrollDepth(ctx context.Context, percent int) {
	var crossed []int
	t.mu.Lock()
	for _, threshold := range scrollThresholds {
		if percent >= threshold && !t.scrollSeen[threshold] {
			t.scrollSeen[threshold] = true
			crossed = append(crossed, threshold)
		}
	}
	t.mu.Unlock()

	for _, threshold := range crossed {
		t.TrackEvent(ctx, EventScroll, map[string]any{"depth": threshold})
	}
}

func (t *Tracker) IdentifyUser(ctx context.Context, userID string, traits map[string]any) {
	t.mu.Lock()
	t.session.UserID = userID
	t.mu.Unlock()

	if traits == nil {
		traits = map[string]any{}
	}
	traits["userId"] = userID
	t.TrackEvent(ctx, EventIdentify, traits)
}

func (t *Tracker) TrackABTest(ctx context.Context, testName, variant string) {
	t.TrackEvent(ctx, EventABTest, map[string]any{
		"test":    testName,
		"variant": variant,
	})
}
