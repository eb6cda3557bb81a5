package store

import (
	"fmt"
	"time"
)

// Key shapes for the runtime's persisted local state. Every backend sees
// the same keys, so records written by one process are readable by
// another sharing the store.

func RateLimitKey(widgetID, sessionID string) string {
	return fmt.Sprintf("rate_limit_%s_%s", widgetID, sessionID)
}

// UsageKey is keyed by UTC calendar date so the daily quota rolls over at
// midnight UTC regardless of the viewer's timezone.
func UsageKey(widgetID string, day time.Time) string {
	return fmt.Sprintf("widget_usage_%s_%s", widgetID, day.UTC().Format("2006-01-02"))
}

func WidgetStateKey(widgetID, sessionID string) string {
	return fmt.Sprintf("widget_state_%s_%s", widgetID, sessionID)
}
