// Package otel bridges analytics events to OpenTelemetry tracing.
//
// It converts analytics.Event records into OTel spans so widget
// connections, executions, and telemetry are visible in any
// OpenTelemetry-compatible backend.
package otel

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/lumeoai/widget-sdk-go/analytics"
)

const instrumentationName = "github.com/lumeoai/widget-sdk-go"

// Sink implements analytics.Sink by emitting OpenTelemetry spans.
type Sink struct {
	tracer trace.Tracer
}

// NewSink creates an OTel sink using the given TracerProvider.
// If tp is nil, it uses a noop tracer provider.
func NewSink(tp trace.TracerProvider) *Sink {
	if tp == nil {
		tp = noop.NewTracerProvider()
	}
	return &Sink{
		tracer: tp.Tracer(instrumentationName),
	}
}

// Emit converts an analytics.Event into an OTel span.
func (s *Sink) Emit(_ context.Context, event analytics.Event) error {
	event.Normalize()

	_, span := s.tracer.Start(context.Background(), spanNameFor(event), trace.WithTimestamp(event.Timestamp))

	attrs := []attribute.KeyValue{
		attribute.String("widget.event.type", string(event.Type)),
	}
	if event.ID != "" {
		attrs = append(attrs, attribute.String("widget.event.id", event.ID))
	}
	if event.WidgetID != "" {
		attrs = append(attrs, attribute.String("widget.id", event.WidgetID))
	}
	if event.SessionID != "" {
		attrs = append(attrs, attribute.String("widget.session.id", event.SessionID))
	}
	for k, v := range event.Data {
		attrs = append(attrs, attribute.String("widget.attr."+k, truncate(fmt.Sprintf("%v", v), 1024)))
	}
	span.SetAttributes(attrs...)

	endTime := event.Timestamp
	if event.Type == analytics.EventError {
		message := fmt.Sprintf("%v", event.Data["message"])
		span.SetStatus(codes.Error, message)
		span.RecordError(fmt.Errorf("%s", message))
	} else {
		span.SetStatus(codes.Ok, "")
		if raw, ok := event.Data["durationMs"]; ok {
			if ms, ok := raw.(int64); ok && ms > 0 {
				endTime = endTime.Add(time.Duration(ms) * time.Millisecond)
			}
		}
	}
	span.End(trace.WithTimestamp(endTime))
	return nil
}

func spanNameFor(event analytics.Event) string {
	switch event.Type {
	case analytics.EventAPICall:
		return "widget.execute"
	case analytics.EventView:
		if action, ok := event.Data["action"].(string); ok && action != "" {
			return "widget." + action
		}
		return "widget.view"
	case analytics.EventError:
		return "widget.error"
	default:
		return "widget." + string(event.Type)
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
