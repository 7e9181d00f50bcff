package events

import (
	"context"
	"errors"
	"testing"
)

func TestNoOpPublisher(t *testing.T) {
	pub := &NoOpPublisher{}
	err := pub.PublishProcessed(context.Background(), &RequestProcessedEvent{
		CorrelationID: "c1",
		Method:        "initialize",
	})
	if err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCallbackPublisher(t *testing.T) {
	var captured *RequestProcessedEvent

	pub := NewCallbackPublisher(func(_ context.Context, event *RequestProcessedEvent) error {
		captured = event
		return nil
	})

	event := &RequestProcessedEvent{
		CorrelationID: "c1",
		Method:        "tools/call",
		Tool:          "health_check",
		Carrier:       "objectstore",
		Outcome:       OutcomeResult,
		DurationMs:    12,
		Timestamp:     "2026-01-01T00:00:00Z",
	}

	if err := pub.PublishProcessed(context.Background(), event); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
	if captured == nil {
		t.Fatal("expected callback to be called")
	}
	if captured.Tool != "health_check" {
		t.Errorf("expected tool health_check, got %s", captured.Tool)
	}
}

func TestCallbackPublisher_Error(t *testing.T) {
	want := errors.New("bus down")
	pub := NewCallbackPublisher(func(context.Context, *RequestProcessedEvent) error { return want })
	if err := pub.PublishProcessed(context.Background(), &RequestProcessedEvent{}); !errors.Is(err, want) {
		t.Errorf("expected %v, got %v", want, err)
	}
}
