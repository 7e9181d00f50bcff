package events

import "context"

// EventPublisher is the interface for publishing relay activity events.
type EventPublisher interface {
	PublishProcessed(ctx context.Context, event *RequestProcessedEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing (relay without an event bus).
type NoOpPublisher struct{}

// PublishProcessed is a no-op.
func (p *NoOpPublisher) PublishProcessed(_ context.Context, _ *RequestProcessedEvent) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *RequestProcessedEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *RequestProcessedEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishProcessed calls the callback.
func (p *CallbackPublisher) PublishProcessed(ctx context.Context, event *RequestProcessedEvent) error {
	return p.callback(ctx, event)
}
