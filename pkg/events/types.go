// Package events defines relay activity events and the publishers that emit them.
package events

// Outcomes of a processed request.
const (
	OutcomeResult = "result"
	OutcomeError  = "error"
)

// RequestProcessedEvent is emitted after the relay answered a request.
type RequestProcessedEvent struct {
	CorrelationID string `json:"correlationId"`
	SessionID     string `json:"sessionId,omitempty"`
	Method        string `json:"method"`
	Tool          string `json:"tool,omitempty"`
	Carrier       string `json:"carrier"`
	Outcome       string `json:"outcome"`
	ErrorCode     int    `json:"errorCode,omitempty"`
	DurationMs    int64  `json:"durationMs"`
	Timestamp     string `json:"timestamp"`
}
