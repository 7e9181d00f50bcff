package client

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeout matches every *TimeoutError via errors.Is.
var ErrTimeout = errors.New("relay call timed out")

// TimeoutError reports that no response arrived within the call budget. The
// request may still be executed by the relay later.
type TimeoutError struct {
	Method        string
	CorrelationID string
	Timeout       time.Duration
	Elapsed       time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s call %s timed out after %s (budget %s)", e.Method, e.CorrelationID, e.Elapsed.Round(time.Millisecond), e.Timeout)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

// ToolExecutionError carries the error object of a response envelope.
type ToolExecutionError struct {
	Code    int
	Message string
}

func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool execution failed (%d): %s", e.Code, e.Message)
}
