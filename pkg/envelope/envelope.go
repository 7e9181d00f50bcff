// Package envelope defines the carrier-independent request/response objects
// exchanged between relay clients and the relay, and their JSON codec.
package envelope

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/viant/jsonrpc"
)

const logPrefix = "envelope:envelope"

// RPC method names understood by the relay.
const (
	MethodInitialize = "initialize"
	MethodToolsList  = "tools/list"
	MethodToolsCall  = "tools/call"
)

// JSON-RPC error codes carried in ResponseEnvelope errors.
const (
	CodeInvalidRequest = jsonrpc.InvalidRequest
	CodeMethodNotFound = jsonrpc.MethodNotFound
	CodeInvalidParams  = jsonrpc.InvalidParams
	// CodeToolError is returned when a tool handler fails.
	CodeToolError = -32000
)

// Request is the envelope published by a client and consumed exactly once by a relay.
type Request struct {
	CorrelationID    string                 `json:"correlation_id"`
	Method           string                 `json:"method"`
	Params           map[string]interface{} `json:"params,omitempty"`
	SessionID        string                 `json:"session_id"`
	ResponseLocation string                 `json:"response_location,omitempty"`
}

// Response is the envelope published by the relay after executing a Request.
// Exactly one of Result and Error is set.
type Response struct {
	CorrelationID string          `json:"correlation_id"`
	Result        json.RawMessage `json:"result,omitempty"`
	Error         *Error          `json:"error,omitempty"`
}

// Error is the JSON-RPC style error object of a failed Response.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// NewError creates an Error with the given code and message.
func NewError(code int, message string) *Error {
	return &Error{Code: code, Message: message}
}

// ProtocolError reports a payload that could not be decoded into an envelope.
type ProtocolError struct {
	Reason string
	Err    error
}

func (e *ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s - protocol error: %s: %v", logPrefix, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s - protocol error: %s", logPrefix, e.Reason)
}

func (e *ProtocolError) Unwrap() error { return e.Err }

// NewCorrelationID returns a random 128-bit (122 bits of entropy) identifier
// rendered as 32 lowercase hex characters.
func NewCorrelationID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// NewResult builds a successful Response for the given correlation id.
func NewResult(correlationID string, result interface{}) (*Response, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode result: %w", logPrefix, err)
	}
	return &Response{CorrelationID: correlationID, Result: data}, nil
}

// NewErrorResponse builds a failed Response for the given correlation id.
func NewErrorResponse(correlationID string, code int, message string) *Response {
	return &Response{CorrelationID: correlationID, Error: NewError(code, message)}
}

// Encode serializes an envelope to compact JSON.
func Encode(v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%s - failed to encode: %w", logPrefix, err)
	}
	return data, nil
}

// DecodeRequest parses and validates a Request payload.
func DecodeRequest(data []byte) (*Request, error) {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, &ProtocolError{Reason: "malformed request", Err: err}
	}
	if req.CorrelationID == "" {
		return nil, &ProtocolError{Reason: "request missing correlation_id"}
	}
	if req.Method == "" {
		return nil, &ProtocolError{Reason: "request missing method"}
	}
	return &req, nil
}

// DecodeResponse parses and validates a Response payload.
func DecodeResponse(data []byte) (*Response, error) {
	var resp Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, &ProtocolError{Reason: "malformed response", Err: err}
	}
	if resp.CorrelationID == "" {
		return nil, &ProtocolError{Reason: "response missing correlation_id"}
	}
	if resp.Error == nil && len(resp.Result) == 0 {
		return nil, &ProtocolError{Reason: "response carries neither result nor error"}
	}
	return &resp, nil
}
