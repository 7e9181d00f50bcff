// Package dispatcher decodes relay request envelopes into a typed call and
// routes it to the protocol handlers and the tool registry.
package dispatcher

import (
	"fmt"

	"github.com/edri2or-commits/project38-or-sub003/pkg/envelope"
	"github.com/edri2or-commits/project38-or-sub003/pkg/tools"
)

// Call is one decoded request. It is implemented only by Initialize,
// ToolsList and ToolsCall.
type Call interface {
	Method() string
	isCall()
}

// Initialize is the handshake call.
type Initialize struct{}

// ToolsList asks for the served tools.
type ToolsList struct{}

// ToolsCall invokes one tool.
type ToolsCall struct {
	Name      string
	Arguments map[string]interface{}
}

func (Initialize) Method() string { return envelope.MethodInitialize }
func (ToolsList) Method() string  { return envelope.MethodToolsList }
func (ToolsCall) Method() string  { return envelope.MethodToolsCall }

func (Initialize) isCall() {}
func (ToolsList) isCall()  {}
func (ToolsCall) isCall()  {}

// ServerInfo identifies the relay in the initialize result.
type ServerInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// Capabilities advertises what the relay serves.
type Capabilities struct {
	Tools bool `json:"tools"`
}

// InitializeResult is the result of initialize.
type InitializeResult struct {
	ServerInfo   ServerInfo   `json:"serverInfo"`
	Capabilities Capabilities `json:"capabilities"`
}

// ToolsListResult is the result of tools/list.
type ToolsListResult struct {
	Tools []tools.Info `json:"tools"`
}

// ToolsCallParams is the params object of tools/call.
type ToolsCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// Params renders a typed call back into envelope params.
func Params(c Call) map[string]interface{} {
	if tc, ok := c.(ToolsCall); ok {
		args := tc.Arguments
		if args == nil {
			args = map[string]interface{}{}
		}
		return map[string]interface{}{"name": tc.Name, "arguments": args}
	}
	return map[string]interface{}{}
}

// Decode turns a request envelope into a typed Call. Unknown methods yield a
// -32601 error and malformed tools/call params a -32602 error.
func Decode(req *envelope.Request) (Call, *envelope.Error) {
	switch req.Method {
	case envelope.MethodInitialize:
		return Initialize{}, nil
	case envelope.MethodToolsList:
		return ToolsList{}, nil
	case envelope.MethodToolsCall:
		return decodeToolsCall(req.Params)
	default:
		return nil, envelope.NewError(envelope.CodeMethodNotFound, fmt.Sprintf("Unknown method: %s", req.Method))
	}
}

func decodeToolsCall(params map[string]interface{}) (Call, *envelope.Error) {
	name, ok := params["name"].(string)
	if !ok || name == "" {
		return nil, envelope.NewError(envelope.CodeInvalidParams, "tools/call requires a string name")
	}
	call := ToolsCall{Name: name, Arguments: map[string]interface{}{}}
	switch args := params["arguments"].(type) {
	case nil:
	case map[string]interface{}:
		call.Arguments = args
	default:
		return nil, envelope.NewError(envelope.CodeInvalidParams, "tools/call arguments must be an object")
	}
	return call, nil
}
