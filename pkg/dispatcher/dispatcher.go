package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/edri2or-commits/project38-or-sub003/pkg/envelope"
	"github.com/edri2or-commits/project38-or-sub003/pkg/tools"
)

const logPrefix = "dispatcher:dispatch"

// Tools is the tool registry consumed by the dispatcher.
type Tools interface {
	Has(name string) bool
	Invoke(ctx context.Context, name string, arguments map[string]interface{}) (interface{}, error)
	List() []tools.Info
}

// Dispatcher executes decoded requests.
type Dispatcher struct {
	tools  Tools
	server ServerInfo
}

// NewDispatcher creates a new Dispatcher.
func NewDispatcher(t Tools, server ServerInfo) *Dispatcher {
	return &Dispatcher{tools: t, server: server}
}

// Dispatch executes req and returns its response. It never panics and never
// returns nil; every failure becomes an error response.
func (d *Dispatcher) Dispatch(ctx context.Context, req *envelope.Request) (resp *envelope.Response) {
	slog.Debug(fmt.Sprintf("%s - method=%s id=%s", logPrefix, req.Method, req.CorrelationID))

	defer func() {
		if v := recover(); v != nil {
			slog.Error(fmt.Sprintf("%s - Handler for %s panicked: %v\n%s", logPrefix, req.Method, v, debug.Stack()))
			resp = envelope.NewErrorResponse(req.CorrelationID, envelope.CodeToolError, fmt.Sprintf("internal error: %v", v))
		}
	}()

	call, rpcErr := Decode(req)
	if rpcErr != nil {
		return &envelope.Response{CorrelationID: req.CorrelationID, Error: rpcErr}
	}

	switch c := call.(type) {
	case Initialize:
		return d.result(req.CorrelationID, InitializeResult{
			ServerInfo:   d.server,
			Capabilities: Capabilities{Tools: true},
		})
	case ToolsList:
		return d.result(req.CorrelationID, ToolsListResult{Tools: d.tools.List()})
	case ToolsCall:
		return d.handleToolsCall(ctx, req.CorrelationID, c)
	default:
		return envelope.NewErrorResponse(req.CorrelationID, envelope.CodeMethodNotFound, fmt.Sprintf("Unknown method: %s", req.Method))
	}
}

func (d *Dispatcher) handleToolsCall(ctx context.Context, id string, c ToolsCall) *envelope.Response {
	if !d.tools.Has(c.Name) {
		return envelope.NewErrorResponse(id, envelope.CodeInvalidParams, fmt.Sprintf("Unknown tool: %s", c.Name))
	}
	out, err := d.tools.Invoke(ctx, c.Name, c.Arguments)
	if err != nil {
		slog.Warn(fmt.Sprintf("%s - Tool %s failed: %v", logPrefix, c.Name, err))
		return envelope.NewErrorResponse(id, envelope.CodeToolError, err.Error())
	}
	return d.result(id, out)
}

func (d *Dispatcher) result(id string, v interface{}) *envelope.Response {
	resp, err := envelope.NewResult(id, v)
	if err != nil {
		return envelope.NewErrorResponse(id, envelope.CodeToolError, err.Error())
	}
	return resp
}
