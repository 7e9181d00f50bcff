// Package client implements the caller side of the tunnel: publish a request
// envelope, then poll the carrier for the matching response until it arrives
// or the call budget runs out.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/edri2or-commits/project38-or-sub003/pkg/dispatcher"
	"github.com/edri2or-commits/project38-or-sub003/pkg/envelope"
	"github.com/edri2or-commits/project38-or-sub003/pkg/semver"
	"github.com/edri2or-commits/project38-or-sub003/pkg/tools"
	"github.com/edri2or-commits/project38-or-sub003/pkg/transport"
)

const logPrefix = "client:client"

// Defaults applied by New.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultTimeout      = 60 * time.Second
	cleanupTimeout      = 10 * time.Second
)

// Options configures a Client.
type Options struct {
	SessionID    string
	PollInterval time.Duration
	// Timeout is the budget of calls made with a zero timeout.
	Timeout time.Duration
	// VersionConstraint, when set, is checked against serverInfo.version by Initialize.
	VersionConstraint string
}

// Client issues relay calls over one carrier. It is safe for concurrent use;
// concurrent calls share only the adapter.
type Client struct {
	adapter transport.Adapter
	opts    Options
}

// New creates a Client. A missing session id is generated.
func New(adapter transport.Adapter, opts Options) *Client {
	if opts.SessionID == "" {
		opts.SessionID = envelope.NewCorrelationID()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = DefaultPollInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Client{adapter: adapter, opts: opts}
}

// SessionID returns the session the client publishes under.
func (c *Client) SessionID() string { return c.opts.SessionID }

// Call publishes one request and waits for its response. It returns the raw
// result, a *ToolExecutionError for an error response, an
// *envelope.ProtocolError for an undecodable response, a *TimeoutError when
// the budget runs out, a *transport.TransportError when the carrier fails, or
// the context error when ctx ends first. Publishing is never retried.
func (c *Client) Call(ctx context.Context, method string, params map[string]interface{}, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = c.opts.Timeout
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	id := envelope.NewCorrelationID()
	reqLoc := c.adapter.RequestLocation(c.opts.SessionID, id)
	respLoc := c.adapter.ResponseLocation(c.opts.SessionID, id)

	data, err := envelope.Encode(&envelope.Request{
		CorrelationID:    id,
		Method:           method,
		Params:           params,
		SessionID:        c.opts.SessionID,
		ResponseLocation: string(respLoc),
	})
	if err != nil {
		return nil, err
	}

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	slog.Debug(fmt.Sprintf("%s - Publishing %s id=%s", logPrefix, method, id))
	if err := c.adapter.Publish(callCtx, reqLoc, data); err != nil {
		if ctx.Err() == nil && callCtx.Err() != nil {
			c.cleanup(reqLoc)
			return nil, &TimeoutError{Method: method, CorrelationID: id, Timeout: timeout, Elapsed: time.Since(start)}
		}
		return nil, err
	}

	// A synchronous carrier already holds the response, so the first fetch
	// does not wait.
	skipWait := transport.IsSynchronous(c.adapter)
	timer := time.NewTimer(c.opts.PollInterval)
	defer timer.Stop()
	for {
		if !skipWait {
			select {
			case <-callCtx.Done():
				c.cleanup(reqLoc)
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				elapsed := time.Since(start)
				slog.Warn(fmt.Sprintf("%s - %s id=%s timed out after %s", logPrefix, method, id, elapsed))
				return nil, &TimeoutError{Method: method, CorrelationID: id, Timeout: timeout, Elapsed: elapsed}
			case <-timer.C:
				timer.Reset(c.opts.PollInterval)
			}
		}
		skipWait = false

		payload, err := c.adapter.Fetch(callCtx, respLoc)
		if errors.Is(err, transport.ErrAbsent) {
			continue
		}
		if err != nil {
			if callCtx.Err() != nil {
				// Deadline hit inside the fetch; report it at the top of the loop.
				continue
			}
			return nil, err
		}

		resp, err := envelope.DecodeResponse(payload)
		if err == nil && resp.CorrelationID != id {
			err = &envelope.ProtocolError{Reason: fmt.Sprintf("response id %s does not match request id %s", resp.CorrelationID, id)}
		}
		c.cleanup(respLoc, reqLoc)
		if err != nil {
			return nil, err
		}
		if resp.Error != nil {
			return nil, &ToolExecutionError{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		slog.Debug(fmt.Sprintf("%s - %s id=%s answered in %s", logPrefix, method, id, time.Since(start)))
		return resp.Result, nil
	}
}

// cleanup deletes carrier objects best-effort, detached from the call context.
func (c *Client) cleanup(locs ...transport.Location) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	for _, loc := range locs {
		if err := c.adapter.Delete(ctx, loc); err != nil {
			slog.Debug(fmt.Sprintf("%s - Cleanup of %s failed: %v", logPrefix, loc, err))
		}
	}
}

// Initialize performs the handshake and checks the server version against
// Options.VersionConstraint.
func (c *Client) Initialize(ctx context.Context) (*dispatcher.InitializeResult, error) {
	raw, err := c.Call(ctx, envelope.MethodInitialize, nil, 0)
	if err != nil {
		return nil, err
	}
	var out dispatcher.InitializeResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &envelope.ProtocolError{Reason: "malformed initialize result", Err: err}
	}
	if err := semver.Check(out.ServerInfo.Version, c.opts.VersionConstraint); err != nil {
		return &out, fmt.Errorf("%s - %w", logPrefix, err)
	}
	return &out, nil
}

// ListTools returns the tools served by the relay.
func (c *Client) ListTools(ctx context.Context) ([]tools.Info, error) {
	raw, err := c.Call(ctx, envelope.MethodToolsList, nil, 0)
	if err != nil {
		return nil, err
	}
	var out dispatcher.ToolsListResult
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, &envelope.ProtocolError{Reason: "malformed tools/list result", Err: err}
	}
	return out.Tools, nil
}

// CallTool invokes a tool and decodes its result into out when out is non-nil.
func (c *Client) CallTool(ctx context.Context, name string, arguments map[string]interface{}, out interface{}) (json.RawMessage, error) {
	params := dispatcher.Params(dispatcher.ToolsCall{Name: name, Arguments: arguments})
	raw, err := c.Call(ctx, envelope.MethodToolsCall, params, 0)
	if err != nil {
		return nil, err
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return raw, &envelope.ProtocolError{Reason: "tool result does not match target", Err: err}
		}
	}
	return raw, nil
}
