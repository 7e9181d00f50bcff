// Package functioncall implements the synchronous relay carrier: the request
// envelope is wrapped in a {"data": "..."} body, POSTed to a function
// endpoint, and the response envelope comes back as {"result": "..."}.
package functioncall

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/edri2or-commits/project38-or-sub003/pkg/transport"
)

const logPrefix = "functioncall:adapter"

const (
	requestScheme  = "call:"
	responseScheme = "result:"
)

// Config configures a function-call Adapter.
type Config struct {
	URL              string
	Token            string
	MinWriteInterval time.Duration
	HTTPClient       *http.Client
}

// Body is the wire shape of both directions of the call.
type Body struct {
	Data   string `json:"data,omitempty"`
	Result string `json:"result,omitempty"`
}

// Adapter collapses publish and fetch into one HTTP round trip. The response
// returned by the endpoint is held in memory until fetched.
type Adapter struct {
	cfg      Config
	client   *http.Client
	governor *transport.Governor

	mu    sync.Mutex
	slots map[transport.Location][]byte
}

func init() {
	transport.Register(transport.FunctionCall, func(settings interface{}) (transport.Adapter, error) {
		cfg, ok := settings.(Config)
		if !ok {
			return nil, fmt.Errorf("%s - expected functioncall.Config, got %T", logPrefix, settings)
		}
		return New(cfg)
	})
}

// New creates a function-call Adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("%s - function URL is required", logPrefix)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}
	return &Adapter{
		cfg:      cfg,
		client:   client,
		governor: transport.NewGovernor(cfg.MinWriteInterval),
		slots:    make(map[transport.Location][]byte),
	}, nil
}

func (a *Adapter) Name() string { return transport.FunctionCall }

// Synchronous reports that Publish already holds the response.
func (a *Adapter) Synchronous() bool { return true }

func (a *Adapter) RequestLocation(_, correlationID string) transport.Location {
	return transport.Location(requestScheme + correlationID)
}

func (a *Adapter) ResponseLocation(_, correlationID string) transport.Location {
	return transport.Location(responseScheme + correlationID)
}

// InboundLocation has no meaning for a push carrier; requests arrive through Handler.
func (a *Adapter) InboundLocation(string) transport.Location { return "" }

// GovernorStats exposes the write and fetch counters of this instance.
func (a *Adapter) GovernorStats() transport.GovernorStats { return a.governor.Stats() }

// Publish invokes the function with payload and keeps the returned response
// envelope for the matching response location.
func (a *Adapter) Publish(ctx context.Context, loc transport.Location, payload []byte) error {
	id, ok := strings.CutPrefix(string(loc), requestScheme)
	if !ok || id == "" {
		return transport.NewTransportError(a.Name(), "publish", loc, 0, fmt.Errorf("%s - not a request location", logPrefix))
	}
	body, err := json.Marshal(Body{Data: string(payload)})
	if err != nil {
		return transport.NewTransportError(a.Name(), "publish", loc, 0, err)
	}
	if err := a.governor.WaitWrite(ctx); err != nil {
		return transport.NewTransportError(a.Name(), "publish", loc, 0, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return transport.NewTransportError(a.Name(), "publish", loc, 0, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return transport.NewTransportError(a.Name(), "publish", loc, 0, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return transport.NewTransportError(a.Name(), "publish", loc, resp.StatusCode, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return transport.NewTransportError(a.Name(), "publish", loc, resp.StatusCode,
			fmt.Errorf("%s - function returned %s", logPrefix, strings.TrimSpace(string(data))))
	}
	var out Body
	if err := json.Unmarshal(data, &out); err != nil {
		return transport.NewTransportError(a.Name(), "publish", loc, resp.StatusCode,
			fmt.Errorf("%s - malformed function response: %w", logPrefix, err))
	}
	a.governor.MarkFetch()

	a.mu.Lock()
	a.slots[a.ResponseLocation("", id)] = []byte(out.Result)
	a.mu.Unlock()
	slog.Debug(fmt.Sprintf("%s - Function returned %d bytes for %s", logPrefix, len(out.Result), id))
	return nil
}

// Fetch hands out the response kept by Publish once.
func (a *Adapter) Fetch(_ context.Context, loc transport.Location) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	data, ok := a.slots[loc]
	if !ok {
		return nil, transport.ErrAbsent
	}
	delete(a.slots, loc)
	return data, nil
}

// List is not available: the function endpoint pushes requests to the relay.
func (a *Adapter) List(context.Context, transport.Location) ([]transport.Item, error) {
	return nil, transport.ErrUnsupported
}

// Delete drops any response still held for loc.
func (a *Adapter) Delete(_ context.Context, loc transport.Location) error {
	a.mu.Lock()
	delete(a.slots, loc)
	a.mu.Unlock()
	return nil
}
