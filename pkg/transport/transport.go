// Package transport defines the carrier-agnostic adapter contract used by the
// relay client and relay engine, plus the rate/quota governor shared by every
// carrier implementation.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

const logPrefix = "transport:transport"

// Carrier names accepted by Open.
const (
	ObjectStore  = "objectstore"
	IssueComment = "issuecomment"
	FunctionCall = "functioncall"
)

var (
	// ErrAbsent reports that nothing is published at a location yet, or that the
	// carrier signalled the content has not changed since the last fetch.
	ErrAbsent = errors.New("transport: absent")
	// ErrNotModified reports that an inbound listing has not changed since the
	// previous call.
	ErrNotModified = errors.New("transport: not modified")
	// ErrUnsupported reports an operation the carrier cannot perform.
	ErrUnsupported = errors.New("transport: unsupported operation")
	// ErrUnknownCarrier reports an unregistered carrier name.
	ErrUnknownCarrier = errors.New("transport: unknown carrier")
)

// Location is an opaque, carrier-specific address derived from session and
// correlation ids.
type Location string

// Item is one request observed in an inbound listing.
type Item struct {
	CorrelationID string
	Location      Location
	Payload       []byte
}

// Adapter moves envelope bytes over one allowed carrier.
type Adapter interface {
	// Name returns the carrier name.
	Name() string
	// RequestLocation returns where a request for the given ids is published.
	RequestLocation(sessionID, correlationID string) Location
	// ResponseLocation returns where the matching response is published.
	ResponseLocation(sessionID, correlationID string) Location
	// InboundLocation returns the location a relay lists for new requests.
	// An empty session id addresses every session.
	InboundLocation(sessionID string) Location
	// Publish writes payload at loc.
	Publish(ctx context.Context, loc Location, payload []byte) error
	// Fetch reads the payload at loc, returning ErrAbsent when there is none.
	Fetch(ctx context.Context, loc Location) ([]byte, error)
	// List returns the requests currently visible at an inbound location,
	// or ErrNotModified when nothing changed since the previous call.
	List(ctx context.Context, inbound Location) ([]Item, error)
	// Delete removes the payload at loc. Carriers without deletion treat it as a no-op.
	Delete(ctx context.Context, loc Location) error
}

// Synchronous is implemented by adapters whose Publish already produces the
// response, so callers need not wait before the first Fetch.
type Synchronous interface {
	Synchronous() bool
}

// IsSynchronous reports whether the adapter completes a round trip inside Publish.
func IsSynchronous(a Adapter) bool {
	s, ok := a.(Synchronous)
	return ok && s.Synchronous()
}

// Invalidator is implemented by adapters that remember listing state between
// List calls. Invalidate makes the next List of inbound return every visible
// item again instead of ErrNotModified.
type Invalidator interface {
	Invalidate(inbound Location)
}

// Invalidate drops the listing state of inbound when the adapter keeps any.
func Invalidate(a Adapter, inbound Location) {
	if inv, ok := a.(Invalidator); ok {
		inv.Invalidate(inbound)
	}
}

// TransportError reports a failed carrier call.
type TransportError struct {
	Carrier    string
	Op         string
	Location   Location
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("%s %s %s", e.Carrier, e.Op, e.Location)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.StatusCode)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return "transport error: " + msg
}

func (e *TransportError) Unwrap() error { return e.Err }

// NewTransportError wraps err as a TransportError.
func NewTransportError(carrier, op string, loc Location, statusCode int, err error) *TransportError {
	return &TransportError{Carrier: carrier, Op: op, Location: loc, StatusCode: statusCode, Err: err}
}

// Factory builds an adapter from carrier-specific settings.
type Factory func(settings interface{}) (Adapter, error)

var (
	carriersMu sync.RWMutex
	carriers   = map[string]Factory{}
)

// Register makes a carrier available to Open. Carrier packages call it from init.
func Register(name string, factory Factory) {
	carriersMu.Lock()
	defer carriersMu.Unlock()
	carriers[name] = factory
}

// Open builds the adapter registered under name.
func Open(name string, settings interface{}) (Adapter, error) {
	carriersMu.RLock()
	factory, ok := carriers[name]
	carriersMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%s - %w: %q", logPrefix, ErrUnknownCarrier, name)
	}
	return factory(settings)
}

// Carriers returns the registered carrier names, sorted.
func Carriers() []string {
	carriersMu.RLock()
	defer carriersMu.RUnlock()
	out := make([]string, 0, len(carriers))
	for name := range carriers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
