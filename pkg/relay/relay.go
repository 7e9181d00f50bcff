// Package relay implements the server side of the tunnel: it polls a carrier
// for request envelopes, executes each at most once, and publishes the
// responses back through the same carrier.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/edri2or-commits/project38-or-sub003/pkg/envelope"
	"github.com/edri2or-commits/project38-or-sub003/pkg/events"
	"github.com/edri2or-commits/project38-or-sub003/pkg/transport"
)

const logPrefix = "relay:relay"

// DefaultPollInterval is used when Params.PollInterval is zero.
const DefaultPollInterval = 2 * time.Second

// Bounds of the response cache that answers repeated synchronous requests.
const (
	responseCacheSize = 1024
	responseCacheTTL  = time.Hour
)

// ErrPollInFlight is returned by PollOnce while another poll is running.
var ErrPollInFlight = errors.New("relay: poll already in flight")

// Dispatcher executes one request envelope.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *envelope.Request) *envelope.Response
}

// Params configures a Relay.
type Params struct {
	Adapter    transport.Adapter
	Dispatcher Dispatcher
	// Processed defaults to an in-memory set with default bounds.
	Processed ProcessedSet
	// Publisher defaults to a no-op publisher.
	Publisher events.EventPublisher
	// SessionID restricts the relay to one session; empty serves all sessions.
	SessionID    string
	PollInterval time.Duration
}

// Stats is a snapshot of relay activity. A request moves from Seen to
// Processed (dispatched and recorded) to Responded (response published).
type Stats struct {
	Polls      int64                    `json:"polls"`
	Seen       int64                    `json:"seen"`
	Processed  int64                    `json:"processed"`
	Responded  int64                    `json:"responded"`
	Skipped    int64                    `json:"skipped"`
	Malformed  int64                    `json:"malformed"`
	Failed     int64                    `json:"failed"`
	LastPollAt *time.Time               `json:"lastPollAt,omitempty"`
	LastError  string                   `json:"lastError,omitempty"`
	Governor   *transport.GovernorStats `json:"governor,omitempty"`
}

// Relay is the poll/execute/respond engine. PollOnce is non-reentrant.
type Relay struct {
	adapter      transport.Adapter
	dispatcher   Dispatcher
	processed    ProcessedSet
	publisher    events.EventPublisher
	sessionID    string
	pollInterval time.Duration
	inbound      transport.Location

	pollMu sync.Mutex

	// handleMu makes the check-then-add of Handle atomic.
	handleMu  sync.Mutex
	responses *expirable.LRU[string, *envelope.Response]

	polls, seen, processedN, responded, skipped, malformed, failed atomic.Int64

	lastMu    sync.Mutex
	lastPoll  time.Time
	lastError string
}

// New creates a Relay.
func New(p Params) (*Relay, error) {
	if p.Adapter == nil {
		return nil, fmt.Errorf("%s - adapter is required", logPrefix)
	}
	if p.Dispatcher == nil {
		return nil, fmt.Errorf("%s - dispatcher is required", logPrefix)
	}
	if p.Processed == nil {
		p.Processed = NewMemorySet(DefaultProcessedCapacity, DefaultProcessedTTL)
	}
	if p.Publisher == nil {
		p.Publisher = &events.NoOpPublisher{}
	}
	if p.PollInterval <= 0 {
		p.PollInterval = DefaultPollInterval
	}
	return &Relay{
		adapter:      p.Adapter,
		dispatcher:   p.Dispatcher,
		processed:    p.Processed,
		publisher:    p.Publisher,
		sessionID:    p.SessionID,
		pollInterval: p.PollInterval,
		inbound:      p.Adapter.InboundLocation(p.SessionID),
		responses:    expirable.NewLRU[string, *envelope.Response](responseCacheSize, nil, responseCacheTTL),
	}, nil
}

// Run polls until ctx is done. Poll failures are logged and never stop the
// loop. Synchronous carriers push requests through Handle, so Run only waits.
func (r *Relay) Run(ctx context.Context) error {
	if transport.IsSynchronous(r.adapter) {
		slog.Info(fmt.Sprintf("%s - Carrier %s is synchronous, serving through Handle only", logPrefix, r.adapter.Name()))
		<-ctx.Done()
		return nil
	}

	slog.Info(fmt.Sprintf("%s - Polling %s every %s", logPrefix, r.inbound, r.pollInterval))
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		n, err := r.PollOnce(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			slog.Error(fmt.Sprintf("%s - Poll failed: %v", logPrefix, err))
		case n > 0:
			slog.Info(fmt.Sprintf("%s - Processed %d request(s)", logPrefix, n))
		}
		select {
		case <-ctx.Done():
			slog.Info(fmt.Sprintf("%s - Poll loop stopped", logPrefix))
			return nil
		case <-ticker.C:
		}
	}
}

// PollOnce lists the inbound location once and handles every new request.
// It returns the number of requests processed. A failure to list is returned;
// failures of individual items are logged and skipped.
func (r *Relay) PollOnce(ctx context.Context) (int, error) {
	if !r.pollMu.TryLock() {
		return 0, ErrPollInFlight
	}
	defer r.pollMu.Unlock()

	r.polls.Add(1)
	items, err := r.adapter.List(ctx, r.inbound)
	r.recordPoll(err)
	if errors.Is(err, transport.ErrNotModified) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%s - list %s: %w", logPrefix, r.inbound, err)
	}

	count, deferred := 0, false
	for _, item := range items {
		if ctx.Err() != nil {
			deferred = true
			break
		}
		handled, retry := r.processItem(ctx, item)
		if handled {
			count++
		}
		deferred = deferred || retry
	}
	if deferred {
		// Items left for a later poll must be listed again even when the
		// inbound location itself has not changed.
		transport.Invalidate(r.adapter, r.inbound)
	}
	return count, nil
}

func (r *Relay) recordPoll(err error) {
	r.lastMu.Lock()
	defer r.lastMu.Unlock()
	r.lastPoll = time.Now()
	if err != nil && !errors.Is(err, transport.ErrNotModified) {
		r.lastError = err.Error()
	} else {
		r.lastError = ""
	}
}

// processItem handles one listed item. It reports whether the request was
// dispatched, and whether the item must be retried on a later poll.
func (r *Relay) processItem(ctx context.Context, item transport.Item) (handled, retry bool) {
	r.seen.Add(1)

	done, err := r.processed.Contains(ctx, item.CorrelationID)
	if err != nil {
		r.failed.Add(1)
		slog.Warn(fmt.Sprintf("%s - Processed lookup failed for %s, leaving it for the next poll: %v", logPrefix, item.CorrelationID, err))
		return false, true
	}
	if done {
		r.skipped.Add(1)
		return false, false
	}

	req, err := envelope.DecodeRequest(item.Payload)
	if err == nil && req.CorrelationID != item.CorrelationID {
		err = &envelope.ProtocolError{Reason: fmt.Sprintf("carrier id %s does not match envelope id %s", item.CorrelationID, req.CorrelationID)}
	}
	if err != nil {
		r.malformed.Add(1)
		slog.Warn(fmt.Sprintf("%s - Skipping malformed item %s: %v", logPrefix, item.Location, err))
		_ = r.processed.Add(ctx, item.CorrelationID)
		return false, false
	}
	if r.sessionID != "" && req.SessionID != r.sessionID {
		r.skipped.Add(1)
		slog.Debug(fmt.Sprintf("%s - Ignoring %s from session %q", logPrefix, req.CorrelationID, req.SessionID))
		return false, false
	}
	slog.Debug(fmt.Sprintf("%s - SEEN %s method=%s", logPrefix, req.CorrelationID, req.Method))

	start := time.Now()
	resp := r.dispatcher.Dispatch(ctx, req)

	// Recorded before publishing: a crash in between drops the response
	// instead of executing the request twice.
	if err := r.processed.Add(ctx, req.CorrelationID); err != nil {
		slog.Error(fmt.Sprintf("%s - Failed to record %s as processed: %v", logPrefix, req.CorrelationID, err))
	}
	r.processedN.Add(1)
	slog.Debug(fmt.Sprintf("%s - PROCESSED %s", logPrefix, req.CorrelationID))

	if err := r.respond(ctx, req, resp); err != nil {
		r.failed.Add(1)
		slog.Error(fmt.Sprintf("%s - Failed to publish response for %s: %v", logPrefix, req.CorrelationID, err))
	} else {
		r.responded.Add(1)
		slog.Debug(fmt.Sprintf("%s - RESPONDED %s", logPrefix, req.CorrelationID))
	}

	if err := r.adapter.Delete(ctx, item.Location); err != nil {
		slog.Warn(fmt.Sprintf("%s - Failed to consume %s: %v", logPrefix, item.Location, err))
	}
	r.emit(ctx, req, resp, time.Since(start))
	return true, false
}

func (r *Relay) respond(ctx context.Context, req *envelope.Request, resp *envelope.Response) error {
	data, err := envelope.Encode(resp)
	if err != nil {
		return err
	}
	loc := r.adapter.ResponseLocation(req.SessionID, req.CorrelationID)
	if req.ResponseLocation != "" && transport.Location(req.ResponseLocation) != loc {
		slog.Warn(fmt.Sprintf("%s - Request %s asked for response at %s, publishing at %s", logPrefix, req.CorrelationID, req.ResponseLocation, loc))
	}
	return r.adapter.Publish(ctx, loc, data)
}

// Handle executes req synchronously with the same at-most-once guarantee as
// PollOnce. A repeated correlation id is answered from the recent response
// cache, or with an invalid-request error once that entry is gone.
// A relay bound to one session rejects requests from any other session.
func (r *Relay) Handle(ctx context.Context, req *envelope.Request) *envelope.Response {
	r.seen.Add(1)
	if r.sessionID != "" && req.SessionID != r.sessionID {
		r.skipped.Add(1)
		slog.Debug(fmt.Sprintf("%s - Rejecting %s from session %q", logPrefix, req.CorrelationID, req.SessionID))
		return envelope.NewErrorResponse(req.CorrelationID, envelope.CodeInvalidRequest, fmt.Sprintf("session %q is not served by this relay", req.SessionID))
	}

	r.handleMu.Lock()
	done, err := r.processed.Contains(ctx, req.CorrelationID)
	if err == nil && !done {
		err = r.processed.Add(ctx, req.CorrelationID)
		if err != nil {
			slog.Error(fmt.Sprintf("%s - Failed to record %s as processed: %v", logPrefix, req.CorrelationID, err))
			err = nil
		}
	}
	r.handleMu.Unlock()

	if err != nil {
		r.failed.Add(1)
		return envelope.NewErrorResponse(req.CorrelationID, envelope.CodeToolError, "processed lookup failed")
	}
	if done {
		r.skipped.Add(1)
		if cached, ok := r.responses.Get(req.CorrelationID); ok {
			return cached
		}
		return envelope.NewErrorResponse(req.CorrelationID, envelope.CodeInvalidRequest, "duplicate request")
	}

	start := time.Now()
	resp := r.dispatcher.Dispatch(ctx, req)
	r.processedN.Add(1)
	r.responses.Add(req.CorrelationID, resp)
	r.responded.Add(1)
	r.emit(ctx, req, resp, time.Since(start))
	return resp
}

func (r *Relay) emit(ctx context.Context, req *envelope.Request, resp *envelope.Response, took time.Duration) {
	event := &events.RequestProcessedEvent{
		CorrelationID: req.CorrelationID,
		SessionID:     req.SessionID,
		Method:        req.Method,
		Carrier:       r.adapter.Name(),
		Outcome:       events.OutcomeResult,
		DurationMs:    took.Milliseconds(),
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
	}
	if name, ok := req.Params["name"].(string); ok && req.Method == envelope.MethodToolsCall {
		event.Tool = name
	}
	if resp.Error != nil {
		event.Outcome = events.OutcomeError
		event.ErrorCode = resp.Error.Code
	}
	if err := r.publisher.PublishProcessed(ctx, event); err != nil {
		slog.Warn(fmt.Sprintf("%s - Failed to publish event for %s: %v", logPrefix, req.CorrelationID, err))
	}
}

// Stats returns a snapshot of the relay counters.
func (r *Relay) Stats() Stats {
	s := Stats{
		Polls:     r.polls.Load(),
		Seen:      r.seen.Load(),
		Processed: r.processedN.Load(),
		Responded: r.responded.Load(),
		Skipped:   r.skipped.Load(),
		Malformed: r.malformed.Load(),
		Failed:    r.failed.Load(),
	}
	r.lastMu.Lock()
	if !r.lastPoll.IsZero() {
		t := r.lastPoll
		s.LastPollAt = &t
	}
	s.LastError = r.lastError
	r.lastMu.Unlock()
	if sr, ok := r.adapter.(transport.StatsReporter); ok {
		g := sr.GovernorStats()
		s.Governor = &g
	}
	return s
}

// Adapter returns the carrier the relay serves.
func (r *Relay) Adapter() transport.Adapter { return r.adapter }
