// Package issuecomment implements the relay carrier over the comments of a
// single GitHub issue. Envelopes travel as base64 markers inside HTML comments
// so the thread stays readable for humans.
package issuecomment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/go-github/v66/github"

	"github.com/edri2or-commits/project38-or-sub003/pkg/envelope"
	"github.com/edri2or-commits/project38-or-sub003/pkg/transport"
)

const logPrefix = "issuecomment:adapter"

const (
	DefaultAPIURL   = "https://api.github.com"
	DefaultPerPage  = 100
	DefaultMaxPages = 3
)

// Config configures an issue-comment Adapter.
type Config struct {
	APIURL     string
	Repository string // owner/name
	Issue      int
	Token      string
	PerPage    int
	MaxPages   int
	// Lookback sets how far before construction the first listing reaches.
	Lookback         time.Duration
	MinWriteInterval time.Duration
	HTTPClient       *http.Client
}

// Adapter posts and scans marker comments on one issue thread.
type Adapter struct {
	cfg         Config
	owner, repo string
	client      *github.Client
	governor    *transport.Governor

	mu    sync.Mutex
	start time.Time
	// cursors holds the since bound of the next scan per location, and
	// previous the bound it replaced, restored by Invalidate.
	cursors  map[transport.Location]time.Time
	previous map[transport.Location]time.Time
}

func init() {
	transport.Register(transport.IssueComment, func(settings interface{}) (transport.Adapter, error) {
		cfg, ok := settings.(Config)
		if !ok {
			return nil, fmt.Errorf("%s - expected issuecomment.Config, got %T", logPrefix, settings)
		}
		return New(cfg)
	})
}

// New creates an issue-comment Adapter.
func New(cfg Config) (*Adapter, error) {
	owner, repo, ok := strings.Cut(cfg.Repository, "/")
	if !ok || owner == "" || repo == "" {
		return nil, fmt.Errorf("%s - repository must be owner/name, got %q", logPrefix, cfg.Repository)
	}
	if cfg.Issue <= 0 {
		return nil, fmt.Errorf("%s - issue number must be positive", logPrefix)
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if cfg.PerPage <= 0 || cfg.PerPage > 100 {
		cfg.PerPage = DefaultPerPage
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	baseURL, err := url.Parse(cfg.APIURL + "/")
	if err != nil {
		return nil, fmt.Errorf("%s - invalid API URL %q: %w", logPrefix, cfg.APIURL, err)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	if cfg.HTTPClient != nil {
		c := *cfg.HTTPClient
		httpClient = &c
	}
	base := httpClient.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	httpClient.Transport = conditionalTransport{base: base}

	client := github.NewClient(httpClient)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	client.BaseURL = baseURL

	return &Adapter{
		cfg:      cfg,
		owner:    owner,
		repo:     repo,
		client:   client,
		governor: transport.NewGovernor(cfg.MinWriteInterval),
		start:    time.Now().UTC().Add(-cfg.Lookback),
		cursors:  make(map[transport.Location]time.Time),
		previous: make(map[transport.Location]time.Time),
	}, nil
}

type ifNoneMatchKey struct{}

// conditionalTransport sends If-None-Match for requests whose context carries
// a stored ETag.
type conditionalTransport struct {
	base http.RoundTripper
}

func (t conditionalTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if etag, ok := req.Context().Value(ifNoneMatchKey{}).(string); ok && etag != "" {
		req = req.Clone(req.Context())
		req.Header.Set("If-None-Match", etag)
	}
	return t.base.RoundTrip(req)
}

func (a *Adapter) Name() string { return transport.IssueComment }

func (a *Adapter) RequestLocation(_, correlationID string) transport.Location {
	return transport.Location(envelope.BuildMarkerLocation(envelope.MarkerRequest, correlationID))
}

func (a *Adapter) ResponseLocation(_, correlationID string) transport.Location {
	return transport.Location(envelope.BuildMarkerLocation(envelope.MarkerResponse, correlationID))
}

// InboundLocation addresses every request marker on the thread. Sessions share
// the thread; the relay filters by session after decoding.
func (a *Adapter) InboundLocation(string) transport.Location {
	return transport.Location(envelope.BuildMarkerLocation(envelope.MarkerRequest, "*"))
}

// GovernorStats exposes the write and fetch counters of this instance.
func (a *Adapter) GovernorStats() transport.GovernorStats { return a.governor.Stats() }

// Publish posts a comment carrying payload as the marker named by loc. Posting
// a request also starts the scan for its response at the request's own
// creation time.
func (a *Adapter) Publish(ctx context.Context, loc transport.Location, payload []byte) error {
	kind, id, err := envelope.ParseMarkerLocation(string(loc))
	if err != nil {
		return transport.NewTransportError(a.Name(), "publish", loc, 0, err)
	}
	if err := a.governor.WaitWrite(ctx); err != nil {
		return transport.NewTransportError(a.Name(), "publish", loc, 0, err)
	}
	posted, resp, err := a.client.Issues.CreateComment(ctx, a.owner, a.repo, a.cfg.Issue, &github.IssueComment{
		Body: github.String(commentBody(kind, id, payload)),
	})
	if err != nil {
		return a.apiError("publish", loc, resp, err)
	}
	if kind == envelope.MarkerRequest {
		a.seed(a.ResponseLocation("", id), posted.GetCreatedAt().Time)
	}
	slog.Debug(fmt.Sprintf("%s - Posted %s marker for %s", logPrefix, kind, id))
	return nil
}

func commentBody(kind, id string, payload []byte) string {
	what := "request"
	if kind == envelope.MarkerResponse {
		what = "response"
	}
	return fmt.Sprintf("Relay %s `%s`\n\n%s", what, id, envelope.EncodeMarker(kind, id, payload))
}

// Fetch scans recent comments for the marker named by loc. A 304 from the API
// or a scan without a match yields ErrAbsent.
func (a *Adapter) Fetch(ctx context.Context, loc transport.Location) ([]byte, error) {
	kind, id, err := envelope.ParseMarkerLocation(string(loc))
	if err != nil {
		return nil, transport.NewTransportError(a.Name(), "fetch", loc, 0, err)
	}
	comments, err := a.scan(ctx, "fetch", loc)
	if err != nil {
		return nil, err
	}
	for _, c := range comments {
		if m, ok := envelope.FindMarker(c.GetBody(), kind, id); ok {
			return m.Payload, nil
		}
	}
	return nil, transport.ErrAbsent
}

// List returns every request marker posted since the listing cursor, most
// recent first. Comments are never removed, so the same request may be
// returned by consecutive calls.
func (a *Adapter) List(ctx context.Context, inbound transport.Location) ([]transport.Item, error) {
	comments, err := a.scan(ctx, "list", inbound)
	if err != nil {
		if errors.Is(err, transport.ErrAbsent) {
			return nil, transport.ErrNotModified
		}
		return nil, err
	}
	var items []transport.Item
	for _, c := range comments {
		for _, m := range envelope.ParseMarkers(c.GetBody()) {
			if m.Kind != envelope.MarkerRequest {
				continue
			}
			items = append(items, transport.Item{
				CorrelationID: m.CorrelationID,
				Location:      a.RequestLocation("", m.CorrelationID),
				Payload:       m.Payload,
			})
		}
	}
	return items, nil
}

// Delete is a no-op: posted comments stay on the thread for audit.
func (a *Adapter) Delete(_ context.Context, loc transport.Location) error {
	a.governor.ForgetToken(loc)
	a.mu.Lock()
	delete(a.cursors, loc)
	delete(a.previous, loc)
	a.mu.Unlock()
	return nil
}

// Invalidate rewinds the cursor of inbound to where the last scan started and
// forgets its ETag, so the next List returns the same comments again.
func (a *Adapter) Invalidate(inbound transport.Location) {
	a.governor.ForgetToken(inbound)
	a.mu.Lock()
	defer a.mu.Unlock()
	if prev, ok := a.previous[inbound]; ok {
		a.cursors[inbound] = prev
		delete(a.previous, inbound)
	}
}

func (a *Adapter) cursor(loc transport.Location) time.Time {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.cursors[loc]; ok {
		return c
	}
	return a.start
}

// seed sets the first cursor of loc unless a scan already moved it.
func (a *Adapter) seed(loc transport.Location, at time.Time) {
	if at.IsZero() {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.cursors[loc]; !ok {
		a.cursors[loc] = at.UTC()
	}
}

func (a *Adapter) advance(loc transport.Location, from, to time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.previous[loc] = from
	if to.After(a.cursors[loc]) {
		a.cursors[loc] = to
	}
}

// scan pages through the comments updated since the cursor of loc and returns
// them most recent first. The ETag of the first page is kept as the freshness
// token for loc; a 304 answer returns ErrAbsent and leaves it untouched.
func (a *Adapter) scan(ctx context.Context, op string, loc transport.Location) ([]*github.IssueComment, error) {
	since := a.cursor(loc)
	opts := &github.IssueListCommentsOptions{
		Since:       &since,
		ListOptions: github.ListOptions{Page: 1, PerPage: a.cfg.PerPage},
	}
	var all []*github.IssueComment
	var etag string
	for page := 1; page <= a.cfg.MaxPages; page++ {
		reqCtx := ctx
		if page == 1 {
			if tok, ok := a.governor.Token(loc); ok {
				reqCtx = context.WithValue(ctx, ifNoneMatchKey{}, tok)
			}
		}
		batch, resp, err := a.client.Issues.ListComments(reqCtx, a.owner, a.repo, a.cfg.Issue, opts)
		if page == 1 && resp != nil && resp.Response != nil && resp.StatusCode == http.StatusNotModified {
			a.governor.MarkNotModified()
			return nil, transport.ErrAbsent
		}
		if err != nil {
			return nil, a.apiError(op, loc, resp, err)
		}
		a.governor.MarkFetch()
		if page == 1 {
			etag = resp.Header.Get("ETag")
		}
		all = append(all, batch...)
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	newest := since
	for _, c := range all {
		if updated := c.GetUpdatedAt().Time; updated.After(newest) {
			newest = updated
		}
	}
	a.advance(loc, since, newest)
	a.governor.SetToken(loc, etag)

	// The API returns oldest first.
	for i, j := 0, len(all)-1; i < j; i, j = i+1, j-1 {
		all[i], all[j] = all[j], all[i]
	}
	return all, nil
}

func (a *Adapter) apiError(op string, loc transport.Location, resp *github.Response, err error) error {
	status := 0
	if resp != nil && resp.Response != nil {
		status = resp.StatusCode
	}
	return transport.NewTransportError(a.Name(), op, loc, status, err)
}
