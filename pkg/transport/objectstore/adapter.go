// Package objectstore implements the relay carrier over an object store.
// Requests and responses are stored as individual JSON objects under a base
// URL understood by viant/afs (mem://, file://, s3://, gs://).
package objectstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/storage"

	"github.com/edri2or-commits/project38-or-sub003/pkg/envelope"
	"github.com/edri2or-commits/project38-or-sub003/pkg/transport"
)

const logPrefix = "objectstore:adapter"

// Config configures an object-store Adapter.
type Config struct {
	// BaseURL is the bucket URL including any key prefix, e.g. s3://bucket/relay.
	BaseURL          string
	MinWriteInterval time.Duration
}

// Adapter moves envelopes as objects under BaseURL.
type Adapter struct {
	fs       afs.Service
	baseURL  string
	governor *transport.Governor
}

func init() {
	transport.Register(transport.ObjectStore, func(settings interface{}) (transport.Adapter, error) {
		cfg, ok := settings.(Config)
		if !ok {
			return nil, fmt.Errorf("%s - expected objectstore.Config, got %T", logPrefix, settings)
		}
		return New(cfg)
	})
}

// New creates an object-store Adapter.
func New(cfg Config) (*Adapter, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("%s - base URL is required", logPrefix)
	}
	return &Adapter{
		fs:       afs.New(),
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		governor: transport.NewGovernor(cfg.MinWriteInterval),
	}, nil
}

func (a *Adapter) Name() string { return transport.ObjectStore }

func (a *Adapter) url(key string) transport.Location {
	return transport.Location(a.baseURL + "/" + key)
}

func (a *Adapter) RequestLocation(sessionID, correlationID string) transport.Location {
	return a.url(envelope.BuildRequestKey("", sessionID, correlationID))
}

func (a *Adapter) ResponseLocation(sessionID, correlationID string) transport.Location {
	return a.url(envelope.BuildResponseKey("", sessionID, correlationID))
}

func (a *Adapter) InboundLocation(sessionID string) transport.Location {
	return a.url(envelope.BuildRequestsPrefix("", sessionID))
}

// GovernorStats exposes the write and fetch counters of this instance.
func (a *Adapter) GovernorStats() transport.GovernorStats { return a.governor.Stats() }

// Publish uploads payload at loc after the write throttle grants a slot.
func (a *Adapter) Publish(ctx context.Context, loc transport.Location, payload []byte) error {
	if err := a.governor.WaitWrite(ctx); err != nil {
		return transport.NewTransportError(a.Name(), "publish", loc, 0, err)
	}
	if err := a.fs.Upload(ctx, string(loc), 0644, bytes.NewReader(payload)); err != nil {
		return transport.NewTransportError(a.Name(), "publish", loc, 0, err)
	}
	slog.Debug(fmt.Sprintf("%s - Published %d bytes to %s", logPrefix, len(payload), loc))
	return nil
}

// Fetch downloads the object at loc. A missing object, or one whose
// modification time and size match the last download, yields ErrAbsent.
func (a *Adapter) Fetch(ctx context.Context, loc transport.Location) ([]byte, error) {
	exists, err := a.fs.Exists(ctx, string(loc))
	if err != nil {
		return nil, transport.NewTransportError(a.Name(), "fetch", loc, 0, err)
	}
	if !exists {
		return nil, transport.ErrAbsent
	}
	obj, err := a.fs.Object(ctx, string(loc))
	if err != nil {
		return nil, transport.NewTransportError(a.Name(), "fetch", loc, 0, err)
	}
	token := objectToken(obj)
	if a.governor.Fresh(loc, token) {
		return nil, transport.ErrAbsent
	}
	data, err := a.fs.DownloadWithURL(ctx, string(loc))
	if err != nil {
		return nil, transport.NewTransportError(a.Name(), "fetch", loc, 0, err)
	}
	a.governor.SetToken(loc, token)
	return data, nil
}

// List returns every request object under inbound. When the listing (names,
// sizes, modification times) is unchanged since the previous call it returns
// ErrNotModified without downloading anything. A listing with an object that
// failed to download is not remembered, so the next call retries it.
func (a *Adapter) List(ctx context.Context, inbound transport.Location) ([]transport.Item, error) {
	objects, err := a.listObjects(ctx, string(inbound))
	if err != nil {
		return nil, transport.NewTransportError(a.Name(), "list", inbound, 0, err)
	}
	token := listingToken(objects)
	if a.governor.Fresh(inbound, token) {
		return nil, transport.ErrNotModified
	}

	items := make([]transport.Item, 0, len(objects))
	complete := true
	for _, obj := range objects {
		id, err := envelope.CorrelationIDFromKey(obj.URL())
		if err != nil {
			slog.Debug(fmt.Sprintf("%s - Skipping foreign object %s", logPrefix, obj.URL()))
			continue
		}
		data, err := a.fs.DownloadWithURL(ctx, obj.URL())
		if err != nil {
			// Consumed by another reader between list and download.
			slog.Warn(fmt.Sprintf("%s - Failed to download %s: %v", logPrefix, obj.URL(), err))
			complete = false
			continue
		}
		items = append(items, transport.Item{
			CorrelationID: id,
			Location:      transport.Location(obj.URL()),
			Payload:       data,
		})
	}
	if complete {
		a.governor.SetToken(inbound, token)
	}
	return items, nil
}

// Invalidate forgets the listing token of inbound.
func (a *Adapter) Invalidate(inbound transport.Location) {
	a.governor.ForgetToken(inbound)
}

// listObjects lists the files under dir, descending one level into session
// directories so the all-sessions inbound location is covered.
func (a *Adapter) listObjects(ctx context.Context, dir string) ([]storage.Object, error) {
	exists, err := a.fs.Exists(ctx, dir)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	listed, err := a.fs.List(ctx, dir)
	if err != nil {
		return nil, err
	}
	root := strings.TrimRight(dir, "/")
	seen := make(map[string]bool)
	var out []storage.Object
	add := func(obj storage.Object) {
		if obj.IsDir() || seen[obj.URL()] {
			return
		}
		seen[obj.URL()] = true
		out = append(out, obj)
	}
	for _, obj := range listed {
		if !obj.IsDir() {
			add(obj)
			continue
		}
		// The listed directory itself is reported first.
		if strings.TrimRight(obj.URL(), "/") == root {
			continue
		}
		nested, err := a.fs.List(ctx, obj.URL())
		if err != nil {
			return nil, err
		}
		for _, child := range nested {
			add(child)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL() < out[j].URL() })
	return out, nil
}

// Delete removes the object at loc. A missing object is not an error.
func (a *Adapter) Delete(ctx context.Context, loc transport.Location) error {
	exists, err := a.fs.Exists(ctx, string(loc))
	if err != nil {
		return transport.NewTransportError(a.Name(), "delete", loc, 0, err)
	}
	a.governor.ForgetToken(loc)
	if !exists {
		return nil
	}
	if err := a.fs.Delete(ctx, string(loc)); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return transport.NewTransportError(a.Name(), "delete", loc, 0, err)
	}
	return nil
}

func objectToken(obj storage.Object) string {
	return strconv.FormatInt(obj.ModTime().UnixNano(), 36) + "-" + strconv.FormatInt(obj.Size(), 36)
}

func listingToken(objects []storage.Object) string {
	h := sha256.New()
	for _, obj := range objects {
		fmt.Fprintf(h, "%s|%s\n", obj.URL(), objectToken(obj))
	}
	return hex.EncodeToString(h.Sum(nil))
}
