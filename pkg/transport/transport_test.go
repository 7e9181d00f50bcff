package transport

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubAdapter struct {
	name string
	sync bool
}

func (s *stubAdapter) Name() string                                { return s.name }
func (s *stubAdapter) RequestLocation(_, id string) Location        { return Location("req/" + id) }
func (s *stubAdapter) ResponseLocation(_, id string) Location       { return Location("resp/" + id) }
func (s *stubAdapter) InboundLocation(string) Location              { return "req/" }
func (s *stubAdapter) Publish(context.Context, Location, []byte) error { return nil }
func (s *stubAdapter) Fetch(context.Context, Location) ([]byte, error) { return nil, ErrAbsent }
func (s *stubAdapter) List(context.Context, Location) ([]Item, error)  { return nil, ErrNotModified }
func (s *stubAdapter) Delete(context.Context, Location) error          { return nil }

type syncStub struct{ stubAdapter }

func (s *syncStub) Synchronous() bool { return s.sync }

func TestOpen_Registered(t *testing.T) {
	Register("stub-test", func(settings interface{}) (Adapter, error) {
		return &stubAdapter{name: settings.(string)}, nil
	})

	a, err := Open("stub-test", "named")
	require.NoError(t, err)
	assert.Equal(t, "named", a.Name())
	assert.Contains(t, Carriers(), "stub-test")
}

func TestOpen_Unknown(t *testing.T) {
	_, err := Open("carrier-pigeon", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownCarrier))
}

func TestIsSynchronous(t *testing.T) {
	assert.False(t, IsSynchronous(&stubAdapter{}))
	assert.False(t, IsSynchronous(&syncStub{}))
	assert.True(t, IsSynchronous(&syncStub{stubAdapter{sync: true}}))
}

type invalidatingStub struct {
	stubAdapter
	invalidated []Location
}

func (s *invalidatingStub) Invalidate(loc Location) { s.invalidated = append(s.invalidated, loc) }

func TestInvalidate(t *testing.T) {
	inv := &invalidatingStub{}
	Invalidate(inv, "req/")
	assert.Equal(t, []Location{"req/"}, inv.invalidated)

	assert.NotPanics(t, func() { Invalidate(&stubAdapter{}, "req/") }, "adapters without listing state are left alone")
}

func TestTransportError(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewTransportError("issuecomment", "publish", "MCP_REQUEST:abc", 502, cause)

	assert.True(t, errors.Is(err, cause))
	var terr *TransportError
	require.True(t, errors.As(error(err), &terr))
	assert.Equal(t, 502, terr.StatusCode)

	msg := err.Error()
	for _, part := range []string{"issuecomment", "publish", "MCP_REQUEST:abc", "502", "connection refused"} {
		assert.True(t, strings.Contains(msg, part), "message %q should contain %q", msg, part)
	}
}
