package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySet_CapacityEvictsLeastRecent(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySet(2, 0)

	require.NoError(t, s.Add(ctx, "a"))
	require.NoError(t, s.Add(ctx, "b"))
	ok, _ := s.Contains(ctx, "a") // touch a
	require.True(t, ok)
	require.NoError(t, s.Add(ctx, "c"))

	assert.Equal(t, 2, s.Len())
	for id, want := range map[string]bool{"a": true, "b": false, "c": true} {
		got, err := s.Contains(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, got, "id %s", id)
	}
}

func TestMemorySet_TTLExpiry(t *testing.T) {
	ctx := context.Background()
	const ttl = 50 * time.Millisecond
	s := NewMemorySet(10, ttl)

	require.NoError(t, s.Add(ctx, "a"))
	ok, _ := s.Contains(ctx, "a")
	assert.True(t, ok)

	time.Sleep(ttl + 20*time.Millisecond)
	ok, _ = s.Contains(ctx, "a")
	assert.False(t, ok)
	require.Eventually(t, func() bool { return s.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestMemorySet_NonPositiveTTLNeverExpires(t *testing.T) {
	ctx := context.Background()
	s := NewMemorySet(0, -time.Second)

	require.NoError(t, s.Add(ctx, "a"))
	time.Sleep(10 * time.Millisecond)
	ok, _ := s.Contains(ctx, "a")
	assert.True(t, ok)
}

type mapSet struct {
	ids     map[string]bool
	failAdd bool
	lookups int
}

func (m *mapSet) Contains(_ context.Context, id string) (bool, error) {
	m.lookups++
	return m.ids[id], nil
}

func (m *mapSet) Add(_ context.Context, id string) error {
	if m.failAdd {
		return errors.New("disk full")
	}
	m.ids[id] = true
	return nil
}

func TestLayeredSet(t *testing.T) {
	ctx := context.Background()
	durable := &mapSet{ids: map[string]bool{"from-last-run": true}}
	s := NewLayeredSet(NewMemorySet(10, time.Hour), durable)

	ok, err := s.Contains(ctx, "from-last-run")
	require.NoError(t, err)
	assert.True(t, ok)
	// Promoted to memory; the durable store is not asked again.
	ok, _ = s.Contains(ctx, "from-last-run")
	assert.True(t, ok)
	assert.Equal(t, 1, durable.lookups)

	require.NoError(t, s.Add(ctx, "new"))
	assert.True(t, durable.ids["new"])

	durable.failAdd = true
	assert.Error(t, s.Add(ctx, "unlucky"))
	ok, _ = s.Contains(ctx, "unlucky")
	assert.True(t, ok, "memory layer still records the id")
}
