package relay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const processedLogPrefix = "relay:processed"

// Defaults for the in-memory processed set.
const (
	DefaultProcessedCapacity = 10000
	DefaultProcessedTTL      = 24 * time.Hour
)

// ProcessedSet records correlation ids the relay has already handled.
type ProcessedSet interface {
	Contains(ctx context.Context, correlationID string) (bool, error)
	Add(ctx context.Context, correlationID string) error
}

// MemorySet is a ProcessedSet bounded by capacity (least recently seen ids
// are evicted first) and by a time-to-live per id.
type MemorySet struct {
	ids *expirable.LRU[string, struct{}]
}

// NewMemorySet creates a MemorySet. A non-positive ttl disables expiry.
func NewMemorySet(capacity int, ttl time.Duration) *MemorySet {
	if capacity <= 0 {
		capacity = DefaultProcessedCapacity
	}
	return &MemorySet{ids: expirable.NewLRU[string, struct{}](capacity, nil, ttl)}
}

func (s *MemorySet) Contains(_ context.Context, correlationID string) (bool, error) {
	_, ok := s.ids.Get(correlationID)
	return ok, nil
}

func (s *MemorySet) Add(_ context.Context, correlationID string) error {
	s.ids.Add(correlationID, struct{}{})
	return nil
}

// Len returns the number of ids currently held.
func (s *MemorySet) Len() int { return s.ids.Len() }

// LayeredSet consults a fast in-memory set before a durable store, so ids
// survive relay restarts.
type LayeredSet struct {
	memory  *MemorySet
	durable ProcessedSet
}

// NewLayeredSet creates a LayeredSet.
func NewLayeredSet(memory *MemorySet, durable ProcessedSet) *LayeredSet {
	return &LayeredSet{memory: memory, durable: durable}
}

func (s *LayeredSet) Contains(ctx context.Context, correlationID string) (bool, error) {
	if ok, _ := s.memory.Contains(ctx, correlationID); ok {
		return true, nil
	}
	ok, err := s.durable.Contains(ctx, correlationID)
	if err != nil {
		return false, fmt.Errorf("%s - durable lookup: %w", processedLogPrefix, err)
	}
	if ok {
		_ = s.memory.Add(ctx, correlationID)
	}
	return ok, nil
}

// Add records the id in memory first, so a failing durable store still
// prevents reprocessing within this process.
func (s *LayeredSet) Add(ctx context.Context, correlationID string) error {
	_ = s.memory.Add(ctx, correlationID)
	if err := s.durable.Add(ctx, correlationID); err != nil {
		slog.Warn(fmt.Sprintf("%s - Durable add failed for %s: %v", processedLogPrefix, correlationID, err))
		return fmt.Errorf("%s - durable add: %w", processedLogPrefix, err)
	}
	return nil
}
