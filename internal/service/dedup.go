package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupStore remembers callback delivery IDs so repeated deliveries can be
// short-circuited before touching payment state. Marking is first-writer-wins:
// MarkSeen returns true only for the first caller of a given key.
type DedupStore interface {
	// MarkSeen records the delivery and reports whether this was the first
	// time it was seen.
	MarkSeen(ctx context.Context, brokerID, eventID string) (bool, error)
	// Forget releases a mark so the delivery can be processed again. Used
	// when the transition behind a marked delivery failed to commit.
	Forget(ctx context.Context, brokerID, eventID string) error
}

// RedisDedupStore implements DedupStore on Redis SETNX with a TTL. Keys
// expire after the retention window; a broker redelivering later than that
// is still caught by the state-based idempotency check.
type RedisDedupStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisDedupStore creates a Redis-backed dedup store.
func NewRedisDedupStore(client *redis.Client, ttl time.Duration) *RedisDedupStore {
	return &RedisDedupStore{client: client, ttl: ttl}
}

func (s *RedisDedupStore) MarkSeen(ctx context.Context, brokerID, eventID string) (bool, error) {
	first, err := s.client.SetNX(ctx, dedupKey(brokerID, eventID), 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("mark callback seen: %w", err)
	}
	return first, nil
}

func (s *RedisDedupStore) Forget(ctx context.Context, brokerID, eventID string) error {
	if err := s.client.Del(ctx, dedupKey(brokerID, eventID)).Err(); err != nil {
		return fmt.Errorf("forget callback delivery: %w", err)
	}
	return nil
}

func dedupKey(brokerID, eventID string) string {
	return fmt.Sprintf("getpaid:callback:%s:%s", brokerID, eventID)
}

// MemoryDedupStore is an in-process DedupStore for tests and single-node
// development runs.
type MemoryDedupStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryDedupStore creates an in-memory dedup store.
func NewMemoryDedupStore() *MemoryDedupStore {
	return &MemoryDedupStore{seen: make(map[string]struct{})}
}

func (s *MemoryDedupStore) MarkSeen(_ context.Context, brokerID, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := brokerID + ":" + eventID
	if _, ok := s.seen[key]; ok {
		return false, nil
	}
	s.seen[key] = struct{}{}
	return true, nil
}

func (s *MemoryDedupStore) Forget(_ context.Context, brokerID, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.seen, brokerID+":"+eventID)
	return nil
}
