package dialer

import (
	"context"
	"sync"
	"time"

	"outdial-platform/pkg/utils"

	"github.com/redis/go-redis/v9"
)

// SlotLimiter tracks concurrency slots per campaign. One slot is one
// in-flight call.
//
// The invariant "in-flight <= max_concurrent_calls" holds because Acquire
// happens before dispatch and Release happens strictly after the durable
// write of the terminal call status.
type SlotLimiter interface {
	Acquire(ctx context.Context, campaignID string, limit int) (bool, error)
	Release(ctx context.Context, campaignID string) error
	InFlight(ctx context.Context, campaignID string) (int, error)
}

// MemorySlots is a process-local SlotLimiter. Suitable for a single-node
// deployment and for tests.
type MemorySlots struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewMemorySlots() *MemorySlots {
	return &MemorySlots{counts: make(map[string]int)}
}

func (m *MemorySlots) Acquire(ctx context.Context, campaignID string, limit int) (bool, error) {
	if limit <= 0 {
		return false, nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counts[campaignID] >= limit {
		return false, nil
	}
	m.counts[campaignID]++
	return true, nil
}

func (m *MemorySlots) Release(ctx context.Context, campaignID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Clamp at zero: a release for a call placed before a restart must not
	// drive the counter negative.
	if m.counts[campaignID] > 0 {
		m.counts[campaignID]--
	}
	if m.counts[campaignID] == 0 {
		delete(m.counts, campaignID)
	}
	return nil
}

func (m *MemorySlots) InFlight(ctx context.Context, campaignID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[campaignID], nil
}

// RedisSlots is a distributed SlotLimiter sharing one counter per campaign
// across scheduler nodes. The TTL guards against leaked slots from a
// crashed process.
type RedisSlots struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisSlots(rdb *redis.Client, ttl time.Duration) *RedisSlots {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &RedisSlots{rdb: rdb, ttl: ttl}
}

func slotKey(campaignID string) string { return "outdial:slots:" + campaignID }

func (r *RedisSlots) Acquire(ctx context.Context, campaignID string, limit int) (bool, error) {
	return utils.AcquireConcurrencyCap(ctx, r.rdb, slotKey(campaignID), limit, r.ttl)
}

func (r *RedisSlots) Release(ctx context.Context, campaignID string) error {
	return utils.ReleaseConcurrencyCap(ctx, r.rdb, slotKey(campaignID))
}

func (r *RedisSlots) InFlight(ctx context.Context, campaignID string) (int, error) {
	n, err := r.rdb.Get(ctx, slotKey(campaignID)).Int()
	if err != nil {
		if err == redis.Nil {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}
