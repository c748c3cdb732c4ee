package campaigns

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository useful for tests.
// It is not intended for production use.

type MemoryRepo struct {
	mu        sync.Mutex
	campaigns map[string]Campaign
	stats     map[string]Stats
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		campaigns: make(map[string]Campaign),
		stats:     make(map[string]Stats),
	}
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Campaign, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok {
		return Campaign{}, false, nil
	}
	c.Stats = r.stats[id].WithDerived()
	return c, true, nil
}

func (r *MemoryRepo) Create(ctx context.Context, c Campaign) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.campaigns[c.ID] = c
	return nil
}

func (r *MemoryRepo) SetStatus(ctx context.Context, id string, from, to Status, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.campaigns[id]
	if !ok || c.Status != from {
		return false, nil
	}
	c.Status = to
	c.UpdatedAt = now
	r.campaigns[id] = c
	return true, nil
}

func (r *MemoryRepo) ListByStatus(ctx context.Context, status Status) ([]Campaign, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Campaign
	for _, c := range r.campaigns {
		if c.Status == status {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (r *MemoryRepo) IncrementStat(ctx context.Context, id string, field StatField, delta int64) error {
	if !field.IsValid() {
		return ErrInvalidField
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats[id]
	switch field {
	case StatTotalContacts:
		s.TotalContacts += delta
	case StatCallsPlaced:
		s.CallsPlaced += delta
	case StatCallsCompleted:
		s.CallsCompleted += delta
	case StatCallsAnswered:
		s.CallsAnswered += delta
	case StatCallsFailed:
		s.CallsFailed += delta
	}
	r.stats[id] = s
	return nil
}

func (r *MemoryRepo) AddDurationSample(ctx context.Context, id string, seconds int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stats[id]
	s.DurationSumSeconds += seconds
	s.DurationSamples++
	r.stats[id] = s
	return nil
}

func (r *MemoryRepo) GetStats(ctx context.Context, id string) (Stats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats[id].WithDerived(), nil
}
