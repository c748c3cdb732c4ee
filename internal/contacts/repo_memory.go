package contacts

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepo is an in-memory Repository useful for tests.
// It is not intended for production use.

type MemoryRepo struct {
	mu       sync.Mutex
	contacts map[string]Contact
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{contacts: make(map[string]Contact)}
}

// Put seeds or replaces a contact.
func (r *MemoryRepo) Put(c Contact) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.contacts[c.ID] = c
}

func (r *MemoryRepo) Get(ctx context.Context, id string) (Contact, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.contacts[id]
	return c, ok, nil
}

func (r *MemoryRepo) Update(ctx context.Context, c Contact) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.contacts[c.ID]
	if !ok {
		return ErrNotFound
	}
	// Membership is managed at import time, not by updates.
	c.CampaignIDs = prev.CampaignIDs
	r.contacts[c.ID] = c
	return nil
}

func (r *MemoryRepo) ClaimNextEligible(ctx context.Context, campaignID string, now time.Time) (Contact, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var eligible []Contact
	for _, c := range r.contacts {
		if c.Status == StatusPending && !c.NextEligibleAt.After(now) && c.InCampaign(campaignID) {
			eligible = append(eligible, c)
		}
	}
	if len(eligible) == 0 {
		return Contact{}, false, nil
	}
	sort.Slice(eligible, func(i, j int) bool {
		if eligible[i].Priority != eligible[j].Priority {
			return eligible[i].Priority > eligible[j].Priority
		}
		if !eligible[i].NextEligibleAt.Equal(eligible[j].NextEligibleAt) {
			return eligible[i].NextEligibleAt.Before(eligible[j].NextEligibleAt)
		}
		return eligible[i].ID < eligible[j].ID
	})

	c := eligible[0]
	c.Status = StatusCalling
	c.UpdatedAt = now
	r.contacts[c.ID] = c
	return c, true, nil
}

func (r *MemoryRepo) CountRemaining(ctx context.Context, campaignID string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.contacts {
		if (c.Status == StatusPending || c.Status == StatusCalling) && c.InCampaign(campaignID) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepo) MarkRemainingSkipped(ctx context.Context, campaignID string, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for id, c := range r.contacts {
		if c.Status == StatusPending && c.InCampaign(campaignID) {
			c.Status = StatusInactive
			c.UpdatedAt = now
			r.contacts[id] = c
			n++
		}
	}
	return n, nil
}
