package contacts

import (
	"context"
	"testing"
	"time"
)

func TestClaimNextEligibleOrdersByPriorityThenEligibility(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()

	repo.Put(Contact{ID: "low", Status: StatusPending, Priority: 1, NextEligibleAt: now.Add(-time.Hour), CampaignIDs: []string{"camp1"}})
	repo.Put(Contact{ID: "high-late", Status: StatusPending, Priority: 5, NextEligibleAt: now.Add(-time.Minute), CampaignIDs: []string{"camp1"}})
	repo.Put(Contact{ID: "high-early", Status: StatusPending, Priority: 5, NextEligibleAt: now.Add(-time.Hour), CampaignIDs: []string{"camp1"}})
	repo.Put(Contact{ID: "future", Status: StatusPending, Priority: 9, NextEligibleAt: now.Add(time.Hour), CampaignIDs: []string{"camp1"}})
	repo.Put(Contact{ID: "other-campaign", Status: StatusPending, Priority: 9, NextEligibleAt: now.Add(-time.Hour), CampaignIDs: []string{"camp2"}})

	c, ok, err := repo.ClaimNextEligible(context.Background(), "camp1", now)
	if err != nil || !ok {
		t.Fatalf("claim failed: ok=%v err=%v", ok, err)
	}
	if c.ID != "high-early" {
		t.Fatalf("expected high-early, got %s", c.ID)
	}
	if c.Status != StatusCalling {
		t.Fatalf("claim must mark calling, got %s", c.Status)
	}

	// The claimed contact must not be claimable again.
	c2, ok, _ := repo.ClaimNextEligible(context.Background(), "camp1", now)
	if !ok || c2.ID != "high-late" {
		t.Fatalf("expected high-late next, got ok=%v id=%s", ok, c2.ID)
	}
}

func TestClaimNextEligibleHonorsEligibilityTime(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()

	repo.Put(Contact{ID: "retrying", Status: StatusPending, NextEligibleAt: now.Add(30 * time.Second), CampaignIDs: []string{"camp1"}})

	if _, ok, _ := repo.ClaimNextEligible(context.Background(), "camp1", now); ok {
		t.Fatalf("contact claimed before next_eligible_at")
	}
	if _, ok, _ := repo.ClaimNextEligible(context.Background(), "camp1", now.Add(30*time.Second)); !ok {
		t.Fatalf("contact not claimable once eligible")
	}
}

func TestMarkRemainingSkipped(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()

	repo.Put(Contact{ID: "a", Status: StatusPending, CampaignIDs: []string{"camp1"}})
	repo.Put(Contact{ID: "b", Status: StatusCalling, CampaignIDs: []string{"camp1"}})
	repo.Put(Contact{ID: "c", Status: StatusCompleted, CampaignIDs: []string{"camp1"}})

	n, err := repo.MarkRemainingSkipped(context.Background(), "camp1", now)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 skipped, got %d", n)
	}

	a, _, _ := repo.Get(context.Background(), "a")
	if a.Status != StatusInactive {
		t.Fatalf("pending contact not skipped: %s", a.Status)
	}
	b, _, _ := repo.Get(context.Background(), "b")
	if b.Status != StatusCalling {
		t.Fatalf("in-flight contact must be untouched: %s", b.Status)
	}
}
