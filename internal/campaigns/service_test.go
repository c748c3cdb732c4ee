package campaigns

import (
	"context"
	"errors"
	"testing"
	"time"

	"outdial-platform/internal/contacts"
)

func newTestService(t *testing.T) (*Service, *MemoryRepo, *contacts.MemoryRepo) {
	t.Helper()
	repo := NewMemoryRepo()
	contactRepo := contacts.NewMemoryRepo()
	svc := NewService(repo, contactRepo, nil)
	svc.clock = func() time.Time { return time.Unix(1700000000, 0).UTC() }
	return svc, repo, contactRepo
}

func TestServiceLifecycleTransitions(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	c, err := svc.Create(ctx, CreateRequest{WorkspaceID: "w1", Name: "Q4 outreach"})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if c.Status != StatusDraft {
		t.Fatalf("expected draft, got %s", c.Status)
	}
	if c.Settings.MaxConcurrentCalls != 1 {
		t.Fatalf("defaults not applied: %+v", c.Settings)
	}

	if _, err := svc.Pause(ctx, "w1", c.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("pause of draft must fail, got %v", err)
	}

	c, err = svc.Start(ctx, "w1", c.ID)
	if err != nil || c.Status != StatusActive {
		t.Fatalf("start: status=%s err=%v", c.Status, err)
	}
	c, err = svc.Pause(ctx, "w1", c.ID)
	if err != nil || c.Status != StatusPaused {
		t.Fatalf("pause: status=%s err=%v", c.Status, err)
	}
	c, err = svc.Resume(ctx, "w1", c.ID)
	if err != nil || c.Status != StatusActive {
		t.Fatalf("resume: status=%s err=%v", c.Status, err)
	}
}

func TestServiceWorkspaceIsolation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	c, _ := svc.Create(ctx, CreateRequest{WorkspaceID: "w1", Name: "c"})
	if _, err := svc.Start(ctx, "w2", c.ID); !errors.Is(err, ErrWrongWorkspace) {
		t.Fatalf("expected workspace mismatch, got %v", err)
	}
}

func TestServiceStopSkipsPendingContacts(t *testing.T) {
	svc, _, contactRepo := newTestService(t)
	ctx := context.Background()

	c, _ := svc.Create(ctx, CreateRequest{WorkspaceID: "w1", Name: "c"})
	if _, err := svc.Start(ctx, "w1", c.ID); err != nil {
		t.Fatalf("start: %v", err)
	}

	contactRepo.Put(contacts.Contact{ID: "a", Status: contacts.StatusPending, CampaignIDs: []string{c.ID}})
	contactRepo.Put(contacts.Contact{ID: "b", Status: contacts.StatusCalling, CampaignIDs: []string{c.ID}})

	stopped, err := svc.Stop(ctx, "w1", c.ID)
	if err != nil {
		t.Fatalf("stop: %v", err)
	}
	if stopped.Status != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", stopped.Status)
	}

	a, _, _ := contactRepo.Get(ctx, "a")
	if a.Status != contacts.StatusInactive {
		t.Fatalf("pending contact must be skipped, got %s", a.Status)
	}
	b, _, _ := contactRepo.Get(ctx, "b")
	if b.Status != contacts.StatusCalling {
		t.Fatalf("in-flight contact must keep calling, got %s", b.Status)
	}

	if _, err := svc.Resume(ctx, "w1", c.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("cancelled is final, got %v", err)
	}
}

func TestStatsAverageDuration(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	_ = repo.AddDurationSample(ctx, "camp1", 10)
	_ = repo.AddDurationSample(ctx, "camp1", 20)
	_ = repo.IncrementStat(ctx, "camp1", StatCallsCompleted, 1)
	_ = repo.IncrementStat(ctx, "camp1", StatCallsCompleted, 1)

	s, err := repo.GetStats(ctx, "camp1")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if s.CallsCompleted != 2 {
		t.Fatalf("expected 2 completed, got %d", s.CallsCompleted)
	}
	if s.AverageDurationSeconds != 15 {
		t.Fatalf("expected mean 15, got %v", s.AverageDurationSeconds)
	}
}
