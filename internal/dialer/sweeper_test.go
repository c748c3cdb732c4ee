package dialer

import (
	"context"
	"testing"
	"time"

	"outdial-platform/internal/calls"
	"outdial-platform/internal/campaigns"
	"outdial-platform/internal/contacts"
)

func newSweeper(e *engine, maxAge time.Duration) *Sweeper {
	s := NewSweeper(e.callRepo, e.tracker, e.metrics, nil, time.Minute, maxAge)
	s.clock = func() time.Time { return e.now }
	return s
}

func TestSweeperForcesStuckCalls(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	e.seedCampaign(t, "camp-1", campaigns.StatusActive, campaigns.Settings{})
	e.seedContact("ct-stuck", "camp-1", 0)
	e.seedContact("ct-live", "camp-1", 0)

	e.seedCall(t, "CA001", "camp-1", "ct-stuck")
	e.seedCall(t, "CA002", "camp-1", "ct-live")

	// CA002 got a recent update; CA001 went silent.
	e.now = e.now.Add(20 * time.Minute)
	if err := e.tracker.OnEvent(ctx, statusEvent("CA002", calls.CallStatusRinging, e.now)); err != nil {
		t.Fatalf("OnEvent: %v", err)
	}

	sw := newSweeper(e, 15*time.Minute)
	if forced := sw.Sweep(ctx); forced != 1 {
		t.Fatalf("forced = %d, want 1", forced)
	}

	stuck, _, _ := e.callRepo.Get(ctx, "CA001")
	if stuck.Status != calls.CallStatusFailed {
		t.Fatalf("CA001 status = %q, want failed", stuck.Status)
	}
	live, _, _ := e.callRepo.Get(ctx, "CA002")
	if live.Status != calls.CallStatusRinging {
		t.Fatalf("CA002 status = %q, want ringing", live.Status)
	}

	// The forced failure took the normal terminal path.
	contact, _, _ := e.contactRepo.Get(ctx, "ct-stuck")
	if contact.Status != contacts.StatusFailed {
		t.Fatalf("contact = %q, want failed", contact.Status)
	}
	if n, _ := e.slots.InFlight(ctx, "camp-1"); n != 1 {
		t.Fatalf("in flight = %d, want 1 (only CA002)", n)
	}

	// A second pass finds nothing new.
	if forced := sw.Sweep(ctx); forced != 0 {
		t.Fatal("terminal call swept twice")
	}
}

func TestSweeperResettlesInterruptedFinalize(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	cstore := &flakyContactStore{Repository: e.contactRepo, updateFailures: 1}
	e.retrack(nil, cstore)
	e.seedCampaign(t, "camp-1", campaigns.StatusActive, campaigns.Settings{})
	e.seedContact("ct-1", "camp-1", 0)
	e.seedCall(t, "CA001", "camp-1", "ct-1")

	// The terminal write lands but the settlement dies against the contact
	// store. The provider never redelivers, so only the sweeper can finish.
	err := e.tracker.OnEvent(ctx, statusEvent("CA001", calls.CallStatusCompleted, e.now.Add(30*time.Second)))
	if err == nil {
		t.Fatal("OnEvent succeeded despite settlement failure")
	}
	call, _, _ := e.callRepo.Get(ctx, "CA001")
	if call.Status != calls.CallStatusCompleted || call.Finalized {
		t.Fatalf("call = %+v, want unfinalized completed", call)
	}

	e.now = e.now.Add(5 * time.Minute)
	sw := newSweeper(e, 15*time.Minute)
	if forced := sw.Sweep(ctx); forced != 0 {
		t.Fatalf("forced = %d, want 0 (call is already terminal)", forced)
	}

	call, _, _ = e.callRepo.Get(ctx, "CA001")
	if !call.Finalized {
		t.Fatal("sweep did not complete the settlement")
	}
	contact, _, _ := e.contactRepo.Get(ctx, "ct-1")
	if contact.Status != contacts.StatusCompleted || contact.AttemptNumber != 1 {
		t.Fatalf("contact = %+v, want completed after one attempt", contact)
	}
	stats, _ := e.campaignRepo.GetStats(ctx, "camp-1")
	if stats.CallsCompleted != 1 {
		t.Fatalf("CallsCompleted = %d, want 1", stats.CallsCompleted)
	}
	if n, _ := e.slots.InFlight(ctx, "camp-1"); n != 0 {
		t.Fatalf("slot not released, in flight = %d", n)
	}
}

func TestSweeperForcedStatusBeatsLateWebhook(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	e.seedCampaign(t, "camp-1", campaigns.StatusActive, campaigns.Settings{})
	e.seedContact("ct-1", "camp-1", 0)
	e.seedCall(t, "CA001", "camp-1", "ct-1")

	e.now = e.now.Add(30 * time.Minute)
	sw := newSweeper(e, 15*time.Minute)
	if forced := sw.Sweep(ctx); forced != 1 {
		t.Fatalf("forced = %d, want 1", forced)
	}

	// The provider's terminal report finally shows up; first terminal wins.
	if err := e.tracker.OnEvent(ctx, statusEvent("CA001", calls.CallStatusCompleted, e.now.Add(time.Second))); err != nil {
		t.Fatalf("OnEvent: %v", err)
	}
	call, _, _ := e.callRepo.Get(ctx, "CA001")
	if call.Status != calls.CallStatusFailed {
		t.Fatalf("status = %q, want failed", call.Status)
	}
	stats, _ := e.campaignRepo.GetStats(ctx, "camp-1")
	if stats.CallsCompleted != 1 {
		t.Fatalf("CallsCompleted = %d, want 1", stats.CallsCompleted)
	}
}
