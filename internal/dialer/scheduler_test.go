package dialer

import (
	"context"
	"testing"
	"time"

	"outdial-platform/internal/calls"
	"outdial-platform/internal/campaigns"
	"outdial-platform/internal/contacts"
	"outdial-platform/internal/telephony"
)

func TestSchedulerDispatchesHighestPriorityContact(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	e.seedCampaign(t, "camp-1", campaigns.StatusActive,
		campaigns.Settings{MaxConcurrentCalls: 5, FromNumber: "+15559990000"})
	e.seedContact("ct-low", "camp-1", 1)
	e.seedContact("ct-high", "camp-1", 9)

	res, err := e.scheduler.Tick(ctx, "camp-1")
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if res != TickDispatched {
		t.Fatalf("res = %v, want TickDispatched", res)
	}
	if len(e.dispatcher.placed) != 1 {
		t.Fatalf("placed %d calls, want 1", len(e.dispatcher.placed))
	}
	req := e.dispatcher.placed[0]
	if req.ContactID != "ct-high" {
		t.Fatalf("dispatched %q, want ct-high", req.ContactID)
	}
	if req.From != "+15559990000" {
		t.Fatalf("From = %q", req.From)
	}
	if req.CallbackURL == "" {
		t.Fatal("CallbackURL not set")
	}

	call, ok, _ := e.callRepo.Get(ctx, "CA001")
	if !ok || call.Status != calls.CallStatusQueued {
		t.Fatalf("call = %+v, want queued CA001", call)
	}
	if call.CampaignID != "camp-1" || call.ContactID != "ct-high" {
		t.Fatalf("call linkage = %+v", call)
	}

	contact, _, _ := e.contactRepo.Get(ctx, "ct-high")
	if contact.Status != contacts.StatusCalling {
		t.Fatalf("contact status = %q, want calling", contact.Status)
	}
	stats, _ := e.campaignRepo.GetStats(ctx, "camp-1")
	if stats.CallsPlaced != 1 {
		t.Fatalf("CallsPlaced = %d, want 1", stats.CallsPlaced)
	}
	if n, _ := e.slots.InFlight(ctx, "camp-1"); n != 1 {
		t.Fatalf("in flight = %d, want 1", n)
	}
}

func TestSchedulerHonorsConcurrencyCap(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	e.seedCampaign(t, "camp-1", campaigns.StatusActive, campaigns.Settings{MaxConcurrentCalls: 1})
	e.seedContact("ct-1", "camp-1", 0)
	e.seedContact("ct-2", "camp-1", 0)

	if res, err := e.scheduler.Tick(ctx, "camp-1"); err != nil || res != TickDispatched {
		t.Fatalf("first tick: res=%v err=%v", res, err)
	}
	if res, err := e.scheduler.Tick(ctx, "camp-1"); err != nil || res != TickIdle {
		t.Fatalf("capped tick: res=%v err=%v", res, err)
	}
	if len(e.dispatcher.placed) != 1 {
		t.Fatalf("placed %d calls with cap 1", len(e.dispatcher.placed))
	}

	// The terminal event frees the slot; the next tick dials contact two.
	if err := e.tracker.OnEvent(ctx, statusEvent("CA001", calls.CallStatusCompleted, e.now.Add(time.Minute))); err != nil {
		t.Fatalf("OnEvent: %v", err)
	}
	if res, err := e.scheduler.Tick(ctx, "camp-1"); err != nil || res != TickDispatched {
		t.Fatalf("tick after release: res=%v err=%v", res, err)
	}
	if len(e.dispatcher.placed) != 2 {
		t.Fatalf("placed = %d, want 2", len(e.dispatcher.placed))
	}
}

func TestSchedulerPacingTakesPrecedence(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	e.seedCampaign(t, "camp-1", campaigns.StatusActive,
		campaigns.Settings{MaxConcurrentCalls: 10, CallDelay: 5 * time.Second})
	for i := 0; i < 3; i++ {
		e.seedContact("ct-"+string(rune('a'+i)), "camp-1", 0)
	}

	if res, _ := e.scheduler.Tick(ctx, "camp-1"); res != TickDispatched {
		t.Fatalf("first tick: %v", res)
	}
	// Plenty of slot headroom, but the delay has not elapsed.
	if res, _ := e.scheduler.Tick(ctx, "camp-1"); res != TickIdle {
		t.Fatal("dispatched inside the pacing window")
	}
	e.now = e.now.Add(2 * time.Second)
	if res, _ := e.scheduler.Tick(ctx, "camp-1"); res != TickIdle {
		t.Fatal("dispatched inside the pacing window")
	}
	if n, _ := e.slots.InFlight(ctx, "camp-1"); n != 1 {
		t.Fatalf("paced tick touched slots, in flight = %d", n)
	}

	e.now = e.now.Add(3 * time.Second)
	if res, _ := e.scheduler.Tick(ctx, "camp-1"); res != TickDispatched {
		t.Fatal("delay elapsed but nothing dispatched")
	}
	if len(e.dispatcher.placed) != 2 {
		t.Fatalf("placed = %d, want 2", len(e.dispatcher.placed))
	}
}

func TestSchedulerPausedCampaignIdles(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	e.seedCampaign(t, "camp-1", campaigns.StatusPaused, campaigns.Settings{MaxConcurrentCalls: 5})
	e.seedContact("ct-1", "camp-1", 0)

	if res, err := e.scheduler.Tick(ctx, "camp-1"); err != nil || res != TickIdle {
		t.Fatalf("res=%v err=%v, want idle", res, err)
	}
	if len(e.dispatcher.placed) != 0 {
		t.Fatal("paused campaign dispatched a call")
	}
}

func TestSchedulerWaitsOutRetryDelay(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	e.seedCampaign(t, "camp-1", campaigns.StatusActive, campaigns.Settings{MaxConcurrentCalls: 5})
	e.seedContact("ct-1", "camp-1", 0)
	c, _, _ := e.contactRepo.Get(ctx, "ct-1")
	c.NextEligibleAt = e.now.Add(10 * time.Minute)
	e.contactRepo.Put(c)

	// Not eligible yet: no dispatch, and the campaign must stay active
	// because the contact is still pending.
	if res, _ := e.scheduler.Tick(ctx, "camp-1"); res != TickIdle {
		t.Fatalf("res = %v, want idle", res)
	}
	camp, _, _ := e.campaignRepo.Get(ctx, "camp-1")
	if camp.Status != campaigns.StatusActive {
		t.Fatalf("campaign = %q, want active", camp.Status)
	}

	e.now = e.now.Add(11 * time.Minute)
	if res, _ := e.scheduler.Tick(ctx, "camp-1"); res != TickDispatched {
		t.Fatal("eligible contact not dispatched after delay")
	}
}

func TestSchedulerCompletesExhaustedCampaign(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	e.seedCampaign(t, "camp-1", campaigns.StatusActive, campaigns.Settings{MaxConcurrentCalls: 2})
	e.seedContact("ct-1", "camp-1", 0)

	if res, _ := e.scheduler.Tick(ctx, "camp-1"); res != TickDispatched {
		t.Fatal("expected dispatch")
	}
	// Contact in flight: nothing to claim, but not exhausted either.
	if res, _ := e.scheduler.Tick(ctx, "camp-1"); res != TickIdle {
		t.Fatal("expected idle while call in flight")
	}

	if err := e.tracker.OnEvent(ctx, statusEvent("CA001", calls.CallStatusCompleted, e.now.Add(time.Minute))); err != nil {
		t.Fatalf("OnEvent: %v", err)
	}
	res, err := e.scheduler.Tick(ctx, "camp-1")
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if res != TickStopped {
		t.Fatalf("res = %v, want TickStopped", res)
	}
	camp, _, _ := e.campaignRepo.Get(ctx, "camp-1")
	if camp.Status != campaigns.StatusCompleted {
		t.Fatalf("campaign = %q, want completed", camp.Status)
	}
}

func TestSchedulerDispatchFailureSettlesAttempt(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	e.seedCampaign(t, "camp-1", campaigns.StatusActive, campaigns.Settings{MaxConcurrentCalls: 2})
	e.seedContact("ct-1", "camp-1", 0)
	e.dispatcher.err = &telephony.DispatchError{Code: "21217", Message: "number not dialable", Permanent: true}

	res, err := e.scheduler.Tick(ctx, "camp-1")
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if res != TickIdle {
		t.Fatalf("res = %v, want idle", res)
	}

	// The rejection rode the normal terminal pipeline: contact settled,
	// stats counted, slot free.
	contact, _, _ := e.contactRepo.Get(ctx, "ct-1")
	if contact.Status != contacts.StatusFailed {
		t.Fatalf("contact = %q, want failed", contact.Status)
	}
	if contact.LastCallError != "number not dialable" {
		t.Fatalf("LastCallError = %q", contact.LastCallError)
	}
	stats, _ := e.campaignRepo.GetStats(ctx, "camp-1")
	if stats.CallsPlaced != 0 {
		t.Fatalf("CallsPlaced = %d, want 0", stats.CallsPlaced)
	}
	if stats.CallsCompleted != 1 || stats.CallsFailed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if n, _ := e.slots.InFlight(ctx, "camp-1"); n != 0 {
		t.Fatalf("slot leaked, in flight = %d", n)
	}
}

func TestSchedulerRetriesDispatchFailure(t *testing.T) {
	ctx := context.Background()
	e := newEngine(t)
	e.seedCampaign(t, "camp-1", campaigns.StatusActive,
		campaigns.Settings{MaxConcurrentCalls: 2, RetryCount: 2, RetryDelay: time.Minute})
	e.seedContact("ct-1", "camp-1", 0)
	e.dispatcher.err = &telephony.DispatchError{Code: "429", Message: "too many requests"}

	if _, err := e.scheduler.Tick(ctx, "camp-1"); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	contact, _, _ := e.contactRepo.Get(ctx, "ct-1")
	if contact.Status != contacts.StatusPending {
		t.Fatalf("contact = %q, want pending (requeued)", contact.Status)
	}
	if want := e.now.Add(time.Minute); !contact.NextEligibleAt.Equal(want) {
		t.Fatalf("NextEligibleAt = %v, want %v", contact.NextEligibleAt, want)
	}
}
