package dialer

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"outdial-platform/internal/calls"
	"outdial-platform/internal/campaigns"
	"outdial-platform/internal/contacts"
	"outdial-platform/internal/metrics"
	"outdial-platform/internal/notify"
)

// Tracker drives the call lifecycle state machine from provider events.
//
// Events arrive out of order, duplicated, and concurrently. The tracker
// serializes processing per call_sid with striped locks, deduplicates via
// the append-only event log, and discards transitions whose status does not
// advance the lifecycle. The event append and the resulting call state are
// one atomic repository write: a delivery that fails leaves nothing behind,
// so the provider's redelivery processes it from scratch instead of hitting
// a phantom duplicate.
//
// Terminal side effects (retry decision, campaign stats, slot release) run
// once per call. The Finalized marker on the call records their completion;
// until it is set, a redelivery or the sweeper re-runs them. Releasing the
// slot last keeps in-flight counts honest: a crash between write and
// release leaks a slot (reclaimed by TTL), never overruns the cap.

const trackerStripes = 64

type Tracker struct {
	calls     calls.Repository
	contacts  contacts.Repository
	campaigns campaigns.Repository
	retry     *RetryCoordinator
	agg       *Aggregator
	slots     SlotLimiter
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	log       *slog.Logger

	clock func() time.Time

	// onSlotRelease wakes the scheduler for the campaign whose slot freed up.
	onSlotRelease func(campaignID string)

	locks [trackerStripes]sync.Mutex
}

type TrackerOptions struct {
	Calls     calls.Repository
	Contacts  contacts.Repository
	Campaigns campaigns.Repository
	Retry     *RetryCoordinator
	Agg       *Aggregator
	Slots     SlotLimiter
	Notifier  notify.Notifier
	Metrics   *metrics.Metrics
	Log       *slog.Logger

	Clock         func() time.Time
	OnSlotRelease func(campaignID string)
}

func NewTracker(opts TrackerOptions) *Tracker {
	t := &Tracker{
		calls:         opts.Calls,
		contacts:      opts.Contacts,
		campaigns:     opts.Campaigns,
		retry:         opts.Retry,
		agg:           opts.Agg,
		slots:         opts.Slots,
		notifier:      opts.Notifier,
		metrics:       opts.Metrics,
		log:           opts.Log,
		clock:         opts.Clock,
		onSlotRelease: opts.OnSlotRelease,
	}
	if t.retry == nil {
		t.retry = NewRetryCoordinator()
	}
	if t.notifier == nil {
		t.notifier = notify.Nop{}
	}
	if t.log == nil {
		t.log = slog.Default()
	}
	if t.clock == nil {
		t.clock = time.Now
	}
	return t
}

func (t *Tracker) stripe(callSid string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(callSid))
	return &t.locks[h.Sum32()%trackerStripes]
}

// OnEvent ingests one validated provider event. A nil return means the
// event was durably applied (or recognized as a completed duplicate); an
// error means the caller should have the provider redeliver.
func (t *Tracker) OnEvent(ctx context.Context, ev calls.WebhookEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}
	if t.metrics != nil {
		t.metrics.WebhookEventsTotal.WithLabelValues(string(ev.Type)).Inc()
	}

	mu := t.stripe(ev.CallSid)
	mu.Lock()
	defer mu.Unlock()

	now := t.clock()
	rec := ev.ToCallEvent()
	rec.CreatedAt = now

	call, found, err := t.calls.Get(ctx, ev.CallSid)
	if err != nil {
		return fmt.Errorf("load call: %w", err)
	}
	if !found {
		// Webhook outran the dispatcher's write. Record what we know and
		// let the dispatcher's record fill in the rest.
		call = calls.Call{
			CallSid:     ev.CallSid,
			Status:      calls.CallStatusQueued,
			StartedAt:   ev.Timestamp,
			Provisional: true,
			CreatedAt:   now,
		}
		t.log.Info("provisional call created from webhook", "call_sid", ev.CallSid)
	}

	wasTerminal := call.Status.IsTerminal()
	accepted := false
	switch {
	case !ev.Type.DrivesState():
		t.applyEnrichment(&call, ev)
	case found && calls.StatusPrecedence(ev.Status) <= calls.StatusPrecedence(call.Status):
		// Out-of-order delivery. The status stands, but a late in_progress
		// still tells us when the call was answered.
		if t.metrics != nil {
			t.metrics.StaleTransitionsTotal.Inc()
		}
		t.log.Warn("stale status transition discarded",
			"call_sid", ev.CallSid, "have", call.Status, "got", ev.Status)
		t.backfill(&call, ev)
	default:
		t.applyTransition(&call, ev)
		accepted = true
	}
	call.UpdatedAt = now

	inserted, err := t.applyEvent(ctx, rec, call)
	if err != nil {
		return err
	}
	if !inserted {
		if t.metrics != nil {
			t.metrics.DuplicateEventsTotal.Inc()
		}
		t.log.Debug("duplicate event ignored",
			"call_sid", ev.CallSid, "type", ev.Type, "status", ev.Status)
		// The first delivery of this event may have died between the
		// durable write and the terminal side effects; it still owes them.
		cur, ok, err := t.calls.Get(ctx, ev.CallSid)
		if err != nil {
			return fmt.Errorf("load call: %w", err)
		}
		if ok && cur.Status.IsTerminal() && !cur.Finalized {
			return t.finalize(ctx, cur, now)
		}
		return nil
	}

	if accepted && !wasTerminal && call.Status.IsTerminal() {
		return t.finalize(ctx, call, now)
	}
	if accepted || !ev.Type.DrivesState() {
		t.emitCall(ctx, call)
	}
	return nil
}

// RecordDispatch persists the dispatcher's view of a freshly placed call
// under the same per-sid lock the webhooks use. When a terminal webhook
// beat this write, the provisional row finalized with no campaign or
// contact attached; merging the identifiers here re-runs the terminal side
// effects that had nothing to act on.
func (t *Tracker) RecordDispatch(ctx context.Context, call calls.Call) error {
	mu := t.stripe(call.CallSid)
	mu.Lock()
	defer mu.Unlock()

	if err := t.persist(ctx, call); err != nil {
		return err
	}

	merged, ok, err := t.calls.Get(ctx, call.CallSid)
	if err != nil {
		return fmt.Errorf("load call: %w", err)
	}
	if ok && merged.Status.IsTerminal() && !merged.Finalized {
		return t.finalize(ctx, merged, t.clock())
	}
	return nil
}

// Resettle re-runs the terminal side effects for a call whose first
// finalize attempt failed partway through. Used by the sweeper.
func (t *Tracker) Resettle(ctx context.Context, callSid string) error {
	mu := t.stripe(callSid)
	mu.Lock()
	defer mu.Unlock()

	call, ok, err := t.calls.Get(ctx, callSid)
	if err != nil {
		return fmt.Errorf("load call: %w", err)
	}
	if !ok || !call.Status.IsTerminal() || call.Finalized {
		return nil
	}
	return t.finalize(ctx, call, t.clock())
}

// applyTransition advances the call to the event's status.
func (t *Tracker) applyTransition(call *calls.Call, ev calls.WebhookEvent) {
	call.Status = ev.Status
	switch {
	case ev.Status == calls.CallStatusInProgress:
		if call.AnsweredAt == nil {
			ts := ev.Timestamp
			call.AnsweredAt = &ts
		}
	case ev.Status.IsTerminal():
		if call.EndedAt == nil {
			ts := ev.Timestamp
			call.EndedAt = &ts
		}
		if ev.DurationSeconds > call.DurationSeconds {
			call.DurationSeconds = ev.DurationSeconds
		}
		if ev.Type == calls.EventTypeDispatchFailure || ev.Status == calls.CallStatusFailed {
			if ev.ErrorMessage != "" {
				call.LastError = ev.ErrorMessage
			} else if ev.ErrorCode != "" {
				call.LastError = ev.ErrorCode
			}
		}
	}
}

// applyEnrichment merges non-state event payloads into the call record.
func (t *Tracker) applyEnrichment(call *calls.Call, ev calls.WebhookEvent) {
	switch ev.Type {
	case calls.EventTypeRecording:
		call.RecordingCount++
	case calls.EventTypeMachineDetection:
		if ev.AnsweredBy != "" {
			call.AnsweredBy = ev.AnsweredBy
		}
	case calls.EventTypeError:
		if ev.ErrorMessage != "" {
			call.LastError = ev.ErrorMessage
		} else {
			call.LastError = ev.ErrorCode
		}
	}
	if ev.DurationSeconds > call.DurationSeconds {
		call.DurationSeconds = ev.DurationSeconds
	}
}

// backfill salvages timestamps from a discarded stale transition.
func (t *Tracker) backfill(call *calls.Call, ev calls.WebhookEvent) bool {
	changed := false
	if ev.Status == calls.CallStatusInProgress && call.AnsweredAt == nil {
		ts := ev.Timestamp
		call.AnsweredAt = &ts
		changed = true
	}
	if ev.DurationSeconds > call.DurationSeconds {
		call.DurationSeconds = ev.DurationSeconds
		changed = true
	}
	return changed
}

// applyEvent writes event and call atomically with a short bounded retry.
// Transient store failures must not surface as a dropped event when a
// second attempt would have succeeded; persistent failure is returned so
// the provider redelivers.
func (t *Tracker) applyEvent(ctx context.Context, rec calls.CallEvent, c calls.Call) (bool, error) {
	var inserted bool
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if inserted, err = t.calls.ApplyEvent(ctx, rec, c); err == nil {
			return inserted, nil
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
	return false, fmt.Errorf("apply event for %s: %w", c.CallSid, err)
}

// persist writes the call with the same bounded retry.
func (t *Tracker) persist(ctx context.Context, c calls.Call) error {
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		if err = t.calls.Upsert(ctx, c); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 50 * time.Millisecond):
		}
	}
	return fmt.Errorf("persist call %s: %w", c.CallSid, err)
}

// finalize runs the terminal side effects and marks the call settled. Any
// failure before the marker write returns an error so the delivery is
// retried end to end; the attempt guard in settleContact keeps a replay
// from double-counting.
func (t *Tracker) finalize(ctx context.Context, call calls.Call, now time.Time) error {
	if call.CampaignID == "" {
		// Provisional row with no dispatch record yet. The marker stays
		// unset so RecordDispatch finalizes once the identifiers land.
		t.emitCall(ctx, call)
		return nil
	}

	settings := campaigns.Settings{}.WithDefaults()
	if t.campaigns != nil {
		c, ok, err := t.campaigns.Get(ctx, call.CampaignID)
		if err != nil {
			return fmt.Errorf("load campaign %s: %w", call.CampaignID, err)
		}
		if ok {
			settings = c.Settings.WithDefaults()
		}
	}

	if call.ContactID != "" && t.contacts != nil {
		if err := t.settleContact(ctx, call, settings, now); err != nil {
			return fmt.Errorf("settle contact %s: %w", call.ContactID, err)
		}
	}

	if t.agg != nil {
		if err := t.agg.RecordTerminal(ctx, call.CampaignID, call.Status, call.DurationSeconds); err != nil {
			return fmt.Errorf("record terminal stats for %s: %w", call.CampaignID, err)
		}
	}

	call.Finalized = true
	call.UpdatedAt = now
	if err := t.persist(ctx, call); err != nil {
		return err
	}

	t.emitCall(ctx, call)

	if t.slots != nil {
		if err := t.slots.Release(ctx, call.CampaignID); err != nil {
			t.log.Error("release slot", "campaign_id", call.CampaignID, "error", err)
		}
		if t.metrics != nil {
			t.metrics.CallsInFlight.WithLabelValues(call.CampaignID).Dec()
		}
		if t.onSlotRelease != nil {
			t.onSlotRelease(call.CampaignID)
		}
	}
	return nil
}

func (t *Tracker) settleContact(ctx context.Context, call calls.Call, settings campaigns.Settings, now time.Time) error {
	contact, ok, err := t.contacts.Get(ctx, call.ContactID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("contact %s: %w", call.ContactID, contacts.ErrNotFound)
	}
	if contact.Status != contacts.StatusCalling || contact.AttemptNumber != call.AttemptNumber {
		// Already settled by an earlier run of these side effects.
		return nil
	}

	d := t.retry.Evaluate(contact, call.Status, settings, now)

	contact.LastCallResult = string(call.Status)
	contact.LastCallError = call.LastError
	contact.UpdatedAt = now
	if d.Requeue {
		contact.Status = contacts.StatusPending
		contact.AttemptNumber++
		contact.NextEligibleAt = d.NextEligibleAt
		t.log.Info("contact requeued",
			"contact_id", contact.ID, "campaign_id", call.CampaignID,
			"attempt", contact.AttemptNumber, "next_eligible_at", d.NextEligibleAt)
	} else {
		contact.Status = d.ContactStatus
		contact.AttemptNumber++
	}
	return t.contacts.Update(ctx, contact)
}

func (t *Tracker) emitCall(ctx context.Context, call calls.Call) {
	if err := t.notifier.Emit(ctx, notify.TopicCallUpdate, call); err != nil {
		t.log.Warn("emit call update", "call_sid", call.CallSid, "error", err)
	}
}
