package dialer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"outdial-platform/internal/calls"
	"outdial-platform/internal/campaigns"
	"outdial-platform/internal/contacts"
	"outdial-platform/internal/metrics"
	"outdial-platform/internal/notify"
	"outdial-platform/internal/telephony"
)

// TickResult tells the runner what one scheduling pass did.
type TickResult int

const (
	// TickIdle means nothing was dispatched: paced, capped, or no eligible contact.
	TickIdle TickResult = iota
	// TickDispatched means one call went out; tick again promptly.
	TickDispatched
	// TickStopped means the campaign is gone or reached a final status.
	TickStopped
)

// Scheduler claims eligible contacts and dispatches calls, one per tick,
// under the campaign's pacing and concurrency rules.
//
// Pacing is checked before the concurrency cap: when both bind, the pacing
// delay decides when the next call goes out. A slot acquired for a claim
// that finds no contact is released on the spot; in every other path the
// slot travels with the call and is released by the tracker on the
// terminal transition.
type Scheduler struct {
	campaigns  campaigns.Repository
	contacts   contacts.Repository
	calls      calls.Repository
	dispatcher telephony.Dispatcher
	slots      SlotLimiter
	tracker    *Tracker
	notifier   notify.Notifier
	metrics    *metrics.Metrics
	log        *slog.Logger
	clock      func() time.Time

	callbackURL string
	answerURL   string

	mu           sync.Mutex
	lastDispatch map[string]time.Time
}

type SchedulerOptions struct {
	Campaigns  campaigns.Repository
	Contacts   contacts.Repository
	Calls      calls.Repository
	Dispatcher telephony.Dispatcher
	Slots      SlotLimiter
	Tracker    *Tracker
	Notifier   notify.Notifier
	Metrics    *metrics.Metrics
	Log        *slog.Logger
	Clock      func() time.Time

	// CallbackURL receives provider status webhooks; AnswerURL serves call
	// instructions on pickup.
	CallbackURL string
	AnswerURL   string
}

func NewScheduler(opts SchedulerOptions) *Scheduler {
	s := &Scheduler{
		campaigns:    opts.Campaigns,
		contacts:     opts.Contacts,
		calls:        opts.Calls,
		dispatcher:   opts.Dispatcher,
		slots:        opts.Slots,
		tracker:      opts.Tracker,
		notifier:     opts.Notifier,
		metrics:      opts.Metrics,
		log:          opts.Log,
		clock:        opts.Clock,
		callbackURL:  opts.CallbackURL,
		answerURL:    opts.AnswerURL,
		lastDispatch: make(map[string]time.Time),
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	if s.clock == nil {
		s.clock = time.Now
	}
	return s
}

// Tick runs one scheduling pass for the campaign: at most one dispatch.
func (s *Scheduler) Tick(ctx context.Context, campaignID string) (TickResult, error) {
	c, ok, err := s.campaigns.Get(ctx, campaignID)
	if err != nil {
		return TickIdle, fmt.Errorf("load campaign: %w", err)
	}
	if !ok || c.Status == campaigns.StatusCompleted || c.Status == campaigns.StatusCancelled {
		return TickStopped, nil
	}
	if c.Status != campaigns.StatusActive {
		return TickIdle, nil
	}
	settings := c.Settings.WithDefaults()
	now := s.clock()

	if !s.paceAllows(campaignID, settings.CallDelay, now) {
		return TickIdle, nil
	}

	acquired, err := s.slots.Acquire(ctx, campaignID, settings.MaxConcurrentCalls)
	if err != nil {
		return TickIdle, fmt.Errorf("acquire slot: %w", err)
	}
	if !acquired {
		return TickIdle, nil
	}

	contact, claimed, err := s.contacts.ClaimNextEligible(ctx, campaignID, now)
	if err != nil {
		s.releaseSlot(ctx, campaignID)
		return TickIdle, fmt.Errorf("claim contact: %w", err)
	}
	if !claimed {
		s.releaseSlot(ctx, campaignID)
		return s.maybeComplete(ctx, campaignID)
	}

	if s.metrics != nil {
		s.metrics.CallsInFlight.WithLabelValues(campaignID).Inc()
	}

	req := telephony.PlaceCallRequest{
		WorkspaceID: c.WorkspaceID,
		CampaignID:  campaignID,
		ContactID:   contact.ID,
		To:          contact.PhoneNumber,
		From:        settings.FromNumber,
		CallbackURL: s.callbackURL,
		AnswerURL:   s.answerURL,
	}
	res, err := s.dispatcher.PlaceCall(ctx, req)

	s.markDispatch(campaignID, now)

	if err != nil {
		s.handleDispatchFailure(ctx, c, contact, err, now)
		return TickIdle, nil
	}

	call := calls.Call{
		CallSid:       res.CallSid,
		WorkspaceID:   c.WorkspaceID,
		CampaignID:    campaignID,
		ContactID:     contact.ID,
		AttemptNumber: contact.AttemptNumber,
		Status:        calls.CallStatusQueued,
		StartedAt:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	// Recorded through the tracker so the write serializes with webhooks
	// for the same sid; a terminal webhook that already finalized the
	// provisional row gets its side effects re-run with the ids attached.
	if err := s.tracker.RecordDispatch(ctx, call); err != nil {
		// The call is live at the provider; the next webhook or the
		// sweeper reconciles the record.
		s.log.Error("record dispatched call", "call_sid", res.CallSid, "error", err)
	}
	if err := s.campaigns.IncrementStat(ctx, campaignID, campaigns.StatCallsPlaced, 1); err != nil {
		s.log.Error("increment calls_placed", "campaign_id", campaignID, "error", err)
	}
	if s.metrics != nil {
		s.metrics.CallsPlacedTotal.WithLabelValues(campaignID).Inc()
	}
	s.log.Info("call dispatched",
		"call_sid", res.CallSid, "campaign_id", campaignID,
		"contact_id", contact.ID, "attempt", contact.AttemptNumber)
	if err := s.notifier.Emit(ctx, notify.TopicCallUpdate, call); err != nil {
		s.log.Warn("emit call update", "call_sid", res.CallSid, "error", err)
	}
	return TickDispatched, nil
}

// paceAllows reports whether the inter-call delay has elapsed. Checked
// before the concurrency cap so pacing decides the wait when both bind.
func (s *Scheduler) paceAllows(campaignID string, delay time.Duration, now time.Time) bool {
	if delay <= 0 {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastDispatch[campaignID]
	return !ok || !now.Before(last.Add(delay))
}

func (s *Scheduler) markDispatch(campaignID string, now time.Time) {
	s.mu.Lock()
	s.lastDispatch[campaignID] = now
	s.mu.Unlock()
}

// Forget drops per-campaign pacing state once a campaign is done.
func (s *Scheduler) Forget(campaignID string) {
	s.mu.Lock()
	delete(s.lastDispatch, campaignID)
	s.mu.Unlock()
}

func (s *Scheduler) releaseSlot(ctx context.Context, campaignID string) {
	if err := s.slots.Release(ctx, campaignID); err != nil {
		s.log.Error("release slot", "campaign_id", campaignID, "error", err)
	}
}

// maybeComplete finishes the campaign once nothing is dialable anymore:
// no pending or calling contacts and no calls still in flight. A contact
// merely waiting out its retry delay keeps the campaign active.
func (s *Scheduler) maybeComplete(ctx context.Context, campaignID string) (TickResult, error) {
	remaining, err := s.contacts.CountRemaining(ctx, campaignID)
	if err != nil {
		return TickIdle, fmt.Errorf("count remaining: %w", err)
	}
	if remaining > 0 {
		return TickIdle, nil
	}
	inFlight, err := s.slots.InFlight(ctx, campaignID)
	if err != nil {
		return TickIdle, fmt.Errorf("in flight: %w", err)
	}
	if inFlight > 0 {
		return TickIdle, nil
	}

	done, err := s.campaigns.SetStatus(ctx, campaignID,
		campaigns.StatusActive, campaigns.StatusCompleted, s.clock())
	if err != nil {
		return TickIdle, fmt.Errorf("complete campaign: %w", err)
	}
	if !done {
		// Lost the race to an operator transition; the new status governs.
		return TickIdle, nil
	}
	s.log.Info("campaign completed", "campaign_id", campaignID)
	if c, ok, err := s.campaigns.Get(ctx, campaignID); err == nil && ok {
		_ = s.notifier.Emit(ctx, notify.TopicCampaignUpdate, campaigns.Update{
			CampaignID: c.ID,
			Status:     c.Status,
			Stats:      c.Stats,
		})
	}
	return TickStopped, nil
}

// handleDispatchFailure routes a provider rejection through the same
// terminal pipeline a failed call takes, so the retry policy, stats and
// slot release all apply. The synthetic call sid keeps the event log and
// the call row consistent even though the provider never issued one.
func (s *Scheduler) handleDispatchFailure(ctx context.Context, c campaigns.Campaign, contact contacts.Contact, dispatchErr error, now time.Time) {
	if s.metrics != nil {
		s.metrics.DispatchFailuresTotal.WithLabelValues(c.ID).Inc()
	}

	code, msg := "dispatch_error", dispatchErr.Error()
	if de, ok := telephony.AsDispatchError(dispatchErr); ok {
		code, msg = de.Code, de.Message
	}
	s.log.Warn("dispatch rejected",
		"campaign_id", c.ID, "contact_id", contact.ID, "code", code, "error", msg)

	sid := "failed-" + uuid.NewString()
	call := calls.Call{
		CallSid:       sid,
		WorkspaceID:   c.WorkspaceID,
		CampaignID:    c.ID,
		ContactID:     contact.ID,
		AttemptNumber: contact.AttemptNumber,
		Status:        calls.CallStatusQueued,
		StartedAt:     now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.calls.Upsert(ctx, call); err != nil {
		s.log.Error("record failed dispatch", "call_sid", sid, "error", err)
	}

	ev := calls.WebhookEvent{
		CallSid:      sid,
		Type:         calls.EventTypeDispatchFailure,
		Status:       calls.CallStatusFailed,
		Timestamp:    now,
		Source:       "dispatcher",
		ErrorCode:    code,
		ErrorMessage: msg,
	}
	if err := s.tracker.OnEvent(ctx, ev); err != nil {
		// The slot stays held and the call row stays queued or unsettled;
		// the sweeper finishes the settlement and releases the slot.
		// Releasing here too would double-free and let the cap overrun.
		s.log.Error("settle dispatch failure", "call_sid", sid, "error", err)
	}
}
