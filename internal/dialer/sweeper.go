package dialer

import (
	"context"
	"log/slog"
	"time"

	"outdial-platform/internal/calls"
	"outdial-platform/internal/metrics"
)

// Sweeper force-finalizes calls stuck in a non-terminal status, typically
// because the provider's terminal webhook was lost. The forced event goes
// through the tracker's normal pipeline, so dedup, retry policy, stats and
// slot release all behave as if the provider had reported the failure. If
// the real terminal webhook does arrive later, the precedence guard
// discards it as stale.
type Sweeper struct {
	calls   calls.Repository
	tracker *Tracker
	metrics *metrics.Metrics
	log     *slog.Logger
	clock   func() time.Time

	every  time.Duration
	maxAge time.Duration
	batch  int
}

func NewSweeper(repo calls.Repository, tracker *Tracker, m *metrics.Metrics, log *slog.Logger, every, maxAge time.Duration) *Sweeper {
	if log == nil {
		log = slog.Default()
	}
	if every <= 0 {
		every = time.Minute
	}
	if maxAge <= 0 {
		maxAge = 15 * time.Minute
	}
	return &Sweeper{
		calls:   repo,
		tracker: tracker,
		metrics: m,
		log:     log,
		clock:   time.Now,
		every:   every,
		maxAge:  maxAge,
		batch:   100,
	}
}

// Run blocks until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	t := time.NewTicker(s.every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns how many calls were force-finalized.
// It also retries terminal calls whose side effects never completed, so a
// settlement interrupted by a store outage eventually lands.
func (s *Sweeper) Sweep(ctx context.Context) int {
	now := s.clock()

	unsettled, err := s.calls.ListUnsettled(ctx, now.Add(-s.every), s.batch)
	if err != nil {
		s.log.Error("list unsettled calls", "error", err)
	}
	for _, c := range unsettled {
		if err := s.tracker.Resettle(ctx, c.CallSid); err != nil {
			s.log.Error("resettle terminal call", "call_sid", c.CallSid, "error", err)
			continue
		}
		s.log.Warn("interrupted settlement completed",
			"call_sid", c.CallSid, "campaign_id", c.CampaignID, "outcome", c.Status)
	}

	stuck, err := s.calls.ListStuck(ctx, now.Add(-s.maxAge), s.batch)
	if err != nil {
		s.log.Error("list stuck calls", "error", err)
		return 0
	}

	forced := 0
	for _, c := range stuck {
		ev := calls.WebhookEvent{
			CallSid:      c.CallSid,
			Type:         calls.EventTypeStatus,
			Status:       calls.CallStatusFailed,
			Timestamp:    now,
			Source:       "sweeper",
			ErrorMessage: "no terminal status received within " + s.maxAge.String(),
		}
		if err := s.tracker.OnEvent(ctx, ev); err != nil {
			s.log.Error("force-finalize stuck call", "call_sid", c.CallSid, "error", err)
			continue
		}
		forced++
		if s.metrics != nil {
			s.metrics.SweepForcedTotal.Inc()
		}
		s.log.Warn("stuck call force-failed",
			"call_sid", c.CallSid, "campaign_id", c.CampaignID,
			"stuck_in", c.Status, "age", now.Sub(c.UpdatedAt).String())
	}
	return forced
}
