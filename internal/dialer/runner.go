package dialer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"outdial-platform/internal/campaigns"
)

// Runner owns one dispatch loop per active campaign. Loops are discovered
// from the campaigns table, so campaigns started on another node or before
// a restart are picked up without explicit registration.
//
// A loop ticks on a timer and on slot-release wakes; it exits when its
// campaign reaches completed or cancelled. Pausing does not kill the loop,
// it just makes every tick idle until resume.
type Runner struct {
	campaigns campaigns.Repository
	scheduler *Scheduler
	log       *slog.Logger

	discoverEvery time.Duration
	tickEvery     time.Duration

	mu    sync.Mutex
	loops map[string]chan struct{}
	wg    sync.WaitGroup
}

func NewRunner(repo campaigns.Repository, scheduler *Scheduler, log *slog.Logger, discoverEvery, tickEvery time.Duration) *Runner {
	if log == nil {
		log = slog.Default()
	}
	if discoverEvery <= 0 {
		discoverEvery = 5 * time.Second
	}
	if tickEvery <= 0 {
		tickEvery = time.Second
	}
	return &Runner{
		campaigns:     repo,
		scheduler:     scheduler,
		log:           log,
		discoverEvery: discoverEvery,
		tickEvery:     tickEvery,
		loops:         make(map[string]chan struct{}),
	}
}

// Run blocks until ctx is canceled, then waits for all loops to drain.
func (r *Runner) Run(ctx context.Context) {
	r.discover(ctx)
	t := time.NewTicker(r.discoverEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			return
		case <-t.C:
			r.discover(ctx)
		}
	}
}

// Wake nudges the campaign's loop, typically because a slot freed up.
// Safe to call for campaigns without a loop.
func (r *Runner) Wake(campaignID string) {
	r.mu.Lock()
	ch, ok := r.loops[campaignID]
	r.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

func (r *Runner) discover(ctx context.Context) {
	for _, status := range []campaigns.Status{campaigns.StatusActive, campaigns.StatusPaused} {
		list, err := r.campaigns.ListByStatus(ctx, status)
		if err != nil {
			r.log.Error("list campaigns", "status", status, "error", err)
			continue
		}
		for _, c := range list {
			r.ensureLoop(ctx, c.ID)
		}
	}
}

func (r *Runner) ensureLoop(ctx context.Context, campaignID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, running := r.loops[campaignID]; running {
		return
	}
	wake := make(chan struct{}, 1)
	r.loops[campaignID] = wake
	r.wg.Add(1)
	r.log.Info("campaign loop started", "campaign_id", campaignID)
	go r.loop(ctx, campaignID, wake)
}

func (r *Runner) loop(ctx context.Context, campaignID string, wake chan struct{}) {
	defer r.wg.Done()
	defer func() {
		r.mu.Lock()
		delete(r.loops, campaignID)
		r.mu.Unlock()
		r.scheduler.Forget(campaignID)
		r.log.Info("campaign loop stopped", "campaign_id", campaignID)
	}()

	t := time.NewTicker(r.tickEvery)
	defer t.Stop()
	for {
		res, err := r.scheduler.Tick(ctx, campaignID)
		if err != nil {
			r.log.Error("scheduler tick", "campaign_id", campaignID, "error", err)
		}
		switch res {
		case TickStopped:
			return
		case TickDispatched:
			// More capacity may remain; try again without waiting, but
			// still honor cancellation.
			select {
			case <-ctx.Done():
				return
			default:
			}
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		case <-wake:
		}
	}
}
