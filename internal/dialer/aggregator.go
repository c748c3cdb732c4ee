package dialer

import (
	"context"

	"outdial-platform/internal/calls"
	"outdial-platform/internal/campaigns"
	"outdial-platform/internal/metrics"
	"outdial-platform/internal/notify"
)

// Aggregator maintains per-campaign counters from terminal call events.
//
// Every mutation is an atomic per-field increment through the repository;
// there is no read-modify-write, so two calls terminating simultaneously
// for the same campaign both count. Duplicate protection lives upstream:
// the tracker invokes RecordTerminal exactly once per call, on the first
// terminal transition.

type Aggregator struct {
	campaigns campaigns.Repository
	notifier  notify.Notifier
	metrics   *metrics.Metrics
}

func NewAggregator(repo campaigns.Repository, notifier notify.Notifier, m *metrics.Metrics) *Aggregator {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Aggregator{campaigns: repo, notifier: notifier, metrics: m}
}

func (a *Aggregator) RecordTerminal(ctx context.Context, campaignID string, outcome calls.CallStatus, durationSeconds int) error {
	if err := a.campaigns.IncrementStat(ctx, campaignID, campaigns.StatCallsCompleted, 1); err != nil {
		return err
	}

	bucket := campaigns.StatCallsFailed
	if outcome == calls.CallStatusCompleted {
		bucket = campaigns.StatCallsAnswered
	}
	if err := a.campaigns.IncrementStat(ctx, campaignID, bucket, 1); err != nil {
		return err
	}

	if durationSeconds > 0 {
		if err := a.campaigns.AddDurationSample(ctx, campaignID, int64(durationSeconds)); err != nil {
			return err
		}
	}

	if a.metrics != nil {
		a.metrics.CallsTerminalTotal.WithLabelValues(campaignID, string(outcome)).Inc()
	}

	// Best-effort snapshot broadcast; counters are already durable.
	if c, ok, err := a.campaigns.Get(ctx, campaignID); err == nil && ok {
		_ = a.notifier.Emit(ctx, notify.TopicCampaignUpdate, campaigns.Update{
			CampaignID: c.ID,
			Status:     c.Status,
			Stats:      c.Stats,
		})
	}
	return nil
}
