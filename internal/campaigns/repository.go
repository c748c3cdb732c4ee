package campaigns

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"outdial-platform/pkg/utils"
)

// StatField names one atomically incrementable stats counter.
type StatField string

const (
	StatTotalContacts  StatField = "total_contacts"
	StatCallsPlaced    StatField = "calls_placed"
	StatCallsCompleted StatField = "calls_completed"
	StatCallsAnswered  StatField = "calls_answered"
	StatCallsFailed    StatField = "calls_failed"
)

func (f StatField) IsValid() bool {
	switch f {
	case StatTotalContacts, StatCallsPlaced, StatCallsCompleted, StatCallsAnswered, StatCallsFailed:
		return true
	default:
		return false
	}
}

// Repository is the persistence contract for campaigns and their stats
// projection.
//
// IncrementStat and AddDurationSample must be single-statement atomic
// increments; two terminal events for the same campaign may land
// simultaneously and must both be counted.

type Repository interface {
	Get(ctx context.Context, id string) (Campaign, bool, error)
	Create(ctx context.Context, c Campaign) error

	// SetStatus performs a guarded transition: the update applies only when
	// the current status equals from. ok=false means the guard failed.
	SetStatus(ctx context.Context, id string, from, to Status, now time.Time) (ok bool, err error)

	ListByStatus(ctx context.Context, status Status) ([]Campaign, error)

	IncrementStat(ctx context.Context, id string, field StatField, delta int64) error
	AddDurationSample(ctx context.Context, id string, seconds int64) error
	GetStats(ctx context.Context, id string) (Stats, error)
}

var (
	ErrNotFound     = errors.New("campaigns: not found")
	ErrInvalidField = errors.New("campaigns: invalid stat field")
)

// PostgresRepo implements Repository on database/sql (pgx stdlib driver).
//
// Assumed tables:
// - campaigns (PK id)
// - campaign_stats (PK campaign_id) projection, upserted on increment
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Get(ctx context.Context, id string) (Campaign, bool, error) {
	const q = `
SELECT id, workspace_id, name, status, max_concurrent_calls, call_delay_ms,
       retry_count, retry_delay_ms, from_number, created_at, updated_at
FROM campaigns
WHERE id = $1
`
	var c Campaign
	var callDelayMs, retryDelayMs int64
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&c.ID,
		&c.WorkspaceID,
		&c.Name,
		&c.Status,
		&c.Settings.MaxConcurrentCalls,
		&callDelayMs,
		&c.Settings.RetryCount,
		&retryDelayMs,
		&c.Settings.FromNumber,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, false, nil
		}
		return Campaign{}, false, err
	}
	c.Settings.CallDelay = time.Duration(callDelayMs) * time.Millisecond
	c.Settings.RetryDelay = time.Duration(retryDelayMs) * time.Millisecond

	stats, err := r.GetStats(ctx, id)
	if err != nil {
		return Campaign{}, false, err
	}
	c.Stats = stats
	return c, true, nil
}

// Create inserts the campaign and seeds its stats row in one transaction,
// so stat increments never race a missing projection row.
func (r *PostgresRepo) Create(ctx context.Context, c Campaign) error {
	const q = `
INSERT INTO campaigns (
  id, workspace_id, name, status, max_concurrent_calls, call_delay_ms,
  retry_count, retry_delay_ms, from_number, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`
	const qStats = `
INSERT INTO campaign_stats (campaign_id) VALUES ($1)
ON CONFLICT (campaign_id) DO NOTHING
`
	return utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, q,
			c.ID,
			c.WorkspaceID,
			c.Name,
			c.Status,
			c.Settings.MaxConcurrentCalls,
			c.Settings.CallDelay.Milliseconds(),
			c.Settings.RetryCount,
			c.Settings.RetryDelay.Milliseconds(),
			c.Settings.FromNumber,
			c.CreatedAt,
			c.UpdatedAt,
		); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, qStats, c.ID)
		return err
	})
}

func (r *PostgresRepo) SetStatus(ctx context.Context, id string, from, to Status, now time.Time) (bool, error) {
	const q = `
UPDATE campaigns
SET status = $3, updated_at = $4
WHERE id = $1 AND status = $2
`
	res, err := r.db.ExecContext(ctx, q, id, from, to, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (r *PostgresRepo) ListByStatus(ctx context.Context, status Status) ([]Campaign, error) {
	const q = `
SELECT id, workspace_id, name, status, max_concurrent_calls, call_delay_ms,
       retry_count, retry_delay_ms, from_number, created_at, updated_at
FROM campaigns
WHERE status = $1
ORDER BY created_at ASC
`
	rows, err := r.db.QueryContext(ctx, q, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Campaign
	for rows.Next() {
		var c Campaign
		var callDelayMs, retryDelayMs int64
		if err := rows.Scan(
			&c.ID,
			&c.WorkspaceID,
			&c.Name,
			&c.Status,
			&c.Settings.MaxConcurrentCalls,
			&callDelayMs,
			&c.Settings.RetryCount,
			&retryDelayMs,
			&c.Settings.FromNumber,
			&c.CreatedAt,
			&c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		c.Settings.CallDelay = time.Duration(callDelayMs) * time.Millisecond
		c.Settings.RetryDelay = time.Duration(retryDelayMs) * time.Millisecond
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) IncrementStat(ctx context.Context, id string, field StatField, delta int64) error {
	if !field.IsValid() {
		return ErrInvalidField
	}
	// field is validated against the closed StatField set above; it is safe
	// to interpolate as a column name.
	q := `
INSERT INTO campaign_stats (campaign_id, ` + string(field) + `)
VALUES ($1, $2)
ON CONFLICT (campaign_id)
DO UPDATE SET ` + string(field) + ` = campaign_stats.` + string(field) + ` + EXCLUDED.` + string(field)
	_, err := r.db.ExecContext(ctx, q, id, delta)
	return err
}

func (r *PostgresRepo) AddDurationSample(ctx context.Context, id string, seconds int64) error {
	const q = `
INSERT INTO campaign_stats (campaign_id, duration_sum_seconds, duration_samples)
VALUES ($1, $2, 1)
ON CONFLICT (campaign_id)
DO UPDATE SET duration_sum_seconds = campaign_stats.duration_sum_seconds + EXCLUDED.duration_sum_seconds,
              duration_samples = campaign_stats.duration_samples + 1
`
	_, err := r.db.ExecContext(ctx, q, id, seconds)
	return err
}

func (r *PostgresRepo) GetStats(ctx context.Context, id string) (Stats, error) {
	const q = `
SELECT total_contacts, calls_placed, calls_completed, calls_answered,
       calls_failed, duration_sum_seconds, duration_samples
FROM campaign_stats
WHERE campaign_id = $1
`
	var s Stats
	err := r.db.QueryRowContext(ctx, q, id).Scan(
		&s.TotalContacts,
		&s.CallsPlaced,
		&s.CallsCompleted,
		&s.CallsAnswered,
		&s.CallsFailed,
		&s.DurationSumSeconds,
		&s.DurationSamples,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Stats{}, nil
		}
		return Stats{}, err
	}
	return s.WithDerived(), nil
}
