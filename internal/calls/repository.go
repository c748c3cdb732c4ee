package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"outdial-platform/pkg/utils"
)

// Repository is the persistence contract for calls and their event log.
//
// Upsert is keyed by call_sid so a webhook-created provisional row and the
// dispatcher's own write converge on the same record regardless of order.
// ApplyEvent writes the event and the resulting call state in one atomic
// step: either both land or neither does, so a failed delivery leaves
// nothing behind and a redelivery processes from scratch. A false inserted
// return means the event was already applied by an earlier delivery.

type Repository interface {
	Get(ctx context.Context, callSid string) (Call, bool, error)
	Upsert(ctx context.Context, c Call) error
	ApplyEvent(ctx context.Context, e CallEvent, c Call) (inserted bool, err error)

	// ListStuck returns non-terminal calls whose last update predates cutoff.
	ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]Call, error)

	// ListUnsettled returns terminal calls whose side effects never
	// completed: finalized is unset and the dispatch record (campaign id)
	// is present, so there is something to settle.
	ListUnsettled(ctx context.Context, cutoff time.Time, limit int) ([]Call, error)

	ListByCampaign(ctx context.Context, campaignID string, limit int) ([]Call, error)
}

var ErrNotFound = errors.New("calls: not found")

// PostgresRepo implements Repository on database/sql (pgx stdlib driver).
//
// Assumed tables:
// - calls (PK call_sid)
// - call_events (unique (call_sid, type, provider_status))
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const selectCallColumns = `
SELECT call_sid, workspace_id, campaign_id, contact_id, attempt_number, status,
       started_at, answered_at, ended_at, duration_seconds, answered_by,
       recording_count, last_error, provisional, finalized, created_at, updated_at
FROM calls
`

func (r *PostgresRepo) Get(ctx context.Context, callSid string) (Call, bool, error) {
	const q = selectCallColumns + `WHERE call_sid = $1`
	var c Call
	err := scanCall(r.db.QueryRowContext(ctx, q, callSid), &c)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Call{}, false, nil
		}
		return Call{}, false, err
	}
	return c, true, nil
}

// upsertCallSQL merges a call write into the existing row. Identifier
// fields only fill blanks, timestamps and counters never regress, and the
// status column is guarded by the same precedence ranking the tracker uses
// so a concurrent writer can never walk a status backwards. finalized is
// one-way: once set it stays set.
const upsertCallSQL = `
INSERT INTO calls (
  call_sid, workspace_id, campaign_id, contact_id, attempt_number, status,
  started_at, answered_at, ended_at, duration_seconds, answered_by,
  recording_count, last_error, provisional, finalized, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
ON CONFLICT (call_sid)
DO UPDATE SET
  workspace_id     = COALESCE(NULLIF(EXCLUDED.workspace_id, ''), calls.workspace_id),
  campaign_id      = COALESCE(NULLIF(EXCLUDED.campaign_id, ''), calls.campaign_id),
  contact_id       = COALESCE(NULLIF(EXCLUDED.contact_id, ''), calls.contact_id),
  attempt_number   = GREATEST(EXCLUDED.attempt_number, calls.attempt_number),
  status           = CASE
                       WHEN (CASE EXCLUDED.status
                               WHEN 'queued' THEN 1 WHEN 'initiated' THEN 2
                               WHEN 'ringing' THEN 3 WHEN 'in_progress' THEN 4
                               WHEN 'completed' THEN 5 WHEN 'busy' THEN 5
                               WHEN 'failed' THEN 5 WHEN 'no_answer' THEN 5
                               WHEN 'canceled' THEN 5 ELSE 0 END) >
                            (CASE calls.status
                               WHEN 'queued' THEN 1 WHEN 'initiated' THEN 2
                               WHEN 'ringing' THEN 3 WHEN 'in_progress' THEN 4
                               WHEN 'completed' THEN 5 WHEN 'busy' THEN 5
                               WHEN 'failed' THEN 5 WHEN 'no_answer' THEN 5
                               WHEN 'canceled' THEN 5 ELSE 0 END)
                       THEN EXCLUDED.status
                       ELSE calls.status
                     END,
  answered_at      = COALESCE(calls.answered_at, EXCLUDED.answered_at),
  ended_at         = COALESCE(calls.ended_at, EXCLUDED.ended_at),
  duration_seconds = GREATEST(EXCLUDED.duration_seconds, calls.duration_seconds),
  answered_by      = COALESCE(NULLIF(EXCLUDED.answered_by, ''), calls.answered_by),
  recording_count  = GREATEST(EXCLUDED.recording_count, calls.recording_count),
  last_error       = COALESCE(NULLIF(EXCLUDED.last_error, ''), calls.last_error),
  provisional      = EXCLUDED.provisional,
  finalized        = calls.finalized OR EXCLUDED.finalized,
  updated_at       = EXCLUDED.updated_at
`

func upsertCallArgs(c Call) []any {
	return []any{
		c.CallSid,
		c.WorkspaceID,
		c.CampaignID,
		c.ContactID,
		c.AttemptNumber,
		c.Status,
		c.StartedAt,
		c.AnsweredAt,
		c.EndedAt,
		c.DurationSeconds,
		c.AnsweredBy,
		c.RecordingCount,
		c.LastError,
		c.Provisional,
		c.Finalized,
		c.CreatedAt,
		c.UpdatedAt,
	}
}

func (r *PostgresRepo) Upsert(ctx context.Context, c Call) error {
	_, err := r.db.ExecContext(ctx, upsertCallSQL, upsertCallArgs(c)...)
	return err
}

const insertEventSQL = `
INSERT INTO call_events (id, call_sid, type, provider_status, source, timestamp, data, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (call_sid, type, provider_status) DO NOTHING
`

// ApplyEvent inserts the event and upserts the call in one transaction.
// On a duplicate event the call write is skipped entirely: the first
// delivery already committed the matching state.
func (r *PostgresRepo) ApplyEvent(ctx context.Context, e CallEvent, c Call) (bool, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	inserted := false
	err := utils.WithTx(ctx, r.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, insertEventSQL,
			e.ID,
			e.CallSid,
			e.Type,
			e.ProviderStatus,
			e.Source,
			e.Timestamp,
			e.Data,
			e.CreatedAt,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		inserted = true
		_, err = tx.ExecContext(ctx, upsertCallSQL, upsertCallArgs(c)...)
		return err
	})
	return inserted, err
}

func (r *PostgresRepo) ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]Call, error) {
	const q = selectCallColumns + `
WHERE status IN ('queued','initiated','ringing','in_progress')
  AND updated_at < $1
ORDER BY updated_at ASC
LIMIT $2
`
	return r.list(ctx, q, cutoff, limit)
}

func (r *PostgresRepo) ListUnsettled(ctx context.Context, cutoff time.Time, limit int) ([]Call, error) {
	const q = selectCallColumns + `
WHERE status IN ('completed','busy','failed','no_answer','canceled')
  AND NOT finalized
  AND campaign_id <> ''
  AND updated_at < $1
ORDER BY updated_at ASC
LIMIT $2
`
	return r.list(ctx, q, cutoff, limit)
}

func (r *PostgresRepo) ListByCampaign(ctx context.Context, campaignID string, limit int) ([]Call, error) {
	const q = selectCallColumns + `
WHERE campaign_id = $1
ORDER BY started_at DESC
LIMIT $2
`
	return r.list(ctx, q, campaignID, limit)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCall(row rowScanner, c *Call) error {
	return row.Scan(
		&c.CallSid,
		&c.WorkspaceID,
		&c.CampaignID,
		&c.ContactID,
		&c.AttemptNumber,
		&c.Status,
		&c.StartedAt,
		&c.AnsweredAt,
		&c.EndedAt,
		&c.DurationSeconds,
		&c.AnsweredBy,
		&c.RecordingCount,
		&c.LastError,
		&c.Provisional,
		&c.Finalized,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
}

func (r *PostgresRepo) list(ctx context.Context, q string, arg any, limit int) ([]Call, error) {
	rows, err := r.db.QueryContext(ctx, q, arg, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		var c Call
		if err := scanCall(rows, &c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
