package contacts

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Repository is the persistence contract for contacts.
//
// ClaimNextEligible performs selection and the pending -> calling flip in
// one atomic step; it is the only way a contact may enter `calling`.

type Repository interface {
	Get(ctx context.Context, id string) (Contact, bool, error)
	Update(ctx context.Context, c Contact) error

	// ClaimNextEligible picks the highest-priority pending contact of the
	// campaign whose next_eligible_at has elapsed, marks it calling and
	// returns it. ok=false means nothing is dialable right now.
	ClaimNextEligible(ctx context.Context, campaignID string, now time.Time) (Contact, bool, error)

	// CountRemaining counts contacts still pending or calling for the
	// campaign, regardless of eligibility time. Zero remaining together
	// with zero calls in flight means the campaign is exhausted.
	CountRemaining(ctx context.Context, campaignID string) (int, error)

	// MarkRemainingSkipped flips all still-pending contacts of the campaign
	// to inactive. Used by the stop operation.
	MarkRemainingSkipped(ctx context.Context, campaignID string, now time.Time) (int, error)
}

var ErrNotFound = errors.New("contacts: not found")

// PostgresRepo implements Repository on database/sql (pgx stdlib driver).
//
// Assumed tables:
// - contacts (PK id)
// - contact_campaigns (contact_id, campaign_id) membership join table
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const contactColumns = `
id, workspace_id, phone_number, status, priority, attempt_number,
next_eligible_at, last_call_result, last_call_error, created_at, updated_at`

func scanContact(row interface{ Scan(...any) error }) (Contact, error) {
	var c Contact
	err := row.Scan(
		&c.ID,
		&c.WorkspaceID,
		&c.PhoneNumber,
		&c.Status,
		&c.Priority,
		&c.AttemptNumber,
		&c.NextEligibleAt,
		&c.LastCallResult,
		&c.LastCallError,
		&c.CreatedAt,
		&c.UpdatedAt,
	)
	return c, err
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Contact, bool, error) {
	q := `SELECT ` + contactColumns + ` FROM contacts WHERE id = $1`
	c, err := scanContact(r.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Contact{}, false, nil
		}
		return Contact{}, false, err
	}
	if err := r.loadCampaigns(ctx, &c); err != nil {
		return Contact{}, false, err
	}
	return c, true, nil
}

func (r *PostgresRepo) Update(ctx context.Context, c Contact) error {
	const q = `
UPDATE contacts
SET status = $2,
    priority = $3,
    attempt_number = $4,
    next_eligible_at = $5,
    last_call_result = $6,
    last_call_error = $7,
    updated_at = $8
WHERE id = $1
`
	res, err := r.db.ExecContext(ctx, q,
		c.ID,
		c.Status,
		c.Priority,
		c.AttemptNumber,
		c.NextEligibleAt,
		c.LastCallResult,
		c.LastCallError,
		c.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) ClaimNextEligible(ctx context.Context, campaignID string, now time.Time) (Contact, bool, error) {
	// SKIP LOCKED lets concurrent scheduler loops claim distinct contacts
	// without serializing on each other.
	q := `
UPDATE contacts
SET status = 'calling', updated_at = $2
WHERE id = (
  SELECT c.id
  FROM contacts c
  JOIN contact_campaigns cc ON cc.contact_id = c.id
  WHERE cc.campaign_id = $1
    AND c.status = 'pending'
    AND c.next_eligible_at <= $2
  ORDER BY c.priority DESC, c.next_eligible_at ASC
  FOR UPDATE OF c SKIP LOCKED
  LIMIT 1
)
RETURNING ` + contactColumns
	c, err := scanContact(r.db.QueryRowContext(ctx, q, campaignID, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Contact{}, false, nil
		}
		return Contact{}, false, err
	}
	if err := r.loadCampaigns(ctx, &c); err != nil {
		return Contact{}, false, err
	}
	return c, true, nil
}

func (r *PostgresRepo) CountRemaining(ctx context.Context, campaignID string) (int, error) {
	const q = `
SELECT COUNT(*)
FROM contacts c
JOIN contact_campaigns cc ON cc.contact_id = c.id
WHERE cc.campaign_id = $1
  AND c.status IN ('pending', 'calling')
`
	var n int
	if err := r.db.QueryRowContext(ctx, q, campaignID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *PostgresRepo) MarkRemainingSkipped(ctx context.Context, campaignID string, now time.Time) (int, error) {
	const q = `
UPDATE contacts
SET status = 'inactive', updated_at = $2
WHERE status = 'pending'
  AND id IN (SELECT contact_id FROM contact_campaigns WHERE campaign_id = $1)
`
	res, err := r.db.ExecContext(ctx, q, campaignID, now)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (r *PostgresRepo) loadCampaigns(ctx context.Context, c *Contact) error {
	const q = `SELECT campaign_id FROM contact_campaigns WHERE contact_id = $1`
	rows, err := r.db.QueryContext(ctx, q, c.ID)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return err
		}
		c.CampaignIDs = append(c.CampaignIDs, id)
	}
	return rows.Err()
}
