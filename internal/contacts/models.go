package contacts

import "time"

// Contact is a phone-number record eligible for outbound calling within one
// or more campaigns.
//
// Invariants:
// - At most one non-terminal call references a contact at any time. The
//   claim operation flips status pending -> calling atomically, so two
//   scheduler loops can never dispatch the same contact twice.
// - AttemptNumber only grows, and never exceeds the campaign retry budget
//   plus the initial attempt.

type Contact struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	PhoneNumber string `json:"phone_number" db:"phone_number"`

	Status Status `json:"status" db:"status"`

	// Priority is an ordering hint; higher dials first.
	Priority int `json:"priority" db:"priority"`

	AttemptNumber  int       `json:"attempt_number" db:"attempt_number"`
	NextEligibleAt time.Time `json:"next_eligible_at" db:"next_eligible_at"`

	LastCallResult string `json:"last_call_result,omitempty" db:"last_call_result"`
	LastCallError  string `json:"last_call_error,omitempty" db:"last_call_error"`

	// CampaignIDs lists the campaigns this contact participates in.
	CampaignIDs []string `json:"campaign_ids" db:"-"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusCalling   Status = "calling"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusDoNotCall Status = "do_not_call"
	StatusInactive  Status = "inactive"
)

// IsTerminal reports whether the contact is done for this campaign run.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusDoNotCall, StatusInactive:
		return true
	default:
		return false
	}
}

// InCampaign reports membership.
func (c Contact) InCampaign(campaignID string) bool {
	for _, id := range c.CampaignIDs {
		if id == campaignID {
			return true
		}
	}
	return false
}
