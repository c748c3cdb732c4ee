package calls

import "time"

// Call is one placed-and-tracked outbound dial attempt.
//
// Identity: CallSid is the provider-issued identifier and is unique across
// the system. A Call row may be created provisionally by a webhook that
// outruns the dispatcher's own write; the dispatcher's upsert then fills in
// the remaining fields.
//
// Invariant: once a terminal status is recorded it is never replaced by a
// different terminal status. Enforced via StatusPrecedence in the tracker.

type Call struct {
	CallSid     string `json:"call_sid" db:"call_sid"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`
	CampaignID  string `json:"campaign_id" db:"campaign_id"`
	ContactID   string `json:"contact_id" db:"contact_id"`

	// AttemptNumber mirrors the contact's attempt counter at dispatch time.
	AttemptNumber int `json:"attempt_number" db:"attempt_number"`

	Status CallStatus `json:"status" db:"status"`

	StartedAt  time.Time  `json:"started_at" db:"started_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	DurationSeconds int `json:"duration_seconds" db:"duration_seconds"`

	// AnsweredBy carries machine-detection enrichment ("human", "machine_start", ...).
	AnsweredBy     string `json:"answered_by,omitempty" db:"answered_by"`
	RecordingCount int    `json:"recording_count" db:"recording_count"`
	LastError      string `json:"last_error,omitempty" db:"last_error"`

	// Provisional marks rows created from a webhook before the dispatcher's write landed.
	Provisional bool `json:"provisional,omitempty" db:"provisional"`

	// Finalized is set once the terminal side effects (contact settlement,
	// campaign stats, slot release) have run. A terminal call without it
	// still owes those side effects and is re-settled on the next delivery
	// or sweep.
	Finalized bool `json:"finalized,omitempty" db:"finalized"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type CallStatus string

const (
	CallStatusQueued     CallStatus = "queued"
	CallStatusInitiated  CallStatus = "initiated"
	CallStatusRinging    CallStatus = "ringing"
	CallStatusInProgress CallStatus = "in_progress"
	CallStatusCompleted  CallStatus = "completed"
	CallStatusBusy       CallStatus = "busy"
	CallStatusFailed     CallStatus = "failed"
	CallStatusNoAnswer   CallStatus = "no_answer"
	CallStatusCanceled   CallStatus = "canceled"
)

// IsTerminal reports whether no further status transition is accepted.
func (s CallStatus) IsTerminal() bool {
	switch s {
	case CallStatusCompleted, CallStatusBusy, CallStatusFailed, CallStatusNoAnswer, CallStatusCanceled:
		return true
	default:
		return false
	}
}

// IsValid reports whether s is a known call status.
func (s CallStatus) IsValid() bool {
	return StatusPrecedence(s) >= 0
}

// StatusPrecedence orders statuses along the call lifecycle. A transition is
// accepted only when the incoming status has strictly higher precedence than
// the recorded one; all terminal statuses share the top rank so the first
// terminal status wins and later ones are discarded.
// Returns -1 for unknown statuses.
func StatusPrecedence(s CallStatus) int {
	switch s {
	case CallStatusQueued:
		return 0
	case CallStatusInitiated:
		return 1
	case CallStatusRinging:
		return 2
	case CallStatusInProgress:
		return 3
	case CallStatusCompleted, CallStatusBusy, CallStatusFailed, CallStatusNoAnswer, CallStatusCanceled:
		return 4
	default:
		return -1
	}
}
