package campaigns

import (
	"errors"
	"time"
)

// Campaign is a batch of contacts dialed under shared settings and
// aggregate tracking.
//
// Concurrency invariant: calls in flight for a campaign never exceed
// Settings.MaxConcurrentCalls. The dialer enforces it via slot acquisition
// before dispatch and release strictly after the terminal write.

type Campaign struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	Name   string `json:"name" db:"name"`
	Status Status `json:"status" db:"status"`

	Settings Settings `json:"settings"`
	Stats    Stats    `json:"stats"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusDraft     Status = "draft"
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Settings controls pacing, concurrency and the retry policy.
type Settings struct {
	MaxConcurrentCalls int           `json:"max_concurrent_calls" db:"max_concurrent_calls"`
	CallDelay          time.Duration `json:"call_delay" db:"call_delay"`
	RetryCount         int           `json:"retry_count" db:"retry_count"`
	RetryDelay         time.Duration `json:"retry_delay" db:"retry_delay"`

	// FromNumber is the caller ID presented on outbound dials.
	FromNumber string `json:"from_number" db:"from_number"`
}

func (s Settings) WithDefaults() Settings {
	out := s
	if out.MaxConcurrentCalls <= 0 {
		out.MaxConcurrentCalls = 1
	}
	if out.CallDelay < 0 {
		out.CallDelay = 0
	}
	if out.RetryCount < 0 {
		out.RetryCount = 0
	}
	if out.RetryDelay <= 0 {
		out.RetryDelay = time.Minute
	}
	return out
}

// Stats is the per-campaign aggregate projection. All counter mutations go
// through atomic per-field increments; AverageDurationSeconds is derived
// from (DurationSumSeconds, DurationSamples) on read, never stored.
type Stats struct {
	TotalContacts  int64 `json:"total_contacts" db:"total_contacts"`
	CallsPlaced    int64 `json:"calls_placed" db:"calls_placed"`
	CallsCompleted int64 `json:"calls_completed" db:"calls_completed"`
	CallsAnswered  int64 `json:"calls_answered" db:"calls_answered"`
	CallsFailed    int64 `json:"calls_failed" db:"calls_failed"`

	DurationSumSeconds int64 `json:"-" db:"duration_sum_seconds"`
	DurationSamples    int64 `json:"-" db:"duration_samples"`

	AverageDurationSeconds float64 `json:"average_duration_seconds" db:"-"`
}

// WithDerived fills computed fields.
func (s Stats) WithDerived() Stats {
	out := s
	if s.DurationSamples > 0 {
		out.AverageDurationSeconds = float64(s.DurationSumSeconds) / float64(s.DurationSamples)
	}
	return out
}

var ErrInvalidTransition = errors.New("campaigns: invalid status transition")

// CanTransition validates operator and engine driven status changes.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusDraft:
		return to == StatusActive || to == StatusCancelled
	case StatusActive:
		return to == StatusPaused || to == StatusCompleted || to == StatusCancelled
	case StatusPaused:
		return to == StatusActive || to == StatusCancelled
	default:
		// completed and cancelled are final
		return false
	}
}
