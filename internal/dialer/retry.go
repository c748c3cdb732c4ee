package dialer

import (
	"time"

	"outdial-platform/internal/calls"
	"outdial-platform/internal/campaigns"
	"outdial-platform/internal/contacts"
)

// RetryCoordinator decides whether a finished attempt is retried. The
// decision is an explicit value, kept free of side effects so the policy is
// testable in isolation from persistence.

type RetryCoordinator struct{}

func NewRetryCoordinator() *RetryCoordinator { return &RetryCoordinator{} }

// Decision is the outcome of evaluating one terminal call against the
// campaign's retry policy.
type Decision struct {
	Requeue bool

	// NextEligibleAt is when the contact becomes dialable again; only set
	// when Requeue is true.
	NextEligibleAt time.Time

	// ContactStatus is the status to record when finalizing.
	ContactStatus contacts.Status
}

// retryable outcomes: the callee may well pick up next time.
func retryable(outcome calls.CallStatus) bool {
	switch outcome {
	case calls.CallStatusBusy, calls.CallStatusNoAnswer, calls.CallStatusFailed:
		return true
	default:
		return false
	}
}

// Evaluate applies the policy:
//   - busy / no_answer / failed are requeued while attempts remain;
//   - canceled always finalizes, regardless of remaining budget;
//   - completed finalizes as success;
//   - a do-not-call contact is never requeued.
//
// AttemptNumber counts completed attempts, so a contact finalizes with
// attempt_number <= retry_count + 1.
func (rc *RetryCoordinator) Evaluate(c contacts.Contact, outcome calls.CallStatus, s campaigns.Settings, now time.Time) Decision {
	if c.Status == contacts.StatusDoNotCall {
		return Decision{ContactStatus: contacts.StatusDoNotCall}
	}

	if outcome == calls.CallStatusCompleted {
		return Decision{ContactStatus: contacts.StatusCompleted}
	}

	if retryable(outcome) && c.AttemptNumber < s.RetryCount {
		return Decision{
			Requeue:        true,
			NextEligibleAt: now.Add(s.RetryDelay),
			ContactStatus:  contacts.StatusPending,
		}
	}

	return Decision{ContactStatus: contacts.StatusFailed}
}
