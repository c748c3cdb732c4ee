package calls

import "testing"

func TestStatusPrecedenceOrdering(t *testing.T) {
	order := []CallStatus{CallStatusQueued, CallStatusInitiated, CallStatusRinging, CallStatusInProgress}
	for i := 1; i < len(order); i++ {
		if StatusPrecedence(order[i]) <= StatusPrecedence(order[i-1]) {
			t.Fatalf("expected %s > %s", order[i], order[i-1])
		}
	}

	terminals := []CallStatus{CallStatusCompleted, CallStatusBusy, CallStatusFailed, CallStatusNoAnswer, CallStatusCanceled}
	for _, s := range terminals {
		if !s.IsTerminal() {
			t.Fatalf("expected %s terminal", s)
		}
		if StatusPrecedence(s) != StatusPrecedence(CallStatusCompleted) {
			t.Fatalf("terminal statuses must share one rank, got %d for %s", StatusPrecedence(s), s)
		}
		if StatusPrecedence(s) <= StatusPrecedence(CallStatusInProgress) {
			t.Fatalf("terminal rank must exceed in_progress")
		}
	}

	if CallStatusRinging.IsTerminal() || CallStatusQueued.IsTerminal() {
		t.Fatalf("non-terminal status reported terminal")
	}
	if StatusPrecedence("weird") != -1 {
		t.Fatalf("unknown status must rank -1")
	}
	if CallStatus("weird").IsValid() {
		t.Fatalf("unknown status must be invalid")
	}
}
