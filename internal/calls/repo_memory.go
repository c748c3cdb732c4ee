package calls

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepo is an in-memory Repository useful for tests.
// It is not intended for production use.

type MemoryRepo struct {
	mu     sync.Mutex
	calls  map[string]Call
	events []CallEvent
	seen   map[eventKey]struct{}
}

type eventKey struct {
	callSid        string
	typ            EventType
	providerStatus string
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		calls: make(map[string]Call),
		seen:  make(map[eventKey]struct{}),
	}
}

func (r *MemoryRepo) Get(ctx context.Context, callSid string) (Call, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.calls[callSid]
	return c, ok, nil
}

func (r *MemoryRepo) Upsert(ctx context.Context, c Call) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsertLocked(c)
	return nil
}

// upsertLocked mirrors the SQL merge semantics for fields that must never
// regress. Caller holds r.mu.
func (r *MemoryRepo) upsertLocked(c Call) {
	if prev, ok := r.calls[c.CallSid]; ok {
		if c.WorkspaceID == "" {
			c.WorkspaceID = prev.WorkspaceID
		}
		if c.CampaignID == "" {
			c.CampaignID = prev.CampaignID
		}
		if c.ContactID == "" {
			c.ContactID = prev.ContactID
		}
		if c.AttemptNumber < prev.AttemptNumber {
			c.AttemptNumber = prev.AttemptNumber
		}
		if StatusPrecedence(c.Status) <= StatusPrecedence(prev.Status) {
			c.Status = prev.Status
		}
		if c.AnsweredAt == nil {
			c.AnsweredAt = prev.AnsweredAt
		}
		if c.EndedAt == nil {
			c.EndedAt = prev.EndedAt
		}
		if c.DurationSeconds < prev.DurationSeconds {
			c.DurationSeconds = prev.DurationSeconds
		}
		if c.AnsweredBy == "" {
			c.AnsweredBy = prev.AnsweredBy
		}
		if c.RecordingCount < prev.RecordingCount {
			c.RecordingCount = prev.RecordingCount
		}
		if c.LastError == "" {
			c.LastError = prev.LastError
		}
		if prev.Finalized {
			c.Finalized = true
		}
		if c.CreatedAt.IsZero() {
			c.CreatedAt = prev.CreatedAt
		}
	}
	r.calls[c.CallSid] = c
}

// ApplyEvent atomically records the event and the resulting call state, or
// neither when the event is a duplicate.
func (r *MemoryRepo) ApplyEvent(ctx context.Context, e CallEvent, c Call) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := eventKey{callSid: e.CallSid, typ: e.Type, providerStatus: e.ProviderStatus}
	if _, dup := r.seen[k]; dup {
		return false, nil
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	r.seen[k] = struct{}{}
	r.events = append(r.events, e)
	r.upsertLocked(c)
	return true, nil
}

func (r *MemoryRepo) ListStuck(ctx context.Context, cutoff time.Time, limit int) ([]Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if !c.Status.IsTerminal() && c.UpdatedAt.Before(cutoff) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) ListUnsettled(ctx context.Context, cutoff time.Time, limit int) ([]Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if c.Status.IsTerminal() && !c.Finalized && c.CampaignID != "" && c.UpdatedAt.Before(cutoff) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *MemoryRepo) ListByCampaign(ctx context.Context, campaignID string, limit int) ([]Call, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.calls {
		if c.CampaignID == campaignID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Events returns a copy of the appended event log.
func (r *MemoryRepo) Events() []CallEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]CallEvent, len(r.events))
	copy(out, r.events)
	return out
}
