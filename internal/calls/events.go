package calls

import (
	"errors"
	"fmt"
	"time"
)

// CallEvent is an immutable, append-only record of one received provider
// notification.
//
// Invariants:
// - Events are never updated or deleted.
// - The tuple (call_sid, type, provider_status) identifies a delivery for
//   idempotency purposes: redelivering the same notification appends nothing
//   new and must not change call state.
//
// Storage recommendation (Postgres):
// - Table call_events with an INSERT-only policy and a unique index on
//   (call_sid, type, provider_status).

type CallEvent struct {
	ID      string `json:"id" db:"id"`
	CallSid string `json:"call_sid" db:"call_sid"`

	Type EventType `json:"type" db:"type"`

	// ProviderStatus is the provider-reported status string for status
	// events. Recording events store the recording URL here so a second,
	// distinct recording of the same call is a distinct delivery rather
	// than a duplicate. Empty for the other enrichment kinds.
	ProviderStatus string `json:"provider_status,omitempty" db:"provider_status"`

	// Source names the notifying system ("twilio", "voice_ai", "sweeper", "dispatcher").
	Source string `json:"source" db:"source"`

	// Timestamp is the provider event time, not the receive time.
	Timestamp time.Time `json:"timestamp" db:"timestamp"`

	// Data is optional JSON with the raw payload for audit.
	Data string `json:"data,omitempty" db:"data"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeStatus           EventType = "status"
	EventTypeDispatchFailure  EventType = "dispatch_failure"
	EventTypeRecording        EventType = "recording"
	EventTypeMachineDetection EventType = "machine_detection"
	EventTypeQuality          EventType = "quality"
	EventTypeTranscript       EventType = "transcript"
	EventTypeError            EventType = "error"
)

// DrivesState reports whether this event kind participates in the call
// status state machine. Other kinds only enrich the call record.
func (t EventType) DrivesState() bool {
	return t == EventTypeStatus || t == EventTypeDispatchFailure
}

func (t EventType) IsValid() bool {
	switch t {
	case EventTypeStatus, EventTypeDispatchFailure, EventTypeRecording,
		EventTypeMachineDetection, EventTypeQuality, EventTypeTranscript, EventTypeError:
		return true
	default:
		return false
	}
}

var ErrInvalidEvent = errors.New("calls: invalid webhook event")

// WebhookEvent is the validated, typed form of an inbound provider
// notification. The loosely-typed provider payload is parsed into this
// tagged union at the boundary; nothing downstream touches raw payloads.
type WebhookEvent struct {
	CallSid string    `json:"call_sid"`
	Type    EventType `json:"type"`

	// Status is required for status and dispatch_failure events and must be
	// empty for all other kinds (non-status events never compete for the
	// status field).
	Status CallStatus `json:"status,omitempty"`

	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`

	// Enrichment fields, each meaningful only for its event kind.
	AnsweredBy      string `json:"answered_by,omitempty"`
	DurationSeconds int    `json:"duration_seconds,omitempty"`
	RecordingURL    string `json:"recording_url,omitempty"`
	TranscriptText  string `json:"transcript_text,omitempty"`
	QualityScore    float64 `json:"quality_score,omitempty"`
	ErrorCode       string `json:"error_code,omitempty"`
	ErrorMessage    string `json:"error_message,omitempty"`

	// Raw keeps the original payload for the event log.
	Raw string `json:"-"`
}

// Validate enforces the per-kind schema before the event may enter the
// state machine.
func (e WebhookEvent) Validate() error {
	if e.CallSid == "" {
		return fmt.Errorf("%w: call_sid required", ErrInvalidEvent)
	}
	if !e.Type.IsValid() {
		return fmt.Errorf("%w: unknown event type %q", ErrInvalidEvent, e.Type)
	}
	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: timestamp required", ErrInvalidEvent)
	}
	if e.Type.DrivesState() {
		if !e.Status.IsValid() {
			return fmt.Errorf("%w: status %q invalid for %s event", ErrInvalidEvent, e.Status, e.Type)
		}
		if e.Type == EventTypeDispatchFailure && !e.Status.IsTerminal() {
			return fmt.Errorf("%w: dispatch_failure must carry a terminal status", ErrInvalidEvent)
		}
		return nil
	}
	if e.Status != "" {
		return fmt.Errorf("%w: %s event must not carry a status", ErrInvalidEvent, e.Type)
	}
	switch e.Type {
	case EventTypeRecording:
		if e.RecordingURL == "" {
			return fmt.Errorf("%w: recording event requires recording_url", ErrInvalidEvent)
		}
	case EventTypeMachineDetection:
		if e.AnsweredBy == "" {
			return fmt.Errorf("%w: machine_detection event requires answered_by", ErrInvalidEvent)
		}
	case EventTypeError:
		if e.ErrorCode == "" && e.ErrorMessage == "" {
			return fmt.Errorf("%w: error event requires error details", ErrInvalidEvent)
		}
	}
	return nil
}

// ToCallEvent converts a validated webhook event to its append-only log form.
func (e WebhookEvent) ToCallEvent() CallEvent {
	providerStatus := string(e.Status)
	if e.Type == EventTypeRecording {
		providerStatus = e.RecordingURL
	}
	return CallEvent{
		CallSid:        e.CallSid,
		Type:           e.Type,
		ProviderStatus: providerStatus,
		Source:         e.Source,
		Timestamp:      e.Timestamp,
		Data:           e.Raw,
	}
}
