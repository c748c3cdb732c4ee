package telephony

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"outdial-platform/internal/calls"
)

// Status callback parsing. Twilio posts application/x-www-form-urlencoded;
// the voice-AI service posts the same shape for its transcript/quality
// notifications. Everything is validated into calls.WebhookEvent before the
// tracker sees it.

// twilioStatusMap translates provider status strings to the internal set.
var twilioStatusMap = map[string]calls.CallStatus{
	"queued":      calls.CallStatusQueued,
	"initiated":   calls.CallStatusInitiated,
	"ringing":     calls.CallStatusRinging,
	"in-progress": calls.CallStatusInProgress,
	"answered":    calls.CallStatusInProgress,
	"completed":   calls.CallStatusCompleted,
	"busy":        calls.CallStatusBusy,
	"failed":      calls.CallStatusFailed,
	"no-answer":   calls.CallStatusNoAnswer,
	"canceled":    calls.CallStatusCanceled,
}

// ParseStatusCallback converts a provider status webhook into a typed event.
// The event kind is inferred from the form content:
// - RecordingUrl present        -> recording
// - AnsweredBy present, no CallStatus -> machine_detection
// - ErrorCode present, no CallStatus  -> error
// - otherwise                   -> status
func ParseStatusCallback(r *http.Request, now time.Time) (calls.WebhookEvent, error) {
	if err := r.ParseForm(); err != nil {
		return calls.WebhookEvent{}, fmt.Errorf("%w: %v", calls.ErrInvalidEvent, err)
	}

	ev := calls.WebhookEvent{
		CallSid:   r.PostFormValue("CallSid"),
		Source:    "twilio",
		Timestamp: parseTimestamp(r.PostFormValue("Timestamp"), now),
	}
	if src := r.PostFormValue("Source"); src != "" {
		ev.Source = src
	}

	rawStatus := r.PostFormValue("CallStatus")
	answeredBy := r.PostFormValue("AnsweredBy")

	switch {
	case r.PostFormValue("RecordingUrl") != "":
		ev.Type = calls.EventTypeRecording
		ev.RecordingURL = r.PostFormValue("RecordingUrl")
	case r.PostFormValue("TranscriptText") != "":
		ev.Type = calls.EventTypeTranscript
		ev.TranscriptText = r.PostFormValue("TranscriptText")
	case r.PostFormValue("QualityScore") != "":
		ev.Type = calls.EventTypeQuality
		ev.QualityScore, _ = strconv.ParseFloat(r.PostFormValue("QualityScore"), 64)
	case rawStatus == "" && answeredBy != "":
		ev.Type = calls.EventTypeMachineDetection
		ev.AnsweredBy = answeredBy
	case rawStatus == "" && r.PostFormValue("ErrorCode") != "":
		ev.Type = calls.EventTypeError
		ev.ErrorCode = r.PostFormValue("ErrorCode")
		ev.ErrorMessage = r.PostFormValue("ErrorMessage")
	default:
		ev.Type = calls.EventTypeStatus
		status, ok := twilioStatusMap[rawStatus]
		if !ok {
			return calls.WebhookEvent{}, fmt.Errorf("%w: unknown provider status %q", calls.ErrInvalidEvent, rawStatus)
		}
		ev.Status = status
		ev.AnsweredBy = answeredBy
		if d := r.PostFormValue("CallDuration"); d != "" {
			ev.DurationSeconds, _ = strconv.Atoi(d)
		}
		ev.ErrorCode = r.PostFormValue("ErrorCode")
		ev.ErrorMessage = r.PostFormValue("ErrorMessage")
	}

	raw, _ := json.Marshal(r.PostForm)
	ev.Raw = string(raw)

	if err := ev.Validate(); err != nil {
		return calls.WebhookEvent{}, err
	}
	return ev, nil
}

func parseTimestamp(s string, fallback time.Time) time.Time {
	if s == "" {
		return fallback
	}
	// Twilio uses RFC1123; tolerate RFC3339 from the voice-AI side.
	for _, layout := range []string{time.RFC1123Z, time.RFC1123, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return fallback
}
