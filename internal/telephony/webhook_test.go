package telephony

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"outdial-platform/internal/calls"
)

func postForm(t *testing.T, values url.Values) *http.Request {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/webhooks/voice/status", strings.NewReader(values.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return r
}

func TestParseStatusCallbackStatusEvent(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	ev, err := ParseStatusCallback(postForm(t, url.Values{
		"CallSid":      {"CA123"},
		"CallStatus":   {"completed"},
		"CallDuration": {"42"},
		"AnsweredBy":   {"human"},
	}), now)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Type != calls.EventTypeStatus {
		t.Fatalf("expected status event, got %s", ev.Type)
	}
	if ev.Status != calls.CallStatusCompleted {
		t.Fatalf("expected completed, got %s", ev.Status)
	}
	if ev.DurationSeconds != 42 || ev.AnsweredBy != "human" {
		t.Fatalf("enrichment not captured: %+v", ev)
	}
	if ev.Timestamp != now {
		t.Fatalf("expected fallback timestamp")
	}
	if ev.Raw == "" {
		t.Fatalf("raw payload must be preserved")
	}
}

func TestParseStatusCallbackMapsProviderStatuses(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()
	expect := map[string]calls.CallStatus{
		"in-progress": calls.CallStatusInProgress,
		"no-answer":   calls.CallStatusNoAnswer,
		"ringing":     calls.CallStatusRinging,
		"busy":        calls.CallStatusBusy,
	}
	for raw, want := range expect {
		ev, err := ParseStatusCallback(postForm(t, url.Values{"CallSid": {"CA1"}, "CallStatus": {raw}}), now)
		if err != nil {
			t.Fatalf("%s: %v", raw, err)
		}
		if ev.Status != want {
			t.Fatalf("%s: expected %s got %s", raw, want, ev.Status)
		}
	}

	if _, err := ParseStatusCallback(postForm(t, url.Values{"CallSid": {"CA1"}, "CallStatus": {"weird"}}), now); err == nil {
		t.Fatalf("unknown provider status must fail")
	}
}

func TestParseStatusCallbackEnrichmentKinds(t *testing.T) {
	now := time.Unix(1700000000, 0).UTC()

	rec, err := ParseStatusCallback(postForm(t, url.Values{
		"CallSid":      {"CA1"},
		"RecordingUrl": {"https://api.example.com/rec/RE1.mp3"},
	}), now)
	if err != nil || rec.Type != calls.EventTypeRecording || rec.RecordingURL == "" {
		t.Fatalf("recording event: %+v err=%v", rec, err)
	}
	if rec.Status != "" {
		t.Fatalf("enrichment event must not carry a status")
	}

	amd, err := ParseStatusCallback(postForm(t, url.Values{
		"CallSid":    {"CA1"},
		"AnsweredBy": {"machine_start"},
	}), now)
	if err != nil || amd.Type != calls.EventTypeMachineDetection {
		t.Fatalf("machine detection event: %+v err=%v", amd, err)
	}

	errEv, err := ParseStatusCallback(postForm(t, url.Values{
		"CallSid":   {"CA1"},
		"ErrorCode": {"32011"},
	}), now)
	if err != nil || errEv.Type != calls.EventTypeError || errEv.ErrorCode != "32011" {
		t.Fatalf("error event: %+v err=%v", errEv, err)
	}
}

func TestParseStatusCallbackTimestamp(t *testing.T) {
	fallback := time.Unix(1700000000, 0).UTC()
	ev, err := ParseStatusCallback(postForm(t, url.Values{
		"CallSid":    {"CA1"},
		"CallStatus": {"ringing"},
		"Timestamp":  {"Tue, 14 Nov 2023 22:13:20 +0000"},
	}), fallback)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if ev.Timestamp.Equal(fallback) {
		t.Fatalf("provider timestamp must win over fallback")
	}
}
