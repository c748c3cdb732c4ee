package telephony

import (
	"context"
	"errors"
	"fmt"
)

// Dispatcher places one outbound call at the provider. It is the only
// provider-facing surface the dial engine touches.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - Request/response types stay provider-agnostic; raw provider payloads
//   belong in call event data, not here.
type Dispatcher interface {
	Name() string
	PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error)
}

type PlaceCallRequest struct {
	WorkspaceID string `json:"workspace_id"`
	CampaignID  string `json:"campaign_id"`
	ContactID   string `json:"contact_id"`

	// To and From are E.164.
	To   string `json:"to"`
	From string `json:"from"`

	// CallbackURL receives status webhooks for this call.
	CallbackURL string `json:"callback_url"`
	// AnswerURL is fetched by the provider when the callee picks up.
	AnswerURL string `json:"answer_url"`

	// Metadata is optional JSON passed through to the provider request.
	Metadata string `json:"metadata,omitempty"`
}

type PlaceCallResult struct {
	// CallSid is the provider-issued identifier for the placed call.
	CallSid string `json:"call_sid"`
}

// DispatchError is a provider placement rejection. It carries enough for
// the retry policy: a permanent rejection (bad number, blocked destination)
// still routes through the same retry/finalize decision as a runtime
// failure, it is never silently dropped.
type DispatchError struct {
	Code      string
	Message   string
	Permanent bool
}

func (e *DispatchError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("telephony: dispatch rejected (%s): %s", e.Code, e.Message)
	}
	return fmt.Sprintf("telephony: dispatch rejected: %s", e.Message)
}

// AsDispatchError unwraps err into a DispatchError when possible.
func AsDispatchError(err error) (*DispatchError, bool) {
	var de *DispatchError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}
