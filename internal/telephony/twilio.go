package telephony

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

// TwilioDispatcher places calls through the Twilio REST API.
//
// Credentials come from config; the base URL is overridable for tests.
type TwilioDispatcher struct {
	client     *resty.Client
	accountSID string
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string

	// BaseURL defaults to the public Twilio API endpoint.
	BaseURL string
	Timeout time.Duration
}

func NewTwilioDispatcher(cfg TwilioConfig) (*TwilioDispatcher, error) {
	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, errors.New("telephony: twilio credentials are required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.twilio.com"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}

	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetBasicAuth(cfg.AccountSID, cfg.AuthToken)

	return &TwilioDispatcher{client: client, accountSID: cfg.AccountSID}, nil
}

func (d *TwilioDispatcher) Name() string { return "twilio" }

type twilioCallResponse struct {
	Sid     string `json:"sid"`
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (d *TwilioDispatcher) PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error) {
	if req.To == "" || req.From == "" {
		return PlaceCallResult{}, &DispatchError{Code: "invalid_request", Message: "to and from are required", Permanent: true}
	}
	if req.CallbackURL == "" || req.AnswerURL == "" {
		return PlaceCallResult{}, &DispatchError{Code: "invalid_request", Message: "callback_url and answer_url are required", Permanent: true}
	}

	form := map[string]string{
		"To":                   req.To,
		"From":                 req.From,
		"Url":                  req.AnswerURL,
		"StatusCallback":       req.CallbackURL,
		"StatusCallbackMethod": "POST",
		"StatusCallbackEvent":  "initiated ringing answered completed",
		"MachineDetection":     "Enable",
	}

	resp, err := d.client.R().
		SetContext(ctx).
		SetFormData(form).
		Post(fmt.Sprintf("/2010-04-01/Accounts/%s/Calls.json", d.accountSID))
	if err != nil {
		// Transport-level failure: retryable from the policy's point of view.
		return PlaceCallResult{}, &DispatchError{Code: "transport", Message: err.Error()}
	}

	var body twilioCallResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil && resp.IsSuccess() {
		return PlaceCallResult{}, fmt.Errorf("telephony: twilio response decode failed: %w", err)
	}

	if !resp.IsSuccess() {
		return PlaceCallResult{}, &DispatchError{
			Code:      fmt.Sprintf("%d", body.Code),
			Message:   body.Message,
			Permanent: resp.StatusCode() >= 400 && resp.StatusCode() < 500 && resp.StatusCode() != http.StatusTooManyRequests,
		}
	}
	if body.Sid == "" {
		return PlaceCallResult{}, &DispatchError{Code: "no_sid", Message: "provider returned no call sid"}
	}
	return PlaceCallResult{CallSid: body.Sid}, nil
}
