package telephony

import (
	"context"
	"errors"
	"net/http"
	"time"

	"outdial-platform/internal/calls"
	"outdial-platform/pkg/logger"

	"github.com/gin-gonic/gin"
)

// CallTracker consumes validated webhook events. Implemented by the dial
// engine's lifecycle tracker.
type CallTracker interface {
	OnEvent(ctx context.Context, ev calls.WebhookEvent) error
}

// WebhookHandler converts provider status callbacks to internal events and
// feeds the tracker. No business logic here.
//
// Response codes carry the at-least-once contract: 204 acknowledges the
// event, 400 rejects a malformed one permanently, and any processing
// failure answers 503 so the provider redelivers.
type WebhookHandler struct {
	Tracker CallTracker

	Now func() time.Time
}

func (h WebhookHandler) HandleStatusCallback(c *gin.Context) {
	log := logger.FromGin(c)

	if h.Tracker == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "tracker not configured"})
		return
	}
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}

	ev, err := ParseStatusCallback(c.Request, now().UTC())
	if err != nil {
		log.Warn("status callback parse failed", "err", err)
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid event"})
		return
	}

	if err := h.Tracker.OnEvent(c.Request.Context(), ev); err != nil {
		if errors.Is(err, calls.ErrInvalidEvent) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid event"})
			return
		}
		// Not acknowledged; the provider will redeliver.
		log.Error("event processing failed", "call_sid", ev.CallSid, "err", err)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "processing failed"})
		return
	}
	c.Status(http.StatusNoContent)
}

// AnswerHandler serves the TwiML the provider fetches when an outbound call
// is answered: bridge the audio to the voice-AI stream, or hang up when the
// campaign no longer wants the call.
type AnswerHandler struct {
	// StreamURL is the voice-AI websocket media endpoint.
	StreamURL string

	// ShouldBridge decides whether the call should still be connected.
	// Injected to avoid persistence assumptions here.
	ShouldBridge func(c *gin.Context, callSid string) (bool, error)
}

func (h AnswerHandler) HandleAnswer(c *gin.Context) {
	log := logger.FromGin(c)

	callSid := c.PostForm("CallSid")
	if callSid == "" {
		callSid = c.Query("CallSid")
	}

	bridge := true
	if h.ShouldBridge != nil {
		ok, err := h.ShouldBridge(c, callSid)
		if err != nil {
			log.Error("bridge decision failed", "call_sid", callSid, "err", err)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "bridge decision failed"})
			return
		}
		bridge = ok
	}

	var (
		twiml string
		err   error
	)
	if bridge {
		twiml, err = RenderAnswerTwiML(h.StreamURL, map[string]string{"call_sid": callSid})
	} else {
		twiml, err = RenderHangupTwiML()
	}
	if err != nil {
		log.Error("twiml render failed", "err", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "twiml failed"})
		return
	}

	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, twiml)
}
