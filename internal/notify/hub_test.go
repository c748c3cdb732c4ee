package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestHubDeliversToTopicSubscribers(t *testing.T) {
	h := NewHub(nil)

	callCh, cancelCall := h.Subscribe(TopicCallUpdate)
	defer cancelCall()
	campCh, cancelCamp := h.Subscribe(TopicCampaignUpdate)
	defer cancelCamp()

	if err := h.Emit(context.Background(), TopicCallUpdate, map[string]string{"call_sid": "CA1"}); err != nil {
		t.Fatalf("emit: %v", err)
	}

	select {
	case body := <-callCh:
		var got map[string]string
		if err := json.Unmarshal(body, &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got["call_sid"] != "CA1" {
			t.Fatalf("unexpected payload: %v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("call subscriber got nothing")
	}

	select {
	case <-campCh:
		t.Fatalf("campaign subscriber must not receive call updates")
	default:
	}
}

func TestHubDropsWhenSubscriberFull(t *testing.T) {
	h := NewHub(nil)
	ch, cancel := h.Subscribe(TopicCallUpdate)
	defer cancel()

	// Saturate the buffer plus extra; Emit must never block.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			_ = h.Emit(context.Background(), TopicCallUpdate, i)
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("emit blocked on a full subscriber")
	}
	if len(ch) == 0 {
		t.Fatalf("expected buffered messages")
	}
}

func TestHubCancelUnsubscribes(t *testing.T) {
	h := NewHub(nil)
	ch, cancel := h.Subscribe(TopicCallUpdate)
	cancel()

	if _, open := <-ch; open {
		t.Fatalf("expected closed channel after cancel")
	}
	// Emitting after cancel must not panic.
	if err := h.Emit(context.Background(), TopicCallUpdate, "x"); err != nil {
		t.Fatalf("emit after cancel: %v", err)
	}
}
