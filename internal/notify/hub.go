package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

// Hub is the in-process Notifier: per-topic subscriber channels with
// non-blocking delivery. Slow subscribers drop messages instead of stalling
// the emitter; real-time updates are snapshots, not a durable stream.

type Hub struct {
	mu   sync.RWMutex
	subs map[Topic]map[chan []byte]struct{}
	log  *slog.Logger
}

func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		subs: make(map[Topic]map[chan []byte]struct{}),
		log:  log,
	}
}

// Subscribe registers a listener for topic. The returned cancel func must be
// called to release the channel.
func (h *Hub) Subscribe(topic Topic) (<-chan []byte, func()) {
	ch := make(chan []byte, 16)

	h.mu.Lock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[chan []byte]struct{})
	}
	h.subs[topic][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[topic]; ok {
			if _, still := set[ch]; still {
				delete(set, ch)
				close(ch)
				if len(set) == 0 {
					delete(h.subs, topic)
				}
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

func (h *Hub) Emit(ctx context.Context, topic Topic, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[topic] {
		select {
		case ch <- body:
		default:
			h.log.Warn("notify subscriber channel full, dropping", "topic", string(topic))
		}
	}
	return nil
}

// Close drops and closes every subscriber channel. Emit after Close is a
// no-op; Subscribe after Close still works, so call it last on shutdown.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, set := range h.subs {
		for ch := range set {
			close(ch)
		}
		delete(h.subs, topic)
	}
}
