package notify

import "context"

// Topic names the real-time update channels the engine publishes on.
type Topic string

const (
	TopicCallUpdate     Topic = "call_update"
	TopicCampaignUpdate Topic = "campaign_update"
)

// Notifier is the fan-out contract for real-time updates. The engine never
// depends on the transport behind it; implementations include the
// in-process Hub, the AMQP publisher, and Multi combining several.
//
// Emit is best-effort from the engine's point of view: a slow or failed
// transport must never block or fail call processing.
type Notifier interface {
	Emit(ctx context.Context, topic Topic, payload any) error
}

// Nop discards all emissions.
type Nop struct{}

func (Nop) Emit(ctx context.Context, topic Topic, payload any) error { return nil }

// Multi fans one emission out to several notifiers. The first error is
// returned after all notifiers were attempted.
type Multi []Notifier

func (m Multi) Emit(ctx context.Context, topic Topic, payload any) error {
	var first error
	for _, n := range m {
		if err := n.Emit(ctx, topic, payload); err != nil && first == nil {
			first = err
		}
	}
	return first
}
