package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

// AMQPPublisher is a network-backed Notifier that publishes updates to
// per-topic durable queues, one queue per topic under a shared prefix
// (e.g. "outdial.call_update").
type AMQPPublisher struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	prefix  string

	mu       sync.Mutex
	declared map[Topic]struct{}
}

func NewAMQPPublisher(url, queuePrefix string) (*AMQPPublisher, error) {
	if url == "" {
		return nil, fmt.Errorf("notify: amqp url is required")
	}
	if queuePrefix == "" {
		queuePrefix = "outdial"
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("notify: amqp dial failed: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("notify: amqp channel failed: %w", err)
	}

	return &AMQPPublisher{
		conn:     conn,
		channel:  ch,
		prefix:   queuePrefix,
		declared: make(map[Topic]struct{}),
	}, nil
}

func (p *AMQPPublisher) queueName(topic Topic) string {
	return p.prefix + "." + string(topic)
}

func (p *AMQPPublisher) ensureQueue(topic Topic) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.declared[topic]; ok {
		return nil
	}
	_, err := p.channel.QueueDeclare(
		p.queueName(topic),
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("notify: queue declare failed: %w", err)
	}
	p.declared[topic] = struct{}{}
	return nil
}

func (p *AMQPPublisher) Emit(ctx context.Context, topic Topic, payload any) error {
	if err := p.ensureQueue(topic); err != nil {
		return err
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return p.channel.PublishWithContext(ctx,
		"",                 // default exchange
		p.queueName(topic), // routing key
		false,              // mandatory
		false,              // immediate
		amqp.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp.Persistent,
			Body:         body,
		},
	)
}

func (p *AMQPPublisher) Close() error {
	if p.channel != nil {
		_ = p.channel.Close()
	}
	if p.conn != nil {
		return p.conn.Close()
	}
	return nil
}
