package rabbitmq

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"coroner-assist/internal/store"
)

// ThreadEventPublisher sends store changes to a durable queue. It keeps one
// channel open and reopens it after a failure.
type ThreadEventPublisher struct {
	conn      *amqp.Connection
	queueName string

	mu sync.Mutex
	ch *amqp.Channel
}

func NewThreadEventPublisher(conn *amqp.Connection, queueName string) *ThreadEventPublisher {
	return &ThreadEventPublisher{
		conn:      conn,
		queueName: queueName,
	}
}

// Apply publishes ev; it satisfies the thread sink used by the services.
func (p *ThreadEventPublisher) Apply(ctx context.Context, ev store.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal thread event failed: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	ch, err := p.channel()
	if err != nil {
		return err
	}
	err = ch.PublishWithContext(
		ctx,
		"",
		p.queueName,
		false,
		false,
		amqp.Publishing{
			ContentType:  "application/json",
			Type:         string(ev.Kind),
			Body:         payload,
			DeliveryMode: amqp.Persistent,
		},
	)
	if err != nil {
		_ = ch.Close()
		p.ch = nil
		return fmt.Errorf("publish thread event failed: %w", err)
	}
	return nil
}

func (p *ThreadEventPublisher) channel() (*amqp.Channel, error) {
	if p.ch != nil && !p.ch.IsClosed() {
		return p.ch, nil
	}
	ch, err := p.conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open rabbitmq channel failed: %w", err)
	}
	if err := DeclareQueue(ch, p.queueName); err != nil {
		_ = ch.Close()
		return nil, err
	}
	p.ch = ch
	return ch, nil
}

func (p *ThreadEventPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch == nil {
		return nil
	}
	err := p.ch.Close()
	p.ch = nil
	return err
}
