package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"coroner-assist/internal/platform/rabbitmq"
	"coroner-assist/internal/store"
)

var errMalformedEvent = errors.New("malformed thread event")

// ThreadApplier writes one store change to durable storage.
type ThreadApplier interface {
	Apply(ctx context.Context, ev store.Event) error
}

// ThreadPersistWorker consumes thread events and applies them in queue
// order. Undecodable events are dropped; failed writes are requeued once.
type ThreadPersistWorker struct {
	conn      *amqp.Connection
	applier   ThreadApplier
	queueName string
	logger    *slog.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewThreadPersistWorker(conn *amqp.Connection, applier ThreadApplier, queueName string, logger *slog.Logger) *ThreadPersistWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ThreadPersistWorker{
		conn:      conn,
		applier:   applier,
		queueName: queueName,
		logger:    logger,
	}
}

func (w *ThreadPersistWorker) Start(ctx context.Context) error {
	if w.cancel != nil {
		return nil
	}

	workerCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	ch, err := w.conn.Channel()
	if err != nil {
		cancel()
		return fmt.Errorf("open worker channel failed: %w", err)
	}
	if err := rabbitmq.DeclareQueue(ch, w.queueName); err != nil {
		_ = ch.Close()
		cancel()
		return err
	}
	// one in flight keeps upserts and deletes for a thread in order
	if err := ch.Qos(1, 0, false); err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("set worker qos failed: %w", err)
	}

	deliveries, err := ch.Consume(
		w.queueName,
		"",
		false,
		false,
		false,
		false,
		nil,
	)
	if err != nil {
		_ = ch.Close()
		cancel()
		return fmt.Errorf("consume queue failed: %w", err)
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ch.Close()

		for {
			select {
			case <-workerCtx.Done():
				return
			case d, ok := <-deliveries:
				if !ok {
					return
				}
				w.deliver(workerCtx, d)
			}
		}
	}()

	return nil
}

func (w *ThreadPersistWorker) deliver(ctx context.Context, d amqp.Delivery) {
	err := w.handle(ctx, d.Body)
	switch {
	case err == nil:
		_ = d.Ack(false)
	case errors.Is(err, errMalformedEvent):
		w.logger.Error("drop thread event", "err", err)
		_ = d.Nack(false, false)
	default:
		w.logger.Error("persist thread event failed", "redelivered", d.Redelivered, "err", err)
		_ = d.Nack(false, !d.Redelivered)
	}
}

func (w *ThreadPersistWorker) handle(ctx context.Context, body []byte) error {
	var ev store.Event
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("%w: %v", errMalformedEvent, err)
	}
	if ev.Thread.ID == "" || ev.Thread.UserID == "" {
		return fmt.Errorf("%w: missing thread identity", errMalformedEvent)
	}
	if ev.Kind != store.EventUpsert && ev.Kind != store.EventDelete {
		return fmt.Errorf("%w: kind %q", errMalformedEvent, ev.Kind)
	}
	return w.applier.Apply(ctx, ev)
}

func (w *ThreadPersistWorker) Close() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}
