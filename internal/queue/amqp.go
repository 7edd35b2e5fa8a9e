package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"

	"slackstream/internal/domain"
)

const handlerTimeout = 5 * time.Minute

// AMQPConfig configures the RabbitMQ backend.
type AMQPConfig struct {
	URL      string
	Queue    string
	Prefetch int
	Logger   *slog.Logger
}

// AMQP publishes envelopes to a durable RabbitMQ queue and consumes them in
// a worker process.
type AMQP struct {
	conn     *amqp091.Connection
	queue    string
	prefetch int
	logger   *slog.Logger
}

func NewAMQP(cfg AMQPConfig) (*AMQP, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Prefetch < 1 {
		cfg.Prefetch = 1
	}
	conn, err := amqp091.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()
	if _, err := ch.QueueDeclare(cfg.Queue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp declare %s: %w", cfg.Queue, err)
	}

	return &AMQP{
		conn:     conn,
		queue:    cfg.Queue,
		prefetch: cfg.Prefetch,
		logger:   cfg.Logger.With("component", "amqp", "queue", cfg.Queue),
	}, nil
}

// Ordered is false: a classic queue with several consumers gives no ordering
// guarantee worth relying on.
func (q *AMQP) Ordered() bool { return false }

func (q *AMQP) Enqueue(ctx context.Context, msg domain.QueuedMessage) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()

	err = ch.PublishWithContext(ctx, "", q.queue, false, false, publishing(msg))
	if err != nil {
		return fmt.Errorf("amqp publish: %w", err)
	}
	q.logger.Debug("published")
	return nil
}

func publishing(msg domain.QueuedMessage) amqp091.Publishing {
	id := msg.GroupID
	if id == "" {
		id = uuid.NewString()
	}
	return amqp091.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp091.Persistent,
		MessageId:    id,
		Timestamp:    time.Now(),
		Body:         msg.Body,
	}
}

// Consume delivers queued bodies to handler until ctx is cancelled or the
// broker closes the channel. Deliveries are acked on success and requeued on
// failure.
func (q *AMQP) Consume(ctx context.Context, handler domain.RecordHandler) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return fmt.Errorf("amqp channel: %w", err)
	}
	defer ch.Close()

	if err := ch.Qos(q.prefetch, 0, false); err != nil {
		return fmt.Errorf("amqp qos: %w", err)
	}
	deliveries, err := ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("amqp consume: %w", err)
	}
	q.logger.Info("consumer started", "prefetch", q.prefetch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("amqp delivery channel closed")
			}
			q.handle(ctx, d, handler)
		}
	}
}

type acknowledger interface {
	Ack(multiple bool) error
	Nack(multiple, requeue bool) error
}

func (q *AMQP) handle(ctx context.Context, d amqp091.Delivery, handler domain.RecordHandler) {
	hctx, cancel := context.WithTimeout(ctx, handlerTimeout)
	defer cancel()
	settle(q.logger, d.MessageId, &d, handler(hctx, d.Body))
}

func settle(logger *slog.Logger, id string, ack acknowledger, err error) {
	if err != nil {
		logger.Error("handler error, requeueing", "message_id", id, "err", err)
		_ = ack.Nack(false, true)
		return
	}
	_ = ack.Ack(false)
}

func (q *AMQP) Close() error {
	return q.conn.Close()
}
