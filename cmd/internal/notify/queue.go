package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
)

const defaultQueueName = "tuma.notifications"

// QueueDispatcher publishes tasks as persistent JSON messages on a
// durable RabbitMQ queue. A separate sender consumes the queue and
// performs the channel sends.
type QueueDispatcher struct {
	log   *slog.Logger
	queue string

	mu   sync.Mutex
	conn *amqp.Connection
	ch   *amqp.Channel
}

// QueueOption configures a QueueDispatcher.
type QueueOption func(*QueueDispatcher)

// WithQueueName overrides the queue the dispatcher publishes to.
func WithQueueName(name string) QueueOption {
	return func(d *QueueDispatcher) {
		if name != "" {
			d.queue = name
		}
	}
}

// NewQueueDispatcher dials the broker and declares the task queue.
func NewQueueDispatcher(log *slog.Logger, amqpURL string, opts ...QueueOption) (*QueueDispatcher, error) {
	d := &QueueDispatcher{log: log, queue: defaultQueueName}
	for _, opt := range opts {
		opt(d)
	}

	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}

	// Durable queue so tasks survive a broker restart.
	if _, err := ch.QueueDeclare(d.queue, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, fmt.Errorf("declare queue %q: %w", d.queue, err)
	}

	d.conn = conn
	d.ch = ch
	return d, nil
}

// Enqueue publishes one task. Persistent delivery mode keeps the task on
// disk until a consumer acks it.
func (d *QueueDispatcher) Enqueue(ctx context.Context, task Task) error {
	if err := task.Validate(); err != nil {
		return err
	}

	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.ch == nil {
		return fmt.Errorf("dispatcher closed")
	}

	err = d.ch.PublishWithContext(ctx, "", d.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    task.ID,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish task %s: %w", task.ID, err)
	}

	d.log.Debug("notify.enqueue", "task_id", task.ID, "kind", task.Kind, "user_id", task.UserID)
	return nil
}

// Close releases the channel and connection. Safe to call more than once.
func (d *QueueDispatcher) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	var firstErr error
	if d.ch != nil {
		if err := d.ch.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.ch = nil
	}
	if d.conn != nil {
		if err := d.conn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		d.conn = nil
	}
	return firstErr
}
