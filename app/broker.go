package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Queue topology. The retry queue has no consumers: messages sit there until
// their per-message TTL expires, then dead-letter back into the main queue.
// That gives delayed delivery without the delayed-exchange plugin. Messages
// rejected off the main queue dead-letter into the DLQ for inspection.
const (
	MainQueue  = "courier.notifications"
	RetryQueue = "courier.notifications.retry"
	DeadQueue  = "courier.notifications.dlq"

	retryCountHeader = "x-retry-count"
)

// WorkItem is the queue message: which notification to process. RetryCount
// travels along for log traceability only; the stored notification drives
// every retry decision.
type WorkItem struct {
	NotificationID string `json:"notification_id"`
	RetryCount     int    `json:"retry_count"`
}

// Broker is the publish surface the service and worker use. Tests
// substitute testutil.MockBroker.
type Broker interface {
	Publish(ctx context.Context, notificationID string, retryCount int) error
	PublishWithDelay(ctx context.Context, notificationID string, retryCount int, delay time.Duration) error
}

// RabbitBroker is the amqp091 implementation of Broker plus the consume side.
type RabbitBroker struct {
	conn *amqp.Connection
	ch   *amqp.Channel
}

var _ Broker = (*RabbitBroker)(nil)

// ConnectBroker dials RabbitMQ and declares the durable queue topology.
// Declarations are idempotent; every instance runs them at startup.
func ConnectBroker(url string, prefetch int) (*RabbitBroker, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("amqp dial: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("amqp channel: %w", err)
	}

	if _, err := ch.QueueDeclare(DeadQueue, true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare %s: %w", DeadQueue, err)
	}

	if _, err := ch.QueueDeclare(RetryQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": MainQueue,
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare %s: %w", RetryQueue, err)
	}

	if _, err := ch.QueueDeclare(MainQueue, true, false, false, false, amqp.Table{
		"x-dead-letter-exchange":    "",
		"x-dead-letter-routing-key": DeadQueue,
	}); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare %s: %w", MainQueue, err)
	}

	if err := ch.Qos(prefetch, 0, false); err != nil {
		conn.Close()
		return nil, fmt.Errorf("qos: %w", err)
	}

	slog.Info("Broker connected",
		slog.String("queue", MainQueue),
		slog.Int("prefetch", prefetch),
	)
	return &RabbitBroker{conn: conn, ch: ch}, nil
}

// Publish enqueues a work item for immediate processing.
func (b *RabbitBroker) Publish(ctx context.Context, notificationID string, retryCount int) error {
	return b.publishTo(ctx, MainQueue, notificationID, retryCount, "")
}

// PublishWithDelay enqueues a work item that becomes visible to workers
// after the given delay, via the TTL retry queue.
func (b *RabbitBroker) PublishWithDelay(ctx context.Context, notificationID string, retryCount int, delay time.Duration) error {
	millis := delay.Milliseconds()
	if millis < 1 {
		millis = 1
	}
	return b.publishTo(ctx, RetryQueue, notificationID, retryCount, strconv.FormatInt(millis, 10))
}

func (b *RabbitBroker) publishTo(ctx context.Context, queue, notificationID string, retryCount int, expiration string) error {
	body, err := json.Marshal(WorkItem{NotificationID: notificationID, RetryCount: retryCount})
	if err != nil {
		return fmt.Errorf("marshal work item: %w", err)
	}

	err = b.ch.PublishWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		Body:         body,
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Expiration:   expiration,
		Headers:      amqp.Table{retryCountHeader: int32(retryCount)},
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	return nil
}

// Consume registers this instance as a consumer of the main queue.
// Deliveries must be acked or nacked explicitly by the worker.
func (b *RabbitBroker) Consume() (<-chan amqp.Delivery, error) {
	deliveries, err := b.ch.Consume(MainQueue, "", false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume %s: %w", MainQueue, err)
	}
	return deliveries, nil
}

func (b *RabbitBroker) Close() {
	if b.ch != nil {
		b.ch.Close()
	}
	if b.conn != nil {
		b.conn.Close()
	}
}
