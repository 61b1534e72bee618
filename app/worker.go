package app

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sweater-ventures/courier/db"
)

// maxStoredResponseBody bounds what a delivery attempt persists; vendor
// responses beyond it are cut and marked.
const maxStoredResponseBody = 1000

const truncationMarker = "... [truncated]"

// StartWorkers launches the delivery worker pool over the broker's delivery
// stream and returns a stop function that cancels in-flight work and waits
// for the pool to drain.
func StartWorkers(a *Application, deliveries <-chan amqp.Delivery) func() {
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup

	for i := 0; i < a.Config.DeliveryWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range deliveries {
				handleDelivery(ctx, a, d)
			}
		}()
	}

	log(ctx).Info("Delivery workers started", "workers", a.Config.DeliveryWorkers)
	return func() {
		cancel()
		wg.Wait()
	}
}

// handleDelivery decodes one queue message and settles it: malformed
// messages are rejected to the DLQ, transient processing errors are requeued,
// everything else is acked.
func handleDelivery(ctx context.Context, a *Application, d amqp.Delivery) {
	var item WorkItem
	if err := json.Unmarshal(d.Body, &item); err != nil {
		log(ctx).Error("Rejecting malformed work item", "error", err)
		d.Reject(false)
		return
	}

	if err := processWorkItem(ctx, a, item); err != nil {
		log(ctx).Error("Work item failed, requeueing",
			"notification_id", item.NotificationID,
			"error", err,
		)
		d.Nack(false, true)
		return
	}
	d.Ack(false)
}

// processWorkItem performs one delivery attempt for the referenced
// notification. A nil return means the message is settled for good; an error
// means the item should be redelivered (store unavailable and similar).
func processWorkItem(ctx context.Context, a *Application, item WorkItem) error {
	parsed, err := uuid.Parse(item.NotificationID)
	if err != nil {
		log(ctx).Error("Dropping work item with invalid notification id",
			"notification_id", item.NotificationID,
		)
		return nil
	}
	id := pgtype.UUID{Bytes: parsed, Valid: true}

	notification, err := a.DB.GetNotificationByID(ctx, id)
	if errors.Is(err, pgx.ErrNoRows) {
		log(ctx).Warn("Dropping work item for unknown notification",
			"notification_id", item.NotificationID,
		)
		return nil
	}
	if err != nil {
		return err
	}

	// Cancelled or already-finalized notifications still have queued work
	// items; the store is authoritative, so they are dropped here.
	if notification.Status != db.StatusPending {
		log(ctx).Info("Skipping notification no longer pending",
			"notification_id", item.NotificationID,
			"status", notification.Status,
		)
		return nil
	}

	adapter := a.Adapters.GetAdapter(notification.VendorName)
	if adapter == nil {
		err := MarkFailed(ctx, a, id, AttemptRecord{
			ErrorMessage: "no adapter registered for vendor " + notification.VendorName,
		})
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}

	start := time.Now()
	result := adapter.Deliver(ctx, notification)
	a.Metrics.ObserveDeliveryDuration(notification.VendorName, time.Since(start))

	return handleDeliveryResult(ctx, a, notification, adapter, result)
}

func handleDeliveryResult(ctx context.Context, a *Application, notification db.Notification, adapter VendorAdapter, result DeliveryResult) error {
	attempt := AttemptRecord{
		ResponseCode: result.StatusCode,
		ResponseBody: truncateResponseBody(result.ResponseBody),
		ErrorMessage: result.ErrorMessage,
	}
	id := notification.ID

	if result.Success {
		err := MarkDelivered(ctx, a, id, attempt)
		if errors.Is(err, pgx.ErrNoRows) {
			// Lost the race to a concurrent cancel; the outcome stands.
			return nil
		}
		return err
	}

	retryable := adapter.IsRetryable(result.StatusCode, result.ResponseBody)
	exhausted := int(notification.RetryCount) >= a.Config.MaxRetryCount

	if !retryable || exhausted {
		if exhausted && retryable {
			log(ctx).Warn("Retry budget exhausted",
				"notification_id", UuidToString(id),
				"retry_count", notification.RetryCount,
			)
		}
		err := MarkFailed(ctx, a, id, attempt)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}

	delay, err := a.Retry.CalculateDelay(int(notification.RetryCount))
	if err != nil {
		return err
	}

	log(ctx).Info("Scheduling delivery retry",
		"notification_id", UuidToString(id),
		"retry_count", notification.RetryCount+1,
		"delay", delay,
	)
	err = ScheduleRetry(ctx, a, id, attempt, delay)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	return err
}

// truncateResponseBody caps the stored body at maxStoredResponseBody
// characters, cutting on rune boundaries. Vendors can return anything, so
// invalid UTF-8 is replaced first; a raw byte slice would be rejected by the
// text column.
func truncateResponseBody(body string) string {
	if !utf8.ValidString(body) {
		body = strings.ToValidUTF8(body, "�")
	}
	if utf8.RuneCountInString(body) <= maxStoredResponseBody {
		return body
	}
	runes := []rune(body)
	return string(runes[:maxStoredResponseBody]) + truncationMarker
}
