package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/sweater-ventures/courier/db"
)

// ErrNotCancellable is returned when a cancel request arrives after the
// notification left the pending state.
var ErrNotCancellable = errors.New("notification is not pending")

// ErrNotRetryable is returned when a manual retry targets a notification
// that is not in the failed state.
var ErrNotRetryable = errors.New("notification is not failed")

type CreateNotificationParams struct {
	VendorName     string
	TargetUrl      string
	HttpMethod     string
	Headers        map[string]string
	Body           string
	IdempotencyKey string
}

// CreateNotification persists a new notification and enqueues it for
// delivery. When the idempotency key matches an existing notification the
// stored record is returned unchanged and nothing is re-enqueued. The row is
// committed before the publish; if the publish then fails the error is
// surfaced to the caller and the record stays pending with the accepted data
// intact (enqueueing a row that does not exist would be worse).
func CreateNotification(ctx context.Context, a *Application, params CreateNotificationParams) (db.Notification, error) {
	if params.IdempotencyKey != "" {
		existing, err := a.DB.GetNotificationByIdempotencyKey(ctx, params.IdempotencyKey)
		if err == nil {
			log(ctx).Info("Idempotency key matched existing notification",
				"notification_id", UuidToString(existing.ID),
				"idempotency_key", params.IdempotencyKey,
			)
			return existing, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return db.Notification{}, err
		}
	}

	headers := []byte("{}")
	if len(params.Headers) > 0 {
		encoded, err := json.Marshal(params.Headers)
		if err != nil {
			return db.Notification{}, fmt.Errorf("encode headers: %w", err)
		}
		headers = encoded
	}

	id, err := uuid.NewV7()
	if err != nil {
		return db.Notification{}, err
	}

	now := pgtype.Timestamptz{Time: time.Now(), Valid: true}
	notification, err := a.DB.InsertNotification(ctx, db.InsertNotificationParams{
		ID:             pgtype.UUID{Bytes: id, Valid: true},
		VendorName:     params.VendorName,
		TargetUrl:      params.TargetUrl,
		HttpMethod:     params.HttpMethod,
		Headers:        headers,
		Body:           pgtype.Text{String: params.Body, Valid: params.Body != ""},
		IdempotencyKey: pgtype.Text{String: params.IdempotencyKey, Valid: params.IdempotencyKey != ""},
		Status:         db.StatusPending,
		RetryCount:     0,
		CreatedAt:      now,
		UpdatedAt:      now,
	})
	if errors.Is(err, pgx.ErrNoRows) && params.IdempotencyKey != "" {
		// A concurrent create with the same key won the insert. Its creator
		// publishes; we only hand back the stored record.
		return a.DB.GetNotificationByIdempotencyKey(ctx, params.IdempotencyKey)
	}
	if err != nil {
		return db.Notification{}, err
	}

	a.Metrics.RecordReceived(notification.VendorName)
	a.Metrics.RecordPending(notification.VendorName)

	if err := a.Broker.Publish(ctx, UuidToString(notification.ID), 0); err != nil {
		log(ctx).Error("Failed to enqueue notification",
			"notification_id", UuidToString(notification.ID),
			"error", err,
		)
		return db.Notification{}, fmt.Errorf("enqueue notification: %w", err)
	}

	log(ctx).Info("Notification accepted",
		"notification_id", UuidToString(notification.ID),
		"vendor_name", notification.VendorName,
	)
	return notification, nil
}

// AttemptRecord captures the observable outcome of one delivery attempt.
type AttemptRecord struct {
	ResponseCode int
	ResponseBody string
	ErrorMessage string
}

func newAttemptID() (pgtype.UUID, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return pgtype.UUID{}, err
	}
	return pgtype.UUID{Bytes: id, Valid: true}, nil
}

// MarkDelivered transitions a pending notification to delivered and records
// the successful attempt; the store commits both in one statement. Returns
// pgx.ErrNoRows when the notification was cancelled or finalized
// concurrently; the attempt is then not recorded.
func MarkDelivered(ctx context.Context, a *Application, notificationID pgtype.UUID, attempt AttemptRecord) error {
	attemptID, err := newAttemptID()
	if err != nil {
		return err
	}
	now := pgtype.Timestamptz{Time: time.Now(), Valid: true}
	n, err := a.DB.MarkNotificationDelivered(ctx, db.MarkNotificationDeliveredParams{
		ID:           notificationID,
		UpdatedAt:    now,
		AttemptID:    attemptID,
		AttemptedAt:  now,
		ResponseCode: int32(attempt.ResponseCode),
		ResponseBody: pgtype.Text{String: attempt.ResponseBody, Valid: attempt.ResponseBody != ""},
		ErrorMessage: pgtype.Text{String: attempt.ErrorMessage, Valid: attempt.ErrorMessage != ""},
	})
	if err != nil {
		return err
	}
	a.Metrics.RecordDelivered(n.VendorName)
	return nil
}

// MarkFailed transitions a pending notification to failed and records the
// final attempt atomically with it.
func MarkFailed(ctx context.Context, a *Application, notificationID pgtype.UUID, attempt AttemptRecord) error {
	attemptID, err := newAttemptID()
	if err != nil {
		return err
	}
	now := pgtype.Timestamptz{Time: time.Now(), Valid: true}
	n, err := a.DB.MarkNotificationFailed(ctx, db.MarkNotificationFailedParams{
		ID:           notificationID,
		UpdatedAt:    now,
		AttemptID:    attemptID,
		AttemptedAt:  now,
		ResponseCode: int32(attempt.ResponseCode),
		ResponseBody: pgtype.Text{String: attempt.ResponseBody, Valid: attempt.ResponseBody != ""},
		ErrorMessage: pgtype.Text{String: attempt.ErrorMessage, Valid: attempt.ErrorMessage != ""},
	})
	if err != nil {
		return err
	}
	a.Metrics.RecordFailed(n.VendorName)
	return nil
}

// ScheduleRetry bumps the retry count, stamps next_retry_at, records the
// failed attempt in the same statement, and enqueues a delayed redelivery.
// The schedule is persisted before the publish so the sweeper can recover
// the retry if the broker is down.
func ScheduleRetry(ctx context.Context, a *Application, notificationID pgtype.UUID, attempt AttemptRecord, delay time.Duration) error {
	attemptID, err := newAttemptID()
	if err != nil {
		return err
	}
	now := time.Now()
	n, err := a.DB.ScheduleNotificationRetry(ctx, db.ScheduleNotificationRetryParams{
		ID:           notificationID,
		NextRetryAt:  pgtype.Timestamptz{Time: now.Add(delay), Valid: true},
		UpdatedAt:    pgtype.Timestamptz{Time: now, Valid: true},
		AttemptID:    attemptID,
		AttemptedAt:  pgtype.Timestamptz{Time: now, Valid: true},
		ResponseCode: int32(attempt.ResponseCode),
		ResponseBody: pgtype.Text{String: attempt.ResponseBody, Valid: attempt.ResponseBody != ""},
		ErrorMessage: pgtype.Text{String: attempt.ErrorMessage, Valid: attempt.ErrorMessage != ""},
	})
	if err != nil {
		return err
	}
	a.Metrics.RecordRetry(n.VendorName)

	if err := a.Broker.PublishWithDelay(ctx, UuidToString(notificationID), int(n.RetryCount), delay); err != nil {
		log(ctx).Error("Failed to enqueue delayed retry, sweeper will recover it",
			"notification_id", UuidToString(notificationID),
			"error", err,
		)
	}
	return nil
}

// CancelPendingNotification transitions pending -> cancelled. Queued work
// items for the notification are ignored by workers once the status changes.
func CancelPendingNotification(ctx context.Context, a *Application, notificationID pgtype.UUID) (db.Notification, error) {
	n, err := a.DB.CancelNotification(ctx, db.CancelNotificationParams{
		ID:        notificationID,
		UpdatedAt: pgtype.Timestamptz{Time: time.Now(), Valid: true},
	})
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := a.DB.GetNotificationByID(ctx, notificationID); getErr != nil {
			return db.Notification{}, getErr
		}
		return db.Notification{}, ErrNotCancellable
	}
	if err != nil {
		return db.Notification{}, err
	}
	log(ctx).Info("Notification cancelled", "notification_id", UuidToString(notificationID))
	return n, nil
}

// ResetForRetry transitions failed -> pending with a fresh retry budget and
// enqueues an immediate redelivery.
func ResetForRetry(ctx context.Context, a *Application, notificationID pgtype.UUID) (db.Notification, error) {
	n, err := a.DB.ResetNotificationForRetry(ctx, db.ResetNotificationForRetryParams{
		ID:        notificationID,
		UpdatedAt: pgtype.Timestamptz{Time: time.Now(), Valid: true},
	})
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := a.DB.GetNotificationByID(ctx, notificationID); getErr != nil {
			return db.Notification{}, getErr
		}
		return db.Notification{}, ErrNotRetryable
	}
	if err != nil {
		return db.Notification{}, err
	}

	a.Metrics.RecordPending(n.VendorName)
	if err := a.Broker.Publish(ctx, UuidToString(notificationID), 0); err != nil {
		return db.Notification{}, fmt.Errorf("enqueue notification: %w", err)
	}

	log(ctx).Info("Notification reset for retry", "notification_id", UuidToString(notificationID))
	return n, nil
}

// StatusCounts is the per-status breakdown served by the stats endpoint.
type StatusCounts struct {
	Pending   int64 `json:"pending"`
	Delivered int64 `json:"delivered"`
	Failed    int64 `json:"failed"`
	Cancelled int64 `json:"cancelled"`
}

func CountNotifications(ctx context.Context, a *Application, vendorName string) (StatusCounts, error) {
	var counts StatusCounts
	for _, entry := range []struct {
		status string
		out    *int64
	}{
		{db.StatusPending, &counts.Pending},
		{db.StatusDelivered, &counts.Delivered},
		{db.StatusFailed, &counts.Failed},
		{db.StatusCancelled, &counts.Cancelled},
	} {
		var (
			count int64
			err   error
		)
		if vendorName == "" {
			count, err = a.DB.CountNotificationsByStatus(ctx, entry.status)
		} else {
			count, err = a.DB.CountNotificationsByVendorAndStatus(ctx, db.CountNotificationsByVendorAndStatusParams{
				VendorName: vendorName,
				Status:     entry.status,
			})
		}
		if err != nil {
			return StatusCounts{}, err
		}
		*entry.out = count
	}
	return counts, nil
}

func ListFailedNotifications(ctx context.Context, a *Application, vendorName string) ([]db.Notification, error) {
	if vendorName == "" {
		return a.DB.ListNotificationsByStatus(ctx, db.StatusFailed)
	}
	return a.DB.ListNotificationsByVendorAndStatus(ctx, db.ListNotificationsByVendorAndStatusParams{
		VendorName: vendorName,
		Status:     db.StatusFailed,
	})
}
