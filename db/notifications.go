package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

const notificationColumns = `id, vendor_name, target_url, http_method, headers, body,
	idempotency_key, status, retry_count, created_at, updated_at, next_retry_at`

func scanNotification(row pgx.Row) (Notification, error) {
	var n Notification
	err := row.Scan(
		&n.ID,
		&n.VendorName,
		&n.TargetUrl,
		&n.HttpMethod,
		&n.Headers,
		&n.Body,
		&n.IdempotencyKey,
		&n.Status,
		&n.RetryCount,
		&n.CreatedAt,
		&n.UpdatedAt,
		&n.NextRetryAt,
	)
	return n, err
}

func collectNotifications(rows pgx.Rows) ([]Notification, error) {
	defer rows.Close()
	var items []Notification
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, n)
	}
	return items, rows.Err()
}

type InsertNotificationParams struct {
	ID             pgtype.UUID
	VendorName     string
	TargetUrl      string
	HttpMethod     string
	Headers        []byte
	Body           pgtype.Text
	IdempotencyKey pgtype.Text
	Status         string
	RetryCount     int32
	CreatedAt      pgtype.Timestamptz
	UpdatedAt      pgtype.Timestamptz
}

const insertNotification = `
INSERT INTO notifications (
	id, vendor_name, target_url, http_method, headers, body,
	idempotency_key, status, retry_count, created_at, updated_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (idempotency_key) WHERE idempotency_key IS NOT NULL DO NOTHING
RETURNING ` + notificationColumns

// InsertNotification persists a new notification. When the idempotency key
// collides with an existing row the insert is a no-op and pgx.ErrNoRows is
// returned; the caller resolves the existing row via
// GetNotificationByIdempotencyKey.
func (q *Queries) InsertNotification(ctx context.Context, arg InsertNotificationParams) (Notification, error) {
	return scanNotification(q.db.QueryRow(ctx, insertNotification,
		arg.ID,
		arg.VendorName,
		arg.TargetUrl,
		arg.HttpMethod,
		arg.Headers,
		arg.Body,
		arg.IdempotencyKey,
		arg.Status,
		arg.RetryCount,
		arg.CreatedAt,
		arg.UpdatedAt,
	))
}

const getNotificationByID = `
SELECT ` + notificationColumns + ` FROM notifications WHERE id = $1`

func (q *Queries) GetNotificationByID(ctx context.Context, id pgtype.UUID) (Notification, error) {
	return scanNotification(q.db.QueryRow(ctx, getNotificationByID, id))
}

const getNotificationByIdempotencyKey = `
SELECT ` + notificationColumns + ` FROM notifications WHERE idempotency_key = $1`

func (q *Queries) GetNotificationByIdempotencyKey(ctx context.Context, idempotencyKey string) (Notification, error) {
	return scanNotification(q.db.QueryRow(ctx, getNotificationByIdempotencyKey, idempotencyKey))
}

const listNotificationsByStatus = `
SELECT ` + notificationColumns + ` FROM notifications
WHERE status = $1
ORDER BY created_at`

func (q *Queries) ListNotificationsByStatus(ctx context.Context, status string) ([]Notification, error) {
	rows, err := q.db.Query(ctx, listNotificationsByStatus, status)
	if err != nil {
		return nil, err
	}
	return collectNotifications(rows)
}

type ListNotificationsByVendorAndStatusParams struct {
	VendorName string
	Status     string
}

const listNotificationsByVendorAndStatus = `
SELECT ` + notificationColumns + ` FROM notifications
WHERE status = $1 AND vendor_name = $2
ORDER BY created_at`

func (q *Queries) ListNotificationsByVendorAndStatus(ctx context.Context, arg ListNotificationsByVendorAndStatusParams) ([]Notification, error) {
	rows, err := q.db.Query(ctx, listNotificationsByVendorAndStatus, arg.Status, arg.VendorName)
	if err != nil {
		return nil, err
	}
	return collectNotifications(rows)
}

const countNotificationsByStatus = `
SELECT count(*) FROM notifications WHERE status = $1`

func (q *Queries) CountNotificationsByStatus(ctx context.Context, status string) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countNotificationsByStatus, status).Scan(&count)
	return count, err
}

type CountNotificationsByVendorAndStatusParams struct {
	VendorName string
	Status     string
}

const countNotificationsByVendorAndStatus = `
SELECT count(*) FROM notifications WHERE status = $1 AND vendor_name = $2`

func (q *Queries) CountNotificationsByVendorAndStatus(ctx context.Context, arg CountNotificationsByVendorAndStatusParams) (int64, error) {
	var count int64
	err := q.db.QueryRow(ctx, countNotificationsByVendorAndStatus, arg.Status, arg.VendorName).Scan(&count)
	return count, err
}

const listNotificationsDueForRetry = `
SELECT ` + notificationColumns + ` FROM notifications
WHERE status = 'pending' AND next_retry_at IS NOT NULL AND next_retry_at <= $1
ORDER BY next_retry_at`

// ListNotificationsDueForRetry returns pending notifications whose scheduled
// retry time is at or before the cutoff. Index-backed by
// notifications_status_next_retry_at_idx.
func (q *Queries) ListNotificationsDueForRetry(ctx context.Context, before pgtype.Timestamptz) ([]Notification, error) {
	rows, err := q.db.Query(ctx, listNotificationsDueForRetry, before)
	if err != nil {
		return nil, err
	}
	return collectNotifications(rows)
}

type MarkNotificationDeliveredParams struct {
	ID           pgtype.UUID
	UpdatedAt    pgtype.Timestamptz
	AttemptID    pgtype.UUID
	AttemptedAt  pgtype.Timestamptz
	ResponseCode int32
	ResponseBody pgtype.Text
	ErrorMessage pgtype.Text
}

const markNotificationDelivered = `
WITH updated AS (
	UPDATE notifications
	SET status = 'delivered', next_retry_at = NULL, updated_at = $2
	WHERE id = $1 AND status = 'pending'
	RETURNING ` + notificationColumns + `
), attempt AS (
	INSERT INTO delivery_attempts (id, notification_id, attempted_at, response_code, response_body, error_message)
	SELECT $3, updated.id, $4, $5, $6, $7 FROM updated
)
SELECT ` + notificationColumns + ` FROM updated`

// MarkNotificationDelivered transitions pending -> delivered and records the
// attempt in the same statement, so the transition and its audit row commit
// atomically. Returns pgx.ErrNoRows when the row is missing or no longer
// pending (a concurrent cancel won the race); no attempt is recorded then.
func (q *Queries) MarkNotificationDelivered(ctx context.Context, arg MarkNotificationDeliveredParams) (Notification, error) {
	return scanNotification(q.db.QueryRow(ctx, markNotificationDelivered,
		arg.ID,
		arg.UpdatedAt,
		arg.AttemptID,
		arg.AttemptedAt,
		arg.ResponseCode,
		arg.ResponseBody,
		arg.ErrorMessage,
	))
}

type MarkNotificationFailedParams struct {
	ID           pgtype.UUID
	UpdatedAt    pgtype.Timestamptz
	AttemptID    pgtype.UUID
	AttemptedAt  pgtype.Timestamptz
	ResponseCode int32
	ResponseBody pgtype.Text
	ErrorMessage pgtype.Text
}

const markNotificationFailed = `
WITH updated AS (
	UPDATE notifications
	SET status = 'failed', next_retry_at = NULL, updated_at = $2
	WHERE id = $1 AND status = 'pending'
	RETURNING ` + notificationColumns + `
), attempt AS (
	INSERT INTO delivery_attempts (id, notification_id, attempted_at, response_code, response_body, error_message)
	SELECT $3, updated.id, $4, $5, $6, $7 FROM updated
)
SELECT ` + notificationColumns + ` FROM updated`

func (q *Queries) MarkNotificationFailed(ctx context.Context, arg MarkNotificationFailedParams) (Notification, error) {
	return scanNotification(q.db.QueryRow(ctx, markNotificationFailed,
		arg.ID,
		arg.UpdatedAt,
		arg.AttemptID,
		arg.AttemptedAt,
		arg.ResponseCode,
		arg.ResponseBody,
		arg.ErrorMessage,
	))
}

type ScheduleNotificationRetryParams struct {
	ID           pgtype.UUID
	NextRetryAt  pgtype.Timestamptz
	UpdatedAt    pgtype.Timestamptz
	AttemptID    pgtype.UUID
	AttemptedAt  pgtype.Timestamptz
	ResponseCode int32
	ResponseBody pgtype.Text
	ErrorMessage pgtype.Text
}

const scheduleNotificationRetry = `
WITH updated AS (
	UPDATE notifications
	SET retry_count = retry_count + 1, next_retry_at = $2, updated_at = $3
	WHERE id = $1 AND status = 'pending'
	RETURNING ` + notificationColumns + `
), attempt AS (
	INSERT INTO delivery_attempts (id, notification_id, attempted_at, response_code, response_body, error_message)
	SELECT $4, updated.id, $5, $6, $7, $8 FROM updated
)
SELECT ` + notificationColumns + ` FROM updated`

func (q *Queries) ScheduleNotificationRetry(ctx context.Context, arg ScheduleNotificationRetryParams) (Notification, error) {
	return scanNotification(q.db.QueryRow(ctx, scheduleNotificationRetry,
		arg.ID,
		arg.NextRetryAt,
		arg.UpdatedAt,
		arg.AttemptID,
		arg.AttemptedAt,
		arg.ResponseCode,
		arg.ResponseBody,
		arg.ErrorMessage,
	))
}

type CancelNotificationParams struct {
	ID        pgtype.UUID
	UpdatedAt pgtype.Timestamptz
}

const cancelNotification = `
UPDATE notifications
SET status = 'cancelled', next_retry_at = NULL, updated_at = $2
WHERE id = $1 AND status = 'pending'
RETURNING ` + notificationColumns

func (q *Queries) CancelNotification(ctx context.Context, arg CancelNotificationParams) (Notification, error) {
	return scanNotification(q.db.QueryRow(ctx, cancelNotification, arg.ID, arg.UpdatedAt))
}

type ResetNotificationForRetryParams struct {
	ID        pgtype.UUID
	UpdatedAt pgtype.Timestamptz
}

const resetNotificationForRetry = `
UPDATE notifications
SET status = 'pending', retry_count = 0, next_retry_at = NULL, updated_at = $2
WHERE id = $1 AND status = 'failed'
RETURNING ` + notificationColumns

// ResetNotificationForRetry is the operator escape hatch: failed -> pending
// with the retry budget restored. Valid only from failed.
func (q *Queries) ResetNotificationForRetry(ctx context.Context, arg ResetNotificationForRetryParams) (Notification, error) {
	return scanNotification(q.db.QueryRow(ctx, resetNotificationForRetry, arg.ID, arg.UpdatedAt))
}
