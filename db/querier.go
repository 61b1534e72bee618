package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

// Querier is the store contract the rest of the service programs against.
// Tests substitute testutil.MockQuerier.
type Querier interface {
	InsertNotification(ctx context.Context, arg InsertNotificationParams) (Notification, error)
	GetNotificationByID(ctx context.Context, id pgtype.UUID) (Notification, error)
	GetNotificationByIdempotencyKey(ctx context.Context, idempotencyKey string) (Notification, error)
	ListNotificationsByStatus(ctx context.Context, status string) ([]Notification, error)
	ListNotificationsByVendorAndStatus(ctx context.Context, arg ListNotificationsByVendorAndStatusParams) ([]Notification, error)
	CountNotificationsByStatus(ctx context.Context, status string) (int64, error)
	CountNotificationsByVendorAndStatus(ctx context.Context, arg CountNotificationsByVendorAndStatusParams) (int64, error)
	ListNotificationsDueForRetry(ctx context.Context, before pgtype.Timestamptz) ([]Notification, error)
	MarkNotificationDelivered(ctx context.Context, arg MarkNotificationDeliveredParams) (Notification, error)
	MarkNotificationFailed(ctx context.Context, arg MarkNotificationFailedParams) (Notification, error)
	ScheduleNotificationRetry(ctx context.Context, arg ScheduleNotificationRetryParams) (Notification, error)
	CancelNotification(ctx context.Context, arg CancelNotificationParams) (Notification, error)
	ResetNotificationForRetry(ctx context.Context, arg ResetNotificationForRetryParams) (Notification, error)
	ListDeliveryAttemptsForNotification(ctx context.Context, notificationID pgtype.UUID) ([]DeliveryAttempt, error)
}

var _ Querier = (*Queries)(nil)
