package db

import (
	"github.com/jackc/pgx/v5/pgtype"
)

// Notification delivery statuses. Delivered, failed, and cancelled are
// terminal; the only way out of a terminal state is an operator reset
// from failed back to pending.
const (
	StatusPending   = "pending"
	StatusDelivered = "delivered"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Notification is the system of record for one outbound webhook request.
type Notification struct {
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
	NextRetryAt    pgtype.Timestamptz
}

// DeliveryAttempt is one immutable audit row for a single adapter call.
// ResponseCode 0 means the request never produced an HTTP response.
type DeliveryAttempt struct {
	ID             pgtype.UUID
	NotificationID pgtype.UUID
	AttemptedAt    pgtype.Timestamptz
	ResponseCode   int32
	ResponseBody   pgtype.Text
	ErrorMessage   pgtype.Text
}
