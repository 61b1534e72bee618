package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const listDeliveryAttemptsForNotification = `
SELECT id, notification_id, attempted_at, response_code, response_body, error_message
FROM delivery_attempts
WHERE notification_id = $1
ORDER BY attempted_at, id`

// ListDeliveryAttemptsForNotification returns attempts oldest first. The id
// tiebreak keeps same-millisecond attempts ordered (ids are UUIDv7).
func (q *Queries) ListDeliveryAttemptsForNotification(ctx context.Context, notificationID pgtype.UUID) ([]DeliveryAttempt, error) {
	rows, err := q.db.Query(ctx, listDeliveryAttemptsForNotification, notificationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []DeliveryAttempt
	for rows.Next() {
		var a DeliveryAttempt
		if err := rows.Scan(
			&a.ID,
			&a.NotificationID,
			&a.AttemptedAt,
			&a.ResponseCode,
			&a.ResponseBody,
			&a.ErrorMessage,
		); err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
