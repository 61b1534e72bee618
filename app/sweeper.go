package app

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

// StartSweeper runs a periodic pass that re-enqueues pending notifications
// whose next_retry_at has passed, recovering retries whose delayed publish
// was lost to a broker outage. One pass runs immediately on startup to pick
// up work stranded by a previous shutdown. Returns a stop function.
func StartSweeper(a *Application, interval time.Duration) func() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)
		sweep(ctx, a)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sweep(ctx, a)
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

func sweep(ctx context.Context, a *Application) {
	count, err := SweepOnce(ctx, a)
	if err != nil {
		log(ctx).Error("Sweeper pass failed", "error", err)
		return
	}
	if count > 0 {
		log(ctx).Info("Sweeper re-enqueued overdue notifications", "count", count)
	}
}

// SweepOnce re-enqueues every pending notification that is due. A
// notification whose delayed message also arrives is processed twice at
// most; the second attempt sees a non-pending status or a future
// next_retry_at and settles harmlessly.
func SweepOnce(ctx context.Context, a *Application) (int, error) {
	due, err := a.DB.ListNotificationsDueForRetry(ctx, pgtype.Timestamptz{Time: time.Now(), Valid: true})
	if err != nil {
		return 0, err
	}

	published := 0
	for _, n := range due {
		if err := a.Broker.Publish(ctx, UuidToString(n.ID), int(n.RetryCount)); err != nil {
			log(ctx).Error("Sweeper failed to re-enqueue notification",
				"notification_id", UuidToString(n.ID),
				"error", err,
			)
			continue
		}
		published++
	}
	return published, nil
}
