package testutil

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/sweater-ventures/courier/app"
	"github.com/sweater-ventures/courier/config"
	"github.com/sweater-ventures/courier/db"
)

// NewUUID returns a pgtype.UUID with a new random UUID.
func NewUUID() pgtype.UUID {
	return pgtype.UUID{Bytes: uuid.Must(uuid.NewV7()), Valid: true}
}

// NewTimestamp returns a pgtype.Timestamptz set to now.
func NewTimestamp() pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: time.Now().UTC(), Valid: true}
}

// NotificationOpt is a functional option for building test Notifications.
type NotificationOpt func(*db.Notification)

// NewNotification creates a db.Notification with sensible defaults. Use
// options to override.
func NewNotification(opts ...NotificationOpt) db.Notification {
	n := db.Notification{
		ID:         NewUUID(),
		VendorName: "test-vendor",
		TargetUrl:  "https://example.com/webhook",
		HttpMethod: "POST",
		Headers:    []byte(`{"Content-Type":"application/json"}`),
		Body:       pgtype.Text{String: `{"key":"value"}`, Valid: true},
		Status:     db.StatusPending,
		RetryCount: 0,
		CreatedAt:  NewTimestamp(),
		UpdatedAt:  NewTimestamp(),
	}
	for _, opt := range opts {
		opt(&n)
	}
	return n
}

// WithStatus overrides the notification status.
func WithStatus(status string) NotificationOpt {
	return func(n *db.Notification) { n.Status = status }
}

// WithRetryCount overrides the notification retry count.
func WithRetryCount(count int32) NotificationOpt {
	return func(n *db.Notification) { n.RetryCount = count }
}

// DeliveryAttemptOpt is a functional option for building test DeliveryAttempts.
type DeliveryAttemptOpt func(*db.DeliveryAttempt)

// NewDeliveryAttempt creates a db.DeliveryAttempt with sensible defaults.
func NewDeliveryAttempt(notificationID pgtype.UUID, opts ...DeliveryAttemptOpt) db.DeliveryAttempt {
	a := db.DeliveryAttempt{
		ID:             NewUUID(),
		NotificationID: notificationID,
		AttemptedAt:    NewTimestamp(),
		ResponseCode:   200,
		ResponseBody:   pgtype.Text{String: "ok", Valid: true},
	}
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

// AppOpt is a functional option for building test Applications.
type AppOpt func(*app.Application)

// NewTestApp creates an app.Application suitable for testing.
// It uses the provided mocks and sensible config defaults.
func NewTestApp(mockDB *MockQuerier, mockBroker *MockBroker, opts ...AppOpt) *app.Application {
	calculator, err := app.NewRetryDelayCalculatorWithRand(
		time.Second, time.Hour, func() float64 { return 0.5 },
	)
	if err != nil {
		panic("testutil: failed to build retry calculator: " + err.Error())
	}
	registry, err := app.NewAdapterRegistry(app.NewGenericHTTPAdapter(5 * time.Second))
	if err != nil {
		panic("testutil: failed to build adapter registry: " + err.Error())
	}

	a := &app.Application{
		Config: config.AppConfig{
			Port:              8010,
			MaxRetryCount:     5,
			InitialRetryDelay: time.Second,
			MaxRetryDelay:     time.Hour,
			HTTPTimeout:       5 * time.Second,
			DeliveryWorkers:   2,
			Prefetch:          8,
			SweeperInterval:   30 * time.Second,
		},
		DB:       mockDB,
		Broker:   mockBroker,
		Adapters: registry,
		Retry:    calculator,
		Metrics:  app.NewMetrics(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}
