package app

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/mock"
	"github.com/sweater-ventures/courier/config"
	"github.com/sweater-ventures/courier/db"
)

// --- local test helpers (avoid importing testutil to prevent import cycle) ---

// mockQuerier is a testify mock implementation of db.Querier for app tests.
type mockQuerier struct {
	mock.Mock
}

var _ db.Querier = (*mockQuerier)(nil)

func (m *mockQuerier) InsertNotification(ctx context.Context, arg db.InsertNotificationParams) (db.Notification, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.Notification), args.Error(1)
}
func (m *mockQuerier) GetNotificationByID(ctx context.Context, id pgtype.UUID) (db.Notification, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(db.Notification), args.Error(1)
}
func (m *mockQuerier) GetNotificationByIdempotencyKey(ctx context.Context, idempotencyKey string) (db.Notification, error) {
	args := m.Called(ctx, idempotencyKey)
	return args.Get(0).(db.Notification), args.Error(1)
}
func (m *mockQuerier) ListNotificationsByStatus(ctx context.Context, status string) ([]db.Notification, error) {
	args := m.Called(ctx, status)
	return args.Get(0).([]db.Notification), args.Error(1)
}
func (m *mockQuerier) ListNotificationsByVendorAndStatus(ctx context.Context, arg db.ListNotificationsByVendorAndStatusParams) ([]db.Notification, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).([]db.Notification), args.Error(1)
}
func (m *mockQuerier) CountNotificationsByStatus(ctx context.Context, status string) (int64, error) {
	args := m.Called(ctx, status)
	return args.Get(0).(int64), args.Error(1)
}
func (m *mockQuerier) CountNotificationsByVendorAndStatus(ctx context.Context, arg db.CountNotificationsByVendorAndStatusParams) (int64, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(int64), args.Error(1)
}
func (m *mockQuerier) ListNotificationsDueForRetry(ctx context.Context, before pgtype.Timestamptz) ([]db.Notification, error) {
	args := m.Called(ctx, before)
	return args.Get(0).([]db.Notification), args.Error(1)
}
func (m *mockQuerier) MarkNotificationDelivered(ctx context.Context, arg db.MarkNotificationDeliveredParams) (db.Notification, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.Notification), args.Error(1)
}
func (m *mockQuerier) MarkNotificationFailed(ctx context.Context, arg db.MarkNotificationFailedParams) (db.Notification, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.Notification), args.Error(1)
}
func (m *mockQuerier) ScheduleNotificationRetry(ctx context.Context, arg db.ScheduleNotificationRetryParams) (db.Notification, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.Notification), args.Error(1)
}
func (m *mockQuerier) CancelNotification(ctx context.Context, arg db.CancelNotificationParams) (db.Notification, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.Notification), args.Error(1)
}
func (m *mockQuerier) ResetNotificationForRetry(ctx context.Context, arg db.ResetNotificationForRetryParams) (db.Notification, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.Notification), args.Error(1)
}
func (m *mockQuerier) ListDeliveryAttemptsForNotification(ctx context.Context, notificationID pgtype.UUID) ([]db.DeliveryAttempt, error) {
	args := m.Called(ctx, notificationID)
	return args.Get(0).([]db.DeliveryAttempt), args.Error(1)
}

// mockBroker is a testify mock implementation of Broker for app tests.
type mockBroker struct {
	mock.Mock
}

var _ Broker = (*mockBroker)(nil)

func (m *mockBroker) Publish(ctx context.Context, notificationID string, retryCount int) error {
	return m.Called(ctx, notificationID, retryCount).Error(0)
}
func (m *mockBroker) PublishWithDelay(ctx context.Context, notificationID string, retryCount int, delay time.Duration) error {
	return m.Called(ctx, notificationID, retryCount, delay).Error(0)
}

func newTestUUID() pgtype.UUID {
	return pgtype.UUID{Bytes: uuid.Must(uuid.NewV7()), Valid: true}
}

func newTestTimestamp() pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: time.Now().UTC(), Valid: true}
}

type notificationOpt func(*db.Notification)

func newTestNotification(opts ...notificationOpt) db.Notification {
	n := db.Notification{
		ID:         newTestUUID(),
		VendorName: "test-vendor",
		TargetUrl:  "https://example.com/webhook",
		HttpMethod: "POST",
		Headers:    []byte(`{"Content-Type":"application/json"}`),
		Body:       pgtype.Text{String: `{"key":"value"}`, Valid: true},
		Status:     db.StatusPending,
		RetryCount: 0,
		CreatedAt:  newTestTimestamp(),
		UpdatedAt:  newTestTimestamp(),
	}
	for _, opt := range opts {
		opt(&n)
	}
	return n
}

func withStatus(status string) notificationOpt {
	return func(n *db.Notification) { n.Status = status }
}

func withRetryCount(count int32) notificationOpt {
	return func(n *db.Notification) { n.RetryCount = count }
}

func withTargetUrl(url string) notificationOpt {
	return func(n *db.Notification) { n.TargetUrl = url }
}

func newTestApp(mockDB *mockQuerier, broker *mockBroker) *Application {
	calculator, err := NewRetryDelayCalculatorWithRand(
		time.Second, time.Hour, func() float64 { return 0.5 },
	)
	if err != nil {
		panic(err)
	}
	registry, err := NewAdapterRegistry(NewGenericHTTPAdapter(5 * time.Second))
	if err != nil {
		panic(err)
	}
	return &Application{
		Config: config.AppConfig{
			MaxRetryCount:     5,
			InitialRetryDelay: time.Second,
			MaxRetryDelay:     time.Hour,
			HTTPTimeout:       5 * time.Second,
			DeliveryWorkers:   2,
		},
		DB:       mockDB,
		Broker:   broker,
		Adapters: registry,
		Retry:    calculator,
		Metrics:  NewMetrics(),
	}
}
