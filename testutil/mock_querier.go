package testutil

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/mock"
	"github.com/sweater-ventures/courier/db"
)

// MockQuerier is a testify mock implementation of db.Querier.
type MockQuerier struct {
	mock.Mock
}

var _ db.Querier = (*MockQuerier)(nil)

func (m *MockQuerier) InsertNotification(ctx context.Context, arg db.InsertNotificationParams) (db.Notification, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.Notification), args.Error(1)
}

func (m *MockQuerier) GetNotificationByID(ctx context.Context, id pgtype.UUID) (db.Notification, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(db.Notification), args.Error(1)
}

func (m *MockQuerier) GetNotificationByIdempotencyKey(ctx context.Context, idempotencyKey string) (db.Notification, error) {
	args := m.Called(ctx, idempotencyKey)
	return args.Get(0).(db.Notification), args.Error(1)
}

func (m *MockQuerier) ListNotificationsByStatus(ctx context.Context, status string) ([]db.Notification, error) {
	args := m.Called(ctx, status)
	return args.Get(0).([]db.Notification), args.Error(1)
}

func (m *MockQuerier) ListNotificationsByVendorAndStatus(ctx context.Context, arg db.ListNotificationsByVendorAndStatusParams) ([]db.Notification, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).([]db.Notification), args.Error(1)
}

func (m *MockQuerier) CountNotificationsByStatus(ctx context.Context, status string) (int64, error) {
	args := m.Called(ctx, status)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockQuerier) CountNotificationsByVendorAndStatus(ctx context.Context, arg db.CountNotificationsByVendorAndStatusParams) (int64, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockQuerier) ListNotificationsDueForRetry(ctx context.Context, before pgtype.Timestamptz) ([]db.Notification, error) {
	args := m.Called(ctx, before)
	return args.Get(0).([]db.Notification), args.Error(1)
}

func (m *MockQuerier) MarkNotificationDelivered(ctx context.Context, arg db.MarkNotificationDeliveredParams) (db.Notification, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.Notification), args.Error(1)
}

func (m *MockQuerier) MarkNotificationFailed(ctx context.Context, arg db.MarkNotificationFailedParams) (db.Notification, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.Notification), args.Error(1)
}

func (m *MockQuerier) ScheduleNotificationRetry(ctx context.Context, arg db.ScheduleNotificationRetryParams) (db.Notification, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.Notification), args.Error(1)
}

func (m *MockQuerier) CancelNotification(ctx context.Context, arg db.CancelNotificationParams) (db.Notification, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.Notification), args.Error(1)
}

func (m *MockQuerier) ResetNotificationForRetry(ctx context.Context, arg db.ResetNotificationForRetryParams) (db.Notification, error) {
	args := m.Called(ctx, arg)
	return args.Get(0).(db.Notification), args.Error(1)
}

func (m *MockQuerier) ListDeliveryAttemptsForNotification(ctx context.Context, notificationID pgtype.UUID) ([]db.DeliveryAttempt, error) {
	args := m.Called(ctx, notificationID)
	return args.Get(0).([]db.DeliveryAttempt), args.Error(1)
}
