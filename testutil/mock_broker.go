package testutil

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/sweater-ventures/courier/app"
)

// MockBroker is a testify mock implementation of app.Broker.
type MockBroker struct {
	mock.Mock
}

var _ app.Broker = (*MockBroker)(nil)

func (m *MockBroker) Publish(ctx context.Context, notificationID string, retryCount int) error {
	args := m.Called(ctx, notificationID, retryCount)
	return args.Error(0)
}

func (m *MockBroker) PublishWithDelay(ctx context.Context, notificationID string, retryCount int, delay time.Duration) error {
	args := m.Called(ctx, notificationID, retryCount, delay)
	return args.Error(0)
}
