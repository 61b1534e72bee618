package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/sweater-ventures/courier/db"
)

type staticAdapter struct {
	name string
}

func (a staticAdapter) VendorName() string { return a.name }
func (a staticAdapter) Deliver(ctx context.Context, notification db.Notification) DeliveryResult {
	return successResult(200, "")
}
func (a staticAdapter) IsRetryable(statusCode int, responseBody string) bool { return false }

func TestRegistryReturnsDedicatedAdapter(t *testing.T) {
	stripe := staticAdapter{name: "stripe"}
	registry, err := NewAdapterRegistry(NewGenericHTTPAdapter(time.Second), stripe)
	assert.NoError(t, err)

	assert.Equal(t, "stripe", registry.GetAdapter("stripe").VendorName())
}

func TestRegistryFallsBackToGeneric(t *testing.T) {
	registry, err := NewAdapterRegistry(NewGenericHTTPAdapter(time.Second), staticAdapter{name: "stripe"})
	assert.NoError(t, err)

	assert.Equal(t, "generic", registry.GetAdapter("unknown-vendor").VendorName())
}

func TestRegistryRequiresGenericAdapter(t *testing.T) {
	_, err := NewAdapterRegistry(staticAdapter{name: "stripe"})
	assert.Error(t, err)
}

func TestEmptyRegistryReturnsNil(t *testing.T) {
	registry, err := NewAdapterRegistry()
	assert.NoError(t, err)

	assert.Nil(t, registry.GetAdapter("anything"))
}
