package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func midpointRand() float64 { return 0.5 }

func TestNewRetryDelayCalculatorValidation(t *testing.T) {
	tests := []struct {
		name    string
		initial time.Duration
		max     time.Duration
	}{
		{"zero initial", 0, time.Hour},
		{"negative initial", -time.Second, time.Hour},
		{"zero max", time.Second, 0},
		{"max below initial", time.Minute, time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRetryDelayCalculator(tt.initial, tt.max)
			assert.Error(t, err)
		})
	}
}

func TestBaseDelayDoubles(t *testing.T) {
	c, err := NewRetryDelayCalculator(time.Second, time.Hour)
	assert.NoError(t, err)

	tests := []struct {
		retryCount int
		expected   time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{2, 4 * time.Second},
		{5, 32 * time.Second},
		{10, 1024 * time.Second},
	}
	for _, tt := range tests {
		got, err := c.BaseDelay(tt.retryCount)
		assert.NoError(t, err)
		assert.Equal(t, tt.expected, got, "retryCount=%d", tt.retryCount)
	}
}

func TestBaseDelayCapsAtMax(t *testing.T) {
	c, err := NewRetryDelayCalculator(time.Second, time.Hour)
	assert.NoError(t, err)

	for _, retryCount := range []int{12, 20, 40, 61, 62, 63, 1000} {
		got, err := c.BaseDelay(retryCount)
		assert.NoError(t, err)
		assert.Equal(t, time.Hour, got, "retryCount=%d", retryCount)
	}
}

func TestBaseDelayNegativeRetryCount(t *testing.T) {
	c, err := NewRetryDelayCalculator(time.Second, time.Hour)
	assert.NoError(t, err)

	_, err = c.BaseDelay(-1)
	assert.Error(t, err)
}

func TestCalculateDelayJitterMidpoint(t *testing.T) {
	// randFloat()=0.5 maps to zero jitter, so the delay equals the base.
	c, err := NewRetryDelayCalculatorWithRand(time.Second, time.Hour, midpointRand)
	assert.NoError(t, err)

	got, err := c.CalculateDelay(3)
	assert.NoError(t, err)
	assert.Equal(t, 8*time.Second, got)
}

func TestCalculateDelayJitterBounds(t *testing.T) {
	tests := []struct {
		name     string
		rand     float64
		expected time.Duration
	}{
		{"lowest jitter", 0.0, 800 * time.Millisecond},
		{"highest jitter", 0.999999, 1199 * time.Millisecond},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewRetryDelayCalculatorWithRand(time.Second, time.Hour, func() float64 { return tt.rand })
			assert.NoError(t, err)

			got, err := c.CalculateDelay(0)
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestCalculateDelayNeverBelowOneMillisecond(t *testing.T) {
	// Full negative jitter on a 1ms base would go to 0 without the floor.
	c, err := NewRetryDelayCalculatorWithRand(time.Millisecond, time.Hour, func() float64 { return 0.0 })
	assert.NoError(t, err)

	got, err := c.CalculateDelay(0)
	assert.NoError(t, err)
	assert.Equal(t, time.Millisecond, got)
}

func TestCalculateDelayWithinJitterRange(t *testing.T) {
	c, err := NewRetryDelayCalculator(time.Second, time.Hour)
	assert.NoError(t, err)

	for i := 0; i < 100; i++ {
		got, err := c.CalculateDelay(4)
		assert.NoError(t, err)
		assert.GreaterOrEqual(t, got, 12800*time.Millisecond)
		assert.Less(t, got, 19200*time.Millisecond)
	}
}
