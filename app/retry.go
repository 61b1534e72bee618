package app

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// jitterFactor is the ±20% noise applied to every computed delay so that
// retries across many notifications decorrelate after a vendor recovers.
const jitterFactor = 0.2

// RetryDelayCalculator computes exponential-backoff delays:
// min(initialDelay * 2^retryCount, maxDelay), then ±20% jitter,
// clamped to at least 1ms.
type RetryDelayCalculator struct {
	initialDelay time.Duration
	maxDelay     time.Duration
	randFloat    func() float64 // uniform in [0, 1)
}

func NewRetryDelayCalculator(initialDelay, maxDelay time.Duration) (*RetryDelayCalculator, error) {
	return NewRetryDelayCalculatorWithRand(initialDelay, maxDelay, rand.Float64)
}

// NewRetryDelayCalculatorWithRand accepts an injectable randomness source
// for deterministic tests.
func NewRetryDelayCalculatorWithRand(initialDelay, maxDelay time.Duration, randFloat func() float64) (*RetryDelayCalculator, error) {
	if initialDelay <= 0 {
		return nil, errors.New("initialDelay must be positive")
	}
	if maxDelay <= 0 {
		return nil, errors.New("maxDelay must be positive")
	}
	if maxDelay < initialDelay {
		return nil, errors.New("maxDelay must be >= initialDelay")
	}
	if randFloat == nil {
		return nil, errors.New("randFloat must not be nil")
	}
	return &RetryDelayCalculator{
		initialDelay: initialDelay,
		maxDelay:     maxDelay,
		randFloat:    randFloat,
	}, nil
}

// CalculateDelay returns the jittered backoff delay for a 0-based retry count.
func (c *RetryDelayCalculator) CalculateDelay(retryCount int) (time.Duration, error) {
	base, err := c.BaseDelay(retryCount)
	if err != nil {
		return 0, err
	}
	return c.applyJitter(base), nil
}

// BaseDelay returns min(initialDelay * 2^retryCount, maxDelay) without
// jitter. The shift is only computed for retryCount < 62; anything larger
// would overflow int64 and clamps straight to maxDelay.
func (c *RetryDelayCalculator) BaseDelay(retryCount int) (time.Duration, error) {
	if retryCount < 0 {
		return 0, fmt.Errorf("retryCount must be non-negative, got %d", retryCount)
	}
	if retryCount >= 62 {
		return c.maxDelay, nil
	}

	initialMillis := c.initialDelay.Milliseconds()
	if initialMillis < 1 {
		initialMillis = 1
	}
	maxMillis := c.maxDelay.Milliseconds()

	multiplier := int64(1) << retryCount
	if multiplier > maxMillis/initialMillis {
		return c.maxDelay, nil
	}
	return time.Duration(min(initialMillis*multiplier, maxMillis)) * time.Millisecond, nil
}

func (c *RetryDelayCalculator) applyJitter(base time.Duration) time.Duration {
	baseMillis := base.Milliseconds()
	jitterRange := float64(baseMillis) * jitterFactor

	// randFloat() in [0,1) maps to a jitter multiplier in [-1, 1)
	jitter := int64(jitterRange * (c.randFloat()*2 - 1))

	return time.Duration(max(1, baseMillis+jitter)) * time.Millisecond
}
