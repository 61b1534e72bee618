package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/sweater-ventures/courier/db"
)

// maxResponseRead bounds how much of a vendor response body is read off the
// wire. Persistence truncates much harder (see worker.go).
const maxResponseRead = 1024 * 1024

// DeliveryResult is the transient outcome of a single adapter call.
// StatusCode 0 means the request never produced an HTTP response.
type DeliveryResult struct {
	Success      bool
	StatusCode   int
	ResponseBody string
	ErrorMessage string
}

// IsRetryable is the default classification used when an adapter has no
// vendor-specific override: transport failures, 429, and 5xx are worth
// another attempt; every other status is terminal.
func (r DeliveryResult) IsRetryable() bool {
	return r.StatusCode == 0 || r.StatusCode == http.StatusTooManyRequests || r.StatusCode >= 500
}

func successResult(statusCode int, responseBody string) DeliveryResult {
	return DeliveryResult{Success: true, StatusCode: statusCode, ResponseBody: responseBody}
}

func failureResult(statusCode int, responseBody, errorMessage string) DeliveryResult {
	return DeliveryResult{StatusCode: statusCode, ResponseBody: responseBody, ErrorMessage: errorMessage}
}

func connectionFailure(errorMessage string) DeliveryResult {
	return DeliveryResult{StatusCode: 0, ErrorMessage: errorMessage}
}

// VendorAdapter performs a single delivery attempt for one vendor and
// decides which failures are worth retrying. Vendor-specific auth or payload
// framing lives behind this contract; the worker stays vendor-agnostic.
type VendorAdapter interface {
	VendorName() string

	// Deliver issues exactly one HTTP request. It never retries internally
	// and never returns an error: transport problems come back as a
	// connection-failure result with StatusCode 0.
	Deliver(ctx context.Context, notification db.Notification) DeliveryResult

	IsRetryable(statusCode int, responseBody string) bool
}

// GenericHTTPAdapter sends the notification's URL, method, headers, and body
// verbatim. It is the fallback for any vendor without a dedicated adapter.
type GenericHTTPAdapter struct {
	client *http.Client
}

func NewGenericHTTPAdapter(timeout time.Duration) *GenericHTTPAdapter {
	return &GenericHTTPAdapter{
		client: &http.Client{Timeout: timeout},
	}
}

func (a *GenericHTTPAdapter) VendorName() string {
	return "generic"
}

func (a *GenericHTTPAdapter) Deliver(ctx context.Context, notification db.Notification) DeliveryResult {
	id := UuidToString(notification.ID)

	var body io.Reader
	if notification.Body.Valid && notification.Body.String != "" {
		body = strings.NewReader(notification.Body.String)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(notification.HttpMethod), notification.TargetUrl, body)
	if err != nil {
		slog.Error("Failed to build delivery request", "notification_id", id, "error", err)
		return connectionFailure(fmt.Sprintf("request creation failed: %v", err))
	}

	if len(notification.Headers) > 0 {
		var headers map[string]string
		if err := json.Unmarshal(notification.Headers, &headers); err != nil {
			slog.Error("Failed to decode notification headers", "notification_id", id, "error", err)
			return connectionFailure(fmt.Sprintf("invalid headers: %v", err))
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		slog.Warn("Delivery request failed",
			"notification_id", id,
			"target_url", notification.TargetUrl,
			"error", err,
		)
		return connectionFailure(fmt.Sprintf("connection failed: %v", err))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseRead))

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		slog.Debug("Delivery succeeded",
			"notification_id", id,
			"target_url", notification.TargetUrl,
			"status_code", resp.StatusCode,
		)
		return successResult(resp.StatusCode, string(respBody))
	}

	slog.Warn("Delivery received non-success status",
		"notification_id", id,
		"target_url", notification.TargetUrl,
		"status_code", resp.StatusCode,
	)
	return failureResult(resp.StatusCode, string(respBody),
		fmt.Sprintf("received non-success status: %d", resp.StatusCode))
}

func (a *GenericHTTPAdapter) IsRetryable(statusCode int, responseBody string) bool {
	return DeliveryResult{StatusCode: statusCode, ResponseBody: responseBody}.IsRetryable()
}
