package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/sweater-ventures/courier/app"
	"github.com/sweater-ventures/courier/db"
)

func init() {
	registerRoute(func(app *app.Application, router *http.ServeMux) {
		router.Handle("POST /v1/notifications", routeHandler(app, createNotificationHandler))
		// Literal segments take precedence over {id} in route matching.
		router.Handle("GET /v1/notifications/failed", routeHandler(app, listFailedNotificationsHandler))
		router.Handle("GET /v1/notifications/stats", routeHandler(app, notificationStatsHandler))
		router.Handle("GET /v1/notifications/{id}", routeHandler(app, getNotificationHandler))
		router.Handle("POST /v1/notifications/{id}/retry", routeHandler(app, retryNotificationHandler))
		router.Handle("DELETE /v1/notifications/{id}", routeHandler(app, cancelNotificationHandler))
	})
}

var targetUrlPattern = regexp.MustCompile(`^https?://`)

var allowedHttpMethods = []string{
	http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete,
}

type CreateNotificationRequest struct {
	VendorName     string            `json:"vendorName"`
	TargetUrl      string            `json:"targetUrl"`
	HttpMethod     string            `json:"httpMethod"`
	Headers        map[string]string `json:"headers"`
	Body           string            `json:"body"`
	IdempotencyKey string            `json:"idempotencyKey"`
}

func (req CreateNotificationRequest) validate() []string {
	var details []string
	if strings.TrimSpace(req.VendorName) == "" {
		details = append(details, "vendorName must not be blank")
	}
	if !targetUrlPattern.MatchString(req.TargetUrl) {
		details = append(details, "targetUrl must be a valid http or https URL")
	}
	if !slices.Contains(allowedHttpMethods, strings.ToUpper(req.HttpMethod)) {
		details = append(details, "httpMethod must be one of GET, POST, PUT, PATCH, DELETE")
	}
	return details
}

type CreateNotificationResponse struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

type DeliveryAttemptResponse struct {
	AttemptedAt  time.Time `json:"attemptedAt"`
	ResponseCode int32     `json:"responseCode"`
	ResponseBody *string   `json:"responseBody"`
	ErrorMessage *string   `json:"errorMessage"`
}

type NotificationResponse struct {
	ID               string                    `json:"id"`
	VendorName       string                    `json:"vendorName"`
	TargetUrl        string                    `json:"targetUrl"`
	HttpMethod       string                    `json:"httpMethod"`
	Headers          map[string]string         `json:"headers"`
	Body             *string                   `json:"body"`
	IdempotencyKey   *string                   `json:"idempotencyKey"`
	Status           string                    `json:"status"`
	RetryCount       int32                     `json:"retryCount"`
	CreatedAt        time.Time                 `json:"createdAt"`
	UpdatedAt        time.Time                 `json:"updatedAt"`
	NextRetryAt      *time.Time                `json:"nextRetryAt"`
	DeliveryAttempts []DeliveryAttemptResponse `json:"deliveryAttempts"`
}

func createNotificationHandler(courier *app.Application, w http.ResponseWriter, r *http.Request) {
	var req CreateNotificationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if details := req.validate(); len(details) > 0 {
		writeError(w, http.StatusBadRequest, "Validation failed", details...)
		return
	}

	notification, err := app.CreateNotification(r.Context(), courier, app.CreateNotificationParams{
		VendorName:     req.VendorName,
		TargetUrl:      req.TargetUrl,
		HttpMethod:     strings.ToUpper(req.HttpMethod),
		Headers:        req.Headers,
		Body:           req.Body,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		log(r.Context()).Error("Failed to create notification", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create notification")
		return
	}

	writeJsonResponse(w, http.StatusAccepted, CreateNotificationResponse{
		ID:        app.UuidToString(notification.ID),
		Status:    notification.Status,
		CreatedAt: notification.CreatedAt.Time,
	})
}

func getNotificationHandler(courier *app.Application, w http.ResponseWriter, r *http.Request) {
	id, ok := parseIdParam(w, r)
	if !ok {
		return
	}

	notification, err := courier.DB.GetNotificationByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			writeError(w, http.StatusNotFound, "notification not found")
			return
		}
		log(r.Context()).Error("Failed to get notification", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to retrieve notification")
		return
	}

	attempts, err := courier.DB.ListDeliveryAttemptsForNotification(r.Context(), id)
	if err != nil {
		log(r.Context()).Error("Failed to list delivery attempts", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to retrieve notification")
		return
	}

	writeJsonResponse(w, http.StatusOK, notificationToResponse(notification, attempts))
}

func retryNotificationHandler(courier *app.Application, w http.ResponseWriter, r *http.Request) {
	id, ok := parseIdParam(w, r)
	if !ok {
		return
	}

	notification, err := app.ResetForRetry(r.Context(), courier, id)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			writeError(w, http.StatusNotFound, "notification not found")
		case errors.Is(err, app.ErrNotRetryable):
			writeError(w, http.StatusConflict, "only failed notifications can be retried")
		default:
			log(r.Context()).Error("Failed to retry notification", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to retry notification")
		}
		return
	}

	writeJsonResponse(w, http.StatusOK, CreateNotificationResponse{
		ID:        app.UuidToString(notification.ID),
		Status:    notification.Status,
		CreatedAt: notification.CreatedAt.Time,
	})
}

func cancelNotificationHandler(courier *app.Application, w http.ResponseWriter, r *http.Request) {
	id, ok := parseIdParam(w, r)
	if !ok {
		return
	}

	_, err := app.CancelPendingNotification(r.Context(), courier, id)
	if err != nil {
		switch {
		case errors.Is(err, pgx.ErrNoRows):
			writeError(w, http.StatusNotFound, "notification not found")
		case errors.Is(err, app.ErrNotCancellable):
			writeError(w, http.StatusConflict, "only pending notifications can be cancelled")
		default:
			log(r.Context()).Error("Failed to cancel notification", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to cancel notification")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func listFailedNotificationsHandler(courier *app.Application, w http.ResponseWriter, r *http.Request) {
	vendorName := r.URL.Query().Get("vendorName")

	notifications, err := app.ListFailedNotifications(r.Context(), courier, vendorName)
	if err != nil {
		log(r.Context()).Error("Failed to list failed notifications", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list notifications")
		return
	}

	responses := make([]NotificationResponse, 0, len(notifications))
	for _, n := range notifications {
		attempts, err := courier.DB.ListDeliveryAttemptsForNotification(r.Context(), n.ID)
		if err != nil {
			log(r.Context()).Error("Failed to list delivery attempts", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to list notifications")
			return
		}
		responses = append(responses, notificationToResponse(n, attempts))
	}

	writeJsonResponse(w, http.StatusOK, responses)
}

type NotificationStatsResponse struct {
	VendorName *string         `json:"vendorName"`
	Counts     app.StatusCounts `json:"counts"`
}

func notificationStatsHandler(courier *app.Application, w http.ResponseWriter, r *http.Request) {
	vendorName := r.URL.Query().Get("vendorName")

	counts, err := app.CountNotifications(r.Context(), courier, vendorName)
	if err != nil {
		log(r.Context()).Error("Failed to count notifications", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to compute stats")
		return
	}

	resp := NotificationStatsResponse{Counts: counts}
	if vendorName != "" {
		resp.VendorName = &vendorName
	}
	writeJsonResponse(w, http.StatusOK, resp)
}

func parseIdParam(w http.ResponseWriter, r *http.Request) (pgtype.UUID, bool) {
	parsed, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be a valid UUID")
		return pgtype.UUID{}, false
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}, true
}

func notificationToResponse(n db.Notification, attempts []db.DeliveryAttempt) NotificationResponse {
	headers := map[string]string{}
	if len(n.Headers) > 0 {
		json.Unmarshal(n.Headers, &headers)
	}

	resp := NotificationResponse{
		ID:               app.UuidToString(n.ID),
		VendorName:       n.VendorName,
		TargetUrl:        n.TargetUrl,
		HttpMethod:       n.HttpMethod,
		Headers:          headers,
		Status:           n.Status,
		RetryCount:       n.RetryCount,
		CreatedAt:        n.CreatedAt.Time,
		UpdatedAt:        n.UpdatedAt.Time,
		DeliveryAttempts: make([]DeliveryAttemptResponse, 0, len(attempts)),
	}
	if n.Body.Valid {
		resp.Body = &n.Body.String
	}
	if n.IdempotencyKey.Valid {
		resp.IdempotencyKey = &n.IdempotencyKey.String
	}
	if n.NextRetryAt.Valid {
		t := n.NextRetryAt.Time
		resp.NextRetryAt = &t
	}

	for _, a := range attempts {
		attempt := DeliveryAttemptResponse{
			AttemptedAt:  a.AttemptedAt.Time,
			ResponseCode: a.ResponseCode,
		}
		if a.ResponseBody.Valid {
			attempt.ResponseBody = &a.ResponseBody.String
		}
		if a.ErrorMessage.Valid {
			attempt.ErrorMessage = &a.ErrorMessage.String
		}
		resp.DeliveryAttempts = append(resp.DeliveryAttempts, attempt)
	}
	return resp
}
