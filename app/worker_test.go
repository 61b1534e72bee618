package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/sweater-ventures/courier/db"
)

// fakeAcknowledger records how a delivery was settled.
type fakeAcknowledger struct {
	acked    bool
	nacked   bool
	rejected bool
	requeued bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.acked = true
	return nil
}
func (f *fakeAcknowledger) Nack(tag uint64, multiple bool, requeue bool) error {
	f.nacked = true
	f.requeued = requeue
	return nil
}
func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	f.rejected = true
	f.requeued = requeue
	return nil
}

func workItemDelivery(t *testing.T, ack *fakeAcknowledger, item WorkItem) amqp.Delivery {
	t.Helper()
	body, err := json.Marshal(item)
	assert.NoError(t, err)
	return amqp.Delivery{Acknowledger: ack, Body: body}
}

func TestHandleDeliverySuccessAcks(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	mockDB := new(mockQuerier)
	broker := new(mockBroker)
	a := newTestApp(mockDB, broker)

	n := newTestNotification(withTargetUrl(server.URL))
	mockDB.On("GetNotificationByID", mock.Anything, n.ID).Return(n, nil)
	mockDB.On("MarkNotificationDelivered", mock.Anything, mock.Anything).Return(n, nil)

	ack := &fakeAcknowledger{}
	handleDelivery(context.Background(), a, workItemDelivery(t, ack, WorkItem{NotificationID: UuidToString(n.ID)}))

	assert.True(t, ack.acked)
	mockDB.AssertExpectations(t)
}

func TestHandleDeliveryMalformedMessageGoesToDeadLetter(t *testing.T) {
	mockDB := new(mockQuerier)
	broker := new(mockBroker)
	a := newTestApp(mockDB, broker)

	ack := &fakeAcknowledger{}
	handleDelivery(context.Background(), a, amqp.Delivery{Acknowledger: ack, Body: []byte("not-json")})

	assert.True(t, ack.rejected)
	assert.False(t, ack.requeued)
}

func TestHandleDeliveryStoreErrorRequeues(t *testing.T) {
	mockDB := new(mockQuerier)
	broker := new(mockBroker)
	a := newTestApp(mockDB, broker)

	n := newTestNotification()
	mockDB.On("GetNotificationByID", mock.Anything, n.ID).
		Return(db.Notification{}, assert.AnError)

	ack := &fakeAcknowledger{}
	handleDelivery(context.Background(), a, workItemDelivery(t, ack, WorkItem{NotificationID: UuidToString(n.ID)}))

	assert.True(t, ack.nacked)
	assert.True(t, ack.requeued)
}

func TestProcessWorkItemInvalidIDDropped(t *testing.T) {
	mockDB := new(mockQuerier)
	broker := new(mockBroker)
	a := newTestApp(mockDB, broker)

	err := processWorkItem(context.Background(), a, WorkItem{NotificationID: "not-a-uuid"})

	assert.NoError(t, err)
	mockDB.AssertNotCalled(t, "GetNotificationByID", mock.Anything, mock.Anything)
}

func TestProcessWorkItemUnknownNotificationDropped(t *testing.T) {
	mockDB := new(mockQuerier)
	broker := new(mockBroker)
	a := newTestApp(mockDB, broker)

	id := newTestUUID()
	mockDB.On("GetNotificationByID", mock.Anything, id).
		Return(db.Notification{}, pgx.ErrNoRows)

	err := processWorkItem(context.Background(), a, WorkItem{NotificationID: UuidToString(id)})

	assert.NoError(t, err)
}

func TestProcessWorkItemSkipsNonPending(t *testing.T) {
	mockDB := new(mockQuerier)
	broker := new(mockBroker)
	a := newTestApp(mockDB, broker)

	n := newTestNotification(withStatus(db.StatusCancelled))
	mockDB.On("GetNotificationByID", mock.Anything, n.ID).Return(n, nil)

	err := processWorkItem(context.Background(), a, WorkItem{NotificationID: UuidToString(n.ID)})

	assert.NoError(t, err)
	mockDB.AssertNotCalled(t, "MarkNotificationDelivered", mock.Anything, mock.Anything)
	mockDB.AssertNotCalled(t, "MarkNotificationFailed", mock.Anything, mock.Anything)
}

func TestProcessWorkItemRetryableFailureSchedulesRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	mockDB := new(mockQuerier)
	broker := new(mockBroker)
	a := newTestApp(mockDB, broker)

	n := newTestNotification(withTargetUrl(server.URL))
	scheduled := n
	scheduled.RetryCount = 1

	mockDB.On("GetNotificationByID", mock.Anything, n.ID).Return(n, nil)
	mockDB.On("ScheduleNotificationRetry", mock.Anything, mock.MatchedBy(func(arg db.ScheduleNotificationRetryParams) bool {
		return arg.ID == n.ID && arg.NextRetryAt.Valid &&
			arg.ResponseCode == http.StatusServiceUnavailable
	})).Return(scheduled, nil)
	// Midpoint rand means zero jitter: retry 0 backs off exactly 1s.
	broker.On("PublishWithDelay", mock.Anything, UuidToString(n.ID), 1, time.Second).Return(nil)

	err := processWorkItem(context.Background(), a, WorkItem{NotificationID: UuidToString(n.ID)})

	assert.NoError(t, err)
	mockDB.AssertExpectations(t)
	broker.AssertExpectations(t)
}

func TestProcessWorkItemNonRetryableFailureMarksFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	mockDB := new(mockQuerier)
	broker := new(mockBroker)
	a := newTestApp(mockDB, broker)

	n := newTestNotification(withTargetUrl(server.URL))
	mockDB.On("GetNotificationByID", mock.Anything, n.ID).Return(n, nil)
	mockDB.On("MarkNotificationFailed", mock.Anything, mock.MatchedBy(func(arg db.MarkNotificationFailedParams) bool {
		return arg.ResponseCode == http.StatusBadRequest
	})).Return(n, nil)

	err := processWorkItem(context.Background(), a, WorkItem{NotificationID: UuidToString(n.ID)})

	assert.NoError(t, err)
	mockDB.AssertNotCalled(t, "ScheduleNotificationRetry", mock.Anything, mock.Anything)
	broker.AssertNotCalled(t, "PublishWithDelay", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestProcessWorkItemExhaustedRetriesMarksFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	mockDB := new(mockQuerier)
	broker := new(mockBroker)
	a := newTestApp(mockDB, broker)

	n := newTestNotification(withTargetUrl(server.URL), withRetryCount(5))
	mockDB.On("GetNotificationByID", mock.Anything, n.ID).Return(n, nil)
	mockDB.On("MarkNotificationFailed", mock.Anything, mock.Anything).Return(n, nil)

	err := processWorkItem(context.Background(), a, WorkItem{NotificationID: UuidToString(n.ID)})

	assert.NoError(t, err)
	mockDB.AssertNotCalled(t, "ScheduleNotificationRetry", mock.Anything, mock.Anything)
}

func TestProcessWorkItemConnectionFailureSchedulesRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	mockDB := new(mockQuerier)
	broker := new(mockBroker)
	a := newTestApp(mockDB, broker)

	n := newTestNotification(withTargetUrl(url))
	scheduled := n
	scheduled.RetryCount = 1

	mockDB.On("GetNotificationByID", mock.Anything, n.ID).Return(n, nil)
	mockDB.On("ScheduleNotificationRetry", mock.Anything, mock.MatchedBy(func(arg db.ScheduleNotificationRetryParams) bool {
		return arg.ResponseCode == 0 && arg.ErrorMessage.Valid
	})).Return(scheduled, nil)
	broker.On("PublishWithDelay", mock.Anything, mock.Anything, 1, mock.Anything).Return(nil)

	err := processWorkItem(context.Background(), a, WorkItem{NotificationID: UuidToString(n.ID)})

	assert.NoError(t, err)
	mockDB.AssertExpectations(t)
}

func TestProcessWorkItemCancelledMidFlight(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	mockDB := new(mockQuerier)
	broker := new(mockBroker)
	a := newTestApp(mockDB, broker)

	// Pending at read time, cancelled while the request was in flight. The
	// conditional update misses and the work item settles without error.
	n := newTestNotification(withTargetUrl(server.URL))
	mockDB.On("GetNotificationByID", mock.Anything, n.ID).Return(n, nil)
	mockDB.On("MarkNotificationDelivered", mock.Anything, mock.Anything).
		Return(db.Notification{}, pgx.ErrNoRows)

	err := processWorkItem(context.Background(), a, WorkItem{NotificationID: UuidToString(n.ID)})

	assert.NoError(t, err)
}

func TestProcessWorkItemPersistsTruncatedResponseBody(t *testing.T) {
	longBody := strings.Repeat("x", 5000)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(longBody))
	}))
	defer server.Close()

	mockDB := new(mockQuerier)
	broker := new(mockBroker)
	a := newTestApp(mockDB, broker)

	n := newTestNotification(withTargetUrl(server.URL))
	mockDB.On("GetNotificationByID", mock.Anything, n.ID).Return(n, nil)
	mockDB.On("MarkNotificationDelivered", mock.Anything, mock.MatchedBy(func(arg db.MarkNotificationDeliveredParams) bool {
		return len(arg.ResponseBody.String) == 1000+len(truncationMarker) &&
			strings.HasSuffix(arg.ResponseBody.String, truncationMarker)
	})).Return(n, nil)

	err := processWorkItem(context.Background(), a, WorkItem{NotificationID: UuidToString(n.ID)})

	assert.NoError(t, err)
	mockDB.AssertExpectations(t)
}

func TestTruncateResponseBody(t *testing.T) {
	assert.Equal(t, "short", truncateResponseBody("short"))
	assert.Equal(t, strings.Repeat("a", 1000), truncateResponseBody(strings.Repeat("a", 1000)))

	truncated := truncateResponseBody(strings.Repeat("a", 1001))
	assert.Equal(t, strings.Repeat("a", 1000)+truncationMarker, truncated)
}

func TestTruncateResponseBodyMultibyte(t *testing.T) {
	// Multibyte runes under the cap pass through untouched.
	euros := strings.Repeat("€", 400)
	assert.Equal(t, euros, truncateResponseBody(euros))
	assert.True(t, utf8.ValidString(truncateResponseBody(euros)))

	// The cut lands on a rune boundary, never mid-sequence.
	truncated := truncateResponseBody(strings.Repeat("€", 1200))
	assert.True(t, utf8.ValidString(truncated))
	assert.Equal(t, strings.Repeat("€", 1000)+truncationMarker, truncated)
}

func TestTruncateResponseBodySanitizesInvalidUTF8(t *testing.T) {
	out := truncateResponseBody("ok\xff\xfebody")
	assert.True(t, utf8.ValidString(out))
	assert.Contains(t, out, "ok")
	assert.Contains(t, out, "body")
}

func TestStartWorkersDrainsOnStop(t *testing.T) {
	mockDB := new(mockQuerier)
	broker := new(mockBroker)
	a := newTestApp(mockDB, broker)

	id := newTestUUID()
	mockDB.On("GetNotificationByID", mock.Anything, id).
		Return(db.Notification{}, pgx.ErrNoRows)

	deliveries := make(chan amqp.Delivery, 4)
	acks := make([]*fakeAcknowledger, 4)
	for i := range acks {
		acks[i] = &fakeAcknowledger{}
		deliveries <- workItemDelivery(t, acks[i], WorkItem{NotificationID: UuidToString(id)})
	}
	close(deliveries)

	stop := StartWorkers(a, deliveries)
	stop()

	for _, ack := range acks {
		assert.True(t, ack.acked)
	}
}
