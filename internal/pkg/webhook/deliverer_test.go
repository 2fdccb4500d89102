package webhook

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	amessages "github.com/airenas/async-api/pkg/messages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/scribehub/scribe/internal/pkg/messages"
	"github.com/scribehub/scribe/internal/pkg/persistence"
	"github.com/scribehub/scribe/internal/pkg/status"
	"github.com/scribehub/scribe/internal/pkg/test"
	"github.com/scribehub/scribe/internal/pkg/test/mocks"
)

var (
	dDBMock   *mocks.DB
	schedMock *mocks.Sender
	dSrvData  *ServiceData
	tDelivery *persistence.WebhookDelivery
)

func initDelivererTest(t *testing.T, url string) {
	dDBMock = &mocks.DB{}
	schedMock = &mocks.Sender{}
	dSrvData = &ServiceData{DB: dDBMock, Scheduler: schedMock,
		HTTPClient: &http.Client{Timeout: time.Second * 5}}
	tDelivery = &persistence.WebhookDelivery{ID: "d1", SubscriptionID: "s1",
		Event: messages.EventJobCompleted, Payload: `{"id":"d1"}`,
		Status: status.DeliveryPending, URL: url, Secret: "olia-secret"}
	dDBMock.On("LoadDelivery", mock.Anything, "d1").Return(tDelivery, nil)
	dDBMock.On("UpdateDelivery", mock.Anything, mock.Anything).Return(nil)
	schedMock.On("Schedule", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
}

func newDeliveryMsg() *messages.WebhookMessage {
	res := &messages.WebhookMessage{}
	res.QueueMessage = amessages.QueueMessage{ID: "d1"}
	return res
}

func Test_HandleDelivery(t *testing.T) {
	var gotEvent, gotSignature, gotDeliveryID, gotContentType, gotTimestamp, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotEvent = r.Header.Get("X-Webhook-Event")
		gotSignature = r.Header.Get("X-Webhook-Signature")
		gotDeliveryID = r.Header.Get("X-Webhook-Delivery-Id")
		gotContentType = r.Header.Get("Content-Type")
		gotTimestamp = r.Header.Get("X-Webhook-Timestamp")
		gotBody = test.RStr(t, r.Body)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()
	initDelivererTest(t, srv.URL)

	err := HandleDelivery(test.Ctx(t), newDeliveryMsg(), dSrvData)
	assert.Nil(t, err)
	assert.Equal(t, messages.EventJobCompleted, gotEvent)
	assert.Equal(t, Sign("olia-secret", `{"id":"d1"}`), gotSignature)
	assert.Equal(t, "d1", gotDeliveryID)
	assert.Equal(t, "application/json", gotContentType)
	_, errTs := time.Parse(time.RFC3339Nano, gotTimestamp)
	assert.Nil(t, errTs, gotTimestamp)
	assert.Equal(t, `{"id":"d1"}`, gotBody)
	assert.Equal(t, status.DeliverySent, tDelivery.Status)
	assert.Equal(t, int32(1), tDelivery.Attempts)
	assert.Equal(t, int32(200), tDelivery.ResponseCode.Int32)
	assert.Equal(t, "ok", tDelivery.ResponseBody.String)
	schedMock.AssertNotCalled(t, "Schedule", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func Test_HandleDelivery_SchedulesRetry(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	initDelivererTest(t, srv.URL)

	err := HandleDelivery(test.Ctx(t), newDeliveryMsg(), dSrvData)
	assert.Nil(t, err)
	assert.Equal(t, status.DeliveryPending, tDelivery.Status)
	assert.Equal(t, int32(1), tDelivery.Attempts)
	assert.True(t, tDelivery.NextRetry.Valid)
	require.Equal(t, 1, len(schedMock.Calls))
	assert.Equal(t, messages.Events, schedMock.Calls[0].Arguments[2])
	assert.Equal(t, messages.JobWebhook, schedMock.Calls[0].Arguments[3])
	assert.Equal(t, time.Minute, schedMock.Calls[0].Arguments[4])
}

func Test_HandleDelivery_RetryDelaysGrow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	wants := []time.Duration{time.Minute, 5 * time.Minute, 30 * time.Minute, 120 * time.Minute}
	for i, want := range wants {
		initDelivererTest(t, srv.URL)
		tDelivery.Attempts = int32(i)
		err := HandleDelivery(test.Ctx(t), newDeliveryMsg(), dSrvData)
		assert.Nil(t, err)
		require.Equal(t, 1, len(schedMock.Calls), "attempt %d", i)
		assert.Equal(t, want, schedMock.Calls[0].Arguments[4], "attempt %d", i)
	}
}

func Test_HandleDelivery_ExhaustsAttempts(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()
	initDelivererTest(t, srv.URL)
	tDelivery.Attempts = MaxAttempts - 1

	err := HandleDelivery(test.Ctx(t), newDeliveryMsg(), dSrvData)
	assert.Nil(t, err)
	assert.Equal(t, status.DeliveryFailed, tDelivery.Status)
	assert.Equal(t, int32(MaxAttempts), tDelivery.Attempts)
	schedMock.AssertNotCalled(t, "Schedule", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func Test_HandleDelivery_AlreadyExhausted(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()
	initDelivererTest(t, srv.URL)
	tDelivery.Attempts = MaxAttempts

	err := HandleDelivery(test.Ctx(t), newDeliveryMsg(), dSrvData)
	assert.Nil(t, err)
	assert.Equal(t, status.DeliveryFailed, tDelivery.Status)
	assert.Equal(t, 0, calls)
}

func Test_HandleDelivery_AlreadySent(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
	}))
	defer srv.Close()
	initDelivererTest(t, srv.URL)
	tDelivery.Status = status.DeliverySent

	err := HandleDelivery(test.Ctx(t), newDeliveryMsg(), dSrvData)
	assert.Nil(t, err)
	assert.Equal(t, 0, calls)
	dDBMock.AssertNotCalled(t, "UpdateDelivery", mock.Anything, mock.Anything)
}

func Test_HandleDelivery_NoDelivery(t *testing.T) {
	initDelivererTest(t, "http://localhost")
	dDBMock.ExpectedCalls = nil
	dDBMock.On("LoadDelivery", mock.Anything, "d1").Return(nil, nil)
	err := HandleDelivery(test.Ctx(t), newDeliveryMsg(), dSrvData)
	assert.Nil(t, err)
}

func Test_HandleDelivery_TransportError(t *testing.T) {
	initDelivererTest(t, "http://localhost:1")

	err := HandleDelivery(test.Ctx(t), newDeliveryMsg(), dSrvData)
	assert.Nil(t, err)
	assert.Equal(t, int32(1), tDelivery.Attempts)
	assert.False(t, tDelivery.ResponseCode.Valid)
	require.Equal(t, 1, len(schedMock.Calls))
}

func Test_HandleDelivery_TruncatesBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(strings.Repeat("a", 5000)))
	}))
	defer srv.Close()
	initDelivererTest(t, srv.URL)

	err := HandleDelivery(test.Ctx(t), newDeliveryMsg(), dSrvData)
	assert.Nil(t, err)
	assert.Equal(t, 4000, len(tDelivery.ResponseBody.String))
}

func Test_RetryDelay(t *testing.T) {
	assert.Equal(t, time.Duration(0), retryDelay(0))
	assert.Equal(t, time.Minute, retryDelay(1))
	assert.Equal(t, 120*time.Minute, retryDelay(4))
	assert.Equal(t, 120*time.Minute, retryDelay(5))
	assert.Equal(t, 120*time.Minute, retryDelay(100))
}

func Test_Sign(t *testing.T) {
	res := Sign("olia-secret", `{"id":"d1"}`)
	assert.True(t, strings.HasPrefix(res, "sha256="))
	assert.Equal(t, 7+64, len(res))
	assert.Equal(t, res, Sign("olia-secret", `{"id":"d1"}`))
	assert.NotEqual(t, res, Sign("other", `{"id":"d1"}`))
	assert.NotEqual(t, res, Sign("olia-secret", `{"id":"d2"}`))
}

func Test_Validate(t *testing.T) {
	initDelivererTest(t, "http://localhost")
	assert.Nil(t, Validate(dSrvData))
	dSrvData.HTTPClient = nil
	assert.NotNil(t, Validate(dSrvData))
	assert.NotNil(t, Validate(nil))
}
