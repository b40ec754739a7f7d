package webhooks

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcardona/orderledger/internal/payments"
	"github.com/jmcardona/orderledger/pkg/config"
	pkgerrors "github.com/jmcardona/orderledger/pkg/errors"
	"github.com/jmcardona/orderledger/pkg/logger"
)

const testSecret = "whsec_test"

type fakeGuard struct {
	marked   map[string]bool
	checkErr error
	deletes  []string
}

func newFakeGuard() *fakeGuard {
	return &fakeGuard{marked: map[string]bool{}}
}

func (g *fakeGuard) CheckAndMarkProcessed(ctx context.Context, consumer, eventID string) (bool, error) {
	if g.checkErr != nil {
		return false, g.checkErr
	}
	key := consumer + ":" + eventID
	if g.marked[key] {
		return true, nil
	}
	g.marked[key] = true
	return false, nil
}

func (g *fakeGuard) Delete(ctx context.Context, consumer, eventID string) error {
	key := consumer + ":" + eventID
	delete(g.marked, key)
	g.deletes = append(g.deletes, key)
	return nil
}

type fakeDispatcher struct {
	enqueued []payments.GatewayEvent
	err      error
}

func (d *fakeDispatcher) Enqueue(ctx context.Context, event payments.GatewayEvent) (string, error) {
	if d.err != nil {
		return "", d.err
	}
	d.enqueued = append(d.enqueued, event)
	return "msg-1", nil
}

func newHandler(t *testing.T, guard *fakeGuard, dispatcher *fakeDispatcher) http.HandlerFunc {
	t.Helper()
	verifier, err := payments.NewVerifier(testSecret)
	require.NoError(t, err)
	return PaymentWebhook(
		verifier,
		guard,
		dispatcher,
		config.GatewayConfig{WebhookSecret: testSecret, SignatureHeader: "X-Gateway-Signature"},
		logger.New(logger.Options{ServiceName: "webhook-test", Output: io.Discard}),
	)
}

func signedRequest(t *testing.T, event payments.GatewayEvent) *http.Request {
	t.Helper()
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	verifier, err := payments.NewVerifier(testSecret)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewReader(payload))
	req.Header.Set("X-Gateway-Signature", verifier.Sign(payload))
	return req
}

func webhookEvent() payments.GatewayEvent {
	return payments.GatewayEvent{
		EventID:       "evt_wh_1",
		Type:          payments.EventTypePaymentSucceeded,
		OrderID:       uuid.New(),
		ExternalTxnID: "txn_wh_1",
		AmountCents:   2500,
		Currency:      "USD",
		OccurredAt:    time.Now().UTC(),
	}
}

func TestPaymentWebhookQueuesEvent(t *testing.T) {
	t.Parallel()

	guard := newFakeGuard()
	dispatcher := &fakeDispatcher{}
	handler := newHandler(t, guard, dispatcher)

	rec := httptest.NewRecorder()
	handler(rec, signedRequest(t, webhookEvent()))

	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, dispatcher.enqueued, 1)
	assert.Equal(t, "evt_wh_1", dispatcher.enqueued[0].EventID)
}

func TestPaymentWebhookRejectsBadSignature(t *testing.T) {
	t.Parallel()

	guard := newFakeGuard()
	dispatcher := &fakeDispatcher{}
	handler := newHandler(t, guard, dispatcher)

	payload, err := json.Marshal(webhookEvent())
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewReader(payload))
	req.Header.Set("X-Gateway-Signature", "deadbeef")

	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, dispatcher.enqueued)
}

func TestPaymentWebhookMissingSignature(t *testing.T) {
	t.Parallel()

	guard := newFakeGuard()
	dispatcher := &fakeDispatcher{}
	handler := newHandler(t, guard, dispatcher)

	payload, err := json.Marshal(webhookEvent())
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/payments", bytes.NewReader(payload))

	rec := httptest.NewRecorder()
	handler(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPaymentWebhookDuplicateDelivery(t *testing.T) {
	t.Parallel()

	guard := newFakeGuard()
	dispatcher := &fakeDispatcher{}
	handler := newHandler(t, guard, dispatcher)
	event := webhookEvent()

	first := httptest.NewRecorder()
	handler(first, signedRequest(t, event))
	require.Equal(t, http.StatusAccepted, first.Code)

	second := httptest.NewRecorder()
	handler(second, signedRequest(t, event))
	assert.Equal(t, http.StatusOK, second.Code)
	assert.Len(t, dispatcher.enqueued, 1)
}

func TestPaymentWebhookEnqueueFailureReleasesMark(t *testing.T) {
	t.Parallel()

	guard := newFakeGuard()
	dispatcher := &fakeDispatcher{err: pkgerrors.New(pkgerrors.CodeDependency, "broker down")}
	handler := newHandler(t, guard, dispatcher)
	event := webhookEvent()

	rec := httptest.NewRecorder()
	handler(rec, signedRequest(t, event))

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, guard.deletes, WebhookConsumer+":"+event.EventID)
	assert.False(t, guard.marked[WebhookConsumer+":"+event.EventID])
}

func TestPaymentWebhookInvalidEvent(t *testing.T) {
	t.Parallel()

	guard := newFakeGuard()
	dispatcher := &fakeDispatcher{}
	handler := newHandler(t, guard, dispatcher)

	event := webhookEvent()
	event.ExternalTxnID = ""

	rec := httptest.NewRecorder()
	handler(rec, signedRequest(t, event))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, dispatcher.enqueued)
}
