package reconcile

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	pubsubv2 "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmcardona/orderledger/internal/payments"
	"github.com/jmcardona/orderledger/pkg/config"
	"github.com/jmcardona/orderledger/pkg/db/models"
	pkgerrors "github.com/jmcardona/orderledger/pkg/errors"
	"github.com/jmcardona/orderledger/pkg/logger"
)

type fakeApplier struct {
	calls int
	errs  []error
	order *models.Order
}

func (a *fakeApplier) ApplyPaymentOutcome(ctx context.Context, event payments.GatewayEvent) (*models.Order, error) {
	a.calls++
	if len(a.errs) > 0 {
		err := a.errs[0]
		a.errs = a.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return a.order, nil
}

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

type fakeDLQ struct {
	rows      []*models.ReconcileDLQ
	insertErr error
}

func (d *fakeDLQ) Insert(ctx context.Context, row *models.ReconcileDLQ) error {
	if d.insertErr != nil {
		return d.insertErr
	}
	d.rows = append(d.rows, row)
	return nil
}

type stubSubscriber struct{}

func (stubSubscriber) Receive(ctx context.Context, f func(ctx context.Context, m *pubsubv2.Message)) error {
	return nil
}

type consumerFixture struct {
	consumer *Consumer
	applier  *fakeApplier
	guard    *fakeGuard
	dlq      *fakeDLQ
	sleeps   []time.Duration
}

func newConsumerFixture(t *testing.T, maxAttempts int) *consumerFixture {
	t.Helper()

	applier := &fakeApplier{order: &models.Order{ID: uuid.New()}}
	guard := newFakeGuard()
	dlq := &fakeDLQ{}

	consumer, err := NewConsumer(
		stubSubscriber{},
		applier,
		guard,
		dlq,
		nil,
		config.DispatcherConfig{
			MaxAttempts:    maxAttempts,
			InitialBackoff: time.Millisecond,
			MaxBackoff:     5 * time.Millisecond,
		},
		logger.New(logger.Options{ServiceName: "reconcile-test", Output: io.Discard}),
	)
	require.NoError(t, err)

	fix := &consumerFixture{consumer: consumer, applier: applier, guard: guard, dlq: dlq}
	consumer.sleep = func(ctx context.Context, d time.Duration) error {
		fix.sleeps = append(fix.sleeps, d)
		return ctx.Err()
	}
	return fix
}

func gatewayMessage(t *testing.T, event payments.GatewayEvent) EventMessage {
	t.Helper()
	data, err := json.Marshal(event)
	require.NoError(t, err)
	return EventMessage{ID: "msg_1", Data: data, Attributes: map[string]string{"event_id": event.EventID}}
}

func testEvent() payments.GatewayEvent {
	return payments.GatewayEvent{
		EventID:       "evt_200",
		Type:          payments.EventTypePaymentSucceeded,
		OrderID:       uuid.New(),
		ExternalTxnID: "txn_200",
		AmountCents:   4500,
		Currency:      "USD",
		OccurredAt:    time.Now().UTC(),
	}
}

func TestProcessAppliesEvent(t *testing.T) {
	t.Parallel()

	fix := newConsumerFixture(t, 3)

	outcome := fix.consumer.Process(context.Background(), gatewayMessage(t, testEvent()))
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, 1, fix.applier.calls)
	assert.Empty(t, fix.dlq.rows)
}

func TestProcessReplayIsDuplicate(t *testing.T) {
	t.Parallel()

	fix := newConsumerFixture(t, 3)
	msg := gatewayMessage(t, testEvent())

	require.Equal(t, OutcomeApplied, fix.consumer.Process(context.Background(), msg))
	assert.Equal(t, OutcomeDuplicate, fix.consumer.Process(context.Background(), msg))
	// The replay never reaches the state machine.
	assert.Equal(t, 1, fix.applier.calls)
}

func TestProcessUnknownOrderAcks(t *testing.T) {
	t.Parallel()

	fix := newConsumerFixture(t, 3)
	fix.applier.errs = []error{pkgerrors.New(pkgerrors.CodeNotFound, "order not found")}

	outcome := fix.consumer.Process(context.Background(), gatewayMessage(t, testEvent()))
	assert.Equal(t, OutcomeUnknownOrder, outcome)
	assert.Empty(t, fix.dlq.rows)
	assert.Empty(t, fix.sleeps)
}

func TestProcessNonRetryableDeadLettersImmediately(t *testing.T) {
	t.Parallel()

	fix := newConsumerFixture(t, 5)
	fix.applier.errs = []error{pkgerrors.New(pkgerrors.CodeOrderAlreadyPaid, "order is already paid")}
	event := testEvent()

	outcome := fix.consumer.Process(context.Background(), gatewayMessage(t, event))
	assert.Equal(t, OutcomeDeadLettered, outcome)
	assert.Equal(t, 1, fix.applier.calls)
	assert.Empty(t, fix.sleeps)

	require.Len(t, fix.dlq.rows, 1)
	row := fix.dlq.rows[0]
	assert.Equal(t, event.EventID, row.EventID)
	require.NotNil(t, row.OrderID)
	assert.Equal(t, event.OrderID, *row.OrderID)
	assert.Equal(t, 1, row.AttemptCount)
	assert.Contains(t, row.ErrorMessage, "ORDER_ALREADY_PAID")
}

func TestProcessRetryableExhaustsAttempts(t *testing.T) {
	t.Parallel()

	fix := newConsumerFixture(t, 3)
	depErr := pkgerrors.New(pkgerrors.CodeDependency, "database unavailable")
	fix.applier.errs = []error{depErr, depErr, depErr}
	event := testEvent()

	outcome := fix.consumer.Process(context.Background(), gatewayMessage(t, event))
	assert.Equal(t, OutcomeDeadLettered, outcome)
	assert.Equal(t, 3, fix.applier.calls)
	assert.Len(t, fix.sleeps, 2)

	require.Len(t, fix.dlq.rows, 1)
	row := fix.dlq.rows[0]
	assert.Equal(t, 3, row.AttemptCount)
	assert.Contains(t, row.ErrorMessage, "attempt 1")
	assert.Contains(t, row.ErrorMessage, "attempt 3")
}

func TestProcessRetrySucceedsMidway(t *testing.T) {
	t.Parallel()

	fix := newConsumerFixture(t, 3)
	fix.applier.errs = []error{pkgerrors.New(pkgerrors.CodeDependency, "blip"), nil}

	outcome := fix.consumer.Process(context.Background(), gatewayMessage(t, testEvent()))
	assert.Equal(t, OutcomeApplied, outcome)
	assert.Equal(t, 2, fix.applier.calls)
	assert.Len(t, fix.sleeps, 1)
	assert.Empty(t, fix.dlq.rows)
}

func TestProcessMalformedPayloadDeadLetters(t *testing.T) {
	t.Parallel()

	fix := newConsumerFixture(t, 3)
	msg := EventMessage{
		ID:         "msg_2",
		Data:       []byte("{not json"),
		Attributes: map[string]string{"event_id": "evt_broken"},
	}

	outcome := fix.consumer.Process(context.Background(), msg)
	assert.Equal(t, OutcomeDeadLettered, outcome)
	assert.Equal(t, 0, fix.applier.calls)

	require.Len(t, fix.dlq.rows, 1)
	assert.Equal(t, "evt_broken", fix.dlq.rows[0].EventID)
	assert.Nil(t, fix.dlq.rows[0].OrderID)
}

func TestProcessInvalidEventDeadLetters(t *testing.T) {
	t.Parallel()

	fix := newConsumerFixture(t, 3)
	event := testEvent()
	event.ExternalTxnID = ""

	outcome := fix.consumer.Process(context.Background(), gatewayMessage(t, event))
	assert.Equal(t, OutcomeDeadLettered, outcome)
	assert.Equal(t, 0, fix.applier.calls)
	require.Len(t, fix.dlq.rows, 1)
}

func TestProcessGuardFailureRetriesLater(t *testing.T) {
	t.Parallel()

	fix := newConsumerFixture(t, 3)
	fix.guard.checkErr = pkgerrors.New(pkgerrors.CodeDependency, "redis down")

	outcome := fix.consumer.Process(context.Background(), gatewayMessage(t, testEvent()))
	assert.Equal(t, OutcomeRetryLater, outcome)
	assert.Equal(t, 0, fix.applier.calls)
}

func TestProcessDLQInsertFailureRetriesLater(t *testing.T) {
	t.Parallel()

	fix := newConsumerFixture(t, 1)
	event := testEvent()
	fix.applier.errs = []error{pkgerrors.New(pkgerrors.CodeDependency, "down")}
	fix.dlq.insertErr = pkgerrors.New(pkgerrors.CodeDependency, "also down")

	outcome := fix.consumer.Process(context.Background(), gatewayMessage(t, event))
	assert.Equal(t, OutcomeRetryLater, outcome)
	assert.Contains(t, fix.guard.deletes, ConsumerName+":"+event.EventID)

	// Redelivery once the DLQ is back must dead-letter the event, not
	// swallow it as a duplicate of a run that recorded nothing.
	fix.applier.errs = []error{pkgerrors.New(pkgerrors.CodeDependency, "down")}
	fix.dlq.insertErr = nil

	outcome = fix.consumer.Process(context.Background(), gatewayMessage(t, event))
	assert.Equal(t, OutcomeDeadLettered, outcome)
	require.Len(t, fix.dlq.rows, 1)
	assert.Equal(t, event.EventID, fix.dlq.rows[0].EventID)
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	t.Parallel()

	fix := newConsumerFixture(t, 5)
	fix.consumer.cfg.InitialBackoff = 100 * time.Millisecond
	fix.consumer.cfg.MaxBackoff = 300 * time.Millisecond

	assert.Equal(t, 100*time.Millisecond, fix.consumer.backoffFor(1))
	assert.Equal(t, 200*time.Millisecond, fix.consumer.backoffFor(2))
	assert.Equal(t, 300*time.Millisecond, fix.consumer.backoffFor(3))
	assert.Equal(t, 300*time.Millisecond, fix.consumer.backoffFor(4))
}

func TestWithJitterTinyDurations(t *testing.T) {
	t.Parallel()

	// Durations too small to carve a jitter window out of pass through.
	for _, d := range []time.Duration{0, time.Nanosecond, 4 * time.Nanosecond} {
		assert.Equal(t, d, withJitter(d))
	}

	base := 100 * time.Millisecond
	got := withJitter(base)
	assert.GreaterOrEqual(t, got, 80*time.Millisecond)
	assert.LessOrEqual(t, got, 120*time.Millisecond)
}
