package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	pubsubv2 "cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/jmcardona/orderledger/internal/payments"
	"github.com/jmcardona/orderledger/pkg/config"
	"github.com/jmcardona/orderledger/pkg/db/models"
	pkgerrors "github.com/jmcardona/orderledger/pkg/errors"
	"github.com/jmcardona/orderledger/pkg/logger"
	"github.com/jmcardona/orderledger/pkg/metrics"
)

// ConsumerName is the idempotency namespace for the reconciliation worker.
const ConsumerName = "reconcile-worker"

// Outcome is what Process decided to do with a message. Everything except
// OutcomeRetryLater is final and the message is acked.
type Outcome string

const (
	OutcomeApplied      Outcome = "applied"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeUnknownOrder Outcome = "unknown_order"
	OutcomeDeadLettered Outcome = "dead_lettered"
	OutcomeRetryLater   Outcome = "retry_later"
)

// EventMessage is the transport-independent shape Process consumes.
type EventMessage struct {
	ID         string
	Data       []byte
	Attributes map[string]string
}

type ordersApplier interface {
	ApplyPaymentOutcome(ctx context.Context, event payments.GatewayEvent) (*models.Order, error)
}

type idempotencyGuard interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	Delete(ctx context.Context, consumer, eventID string) error
}

type dlqWriter interface {
	Insert(ctx context.Context, row *models.ReconcileDLQ) error
}

type subscriber interface {
	Receive(ctx context.Context, f func(ctx context.Context, m *pubsubv2.Message)) error
}

// Consumer drains the payment-events subscription and applies each event to
// its order. Retryable failures are retried in process with backoff; whatever
// remains goes to the dead-letter table and the message is acked so the
// subscription never wedges on a poison pill.
type Consumer struct {
	sub     subscriber
	orders  ordersApplier
	guard   idempotencyGuard
	dlq     dlqWriter
	metrics *metrics.ReconcileMetrics
	cfg     config.DispatcherConfig
	logg    *logger.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewConsumer(
	sub subscriber,
	orders ordersApplier,
	guard idempotencyGuard,
	dlq dlqWriter,
	m *metrics.ReconcileMetrics,
	cfg config.DispatcherConfig,
	logg *logger.Logger,
) (*Consumer, error) {
	if sub == nil {
		return nil, fmt.Errorf("subscriber required")
	}
	if orders == nil {
		return nil, fmt.Errorf("orders applier required")
	}
	if guard == nil {
		return nil, fmt.Errorf("idempotency guard required")
	}
	if dlq == nil {
		return nil, fmt.Errorf("dlq writer required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	return &Consumer{
		sub:     sub,
		orders:  orders,
		guard:   guard,
		dlq:     dlq,
		metrics: m,
		cfg:     cfg,
		logg:    logg,
		sleep:   sleepContext,
	}, nil
}

// Run blocks consuming the subscription until ctx is canceled.
func (c *Consumer) Run(ctx context.Context) error {
	c.logg.Info(ctx, "reconcile consumer started")
	return c.sub.Receive(ctx, func(mctx context.Context, m *pubsubv2.Message) {
		outcome := c.Process(mctx, EventMessage{
			ID:         m.ID,
			Data:       m.Data,
			Attributes: m.Attributes,
		})
		if outcome == OutcomeRetryLater {
			m.Nack()
			return
		}
		m.Ack()
	})
}

// Process applies one message end to end and reports the final disposition.
func (c *Consumer) Process(ctx context.Context, msg EventMessage) Outcome {
	start := time.Now()

	var event payments.GatewayEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return c.deadLetter(ctx, msg, nil, "malformed_payload", 0,
			pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode gateway event"))
	}
	if err := payments.ValidateEvent(event); err != nil {
		return c.deadLetter(ctx, msg, eventOrderID(event), "invalid_event", 0, err)
	}

	lctx := c.logg.WithEventID(ctx, event.EventID)
	lctx = c.logg.WithOrderID(lctx, event.OrderID.String())
	lctx = c.logg.WithTxnID(lctx, event.ExternalTxnID)

	already, err := c.guard.CheckAndMarkProcessed(ctx, ConsumerName, event.EventID)
	if err != nil {
		c.logg.Error(lctx, "idempotency check failed", err)
		return OutcomeRetryLater
	}
	if already {
		c.metrics.IncDuplicate()
		c.logg.Info(lctx, "event already processed, skipping")
		return OutcomeDuplicate
	}

	var attemptErrs error
	attempts := 0
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		attempts = attempt

		_, applyErr := c.orders.ApplyPaymentOutcome(ctx, event)
		if applyErr == nil {
			c.metrics.IncApplied(string(OutcomeApplied))
			c.metrics.ObserveApply(string(OutcomeApplied), time.Since(start))
			c.logg.Info(lctx, "payment event applied")
			return OutcomeApplied
		}

		if typed := pkgerrors.As(applyErr); typed != nil && typed.Code() == pkgerrors.CodeNotFound {
			// An event for an order this system never created is noise,
			// not a failure. Keep the idempotency mark and move on.
			c.metrics.IncApplied(string(OutcomeUnknownOrder))
			c.metrics.ObserveApply(string(OutcomeUnknownOrder), time.Since(start))
			c.logg.Warn(lctx, "event references unknown order, acking")
			return OutcomeUnknownOrder
		}

		attemptErrs = multierr.Append(attemptErrs, fmt.Errorf("attempt %d: %w", attempt, applyErr))

		if !pkgerrors.IsRetryable(applyErr) {
			return c.deadLetterMarked(lctx, msg, event, "non_retryable", attempts, attemptErrs)
		}

		if attempt == c.cfg.MaxAttempts {
			break
		}
		c.metrics.IncRetry()
		c.logg.Warn(lctx, fmt.Sprintf("apply failed, retrying (attempt %d of %d)", attempt, c.cfg.MaxAttempts))
		if err := c.sleep(ctx, withJitter(c.backoffFor(attempt))); err != nil {
			// Shutting down mid-message: release the idempotency mark so
			// the redelivery is processed, not skipped.
			_ = c.guard.Delete(context.WithoutCancel(ctx), ConsumerName, event.EventID)
			return OutcomeRetryLater
		}
	}

	return c.deadLetterMarked(lctx, msg, event, "attempts_exhausted", attempts, attemptErrs)
}

// deadLetterMarked dead-letters an event whose idempotency mark is already
// set. If the DLQ insert fails the mark is released before the nack, so the
// redelivery is processed again instead of skipping as a duplicate.
func (c *Consumer) deadLetterMarked(ctx context.Context, msg EventMessage, event payments.GatewayEvent, reason string, attempts int, cause error) Outcome {
	outcome := c.deadLetter(ctx, msg, eventOrderID(event), reason, attempts, cause)
	if outcome == OutcomeRetryLater {
		_ = c.guard.Delete(context.WithoutCancel(ctx), ConsumerName, event.EventID)
	}
	return outcome
}

func (c *Consumer) deadLetter(ctx context.Context, msg EventMessage, orderID *uuid.UUID, reason string, attempts int, cause error) Outcome {
	errMessage := ""
	if cause != nil {
		errMessage = cause.Error()
	}
	row := &models.ReconcileDLQ{
		EventID:      dlqEventID(msg),
		OrderID:      orderID,
		Payload:      msg.Data,
		ErrorMessage: errMessage,
		AttemptCount: attempts,
	}
	if err := c.dlq.Insert(ctx, row); err != nil {
		c.logg.Error(ctx, "dead letter insert failed", err)
		return OutcomeRetryLater
	}
	c.metrics.IncDeadLettered(reason)
	c.metrics.ObserveApply(string(OutcomeDeadLettered), 0)
	lctx := c.logg.WithFields(ctx, map[string]any{"reason": reason, "attempts": attempts})
	c.logg.Error(lctx, "payment event dead lettered", cause)
	return OutcomeDeadLettered
}

func (c *Consumer) backoffFor(attempt int) time.Duration {
	backoff := c.cfg.InitialBackoff
	if backoff <= 0 {
		backoff = 200 * time.Millisecond
	}
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if c.cfg.MaxBackoff > 0 && backoff >= c.cfg.MaxBackoff {
			return c.cfg.MaxBackoff
		}
	}
	return backoff
}

// withJitter spreads retries out by up to 20% either way.
func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	fifth := int64(d) / 5
	if fifth <= 0 {
		return d
	}
	jitter := time.Duration(rand.Int63n(fifth))
	if rand.Intn(2) == 0 {
		return d - jitter
	}
	return d + jitter
}

func eventOrderID(event payments.GatewayEvent) *uuid.UUID {
	if event.OrderID == uuid.Nil {
		return nil
	}
	id := event.OrderID
	return &id
}

// dlqEventID picks a stable key for the dead-letter row even when the payload
// could not be decoded.
func dlqEventID(msg EventMessage) string {
	var event payments.GatewayEvent
	if err := json.Unmarshal(msg.Data, &event); err == nil && event.EventID != "" {
		return event.EventID
	}
	if id := msg.Attributes["event_id"]; id != "" {
		return id
	}
	return msg.ID
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
