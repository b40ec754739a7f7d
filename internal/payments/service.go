package payments

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	dbpkg "github.com/jmcardona/orderledger/pkg/db"
	"github.com/jmcardona/orderledger/pkg/db/models"
	"github.com/jmcardona/orderledger/pkg/enums"
	pkgerrors "github.com/jmcardona/orderledger/pkg/errors"
)

// Gateway event types the reconciler understands.
const (
	EventTypePaymentSucceeded = "payment.succeeded"
	EventTypePaymentFailed    = "payment.failed"
)

// GatewayEvent is the normalized shape of a payment gateway webhook.
type GatewayEvent struct {
	EventID       string    `json:"event_id"`
	Type          string    `json:"type"`
	OrderID       uuid.UUID `json:"order_id"`
	ExternalTxnID string    `json:"external_txn_id"`
	AmountCents   int       `json:"amount_cents"`
	Currency      string    `json:"currency"`
	FailureReason string    `json:"failure_reason,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// ApplyHint tells the order state machine what the recorded payment implies.
// A settled payment suggests promoting a pending order to processing; a
// failed payment leaves the order where it is.
type ApplyHint string

const (
	HintNone              ApplyHint = "none"
	HintPromoteProcessing ApplyHint = "promote_processing"
	HintLeavePending      ApplyHint = "leave_pending"
)

// ApplyResult reports what ApplyEvent did. AmountMismatch flags a settled
// payment whose amount differs from the order total; the caller decides
// whether to raise an alert.
type ApplyResult struct {
	Hint             ApplyHint
	AlreadyProcessed bool
	AmountMismatch   bool
	Payment          *models.Payment
}

// Service records gateway payment outcomes. It never mutates orders; order
// status and payment status belong to the state machine.
type Service interface {
	ApplyEvent(ctx context.Context, tx *gorm.DB, order *models.Order, event GatewayEvent) (*ApplyResult, error)
	FindByExternalTxnID(ctx context.Context, externalTxnID string) (*models.Payment, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error)
}

type service struct {
	db *gorm.DB
}

// NewService builds the payment reconciler.
func NewService(db *gorm.DB) (Service, error) {
	if db == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "db handle required")
	}
	return &service{db: db}, nil
}

// ValidateEvent checks the structural invariants of a gateway event.
func ValidateEvent(event GatewayEvent) error {
	if strings.TrimSpace(event.EventID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "event id required")
	}
	if event.OrderID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	if strings.TrimSpace(event.ExternalTxnID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "external transaction id required")
	}
	if event.AmountCents <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	switch event.Type {
	case EventTypePaymentSucceeded, EventTypePaymentFailed:
	default:
		return pkgerrors.New(pkgerrors.CodeValidation, "unsupported event type").
			WithDetails(map[string]any{"type": event.Type})
	}
	return nil
}

// ApplyEvent persists the payment row for the event inside the caller's
// transaction. Replays of the same external transaction id are absorbed via
// the unique index and reported as AlreadyProcessed.
func (s *service) ApplyEvent(ctx context.Context, tx *gorm.DB, order *models.Order, event GatewayEvent) (*ApplyResult, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction required")
	}
	if order == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order required")
	}
	if err := ValidateEvent(event); err != nil {
		return nil, err
	}
	if event.OrderID != order.ID {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "event order id does not match order")
	}

	var existing models.Payment
	err := tx.WithContext(ctx).
		Where("external_txn_id = ?", event.ExternalTxnID).
		First(&existing).Error
	if err == nil {
		return &ApplyResult{Hint: HintNone, AlreadyProcessed: true, Payment: &existing}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "lookup payment")
	}

	// A second settlement under a different transaction id is a conflict,
	// never a silent overwrite.
	if event.Type == EventTypePaymentSucceeded && order.PaymentStatus == enums.OrderPaymentStatusPaid {
		return nil, pkgerrors.New(pkgerrors.CodeOrderAlreadyPaid, "order is already paid").
			WithDetails(map[string]any{"order_id": order.ID, "external_txn_id": event.ExternalTxnID})
	}

	status := enums.PaymentStatusPaid
	hint := HintPromoteProcessing
	var failureReason *string
	if event.Type == EventTypePaymentFailed {
		status = enums.PaymentStatusFailed
		hint = HintLeavePending
		if event.FailureReason != "" {
			reason := event.FailureReason
			failureReason = &reason
		}
	}

	receivedAt := event.OccurredAt
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	raw, err := json.Marshal(event)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode raw event")
	}

	payment := models.Payment{
		ID:            uuid.New(),
		OrderID:       order.ID,
		ExternalTxnID: event.ExternalTxnID,
		Status:        status,
		AmountCents:   event.AmountCents,
		Currency:      currencyOrDefault(event.Currency, order.Currency),
		FailureReason: failureReason,
		RawEvent:      raw,
		ReceivedAt:    receivedAt,
	}
	if err := tx.WithContext(ctx).Create(&payment).Error; err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_payments_external_txn_id") {
			return &ApplyResult{Hint: HintNone, AlreadyProcessed: true}, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert payment")
	}

	result := &ApplyResult{Hint: hint, Payment: &payment}
	if status == enums.PaymentStatusPaid && event.AmountCents != order.TotalCents {
		result.AmountMismatch = true
	}
	return result, nil
}

func (s *service) FindByExternalTxnID(ctx context.Context, externalTxnID string) (*models.Payment, error) {
	if strings.TrimSpace(externalTxnID) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "external transaction id required")
	}
	var payment models.Payment
	err := s.db.WithContext(ctx).
		Where("external_txn_id = ?", externalTxnID).
		First(&payment).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load payment")
	}
	return &payment, nil
}

func (s *service) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]models.Payment, error) {
	if orderID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "order id required")
	}
	var rows []models.Payment
	err := s.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("received_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list payments")
	}
	return rows, nil
}

func currencyOrDefault(eventCurrency, orderCurrency string) string {
	if eventCurrency != "" {
		return eventCurrency
	}
	if orderCurrency != "" {
		return orderCurrency
	}
	return "USD"
}
