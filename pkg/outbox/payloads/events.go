package payloads

import (
	"time"

	"github.com/google/uuid"

	"github.com/jmcardona/orderledger/pkg/enums"
)

// OrderCreatedEvent signals a new order with its reserved line items.
type OrderCreatedEvent struct {
	OrderID       uuid.UUID           `json:"order_id"`
	OrderNumber   int64               `json:"order_number"`
	CustomerRef   string              `json:"customer_ref"`
	PaymentMethod enums.PaymentMethod `json:"payment_method"`
	TotalCents    int                 `json:"total_cents"`
	Currency      string              `json:"currency"`
	WarehouseCode string              `json:"warehouse_code"`
}

// OrderStateChangedEvent is emitted on every successful status transition.
type OrderStateChangedEvent struct {
	OrderID       uuid.UUID                `json:"order_id"`
	FromStatus    enums.OrderStatus        `json:"from_status"`
	ToStatus      enums.OrderStatus        `json:"to_status"`
	PaymentStatus enums.OrderPaymentStatus `json:"payment_status"`
	OccurredAt    time.Time                `json:"occurred_at"`
}

// OrderCanceledEvent is emitted when an order is canceled before delivery.
type OrderCanceledEvent struct {
	OrderID    uuid.UUID         `json:"order_id"`
	FromStatus enums.OrderStatus `json:"from_status"`
	CanceledAt time.Time         `json:"canceled_at"`
	Reason     string            `json:"reason,omitempty"`
}

// OrderDeliveredEvent surfaces completed deliveries, including COD settlement.
type OrderDeliveredEvent struct {
	OrderID       uuid.UUID                `json:"order_id"`
	DeliveredAt   time.Time                `json:"delivered_at"`
	PaymentStatus enums.OrderPaymentStatus `json:"payment_status"`
	CodSettled    bool                     `json:"cod_settled"`
}

// PaymentRecordedEvent reports a successfully reconciled gateway payment.
type PaymentRecordedEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	PaymentID     uuid.UUID `json:"payment_id"`
	ExternalTxnID string    `json:"external_txn_id"`
	AmountCents   int       `json:"amount_cents"`
	Currency      string    `json:"currency"`
	ReceivedAt    time.Time `json:"received_at"`
}

// PaymentFailedEvent reports a failed gateway payment attempt.
type PaymentFailedEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	PaymentID     uuid.UUID `json:"payment_id"`
	ExternalTxnID string    `json:"external_txn_id"`
	AmountCents   int       `json:"amount_cents"`
	FailureReason string    `json:"failure_reason,omitempty"`
}

// ReservationReleasedEvent reports stock returned to the ledger after a cancel.
type ReservationReleasedEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	WarehouseCode string    `json:"warehouse_code"`
	SKUs          []string  `json:"skus"`
	ReleasedAt    time.Time `json:"released_at"`
}

// ReconciliationAlertEvent flags a payment outcome that could not be applied
// to the order it references, for operator review.
type ReconciliationAlertEvent struct {
	OrderID       uuid.UUID `json:"order_id"`
	ExternalTxnID string    `json:"external_txn_id,omitempty"`
	Reason        string    `json:"reason"`
	Detail        string    `json:"detail,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}
