package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/jmcardona/orderledger/pkg/enums"
)

// Order is the aggregate root driven by the order state machine. Status and
// payment status are only ever mutated through a transition, never directly
// by webhook ingestion.
type Order struct {
	ID            uuid.UUID                `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderNumber   int64                    `gorm:"column:order_number;not null"`
	CustomerRef   string                   `gorm:"column:customer_ref;not null"`
	Status        enums.OrderStatus        `gorm:"column:status;type:text;not null;default:'pending'"`
	PaymentStatus enums.OrderPaymentStatus `gorm:"column:payment_status;type:text;not null;default:'unpaid'"`
	PaymentMethod enums.PaymentMethod      `gorm:"column:payment_method;type:text;not null;default:'gateway'"`
	Currency      string                   `gorm:"column:currency;not null;default:'USD'"`
	SubtotalCents int                      `gorm:"column:subtotal_cents;not null"`
	TotalCents    int                      `gorm:"column:total_cents;not null"`
	WarehouseCode string                   `gorm:"column:warehouse_code;not null"`
	Notes         *string                  `gorm:"column:notes"`
	PaidAt        *time.Time               `gorm:"column:paid_at"`
	ShippedAt     *time.Time               `gorm:"column:shipped_at"`
	DeliveredAt   *time.Time               `gorm:"column:delivered_at"`
	CanceledAt    *time.Time               `gorm:"column:canceled_at"`
	Items         []OrderLineItem          `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	Payments      []Payment                `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE"`
	CreatedAt     time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
