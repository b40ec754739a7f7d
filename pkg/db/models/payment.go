package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/jmcardona/orderledger/pkg/enums"
)

// Payment is the reconciler's record of a gateway transaction. The unique
// external_txn_id makes webhook replays idempotent at the database layer,
// and a partial unique index enforces at most one paid payment per order.
type Payment struct {
	ID            uuid.UUID           `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	OrderID       uuid.UUID           `gorm:"column:order_id;type:uuid;not null;index"`
	ExternalTxnID string              `gorm:"column:external_txn_id;not null;uniqueIndex"`
	Status        enums.PaymentStatus `gorm:"column:status;type:text;not null;default:'pending'"`
	AmountCents   int                 `gorm:"column:amount_cents;not null"`
	Currency      string              `gorm:"column:currency;not null;default:'USD'"`
	FailureReason *string             `gorm:"column:failure_reason"`
	RawEvent      json.RawMessage     `gorm:"column:raw_event;type:jsonb"`
	ReceivedAt    time.Time           `gorm:"column:received_at;not null"`
	CreatedAt     time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}
