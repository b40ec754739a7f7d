package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/jmcardona/orderledger/pkg/enums"
)

// StockMovement is the append-only audit trail for every ledger adjustment.
// It is written in the same transaction as the quantity change.
type StockMovement struct {
	ID            uuid.UUID                 `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	SKU           string                    `gorm:"column:sku;not null;index:idx_stock_movements_sku_warehouse"`
	WarehouseCode string                    `gorm:"column:warehouse_code;not null;index:idx_stock_movements_sku_warehouse"`
	Delta         int                       `gorm:"column:delta;not null"`
	Reason        enums.StockMovementReason `gorm:"column:reason;type:text;not null"`
	OrderID       *uuid.UUID                `gorm:"column:order_id;type:uuid;index"`
	Actor         *string                   `gorm:"column:actor"`
	CreatedAt     time.Time                 `gorm:"column:created_at;autoCreateTime"`
}
