package models

import "time"

// InventoryRecord tracks on-hand quantity per SKU and warehouse. Quantity is
// only mutated through conditional updates so it can never go negative.
type InventoryRecord struct {
	SKU           string    `gorm:"column:sku;primaryKey"`
	WarehouseCode string    `gorm:"column:warehouse_code;primaryKey"`
	Quantity      int       `gorm:"column:quantity;not null;default:0"`
	UpdatedAt     time.Time `gorm:"column:updated_at;autoUpdateTime"`
}
