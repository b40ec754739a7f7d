package controllers

import (
	"time"

	"github.com/google/uuid"

	"github.com/jmcardona/orderledger/pkg/db/models"
	"github.com/jmcardona/orderledger/pkg/enums"
)

type orderLineItemResponse struct {
	ID             uuid.UUID `json:"id"`
	SKU            string    `json:"sku"`
	Name           string    `json:"name"`
	UnitPriceCents int       `json:"unit_price_cents"`
	Qty            int       `json:"qty"`
	TotalCents     int       `json:"total_cents"`
}

type orderResponse struct {
	ID            uuid.UUID                `json:"id"`
	OrderNumber   int64                    `json:"order_number"`
	CustomerRef   string                   `json:"customer_ref"`
	Status        enums.OrderStatus        `json:"status"`
	PaymentStatus enums.OrderPaymentStatus `json:"payment_status"`
	PaymentMethod enums.PaymentMethod      `json:"payment_method"`
	Currency      string                   `json:"currency"`
	SubtotalCents int                      `json:"subtotal_cents"`
	TotalCents    int                      `json:"total_cents"`
	WarehouseCode string                   `json:"warehouse_code"`
	Notes         *string                  `json:"notes,omitempty"`
	PaidAt        *time.Time               `json:"paid_at,omitempty"`
	ShippedAt     *time.Time               `json:"shipped_at,omitempty"`
	DeliveredAt   *time.Time               `json:"delivered_at,omitempty"`
	CanceledAt    *time.Time               `json:"canceled_at,omitempty"`
	Items         []orderLineItemResponse  `json:"items,omitempty"`
	CreatedAt     time.Time                `json:"created_at"`
}

func toOrderResponse(order *models.Order) orderResponse {
	items := make([]orderLineItemResponse, 0, len(order.Items))
	for _, item := range order.Items {
		items = append(items, orderLineItemResponse{
			ID:             item.ID,
			SKU:            item.SKU,
			Name:           item.Name,
			UnitPriceCents: item.UnitPriceCents,
			Qty:            item.Qty,
			TotalCents:     item.TotalCents,
		})
	}
	return orderResponse{
		ID:            order.ID,
		OrderNumber:   order.OrderNumber,
		CustomerRef:   order.CustomerRef,
		Status:        order.Status,
		PaymentStatus: order.PaymentStatus,
		PaymentMethod: order.PaymentMethod,
		Currency:      order.Currency,
		SubtotalCents: order.SubtotalCents,
		TotalCents:    order.TotalCents,
		WarehouseCode: order.WarehouseCode,
		Notes:         order.Notes,
		PaidAt:        order.PaidAt,
		ShippedAt:     order.ShippedAt,
		DeliveredAt:   order.DeliveredAt,
		CanceledAt:    order.CanceledAt,
		Items:         items,
		CreatedAt:     order.CreatedAt,
	}
}

type inventoryRecordResponse struct {
	SKU           string    `json:"sku"`
	WarehouseCode string    `json:"warehouse_code"`
	Quantity      int       `json:"quantity"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func toInventoryResponse(record *models.InventoryRecord) inventoryRecordResponse {
	return inventoryRecordResponse{
		SKU:           record.SKU,
		WarehouseCode: record.WarehouseCode,
		Quantity:      record.Quantity,
		UpdatedAt:     record.UpdatedAt,
	}
}

type stockMovementResponse struct {
	ID            uuid.UUID                 `json:"id"`
	SKU           string                    `json:"sku"`
	WarehouseCode string                    `json:"warehouse_code"`
	Delta         int                       `json:"delta"`
	Reason        enums.StockMovementReason `json:"reason"`
	OrderID       *uuid.UUID                `json:"order_id,omitempty"`
	Actor         *string                   `json:"actor,omitempty"`
	CreatedAt     time.Time                 `json:"created_at"`
}

func toMovementResponse(movement models.StockMovement) stockMovementResponse {
	return stockMovementResponse{
		ID:            movement.ID,
		SKU:           movement.SKU,
		WarehouseCode: movement.WarehouseCode,
		Delta:         movement.Delta,
		Reason:        movement.Reason,
		OrderID:       movement.OrderID,
		Actor:         movement.Actor,
		CreatedAt:     movement.CreatedAt,
	}
}
