package controllers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/jmcardona/orderledger/api/responses"
	"github.com/jmcardona/orderledger/api/validators"
	"github.com/jmcardona/orderledger/internal/inventory"
	"github.com/jmcardona/orderledger/pkg/enums"
	pkgerrors "github.com/jmcardona/orderledger/pkg/errors"
	"github.com/jmcardona/orderledger/pkg/logger"
)

type adjustmentRequest struct {
	SKU           string `json:"sku" validate:"required"`
	WarehouseCode string `json:"warehouse_code" validate:"required"`
	Delta         int    `json:"delta" validate:"required"`
	Reason        string `json:"reason" validate:"required,oneof=restock admin_adjustment"`
	Actor         string `json:"actor" validate:"omitempty,max=200"`
}

// InventoryAdjust applies a manual ledger adjustment. Reservation and release
// reasons are reserved for the order lifecycle and rejected here.
func InventoryAdjust(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req adjustmentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		reason, err := enums.ParseStockMovementReason(req.Reason)
		if err != nil {
			responses.WriteError(ctx, logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "invalid movement reason").
					WithDetails(map[string]string{"reason": req.Reason}))
			return
		}

		input := inventory.AdjustInput{
			SKU:           req.SKU,
			WarehouseCode: req.WarehouseCode,
			Delta:         req.Delta,
			Reason:        reason,
		}
		if req.Actor != "" {
			input.Actor = &req.Actor
		}

		record, err := svc.Adjust(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toInventoryResponse(record))
	}
}

// InventoryGet returns one SKU's on-hand quantity in a warehouse.
func InventoryGet(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		record, err := svc.Get(ctx, chi.URLParam(r, "sku"), chi.URLParam(r, "warehouseCode"))
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toInventoryResponse(record))
	}
}

// InventoryList returns records for a warehouse.
func InventoryList(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w,
					pkgerrors.New(pkgerrors.CodeValidation, "limit must be an integer"))
				return
			}
			limit = parsed
		}

		records, err := svc.List(ctx, chi.URLParam(r, "warehouseCode"), limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		out := make([]inventoryRecordResponse, 0, len(records))
		for i := range records {
			out = append(out, toInventoryResponse(&records[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

// InventoryMovements returns the audit trail for one SKU in a warehouse.
func InventoryMovements(svc inventory.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w,
					pkgerrors.New(pkgerrors.CodeValidation, "limit must be an integer"))
				return
			}
			limit = parsed
		}

		movements, err := svc.Movements(ctx, chi.URLParam(r, "sku"), chi.URLParam(r, "warehouseCode"), limit)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		out := make([]stockMovementResponse, 0, len(movements))
		for _, movement := range movements {
			out = append(out, toMovementResponse(movement))
		}
		responses.WriteSuccess(w, out)
	}
}
