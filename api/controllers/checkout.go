package controllers

import (
	"net/http"

	"github.com/jmcardona/orderledger/api/responses"
	"github.com/jmcardona/orderledger/api/validators"
	"github.com/jmcardona/orderledger/internal/checkout"
	"github.com/jmcardona/orderledger/pkg/enums"
	"github.com/jmcardona/orderledger/pkg/logger"
)

type checkoutLineRequest struct {
	SKU            string `json:"sku" validate:"required"`
	Name           string `json:"name" validate:"required"`
	UnitPriceCents int    `json:"unit_price_cents" validate:"min=0"`
	Qty            int    `json:"qty" validate:"gt=0"`
}

type checkoutRequest struct {
	CustomerRef   string                `json:"customer_ref" validate:"required"`
	WarehouseCode string                `json:"warehouse_code" validate:"required"`
	PaymentMethod string                `json:"payment_method" validate:"required,oneof=cod gateway"`
	Currency      string                `json:"currency" validate:"omitempty,len=3"`
	Notes         *string               `json:"notes"`
	Lines         []checkoutLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// CheckoutCreate places a new order, reserving stock for every line.
func CheckoutCreate(svc checkout.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		var req checkoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		lines := make([]checkout.LineInput, 0, len(req.Lines))
		for _, line := range req.Lines {
			lines = append(lines, checkout.LineInput{
				SKU:            line.SKU,
				Name:           line.Name,
				UnitPriceCents: line.UnitPriceCents,
				Qty:            line.Qty,
			})
		}

		order, err := svc.Execute(ctx, checkout.CreateOrderInput{
			CustomerRef:   req.CustomerRef,
			WarehouseCode: req.WarehouseCode,
			PaymentMethod: enums.PaymentMethod(req.PaymentMethod),
			Currency:      req.Currency,
			Notes:         req.Notes,
			Lines:         lines,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, toOrderResponse(order))
	}
}
