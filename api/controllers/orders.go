package controllers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/jmcardona/orderledger/api/responses"
	"github.com/jmcardona/orderledger/api/validators"
	"github.com/jmcardona/orderledger/internal/orders"
	pkgerrors "github.com/jmcardona/orderledger/pkg/errors"
	"github.com/jmcardona/orderledger/pkg/enums"
	"github.com/jmcardona/orderledger/pkg/logger"
)

type transitionRequest struct {
	Target string `json:"target" validate:"required"`
	Reason string `json:"reason" validate:"omitempty,max=500"`
	Actor  string `json:"actor" validate:"omitempty,max=200"`
}

type markPaidRequest struct {
	TxnRef string `json:"txn_ref" validate:"required,max=200"`
	Actor  string `json:"actor" validate:"omitempty,max=200"`
}

func orderIDParam(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "orderId")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid order id").
			WithDetails(map[string]string{"order_id": raw})
	}
	return id, nil
}

// OrderGet returns one order with its line items.
func OrderGet(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.Get(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toOrderResponse(order))
	}
}

// OrderList returns recent orders, optionally filtered by status or customer.
func OrderList(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		filter := orders.ListFilter{
			Status:      r.URL.Query().Get("status"),
			CustomerRef: r.URL.Query().Get("customer_ref"),
		}
		if raw := r.URL.Query().Get("limit"); raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil {
				responses.WriteError(ctx, logg, w,
					pkgerrors.New(pkgerrors.CodeValidation, "limit must be an integer"))
				return
			}
			filter.Limit = limit
		}

		found, err := svc.List(ctx, filter)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		out := make([]orderResponse, 0, len(found))
		for i := range found {
			out = append(out, toOrderResponse(&found[i]))
		}
		responses.WriteSuccess(w, out)
	}
}

// OrderTransition moves an order along the state machine.
func OrderTransition(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req transitionRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		target, err := enums.ParseOrderStatus(req.Target)
		if err != nil {
			responses.WriteError(ctx, logg, w,
				pkgerrors.New(pkgerrors.CodeValidation, "unknown order status").
					WithDetails(map[string]string{"target": req.Target}))
			return
		}

		order, err := svc.Transition(ctx, id, target, orders.TransitionInput{
			Actor:  req.Actor,
			Reason: req.Reason,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toOrderResponse(order))
	}
}

// OrderMarkPaid records an out-of-band settlement against an order.
func OrderMarkPaid(svc orders.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var req markPaidRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		order, err := svc.MarkPaid(ctx, id, orders.MarkPaidInput{
			TxnRef: req.TxnRef,
			Actor:  req.Actor,
		})
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, toOrderResponse(order))
	}
}
