package controllers

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/jmcardona/orderledger/api/responses"
	"github.com/jmcardona/orderledger/internal/payments"
	"github.com/jmcardona/orderledger/pkg/db/models"
	"github.com/jmcardona/orderledger/pkg/enums"
	"github.com/jmcardona/orderledger/pkg/logger"
)

type paymentResponse struct {
	ID            uuid.UUID           `json:"id"`
	OrderID       uuid.UUID           `json:"order_id"`
	ExternalTxnID string              `json:"external_txn_id"`
	Status        enums.PaymentStatus `json:"status"`
	AmountCents   int                 `json:"amount_cents"`
	Currency      string              `json:"currency"`
	FailureReason *string             `json:"failure_reason,omitempty"`
	ReceivedAt    time.Time           `json:"received_at"`
}

func toPaymentResponse(payment models.Payment) paymentResponse {
	return paymentResponse{
		ID:            payment.ID,
		OrderID:       payment.OrderID,
		ExternalTxnID: payment.ExternalTxnID,
		Status:        payment.Status,
		AmountCents:   payment.AmountCents,
		Currency:      payment.Currency,
		FailureReason: payment.FailureReason,
		ReceivedAt:    payment.ReceivedAt,
	}
}

// OrderPayments lists the gateway payments recorded against an order.
func OrderPayments(svc payments.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		id, err := orderIDParam(r)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		found, err := svc.ListByOrder(ctx, id)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		out := make([]paymentResponse, 0, len(found))
		for _, payment := range found {
			out = append(out, toPaymentResponse(payment))
		}
		responses.WriteSuccess(w, out)
	}
}
