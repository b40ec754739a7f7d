package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/jmcardona/orderledger/api/responses"
	"github.com/jmcardona/orderledger/internal/payments"
	"github.com/jmcardona/orderledger/pkg/config"
	pkgerrors "github.com/jmcardona/orderledger/pkg/errors"
	"github.com/jmcardona/orderledger/pkg/logger"
)

// WebhookConsumer is the idempotency namespace for the webhook endpoint.
const WebhookConsumer = "payment-webhook"

type signatureVerifier interface {
	Verify(payload []byte, header string) error
}

type webhookGuard interface {
	CheckAndMarkProcessed(ctx context.Context, consumer, eventID string) (bool, error)
	Delete(ctx context.Context, consumer, eventID string) error
}

type eventDispatcher interface {
	Enqueue(ctx context.Context, event payments.GatewayEvent) (string, error)
}

// PaymentWebhook ingests gateway callbacks. It verifies the signature,
// dedupes on the gateway event id, and enqueues for asynchronous
// reconciliation. It never touches orders or payments directly.
func PaymentWebhook(
	verifier signatureVerifier,
	guard webhookGuard,
	dispatcher eventDispatcher,
	gateway config.GatewayConfig,
	logg *logger.Logger,
) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if verifier == nil || guard == nil || dispatcher == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook pipeline unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		if err := verifier.Verify(payload, r.Header.Get(gateway.SignatureHeader)); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		var event payments.GatewayEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode gateway event"))
			return
		}
		if err := payments.ValidateEvent(event); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		eventID := strings.TrimSpace(event.EventID)
		lctx := ctx
		if logg != nil {
			lctx = logg.WithEventID(ctx, eventID)
		}

		alreadyProcessed, err := guard.CheckAndMarkProcessed(lctx, WebhookConsumer, eventID)
		if err != nil {
			responses.WriteError(lctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			responses.WriteSuccess(w, map[string]string{"status": "duplicate"})
			return
		}

		if _, err := dispatcher.Enqueue(lctx, event); err != nil {
			// Drop the mark so the gateway's retry is not mistaken for a
			// duplicate of a delivery that never got queued.
			_ = guard.Delete(lctx, WebhookConsumer, eventID)
			responses.WriteError(lctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(lctx, "gateway webhook accepted")
		}
		responses.WriteSuccessStatus(w, http.StatusAccepted, map[string]string{"status": "queued"})
	}
}
