package reconcile

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jmcardona/orderledger/internal/payments"
	pkgerrors "github.com/jmcardona/orderledger/pkg/errors"
	"github.com/jmcardona/orderledger/pkg/logger"
)

// eventPublisher is satisfied by pubsub.TopicPublisher.
type eventPublisher interface {
	Publish(ctx context.Context, data []byte, attributes map[string]string) (string, error)
}

// Dispatcher hands verified gateway events to the payment-events topic. The
// webhook handler stays thin: verify, dedupe, enqueue, respond.
type Dispatcher struct {
	publisher eventPublisher
	logg      *logger.Logger
}

func NewDispatcher(publisher eventPublisher, logg *logger.Logger) (*Dispatcher, error) {
	if publisher == nil {
		return nil, fmt.Errorf("event publisher required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &Dispatcher{publisher: publisher, logg: logg}, nil
}

// Enqueue publishes the event for asynchronous reconciliation and returns the
// server-assigned message id.
func (d *Dispatcher) Enqueue(ctx context.Context, event payments.GatewayEvent) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode gateway event")
	}

	messageID, err := d.publisher.Publish(ctx, data, map[string]string{
		"event_id":   event.EventID,
		"event_type": event.Type,
		"order_id":   event.OrderID.String(),
	})
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "publish gateway event")
	}

	lctx := d.logg.WithEventID(ctx, event.EventID)
	lctx = d.logg.WithFields(lctx, map[string]any{"message_id": messageID})
	d.logg.Info(lctx, "gateway event enqueued")
	return messageID, nil
}
