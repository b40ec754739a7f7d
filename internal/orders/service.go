package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jmcardona/orderledger/internal/inventory"
	"github.com/jmcardona/orderledger/internal/payments"
	"github.com/jmcardona/orderledger/pkg/config"
	"github.com/jmcardona/orderledger/pkg/db/models"
	"github.com/jmcardona/orderledger/pkg/enums"
	pkgerrors "github.com/jmcardona/orderledger/pkg/errors"
	"github.com/jmcardona/orderledger/pkg/logger"
	"github.com/jmcardona/orderledger/pkg/outbox"
	"github.com/jmcardona/orderledger/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxEmitter interface {
	Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
	EmitIfNotExists(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error
}

type inventoryReleaser interface {
	Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, warehouseCode string, lines []inventory.Line) error
}

type paymentApplier interface {
	ApplyEvent(ctx context.Context, tx *gorm.DB, order *models.Order, event payments.GatewayEvent) (*payments.ApplyResult, error)
}

// TransitionInput carries who requested a transition and why.
type TransitionInput struct {
	Actor  string
	Reason string
}

// MarkPaidInput records an out-of-band settlement, typically COD cash
// collected by the courier.
type MarkPaidInput struct {
	TxnRef string
	Actor  string
}

// Service drives the order state machine. Every status or payment status
// mutation goes through here, inside a transaction holding the order row lock.
type Service interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Order, error)
	List(ctx context.Context, filter ListFilter) ([]models.Order, error)
	Transition(ctx context.Context, id uuid.UUID, target enums.OrderStatus, input TransitionInput) (*models.Order, error)
	MarkPaid(ctx context.Context, id uuid.UUID, input MarkPaidInput) (*models.Order, error)
	// ApplyPaymentOutcome records a gateway event against its order and
	// applies the resulting hint to the state machine, all in one
	// transaction.
	ApplyPaymentOutcome(ctx context.Context, event payments.GatewayEvent) (*models.Order, error)
}

type service struct {
	repo          Repository
	tx            txRunner
	outbox        outboxEmitter
	inventory     inventoryReleaser
	payments      paymentApplier
	codSettleFrom enums.OrderStatus
	logg          *logger.Logger
}

// NewService builds the order state machine service.
func NewService(
	repo Repository,
	tx txRunner,
	emitter outboxEmitter,
	releaser inventoryReleaser,
	applier paymentApplier,
	cfg config.OrdersConfig,
	logg *logger.Logger,
) (Service, error) {
	if repo == nil {
		return nil, fmt.Errorf("orders repository required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	if emitter == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	if releaser == nil {
		return nil, fmt.Errorf("inventory releaser required")
	}
	if applier == nil {
		return nil, fmt.Errorf("payment applier required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}

	settleFrom := enums.OrderStatus(cfg.CodSettleFrom)
	if _, ok := stageRank[settleFrom]; !ok {
		return nil, fmt.Errorf("invalid cod settle-from status %q", cfg.CodSettleFrom)
	}

	return &service{
		repo:          repo,
		tx:            tx,
		outbox:        emitter,
		inventory:     releaser,
		payments:      applier,
		codSettleFrom: settleFrom,
		logg:          logg,
	}, nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return s.repo.FindByID(ctx, id)
}

func (s *service) List(ctx context.Context, filter ListFilter) ([]models.Order, error) {
	return s.repo.List(ctx, filter)
}

// Transition moves the order to target if the edge is legal and its guards
// hold. Cancelling releases every line item reservation in the same
// transaction; delivering a COD order settles its payment in place.
func (s *service) Transition(ctx context.Context, id uuid.UUID, target enums.OrderStatus, input TransitionInput) (*models.Order, error) {
	if !target.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown order status").
			WithDetails(map[string]string{"status": target.String()})
	}

	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		order, err := repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if order.Status == enums.OrderStatusCancelled {
			return pkgerrors.New(pkgerrors.CodeAlreadyCanceled, "order is already canceled")
		}
		if !CanTransition(order.Status, target) {
			return pkgerrors.New(pkgerrors.CodeInvalidTransition, "transition not allowed").
				WithDetails(map[string]string{
					"from": order.Status.String(),
					"to":   target.String(),
				})
		}

		now := time.Now().UTC()
		from := order.Status
		updates := map[string]interface{}{"status": target}
		codSettled := false

		switch target {
		case enums.OrderStatusShipping:
			updates["shipped_at"] = now
			order.ShippedAt = &now
		case enums.OrderStatusDelivered:
			if order.PaymentStatus != enums.OrderPaymentStatusPaid {
				if order.PaymentMethod != enums.PaymentMethodCOD {
					return pkgerrors.New(pkgerrors.CodePaymentRequired, "order must be paid before delivery")
				}
				codSettled = true
				updates["payment_status"] = enums.OrderPaymentStatusPaid
				updates["paid_at"] = now
				order.PaymentStatus = enums.OrderPaymentStatusPaid
				order.PaidAt = &now
			}
			updates["delivered_at"] = now
			order.DeliveredAt = &now
		case enums.OrderStatusCancelled:
			updates["canceled_at"] = now
			order.CanceledAt = &now
			if err := s.releaseReservations(ctx, tx, order); err != nil {
				return err
			}
		}

		if err := repo.Update(ctx, order.ID, updates); err != nil {
			return err
		}
		order.Status = target

		actor := actorRef(input.Actor)
		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderStateChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actor,
			Data: payloads.OrderStateChangedEvent{
				OrderID:       order.ID,
				FromStatus:    from,
				ToStatus:      target,
				PaymentStatus: order.PaymentStatus,
				OccurredAt:    now,
			},
		}); err != nil {
			return err
		}

		switch target {
		case enums.OrderStatusCancelled:
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderCanceled,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Actor:         actor,
				Data: payloads.OrderCanceledEvent{
					OrderID:    order.ID,
					FromStatus: from,
					CanceledAt: now,
					Reason:     input.Reason,
				},
			}); err != nil {
				return err
			}
			if len(order.Items) > 0 {
				if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
					EventType:     enums.EventReservationReleased,
					AggregateType: enums.AggregateInventoryRecord,
					AggregateID:   order.ID,
					Actor:         actor,
					Data: payloads.ReservationReleasedEvent{
						OrderID:       order.ID,
						WarehouseCode: order.WarehouseCode,
						SKUs:          lineSKUs(order.Items),
						ReleasedAt:    now,
					},
				}); err != nil {
					return err
				}
			}
		case enums.OrderStatusDelivered:
			if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventOrderDelivered,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Actor:         actor,
				Data: payloads.OrderDeliveredEvent{
					OrderID:       order.ID,
					DeliveredAt:   now,
					PaymentStatus: order.PaymentStatus,
					CodSettled:    codSettled,
				},
			}); err != nil {
				return err
			}
		}

		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	lctx := s.logg.WithOrderID(ctx, id.String())
	lctx = s.logg.WithFields(lctx, map[string]any{"to_status": target.String()})
	s.logg.Info(lctx, "order transitioned")
	return result, nil
}

// MarkPaid settles an order out of band. COD orders may only settle once they
// have reached the configured stage of the lifecycle.
func (s *service) MarkPaid(ctx context.Context, id uuid.UUID, input MarkPaidInput) (*models.Order, error) {
	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		order, err := repo.FindByIDForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if order.Status == enums.OrderStatusCancelled {
			return pkgerrors.New(pkgerrors.CodeAlreadyCanceled, "order is already canceled")
		}
		if order.PaymentStatus == enums.OrderPaymentStatusPaid {
			return pkgerrors.New(pkgerrors.CodeOrderAlreadyPaid, "order is already paid")
		}
		if order.PaymentMethod == enums.PaymentMethodCOD && !atOrPastStage(order.Status, s.codSettleFrom) {
			return pkgerrors.New(pkgerrors.CodeCodViolation, "cod order cannot settle yet").
				WithDetails(map[string]string{
					"status":      order.Status.String(),
					"settle_from": s.codSettleFrom.String(),
				})
		}

		now := time.Now().UTC()
		if err := repo.Update(ctx, order.ID, map[string]interface{}{
			"payment_status": enums.OrderPaymentStatusPaid,
			"paid_at":        now,
		}); err != nil {
			return err
		}
		order.PaymentStatus = enums.OrderPaymentStatusPaid
		order.PaidAt = &now

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentRecorded,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Actor:         actorRef(input.Actor),
			Data: payloads.PaymentRecordedEvent{
				OrderID:       order.ID,
				ExternalTxnID: input.TxnRef,
				AmountCents:   order.TotalCents,
				Currency:      order.Currency,
				ReceivedAt:    now,
			},
		}); err != nil {
			return err
		}

		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	lctx := s.logg.WithOrderID(ctx, id.String())
	s.logg.Info(lctx, "order marked paid")
	return result, nil
}

// ApplyPaymentOutcome is the reconciliation entry point. The payment record
// and the hint it implies are applied atomically so a crash can never leave
// a recorded payment without its order-side effect.
func (s *service) ApplyPaymentOutcome(ctx context.Context, event payments.GatewayEvent) (*models.Order, error) {
	var result *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		order, err := repo.FindByIDForUpdate(ctx, event.OrderID)
		if err != nil {
			return err
		}

		applied, err := s.payments.ApplyEvent(ctx, tx, order, event)
		if err != nil {
			return err
		}
		if applied.AlreadyProcessed {
			result = order
			return nil
		}

		now := time.Now().UTC()
		if applied.Payment != nil {
			if err := s.emitPaymentEvent(ctx, tx, order, applied.Payment); err != nil {
				return err
			}
		}
		if applied.AmountMismatch && applied.Payment != nil {
			if err := s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventReconciliationAlert,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Data: payloads.ReconciliationAlertEvent{
					OrderID:       order.ID,
					ExternalTxnID: applied.Payment.ExternalTxnID,
					Reason:        "amount_mismatch",
					Detail: fmt.Sprintf("payment %d does not match order total %d",
						applied.Payment.AmountCents, order.TotalCents),
					OccurredAt: now,
				},
			}); err != nil {
				return err
			}
		}

		if err := s.applyHint(ctx, tx, repo, order, applied, now); err != nil {
			return err
		}

		result = order
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// applyHint folds a payment outcome into the order row. A cancelled order
// absorbs a settlement silently, keeping the payment record, and raises a
// reconciliation alert instead of reviving the order.
func (s *service) applyHint(ctx context.Context, tx *gorm.DB, repo Repository, order *models.Order, applied *payments.ApplyResult, now time.Time) error {
	switch applied.Hint {
	case payments.HintPromoteProcessing:
		if order.Status == enums.OrderStatusCancelled {
			txnID := ""
			if applied.Payment != nil {
				txnID = applied.Payment.ExternalTxnID
			}
			return s.outbox.EmitIfNotExists(ctx, tx, outbox.DomainEvent{
				EventType:     enums.EventReconciliationAlert,
				AggregateType: enums.AggregateOrder,
				AggregateID:   order.ID,
				Data: payloads.ReconciliationAlertEvent{
					OrderID:       order.ID,
					ExternalTxnID: txnID,
					Reason:        "payment_on_canceled_order",
					Detail:        "settled payment recorded against a canceled order",
					OccurredAt:    now,
				},
			})
		}

		updates := map[string]interface{}{
			"payment_status": enums.OrderPaymentStatusPaid,
			"paid_at":        now,
		}
		from := order.Status
		promote := order.Status == enums.OrderStatusPending && CanTransition(order.Status, enums.OrderStatusProcessing)
		if promote {
			updates["status"] = enums.OrderStatusProcessing
		}
		if err := repo.Update(ctx, order.ID, updates); err != nil {
			return err
		}
		order.PaymentStatus = enums.OrderPaymentStatusPaid
		order.PaidAt = &now
		if !promote {
			return nil
		}
		order.Status = enums.OrderStatusProcessing
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderStateChanged,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			Data: payloads.OrderStateChangedEvent{
				OrderID:       order.ID,
				FromStatus:    from,
				ToStatus:      enums.OrderStatusProcessing,
				PaymentStatus: order.PaymentStatus,
				OccurredAt:    now,
			},
		})

	case payments.HintLeavePending:
		// A failed attempt never downgrades a settled order.
		if order.PaymentStatus != enums.OrderPaymentStatusUnpaid {
			return nil
		}
		if err := repo.Update(ctx, order.ID, map[string]interface{}{
			"payment_status": enums.OrderPaymentStatusFailed,
		}); err != nil {
			return err
		}
		order.PaymentStatus = enums.OrderPaymentStatusFailed
		return nil
	}

	return nil
}

func (s *service) emitPaymentEvent(ctx context.Context, tx *gorm.DB, order *models.Order, payment *models.Payment) error {
	if payment.Status == enums.PaymentStatusPaid {
		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentRecorded,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Data: payloads.PaymentRecordedEvent{
				OrderID:       order.ID,
				PaymentID:     payment.ID,
				ExternalTxnID: payment.ExternalTxnID,
				AmountCents:   payment.AmountCents,
				Currency:      payment.Currency,
				ReceivedAt:    payment.ReceivedAt,
			},
		})
	}
	failure := ""
	if payment.FailureReason != nil {
		failure = *payment.FailureReason
	}
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentFailed,
		AggregateType: enums.AggregatePayment,
		AggregateID:   payment.ID,
		Data: payloads.PaymentFailedEvent{
			OrderID:       order.ID,
			PaymentID:     payment.ID,
			ExternalTxnID: payment.ExternalTxnID,
			AmountCents:   payment.AmountCents,
			FailureReason: failure,
		},
	})
}

func (s *service) releaseReservations(ctx context.Context, tx *gorm.DB, order *models.Order) error {
	if len(order.Items) == 0 {
		return nil
	}
	lines := make([]inventory.Line, 0, len(order.Items))
	for _, item := range order.Items {
		lines = append(lines, inventory.Line{SKU: item.SKU, Qty: item.Qty})
	}
	return s.inventory.Release(ctx, tx, order.ID, order.WarehouseCode, lines)
}

func lineSKUs(items []models.OrderLineItem) []string {
	skus := make([]string, 0, len(items))
	for _, item := range items {
		skus = append(skus, item.SKU)
	}
	return skus
}

func actorRef(name string) *outbox.ActorRef {
	if name == "" {
		return nil
	}
	return &outbox.ActorRef{Name: name, Source: "api"}
}
