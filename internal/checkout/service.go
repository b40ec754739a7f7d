package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/jmcardona/orderledger/internal/inventory"
	"github.com/jmcardona/orderledger/internal/orders"
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
}

type stockReserver interface {
	Reserve(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, warehouseCode string, lines []inventory.Line) error
}

// LineInput is one cart line on an incoming order.
type LineInput struct {
	SKU            string
	Name           string
	UnitPriceCents int
	Qty            int
}

// CreateOrderInput is everything needed to place an order.
type CreateOrderInput struct {
	CustomerRef   string
	WarehouseCode string
	PaymentMethod enums.PaymentMethod
	Currency      string
	Notes         *string
	Lines         []LineInput
}

// Service places orders: stock is reserved and the order row written in a
// single transaction, so a shortage on any line aborts the whole checkout.
type Service interface {
	Execute(ctx context.Context, input CreateOrderInput) (*models.Order, error)
}

type service struct {
	repo      orders.Repository
	tx        txRunner
	outbox    outboxEmitter
	inventory stockReserver
	logg      *logger.Logger
}

// NewService builds the checkout service.
func NewService(
	repo orders.Repository,
	tx txRunner,
	emitter outboxEmitter,
	reserver stockReserver,
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
	if reserver == nil {
		return nil, fmt.Errorf("stock reserver required")
	}
	if logg == nil {
		return nil, fmt.Errorf("logger required")
	}
	return &service{repo: repo, tx: tx, outbox: emitter, inventory: reserver, logg: logg}, nil
}

func (s *service) Execute(ctx context.Context, input CreateOrderInput) (*models.Order, error) {
	if err := validateInput(input); err != nil {
		return nil, err
	}

	orderID := uuid.New()
	subtotal := 0
	items := make([]models.OrderLineItem, 0, len(input.Lines))
	reserveLines := make([]inventory.Line, 0, len(input.Lines))
	for _, line := range input.Lines {
		lineTotal := line.UnitPriceCents * line.Qty
		subtotal += lineTotal
		items = append(items, models.OrderLineItem{
			ID:             uuid.New(),
			OrderID:        orderID,
			SKU:            line.SKU,
			Name:           line.Name,
			UnitPriceCents: line.UnitPriceCents,
			Qty:            line.Qty,
			TotalCents:     lineTotal,
		})
		reserveLines = append(reserveLines, inventory.Line{SKU: line.SKU, Qty: line.Qty})
	}

	currency := strings.ToUpper(strings.TrimSpace(input.Currency))
	if currency == "" {
		currency = "USD"
	}

	var created *models.Order
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		number, err := repo.NextOrderNumber(ctx)
		if err != nil {
			return err
		}

		// Reserve first so a shortage aborts before the order row exists.
		if err := s.inventory.Reserve(ctx, tx, orderID, input.WarehouseCode, reserveLines); err != nil {
			return err
		}

		order := &models.Order{
			ID:            orderID,
			OrderNumber:   number,
			CustomerRef:   input.CustomerRef,
			Status:        enums.OrderStatusPending,
			PaymentStatus: enums.OrderPaymentStatusUnpaid,
			PaymentMethod: input.PaymentMethod,
			Currency:      currency,
			SubtotalCents: subtotal,
			TotalCents:    subtotal,
			WarehouseCode: input.WarehouseCode,
			Notes:         input.Notes,
			Items:         items,
		}
		if _, err := repo.Create(ctx, order); err != nil {
			return err
		}

		if err := s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventOrderCreated,
			AggregateType: enums.AggregateOrder,
			AggregateID:   order.ID,
			OccurredAt:    time.Now().UTC(),
			Data: payloads.OrderCreatedEvent{
				OrderID:       order.ID,
				OrderNumber:   order.OrderNumber,
				CustomerRef:   order.CustomerRef,
				PaymentMethod: order.PaymentMethod,
				TotalCents:    order.TotalCents,
				Currency:      order.Currency,
				WarehouseCode: order.WarehouseCode,
			},
		}); err != nil {
			return err
		}

		created = order
		return nil
	})
	if err != nil {
		return nil, err
	}

	lctx := s.logg.WithOrderID(ctx, created.ID.String())
	lctx = s.logg.WithFields(lctx, map[string]any{
		"order_number": created.OrderNumber,
		"total_cents":  created.TotalCents,
	})
	s.logg.Info(lctx, "order placed")
	return created, nil
}

func validateInput(input CreateOrderInput) error {
	if strings.TrimSpace(input.CustomerRef) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer ref required")
	}
	if strings.TrimSpace(input.WarehouseCode) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "warehouse code required")
	}
	if !input.PaymentMethod.IsValid() {
		return pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method").
			WithDetails(map[string]string{"payment_method": string(input.PaymentMethod)})
	}
	if len(input.Lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one line required")
	}
	for i, line := range input.Lines {
		if strings.TrimSpace(line.SKU) == "" {
			return pkgerrors.New(pkgerrors.CodeValidation, "line sku required").
				WithDetails(map[string]int{"line": i})
		}
		if line.Qty <= 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "line qty must be positive").
				WithDetails(map[string]int{"line": i})
		}
		if line.UnitPriceCents < 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "line price cannot be negative").
				WithDetails(map[string]int{"line": i})
		}
	}
	return nil
}
