package checkout

import (
	"context"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
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

type stubRepo struct {
	created    *models.Order
	nextNumber int64
	createErr  error
}

func (r *stubRepo) WithTx(tx *gorm.DB) orders.Repository { return r }

func (r *stubRepo) Create(ctx context.Context, order *models.Order) (*models.Order, error) {
	if r.createErr != nil {
		return nil, r.createErr
	}
	r.created = order
	return order, nil
}

func (r *stubRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
}

func (r *stubRepo) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Order, error) {
	return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
}

func (r *stubRepo) Update(ctx context.Context, id uuid.UUID, updates map[string]interface{}) error {
	return nil
}

func (r *stubRepo) List(ctx context.Context, filter orders.ListFilter) ([]models.Order, error) {
	return nil, nil
}

func (r *stubRepo) NextOrderNumber(ctx context.Context) (int64, error) {
	r.nextNumber++
	return 1000 + r.nextNumber, nil
}

type stubTxRunner struct{}

func (stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

type stubOutbox struct {
	events []outbox.DomainEvent
}

func (o *stubOutbox) Emit(ctx context.Context, tx *gorm.DB, event outbox.DomainEvent) error {
	o.events = append(o.events, event)
	return nil
}

type stubReserver struct {
	calls         int
	orderID       uuid.UUID
	warehouseCode string
	lines         []inventory.Line
	err           error
}

func (r *stubReserver) Reserve(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, warehouseCode string, lines []inventory.Line) error {
	if r.err != nil {
		return r.err
	}
	r.calls++
	r.orderID = orderID
	r.warehouseCode = warehouseCode
	r.lines = lines
	return nil
}

type fixture struct {
	service  Service
	repo     *stubRepo
	outbox   *stubOutbox
	reserver *stubReserver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := &stubRepo{}
	emitter := &stubOutbox{}
	reserver := &stubReserver{}

	svc, err := NewService(
		repo,
		stubTxRunner{},
		emitter,
		reserver,
		logger.New(logger.Options{ServiceName: "checkout-test", Output: io.Discard}),
	)
	require.NoError(t, err)

	return &fixture{service: svc, repo: repo, outbox: emitter, reserver: reserver}
}

func validInput() CreateOrderInput {
	return CreateOrderInput{
		CustomerRef:   "cust_42",
		WarehouseCode: "WH1",
		PaymentMethod: enums.PaymentMethodGateway,
		Currency:      "usd",
		Lines: []LineInput{
			{SKU: "SKU-A", Name: "Widget", UnitPriceCents: 1500, Qty: 2},
			{SKU: "SKU-B", Name: "Gadget", UnitPriceCents: 700, Qty: 1},
		},
	}
}

func TestExecutePlacesOrder(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)

	order, err := fix.service.Execute(context.Background(), validInput())
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusPending, order.Status)
	assert.Equal(t, enums.OrderPaymentStatusUnpaid, order.PaymentStatus)
	assert.Equal(t, "USD", order.Currency)
	assert.Equal(t, 3700, order.SubtotalCents)
	assert.Equal(t, 3700, order.TotalCents)
	assert.EqualValues(t, 1001, order.OrderNumber)
	require.Len(t, order.Items, 2)
	assert.Equal(t, 3000, order.Items[0].TotalCents)
	assert.Equal(t, order.ID, order.Items[0].OrderID)

	assert.Equal(t, 1, fix.reserver.calls)
	assert.Equal(t, order.ID, fix.reserver.orderID)
	assert.Equal(t, "WH1", fix.reserver.warehouseCode)
	require.Len(t, fix.reserver.lines, 2)
	assert.Equal(t, inventory.Line{SKU: "SKU-A", Qty: 2}, fix.reserver.lines[0])

	require.Len(t, fix.outbox.events, 1)
	event := fix.outbox.events[0]
	assert.Equal(t, enums.EventOrderCreated, event.EventType)
	payload, ok := event.Data.(payloads.OrderCreatedEvent)
	require.True(t, ok)
	assert.Equal(t, order.ID, payload.OrderID)
	assert.Equal(t, 3700, payload.TotalCents)
}

func TestExecuteShortageAbortsCheckout(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	fix.reserver.err = pkgerrors.New(pkgerrors.CodeOutOfStock, "insufficient stock")

	_, err := fix.service.Execute(context.Background(), validInput())
	require.Error(t, err)
	typed := pkgerrors.As(err)
	require.NotNil(t, typed)
	assert.Equal(t, pkgerrors.CodeOutOfStock, typed.Code())

	assert.Nil(t, fix.repo.created)
	assert.Empty(t, fix.outbox.events)
}

func TestExecuteValidation(t *testing.T) {
	t.Parallel()

	mutate := func(fn func(input *CreateOrderInput)) CreateOrderInput {
		input := validInput()
		fn(&input)
		return input
	}

	cases := []struct {
		name  string
		input CreateOrderInput
	}{
		{"missing customer ref", mutate(func(i *CreateOrderInput) { i.CustomerRef = " " })},
		{"missing warehouse", mutate(func(i *CreateOrderInput) { i.WarehouseCode = "" })},
		{"bad payment method", mutate(func(i *CreateOrderInput) { i.PaymentMethod = "check" })},
		{"no lines", mutate(func(i *CreateOrderInput) { i.Lines = nil })},
		{"zero qty", mutate(func(i *CreateOrderInput) { i.Lines[0].Qty = 0 })},
		{"blank sku", mutate(func(i *CreateOrderInput) { i.Lines[1].SKU = "" })},
		{"negative price", mutate(func(i *CreateOrderInput) { i.Lines[0].UnitPriceCents = -1 })},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			fix := newFixture(t)
			_, err := fix.service.Execute(context.Background(), tc.input)
			require.Error(t, err)
			typed := pkgerrors.As(err)
			require.NotNil(t, typed)
			assert.Equal(t, pkgerrors.CodeValidation, typed.Code())
			assert.Equal(t, 0, fix.reserver.calls)
		})
	}
}

func TestExecuteCodOrder(t *testing.T) {
	t.Parallel()

	fix := newFixture(t)
	input := validInput()
	input.PaymentMethod = enums.PaymentMethodCOD

	order, err := fix.service.Execute(context.Background(), input)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentMethodCOD, order.PaymentMethod)
	assert.Equal(t, enums.OrderPaymentStatusUnpaid, order.PaymentStatus)
}
