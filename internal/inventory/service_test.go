package inventory

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/jmcardona/orderledger/pkg/db/models"
	"github.com/jmcardona/orderledger/pkg/enums"
	pkgerrors "github.com/jmcardona/orderledger/pkg/errors"
	"github.com/jmcardona/orderledger/pkg/metrics"
)

type testTxRunner struct {
	db *gorm.DB
}

func (r testTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:inventory_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(&models.InventoryRecord{}); err != nil {
		t.Fatalf("migrate inventory: %v", err)
	}
	movements := `
CREATE TABLE IF NOT EXISTS stock_movements (
  id TEXT PRIMARY KEY,
  sku TEXT NOT NULL,
  warehouse_code TEXT NOT NULL,
  delta INTEGER NOT NULL,
  reason TEXT NOT NULL,
  order_id TEXT,
  actor TEXT,
  created_at DATETIME
);`
	if err := db.Exec(movements).Error; err != nil {
		t.Fatalf("create stock_movements: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (Service, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	svc, err := NewService(db, testTxRunner{db: db}, metrics.NewReconcileMetrics(nil))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return svc, db
}

func seedRecord(t *testing.T, db *gorm.DB, sku, warehouse string, qty int) {
	t.Helper()
	record := models.InventoryRecord{SKU: sku, WarehouseCode: warehouse, Quantity: qty}
	if err := db.Create(&record).Error; err != nil {
		t.Fatalf("seed inventory: %v", err)
	}
}

func TestAdjustRestockCreatesRecord(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()

	record, err := svc.Adjust(ctx, AdjustInput{
		SKU:           "SKU-100",
		WarehouseCode: "WH-1",
		Delta:         25,
		Reason:        enums.StockMovementReasonRestock,
	})
	if err != nil {
		t.Fatalf("adjust: %v", err)
	}
	if record.Quantity != 25 {
		t.Fatalf("expected quantity 25, got %d", record.Quantity)
	}

	var movements []models.StockMovement
	if err := db.Find(&movements).Error; err != nil {
		t.Fatalf("load movements: %v", err)
	}
	if len(movements) != 1 {
		t.Fatalf("expected 1 movement, got %d", len(movements))
	}
	if movements[0].Delta != 25 || movements[0].Reason != enums.StockMovementReasonRestock {
		t.Fatalf("unexpected movement: %+v", movements[0])
	}
}

func TestAdjustRestockAccumulates(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := svc.Adjust(ctx, AdjustInput{
			SKU:           "SKU-200",
			WarehouseCode: "WH-1",
			Delta:         10,
			Reason:        enums.StockMovementReasonRestock,
		}); err != nil {
			t.Fatalf("adjust %d: %v", i, err)
		}
	}

	record, err := svc.Get(ctx, "SKU-200", "WH-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Quantity != 30 {
		t.Fatalf("expected quantity 30, got %d", record.Quantity)
	}
}

func TestAdjustNeverGoesNegative(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()
	seedRecord(t, db, "SKU-300", "WH-1", 5)

	_, err := svc.Adjust(ctx, AdjustInput{
		SKU:           "SKU-300",
		WarehouseCode: "WH-1",
		Delta:         -6,
		Reason:        enums.StockMovementReasonFulfillment,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeOutOfStock {
		t.Fatalf("expected OUT_OF_STOCK, got %v", err)
	}

	record, err := svc.Get(ctx, "SKU-300", "WH-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Quantity != 5 {
		t.Fatalf("expected quantity unchanged at 5, got %d", record.Quantity)
	}

	var count int64
	if err := db.Model(&models.StockMovement{}).Count(&count).Error; err != nil {
		t.Fatalf("count movements: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no movements after failed adjust, got %d", count)
	}
}

func TestAdjustLastUnitRace(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()
	seedRecord(t, db, "SKU-400", "WH-1", 1)

	input := AdjustInput{
		SKU:           "SKU-400",
		WarehouseCode: "WH-1",
		Delta:         -1,
		Reason:        enums.StockMovementReasonReservation,
	}

	if _, err := svc.Adjust(ctx, input); err != nil {
		t.Fatalf("first decrement: %v", err)
	}

	_, err := svc.Adjust(ctx, input)
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeOutOfStock {
		t.Fatalf("expected OUT_OF_STOCK on second decrement, got %v", err)
	}

	record, err := svc.Get(ctx, "SKU-400", "WH-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Quantity != 0 {
		t.Fatalf("expected quantity 0, got %d", record.Quantity)
	}
}

func TestAdjustValidation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		input AdjustInput
		code  pkgerrors.Code
	}{
		{
			name:  "zero delta",
			input: AdjustInput{SKU: "SKU-1", WarehouseCode: "WH-1", Reason: enums.StockMovementReasonRestock},
			code:  pkgerrors.CodeInvalidAdjustment,
		},
		{
			name:  "missing sku",
			input: AdjustInput{WarehouseCode: "WH-1", Delta: 1, Reason: enums.StockMovementReasonRestock},
			code:  pkgerrors.CodeValidation,
		},
		{
			name:  "missing warehouse",
			input: AdjustInput{SKU: "SKU-1", Delta: 1, Reason: enums.StockMovementReasonRestock},
			code:  pkgerrors.CodeValidation,
		},
		{
			name:  "bad reason",
			input: AdjustInput{SKU: "SKU-1", WarehouseCode: "WH-1", Delta: 1, Reason: "bogus"},
			code:  pkgerrors.CodeInvalidAdjustment,
		},
		{
			name:  "missing reason",
			input: AdjustInput{SKU: "SKU-1", WarehouseCode: "WH-1", Delta: 1},
			code:  pkgerrors.CodeInvalidAdjustment,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := svc.Adjust(ctx, tc.input)
			typed := pkgerrors.As(err)
			if typed == nil || typed.Code() != tc.code {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}
}

func TestAdjustUnknownRecordDecrement(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Adjust(ctx, AdjustInput{
		SKU:           "SKU-MISSING",
		WarehouseCode: "WH-1",
		Delta:         -1,
		Reason:        enums.StockMovementReasonFulfillment,
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected NOT_FOUND, got %v", err)
	}
}

func TestReserveAndRelease(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()
	orderID := uuid.New()
	seedRecord(t, db, "SKU-500", "WH-2", 10)
	seedRecord(t, db, "SKU-501", "WH-2", 3)

	lines := []Line{{SKU: "SKU-500", Qty: 4}, {SKU: "SKU-501", Qty: 3}}

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Reserve(ctx, tx, orderID, "WH-2", lines)
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	recA, _ := svc.Get(ctx, "SKU-500", "WH-2")
	recB, _ := svc.Get(ctx, "SKU-501", "WH-2")
	if recA.Quantity != 6 || recB.Quantity != 0 {
		t.Fatalf("unexpected quantities after reserve: %d, %d", recA.Quantity, recB.Quantity)
	}

	err = db.Transaction(func(tx *gorm.DB) error {
		return svc.Release(ctx, tx, orderID, "WH-2", lines)
	})
	if err != nil {
		t.Fatalf("release: %v", err)
	}

	recA, _ = svc.Get(ctx, "SKU-500", "WH-2")
	recB, _ = svc.Get(ctx, "SKU-501", "WH-2")
	if recA.Quantity != 10 || recB.Quantity != 3 {
		t.Fatalf("unexpected quantities after release: %d, %d", recA.Quantity, recB.Quantity)
	}

	var count int64
	if err := db.Model(&models.StockMovement{}).Where("order_id = ?", orderID).Count(&count).Error; err != nil {
		t.Fatalf("count movements: %v", err)
	}
	if count != 4 {
		t.Fatalf("expected 4 movements, got %d", count)
	}
}

func TestReserveRollsBackBatchOnShortage(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()
	orderID := uuid.New()
	seedRecord(t, db, "SKU-600", "WH-1", 10)
	seedRecord(t, db, "SKU-601", "WH-1", 1)

	err := db.Transaction(func(tx *gorm.DB) error {
		return svc.Reserve(ctx, tx, orderID, "WH-1", []Line{
			{SKU: "SKU-600", Qty: 5},
			{SKU: "SKU-601", Qty: 2},
		})
	})
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeOutOfStock {
		t.Fatalf("expected OUT_OF_STOCK, got %v", err)
	}

	record, err := svc.Get(ctx, "SKU-600", "WH-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Quantity != 10 {
		t.Fatalf("expected rollback to 10, got %d", record.Quantity)
	}
}

func TestMovementsAudit(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t)
	ctx := context.Background()
	actor := "ops@example.com"

	if _, err := svc.Adjust(ctx, AdjustInput{
		SKU:           "SKU-700",
		WarehouseCode: "WH-1",
		Delta:         8,
		Reason:        enums.StockMovementReasonAdminAdjustment,
		Actor:         &actor,
	}); err != nil {
		t.Fatalf("adjust: %v", err)
	}

	movements, err := svc.Movements(ctx, "SKU-700", "WH-1", 10)
	if err != nil {
		t.Fatalf("movements: %v", err)
	}
	if len(movements) != 1 {
		t.Fatalf("expected 1 movement, got %d", len(movements))
	}
	if movements[0].Actor == nil || *movements[0].Actor != actor {
		t.Fatalf("expected actor recorded, got %+v", movements[0])
	}
}

func TestAdjustConcurrentLastUnit(t *testing.T) {
	t.Parallel()

	svc, db := newTestService(t)
	ctx := context.Background()
	seedRecord(t, db, "SKU-800", "WH-1", 1)

	// Single connection so sqlite serializes the racing transactions
	// instead of rejecting them; the conditional UPDATE decides the winner.
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	const workers = 4
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Adjust(ctx, AdjustInput{
				SKU:           "SKU-800",
				WarehouseCode: "WH-1",
				Delta:         -1,
				Reason:        enums.StockMovementReasonReservation,
			})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, adjustErr := range errs {
		if adjustErr == nil {
			succeeded++
			continue
		}
		typed := pkgerrors.As(adjustErr)
		if typed == nil || typed.Code() != pkgerrors.CodeOutOfStock {
			t.Fatalf("expected OUT_OF_STOCK from losing worker, got %v", adjustErr)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly one worker to take the last unit, got %d", succeeded)
	}

	record, err := svc.Get(ctx, "SKU-800", "WH-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if record.Quantity != 0 {
		t.Fatalf("expected quantity 0, got %d", record.Quantity)
	}

	var count int64
	if err := db.Model(&models.StockMovement{}).Where("sku = ?", "SKU-800").Count(&count).Error; err != nil {
		t.Fatalf("count movements: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected exactly one movement row, got %d", count)
	}
}
