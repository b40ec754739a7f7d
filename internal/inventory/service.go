package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jmcardona/orderledger/pkg/db/models"
	"github.com/jmcardona/orderledger/pkg/enums"
	pkgerrors "github.com/jmcardona/orderledger/pkg/errors"
	"github.com/jmcardona/orderledger/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// AdjustInput captures a single ledger mutation.
type AdjustInput struct {
	SKU           string
	WarehouseCode string
	Delta         int
	Reason        enums.StockMovementReason
	OrderID       *uuid.UUID
	Actor         *string
}

// Line pairs a SKU with a quantity for reserve/release batches.
type Line struct {
	SKU string
	Qty int
}

// Service owns all quantity mutations on the stock ledger.
type Service interface {
	Adjust(ctx context.Context, input AdjustInput) (*models.InventoryRecord, error)
	AdjustTx(ctx context.Context, tx *gorm.DB, input AdjustInput) (*models.InventoryRecord, error)
	Reserve(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, warehouseCode string, lines []Line) error
	Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, warehouseCode string, lines []Line) error
	Get(ctx context.Context, sku, warehouseCode string) (*models.InventoryRecord, error)
	List(ctx context.Context, warehouseCode string, limit int) ([]models.InventoryRecord, error)
	Movements(ctx context.Context, sku, warehouseCode string, limit int) ([]models.StockMovement, error)
}

type service struct {
	db      *gorm.DB
	tx      txRunner
	metrics *metrics.ReconcileMetrics
}

// NewService builds the inventory ledger service.
func NewService(db *gorm.DB, tx txRunner, m *metrics.ReconcileMetrics) (Service, error) {
	if db == nil {
		return nil, fmt.Errorf("db handle required")
	}
	if tx == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	return &service{db: db, tx: tx, metrics: m}, nil
}

// Adjust runs a single adjustment in its own transaction.
func (s *service) Adjust(ctx context.Context, input AdjustInput) (*models.InventoryRecord, error) {
	var record *models.InventoryRecord
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		rec, err := s.AdjustTx(ctx, tx, input)
		if err != nil {
			return err
		}
		record = rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// AdjustTx applies the delta inside the caller's transaction. The quantity
// change and its stock movement commit or roll back together. Negative deltas
// use a conditional update so the quantity can never drop below zero, even
// under concurrent writers.
func (s *service) AdjustTx(ctx context.Context, tx *gorm.DB, input AdjustInput) (*models.InventoryRecord, error) {
	if tx == nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction required")
	}
	if err := validateAdjustInput(input); err != nil {
		return nil, err
	}

	if input.Delta > 0 {
		record := models.InventoryRecord{
			SKU:           input.SKU,
			WarehouseCode: input.WarehouseCode,
			Quantity:      input.Delta,
		}
		err := tx.WithContext(ctx).
			Clauses(clause.OnConflict{
				Columns: []clause.Column{{Name: "sku"}, {Name: "warehouse_code"}},
				DoUpdates: clause.Assignments(map[string]any{
					"quantity": gorm.Expr("quantity + ?", input.Delta),
				}),
			}).
			Create(&record).Error
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert inventory record")
		}
	} else {
		res := tx.WithContext(ctx).
			Model(&models.InventoryRecord{}).
			Where("sku = ? AND warehouse_code = ? AND quantity >= ?", input.SKU, input.WarehouseCode, -input.Delta).
			Update("quantity", gorm.Expr("quantity + ?", input.Delta))
		if res.Error != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, res.Error, "decrement inventory record")
		}
		if res.RowsAffected == 0 {
			return nil, s.classifyDecrementFailure(ctx, tx, input)
		}
	}

	movement := models.StockMovement{
		ID:            uuid.New(),
		SKU:           input.SKU,
		WarehouseCode: input.WarehouseCode,
		Delta:         input.Delta,
		Reason:        input.Reason,
		OrderID:       input.OrderID,
		Actor:         input.Actor,
	}
	if err := tx.WithContext(ctx).Create(&movement).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "record stock movement")
	}

	var record models.InventoryRecord
	err := tx.WithContext(ctx).
		Where("sku = ? AND warehouse_code = ?", input.SKU, input.WarehouseCode).
		First(&record).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "reload inventory record")
	}

	s.metrics.IncAdjustment(string(input.Reason))
	return &record, nil
}

func (s *service) classifyDecrementFailure(ctx context.Context, tx *gorm.DB, input AdjustInput) error {
	var existing models.InventoryRecord
	err := tx.WithContext(ctx).
		Where("sku = ? AND warehouse_code = ?", input.SKU, input.WarehouseCode).
		First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "inventory record not found").
			WithDetails(map[string]any{"sku": input.SKU, "warehouse_code": input.WarehouseCode})
	}
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory record")
	}
	return pkgerrors.New(pkgerrors.CodeOutOfStock, "insufficient stock").
		WithDetails(map[string]any{
			"sku":            input.SKU,
			"warehouse_code": input.WarehouseCode,
			"available":      existing.Quantity,
			"requested":      -input.Delta,
		})
}

// Reserve decrements stock for every line within the caller's transaction.
// Any failing line aborts the whole batch.
func (s *service) Reserve(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, warehouseCode string, lines []Line) error {
	if len(lines) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "at least one line required")
	}
	for _, line := range lines {
		if line.Qty <= 0 {
			return pkgerrors.New(pkgerrors.CodeInvalidAdjustment, "reservation quantity must be positive").
				WithDetails(map[string]any{"sku": line.SKU, "qty": line.Qty})
		}
		_, err := s.AdjustTx(ctx, tx, AdjustInput{
			SKU:           line.SKU,
			WarehouseCode: warehouseCode,
			Delta:         -line.Qty,
			Reason:        enums.StockMovementReasonReservation,
			OrderID:       &orderID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Release returns previously reserved stock to the ledger.
func (s *service) Release(ctx context.Context, tx *gorm.DB, orderID uuid.UUID, warehouseCode string, lines []Line) error {
	if len(lines) == 0 {
		return nil
	}
	for _, line := range lines {
		if line.Qty <= 0 {
			return pkgerrors.New(pkgerrors.CodeInvalidAdjustment, "release quantity must be positive").
				WithDetails(map[string]any{"sku": line.SKU, "qty": line.Qty})
		}
		_, err := s.AdjustTx(ctx, tx, AdjustInput{
			SKU:           line.SKU,
			WarehouseCode: warehouseCode,
			Delta:         line.Qty,
			Reason:        enums.StockMovementReasonRelease,
			OrderID:       &orderID,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *service) Get(ctx context.Context, sku, warehouseCode string) (*models.InventoryRecord, error) {
	if sku == "" || warehouseCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sku and warehouse code required")
	}
	var record models.InventoryRecord
	err := s.db.WithContext(ctx).
		Where("sku = ? AND warehouse_code = ?", sku, warehouseCode).
		First(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "inventory record not found")
	}
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load inventory record")
	}
	return &record, nil
}

func (s *service) List(ctx context.Context, warehouseCode string, limit int) ([]models.InventoryRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	query := s.db.WithContext(ctx).Order("sku ASC").Limit(limit)
	if warehouseCode != "" {
		query = query.Where("warehouse_code = ?", warehouseCode)
	}
	var records []models.InventoryRecord
	if err := query.Find(&records).Error; err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list inventory records")
	}
	return records, nil
}

func (s *service) Movements(ctx context.Context, sku, warehouseCode string, limit int) ([]models.StockMovement, error) {
	if sku == "" || warehouseCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "sku and warehouse code required")
	}
	if limit <= 0 {
		limit = 100
	}
	var movements []models.StockMovement
	err := s.db.WithContext(ctx).
		Where("sku = ? AND warehouse_code = ?", sku, warehouseCode).
		Order("created_at DESC").
		Limit(limit).
		Find(&movements).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list stock movements")
	}
	return movements, nil
}

func validateAdjustInput(input AdjustInput) error {
	if input.SKU == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "sku required")
	}
	if input.WarehouseCode == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "warehouse code required")
	}
	if input.Delta == 0 {
		return pkgerrors.New(pkgerrors.CodeInvalidAdjustment, "delta must be non-zero")
	}
	if !input.Reason.IsValid() {
		return pkgerrors.New(pkgerrors.CodeInvalidAdjustment, "invalid movement reason")
	}
	return nil
}
