package reconcile

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	dbpkg "github.com/jmcardona/orderledger/pkg/db"
	"github.com/jmcardona/orderledger/pkg/db/models"
	pkgerrors "github.com/jmcardona/orderledger/pkg/errors"
)

const maxDLQErrorLength = 1024

// DLQRepository persists payment events the consumer gave up on.
type DLQRepository struct {
	conn *gorm.DB
}

func NewDLQRepository(conn *gorm.DB) *DLQRepository {
	return &DLQRepository{conn: conn}
}

// Insert writes a dead-letter row. A replayed message hitting the unique
// event id is absorbed so the caller can always ack afterwards.
func (r *DLQRepository) Insert(ctx context.Context, row *models.ReconcileDLQ) error {
	if len(row.ErrorMessage) > maxDLQErrorLength {
		row.ErrorMessage = row.ErrorMessage[:maxDLQErrorLength]
	}
	err := r.conn.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "event_id"}},
			DoNothing: true,
		}).
		Create(row).Error
	if err != nil {
		if dbpkg.IsUniqueViolation(err, "ux_reconcile_dlq_event_id") {
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "insert reconcile dlq row")
	}
	return nil
}

// FindByEventID loads a dead-letter row, if any.
func (r *DLQRepository) FindByEventID(ctx context.Context, eventID string) (*models.ReconcileDLQ, error) {
	var row models.ReconcileDLQ
	err := r.conn.WithContext(ctx).
		First(&row, "event_id = ?", eventID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "dead letter not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "find reconcile dlq row")
	}
	return &row, nil
}

// List returns the most recent dead letters for operator tooling.
func (r *DLQRepository) List(ctx context.Context, limit int) ([]models.ReconcileDLQ, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var rows []models.ReconcileDLQ
	err := r.conn.WithContext(ctx).
		Order("failed_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "list reconcile dlq rows")
	}
	return rows, nil
}
