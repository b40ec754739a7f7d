package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ReconcileDLQ stores payment events the dispatcher gave up on, keyed by the
// gateway event id so a replayed message never produces a second row.
type ReconcileDLQ struct {
	ID           uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	EventID      string          `gorm:"column:event_id;not null;uniqueIndex"`
	OrderID      *uuid.UUID      `gorm:"column:order_id;type:uuid"`
	Payload      json.RawMessage `gorm:"column:payload;type:jsonb;not null"`
	ErrorMessage string          `gorm:"column:error_message;not null"`
	AttemptCount int             `gorm:"column:attempt_count;not null;default:0"`
	FailedAt     time.Time       `gorm:"column:failed_at;autoCreateTime"`
}
