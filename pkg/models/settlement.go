package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// BatchStatus is the settlement batch lifecycle state.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchPartial   BatchStatus = "partial"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
)

// Terminal reports whether the batch has finished processing.
func (s BatchStatus) Terminal() bool {
	return s == BatchPartial || s == BatchCompleted || s == BatchFailed
}

// UUIDArray stores a list of transaction IDs as a JSON text column.
type UUIDArray []uuid.UUID

// Value implements driver.Valuer.
func (a UUIDArray) Value() (driver.Value, error) {
	if a == nil {
		a = UUIDArray{}
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (a *UUIDArray) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*a = UUIDArray{}
		return nil
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("unsupported uuid array source type %T", src)
	}
}

// SettlementBatch groups the transactions settled on one regulatory day.
// The unique index on SettlementDate is the concurrency guard: a second
// attempt to create today's batch must reuse the existing row.
// Once terminal, ProcessedCount + FailedCount equals len(TransactionIDs)
// and Status is completed iff FailedCount is zero.
type SettlementBatch struct {
	ID             uuid.UUID   `json:"id" gorm:"primaryKey;type:uuid"`
	SettlementDate string      `json:"settlement_date" gorm:"uniqueIndex;size:10"`
	TransactionIDs UUIDArray   `json:"transaction_ids" gorm:"type:text"`
	ProcessedCount int         `json:"processed_count"`
	FailedCount    int         `json:"failed_count"`
	Status         BatchStatus `json:"status" gorm:"index"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
	CompletedAt    *time.Time  `json:"completed_at"`
}

// SettlementItemFailure records one transaction the rail rejected, so a
// partial batch can be reconciled after the fact.
type SettlementItemFailure struct {
	ID            uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	BatchID       uuid.UUID `json:"batch_id" gorm:"type:uuid;index"`
	TransactionID uuid.UUID `json:"transaction_id" gorm:"type:uuid;index"`
	Reason        string    `json:"reason"`
	CreatedAt     time.Time `json:"created_at"`
}
