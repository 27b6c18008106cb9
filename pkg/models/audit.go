package models

import (
	"time"

	"github.com/google/uuid"
)

// AuditEntry is one append-only record of a regulatory action. Entries are
// never updated or deleted; EntryHash covers the entry content plus the
// previous entry's hash, forming a tamper-evident chain.
type AuditEntry struct {
	ID            uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	Sequence      int64     `json:"sequence" gorm:"uniqueIndex;autoIncrement"`
	AuditType     string    `json:"audit_type" gorm:"index" validate:"required,max=64"`
	RegulationRef string    `json:"regulation_ref" validate:"required,max=64"`
	ActionTaken   string    `json:"action_taken" validate:"required,max=512"`
	PerformedBy   string    `json:"performed_by" validate:"required,max=128"`
	Result        string    `json:"result" validate:"required,max=64"`
	Metadata      string    `json:"metadata" gorm:"type:text" validate:"omitempty,json"`
	PreviousHash  string    `json:"previous_hash" gorm:"size:64"`
	EntryHash     string    `json:"entry_hash" gorm:"size:64"`
	CreatedAt     time.Time `json:"created_at" gorm:"index"`
}
