// Package models holds the persisted entities shared across the compliance
// engine. Monetary figures use shopspring/decimal throughout; regulatory
// reporting must reconcile exactly, so float arithmetic is never used.
package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DormancyStatus is the wallet dormancy lifecycle state.
type DormancyStatus string

const (
	DormancyActive   DormancyStatus = "active"
	DormancyWarning  DormancyStatus = "warning"
	DormancyDormant  DormancyStatus = "dormant"
	DormancyReleased DormancyStatus = "released"
)

// Wallet is the engine's view of a customer wallet. Dormancy state lives on
// the wallet row and is mutated in place; the dormancy timestamps are set
// once per forward transition and cleared again on a transaction-driven
// reset to active.
type Wallet struct {
	ID              uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	MSISDN          string          `json:"msisdn" gorm:"uniqueIndex" validate:"required,min=9,max=15"`
	Balance         decimal.Decimal `json:"balance" gorm:"type:decimal(20,4)"`
	Currency        string          `json:"currency" gorm:"default:KES" validate:"required,len=3"`
	DormancyStatus  DormancyStatus  `json:"dormancy_status" gorm:"index;default:active" validate:"required,oneof=active warning dormant released"`
	LastActivityAt  time.Time       `json:"last_activity_at" gorm:"index"`
	WarningIssuedAt *time.Time      `json:"warning_issued_at"`
	DormantSince    *time.Time      `json:"dormant_since"`
	FundsReleasedAt *time.Time      `json:"funds_released_at"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// WalletTransaction is the engine's view of a transaction. Settlement only
// cares about completed, unsettled rows; dormancy only cares that a
// qualifying transaction happened.
type WalletTransaction struct {
	ID                uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid" validate:"required,uuid"`
	WalletID          uuid.UUID       `json:"wallet_id" gorm:"type:uuid;index" validate:"required,uuid"`
	Type              string          `json:"type" validate:"required,oneof=deposit withdrawal transfer payment"`
	Amount            decimal.Decimal `json:"amount" gorm:"type:decimal(20,4)" validate:"required"`
	Currency          string          `json:"currency" gorm:"default:KES" validate:"required,len=3"`
	Status            string          `json:"status" gorm:"index" validate:"required,oneof=pending completed failed reversed"`
	Settled           bool            `json:"settled" gorm:"index;default:false"`
	SettlementBatchID *uuid.UUID      `json:"settlement_batch_id" gorm:"type:uuid;index"`
	Reference         string          `json:"reference" validate:"omitempty,max=255"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	CompletedAt       *time.Time      `json:"completed_at"`
}

// UnclaimedFund is a ledger row written when a dormant wallet's balance is
// swept on release. Rows are append-only; reclaiming funds is a manual
// back-office action outside this engine.
type UnclaimedFund struct {
	ID         uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	WalletID   uuid.UUID       `json:"wallet_id" gorm:"type:uuid;index"`
	Amount     decimal.Decimal `json:"amount" gorm:"type:decimal(20,4)"`
	Currency   string          `json:"currency"`
	Reference  string          `json:"reference"`
	ReleasedAt time.Time       `json:"released_at"`
	CreatedAt  time.Time       `json:"created_at"`
}

// All returns every entity for migration wiring.
func All() []interface{} {
	return []interface{}{
		&Wallet{},
		&WalletTransaction{},
		&UnclaimedFund{},
		&CapitalSnapshot{},
		&LiabilitySample{},
		&DormancyMonthlyReport{},
		&SettlementBatch{},
		&SettlementItemFailure{},
		&HealthCheckSample{},
		&AuditEntry{},
	}
}
