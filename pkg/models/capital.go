package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ComplianceStatus is the outcome of a capital adequacy evaluation.
type ComplianceStatus string

const (
	ComplianceCompliant ComplianceStatus = "compliant"
	ComplianceDeficient ComplianceStatus = "deficient"
)

// CapitalSnapshot is the daily capital adequacy record, upserted on the
// regulatory date. LiquidAssetsTotal always equals the sum of the breakdown
// columns; ComplianceStatus is deficient iff held < required on either the
// initial or the ongoing leg.
type CapitalSnapshot struct {
	ID                     uuid.UUID           `json:"id" gorm:"primaryKey;type:uuid"`
	SnapshotDate           string              `json:"snapshot_date" gorm:"uniqueIndex;size:10"`
	InitialCapitalRequired decimal.Decimal     `json:"initial_capital_required" gorm:"type:decimal(20,4)"`
	InitialCapitalHeld     decimal.Decimal     `json:"initial_capital_held" gorm:"type:decimal(20,4)"`
	OngoingCapitalRequired decimal.Decimal     `json:"ongoing_capital_required" gorm:"type:decimal(20,4)"`
	OngoingCapitalHeld     decimal.Decimal     `json:"ongoing_capital_held" gorm:"type:decimal(20,4)"`
	Cash                   decimal.Decimal     `json:"cash" gorm:"type:decimal(20,4)"`
	GovernmentBonds        decimal.Decimal     `json:"government_bonds" gorm:"type:decimal(20,4)"`
	ShortTermInstruments   decimal.Decimal     `json:"short_term_instruments" gorm:"type:decimal(20,4)"`
	OtherApprovedAssets    decimal.Decimal     `json:"other_approved_assets" gorm:"type:decimal(20,4)"`
	LiquidAssetsTotal      decimal.Decimal     `json:"liquid_assets_total" gorm:"type:decimal(20,4)"`
	ComplianceStatus       ComplianceStatus    `json:"compliance_status" gorm:"index"`
	DeficiencyAmount       decimal.NullDecimal `json:"deficiency_amount" gorm:"type:decimal(20,4)"`
	CreatedAt              time.Time           `json:"created_at"`
	UpdatedAt              time.Time           `json:"updated_at"`
}

// LiabilitySample is one observation of total outstanding e-money
// liabilities per regulatory day. The daily capital run records the day's
// sample; the ongoing-requirement rolling average reads the trailing window.
type LiabilitySample struct {
	ID               uuid.UUID       `json:"id" gorm:"primaryKey;type:uuid"`
	SampleDate       string          `json:"sample_date" gorm:"uniqueIndex;size:10"`
	TotalLiabilities decimal.Decimal `json:"total_liabilities" gorm:"type:decimal(20,4)"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}
