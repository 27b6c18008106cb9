// Package capital implements the capital adequacy compliance monitor: the
// daily CapitalSnapshot, the ongoing-requirement rolling average and the
// regulator-facing report queries.
package capital

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pesacore/emoney-compliance/internal/audit"
	"github.com/pesacore/emoney-compliance/internal/config"
	"github.com/pesacore/emoney-compliance/pkg/clock"
	"github.com/pesacore/emoney-compliance/pkg/metrics"
	"github.com/pesacore/emoney-compliance/pkg/models"
)

const (
	// rollingWindowDays is the trailing window for the ongoing requirement.
	rollingWindowDays = 180
	// minSamplesForAverage guards against understating the requirement on
	// sparse history; below it the current liabilities sum is used instead.
	minSamplesForAverage = 30

	regulationRefCapital = "EMR-2023 s.12 capital adequacy"
)

// LiquidAssets is the treasury-reported breakdown of approved liquid assets.
type LiquidAssets struct {
	Cash                 decimal.Decimal `json:"cash"`
	GovernmentBonds      decimal.Decimal `json:"government_bonds"`
	ShortTermInstruments decimal.Decimal `json:"short_term_instruments"`
	OtherApprovedAssets  decimal.Decimal `json:"other_approved_assets"`
}

// Total sums the breakdown.
func (la LiquidAssets) Total() decimal.Decimal {
	return la.Cash.Add(la.GovernmentBonds).Add(la.ShortTermInstruments).Add(la.OtherApprovedAssets)
}

func (la LiquidAssets) validate() error {
	for _, f := range []struct {
		name  string
		value decimal.Decimal
	}{
		{"cash", la.Cash},
		{"government_bonds", la.GovernmentBonds},
		{"short_term_instruments", la.ShortTermInstruments},
		{"other_approved_assets", la.OtherApprovedAssets},
	} {
		if f.value.IsNegative() {
			return fmt.Errorf("liquid asset %s must not be negative", f.name)
		}
	}
	return nil
}

// Status is the derived compliance view returned to the admin surface.
type Status struct {
	Compliant        bool                    `json:"compliant"`
	InitialCompliant bool                    `json:"initial_compliant"`
	OngoingCompliant bool                    `json:"ongoing_compliant"`
	ComplianceStatus models.ComplianceStatus `json:"compliance_status"`
	DeficiencyAmount decimal.NullDecimal     `json:"deficiency_amount"`
	LastCheckDate    string                  `json:"last_check_date"`
}

// Monitor evaluates capital adequacy against the injected regulatory
// parameters and persists daily snapshots.
type Monitor struct {
	db     *gorm.DB
	logger *zap.Logger
	clk    clock.Clock
	params config.Regulatory
	trail  *audit.Trail
}

// NewMonitor creates a capital compliance monitor.
func NewMonitor(db *gorm.DB, logger *zap.Logger, clk clock.Clock, params config.Regulatory, trail *audit.Trail) *Monitor {
	return &Monitor{db: db, logger: logger, clk: clk, params: params, trail: trail}
}

// CalculateOngoingCapitalRequirement returns the 180-day rolling average of
// outstanding e-money liabilities. With fewer than 30 daily samples it
// falls back to the current sum of unreleased wallet balances, which avoids
// understating the requirement during the issuer's first month. Pure read;
// new daily samples invalidate any cached value.
func (m *Monitor) CalculateOngoingCapitalRequirement(ctx context.Context) (decimal.Decimal, error) {
	cutoff := m.clk.Now().AddDate(0, 0, -rollingWindowDays).Format(clock.DateFormat)

	var samples []models.LiabilitySample
	if err := m.db.WithContext(ctx).
		Where("sample_date >= ?", cutoff).
		Find(&samples).Error; err != nil {
		return decimal.Zero, fmt.Errorf("failed to load liability samples: %w", err)
	}

	if len(samples) < minSamplesForAverage {
		return m.currentOutstandingLiabilities(ctx)
	}

	sum := decimal.Zero
	for _, s := range samples {
		sum = sum.Add(s.TotalLiabilities)
	}
	return sum.Div(decimal.NewFromInt(int64(len(samples)))), nil
}

// TrackDailyCapital computes and persists the day's capital snapshot,
// upserted on the regulatory date, and appends one audit entry regardless
// of outcome. Persistence errors propagate unmodified; the next scheduled
// run corrects transient failures.
func (m *Monitor) TrackDailyCapital(ctx context.Context, liquidAssets LiquidAssets, initialCapitalHeld decimal.Decimal) (*models.CapitalSnapshot, error) {
	if err := liquidAssets.validate(); err != nil {
		return nil, err
	}
	if initialCapitalHeld.IsNegative() {
		return nil, fmt.Errorf("initial capital held must not be negative")
	}

	liquidTotal := liquidAssets.Total()
	today := m.clk.Today()

	// Record today's liability observation so the rolling average accretes
	// one sample per regulatory day.
	liabilities, err := m.currentOutstandingLiabilities(ctx)
	if err != nil {
		return nil, err
	}
	sample := models.LiabilitySample{
		ID:               uuid.New(),
		SampleDate:       today,
		TotalLiabilities: liabilities,
	}
	if err := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "sample_date"}},
		DoUpdates: clause.AssignmentColumns([]string{"total_liabilities", "updated_at"}),
	}).Create(&sample).Error; err != nil {
		return nil, fmt.Errorf("failed to record liability sample: %w", err)
	}

	ongoingRequired, err := m.CalculateOngoingCapitalRequirement(ctx)
	if err != nil {
		return nil, err
	}

	initialCompliant := initialCapitalHeld.GreaterThanOrEqual(m.params.InitialCapitalRequired)
	ongoingCompliant := liquidTotal.GreaterThanOrEqual(ongoingRequired)

	status := models.ComplianceCompliant
	deficiency := decimal.NullDecimal{}
	switch {
	case !initialCompliant:
		// Initial leg takes precedence when both are short.
		status = models.ComplianceDeficient
		deficiency = decimal.NewNullDecimal(m.params.InitialCapitalRequired.Sub(initialCapitalHeld))
	case !ongoingCompliant:
		status = models.ComplianceDeficient
		deficiency = decimal.NewNullDecimal(ongoingRequired.Sub(liquidTotal))
	}

	snapshot := &models.CapitalSnapshot{
		ID:                     uuid.New(),
		SnapshotDate:           today,
		InitialCapitalRequired: m.params.InitialCapitalRequired,
		InitialCapitalHeld:     initialCapitalHeld,
		OngoingCapitalRequired: ongoingRequired,
		OngoingCapitalHeld:     liquidTotal,
		Cash:                   liquidAssets.Cash,
		GovernmentBonds:        liquidAssets.GovernmentBonds,
		ShortTermInstruments:   liquidAssets.ShortTermInstruments,
		OtherApprovedAssets:    liquidAssets.OtherApprovedAssets,
		LiquidAssetsTotal:      liquidTotal,
		ComplianceStatus:       status,
		DeficiencyAmount:       deficiency,
	}

	if err := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "snapshot_date"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"initial_capital_required", "initial_capital_held",
			"ongoing_capital_required", "ongoing_capital_held",
			"cash", "government_bonds", "short_term_instruments", "other_approved_assets",
			"liquid_assets_total", "compliance_status", "deficiency_amount", "updated_at",
		}),
	}).Create(snapshot).Error; err != nil {
		return nil, err
	}

	deficiencyStr := ""
	if deficiency.Valid {
		deficiencyStr = deficiency.Decimal.String()
		metrics.Violations.WithLabelValues("capital", "deficiency").Inc()
	}
	if _, err := m.trail.Append(ctx, audit.Entry{
		AuditType:     "capital_adequacy_check",
		RegulationRef: regulationRefCapital,
		ActionTaken:   "daily capital snapshot recorded",
		PerformedBy:   "capital-compliance-monitor",
		Result:        string(status),
		Metadata: map[string]interface{}{
			"snapshot_date":            today,
			"initial_capital_required": m.params.InitialCapitalRequired.String(),
			"initial_capital_held":     initialCapitalHeld.String(),
			"ongoing_capital_required": ongoingRequired.String(),
			"ongoing_capital_held":     liquidTotal.String(),
			"deficiency_amount":        deficiencyStr,
		},
	}); err != nil {
		return nil, err
	}

	metrics.MonitorRuns.WithLabelValues("capital", string(status)).Inc()
	m.logger.Info("daily capital tracked",
		zap.String("date", today),
		zap.String("status", string(status)),
		zap.String("ongoing_required", ongoingRequired.String()),
		zap.String("liquid_total", liquidTotal.String()))

	return snapshot, nil
}

// GetCapitalComplianceStatus returns the latest snapshot's derived
// booleans. With no snapshot on record the result is conservative:
// non-compliant, deficient for the full initial requirement. Absence of
// data never reads as compliance.
func (m *Monitor) GetCapitalComplianceStatus(ctx context.Context) (*Status, error) {
	var snapshot models.CapitalSnapshot
	err := m.db.WithContext(ctx).Order("snapshot_date DESC").First(&snapshot).Error
	if err == gorm.ErrRecordNotFound {
		return &Status{
			Compliant:        false,
			InitialCompliant: false,
			OngoingCompliant: false,
			ComplianceStatus: models.ComplianceDeficient,
			DeficiencyAmount: decimal.NewNullDecimal(m.params.InitialCapitalRequired),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest capital snapshot: %w", err)
	}

	initialCompliant := snapshot.InitialCapitalHeld.GreaterThanOrEqual(snapshot.InitialCapitalRequired)
	ongoingCompliant := snapshot.OngoingCapitalHeld.GreaterThanOrEqual(snapshot.OngoingCapitalRequired)
	return &Status{
		Compliant:        initialCompliant && ongoingCompliant,
		InitialCompliant: initialCompliant,
		OngoingCompliant: ongoingCompliant,
		ComplianceStatus: snapshot.ComplianceStatus,
		DeficiencyAmount: snapshot.DeficiencyAmount,
		LastCheckDate:    snapshot.SnapshotDate,
	}, nil
}

// GenerateCapitalReport returns up to months*30 most recent snapshots,
// newest first, for regulator export. Reporting is not a compliance action
// so no audit entry is written.
func (m *Monitor) GenerateCapitalReport(ctx context.Context, months int) ([]*models.CapitalSnapshot, error) {
	if months <= 0 {
		months = 1
	}
	var snapshots []*models.CapitalSnapshot
	if err := m.db.WithContext(ctx).
		Order("snapshot_date DESC").
		Limit(months * 30).
		Find(&snapshots).Error; err != nil {
		return nil, fmt.Errorf("failed to load capital snapshots: %w", err)
	}
	return snapshots, nil
}

// currentOutstandingLiabilities sums balances of all wallets whose funds
// have not been swept (active, warning and dormant).
func (m *Monitor) currentOutstandingLiabilities(ctx context.Context) (decimal.Decimal, error) {
	var wallets []models.Wallet
	if err := m.db.WithContext(ctx).
		Where("dormancy_status <> ?", models.DormancyReleased).
		Find(&wallets).Error; err != nil {
		return decimal.Zero, fmt.Errorf("failed to load wallet balances: %w", err)
	}
	sum := decimal.Zero
	for _, w := range wallets {
		sum = sum.Add(w.Balance)
	}
	return sum, nil
}
