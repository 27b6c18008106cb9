// Package dormancy implements the wallet dormancy lifecycle manager:
// active → warning → dormant → released, driven by elapsed inactivity
// against the injected regulatory thresholds.
package dormancy

import (
	"context"
	"fmt"
	"time"

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

const regulationRefDormancy = "EMR-2023 s.27 dormant wallets"

// Notification is a pending side-effect command returned to the caller.
// Delivery happens after the state transition is persisted, so a failed
// notification can never roll back a compliance decision.
type Notification struct {
	WalletID uuid.UUID
	MSISDN   string
	Kind     string // "dormancy_warning", "dormancy_freeze", "funds_released"
}

// CheckResult is the dry-run view of pending transitions.
type CheckResult struct {
	NeedingWarning  int `json:"needing_warning"`
	BecomingDormant int `json:"becoming_dormant"`
	ForFundsRelease int `json:"for_funds_release"`
}

// ProcessingResult reports one daily processing run. Per-wallet failures
// are isolated and counted; one wallet's error never aborts the run.
type ProcessingResult struct {
	Warned        int                  `json:"warned"`
	MadeDormant   int                  `json:"made_dormant"`
	Released      int                  `json:"released"`
	Skipped       int                  `json:"skipped"`
	Errors        map[uuid.UUID]string `json:"errors,omitempty"`
	Notifications []Notification       `json:"-"`
}

// Manager drives the dormancy state machine.
type Manager struct {
	db     *gorm.DB
	logger *zap.Logger
	clk    clock.Clock
	params config.Regulatory
	trail  *audit.Trail
}

// NewManager creates a dormancy lifecycle manager.
func NewManager(db *gorm.DB, logger *zap.Logger, clk clock.Clock, params config.Regulatory, trail *audit.Trail) *Manager {
	return &Manager{db: db, logger: logger, clk: clk, params: params, trail: trail}
}

// Threshold cutoffs. A wallet qualifies for a state when its last activity
// is at or before the corresponding cutoff. The preview queries and the
// processor share these, so "preview" and "actual" can never drift.

func (m *Manager) warningCutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -m.params.DormancyWarningDays)
}

func (m *Manager) dormantCutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -m.params.DormancyThresholdDays)
}

func (m *Manager) releaseCutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -m.params.DormancyHoldDays)
}

// GetWalletsNeedingWarning returns active wallets past the warning
// threshold but not yet past the dormancy threshold.
func (m *Manager) GetWalletsNeedingWarning(ctx context.Context) ([]*models.Wallet, error) {
	now := m.clk.Now()
	var wallets []*models.Wallet
	err := m.db.WithContext(ctx).
		Where("dormancy_status = ?", models.DormancyActive).
		Where("last_activity_at <= ? AND last_activity_at > ?", m.warningCutoff(now), m.dormantCutoff(now)).
		Find(&wallets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query wallets needing warning: %w", err)
	}
	return wallets, nil
}

// GetWalletsBecomingDormant returns wallets past the dormancy threshold.
// Skip-ahead semantics: an active wallet whose inactivity already exceeds
// the threshold goes directly dormant, so it appears here, not in the
// warning preview.
func (m *Manager) GetWalletsBecomingDormant(ctx context.Context) ([]*models.Wallet, error) {
	now := m.clk.Now()
	var wallets []*models.Wallet
	err := m.db.WithContext(ctx).
		Where("dormancy_status IN ?", []models.DormancyStatus{models.DormancyActive, models.DormancyWarning}).
		Where("last_activity_at <= ?", m.dormantCutoff(now)).
		Find(&wallets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query wallets becoming dormant: %w", err)
	}
	return wallets, nil
}

// GetWalletsForFundsRelease returns dormant wallets whose hold period has
// elapsed.
func (m *Manager) GetWalletsForFundsRelease(ctx context.Context) ([]*models.Wallet, error) {
	now := m.clk.Now()
	var wallets []*models.Wallet
	err := m.db.WithContext(ctx).
		Where("dormancy_status = ?", models.DormancyDormant).
		Where("dormant_since IS NOT NULL AND dormant_since <= ?", m.releaseCutoff(now)).
		Find(&wallets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query wallets for funds release: %w", err)
	}
	return wallets, nil
}

// RunDormancyCheck reports how many wallets would transition, without
// persisting anything.
func (m *Manager) RunDormancyCheck(ctx context.Context) (*CheckResult, error) {
	warning, err := m.GetWalletsNeedingWarning(ctx)
	if err != nil {
		return nil, err
	}
	dormant, err := m.GetWalletsBecomingDormant(ctx)
	if err != nil {
		return nil, err
	}
	release, err := m.GetWalletsForFundsRelease(ctx)
	if err != nil {
		return nil, err
	}
	return &CheckResult{
		NeedingWarning:  len(warning),
		BecomingDormant: len(dormant),
		ForFundsRelease: len(release),
	}, nil
}

// RunDailyDormancyProcessing applies the pending transitions. Updates are
// guarded by an optimistic check on last_activity_at so a concurrent
// transaction-driven reset to active always wins over an in-flight
// dormancy transition; guarded-out wallets are counted as skipped.
func (m *Manager) RunDailyDormancyProcessing(ctx context.Context) (*ProcessingResult, error) {
	result := &ProcessingResult{Errors: make(map[uuid.UUID]string)}
	now := m.clk.Now()

	warning, err := m.GetWalletsNeedingWarning(ctx)
	if err != nil {
		return nil, err
	}
	for _, w := range warning {
		applied, err := m.applyWarning(ctx, w, now)
		switch {
		case err != nil:
			result.Errors[w.ID] = err.Error()
		case !applied:
			result.Skipped++
		default:
			result.Warned++
			metrics.DormancyTransitions.WithLabelValues(string(models.DormancyWarning)).Inc()
			result.Notifications = append(result.Notifications, Notification{
				WalletID: w.ID, MSISDN: w.MSISDN, Kind: "dormancy_warning",
			})
		}
	}

	dormant, err := m.GetWalletsBecomingDormant(ctx)
	if err != nil {
		return nil, err
	}
	for _, w := range dormant {
		applied, err := m.applyDormant(ctx, w, now)
		switch {
		case err != nil:
			result.Errors[w.ID] = err.Error()
		case !applied:
			result.Skipped++
		default:
			result.MadeDormant++
			metrics.DormancyTransitions.WithLabelValues(string(models.DormancyDormant)).Inc()
			result.Notifications = append(result.Notifications, Notification{
				WalletID: w.ID, MSISDN: w.MSISDN, Kind: "dormancy_freeze",
			})
		}
	}

	release, err := m.GetWalletsForFundsRelease(ctx)
	if err != nil {
		return nil, err
	}
	for _, w := range release {
		applied, err := m.applyRelease(ctx, w, now)
		switch {
		case err != nil:
			result.Errors[w.ID] = err.Error()
		case !applied:
			result.Skipped++
		default:
			result.Released++
			metrics.DormancyTransitions.WithLabelValues(string(models.DormancyReleased)).Inc()
			result.Notifications = append(result.Notifications, Notification{
				WalletID: w.ID, MSISDN: w.MSISDN, Kind: "funds_released",
			})
		}
	}

	if len(result.Errors) == 0 {
		result.Errors = nil
	}

	// One entry per run regardless of outcome: the trail must show that the
	// daily processing happened even when only warnings were issued.
	m.auditRun(ctx, result)
	metrics.MonitorRuns.WithLabelValues("dormancy", "processed").Inc()
	m.logger.Info("dormancy processing run complete",
		zap.Int("warned", result.Warned),
		zap.Int("made_dormant", result.MadeDormant),
		zap.Int("released", result.Released),
		zap.Int("skipped", result.Skipped),
		zap.Int("errors", len(result.Errors)))

	return result, nil
}

// RecordWalletActivity resets a wallet to active on a qualifying
// transaction. Released wallets are immune: the funds are already swept
// and reactivation requires an explicit manual action.
func (m *Manager) RecordWalletActivity(ctx context.Context, walletID uuid.UUID, at time.Time) error {
	res := m.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("id = ? AND dormancy_status <> ?", walletID, models.DormancyReleased).
		Updates(map[string]interface{}{
			"last_activity_at":  at,
			"dormancy_status":   models.DormancyActive,
			"warning_issued_at": nil,
			"dormant_since":     nil,
		})
	if res.Error != nil {
		return fmt.Errorf("failed to record wallet activity: %w", res.Error)
	}
	return nil
}

// GenerateMonthlyReport aggregates the month's transitions. Month defaults
// to the current regulatory month; regenerating overwrites the row.
func (m *Manager) GenerateMonthlyReport(ctx context.Context, month string) (*models.DormancyMonthlyReport, error) {
	if month == "" {
		month = m.clk.Now().Format(clock.MonthFormat)
	}
	start, err := time.Parse(clock.MonthFormat, month)
	if err != nil {
		return nil, fmt.Errorf("invalid report month %q: %w", month, err)
	}
	end := start.AddDate(0, 1, 0)

	counts := struct {
		newlyWarned, newlyDormant, released       int64
		totalWarning, totalDormant, totalReleased int64
	}{}

	db := m.db.WithContext(ctx).Model(&models.Wallet{})
	if err := db.Where("warning_issued_at >= ? AND warning_issued_at < ?", start, end).Count(&counts.newlyWarned).Error; err != nil {
		return nil, fmt.Errorf("failed to count newly warned wallets: %w", err)
	}
	db = m.db.WithContext(ctx).Model(&models.Wallet{})
	if err := db.Where("dormant_since >= ? AND dormant_since < ?", start, end).Count(&counts.newlyDormant).Error; err != nil {
		return nil, fmt.Errorf("failed to count newly dormant wallets: %w", err)
	}
	db = m.db.WithContext(ctx).Model(&models.Wallet{})
	if err := db.Where("funds_released_at >= ? AND funds_released_at < ?", start, end).Count(&counts.released).Error; err != nil {
		return nil, fmt.Errorf("failed to count released wallets: %w", err)
	}
	for status, dest := range map[models.DormancyStatus]*int64{
		models.DormancyWarning:  &counts.totalWarning,
		models.DormancyDormant:  &counts.totalDormant,
		models.DormancyReleased: &counts.totalReleased,
	} {
		if err := m.db.WithContext(ctx).Model(&models.Wallet{}).
			Where("dormancy_status = ?", status).Count(dest).Error; err != nil {
			return nil, fmt.Errorf("failed to count %s wallets: %w", status, err)
		}
	}

	report := &models.DormancyMonthlyReport{
		ID:            uuid.New(),
		Month:         month,
		NewlyWarned:   int(counts.newlyWarned),
		NewlyDormant:  int(counts.newlyDormant),
		FundsReleased: int(counts.released),
		TotalWarning:  int(counts.totalWarning),
		TotalDormant:  int(counts.totalDormant),
		TotalReleased: int(counts.totalReleased),
		GeneratedAt:   m.clk.Now(),
	}
	if err := m.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "month"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"newly_warned", "newly_dormant", "funds_released",
			"total_warning", "total_dormant", "total_released",
			"generated_at", "updated_at",
		}),
	}).Create(report).Error; err != nil {
		return nil, fmt.Errorf("failed to persist monthly dormancy report: %w", err)
	}
	return report, nil
}

// GetYearlyReports returns the stored monthly reports for a year, oldest
// first.
func (m *Manager) GetYearlyReports(ctx context.Context, year int) ([]*models.DormancyMonthlyReport, error) {
	var reports []*models.DormancyMonthlyReport
	if err := m.db.WithContext(ctx).
		Where("month LIKE ?", fmt.Sprintf("%04d-%%", year)).
		Order("month ASC").
		Find(&reports).Error; err != nil {
		return nil, fmt.Errorf("failed to load dormancy reports for %d: %w", year, err)
	}
	return reports, nil
}

func (m *Manager) auditRun(ctx context.Context, result *ProcessingResult) {
	if _, err := m.trail.Append(ctx, audit.Entry{
		AuditType:     "dormancy_processing_run",
		RegulationRef: regulationRefDormancy,
		ActionTaken:   "daily dormancy lifecycle processing executed",
		PerformedBy:   "dormancy-lifecycle-manager",
		Result:        "processed",
		Metadata: map[string]interface{}{
			"warned":       result.Warned,
			"made_dormant": result.MadeDormant,
			"released":     result.Released,
			"skipped":      result.Skipped,
			"errors":       len(result.Errors),
		},
	}); err != nil {
		m.logger.Error("failed to append dormancy audit entry", zap.Error(err))
	}
}

// applyWarning moves an active wallet to warning. Returns false when the
// optimistic guard lost to a concurrent activity reset.
func (m *Manager) applyWarning(ctx context.Context, w *models.Wallet, now time.Time) (bool, error) {
	res := m.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("id = ? AND last_activity_at = ? AND dormancy_status = ?", w.ID, w.LastActivityAt, models.DormancyActive).
		Updates(map[string]interface{}{
			"dormancy_status":   models.DormancyWarning,
			"warning_issued_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// applyDormant moves a wallet to dormant and freezes outgoing transfers.
// Skip-ahead: a wallet going active → dormant in one pass gets its warning
// timestamp set too, so the record shows the full progression.
func (m *Manager) applyDormant(ctx context.Context, w *models.Wallet, now time.Time) (bool, error) {
	updates := map[string]interface{}{
		"dormancy_status": models.DormancyDormant,
		"dormant_since":   now,
	}
	if w.WarningIssuedAt == nil {
		updates["warning_issued_at"] = now
	}
	res := m.db.WithContext(ctx).Model(&models.Wallet{}).
		Where("id = ? AND last_activity_at = ? AND dormancy_status IN ?",
			w.ID, w.LastActivityAt, []models.DormancyStatus{models.DormancyActive, models.DormancyWarning}).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	if res.RowsAffected == 0 {
		return false, nil
	}

	if _, err := m.trail.Append(ctx, audit.Entry{
		AuditType:     "wallet_dormancy_transition",
		RegulationRef: regulationRefDormancy,
		ActionTaken:   "wallet frozen as dormant after inactivity threshold",
		PerformedBy:   "dormancy-lifecycle-manager",
		Result:        string(models.DormancyDormant),
		Metadata: map[string]interface{}{
			"wallet_id":        w.ID.String(),
			"last_activity_at": w.LastActivityAt.Format(time.RFC3339),
			"threshold_days":   m.params.DormancyThresholdDays,
		},
	}); err != nil {
		return true, err
	}
	return true, nil
}

// applyRelease sweeps the wallet balance into the unclaimed-funds ledger
// and zeroes the wallet, atomically.
func (m *Manager) applyRelease(ctx context.Context, w *models.Wallet, now time.Time) (bool, error) {
	swept := w.Balance
	applied := false
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.Wallet{}).
			Where("id = ? AND last_activity_at = ? AND dormancy_status = ?", w.ID, w.LastActivityAt, models.DormancyDormant).
			Updates(map[string]interface{}{
				"dormancy_status":   models.DormancyReleased,
				"funds_released_at": now,
				"balance":           decimal.Zero,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true
		return tx.Create(&models.UnclaimedFund{
			ID:         uuid.New(),
			WalletID:   w.ID,
			Amount:     swept,
			Currency:   w.Currency,
			Reference:  fmt.Sprintf("dormancy-release-%s", now.Format(clock.DateFormat)),
			ReleasedAt: now,
		}).Error
	})
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}

	if _, err := m.trail.Append(ctx, audit.Entry{
		AuditType:     "wallet_funds_release",
		RegulationRef: regulationRefDormancy,
		ActionTaken:   "dormant wallet balance swept to unclaimed funds ledger",
		PerformedBy:   "dormancy-lifecycle-manager",
		Result:        string(models.DormancyReleased),
		Metadata: map[string]interface{}{
			"wallet_id":     w.ID.String(),
			"amount":        swept.String(),
			"currency":      w.Currency,
			"dormant_since": w.DormantSince,
		},
	}); err != nil {
		return true, err
	}
	return true, nil
}
