// Package settlement implements the daily settlement batch processor: one
// batch per regulatory day, driven to completion against the external
// payment rail with per-transaction failure accounting.
package settlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pesacore/emoney-compliance/internal/audit"
	"github.com/pesacore/emoney-compliance/pkg/clock"
	"github.com/pesacore/emoney-compliance/pkg/metrics"
	"github.com/pesacore/emoney-compliance/pkg/models"
)

const regulationRefSettlement = "EMR-2023 s.19 daily settlement"

// Result is the batch-level outcome returned to the caller. Success is
// true only for a fully completed batch so callers can alert on partial or
// failed runs; a reused already-terminal batch reports its stored outcome.
type Result struct {
	Success   bool                    `json:"success"`
	Batch     *models.SettlementBatch `json:"batch"`
	Processed int                     `json:"processed"`
	Failed    int                     `json:"failed"`
	Message   string                  `json:"message"`
}

// Processor drives daily settlement.
type Processor struct {
	db          *gorm.DB
	logger      *zap.Logger
	clk         clock.Clock
	trail       *audit.Trail
	rail        Rail
	railTimeout time.Duration
}

// NewProcessor creates a settlement batch processor.
func NewProcessor(db *gorm.DB, logger *zap.Logger, clk clock.Clock, trail *audit.Trail, rail Rail, railTimeout time.Duration) *Processor {
	if railTimeout <= 0 {
		railTimeout = 30 * time.Second
	}
	return &Processor{db: db, logger: logger, clk: clk, trail: trail, rail: rail, railTimeout: railTimeout}
}

// GetPendingSettlementTransactions returns completed, unsettled
// transactions in creation order. A limit of 0 returns everything.
func (p *Processor) GetPendingSettlementTransactions(ctx context.Context, limit int) ([]*models.WalletTransaction, error) {
	query := p.db.WithContext(ctx).
		Where("status = ? AND settled = ?", "completed", false).
		Order("created_at ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	var txs []*models.WalletTransaction
	if err := query.Find(&txs).Error; err != nil {
		return nil, fmt.Errorf("failed to load pending settlement transactions: %w", err)
	}
	return txs, nil
}

// RunDailySettlement creates (or reuses) the batch for the current
// regulatory date and drives every pending transaction through the rail.
// Idempotent: a re-run on the same day neither creates a second batch nor
// re-settles a transaction. Individual rail failures are isolated and
// counted; the run writes one audit entry regardless of outcome.
func (p *Processor) RunDailySettlement(ctx context.Context) (*Result, error) {
	date := p.clk.Today()

	batch, reused, err := p.findOrCreateBatch(ctx, date)
	if err != nil {
		return nil, err
	}
	if reused && batch.Status.Terminal() {
		// Today's batch already ran; treat as success per concurrency
		// contract, reporting the stored outcome.
		return &Result{
			Success:   batch.Status == models.BatchCompleted,
			Batch:     batch,
			Processed: batch.ProcessedCount,
			Failed:    batch.FailedCount,
			Message:   fmt.Sprintf("settlement batch for %s already %s", date, batch.Status),
		}, nil
	}

	pending, err := p.GetPendingSettlementTransactions(ctx, 0)
	if err != nil {
		// Nothing processed yet: the whole run failed.
		if markErr := p.markBatchFailed(ctx, batch); markErr != nil {
			p.logger.Error("failed to mark settlement batch failed", zap.Error(markErr))
		}
		p.auditRun(ctx, batch, 0, 0, string(models.BatchFailed))
		return &Result{
			Success: false,
			Batch:   batch,
			Message: fmt.Sprintf("settlement run failed before processing: %v", err),
		}, nil
	}

	ids := make(models.UUIDArray, 0, len(pending))
	for _, tx := range pending {
		ids = append(ids, tx.ID)
	}
	batch.TransactionIDs = ids
	if err := p.db.WithContext(ctx).Model(batch).Update("transaction_ids", ids).Error; err != nil {
		return nil, fmt.Errorf("failed to record batch transactions: %w", err)
	}

	processed, failed := 0, 0
	for _, tx := range pending {
		if err := p.settleOne(ctx, batch, tx); err != nil {
			failed++
			metrics.SettlementItems.WithLabelValues("failed").Inc()
			p.logger.Warn("settlement rail rejected transaction",
				zap.String("transaction_id", tx.ID.String()),
				zap.Error(err))
			if recErr := p.db.WithContext(ctx).Create(&models.SettlementItemFailure{
				ID:            uuid.New(),
				BatchID:       batch.ID,
				TransactionID: tx.ID,
				Reason:        err.Error(),
			}).Error; recErr != nil {
				p.logger.Error("failed to record settlement item failure", zap.Error(recErr))
			}
			continue
		}
		processed++
		metrics.SettlementItems.WithLabelValues("processed").Inc()
	}

	status := models.BatchCompleted
	if failed > 0 {
		status = models.BatchPartial
	}
	now := p.clk.Now()
	batch.ProcessedCount = processed
	batch.FailedCount = failed
	batch.Status = status
	batch.CompletedAt = &now
	if err := p.db.WithContext(ctx).Model(batch).Updates(map[string]interface{}{
		"processed_count": processed,
		"failed_count":    failed,
		"status":          status,
		"completed_at":    now,
	}).Error; err != nil {
		return nil, fmt.Errorf("failed to finalize settlement batch: %w", err)
	}

	p.auditRun(ctx, batch, processed, failed, string(status))
	metrics.MonitorRuns.WithLabelValues("settlement", string(status)).Inc()
	if status != models.BatchCompleted {
		metrics.Violations.WithLabelValues("settlement", "partial_batch").Inc()
	}

	message := fmt.Sprintf("settled %d of %d transactions for %s", processed, len(pending), date)
	p.logger.Info("daily settlement run complete",
		zap.String("date", date),
		zap.String("status", string(status)),
		zap.Int("processed", processed),
		zap.Int("failed", failed))

	return &Result{
		Success:   status == models.BatchCompleted,
		Batch:     batch,
		Processed: processed,
		Failed:    failed,
		Message:   message,
	}, nil
}

// GetSettlementBatch returns one batch by ID.
func (p *Processor) GetSettlementBatch(ctx context.Context, id uuid.UUID) (*models.SettlementBatch, error) {
	var batch models.SettlementBatch
	if err := p.db.WithContext(ctx).Where("id = ?", id).First(&batch).Error; err != nil {
		return nil, err
	}
	return &batch, nil
}

// GetSettlementBatches returns batches in [fromDate, toDate], newest first.
// Empty bounds are open; a limit of 0 returns everything.
func (p *Processor) GetSettlementBatches(ctx context.Context, fromDate, toDate string, limit int) ([]*models.SettlementBatch, error) {
	query := p.db.WithContext(ctx).Model(&models.SettlementBatch{})
	if fromDate != "" {
		query = query.Where("settlement_date >= ?", fromDate)
	}
	if toDate != "" {
		query = query.Where("settlement_date <= ?", toDate)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	var batches []*models.SettlementBatch
	if err := query.Order("settlement_date DESC").Find(&batches).Error; err != nil {
		return nil, fmt.Errorf("failed to load settlement batches: %w", err)
	}
	return batches, nil
}

// findOrCreateBatch enforces the one-batch-per-day invariant. A unique
// index on settlement_date backs it; losing the insert race means another
// run owns today's batch, and that row is reused.
func (p *Processor) findOrCreateBatch(ctx context.Context, date string) (*models.SettlementBatch, bool, error) {
	var existing models.SettlementBatch
	err := p.db.WithContext(ctx).Where("settlement_date = ?", date).First(&existing).Error
	if err == nil {
		return &existing, true, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, fmt.Errorf("failed to look up settlement batch: %w", err)
	}

	batch := &models.SettlementBatch{
		ID:             uuid.New(),
		SettlementDate: date,
		TransactionIDs: models.UUIDArray{},
		Status:         models.BatchPending,
	}
	if err := p.db.WithContext(ctx).Create(batch).Error; err != nil {
		// Unique violation: a concurrent run created today's batch first.
		var raced models.SettlementBatch
		if findErr := p.db.WithContext(ctx).Where("settlement_date = ?", date).First(&raced).Error; findErr == nil {
			return &raced, true, nil
		}
		return nil, false, fmt.Errorf("failed to create settlement batch: %w", err)
	}
	return batch, false, nil
}

// settleOne invokes the rail with a bounded timeout and marks the
// transaction settled on success. A stuck rail call for one transaction
// cannot stall the rest of the batch.
func (p *Processor) settleOne(ctx context.Context, batch *models.SettlementBatch, tx *models.WalletTransaction) error {
	railCtx, cancel := context.WithTimeout(ctx, p.railTimeout)
	defer cancel()

	reference, err := p.rail.Settle(railCtx, tx)
	if err != nil {
		return err
	}

	return p.db.WithContext(ctx).Model(&models.WalletTransaction{}).
		Where("id = ? AND settled = ?", tx.ID, false).
		Updates(map[string]interface{}{
			"settled":             true,
			"settlement_batch_id": batch.ID,
			"reference":           reference,
		}).Error
}

func (p *Processor) markBatchFailed(ctx context.Context, batch *models.SettlementBatch) error {
	now := p.clk.Now()
	batch.Status = models.BatchFailed
	batch.CompletedAt = &now
	return p.db.WithContext(ctx).Model(batch).Updates(map[string]interface{}{
		"status":       models.BatchFailed,
		"completed_at": now,
	}).Error
}

func (p *Processor) auditRun(ctx context.Context, batch *models.SettlementBatch, processed, failed int, result string) {
	if _, err := p.trail.Append(ctx, audit.Entry{
		AuditType:     "daily_settlement_run",
		RegulationRef: regulationRefSettlement,
		ActionTaken:   "daily settlement batch executed",
		PerformedBy:   "settlement-batch-processor",
		Result:        result,
		Metadata: map[string]interface{}{
			"batch_id":        batch.ID.String(),
			"settlement_date": batch.SettlementDate,
			"processed":       processed,
			"failed":          failed,
		},
	}); err != nil {
		p.logger.Error("failed to append settlement audit entry", zap.Error(err))
	}
}
