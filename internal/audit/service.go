// Package audit provides the append-only, tamper-evident trail of
// regulatory actions. Every monitor writes here; only reporting reads.
package audit

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pesacore/emoney-compliance/pkg/clock"
	"github.com/pesacore/emoney-compliance/pkg/models"
)

// Entry is the input to Append; persistence fields are stamped by the trail.
type Entry struct {
	AuditType     string
	RegulationRef string
	ActionTaken   string
	PerformedBy   string
	Result        string
	Metadata      map[string]interface{}
}

// Filter narrows List queries.
type Filter struct {
	AuditType string
	From      time.Time
	To        time.Time
	Limit     int
}

// ChainVerification is the outcome of a chain integrity scan.
type ChainVerification struct {
	Valid          bool      `json:"valid"`
	EntriesChecked int       `json:"entries_checked"`
	FirstBreakSeq  int64     `json:"first_break_sequence,omitempty"`
	VerifiedAt     time.Time `json:"verified_at"`
}

// Trail writes and reads audit entries. Appends are serialized so the hash
// chain stays linear even when monitors overlap.
type Trail struct {
	db     *gorm.DB
	logger *zap.Logger
	clk    clock.Clock
	mu     sync.Mutex
}

// NewTrail creates an audit trail.
func NewTrail(db *gorm.DB, logger *zap.Logger, clk clock.Clock) (*Trail, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	return &Trail{db: db, logger: logger, clk: clk}, nil
}

// Append validates, chains and inserts one entry. Entries are never
// updated or deleted afterwards. Persistence errors propagate unmodified.
func (t *Trail) Append(ctx context.Context, e Entry) (*models.AuditEntry, error) {
	if err := t.validate(e); err != nil {
		return nil, fmt.Errorf("invalid audit entry: %w", err)
	}

	metadata := ""
	if e.Metadata != nil {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal audit metadata: %w", err)
		}
		metadata = string(b)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	previousHash, err := t.latestHash(ctx)
	if err != nil {
		return nil, err
	}

	record := &models.AuditEntry{
		ID:            uuid.New(),
		AuditType:     e.AuditType,
		RegulationRef: e.RegulationRef,
		ActionTaken:   e.ActionTaken,
		PerformedBy:   e.PerformedBy,
		Result:        e.Result,
		Metadata:      metadata,
		PreviousHash:  previousHash,
		CreatedAt:     t.clk.Now(),
	}
	record.EntryHash = entryHash(record)

	if err := t.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, err
	}

	t.logger.Info("audit entry appended",
		zap.String("audit_type", record.AuditType),
		zap.String("regulation_ref", record.RegulationRef),
		zap.String("result", record.Result))

	return record, nil
}

// List returns entries matching the filter, newest first.
func (t *Trail) List(ctx context.Context, filter Filter) ([]*models.AuditEntry, error) {
	query := t.db.WithContext(ctx).Model(&models.AuditEntry{})

	if filter.AuditType != "" {
		query = query.Where("audit_type = ?", filter.AuditType)
	}
	if !filter.From.IsZero() {
		query = query.Where("created_at >= ?", filter.From)
	}
	if !filter.To.IsZero() {
		query = query.Where("created_at <= ?", filter.To)
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = 1000
	}

	var entries []*models.AuditEntry
	if err := query.Order("sequence DESC").Limit(limit).Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	return entries, nil
}

// VerifyChain recomputes every hash in [from, to] and reports the first
// break, if any.
func (t *Trail) VerifyChain(ctx context.Context, from, to time.Time) (*ChainVerification, error) {
	query := t.db.WithContext(ctx).Model(&models.AuditEntry{})
	if !from.IsZero() {
		query = query.Where("created_at >= ?", from)
	}
	if !to.IsZero() {
		query = query.Where("created_at <= ?", to)
	}

	var entries []*models.AuditEntry
	if err := query.Order("sequence ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("failed to load audit chain: %w", err)
	}

	result := &ChainVerification{Valid: true, VerifiedAt: t.clk.Now()}
	var previousHash string
	for i, entry := range entries {
		if i > 0 && entry.PreviousHash != previousHash {
			result.Valid = false
			result.FirstBreakSeq = entry.Sequence
			break
		}
		if entryHash(entry) != entry.EntryHash {
			result.Valid = false
			result.FirstBreakSeq = entry.Sequence
			break
		}
		previousHash = entry.EntryHash
		result.EntriesChecked++
	}
	return result, nil
}

func (t *Trail) latestHash(ctx context.Context) (string, error) {
	var last models.AuditEntry
	err := t.db.WithContext(ctx).Order("sequence DESC").First(&last).Error
	if err == gorm.ErrRecordNotFound {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load audit chain head: %w", err)
	}
	return last.EntryHash, nil
}

func (t *Trail) validate(e Entry) error {
	if e.AuditType == "" {
		return fmt.Errorf("audit_type is required")
	}
	if e.RegulationRef == "" {
		return fmt.Errorf("regulation_ref is required")
	}
	if e.ActionTaken == "" {
		return fmt.Errorf("action_taken is required")
	}
	if e.PerformedBy == "" {
		return fmt.Errorf("performed_by is required")
	}
	if e.Result == "" {
		return fmt.Errorf("result is required")
	}
	return nil
}

func entryHash(e *models.AuditEntry) string {
	hashInput := struct {
		AuditType     string    `json:"audit_type"`
		RegulationRef string    `json:"regulation_ref"`
		ActionTaken   string    `json:"action_taken"`
		PerformedBy   string    `json:"performed_by"`
		Result        string    `json:"result"`
		Metadata      string    `json:"metadata,omitempty"`
		CreatedAt     time.Time `json:"created_at"`
		PreviousHash  string    `json:"previous_hash"`
	}{
		AuditType:     e.AuditType,
		RegulationRef: e.RegulationRef,
		ActionTaken:   e.ActionTaken,
		PerformedBy:   e.PerformedBy,
		Result:        e.Result,
		Metadata:      e.Metadata,
		CreatedAt:     e.CreatedAt,
		PreviousHash:  e.PreviousHash,
	}
	data, _ := json.Marshal(hashInput)
	hash := sha256.Sum256(data)
	return fmt.Sprintf("%x", hash)
}
