package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pesacore/emoney-compliance/internal/testutil"
	"github.com/pesacore/emoney-compliance/pkg/clock"
	"github.com/pesacore/emoney-compliance/pkg/models"
)

func newTrail(t *testing.T) *Trail {
	t.Helper()
	trail, err := NewTrail(testutil.OpenDB(t), zap.NewNop(), clock.NewFixed(time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)))
	require.NoError(t, err)
	return trail
}

func sampleEntry(result string) Entry {
	return Entry{
		AuditType:     "capital_adequacy_check",
		RegulationRef: "EMR-2023 s.12 capital adequacy",
		ActionTaken:   "daily capital snapshot recorded",
		PerformedBy:   "capital-compliance-monitor",
		Result:        result,
		Metadata:      map[string]interface{}{"snapshot_date": "2026-03-14"},
	}
}

func TestAppend_ChainsEntries(t *testing.T) {
	trail := newTrail(t)
	ctx := context.Background()

	first, err := trail.Append(ctx, sampleEntry("compliant"))
	require.NoError(t, err)
	assert.Empty(t, first.PreviousHash)
	assert.NotEmpty(t, first.EntryHash)

	second, err := trail.Append(ctx, sampleEntry("deficient"))
	require.NoError(t, err)
	assert.Equal(t, first.EntryHash, second.PreviousHash)
	assert.NotEqual(t, first.EntryHash, second.EntryHash)
}

func TestAppend_RejectsIncompleteEntries(t *testing.T) {
	trail := newTrail(t)

	e := sampleEntry("compliant")
	e.RegulationRef = ""
	_, err := trail.Append(context.Background(), e)
	assert.Error(t, err)
}

func TestList_NewestFirstWithFilter(t *testing.T) {
	trail := newTrail(t)
	ctx := context.Background()

	_, err := trail.Append(ctx, sampleEntry("compliant"))
	require.NoError(t, err)
	settle := sampleEntry("completed")
	settle.AuditType = "daily_settlement_run"
	_, err = trail.Append(ctx, settle)
	require.NoError(t, err)

	all, err := trail.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "daily_settlement_run", all[0].AuditType)

	onlyCapital, err := trail.List(ctx, Filter{AuditType: "capital_adequacy_check"})
	require.NoError(t, err)
	require.Len(t, onlyCapital, 1)
}

func TestVerifyChain_DetectsTampering(t *testing.T) {
	trail := newTrail(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := trail.Append(ctx, sampleEntry("compliant"))
		require.NoError(t, err)
	}

	verification, err := trail.VerifyChain(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.True(t, verification.Valid)
	assert.Equal(t, 3, verification.EntriesChecked)

	// Mutate a stored entry behind the trail's back.
	var victim models.AuditEntry
	require.NoError(t, trail.db.Order("sequence ASC").First(&victim).Error)
	require.NoError(t, trail.db.Model(&victim).Update("result", "forged").Error)

	verification, err = trail.VerifyChain(ctx, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.False(t, verification.Valid)
	assert.Equal(t, victim.Sequence, verification.FirstBreakSeq)
}
