package capital

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pesacore/emoney-compliance/internal/audit"
	"github.com/pesacore/emoney-compliance/internal/config"
	"github.com/pesacore/emoney-compliance/internal/testutil"
	"github.com/pesacore/emoney-compliance/pkg/clock"
	"github.com/pesacore/emoney-compliance/pkg/models"
)

var testNow = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

func newMonitor(t *testing.T) (*Monitor, *gorm.DB, *audit.Trail) {
	t.Helper()
	db := testutil.OpenDB(t)
	clk := clock.NewFixed(testNow)
	trail, err := audit.NewTrail(db, zap.NewNop(), clk)
	require.NoError(t, err)
	params := config.Regulatory{
		InitialCapitalRequired: decimal.NewFromInt(1_500_000),
	}
	return NewMonitor(db, zap.NewNop(), clk, params, trail), db, trail
}

func seedWallet(t *testing.T, db *gorm.DB, balance int64, status models.DormancyStatus) {
	t.Helper()
	require.NoError(t, db.Create(&models.Wallet{
		ID:             uuid.New(),
		MSISDN:         uuid.NewString()[:12],
		Balance:        decimal.NewFromInt(balance),
		Currency:       "KES",
		DormancyStatus: status,
		LastActivityAt: testNow,
	}).Error)
}

func seedSamples(t *testing.T, db *gorm.DB, n int, dailyLiabilities int64) {
	t.Helper()
	for i := 1; i <= n; i++ {
		require.NoError(t, db.Create(&models.LiabilitySample{
			ID:               uuid.New(),
			SampleDate:       testNow.AddDate(0, 0, -i).Format(clock.DateFormat),
			TotalLiabilities: decimal.NewFromInt(dailyLiabilities),
		}).Error)
	}
}

func assets(cash, bonds, shortTerm, other int64) LiquidAssets {
	return LiquidAssets{
		Cash:                 decimal.NewFromInt(cash),
		GovernmentBonds:      decimal.NewFromInt(bonds),
		ShortTermInstruments: decimal.NewFromInt(shortTerm),
		OtherApprovedAssets:  decimal.NewFromInt(other),
	}
}

func TestCalculateOngoingRequirement_FallbackOnSparseHistory(t *testing.T) {
	m, db, _ := newMonitor(t)
	ctx := context.Background()

	// 10 samples is below the 30-sample minimum; the sparse average must
	// not be used.
	seedSamples(t, db, 10, 1)
	seedWallet(t, db, 400_000, models.DormancyActive)
	seedWallet(t, db, 250_000, models.DormancyDormant)
	seedWallet(t, db, 999_999, models.DormancyReleased) // swept, not a liability

	required, err := m.CalculateOngoingCapitalRequirement(ctx)
	require.NoError(t, err)
	assert.True(t, required.Equal(decimal.NewFromInt(650_000)), "got %s", required)
}

func TestCalculateOngoingRequirement_RollingAverage(t *testing.T) {
	m, db, _ := newMonitor(t)

	seedSamples(t, db, 40, 2_000_000)
	required, err := m.CalculateOngoingCapitalRequirement(context.Background())
	require.NoError(t, err)
	assert.True(t, required.Equal(decimal.NewFromInt(2_000_000)), "got %s", required)
}

func TestCalculateOngoingRequirement_IgnoresSamplesOutsideWindow(t *testing.T) {
	m, db, _ := newMonitor(t)

	seedSamples(t, db, 40, 1_000_000)
	// Stale samples past the 180-day window must not drag the average.
	for i := 0; i < 20; i++ {
		require.NoError(t, db.Create(&models.LiabilitySample{
			ID:               uuid.New(),
			SampleDate:       testNow.AddDate(0, 0, -200-i).Format(clock.DateFormat),
			TotalLiabilities: decimal.NewFromInt(9_000_000),
		}).Error)
	}

	required, err := m.CalculateOngoingCapitalRequirement(context.Background())
	require.NoError(t, err)
	assert.True(t, required.Equal(decimal.NewFromInt(1_000_000)), "got %s", required)
}

func TestTrackDailyCapital_CompliantSnapshot(t *testing.T) {
	m, db, trail := newMonitor(t)
	ctx := context.Background()

	seedWallet(t, db, 500_000, models.DormancyActive)

	snapshot, err := m.TrackDailyCapital(ctx, assets(400_000, 100_000, 50_000, 25_000), decimal.NewFromInt(2_000_000))
	require.NoError(t, err)

	assert.Equal(t, "2026-03-14", snapshot.SnapshotDate)
	assert.True(t, snapshot.LiquidAssetsTotal.Equal(decimal.NewFromInt(575_000)))
	assert.True(t, snapshot.LiquidAssetsTotal.Equal(
		snapshot.Cash.Add(snapshot.GovernmentBonds).Add(snapshot.ShortTermInstruments).Add(snapshot.OtherApprovedAssets)))
	assert.Equal(t, models.ComplianceCompliant, snapshot.ComplianceStatus)
	assert.False(t, snapshot.DeficiencyAmount.Valid)

	// Sparse history: ongoing requirement fell back to current liabilities.
	assert.True(t, snapshot.OngoingCapitalRequired.Equal(decimal.NewFromInt(500_000)))

	entries, err := trail.List(ctx, audit.Filter{AuditType: "capital_adequacy_check"})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestTrackDailyCapital_InitialDeficiencyTakesPrecedence(t *testing.T) {
	m, db, trail := newMonitor(t)
	ctx := context.Background()

	// Both legs short; deficiency must report the initial leg.
	seedWallet(t, db, 900_000, models.DormancyActive)

	snapshot, err := m.TrackDailyCapital(ctx, assets(100_000, 0, 0, 0), decimal.NewFromInt(1_000_000))
	require.NoError(t, err)

	assert.Equal(t, models.ComplianceDeficient, snapshot.ComplianceStatus)
	require.True(t, snapshot.DeficiencyAmount.Valid)
	assert.True(t, snapshot.DeficiencyAmount.Decimal.Equal(decimal.NewFromInt(500_000)),
		"got %s", snapshot.DeficiencyAmount.Decimal)

	// A deficient run still writes its audit entry.
	entries, err := trail.List(ctx, audit.Filter{AuditType: "capital_adequacy_check"})
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestTrackDailyCapital_OngoingDeficiency(t *testing.T) {
	m, db, _ := newMonitor(t)

	seedWallet(t, db, 800_000, models.DormancyActive)

	snapshot, err := m.TrackDailyCapital(context.Background(), assets(300_000, 0, 0, 0), decimal.NewFromInt(1_500_000))
	require.NoError(t, err)

	assert.Equal(t, models.ComplianceDeficient, snapshot.ComplianceStatus)
	require.True(t, snapshot.DeficiencyAmount.Valid)
	assert.True(t, snapshot.DeficiencyAmount.Decimal.Equal(decimal.NewFromInt(500_000)))
}

func TestTrackDailyCapital_SameDayUpsert(t *testing.T) {
	m, _, _ := newMonitor(t)
	ctx := context.Background()

	_, err := m.TrackDailyCapital(ctx, assets(100, 0, 0, 0), decimal.NewFromInt(2_000_000))
	require.NoError(t, err)
	_, err = m.TrackDailyCapital(ctx, assets(200, 0, 0, 0), decimal.NewFromInt(2_000_000))
	require.NoError(t, err)

	var count int64
	require.NoError(t, m.db.Model(&models.CapitalSnapshot{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)

	var snapshot models.CapitalSnapshot
	require.NoError(t, m.db.First(&snapshot).Error)
	assert.True(t, snapshot.Cash.Equal(decimal.NewFromInt(200)))
}

func TestTrackDailyCapital_RejectsNegativeInputs(t *testing.T) {
	m, _, _ := newMonitor(t)
	ctx := context.Background()

	bad := assets(100, 0, 0, 0)
	bad.Cash = decimal.NewFromInt(-1)
	_, err := m.TrackDailyCapital(ctx, bad, decimal.NewFromInt(1))
	assert.Error(t, err)

	_, err = m.TrackDailyCapital(ctx, assets(100, 0, 0, 0), decimal.NewFromInt(-1))
	assert.Error(t, err)
}

func TestGetCapitalComplianceStatus_ConservativeWithoutData(t *testing.T) {
	m, _, _ := newMonitor(t)

	status, err := m.GetCapitalComplianceStatus(context.Background())
	require.NoError(t, err)
	assert.False(t, status.Compliant)
	assert.Equal(t, models.ComplianceDeficient, status.ComplianceStatus)
	require.True(t, status.DeficiencyAmount.Valid)
	assert.True(t, status.DeficiencyAmount.Decimal.Equal(decimal.NewFromInt(1_500_000)))
}

func TestGenerateCapitalReport_NewestFirst(t *testing.T) {
	m, db, _ := newMonitor(t)

	for i := 0; i < 5; i++ {
		require.NoError(t, db.Create(&models.CapitalSnapshot{
			ID:           uuid.New(),
			SnapshotDate: testNow.AddDate(0, 0, -i).Format(clock.DateFormat),
		}).Error)
	}

	report, err := m.GenerateCapitalReport(context.Background(), 1)
	require.NoError(t, err)
	require.Len(t, report, 5)
	assert.Equal(t, "2026-03-14", report[0].SnapshotDate)
	assert.Equal(t, "2026-03-10", report[4].SnapshotDate)
}
