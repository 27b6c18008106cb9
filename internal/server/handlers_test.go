package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/pesacore/emoney-compliance/internal/audit"
	"github.com/pesacore/emoney-compliance/internal/availability"
	"github.com/pesacore/emoney-compliance/internal/capital"
	"github.com/pesacore/emoney-compliance/internal/config"
	"github.com/pesacore/emoney-compliance/internal/dormancy"
	"github.com/pesacore/emoney-compliance/internal/settlement"
	"github.com/pesacore/emoney-compliance/internal/testutil"
	"github.com/pesacore/emoney-compliance/pkg/clock"
	"github.com/pesacore/emoney-compliance/pkg/models"
)

func newRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.OpenDB(t)
	clk := clock.NewFixed(time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	params := config.Regulatory{
		InitialCapitalRequired: decimal.NewFromInt(1_500_000),
		DormancyWarningDays:    30,
		DormancyThresholdDays:  60,
		DormancyHoldDays:       90,
		TargetUptimePercentage: 99.9,
		RailTimeout:            time.Second,
	}

	trail, err := audit.NewTrail(db, log, clk)
	require.NoError(t, err)

	handler := NewHandler(
		capital.NewMonitor(db, log, clk, params, trail),
		dormancy.NewManager(db, log, clk, params, trail),
		settlement.NewProcessor(db, log, clk, trail, settlement.NewLoggingRail(log), params.RailTimeout),
		availability.NewMonitor(db, log, clk, params, trail),
		log,
	)

	router := gin.New()
	Routes(router.Group("/api/v1"), handler)
	return router, db
}

func do(t *testing.T, router *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestGetCapital_NoDataIsDeficientNotAnError(t *testing.T) {
	router, _ := newRouter(t)

	w := do(t, router, http.MethodGet, "/api/v1/compliance/capital", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "deficient", body["compliance_status"])
	assert.Equal(t, false, body["compliant"])
}

func TestPostCapital_ReturnsSnapshot(t *testing.T) {
	router, _ := newRouter(t)

	w := do(t, router, http.MethodPost, "/api/v1/compliance/capital", gin.H{
		"liquid_assets": gin.H{
			"cash":                   "1000000",
			"government_bonds":       "500000",
			"short_term_instruments": "0",
			"other_approved_assets":  "0",
		},
		"initial_capital_held": "2000000",
	})
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "2026-03-14", body["snapshot_date"])
	assert.Equal(t, "compliant", body["compliance_status"])
}

func TestPostCapital_BadBody(t *testing.T) {
	router, _ := newRouter(t)

	w := do(t, router, http.MethodPost, "/api/v1/compliance/capital", gin.H{
		"liquid_assets": "not-an-object",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestDormancyCheckAndProcess(t *testing.T) {
	router, _ := newRouter(t)

	w := do(t, router, http.MethodGet, "/api/v1/compliance/dormancy?action=check", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodPost, "/api/v1/compliance/dormancy", gin.H{"action": "process"})
	require.Equal(t, http.StatusOK, w.Code)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.EqualValues(t, 0, result["warned"])
}

func TestDormancyUnknownAction(t *testing.T) {
	router, _ := newRouter(t)

	w := do(t, router, http.MethodGet, "/api/v1/compliance/dormancy?action=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = do(t, router, http.MethodPost, "/api/v1/compliance/dormancy", gin.H{"action": "bogus"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestProcessingSettleAndLookups(t *testing.T) {
	router, _ := newRouter(t)

	w := do(t, router, http.MethodPost, "/api/v1/compliance/processing", gin.H{"action": "settle"})
	require.Equal(t, http.StatusOK, w.Code)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, true, result["success"])

	w = do(t, router, http.MethodGet, "/api/v1/compliance/processing?action=batches", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var batches map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &batches))
	assert.EqualValues(t, 1, batches["count"])
}

func TestProcessingHealthCheckRoundTrip(t *testing.T) {
	router, _ := newRouter(t)

	w := do(t, router, http.MethodPost, "/api/v1/compliance/processing", gin.H{
		"action":           "health-check",
		"check_type":       "api",
		"status":           "healthy",
		"response_time_ms": 25,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(t, router, http.MethodGet, "/api/v1/compliance/processing?action=health", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var health map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health["overall"])
}

func TestProcessingLatencyCheckTypeFilter(t *testing.T) {
	router, _ := newRouter(t)

	for _, sample := range []struct {
		checkType string
		ms        int64
	}{
		{"api", 20},
		{"api", 40},
		{"database", 9000},
	} {
		w := do(t, router, http.MethodPost, "/api/v1/compliance/processing", gin.H{
			"action":           "health-check",
			"check_type":       sample.checkType,
			"status":           "healthy",
			"response_time_ms": sample.ms,
		})
		require.Equal(t, http.StatusOK, w.Code)
	}

	w := do(t, router, http.MethodGet, "/api/v1/compliance/processing?action=latency&check_type=api", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var stats map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.EqualValues(t, 2, stats["sample_count"])
	assert.EqualValues(t, 40, stats["max_ms"])
}

func TestProcessingBatchesLimit(t *testing.T) {
	router, db := newRouter(t)

	for _, date := range []string{"2026-03-11", "2026-03-12", "2026-03-13"} {
		require.NoError(t, db.Create(&models.SettlementBatch{
			ID:             uuid.New(),
			SettlementDate: date,
			TransactionIDs: models.UUIDArray{},
			Status:         models.BatchCompleted,
		}).Error)
	}

	w := do(t, router, http.MethodGet, "/api/v1/compliance/processing?action=batches&limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var batches map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &batches))
	assert.EqualValues(t, 2, batches["count"])
}

func TestProcessingBatchRequiresUUID(t *testing.T) {
	router, _ := newRouter(t)

	w := do(t, router, http.MethodGet, "/api/v1/compliance/processing?action=batch&batch_id=nope", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
