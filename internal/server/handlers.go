// Package server is the thin HTTP boundary over the compliance monitors.
// Authorization is enforced upstream; handlers trust the caller identity
// they are handed. A check that ran and found a violation answers 200 with
// a non-compliant payload; a check that failed to run answers 5xx — the two
// are never conflated.
package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/pesacore/emoney-compliance/internal/availability"
	"github.com/pesacore/emoney-compliance/internal/capital"
	"github.com/pesacore/emoney-compliance/internal/dormancy"
	"github.com/pesacore/emoney-compliance/internal/settlement"
	"github.com/pesacore/emoney-compliance/pkg/models"
)

// Handler bundles the monitors behind the compliance routes.
type Handler struct {
	capital      *capital.Monitor
	dormancy     *dormancy.Manager
	settlement   *settlement.Processor
	availability *availability.Monitor
	logger       *zap.Logger
}

// NewHandler creates the compliance HTTP handler.
func NewHandler(
	capitalMonitor *capital.Monitor,
	dormancyManager *dormancy.Manager,
	settlementProcessor *settlement.Processor,
	availabilityMonitor *availability.Monitor,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		capital:      capitalMonitor,
		dormancy:     dormancyManager,
		settlement:   settlementProcessor,
		availability: availabilityMonitor,
		logger:       logger,
	}
}

// requestLogger derives a per-request logger carrying a trace ID.
func (h *Handler) requestLogger(c *gin.Context) *zap.Logger {
	traceID := c.GetHeader("X-Trace-ID")
	if traceID == "" {
		traceID = uuid.New().String()
		c.Header("X-Trace-ID", traceID)
	}
	return h.logger.With(
		zap.String("trace_id", traceID),
		zap.String("method", c.Request.Method),
		zap.String("path", c.FullPath()),
	)
}

func failedToRun(c *gin.Context, logger *zap.Logger, action string, err error) {
	logger.Error("compliance check failed to run", zap.String("action", action), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "CHECK_FAILED_TO_RUN",
		"message": "the compliance check could not be executed",
		"action":  action,
	})
}

// GetCapitalCompliance handles GET /compliance/capital.
func (h *Handler) GetCapitalCompliance(c *gin.Context) {
	logger := h.requestLogger(c)
	status, err := h.capital.GetCapitalComplianceStatus(c.Request.Context())
	if err != nil {
		failedToRun(c, logger, "capital-status", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"compliance_status": status.ComplianceStatus,
		"compliant":         status.Compliant,
		"deficiency_amount": status.DeficiencyAmount,
		"last_check_date":   status.LastCheckDate,
	})
}

// TrackCapitalRequest is the POST /compliance/capital body.
type TrackCapitalRequest struct {
	LiquidAssets       capital.LiquidAssets `json:"liquid_assets" binding:"required"`
	InitialCapitalHeld decimal.Decimal      `json:"initial_capital_held" binding:"required"`
}

// TrackCapital handles POST /compliance/capital.
func (h *Handler) TrackCapital(c *gin.Context) {
	logger := h.requestLogger(c)

	var req TrackCapitalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST",
			"message": "invalid request format",
			"details": err.Error(),
		})
		return
	}

	snapshot, err := h.capital.TrackDailyCapital(c.Request.Context(), req.LiquidAssets, req.InitialCapitalHeld)
	if err != nil {
		failedToRun(c, logger, "track-capital", err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

// GetDormancy handles GET /compliance/dormancy with an action selector.
func (h *Handler) GetDormancy(c *gin.Context) {
	logger := h.requestLogger(c)
	ctx := c.Request.Context()

	action := c.DefaultQuery("action", "check")
	switch action {
	case "check":
		result, err := h.dormancy.RunDormancyCheck(ctx)
		if err != nil {
			failedToRun(c, logger, action, err)
			return
		}
		c.JSON(http.StatusOK, result)
	case "wallets-warning":
		wallets, err := h.dormancy.GetWalletsNeedingWarning(ctx)
		if err != nil {
			failedToRun(c, logger, action, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"wallets": wallets, "count": len(wallets)})
	case "wallets-dormant":
		wallets, err := h.dormancy.GetWalletsBecomingDormant(ctx)
		if err != nil {
			failedToRun(c, logger, action, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"wallets": wallets, "count": len(wallets)})
	case "wallets-release":
		wallets, err := h.dormancy.GetWalletsForFundsRelease(ctx)
		if err != nil {
			failedToRun(c, logger, action, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"wallets": wallets, "count": len(wallets)})
	case "report":
		report, err := h.dormancy.GenerateMonthlyReport(ctx, c.Query("month"))
		if err != nil {
			failedToRun(c, logger, action, err)
			return
		}
		c.JSON(http.StatusOK, report)
	case "reports-year":
		year, err := strconv.Atoi(c.Query("year"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": "year must be numeric"})
			return
		}
		reports, err := h.dormancy.GetYearlyReports(ctx, year)
		if err != nil {
			failedToRun(c, logger, action, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"reports": reports, "count": len(reports)})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": "unknown action: " + action})
	}
}

// DormancyActionRequest is the POST /compliance/dormancy body.
type DormancyActionRequest struct {
	Action string `json:"action" binding:"required,oneof=process generate-report"`
	Month  string `json:"month" binding:"omitempty,len=7"`
}

// PostDormancy handles POST /compliance/dormancy.
func (h *Handler) PostDormancy(c *gin.Context) {
	logger := h.requestLogger(c)

	var req DormancyActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST",
			"message": "invalid request format",
			"details": err.Error(),
		})
		return
	}

	switch req.Action {
	case "process":
		result, err := h.dormancy.RunDailyDormancyProcessing(c.Request.Context())
		if err != nil {
			failedToRun(c, logger, req.Action, err)
			return
		}
		// Notification delivery belongs to the notification collaborator;
		// the transitions are already persisted at this point.
		for _, n := range result.Notifications {
			logger.Info("dormancy notification queued",
				zap.String("wallet_id", n.WalletID.String()),
				zap.String("kind", n.Kind))
		}
		c.JSON(http.StatusOK, result)
	case "generate-report":
		report, err := h.dormancy.GenerateMonthlyReport(c.Request.Context(), req.Month)
		if err != nil {
			failedToRun(c, logger, req.Action, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

// GetProcessing handles GET /compliance/processing with an action selector.
func (h *Handler) GetProcessing(c *gin.Context) {
	logger := h.requestLogger(c)
	ctx := c.Request.Context()

	action := c.Query("action")
	switch action {
	case "pending":
		txs, err := h.settlement.GetPendingSettlementTransactions(ctx, queryLimit(c))
		if err != nil {
			failedToRun(c, logger, action, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"transactions": txs, "count": len(txs)})
	case "batches":
		batches, err := h.settlement.GetSettlementBatches(ctx, c.Query("from_date"), c.Query("to_date"), queryLimit(c))
		if err != nil {
			failedToRun(c, logger, action, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"batches": batches, "count": len(batches)})
	case "batch":
		id, err := uuid.Parse(c.Query("batch_id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": "batch_id must be a uuid"})
			return
		}
		batch, err := h.settlement.GetSettlementBatch(ctx, id)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "BATCH_NOT_FOUND", "message": "no such settlement batch"})
			return
		}
		c.JSON(http.StatusOK, batch)
	case "health":
		health, err := h.availability.GetCurrentSystemHealth(ctx, c.Query("check_type"))
		if err != nil {
			failedToRun(c, logger, action, err)
			return
		}
		c.JSON(http.StatusOK, health)
	case "uptime":
		summaries, err := h.availability.GetUptimeSummary(ctx, c.Query("check_type"), queryDays(c))
		if err != nil {
			failedToRun(c, logger, action, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"days": summaries})
	case "latency":
		stats, err := h.availability.GetLatencyStats(ctx, c.Query("check_type"), queryDays(c))
		if err != nil {
			failedToRun(c, logger, action, err)
			return
		}
		c.JSON(http.StatusOK, stats)
	case "compliance":
		check, err := h.availability.CheckUptimeCompliance(ctx, queryDays(c))
		if err != nil {
			failedToRun(c, logger, action, err)
			return
		}
		c.JSON(http.StatusOK, check)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "INVALID_REQUEST", "message": "unknown action: " + action})
	}
}

// ProcessingActionRequest is the POST /compliance/processing body.
type ProcessingActionRequest struct {
	Action         string              `json:"action" binding:"required,oneof=settle health-check"`
	CheckType      string              `json:"check_type"`
	Status         models.HealthStatus `json:"status"`
	ResponseTimeMs int64               `json:"response_time_ms"`
	Details        string              `json:"details"`
	ErrorMessage   string              `json:"error_message"`
}

// PostProcessing handles POST /compliance/processing.
func (h *Handler) PostProcessing(c *gin.Context) {
	logger := h.requestLogger(c)

	var req ProcessingActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "INVALID_REQUEST",
			"message": "invalid request format",
			"details": err.Error(),
		})
		return
	}

	switch req.Action {
	case "settle":
		result, err := h.settlement.RunDailySettlement(c.Request.Context())
		if err != nil {
			failedToRun(c, logger, req.Action, err)
			return
		}
		c.JSON(http.StatusOK, result)
	case "health-check":
		ok := h.availability.RecordHealthCheck(c.Request.Context(),
			req.CheckType, req.Status, req.ResponseTimeMs, req.Details, req.ErrorMessage)
		c.JSON(http.StatusOK, gin.H{"recorded": ok})
	}
}

func queryDays(c *gin.Context) int {
	days, err := strconv.Atoi(c.DefaultQuery("days", "30"))
	if err != nil || days <= 0 {
		return 30
	}
	return days
}

// queryLimit returns the requested result cap; 0 means unlimited.
func queryLimit(c *gin.Context) int {
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "0"))
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
