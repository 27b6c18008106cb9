// Package availability implements the service-availability compliance
// monitor: health-check ingestion, uptime arithmetic over rolling windows
// and latency percentiles.
package availability

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/stat"
	"gorm.io/gorm"

	"github.com/pesacore/emoney-compliance/internal/audit"
	"github.com/pesacore/emoney-compliance/internal/config"
	"github.com/pesacore/emoney-compliance/pkg/clock"
	"github.com/pesacore/emoney-compliance/pkg/metrics"
	"github.com/pesacore/emoney-compliance/pkg/models"
)

const regulationRefAvailability = "EMR-2023 s.33 service availability"

// SystemHealth is the worst-of reduction over the latest sample per check.
type SystemHealth struct {
	Overall   models.HealthStatus                 `json:"overall"`
	Checks    map[string]models.HealthCheckSample `json:"checks"`
	CheckedAt time.Time                           `json:"checked_at"`
}

// DaySummary is one day's uptime figures.
type DaySummary struct {
	Date             string  `json:"date"`
	UptimePercentage float64 `json:"uptime_percentage"`
	DowntimeMinutes  float64 `json:"downtime_minutes"`
	SampleCount      int     `json:"sample_count"`
}

// ComplianceCheck compares trailing uptime against the regulatory target.
type ComplianceCheck struct {
	IsCompliant  bool    `json:"is_compliant"`
	ActualUptime float64 `json:"actual_uptime"`
	TargetUptime float64 `json:"target_uptime"`
	Days         int     `json:"days"`
}

// LatencyStats holds response-time percentiles over the window.
type LatencyStats struct {
	Days        int     `json:"days"`
	SampleCount int     `json:"sample_count"`
	P50Ms       float64 `json:"p50_ms"`
	P95Ms       float64 `json:"p95_ms"`
	P99Ms       float64 `json:"p99_ms"`
	MeanMs      float64 `json:"mean_ms"`
	MaxMs       float64 `json:"max_ms"`
}

// Monitor computes availability compliance from the append-only sample log.
type Monitor struct {
	db     *gorm.DB
	logger *zap.Logger
	clk    clock.Clock
	params config.Regulatory
	trail  *audit.Trail
}

// NewMonitor creates an availability compliance monitor.
func NewMonitor(db *gorm.DB, logger *zap.Logger, clk clock.Clock, params config.Regulatory, trail *audit.Trail) *Monitor {
	return &Monitor{db: db, logger: logger, clk: clk, params: params, trail: trail}
}

// RecordHealthCheck appends one sample. It returns false instead of an
// error: a failed health-check write must never crash the monitoring
// system it reports on.
func (m *Monitor) RecordHealthCheck(ctx context.Context, checkType string, status models.HealthStatus, responseTimeMs int64, details, errorMessage string) bool {
	if checkType == "" {
		m.logger.Warn("health check dropped: missing check type")
		return false
	}
	switch status {
	case models.HealthHealthy, models.HealthDegraded, models.HealthDown:
	default:
		m.logger.Warn("health check dropped: unknown status", zap.String("status", string(status)))
		return false
	}

	sample := &models.HealthCheckSample{
		ID:             uuid.New(),
		CheckType:      checkType,
		Status:         status,
		ResponseTimeMs: responseTimeMs,
		ObservedAt:     m.clk.Now(),
		Details:        details,
		ErrorMessage:   errorMessage,
	}
	if err := m.db.WithContext(ctx).Create(sample).Error; err != nil {
		m.logger.Error("failed to persist health check sample",
			zap.String("check_type", checkType),
			zap.Error(err))
		return false
	}
	metrics.HealthSamples.WithLabelValues(checkType, string(status)).Inc()
	return true
}

// GetCurrentSystemHealth returns the latest sample per check type reduced
// to a single overall status: any down check makes the system down, else
// any degraded check makes it degraded. A non-empty checkType narrows the
// view to that check alone.
func (m *Monitor) GetCurrentSystemHealth(ctx context.Context, checkType string) (*SystemHealth, error) {
	typesQuery := m.db.WithContext(ctx).Model(&models.HealthCheckSample{})
	if checkType != "" {
		typesQuery = typesQuery.Where("check_type = ?", checkType)
	}
	var checkTypes []string
	if err := typesQuery.Distinct("check_type").Pluck("check_type", &checkTypes).Error; err != nil {
		return nil, fmt.Errorf("failed to list health check types: %w", err)
	}

	health := &SystemHealth{
		Overall:   models.HealthHealthy,
		Checks:    make(map[string]models.HealthCheckSample, len(checkTypes)),
		CheckedAt: m.clk.Now(),
	}
	for _, ct := range checkTypes {
		var latest models.HealthCheckSample
		if err := m.db.WithContext(ctx).
			Where("check_type = ?", ct).
			Order("observed_at DESC").
			First(&latest).Error; err != nil {
			return nil, fmt.Errorf("failed to load latest %s sample: %w", ct, err)
		}
		health.Checks[ct] = latest
		switch latest.Status {
		case models.HealthDown:
			health.Overall = models.HealthDown
		case models.HealthDegraded:
			if health.Overall != models.HealthDown {
				health.Overall = models.HealthDegraded
			}
		}
	}
	return health, nil
}

// GetUptimeSummary computes per-day uptime over the trailing window.
// Weighting is sample-weighted: each day's uptime is the fraction of that
// day's samples not reporting down (probes arrive on a fixed cadence, so
// sample count is a faithful proxy for time). Degraded counts as up: the
// service responded. Days with no samples are omitted. A non-empty
// checkType restricts the summary to that check's samples.
func (m *Monitor) GetUptimeSummary(ctx context.Context, checkType string, days int) ([]DaySummary, error) {
	if days <= 0 {
		days = 1
	}
	since := m.clk.Now().AddDate(0, 0, -days)

	query := m.db.WithContext(ctx).Where("observed_at >= ?", since)
	if checkType != "" {
		query = query.Where("check_type = ?", checkType)
	}
	var samples []models.HealthCheckSample
	if err := query.
		Order("observed_at ASC").
		Find(&samples).Error; err != nil {
		return nil, fmt.Errorf("failed to load health samples: %w", err)
	}

	type dayAgg struct{ total, down int }
	byDay := make(map[string]*dayAgg)
	for _, s := range samples {
		key := s.ObservedAt.UTC().Format(clock.DateFormat)
		agg := byDay[key]
		if agg == nil {
			agg = &dayAgg{}
			byDay[key] = agg
		}
		agg.total++
		if s.Status == models.HealthDown {
			agg.down++
		}
	}

	dates := make([]string, 0, len(byDay))
	for d := range byDay {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	summaries := make([]DaySummary, 0, len(dates))
	for _, d := range dates {
		agg := byDay[d]
		downFraction := float64(agg.down) / float64(agg.total)
		summaries = append(summaries, DaySummary{
			Date:             d,
			UptimePercentage: (1 - downFraction) * 100,
			DowntimeMinutes:  downFraction * 24 * 60,
			SampleCount:      agg.total,
		})
	}
	return summaries, nil
}

// CheckUptimeCompliance compares the trailing average of daily uptime
// percentages against the regulatory target. Exactly meeting the target is
// compliant. A window with no samples is conservatively non-compliant:
// no evidence of availability is not availability.
func (m *Monitor) CheckUptimeCompliance(ctx context.Context, days int) (*ComplianceCheck, error) {
	// Compliance is judged for the service as a whole, over every check.
	summaries, err := m.GetUptimeSummary(ctx, "", days)
	if err != nil {
		return nil, err
	}

	check := &ComplianceCheck{
		TargetUptime: m.params.TargetUptimePercentage,
		Days:         days,
	}
	if len(summaries) == 0 {
		check.IsCompliant = false
		m.auditCompliance(ctx, check, "no_samples")
		return check, nil
	}

	total := 0.0
	for _, s := range summaries {
		total += s.UptimePercentage
	}
	check.ActualUptime = total / float64(len(summaries))
	check.IsCompliant = check.ActualUptime >= check.TargetUptime

	result := "compliant"
	if !check.IsCompliant {
		result = "sla_breach"
		metrics.Violations.WithLabelValues("availability", "sla_breach").Inc()
	}
	m.auditCompliance(ctx, check, result)
	metrics.MonitorRuns.WithLabelValues("availability", result).Inc()
	return check, nil
}

// GetLatencyStats computes p50/p95/p99 response times over the window,
// optionally for a single check type.
func (m *Monitor) GetLatencyStats(ctx context.Context, checkType string, days int) (*LatencyStats, error) {
	if days <= 0 {
		days = 1
	}
	since := m.clk.Now().AddDate(0, 0, -days)

	query := m.db.WithContext(ctx).Model(&models.HealthCheckSample{}).
		Where("observed_at >= ?", since)
	if checkType != "" {
		query = query.Where("check_type = ?", checkType)
	}
	var times []int64
	if err := query.Pluck("response_time_ms", &times).Error; err != nil {
		return nil, fmt.Errorf("failed to load response times: %w", err)
	}

	stats := &LatencyStats{Days: days, SampleCount: len(times)}
	if len(times) == 0 {
		return stats, nil
	}

	values := make([]float64, len(times))
	for i, t := range times {
		values[i] = float64(t)
	}
	sort.Float64s(values)

	stats.P50Ms = stat.Quantile(0.50, stat.Empirical, values, nil)
	stats.P95Ms = stat.Quantile(0.95, stat.Empirical, values, nil)
	stats.P99Ms = stat.Quantile(0.99, stat.Empirical, values, nil)
	stats.MeanMs = stat.Mean(values, nil)
	stats.MaxMs = values[len(values)-1]
	return stats, nil
}

func (m *Monitor) auditCompliance(ctx context.Context, check *ComplianceCheck, result string) {
	if _, err := m.trail.Append(ctx, audit.Entry{
		AuditType:     "uptime_compliance_check",
		RegulationRef: regulationRefAvailability,
		ActionTaken:   "trailing uptime compared against regulatory target",
		PerformedBy:   "availability-compliance-monitor",
		Result:        result,
		Metadata: map[string]interface{}{
			"days":          check.Days,
			"actual_uptime": check.ActualUptime,
			"target_uptime": check.TargetUptime,
		},
	}); err != nil {
		m.logger.Error("failed to append availability audit entry", zap.Error(err))
	}
}
