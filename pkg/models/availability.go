package models

import (
	"time"

	"github.com/google/uuid"
)

// HealthStatus is a single probe verdict.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthDegraded HealthStatus = "degraded"
	HealthDown     HealthStatus = "down"
)

// HealthCheckSample is one availability probe observation. Rows are
// append-only and never mutated; uptime and latency statistics are derived
// over the trailing window.
type HealthCheckSample struct {
	ID             uuid.UUID    `json:"id" gorm:"primaryKey;type:uuid"`
	CheckType      string       `json:"check_type" gorm:"index" validate:"required,max=64"`
	Status         HealthStatus `json:"status" gorm:"index" validate:"required,oneof=healthy degraded down"`
	ResponseTimeMs int64        `json:"response_time_ms" validate:"gte=0"`
	ObservedAt     time.Time    `json:"observed_at" gorm:"index"`
	Details        string       `json:"details" validate:"omitempty,max=1024"`
	ErrorMessage   string       `json:"error_message" validate:"omitempty,max=1024"`
	CreatedAt      time.Time    `json:"created_at"`
}
