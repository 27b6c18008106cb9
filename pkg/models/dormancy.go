package models

import (
	"time"

	"github.com/google/uuid"
)

// DormancyMonthlyReport aggregates a month's dormancy transitions for the
// regulator. Regenerating the same month overwrites the row.
type DormancyMonthlyReport struct {
	ID            uuid.UUID `json:"id" gorm:"primaryKey;type:uuid"`
	Month         string    `json:"month" gorm:"uniqueIndex;size:7"`
	NewlyWarned   int       `json:"newly_warned"`
	NewlyDormant  int       `json:"newly_dormant"`
	FundsReleased int       `json:"funds_released"`
	TotalWarning  int       `json:"total_warning"`
	TotalDormant  int       `json:"total_dormant"`
	TotalReleased int       `json:"total_released"`
	GeneratedAt   time.Time `json:"generated_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}
