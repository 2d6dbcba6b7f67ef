package models

import (
	"time"

	"gorm.io/datatypes"
)

// Sync strategies
const (
	StrategyFull      = "full"
	StrategyInventory = "inventory"
	StrategyCritical  = "critical"
	StrategyActive    = "active"
	StrategySmart     = "smart"
)

// Sync log statuses
const (
	SyncStatusRunning = "running"
	SyncStatusSuccess = "success"
	SyncStatusPartial = "partial"
	SyncStatusError   = "error"
)

// SyncLog records one synchronization run. A row in "running" state is the
// durable signal that a sync is in progress; the executor refuses to start
// while one exists and force-fails rows stuck past the stuck threshold.
type SyncLog struct {
	ID             string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Strategy       string         `gorm:"not null;index" json:"strategy"`
	Status         string         `gorm:"not null;index" json:"status"`
	DryRun         bool           `gorm:"default:false" json:"dry_run"`
	StartedAt      time.Time      `gorm:"not null" json:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at"`
	Duration       int64          `gorm:"default:0" json:"duration"` // milliseconds
	ItemsProcessed int            `gorm:"default:0" json:"items_processed"`
	ItemsUpdated   int            `gorm:"default:0" json:"items_updated"`
	ItemsFailed    int            `gorm:"default:0" json:"items_failed"`
	Errors         datatypes.JSON `gorm:"type:jsonb" json:"errors"`
	Metadata       datatypes.JSON `gorm:"type:jsonb" json:"metadata"`
	CreatedAt      time.Time      `json:"-"`
	UpdatedAt      time.Time      `json:"-"`
}

// TableName specifies the table name
func (SyncLog) TableName() string {
	return "sync_logs"
}

// ChangeRate returns the fraction of processed items that were updated.
func (s SyncLog) ChangeRate() float64 {
	if s.ItemsProcessed == 0 {
		return 0
	}
	return float64(s.ItemsUpdated) / float64(s.ItemsProcessed)
}

// Completed reports whether the run reached a terminal status.
func (s SyncLog) Completed() bool {
	return s.Status != SyncStatusRunning
}
