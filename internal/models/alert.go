package models

import (
	"time"

	"gorm.io/datatypes"
)

// Alert types
const (
	AlertOutOfStock    = "out-of-stock"
	AlertLowStock      = "low-stock"
	AlertReorderNeeded = "reorder-needed"
	AlertPriceChange   = "price-change"
	AlertVendorChange  = "vendor-change"
	AlertSyncFailed    = "sync-failed"
	AlertSyncRecovered = "sync-recovered"
)

// Alert severities, ordered from least to most urgent
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Alert is an emitted stock or sync notification. Delivery (email, webhook,
// UI push) is the sink's responsibility; this row is the audit record.
type Alert struct {
	ID             string         `gorm:"primaryKey;type:varchar(36)" json:"id"`
	SKU            string         `gorm:"index" json:"sku"`
	AlertType      string         `gorm:"not null;index" json:"alert_type"`
	Severity       string         `gorm:"not null" json:"severity"`
	Message        string         `json:"message"`
	CurrentValue   float64        `json:"current_value"`
	Threshold      float64        `json:"threshold"`
	PreviousValue  float64        `json:"previous_value"`
	Details        datatypes.JSON `gorm:"type:jsonb" json:"details"`
	Acknowledged   bool           `gorm:"default:false;index" json:"acknowledged"`
	AcknowledgedAt *time.Time     `json:"acknowledged_at"`
	CreatedAt      time.Time      `json:"created_at"`
}

// TableName specifies the table name
func (Alert) TableName() string {
	return "alerts"
}
