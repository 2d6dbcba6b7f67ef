package models

import (
	"time"

	"gorm.io/gorm"
)

// Item is the local mirror of a remote inventory product.
type Item struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	SKU          string         `gorm:"uniqueIndex;not null" json:"sku"`
	Name         string         `json:"name"`
	Stock        float64        `gorm:"default:0" json:"stock"`
	Cost         float64        `gorm:"default:0" json:"cost"`
	ReorderPoint float64        `gorm:"default:0" json:"reorder_point"`
	Vendor       string         `gorm:"index" json:"vendor"`
	Location     string         `json:"location"`
	Discontinued bool           `gorm:"default:false" json:"discontinued"`
	Active       bool           `gorm:"default:true" json:"active"`
	LastModified time.Time      `json:"last_modified"` // remote write date
	LastSyncedAt *time.Time     `json:"last_synced_at,omitempty"`
	ContentHash  string         `gorm:"type:varchar(64)" json:"content_hash"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`

	// Trailing sales counts, maintained by the order-import collaborator.
	// The critical monitor derives sales velocity from these.
	Sales30Days float64 `gorm:"default:0" json:"sales_30_days"`
	Sales90Days float64 `gorm:"default:0" json:"sales_90_days"`
}

// TableName specifies the table name for Item model
func (Item) TableName() string {
	return "items"
}

// BelowReorderPoint reports whether the item needs replenishment.
func (i Item) BelowReorderPoint() bool {
	return i.Stock <= i.ReorderPoint
}

// Vendor is the local mirror of a remote supplier record.
type Vendor struct {
	ID        uint           `gorm:"primaryKey" json:"id"`
	Code      string         `gorm:"uniqueIndex;not null" json:"code"`
	Name      string         `json:"name"`
	Email     string         `json:"email"`
	Phone     string         `json:"phone"`
	LeadDays  int            `gorm:"default:0" json:"lead_days"`
	Active    bool           `gorm:"default:true" json:"active"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// TableName specifies the table name for Vendor model
func (Vendor) TableName() string {
	return "vendors"
}
