package inventoryapi

import (
	"context"
	"time"
)

// ItemSnapshot is the ephemeral per-fetch view of a remote product. The sync
// core never persists snapshots itself; they flow through the change detector
// into the storage collaborator.
type ItemSnapshot struct {
	SKU          string    `json:"sku"`
	Name         string    `json:"name"`
	Stock        float64   `json:"stock"`
	Cost         float64   `json:"cost"`
	ReorderPoint float64   `json:"reorder_point"`
	Vendor       string    `json:"vendor"`
	Location     string    `json:"location"`
	Discontinued bool      `json:"discontinued"`
	LastModified time.Time `json:"last_modified"`
}

// InventoryLevel is one stock quantity observation from the inventory
// endpoint, aggregated by SKU before writing.
type InventoryLevel struct {
	SKU      string  `json:"sku"`
	Location string  `json:"location"`
	Quantity float64 `json:"quantity"`
}

// VendorRecord is the per-fetch view of a remote supplier.
type VendorRecord struct {
	Code     string `json:"code"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	LeadDays int    `json:"lead_days"`
	Active   bool   `json:"active"`
}

// InventorySource is the capability interface over the external inventory
// API. Implementations are selected at construction time; strategy code
// never inspects the concrete type.
type InventorySource interface {
	// FetchProducts returns one page of products. A page shorter than limit
	// means the listing is exhausted.
	FetchProducts(ctx context.Context, offset, limit int) ([]ItemSnapshot, error)

	// FetchProductsBySKUs returns snapshots for an explicit SKU set.
	FetchProductsBySKUs(ctx context.Context, skus []string) ([]ItemSnapshot, error)

	// FetchInventoryLevels returns one page of stock quantities.
	FetchInventoryLevels(ctx context.Context, offset, limit int) ([]InventoryLevel, error)

	// FetchVendors returns one page of suppliers.
	FetchVendors(ctx context.Context, offset, limit int) ([]VendorRecord, error)
}
