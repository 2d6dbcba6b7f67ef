// Package store is the narrow boundary between the sync core and its
// storage collaborators: the relational mirror (items, vendors, sync logs,
// alerts) and the key-value change-record set.
package store

import (
	"context"
	"time"

	"github.com/invhub/stocksync/internal/models"
)

// ItemStore mirrors remote items and vendors with upsert-by-unique-key
// semantics.
type ItemStore interface {
	// UpsertItems writes one batch, returning the number persisted.
	UpsertItems(ctx context.Context, items []models.Item) (int, error)

	// UpsertVendors writes one batch of suppliers.
	UpsertVendors(ctx context.Context, vendors []models.Vendor) (int, error)

	// UpdateStockLevels sets stock per SKU without touching other fields.
	UpdateStockLevels(ctx context.Context, levels map[string]float64) (int, error)

	// CriticalItems returns items where stock <= reorder point.
	CriticalItems(ctx context.Context) ([]models.Item, error)

	// ActiveItemCount returns the number of non-discontinued items.
	ActiveItemCount(ctx context.Context) (int64, error)
}

// SyncLogStore appends and updates sync run records. The running row is the
// durable at-most-one-sync flag.
type SyncLogStore interface {
	CreateSyncLog(ctx context.Context, entry *models.SyncLog) error
	UpdateSyncLog(ctx context.Context, entry *models.SyncLog) error

	// RunningSyncLog returns the current running entry, or nil.
	RunningSyncLog(ctx context.Context) (*models.SyncLog, error)

	// FailStuckSyncLogs force-fails running entries older than the cutoff
	// and returns how many were swept.
	FailStuckSyncLogs(ctx context.Context, olderThan time.Duration) (int64, error)

	// LastCompletedSyncLog returns the most recent terminal entry, or nil.
	LastCompletedSyncLog(ctx context.Context) (*models.SyncLog, error)

	// LastSuccessfulSyncLog returns the most recent success, or nil.
	LastSuccessfulSyncLog(ctx context.Context) (*models.SyncLog, error)

	// RecentSyncLogs returns up to limit entries, newest first.
	RecentSyncLogs(ctx context.Context, limit int) ([]models.SyncLog, error)
}

// AlertStore appends alert audit records.
type AlertStore interface {
	CreateAlert(ctx context.Context, alert *models.Alert) error
	UnacknowledgedAlerts(ctx context.Context, limit int) ([]models.Alert, error)
	AcknowledgeAlert(ctx context.Context, id string) error
}

// ChangeRecordStore keeps the per-SKU change memory. Records are created on
// first successful sync of a SKU and updated on every detected change; the
// sync core never deletes them.
type ChangeRecordStore interface {
	// GetChangeRecord returns the record for a SKU, or nil when unknown.
	GetChangeRecord(ctx context.Context, sku string) (*models.ChangeRecord, error)

	// GetChangeRecords returns records for a SKU set; unknown SKUs are
	// simply absent from the result.
	GetChangeRecords(ctx context.Context, skus []string) (map[string]*models.ChangeRecord, error)

	// PutChangeRecord creates or replaces a record.
	PutChangeRecord(ctx context.Context, record *models.ChangeRecord) error
}

// Store bundles the relational interfaces for components that need all of
// them.
type Store interface {
	ItemStore
	SyncLogStore
	AlertStore
}
