package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/invhub/stocksync/internal/database"
	"github.com/invhub/stocksync/internal/models"
	"github.com/invhub/stocksync/internal/syncerr"
)

// GormStore implements Store on top of the PostgreSQL mirror.
type GormStore struct {
	db *database.DB
}

// NewGormStore creates the relational store.
func NewGormStore(db *database.DB) *GormStore {
	return &GormStore{db: db}
}

// UpsertItems writes one batch keyed by SKU.
func (s *GormStore) UpsertItems(ctx context.Context, items []models.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "sku"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "stock", "cost", "reorder_point", "vendor", "location",
			"discontinued", "active", "last_modified", "last_synced_at",
			"content_hash", "updated_at",
		}),
	}).Create(&items).Error
	if err != nil {
		return 0, &syncerr.StorageError{Op: "upsert items", Err: err}
	}
	return len(items), nil
}

// UpsertVendors writes one batch keyed by vendor code.
func (s *GormStore) UpsertVendors(ctx context.Context, vendors []models.Vendor) (int, error) {
	if len(vendors) == 0 {
		return 0, nil
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "code"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"name", "email", "phone", "lead_days", "active", "updated_at",
		}),
	}).Create(&vendors).Error
	if err != nil {
		return 0, &syncerr.StorageError{Op: "upsert vendors", Err: err}
	}
	return len(vendors), nil
}

// UpdateStockLevels sets stock per SKU.
func (s *GormStore) UpdateStockLevels(ctx context.Context, levels map[string]float64) (int, error) {
	updated := 0
	now := time.Now().UTC()

	for sku, quantity := range levels {
		res := s.db.WithContext(ctx).Model(&models.Item{}).
			Where("sku = ?", sku).
			Updates(map[string]interface{}{
				"stock":          quantity,
				"last_synced_at": now,
			})
		if res.Error != nil {
			return updated, &syncerr.StorageError{Op: fmt.Sprintf("update stock for %s", sku), Err: res.Error}
		}
		if res.RowsAffected > 0 {
			updated++
		}
	}
	return updated, nil
}

// CriticalItems returns items at or below their reorder point.
func (s *GormStore) CriticalItems(ctx context.Context) ([]models.Item, error) {
	var items []models.Item
	err := s.db.WithContext(ctx).
		Where("discontinued = ? AND stock <= reorder_point", false).
		Find(&items).Error
	if err != nil {
		return nil, &syncerr.StorageError{Op: "query critical items", Err: err}
	}
	return items, nil
}

// ActiveItemCount returns the number of non-discontinued items.
func (s *GormStore) ActiveItemCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&models.Item{}).
		Where("discontinued = ?", false).
		Count(&count).Error
	if err != nil {
		return 0, &syncerr.StorageError{Op: "count items", Err: err}
	}
	return count, nil
}

// CreateSyncLog appends a run record.
func (s *GormStore) CreateSyncLog(ctx context.Context, entry *models.SyncLog) error {
	if err := s.db.WithContext(ctx).Create(entry).Error; err != nil {
		return &syncerr.StorageError{Op: "create sync log", Err: err}
	}
	return nil
}

// UpdateSyncLog saves a run record in place.
func (s *GormStore) UpdateSyncLog(ctx context.Context, entry *models.SyncLog) error {
	if err := s.db.WithContext(ctx).Save(entry).Error; err != nil {
		return &syncerr.StorageError{Op: "update sync log", Err: err}
	}
	return nil
}

// RunningSyncLog returns the current running entry, or nil.
func (s *GormStore) RunningSyncLog(ctx context.Context) (*models.SyncLog, error) {
	var entry models.SyncLog
	err := s.db.WithContext(ctx).
		Where("status = ?", models.SyncStatusRunning).
		Order("started_at DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &syncerr.StorageError{Op: "query running sync log", Err: err}
	}
	return &entry, nil
}

// FailStuckSyncLogs force-fails running entries older than the cutoff.
func (s *GormStore) FailStuckSyncLogs(ctx context.Context, olderThan time.Duration) (int64, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-olderThan)

	res := s.db.WithContext(ctx).Model(&models.SyncLog{}).
		Where("status = ? AND started_at < ?", models.SyncStatusRunning, cutoff).
		Updates(map[string]interface{}{
			"status":       models.SyncStatusError,
			"completed_at": now,
			"errors":       fmt.Sprintf(`["sync marked failed after exceeding stuck threshold of %s"]`, olderThan),
		})
	if res.Error != nil {
		return 0, &syncerr.StorageError{Op: "fail stuck sync logs", Err: res.Error}
	}
	return res.RowsAffected, nil
}

// LastCompletedSyncLog returns the newest terminal entry, or nil.
func (s *GormStore) LastCompletedSyncLog(ctx context.Context) (*models.SyncLog, error) {
	var entry models.SyncLog
	err := s.db.WithContext(ctx).
		Where("status <> ?", models.SyncStatusRunning).
		Order("started_at DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &syncerr.StorageError{Op: "query last completed sync log", Err: err}
	}
	return &entry, nil
}

// LastSuccessfulSyncLog returns the newest success, or nil.
func (s *GormStore) LastSuccessfulSyncLog(ctx context.Context) (*models.SyncLog, error) {
	var entry models.SyncLog
	err := s.db.WithContext(ctx).
		Where("status = ?", models.SyncStatusSuccess).
		Order("started_at DESC").
		First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, &syncerr.StorageError{Op: "query last successful sync log", Err: err}
	}
	return &entry, nil
}

// RecentSyncLogs returns up to limit entries, newest first.
func (s *GormStore) RecentSyncLogs(ctx context.Context, limit int) ([]models.SyncLog, error) {
	var entries []models.SyncLog
	err := s.db.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&entries).Error
	if err != nil {
		return nil, &syncerr.StorageError{Op: "query recent sync logs", Err: err}
	}
	return entries, nil
}

// CreateAlert appends an alert audit record.
func (s *GormStore) CreateAlert(ctx context.Context, alert *models.Alert) error {
	if err := s.db.WithContext(ctx).Create(alert).Error; err != nil {
		return &syncerr.StorageError{Op: "create alert", Err: err}
	}
	return nil
}

// UnacknowledgedAlerts returns open alerts, newest first.
func (s *GormStore) UnacknowledgedAlerts(ctx context.Context, limit int) ([]models.Alert, error) {
	var alerts []models.Alert
	err := s.db.WithContext(ctx).
		Where("acknowledged = ?", false).
		Order("created_at DESC").
		Limit(limit).
		Find(&alerts).Error
	if err != nil {
		return nil, &syncerr.StorageError{Op: "query alerts", Err: err}
	}
	return alerts, nil
}

// AcknowledgeAlert marks an alert acknowledged.
func (s *GormStore) AcknowledgeAlert(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res := s.db.WithContext(ctx).Model(&models.Alert{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"acknowledged":    true,
			"acknowledged_at": now,
		})
	if res.Error != nil {
		return &syncerr.StorageError{Op: "acknowledge alert", Err: res.Error}
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("alert %s not found", id)
	}
	return nil
}
