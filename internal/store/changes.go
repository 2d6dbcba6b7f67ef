package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/invhub/stocksync/internal/cache"
	"github.com/invhub/stocksync/internal/models"
)

const changeRecordPrefix = "stocksync:changes:"

// CacheChangeStore keeps change records in the key-value cache, one entry
// per SKU, without expiry.
type CacheChangeStore struct {
	cache cache.Cache
}

// NewCacheChangeStore creates a change record store backed by the cache.
func NewCacheChangeStore(c cache.Cache) *CacheChangeStore {
	return &CacheChangeStore{cache: c}
}

// GetChangeRecord returns the record for a SKU, or nil when unknown.
func (s *CacheChangeStore) GetChangeRecord(ctx context.Context, sku string) (*models.ChangeRecord, error) {
	data, err := s.cache.Get(ctx, changeRecordPrefix+sku)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get change record %s: %w", sku, err)
	}

	var record models.ChangeRecord
	if err := json.Unmarshal(data, &record); err != nil {
		// A corrupt record is treated as unknown; the next sync rebuilds it.
		return nil, nil
	}
	return &record, nil
}

// GetChangeRecords returns records for a SKU set.
func (s *CacheChangeStore) GetChangeRecords(ctx context.Context, skus []string) (map[string]*models.ChangeRecord, error) {
	records := make(map[string]*models.ChangeRecord, len(skus))
	for _, sku := range skus {
		record, err := s.GetChangeRecord(ctx, sku)
		if err != nil {
			return nil, err
		}
		if record != nil {
			records[sku] = record
		}
	}
	return records, nil
}

// PutChangeRecord creates or replaces a record.
func (s *CacheChangeStore) PutChangeRecord(ctx context.Context, record *models.ChangeRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal change record %s: %w", record.SKU, err)
	}
	if err := s.cache.Set(ctx, changeRecordPrefix+record.SKU, data, 0); err != nil {
		return fmt.Errorf("put change record %s: %w", record.SKU, err)
	}
	return nil
}
