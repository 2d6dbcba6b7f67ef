package models

import "time"

// ChangeRecord is the sync core's memory of a SKU: the content hash of the
// monitored fields as of the last successful sync, plus the canonical field
// values the hash was computed from so later runs can name what changed.
// Records live in the key-value cache, one per known SKU, and are never
// deleted by the sync core.
type ChangeRecord struct {
	SKU            string            `json:"sku"`
	ContentHash    string            `json:"content_hash"`
	Monitored      map[string]string `json:"monitored"` // canonical field -> value
	LastSyncedAt   time.Time         `json:"last_synced_at"`
	LastModifiedAt time.Time         `json:"last_modified_at"`
	Priority       int               `json:"priority"` // 0-10
	ChangedFields  []string          `json:"changed_fields,omitempty"`
}
