// Package engine holds the change detector and the sync executor: the parts
// that decide which fetched items actually differ and apply one sync
// strategy end-to-end.
package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/invhub/stocksync/internal/inventoryapi"
	"github.com/invhub/stocksync/internal/models"
)

// Priority levels assigned by the detector
const (
	priorityBase     = 5
	priorityNewSKU   = 8
	priorityReorder  = 9
	priorityStockout = 10
	priorityMax      = 10
)

// Detector decides whether a fresh snapshot differs from the last known
// state in a way that matters, and assigns a sync priority.
type Detector struct {
	now func() time.Time
}

// NewDetector creates a detector.
func NewDetector() *Detector {
	return &Detector{now: time.Now}
}

// ChangeResult is the outcome of one snapshot comparison.
type ChangeResult struct {
	HasChanged    bool
	ChangedFields []string
	Priority      int
	Hash          string
	Fields        map[string]string // canonical monitored values behind Hash
}

// PrioritizedItem is one snapshot selected for syncing.
type PrioritizedItem struct {
	Snapshot      inventoryapi.ItemSnapshot
	Priority      int
	Hash          string
	Fields        map[string]string
	ChangedFields []string
	Previous      map[string]string
	IsNew         bool
}

// MonitoredFields returns the canonical monitored-field subset of a
// snapshot: stock, cost, reorder point, vendor and location. Everything
// else (names, descriptions, timestamps) is invisible to the hash.
func MonitoredFields(snap inventoryapi.ItemSnapshot) map[string]string {
	return map[string]string{
		"cost":          strconv.FormatFloat(snap.Cost, 'f', 4, 64),
		"location":      snap.Location,
		"reorder_point": strconv.FormatFloat(snap.ReorderPoint, 'f', 4, 64),
		"stock":         strconv.FormatFloat(snap.Stock, 'f', 4, 64),
		"vendor":        snap.Vendor,
	}
}

// Hash returns a deterministic content hash over the monitored fields,
// independent of key ordering. Two snapshots with identical monitored
// fields always hash identically.
func (d *Detector) Hash(snap inventoryapi.ItemSnapshot) string {
	return hashFields(MonitoredFields(snap))
}

func hashFields(fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		fmt.Fprintf(h, "%s=%s|", k, fields[k])
	}
	return hex.EncodeToString(h.Sum(nil))
}

// syntheticHash is guaranteed to differ across calls, so a detector fault
// degrades to "treat as changed" instead of suppressing a needed sync.
func (d *Detector) syntheticHash() string {
	return fmt.Sprintf("fault-%d", d.now().UnixNano())
}

// DetectChange compares a snapshot against its change record (nil when the
// SKU is unknown) and assigns a priority in [0, 10].
func (d *Detector) DetectChange(snap inventoryapi.ItemSnapshot, prev *models.ChangeRecord) ChangeResult {
	fields := MonitoredFields(snap)
	hash := hashFields(fields)

	if prev == nil {
		return ChangeResult{
			HasChanged:    true,
			ChangedFields: fieldNames(fields),
			Priority:      d.priorityFor(snap, time.Time{}),
			Hash:          hash,
			Fields:        fields,
		}
	}

	if prev.ContentHash == hash {
		return ChangeResult{Hash: hash, Fields: fields}
	}

	return ChangeResult{
		HasChanged:    true,
		ChangedFields: diffFields(fields, prev.Monitored),
		Priority:      d.priorityFor(snap, prev.LastSyncedAt),
		Hash:          hash,
		Fields:        fields,
	}
}

// priorityFor implements the escalation ladder: base 5, 9 at or below the
// reorder point, 10 at stock zero, staleness boosts capped at 10.
func (d *Detector) priorityFor(snap inventoryapi.ItemSnapshot, lastSyncedAt time.Time) int {
	priority := priorityBase
	if snap.Stock <= snap.ReorderPoint {
		priority = priorityReorder
	}
	if snap.Stock == 0 {
		priority = priorityStockout
	}

	if !lastSyncedAt.IsZero() {
		hours := d.now().Sub(lastSyncedAt).Hours()
		switch {
		case hours > 24:
			priority += 2
		case hours >= 6:
			priority++
		}
	}

	if priority > priorityMax {
		priority = priorityMax
	}
	return priority
}

// FilterResult is the outcome of filtering one fetch against the known
// change records.
type FilterResult struct {
	ToSync         []PrioritizedItem // priority-sorted, highest first
	UnchangedCount int
}

// FilterChanged selects the snapshots worth syncing. New SKUs are always
// included with priority 8; forceSync bypasses filtering entirely.
func (d *Detector) FilterChanged(snaps []inventoryapi.ItemSnapshot, known map[string]*models.ChangeRecord, forceSync bool) FilterResult {
	var result FilterResult

	for _, snap := range snaps {
		item := d.safeDetect(snap, known[snap.SKU])

		if item.IsNew {
			item.Priority = priorityNewSKU
			result.ToSync = append(result.ToSync, item)
			continue
		}

		if forceSync {
			result.ToSync = append(result.ToSync, item)
			continue
		}

		if len(item.ChangedFields) == 0 && item.Priority == 0 {
			result.UnchangedCount++
			continue
		}

		result.ToSync = append(result.ToSync, item)
	}

	sort.SliceStable(result.ToSync, func(i, j int) bool {
		if result.ToSync[i].Priority != result.ToSync[j].Priority {
			return result.ToSync[i].Priority > result.ToSync[j].Priority
		}
		return result.ToSync[i].Snapshot.SKU < result.ToSync[j].Snapshot.SKU
	})

	return result
}

// safeDetect never lets a detector fault suppress a sync: a panic during
// comparison degrades to "changed" with a synthetic hash.
func (d *Detector) safeDetect(snap inventoryapi.ItemSnapshot, prev *models.ChangeRecord) (item PrioritizedItem) {
	defer func() {
		if r := recover(); r != nil {
			item = PrioritizedItem{
				Snapshot:      snap,
				Priority:      priorityBase,
				Hash:          d.syntheticHash(),
				ChangedFields: []string{"unknown"},
				IsNew:         prev == nil,
			}
		}
	}()

	change := d.DetectChange(snap, prev)
	item = PrioritizedItem{
		Snapshot:      snap,
		Priority:      change.Priority,
		Hash:          change.Hash,
		Fields:        change.Fields,
		ChangedFields: change.ChangedFields,
		IsNew:         prev == nil,
	}
	if prev != nil {
		item.Previous = prev.Monitored
	}
	return item
}

func fieldNames(fields map[string]string) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func diffFields(current, previous map[string]string) []string {
	if len(previous) == 0 {
		return fieldNames(current)
	}

	var changed []string
	for name, value := range current {
		if previous[name] != value {
			changed = append(changed, name)
		}
	}
	sort.Strings(changed)
	return changed
}
