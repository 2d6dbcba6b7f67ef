package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/invhub/stocksync/internal/cache"
	"github.com/invhub/stocksync/internal/inventoryapi"
	"github.com/invhub/stocksync/internal/models"
	"github.com/invhub/stocksync/internal/ratelimit"
	"github.com/invhub/stocksync/internal/store"
	"github.com/invhub/stocksync/internal/syncerr"
)

// syncLockKey is set while a run is in progress. The TTL equals the stuck
// threshold so a crashed process cannot block syncing forever.
const syncLockKey = "stocksync:sync:lock"

const (
	maxRecordedErrors = 5
	dryRunSampleSize  = 10
)

// Config holds the executor's tunables.
type Config struct {
	PageSize            int
	BatchSize           int
	StuckThreshold      time.Duration
	StaleItemDays       int
	MaxBatchRetries     int
	BatchRetryDelay     time.Duration
	MaxBatchRetryDelay  time.Duration
	SmartInventoryHours float64
	SmartActiveHours    float64
}

func (c Config) withDefaults() Config {
	if c.PageSize <= 0 {
		c.PageSize = 100
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.StuckThreshold <= 0 {
		c.StuckThreshold = 30 * time.Minute
	}
	if c.StaleItemDays <= 0 {
		c.StaleItemDays = 365
	}
	if c.MaxBatchRetries <= 0 {
		c.MaxBatchRetries = 3
	}
	if c.BatchRetryDelay <= 0 {
		c.BatchRetryDelay = time.Second
	}
	if c.MaxBatchRetryDelay <= 0 {
		c.MaxBatchRetryDelay = 10 * time.Second
	}
	if c.SmartInventoryHours <= 0 {
		c.SmartInventoryHours = 6
	}
	if c.SmartActiveHours <= 0 {
		c.SmartActiveHours = 24
	}
	return c
}

// ChangeEvent describes one synced item whose monitored fields moved. The
// critical item monitor consumes these to raise price and vendor alerts.
type ChangeEvent struct {
	SKU           string
	Snapshot      inventoryapi.ItemSnapshot
	ChangedFields []string
	Previous      map[string]string
}

// ChangePublisher receives change events after their batch is persisted.
type ChangePublisher interface {
	PublishChange(ctx context.Context, ev ChangeEvent)
}

// OutcomeNotifier is told when a run fails and when syncing recovers after
// failures.
type OutcomeNotifier interface {
	NotifySyncOutcome(ctx context.Context, entry *models.SyncLog, recovered bool)
}

// RunOptions selects the strategy and its modifiers for one run.
type RunOptions struct {
	Strategy   string
	DryRun     bool
	Force      bool // sync every fetched item, bypassing change detection
	BatchSize  int  // overrides Config.BatchSize when > 0
	FilterYear int  // active strategy: drop items not modified since Jan 1
}

// RunResult summarizes one completed run.
type RunResult struct {
	RunID          string                      `json:"run_id"`
	Strategy       string                      `json:"strategy"` // resolved strategy, never "smart"
	Requested      string                      `json:"requested_strategy"`
	Status         string                      `json:"status"`
	DryRun         bool                        `json:"dry_run"`
	ItemsProcessed int                         `json:"items_processed"`
	ItemsUpdated   int                         `json:"items_updated"`
	ItemsFailed    int                         `json:"items_failed"`
	Unchanged      int                         `json:"unchanged"`
	Duration       time.Duration               `json:"duration"`
	Errors         []string                    `json:"errors,omitempty"`
	Sample         []inventoryapi.ItemSnapshot `json:"sample,omitempty"` // dry run only
}

// Executor runs one sync strategy end-to-end: guard, fetch, detect, write,
// record. At most one run is in progress per deployment; the cache lock and
// the running sync log row enforce that together.
type Executor struct {
	source    inventoryapi.InventorySource
	limiter   *ratelimit.Limiter
	store     store.Store
	changes   store.ChangeRecordStore
	cache     cache.Cache
	detector  *Detector
	publisher ChangePublisher
	notifier  OutcomeNotifier
	cfg       Config
	now       func() time.Time
}

// NewExecutor wires an executor. publisher and notifier may be nil.
func NewExecutor(source inventoryapi.InventorySource, limiter *ratelimit.Limiter, st store.Store, changes store.ChangeRecordStore, c cache.Cache, cfg Config) *Executor {
	return &Executor{
		source:   source,
		limiter:  limiter,
		store:    st,
		changes:  changes,
		cache:    c,
		detector: NewDetector(),
		cfg:      cfg.withDefaults(),
		now:      time.Now,
	}
}

// SetChangePublisher registers the consumer of post-write change events.
func (e *Executor) SetChangePublisher(p ChangePublisher) { e.publisher = p }

// SetOutcomeNotifier registers the consumer of failure and recovery signals.
func (e *Executor) SetOutcomeNotifier(n OutcomeNotifier) { e.notifier = n }

// SweepStuck force-fails sync log rows stuck in running state past the
// stuck threshold. Called at startup and before every run.
func (e *Executor) SweepStuck(ctx context.Context) (int64, error) {
	swept, err := e.store.FailStuckSyncLogs(ctx, e.cfg.StuckThreshold)
	if err != nil {
		return 0, err
	}
	if swept > 0 {
		log.Printf("⚠️ Swept %d stuck sync run(s) older than %s", swept, e.cfg.StuckThreshold)
	}
	return swept, nil
}

// Run executes one sync. It returns a ConcurrencyError without starting when
// another run holds the lock or a running sync log row exists.
func (e *Executor) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	if _, err := e.SweepStuck(ctx); err != nil {
		log.Printf("⚠️ Stuck sync sweep failed: %v", err)
	}

	runID := uuid.NewString()

	acquired, err := e.cache.SetNX(ctx, syncLockKey, []byte(runID), e.cfg.StuckThreshold)
	if err != nil {
		return nil, fmt.Errorf("acquiring sync lock: %w", err)
	}
	if !acquired {
		return nil, &syncerr.ConcurrencyError{}
	}
	defer func() {
		if err := e.cache.Delete(context.Background(), syncLockKey); err != nil {
			log.Printf("⚠️ Failed to release sync lock: %v", err)
		}
	}()

	if running, err := e.store.RunningSyncLog(ctx); err != nil {
		return nil, err
	} else if running != nil {
		return nil, &syncerr.ConcurrencyError{RunID: running.ID}
	}

	// Captured before this run so recovery can be detected afterwards.
	previous, err := e.store.LastCompletedSyncLog(ctx)
	if err != nil {
		log.Printf("⚠️ Could not read last completed sync: %v", err)
	}

	requested := opts.Strategy
	strategy, err := e.resolveStrategy(ctx, opts.Strategy)
	if err != nil {
		return nil, err
	}

	entry := &models.SyncLog{
		ID:        runID,
		Strategy:  strategy,
		Status:    models.SyncStatusRunning,
		DryRun:    opts.DryRun,
		StartedAt: e.now().UTC(),
	}
	entry.Metadata, _ = json.Marshal(map[string]interface{}{
		"requested_strategy": requested,
		"force":              opts.Force,
		"filter_year":        opts.FilterYear,
		"batch_size":         e.batchSize(opts),
	})
	if err := e.store.CreateSyncLog(ctx, entry); err != nil {
		return nil, err
	}

	log.Printf("🔄 Sync %s started (strategy=%s dryRun=%v force=%v)", runID, strategy, opts.DryRun, opts.Force)

	outcome := e.dispatch(ctx, strategy, opts)
	result := e.finalize(ctx, entry, requested, outcome)
	e.notify(ctx, entry, previous)

	if result.Status == models.SyncStatusError {
		return result, fmt.Errorf("sync %s failed: %s", runID, firstOr(result.Errors, "no items processed"))
	}
	return result, nil
}

// runOutcome accumulates counters while a strategy executes.
type runOutcome struct {
	processed int
	updated   int
	failed    int
	unchanged int
	errors    []string
	sample    []inventoryapi.ItemSnapshot
	fatal     bool // nothing useful happened, the run is an error
}

func (o *runOutcome) addError(err error) {
	if len(o.errors) < maxRecordedErrors {
		o.errors = append(o.errors, err.Error())
	}
	o.failed++
}

func (e *Executor) dispatch(ctx context.Context, strategy string, opts RunOptions) *runOutcome {
	switch strategy {
	case models.StrategyFull:
		return e.runFull(ctx, opts)
	case models.StrategyInventory:
		return e.runInventory(ctx, opts)
	case models.StrategyCritical:
		return e.runCritical(ctx, opts)
	case models.StrategyActive:
		return e.runActive(ctx, opts)
	default:
		out := &runOutcome{fatal: true}
		out.errors = append(out.errors, fmt.Sprintf("unknown strategy %q", strategy))
		return out
	}
}

// resolveStrategy maps "smart" to a concrete strategy based on how long ago
// the last successful sync ran. Other strategies pass through.
func (e *Executor) resolveStrategy(ctx context.Context, strategy string) (string, error) {
	if strategy != models.StrategySmart {
		return strategy, nil
	}

	last, err := e.store.LastSuccessfulSyncLog(ctx)
	if err != nil {
		return "", err
	}
	if last == nil {
		log.Printf("🧠 Smart sync: no successful sync on record, choosing full")
		return models.StrategyFull, nil
	}

	hours := e.now().Sub(last.StartedAt).Hours()
	switch {
	case hours < e.cfg.SmartInventoryHours:
		log.Printf("🧠 Smart sync: last success %.1fh ago, choosing inventory", hours)
		return models.StrategyInventory, nil
	case hours < e.cfg.SmartActiveHours:
		log.Printf("🧠 Smart sync: last success %.1fh ago, choosing active", hours)
		return models.StrategyActive, nil
	default:
		log.Printf("🧠 Smart sync: last success %.1fh ago, choosing full", hours)
		return models.StrategyFull, nil
	}
}

// runFull fetches every product page plus the vendor listing and writes all
// detected changes.
func (e *Executor) runFull(ctx context.Context, opts RunOptions) *runOutcome {
	out := &runOutcome{}

	snaps := e.fetchAllProducts(ctx, out)
	if len(snaps) == 0 && len(out.errors) > 0 {
		out.fatal = true
		return out
	}

	e.syncSnapshots(ctx, snaps, opts, out)

	if !opts.DryRun {
		e.syncVendors(ctx, out)
	}
	return out
}

// runActive is a full product fetch restricted to items still worth
// syncing: not discontinued and modified within the staleness window (or
// within the filter year when one is given).
func (e *Executor) runActive(ctx context.Context, opts RunOptions) *runOutcome {
	out := &runOutcome{}

	snaps := e.fetchAllProducts(ctx, out)
	if len(snaps) == 0 && len(out.errors) > 0 {
		out.fatal = true
		return out
	}

	cutoff := e.now().AddDate(0, 0, -e.cfg.StaleItemDays)
	if opts.FilterYear > 0 {
		cutoff = time.Date(opts.FilterYear, time.January, 1, 0, 0, 0, 0, time.UTC)
	}

	active := snaps[:0]
	for _, snap := range snaps {
		if snap.Discontinued {
			continue
		}
		if !snap.LastModified.IsZero() && snap.LastModified.Before(cutoff) {
			continue
		}
		active = append(active, snap)
	}
	log.Printf("📦 Active sync: %d of %d items pass the activity filter", len(active), out.processed)

	e.syncSnapshots(ctx, active, opts, out)
	return out
}

// runCritical re-fetches only the items the mirror already knows to be at
// or below their reorder point.
func (e *Executor) runCritical(ctx context.Context, opts RunOptions) *runOutcome {
	out := &runOutcome{}

	critical, err := e.store.CriticalItems(ctx)
	if err != nil {
		out.addError(err)
		out.fatal = true
		return out
	}
	if len(critical) == 0 {
		log.Printf("✅ Critical sync: no items at or below reorder point")
		return out
	}

	skus := make([]string, 0, len(critical))
	for _, item := range critical {
		skus = append(skus, item.SKU)
	}

	var snaps []inventoryapi.ItemSnapshot
	for start := 0; start < len(skus); start += e.cfg.PageSize {
		end := start + e.cfg.PageSize
		if end > len(skus) {
			end = len(skus)
		}
		chunk := skus[start:end]

		res, err := e.limiter.Submit(ctx, func(ctx context.Context) (interface{}, error) {
			return e.source.FetchProductsBySKUs(ctx, chunk)
		})
		if err != nil {
			out.addError(fmt.Errorf("fetching critical items: %w", err))
			continue
		}
		snaps = append(snaps, res.([]inventoryapi.ItemSnapshot)...)
	}

	if len(snaps) == 0 && len(out.errors) > 0 {
		out.fatal = true
		return out
	}

	out.processed += len(snaps)
	e.syncSnapshots(ctx, snaps, opts, out)
	return out
}

// runInventory refreshes stock quantities only, skipping change detection.
// Quantities are aggregated per SKU across locations before writing.
func (e *Executor) runInventory(ctx context.Context, opts RunOptions) *runOutcome {
	out := &runOutcome{}

	levels := map[string]float64{}
	for offset := 0; ; offset += e.cfg.PageSize {
		res, err := e.limiter.Submit(ctx, func(ctx context.Context) (interface{}, error) {
			return e.source.FetchInventoryLevels(ctx, offset, e.cfg.PageSize)
		})
		if err != nil {
			out.addError(fmt.Errorf("fetching inventory page at offset %d: %w", offset, err))
			break
		}

		page := res.([]inventoryapi.InventoryLevel)
		for _, lv := range page {
			if lv.SKU == "" {
				out.addError(&syncerr.ValidationError{Reason: "empty sku in inventory row"})
				continue
			}
			levels[lv.SKU] += lv.Quantity
		}
		if len(page) < e.cfg.PageSize {
			break
		}
	}

	out.processed += len(levels)
	if len(levels) == 0 {
		if len(out.errors) > 0 {
			out.fatal = true
		}
		return out
	}

	if opts.DryRun {
		for sku, qty := range levels {
			if len(out.sample) >= dryRunSampleSize {
				break
			}
			out.sample = append(out.sample, inventoryapi.ItemSnapshot{SKU: sku, Stock: qty})
		}
		return out
	}

	batch := map[string]float64{}
	flush := func() {
		if len(batch) == 0 {
			return
		}
		n, err := e.withBatchRetry(ctx, func() (int, error) {
			return e.store.UpdateStockLevels(ctx, batch)
		})
		if err != nil {
			out.failed += len(batch)
			if len(out.errors) < maxRecordedErrors {
				out.errors = append(out.errors, err.Error())
			}
		} else {
			out.updated += n
		}
		batch = map[string]float64{}
	}

	for sku, qty := range levels {
		batch[sku] = qty
		if len(batch) >= e.batchSize(opts) {
			flush()
		}
	}
	flush()
	return out
}

// fetchAllProducts pages through the product listing until a short page.
// Fetch failures stop pagination; whatever was fetched is still synced.
func (e *Executor) fetchAllProducts(ctx context.Context, out *runOutcome) []inventoryapi.ItemSnapshot {
	var snaps []inventoryapi.ItemSnapshot
	for offset := 0; ; offset += e.cfg.PageSize {
		res, err := e.limiter.Submit(ctx, func(ctx context.Context) (interface{}, error) {
			return e.source.FetchProducts(ctx, offset, e.cfg.PageSize)
		})
		if err != nil {
			out.addError(fmt.Errorf("fetching products at offset %d: %w", offset, err))
			break
		}

		page := res.([]inventoryapi.ItemSnapshot)
		snaps = append(snaps, page...)
		if len(page) < e.cfg.PageSize {
			break
		}
	}
	out.processed += len(snaps)
	return snaps
}

// syncSnapshots runs change detection over the fetch and writes the
// selected items in batches.
func (e *Executor) syncSnapshots(ctx context.Context, snaps []inventoryapi.ItemSnapshot, opts RunOptions, out *runOutcome) {
	valid := snaps[:0]
	for _, snap := range snaps {
		if snap.SKU == "" {
			out.addError(&syncerr.ValidationError{Reason: "empty sku in product row"})
			continue
		}
		valid = append(valid, snap)
	}

	skus := make([]string, 0, len(valid))
	for _, snap := range valid {
		skus = append(skus, snap.SKU)
	}

	known, err := e.changes.GetChangeRecords(ctx, skus)
	if err != nil {
		// Unknown history means everything looks changed; syncing too much
		// is the safe direction.
		log.Printf("⚠️ Change record lookup failed, treating all items as changed: %v", err)
		known = map[string]*models.ChangeRecord{}
	}

	filtered := e.detector.FilterChanged(valid, known, opts.Force)
	out.unchanged += filtered.UnchangedCount

	if opts.DryRun {
		for _, item := range filtered.ToSync {
			if len(out.sample) >= dryRunSampleSize {
				break
			}
			out.sample = append(out.sample, item.Snapshot)
		}
		log.Printf("🔍 Dry run: %d item(s) would sync, %d unchanged", len(filtered.ToSync), filtered.UnchangedCount)
		return
	}

	batchSize := e.batchSize(opts)
	for start := 0; start < len(filtered.ToSync); start += batchSize {
		end := start + batchSize
		if end > len(filtered.ToSync) {
			end = len(filtered.ToSync)
		}
		e.writeBatch(ctx, filtered.ToSync[start:end], out)
	}
}

// writeBatch persists one batch with retry, then updates change records and
// publishes change events for the items that landed.
func (e *Executor) writeBatch(ctx context.Context, batch []PrioritizedItem, out *runOutcome) {
	items := make([]models.Item, 0, len(batch))
	syncedAt := e.now().UTC()
	for _, it := range batch {
		items = append(items, snapshotToItem(it, syncedAt))
	}

	n, err := e.withBatchRetry(ctx, func() (int, error) {
		return e.store.UpsertItems(ctx, items)
	})
	if err != nil {
		out.failed += len(batch)
		if len(out.errors) < maxRecordedErrors {
			out.errors = append(out.errors, fmt.Sprintf("batch of %d failed: %v", len(batch), err))
		}
		return
	}
	out.updated += n

	for _, it := range batch {
		record := &models.ChangeRecord{
			SKU:            it.Snapshot.SKU,
			ContentHash:    it.Hash,
			Monitored:      it.Fields,
			LastSyncedAt:   syncedAt,
			LastModifiedAt: it.Snapshot.LastModified,
			Priority:       it.Priority,
			ChangedFields:  it.ChangedFields,
		}
		if err := e.changes.PutChangeRecord(ctx, record); err != nil {
			log.Printf("⚠️ Failed to store change record for %s: %v", it.Snapshot.SKU, err)
		}

		if e.publisher != nil && !it.IsNew && len(it.ChangedFields) > 0 {
			e.publisher.PublishChange(ctx, ChangeEvent{
				SKU:           it.Snapshot.SKU,
				Snapshot:      it.Snapshot,
				ChangedFields: it.ChangedFields,
				Previous:      it.Previous,
			})
		}
	}
}

// syncVendors mirrors the supplier listing. Vendor failures degrade the run
// to partial, never to error.
func (e *Executor) syncVendors(ctx context.Context, out *runOutcome) {
	for offset := 0; ; offset += e.cfg.PageSize {
		res, err := e.limiter.Submit(ctx, func(ctx context.Context) (interface{}, error) {
			return e.source.FetchVendors(ctx, offset, e.cfg.PageSize)
		})
		if err != nil {
			out.addError(fmt.Errorf("fetching vendors at offset %d: %w", offset, err))
			return
		}

		page := res.([]inventoryapi.VendorRecord)
		if len(page) > 0 {
			vendors := make([]models.Vendor, 0, len(page))
			for _, v := range page {
				if v.Code == "" {
					continue
				}
				vendors = append(vendors, models.Vendor{
					Code:     v.Code,
					Name:     v.Name,
					Email:    v.Email,
					Phone:    v.Phone,
					LeadDays: v.LeadDays,
					Active:   v.Active,
				})
			}
			if _, err := e.withBatchRetry(ctx, func() (int, error) {
				return e.store.UpsertVendors(ctx, vendors)
			}); err != nil {
				out.addError(fmt.Errorf("writing vendors: %w", err))
				return
			}
		}
		if len(page) < e.cfg.PageSize {
			return
		}
	}
}

// withBatchRetry retries a storage write with exponential backoff. Only
// storage and transient failures are retried.
func (e *Executor) withBatchRetry(ctx context.Context, op func() (int, error)) (int, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = e.cfg.BatchRetryDelay
	bo.MaxInterval = e.cfg.MaxBatchRetryDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 0

	return backoff.Retry(ctx, func() (int, error) {
		n, err := op()
		if err != nil && !retryableWrite(err) {
			return 0, backoff.Permanent(err)
		}
		return n, err
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(uint(e.cfg.MaxBatchRetries)))
}

func retryableWrite(err error) bool {
	var se *syncerr.StorageError
	if errors.As(err, &se) {
		return true
	}
	return syncerr.IsRetryable(err)
}

// finalize stamps the terminal status on the sync log and builds the result.
func (e *Executor) finalize(ctx context.Context, entry *models.SyncLog, requested string, out *runOutcome) *RunResult {
	completed := e.now().UTC()
	entry.CompletedAt = &completed
	entry.Duration = completed.Sub(entry.StartedAt).Milliseconds()
	entry.ItemsProcessed = out.processed
	entry.ItemsUpdated = out.updated
	entry.ItemsFailed = out.failed

	switch {
	case out.fatal:
		entry.Status = models.SyncStatusError
	case len(out.errors) > 0 || out.failed > 0:
		entry.Status = models.SyncStatusPartial
	default:
		entry.Status = models.SyncStatusSuccess
	}

	if len(out.errors) > 0 {
		entry.Errors, _ = json.Marshal(out.errors)
	}

	if err := e.store.UpdateSyncLog(ctx, entry); err != nil {
		log.Printf("❌ Failed to finalize sync log %s: %v", entry.ID, err)
	}

	switch entry.Status {
	case models.SyncStatusSuccess:
		log.Printf("✅ Sync %s completed: %d processed, %d updated, %d unchanged in %dms",
			entry.ID, out.processed, out.updated, out.unchanged, entry.Duration)
	case models.SyncStatusPartial:
		log.Printf("⚠️ Sync %s partial: %d processed, %d updated, %d failed", entry.ID, out.processed, out.updated, out.failed)
	default:
		log.Printf("❌ Sync %s failed: %v", entry.ID, out.errors)
	}

	return &RunResult{
		RunID:          entry.ID,
		Strategy:       entry.Strategy,
		Requested:      requested,
		Status:         entry.Status,
		DryRun:         entry.DryRun,
		ItemsProcessed: out.processed,
		ItemsUpdated:   out.updated,
		ItemsFailed:    out.failed,
		Unchanged:      out.unchanged,
		Duration:       time.Duration(entry.Duration) * time.Millisecond,
		Errors:         out.errors,
		Sample:         out.sample,
	}
}

// notify raises failure alerts and, when a run succeeds after a failure,
// a recovery alert.
func (e *Executor) notify(ctx context.Context, entry *models.SyncLog, previous *models.SyncLog) {
	if e.notifier == nil {
		return
	}
	switch entry.Status {
	case models.SyncStatusError, models.SyncStatusPartial:
		e.notifier.NotifySyncOutcome(ctx, entry, false)
	case models.SyncStatusSuccess:
		// previous is always terminal; anything short of success was a
		// failure worth announcing recovery from.
		if previous != nil && previous.Status != models.SyncStatusSuccess {
			e.notifier.NotifySyncOutcome(ctx, entry, true)
		}
	}
}

func (e *Executor) batchSize(opts RunOptions) int {
	if opts.BatchSize > 0 {
		return opts.BatchSize
	}
	return e.cfg.BatchSize
}

func snapshotToItem(it PrioritizedItem, syncedAt time.Time) models.Item {
	snap := it.Snapshot
	return models.Item{
		SKU:          snap.SKU,
		Name:         snap.Name,
		Stock:        snap.Stock,
		Cost:         snap.Cost,
		ReorderPoint: snap.ReorderPoint,
		Vendor:       snap.Vendor,
		Location:     snap.Location,
		Discontinued: snap.Discontinued,
		Active:       !snap.Discontinued,
		LastModified: snap.LastModified,
		LastSyncedAt: &syncedAt,
		ContentHash:  it.Hash,
	}
}

func firstOr(list []string, fallback string) string {
	if len(list) > 0 {
		return list[0]
	}
	return fallback
}
