package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/invhub/stocksync/internal/cache"
	"github.com/invhub/stocksync/internal/inventoryapi"
	"github.com/invhub/stocksync/internal/models"
	"github.com/invhub/stocksync/internal/ratelimit"
	"github.com/invhub/stocksync/internal/store"
	"github.com/invhub/stocksync/internal/syncerr"
)

// fakeSource serves canned pages with limit/offset semantics.
type fakeSource struct {
	mu           sync.Mutex
	products     []inventoryapi.ItemSnapshot
	levels       []inventoryapi.InventoryLevel
	vendors      []inventoryapi.VendorRecord
	productCalls []int
	fetchErr     error
}

func (f *fakeSource) FetchProducts(_ context.Context, offset, limit int) ([]inventoryapi.ItemSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.productCalls = append(f.productCalls, offset)
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return pageOf(f.products, offset, limit), nil
}

func (f *fakeSource) FetchProductsBySKUs(_ context.Context, skus []string) ([]inventoryapi.ItemSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	want := map[string]bool{}
	for _, sku := range skus {
		want[sku] = true
	}
	var out []inventoryapi.ItemSnapshot
	for _, p := range f.products {
		if want[p.SKU] {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeSource) FetchInventoryLevels(_ context.Context, offset, limit int) ([]inventoryapi.InventoryLevel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return pageOf(f.levels, offset, limit), nil
}

func (f *fakeSource) FetchVendors(_ context.Context, offset, limit int) ([]inventoryapi.VendorRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return pageOf(f.vendors, offset, limit), nil
}

func pageOf[T any](all []T, offset, limit int) []T {
	if offset >= len(all) {
		return nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

// fakeStore is an in-memory store.Store.
type fakeStore struct {
	mu             sync.Mutex
	items          map[string]models.Item
	vendors        map[string]models.Vendor
	logs           []*models.SyncLog
	alerts         []models.Alert
	upsertFailures int // fail this many UpsertItems calls before succeeding
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		items:   map[string]models.Item{},
		vendors: map[string]models.Vendor{},
	}
}

func (s *fakeStore) UpsertItems(_ context.Context, items []models.Item) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertFailures > 0 {
		s.upsertFailures--
		return 0, &syncerr.StorageError{Op: "upsert items", Err: errors.New("injected failure")}
	}
	for _, item := range items {
		s.items[item.SKU] = item
	}
	return len(items), nil
}

func (s *fakeStore) UpsertVendors(_ context.Context, vendors []models.Vendor) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, v := range vendors {
		s.vendors[v.Code] = v
	}
	return len(vendors), nil
}

func (s *fakeStore) UpdateStockLevels(_ context.Context, levels map[string]float64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for sku, qty := range levels {
		if item, ok := s.items[sku]; ok {
			item.Stock = qty
			s.items[sku] = item
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) CriticalItems(context.Context) ([]models.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Item
	for _, item := range s.items {
		if !item.Discontinued && item.Stock <= item.ReorderPoint {
			out = append(out, item)
		}
	}
	return out, nil
}

func (s *fakeStore) ActiveItemCount(context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, item := range s.items {
		if !item.Discontinued {
			n++
		}
	}
	return n, nil
}

func (s *fakeStore) CreateSyncLog(_ context.Context, entry *models.SyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	clone := *entry
	s.logs = append(s.logs, &clone)
	return nil
}

func (s *fakeStore) UpdateSyncLog(_ context.Context, entry *models.SyncLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.logs {
		if existing.ID == entry.ID {
			clone := *entry
			s.logs[i] = &clone
			return nil
		}
	}
	return errors.New("sync log not found")
}

func (s *fakeStore) RunningSyncLog(context.Context) (*models.SyncLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.logs) - 1; i >= 0; i-- {
		if s.logs[i].Status == models.SyncStatusRunning {
			clone := *s.logs[i]
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) FailStuckSyncLogs(context.Context, time.Duration) (int64, error) {
	return 0, nil
}

func (s *fakeStore) LastCompletedSyncLog(context.Context) (*models.SyncLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.logs) - 1; i >= 0; i-- {
		if s.logs[i].Completed() {
			clone := *s.logs[i]
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) LastSuccessfulSyncLog(context.Context) (*models.SyncLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := len(s.logs) - 1; i >= 0; i-- {
		if s.logs[i].Status == models.SyncStatusSuccess {
			clone := *s.logs[i]
			return &clone, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) RecentSyncLogs(_ context.Context, limit int) ([]models.SyncLog, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.SyncLog
	for i := len(s.logs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, *s.logs[i])
	}
	return out, nil
}

func (s *fakeStore) CreateAlert(_ context.Context, alert *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.alerts = append(s.alerts, *alert)
	return nil
}

func (s *fakeStore) UnacknowledgedAlerts(_ context.Context, limit int) ([]models.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Alert
	for i := len(s.alerts) - 1; i >= 0 && len(out) < limit; i-- {
		if !s.alerts[i].Acknowledged {
			out = append(out, s.alerts[i])
		}
	}
	return out, nil
}

func (s *fakeStore) AcknowledgeAlert(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.alerts {
		if s.alerts[i].ID == id {
			s.alerts[i].Acknowledged = true
			return nil
		}
	}
	return errors.New("alert not found")
}

type testRig struct {
	executor *Executor
	source   *fakeSource
	store    *fakeStore
	cache    *cache.MemoryCache
	limiter  *ratelimit.Limiter
}

func newTestRig(t *testing.T, source *fakeSource) *testRig {
	t.Helper()

	kv := cache.NewMemoryCache()
	st := newFakeStore()
	limiter := ratelimit.New(ratelimit.Config{
		RequestsPerSecond: 1000,
		MinDelay:          time.Millisecond,
		MaxRetries:        2,
		RetryDelay:        time.Millisecond,
		MaxRetryDelay:     2 * time.Millisecond,
	})
	t.Cleanup(func() {
		limiter.Stop()
		kv.Close()
	})

	executor := NewExecutor(source, limiter, st, store.NewCacheChangeStore(kv), kv, Config{
		PageSize:           2,
		BatchSize:          2,
		StuckThreshold:     time.Minute,
		MaxBatchRetries:    2,
		BatchRetryDelay:    time.Millisecond,
		MaxBatchRetryDelay: 2 * time.Millisecond,
	})
	return &testRig{executor: executor, source: source, store: st, cache: kv, limiter: limiter}
}

func threeProducts() []inventoryapi.ItemSnapshot {
	return []inventoryapi.ItemSnapshot{
		{SKU: "A-1", Name: "Alpha", Stock: 10, Cost: 1, ReorderPoint: 2},
		{SKU: "B-2", Name: "Beta", Stock: 20, Cost: 2, ReorderPoint: 2},
		{SKU: "C-3", Name: "Gamma", Stock: 30, Cost: 3, ReorderPoint: 2},
	}
}

func TestExecutor_FullSyncWritesNewItems(t *testing.T) {
	rig := newTestRig(t, &fakeSource{products: threeProducts()})

	result, err := rig.executor.Run(context.Background(), RunOptions{Strategy: models.StrategyFull})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if result.Status != models.SyncStatusSuccess {
		t.Errorf("expected success, got %s", result.Status)
	}
	if result.ItemsProcessed != 3 || result.ItemsUpdated != 3 {
		t.Errorf("expected 3 processed and updated, got %d/%d", result.ItemsProcessed, result.ItemsUpdated)
	}
	if len(rig.store.items) != 3 {
		t.Errorf("expected 3 items in store, got %d", len(rig.store.items))
	}

	// Pagination: page size 2 means offsets 0 and 2 were requested
	if len(rig.source.productCalls) != 2 || rig.source.productCalls[1] != 2 {
		t.Errorf("expected product fetches at offsets [0 2], got %v", rig.source.productCalls)
	}
}

func TestExecutor_SecondRunSkipsUnchanged(t *testing.T) {
	rig := newTestRig(t, &fakeSource{products: threeProducts()})
	ctx := context.Background()

	if _, err := rig.executor.Run(ctx, RunOptions{Strategy: models.StrategyFull}); err != nil {
		t.Fatalf("first run failed: %v", err)
	}

	result, err := rig.executor.Run(ctx, RunOptions{Strategy: models.StrategyFull})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if result.ItemsUpdated != 0 {
		t.Errorf("unchanged items should not rewrite, got %d updates", result.ItemsUpdated)
	}
	if result.Unchanged != 3 {
		t.Errorf("expected 3 unchanged, got %d", result.Unchanged)
	}
}

func TestExecutor_RejectsConcurrentRuns(t *testing.T) {
	rig := newTestRig(t, &fakeSource{products: threeProducts()})
	ctx := context.Background()

	// Simulate another process holding the lock
	ok, err := rig.cache.SetNX(ctx, "stocksync:sync:lock", []byte("other"), time.Minute)
	if err != nil || !ok {
		t.Fatalf("failed to seed lock: %v", err)
	}

	_, err = rig.executor.Run(ctx, RunOptions{Strategy: models.StrategyFull})
	var busy *syncerr.ConcurrencyError
	if !errors.As(err, &busy) {
		t.Fatalf("expected ConcurrencyError, got %v", err)
	}

	// No sync log row should exist for the rejected run
	if len(rig.store.logs) != 0 {
		t.Errorf("rejected run must not create a sync log, found %d", len(rig.store.logs))
	}
}

func TestExecutor_ReleasesLockAfterRun(t *testing.T) {
	rig := newTestRig(t, &fakeSource{products: threeProducts()})
	ctx := context.Background()

	if _, err := rig.executor.Run(ctx, RunOptions{Strategy: models.StrategyFull}); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	exists, err := rig.cache.Exists(ctx, "stocksync:sync:lock")
	if err != nil {
		t.Fatalf("lock check failed: %v", err)
	}
	if exists {
		t.Error("lock should be released after run completes")
	}
}

func TestExecutor_DryRunWritesNothing(t *testing.T) {
	rig := newTestRig(t, &fakeSource{products: threeProducts()})

	result, err := rig.executor.Run(context.Background(), RunOptions{Strategy: models.StrategyFull, DryRun: true})
	if err != nil {
		t.Fatalf("dry run failed: %v", err)
	}

	if result.ItemsUpdated != 0 {
		t.Errorf("dry run must not update, got %d", result.ItemsUpdated)
	}
	if len(rig.store.items) != 0 {
		t.Errorf("dry run must not write items, found %d", len(rig.store.items))
	}
	if len(result.Sample) == 0 {
		t.Error("dry run should report a change sample")
	}
	if !result.DryRun {
		t.Error("result should be flagged as dry run")
	}
}

func TestExecutor_PartialOnPersistentWriteFailure(t *testing.T) {
	rig := newTestRig(t, &fakeSource{products: threeProducts()})
	rig.store.upsertFailures = 100 // every attempt fails

	result, err := rig.executor.Run(context.Background(), RunOptions{Strategy: models.StrategyFull})
	if err != nil {
		t.Fatalf("run should finish despite write failures: %v", err)
	}

	if result.Status != models.SyncStatusPartial {
		t.Errorf("expected partial, got %s", result.Status)
	}
	if result.ItemsFailed != 3 {
		t.Errorf("expected 3 failed, got %d", result.ItemsFailed)
	}
	if len(result.Errors) == 0 {
		t.Error("expected recorded errors")
	}
}

func TestExecutor_FatalWhenNothingFetched(t *testing.T) {
	rig := newTestRig(t, &fakeSource{fetchErr: errors.New("api down")})

	result, err := rig.executor.Run(context.Background(), RunOptions{Strategy: models.StrategyFull})
	if err == nil {
		t.Fatal("expected an error when the whole fetch fails")
	}
	if result == nil || result.Status != models.SyncStatusError {
		t.Fatalf("expected error status result, got %+v", result)
	}
}

func TestExecutor_SmartResolvesToInventoryWhenFresh(t *testing.T) {
	rig := newTestRig(t, &fakeSource{
		products: threeProducts(),
		levels: []inventoryapi.InventoryLevel{
			{SKU: "A-1", Quantity: 7},
		},
	})
	ctx := context.Background()

	// Seed the mirror and a recent successful sync
	if _, err := rig.executor.Run(ctx, RunOptions{Strategy: models.StrategyFull}); err != nil {
		t.Fatalf("seed run failed: %v", err)
	}

	result, err := rig.executor.Run(ctx, RunOptions{Strategy: models.StrategySmart})
	if err != nil {
		t.Fatalf("smart run failed: %v", err)
	}
	if result.Strategy != models.StrategyInventory {
		t.Errorf("fresh mirror should resolve smart to inventory, got %s", result.Strategy)
	}
	if result.Requested != models.StrategySmart {
		t.Errorf("requested strategy should be preserved, got %s", result.Requested)
	}
	if got := rig.store.items["A-1"].Stock; got != 7 {
		t.Errorf("inventory run should update stock, got %v", got)
	}
}

type fakeNotifier struct {
	mu       sync.Mutex
	outcomes []bool // recovered flag per notification, in call order
}

func (f *fakeNotifier) NotifySyncOutcome(_ context.Context, _ *models.SyncLog, recovered bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, recovered)
}

func TestExecutor_RecoveryNotifiedAfterPartialRun(t *testing.T) {
	rig := newTestRig(t, &fakeSource{products: threeProducts()})
	notifier := &fakeNotifier{}
	rig.executor.SetOutcomeNotifier(notifier)
	ctx := context.Background()

	rig.store.upsertFailures = 100
	result, err := rig.executor.Run(ctx, RunOptions{Strategy: models.StrategyFull})
	if err != nil {
		t.Fatalf("degraded run should still finish: %v", err)
	}
	if result.Status != models.SyncStatusPartial {
		t.Fatalf("expected partial, got %s", result.Status)
	}

	rig.store.mu.Lock()
	rig.store.upsertFailures = 0
	rig.store.mu.Unlock()

	result, err = rig.executor.Run(ctx, RunOptions{Strategy: models.StrategyFull})
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}
	if result.Status != models.SyncStatusSuccess {
		t.Fatalf("expected success, got %s", result.Status)
	}

	if len(notifier.outcomes) != 2 || notifier.outcomes[0] || !notifier.outcomes[1] {
		t.Errorf("expected failure then recovery notification, got %v", notifier.outcomes)
	}
}

func TestExecutor_CriticalSyncRefetchesLowStockItems(t *testing.T) {
	src := &fakeSource{products: threeProducts()}
	rig := newTestRig(t, src)
	ctx := context.Background()

	if _, err := rig.executor.Run(ctx, RunOptions{Strategy: models.StrategyFull}); err != nil {
		t.Fatalf("seed run failed: %v", err)
	}

	// A-1 dropped to zero upstream
	src.mu.Lock()
	src.products[0].Stock = 0
	src.mu.Unlock()

	rig.store.mu.Lock()
	item := rig.store.items["A-1"]
	item.Stock = 1
	item.ReorderPoint = 2
	rig.store.items["A-1"] = item
	rig.store.mu.Unlock()

	result, err := rig.executor.Run(ctx, RunOptions{Strategy: models.StrategyCritical})
	if err != nil {
		t.Fatalf("critical run failed: %v", err)
	}
	if result.ItemsProcessed != 1 {
		t.Errorf("critical run should fetch only the critical SKU, processed %d", result.ItemsProcessed)
	}
	if got := rig.store.items["A-1"].Stock; got != 0 {
		t.Errorf("expected refreshed stock 0, got %v", got)
	}
}
