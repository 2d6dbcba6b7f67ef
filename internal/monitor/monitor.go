// Package monitor watches the mirrored inventory for stock pressure and
// turns it into alerts: a poll loop over the whole mirror plus a push path
// fed by the sync executor's change events.
package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/invhub/stocksync/internal/cache"
	"github.com/invhub/stocksync/internal/engine"
	"github.com/invhub/stocksync/internal/models"
	"github.com/invhub/stocksync/internal/store"
)

const alertCountPrefix = "stocksync:alerts:count:"

// Sink receives emitted alerts after they are persisted. Delivery failures
// are the sink's problem; the monitor never blocks on them.
type Sink interface {
	Deliver(alert models.Alert)
}

// LogSink writes alerts to the process log.
type LogSink struct{}

// Deliver logs one alert.
func (LogSink) Deliver(alert models.Alert) {
	log.Printf("🔔 Alert [%s/%s] %s: %s", alert.AlertType, alert.Severity, alert.SKU, alert.Message)
}

// Config holds the monitor's thresholds.
type Config struct {
	PollInterval         time.Duration
	CriticalStockoutDays float64
	HighStockoutDays     float64
	MediumStockoutDays   float64
	MaxAlertsPerHour     int
	PriceChangePct       float64
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = 5 * time.Minute
	}
	if c.CriticalStockoutDays <= 0 {
		c.CriticalStockoutDays = 3
	}
	if c.HighStockoutDays <= 0 {
		c.HighStockoutDays = 7
	}
	if c.MediumStockoutDays <= 0 {
		c.MediumStockoutDays = 14
	}
	if c.MaxAlertsPerHour <= 0 {
		c.MaxAlertsPerHour = 3
	}
	if c.PriceChangePct <= 0 {
		c.PriceChangePct = 10
	}
	return c
}

// Classification is what the monitor concludes about one item.
type Classification struct {
	AlertType         string
	Severity          string
	DaysUntilStockout float64 // -1 when no projection is possible
	Velocity          float64 // units per day
	Message           string
}

// Monitor classifies mirrored items and emits alerts, rate limited per SKU.
// It also implements the executor's change publisher and outcome notifier,
// so pushed changes raise alerts between polls.
type Monitor struct {
	store store.Store
	cache cache.Cache
	cfg   Config

	mu    sync.Mutex
	sinks []Sink

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	started  bool
}

// New wires a monitor.
func New(st store.Store, c cache.Cache, cfg Config) *Monitor {
	return &Monitor{
		store: st,
		cache: c,
		cfg:   cfg.withDefaults(),
		stop:  make(chan struct{}),
	}
}

// AddSink registers a delivery target for emitted alerts.
func (m *Monitor) AddSink(sink Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sinks = append(m.sinks, sink)
}

// Start launches the poll loop.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop()
	log.Printf("🔄 Critical item monitor started (poll every %s)", m.cfg.PollInterval)
}

// Stop halts the poll loop.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
	m.wg.Wait()
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if err := m.Evaluate(context.Background()); err != nil {
				log.Printf("⚠️ Monitor poll failed: %v", err)
			}
		}
	}
}

// Evaluate runs one poll pass: classify every critical item and emit alerts
// for the ones that warrant one.
func (m *Monitor) Evaluate(ctx context.Context) error {
	items, err := m.store.CriticalItems(ctx)
	if err != nil {
		return fmt.Errorf("loading critical items: %w", err)
	}

	emitted := 0
	for _, item := range items {
		cls := m.Classify(item)
		if cls == nil {
			continue
		}
		if m.emit(ctx, item.SKU, *cls, item.Stock, item.ReorderPoint, 0) {
			emitted++
		}
	}

	if emitted > 0 {
		log.Printf("🔔 Monitor pass: %d alert(s) from %d critical item(s)", emitted, len(items))
	}
	return nil
}

// Classify applies the stockout ladder to one item. Returns nil when the
// item needs no alert.
func (m *Monitor) Classify(item models.Item) *Classification {
	if item.Discontinued {
		return nil
	}

	velocity := Velocity(item)

	if item.Stock <= 0 {
		return &Classification{
			AlertType:         models.AlertOutOfStock,
			Severity:          models.SeverityCritical,
			DaysUntilStockout: 0,
			Velocity:          velocity,
			Message:           fmt.Sprintf("%s is out of stock", item.SKU),
		}
	}

	if velocity > 0 {
		days := item.Stock / velocity
		switch {
		case days <= m.cfg.CriticalStockoutDays:
			return &Classification{
				AlertType:         models.AlertLowStock,
				Severity:          models.SeverityCritical,
				DaysUntilStockout: days,
				Velocity:          velocity,
				Message:           fmt.Sprintf("%s will stock out in %.1f day(s)", item.SKU, days),
			}
		case days <= m.cfg.HighStockoutDays:
			return &Classification{
				AlertType:         models.AlertLowStock,
				Severity:          models.SeverityHigh,
				DaysUntilStockout: days,
				Velocity:          velocity,
				Message:           fmt.Sprintf("%s will stock out in %.1f day(s)", item.SKU, days),
			}
		case days <= m.cfg.MediumStockoutDays:
			return &Classification{
				AlertType:         models.AlertLowStock,
				Severity:          models.SeverityMedium,
				DaysUntilStockout: days,
				Velocity:          velocity,
				Message:           fmt.Sprintf("%s will stock out in %.1f day(s)", item.SKU, days),
			}
		}
	}

	if item.BelowReorderPoint() {
		return &Classification{
			AlertType:         models.AlertReorderNeeded,
			Severity:          models.SeverityLow,
			DaysUntilStockout: -1,
			Velocity:          velocity,
			Message:           fmt.Sprintf("%s at %.0f units, reorder point %.0f", item.SKU, item.Stock, item.ReorderPoint),
		}
	}
	return nil
}

// Velocity returns units sold per day, preferring the 30-day trailing
// window and falling back to the 90-day one.
func Velocity(item models.Item) float64 {
	if item.Sales30Days > 0 {
		return item.Sales30Days / 30
	}
	if item.Sales90Days > 0 {
		return item.Sales90Days / 90
	}
	return 0
}

// CriticalCounts reports stock pressure for the schedule analyzer.
func (m *Monitor) CriticalCounts(ctx context.Context) (outOfStock, reorderNeeded int, err error) {
	items, err := m.store.CriticalItems(ctx)
	if err != nil {
		return 0, 0, err
	}
	for _, item := range items {
		if item.Discontinued {
			continue
		}
		if item.Stock <= 0 {
			outOfStock++
		} else {
			reorderNeeded++
		}
	}
	return outOfStock, reorderNeeded, nil
}

// PublishChange is the push path: a just-synced item whose monitored fields
// moved. Price swings past the threshold and vendor switches raise alerts
// immediately instead of waiting for the next poll.
func (m *Monitor) PublishChange(ctx context.Context, ev engine.ChangeEvent) {
	for _, field := range ev.ChangedFields {
		switch field {
		case "cost":
			m.checkPriceChange(ctx, ev)
		case "vendor":
			m.checkVendorChange(ctx, ev)
		case "stock":
			// Snapshots carry no sales history, so velocity reads as zero
			// and only the stockout and reorder tiers can fire here.
			snap := ev.Snapshot
			item := models.Item{
				SKU:          snap.SKU,
				Stock:        snap.Stock,
				ReorderPoint: snap.ReorderPoint,
				Discontinued: snap.Discontinued,
			}
			if cls := m.Classify(item); cls != nil {
				m.emit(ctx, ev.SKU, *cls, snap.Stock, snap.ReorderPoint, 0)
			}
		}
	}
}

func (m *Monitor) checkPriceChange(ctx context.Context, ev engine.ChangeEvent) {
	prev, err := strconv.ParseFloat(ev.Previous["cost"], 64)
	if err != nil || prev == 0 {
		return
	}

	pct := math.Abs(ev.Snapshot.Cost-prev) / prev * 100
	if pct < m.cfg.PriceChangePct {
		return
	}

	m.emit(ctx, ev.SKU, Classification{
		AlertType: models.AlertPriceChange,
		Severity:  models.SeverityMedium,
		Message:   fmt.Sprintf("%s cost moved %.1f%%: %.2f -> %.2f", ev.SKU, pct, prev, ev.Snapshot.Cost),
	}, ev.Snapshot.Cost, m.cfg.PriceChangePct, prev)
}

func (m *Monitor) checkVendorChange(ctx context.Context, ev engine.ChangeEvent) {
	prev := ev.Previous["vendor"]
	if prev == "" || prev == ev.Snapshot.Vendor {
		return
	}
	if !m.allow(ctx, ev.SKU) {
		return
	}

	alert := models.Alert{
		ID:        uuid.NewString(),
		SKU:       ev.SKU,
		AlertType: models.AlertVendorChange,
		Severity:  models.SeverityLow,
		Message:   fmt.Sprintf("%s vendor changed: %s -> %s", ev.SKU, prev, ev.Snapshot.Vendor),
	}
	alert.Details, _ = json.Marshal(map[string]string{
		"previous_vendor": prev,
		"new_vendor":      ev.Snapshot.Vendor,
	})
	m.persistAndDeliver(ctx, ev.SKU, alert)
}

// NotifySyncOutcome raises sync-failed alerts for failed or partial runs
// and a sync-recovered alert when syncing succeeds after a failure.
func (m *Monitor) NotifySyncOutcome(ctx context.Context, entry *models.SyncLog, recovered bool) {
	alert := models.Alert{
		ID:  uuid.NewString(),
		SKU: "",
	}

	if recovered {
		alert.AlertType = models.AlertSyncRecovered
		alert.Severity = models.SeverityLow
		alert.Message = fmt.Sprintf("sync recovered: %s run %s succeeded", entry.Strategy, entry.ID)
	} else {
		alert.AlertType = models.AlertSyncFailed
		alert.Severity = models.SeverityHigh
		alert.Message = fmt.Sprintf("sync %s run %s finished %s with %d failure(s)", entry.Strategy, entry.ID, entry.Status, entry.ItemsFailed)
	}
	alert.Details, _ = json.Marshal(map[string]interface{}{
		"run_id":   entry.ID,
		"strategy": entry.Strategy,
		"status":   entry.Status,
	})

	if err := m.store.CreateAlert(ctx, &alert); err != nil {
		log.Printf("❌ Failed to persist %s alert: %v", alert.AlertType, err)
		return
	}
	m.deliver(alert)
}

// emit persists and delivers one item alert unless the SKU already used its
// hourly alert budget. Returns whether the alert went out.
func (m *Monitor) emit(ctx context.Context, sku string, cls Classification, current, threshold, previous float64) bool {
	if !m.allow(ctx, sku) {
		return false
	}

	alert := models.Alert{
		ID:            uuid.NewString(),
		SKU:           sku,
		AlertType:     cls.AlertType,
		Severity:      cls.Severity,
		Message:       cls.Message,
		CurrentValue:  current,
		Threshold:     threshold,
		PreviousValue: previous,
	}
	if cls.DaysUntilStockout >= 0 {
		alert.Details, _ = json.Marshal(map[string]float64{
			"days_until_stockout": cls.DaysUntilStockout,
			"velocity":            cls.Velocity,
		})
	}
	return m.persistAndDeliver(ctx, sku, alert)
}

func (m *Monitor) persistAndDeliver(ctx context.Context, sku string, alert models.Alert) bool {
	if err := m.store.CreateAlert(ctx, &alert); err != nil {
		log.Printf("❌ Failed to persist alert for %s: %v", sku, err)
		return false
	}
	m.deliver(alert)
	return true
}

// allow enforces the per-SKU hourly alert budget through a counter key with
// a one-hour TTL. A cache failure fails open; a missed alert is worse than
// a duplicate.
func (m *Monitor) allow(ctx context.Context, sku string) bool {
	key := alertCountPrefix + sku
	count, err := m.cache.Incr(ctx, key)
	if err != nil {
		return true
	}
	if count == 1 {
		if err := m.cache.Expire(ctx, key, time.Hour); err != nil {
			log.Printf("⚠️ Failed to set alert budget TTL for %s: %v", sku, err)
		}
	}
	return count <= int64(m.cfg.MaxAlertsPerHour)
}

func (m *Monitor) deliver(alert models.Alert) {
	m.mu.Lock()
	sinks := make([]Sink, len(m.sinks))
	copy(sinks, m.sinks)
	m.mu.Unlock()

	for _, sink := range sinks {
		sink.Deliver(alert)
	}
}
