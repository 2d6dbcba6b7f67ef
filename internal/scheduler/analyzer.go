// Package scheduler drives periodic sync runs: an analyzer that turns the
// mirror's current state into a strategy recommendation, and per-channel
// ticker loops that fire runs at their cadence.
package scheduler

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/invhub/stocksync/internal/config"
	"github.com/invhub/stocksync/internal/models"
	"github.com/invhub/stocksync/internal/store"
)

// Urgency levels, least to most urgent.
const (
	UrgencyLow      = "low"
	UrgencyMedium   = "medium"
	UrgencyHigh     = "high"
	UrgencyCritical = "critical"
)

var urgencyRanks = map[string]int{
	UrgencyLow:      0,
	UrgencyMedium:   1,
	UrgencyHigh:     2,
	UrgencyCritical: 3,
}

func urgencyRank(level string) int {
	return urgencyRanks[level]
}

// StockSignal reports the stock pressure the monitor currently sees.
type StockSignal interface {
	// CriticalCounts returns how many items are out of stock and how many
	// are at or below their reorder point.
	CriticalCounts(ctx context.Context) (outOfStock, reorderNeeded int, err error)
}

// Recommendation is the analyzer's verdict: which strategy to run next, how
// urgent it is, and why.
type Recommendation struct {
	Strategy          string        `json:"strategy"`
	Urgency           string        `json:"urgency"`
	Reasons           []string      `json:"reasons"`
	EstimatedDuration time.Duration `json:"estimated_duration"`
	ChangeRatePct     float64       `json:"change_rate_pct"`
	OutOfStockCount   int           `json:"out_of_stock_count"`
	ReorderCount      int           `json:"reorder_count"`
	HoursSinceSync    float64       `json:"hours_since_sync"` // -1 when never synced
	InBusinessHours   bool          `json:"in_business_hours"`
	GeneratedAt       time.Time     `json:"generated_at"`
}

// Analyzer derives sync recommendations from sync history and stock
// pressure.
type Analyzer struct {
	logs   store.SyncLogStore
	items  store.ItemStore
	signal StockSignal
	cfg    *config.ScheduleConfig
	loc    *time.Location
	now    func() time.Time
}

// NewAnalyzer wires an analyzer. signal may be nil; stock pressure then
// reads as zero.
func NewAnalyzer(logs store.SyncLogStore, items store.ItemStore, signal StockSignal, cfg *config.ScheduleConfig) *Analyzer {
	loc, err := time.LoadLocation(cfg.BusinessHours.Timezone)
	if err != nil {
		loc = time.Local
	}
	return &Analyzer{
		logs:   logs,
		items:  items,
		signal: signal,
		cfg:    cfg,
		loc:    loc,
		now:    time.Now,
	}
}

// AnalyzeAndRecommend inspects sync history and stock pressure and returns
// the strategy the system should run next. Urgency escalates from stock
// pressure and sync staleness; strategy follows the most urgent signal.
func (a *Analyzer) AnalyzeAndRecommend(ctx context.Context) (*Recommendation, error) {
	now := a.now()
	rec := &Recommendation{
		Strategy:        models.StrategyInventory,
		Urgency:         UrgencyLow,
		HoursSinceSync:  -1,
		InBusinessHours: a.InBusinessHours(now),
		GeneratedAt:     now,
	}

	last, err := a.logs.LastSuccessfulSyncLog(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading last successful sync: %w", err)
	}
	if last != nil {
		rec.HoursSinceSync = now.Sub(last.StartedAt).Hours()
	}

	rec.ChangeRatePct, err = a.recentChangeRate(ctx)
	if err != nil {
		return nil, err
	}

	if a.signal != nil {
		outOfStock, reorder, err := a.signal.CriticalCounts(ctx)
		if err != nil {
			// Stock pressure unknown; staleness alone still drives the
			// recommendation.
			rec.Reasons = append(rec.Reasons, fmt.Sprintf("stock pressure unavailable: %v", err))
		} else {
			rec.OutOfStockCount = outOfStock
			rec.ReorderCount = reorder
		}
	}

	t := a.cfg.Thresholds

	switch {
	case rec.OutOfStockCount > 0:
		rec.Urgency = UrgencyCritical
		rec.Strategy = models.StrategyCritical
		rec.Reasons = append(rec.Reasons, fmt.Sprintf("%d item(s) out of stock", rec.OutOfStockCount))

	case rec.HoursSinceSync < 0:
		rec.Urgency = UrgencyHigh
		rec.Strategy = models.StrategyFull
		rec.Reasons = append(rec.Reasons, "no successful sync on record")

	case rec.ReorderCount >= t.ReorderAlertCount:
		rec.Urgency = UrgencyHigh
		rec.Strategy = models.StrategyCritical
		rec.Reasons = append(rec.Reasons, fmt.Sprintf("%d item(s) at or below reorder point", rec.ReorderCount))

	case rec.HoursSinceSync > t.OverdueSyncHours:
		rec.Urgency = UrgencyHigh
		rec.Strategy = models.StrategyFull
		rec.Reasons = append(rec.Reasons, fmt.Sprintf("last successful sync %.1fh ago (overdue past %.0fh)", rec.HoursSinceSync, t.OverdueSyncHours))

	case rec.HoursSinceSync > t.StaleSyncHours:
		rec.Urgency = UrgencyMedium
		rec.Strategy = models.StrategySmart
		rec.Reasons = append(rec.Reasons, fmt.Sprintf("last successful sync %.1fh ago (stale past %.0fh)", rec.HoursSinceSync, t.StaleSyncHours))

	case rec.ChangeRatePct > t.HighChangeRatePct:
		rec.Urgency = UrgencyMedium
		rec.Strategy = models.StrategySmart
		rec.Reasons = append(rec.Reasons, fmt.Sprintf("recent change rate %.1f%% above %.0f%%", rec.ChangeRatePct, t.HighChangeRatePct))

	default:
		rec.Reasons = append(rec.Reasons, "no pressure signals, inventory refresh only")
	}

	rec.EstimatedDuration = a.EstimateDuration(ctx, rec.Strategy, rec.ChangeRatePct)
	return rec, nil
}

// recentChangeRate averages the change rate over the recent completed,
// non-dry sync runs.
func (a *Analyzer) recentChangeRate(ctx context.Context) (float64, error) {
	window := a.cfg.Thresholds.RecentLogWindow
	if window <= 0 {
		window = 10
	}

	logs, err := a.logs.RecentSyncLogs(ctx, window)
	if err != nil {
		return 0, fmt.Errorf("reading recent sync logs: %w", err)
	}

	var sum float64
	var n int
	for _, entry := range logs {
		if entry.DryRun || !entry.Completed() || entry.ItemsProcessed == 0 {
			continue
		}
		sum += entry.ChangeRate()
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return sum / float64(n) * 100, nil
}

// EstimateDuration predicts how long a strategy will take: two seconds per
// hundred active items against the channel baseline, 30 second floor, then
// a change-rate multiplier.
func (a *Analyzer) EstimateDuration(ctx context.Context, strategy string, changeRatePct float64) time.Duration {
	seconds := 30.0
	if ch, ok := a.cfg.Channels[strategy]; ok && ch.EstimateBaseline > 0 {
		seconds = float64(ch.EstimateBaseline)
	}

	if count, err := a.items.ActiveItemCount(ctx); err == nil {
		scaled := float64(count) / 100 * 2
		if scaled > seconds {
			seconds = scaled
		}
	}

	t := a.cfg.Thresholds
	switch {
	case changeRatePct > t.HighChangeRatePct:
		seconds *= 1.5
	case changeRatePct < t.LowChangeRatePct:
		seconds *= 0.7
	}

	if seconds < 30 {
		seconds = 30
	}
	return time.Duration(math.Round(seconds)) * time.Second
}

// InBusinessHours reports whether t falls inside the configured business
// window, evaluated in the configured timezone. Start is inclusive, end
// exclusive.
func (a *Analyzer) InBusinessHours(t time.Time) bool {
	hour := t.In(a.loc).Hour()
	bh := a.cfg.BusinessHours
	if bh.StartHour == bh.EndHour {
		return false
	}
	if bh.StartHour < bh.EndHour {
		return hour >= bh.StartHour && hour < bh.EndHour
	}
	// Window wraps midnight.
	return hour >= bh.StartHour || hour < bh.EndHour
}

// NextEligibleTime returns the earliest moment after from at which the
// channel may fire: the next preferred hour when one is set, otherwise the
// end of business hours for channels excluded from the business window.
func (a *Analyzer) NextEligibleTime(ch config.ChannelConfig, from time.Time) time.Time {
	local := from.In(a.loc)

	if ch.PreferredHour != nil {
		next := time.Date(local.Year(), local.Month(), local.Day(), *ch.PreferredHour, 0, 0, 0, a.loc)
		if !next.After(local) {
			next = next.AddDate(0, 0, 1)
		}
		return next
	}

	if !ch.BusinessHoursOK && a.InBusinessHours(from) {
		end := time.Date(local.Year(), local.Month(), local.Day(), a.cfg.BusinessHours.EndHour, 0, 0, 0, a.loc)
		if !end.After(local) {
			end = end.AddDate(0, 0, 1)
		}
		return end
	}

	return from
}

// MeetsUrgency reports whether the recommendation clears the channel's
// urgency gate.
func MeetsUrgency(rec *Recommendation, minUrgency string) bool {
	if minUrgency == "" {
		return true
	}
	return urgencyRank(rec.Urgency) >= urgencyRank(minUrgency)
}
