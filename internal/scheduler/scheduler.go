package scheduler

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/invhub/stocksync/internal/config"
	"github.com/invhub/stocksync/internal/engine"
	"github.com/invhub/stocksync/internal/syncerr"
)

const predictionHistoryCap = 50

// Runner executes one sync run. The executor satisfies this.
type Runner interface {
	Run(ctx context.Context, opts engine.RunOptions) (*engine.RunResult, error)
}

// PredictionSample pairs the analyzer's duration estimate with the actual
// run duration, for estimate tuning.
type PredictionSample struct {
	Strategy  string        `json:"strategy"`
	Predicted time.Duration `json:"predicted"`
	Actual    time.Duration `json:"actual"`
	At        time.Time     `json:"at"`
}

// ChannelStatus is the reportable state of one scheduled channel.
type ChannelStatus struct {
	Enabled      bool      `json:"enabled"`
	Interval     string    `json:"interval"`
	LastFiredAt  time.Time `json:"last_fired_at,omitempty"`
	LastOutcome  string    `json:"last_outcome,omitempty"` // run status or skip reason
	LastRunID    string    `json:"last_run_id,omitempty"`
	NextEligible time.Time `json:"next_eligible,omitempty"`
}

// Status is the scheduler's reportable state.
type Status struct {
	Running        bool                     `json:"running"`
	Channels       map[string]ChannelStatus `json:"channels"`
	Recommendation *Recommendation          `json:"recommendation,omitempty"`
	Predictions    []PredictionSample       `json:"predictions,omitempty"`
}

// Scheduler owns one goroutine per enabled channel. Each loop ticks at the
// channel's cadence, re-analyzes at fire time, and runs the channel's
// strategy when the recommendation clears the channel's urgency gate.
type Scheduler struct {
	analyzer *Analyzer
	runner   Runner

	mu       sync.Mutex
	cfg      *config.ScheduleConfig
	running  bool
	stop     chan struct{}
	wg       sync.WaitGroup
	statuses map[string]ChannelStatus
	history  []PredictionSample
}

// New wires a scheduler. Start must be called before any channel fires.
func New(analyzer *Analyzer, runner Runner, cfg *config.ScheduleConfig) *Scheduler {
	return &Scheduler{
		analyzer: analyzer,
		runner:   runner,
		cfg:      cfg,
		statuses: map[string]ChannelStatus{},
	}
}

// Start launches one loop per enabled channel. Calling Start on a running
// scheduler is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stop = make(chan struct{})

	for name, ch := range s.cfg.Channels {
		if !ch.Enabled {
			log.Printf("🛑 Schedule channel %s disabled", name)
			continue
		}
		s.statuses[name] = ChannelStatus{
			Enabled:  true,
			Interval: (time.Duration(ch.IntervalSeconds) * time.Second).String(),
		}
		s.wg.Add(1)
		go s.runChannel(name, ch, s.stop)
		log.Printf("🔄 Schedule channel %s started (every %ds)", name, ch.IntervalSeconds)
	}
}

// Stop halts all channel loops and waits for them to exit. In-flight runs
// finish; no new fires happen.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stop)
	s.mu.Unlock()

	s.wg.Wait()
	log.Printf("🛑 Scheduler stopped")
}

// Reload swaps in a new schedule configuration by restarting the channel
// loops.
func (s *Scheduler) Reload(cfg *config.ScheduleConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.Stop()

	s.mu.Lock()
	s.cfg = cfg
	s.statuses = map[string]ChannelStatus{}
	s.mu.Unlock()

	s.Start()
	log.Printf("✅ Schedule configuration reloaded")
	return nil
}

// runChannel is one channel's loop. Channels with a preferred hour arm a
// timer to that hour; the rest tick at their interval.
func (s *Scheduler) runChannel(name string, ch config.ChannelConfig, stop chan struct{}) {
	defer s.wg.Done()

	if ch.PreferredHour != nil {
		s.runPreferredHourChannel(name, ch, stop)
		return
	}

	interval := time.Duration(ch.IntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.fire(name, ch)
		}
	}
}

func (s *Scheduler) runPreferredHourChannel(name string, ch config.ChannelConfig, stop chan struct{}) {
	for {
		next := s.analyzer.NextEligibleTime(ch, time.Now())
		timer := time.NewTimer(time.Until(next))

		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
			s.fire(name, ch)
		}
	}
}

// fire re-analyzes and runs the channel's strategy if the recommendation
// clears the gate. Concurrency rejections are skips, not failures.
func (s *Scheduler) fire(name string, ch config.ChannelConfig) {
	ctx := context.Background()
	now := time.Now()

	rec, err := s.analyzer.AnalyzeAndRecommend(ctx)
	if err != nil {
		log.Printf("⚠️ Channel %s: analysis failed: %v", name, err)
		s.recordOutcome(name, now, "analysis failed", "")
		return
	}

	if !MeetsUrgency(rec, ch.MinUrgency) {
		s.recordOutcome(name, now, "skipped: below "+ch.MinUrgency+" urgency", "")
		return
	}

	if !ch.BusinessHoursOK && rec.InBusinessHours {
		next := s.analyzer.NextEligibleTime(ch, now)
		log.Printf("🕐 Channel %s deferred to %s (business hours)", name, next.Format(time.Kitchen))
		s.recordDeferred(name, now, next)
		return
	}

	log.Printf("🔄 Channel %s firing (urgency=%s, est=%s)", name, rec.Urgency, rec.EstimatedDuration)

	result, err := s.runner.Run(ctx, engine.RunOptions{Strategy: name})
	if err != nil {
		var busy *syncerr.ConcurrencyError
		if errors.As(err, &busy) {
			s.recordOutcome(name, now, "skipped: sync already running", "")
			return
		}
		s.recordOutcome(name, now, "error", "")
		log.Printf("❌ Channel %s run failed: %v", name, err)
		return
	}

	s.recordOutcome(name, now, result.Status, result.RunID)
	s.recordPrediction(PredictionSample{
		Strategy:  result.Strategy,
		Predicted: rec.EstimatedDuration,
		Actual:    result.Duration,
		At:        now,
	})
}

func (s *Scheduler) recordOutcome(name string, at time.Time, outcome, runID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statuses[name]
	st.LastFiredAt = at
	st.LastOutcome = outcome
	st.LastRunID = runID
	st.NextEligible = time.Time{}
	s.statuses[name] = st
}

func (s *Scheduler) recordDeferred(name string, at, next time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.statuses[name]
	st.LastFiredAt = at
	st.LastOutcome = "deferred: business hours"
	st.NextEligible = next
	s.statuses[name] = st
}

func (s *Scheduler) recordPrediction(sample PredictionSample) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, sample)
	if len(s.history) > predictionHistoryCap {
		s.history = s.history[len(s.history)-predictionHistoryCap:]
	}
}

// Status reports channel state plus a fresh recommendation.
func (s *Scheduler) Status(ctx context.Context) Status {
	s.mu.Lock()
	channels := make(map[string]ChannelStatus, len(s.statuses))
	for name, st := range s.statuses {
		channels[name] = st
	}
	predictions := make([]PredictionSample, len(s.history))
	copy(predictions, s.history)
	running := s.running
	s.mu.Unlock()

	status := Status{
		Running:     running,
		Channels:    channels,
		Predictions: predictions,
	}

	if rec, err := s.analyzer.AnalyzeAndRecommend(ctx); err == nil {
		status.Recommendation = rec
	}
	return status
}
