package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/invhub/stocksync/internal/config"
	"github.com/invhub/stocksync/internal/engine"
	"github.com/invhub/stocksync/internal/models"
	"github.com/invhub/stocksync/internal/syncerr"
)

type fakeRunner struct {
	mu    sync.Mutex
	calls []engine.RunOptions
	err   error
}

func (f *fakeRunner) Run(_ context.Context, opts engine.RunOptions) (*engine.RunResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, opts)
	if f.err != nil {
		return nil, f.err
	}
	return &engine.RunResult{
		RunID:    "run-1",
		Strategy: opts.Strategy,
		Status:   models.SyncStatusSuccess,
		Duration: 2 * time.Second,
	}, nil
}

func (f *fakeRunner) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// quietAnalyzer pins the analyzer clock to at and seeds a fresh successful
// sync, so recommendations come out low urgency.
func quietAnalyzer(at time.Time) *Analyzer {
	completed := at.Add(-time.Hour).Add(time.Minute)
	a := newTestAnalyzer(
		&fakeLogs{lastSuccess: &models.SyncLog{
			ID:             "run-0",
			Strategy:       models.StrategyFull,
			Status:         models.SyncStatusSuccess,
			StartedAt:      at.Add(-time.Hour),
			CompletedAt:    &completed,
			ItemsProcessed: 100,
			ItemsUpdated:   2,
		}},
		&fakeSignal{},
	)
	a.now = func() time.Time { return at }
	return a
}

func TestScheduler_FireRunsChannelStrategy(t *testing.T) {
	evening := time.Date(2026, 8, 28, 20, 0, 0, 0, time.UTC)
	runner := &fakeRunner{}
	s := New(quietAnalyzer(evening), runner, config.DefaultScheduleConfig())

	s.fire("inventory", config.ChannelConfig{Enabled: true, BusinessHoursOK: true, MinUrgency: UrgencyLow})

	if runner.callCount() != 1 {
		t.Fatalf("expected 1 run, got %d", runner.callCount())
	}
	if runner.calls[0].Strategy != "inventory" {
		t.Errorf("channel should run its own strategy, got %s", runner.calls[0].Strategy)
	}

	status := s.Status(context.Background())
	if st := status.Channels["inventory"]; st.LastOutcome != models.SyncStatusSuccess {
		t.Errorf("expected recorded success, got %q", st.LastOutcome)
	}
	if len(status.Predictions) != 1 {
		t.Errorf("expected 1 prediction sample, got %d", len(status.Predictions))
	}
}

func TestScheduler_FireSkipsBelowUrgencyGate(t *testing.T) {
	evening := time.Date(2026, 8, 28, 20, 0, 0, 0, time.UTC)
	runner := &fakeRunner{}
	s := New(quietAnalyzer(evening), runner, config.DefaultScheduleConfig())

	// A quiet system recommends low urgency; the critical channel gates at high
	s.fire("critical", config.ChannelConfig{Enabled: true, BusinessHoursOK: true, MinUrgency: UrgencyHigh})

	if runner.callCount() != 0 {
		t.Errorf("low urgency must not clear a high gate, got %d runs", runner.callCount())
	}
}

func TestScheduler_FireDefersHeavyChannelsInBusinessHours(t *testing.T) {
	morning := time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC)
	runner := &fakeRunner{}
	s := New(quietAnalyzer(morning), runner, config.DefaultScheduleConfig())

	s.fire("full", config.ChannelConfig{Enabled: true, BusinessHoursOK: false, MinUrgency: UrgencyLow})

	if runner.callCount() != 0 {
		t.Errorf("heavy channel must defer during business hours, got %d runs", runner.callCount())
	}
	st := s.Status(context.Background()).Channels["full"]
	if st.NextEligible.IsZero() {
		t.Error("deferred channel should report its next eligible time")
	}
}

func TestScheduler_FireTreatsBusyAsSkip(t *testing.T) {
	evening := time.Date(2026, 8, 28, 20, 0, 0, 0, time.UTC)
	runner := &fakeRunner{err: &syncerr.ConcurrencyError{}}
	s := New(quietAnalyzer(evening), runner, config.DefaultScheduleConfig())

	s.fire("inventory", config.ChannelConfig{Enabled: true, BusinessHoursOK: true, MinUrgency: UrgencyLow})

	st := s.Status(context.Background()).Channels["inventory"]
	if st.LastOutcome != "skipped: sync already running" {
		t.Errorf("expected busy skip, got %q", st.LastOutcome)
	}
}

func TestScheduler_StartStop(t *testing.T) {
	cfg := config.DefaultScheduleConfig()
	for name, ch := range cfg.Channels {
		ch.IntervalSeconds = 3600 // nothing fires during the test
		cfg.Channels[name] = ch
	}

	s := New(quietAnalyzer(time.Now()), &fakeRunner{}, cfg)
	s.Start()

	status := s.Status(context.Background())
	if !status.Running {
		t.Error("scheduler should report running after Start")
	}
	if len(status.Channels) != len(cfg.Channels) {
		t.Errorf("expected %d channels, got %d", len(cfg.Channels), len(status.Channels))
	}

	done := make(chan struct{})
	go func() {
		s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return")
	}

	if s.Status(context.Background()).Running {
		t.Error("scheduler should report stopped after Stop")
	}
}

func TestScheduler_ReloadValidates(t *testing.T) {
	s := New(quietAnalyzer(time.Now()), &fakeRunner{}, config.DefaultScheduleConfig())

	bad := config.DefaultScheduleConfig()
	bad.BusinessHours.StartHour = 99
	if err := s.Reload(bad); err == nil {
		t.Error("invalid config must be rejected")
	}
}
