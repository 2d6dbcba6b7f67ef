package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/invhub/stocksync/internal/syncerr"
)

func fastConfig() Config {
	return Config{
		RequestsPerSecond: 1000,
		MinDelay:          time.Millisecond,
		MaxRetries:        2,
		RetryDelay:        time.Millisecond,
		MaxRetryDelay:     4 * time.Millisecond,
	}
}

func TestLimiter_ExecutesSubmittedRequest(t *testing.T) {
	l := New(fastConfig())
	defer l.Stop()

	value, err := l.Submit(context.Background(), func(context.Context) (interface{}, error) {
		return 42, nil
	})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if value.(int) != 42 {
		t.Errorf("expected 42, got %v", value)
	}
}

func TestLimiter_PreservesSubmissionOrder(t *testing.T) {
	cfg := fastConfig()
	cfg.MinDelay = 50 * time.Millisecond
	l := New(cfg)
	defer l.Stop()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	for i := 0; i < 4; i++ {
		wg.Add(1)
		n := i
		go func() {
			defer wg.Done()
			l.Submit(context.Background(), func(context.Context) (interface{}, error) {
				mu.Lock()
				order = append(order, n)
				mu.Unlock()
				return nil, nil
			})
		}()
		// Stagger submissions well under the inter-request delay so queue
		// order is deterministic.
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()

	for i, n := range order {
		if n != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}

func TestLimiter_RetriesAfterRateLimitRejection(t *testing.T) {
	l := New(fastConfig())
	defer l.Stop()

	attempts := 0
	value, err := l.Submit(context.Background(), func(context.Context) (interface{}, error) {
		attempts++
		if attempts < 3 {
			return nil, &syncerr.RateLimitError{}
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("expected eventual success, got %v", err)
	}
	if value.(string) != "ok" {
		t.Errorf("unexpected value %v", value)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestLimiter_GivesUpAfterMaxRetries(t *testing.T) {
	l := New(fastConfig()) // MaxRetries 2

	defer l.Stop()

	attempts := 0
	_, err := l.Submit(context.Background(), func(context.Context) (interface{}, error) {
		attempts++
		return nil, &syncerr.RateLimitError{}
	})
	if err == nil {
		t.Fatal("expected error after retries exhausted")
	}
	if !syncerr.IsRateLimit(err) {
		t.Errorf("expected rate limit error, got %v", err)
	}
	// Initial attempt plus two retries
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestLimiter_ClearRejectsQueuedRequests(t *testing.T) {
	cfg := fastConfig()
	l := New(cfg)
	defer l.Stop()

	release := make(chan struct{})
	var wg sync.WaitGroup

	// Occupy the consumer with a slow request
	wg.Add(1)
	go func() {
		defer wg.Done()
		l.Submit(context.Background(), func(context.Context) (interface{}, error) {
			<-release
			return nil, nil
		})
	}()
	time.Sleep(20 * time.Millisecond)

	// These two sit in the queue behind it
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.Submit(context.Background(), func(context.Context) (interface{}, error) {
				return nil, nil
			})
			errs <- err
		}()
	}
	time.Sleep(20 * time.Millisecond)

	l.Clear()
	close(release)
	wg.Wait()

	close(errs)
	n := 0
	for err := range errs {
		if !errors.Is(err, ErrQueueCleared) {
			t.Errorf("expected ErrQueueCleared, got %v", err)
		}
		n++
	}
	if n != 2 {
		t.Errorf("expected 2 rejected requests, got %d", n)
	}
}

func TestLimiter_RollingWindowBudget(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}

	cfg := fastConfig()
	cfg.RequestsPerSecond = 2
	l := New(cfg)
	defer l.Stop()

	var times []time.Time
	for i := 0; i < 3; i++ {
		_, err := l.Submit(context.Background(), func(context.Context) (interface{}, error) {
			times = append(times, time.Now())
			return nil, nil
		})
		if err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
	}

	// Third request must wait for the one-second window to roll
	if gap := times[2].Sub(times[0]); gap < 900*time.Millisecond {
		t.Errorf("third request ran after %v, expected the window to hold it near 1s", gap)
	}
	if gap := times[1].Sub(times[0]); gap > 500*time.Millisecond {
		t.Errorf("second request should fit the window, waited %v", gap)
	}
}

func TestLimiter_RejectsSubmitAfterStop(t *testing.T) {
	l := New(fastConfig())
	l.Stop()

	_, err := l.Submit(context.Background(), func(context.Context) (interface{}, error) {
		return nil, nil
	})
	if !errors.Is(err, ErrStopped) {
		t.Errorf("expected ErrStopped, got %v", err)
	}
}

func TestLimiter_CancelledContextReturns(t *testing.T) {
	cfg := fastConfig()
	l := New(cfg)
	defer l.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.Submit(ctx, func(context.Context) (interface{}, error) {
		return nil, nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}
