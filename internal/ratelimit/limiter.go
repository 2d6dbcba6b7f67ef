// Package ratelimit serializes outbound calls to the external inventory API.
// A single consumer loop drains a FIFO queue under a rolling one-second
// budget and a minimum inter-request delay; requests rejected upstream with
// a rate-limit signal are requeued at the front with exponential backoff.
package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/invhub/stocksync/internal/syncerr"
)

var (
	// ErrQueueCleared rejects requests that were pending when the queue
	// was cleared.
	ErrQueueCleared = errors.New("rate limiter: queue cleared")

	// ErrStopped rejects submissions after shutdown.
	ErrStopped = errors.New("rate limiter: stopped")
)

// RequestFunc is one outbound call. The limiter owns when it runs.
type RequestFunc func(ctx context.Context) (interface{}, error)

// Config holds throttling settings.
type Config struct {
	RequestsPerSecond int           // rolling 1-second budget (default 2)
	MinDelay          time.Duration // between consecutive requests (default 500ms)
	MaxRetries        int           // per request, on rate-limit rejection (default 3)
	RetryDelay        time.Duration // backoff base (default 1s, doubling)
	MaxRetryDelay     time.Duration // backoff cap (default 10s)
}

func (c Config) withDefaults() Config {
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 2
	}
	if c.MinDelay <= 0 {
		c.MinDelay = 500 * time.Millisecond
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Second
	}
	if c.MaxRetryDelay <= 0 {
		c.MaxRetryDelay = 10 * time.Second
	}
	return c
}

type result struct {
	value interface{}
	err   error
}

type call struct {
	ctx       context.Context
	fn        RequestFunc
	done      chan result
	retries   int
	bo        *backoff.ExponentialBackOff
	notBefore time.Time
}

// Limiter is the rate-limited request queue. Construct with New; one
// consumer loop is started and Submit is safe for concurrent use.
type Limiter struct {
	cfg Config

	mu    sync.Mutex
	queue []*call

	wake     chan struct{}
	stop     chan struct{}
	stopOnce sync.Once

	// consumer-loop state, untouched elsewhere
	windowStart time.Time
	windowCount int
	lastRequest time.Time
}

// New creates a limiter and starts its consumer loop.
func New(cfg Config) *Limiter {
	l := &Limiter{
		cfg:  cfg.withDefaults(),
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
	go l.loop()
	return l
}

// Submit enqueues fn and blocks until it resolves, the context is cancelled,
// or the queue is cleared. Retries on upstream rate-limit signals are
// transparent up to the configured cap.
func (l *Limiter) Submit(ctx context.Context, fn RequestFunc) (interface{}, error) {
	select {
	case <-l.stop:
		return nil, ErrStopped
	default:
	}

	c := &call{
		ctx:  ctx,
		fn:   fn,
		done: make(chan result, 1),
		bo:   l.newBackOff(),
	}

	l.mu.Lock()
	l.queue = append(l.queue, c)
	l.mu.Unlock()
	l.signal()

	select {
	case res := <-c.done:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Pending returns the number of queued requests.
func (l *Limiter) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

// Clear rejects all pending requests with ErrQueueCleared.
func (l *Limiter) Clear() {
	l.mu.Lock()
	pending := l.queue
	l.queue = nil
	l.mu.Unlock()

	for _, c := range pending {
		c.done <- result{err: ErrQueueCleared}
	}
}

// Stop shuts down the consumer loop and rejects pending requests.
func (l *Limiter) Stop() {
	l.stopOnce.Do(func() {
		close(l.stop)
		l.Clear()
	})
}

func (l *Limiter) newBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = l.cfg.RetryDelay
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = l.cfg.MaxRetryDelay
	bo.Reset()
	return bo
}

func (l *Limiter) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *Limiter) loop() {
	for {
		c := l.next()
		if c == nil {
			return
		}

		if !l.waitTurn(c) {
			c.done <- result{err: ErrStopped}
			return
		}

		if err := c.ctx.Err(); err != nil {
			c.done <- result{err: err}
			continue
		}

		value, err := c.fn(c.ctx)
		if err != nil && syncerr.IsRateLimit(err) {
			c.retries++
			if c.retries > l.cfg.MaxRetries {
				c.done <- result{err: err}
				continue
			}
			// Front of the queue so the retry does not leapfrog its own
			// backoff window onto the accumulated backlog.
			c.notBefore = time.Now().Add(c.bo.NextBackOff())
			l.requeueFront(c)
			continue
		}

		c.done <- result{value: value, err: err}
	}
}

// next pops the front of the queue, blocking until work or shutdown.
func (l *Limiter) next() *call {
	for {
		l.mu.Lock()
		if len(l.queue) > 0 {
			c := l.queue[0]
			l.queue = l.queue[1:]
			l.mu.Unlock()
			return c
		}
		l.mu.Unlock()

		select {
		case <-l.wake:
		case <-l.stop:
			return nil
		}
	}
}

func (l *Limiter) requeueFront(c *call) {
	l.mu.Lock()
	l.queue = append([]*call{c}, l.queue...)
	l.mu.Unlock()
	l.signal()
}

// waitTurn sleeps until the window budget, the minimum inter-request delay
// and the call's own backoff deadline all allow execution. Returns false on
// shutdown.
func (l *Limiter) waitTurn(c *call) bool {
	for {
		now := time.Now()

		if now.Sub(l.windowStart) >= time.Second {
			l.windowStart = now
			l.windowCount = 0
		}

		var wait time.Duration
		if l.windowCount >= l.cfg.RequestsPerSecond {
			wait = l.windowStart.Add(time.Second).Sub(now)
		}
		if !l.lastRequest.IsZero() {
			if d := l.lastRequest.Add(l.cfg.MinDelay).Sub(now); d > wait {
				wait = d
			}
		}
		if d := c.notBefore.Sub(now); d > wait {
			wait = d
		}

		if wait <= 0 {
			l.windowCount++
			l.lastRequest = now
			return true
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-l.stop:
			timer.Stop()
			return false
		}
	}
}
