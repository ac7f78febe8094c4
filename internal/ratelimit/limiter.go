// Package ratelimit throttles requests to the analysis backend with a token bucket.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/trendreview/trendreview/internal/logging"
)

// warnAfter is how long a caller may wait before the wait is logged.
const warnAfter = 2 * time.Second

// Limiter is a token bucket: bursts up to burst requests, refilled at rate
// tokens per second. A nil *Limiter never blocks.
type Limiter struct {
	mu         sync.Mutex
	tokens     float64
	burst      float64
	rate       float64
	lastRefill time.Time
	lastWarn   time.Time
	logger     *logging.Logger
	now        func() time.Time
}

// New creates a limiter with a full bucket. logger may be nil.
func New(rate, burst float64, logger *logging.Logger) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		tokens:     burst,
		burst:      burst,
		rate:       rate,
		lastRefill: time.Now(),
		logger:     logger,
		now:        time.Now,
	}
}

// Wait blocks until a token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	if l == nil {
		return nil
	}
	for {
		wait, ok := l.reserve()
		if ok {
			return nil
		}
		l.warn(wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// reserve takes a token, or reports how long until one is available.
func (l *Limiter) reserve() (time.Duration, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.tokens += now.Sub(l.lastRefill).Seconds() * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}
	l.lastRefill = now

	if l.tokens >= 1 {
		l.tokens--
		return 0, true
	}
	if l.rate <= 0 {
		return time.Second, false
	}
	return time.Duration((1 - l.tokens) / l.rate * float64(time.Second)), false
}

func (l *Limiter) warn(wait time.Duration) {
	if l.logger == nil || wait < warnAfter {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.now().Sub(l.lastWarn) < 10*time.Second {
		return
	}
	l.lastWarn = l.now()
	l.logger.Warn().Dur("wait", wait).Msg("Rate limited: waiting for backend capacity")
}

// Tokens returns the tokens currently available.
func (l *Limiter) Tokens() float64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	t := l.tokens + l.now().Sub(l.lastRefill).Seconds()*l.rate
	if t > l.burst {
		t = l.burst
	}
	return t
}
