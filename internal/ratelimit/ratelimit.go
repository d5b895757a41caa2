// Package ratelimit holds per-domain token buckets shared by every worker of
// a run.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"parcelfetch/internal/config"
)

// ErrTimeout is returned when no token became available within the
// acquisition timeout.
var ErrTimeout = errors.New("rate limit: token acquisition timed out")

// Bucket configures one domain.
type Bucket struct {
	RequestsPerMinute int
	Burst             int
}

// Limiter maps domains to token buckets. Buckets are created lazily from
// the configured limits; unknown domains get the fallback bucket.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
	limits   map[string]Bucket
	fallback Bucket
	timeout  time.Duration
}

// New builds a limiter. A zero RequestsPerMinute means unlimited.
func New(limits map[string]Bucket, fallback Bucket, timeout time.Duration) *Limiter {
	copied := make(map[string]Bucket, len(limits))
	for k, v := range limits {
		copied[k] = v
	}
	return &Limiter{
		buckets:  map[string]*rate.Limiter{},
		limits:   copied,
		fallback: fallback,
		timeout:  timeout,
	}
}

// FromConfig builds one bucket per county domain. Counties sharing a domain
// share a bucket; the first configured limit wins.
func FromConfig(cfg *config.Config) *Limiter {
	limits := map[string]Bucket{}
	for _, id := range cfg.CountyIDs() {
		d := cfg.DomainFor(id)
		if _, ok := limits[d]; ok {
			continue
		}
		rl := cfg.Counties[string(id)].RateLimit
		limits[d] = Bucket{RequestsPerMinute: rl.RequestsPerMinute, Burst: rl.Burst}
	}
	return New(limits, Bucket{}, cfg.Engine.AcquireTimeout.Std())
}

func (l *Limiter) bucket(domain string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, ok := l.buckets[domain]; ok {
		return b
	}
	cfg, ok := l.limits[domain]
	if !ok {
		cfg = l.fallback
	}
	var b *rate.Limiter
	if cfg.RequestsPerMinute <= 0 {
		b = rate.NewLimiter(rate.Inf, 1)
	} else {
		b = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), max(cfg.Burst, 1))
	}
	l.buckets[domain] = b
	return b
}

// Acquire takes one token for domain, waiting at most the configured timeout.
// It returns ErrTimeout when the wait would exceed that timeout and the
// context error when ctx ends first.
func (l *Limiter) Acquire(ctx context.Context, domain string) error {
	b := l.bucket(domain)
	if b.Allow() {
		return nil
	}
	waitCtx := ctx
	if l.timeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}
	if err := b.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s", ErrTimeout, domain)
	}
	return nil
}
