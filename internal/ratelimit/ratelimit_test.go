package ratelimit_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"parcelfetch/internal/config"
	"parcelfetch/internal/ratelimit"
)

func TestBurstThenTimeout(t *testing.T) {
	l := ratelimit.New(map[string]ratelimit.Bucket{
		"slow.example": {RequestsPerMinute: 1, Burst: 2},
	}, ratelimit.Bucket{}, 20*time.Millisecond)
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if err := l.Acquire(ctx, "slow.example"); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if err := l.Acquire(ctx, "slow.example"); !errors.Is(err, ratelimit.ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestDomainsAreIsolated(t *testing.T) {
	l := ratelimit.New(map[string]ratelimit.Bucket{
		"a.example": {RequestsPerMinute: 1, Burst: 1},
		"b.example": {RequestsPerMinute: 1, Burst: 1},
	}, ratelimit.Bucket{}, 10*time.Millisecond)
	ctx := context.Background()
	if err := l.Acquire(ctx, "a.example"); err != nil {
		t.Fatal(err)
	}
	if err := l.Acquire(ctx, "b.example"); err != nil {
		t.Fatalf("b should have its own bucket: %v", err)
	}
	if err := l.Acquire(ctx, "a.example"); !errors.Is(err, ratelimit.ErrTimeout) {
		t.Fatalf("a should be empty, got %v", err)
	}
}

func TestUnknownDomainUsesFallback(t *testing.T) {
	l := ratelimit.New(nil, ratelimit.Bucket{}, time.Millisecond)
	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- l.Acquire(context.Background(), "open.example")
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("unlimited fallback should never block: %v", err)
		}
	}
}

func TestCancelledContext(t *testing.T) {
	l := ratelimit.New(map[string]ratelimit.Bucket{"x": {RequestsPerMinute: 1, Burst: 1}}, ratelimit.Bucket{}, time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	if err := l.Acquire(ctx, "x"); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := l.Acquire(ctx, "x"); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestFromConfigUsesCountyLimits(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.AcquireTimeout = config.Duration(10 * time.Millisecond)
	l := ratelimit.FromConfig(cfg)
	ctx := context.Background()
	d := cfg.DomainFor("berkeley")
	for i := 0; i < cfg.Counties["berkeley"].RateLimit.Burst; i++ {
		if err := l.Acquire(ctx, d); err != nil {
			t.Fatalf("acquire %d: %v", i, err)
		}
	}
	if err := l.Acquire(ctx, d); !errors.Is(err, ratelimit.ErrTimeout) {
		t.Fatalf("expected timeout after burst, got %v", err)
	}
}
