// Package retry wraps fallible fetch operations with bounded exponential
// backoff and classifies the outcome into the domain ErrorKind taxonomy.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"parcelfetch/internal/config"
	"parcelfetch/internal/domain"
)

// Policy describes how often and how patiently an operation is retried.
// Only transient failures are retried.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration
	Jitter      float64
	// AttemptTimeout bounds a single attempt. Zero disables the bound.
	AttemptTimeout time.Duration
	// OnRetry, when set, is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// FromConfig builds a policy from the retry section and the engine step
// timeout.
func FromConfig(rc config.RetryConfig, attemptTimeout time.Duration) Policy {
	return Policy{
		MaxAttempts:    rc.MaxAttempts,
		BaseDelay:      rc.BaseDelay.Std(),
		Multiplier:     rc.Multiplier,
		MaxDelay:       rc.MaxDelay.Std(),
		Jitter:         rc.Jitter,
		AttemptTimeout: attemptTimeout,
	}
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	b := &backoff.ExponentialBackOff{
		InitialInterval:     p.BaseDelay,
		RandomizationFactor: p.Jitter,
		Multiplier:          mult,
		MaxInterval:         p.MaxDelay,
		MaxElapsedTime:      0,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	if b.MaxInterval <= 0 {
		b.MaxInterval = b.InitialInterval
	}
	b.Reset()
	return b
}

// Run calls op until it succeeds, fails with a non-transient error, or the
// attempt budget is spent. It returns the number of attempts made and the
// last error, which is always a *domain.FetchError or *domain.ValidationError.
//
// Attempts run on a context detached from ctx's cancellation so that a
// cancelled run lets the current attempt finish; no further attempt is
// started once ctx is done, and the failure is reported as cancelled.
func (p Policy) Run(ctx context.Context, op func(context.Context) error) (int, error) {
	maxAttempts := p.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	b := p.backOff()
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			return attempts, cancelled(err)
		}
		attempts++
		err := p.attempt(ctx, op)
		if err == nil {
			return attempts, nil
		}
		if ctx.Err() != nil {
			return attempts, cancelled(err)
		}
		if domain.KindOf(err) != domain.KindTransient || attempts >= maxAttempts {
			return attempts, err
		}
		wait := b.NextBackOff()
		// Jitter is applied after backoff's MaxInterval clamp.
		if p.MaxDelay > 0 && wait > p.MaxDelay {
			wait = p.MaxDelay
		}
		if p.OnRetry != nil {
			p.OnRetry(attempts, err, wait)
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempts, cancelled(err)
		case <-timer.C:
		}
	}
}

func (p Policy) attempt(ctx context.Context, op func(context.Context) error) error {
	actx := context.WithoutCancel(ctx)
	if p.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(actx, p.AttemptTimeout)
		defer cancel()
	}
	err := op(actx)
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || actx.Err() != nil {
		return domain.Transient("attempt timed out", err)
	}
	var fe *domain.FetchError
	if errors.As(err, &fe) || domain.IsValidation(err) {
		return err
	}
	return domain.Transient("unclassified failure", err)
}

func cancelled(err error) error {
	return &domain.FetchError{Kind: domain.KindCancelled, Message: "run cancelled", Err: err}
}
