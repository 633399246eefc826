package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/ytsync/internal/shared"
)

// CredentialRefresher renews credentials after an Auth failure.
type CredentialRefresher interface {
	RefreshCredentials(ctx context.Context) error
}

// ConflictResolver prepares for another attempt after a Conflict failure.
type ConflictResolver interface {
	ResolveConflict(ctx context.Context, err error) error
}

// ConflictResolverFunc adapts a function to [ConflictResolver].
type ConflictResolverFunc func(ctx context.Context, err error) error

func (f ConflictResolverFunc) ResolveConflict(ctx context.Context, err error) error { return f(ctx, err) }

// Observer receives resilience events, typically for metrics.
type Observer interface {
	Retried(name string, kind Kind)
	Rejected(name string)
	StateChanged(name string, from, to State)
}

// Retrier runs an operation until it succeeds, fails with a non-recoverable kind, or runs out of attempts.
type Retrier struct {
	cfg       Config
	jitter    func() float64
	sleep     func(ctx context.Context, d time.Duration) error
	refresher CredentialRefresher
	resolver  ConflictResolver
	logger    *log.Logger
	observer  Observer
}

// RetryOption configures a Retrier.
type RetryOption func(*Retrier)

// WithJitter sets the source of jitter fractions (for testing). Values are clamped to [0, MaxJitter).
func WithJitter(fn func() float64) RetryOption {
	return func(r *Retrier) { r.jitter = fn }
}

// WithSleep replaces the context-aware sleep (for testing).
func WithSleep(fn func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(r *Retrier) { r.sleep = fn }
}

// WithRefresher sets the hook run before retrying an Auth failure.
func WithRefresher(c CredentialRefresher) RetryOption {
	return func(r *Retrier) { r.refresher = c }
}

// WithResolver sets the hook run before retrying a Conflict failure.
func WithResolver(c ConflictResolver) RetryOption {
	return func(r *Retrier) { r.resolver = c }
}

// WithRetryLogger sets the logger used for retry warnings.
func WithRetryLogger(l *log.Logger) RetryOption {
	return func(r *Retrier) { r.logger = l }
}

// WithRetryObserver reports retries to o.
func WithRetryObserver(o Observer) RetryOption {
	return func(r *Retrier) { r.observer = o }
}

// NewRetrier validates cfg and creates a Retrier.
func NewRetrier(cfg Config, opts ...RetryOption) (*Retrier, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	r := &Retrier{
		cfg:    cfg,
		jitter: defaultJitter,
		sleep:  sleepContext,
		logger: shared.DiscardLogger(),
	}
	for _, o := range opts {
		o(r)
	}
	return r, nil
}

// Config returns the retry configuration.
func (r *Retrier) Config() Config { return r.cfg }

// Do calls fn with attempt numbers starting at 1 and returns the number of attempts made.
//
// Errors of kind Quota or Validation return immediately, as does a circuit open rejection; a rejection that
// follows a failed attempt is joined with that attempt's error. The last error is
// returned once attempts are exhausted. Waits honour ctx; a cancelled wait returns the context error joined with
// the last operation error.
func (r *Retrier) Do(ctx context.Context, name string, fn func(ctx context.Context, attempt int) error) (int, error) {
	var lastErr error

	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			if lastErr != nil {
				return attempt - 1, fmt.Errorf("%s: retry aborted: %w: %w", name, err, lastErr)
			}
			return attempt - 1, err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return attempt, nil
		}

		if errors.Is(err, shared.ErrCircuitOpen) {
			if lastErr != nil {
				return attempt, errors.Join(err, lastErr)
			}
			return attempt, err
		}
		lastErr = err

		kind := Classify(err)
		strategy := StrategyFor(kind)
		if strategy == Fail {
			return attempt, err
		}
		if attempt == r.cfg.MaxAttempts {
			break
		}

		delay := r.cfg.Delay(attempt, r.nextJitter())
		switch strategy {
		case WaitHint:
			if hint, ok := RetryAfter(err); ok {
				delay = r.cfg.Hinted(hint)
			}
		case RefreshThenRetry:
			if r.refresher == nil {
				return attempt, err
			}
			if rerr := r.refresher.RefreshCredentials(ctx); rerr != nil {
				return attempt, errors.Join(err, fmt.Errorf("%w: %w", shared.ErrRefreshFailed, rerr))
			}
		case ResolveThenRetry:
			if r.resolver != nil {
				if rerr := r.resolver.ResolveConflict(ctx, err); rerr != nil {
					return attempt, errors.Join(err, fmt.Errorf("conflict resolution failed: %w", rerr))
				}
			}
		}

		if r.observer != nil {
			r.observer.Retried(name, kind)
		}
		r.logger.Warn("retrying", "op", name, "attempt", attempt, "kind", kind, "strategy", strategy, "delay", delay, "err", err)

		if serr := r.sleep(ctx, delay); serr != nil {
			return attempt, fmt.Errorf("%s: retry aborted: %w: %w", name, serr, err)
		}
	}

	return r.cfg.MaxAttempts, fmt.Errorf("%s: giving up after %d attempts: %w", name, r.cfg.MaxAttempts, lastErr)
}

func (r *Retrier) nextJitter() float64 {
	j := r.jitter()
	if j < 0 {
		return 0
	}
	if j >= MaxJitter {
		return MaxJitter - 1e-9
	}
	return j
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
