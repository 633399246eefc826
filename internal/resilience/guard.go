package resilience

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/ytsync/internal/quota"
	"github.com/desertthunder/ytsync/internal/shared"
)

// QuotaReserver prices and reserves budget before a remote call. [quota.Ledger] implements it.
type QuotaReserver interface {
	Cost(op quota.OperationType, itemCount int) int
	ReserveFor(ctx context.Context, op quota.OperationType, itemCount int) error
}

// Call describes one guarded remote operation.
type Call struct {
	Name  string              // label for logs and metrics
	Op    quota.OperationType // empty skips the quota reservation
	Items int                 // items read by the call; 0 is a single page
}

// Outcome reports what a guarded call consumed.
type Outcome struct {
	Attempts  int
	QuotaUsed int
}

// Guard composes a circuit breaker, a retry loop and the quota ledger around remote calls.
//
// Every attempt asks the breaker first; a rejection ends the call without reserving quota or invoking fn.
// A permitted attempt then reserves its cost, runs fn and reports the outcome to the breaker.
type Guard struct {
	breaker  Breaker
	retrier  *Retrier
	quota    QuotaReserver
	logger   *log.Logger
	observer Observer
}

// GuardOption configures a Guard.
type GuardOption func(*Guard)

// WithQuota gates every attempt on q.
func WithQuota(q QuotaReserver) GuardOption {
	return func(g *Guard) { g.quota = q }
}

// WithGuardLogger sets the logger.
func WithGuardLogger(l *log.Logger) GuardOption {
	return func(g *Guard) { g.logger = l }
}

// WithGuardObserver reports breaker rejections to o.
func WithGuardObserver(o Observer) GuardOption {
	return func(g *Guard) { g.observer = o }
}

// NewGuard creates a guard over breaker and retrier.
func NewGuard(breaker Breaker, retrier *Retrier, opts ...GuardOption) *Guard {
	g := &Guard{breaker: breaker, retrier: retrier, logger: shared.DiscardLogger()}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Breaker returns the guarded breaker.
func (g *Guard) Breaker() Breaker { return g.breaker }

// Do runs fn under the breaker, the retry loop and the quota ledger.
func (g *Guard) Do(ctx context.Context, call Call, fn func(ctx context.Context) error) (Outcome, error) {
	var out Outcome

	attempts, err := g.retrier.Do(ctx, call.Name, func(ctx context.Context, attempt int) error {
		if err := g.breaker.Allow(); err != nil {
			if g.observer != nil {
				g.observer.Rejected(call.Name)
			}
			g.logger.Warn("circuit open, call rejected", "op", call.Name, "attempt", attempt)
			return err
		}

		if g.quota != nil && call.Op != "" {
			if err := g.quota.ReserveFor(ctx, call.Op, call.Items); err != nil {
				g.breaker.RecordNeutral()
				return err
			}
			out.QuotaUsed += g.quota.Cost(call.Op, call.Items)
		}

		err := fn(ctx)
		g.report(err)
		return err
	})

	out.Attempts = attempts
	return out, err
}

func (g *Guard) report(err error) {
	if err == nil {
		g.breaker.RecordSuccess()
		return
	}
	if errors.Is(err, context.Canceled) {
		g.breaker.RecordNeutral()
		return
	}
	switch Classify(err) {
	case KindQuota, KindValidation:
		g.breaker.RecordNeutral()
	default:
		g.breaker.RecordFailure()
	}
}
