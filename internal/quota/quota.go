// Package quota enforces the fixed daily call budget of the remote API.
//
// Every remote call reserves its cost through a [Ledger] before it is made. The reservation checks the remaining
// budget, increments usage and appends a log entry in one transaction, so concurrent callers (in this process or
// another sharing the database) can never jointly overspend the day.
package quota

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/shared"
)

// DayLayout is the format of a usage day key. Days roll over at UTC midnight.
const DayLayout = "2006-01-02"

// OperationType names a remote API method with its own unit cost.
type OperationType string

const (
	OpPlaylists     OperationType = "playlists.list"
	OpPlaylistItems OperationType = "playlistItems.list"
	OpVideos        OperationType = "videos.list"
)

// DefaultCosts are the YouTube Data API v3 unit costs of the read methods used by a sync.
var DefaultCosts = map[OperationType]int{
	OpPlaylists:     1,
	OpPlaylistItems: 1,
	OpVideos:        1,
}

// QuotaExceededError reports a rejected reservation. It is not recoverable before the day rolls over.
type QuotaExceededError struct {
	Day       string
	Operation OperationType
	Used      int
	Limit     int
	Requested int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("%v: %s needs %d units, %d of %d used on %s",
		shared.ErrQuotaExceeded, e.Operation, e.Requested, e.Used, e.Limit, e.Day)
}

func (e *QuotaExceededError) Unwrap() error { return shared.ErrQuotaExceeded }

// Warning is sent once per day when the remaining budget drops below the warn threshold.
type Warning struct {
	Day       string
	Used      int
	Limit     int
	Remaining int
}

// Store persists usage. [repositories.QuotaRepository] is the production implementation.
type Store interface {
	Reserve(ctx context.Context, day, operation string, cost, limit int, now time.Time) (models.QuotaUsage, bool, error)
	Usage(ctx context.Context, day string, limit int) (models.QuotaUsage, error)
	History(ctx context.Context, days int) ([]models.QuotaUsage, error)
	Operations(ctx context.Context, day string) ([]models.OperationTotal, error)
	Log(ctx context.Context, day string) ([]models.QuotaOperation, error)
}

// Observer receives reservation outcomes, typically for metrics.
type Observer interface {
	QuotaReserved(op string, cost int, usage models.QuotaUsage)
	QuotaRejected(op string)
}

// Config is the budget and cost table.
type Config struct {
	DailyLimit    int
	WarnThreshold float64 // fraction of the limit; 0 disables warnings
	PageSize      int
	Costs         map[OperationType]int
}

// ConfigFrom converts the TOML quota section.
func ConfigFrom(c shared.QuotaConfig) Config {
	costs := make(map[OperationType]int, len(DefaultCosts)+len(c.Costs))
	for op, cost := range DefaultCosts {
		costs[op] = cost
	}
	for op, cost := range c.Costs {
		costs[OperationType(op)] = cost
	}
	return Config{
		DailyLimit:    c.DailyLimit,
		WarnThreshold: c.WarnThreshold,
		PageSize:      c.PageSize,
		Costs:         costs,
	}
}

// Ledger gates remote calls on the daily budget.
type Ledger struct {
	store    Store
	cfg      Config
	now      func() time.Time
	logger   *log.Logger
	observer Observer

	mu        sync.Mutex
	warnedDay string
	listeners []func(Warning)
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock sets a custom clock function (for testing).
func WithClock(fn func() time.Time) Option {
	return func(l *Ledger) { l.now = fn }
}

// WithLogger sets the logger used for warnings and rejections.
func WithLogger(logger *log.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithObserver reports reservation outcomes to o.
func WithObserver(o Observer) Option {
	return func(l *Ledger) { l.observer = o }
}

// NewLedger creates a ledger over store.
func NewLedger(store Store, cfg Config, opts ...Option) (*Ledger, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: quota store is required", shared.ErrInvalidInput)
	}
	if cfg.DailyLimit <= 0 {
		return nil, fmt.Errorf("%w: daily limit must be positive", shared.ErrInvalidConfig)
	}
	if cfg.WarnThreshold < 0 || cfg.WarnThreshold >= 1 {
		return nil, fmt.Errorf("%w: warn threshold must be in [0, 1)", shared.ErrInvalidConfig)
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	if cfg.Costs == nil {
		cfg.Costs = DefaultCosts
	}
	for op, cost := range cfg.Costs {
		if cost < 0 {
			return nil, fmt.Errorf("%w: negative cost for %s", shared.ErrInvalidConfig, op)
		}
	}

	l := &Ledger{
		store:  store,
		cfg:    cfg,
		now:    time.Now,
		logger: shared.DiscardLogger(),
	}
	for _, o := range opts {
		o(l)
	}
	return l, nil
}

// OnWarning registers fn to run when the budget runs low. fn runs on its own goroutine and never delays a
// reservation.
func (l *Ledger) OnWarning(fn func(Warning)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.listeners = append(l.listeners, fn)
}

// Today returns the current day key.
func (l *Ledger) Today() string {
	return l.now().UTC().Format(DayLayout)
}

// Limit returns the configured daily limit.
func (l *Ledger) Limit() int { return l.cfg.DailyLimit }

// UnitCost returns the cost of a single call of op. Operations missing from the table cost 1.
func (l *Ledger) UnitCost(op OperationType) int {
	if cost, ok := l.cfg.Costs[op]; ok {
		return cost
	}
	return 1
}

// Cost returns the cost of reading itemCount items with op: one call per page of PageSize items.
// A read of zero items still costs one call.
func (l *Ledger) Cost(op OperationType, itemCount int) int {
	pages := 1
	if itemCount > 0 {
		pages = (itemCount + l.cfg.PageSize - 1) / l.cfg.PageSize
	}
	return pages * l.UnitCost(op)
}

// Estimate is Cost for planning: how much a full read of itemCount items would consume.
func (l *Ledger) Estimate(op OperationType, itemCount int) int {
	return l.Cost(op, itemCount)
}

// Reserve atomically reserves cost units for op against today's budget.
// It returns a *QuotaExceededError when the reservation does not fit; usage is unchanged in that case.
func (l *Ledger) Reserve(ctx context.Context, op OperationType, cost int) error {
	if cost < 0 {
		return fmt.Errorf("%w: negative quota cost %d", shared.ErrInvalidInput, cost)
	}

	now := l.now().UTC()
	day := now.Format(DayLayout)

	usage, ok, err := l.store.Reserve(ctx, day, string(op), cost, l.cfg.DailyLimit, now)
	if err != nil {
		return fmt.Errorf("quota reservation for %s: %w", op, err)
	}

	if !ok {
		if l.observer != nil {
			l.observer.QuotaRejected(string(op))
		}
		l.logger.Warn("quota reservation rejected", "op", op, "cost", cost, "used", usage.Used, "limit", usage.Limit)
		return &QuotaExceededError{Day: day, Operation: op, Used: usage.Used, Limit: usage.Limit, Requested: cost}
	}

	if l.observer != nil {
		l.observer.QuotaReserved(string(op), cost, usage)
	}
	l.logger.Debug("quota reserved", "op", op, "cost", cost, "used", usage.Used, "limit", usage.Limit)
	l.maybeWarn(usage)
	return nil
}

// ReserveFor reserves the paginated cost of reading itemCount items with op.
func (l *Ledger) ReserveFor(ctx context.Context, op OperationType, itemCount int) error {
	return l.Reserve(ctx, op, l.Cost(op, itemCount))
}

// Usage returns today's usage.
func (l *Ledger) Usage(ctx context.Context) (models.QuotaUsage, error) {
	return l.store.Usage(ctx, l.Today(), l.cfg.DailyLimit)
}

// History returns up to days usage rows, newest first.
func (l *Ledger) History(ctx context.Context, days int) ([]models.QuotaUsage, error) {
	return l.store.History(ctx, days)
}

// Operations returns per-operation totals for day. An empty day means today.
func (l *Ledger) Operations(ctx context.Context, day string) ([]models.OperationTotal, error) {
	if day == "" {
		day = l.Today()
	} else if _, err := time.Parse(DayLayout, day); err != nil {
		return nil, fmt.Errorf("%w: day must be YYYY-MM-DD", shared.ErrInvalidArgument)
	}
	return l.store.Operations(ctx, day)
}

// Log returns every reservation made on day in the order they were taken. An empty day means today.
func (l *Ledger) Log(ctx context.Context, day string) ([]models.QuotaOperation, error) {
	if day == "" {
		day = l.Today()
	} else if _, err := time.Parse(DayLayout, day); err != nil {
		return nil, fmt.Errorf("%w: day must be YYYY-MM-DD", shared.ErrInvalidArgument)
	}
	return l.store.Log(ctx, day)
}

func (l *Ledger) maybeWarn(usage models.QuotaUsage) {
	if l.cfg.WarnThreshold <= 0 {
		return
	}
	if float64(usage.Remaining()) >= l.cfg.WarnThreshold*float64(usage.Limit) {
		return
	}

	l.mu.Lock()
	if l.warnedDay == usage.Day {
		l.mu.Unlock()
		return
	}
	l.warnedDay = usage.Day
	listeners := append([]func(Warning){}, l.listeners...)
	l.mu.Unlock()

	w := Warning{Day: usage.Day, Used: usage.Used, Limit: usage.Limit, Remaining: usage.Remaining()}
	l.logger.Warn("quota running low", "day", w.Day, "remaining", w.Remaining, "limit", w.Limit)
	for _, fn := range listeners {
		go fn(w)
	}
}

// IsExceeded reports whether err is a quota rejection.
func IsExceeded(err error) bool {
	return errors.Is(err, shared.ErrQuotaExceeded)
}
