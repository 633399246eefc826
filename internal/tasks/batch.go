package tasks

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/desertthunder/ytsync/internal/models"
)

// BatchOpts contains configuration for syncing several collections.
type BatchOpts struct {
	Concurrency int     // Collections synced at once (default: 3)
	RateLimit   float64 // Syncs started per second, 0 for no limit
}

// BatchResult summarises a batch of syncs.
type BatchResult struct {
	Results   []*SyncResult // In input order
	Succeeded int
	Failed    int
	QuotaUsed int
}

// SyncMany syncs the given collections concurrently.
//
// Each sync is independent: a failure is recorded in its result and never stops the others. Collections not
// started before ctx is cancelled get a failed result carrying the context error.
func (e *SyncEngine) SyncMany(ctx context.Context, progress chan<- ProgressUpdate, ids []string, opts BatchOpts) *BatchResult {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 3
	}
	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	limiter := rate.NewLimiter(limit, 1)

	ids = unique(ids)
	results := make([]*SyncResult, len(ids))

	var (
		mu        sync.Mutex
		completed int
	)
	done := func(i int, r *SyncResult) {
		mu.Lock()
		defer mu.Unlock()
		results[i] = r
		completed++
		e.sendProgress(progress, batchUpdate(completed, len(ids), r))
	}

	var g errgroup.Group
	g.SetLimit(opts.Concurrency)

	for i, id := range ids {
		if err := limiter.Wait(ctx); err != nil {
			done(i, e.reject(&SyncResult{CollectionID: id, Status: models.StatusFailed, StartedAt: e.now()}, err, nil))
			continue
		}
		g.Go(func() error {
			done(i, e.Sync(ctx, id, nil))
			return nil
		})
	}
	g.Wait()

	batch := &BatchResult{Results: results}
	for _, r := range results {
		batch.QuotaUsed += r.QuotaUsed
		if r.Succeeded() {
			batch.Succeeded++
		} else {
			batch.Failed++
		}
	}

	e.logger.Info("batch sync finished", "collections", len(ids), "succeeded", batch.Succeeded, "failed", batch.Failed, "quota_used", batch.QuotaUsed)
	return batch
}

// SyncAll syncs every registered collection.
func (e *SyncEngine) SyncAll(ctx context.Context, progress chan<- ProgressUpdate, opts BatchOpts) (*BatchResult, error) {
	collections, err := e.collections.List(ctx, nil)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(collections))
	for i, c := range collections {
		ids[i] = c.ID()
	}
	return e.SyncMany(ctx, progress, ids, opts), nil
}

func unique(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
