package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/ytsync/internal/shared"
	"github.com/desertthunder/ytsync/internal/tasks"
)

type syncRow struct {
	CollectionID string  `json:"collection_id"`
	RemoteID     string  `json:"remote_id,omitempty"`
	Title        string  `json:"title,omitempty"`
	AuditID      string  `json:"audit_id,omitempty"`
	Status       string  `json:"status"`
	Added        int     `json:"added"`
	Removed      int     `json:"removed"`
	Reordered    int     `json:"reordered"`
	Skipped      int     `json:"skipped"`
	Duplicates   int     `json:"duplicates"`
	ItemCount    int     `json:"item_count"`
	QuotaUsed    int     `json:"quota_used"`
	Retries      int     `json:"retries"`
	Seconds      float64 `json:"duration_seconds"`
	Error        string  `json:"error,omitempty"`
}

func toSyncRow(r *tasks.SyncResult) syncRow {
	row := syncRow{
		CollectionID: r.CollectionID,
		RemoteID:     r.RemoteID,
		Title:        r.Title,
		AuditID:      r.AuditID,
		Status:       string(r.Status),
		Added:        r.Added,
		Removed:      r.Removed,
		Reordered:    r.Reordered,
		Skipped:      r.Skipped,
		Duplicates:   r.Duplicates,
		ItemCount:    r.ItemCount,
		QuotaUsed:    r.QuotaUsed,
		Retries:      r.Retries,
		Seconds:      r.Duration().Seconds(),
	}
	if r.Err != nil {
		row.Error = r.Err.Error()
	}
	return row
}

func (r *Runner) batchOpts(cmd *cli.Command) tasks.BatchOpts {
	opts := tasks.BatchOpts{
		Concurrency: r.config.Sync.Concurrency,
		RateLimit:   r.config.Sync.RateLimit,
	}
	if n := cmd.Int("concurrency"); n > 0 {
		opts.Concurrency = n
	}
	if rate := cmd.Float("rate"); rate > 0 {
		opts.RateLimit = rate
	}
	return opts
}

// printProgress writes updates until progress is closed, then closes done.
func (r *Runner) printProgress(progress <-chan tasks.ProgressUpdate, done chan<- struct{}) {
	defer close(done)
	for u := range progress {
		if u.Total > 0 {
			r.writePlain("  [%d/%d] %s\n", u.Step, u.Total, u.Message)
		} else {
			r.writePlain("  %s\n", u.Message)
		}
	}
}

func (r *Runner) writeResult(res *tasks.SyncResult) {
	name := res.Title
	if name == "" {
		name = res.CollectionID
	}

	if !res.Succeeded() {
		r.writePlain("✗ %s: %v\n", name, res.Err)
		return
	}
	r.writePlain("✓ %s: +%d -%d ~%d", name, res.Added, res.Removed, res.Reordered)
	if res.Skipped > 0 {
		r.writePlain(", %d unavailable", res.Skipped)
	}
	if res.Duplicates > 0 {
		r.writePlain(", %d duplicates", res.Duplicates)
	}
	r.writePlain(" (%d videos, %d quota units, %s)\n", res.ItemCount, res.QuotaUsed, res.Duration().Round(10*time.Millisecond))
}

// syncOne syncs a single collection, streaming progress unless JSON output was asked for.
func (r *Runner) syncOne(ctx context.Context, id string, asJSON, pretty bool) error {
	engine, err := r.syncEngine(ctx)
	if err != nil {
		return err
	}

	var res *tasks.SyncResult
	if asJSON {
		res = engine.Sync(ctx, id, nil)
		if err := r.writeJSON(toSyncRow(res), pretty); err != nil {
			return err
		}
	} else {
		progress := make(chan tasks.ProgressUpdate, 16)
		done := make(chan struct{})
		go r.printProgress(progress, done)

		res = engine.Sync(ctx, id, progress)
		close(progress)
		<-done
		r.writeResult(res)
	}

	if !res.Succeeded() {
		return fmt.Errorf("sync failed: %w", res.Err)
	}
	return nil
}

func (r *Runner) writeBatch(batch *tasks.BatchResult, asJSON, pretty bool) error {
	if asJSON {
		rows := make([]syncRow, len(batch.Results))
		for i, res := range batch.Results {
			rows[i] = toSyncRow(res)
		}
		if err := r.writeJSON(rows, pretty); err != nil {
			return err
		}
	} else {
		r.writePlainln("Results")
		for _, res := range batch.Results {
			r.writeResult(res)
		}
		r.writePlainln("%d succeeded, %d failed, %d quota units used", batch.Succeeded, batch.Failed, batch.QuotaUsed)
	}

	if batch.Failed > 0 {
		return fmt.Errorf("%d of %d syncs failed", batch.Failed, len(batch.Results))
	}
	return nil
}

func (r *Runner) runBatch(ctx context.Context, cmd *cli.Command, run func(engine *tasks.SyncEngine, progress chan<- tasks.ProgressUpdate) (*tasks.BatchResult, error)) error {
	engine, err := r.syncEngine(ctx)
	if err != nil {
		return err
	}

	asJSON := cmd.Bool("json")
	var progress chan tasks.ProgressUpdate
	done := make(chan struct{})
	if asJSON {
		close(done)
	} else {
		progress = make(chan tasks.ProgressUpdate, 64)
		go r.printProgress(progress, done)
	}

	batch, err := run(engine, progress)
	if progress != nil {
		close(progress)
	}
	<-done
	if err != nil {
		return err
	}
	return r.writeBatch(batch, asJSON, cmd.Bool("pretty"))
}

// SyncRun syncs the named collections. A single collection streams per-phase progress; several run as a batch.
func (r *Runner) SyncRun(ctx context.Context, cmd *cli.Command) error {
	args := cmd.Args().Slice()
	if len(args) == 0 {
		return fmt.Errorf("%w: at least one playlist", shared.ErrMissingArgument)
	}

	ids := make([]string, 0, len(args))
	for _, arg := range args {
		c, err := r.findCollection(ctx, arg)
		if err != nil {
			return err
		}
		ids = append(ids, c.ID())
	}

	if len(ids) == 1 {
		return r.syncOne(ctx, ids[0], cmd.Bool("json"), cmd.Bool("pretty"))
	}

	return r.runBatch(ctx, cmd, func(engine *tasks.SyncEngine, progress chan<- tasks.ProgressUpdate) (*tasks.BatchResult, error) {
		return engine.SyncMany(ctx, progress, ids, r.batchOpts(cmd)), nil
	})
}

// SyncAll syncs every registered collection.
func (r *Runner) SyncAll(ctx context.Context, cmd *cli.Command) error {
	return r.runBatch(ctx, cmd, func(engine *tasks.SyncEngine, progress chan<- tasks.ProgressUpdate) (*tasks.BatchResult, error) {
		return engine.SyncAll(ctx, progress, r.batchOpts(cmd))
	})
}

// SyncUnlock releases a collection stuck in progress after a crash.
func (r *Runner) SyncUnlock(ctx context.Context, cmd *cli.Command) error {
	c, err := r.findCollection(ctx, cmd.Args().First())
	if err != nil {
		return err
	}

	engine, err := r.syncEngine(ctx)
	if err != nil {
		return err
	}

	unlocked, err := engine.Unlock(ctx, c.ID())
	if err != nil {
		return err
	}
	if !unlocked {
		return r.writePlain("%s is not locked (status: %s)\n", c.Title, c.Status)
	}
	return r.writePlain("✓ Unlocked %s\n", c.Title)
}
