package tasks

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/ytsync/internal/diff"
	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/quota"
	"github.com/desertthunder/ytsync/internal/repositories"
	"github.com/desertthunder/ytsync/internal/resilience"
	"github.com/desertthunder/ytsync/internal/services"
	"github.com/desertthunder/ytsync/internal/shared"
)

const (
	maxPages       = 1000
	defaultRecheck = 24 * time.Hour
)

// SyncResult is the outcome of one collection sync. Expected failures are carried in Err rather than returned.
type SyncResult struct {
	CollectionID string
	RemoteID     string
	Title        string
	AuditID      string
	Status       models.SyncStatus
	diff.Counts
	Skipped     int
	Duplicates  int
	ItemCount   int
	QuotaUsed   int
	Retries     int
	StartedAt   time.Time
	CompletedAt time.Time
	Err         error
}

// Succeeded reports whether the sync completed.
func (r *SyncResult) Succeeded() bool {
	return r.Status == models.StatusCompleted && r.Err == nil
}

// Duration is the wall time of the sync.
func (r *SyncResult) Duration() time.Duration {
	if r.CompletedAt.IsZero() {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

func (r *SyncResult) label() string {
	if r.Title != "" {
		return r.Title
	}
	if r.RemoteID != "" {
		return r.RemoteID
	}
	return r.CollectionID
}

// Observer is notified of every finished sync, typically for metrics.
type Observer interface {
	SyncFinished(r *SyncResult)
}

// EngineOpts contains the dependencies of a SyncEngine.
type EngineOpts struct {
	DB       *sql.DB
	Client   services.CollectionClient
	Guard    *resilience.Guard   // wraps every remote call
	Storage  *resilience.Retrier // retries storage conflicts while applying; defaults to 3 quick attempts
	Batch    int                 // ids per details request, at most services.MaxBatchSize
	Recheck  time.Duration       // how long a video the remote did not return is skipped; defaults to 24h
	Clock    func() time.Time
	Logger   *log.Logger
	Observer Observer
}

// SyncEngine mirrors remote collections into storage.
type SyncEngine struct {
	client      services.CollectionClient
	guard       *resilience.Guard
	storage     *resilience.Retrier
	batch       int
	recheck     time.Duration
	now         func() time.Time
	logger      *log.Logger
	observer    Observer
	applier     *Applier
	collections *repositories.CollectionRepository
	videos      *repositories.VideoRepository
	members     *repositories.MemberRepository
	audits      *repositories.AuditRepository
}

// NewSyncEngine creates a SyncEngine from opts.
func NewSyncEngine(opts EngineOpts) (*SyncEngine, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("%w: database is required", shared.ErrInvalidConfig)
	}
	if opts.Client == nil {
		return nil, fmt.Errorf("%w: collection client not initialized", shared.ErrServiceUnavailable)
	}
	if opts.Guard == nil {
		return nil, fmt.Errorf("%w: guard is required", shared.ErrInvalidConfig)
	}
	if opts.Logger == nil {
		opts.Logger = shared.DiscardLogger()
	}
	if opts.Clock == nil {
		opts.Clock = func() time.Time { return time.Now().UTC() }
	}
	if opts.Batch <= 0 || opts.Batch > services.MaxBatchSize {
		opts.Batch = services.MaxBatchSize
	}
	if opts.Recheck <= 0 {
		opts.Recheck = defaultRecheck
	}
	e := &SyncEngine{
		client:      opts.Client,
		guard:       opts.Guard,
		storage:     opts.Storage,
		batch:       opts.Batch,
		recheck:     opts.Recheck,
		now:         opts.Clock,
		logger:      opts.Logger,
		observer:    opts.Observer,
		applier:     NewApplier(opts.DB, opts.Logger),
		collections: repositories.NewCollectionRepository(opts.DB),
		videos:      repositories.NewVideoRepository(opts.DB),
		members:     repositories.NewMemberRepository(opts.DB),
		audits:      repositories.NewAuditRepository(opts.DB),
	}
	if e.storage == nil {
		storage, err := resilience.NewRetrier(resilience.Config{
			MaxAttempts:  3,
			InitialDelay: 50 * time.Millisecond,
			MaxDelay:     500 * time.Millisecond,
			Multiplier:   2,
		}, resilience.WithRetryLogger(opts.Logger), resilience.WithResolver(resilience.ConflictResolverFunc(e.resolveConflict)))
		if err != nil {
			return nil, err
		}
		e.storage = storage
	}
	return e, nil
}

// resolveConflict runs before an apply is retried. The next attempt re-reads
// active membership and diffs again, so nothing is carried over.
func (e *SyncEngine) resolveConflict(ctx context.Context, err error) error {
	e.logger.Warn("storage conflict while applying, re-reading membership", "error", err)
	return ctx.Err()
}

// sendProgress sends a progress update through the channel without blocking.
// Uses select with default to ensure progress reporting never blocks execution.
func (e *SyncEngine) sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

// call runs fn through the guard and accounts the quota and retries it used on result.
func (e *SyncEngine) call(ctx context.Context, result *SyncResult, op quota.OperationType, items int, fn func(ctx context.Context) error) error {
	out, err := e.guard.Do(ctx, resilience.Call{Name: string(op), Op: op, Items: items}, fn)
	if result != nil {
		result.QuotaUsed += out.QuotaUsed
		if out.Attempts > 1 {
			result.Retries += out.Attempts - 1
		}
	}
	return err
}

// Sync mirrors the remote membership of a collection into storage.
//
// The collection is locked for the duration of the run; a second concurrent sync of the same collection fails
// immediately with [shared.ErrSyncInProgress] and leaves the running sync untouched. Every run that acquires the
// lock is recorded as a [models.SyncAudit].
func (e *SyncEngine) Sync(ctx context.Context, collectionID string, progress chan<- ProgressUpdate) *SyncResult {
	result := &SyncResult{CollectionID: collectionID, Status: models.StatusFailed, StartedAt: e.now()}
	logger := shared.WithLogger(e.logger, "collection", collectionID)

	collection, err := e.collections.Get(ctx, collectionID)
	if err != nil {
		return e.reject(result, fmt.Errorf("%w: %s", err, collectionID), progress)
	}
	result.RemoteID = collection.RemoteID
	result.Title = collection.Title

	locked, err := e.collections.AcquireLock(ctx, collectionID)
	if err != nil {
		return e.reject(result, err, progress)
	}
	if !locked {
		logger.Warn("sync already running")
		return e.reject(result, fmt.Errorf("%w: %s", shared.ErrSyncInProgress, collection.Title), progress)
	}
	e.sendProgress(progress, lockUpdate(result.label()))

	audit := &models.SyncAudit{CollectionID: collectionID, Status: models.StatusInProgress, StartedAt: result.StartedAt}
	if err := e.audits.Create(ctx, audit); err != nil {
		if rerr := e.collections.ReleaseLock(context.WithoutCancel(ctx), collectionID, models.StatusFailed); rerr != nil {
			logger.Error("failed to release lock", "error", rerr)
		}
		return e.reject(result, err, progress)
	}
	result.AuditID = audit.ID

	logger = shared.WithLogger(logger, "sync_id", audit.Sequence)
	logger.Info("sync started", "remote", collection.RemoteID, "title", collection.Title)

	err = e.run(ctx, collection, result, progress, logger)
	e.finish(ctx, audit, result, err, logger)
	e.sendProgress(progress, finishUpdate(result))
	return result
}

// reject completes a result for a sync that never acquired the lock.
func (e *SyncEngine) reject(result *SyncResult, err error, progress chan<- ProgressUpdate) *SyncResult {
	result.Err = err
	result.CompletedAt = e.now()
	if e.observer != nil {
		e.observer.SyncFinished(result)
	}
	e.sendProgress(progress, finishUpdate(result))
	return result
}

func (e *SyncEngine) run(ctx context.Context, c *models.Collection, result *SyncResult, progress chan<- ProgressUpdate, logger *log.Logger) error {
	remote, err := e.fetchMembership(ctx, c, result, progress, logger)
	if err != nil {
		return err
	}

	if err := e.fetchDetails(ctx, remote, result, progress, logger); err != nil {
		return err
	}

	var applied ApplyResult
	_, err = e.storage.Do(ctx, "apply", func(ctx context.Context, attempt int) error {
		active, err := e.members.Active(ctx, c.ID())
		if err != nil {
			return err
		}

		cs := diff.Detect(active, remote)
		result.Duplicates = cs.Duplicates
		if attempt == 1 {
			if cs.Duplicates > 0 {
				logger.Warn("remote collection lists videos more than once", "duplicates", cs.Duplicates)
			}
			e.sendProgress(progress, compareUpdate(cs.Counts()))
		}
		e.sendProgress(progress, applyUpdate(attempt))

		applied, err = e.applier.Apply(ctx, c.ID(), cs, e.now())
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to apply changes: %w", err)
	}

	result.Counts = applied.Counts
	result.Skipped = applied.Skipped
	result.ItemCount = applied.ItemCount
	return nil
}

func (e *SyncEngine) fetchMembership(ctx context.Context, c *models.Collection, result *SyncResult, progress chan<- ProgressUpdate, logger *log.Logger) ([]models.RemoteMember, error) {
	var (
		remote []models.RemoteMember
		token  string
		seen   = map[string]bool{}
	)

	for page := 1; ; page++ {
		if page > maxPages {
			return nil, fmt.Errorf("%w: more than %d membership pages", shared.ErrAPIRequest, maxPages)
		}

		var resp *models.MembershipPage
		err := e.call(ctx, result, quota.OpPlaylistItems, 0, func(ctx context.Context) error {
			var err error
			resp, err = e.client.GetMembershipPage(ctx, c.RemoteID, token)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("failed to fetch membership page %d: %w", page, err)
		}

		remote = append(remote, resp.Items...)
		logger.Debug("fetched membership page", "page", page, "items", len(resp.Items), "total", resp.TotalResults)
		e.sendProgress(progress, fetchPageUpdate(page, len(remote), max(resp.TotalResults, len(remote))))

		if resp.NextPageToken == "" {
			return remote, nil
		}
		if seen[resp.NextPageToken] {
			return nil, fmt.Errorf("%w: page token %q repeated", shared.ErrAPIRequest, resp.NextPageToken)
		}
		seen[resp.NextPageToken] = true
		token = resp.NextPageToken
	}
}

// fetchDetails caches every video referenced by remote that is not cached yet.
func (e *SyncEngine) fetchDetails(ctx context.Context, remote []models.RemoteMember, result *SyncResult, progress chan<- ProgressUpdate, logger *log.Logger) error {
	ids := make([]string, len(remote))
	for i, rm := range remote {
		ids[i] = rm.RemoteVideoID
	}

	missing, err := e.videos.Missing(ctx, ids)
	if err != nil {
		return err
	}
	known, err := e.videos.CheckedUnavailable(ctx, missing, e.now().Add(-e.recheck))
	if err != nil {
		return err
	}
	if len(known) > 0 {
		missing = slices.DeleteFunc(missing, func(id string) bool { return known[id] })
		logger.Debug("skipping videos recently found unavailable", "count", len(known))
	}
	if len(missing) == 0 {
		return nil
	}

	batches := (len(missing) + e.batch - 1) / e.batch
	for i := range batches {
		batch := missing[i*e.batch : min((i+1)*e.batch, len(missing))]
		e.sendProgress(progress, fetchDetailsUpdate(i+1, batches, len(batch)))

		var videos []*models.Video
		err := e.call(ctx, result, quota.OpVideos, len(batch), func(ctx context.Context) error {
			var err error
			videos, err = e.client.GetItemDetailsBatch(ctx, batch)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to fetch video details: %w", err)
		}

		returned := make(map[string]bool, len(videos))
		for _, v := range videos {
			if err := e.videos.Upsert(ctx, v); err != nil {
				return err
			}
			returned[v.RemoteID] = true
		}

		var unavailable []string
		for _, id := range batch {
			if !returned[id] {
				unavailable = append(unavailable, id)
			}
		}
		if len(unavailable) > 0 {
			logger.Warn("videos unavailable remotely", "count", len(unavailable))
			if err := e.videos.MarkUnavailable(ctx, unavailable, e.now()); err != nil {
				return err
			}
		}
	}
	return nil
}

// finish records the outcome on the audit and releases the lock.
// Bookkeeping runs even when ctx is cancelled so an interrupted sync is never left in progress.
func (e *SyncEngine) finish(ctx context.Context, audit *models.SyncAudit, result *SyncResult, runErr error, logger *log.Logger) {
	ctx = context.WithoutCancel(ctx)
	completed := e.now()

	audit.CompletedAt = &completed
	audit.QuotaUsed = result.QuotaUsed
	audit.Added = result.Added
	audit.Removed = result.Removed
	audit.Reordered = result.Reordered
	audit.Skipped = result.Skipped
	audit.Status = models.StatusCompleted
	if runErr != nil {
		audit.Status = models.StatusFailed
		audit.ErrorMessage = runErr.Error()
	}

	err := e.audits.Finish(ctx, audit)
	if err != nil && runErr == nil {
		runErr = err
		audit.Status = models.StatusFailed
	} else if err != nil {
		logger.Error("failed to record audit", "error", err)
	}

	if err := e.collections.ReleaseLock(ctx, audit.CollectionID, audit.Status); err != nil {
		logger.Error("failed to release lock", "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	result.Status = audit.Status
	result.CompletedAt = completed
	result.Err = runErr
	if runErr != nil {
		result.Status = models.StatusFailed
		logger.Error("sync failed", "error", runErr, "quota_used", result.QuotaUsed, "retries", result.Retries)
	} else {
		logger.Info("sync completed",
			"added", result.Added, "removed", result.Removed, "reordered", result.Reordered,
			"skipped", result.Skipped, "items", result.ItemCount, "quota_used", result.QuotaUsed,
			"duration", result.Duration())
	}

	if e.observer != nil {
		e.observer.SyncFinished(result)
	}
}

// Import registers a remote collection for syncing. Importing an already registered collection returns it
// unchanged; importing a removed one restores it with its membership history.
func (e *SyncEngine) Import(ctx context.Context, remoteID string) (*models.Collection, error) {
	if remoteID == "" {
		return nil, fmt.Errorf("%w: remote collection id", shared.ErrMissingArgument)
	}

	existing, err := e.collections.GetByRemoteID(ctx, remoteID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, shared.ErrCollectionNotFound) {
		return nil, err
	}

	meta, err := e.fetchMetadata(ctx, remoteID)
	if err != nil {
		return nil, err
	}

	revived, err := e.collections.Revive(ctx, remoteID)
	if err != nil {
		return nil, err
	}
	if revived {
		c, err := e.collections.GetByRemoteID(ctx, remoteID)
		if err != nil {
			return nil, err
		}
		c.ApplyRemote(meta)
		if err := e.collections.Update(ctx, c); err != nil {
			return nil, err
		}
		e.logger.Info("restored collection", "collection", c.ID(), "remote", remoteID)
		return c, nil
	}

	c := models.NewCollection(remoteID, meta.Title)
	c.ApplyRemote(meta)
	if err := e.collections.Create(ctx, c); err != nil {
		if existing, getErr := e.collections.GetByRemoteID(ctx, remoteID); getErr == nil {
			return existing, nil
		}
		return nil, err
	}

	e.logger.Info("imported collection", "collection", c.ID(), "remote", remoteID, "title", c.Title)
	return c, nil
}

// RefreshMetadata re-reads title, description and owner of a collection from the remote platform.
func (e *SyncEngine) RefreshMetadata(ctx context.Context, collectionID string) (*models.Collection, error) {
	c, err := e.collections.Get(ctx, collectionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, collectionID)
	}

	meta, err := e.fetchMetadata(ctx, c.RemoteID)
	if err != nil {
		return nil, err
	}

	c.ApplyRemote(meta)
	if err := e.collections.Update(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

func (e *SyncEngine) fetchMetadata(ctx context.Context, remoteID string) (*models.RemoteCollection, error) {
	var meta *models.RemoteCollection
	err := e.call(ctx, nil, quota.OpPlaylists, 0, func(ctx context.Context) error {
		var err error
		meta, err = e.client.GetCollectionMetadata(ctx, remoteID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch collection %s: %w", remoteID, err)
	}
	return meta, nil
}

// Unlock releases a collection left in progress by a crashed process, marking it and its open audits failed.
// It reports false when the collection was not locked.
func (e *SyncEngine) Unlock(ctx context.Context, collectionID string) (bool, error) {
	unlocked, err := e.collections.ForceUnlock(ctx, collectionID)
	if err != nil {
		return false, err
	}
	if !unlocked {
		if _, err := e.collections.Get(ctx, collectionID); err != nil {
			return false, fmt.Errorf("%w: %s", err, collectionID)
		}
		return false, nil
	}

	closed, err := e.audits.FailOpen(ctx, collectionID, "sync interrupted: lock released manually", e.now())
	if err != nil {
		return true, err
	}
	e.logger.Warn("collection unlocked manually", "collection", collectionID, "audits_closed", closed)
	return true, nil
}
