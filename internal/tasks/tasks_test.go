package tasks

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"google.golang.org/api/googleapi"

	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/quota"
	"github.com/desertthunder/ytsync/internal/repositories"
	"github.com/desertthunder/ytsync/internal/resilience"
	"github.com/desertthunder/ytsync/internal/shared"
	tu "github.com/desertthunder/ytsync/internal/testing"
)

type harness struct {
	db      *sql.DB
	client  *tu.MockCollectionClient
	ledger  *quota.Ledger
	breaker *resilience.CircuitBreaker
	engine  *SyncEngine
	results *recordingObserver
	now     *time.Time
}

type harnessOpts struct {
	dailyLimit int
	pageSize   int
	fileDB     bool
}

type recordingObserver struct {
	mu      sync.Mutex
	results []*SyncResult
}

func (o *recordingObserver) SyncFinished(r *SyncResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, r)
}

func (o *recordingObserver) count() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.results)
}

func newHarness(t *testing.T, opts harnessOpts) *harness {
	t.Helper()

	if opts.dailyLimit == 0 {
		opts.dailyLimit = 10_000
	}
	if opts.pageSize == 0 {
		opts.pageSize = 2
	}

	db := tu.NewTestDB(t)
	if opts.fileDB {
		db = tu.NewFileTestDB(t)
	}

	now := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	client := tu.NewMockCollectionClient(opts.pageSize)
	ledger, err := quota.NewLedger(repositories.NewQuotaRepository(db), quota.Config{DailyLimit: opts.dailyLimit}, quota.WithClock(clock))
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}

	breaker := resilience.NewCircuitBreaker("youtube", resilience.WithBreakerClock(clock))
	retrier, err := resilience.NewRetrier(
		resilience.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 4 * time.Millisecond, Multiplier: 2},
		resilience.WithSleep(func(ctx context.Context, d time.Duration) error { return ctx.Err() }),
		resilience.WithRefresher(client),
	)
	if err != nil {
		t.Fatalf("failed to create retrier: %v", err)
	}

	observer := &recordingObserver{}
	engine, err := NewSyncEngine(EngineOpts{
		DB:       db,
		Client:   client,
		Guard:    resilience.NewGuard(breaker, retrier, resilience.WithQuota(ledger)),
		Batch:    3,
		Clock:    clock,
		Observer: observer,
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	return &harness{db: db, client: client, ledger: ledger, breaker: breaker, engine: engine, results: observer, now: &now}
}

func (h *harness) importCollection(t *testing.T, remoteID string, videoIDs ...string) *models.Collection {
	t.Helper()
	h.client.SetCollection(remoteID, "Mix "+remoteID, videoIDs...)
	c, err := h.engine.Import(context.Background(), remoteID)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	return c
}

func (h *harness) audits(t *testing.T, collectionID string) []models.SyncAudit {
	t.Helper()
	audits, err := repositories.NewAuditRepository(h.db).List(context.Background(), collectionID, 0)
	if err != nil {
		t.Fatalf("failed to list audits: %v", err)
	}
	return audits
}

func (h *harness) collection(t *testing.T, id string) *models.Collection {
	t.Helper()
	c, err := repositories.NewCollectionRepository(h.db).Get(context.Background(), id)
	if err != nil {
		t.Fatalf("failed to get collection: %v", err)
	}
	return c
}

func TestNewSyncEngine(t *testing.T) {
	t.Run("requires dependencies", func(t *testing.T) {
		if _, err := NewSyncEngine(EngineOpts{}); !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig without database, got %v", err)
		}

		db := tu.NewTestDB(t)
		if _, err := NewSyncEngine(EngineOpts{DB: db}); !errors.Is(err, shared.ErrServiceUnavailable) {
			t.Errorf("expected ErrServiceUnavailable without client, got %v", err)
		}
		if _, err := NewSyncEngine(EngineOpts{DB: db, Client: tu.NewMockCollectionClient(0)}); !errors.Is(err, shared.ErrInvalidConfig) {
			t.Errorf("expected ErrInvalidConfig without guard, got %v", err)
		}
	})

	t.Run("default storage retrier resolves conflicts", func(t *testing.T) {
		var buf bytes.Buffer
		guard := resilience.NewGuard(resilience.NewCircuitBreaker("youtube"), nil)
		engine, err := NewSyncEngine(EngineOpts{
			DB:     tu.NewTestDB(t),
			Client: tu.NewMockCollectionClient(0),
			Guard:  guard,
			Logger: log.New(&buf),
		})
		if err != nil {
			t.Fatalf("failed to create engine: %v", err)
		}

		attempts, err := engine.storage.Do(context.Background(), "apply", func(ctx context.Context, attempt int) error {
			if attempt == 1 {
				return fmt.Errorf("%w: membership changed underneath", shared.ErrConflict)
			}
			return nil
		})
		if err != nil || attempts != 2 {
			t.Fatalf("expected success on attempt 2, got %d: %v", attempts, err)
		}
		if !strings.Contains(buf.String(), "storage conflict") {
			t.Errorf("expected the conflict to be logged, got %q", buf.String())
		}
	})
}

func TestSync(t *testing.T) {
	ctx := context.Background()

	t.Run("FirstSyncMirrorsRemote", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		c := h.importCollection(t, "PL1", "a", "b", "c", "d", "e")

		res := h.engine.Sync(ctx, c.ID(), nil)
		if !res.Succeeded() {
			t.Fatalf("expected success, got %v", res.Err)
		}
		if res.Added != 5 || res.Removed != 0 || res.Reordered != 0 || res.ItemCount != 5 {
			t.Errorf("unexpected result: %+v", res)
		}
		// 3 membership pages of 2 items and 2 detail batches of 3 ids
		if res.QuotaUsed != 5 {
			t.Errorf("expected 5 quota units, got %d", res.QuotaUsed)
		}
		if got := activeKeys(t, h.db, c.ID()); !equalKeys(got, []string{"a", "b", "c", "d", "e"}) {
			t.Errorf("unexpected membership %v", got)
		}

		stored := h.collection(t, c.ID())
		if stored.Status != models.StatusCompleted || stored.ItemCount != 5 {
			t.Errorf("expected completed collection with 5 items, got %s/%d", stored.Status, stored.ItemCount)
		}

		audits := h.audits(t, c.ID())
		if len(audits) != 1 {
			t.Fatalf("expected 1 audit, got %d", len(audits))
		}
		a := audits[0]
		if a.Status != models.StatusCompleted || a.Added != 5 || a.QuotaUsed != 5 || a.CompletedAt == nil {
			t.Errorf("unexpected audit: %+v", a)
		}
		if a.ID != res.AuditID {
			t.Errorf("expected audit %s on result, got %s", a.ID, res.AuditID)
		}
	})

	t.Run("SecondSyncIsNoOp", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		c := h.importCollection(t, "PL1", "a", "b", "c")

		if res := h.engine.Sync(ctx, c.ID(), nil); !res.Succeeded() {
			t.Fatalf("first sync failed: %v", res.Err)
		}
		detailCalls := h.client.Calls(tu.MethodDetails)

		res := h.engine.Sync(ctx, c.ID(), nil)
		if !res.Succeeded() {
			t.Fatalf("second sync failed: %v", res.Err)
		}
		if res.Added != 0 || res.Removed != 0 || res.Reordered != 0 {
			t.Errorf("expected no edits, got %+v", res.Counts)
		}
		if h.client.Calls(tu.MethodDetails) != detailCalls {
			t.Error("cached videos should not be fetched again")
		}
		if got := activeKeys(t, h.db, c.ID()); !equalKeys(got, []string{"a", "b", "c"}) {
			t.Errorf("unexpected membership %v", got)
		}
		removed, _ := repositories.NewMemberRepository(h.db).CountRemoved(ctx, c.ID())
		if removed != 0 {
			t.Errorf("expected no tombstones, got %d", removed)
		}
		if len(h.audits(t, c.ID())) != 2 {
			t.Error("expected one audit per sync")
		}
	})

	t.Run("RemoteChangesApplied", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		c := h.importCollection(t, "PL1", "a", "b", "c", "d", "e")
		if res := h.engine.Sync(ctx, c.ID(), nil); !res.Succeeded() {
			t.Fatalf("first sync failed: %v", res.Err)
		}

		h.client.SetCollection("PL1", "Mix PL1", "b", "a", "f")
		res := h.engine.Sync(ctx, c.ID(), nil)
		if !res.Succeeded() {
			t.Fatalf("second sync failed: %v", res.Err)
		}
		if res.Added != 1 || res.Removed != 3 || res.Reordered != 2 || res.ItemCount != 3 {
			t.Errorf("unexpected result: %+v", res)
		}
		if got := activeKeys(t, h.db, c.ID()); !equalKeys(got, []string{"b", "a", "f"}) {
			t.Errorf("expected [b a f], got %v", got)
		}
	})

	t.Run("DuplicatesAndUnavailableVideos", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		h.client.SetUnavailable("gone")
		c := h.importCollection(t, "PL1", "a", "b", "a", "gone")

		res := h.engine.Sync(ctx, c.ID(), nil)
		if !res.Succeeded() {
			t.Fatalf("sync failed: %v", res.Err)
		}
		if res.Duplicates != 1 || res.Skipped != 1 || res.ItemCount != 2 {
			t.Errorf("expected 1 duplicate, 1 skipped and 2 items, got %+v", res)
		}
	})

	t.Run("UnavailableVideosNotRequestedAgain", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		h.client.SetUnavailable("gone")
		c := h.importCollection(t, "PL1", "a", "gone")

		if res := h.engine.Sync(ctx, c.ID(), nil); !res.Succeeded() {
			t.Fatalf("sync failed: %v", res.Err)
		}
		if calls := h.client.Calls(tu.MethodDetails); calls != 1 {
			t.Fatalf("expected 1 details call, got %d", calls)
		}

		res := h.engine.Sync(ctx, c.ID(), nil)
		if !res.Succeeded() {
			t.Fatalf("sync failed: %v", res.Err)
		}
		if calls := h.client.Calls(tu.MethodDetails); calls != 1 {
			t.Errorf("expected the unavailable video to be skipped without a details call, got %d calls", calls)
		}
		if res.Skipped != 1 {
			t.Errorf("expected the unavailable video to be counted as skipped, got %d", res.Skipped)
		}

		*h.now = h.now.Add(defaultRecheck + time.Minute)
		if res := h.engine.Sync(ctx, c.ID(), nil); !res.Succeeded() {
			t.Fatalf("sync failed: %v", res.Err)
		}
		if calls := h.client.Calls(tu.MethodDetails); calls != 2 {
			t.Errorf("expected the video to be re-checked after the interval, got %d calls", calls)
		}
	})

	t.Run("MissingCollection", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})

		res := h.engine.Sync(ctx, "nope", nil)
		if !errors.Is(res.Err, shared.ErrCollectionNotFound) {
			t.Errorf("expected ErrCollectionNotFound, got %v", res.Err)
		}
		if res.Status != models.StatusFailed || res.AuditID != "" {
			t.Errorf("expected failed result without audit, got %+v", res)
		}
		if h.results.count() != 1 {
			t.Error("observer should see rejected syncs")
		}
	})

	t.Run("FailureIsAudited", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		c := h.importCollection(t, "PL1", "a", "b", "c")
		h.client.FailNext(tu.MethodPage, &googleapi.Error{Code: http.StatusNotFound, Message: "playlist not found"})

		res := h.engine.Sync(ctx, c.ID(), nil)
		if res.Succeeded() || res.Err == nil {
			t.Fatal("expected sync to fail")
		}
		if res.Retries != 0 {
			t.Errorf("validation errors should not be retried, got %d retries", res.Retries)
		}
		if res.QuotaUsed != 1 {
			t.Errorf("failed call still consumes quota, expected 1 got %d", res.QuotaUsed)
		}

		audits := h.audits(t, c.ID())
		if len(audits) != 1 || audits[0].Status != models.StatusFailed {
			t.Fatalf("expected a failed audit, got %+v", audits)
		}
		if !strings.Contains(audits[0].ErrorMessage, "playlist not found") || audits[0].QuotaUsed != 1 {
			t.Errorf("unexpected audit: %+v", audits[0])
		}
		if h.collection(t, c.ID()).Status != models.StatusFailed {
			t.Error("expected collection to be marked failed")
		}

		if res := h.engine.Sync(ctx, c.ID(), nil); !res.Succeeded() {
			t.Errorf("lock should be released after failure, got %v", res.Err)
		}
	})

	t.Run("RepeatedPageTokenFails", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		c := h.importCollection(t, "PL1", "a", "b", "c")
		h.client.NextToken = func(string) string { return "same" }

		res := h.engine.Sync(ctx, c.ID(), nil)
		if !errors.Is(res.Err, shared.ErrAPIRequest) {
			t.Fatalf("expected ErrAPIRequest, got %v", res.Err)
		}
		if calls := h.client.Calls(tu.MethodPage); calls != 2 {
			t.Errorf("expected paging to stop at the repeated token, got %d page calls", calls)
		}

		audits := h.audits(t, c.ID())
		if len(audits) != 1 || audits[0].Status != models.StatusFailed {
			t.Fatalf("expected a failed audit, got %+v", audits)
		}
		if !strings.Contains(audits[0].ErrorMessage, "repeated") {
			t.Errorf("unexpected audit message %q", audits[0].ErrorMessage)
		}
		if h.collection(t, c.ID()).Status != models.StatusFailed {
			t.Error("expected collection to be marked failed")
		}
	})

	t.Run("PageLimitFails", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		c := h.importCollection(t, "PL1", "a", "b", "c")
		n := 0
		h.client.NextToken = func(string) string {
			n++
			return "page-" + strconv.Itoa(n)
		}

		res := h.engine.Sync(ctx, c.ID(), nil)
		if !errors.Is(res.Err, shared.ErrAPIRequest) {
			t.Fatalf("expected ErrAPIRequest, got %v", res.Err)
		}
		if calls := h.client.Calls(tu.MethodPage); calls != maxPages {
			t.Errorf("expected %d page calls, got %d", maxPages, calls)
		}
		if audits := h.audits(t, c.ID()); len(audits) != 1 || audits[0].Status != models.StatusFailed {
			t.Fatalf("expected a failed audit, got %+v", audits)
		}
	})

	t.Run("TransientErrorsRetried", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		c := h.importCollection(t, "PL1", "a", "b", "c")
		h.client.FailNext(tu.MethodPage, &googleapi.Error{Code: http.StatusServiceUnavailable})

		res := h.engine.Sync(ctx, c.ID(), nil)
		if !res.Succeeded() {
			t.Fatalf("expected retry to succeed, got %v", res.Err)
		}
		if res.Retries != 1 {
			t.Errorf("expected 1 retry, got %d", res.Retries)
		}
		// both page attempts, the second page and one details batch
		if res.QuotaUsed != 4 {
			t.Errorf("expected 4 quota units, got %d", res.QuotaUsed)
		}
	})

	t.Run("AuthFailureRefreshes", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		c := h.importCollection(t, "PL1", "a")
		h.client.FailNext(tu.MethodPage, &googleapi.Error{Code: http.StatusUnauthorized})

		res := h.engine.Sync(ctx, c.ID(), nil)
		if !res.Succeeded() {
			t.Fatalf("expected success after refresh, got %v", res.Err)
		}
		if h.client.Calls(tu.MethodRefresh) != 1 {
			t.Errorf("expected 1 credential refresh, got %d", h.client.Calls(tu.MethodRefresh))
		}
	})

	t.Run("QuotaExhaustion", func(t *testing.T) {
		h := newHarness(t, harnessOpts{dailyLimit: 3})
		c := h.importCollection(t, "PL1", "a", "b", "c", "d", "e")

		res := h.engine.Sync(ctx, c.ID(), nil)
		if !errors.Is(res.Err, shared.ErrQuotaExceeded) {
			t.Fatalf("expected ErrQuotaExceeded, got %v", res.Err)
		}
		if res.QuotaUsed != 2 {
			t.Errorf("expected 2 units used before exhaustion, got %d", res.QuotaUsed)
		}
		if got := activeKeys(t, h.db, c.ID()); len(got) != 0 {
			t.Errorf("no membership should be applied, got %v", got)
		}

		usage, err := h.ledger.Usage(ctx)
		if err != nil {
			t.Fatalf("Usage failed: %v", err)
		}
		if usage.Used != 3 {
			t.Errorf("expected ledger at its limit, got %d", usage.Used)
		}
		if h.breaker.State() != resilience.StateClosed {
			t.Error("quota exhaustion should not open the breaker")
		}

		audits := h.audits(t, c.ID())
		if len(audits) != 1 || audits[0].Status != models.StatusFailed || audits[0].QuotaUsed != 2 {
			t.Errorf("unexpected audits: %+v", audits)
		}
	})

	t.Run("ConcurrentSyncRejected", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		c := h.importCollection(t, "PL1", "a", "b")

		entered := make(chan struct{})
		release := make(chan struct{})
		var once sync.Once
		h.client.BeforePage = func(ctx context.Context, remoteID, pageToken string) error {
			once.Do(func() {
				close(entered)
				<-release
			})
			return nil
		}

		first := make(chan *SyncResult, 1)
		go func() { first <- h.engine.Sync(ctx, c.ID(), nil) }()

		select {
		case <-entered:
		case <-time.After(5 * time.Second):
			t.Fatal("first sync never reached the remote")
		}

		second := h.engine.Sync(ctx, c.ID(), nil)
		if !errors.Is(second.Err, shared.ErrSyncInProgress) {
			t.Errorf("expected ErrSyncInProgress, got %v", second.Err)
		}
		if second.AuditID != "" {
			t.Error("rejected sync must not create an audit")
		}
		close(release)

		select {
		case res := <-first:
			if !res.Succeeded() {
				t.Errorf("first sync should be unaffected, got %v", res.Err)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("first sync did not finish")
		}

		audits := h.audits(t, c.ID())
		if len(audits) != 1 || audits[0].Status != models.StatusCompleted {
			t.Errorf("expected exactly one completed audit, got %+v", audits)
		}
	})

	t.Run("CancelledContextReleasesLock", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		c := h.importCollection(t, "PL1", "a", "b", "c")

		cctx, cancel := context.WithCancel(ctx)
		h.client.BeforePage = func(ctx context.Context, remoteID, pageToken string) error {
			cancel()
			return ctx.Err()
		}

		res := h.engine.Sync(cctx, c.ID(), nil)
		if !errors.Is(res.Err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", res.Err)
		}
		if h.collection(t, c.ID()).Status != models.StatusFailed {
			t.Error("expected lock released to failed")
		}
		if audits := h.audits(t, c.ID()); len(audits) != 1 || audits[0].Status != models.StatusFailed {
			t.Errorf("expected failed audit, got %+v", audits)
		}
	})

	t.Run("Progress", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		c := h.importCollection(t, "PL1", "a", "b", "c")

		progress := make(chan ProgressUpdate, 100)
		res := h.engine.Sync(ctx, c.ID(), progress)
		close(progress)
		if !res.Succeeded() {
			t.Fatalf("sync failed: %v", res.Err)
		}

		phases := map[Phase]int{}
		var last ProgressUpdate
		for u := range progress {
			phases[u.Phase]++
			last = u
		}
		for _, p := range []Phase{Lock, FetchMembers, FetchDetails, Compare, Apply, Finish} {
			if phases[p] == 0 {
				t.Errorf("expected at least one %s update", p)
			}
		}
		if last.Phase != Finish || last.Data != res {
			t.Errorf("expected final update to carry the result, got %+v", last)
		}
	})

	t.Run("FullProgressChannelDoesNotBlock", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		c := h.importCollection(t, "PL1", "a", "b", "c")

		progress := make(chan ProgressUpdate)
		if res := h.engine.Sync(ctx, c.ID(), progress); !res.Succeeded() {
			t.Fatalf("sync failed: %v", res.Err)
		}
	})
}

func TestImport(t *testing.T) {
	ctx := context.Background()

	t.Run("Idempotent", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		first := h.importCollection(t, "PL1", "a")

		second, err := h.engine.Import(ctx, "PL1")
		if err != nil {
			t.Fatalf("second Import failed: %v", err)
		}
		if second.ID() != first.ID() {
			t.Errorf("expected same collection, got %s and %s", first.ID(), second.ID())
		}
		if h.client.Calls(tu.MethodMetadata) != 1 {
			t.Errorf("expected a single metadata fetch, got %d", h.client.Calls(tu.MethodMetadata))
		}
	})

	t.Run("MapsMetadata", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		c := h.importCollection(t, "PL1", "a")
		if c.Title != "Mix PL1" || c.ChannelTitle != "mock channel" || c.Status != models.StatusPending {
			t.Errorf("unexpected collection: %+v", c)
		}
	})

	t.Run("RevivesRemovedCollection", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		c := h.importCollection(t, "PL1", "a")
		if res := h.engine.Sync(ctx, c.ID(), nil); !res.Succeeded() {
			t.Fatalf("sync failed: %v", res.Err)
		}
		if err := repositories.NewCollectionRepository(h.db).Delete(ctx, c.ID()); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		revived, err := h.engine.Import(ctx, "PL1")
		if err != nil {
			t.Fatalf("Import failed: %v", err)
		}
		if revived.ID() != c.ID() {
			t.Errorf("expected revived collection %s, got %s", c.ID(), revived.ID())
		}
		if got := activeKeys(t, h.db, c.ID()); !equalKeys(got, []string{"a"}) {
			t.Errorf("membership should survive removal, got %v", got)
		}
	})

	t.Run("UnknownRemote", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		if _, err := h.engine.Import(ctx, "PLmissing"); !errors.Is(err, shared.ErrCollectionNotFound) {
			t.Errorf("expected ErrCollectionNotFound, got %v", err)
		}
	})

	t.Run("EmptyID", func(t *testing.T) {
		h := newHarness(t, harnessOpts{})
		if _, err := h.engine.Import(ctx, ""); !errors.Is(err, shared.ErrMissingArgument) {
			t.Errorf("expected ErrMissingArgument, got %v", err)
		}
	})
}

func TestRefreshMetadata(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOpts{})
	c := h.importCollection(t, "PL1", "a")

	h.client.SetCollection("PL1", "Renamed", "a")
	updated, err := h.engine.RefreshMetadata(ctx, c.ID())
	if err != nil {
		t.Fatalf("RefreshMetadata failed: %v", err)
	}
	if updated.Title != "Renamed" || h.collection(t, c.ID()).Title != "Renamed" {
		t.Errorf("expected title to be refreshed, got %q", updated.Title)
	}

	if _, err := h.engine.RefreshMetadata(ctx, "nope"); !errors.Is(err, shared.ErrCollectionNotFound) {
		t.Errorf("expected ErrCollectionNotFound, got %v", err)
	}
}

func TestUnlock(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, harnessOpts{})
	c := h.importCollection(t, "PL1", "a")

	collections := repositories.NewCollectionRepository(h.db)
	if ok, err := collections.AcquireLock(ctx, c.ID()); err != nil || !ok {
		t.Fatalf("failed to lock collection: %v %v", ok, err)
	}
	audit := &models.SyncAudit{CollectionID: c.ID(), Status: models.StatusInProgress, StartedAt: time.Now().UTC()}
	if err := repositories.NewAuditRepository(h.db).Create(ctx, audit); err != nil {
		t.Fatalf("failed to create audit: %v", err)
	}

	if res := h.engine.Sync(ctx, c.ID(), nil); !errors.Is(res.Err, shared.ErrSyncInProgress) {
		t.Fatalf("expected stuck lock to reject sync, got %v", res.Err)
	}

	unlocked, err := h.engine.Unlock(ctx, c.ID())
	if err != nil || !unlocked {
		t.Fatalf("expected unlock, got %v %v", unlocked, err)
	}
	if h.collection(t, c.ID()).Status != models.StatusFailed {
		t.Error("expected collection marked failed")
	}
	if audits := h.audits(t, c.ID()); audits[0].Status != models.StatusFailed || audits[0].CompletedAt == nil {
		t.Errorf("expected open audit closed as failed, got %+v", audits[0])
	}

	unlocked, err = h.engine.Unlock(ctx, c.ID())
	if err != nil || unlocked {
		t.Errorf("second unlock should be a no-op, got %v %v", unlocked, err)
	}

	if _, err := h.engine.Unlock(ctx, "nope"); !errors.Is(err, shared.ErrCollectionNotFound) {
		t.Errorf("expected ErrCollectionNotFound, got %v", err)
	}

	if res := h.engine.Sync(ctx, c.ID(), nil); !res.Succeeded() {
		t.Errorf("sync after unlock failed: %v", res.Err)
	}
}
