// package testing contains shared testing utilities
package testing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"

	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/shared"
)

// Method names accepted by [MockCollectionClient.FailNext] and [MockCollectionClient.Calls].
const (
	MethodMetadata = "metadata"
	MethodPage     = "page"
	MethodDetails  = "details"
	MethodRefresh  = "refresh"
)

// MockCollectionClient is an in-memory test double for services.CollectionClient.
//
// Collections are registered with [MockCollectionClient.SetCollection]; each listed video gets details
// unless it is marked unavailable. Queued errors are returned before any data.
type MockCollectionClient struct {
	mu          sync.Mutex
	collections map[string]*models.RemoteCollection
	members     map[string][]string
	titles      map[string]string
	unavailable map[string]bool
	errors      map[string][]error
	calls       map[string]int
	pageSize    int

	// BeforePage runs before every membership page is served. Returning an error fails the call.
	BeforePage func(ctx context.Context, remoteID, pageToken string) error
	// NextToken replaces the token paging hands out. Every page is then served from the start of the collection.
	NextToken func(pageToken string) string
}

// NewMockCollectionClient creates an empty client serving pages of pageSize items.
func NewMockCollectionClient(pageSize int) *MockCollectionClient {
	if pageSize <= 0 {
		pageSize = 50
	}
	return &MockCollectionClient{
		collections: map[string]*models.RemoteCollection{},
		members:     map[string][]string{},
		titles:      map[string]string{},
		unavailable: map[string]bool{},
		errors:      map[string][]error{},
		calls:       map[string]int{},
		pageSize:    pageSize,
	}
}

// SetCollection registers or replaces a remote collection with the given video ids in order.
func (m *MockCollectionClient) SetCollection(remoteID, title string, videoIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.collections[remoteID] = &models.RemoteCollection{
		RemoteID:     remoteID,
		Title:        title,
		ChannelTitle: "mock channel",
		ItemCount:    len(videoIDs),
	}
	m.members[remoteID] = append([]string(nil), videoIDs...)
	for _, id := range videoIDs {
		if _, ok := m.titles[id]; !ok {
			m.titles[id] = "Video " + id
		}
	}
}

// SetUnavailable makes the details endpoint omit the given videos.
func (m *MockCollectionClient) SetUnavailable(videoIDs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range videoIDs {
		m.unavailable[id] = true
	}
}

// FailNext queues errors returned by the next calls to method.
func (m *MockCollectionClient) FailNext(method string, errs ...error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[method] = append(m.errors[method], errs...)
}

// Calls returns how many times method was called.
func (m *MockCollectionClient) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

func (m *MockCollectionClient) record(method string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls[method]++
	if queued := m.errors[method]; len(queued) > 0 {
		m.errors[method] = queued[1:]
		return queued[0]
	}
	return nil
}

func (m *MockCollectionClient) GetCollectionMetadata(ctx context.Context, remoteID string) (*models.RemoteCollection, error) {
	if err := m.record(MethodMetadata); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	rc, ok := m.collections[remoteID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrCollectionNotFound, remoteID)
	}
	copied := *rc
	return &copied, nil
}

func (m *MockCollectionClient) GetMembershipPage(ctx context.Context, remoteID, pageToken string) (*models.MembershipPage, error) {
	if m.BeforePage != nil {
		if err := m.BeforePage(ctx, remoteID, pageToken); err != nil {
			return nil, err
		}
	}
	if err := m.record(MethodPage); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ids, ok := m.members[remoteID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrCollectionNotFound, remoteID)
	}

	offset := 0
	if pageToken != "" && m.NextToken == nil {
		var err error
		if offset, err = strconv.Atoi(pageToken); err != nil || offset < 0 || offset > len(ids) {
			return nil, fmt.Errorf("%w: page token %q", shared.ErrInvalidArgument, pageToken)
		}
	}

	end := min(offset+m.pageSize, len(ids))
	page := &models.MembershipPage{TotalResults: len(ids)}
	for i := offset; i < end; i++ {
		page.Items = append(page.Items, models.RemoteMember{RemoteVideoID: ids[i], Position: i, Title: m.titles[ids[i]]})
	}
	if end < len(ids) {
		page.NextPageToken = strconv.Itoa(end)
	}
	if m.NextToken != nil {
		page.NextPageToken = m.NextToken(pageToken)
	}
	return page, nil
}

func (m *MockCollectionClient) GetItemDetailsBatch(ctx context.Context, remoteIDs []string) ([]*models.Video, error) {
	if err := m.record(MethodDetails); err != nil {
		return nil, err
	}
	if len(remoteIDs) > 50 {
		return nil, fmt.Errorf("%w: batch of %d", shared.ErrInvalidArgument, len(remoteIDs))
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var videos []*models.Video
	for _, id := range remoteIDs {
		title, ok := m.titles[id]
		if !ok || m.unavailable[id] {
			continue
		}
		v := models.NewVideo(id, title)
		v.ChannelTitle = "mock channel"
		videos = append(videos, v)
	}
	return videos, nil
}

func (m *MockCollectionClient) RefreshCredentials(ctx context.Context) error {
	return m.record(MethodRefresh)
}

// NewTestDB opens an in-memory database with every migration applied. It is closed when the test ends.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()
	return openTestDB(t, ":memory:")
}

// NewFileTestDB opens a migrated database file in a temporary directory, for tests that need several connections.
func NewFileTestDB(t *testing.T) *sql.DB {
	t.Helper()
	return openTestDB(t, filepath.Join(t.TempDir(), "test.db"))
}

func openTestDB(t *testing.T, path string) *sql.DB {
	t.Helper()

	db, err := shared.NewDatabase(path)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if path == ":memory:" {
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			t.Fatalf("failed to enable foreign keys: %v", err)
		}
	}
	if err := shared.RunMigrations(db); err != nil {
		t.Fatalf("failed to run migrations: %v", err)
	}
	return db
}

// FWriter always returns an error on Write
type FWriter struct{}

func (f *FWriter) Write(p []byte) (n int, err error) {
	return 0, errors.New("write failed")
}

// LimitedWriter fails after a certain number of writes
type LimitedWriter struct {
	maxWrites int
	written   int
	target    io.Writer
}

func (l *LimitedWriter) Write(p []byte) (n int, err error) {
	if l.written >= l.maxWrites {
		return 0, errors.New("write limit exceeded")
	}
	l.written++
	return l.target.Write(p)
}

func NewLimitedWriter(maxWrites, written int, target io.Writer) LimitedWriter {
	return LimitedWriter{maxWrites: maxWrites, written: written, target: target}
}

func MustReadFile(t *testing.T, path string) string {
	t.Helper()
	content, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read file %s: %v", path, err)
	}
	return string(content)
}

func AssertFileExists(t *testing.T, path string) {
	t.Helper()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Errorf("File does not exist: %s", path)
	}
}

func AssertDirExists(t *testing.T, path string) {
	t.Helper()
	info, err := os.Stat(path)
	if err != nil {
		t.Errorf("Directory does not exist: %s", path)
		return
	}
	if !info.IsDir() {
		t.Errorf("Path is not a directory: %s", path)
	}
}
