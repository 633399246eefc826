// package models defines the data model for the playlist mirror
package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/ytsync/internal/shared"
)

// Model defines the base interface for persistent entities with their own lifecycle.
// Implementations include Collection and Video.
type Model interface {
	ID() string           // ID returns the unique identifier for this model
	CreatedAt() time.Time // CreatedAt returns when this model was created
	UpdatedAt() time.Time // UpdatedAt returns when this model was last updated
	Validate() error      // Validate checks if the model's data is valid and returns an error if not
}

// Repository defines the interface for data access operations.
// Implementations handle database interactions for specific model types.
type Repository[T Model] interface {
	Create(ctx context.Context, model T) error                      // Create inserts a new model into the database
	Get(ctx context.Context, id string) (T, error)                  // Get retrieves a model by its ID
	Update(ctx context.Context, model T) error                      // Update modifies an existing model in the database
	Delete(ctx context.Context, id string) error                    // Delete removes a model from the database by its ID
	List(ctx context.Context, criteria map[string]any) ([]T, error) // List retrieves all models matching the given criteria
}

// SyncStatus is the synchronization state of a collection. The in_progress value doubles as the collection lock.
type SyncStatus string

const (
	StatusPending    SyncStatus = "pending"
	StatusInProgress SyncStatus = "in_progress"
	StatusCompleted  SyncStatus = "completed"
	StatusFailed     SyncStatus = "failed"
)

// Valid reports whether s is a known status.
func (s SyncStatus) Valid() bool {
	switch s {
	case StatusPending, StatusInProgress, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

func (s SyncStatus) String() string { return string(s) }

// entity carries identity and timestamps for persistent models.
type entity struct {
	id        string
	createdAt time.Time
	updatedAt time.Time
}

func newEntity(now time.Time) entity {
	return entity{createdAt: now, updatedAt: now}
}

func (e *entity) ID() string { return e.id }
func (e *entity) SetID(id string) { e.id = id }
func (e *entity) CreatedAt() time.Time { return e.createdAt }
func (e *entity) UpdatedAt() time.Time { return e.updatedAt }
func (e *entity) SetUpdatedAt(t time.Time) { e.updatedAt = t }

// Restore sets identity and timestamps read back from storage.
func (e *entity) Restore(id string, createdAt, updatedAt time.Time) {
	e.id = id
	e.createdAt = createdAt
	e.updatedAt = updatedAt
}

// Collection is the local mirror of a remote playlist.
type Collection struct {
	entity
	Sequence     int
	RemoteID     string
	Title        string
	Description  string
	ChannelTitle string
	ItemCount    int
	Status       SyncStatus
	LastSyncedAt *time.Time
	DeletedAt    *time.Time
}

// NewCollection creates a pending collection for the given remote playlist.
func NewCollection(remoteID, title string) *Collection {
	return &Collection{
		entity:   newEntity(time.Now().UTC()),
		RemoteID: remoteID,
		Title:    title,
		Status:   StatusPending,
	}
}

// Validate checks required fields.
func (c *Collection) Validate() error {
	if strings.TrimSpace(c.RemoteID) == "" {
		return fmt.Errorf("%w: collection remote id is required", shared.ErrInvalidInput)
	}
	if c.ItemCount < 0 {
		return fmt.Errorf("%w: collection item count cannot be negative", shared.ErrInvalidInput)
	}
	if !c.Status.Valid() {
		return fmt.Errorf("%w: unknown sync status %q", shared.ErrInvalidInput, c.Status)
	}
	return nil
}

// ApplyRemote copies remote metadata onto the collection.
func (c *Collection) ApplyRemote(rc *RemoteCollection) {
	c.Title = rc.Title
	c.Description = rc.Description
	c.ChannelTitle = rc.ChannelTitle
}

// Video is a cached remote item. Videos are upserted by remote id and never deleted by a sync.
type Video struct {
	entity
	RemoteID     string
	Title        string
	Description  string
	ChannelTitle string
	Duration     time.Duration
	PublishedAt  *time.Time
	ThumbnailURL string
}

// NewVideo creates a video keyed by its remote id.
func NewVideo(remoteID, title string) *Video {
	return &Video{entity: newEntity(time.Now().UTC()), RemoteID: remoteID, Title: title}
}

func (v *Video) Validate() error {
	if strings.TrimSpace(v.RemoteID) == "" {
		return fmt.Errorf("%w: video remote id is required", shared.ErrInvalidInput)
	}
	if v.Duration < 0 {
		return fmt.Errorf("%w: video duration cannot be negative", shared.ErrInvalidInput)
	}
	return nil
}

// URL returns the watch page of the video.
func (v *Video) URL() string {
	return "https://www.youtube.com/watch?v=" + v.RemoteID
}

// Member links a collection to a video at a zero-based position.
// RemovedAt is the tombstone: nil while the member is active.
type Member struct {
	ID            string
	CollectionID  string
	VideoID       string
	RemoteVideoID string
	Position      int
	AddedAt       time.Time
	RemovedAt     *time.Time
}

// Active reports whether the member has not been tombstoned.
func (m Member) Active() bool { return m.RemovedAt == nil }

// MemberView is an active member joined with its video metadata, used for listings and exports.
type MemberView struct {
	Member
	Title        string
	ChannelTitle string
	Duration     time.Duration
	ThumbnailURL string
}

// URL returns the watch page of the member's video.
func (v MemberView) URL() string {
	return "https://www.youtube.com/watch?v=" + v.RemoteVideoID
}

// RemoteCollection is playlist metadata reported by the remote source.
type RemoteCollection struct {
	RemoteID     string
	Title        string
	Description  string
	ChannelTitle string
	ItemCount    int
}

// RemoteMember is one entry of the remote membership listing.
type RemoteMember struct {
	RemoteVideoID string
	Position      int
	Title         string
}

// MembershipPage is one page of remote membership.
type MembershipPage struct {
	Items         []RemoteMember
	NextPageToken string
	TotalResults  int
}

// SyncAudit records one synchronization attempt.
type SyncAudit struct {
	ID           string
	Sequence     int
	CollectionID string
	Status       SyncStatus
	StartedAt    time.Time
	CompletedAt  *time.Time
	Added        int
	Removed      int
	Reordered    int
	Skipped      int
	QuotaUsed    int
	ErrorMessage string
}

// Duration returns how long the attempt ran, or zero while it is still open.
func (a SyncAudit) Duration() time.Duration {
	if a.CompletedAt == nil {
		return 0
	}
	return a.CompletedAt.Sub(a.StartedAt)
}

// QuotaUsage is the consumption of one UTC calendar day.
type QuotaUsage struct {
	Day       string
	Used      int
	Limit     int
	UpdatedAt time.Time
}

// Remaining returns the units left for the day, never negative.
func (u QuotaUsage) Remaining() int {
	return max(u.Limit-u.Used, 0)
}

// QuotaOperation is an append-only record of a single reservation.
type QuotaOperation struct {
	ID        string
	Day       string
	Operation string
	Cost      int
	CreatedAt time.Time
}

// OperationTotal aggregates reservations for one operation type on a day.
type OperationTotal struct {
	Operation string
	Calls     int
	Cost      int
}
