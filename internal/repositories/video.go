package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/shared"
)

const videoColumns = `id, remote_id, title, description, channel_title, duration_seconds, published_at, thumbnail_url,
	created_at, updated_at`

// VideoRepository caches remote items. Videos are only ever upserted.
type VideoRepository struct {
	db Querier
}

// NewVideoRepository creates a new VideoRepository with the given database connection
func NewVideoRepository(db Querier) *VideoRepository {
	return &VideoRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *VideoRepository) WithTx(tx *sql.Tx) *VideoRepository {
	return &VideoRepository{db: tx}
}

// Upsert inserts a video or refreshes its metadata when the remote id is already cached.
// The local id of the stored row is written back to v.
func (r *VideoRepository) Upsert(ctx context.Context, v *models.Video) error {
	if err := v.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	query := `
		INSERT INTO videos (id, remote_id, title, description, channel_title, duration_seconds, published_at, thumbnail_url,
			created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(remote_id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			channel_title = excluded.channel_title,
			duration_seconds = excluded.duration_seconds,
			published_at = excluded.published_at,
			thumbnail_url = excluded.thumbnail_url,
			updated_at = excluded.updated_at
		RETURNING id
	`

	var id string
	err := r.db.QueryRowContext(ctx, query,
		shared.GenerateID(), v.RemoteID, v.Title, v.Description, v.ChannelTitle, int64(v.Duration/time.Second),
		nullTime(v.PublishedAt), v.ThumbnailURL, v.CreatedAt(), now,
	).Scan(&id)
	if err != nil {
		return fmt.Errorf("failed to upsert video %s: %w", v.RemoteID, err)
	}

	v.SetID(id)
	v.SetUpdatedAt(now)
	return nil
}

// Get retrieves a video by local ID
func (r *VideoRepository) Get(ctx context.Context, id string) (*models.Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos WHERE id = ?`
	return scanVideo(r.db.QueryRowContext(ctx, query, id))
}

// GetByRemoteID retrieves a video by its remote id
func (r *VideoRepository) GetByRemoteID(ctx context.Context, remoteID string) (*models.Video, error) {
	query := `SELECT ` + videoColumns + ` FROM videos WHERE remote_id = ?`
	return scanVideo(r.db.QueryRowContext(ctx, query, remoteID))
}

// ResolveIDs maps the given remote ids to local video ids. Unknown remote ids are absent from the result.
func (r *VideoRepository) ResolveIDs(ctx context.Context, remoteIDs []string) (map[string]string, error) {
	resolved := make(map[string]string, len(remoteIDs))

	for chunk := range chunks(remoteIDs, 500) {
		args := make([]any, len(chunk))
		for i, id := range chunk {
			args[i] = id
		}

		rows, err := r.db.QueryContext(ctx,
			`SELECT remote_id, id FROM videos WHERE remote_id IN (`+placeholders(len(chunk))+`)`, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve videos: %w", err)
		}

		for rows.Next() {
			var remoteID, id string
			if err := rows.Scan(&remoteID, &id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan video id: %w", err)
			}
			resolved[remoteID] = id
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("row iteration error: %w", err)
		}
	}

	return resolved, nil
}

// Missing returns the remote ids, in input order and without repeats, that have no cached video.
func (r *VideoRepository) Missing(ctx context.Context, remoteIDs []string) ([]string, error) {
	resolved, err := r.ResolveIDs(ctx, remoteIDs)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(remoteIDs))
	var missing []string
	for _, id := range remoteIDs {
		if _, ok := resolved[id]; ok || seen[id] {
			continue
		}
		seen[id] = true
		missing = append(missing, id)
	}
	return missing, nil
}

// MarkUnavailable records that the remote platform returned no details for remoteIDs at time at.
func (r *VideoRepository) MarkUnavailable(ctx context.Context, remoteIDs []string, at time.Time) error {
	for _, id := range remoteIDs {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO unavailable_videos (remote_id, checked_at) VALUES (?, ?)
			ON CONFLICT(remote_id) DO UPDATE SET checked_at = excluded.checked_at
		`, id, at.UTC())
		if err != nil {
			return fmt.Errorf("failed to mark video %s unavailable: %w", id, err)
		}
	}
	return nil
}

// CheckedUnavailable returns the subset of remoteIDs marked unavailable at or after since.
func (r *VideoRepository) CheckedUnavailable(ctx context.Context, remoteIDs []string, since time.Time) (map[string]bool, error) {
	found := make(map[string]bool)

	for chunk := range chunks(remoteIDs, 500) {
		args := make([]any, 0, len(chunk)+1)
		for _, id := range chunk {
			args = append(args, id)
		}
		args = append(args, since.UTC())

		rows, err := r.db.QueryContext(ctx,
			`SELECT remote_id FROM unavailable_videos WHERE remote_id IN (`+placeholders(len(chunk))+`) AND checked_at >= ?`,
			args...)
		if err != nil {
			return nil, fmt.Errorf("failed to read unavailable videos: %w", err)
		}

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("failed to scan video id: %w", err)
			}
			found[id] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, fmt.Errorf("row iteration error: %w", err)
		}
	}

	return found, nil
}

// Count returns the number of cached videos.
func (r *VideoRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM videos`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count videos: %w", err)
	}
	return n, nil
}

func scanVideo(row rowScanner) (*models.Video, error) {
	var (
		v           models.Video
		id          string
		seconds     int64
		publishedAt sql.NullTime
		createdAt   time.Time
		updatedAt   time.Time
	)

	err := row.Scan(&id, &v.RemoteID, &v.Title, &v.Description, &v.ChannelTitle, &seconds, &publishedAt, &v.ThumbnailURL,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrVideoNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan video: %w", err)
	}

	v.Restore(id, createdAt, updatedAt)
	v.Duration = time.Duration(seconds) * time.Second
	v.PublishedAt = timePtr(publishedAt)
	return &v, nil
}

// chunks yields consecutive slices of s with at most size elements.
func chunks[T any](s []T, size int) func(yield func([]T) bool) {
	return func(yield func([]T) bool) {
		for start := 0; start < len(s); start += size {
			end := min(start+size, len(s))
			if !yield(s[start:end]) {
				return
			}
		}
	}
}
