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

const collectionColumns = `id, sequence, remote_id, title, description, channel_title, item_count, sync_status,
	last_synced_at, created_at, updated_at, deleted_at`

var _ models.Repository[*models.Collection] = (*CollectionRepository)(nil)

// CollectionRepository implements models.Repository[*models.Collection].
//
// The sync_status column is the per-collection lock: [CollectionRepository.AcquireLock] is a conditional update,
// so it is correct across processes sharing the database.
type CollectionRepository struct {
	db Querier
}

// NewCollectionRepository creates a new CollectionRepository with the given database connection
func NewCollectionRepository(db Querier) *CollectionRepository {
	return &CollectionRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *CollectionRepository) WithTx(tx *sql.Tx) *CollectionRepository {
	return &CollectionRepository{db: tx}
}

// Create inserts a new collection with generated ID and sequence
func (r *CollectionRepository) Create(ctx context.Context, c *models.Collection) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	sequence, err := NextSequence(ctx, r.db, "collections")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()
	query := `
		INSERT INTO collections (id, sequence, remote_id, title, description, channel_title, item_count, sync_status,
			last_synced_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = r.db.ExecContext(ctx, query,
		id, sequence, c.RemoteID, c.Title, c.Description, c.ChannelTitle, c.ItemCount, c.Status,
		nullTime(c.LastSyncedAt), c.CreatedAt(), c.UpdatedAt(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert collection: %w", err)
	}

	c.SetID(id)
	c.Sequence = sequence
	return nil
}

// Get retrieves a collection by ID, excluding soft-deleted collections
func (r *CollectionRepository) Get(ctx context.Context, id string) (*models.Collection, error) {
	query := `SELECT ` + collectionColumns + ` FROM collections WHERE id = ? AND deleted_at IS NULL`
	return scanCollection(r.db.QueryRowContext(ctx, query, id))
}

// GetByRemoteID retrieves an active collection by its remote playlist id
func (r *CollectionRepository) GetByRemoteID(ctx context.Context, remoteID string) (*models.Collection, error) {
	query := `SELECT ` + collectionColumns + ` FROM collections WHERE remote_id = ? AND deleted_at IS NULL`
	return scanCollection(r.db.QueryRowContext(ctx, query, remoteID))
}

// Revive clears the soft delete of a collection previously removed, reporting whether one existed.
func (r *CollectionRepository) Revive(ctx context.Context, remoteID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE collections SET deleted_at = NULL, sync_status = ?, updated_at = ? WHERE remote_id = ? AND deleted_at IS NOT NULL`,
		models.StatusPending, time.Now().UTC(), remoteID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to revive collection: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

// Update writes remote metadata and the cached item count
func (r *CollectionRepository) Update(ctx context.Context, c *models.Collection) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("validation failed: %w", err)
	}

	now := time.Now().UTC()
	query := `
		UPDATE collections
		SET title = ?, description = ?, channel_title = ?, item_count = ?, updated_at = ?
		WHERE id = ? AND deleted_at IS NULL
	`
	result, err := r.db.ExecContext(ctx, query, c.Title, c.Description, c.ChannelTitle, c.ItemCount, now, c.ID())
	if err := expectRows(result, err, notFound(c.ID())); err != nil {
		return fmt.Errorf("failed to update collection: %w", err)
	}

	c.SetUpdatedAt(now)
	return nil
}

// RecordSync sets the cached item count and last-synced timestamp after an applied change set.
func (r *CollectionRepository) RecordSync(ctx context.Context, id string, itemCount int, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE collections SET item_count = ?, last_synced_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		itemCount, at, at, id,
	)
	if err := expectRows(result, err, notFound(id)); err != nil {
		return fmt.Errorf("failed to record sync: %w", err)
	}
	return nil
}

// Delete soft-deletes a collection by ID. A collection that is syncing cannot be removed.
func (r *CollectionRepository) Delete(ctx context.Context, id string) error {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx,
		`UPDATE collections SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL AND sync_status != ?`,
		now, now, id, models.StatusInProgress,
	)
	if err := expectRows(result, err, notFound(id)); err != nil {
		if errors.Is(err, shared.ErrCollectionNotFound) {
			if c, getErr := r.Get(ctx, id); getErr == nil && c.Status == models.StatusInProgress {
				return fmt.Errorf("%w: %s", shared.ErrSyncInProgress, id)
			}
		}
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return nil
}

// List retrieves collections matching the given criteria, excluding soft-deleted collections.
// Supported criteria: "status" (models.SyncStatus or string).
func (r *CollectionRepository) List(ctx context.Context, criteria map[string]any) ([]*models.Collection, error) {
	query := `SELECT ` + collectionColumns + ` FROM collections WHERE deleted_at IS NULL`
	args := []any{}

	switch status := criteria["status"].(type) {
	case models.SyncStatus:
		query += " AND sync_status = ?"
		args = append(args, string(status))
	case string:
		if status != "" {
			query += " AND sync_status = ?"
			args = append(args, status)
		}
	}

	query += " ORDER BY sequence ASC"

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query collections: %w", err)
	}
	defer rows.Close()

	var collections []*models.Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		collections = append(collections, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return collections, nil
}

// AcquireLock moves a collection into in_progress unless it is already there.
// It reports false when another sync holds the lock.
func (r *CollectionRepository) AcquireLock(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE collections SET sync_status = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL AND sync_status != ?`,
		models.StatusInProgress, time.Now().UTC(), id, models.StatusInProgress,
	)
	if err != nil {
		return false, fmt.Errorf("failed to acquire lock: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// ReleaseLock moves an in_progress collection to its terminal status.
func (r *CollectionRepository) ReleaseLock(ctx context.Context, id string, status models.SyncStatus) error {
	if status != models.StatusCompleted && status != models.StatusFailed {
		return fmt.Errorf("%w: cannot release lock to %s", shared.ErrInvalidInput, status)
	}
	result, err := r.db.ExecContext(ctx,
		`UPDATE collections SET sync_status = ?, updated_at = ? WHERE id = ? AND sync_status = ?`,
		status, time.Now().UTC(), id, models.StatusInProgress,
	)
	if err := expectRows(result, err, fmt.Errorf("%w: %s is not locked", shared.ErrInvalidInput, id)); err != nil {
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}

// ForceUnlock marks a stuck in_progress collection as failed. It reports false when the collection was not locked.
func (r *CollectionRepository) ForceUnlock(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE collections SET sync_status = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL AND sync_status = ?`,
		models.StatusFailed, time.Now().UTC(), id, models.StatusInProgress,
	)
	if err != nil {
		return false, fmt.Errorf("failed to unlock collection: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return rows > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCollection(row rowScanner) (*models.Collection, error) {
	var (
		c            models.Collection
		id           string
		status       string
		lastSyncedAt sql.NullTime
		createdAt    time.Time
		updatedAt    time.Time
		deletedAt    sql.NullTime
	)

	err := row.Scan(&id, &c.Sequence, &c.RemoteID, &c.Title, &c.Description, &c.ChannelTitle, &c.ItemCount, &status,
		&lastSyncedAt, &createdAt, &updatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, shared.ErrCollectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan collection: %w", err)
	}

	c.Restore(id, createdAt, updatedAt)
	c.Status = models.SyncStatus(status)
	c.LastSyncedAt = timePtr(lastSyncedAt)
	c.DeletedAt = timePtr(deletedAt)
	return &c, nil
}

func notFound(id string) error {
	return fmt.Errorf("%w: %s", shared.ErrCollectionNotFound, id)
}
