package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/shared"
)

// MemberRepository stores collection membership.
//
// Members are never hard-deleted: removal sets removed_at. Positions are unique among the active members of a
// collection, so callers moving members must park them first (see [MemberRepository.Park]).
type MemberRepository struct {
	db Querier
}

// NewMemberRepository creates a new MemberRepository with the given database connection
func NewMemberRepository(db Querier) *MemberRepository {
	return &MemberRepository{db: db}
}

// WithTx returns a repository bound to tx.
func (r *MemberRepository) WithTx(tx *sql.Tx) *MemberRepository {
	return &MemberRepository{db: tx}
}

// Active returns the active members of a collection ordered by position.
func (r *MemberRepository) Active(ctx context.Context, collectionID string) ([]models.Member, error) {
	query := `
		SELECT id, collection_id, video_id, remote_video_id, position, added_at, removed_at
		FROM collection_members
		WHERE collection_id = ? AND removed_at IS NULL
		ORDER BY position ASC
	`
	rows, err := r.db.QueryContext(ctx, query, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	defer rows.Close()

	var members []models.Member
	for rows.Next() {
		var (
			m         models.Member
			removedAt sql.NullTime
		)
		if err := rows.Scan(&m.ID, &m.CollectionID, &m.VideoID, &m.RemoteVideoID, &m.Position, &m.AddedAt, &removedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		m.RemovedAt = timePtr(removedAt)
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return members, nil
}

// Views returns the active members of a collection joined with their video metadata, ordered by position.
func (r *MemberRepository) Views(ctx context.Context, collectionID string) ([]models.MemberView, error) {
	query := `
		SELECT m.id, m.collection_id, m.video_id, m.remote_video_id, m.position, m.added_at,
			v.title, v.channel_title, v.duration_seconds, v.thumbnail_url
		FROM collection_members m
		JOIN videos v ON v.id = m.video_id
		WHERE m.collection_id = ? AND m.removed_at IS NULL
		ORDER BY m.position ASC
	`
	rows, err := r.db.QueryContext(ctx, query, collectionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query member views: %w", err)
	}
	defer rows.Close()

	var views []models.MemberView
	for rows.Next() {
		var (
			v       models.MemberView
			seconds int64
		)
		if err := rows.Scan(&v.ID, &v.CollectionID, &v.VideoID, &v.RemoteVideoID, &v.Position, &v.AddedAt,
			&v.Title, &v.ChannelTitle, &seconds, &v.ThumbnailURL); err != nil {
			return nil, fmt.Errorf("failed to scan member view: %w", err)
		}
		v.Duration = time.Duration(seconds) * time.Second
		views = append(views, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return views, nil
}

// Insert adds an active member. The generated id is written back to m.
func (r *MemberRepository) Insert(ctx context.Context, m *models.Member) error {
	if m.CollectionID == "" || m.VideoID == "" {
		return fmt.Errorf("%w: member requires collection and video", shared.ErrInvalidInput)
	}
	if m.Position < 0 {
		return fmt.Errorf("%w: member position %d is negative", shared.ErrInvalidInput, m.Position)
	}

	id := shared.GenerateID()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO collection_members (id, collection_id, video_id, remote_video_id, position, added_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, id, m.CollectionID, m.VideoID, m.RemoteVideoID, m.Position, m.AddedAt)
	if err != nil {
		return fmt.Errorf("failed to insert member %s: %w", m.RemoteVideoID, err)
	}

	m.ID = id
	return nil
}

// Tombstone marks an active member as removed.
func (r *MemberRepository) Tombstone(ctx context.Context, id string, at time.Time) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE collection_members SET removed_at = ? WHERE id = ? AND removed_at IS NULL`, at, id)
	if err := expectRows(result, err, fmt.Errorf("%w: member %s is not active", shared.ErrConflict, id)); err != nil {
		return fmt.Errorf("failed to tombstone member: %w", err)
	}
	return nil
}

// Park moves an active member to a temporary negative position so final positions can be assigned without
// colliding on the active-position index. slot must be unique within the transaction.
func (r *MemberRepository) Park(ctx context.Context, id string, slot int) error {
	return r.setPosition(ctx, id, -(slot + 1))
}

// SetPosition moves an active member to position.
func (r *MemberRepository) SetPosition(ctx context.Context, id string, position int) error {
	if position < 0 {
		return fmt.Errorf("%w: member position %d is negative", shared.ErrInvalidInput, position)
	}
	return r.setPosition(ctx, id, position)
}

func (r *MemberRepository) setPosition(ctx context.Context, id string, position int) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE collection_members SET position = ? WHERE id = ? AND removed_at IS NULL`, position, id)
	if err := expectRows(result, err, fmt.Errorf("%w: member %s is not active", shared.ErrConflict, id)); err != nil {
		return fmt.Errorf("failed to move member: %w", err)
	}
	return nil
}

// CountActive returns the number of active members of a collection.
func (r *MemberRepository) CountActive(ctx context.Context, collectionID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM collection_members WHERE collection_id = ? AND removed_at IS NULL`, collectionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return n, nil
}

// CountRemoved returns the number of tombstoned members of a collection.
func (r *MemberRepository) CountRemoved(ctx context.Context, collectionID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM collection_members WHERE collection_id = ? AND removed_at IS NOT NULL`, collectionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count removed members: %w", err)
	}
	return n, nil
}
