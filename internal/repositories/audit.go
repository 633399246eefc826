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

const auditColumns = `id, sequence, collection_id, status, started_at, completed_at, added, removed, reordered, skipped,
	quota_used, error_message`

// AuditRepository stores one row per synchronization attempt.
type AuditRepository struct {
	db Querier
}

// NewAuditRepository creates a new AuditRepository with the given database connection
func NewAuditRepository(db Querier) *AuditRepository {
	return &AuditRepository{db: db}
}

// Create inserts an open audit row. ID and Sequence are written back to a.
func (r *AuditRepository) Create(ctx context.Context, a *models.SyncAudit) error {
	if a.CollectionID == "" {
		return fmt.Errorf("%w: audit requires a collection", shared.ErrInvalidInput)
	}

	sequence, err := NextSequence(ctx, r.db, "sync_audits")
	if err != nil {
		return fmt.Errorf("failed to generate sequence: %w", err)
	}

	id := shared.GenerateID()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sync_audits (id, sequence, collection_id, status, started_at)
		VALUES (?, ?, ?, ?, ?)
	`, id, sequence, a.CollectionID, a.Status, a.StartedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit: %w", err)
	}

	a.ID = id
	a.Sequence = sequence
	return nil
}

// Finish closes an open audit row with its final status and counts.
func (r *AuditRepository) Finish(ctx context.Context, a *models.SyncAudit) error {
	var message sql.NullString
	if a.ErrorMessage != "" {
		message = sql.NullString{String: a.ErrorMessage, Valid: true}
	}

	result, err := r.db.ExecContext(ctx, `
		UPDATE sync_audits
		SET status = ?, completed_at = ?, added = ?, removed = ?, reordered = ?, skipped = ?, quota_used = ?, error_message = ?
		WHERE id = ? AND status = ?
	`, a.Status, nullTime(a.CompletedAt), a.Added, a.Removed, a.Reordered, a.Skipped, a.QuotaUsed, message,
		a.ID, models.StatusInProgress)
	if err := expectRows(result, err, fmt.Errorf("%w: audit %s is not open", shared.ErrConflict, a.ID)); err != nil {
		return fmt.Errorf("failed to finish audit: %w", err)
	}
	return nil
}

// FailOpen closes every open audit of a collection as failed, returning how many were closed.
func (r *AuditRepository) FailOpen(ctx context.Context, collectionID, message string, at time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE sync_audits SET status = ?, completed_at = ?, error_message = ?
		WHERE collection_id = ? AND status = ?
	`, models.StatusFailed, at, message, collectionID, models.StatusInProgress)
	if err != nil {
		return 0, fmt.Errorf("failed to close open audits: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return int(rows), nil
}

// Get retrieves an audit by ID.
func (r *AuditRepository) Get(ctx context.Context, id string) (*models.SyncAudit, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+auditColumns+` FROM sync_audits WHERE id = ?`, id)
	a, err := scanAudit(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: audit %s", shared.ErrNotFound, id)
	}
	return a, err
}

// List returns the newest audits first. An empty collectionID lists every collection; limit <= 0 means no limit.
func (r *AuditRepository) List(ctx context.Context, collectionID string, limit int) ([]models.SyncAudit, error) {
	query := `SELECT ` + auditColumns + ` FROM sync_audits`
	args := []any{}
	if collectionID != "" {
		query += " WHERE collection_id = ?"
		args = append(args, collectionID)
	}
	query += " ORDER BY sequence DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audits: %w", err)
	}
	defer rows.Close()

	var audits []models.SyncAudit
	for rows.Next() {
		a, err := scanAudit(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit: %w", err)
		}
		audits = append(audits, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return audits, nil
}

func scanAudit(row rowScanner) (*models.SyncAudit, error) {
	var (
		a           models.SyncAudit
		status      string
		completedAt sql.NullTime
		message     sql.NullString
	)
	err := row.Scan(&a.ID, &a.Sequence, &a.CollectionID, &status, &a.StartedAt, &completedAt,
		&a.Added, &a.Removed, &a.Reordered, &a.Skipped, &a.QuotaUsed, &message)
	if err != nil {
		return nil, err
	}
	a.Status = models.SyncStatus(status)
	a.CompletedAt = timePtr(completedAt)
	a.ErrorMessage = message.String
	return &a, nil
}
