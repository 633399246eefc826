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

// QuotaRepository persists daily quota usage and the reservation log.
type QuotaRepository struct {
	db *sql.DB
}

// NewQuotaRepository creates a new QuotaRepository with the given database connection
func NewQuotaRepository(db *sql.DB) *QuotaRepository {
	return &QuotaRepository{db: db}
}

// Reserve checks and records a reservation of cost units against day in one transaction.
//
// The day row is created on first use with the given limit; a changed limit is applied to the existing row.
// The increment is conditional on used + cost <= limit, so two concurrent reservations can never both pass
// the check on the same remaining budget. When the reservation does not fit, nothing is written and ok is false.
// The returned usage reflects the state after the reservation, or the unchanged state on rejection.
func (r *QuotaRepository) Reserve(ctx context.Context, day, operation string, cost, limit int, now time.Time) (usage models.QuotaUsage, ok bool, err error) {
	if cost < 0 {
		return usage, false, fmt.Errorf("%w: negative quota cost %d", shared.ErrInvalidInput, cost)
	}
	if limit <= 0 {
		return usage, false, fmt.Errorf("%w: quota limit must be positive", shared.ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return usage, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO quota_usage (day, used, quota_limit, updated_at) VALUES (?, 0, ?, ?)
		ON CONFLICT(day) DO UPDATE SET quota_limit = excluded.quota_limit
		WHERE quota_usage.quota_limit != excluded.quota_limit
	`, day, limit, now)
	if err != nil {
		return usage, false, fmt.Errorf("failed to ensure quota day: %w", err)
	}

	result, err := tx.ExecContext(ctx,
		`UPDATE quota_usage SET used = used + ?, updated_at = ? WHERE day = ? AND used + ? <= quota_limit`,
		cost, now, day, cost,
	)
	if err != nil {
		return usage, false, fmt.Errorf("failed to reserve quota: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return usage, false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	if rows == 0 {
		usage, err = usageFor(ctx, tx, day)
		return usage, false, err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO quota_operations (id, day, operation, cost, created_at) VALUES (?, ?, ?, ?, ?)`,
		shared.GenerateID(), day, operation, cost, now,
	)
	if err != nil {
		return usage, false, fmt.Errorf("failed to record quota operation: %w", err)
	}

	if usage, err = usageFor(ctx, tx, day); err != nil {
		return usage, false, err
	}
	if err := tx.Commit(); err != nil {
		return usage, false, fmt.Errorf("failed to commit quota reservation: %w", err)
	}
	return usage, true, nil
}

// Usage returns the usage row for day. A day without reservations reports zero used against limit.
func (r *QuotaRepository) Usage(ctx context.Context, day string, limit int) (models.QuotaUsage, error) {
	usage, err := usageFor(ctx, r.db, day)
	if errors.Is(err, shared.ErrNotFound) {
		return models.QuotaUsage{Day: day, Limit: limit}, nil
	}
	return usage, err
}

// History returns the most recent usage rows, newest first.
func (r *QuotaRepository) History(ctx context.Context, days int) ([]models.QuotaUsage, error) {
	if days <= 0 {
		days = 7
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT day, used, quota_limit, updated_at FROM quota_usage ORDER BY day DESC LIMIT ?`, days)
	if err != nil {
		return nil, fmt.Errorf("failed to query quota history: %w", err)
	}
	defer rows.Close()

	var history []models.QuotaUsage
	for rows.Next() {
		var u models.QuotaUsage
		if err := rows.Scan(&u.Day, &u.Used, &u.Limit, &u.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan quota usage: %w", err)
		}
		history = append(history, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return history, nil
}

// Operations returns per-operation totals for day, most expensive first.
func (r *QuotaRepository) Operations(ctx context.Context, day string) ([]models.OperationTotal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT operation, COUNT(*), COALESCE(SUM(cost), 0)
		FROM quota_operations
		WHERE day = ?
		GROUP BY operation
		ORDER BY SUM(cost) DESC, operation ASC
	`, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query quota operations: %w", err)
	}
	defer rows.Close()

	var totals []models.OperationTotal
	for rows.Next() {
		var t models.OperationTotal
		if err := rows.Scan(&t.Operation, &t.Calls, &t.Cost); err != nil {
			return nil, fmt.Errorf("failed to scan operation total: %w", err)
		}
		totals = append(totals, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return totals, nil
}

// Log returns the raw reservation log for day in insertion order.
func (r *QuotaRepository) Log(ctx context.Context, day string) ([]models.QuotaOperation, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, day, operation, cost, created_at FROM quota_operations WHERE day = ? ORDER BY created_at ASC, rowid ASC`, day)
	if err != nil {
		return nil, fmt.Errorf("failed to query quota log: %w", err)
	}
	defer rows.Close()

	var ops []models.QuotaOperation
	for rows.Next() {
		var op models.QuotaOperation
		if err := rows.Scan(&op.ID, &op.Day, &op.Operation, &op.Cost, &op.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan quota operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return ops, nil
}

func usageFor(ctx context.Context, q Querier, day string) (models.QuotaUsage, error) {
	u := models.QuotaUsage{Day: day}
	err := q.QueryRowContext(ctx,
		`SELECT used, quota_limit, updated_at FROM quota_usage WHERE day = ?`, day,
	).Scan(&u.Used, &u.Limit, &u.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return u, fmt.Errorf("%w: quota day %s", shared.ErrNotFound, day)
	}
	if err != nil {
		return u, fmt.Errorf("failed to read quota usage: %w", err)
	}
	return u, nil
}
