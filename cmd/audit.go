package main

import (
	"context"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/repositories"
)

type auditRow struct {
	ID           string     `json:"id"`
	CollectionID string     `json:"collection_id"`
	Status       string     `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Added        int        `json:"added"`
	Removed      int        `json:"removed"`
	Reordered    int        `json:"reordered"`
	Skipped      int        `json:"skipped"`
	QuotaUsed    int        `json:"quota_used"`
	Error        string     `json:"error,omitempty"`
}

func toAuditRow(a models.SyncAudit) auditRow {
	return auditRow{
		ID:           a.ID,
		CollectionID: a.CollectionID,
		Status:       string(a.Status),
		StartedAt:    a.StartedAt,
		CompletedAt:  a.CompletedAt,
		Added:        a.Added,
		Removed:      a.Removed,
		Reordered:    a.Reordered,
		Skipped:      a.Skipped,
		QuotaUsed:    a.QuotaUsed,
		Error:        a.ErrorMessage,
	}
}

// AuditList prints sync audits newest first, for one collection or all of them.
func (r *Runner) AuditList(ctx context.Context, cmd *cli.Command) error {
	var collectionID string
	if ref := cmd.Args().First(); ref != "" {
		c, err := r.findCollection(ctx, ref)
		if err != nil {
			return err
		}
		collectionID = c.ID()
	}

	db, err := r.database()
	if err != nil {
		return err
	}

	audits, err := repositories.NewAuditRepository(db).List(ctx, collectionID, cmd.Int("limit"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		rows := make([]auditRow, len(audits))
		for i, a := range audits {
			rows[i] = toAuditRow(a)
		}
		return r.writeJSON(rows, cmd.Bool("pretty"))
	}

	if len(audits) == 0 {
		return r.writePlain("No sync attempts recorded.\n")
	}

	r.writePlainHeader("Sync audit")
	for _, a := range audits {
		r.writePlain("%s  %-11s  +%d -%d ~%d  skipped %d  quota %d  %s\n",
			a.StartedAt.Local().Format("2006-01-02 15:04:05"), a.Status,
			a.Added, a.Removed, a.Reordered, a.Skipped, a.QuotaUsed, a.CollectionID)
		if a.ErrorMessage != "" {
			r.writePlain("    error: %s\n", a.ErrorMessage)
		}
	}
	return nil
}
