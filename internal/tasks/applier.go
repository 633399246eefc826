package tasks

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/desertthunder/ytsync/internal/diff"
	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/repositories"
	"github.com/desertthunder/ytsync/internal/shared"
)

// ApplyResult reports what an applied change set did.
type ApplyResult struct {
	diff.Counts
	Skipped   int // added entries whose video is not cached
	ItemCount int // active members after apply
}

// Applier writes a change set to storage in a single transaction.
type Applier struct {
	db     *sql.DB
	logger *log.Logger
}

// NewApplier creates an Applier over db.
func NewApplier(db *sql.DB, logger *log.Logger) *Applier {
	if logger == nil {
		logger = shared.DiscardLogger()
	}
	return &Applier{db: db, logger: logger}
}

// Apply tombstones removed members, moves reordered members, inserts added members and records the sync on the
// collection. Nothing is written unless every step succeeds.
//
// Moved members are first parked at negative positions so that the active-position index never sees two members
// at the same slot mid-transaction. Added entries referencing a video that is not cached are skipped.
func (a *Applier) Apply(ctx context.Context, collectionID string, cs diff.ChangeSet, now time.Time) (result ApplyResult, err error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return result, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	members := repositories.NewMemberRepository(tx)
	videos := repositories.NewVideoRepository(tx)
	collections := repositories.NewCollectionRepository(tx)

	for _, m := range cs.Removed {
		if err = members.Tombstone(ctx, m.ID, now); err != nil {
			return result, err
		}
	}

	for slot, mv := range cs.Reordered {
		if err = members.Park(ctx, mv.Member.ID, slot); err != nil {
			return result, err
		}
	}
	for _, mv := range cs.Reordered {
		if err = members.SetPosition(ctx, mv.Member.ID, mv.NewPosition); err != nil {
			return result, err
		}
	}

	remoteIDs := make([]string, len(cs.Added))
	for i, rm := range cs.Added {
		remoteIDs[i] = rm.RemoteVideoID
	}
	videoIDs, err := videos.ResolveIDs(ctx, remoteIDs)
	if err != nil {
		return result, err
	}

	added := 0
	for _, rm := range cs.Added {
		videoID, ok := videoIDs[rm.RemoteVideoID]
		if !ok {
			a.logger.Warn("skipping member with unknown video", "collection", collectionID, "video", rm.RemoteVideoID, "position", rm.Position)
			result.Skipped++
			continue
		}
		m := &models.Member{
			CollectionID:  collectionID,
			VideoID:       videoID,
			RemoteVideoID: rm.RemoteVideoID,
			Position:      rm.Position,
			AddedAt:       now,
		}
		if err = members.Insert(ctx, m); err != nil {
			return result, err
		}
		added++
	}

	count, err := members.CountActive(ctx, collectionID)
	if err != nil {
		return result, err
	}
	if err = collections.RecordSync(ctx, collectionID, count, now); err != nil {
		return result, err
	}

	if err = tx.Commit(); err != nil {
		return result, fmt.Errorf("failed to commit changes: %w", err)
	}

	result.Counts = diff.Counts{Added: added, Removed: len(cs.Removed), Reordered: len(cs.Reordered)}
	result.ItemCount = count
	return result, nil
}
