package ui

import (
	"context"
	"database/sql"

	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/repositories"
	"github.com/desertthunder/ytsync/internal/tasks"
)

// Library reads the local mirror.
type Library interface {
	Collections(ctx context.Context) ([]*models.Collection, error)
	Members(ctx context.Context, collectionID string) ([]models.MemberView, error)
}

// Syncer runs one collection sync. [tasks.SyncEngine] implements it.
type Syncer interface {
	Sync(ctx context.Context, collectionID string, progress chan<- tasks.ProgressUpdate) *tasks.SyncResult
}

type repoLibrary struct {
	collections *repositories.CollectionRepository
	members     *repositories.MemberRepository
}

// NewLibrary creates a [Library] backed by the database.
func NewLibrary(db *sql.DB) Library {
	return &repoLibrary{
		collections: repositories.NewCollectionRepository(db),
		members:     repositories.NewMemberRepository(db),
	}
}

func (l *repoLibrary) Collections(ctx context.Context) ([]*models.Collection, error) {
	return l.collections.List(ctx, nil)
}

func (l *repoLibrary) Members(ctx context.Context, collectionID string) ([]models.MemberView, error) {
	return l.members.Views(ctx, collectionID)
}
