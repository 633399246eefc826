package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/ytsync/internal/formatter"
	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/quota"
	"github.com/desertthunder/ytsync/internal/repositories"
	"github.com/desertthunder/ytsync/internal/shared"
)

type collectionRow struct {
	ID           string     `json:"id"`
	RemoteID     string     `json:"remote_id"`
	Title        string     `json:"title"`
	ChannelTitle string     `json:"channel_title,omitempty"`
	Status       string     `json:"status"`
	ItemCount    int        `json:"item_count"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

func toCollectionRow(c *models.Collection) collectionRow {
	return collectionRow{
		ID:           c.ID(),
		RemoteID:     c.RemoteID,
		Title:        c.Title,
		ChannelTitle: c.ChannelTitle,
		Status:       string(c.Status),
		ItemCount:    c.ItemCount,
		LastSyncedAt: c.LastSyncedAt,
	}
}

// parseRemoteID accepts a bare playlist id or any YouTube URL carrying a list parameter.
func parseRemoteID(arg string) string {
	arg = strings.TrimSpace(arg)
	if u, err := url.Parse(arg); err == nil && u.Host != "" {
		if list := u.Query().Get("list"); list != "" {
			return list
		}
	}
	return arg
}

// findCollection resolves a local id, remote id or playlist URL to a registered collection.
func (r *Runner) findCollection(ctx context.Context, ref string) (*models.Collection, error) {
	if ref == "" {
		return nil, fmt.Errorf("%w: playlist", shared.ErrMissingArgument)
	}

	db, err := r.database()
	if err != nil {
		return nil, err
	}
	repo := repositories.NewCollectionRepository(db)

	c, err := repo.Get(ctx, ref)
	if err == nil {
		return c, nil
	}
	if !errors.Is(err, shared.ErrCollectionNotFound) {
		return nil, err
	}
	c, err = repo.GetByRemoteID(ctx, parseRemoteID(ref))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, ref)
	}
	return c, nil
}

// CollectionImport registers each argument as a mirrored collection.
func (r *Runner) CollectionImport(ctx context.Context, cmd *cli.Command) error {
	args := cmd.Args().Slice()
	if len(args) == 0 {
		return fmt.Errorf("%w: at least one playlist id or URL", shared.ErrMissingArgument)
	}

	engine, err := r.syncEngine(ctx)
	if err != nil {
		return err
	}

	var failed int
	for _, arg := range args {
		remoteID := parseRemoteID(arg)
		c, err := engine.Import(ctx, remoteID)
		if err != nil {
			failed++
			r.logger.Error("import failed", "remote_id", remoteID, "error", err)
			r.writePlain("✗ %s: %v\n", remoteID, err)
			continue
		}
		r.writePlain("✓ %s (%s) %d videos\n", c.Title, c.RemoteID, c.ItemCount)

		if cmd.Bool("sync") {
			if err := r.syncOne(ctx, c.ID(), false, false); err != nil {
				failed++
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d playlists failed", failed, len(args))
	}
	return nil
}

// CollectionList prints registered collections, optionally filtered by sync status.
func (r *Runner) CollectionList(ctx context.Context, cmd *cli.Command) error {
	criteria := map[string]any{}
	if status := cmd.String("status"); status != "" {
		if !models.SyncStatus(status).Valid() {
			return fmt.Errorf("%w: --status %q", shared.ErrInvalidFlag, status)
		}
		criteria["status"] = status
	}

	db, err := r.database()
	if err != nil {
		return err
	}

	collections, err := repositories.NewCollectionRepository(db).List(ctx, criteria)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		rows := make([]collectionRow, len(collections))
		for i, c := range collections {
			rows[i] = toCollectionRow(c)
		}
		return r.writeJSON(rows, cmd.Bool("pretty"))
	}

	if len(collections) == 0 {
		return r.writePlain("No playlists registered. Add one with 'ytsync collection import <playlist>'.\n")
	}

	r.writePlainHeader(fmt.Sprintf("Playlists (%d)", len(collections)))
	for _, c := range collections {
		synced := "never"
		if c.LastSyncedAt != nil {
			synced = c.LastSyncedAt.Local().Format("2006-01-02 15:04")
		}
		r.writePlain("%-36s  %-11s  %4d  %-16s  %s\n", c.ID(), c.Status, c.ItemCount, synced, c.Title)
	}
	return nil
}

// CollectionShow prints a collection and its active members in order.
func (r *Runner) CollectionShow(ctx context.Context, cmd *cli.Command) error {
	c, err := r.findCollection(ctx, cmd.Args().First())
	if err != nil {
		return err
	}

	memberRepo := repositories.NewMemberRepository(r.db)
	members, err := memberRepo.Views(ctx, c.ID())
	if err != nil {
		return err
	}

	export := &formatter.Export{Collection: c, Members: members}
	if cmd.Bool("json") {
		data, err := formatter.ExportToJSON(export)
		if err != nil {
			return err
		}
		return r.writePlain("%s\n", data)
	}

	r.writePlainHeader(c.Title)
	r.writePlain("ID:        %s\n", c.ID())
	r.writePlain("Remote ID: %s\n", c.RemoteID)
	if c.ChannelTitle != "" {
		r.writePlain("Channel:   %s\n", c.ChannelTitle)
	}
	r.writePlain("Status:    %s\n", c.Status)
	if c.LastSyncedAt != nil {
		r.writePlain("Synced:    %s\n", c.LastSyncedAt.Local().Format(time.RFC1123))
	}

	ledger, err := r.quotaLedger()
	if err != nil {
		return err
	}
	r.writePlain("Sync cost: ~%d units to page through %d videos\n", ledger.Estimate(quota.OpPlaylistItems, c.ItemCount), c.ItemCount)

	removed, err := memberRepo.CountRemoved(ctx, c.ID())
	if err != nil {
		return err
	}
	if removed > 0 {
		r.writePlainln("Videos (%d, %d removed since import)", len(members), removed)
	} else {
		r.writePlainln("Videos (%d)", len(members))
	}
	for _, m := range members {
		r.writePlain("%4d. %s  %s  [%s]\n", m.Position+1, m.Title, formatter.FormatDuration(m.Duration), m.RemoteVideoID)
	}
	return nil
}

// CollectionRefresh updates title and description from the remote without touching membership.
func (r *Runner) CollectionRefresh(ctx context.Context, cmd *cli.Command) error {
	c, err := r.findCollection(ctx, cmd.Args().First())
	if err != nil {
		return err
	}

	engine, err := r.syncEngine(ctx)
	if err != nil {
		return err
	}

	c, err = engine.RefreshMetadata(ctx, c.ID())
	if err != nil {
		return err
	}
	return r.writePlain("✓ Refreshed %s\n", c.Title)
}

// CollectionRemove soft-deletes a collection. Its members and audit history are kept,
// and importing the same playlist again restores it.
func (r *Runner) CollectionRemove(ctx context.Context, cmd *cli.Command) error {
	c, err := r.findCollection(ctx, cmd.Args().First())
	if err != nil {
		return err
	}

	if err := repositories.NewCollectionRepository(r.db).Delete(ctx, c.ID()); err != nil {
		return err
	}
	r.logger.Info("collection removed", "id", c.ID(), "remote_id", c.RemoteID)
	return r.writePlain("✓ Removed %s\n", c.Title)
}
