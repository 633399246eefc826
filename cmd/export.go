package main

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/ytsync/internal/formatter"
	"github.com/desertthunder/ytsync/internal/repositories"
)

// Export writes a mirrored collection to disk. JSON without --output goes to stdout.
func (r *Runner) Export(ctx context.Context, cmd *cli.Command) error {
	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	c, err := r.findCollection(ctx, cmd.Args().First())
	if err != nil {
		return err
	}

	members, err := repositories.NewMemberRepository(r.db).Views(ctx, c.ID())
	if err != nil {
		return err
	}
	export := &formatter.Export{Collection: c, Members: members}

	path := cmd.String("output")
	if path == "" {
		switch format {
		case formatter.FormatJSON:
			data, err := formatter.ExportToJSON(export)
			if err != nil {
				return err
			}
			return r.writePlain("%s\n", data)
		case formatter.FormatCSV:
			path = c.RemoteID
		default:
			path = c.RemoteID + "_export"
		}
	}

	files, err := formatter.Write(ctx, export, format, path, func(err error) {
		r.logger.Warn("export warning", "error", err)
	})
	if err != nil {
		return err
	}

	r.logger.Info("collection exported", "collection", c.ID(), "format", format, "videos", len(members))
	r.writePlain("✓ Exported %s (%d videos)\n", c.Title, len(members))
	for _, f := range files {
		r.writePlain("  %s\n", f)
	}
	return nil
}
