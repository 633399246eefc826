// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

// withJSON appends fresh --json and --pretty flags. Flags hold parsed state, so every command gets its own.
func withJSON(flags ...cli.Flag) []cli.Flag {
	return append(flags,
		&cli.BoolFlag{
			Name:  "json",
			Usage: "Output raw JSON",
		},
		&cli.BoolFlag{
			Name:  "pretty",
			Usage: "Pretty-print output",
			Value: true,
		},
	)
}

func batchFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "concurrency",
			Usage: "Playlists synced at once (default: sync.concurrency)",
		},
		&cli.FloatFlag{
			Name:  "rate",
			Usage: "Syncs started per second (default: sync.rate_limit)",
		},
	}
}

// setupCommand handles setup operations for configuration and the database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Create the config file if needed, initialize the database and run migrations",
				Action: r.SetupDatabase,
			},
			{
				Name:   "status",
				Usage:  "Show applied and pending migrations",
				Action: r.SetupStatus,
			},
			{
				Name:   "rollback",
				Usage:  "Roll back the most recent migration",
				Action: r.SetupRollback,
			},
		},
	}
}

// authCommand handles OAuth authorization against the YouTube Data API.
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "YouTube authorization",
		Commands: []*cli.Command{
			{
				Name:   "login",
				Usage:  "Authorize with Google using OAuth2 and save the token to the config file",
				Action: r.AuthLogin,
			},
			{
				Name:   "status",
				Usage:  "Show which credentials are configured",
				Action: r.AuthStatus,
			},
		},
	}
}

// collectionCommand manages the collections registered for mirroring.
func collectionCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "collection",
		Aliases: []string{"collections", "playlist"},
		Usage:   "Manage mirrored playlists",
		Commands: []*cli.Command{
			{
				Name:      "import",
				Usage:     "Register playlists by id or URL",
				ArgsUsage: "<playlist>...",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "sync",
						Usage: "Sync each playlist right after importing it",
					},
				},
				Action: r.CollectionImport,
			},
			{
				Name:    "list",
				Aliases: []string{"ls"},
				Usage:   "List registered playlists",
				Flags: withJSON(
					&cli.StringFlag{
						Name:  "status",
						Usage: "Only show playlists with this sync status (pending, in_progress, completed, failed)",
					},
				),
				Action: r.CollectionList,
			},
			{
				Name:      "show",
				Usage:     "Show a playlist and its videos",
				ArgsUsage: "<playlist>",
				Flags:     withJSON(),
				Action:    r.CollectionShow,
			},
			{
				Name:      "refresh",
				Usage:     "Refresh playlist title and description without syncing membership",
				ArgsUsage: "<playlist>",
				Action:    r.CollectionRefresh,
			},
			{
				Name:      "remove",
				Aliases:   []string{"rm"},
				Usage:     "Stop mirroring a playlist, keeping its history",
				ArgsUsage: "<playlist>",
				Action:    r.CollectionRemove,
			},
		},
	}
}

// syncCommand runs synchronizations.
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Synchronize playlists with YouTube",
		Commands: []*cli.Command{
			{
				Name:      "run",
				Usage:     "Sync one or more playlists",
				ArgsUsage: "<playlist>...",
				Flags:     withJSON(batchFlags()...),
				Action:    r.SyncRun,
			},
			{
				Name:   "all",
				Usage:  "Sync every registered playlist",
				Flags:  withJSON(batchFlags()...),
				Action: r.SyncAll,
			},
			{
				Name:      "unlock",
				Usage:     "Release a playlist left in_progress by an interrupted sync",
				ArgsUsage: "<playlist>",
				Action:    r.SyncUnlock,
			},
		},
	}
}

// quotaCommand reports API quota consumption.
func quotaCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "quota",
		Usage: "Show YouTube Data API quota usage",
		Commands: []*cli.Command{
			{
				Name:   "status",
				Usage: "Show today's usage broken down by operation",
				Flags: withJSON(
					&cli.BoolFlag{
						Name:  "log",
						Usage: "Include every reservation made today",
					},
				),
				Action: r.QuotaStatus,
			},
			{
				Name:  "history",
				Usage: "Show usage for recent days",
				Flags: withJSON(
					&cli.IntFlag{
						Name:  "days",
						Usage: "Number of days to show",
						Value: 7,
					},
				),
				Action: r.QuotaHistory,
			},
		},
	}
}

// auditCommand lists sync audit records.
func auditCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "audit",
		Usage: "Inspect the sync audit trail",
		Commands: []*cli.Command{
			{
				Name:      "list",
				Usage:     "List sync attempts, newest first",
				ArgsUsage: "[playlist]",
				Flags: withJSON(
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of records (0 for all)",
						Value: 20,
					},
				),
				Action: r.AuditList,
			},
		},
	}
}

// exportCommand writes a mirrored playlist to disk.
func exportCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:      "export",
		Usage:     "Export a mirrored playlist as CSV, Markdown or JSON",
		ArgsUsage: "<playlist>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "Output format (csv, markdown, json)",
				Value:   "json",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output path; a directory for markdown, a base name for csv",
			},
		},
		Action: r.Export,
	}
}

// serveCommand exposes status endpoints and Prometheus metrics.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve status endpoints and metrics over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (default: server.host:server.port)",
			},
		},
		Action: r.Serve,
	}
}

// tuiCommand launches the interactive terminal UI.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "tui",
		Usage:  "Browse and sync playlists interactively",
		Action: r.TUI,
	}
}
