package main

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/ytsync/internal/repositories"
	"github.com/desertthunder/ytsync/internal/server"
)

// statusRouter mounts the read-only status API and the Prometheus scrape endpoint.
func (r *Runner) statusRouter(ctx context.Context) (*server.BasicRouter, error) {
	db, err := r.database()
	if err != nil {
		return nil, err
	}
	ledger, err := r.quotaLedger()
	if err != nil {
		return nil, err
	}

	if usage, err := ledger.Usage(ctx); err == nil {
		r.metrics.SetQuotaUsage(usage)
	} else {
		r.logger.Warn("failed to read quota usage", "error", err)
	}

	router := server.NewBasicRouter()
	router.Use(server.Recover(r.logger), server.Logging(r.logger))
	router.Handler(server.NewStatusHandler(repositories.NewCollectionRepository(db), ledger, r.circuitBreaker(), r.logger))
	router.Handle(http.MethodGet, r.config.Server.MetricsPath, r.metrics.Handler())
	return router, nil
}

// Serve runs the status and metrics server until interrupted.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	addr := cmd.String("addr")
	if addr == "" {
		addr = net.JoinHostPort(r.config.Server.Host, fmt.Sprint(r.config.Server.Port))
	}

	router, err := r.statusRouter(ctx)
	if err != nil {
		return err
	}

	r.writePlain("→ Serving status on http://%s (metrics at %s)\n", addr, r.config.Server.MetricsPath)
	return server.New(addr, router, r.logger).Run(ctx)
}
