package main

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/shared"
)

type quotaRow struct {
	Day        string           `json:"day"`
	Used       int              `json:"used"`
	Limit      int              `json:"limit"`
	Remaining  int              `json:"remaining"`
	Operations []operationTotal `json:"operations,omitempty"`
	Log        []quotaLogEntry  `json:"log,omitempty"`
}

type quotaLogEntry struct {
	At        time.Time `json:"at"`
	Operation string    `json:"operation"`
	Cost      int       `json:"cost"`
}

type operationTotal struct {
	Operation string `json:"operation"`
	Calls     int    `json:"calls"`
	Cost      int    `json:"cost"`
}

func toQuotaRow(u models.QuotaUsage) quotaRow {
	return quotaRow{Day: u.Day, Used: u.Used, Limit: u.Limit, Remaining: u.Remaining()}
}

// QuotaStatus shows today's consumption against the daily budget.
func (r *Runner) QuotaStatus(ctx context.Context, cmd *cli.Command) error {
	ledger, err := r.quotaLedger()
	if err != nil {
		return err
	}

	usage, err := ledger.Usage(ctx)
	if err != nil {
		return err
	}
	ops, err := ledger.Operations(ctx, usage.Day)
	if err != nil {
		return err
	}

	row := toQuotaRow(usage)
	for _, op := range ops {
		row.Operations = append(row.Operations, operationTotal{Operation: op.Operation, Calls: op.Calls, Cost: op.Cost})
	}

	if cmd.Bool("log") {
		entries, err := ledger.Log(ctx, usage.Day)
		if err != nil {
			return err
		}
		for _, e := range entries {
			row.Log = append(row.Log, quotaLogEntry{At: e.CreatedAt, Operation: e.Operation, Cost: e.Cost})
		}
	}

	if cmd.Bool("json") {
		return r.writeJSON(row, cmd.Bool("pretty"))
	}

	r.writePlainHeader(fmt.Sprintf("Quota for %s (UTC)", usage.Day))
	r.writePlain("Used:      %d / %d\n", usage.Used, usage.Limit)
	r.writePlain("Remaining: %d\n", usage.Remaining())
	if len(ops) > 0 {
		r.writePlainln("By operation")
		for _, op := range ops {
			r.writePlain("  %-22s %5d calls  %6d units\n", op.Operation, op.Calls, op.Cost)
		}
	}
	if len(row.Log) > 0 {
		r.writePlainln("Reservations")
		for _, e := range row.Log {
			r.writePlain("  %s  %-22s %6d units\n", e.At.UTC().Format(time.TimeOnly), e.Operation, e.Cost)
		}
	}
	return nil
}

// QuotaHistory shows daily totals for the most recent days that had activity.
func (r *Runner) QuotaHistory(ctx context.Context, cmd *cli.Command) error {
	days := cmd.Int("days")
	if days <= 0 {
		return fmt.Errorf("%w: --days must be positive", shared.ErrInvalidFlag)
	}

	ledger, err := r.quotaLedger()
	if err != nil {
		return err
	}

	history, err := ledger.History(ctx, days)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		rows := make([]quotaRow, len(history))
		for i, u := range history {
			rows[i] = toQuotaRow(u)
		}
		return r.writeJSON(rows, cmd.Bool("pretty"))
	}

	if len(history) == 0 {
		return r.writePlain("No quota usage recorded.\n")
	}

	r.writePlainHeader("Quota history (UTC)")
	for _, u := range history {
		r.writePlain("%s  %6d / %d\n", u.Day, u.Used, u.Limit)
	}
	return nil
}
