package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/urfave/cli/v3"

	"github.com/desertthunder/ytsync/internal/shared"
	"github.com/desertthunder/ytsync/internal/ui"
)

const tuiLogPath = "./tmp/ytsync-tui.log"

// TUI launches the interactive terminal UI for browsing and syncing collections.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger(tuiLogPath)
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)

	engine, err := r.syncEngine(ctx)
	if err != nil {
		return err
	}

	model := ui.NewModel(ctx, ui.NewLibrary(r.db), engine)
	p := tea.NewProgram(model, tea.WithContext(ctx), tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
