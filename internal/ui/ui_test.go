package ui

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/ytsync/internal/diff"
	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/tasks"
	tu "github.com/desertthunder/ytsync/internal/testing"
)

type fakeLibrary struct {
	collections []*models.Collection
	members     []models.MemberView
	err         error
}

func (f *fakeLibrary) Collections(ctx context.Context) ([]*models.Collection, error) {
	return f.collections, f.err
}

func (f *fakeLibrary) Members(ctx context.Context, collectionID string) ([]models.MemberView, error) {
	return f.members, f.err
}

type fakeSyncer struct {
	result *tasks.SyncResult
	called string
}

func (f *fakeSyncer) Sync(ctx context.Context, collectionID string, progress chan<- tasks.ProgressUpdate) *tasks.SyncResult {
	f.called = collectionID
	progress <- tasks.ProgressUpdate{Phase: tasks.FetchMembers, Step: 1, Total: 2, Message: "Fetched page 1"}
	progress <- tasks.ProgressUpdate{Phase: tasks.Apply, Step: 1, Total: 1, Message: "Applying"}
	return f.result
}

func keyPress(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func newTestModel(t *testing.T, lib *fakeLibrary, syncer *fakeSyncer) *Model {
	t.Helper()
	m := NewModel(context.Background(), lib, syncer)
	m.Update(tea.WindowSizeMsg{Width: 100, Height: 40})
	m.Update(m.Init()())
	return m
}

func testCollection() *models.Collection {
	c := models.NewCollection("PL1", "Road Trip")
	c.SetID("col-1")
	c.ItemCount = 2
	return c
}

func TestModel(t *testing.T) {
	t.Run("lists collections", func(t *testing.T) {
		m := newTestModel(t, &fakeLibrary{collections: []*models.Collection{testCollection()}}, &fakeSyncer{})

		if m.view != CollectionListView {
			t.Fatalf("expected collection list, got %v", m.view)
		}
		if len(m.collections.Items()) != 1 {
			t.Fatalf("expected 1 collection, got %d", len(m.collections.Items()))
		}
		if !strings.Contains(m.View(), "Road Trip") {
			t.Error("view should show the collection title")
		}
	})

	t.Run("load error", func(t *testing.T) {
		m := newTestModel(t, &fakeLibrary{err: errors.New("db locked")}, &fakeSyncer{})
		if !strings.Contains(m.View(), "db locked") {
			t.Errorf("expected error in view, got %q", m.View())
		}
	})

	t.Run("shows members", func(t *testing.T) {
		lib := &fakeLibrary{
			collections: []*models.Collection{testCollection()},
			members: []models.MemberView{
				{Member: models.Member{RemoteVideoID: "v1", Position: 0}, Title: "Intro", Duration: 90 * time.Second},
			},
		}
		m := newTestModel(t, lib, &fakeSyncer{})

		_, cmd := m.Update(keyPress("enter"))
		if cmd == nil {
			t.Fatal("expected a fetch command")
		}
		m.Update(cmd())

		if m.view != MemberListView {
			t.Fatalf("expected member list, got %v", m.view)
		}
		if !strings.Contains(m.View(), "1. Intro") {
			t.Errorf("expected member in view, got %q", m.View())
		}

		m.Update(keyPress("esc"))
		if m.view != CollectionListView {
			t.Errorf("esc should return to the list, got %v", m.view)
		}
	})

	t.Run("sync streams progress", func(t *testing.T) {
		start := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
		syncer := &fakeSyncer{result: &tasks.SyncResult{
			CollectionID: "col-1",
			Title:        "Road Trip",
			Status:       models.StatusCompleted,
			Counts:       diff.Counts{Added: 2, Removed: 1},
			Skipped:      1,
			ItemCount:    2,
			QuotaUsed:    3,
			StartedAt:    start,
			CompletedAt:  start.Add(time.Second),
		}}
		m := newTestModel(t, &fakeLibrary{collections: []*models.Collection{testCollection()}}, syncer)

		m.Update(keyPress("s"))
		if m.view != SyncView {
			t.Fatalf("expected sync view, got %v", m.view)
		}

		var phases []tasks.Phase
		for i := 0; m.view == SyncView && i < 10; i++ {
			m.Update(waitForProgress(m.progressChan, m.resultChan)())
			if m.view == SyncView {
				phases = append(phases, m.progress.Phase)
				if !strings.Contains(m.View(), m.progress.Message) {
					t.Errorf("sync view should show %q", m.progress.Message)
				}
			}
		}

		if len(phases) != 2 || phases[0] != tasks.FetchMembers || phases[1] != tasks.Apply {
			t.Errorf("unexpected phases %v", phases)
		}
		if m.view != ResultView {
			t.Fatalf("expected result view, got %v", m.view)
		}
		if syncer.called != "col-1" {
			t.Errorf("expected col-1 to be synced, got %q", syncer.called)
		}

		view := m.View()
		for _, want := range []string{"Synced 'Road Trip'", "Added:      2", "Quota used: 3 units", "Skipped 1 unavailable"} {
			if !strings.Contains(view, want) {
				t.Errorf("result view missing %q", want)
			}
		}

		_, cmd := m.Update(keyPress("r"))
		if m.view != CollectionListView || cmd == nil {
			t.Error("r should return to the list and reload")
		}
	})

	t.Run("failed sync", func(t *testing.T) {
		syncer := &fakeSyncer{result: &tasks.SyncResult{Title: "Road Trip", Status: models.StatusFailed, Err: errors.New("quota exceeded")}}
		m := newTestModel(t, &fakeLibrary{collections: []*models.Collection{testCollection()}}, syncer)

		m.Update(keyPress("s"))
		for i := 0; m.view == SyncView && i < 10; i++ {
			m.Update(waitForProgress(m.progressChan, m.resultChan)())
		}
		if !strings.Contains(m.View(), "quota exceeded") {
			t.Errorf("expected failure in view, got %q", m.View())
		}
	})
}

func TestBar(t *testing.T) {
	if bar(1, 0) != "" {
		t.Error("unknown totals should render no bar")
	}
	if got := bar(3, 3); !strings.HasSuffix(got, "3/3") || strings.Contains(got, "░") {
		t.Errorf("unexpected full bar %q", got)
	}
	if got := bar(0, 4); strings.Contains(got, "█") {
		t.Errorf("unexpected empty bar %q", got)
	}
}

func TestLibrary(t *testing.T) {
	db := tu.NewTestDB(t)
	lib := NewLibrary(db)

	collections, err := lib.Collections(context.Background())
	if err != nil {
		t.Fatalf("Collections failed: %v", err)
	}
	if len(collections) != 0 {
		t.Errorf("expected empty library, got %d", len(collections))
	}
}
