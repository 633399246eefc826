package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	CollectionListView ViewState = iota
	MemberListView
	SyncView
	ResultView
)

const barWidth = 30

// Model represents the TUI application state.
type Model struct {
	ctx          context.Context
	view         ViewState
	library      Library
	syncer       Syncer
	width        int
	height       int
	collections  list.Model
	members      list.Model
	selected     *models.Collection
	progressChan chan tasks.ProgressUpdate
	resultChan   chan *tasks.SyncResult
	cancelSync   context.CancelFunc
	progress     tasks.ProgressUpdate
	result       *tasks.SyncResult
	spinner      spinner.Model
	err          error
	help         help.Model
	keys         keyMap
}

// NewModel creates a new TUI model with the provided dependencies.
func NewModel(ctx context.Context, library Library, syncer Syncer) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = styles.warn

	collections := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	collections.Title = "Collections"

	return &Model{
		ctx:         ctx,
		view:        CollectionListView,
		library:     library,
		syncer:      syncer,
		collections: collections,
		members:     list.New(nil, list.NewDefaultDelegate(), 0, 0),
		spinner:     s,
		help:        help.New(),
		keys:        newKeyMap(),
	}
}

// Init initializes the TUI by loading registered collections.
func (m *Model) Init() tea.Cmd {
	return m.fetchCollections()
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.collections.SetSize(msg.Width-4, msg.Height-8)
		m.members.SetSize(msg.Width-4, msg.Height-8)
		return m, nil

	case spinner.TickMsg:
		if m.view != SyncView {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.KeyMsg:
		switch m.view {
		case CollectionListView:
			return m.handleCollectionKeys(msg)
		case MemberListView:
			return m.handleMemberKeys(msg)
		case SyncView:
			return m.handleSyncKeys(msg)
		case ResultView:
			return m.handleResultKeys(msg)
		}

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateLists(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgCollectionsFetched:
		data := msg.data.(collectionsData)
		if data.err != nil {
			m.err = data.err
			return m, nil
		}
		m.err = nil
		items := make([]list.Item, len(data.collections))
		for i, c := range data.collections {
			items[i] = collectionItem{collection: c}
		}
		return m, m.collections.SetItems(items)

	case MsgMembersFetched:
		data := msg.data.(membersData)
		if data.err != nil {
			m.err = data.err
			return m, nil
		}
		items := make([]list.Item, len(data.members))
		for i, v := range data.members {
			items[i] = memberItem{member: v}
		}
		m.members = list.New(items, list.NewDefaultDelegate(), m.width-4, m.height-8)
		m.members.Title = fmt.Sprintf("Videos in '%s'", collectionItem{data.collection}.Title())
		m.view = MemberListView
		return m, nil

	case MsgProgressUpdate:
		m.progress = msg.data.(tasks.ProgressUpdate)
		return m, waitForProgress(m.progressChan, m.resultChan)

	case MsgSyncComplete:
		m.result = msg.data.(*tasks.SyncResult)
		m.progressChan, m.resultChan = nil, nil
		if m.cancelSync != nil {
			m.cancelSync()
			m.cancelSync = nil
		}
		m.view = ResultView
		return m, nil
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	if m.err != nil && m.view != ResultView {
		return styles.err.Render(fmt.Sprintf("Error: %v\n\nPress ctrl+r to reload, q to quit", m.err))
	}

	switch m.view {
	case CollectionListView:
		return m.renderCollections()
	case MemberListView:
		return m.renderMembers()
	case SyncView:
		return m.renderSync()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) selectedCollection() *models.Collection {
	if item, ok := m.collections.SelectedItem().(collectionItem); ok {
		return item.collection
	}
	return nil
}

func (m *Model) handleCollectionKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.collections.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.collections, cmd = m.collections.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.reload):
		return m, m.fetchCollections()
	case key.Matches(msg, m.keys.sync):
		if c := m.selectedCollection(); c != nil && m.err == nil {
			return m, m.startSync(c)
		}
		return m, nil
	case key.Matches(msg, m.keys.enter):
		if c := m.selectedCollection(); c != nil && m.err == nil {
			return m, m.fetchMembers(c)
		}
		return m, nil
	}

	var cmd tea.Cmd
	m.collections, cmd = m.collections.Update(msg)
	return m, cmd
}

func (m *Model) handleMemberKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.members.FilterState() == list.Filtering {
		var cmd tea.Cmd
		m.members, cmd = m.members.Update(msg)
		return m, cmd
	}

	switch {
	case key.Matches(msg, m.keys.quit):
		return m, tea.Quit
	case key.Matches(msg, m.keys.back):
		m.view = CollectionListView
		return m, nil
	}

	var cmd tea.Cmd
	m.members, cmd = m.members.Update(msg)
	return m, cmd
}

// handleSyncKeys lets ctrl+c cancel the running sync; the engine still records the interrupted run.
func (m *Model) handleSyncKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if msg.String() == "ctrl+c" && m.cancelSync != nil {
		m.cancelSync()
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case msg.String() == "q", msg.String() == "ctrl+c":
		return m, tea.Quit
	case key.Matches(msg, m.keys.restart):
		m.view = CollectionListView
		m.result = nil
		m.progress = tasks.ProgressUpdate{}
		return m, m.fetchCollections()
	}
	return m, nil
}

func (m *Model) updateLists(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case CollectionListView:
		m.collections, cmd = m.collections.Update(msg)
	case MemberListView:
		m.members, cmd = m.members.Update(msg)
	}
	return m, cmd
}

func (m *Model) fetchCollections() tea.Cmd {
	return func() tea.Msg {
		collections, err := m.library.Collections(m.ctx)
		return collectionsFetchedMsg(collections, err)
	}
}

func (m *Model) fetchMembers(c *models.Collection) tea.Cmd {
	return func() tea.Msg {
		members, err := m.library.Members(m.ctx, c.ID())
		return membersFetchedMsg(c, members, err)
	}
}

func (m *Model) startSync(c *models.Collection) tea.Cmd {
	ctx, cancel := context.WithCancel(m.ctx)
	progress := make(chan tasks.ProgressUpdate, 50)
	done := make(chan *tasks.SyncResult, 1)

	m.selected = c
	m.view = SyncView
	m.progress = tasks.ProgressUpdate{Message: "Waiting to start..."}
	m.progressChan, m.resultChan, m.cancelSync = progress, done, cancel

	go func() {
		done <- m.syncer.Sync(ctx, c.ID(), progress)
		close(progress)
	}()

	return tea.Batch(m.spinner.Tick, waitForProgress(progress, done))
}

func waitForProgress(progress <-chan tasks.ProgressUpdate, done <-chan *tasks.SyncResult) tea.Cmd {
	return func() tea.Msg {
		update, ok := <-progress
		if !ok {
			return syncCompleteMsg(<-done)
		}
		return progressUpdateMsg(update)
	}
}

func (m *Model) renderCollections() string {
	helpKeys := []key.Binding{m.keys.sync, m.keys.enter, m.keys.reload, m.keys.quit}
	return fmt.Sprintf("%s\n\n%s", m.collections.View(), m.help.ShortHelpView(helpKeys))
}

func (m *Model) renderMembers() string {
	helpKeys := []key.Binding{m.keys.back, m.keys.quit}
	return fmt.Sprintf("%s\n\n%s", m.members.View(), m.help.ShortHelpView(helpKeys))
}

func phaseLabel(p tasks.Phase) string {
	switch p {
	case tasks.Lock:
		return "Locking collection"
	case tasks.FetchMembers:
		return "Fetching playlist items"
	case tasks.FetchDetails:
		return "Fetching video details"
	case tasks.Compare:
		return "Comparing"
	case tasks.Apply:
		return "Applying changes"
	case tasks.Finish:
		return "Finishing"
	default:
		return "Processing"
	}
}

// bar renders step/total as a fixed-width text progress bar.
func bar(step, total int) string {
	if total <= 0 {
		return ""
	}
	filled := min(step*barWidth/total, barWidth)
	return fmt.Sprintf("[%s%s] %d/%d", strings.Repeat("█", filled), strings.Repeat("░", barWidth-filled), step, total)
}

func (m *Model) renderSync() string {
	title := "Syncing"
	if m.selected != nil {
		title = fmt.Sprintf("Syncing '%s'", collectionItem{m.selected}.Title())
	}

	lines := []string{
		styles.title.Render(title),
		fmt.Sprintf("%s %s", m.spinner.View(), phaseLabel(m.progress.Phase)),
	}
	if b := bar(m.progress.Step, m.progress.Total); b != "" {
		lines = append(lines, b)
	}
	lines = append(lines, m.progress.Message, "", styles.help.Render("ctrl+c cancels the sync"))
	return strings.Join(lines, "\n")
}

func (m *Model) renderResult() string {
	r := m.result
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.restart, m.keys.quit})

	if r == nil {
		return styles.err.Render("No result available") + "\n\n" + helpView
	}
	if r.Err != nil {
		return fmt.Sprintf("%s\n\n%s", styles.err.Render(fmt.Sprintf("✗ Sync of '%s' failed: %v", r.Title, r.Err)), helpView)
	}

	rows := []string{
		fmt.Sprintf("Added:      %d", r.Added),
		fmt.Sprintf("Removed:    %d", r.Removed),
		fmt.Sprintf("Reordered:  %d", r.Reordered),
		fmt.Sprintf("Videos:     %d", r.ItemCount),
		fmt.Sprintf("Quota used: %d units", r.QuotaUsed),
		fmt.Sprintf("Duration:   %s", r.Duration().Round(10*time.Millisecond)),
	}
	if r.Skipped > 0 {
		rows = append(rows, styles.warn.Render(fmt.Sprintf("Skipped %d unavailable videos", r.Skipped)))
	}
	if r.Duplicates > 0 {
		rows = append(rows, styles.warn.Render(fmt.Sprintf("Ignored %d duplicate entries", r.Duplicates)))
	}
	if r.Retries > 0 {
		rows = append(rows, styles.warn.Render(fmt.Sprintf("Recovered after %d retries", r.Retries)))
	}

	title := styles.ok.Render(fmt.Sprintf("✓ Synced '%s'", r.Title))
	return fmt.Sprintf("%s\n\n%s\n\n%s", title, styles.box.Render(strings.Join(rows, "\n")), helpView)
}
