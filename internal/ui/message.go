package ui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/desertthunder/ytsync/internal/models"
	"github.com/desertthunder/ytsync/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgCollectionsFetched MsgKind = iota
	MsgMembersFetched
	MsgProgressUpdate
	MsgSyncComplete
)

type collectionsData struct {
	collections []*models.Collection
	err         error
}

type membersData struct {
	collection *models.Collection
	members    []models.MemberView
	err        error
}

// collectionsFetchedMsg is the constructor for [MsgCollectionsFetched]
func collectionsFetchedMsg(collections []*models.Collection, err error) Msg {
	return Msg{kind: MsgCollectionsFetched, data: collectionsData{collections, err}}
}

// membersFetchedMsg is the constructor for [MsgMembersFetched]
func membersFetchedMsg(c *models.Collection, members []models.MemberView, err error) Msg {
	return Msg{kind: MsgMembersFetched, data: membersData{c, members, err}}
}

// progressUpdateMsg is the constructor for [MsgProgressUpdate]
func progressUpdateMsg(update tasks.ProgressUpdate) Msg {
	return Msg{kind: MsgProgressUpdate, data: update}
}

// syncCompleteMsg is the constructor for [MsgSyncComplete]
func syncCompleteMsg(result *tasks.SyncResult) Msg {
	return Msg{kind: MsgSyncComplete, data: result}
}
