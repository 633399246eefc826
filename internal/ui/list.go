package ui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/list"

	"github.com/desertthunder/ytsync/internal/formatter"
	"github.com/desertthunder/ytsync/internal/models"
)

var (
	_ list.Item = collectionItem{}
	_ list.Item = memberItem{}
)

// collectionItem wraps [models.Collection] to implement [list.Item].
type collectionItem struct {
	collection *models.Collection
}

func (i collectionItem) FilterValue() string { return i.collection.Title }
func (i collectionItem) Title() string {
	if i.collection.Title == "" {
		return i.collection.RemoteID
	}
	return i.collection.Title
}
func (i collectionItem) Description() string {
	c := i.collection
	desc := fmt.Sprintf("%d videos • %s", c.ItemCount, styles.Status(c.Status))
	if c.LastSyncedAt != nil {
		desc = fmt.Sprintf("%s • synced %s", desc, c.LastSyncedAt.Local().Format(time.DateTime))
	}
	return desc
}

// memberItem wraps [models.MemberView] to implement [list.Item].
type memberItem struct {
	member models.MemberView
}

func (i memberItem) FilterValue() string { return i.member.Title }
func (i memberItem) Title() string {
	return fmt.Sprintf("%d. %s", i.member.Position+1, i.member.Title)
}
func (i memberItem) Description() string {
	desc := formatter.FormatDuration(i.member.Duration)
	if i.member.ChannelTitle != "" {
		desc = fmt.Sprintf("%s • %s", i.member.ChannelTitle, desc)
	}
	return desc
}
