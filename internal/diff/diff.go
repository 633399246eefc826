// Package diff computes the edit set between the local mirror of a collection and a fresh remote snapshot.
package diff

import (
	"cmp"
	"slices"

	"github.com/desertthunder/ytsync/internal/models"
)

// Move is an active member whose position differs remotely.
type Move struct {
	Member      models.Member
	NewPosition int
}

// ChangeSet is the minimal set of edits that makes the local membership match the remote one.
//
// Added is ordered by remote position, Removed by local position and Reordered by new position.
// Duplicates counts remote entries dropped because their item already appeared at an earlier position.
type ChangeSet struct {
	Added      []models.RemoteMember
	Removed    []models.Member
	Reordered  []Move
	Duplicates int
}

// Counts summarises a change set.
type Counts struct {
	Added     int `json:"added"`
	Removed   int `json:"removed"`
	Reordered int `json:"reordered"`
}

// Empty reports whether applying the change set would change nothing.
func (c ChangeSet) Empty() bool {
	return len(c.Added) == 0 && len(c.Removed) == 0 && len(c.Reordered) == 0
}

// Counts returns the number of edits of each kind.
func (c ChangeSet) Counts() Counts {
	return Counts{Added: len(c.Added), Removed: len(c.Removed), Reordered: len(c.Reordered)}
}

// Detect diffs local active members against remote membership, keyed by remote item id.
//
// A remote item listed more than once keeps only its first (lowest position) occurrence. Local members are
// assumed to be unique per item, which the storage layer enforces.
func Detect(local []models.Member, remote []models.RemoteMember) ChangeSet {
	var cs ChangeSet

	sortedRemote := slices.Clone(remote)
	slices.SortStableFunc(sortedRemote, func(a, b models.RemoteMember) int { return cmp.Compare(a.Position, b.Position) })

	remoteByKey := make(map[string]models.RemoteMember, len(sortedRemote))
	for _, rm := range sortedRemote {
		if _, seen := remoteByKey[rm.RemoteVideoID]; seen {
			cs.Duplicates++
			continue
		}
		remoteByKey[rm.RemoteVideoID] = rm
	}

	localByKey := make(map[string]models.Member, len(local))
	for _, m := range local {
		localByKey[m.RemoteVideoID] = m
	}

	added := make(map[string]bool)
	for _, rm := range sortedRemote {
		if _, ok := localByKey[rm.RemoteVideoID]; ok || added[rm.RemoteVideoID] {
			continue
		}
		added[rm.RemoteVideoID] = true
		cs.Added = append(cs.Added, rm)
	}

	for _, m := range local {
		rm, ok := remoteByKey[m.RemoteVideoID]
		if !ok {
			cs.Removed = append(cs.Removed, m)
			continue
		}
		if rm.Position != m.Position {
			cs.Reordered = append(cs.Reordered, Move{Member: m, NewPosition: rm.Position})
		}
	}

	slices.SortStableFunc(cs.Removed, func(a, b models.Member) int { return cmp.Compare(a.Position, b.Position) })
	slices.SortStableFunc(cs.Reordered, func(a, b Move) int { return cmp.Compare(a.NewPosition, b.NewPosition) })
	return cs
}
