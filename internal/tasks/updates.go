package tasks

import (
	"fmt"

	"github.com/desertthunder/ytsync/internal/diff"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase, 0 when unknown
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	Lock Phase = iota
	FetchMembers
	FetchDetails
	Compare
	Apply
	Finish
	Batch
)

func (p Phase) String() string {
	switch p {
	case Lock:
		return "lock"
	case FetchMembers:
		return "fetch_members"
	case FetchDetails:
		return "fetch_details"
	case Compare:
		return "compare"
	case Apply:
		return "apply"
	case Finish:
		return "finish"
	case Batch:
		return "batch"
	default:
		return ""
	}
}

func lockUpdate(title string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Lock,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Starting sync of %s...", title),
	}
}

func fetchPageUpdate(page, fetched, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchMembers,
		Step:    fetched,
		Total:   total,
		Message: fmt.Sprintf("Fetched page %d (%d/%d items)", page, fetched, total),
	}
}

func fetchDetailsUpdate(step, total, missing int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   FetchDetails,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] Fetching details for %d new videos...", step, total, missing),
	}
}

func compareUpdate(counts diff.Counts) ProgressUpdate {
	return ProgressUpdate{
		Phase:   Compare,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("%d added, %d removed, %d reordered", counts.Added, counts.Removed, counts.Reordered),
		Data:    counts,
	}
}

func applyUpdate(attempt int) ProgressUpdate {
	msg := "Applying changes..."
	if attempt > 1 {
		msg = fmt.Sprintf("Applying changes (attempt %d)...", attempt)
	}
	return ProgressUpdate{Phase: Apply, Step: attempt, Message: msg}
}

func finishUpdate(r *SyncResult) ProgressUpdate {
	msg := fmt.Sprintf("✓ %s synced (%d items)", r.Title, r.ItemCount)
	if r.Err != nil {
		msg = fmt.Sprintf("✗ %s: %v", r.Title, r.Err)
	}
	return ProgressUpdate{
		Phase:   Finish,
		Step:    1,
		Total:   1,
		Message: msg,
		Data:    r,
	}
}

func batchUpdate(step, total int, r *SyncResult) ProgressUpdate {
	mark := "✓"
	if r.Err != nil {
		mark = "✗"
	}
	return ProgressUpdate{
		Phase:   Batch,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s %s", step, total, mark, r.label()),
		Data:    r,
	}
}
