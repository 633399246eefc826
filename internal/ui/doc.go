// Package ui implements an interactive terminal interface using bubbletea's Elm architecture.
//
// The TUI provides a small workflow over the local mirror:
//  1. [CollectionListView] : Browse registered collections with status and video count
//  2. [MemberListView] : Browse the mirrored videos of a collection
//  3. [SyncView] : Monitor real-time progress of a sync started with `s`
//  4. [ResultView] : Display the counts, quota and retries of the finished sync
//
// The (view) [Model] implements bubbletea/Elm's standard Init/Update/View pattern, receiving messages via the Msg union type.
// Progress updates flow through a channel from the SyncEngine, providing non-blocking status reporting during syncs.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, s, q) with contextual help displayed via charmbracelet/bubbles/help.
package ui
