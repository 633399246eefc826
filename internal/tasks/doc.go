// Package tasks mirrors remote collections into local storage with real-time progress reporting.
//
// # Core Operations
//
// [SyncEngine] exposes the operations the CLI and TUI drive:
//
//  1. [SyncEngine.Import] : Register a remote collection
//     - Fetches title, description and owner
//     - Restores a previously removed collection with its history
//
//  2. [SyncEngine.Sync] : Mirror one collection
//     - Locks the collection so two syncs never overlap
//     - Pages through the remote membership
//     - Caches details of videos not seen before
//     - Diffs remote against stored membership and applies the result in one transaction
//     - Records a [models.SyncAudit] and releases the lock
//
//  3. [SyncEngine.SyncMany] / [SyncEngine.SyncAll] : Sync several collections with bounded concurrency
//
//  4. [SyncEngine.Unlock] : Release a lock left behind by a crashed process
//
// # Remote Calls
//
// Every remote call runs through a [resilience.Guard] which consults the circuit breaker, reserves quota and
// retries recoverable failures. Quota and retries spent are reported on the [SyncResult].
//
// # Progress Reporting
//
// All operations use non-blocking channels for progress updates.
//
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data for advanced UI rendering.
// Updates use select with default to prevent blocking.
package tasks
