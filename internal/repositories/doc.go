// Package repositories implements SQLite persistence for the playlist mirror.
//
// Repositories are constructed over a [Querier], so the same code runs against a *sql.DB or, through WithTx,
// inside a caller-owned transaction. The sync applier relies on this to make tombstones, inserts, position
// updates and the collection aggregate update one atomic unit.
//
// Key Implementations:
//   - [CollectionRepository] : mirrored playlists, soft deletes, and the status-column lock
//   - [VideoRepository] : item cache upserted by remote id
//   - [MemberRepository] : collection membership with tombstones and unique active positions
//   - [AuditRepository] : one row per synchronization attempt
//   - [QuotaRepository] : the atomic daily reserve-and-record transaction
//
// The [NextSequence] function atomically increments per-table sequence counters in dedicated sequence tables.
package repositories
