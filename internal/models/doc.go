// Package models defines the entities of the local playlist mirror and the persistence interfaces over them.
//
// Persistent entities with their own lifecycle implement [Model]:
//   - [Collection] : a mirrored remote playlist, whose sync status doubles as the per-collection lock
//   - [Video] : a cached remote item, upserted by remote id
//
// Records owned by a collection or by the quota ledger are plain structs:
//   - [Member] : a collection entry at a zero-based position, tombstoned via RemovedAt
//   - [SyncAudit] : one row per synchronization attempt
//   - [QuotaUsage], [QuotaOperation] : daily budget consumption and its append-only log
//
// Remote DTOs ([RemoteCollection], [RemoteMember], [MembershipPage]) are what the remote client returns.
package models
