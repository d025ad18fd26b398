// Package store provides SQLite-backed durable storage for settlement records.
//
// The store keeps:
//   - Obligations: every record of every transfer chain (never deleted)
//   - Swaps and composed contracts
//   - Locks: obligation id to holding swap, at most one per obligation
//   - Idempotency: request key to request hash and stored result
//   - Events: append-only audit log ordered by logical seq
//
// # Atomic Commit
//
// All writes of one operation go through Commit in a single transaction.
// Records carry a Version; updates are guarded by
// "WHERE id = ? AND version = ?" so a concurrent writer that slipped past the
// in-process key locks surfaces as ErrVersionConflict instead of a lost update.
//
// # Deterministic Query Results
//
// List queries order by a stable key (seq, or created_at then id COLLATE
// BINARY) so CLI output and golden traces are reproducible.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Records are stored as RFC 8785 canonical JSON produced by internal/canon.
package store
