package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/roach88/settle/internal/domain"
)

// IdempotencyRecord remembers the outcome of a state-changing request.
type IdempotencyRecord struct {
	Key         string
	Op          string
	RequestHash string
	Result      json.RawMessage
	CreatedAt   time.Time
}

// Batch is every write produced by one operation. Commit applies it in a
// single transaction.
//
// Records are written with optimistic concurrency on their Version field:
// Version 1 means the record is new and is inserted; any higher version
// updates the row only if its stored version is Version-1.
type Batch struct {
	Obligations []*domain.Obligation
	Swaps       []*domain.Swap
	Composed    []*domain.ComposedContract
	// LockDeletes name each lock as it was read; a lock since taken over by
	// another swap is not deleted and fails the commit.
	LockDeletes []domain.Lock
	LockPuts    []domain.Lock
	Events      []domain.Event
	Idempotency *IdempotencyRecord
}

// Empty reports whether the batch writes nothing.
func (b *Batch) Empty() bool {
	return len(b.Obligations) == 0 && len(b.Swaps) == 0 && len(b.Composed) == 0 &&
		len(b.LockDeletes) == 0 && len(b.LockPuts) == 0 && len(b.Events) == 0 && b.Idempotency == nil
}

// Commit writes the batch atomically. Either every record, lock, event and
// the idempotency record are stored, or none are.
//
// Event seqs are assigned here, in commit order, and written back into
// b.Events.
//
// Returns an error wrapping ErrVersionConflict if any record's version check
// fails, a lock is held by another swap, or the idempotency key was already
// recorded.
func (s *Store) Commit(ctx context.Context, b Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commit: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	for _, o := range b.Obligations {
		if err := writeObligation(ctx, tx, o); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	for _, sw := range b.Swaps {
		if err := writeSwap(ctx, tx, sw); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	for _, c := range b.Composed {
		if err := writeComposed(ctx, tx, c); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	for _, l := range b.LockDeletes {
		if err := deleteLock(ctx, tx, l); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	for _, l := range b.LockPuts {
		if err := writeLock(ctx, tx, l); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	for i := range b.Events {
		seq, err := writeEvent(ctx, tx, b.Events[i])
		if err != nil {
			return fmt.Errorf("commit: %w", err)
		}
		b.Events[i].Seq = seq
	}
	if b.Idempotency != nil {
		if err := writeIdempotency(ctx, tx, b.Idempotency); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func writeObligation(ctx context.Context, tx *sql.Tx, o *domain.Obligation) error {
	stored := o.Clone()
	stored.Lock = nil // projected from the locks table on read
	data, err := marshalRecord(stored)
	if err != nil {
		return fmt.Errorf("obligation %s: %w", o.ID, err)
	}

	if o.Version <= 1 {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO obligations
			(id, holder, counterparty, status, supersedes, superseded_by, processing_legs, version, created_at, data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`,
			o.ID, o.Holder, o.Counterparty, string(o.Status), o.Supersedes, o.SupersededBy,
			o.ProcessingLegs(), o.Version, formatTime(o.CreatedAt), data,
		)
		if err != nil {
			return fmt.Errorf("insert obligation %s: %w", o.ID, err)
		}
		return expectOneRow(res, "obligation", o.ID)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE obligations
		SET holder = ?, status = ?, superseded_by = ?, processing_legs = ?, version = ?, data = ?
		WHERE id = ? AND version = ?
	`,
		o.Holder, string(o.Status), o.SupersededBy, o.ProcessingLegs(), o.Version, data,
		o.ID, o.Version-1,
	)
	if err != nil {
		return fmt.Errorf("update obligation %s: %w", o.ID, err)
	}
	return expectOneRow(res, "obligation", o.ID)
}

func writeSwap(ctx context.Context, tx *sql.Tx, sw *domain.Swap) error {
	data, err := marshalRecord(sw)
	if err != nil {
		return fmt.Errorf("swap %s: %w", sw.ID, err)
	}

	if sw.Version <= 1 {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO swaps
			(id, initiator, counterparty, status, processing_legs, version, created_at, data)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`,
			sw.ID, sw.Initiator.Party, sw.Counterparty.Party, string(sw.Status),
			sw.ProcessingLegs(), sw.Version, formatTime(sw.CreatedAt), data,
		)
		if err != nil {
			return fmt.Errorf("insert swap %s: %w", sw.ID, err)
		}
		return expectOneRow(res, "swap", sw.ID)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE swaps
		SET status = ?, processing_legs = ?, version = ?, data = ?
		WHERE id = ? AND version = ?
	`,
		string(sw.Status), sw.ProcessingLegs(), sw.Version, data,
		sw.ID, sw.Version-1,
	)
	if err != nil {
		return fmt.Errorf("update swap %s: %w", sw.ID, err)
	}
	return expectOneRow(res, "swap", sw.ID)
}

func writeComposed(ctx context.Context, tx *sql.Tx, c *domain.ComposedContract) error {
	data, err := marshalRecord(c)
	if err != nil {
		return fmt.Errorf("composed %s: %w", c.ID, err)
	}

	if c.Version <= 1 {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO composed (id, version, created_at, data)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(id) DO NOTHING
		`, c.ID, c.Version, formatTime(c.CreatedAt), data)
		if err != nil {
			return fmt.Errorf("insert composed %s: %w", c.ID, err)
		}
		return expectOneRow(res, "composed", c.ID)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE composed SET version = ?, data = ?
		WHERE id = ? AND version = ?
	`, c.Version, data, c.ID, c.Version-1)
	if err != nil {
		return fmt.Errorf("update composed %s: %w", c.ID, err)
	}
	return expectOneRow(res, "composed", c.ID)
}

// writeLock takes a free lock or refreshes one the same swap already holds.
// A lock held by another swap leaves the row alone and reports a conflict.
func writeLock(ctx context.Context, tx *sql.Tx, l domain.Lock) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO locks (obligation_id, swap_id, swap_status, role, party)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(obligation_id) DO UPDATE SET
			swap_status = excluded.swap_status,
			role = excluded.role,
			party = excluded.party
		WHERE locks.swap_id = excluded.swap_id
	`, l.ObligationID, l.SwapID, string(l.SwapStatus), string(l.Role), l.Party)
	if err != nil {
		return fmt.Errorf("put lock %s: %w", l.ObligationID, err)
	}
	return expectOneRow(res, "lock", l.ObligationID)
}

func deleteLock(ctx context.Context, tx *sql.Tx, l domain.Lock) error {
	res, err := tx.ExecContext(ctx, `
		DELETE FROM locks WHERE obligation_id = ? AND swap_id = ?
	`, l.ObligationID, l.SwapID)
	if err != nil {
		return fmt.Errorf("delete lock %s: %w", l.ObligationID, err)
	}
	return expectOneRow(res, "lock", l.ObligationID)
}

// writeEvent appends e and returns the seq SQLite assigned to it.
func writeEvent(ctx context.Context, tx *sql.Tx, e domain.Event) (int64, error) {
	detail := "{}"
	if len(e.Detail) > 0 {
		var err error
		detail, err = marshalRecord(e.Detail)
		if err != nil {
			return 0, fmt.Errorf("event %s %s: %w", e.Kind, e.EntityID, err)
		}
	}
	res, err := tx.ExecContext(ctx, `
		INSERT INTO events (kind, entity_id, caller, key, at, detail)
		VALUES (?, ?, ?, ?, ?, ?)
	`, string(e.Kind), e.EntityID, e.Caller, e.Key, formatTime(e.At), detail)
	if err != nil {
		return 0, fmt.Errorf("insert event %s %s: %w", e.Kind, e.EntityID, err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("event seq: %w", err)
	}
	return seq, nil
}

// NextAttempt hands out the next attempt number for key, starting at 1. The
// increment commits on its own so a failed attempt stays spent.
func (s *Store) NextAttempt(ctx context.Context, key string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("next attempt: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO attempts (key, attempt) VALUES (?, 1)
		ON CONFLICT(key) DO UPDATE SET attempt = attempt + 1
	`, key); err != nil {
		return 0, fmt.Errorf("next attempt %s: %w", key, err)
	}
	var attempt int64
	if err := tx.QueryRowContext(ctx, `SELECT attempt FROM attempts WHERE key = ?`, key).Scan(&attempt); err != nil {
		return 0, fmt.Errorf("next attempt %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("next attempt %s: %w", key, err)
	}
	return attempt, nil
}

// writeIdempotency uses ON CONFLICT DO NOTHING and reports a conflict when
// the key was already taken.
func writeIdempotency(ctx context.Context, tx *sql.Tx, r *IdempotencyRecord) error {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO idempotency (key, op, request_hash, result, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING
	`, r.Key, r.Op, r.RequestHash, string(r.Result), formatTime(r.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert idempotency %s: %w", r.Key, err)
	}
	return expectOneRow(res, "idempotency key", r.Key)
}

func expectOneRow(res sql.Result, what, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s %s: rows affected: %w", what, id, err)
	}
	if n != 1 {
		return fmt.Errorf("%s %s: %w", what, id, ErrVersionConflict)
	}
	return nil
}
