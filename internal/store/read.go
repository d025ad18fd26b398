package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/settle/internal/domain"
)

// GetObligation returns the obligation with id, with its active lock (if any)
// attached. Returns an error wrapping ErrNotFound when it does not exist.
func (s *Store) GetObligation(ctx context.Context, id string) (*domain.Obligation, error) {
	var data string
	var version int64
	err := s.db.QueryRowContext(ctx, `
		SELECT data, version FROM obligations WHERE id = ?
	`, id).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("obligation %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get obligation %s: %w", id, err)
	}

	var o domain.Obligation
	if err := unmarshalRecord(data, &o); err != nil {
		return nil, fmt.Errorf("get obligation %s: %w", id, err)
	}
	o.Version = version

	l, ok, err := s.GetLock(ctx, id)
	if err != nil {
		return nil, err
	}
	if ok {
		o.Lock = l.Ref()
	}
	return &o, nil
}

// History returns every record in the transfer chain containing id, oldest
// first.
func (s *Store) History(ctx context.Context, id string) ([]*domain.Obligation, error) {
	start, err := s.GetObligation(ctx, id)
	if err != nil {
		return nil, err
	}

	var back []*domain.Obligation
	for cur := start; cur.Supersedes != ""; {
		prev, err := s.GetObligation(ctx, cur.Supersedes)
		if err != nil {
			return nil, fmt.Errorf("history %s: %w", id, err)
		}
		back = append(back, prev)
		cur = prev
	}

	out := make([]*domain.Obligation, 0, len(back)+1)
	for i := len(back) - 1; i >= 0; i-- {
		out = append(out, back[i])
	}
	out = append(out, start)

	for cur := start; cur.SupersededBy != ""; {
		next, err := s.GetObligation(ctx, cur.SupersededBy)
		if err != nil {
			return nil, fmt.Errorf("history %s: %w", id, err)
		}
		out = append(out, next)
		cur = next
	}
	return out, nil
}

// ListObligations returns the current (not superseded) obligations, optionally
// filtered by holder, ordered by creation time then id.
func (s *Store) ListObligations(ctx context.Context, holder string) ([]*domain.Obligation, error) {
	query := `
		SELECT id FROM obligations
		WHERE superseded_by = ''
		ORDER BY created_at ASC, id COLLATE BINARY ASC
	`
	args := []any{}
	if holder != "" {
		query = `
			SELECT id FROM obligations
			WHERE superseded_by = '' AND holder = ?
			ORDER BY created_at ASC, id COLLATE BINARY ASC
		`
		args = append(args, holder)
	}
	ids, err := s.queryIDs(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list obligations: %w", err)
	}

	out := make([]*domain.Obligation, 0, len(ids))
	for _, id := range ids {
		o, err := s.GetObligation(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

// GetSwap returns the swap with id. Returns an error wrapping ErrNotFound
// when it does not exist.
func (s *Store) GetSwap(ctx context.Context, id string) (*domain.Swap, error) {
	var data string
	var version int64
	err := s.db.QueryRowContext(ctx, `
		SELECT data, version FROM swaps WHERE id = ?
	`, id).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("swap %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get swap %s: %w", id, err)
	}

	var sw domain.Swap
	if err := unmarshalRecord(data, &sw); err != nil {
		return nil, fmt.Errorf("get swap %s: %w", id, err)
	}
	sw.Version = version
	return &sw, nil
}

// GetComposed returns the composed contract with id. Returns an error
// wrapping ErrNotFound when it does not exist.
func (s *Store) GetComposed(ctx context.Context, id string) (*domain.ComposedContract, error) {
	var data string
	var version int64
	err := s.db.QueryRowContext(ctx, `
		SELECT data, version FROM composed WHERE id = ?
	`, id).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("composed %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get composed %s: %w", id, err)
	}

	var c domain.ComposedContract
	if err := unmarshalRecord(data, &c); err != nil {
		return nil, fmt.Errorf("get composed %s: %w", id, err)
	}
	c.Version = version
	return &c, nil
}

// GetLock returns the active lock on an obligation, if any.
func (s *Store) GetLock(ctx context.Context, obligationID string) (domain.Lock, bool, error) {
	var l domain.Lock
	var status, role string
	err := s.db.QueryRowContext(ctx, `
		SELECT obligation_id, swap_id, swap_status, role, party
		FROM locks WHERE obligation_id = ?
	`, obligationID).Scan(&l.ObligationID, &l.SwapID, &status, &role, &l.Party)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Lock{}, false, nil
	}
	if err != nil {
		return domain.Lock{}, false, fmt.Errorf("get lock %s: %w", obligationID, err)
	}
	l.SwapStatus = domain.SwapStatus(status)
	l.Role = domain.LockRole(role)
	return l, true, nil
}

// LocksForSwap returns every lock held by swapID, ordered by obligation id.
func (s *Store) LocksForSwap(ctx context.Context, swapID string) ([]domain.Lock, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT obligation_id, swap_id, swap_status, role, party
		FROM locks WHERE swap_id = ?
		ORDER BY obligation_id COLLATE BINARY ASC
	`, swapID)
	if err != nil {
		return nil, fmt.Errorf("query locks: %w", err)
	}
	defer rows.Close()

	locks := []domain.Lock{}
	for rows.Next() {
		var l domain.Lock
		var status, role string
		if err := rows.Scan(&l.ObligationID, &l.SwapID, &status, &role, &l.Party); err != nil {
			return nil, fmt.Errorf("scan lock: %w", err)
		}
		l.SwapStatus = domain.SwapStatus(status)
		l.Role = domain.LockRole(role)
		locks = append(locks, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate locks: %w", err)
	}
	return locks, nil
}

// GetIdempotency returns the stored outcome for key, if any.
func (s *Store) GetIdempotency(ctx context.Context, key string) (*IdempotencyRecord, bool, error) {
	var r IdempotencyRecord
	var result, created string
	err := s.db.QueryRowContext(ctx, `
		SELECT key, op, request_hash, result, created_at
		FROM idempotency WHERE key = ?
	`, key).Scan(&r.Key, &r.Op, &r.RequestHash, &result, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get idempotency %s: %w", key, err)
	}
	r.Result = []byte(result)
	if r.CreatedAt, err = parseTime(created); err != nil {
		return nil, false, fmt.Errorf("get idempotency %s: %w", key, err)
	}
	return &r, true, nil
}

// OpenEntities returns the ids of obligations and swaps that have legs
// escrowed and awaiting release, in id order.
func (s *Store) OpenEntities(ctx context.Context) (obligations, swaps []string, err error) {
	obligations, err = s.queryIDs(ctx, `
		SELECT id FROM obligations
		WHERE processing_legs > 0 AND superseded_by = ''
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("open obligations: %w", err)
	}
	swaps, err = s.queryIDs(ctx, `
		SELECT id FROM swaps
		WHERE processing_legs > 0
		ORDER BY id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, nil, fmt.Errorf("open swaps: %w", err)
	}
	return obligations, swaps, nil
}

// Events returns audit events with seq greater than afterSeq, in seq order.
// An entityID filters to one entity; limit <= 0 means no limit.
func (s *Store) Events(ctx context.Context, entityID string, afterSeq int64, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	var rows *sql.Rows
	var err error
	if entityID == "" {
		rows, err = s.db.QueryContext(ctx, `
			SELECT seq, kind, entity_id, caller, key, at, detail
			FROM events WHERE seq > ?
			ORDER BY seq ASC LIMIT ?
		`, afterSeq, limit)
	} else {
		rows, err = s.db.QueryContext(ctx, `
			SELECT seq, kind, entity_id, caller, key, at, detail
			FROM events WHERE entity_id = ? AND seq > ?
			ORDER BY seq ASC LIMIT ?
		`, entityID, afterSeq, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		var e domain.Event
		var kind, at, detail string
		if err := rows.Scan(&e.Seq, &kind, &e.EntityID, &e.Caller, &e.Key, &at, &detail); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.Kind = domain.EventKind(kind)
		if e.At, err = parseTime(at); err != nil {
			return nil, err
		}
		if detail != "{}" {
			if err := unmarshalRecord(detail, &e.Detail); err != nil {
				return nil, err
			}
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// Ping checks the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

func (s *Store) queryIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
