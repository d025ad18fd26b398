// Package lockmgr tracks which obligations are held by in-flight swaps.
//
// The Manager is stateless: it reads and writes locks through a Table. The
// engine passes its unit of work as the Table so lock changes commit in the
// same store transaction as the swap transition that caused them.
package lockmgr

import (
	"context"
	"errors"
	"fmt"

	"github.com/roach88/settle/internal/domain"
)

// ErrAlreadyLocked is matched by errors.Is for every *ConflictError.
var ErrAlreadyLocked = errors.New("already locked")

// ConflictError reports an obligation held by a different swap.
type ConflictError struct {
	ObligationID string
	HeldBy       string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("obligation %s is locked by swap %s", e.ObligationID, e.HeldBy)
}

// Is lets errors.Is match ErrAlreadyLocked.
func (e *ConflictError) Is(target error) bool {
	return target == ErrAlreadyLocked
}

// Table is lock storage.
type Table interface {
	GetLock(ctx context.Context, obligationID string) (domain.Lock, bool, error)
	PutLock(ctx context.Context, lock domain.Lock) error
	DeleteLock(ctx context.Context, obligationID string) error
}

// Manager applies lock rules on top of a Table.
type Manager struct {
	table Table
}

// New returns a Manager over table.
func New(table Table) *Manager {
	return &Manager{table: table}
}

// Acquire locks every id for swapID. If any id is held by another swap
// nothing is written and a *ConflictError names the first such id. Ids
// already held by swapID get their snapshot refreshed.
func (m *Manager) Acquire(ctx context.Context, ids []string, swapID string, status domain.SwapStatus, role domain.LockRole, party string) error {
	for _, id := range ids {
		l, ok, err := m.table.GetLock(ctx, id)
		if err != nil {
			return fmt.Errorf("acquire %s: %w", id, err)
		}
		if ok && l.SwapID != swapID {
			return &ConflictError{ObligationID: id, HeldBy: l.SwapID}
		}
	}
	for _, id := range ids {
		lock := domain.Lock{
			ObligationID: id,
			SwapID:       swapID,
			SwapStatus:   status,
			Role:         role,
			Party:        party,
		}
		if err := m.table.PutLock(ctx, lock); err != nil {
			return fmt.Errorf("acquire %s: %w", id, err)
		}
	}
	return nil
}

// Release removes the locks on ids. Ids without a lock are skipped.
func (m *Manager) Release(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := m.table.DeleteLock(ctx, id); err != nil {
			return fmt.Errorf("release %s: %w", id, err)
		}
	}
	return nil
}

// IsLocked returns the active lock on id, if any.
func (m *Manager) IsLocked(ctx context.Context, id string) (domain.Lock, bool, error) {
	l, ok, err := m.table.GetLock(ctx, id)
	if err != nil {
		return domain.Lock{}, false, fmt.Errorf("is locked %s: %w", id, err)
	}
	return l, ok, nil
}

// Update refreshes the swap status snapshot on held locks without releasing
// them. Ids that are not locked are skipped.
func (m *Manager) Update(ctx context.Context, ids []string, status domain.SwapStatus) error {
	for _, id := range ids {
		l, ok, err := m.table.GetLock(ctx, id)
		if err != nil {
			return fmt.Errorf("update %s: %w", id, err)
		}
		if !ok {
			continue
		}
		l.SwapStatus = status
		if err := m.table.PutLock(ctx, l); err != nil {
			return fmt.Errorf("update %s: %w", id, err)
		}
	}
	return nil
}

// MemTable is an in-memory Table. It is not safe for concurrent use; callers
// serialize access the same way they serialize a unit of work.
type MemTable map[string]domain.Lock

// GetLock implements Table.
func (t MemTable) GetLock(_ context.Context, id string) (domain.Lock, bool, error) {
	l, ok := t[id]
	return l, ok, nil
}

// PutLock implements Table.
func (t MemTable) PutLock(_ context.Context, l domain.Lock) error {
	t[l.ObligationID] = l
	return nil
}

// DeleteLock implements Table.
func (t MemTable) DeleteLock(_ context.Context, id string) error {
	delete(t, id)
	return nil
}
