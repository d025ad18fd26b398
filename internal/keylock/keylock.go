// Package keylock serializes work on the same entity while letting work on
// disjoint entities run in parallel.
//
// Each key maps to a weight-1 semaphore. A multi-key acquisition takes the
// keys in sorted order so two callers locking overlapping sets cannot
// deadlock. Every acquisition has a bounded wait; on timeout all keys taken so
// far are released and ErrBusy is returned.
package keylock

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrBusy is returned when a key could not be acquired within the wait bound.
var ErrBusy = errors.New("keylock: busy")

// BusyError names the key that timed out.
type BusyError struct {
	Key string
}

func (e *BusyError) Error() string {
	return fmt.Sprintf("keylock: busy on %q", e.Key)
}

// Is lets errors.Is match ErrBusy.
func (e *BusyError) Is(target error) bool {
	return target == ErrBusy
}

type entry struct {
	sem  *semaphore.Weighted
	refs int
}

// Locker hands out per-key mutual exclusion.
type Locker struct {
	mu      sync.Mutex
	entries map[string]*entry
	wait    time.Duration
}

// New creates a Locker whose acquisitions give up after wait.
// A non-positive wait means a single non-blocking attempt.
func New(wait time.Duration) *Locker {
	return &Locker{
		entries: make(map[string]*entry),
		wait:    wait,
	}
}

// Wait returns the configured wait bound.
func (l *Locker) Wait() time.Duration {
	return l.wait
}

// Acquire locks every key and returns a function that releases them.
// Duplicate and empty keys are ignored.
func (l *Locker) Acquire(ctx context.Context, keys ...string) (func(), error) {
	ordered := Canonical(keys)

	deadline := time.Now().Add(l.wait)
	held := make([]string, 0, len(ordered))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			l.unlock(held[i])
		}
	}

	for _, k := range ordered {
		if err := l.lock(ctx, k, deadline); err != nil {
			release()
			return nil, err
		}
		held = append(held, k)
	}

	var once sync.Once
	return func() { once.Do(release) }, nil
}

// Held reports how many keys currently have an entry. Used by tests to check
// that entries are reclaimed.
func (l *Locker) Held() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *Locker) lock(ctx context.Context, key string, deadline time.Time) error {
	e := l.ref(key)

	if e.sem.TryAcquire(1) {
		return nil
	}

	remaining := time.Until(deadline)
	if remaining <= 0 {
		l.unref(key)
		return &BusyError{Key: key}
	}

	wctx, cancel := context.WithTimeout(ctx, remaining)
	defer cancel()
	if err := e.sem.Acquire(wctx, 1); err != nil {
		l.unref(key)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &BusyError{Key: key}
	}
	return nil
}

func (l *Locker) unlock(key string) {
	l.mu.Lock()
	e := l.entries[key]
	l.mu.Unlock()
	if e == nil {
		return
	}
	e.sem.Release(1)
	l.unref(key)
}

func (l *Locker) ref(key string) *entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		e = &entry{sem: semaphore.NewWeighted(1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *Locker) unref(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok {
		return
	}
	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Canonical returns keys sorted and de-duplicated with empty keys dropped.
// This is the global acquisition order.
func Canonical(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
