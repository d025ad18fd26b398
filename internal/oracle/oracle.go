// Package oracle provides data sources for oracle-gated payment legs.
//
// A source answers "what value does oracle (owner, address) currently report
// for key". Lookups are read-only; the engine polls them when deciding
// whether a leg can be released.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/roach88/settle/internal/domain"
)

// ErrNoValue is returned when the oracle has not reported a value for a key.
var ErrNoValue = errors.New("oracle: no value")

// Key returns the storage key for a condition's oracle entry.
func Key(owner, address, key string) string {
	return fmt.Sprintf("oracle:%s:%s:%s", owner, address, key)
}

// Static is an in-memory oracle. The zero value is ready to use.
//
// Thread-safety: All methods are safe for concurrent use.
type Static struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewStatic creates an oracle preloaded with values keyed by Key.
func NewStatic(values map[string]string) *Static {
	s := &Static{values: make(map[string]string, len(values))}
	for k, v := range values {
		s.values[k] = v
	}
	return s
}

// Set records the value oracle (owner, address) reports for key.
func (s *Static) Set(owner, address, key, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[Key(owner, address, key)] = value
}

// Lookup implements engine.OracleSource.
func (s *Static) Lookup(_ context.Context, c domain.OracleCondition) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[Key(c.Owner, c.Address, c.Key)]
	if !ok {
		return "", fmt.Errorf("%s: %w", Key(c.Owner, c.Address, c.Key), ErrNoValue)
	}
	return v, nil
}
