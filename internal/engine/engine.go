package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/settle/internal/domain"
	"github.com/roach88/settle/internal/ids"
	"github.com/roach88/settle/internal/keylock"
	"github.com/roach88/settle/internal/store"
)

// DefaultLockWait bounds how long an operation waits for the entities it
// touches before failing with BUSY.
const DefaultLockWait = 2 * time.Second

// OracleSource reads oracle values for unlock conditions. It must not have
// side effects.
type OracleSource interface {
	Lookup(ctx context.Context, c domain.OracleCondition) (string, error)
}

// Engine is the settlement engine.
//
// Thread-safety model: every public method is safe for concurrent use.
// Operations on the same obligation or swap are serialized by per-entity
// key locks taken in sorted order; operations on disjoint entities run in
// parallel. All writes of an operation go through one store commit, whose
// version checks also order engines sharing the database.
type Engine struct {
	store      *store.Store
	exec       Executor
	oracle     OracleSource
	keys       *keylock.Locker
	now        func() time.Time
	ids        ids.Generator
	policy     CancelPolicy
	privileged []string
	logger     *slog.Logger
	sink       EventSink
	pub        *publisher
	lockWait   time.Duration
}

// Option configures an Engine.
type Option func(*Engine)

// WithNow sets the wall clock used for deadlines and unlock times.
func WithNow(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithLockWait sets the bounded wait for per-entity locks.
//
// Default: 2s (DefaultLockWait). Use WithLockWait(0) in tests to make
// contention fail immediately with BUSY.
func WithLockWait(d time.Duration) Option {
	return func(e *Engine) {
		e.lockWait = d
	}
}

// WithCancelPolicy sets the post-acceptance cancellation policy.
// Default: DefaultCancelPolicy().
func WithCancelPolicy(p CancelPolicy) Option {
	return func(e *Engine) {
		e.policy = p
	}
}

// WithPrivileged sets the permissions treated as privileged when issuing an
// obligation on behalf of another holder.
func WithPrivileged(perms []string) Option {
	return func(e *Engine) {
		e.privileged = append([]string(nil), perms...)
	}
}

// WithSink sets the event sink that receives committed events.
func WithSink(s EventSink) Option {
	return func(e *Engine) {
		e.sink = s
	}
}

// WithIDs sets the record id generator. Default: UUIDv7.
func WithIDs(g ids.Generator) Option {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithOracle sets the oracle data source for unlock conditions. Without one,
// legs gated on an oracle never release.
func WithOracle(o OracleSource) Option {
	return func(e *Engine) {
		e.oracle = o
	}
}

// New creates an Engine over st that moves value through exec. Several
// engines may share one database.
func New(ctx context.Context, st *store.Store, exec Executor, opts ...Option) (*Engine, error) {
	e := &Engine{
		store:      st,
		exec:       exec,
		now:        time.Now,
		ids:        ids.UUIDv7Generator{},
		policy:     DefaultCancelPolicy(),
		privileged: DefaultPrivileged,
		logger:     slog.Default(),
		lockWait:   DefaultLockWait,
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := st.Ping(ctx); err != nil {
		return nil, fmt.Errorf("new engine: %w", err)
	}
	e.keys = keylock.New(e.lockWait)
	if e.sink != nil {
		e.pub = newPublisher(e.sink, e.logger)
	}
	return e, nil
}

// Close flushes pending events to the sink. It does not close the store.
func (e *Engine) Close() {
	if e.pub != nil {
		e.pub.close()
	}
}

// Now returns the engine's current wall-clock time.
func (e *Engine) Now() time.Time {
	return e.now()
}

// GetObligation returns an obligation record.
func (e *Engine) GetObligation(ctx context.Context, id string) (*domain.Obligation, error) {
	o, err := e.store.GetObligation(ctx, id)
	if err != nil {
		return nil, mapStoreError(err, "obligation", id)
	}
	return o, nil
}

// History returns the transfer chain containing id, oldest first.
func (e *Engine) History(ctx context.Context, id string) ([]*domain.Obligation, error) {
	chain, err := e.store.History(ctx, id)
	if err != nil {
		return nil, mapStoreError(err, "obligation", id)
	}
	return chain, nil
}

// ListObligations returns current obligations, optionally for one holder.
func (e *Engine) ListObligations(ctx context.Context, holder string) ([]*domain.Obligation, error) {
	return e.store.ListObligations(ctx, holder)
}

// GetSwap returns a swap record.
func (e *Engine) GetSwap(ctx context.Context, id string) (*domain.Swap, error) {
	sw, err := e.store.GetSwap(ctx, id)
	if err != nil {
		return nil, mapStoreError(err, "swap", id)
	}
	return sw, nil
}

// ComposedView is a composed contract with its members resolved to their
// current records and the displayed status.
type ComposedView struct {
	Contract *domain.ComposedContract `json:"contract"`
	Members  []*domain.Obligation     `json:"members"`
	Status   string                   `json:"status"`
}

// GetComposed returns a composed contract with members resolved. Status is
// the common member status or MIXED; it is for display only.
func (e *Engine) GetComposed(ctx context.Context, id string) (*ComposedView, error) {
	c, err := e.store.GetComposed(ctx, id)
	if err != nil {
		return nil, mapStoreError(err, "composed contract", id)
	}
	members := make([]*domain.Obligation, 0, len(c.Members))
	for _, mid := range c.Members {
		chain, err := e.store.History(ctx, mid)
		if err != nil {
			return nil, mapStoreError(err, "obligation", mid)
		}
		members = append(members, chain[len(chain)-1])
	}
	return &ComposedView{Contract: c, Members: members, Status: domain.ComposedStatus(members)}, nil
}

// IsLocked returns the swap lock held on an obligation, if any.
func (e *Engine) IsLocked(ctx context.Context, obligationID string) (domain.Lock, bool, error) {
	u := e.newUnit(ctx, "is_locked", domain.Caller{}, "")
	return u.lockManager().IsLocked(ctx, obligationID)
}

// Events returns audit events after afterSeq, optionally for one entity.
func (e *Engine) Events(ctx context.Context, entityID string, afterSeq int64, limit int) ([]domain.Event, error) {
	return e.store.Events(ctx, entityID, afterSeq, limit)
}

// acquire takes the per-entity locks for keys, mapping a timeout to BUSY.
func (e *Engine) acquire(ctx context.Context, keys []string) (func(), error) {
	release, err := e.keys.Acquire(ctx, keys...)
	if err != nil {
		var be *keylock.BusyError
		if errors.As(err, &be) {
			return nil, &Error{Kind: KindBusy, EntityID: be.Key, Message: "entity is busy, retry later", Err: err}
		}
		return nil, err
	}
	return release, nil
}

// oracleLookup binds the oracle source to ctx for the pure evaluator.
func (e *Engine) oracleLookup(ctx context.Context) func(domain.OracleCondition) (string, error) {
	if e.oracle == nil {
		return nil
	}
	return func(c domain.OracleCondition) (string, error) {
		return e.oracle.Lookup(ctx, c)
	}
}

func mapStoreError(err error, entity, id string) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return errNotFound(entity, id)
	case errors.Is(err, store.ErrVersionConflict):
		return &Error{Kind: KindConflict, EntityID: id, Message: "concurrent modification, retry", Err: err}
	}
	return err
}
