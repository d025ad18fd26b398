package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/roach88/settle/internal/canon"
	"github.com/roach88/settle/internal/domain"
	"github.com/roach88/settle/internal/lockmgr"
	"github.com/roach88/settle/internal/store"
)

// unitOfWork collects everything one operation reads and writes.
//
// Records are loaded once and mutated in place; the store only sees them when
// the unit commits, so a rejected operation leaves no trace. The unit is also
// the lock table handed to lockmgr, which makes lock changes part of the same
// commit as the transition that caused them.
type unitOfWork struct {
	e      *Engine
	ctx    context.Context
	op     string
	caller domain.Caller
	key    string
	// scope names the attempt counter for the unit's instructions. It is the
	// request key unless one key covers independent units.
	scope string
	now   time.Time

	obligations map[string]*domain.Obligation
	swaps       map[string]*domain.Swap
	composed    map[string]*domain.ComposedContract
	dirty       map[string]bool

	stagedObligations []*domain.Obligation
	stagedSwaps       []*domain.Swap
	stagedComposed    []*domain.ComposedContract

	locks        map[string]*domain.Lock // nil value: deleted
	stored       map[string]*domain.Lock // as read from the store; nil value: none
	events       []domain.Event
	instructions []Instruction
	idem         *store.IdempotencyRecord

	// commitOnError commits staged work even though the operation returns
	// an error. Used when a rejected request still forces a transition.
	commitOnError bool
}

func (e *Engine) newUnit(ctx context.Context, op string, caller domain.Caller, key string) *unitOfWork {
	return &unitOfWork{
		e:           e,
		ctx:         ctx,
		op:          op,
		caller:      caller,
		key:         key,
		scope:       key,
		now:         e.now(),
		obligations: make(map[string]*domain.Obligation),
		swaps:       make(map[string]*domain.Swap),
		composed:    make(map[string]*domain.ComposedContract),
		dirty:       make(map[string]bool),
		locks:       make(map[string]*domain.Lock),
		stored:      make(map[string]*domain.Lock),
	}
}

func (u *unitOfWork) obligation(id string) (*domain.Obligation, error) {
	if o, ok := u.obligations[id]; ok {
		return o, nil
	}
	o, err := u.e.store.GetObligation(u.ctx, id)
	if err != nil {
		return nil, mapStoreError(err, "obligation", id)
	}
	u.obligations[id] = o
	return o, nil
}

func (u *unitOfWork) swap(id string) (*domain.Swap, error) {
	if sw, ok := u.swaps[id]; ok {
		return sw, nil
	}
	sw, err := u.e.store.GetSwap(u.ctx, id)
	if err != nil {
		return nil, mapStoreError(err, "swap", id)
	}
	u.swaps[id] = sw
	return sw, nil
}

func (u *unitOfWork) composedContract(id string) (*domain.ComposedContract, error) {
	if c, ok := u.composed[id]; ok {
		return c, nil
	}
	c, err := u.e.store.GetComposed(u.ctx, id)
	if err != nil {
		return nil, mapStoreError(err, "composed contract", id)
	}
	u.composed[id] = c
	return c, nil
}

// head follows SupersededBy from id to the current record.
func (u *unitOfWork) head(id string) (*domain.Obligation, error) {
	o, err := u.obligation(id)
	if err != nil {
		return nil, err
	}
	for o.Superseded() {
		if o, err = u.obligation(o.SupersededBy); err != nil {
			return nil, err
		}
	}
	return o, nil
}

// putObligation stages o for commit. The first call bumps the version once;
// a record with version 0 is new and is inserted at version 1.
func (u *unitOfWork) putObligation(o *domain.Obligation) {
	k := "obligation/" + o.ID
	if u.dirty[k] {
		return
	}
	u.dirty[k] = true
	o.Version++
	u.obligations[o.ID] = o
	u.stagedObligations = append(u.stagedObligations, o)
}

func (u *unitOfWork) putSwap(sw *domain.Swap) {
	k := "swap/" + sw.ID
	if u.dirty[k] {
		return
	}
	u.dirty[k] = true
	sw.Version++
	u.swaps[sw.ID] = sw
	u.stagedSwaps = append(u.stagedSwaps, sw)
}

func (u *unitOfWork) putComposed(c *domain.ComposedContract) {
	k := "composed/" + c.ID
	if u.dirty[k] {
		return
	}
	u.dirty[k] = true
	c.Version++
	u.composed[c.ID] = c
	u.stagedComposed = append(u.stagedComposed, c)
}

// storedLock reads the lock on id from the store once per unit.
func (u *unitOfWork) storedLock(ctx context.Context, id string) (*domain.Lock, error) {
	if l, ok := u.stored[id]; ok {
		return l, nil
	}
	l, ok, err := u.e.store.GetLock(ctx, id)
	if err != nil {
		return nil, err
	}
	var held *domain.Lock
	if ok {
		held = &l
	}
	u.stored[id] = held
	return held, nil
}

// GetLock implements lockmgr.Table. Staged changes shadow the store.
func (u *unitOfWork) GetLock(ctx context.Context, id string) (domain.Lock, bool, error) {
	if l, ok := u.locks[id]; ok {
		if l == nil {
			return domain.Lock{}, false, nil
		}
		return *l, true, nil
	}
	l, err := u.storedLock(ctx, id)
	if err != nil || l == nil {
		return domain.Lock{}, false, err
	}
	return *l, true, nil
}

// PutLock implements lockmgr.Table. The locked obligation is staged too, so
// its version moves with the lock and a concurrent transition on it fails
// the commit.
func (u *unitOfWork) PutLock(_ context.Context, l domain.Lock) error {
	o, err := u.obligation(l.ObligationID)
	if err != nil {
		return err
	}
	u.locks[l.ObligationID] = &l
	u.putObligation(o)
	return nil
}

// DeleteLock implements lockmgr.Table. Obligations without a lock are left
// alone.
func (u *unitOfWork) DeleteLock(ctx context.Context, id string) error {
	if _, ok, err := u.GetLock(ctx, id); err != nil || !ok {
		return err
	}
	o, err := u.obligation(id)
	if err != nil {
		return err
	}
	u.locks[id] = nil
	u.putObligation(o)
	return nil
}

func (u *unitOfWork) lockManager() *lockmgr.Manager {
	return lockmgr.New(u)
}

// lockOf returns the lock on an obligation as this unit currently sees it.
func (u *unitOfWork) lockOf(id string) (domain.Lock, bool, error) {
	return u.GetLock(u.ctx, id)
}

func (u *unitOfWork) emit(kind domain.EventKind, entityID string, detail map[string]string) {
	u.events = append(u.events, domain.Event{
		Kind:     kind,
		EntityID: entityID,
		Caller:   u.caller.Party,
		Key:      u.key,
		At:       u.now,
		Detail:   detail,
	})
}

// instruct queues an executor instruction. Keys are assigned when the unit
// finishes and its attempt is known.
func (u *unitOfWork) instruct(in Instruction) {
	u.instructions = append(u.instructions, in)
}

func (u *unitOfWork) moveLeg(kind InstructionKind, entityID string, l *domain.PaymentLeg) {
	u.instruct(Instruction{
		Kind:         kind,
		EntityID:     entityID,
		LegID:        l.ID,
		Amount:       l.Amount,
		Denomination: l.Denomination,
		From:         l.Source(),
		To:           l.Payee,
	})
}

func (u *unitOfWork) moveObligation(entityID, obligationID, from, to string) {
	u.instruct(Instruction{
		Kind:         InstructionTransfer,
		EntityID:     entityID,
		ObligationID: obligationID,
		From:         from,
		To:           to,
	})
}

// batch assembles the store writes. Lock changes are sorted by obligation id
// and staged obligations get their lock projection refreshed. A delete names
// the lock as it was read, so the store removes it only if it is unchanged.
func (u *unitOfWork) batch() store.Batch {
	b := store.Batch{
		Obligations: u.stagedObligations,
		Swaps:       u.stagedSwaps,
		Composed:    u.stagedComposed,
		Events:      u.events,
		Idempotency: u.idem,
	}
	ids := make([]string, 0, len(u.locks))
	for id := range u.locks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if l := u.locks[id]; l == nil {
			if held := u.stored[id]; held != nil {
				b.LockDeletes = append(b.LockDeletes, *held)
			}
		} else {
			b.LockPuts = append(b.LockPuts, *l)
		}
	}
	for _, o := range u.stagedObligations {
		if l, ok := u.locks[o.ID]; ok {
			if l == nil {
				o.Lock = nil
			} else {
				o.Lock = l.Ref()
			}
		}
	}
	return b
}

// finish runs the unit's instructions and commits its writes.
//
// Instructions run before the commit, keyed by an attempt number the store
// hands out per scope. If one fails, those already executed are compensated
// and nothing is committed. If the commit fails, every executed instruction
// is compensated. Either way the attempt is spent, so a retry under the same
// request key sends new instruction keys.
func (e *Engine) finish(u *unitOfWork) error {
	if err := u.ctx.Err(); err != nil {
		return err
	}

	if len(u.instructions) > 0 {
		attempt, err := e.store.NextAttempt(u.ctx, u.scope)
		if err != nil {
			return fmt.Errorf("%s: %w", u.op, err)
		}
		for i := range u.instructions {
			u.instructions[i].Key = instructionKey(u.key, attempt, u.instructions[i])
		}
	}

	done, err := runInstructions(u.ctx, e.exec, e.logger, u.instructions)
	if err != nil {
		return err
	}

	b := u.batch()
	if b.Empty() {
		return nil
	}

	// The store assigns event seqs inside the commit.
	err = e.store.Commit(context.WithoutCancel(u.ctx), b)
	if err != nil {
		compensate(u.ctx, e.exec, e.logger, done)
		if errors.Is(err, store.ErrVersionConflict) {
			return &Error{Kind: KindConflict, Message: "concurrent modification, retry", Err: err}
		}
		return fmt.Errorf("%s: %w", u.op, err)
	}

	if e.pub != nil {
		e.pub.publish(b.Events)
	}
	return nil
}

// request describes one idempotent state-changing call.
type request struct {
	op     string
	caller domain.Caller
	key    string
	body   any
	// entities are the ids the operation serializes on.
	entities []string
}

// outcome is the stored result of a request. Exactly one field is set.
type outcome struct {
	OK  json.RawMessage `json:"ok,omitempty"`
	Err *storedError    `json:"err,omitempty"`
}

type storedError struct {
	Kind     Kind   `json:"kind"`
	EntityID string `json:"entity_id,omitempty"`
	Member   string `json:"member,omitempty"`
	Message  string `json:"message"`
}

// run executes fn as an idempotent unit of work.
//
// The request is fingerprinted and checked against the idempotency record
// for its key while the entity locks are held. A replay of the same request
// returns the stored outcome without running fn; a different request under
// the same key fails with IDEMPOTENCY_CONFLICT. Requests rejected before
// anything commits are not recorded, so they can be corrected and resent
// under the same key.
func run[T any](ctx context.Context, e *Engine, r request, fn func(u *unitOfWork) (T, error)) (T, error) {
	var zero T
	if r.key == "" {
		return zero, errInvalidArgument("", "idempotency key is required")
	}
	hash, err := canon.Fingerprint(canon.DomainRequest, map[string]any{
		"op":      r.op,
		"caller":  r.caller,
		"request": r.body,
	})
	if err != nil {
		return zero, fmt.Errorf("%s: %w", r.op, err)
	}

	release, err := e.acquire(ctx, append(append([]string(nil), r.entities...), "idem/"+r.key))
	if err != nil {
		return zero, err
	}
	defer release()

	rec, ok, err := e.store.GetIdempotency(ctx, r.key)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", r.op, err)
	}
	if ok {
		if rec.Op != r.op || rec.RequestHash != hash {
			return zero, newError(KindIdempotencyConflict, "", "key %q was used for a different %s request", r.key, rec.Op)
		}
		e.logger.Debug("replayed", "op", r.op, "key", r.key)
		return replay[T](rec.Result)
	}

	u := e.newUnit(ctx, r.op, r.caller, r.key)
	res, opErr := fn(u)
	if opErr != nil && !u.commitOnError {
		e.logger.Debug("rejected", "op", r.op, "caller", r.caller.Party, "key", r.key, "kind", KindOf(opErr))
		return zero, opErr
	}

	result, err := encodeOutcome(res, opErr)
	if err != nil {
		return zero, fmt.Errorf("%s: %w", r.op, err)
	}
	u.idem = &store.IdempotencyRecord{
		Key:         r.key,
		Op:          r.op,
		RequestHash: hash,
		Result:      result,
		CreatedAt:   u.now,
	}
	if err := e.finish(u); err != nil {
		e.logger.Warn("operation failed", "op", r.op, "caller", r.caller.Party, "key", r.key, "error", err)
		return zero, err
	}

	e.logger.Info("transition", "op", r.op, "caller", r.caller.Party, "key", r.key, "events", len(u.events))
	if opErr != nil {
		return zero, opErr
	}
	return res, nil
}

func encodeOutcome(res any, opErr error) (json.RawMessage, error) {
	var out outcome
	if opErr != nil {
		se := &storedError{Kind: KindOf(opErr), Message: opErr.Error()}
		var e *Error
		if errors.As(opErr, &e) {
			se.EntityID, se.Member, se.Message = e.EntityID, e.Member, e.Message
		}
		out.Err = se
	} else {
		data, err := json.Marshal(res)
		if err != nil {
			return nil, err
		}
		out.OK = data
	}
	return json.Marshal(out)
}

func replay[T any](data json.RawMessage) (T, error) {
	var zero T
	var out outcome
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, fmt.Errorf("replay: %w", err)
	}
	if out.Err != nil {
		return zero, &Error{
			Kind:     out.Err.Kind,
			EntityID: out.Err.EntityID,
			Member:   out.Err.Member,
			Message:  out.Err.Message,
		}
	}
	var res T
	if err := json.Unmarshal(out.OK, &res); err != nil {
		return zero, fmt.Errorf("replay: %w", err)
	}
	return res, nil
}
