package engine

import (
	"context"
	"strings"

	"github.com/roach88/settle/internal/domain"
)

const (
	OpCreateComposed  = "composed.create"
	OpExecuteComposed = "composed.execute"
)

// ComposedOp is a lifecycle operation applied to every member of a composed
// contract.
type ComposedOp string

const (
	ComposedAccept   ComposedOp = "accept"
	ComposedTransfer ComposedOp = "transfer"
	ComposedCancel   ComposedOp = "cancel"
)

// ComposedRequest applies Op to every member of composed contract ID.
// NewHolder is required for transfers and ignored otherwise.
type ComposedRequest struct {
	ID        string     `json:"id" yaml:"id"`
	Op        ComposedOp `json:"op" yaml:"op"`
	NewHolder string     `json:"new_holder,omitempty" yaml:"new_holder,omitempty"`
}

// CreateComposed groups existing obligations into a composed contract. The
// caller must be a party to every member.
func (e *Engine) CreateComposed(ctx context.Context, caller domain.Caller, key string, members []string) (*domain.ComposedContract, error) {
	r := request{op: OpCreateComposed, caller: caller, key: key, body: members, entities: members}
	return run(ctx, e, r, func(u *unitOfWork) (*domain.ComposedContract, error) {
		if len(members) == 0 {
			return nil, errInvalidArgument("", "a composed contract needs at least one member")
		}
		seen := make(map[string]bool, len(members))
		for _, id := range members {
			if id == "" || seen[id] {
				return nil, errInvalidArgument(id, "members must be non-empty and distinct")
			}
			seen[id] = true

			o, err := u.obligation(id)
			if err != nil {
				return nil, err
			}
			if o.Superseded() {
				return nil, errSuperseded(o)
			}
			if u.caller.Party != o.Holder && u.caller.Party != o.Counterparty {
				return nil, newError(KindNotAuthorized, id, "caller is not a party to this obligation")
			}
		}

		c := &domain.ComposedContract{
			ID:        u.e.ids.Generate(),
			Members:   append([]string(nil), members...),
			CreatedBy: u.caller.Party,
			CreatedAt: u.now,
		}
		u.putComposed(c)
		u.emit(domain.EventComposedCreated, c.ID, map[string]string{"members": strings.Join(c.Members, ",")})
		return c, nil
	})
}

// ExecuteComposedOperation applies one operation to every member as a unit.
//
// Every member is validated first with the same rules as the single
// obligation operation. If any member fails, nothing is staged and the error
// names the first failing member. Otherwise all transitions commit together.
func (e *Engine) ExecuteComposedOperation(ctx context.Context, caller domain.Caller, key string, req ComposedRequest) (*ComposedView, error) {
	c, err := e.store.GetComposed(ctx, req.ID)
	if err != nil {
		return nil, mapStoreError(err, "composed contract", req.ID)
	}
	// Lock the current records, not the ids the contract was built with.
	heads := make([]string, 0, len(c.Members))
	index := make(map[string]int, len(c.Members))
	for i, id := range c.Members {
		chain, err := e.store.History(ctx, id)
		if err != nil {
			return nil, mapStoreError(err, "obligation", id)
		}
		h := chain[len(chain)-1].ID
		heads = append(heads, h)
		index[h] = i
	}

	r := request{
		op:       OpExecuteComposed,
		caller:   caller,
		key:      key,
		body:     req,
		entities: append([]string{req.ID}, heads...),
	}
	view, err := run(ctx, e, r, func(u *unitOfWork) (*ComposedView, error) {
		return u.executeComposed(req, heads)
	})
	if err != nil && IsKind(err, KindExecutorFailed) {
		// Attribute the executor failure to the member it happened on.
		if i, ok := index[Cause(err).EntityID]; ok {
			return nil, errComposedMember(req.ID, i, heads[i], err)
		}
	}
	return view, err
}

func (u *unitOfWork) executeComposed(req ComposedRequest, heads []string) (*ComposedView, error) {
	switch req.Op {
	case ComposedAccept, ComposedTransfer, ComposedCancel:
	default:
		return nil, errInvalidArgument(req.ID, "unknown composed operation %q", req.Op)
	}

	c, err := u.composedContract(req.ID)
	if err != nil {
		return nil, err
	}
	locked := make(map[string]bool, len(heads))
	for _, h := range heads {
		locked[h] = true
	}

	members := make([]*domain.Obligation, len(c.Members))
	for i, id := range c.Members {
		o, err := u.head(id)
		if err != nil {
			return nil, errComposedMember(c.ID, i, id, err)
		}
		if !locked[o.ID] {
			return nil, newError(KindConflict, c.ID, "member %s changed while the operation was starting, retry", id)
		}
		members[i] = o
	}

	// Phase 1: validate every member without staging anything.
	for i, o := range members {
		if err := u.checkMember(req, o); err != nil {
			return nil, errComposedMember(c.ID, i, o.ID, err)
		}
	}

	// Phase 2: stage every transition.
	for i, o := range members {
		switch req.Op {
		case ComposedAccept:
			u.accept(o)
		case ComposedCancel:
			u.cancel(o)
		case ComposedTransfer:
			members[i] = u.transfer(o, req.NewHolder, o.ID)
		}
	}
	if req.Op == ComposedTransfer {
		for i, o := range members {
			c.Members[i] = o.ID
		}
		u.putComposed(c)
	}

	u.emit(domain.EventComposedExecuted, c.ID, map[string]string{
		"op":      string(req.Op),
		"members": strings.Join(c.Members, ","),
	})
	return &ComposedView{Contract: c, Members: members, Status: domain.ComposedStatus(members)}, nil
}

func (u *unitOfWork) checkMember(req ComposedRequest, o *domain.Obligation) error {
	switch req.Op {
	case ComposedAccept:
		return u.checkAccept(o)
	case ComposedTransfer:
		return u.checkTransfer(o, req.NewHolder)
	default:
		return u.checkCancel(o)
	}
}
