package engine

import (
	"errors"
	"fmt"
)

// Kind identifies an error category. API layers map kinds to user-facing
// codes without re-deriving them.
type Kind string

const (
	// Precondition violations. Never retried automatically.
	KindNotCounterparty        Kind = "NOT_COUNTERPARTY"
	KindNotHolder              Kind = "NOT_HOLDER"
	KindNotAuthorized          Kind = "NOT_AUTHORIZED"
	KindInvalidState           Kind = "INVALID_STATE"
	KindAcceptanceWindowClosed Kind = "ACCEPTANCE_WINDOW_CLOSED"
	KindDeadlineExpired        Kind = "DEADLINE_EXPIRED"
	KindDeadlineNotFuture      Kind = "DEADLINE_NOT_FUTURE"
	KindInvalidExpiry          Kind = "INVALID_EXPIRY"
	KindAlreadyTerminal        Kind = "ALREADY_TERMINAL"
	KindRepurchaseWindowClosed Kind = "REPURCHASE_WINDOW_CLOSED"
	KindCollateralNotExpired   Kind = "COLLATERAL_NOT_EXPIRED"
	KindInvalidArgument        Kind = "INVALID_ARGUMENT"
	KindNotFound               Kind = "NOT_FOUND"

	// Conflicts. Transient and safe to retry with backoff.
	KindAlreadyLocked Kind = "ALREADY_LOCKED"
	KindBusy          Kind = "BUSY"
	KindConflict      Kind = "CONFLICT"

	// A member of a composed operation failed; nothing was committed.
	KindComposedMemberFailed Kind = "COMPOSED_MEMBER_FAILED"

	// The asset executor failed and the transition was compensated.
	KindExecutorFailed Kind = "EXECUTOR_FAILED"

	// An idempotency key was reused for a different request.
	KindIdempotencyConflict Kind = "IDEMPOTENCY_CONFLICT"
)

// Category groups kinds by how a caller should react.
type Category string

const (
	CategoryPrecondition Category = "precondition"
	CategoryConflict     Category = "conflict"
	CategoryAtomic       Category = "atomic"
	CategoryExecutor     Category = "executor"
	CategoryIdempotency  Category = "idempotency"
)

// CategoryOf returns the category of k.
func CategoryOf(k Kind) Category {
	switch k {
	case KindAlreadyLocked, KindBusy, KindConflict:
		return CategoryConflict
	case KindComposedMemberFailed:
		return CategoryAtomic
	case KindExecutorFailed:
		return CategoryExecutor
	case KindIdempotencyConflict:
		return CategoryIdempotency
	}
	return CategoryPrecondition
}

// Error is a structured settlement error.
//
// EntityID names the obligation, swap or composed contract the operation
// targeted. Member names the failing member obligation or leg when the
// failure happened inside a composed operation or an executor call.
type Error struct {
	Kind     Kind
	EntityID string
	Member   string
	Message  string
	Err      error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Message)
	switch {
	case e.EntityID != "" && e.Member != "":
		msg = fmt.Sprintf("%s (entity=%s, member=%s)", msg, e.EntityID, e.Member)
	case e.EntityID != "":
		msg = fmt.Sprintf("%s (entity=%s)", msg, e.EntityID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same kind, so callers can write
// errors.Is(err, &Error{Kind: KindBusy}).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && (t.EntityID == "" || t.EntityID == e.EntityID)
}

// KindOf returns the kind of the outermost *Error in err's chain, or "".
// Uses errors.As to handle wrapped errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries kind k.
func IsKind(err error, k Kind) bool {
	return KindOf(err) == k
}

// IsRetryable reports whether err is a transient conflict that may succeed
// if the same request is resubmitted later.
func IsRetryable(err error) bool {
	k := KindOf(err)
	return k != "" && CategoryOf(k) == CategoryConflict
}

// Cause returns the innermost *Error for composed failures, i.e. the error
// of the member that failed. For other errors it returns the *Error itself.
func Cause(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return nil
	}
	for e.Kind == KindComposedMemberFailed {
		var inner *Error
		if !errors.As(e.Err, &inner) {
			break
		}
		e = inner
	}
	return e
}

func newError(kind Kind, entityID, format string, args ...any) *Error {
	return &Error{Kind: kind, EntityID: entityID, Message: fmt.Sprintf(format, args...)}
}

func errNotFound(entity, id string) *Error {
	return newError(KindNotFound, id, "%s not found", entity)
}

func errInvalidState(id string, format string, args ...any) *Error {
	return newError(KindInvalidState, id, format, args...)
}

func errInvalidArgument(id string, format string, args ...any) *Error {
	return newError(KindInvalidArgument, id, format, args...)
}

// errComposedMember wraps a member failure in a composed operation.
func errComposedMember(composedID string, index int, memberID string, cause error) *Error {
	return &Error{
		Kind:     KindComposedMemberFailed,
		EntityID: composedID,
		Member:   memberID,
		Message:  fmt.Sprintf("member %d (%s) failed", index, memberID),
		Err:      cause,
	}
}
