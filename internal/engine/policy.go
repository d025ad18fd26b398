package engine

import "github.com/roach88/settle/internal/domain"

// CancelPolicy decides whether an accepted obligation may be cancelled by
// caller. It is only consulted after acceptance; before acceptance the holder
// and counterparty can always cancel.
type CancelPolicy interface {
	AllowCancelAfterAcceptance(caller domain.Caller, o *domain.Obligation) bool
}

// CancelPolicyFunc adapts a function to CancelPolicy.
type CancelPolicyFunc func(caller domain.Caller, o *domain.Obligation) bool

// AllowCancelAfterAcceptance implements CancelPolicy.
func (f CancelPolicyFunc) AllowCancelAfterAcceptance(caller domain.Caller, o *domain.Obligation) bool {
	return f(caller, o)
}

// DenyCancelPolicy never allows post-acceptance cancellation.
type DenyCancelPolicy struct{}

// AllowCancelAfterAcceptance implements CancelPolicy.
func (DenyCancelPolicy) AllowCancelAfterAcceptance(domain.Caller, *domain.Obligation) bool {
	return false
}

// PrivilegedCancelPolicy allows callers holding one of Permissions. With
// RequireTerms the obligation must also have been issued with
// Terms.CancellableAfterAcceptance.
type PrivilegedCancelPolicy struct {
	Permissions  []string
	RequireTerms bool
}

// AllowCancelAfterAcceptance implements CancelPolicy.
func (p PrivilegedCancelPolicy) AllowCancelAfterAcceptance(caller domain.Caller, o *domain.Obligation) bool {
	if !caller.HasAny(p.Permissions) {
		return false
	}
	return !p.RequireTerms || o.Terms.CancellableAfterAcceptance
}

// DefaultPrivileged are the permissions treated as privileged unless
// configured otherwise.
var DefaultPrivileged = []string{domain.PermOwner, domain.PermMinter}

// DefaultCancelPolicy requires a privileged caller and obligation terms that
// permit it.
func DefaultCancelPolicy() CancelPolicy {
	return PrivilegedCancelPolicy{Permissions: DefaultPrivileged, RequireTerms: true}
}
