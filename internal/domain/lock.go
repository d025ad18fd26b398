package domain

// LockRole says why an obligation is held by a swap.
type LockRole string

const (
	RoleObligation LockRole = "OBLIGATION"
	RoleCollateral LockRole = "COLLATERAL"
)

// Lock marks an obligation as held by an in-flight swap. An obligation has at
// most one lock at a time.
type Lock struct {
	ObligationID string     `json:"obligation_id"`
	SwapID       string     `json:"swap_id"`
	SwapStatus   SwapStatus `json:"swap_status"`
	Role         LockRole   `json:"role"`
	Party        string     `json:"party"`
}

// LockRef is the read-side view of a lock attached to an obligation.
type LockRef struct {
	SwapID     string     `json:"swap_id"`
	SwapStatus SwapStatus `json:"swap_status"`
	Role       LockRole   `json:"role"`
}

// Ref projects the lock onto its obligation.
func (l Lock) Ref() *LockRef {
	return &LockRef{SwapID: l.SwapID, SwapStatus: l.SwapStatus, Role: l.Role}
}
