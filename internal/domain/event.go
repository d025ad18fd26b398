package domain

import "time"

// EventKind names a lifecycle transition.
type EventKind string

const (
	EventObligationCreated     EventKind = "obligation.created"
	EventObligationAccepted    EventKind = "obligation.accepted"
	EventObligationTransferred EventKind = "obligation.transferred"
	EventObligationCancelled   EventKind = "obligation.cancelled"
	EventObligationExpired     EventKind = "obligation.expired"
	EventLegReleased           EventKind = "leg.released"
	EventComposedCreated       EventKind = "composed.created"
	EventComposedExecuted      EventKind = "composed.executed"
	EventSwapCreated           EventKind = "swap.created"
	EventSwapCompleted         EventKind = "swap.completed"
	EventSwapCancelled         EventKind = "swap.cancelled"
	EventSwapExpired           EventKind = "swap.expired"
	EventSwapRepurchased       EventKind = "swap.repurchased"
	EventCollateralForfeited   EventKind = "swap.collateral_forfeited"
)

// Event is one entry of the audit log. Seq is assigned by the engine's
// logical clock and orders events; At is wall-clock time for display.
type Event struct {
	Seq      int64             `json:"seq"`
	Kind     EventKind         `json:"kind"`
	EntityID string            `json:"entity_id"`
	Caller   string            `json:"caller,omitempty"`
	Key      string            `json:"key,omitempty"`
	At       time.Time         `json:"at"`
	Detail   map[string]string `json:"detail,omitempty"`
}
