package domain

import "time"

// ComposedContract is an ordered set of obligations managed as one unit.
type ComposedContract struct {
	ID        string    `json:"id"`
	Members   []string  `json:"members"`
	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	Version   int64     `json:"version"`
}

// StatusMixed is shown when the members of a composed contract disagree.
// It is a display value only.
const StatusMixed = "MIXED"

// ComposedStatus returns the common status of members, or StatusMixed.
// An empty member list has no status.
func ComposedStatus(members []*Obligation) string {
	if len(members) == 0 {
		return ""
	}
	first := members[0].Status
	for _, m := range members[1:] {
		if m.Status != first {
			return StatusMixed
		}
	}
	return string(first)
}

// Clone returns a deep copy.
func (c *ComposedContract) Clone() *ComposedContract {
	out := *c
	out.Members = append([]string(nil), c.Members...)
	return &out
}
