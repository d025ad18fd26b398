package domain

// Default privileged permissions.
const (
	PermOwner  = "owner"
	PermMinter = "minter"
)

// Caller is a verified party identity and its permissions, as supplied by the
// identity provider. The engine does not authenticate.
type Caller struct {
	Party       string   `json:"party" yaml:"party"`
	Permissions []string `json:"permissions,omitempty" yaml:"permissions,omitempty"`
}

// Has reports whether the caller holds perm.
func (c Caller) Has(perm string) bool {
	for _, p := range c.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// HasAny reports whether the caller holds any of perms.
func (c Caller) HasAny(perms []string) bool {
	for _, p := range perms {
		if c.Has(p) {
			return true
		}
	}
	return false
}
