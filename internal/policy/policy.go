// Package policy compiles settlement policy files written in CUE.
//
// A policy file sets the privileged permissions, the post-acceptance
// cancellation mode and the entity lock wait. It is unified with the
// embedded #Policy schema, so unknown fields and invalid modes are rejected
// with the position of the offending value.
package policy

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/settle/internal/engine"
)

//go:embed schema.cue
var schemaSource string

// Mode is the post-acceptance cancellation mode.
type Mode string

const (
	ModeDeny       Mode = "deny"
	ModePrivileged Mode = "privileged"
	ModeTerms      Mode = "terms"
)

// Policy is a compiled settlement policy.
type Policy struct {
	Privileged []string
	Cancel     Mode
	// LockWait is zero when the file does not set it.
	LockWait time.Duration
}

// Default returns the policy used when no file is configured.
func Default() *Policy {
	return &Policy{
		Privileged: append([]string(nil), engine.DefaultPrivileged...),
		Cancel:     ModeTerms,
	}
}

// Load reads and compiles the policy file at path.
func Load(path string) (*Policy, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	return Compile(path, src)
}

// Compile compiles policy source. filename is used in error positions.
func Compile(filename string, src []byte) (*Policy, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("policy schema: %w", err)
	}

	data := ctx.CompileBytes(src, cue.Filename(filename))
	if err := data.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	v := schema.LookupPath(cue.ParsePath("#Policy")).Unify(data)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	p := &Policy{}
	pv := v.LookupPath(cue.ParsePath("privileged"))
	if d, ok := pv.Default(); ok {
		pv = d
	}
	privileged, err := pv.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for privileged.Next() {
		perm, err := privileged.Value().String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		if perm == "" {
			return nil, &CompileError{Field: "privileged", Message: "permission names must be non-empty", Pos: posOf(data, "privileged")}
		}
		p.Privileged = append(p.Privileged, perm)
	}

	mode := v.LookupPath(cue.ParsePath("cancel_after_acceptance"))
	if d, ok := mode.Default(); ok {
		mode = d
	}
	s, err := mode.String()
	if err != nil {
		return nil, formatCUEError(err)
	}
	p.Cancel = Mode(s)
	if p.Cancel != ModeDeny && len(p.Privileged) == 0 {
		return nil, &CompileError{
			Field:   "privileged",
			Message: fmt.Sprintf("cancel_after_acceptance %q needs at least one privileged permission", p.Cancel),
			Pos:     posOf(data, "privileged"),
		}
	}

	if lw := v.LookupPath(cue.ParsePath("lock_wait")); lw.Exists() {
		s, err := lw.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		d, err := time.ParseDuration(s)
		if err != nil || d < 0 {
			return nil, &CompileError{Field: "lock_wait", Message: fmt.Sprintf("invalid duration %q", s), Pos: posOf(data, "lock_wait")}
		}
		p.LockWait = d
	}
	return p, nil
}

// posOf returns where path is set in the policy file itself, so errors
// point at the user's value rather than the schema.
func posOf(data cue.Value, path string) token.Pos {
	return data.LookupPath(cue.ParsePath(path)).Pos()
}

// CancelPolicy returns the engine cancellation policy for p.
func (p *Policy) CancelPolicy() engine.CancelPolicy {
	switch p.Cancel {
	case ModeDeny:
		return engine.DenyCancelPolicy{}
	case ModePrivileged:
		return engine.PrivilegedCancelPolicy{Permissions: p.Privileged}
	}
	return engine.PrivilegedCancelPolicy{Permissions: p.Privileged, RequireTerms: true}
}

// Options returns the engine options that apply p.
func (p *Policy) Options() []engine.Option {
	opts := []engine.Option{
		engine.WithPrivileged(p.Privileged),
		engine.WithCancelPolicy(p.CancelPolicy()),
	}
	if p.LockWait > 0 {
		opts = append(opts, engine.WithLockWait(p.LockWait))
	}
	return opts
}

// CompileError is a policy error with its source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
