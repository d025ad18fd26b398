package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/settle/internal/domain"
	"github.com/roach88/settle/internal/engine"
	"github.com/roach88/settle/internal/ids"
	"github.com/roach88/settle/internal/oracle"
	"github.com/roach88/settle/internal/store"
	"github.com/roach88/settle/internal/testutil"
)

// Harness executes one scenario against a fresh engine.
type Harness struct {
	scenario *Scenario
	store    *store.Store
	engine   *engine.Engine
	clock    *testutil.ManualClock
	exec     *testutil.Executor
	oracle   *oracle.Static
	bindings map[string]string
}

// Run executes a scenario and returns the result.
//
// Each scenario runs in a fresh in-memory database for isolation.
// Execution flow:
//  1. Create the store, engine, clock, executor and oracle
//  2. Execute steps in order, checking each expect clause
//  3. Evaluate assertions against the final state
//  4. Collect the committed audit events
//
// A returned error means the harness itself failed; a scenario whose
// expectations do not hold returns a Result with Pass false.
func Run(ctx context.Context, scenario *Scenario, opts ...engine.Option) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	h := &Harness{
		scenario: scenario,
		store:    st,
		clock:    testutil.NewManualClock(scenario.Start),
		exec:     testutil.NewExecutor(),
		oracle:   oracle.NewStatic(nil),
		bindings: make(map[string]string),
	}
	base := []engine.Option{
		engine.WithNow(h.clock.Now),
		engine.WithIDs(ids.NewSequenceGenerator("id")),
		engine.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))), // Suppress logs in scenarios
		engine.WithOracle(h.oracle),
	}
	eng, err := engine.New(ctx, st, h.exec, append(base, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	defer eng.Close()
	h.engine = eng

	result := NewResult()
	for i := range scenario.Steps {
		if err := h.executeStep(ctx, i, &scenario.Steps[i], result); err != nil {
			return nil, fmt.Errorf("step %d (%s): %w", i+1, scenario.Steps[i].Op, err)
		}
	}

	for _, a := range scenario.Assertions {
		if err := h.evaluate(ctx, a); err != nil {
			result.AddError("%v", err)
		}
	}

	events, err := eng.Events(ctx, "", 0, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read events: %w", err)
	}
	for _, ev := range events {
		result.Events = append(result.Events, TraceEvent{Seq: ev.Seq, Kind: ev.Kind, Entity: ev.EntityID})
	}
	for k, v := range h.bindings {
		result.Bindings[k] = v
	}
	return result, nil
}

// executeStep runs one step and records it. Unmet expectations are added to
// result; only malformed steps return an error.
func (h *Harness) executeStep(ctx context.Context, i int, step *Step, result *Result) error {
	if step.At != "" {
		at, err := ParseAt(h.scenario.Start, step.At)
		if err != nil {
			return err
		}
		h.clock.Set(at)
	}
	args := cloneNode(&step.Args)
	if err := h.resolve(args); err != nil {
		return err
	}
	if step.Fail != "" {
		h.exec.FailKind(engine.InstructionKind(step.Fail))
		defer h.exec.Heal()
	}

	caller := domain.Caller{Party: step.As, Permissions: step.Perms}
	key := step.Key
	if key == "" {
		key = fmt.Sprintf("step-%d", i+1)
	}

	out, target, err := h.dispatch(ctx, step.Op, args, caller, key)
	if err != nil && engine.KindOf(err) == "" {
		// Not a settlement error: the harness or store broke.
		return err
	}

	ts := TraceStep{Step: i + 1, Op: step.Op, As: step.As, Target: target, Outcome: "ok"}
	if err != nil {
		ts.Outcome = string(engine.KindOf(err))
	} else {
		ts.Result, ts.Status = out.id, out.status
		if step.Bind != "" {
			h.bindings[step.Bind] = out.id
		}
	}
	result.Steps = append(result.Steps, ts)

	switch {
	case step.Expect != nil && step.Expect.Error != "":
		if ts.Outcome != step.Expect.Error {
			result.AddError("step %d (%s): expected error %s, got %s", i+1, step.Op, step.Expect.Error, describe(err))
		}
	case err != nil:
		result.AddError("step %d (%s): unexpected error: %v", i+1, step.Op, err)
	case step.Expect != nil && step.Expect.Status != "" && step.Expect.Status != out.status:
		result.AddError("step %d (%s): expected status %s, got %s", i+1, step.Op, step.Expect.Status, out.status)
	}
	return nil
}

func describe(err error) string {
	if err == nil {
		return "success"
	}
	return err.Error()
}

// cloneNode deep-copies n so a scenario can be run more than once.
func cloneNode(n *yaml.Node) *yaml.Node {
	c := *n
	if n.Content != nil {
		c.Content = make([]*yaml.Node, len(n.Content))
		for i, child := range n.Content {
			c.Content[i] = cloneNode(child)
		}
	}
	return &c
}

// resolve rewrites $NAME references and relative times in args in place.
// Mapping keys are left alone.
func (h *Harness) resolve(n *yaml.Node) error {
	switch n.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, c := range n.Content {
			if err := h.resolve(c); err != nil {
				return err
			}
		}
	case yaml.MappingNode:
		for i := 1; i < len(n.Content); i += 2 {
			if err := h.resolve(n.Content[i]); err != nil {
				return err
			}
		}
	case yaml.ScalarNode:
		v, ok, err := h.resolveScalar(n.Value)
		if err != nil {
			return err
		}
		if ok {
			n.Value = v
			n.Tag = "!!str"
			n.Style = yaml.DoubleQuotedStyle
		}
	}
	return nil
}

func (h *Harness) resolveScalar(s string) (string, bool, error) {
	switch {
	case strings.HasPrefix(s, "$"):
		name, suffix, _ := strings.Cut(s[1:], "/")
		id, ok := h.bindings[name]
		if !ok {
			return "", false, fmt.Errorf("unbound reference %s", s)
		}
		if suffix != "" {
			id += "/" + suffix
		}
		return id, true, nil
	case s == "T" || strings.HasPrefix(s, "T+") || strings.HasPrefix(s, "T-"):
		t, err := ParseAt(h.scenario.Start, s)
		if err != nil {
			return "", false, err
		}
		return t.Format(time.RFC3339Nano), true, nil
	}
	return s, false, nil
}

// ref resolves an assertion ref.
func (h *Harness) ref(s string) (string, error) {
	v, _, err := h.resolveScalar(s)
	return v, err
}
