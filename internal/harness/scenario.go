package harness

import (
	"bytes"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultStart is the scenario start time when none is given.
var DefaultStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

// Scenario is a scripted sequence of settlement operations with
// expectations.
type Scenario struct {
	// Name identifies the scenario and names its golden file.
	Name        string `yaml:"name"`
	Description string `yaml:"description"`

	// Start is the time T that relative times are based on.
	Start time.Time `yaml:"start,omitempty"`

	Steps      []Step      `yaml:"steps"`
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one operation performed by a party.
type Step struct {
	// At moves the clock before the step (T, T+2d, T-1h). The clock never
	// moves on its own.
	At string `yaml:"at,omitempty"`

	// As is the calling party; Perms are its permissions.
	As    string   `yaml:"as,omitempty"`
	Perms []string `yaml:"perms,omitempty"`

	// Op is the operation name, e.g. obligation.create or swap.complete.
	Op string `yaml:"op"`

	// Key is the idempotency key. Defaults to step-N, so reusing a key
	// must be explicit.
	Key string `yaml:"key,omitempty"`

	// Bind names the id returned by the step for later $NAME references.
	Bind string `yaml:"bind,omitempty"`

	// Args are decoded into the operation's request type after references
	// and relative times are resolved.
	Args yaml.Node `yaml:"args,omitempty"`

	// Fail makes the executor fail every forward instruction of this kind
	// (ESCROW, RELEASE, REFUND, TRANSFER) for the duration of the step.
	Fail string `yaml:"fail,omitempty"`

	Expect *Expect `yaml:"expect,omitempty"`
}

// Expect is the expected outcome of a step.
type Expect struct {
	// Error is the expected error kind, e.g. NOT_AUTHORIZED.
	Error string `yaml:"error,omitempty"`
	// Status is the expected status of the returned record, or the number
	// of released legs for release steps.
	Status string `yaml:"status,omitempty"`
}

// Assertion checks the final state.
type Assertion struct {
	// Type is one of status, holder, locked, events, legs, instructions.
	Type string `yaml:"type"`

	// Ref is the record to inspect ($NAME or a literal id). Obligation refs
	// follow transfers to the current record.
	Ref string `yaml:"ref,omitempty"`

	// Expect is the expected scalar (status, holder, "true"/"false").
	Expect string `yaml:"expect,omitempty"`

	// Values is the expected list: event kinds, leg statuses, executed
	// instruction kinds or uncompensated instruction kinds, in order.
	Values []string `yaml:"values,omitempty"`
}

// Assertion type constants.
const (
	AssertStatus       = "status"
	AssertHolder       = "holder"
	AssertLocked       = "locked"
	AssertEvents       = "events"
	AssertLegs         = "legs"
	AssertInstructions = "instructions"
	AssertOutstanding  = "outstanding"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true) // Reject unknown fields
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if scenario.Start.IsZero() {
		scenario.Start = DefaultStart
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	binds := make(map[string]bool)
	for i, step := range s.Steps {
		if !knownOps[step.Op] {
			return fmt.Errorf("steps[%d]: unknown op %q", i, step.Op)
		}
		if step.As == "" && step.Op != OpReleaseAll && step.Op != OpOracleSet && step.Op != OpRelease {
			return fmt.Errorf("steps[%d]: as is required for %s", i, step.Op)
		}
		if step.At != "" {
			if _, err := ParseAt(s.Start, step.At); err != nil {
				return fmt.Errorf("steps[%d].at: %w", i, err)
			}
		}
		if step.Bind != "" {
			if binds[step.Bind] {
				return fmt.Errorf("steps[%d]: %q is already bound", i, step.Bind)
			}
			binds[step.Bind] = true
		}
		if step.Expect != nil && step.Expect.Error != "" && step.Expect.Status != "" {
			return fmt.Errorf("steps[%d].expect: error and status are exclusive", i)
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, &a); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertStatus, AssertHolder, AssertLocked:
		if a.Ref == "" || a.Expect == "" {
			return fmt.Errorf("assertions[%d]: ref and expect are required for %s", index, a.Type)
		}
	case AssertEvents, AssertLegs:
		if a.Ref == "" {
			return fmt.Errorf("assertions[%d]: ref is required for %s", index, a.Type)
		}
	case AssertInstructions, AssertOutstanding:
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// ParseAt resolves a relative time: T, or T followed by a signed offset
// such as +7d, -1h or +2d12h.
func ParseAt(start time.Time, s string) (time.Time, error) {
	if s == "T" {
		return start, nil
	}
	if len(s) < 3 || s[0] != 'T' || (s[1] != '+' && s[1] != '-') {
		return time.Time{}, fmt.Errorf("invalid relative time %q", s)
	}
	d, err := parseOffset(s[2:])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid relative time %q: %w", s, err)
	}
	if s[1] == '-' {
		d = -d
	}
	return start.Add(d), nil
}

// parseOffset parses a duration that may start with a whole number of days.
func parseOffset(s string) (time.Duration, error) {
	var d time.Duration
	if i := strings.IndexByte(s, 'd'); i >= 0 {
		days, err := strconv.Atoi(s[:i])
		if err != nil {
			return 0, err
		}
		d = time.Duration(days) * 24 * time.Hour
		s = s[i+1:]
		if s == "" {
			return d, nil
		}
	}
	rest, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	return d + rest, nil
}
