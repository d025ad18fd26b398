package cli

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/settle/internal/policy"
)

// PolicySummary is the output of policy validate.
type PolicySummary struct {
	File       string   `json:"file"`
	Privileged []string `json:"privileged"`
	Cancel     string   `json:"cancel_after_acceptance"`
	LockWait   string   `json:"lock_wait,omitempty"`
}

func (p PolicySummary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "\u2713 %s is valid\n", p.File)
	fmt.Fprintf(&b, "  privileged: %s\n", strings.Join(p.Privileged, ", "))
	fmt.Fprintf(&b, "  cancel_after_acceptance: %s", p.Cancel)
	if p.LockWait != "" {
		fmt.Fprintf(&b, "\n  lock_wait: %s", p.LockWait)
	}
	return b.String()
}

// NewPolicyCommand creates the policy command group.
func NewPolicyCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Check settlement policy files",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "validate <policy.cue>",
		Short: "Validate a policy file and show the resolved policy",
		Long: `Validate a CUE policy file against the policy schema and print the
policy the engine would run with.

Exit codes:
  0 - Policy is valid
  1 - Policy is invalid
  2 - File could not be read

Example:
  settle policy validate ./policy.cue`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := rootOpts.formatter(cmd)
			p, err := policy.Load(args[0])
			if err != nil {
				var pe *fs.PathError
				if errors.As(err, &pe) {
					return WrapExitError(ExitCommandError, "failed to read policy", err)
				}
				if fmtErr := out.Error("E_POLICY_INVALID", err.Error(), nil); fmtErr != nil {
					return fmtErr
				}
				return WrapExitError(ExitFailure, "invalid policy", err)
			}

			summary := PolicySummary{File: args[0], Privileged: p.Privileged, Cancel: string(p.Cancel)}
			if p.LockWait > 0 {
				summary.LockWait = p.LockWait.String()
			}
			return render(out, summary)
		},
	})

	return cmd
}
