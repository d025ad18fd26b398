package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/settle/internal/domain"
	"github.com/roach88/settle/internal/engine"
)

// NewComposedCommand creates the composed command group.
func NewComposedCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "composed",
		Short: "Group obligations and act on them all at once",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create <obligation-id>...",
		Short: "Group obligations held by the caller",
		Long: `Group obligations into a composed contract. Every member must be held
by the caller.

Example:
  settle composed create --as alice id-1 id-2 id-3`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.mutate(cmd, func(c context.Context, s *session, caller domain.Caller, key string) (any, error) {
				return s.eng.CreateComposed(c, caller, key, args)
			})
		},
	})

	var newHolder string
	exec := &cobra.Command{
		Use:   "exec <id> accept|transfer|cancel",
		Short: "Apply an operation to every member, all or nothing",
		Long: `Apply accept, transfer or cancel to every member of a composed contract.
If any member fails, no member changes and the failing member is reported.

Examples:
  settle composed exec --as bob id-4 accept
  settle composed exec --as alice id-4 transfer --new-holder carol`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := engine.ComposedRequest{ID: args[0], Op: engine.ComposedOp(args[1]), NewHolder: newHolder}
			return rootOpts.mutate(cmd, func(c context.Context, s *session, caller domain.Caller, key string) (any, error) {
				return s.eng.ExecuteComposedOperation(c, caller, key, req)
			})
		},
	}
	exec.Flags().StringVar(&newHolder, "new-holder", "", "new holder for transfer")
	cmd.AddCommand(exec)

	cmd.AddCommand(&cobra.Command{
		Use:           "show <id>",
		Short:         "Show a composed contract and its current members",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.query(cmd, func(c context.Context, s *session) (any, error) {
				return s.eng.GetComposed(c, args[0])
			})
		},
	})

	return cmd
}
