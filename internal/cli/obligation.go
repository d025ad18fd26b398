package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/settle/internal/domain"
	"github.com/roach88/settle/internal/engine"
)

// NewObligationCommand creates the obligation command group.
func NewObligationCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "obligation",
		Short: "Create and act on obligations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create <request.yaml>",
		Short: "Create an obligation held by the caller",
		Long: `Create an obligation from a YAML request file.

Example request:
  counterparty: bob
  notional: "100"
  denomination: USD
  acceptance_deadline: 2026-03-09T12:00:00Z
  legs:
    - amount: "60"
    - amount: "40"
      condition:
        sender_unlock: 2026-03-12T12:00:00Z

Example:
  settle obligation create --as alice --key create-o1 o1.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req engine.CreateObligationRequest
			if err := readRequest(args[0], &req); err != nil {
				return err
			}
			return rootOpts.mutate(cmd, func(c context.Context, s *session, caller domain.Caller, key string) (any, error) {
				return s.eng.CreateObligation(c, caller, key, req)
			})
		},
	})

	cmd.AddCommand(obligationAction(rootOpts, "accept", "Accept an obligation as its counterparty",
		func(c context.Context, e *engine.Engine, caller domain.Caller, key, id string) (*domain.Obligation, error) {
			return e.AcceptObligation(c, caller, key, id)
		}))
	cmd.AddCommand(obligationAction(rootOpts, "cancel", "Cancel an obligation",
		func(c context.Context, e *engine.Engine, caller domain.Caller, key, id string) (*domain.Obligation, error) {
			return e.CancelObligation(c, caller, key, id)
		}))
	cmd.AddCommand(obligationAction(rootOpts, "expire", "Expire an obligation whose acceptance deadline has passed",
		func(c context.Context, e *engine.Engine, caller domain.Caller, key, id string) (*domain.Obligation, error) {
			return e.ExpireObligation(c, caller, key, id)
		}))

	cmd.AddCommand(&cobra.Command{
		Use:   "transfer <id> <new-holder>",
		Short: "Transfer an obligation to a new holder",
		Long: `Transfer an obligation. The current record is superseded and a new
record held by new-holder is returned.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.mutate(cmd, func(c context.Context, s *session, caller domain.Caller, key string) (any, error) {
				return s.eng.TransferObligation(c, caller, key, args[0], args[1])
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "show <id>",
		Short:         "Show an obligation",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.query(cmd, func(c context.Context, s *session) (any, error) {
				return s.eng.GetObligation(c, args[0])
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "history <id>",
		Short:         "Show the transfer chain an obligation belongs to",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.query(cmd, func(c context.Context, s *session) (any, error) {
				return s.eng.History(c, args[0])
			})
		},
	})

	var holder string
	list := &cobra.Command{
		Use:           "list",
		Short:         "List current obligations",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.query(cmd, func(c context.Context, s *session) (any, error) {
				return s.eng.ListObligations(c, holder)
			})
		},
	}
	list.Flags().StringVar(&holder, "holder", "", "only obligations held by this party")
	cmd.AddCommand(list)

	return cmd
}

// obligationAction builds a command that applies op to one obligation id.
func obligationAction(rootOpts *RootOptions, name, short string, op func(context.Context, *engine.Engine, domain.Caller, string, string) (*domain.Obligation, error)) *cobra.Command {
	return &cobra.Command{
		Use:           name + " <id>",
		Short:         short,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.mutate(cmd, func(c context.Context, s *session, caller domain.Caller, key string) (any, error) {
				return op(c, s.eng, caller, key, args[0])
			})
		},
	}
}
