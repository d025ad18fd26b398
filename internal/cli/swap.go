package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/roach88/settle/internal/domain"
	"github.com/roach88/settle/internal/engine"
)

// NewSwapCommand creates the swap command group.
func NewSwapCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "swap",
		Short: "Exchange obligations and payments between two parties",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "create <request.yaml>",
		Short: "Propose a swap as its initiator",
		Long: `Propose an atomic swap, or a repo swap when expiry is set. The
initiator's obligations and collateral are locked until the swap ends.

Example request:
  counterparty: bob
  deadline: 2026-03-07T12:00:00Z
  expiry: 2026-04-01T12:00:00Z
  initiator_collateral: [id-1]
  counterparty_payments:
    - {amount: "100", denomination: USD}
  repurchase_terms:
    initiator: {USD: "105"}

Example:
  settle swap create --as alice repo.yaml`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req engine.SwapRequest
			if err := readRequest(args[0], &req); err != nil {
				return err
			}
			return rootOpts.mutate(cmd, func(c context.Context, s *session, caller domain.Caller, key string) (any, error) {
				return s.eng.CreateSwap(c, caller, key, req)
			})
		},
	})

	cmd.AddCommand(swapAction(rootOpts, "complete", "Complete a pending swap as its counterparty",
		func(c context.Context, e *engine.Engine, caller domain.Caller, key, id string) (*domain.Swap, error) {
			return e.CompleteSwap(c, caller, key, id)
		}))
	cmd.AddCommand(swapAction(rootOpts, "cancel", "Cancel a pending swap",
		func(c context.Context, e *engine.Engine, caller domain.Caller, key, id string) (*domain.Swap, error) {
			return e.CancelSwap(c, caller, key, id)
		}))
	cmd.AddCommand(swapAction(rootOpts, "expire", "Expire a pending swap whose deadline has passed",
		func(c context.Context, e *engine.Engine, caller domain.Caller, key, id string) (*domain.Swap, error) {
			return e.ExpireSwap(c, caller, key, id)
		}))
	cmd.AddCommand(swapAction(rootOpts, "expire-collateral", "Forfeit collateral not repurchased by the expiry",
		func(c context.Context, e *engine.Engine, caller domain.Caller, key, id string) (*domain.Swap, error) {
			return e.ExpireCollateral(c, caller, key, id)
		}))

	cmd.AddCommand(&cobra.Command{
		Use:   "repurchase <id> <request.yaml>",
		Short: "Repurchase collateral before the expiry",
		Long: `Pay the repurchase terms and take back collateral. Only the party that
deposited the collateral may repurchase.

Example request:
  payments:
    - {amount: "105", denomination: USD}`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			var req engine.RepurchaseRequest
			if err := readRequest(args[1], &req); err != nil {
				return err
			}
			return rootOpts.mutate(cmd, func(c context.Context, s *session, caller domain.Caller, key string) (any, error) {
				return s.eng.RepurchaseSwap(c, caller, key, args[0], req)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "show <id>",
		Short:         "Show a swap",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.query(cmd, func(c context.Context, s *session) (any, error) {
				return s.eng.GetSwap(c, args[0])
			})
		},
	})

	return cmd
}

// swapAction builds a command that applies op to one swap id.
func swapAction(rootOpts *RootOptions, name, short string, op func(context.Context, *engine.Engine, domain.Caller, string, string) (*domain.Swap, error)) *cobra.Command {
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
