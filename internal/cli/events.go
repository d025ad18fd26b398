package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewEventsCommand creates the events command.
func NewEventsCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		entity string
		after  int64
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Show the audit log",
		Long: `Show committed audit events in sequence order.

Examples:
  settle events
  settle events --entity id-3
  settle events --after 120 --limit 50 --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.query(cmd, func(c context.Context, s *session) (any, error) {
				return s.eng.Events(c, entity, after, limit)
			})
		},
	}

	cmd.Flags().StringVar(&entity, "entity", "", "only events for this obligation, swap or composed contract")
	cmd.Flags().Int64Var(&after, "after", 0, "only events after this sequence number")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of events (0 for all)")

	return cmd
}
