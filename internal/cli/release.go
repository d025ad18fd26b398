package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/settle/internal/releaser"
)

// ReleaseResult is the output of the release command.
type ReleaseResult struct {
	Entity   string `json:"entity,omitempty"`
	Released int    `json:"released"`
}

func (r ReleaseResult) String() string {
	if r.Entity == "" {
		return fmt.Sprintf("Released %d leg(s).", r.Released)
	}
	return fmt.Sprintf("Released %d leg(s) of %s.", r.Released, r.Entity)
}

// NewReleaseCommand creates the release command.
func NewReleaseCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "release [id]",
		Short: "Pay out escrowed legs whose unlock conditions hold",
		Long: `Pay out escrowed legs whose unlock time has passed and whose oracle
values match. With an id, only that obligation or swap is checked.

A leg whose payout fails stays escrowed and is retried by the next release.

Examples:
  settle release
  settle release id-1`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.query(cmd, func(c context.Context, s *session) (any, error) {
				var (
					res ReleaseResult
					err error
				)
				if len(args) == 1 {
					res.Entity = args[0]
					res.Released, err = s.eng.ReleaseDue(c, args[0])
				} else {
					res.Released, err = s.eng.ReleaseAll(c)
				}
				if err != nil {
					s.logger.Warn("release incomplete", "released", res.Released, "error", err)
				}
				return res, err
			})
		},
	}
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the release loop until interrupted",
		Long: `Sweep escrowed legs every SETTLE_RELEASE_INTERVAL and pay out those
whose unlock conditions hold.

Example:
  SETTLE_RELEASE_INTERVAL=10s settle serve --db ./settle.db`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve(rootOpts, cmd)
		},
	}
}

func serve(opts *RootOptions, cmd *cobra.Command) error {
	s, err := opts.open(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := context.WithCancel(cmdContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan) // Prevent signal handler leak

	go func() {
		select {
		case sig := <-sigChan:
			s.logger.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	interval := opts.Config.ReleaseInterval
	s.logger.Info("release loop starting", "db", opts.Config.DB, "interval", interval)
	fmt.Fprintln(cmd.OutOrStdout(), "Release loop started. Press Ctrl-C to stop.")

	if err := releaser.Run(ctx, s.eng, interval, s.logger); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		return WrapExitError(ExitFailure, "release loop error", err)
	}

	s.logger.Info("release loop stopped gracefully")
	return nil
}
