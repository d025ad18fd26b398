package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/settle/internal/config"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Database overrides SETTLE_DB.
	Database string

	// As and Perms identify the caller of state-changing commands.
	As    string
	Perms []string

	// Key is the idempotency key. A random key is used when empty, so a
	// retry must pass the key of the attempt it repeats.
	Key string

	// Config is loaded from the environment on first use.
	Config *config.Config
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the settle CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "settle",
		Short: "settle - bilateral obligation settlement",
		Long: `Create, accept, transfer and swap payment obligations.

Every state-changing command is idempotent under --key: repeating a command
with the same key returns the first outcome without acting again.

Configuration is read from SETTLE_* environment variables; --db overrides
SETTLE_DB.`,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "path to SQLite database (default $SETTLE_DB)")
	cmd.PersistentFlags().StringVar(&opts.As, "as", "", "calling party")
	cmd.PersistentFlags().StringSliceVar(&opts.Perms, "perm", nil, "caller permissions (repeatable)")
	cmd.PersistentFlags().StringVar(&opts.Key, "key", "", "idempotency key (default random)")

	cmd.AddCommand(NewObligationCommand(opts))
	cmd.AddCommand(NewComposedCommand(opts))
	cmd.AddCommand(NewSwapCommand(opts))
	cmd.AddCommand(NewReleaseCommand(opts))
	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewEventsCommand(opts))
	cmd.AddCommand(NewOracleCommand(opts))
	cmd.AddCommand(NewPolicyCommand(opts))
	cmd.AddCommand(NewScenarioCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}
