package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/settle/internal/domain"
	"github.com/roach88/settle/internal/oracle"
)

// OracleValue is the output of the oracle commands.
type OracleValue struct {
	Owner   string `json:"owner"`
	Address string `json:"address"`
	Key     string `json:"key"`
	Value   string `json:"value"`
}

func (v OracleValue) String() string {
	return fmt.Sprintf("%s = %s", oracle.Key(v.Owner, v.Address, v.Key), v.Value)
}

// NewOracleCommand creates the oracle command group.
func NewOracleCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "oracle",
		Short: "Read and write oracle values in Redis",
		Long: `Read and write the values oracle-gated legs wait on. Requires
SETTLE_REDIS_ADDR.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <owner> <address> <key> <value>",
		Short: "Report an oracle value",
		Example: `  settle oracle set carol feed-1 delivery confirmed
  settle release`,
		Args:          cobra.ExactArgs(4),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := rootOpts.redis()
			if err != nil {
				return err
			}
			defer r.Close()

			v := OracleValue{Owner: args[0], Address: args[1], Key: args[2], Value: args[3]}
			if err := r.Set(cmdContext(cmd), v.Owner, v.Address, v.Key, v.Value); err != nil {
				return WrapExitError(ExitCommandError, "failed to set oracle value", err)
			}
			return render(rootOpts.formatter(cmd), v)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:           "get <owner> <address> <key>",
		Short:         "Show an oracle value",
		Args:          cobra.ExactArgs(3),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := rootOpts.redis()
			if err != nil {
				return err
			}
			defer r.Close()

			c := domain.OracleCondition{Owner: args[0], Address: args[1], Key: args[2]}
			value, err := r.Lookup(cmdContext(cmd), c)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to read oracle value", err)
			}
			return render(rootOpts.formatter(cmd), OracleValue{Owner: c.Owner, Address: c.Address, Key: c.Key, Value: value})
		},
	})

	return cmd
}

// redis connects to the configured Redis oracle.
func (o *RootOptions) redis() (*oracle.Redis, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, err
	}
	if cfg.RedisAddr == "" {
		return nil, NewExitError(ExitCommandError, "SETTLE_REDIS_ADDR is not set")
	}
	return oracle.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB), nil
}
