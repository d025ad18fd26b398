package cli

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/settle/internal/config"
	"github.com/roach88/settle/internal/domain"
	"github.com/roach88/settle/internal/engine"
	"github.com/roach88/settle/internal/oracle"
	"github.com/roach88/settle/internal/policy"
	"github.com/roach88/settle/internal/store"
)

// session is an open store and the engine running on it.
type session struct {
	eng    *engine.Engine
	st     *store.Store
	oracle *oracle.Redis
	logger *slog.Logger
	out    *OutputFormatter
}

// config returns the environment configuration, loading it once.
func (o *RootOptions) config() (*config.Config, error) {
	if o.Config != nil {
		return o.Config, nil
	}
	cfg, err := config.Load()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid configuration", err)
	}
	if o.Database != "" {
		cfg.DB = o.Database
	}
	o.Config = &cfg
	return o.Config, nil
}

// logger writes to stderr at the configured level, or debug with --verbose.
func (o *RootOptions) logger(cfg *config.Config, cmd *cobra.Command) *slog.Logger {
	level, err := cfg.Level()
	if err != nil || o.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}

func (o *RootOptions) formatter(cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    o.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   o.Verbose,
	}
}

// caller returns the --as party, which state-changing commands require.
func (o *RootOptions) caller() (domain.Caller, error) {
	if o.As == "" {
		return domain.Caller{}, NewExitError(ExitCommandError, "--as is required")
	}
	return domain.Caller{Party: o.As, Permissions: o.Perms}, nil
}

// key returns --key, or a fresh random key.
func (o *RootOptions) key() string {
	if o.Key != "" {
		return o.Key
	}
	return uuid.NewString()
}

// open starts an engine on the configured database. Ledger instructions are
// logged, a Redis oracle is attached when SETTLE_REDIS_ADDR is set, and the
// policy file named by SETTLE_POLICY is applied.
func (o *RootOptions) open(cmd *cobra.Command) (*session, error) {
	cfg, err := o.config()
	if err != nil {
		return nil, err
	}
	s := &session{logger: o.logger(cfg, cmd), out: o.formatter(cmd)}

	opts := []engine.Option{
		engine.WithLogger(s.logger),
		engine.WithLockWait(cfg.LockWait),
	}
	if cfg.Policy != "" {
		p, err := policy.Load(cfg.Policy)
		if err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to load policy", err)
		}
		opts = append(opts, p.Options()...)
	}

	st, err := store.Open(cfg.DB)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}
	s.st = st

	if cfg.RedisAddr != "" {
		s.oracle = oracle.NewRedis(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		opts = append(opts, engine.WithOracle(s.oracle))
	}

	eng, err := engine.New(cmdContext(cmd), st, engine.LogExecutor{Logger: s.logger}, opts...)
	if err != nil {
		s.close()
		return nil, WrapExitError(ExitCommandError, "failed to start engine", err)
	}
	s.eng = eng
	s.logger.Debug("engine ready", "db", cfg.DB, "policy", cfg.Policy, "oracle", cfg.RedisAddr)
	return s, nil
}

func (s *session) close() {
	if s.eng != nil {
		s.eng.Close()
	}
	if s.oracle != nil {
		if err := s.oracle.Close(); err != nil {
			s.logger.Error("error closing oracle", "error", err)
		}
	}
	if err := s.st.Close(); err != nil {
		s.logger.Error("error closing database", "error", err)
	}
}

// cmdContext returns the command context, or a background context when the
// command runs without one.
func cmdContext(cmd *cobra.Command) context.Context {
	if c := cmd.Context(); c != nil {
		return c
	}
	return context.Background()
}

// readRequest decodes a YAML request file into out. Unknown fields are
// rejected so a misspelt field does not silently default.
func readRequest(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read request file", err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return WrapExitError(ExitCommandError, fmt.Sprintf("invalid request file %s", path), err)
	}
	return nil
}

// mutate runs a state-changing operation as the --as caller and renders
// its result.
func (o *RootOptions) mutate(cmd *cobra.Command, op func(c context.Context, s *session, caller domain.Caller, key string) (any, error)) error {
	caller, err := o.caller()
	if err != nil {
		return err
	}
	s, err := o.open(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	key := o.key()
	s.out.VerboseLog("idempotency key: %s", key)
	v, err := op(cmdContext(cmd), s, caller, key)
	if err != nil {
		return s.out.Fail(err)
	}
	return render(s.out, v)
}

// query runs a read-only operation and renders its result.
func (o *RootOptions) query(cmd *cobra.Command, op func(c context.Context, s *session) (any, error)) error {
	s, err := o.open(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	v, err := op(cmdContext(cmd), s)
	if err != nil {
		return s.out.Fail(err)
	}
	return render(s.out, v)
}
