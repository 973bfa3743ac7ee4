package cli

import (
	"context"
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/allotment/internal/config"
	"github.com/roach88/allotment/internal/engine"
	"github.com/roach88/allotment/internal/fault"
	"github.com/roach88/allotment/internal/ir"
	"github.com/roach88/allotment/internal/store"
	"github.com/roach88/allotment/internal/telemetry"
)

// session is an engine restored from the journal, with everything it
// needs released by close.
type session struct {
	cfg      *config.Config
	store    *store.Store
	engine   *engine.Engine
	logger   *slog.Logger
	shutdown telemetry.ShutdownFunc
	restored int
}

// loadConfig reads the configured file and applies the --db override.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Database = opts.Database
	}
	return cfg, nil
}

// openSession loads the configuration, opens the journal, pins or checks the
// genesis and replays every journaled record.
func openSession(ctx context.Context, cmd *cobra.Command, opts *RootOptions, engineOpts ...engine.Option) (*session, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	genesis, err := cfg.Genesis()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid genesis", err)
	}

	logger := cfg.Logger(cmd.ErrOrStderr(), opts.Verbose)
	shutdown, err := telemetry.Setup(ctx, cfg.Telemetry, telemetry.WithWriter(cmd.ErrOrStderr()))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to set up telemetry", err)
	}

	logger.Debug("opening journal", "path", cfg.Database)
	st, err := store.Open(cfg.Database)
	if err != nil {
		_ = shutdown(ctx)
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	s := &session{cfg: cfg, store: st, logger: logger, shutdown: shutdown}
	eng, err := engine.New(ctx, st, genesis, append([]engine.Option{engine.WithLogger(logger)}, engineOpts...)...)
	if err != nil {
		s.close(ctx)
		if errors.Is(err, store.ErrGenesisMismatch) {
			return nil, WrapExitError(ExitCommandError, "journal was created with a different configuration", err)
		}
		return nil, WrapExitError(ExitCommandError, "failed to create engine", err)
	}
	s.engine = eng

	n, err := eng.Restore(ctx)
	if err != nil {
		s.close(ctx)
		if fault.IsCode(err, fault.CodeNonDeterministic) {
			return nil, WrapExitError(ExitFailure, "journal replay diverged", err)
		}
		return nil, WrapExitError(ExitCommandError, "failed to restore journal", err)
	}
	s.restored = n
	return s, nil
}

// close flushes spans and closes the journal.
func (s *session) close(ctx context.Context) {
	if err := s.store.Close(); err != nil {
		s.logger.Error("error closing database", "error", err)
	}
	if err := s.shutdown(ctx); err != nil {
		s.logger.Error("error flushing spans", "error", err)
	}
}

// decimals is the token's decimal places.
func (s *session) decimals() int {
	return s.engine.Genesis().Decimals
}

// baseUnits converts a token amount ("1.5") to the base-unit string requests carry.
func (s *session) baseUnits(tokens string) (string, error) {
	amount, err := ir.ParseAmount(tokens, s.decimals())
	if err != nil {
		return "", WrapExitError(ExitCommandError, "invalid amount", err)
	}
	return amount.String(), nil
}

// parseAt returns the --at time; zero lets the engine use the wall clock.
func parseAt(opts *RootOptions) (int64, error) {
	if opts.At == "" {
		return 0, nil
	}
	at, err := ir.ParseTime(opts.At)
	if err != nil {
		return 0, WrapExitError(ExitCommandError, "invalid --at", err)
	}
	return at, nil
}

// commandContext returns the command's context, or Background when the
// command runs outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
