package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/harun/triad/internal/config"
	"github.com/harun/triad/internal/logger"
	"github.com/harun/triad/internal/observability"
	"github.com/harun/triad/internal/tracing"
	"github.com/harun/triad/pkg/checkpoint"
	"github.com/harun/triad/pkg/conversation"
	"github.com/harun/triad/pkg/orchestrator"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// abortWindow is how soon a second Ctrl+C must follow the first to abort.
const abortWindow = 3 * time.Second

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return cfg, nil
}

func runAgents(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		Output:    cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Close()
	zl := log.GetZerolog()

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	ctx = tracing.NewRunContext(ctx)
	runID := tracing.GetRunID(ctx)
	zl = zl.With().Str("run_id", runID).Logger()

	if cfg.Metrics.Tracing {
		if err := tracing.InitOpenTelemetry("triad"); err != nil {
			zl.Warn().Err(err).Msg("Tracing disabled")
		}
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			_ = tracing.ShutdownOpenTelemetry(shutdownCtx)
		}()
	}
	if cfg.Metrics.Addr != "" {
		observability.Serve(ctx, cfg.Metrics.Addr, zl)
	}

	console := NewConsole(cmd.InOrStdin(), cmd.OutOrStdout(), screenshotDir(cfg), zl)

	var store *checkpoint.Store
	if cfg.Checkpoint.Enabled {
		store = checkpoint.NewStore(cfg.Checkpoint.Path, zl)
	}

	instruction, contextURL := defaultInstruction, ""
	if len(args) > 0 {
		instruction = args[0]
	}
	if len(args) > 1 {
		contextURL = args[1]
	}

	req, err := resolveResume(ctx, store, console, resumeOptions{
		Fresh:       fresh,
		Resume:      resume,
		Instruction: instruction,
		Explicit:    len(args) > 0,
	}, zl)
	if err != nil {
		return err
	}
	req.ContextURL = contextURL

	fmt.Fprintf(cmd.OutOrStdout(), "Starting triad.\nPress Ctrl+C to pause.\nInstruction: '%s'\n", req.Instruction)

	a, err := buildApp(ctx, cfg, req.Instruction, runID, console, store, zl)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			zl.Warn().Err(err).Msg("Shutdown incomplete")
		}
	}()

	stopSignals := watchSignals(a.orch, cancel, cmd.ErrOrStderr(), zl)
	defer stopSignals()

	result, runErr := a.orch.Run(ctx, req)
	if runErr != nil {
		saveOnError(store, req, result, zl)
		return runErr
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\nRun %s after %d session(s) and %d step(s).\n", result.Status, result.Sessions, result.Steps)
	if store != nil {
		fmt.Fprintf(cmd.OutOrStdout(), "Saved current progress to %s\n", store.Path())
	}
	return nil
}

type resumeOptions struct {
	Fresh       bool
	Resume      bool
	Instruction string
	// Explicit is set when the instruction came from the command line.
	Explicit bool
}

// resolveResume decides between saved progress and a fresh start.
func resolveResume(ctx context.Context, store *checkpoint.Store, console *Console, opts resumeOptions, logger zerolog.Logger) (orchestrator.RunRequest, error) {
	req := orchestrator.RunRequest{Instruction: opts.Instruction, StartSession: 0}
	if store == nil {
		return req, nil
	}

	if opts.Fresh {
		if err := store.Remove(); err != nil {
			return req, err
		}
		logger.Info().Msg("Checkpoints removed")
		return req, nil
	}

	cp := store.Load()
	if cp == nil {
		return req, nil
	}

	use := opts.Resume
	if !use {
		var err error
		use, err = console.Confirm(ctx, "Found saved progress. Would you like to continue?")
		if err != nil && !errors.Is(err, io.EOF) {
			return req, err
		}
	}

	if !use {
		if err := store.Remove(); err != nil {
			return req, err
		}
		logger.Info().Msg("Starting fresh, checkpoints removed")
		return req, nil
	}

	if !opts.Explicit && cp.Instruction != "" {
		req.Instruction = cp.Instruction
	}
	req.History = cp.Messages
	req.StartSession = cp.Session
	logger.Info().
		Int("session", cp.Session+1).
		Int("messages", len(cp.Messages)).
		Msg("Continuing from saved progress")
	return req, nil
}

// saveOnError checkpoints a failed run so it can be resumed.
func saveOnError(store *checkpoint.Store, req orchestrator.RunRequest, result *orchestrator.Result, logger zerolog.Logger) {
	if store == nil || result == nil {
		return
	}
	if err := conversation.ValidateToolPairing(result.History); err != nil {
		logger.Warn().Err(err).Msg("Progress not saved, history is inconsistent")
		return
	}
	session := req.StartSession
	if result.Sessions > 0 {
		session += result.Sessions - 1
	}
	if err := store.Save(&checkpoint.Checkpoint{
		Instruction: req.Instruction,
		Session:     session,
		Messages:    result.History,
	}); err != nil {
		logger.Warn().Err(err).Msg("Failed to save progress")
		return
	}
	logger.Info().Str("path", store.Path()).Msg("Saved current progress")
}

// interrupter is the part of the orchestrator the signal handler needs.
type interrupter interface {
	Interrupt()
}

// watchSignals pauses the run on the first Ctrl+C and aborts it when a
// second one follows within abortWindow. SIGTERM aborts immediately.
func watchSignals(target interrupter, cancel context.CancelFunc, out io.Writer, logger zerolog.Logger) func() {
	sigs := make(chan os.Signal, 2)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	done := make(chan struct{})
	var once sync.Once
	go func() {
		var last time.Time
		for {
			select {
			case <-done:
				return
			case sig := <-sigs:
				if sig == syscall.SIGTERM || (!last.IsZero() && time.Since(last) < abortWindow) {
					logger.Warn().Str("signal", sig.String()).Msg("Aborting run")
					cancel()
					continue
				}
				last = time.Now()
				fmt.Fprintln(out, "\nInterrupt received, pausing at the next safe point. Press Ctrl+C again to abort.")
				target.Interrupt()
			}
		}
	}()

	return func() {
		once.Do(func() {
			signal.Stop(sigs)
			close(done)
		})
	}
}
