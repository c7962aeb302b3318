package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/harun/triad/internal/audit"
	"github.com/harun/triad/internal/config"
	"github.com/harun/triad/pkg/backend"
	"github.com/harun/triad/pkg/browser"
	"github.com/harun/triad/pkg/checkpoint"
	"github.com/harun/triad/pkg/conversation"
	"github.com/harun/triad/pkg/coretools"
	"github.com/harun/triad/pkg/events"
	"github.com/harun/triad/pkg/hooks"
	"github.com/harun/triad/pkg/knowledge"
	"github.com/harun/triad/pkg/manager"
	"github.com/harun/triad/pkg/orchestrator"
	"github.com/harun/triad/pkg/qa"
	"github.com/harun/triad/pkg/retrieval"
	"github.com/harun/triad/pkg/toolexecutor"
	"github.com/harun/triad/pkg/worker"
	"github.com/rs/zerolog"
)

// contextReadTimeout bounds the HTTP fetch of a context URL.
const contextReadTimeout = 30 * time.Second

// app owns the wired components of one run.
type app struct {
	orch    *orchestrator.Orchestrator
	tools   *toolexecutor.ToolExecutor
	closers []func() error
	logger  zerolog.Logger
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// buildApp wires every component for instruction from cfg.
func buildApp(ctx context.Context, cfg *config.Config, instruction, runID string, console *Console, store *checkpoint.Store, logger zerolog.Logger) (*app, error) {
	a := &app{logger: logger}
	ok := false
	defer func() {
		if !ok {
			_ = a.Close()
		}
	}()

	client := backend.NewAnthropicClient(backend.AnthropicConfig{
		APIKey:     cfg.Backend.APIKey,
		BaseURL:    cfg.Backend.BaseURL,
		Model:      cfg.Backend.Model,
		MaxTokens:  cfg.Backend.MaxTokens,
		MaxRetries: cfg.Backend.MaxRetries,
		Timeout:    seconds(cfg.Backend.RequestTimeout),
		Logger:     logger,
	})

	a.tools = toolexecutor.NewWithConfig(toolexecutor.Config{
		Logger:  logger,
		Timeout: seconds(cfg.Tools.Timeout),
	})
	if err := coretools.RegisterCoreTools(a.tools, coretools.Options{
		WorkDir:        cfg.Tools.WorkDir,
		Bash:           cfg.Tools.Bash,
		Editor:         cfg.Tools.Editor,
		CommandTimeout: seconds(cfg.Tools.Timeout),
	}); err != nil {
		return nil, fmt.Errorf("failed to register core tools: %w", err)
	}

	var reader retrieval.Reader = retrieval.NewHTTPReader(contextReadTimeout)
	if cfg.Browser.Enabled {
		security := browser.SecurityConfig{
			AllowLocalhostURLs: cfg.Browser.AllowLocalhost,
			AllowedDomains:     cfg.Browser.AllowedDomains,
			BlockedDomains:     cfg.Browser.BlockedDomains,
		}
		driver := browser.NewRodDriver(browser.Config{
			Headless: cfg.Browser.Headless,
			BinPath:  cfg.Browser.BinPath,
			Width:    cfg.Browser.Width,
			Height:   cfg.Browser.Height,
			StartURL: cfg.Browser.StartURL,
			Security: security,
			Logger:   logger,
		})
		a.closers = append(a.closers, driver.Close)

		validator := browser.NewSecurityValidator(security, logger)
		if err := browser.RegisterComputerTool(a.tools, browser.NewComputer(driver, validator)); err != nil {
			return nil, fmt.Errorf("failed to register computer tool: %w", err)
		}
		reader = browser.GuardedReader{Reader: driver, Validator: validator}
	}

	retriever, err := retrieval.New(retrieval.Config{Reader: reader, Logger: logger})
	if err != nil {
		return nil, err
	}

	lenient := cfg.Loop.MalformedVerdict == config.MalformedIncomplete

	var (
		broker  *knowledge.Broker
		decider backend.TextCompleter
	)
	if cfg.Knowledge.Enabled {
		decider = newDecider(cfg, client, logger)

		source := knowledge.NewWebSocketSource(knowledge.WebSocketConfig{
			URL:          cfg.Knowledge.URL,
			Token:        cfg.Knowledge.Token,
			ReplyTimeout: seconds(cfg.Knowledge.ReplyTimeout),
			Logger:       logger,
		})
		a.closers = append(a.closers, source.Close)

		kcfg := knowledge.Config{
			Source:  source,
			Decider: decider,
			Budget:  cfg.Knowledge.FollowUpBudget,
			Lenient: lenient,
			Logger:  logger,
		}
		if cfg.Knowledge.StorePath != "" {
			kstore, err := knowledge.NewSQLiteStore(cfg.Knowledge.StorePath)
			if err != nil {
				logger.Warn().Err(err).Str("path", cfg.Knowledge.StorePath).Msg("Knowledge log disabled")
			} else {
				a.closers = append(a.closers, kstore.Close)
				kcfg.Store = kstore
			}
		}

		broker, err = knowledge.NewBroker(kcfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create knowledge broker: %w", err)
		}
	}

	observers := events.Multi{console}
	if cfg.Hooks.Enabled {
		runner, err := hooks.NewRunner(hooks.Config{
			Hooks:  hookList(cfg.Hooks.Scripts),
			RunID:  runID,
			Logger: logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to configure hooks: %w", err)
		}
		observers = append(observers, runner)
	}
	if cfg.Logging.AuditFile != "" {
		trail, err := audit.Open(ctx, cfg.Logging.AuditFile, runID)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, trail.Close)
		observers = append(observers, trail)
	}

	w, err := worker.New(worker.Config{
		Backend:     client,
		Tools:       a.tools,
		Instruction: instruction,
		Retention:   retention(cfg.History),
		MaxTokens:   cfg.Backend.MaxTokens,
		Observer:    observers,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	mcfg := manager.Config{
		Backend:            client,
		Tools:              a.tools,
		Instruction:        instruction,
		MaxTokens:          cfg.Backend.PlanMaxTokens,
		Host:               console,
		Lenient:            lenient,
		ReplanEverySession: cfg.Loop.ReplanEverySession,
		Observer:           observers,
		Logger:             logger,
	}
	if broker != nil {
		mcfg.Broker = broker
		mcfg.Decider = decider
	}
	m, err := manager.New(mcfg)
	if err != nil {
		return nil, err
	}

	r, err := qa.New(qa.Config{
		Backend:     client,
		Tools:       a.tools,
		Instruction: instruction,
		MaxTokens:   cfg.Backend.PlanMaxTokens,
		Observer:    observers,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	ocfg := orchestrator.Config{
		Worker:           w,
		Manager:          m,
		Reviewer:         r,
		Context:          retriever,
		Host:             console,
		Observer:         observers,
		MaxSessions:      cfg.Loop.MaxSessions,
		MaxSteps:         cfg.StepsPerSession(),
		MalformedVerdict: orchestrator.MalformedPolicy(cfg.Loop.MalformedVerdict),
		Logger:           logger,
	}
	if store != nil {
		ocfg.Checkpoints = store
	}
	a.orch, err = orchestrator.New(ocfg)
	if err != nil {
		return nil, err
	}

	logger.Info().Strs("tools", a.tools.ListTools()).Bool("knowledge", broker != nil).Msg("Agents ready")
	ok = true
	return a, nil
}

// newDecider picks the backend for the structured knowledge decisions.
func newDecider(cfg *config.Config, main backend.Client, logger zerolog.Logger) backend.TextCompleter {
	if cfg.Decision.Provider == "anthropic" {
		client := main
		if cfg.Decision.Model != "" || cfg.Decision.APIKey != "" {
			key := cfg.Decision.APIKey
			if key == "" {
				key = cfg.Backend.APIKey
			}
			model := cfg.Decision.Model
			if model == "" {
				model = cfg.Backend.Model
			}
			client = backend.NewAnthropicClient(backend.AnthropicConfig{
				APIKey:     key,
				BaseURL:    cfg.Decision.BaseURL,
				Model:      model,
				MaxTokens:  cfg.Decision.MaxTokens,
				MaxRetries: cfg.Backend.MaxRetries,
				Timeout:    seconds(cfg.Backend.RequestTimeout),
				Logger:     logger,
			})
		}
		return backend.NewAnthropicCompleter(client, cfg.Decision.MaxTokens)
	}

	return backend.NewOpenAICompleter(backend.OpenAIConfig{
		APIKey:     cfg.Decision.APIKey,
		BaseURL:    cfg.Decision.BaseURL,
		Model:      cfg.Decision.Model,
		MaxTokens:  cfg.Decision.MaxTokens,
		MaxRetries: cfg.Backend.MaxRetries,
		Timeout:    seconds(cfg.Backend.RequestTimeout),
		Logger:     logger,
	})
}

func hookList(scripts []config.HookConfig) []hooks.Hook {
	out := make([]hooks.Hook, 0, len(scripts))
	for _, s := range scripts {
		out = append(out, hooks.Hook{
			ID:      s.ID,
			Event:   s.Event,
			Script:  s.Script,
			Timeout: seconds(s.Timeout),
			Enabled: s.Enabled,
		})
	}
	return out
}

func retention(h config.HistoryConfig) conversation.RetentionPolicy {
	return conversation.RetentionPolicy{Keep: h.ImagesToKeep, Chunk: h.ImageChunk}
}

// screenshotDir is where the console stores tool screenshots.
func screenshotDir(cfg *config.Config) string {
	if cfg.Tools.WorkDir != "" {
		return filepath.Join(cfg.Tools.WorkDir, "screenshots")
	}
	return "screenshots"
}
