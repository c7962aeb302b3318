package toolexecutor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/harun/triad/internal/observability"
	"github.com/harun/triad/internal/tracing"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"go.opentelemetry.io/otel/attribute"
)

// DefaultTimeout bounds a single tool invocation.
const DefaultTimeout = 120 * time.Second

// maxOutputSize is the largest output handed back to the model.
const maxOutputSize = 16000

// ToolParameter defines a parameter for a tool
type ToolParameter struct {
	Name        string        `json:"name"`
	Type        string        `json:"type"`
	Description string        `json:"description"`
	Required    bool          `json:"required"`
	Enum        []interface{} `json:"enum,omitempty"`
	Default     interface{}   `json:"default,omitempty"`
}

// ToolDefinition defines a tool's metadata and handler
type ToolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []ToolParameter `json:"parameters"`
	Handler     ToolHandler     `json:"-"`
}

// ToolHandler is the function signature for tool execution. A returned
// error is folded into Result.Error; it never escapes the gateway.
type ToolHandler func(ctx context.Context, params map[string]interface{}) (Result, error)

// ToolSchema is the backend-facing description of a tool.
type ToolSchema struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Config configures the executor.
type Config struct {
	Logger  zerolog.Logger
	Timeout time.Duration
}

// ToolExecutor is the tool gateway: a registry of heterogeneous local tools
// behind a single Invoke contract.
type ToolExecutor struct {
	tools   map[string]*ToolDefinition
	schemas map[string]*gojsonschema.Schema
	params  map[string]map[string]interface{}
	order   []string
	timeout time.Duration
	logger  zerolog.Logger
	mu      sync.RWMutex
}

// New creates a new ToolExecutor using the global logger.
func New() *ToolExecutor {
	return NewWithConfig(Config{Logger: log.Logger})
}

// NewWithConfig creates a new ToolExecutor.
func NewWithConfig(cfg Config) *ToolExecutor {
	observability.EnsureRegistered()

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	te := &ToolExecutor{
		tools:   make(map[string]*ToolDefinition),
		schemas: make(map[string]*gojsonschema.Schema),
		params:  make(map[string]map[string]interface{}),
		timeout: timeout,
		logger:  cfg.Logger,
	}

	te.logger.Debug().Dur("timeout", timeout).Msg("Tool executor initialized")
	return te
}

// RegisterTool registers a new tool
func (te *ToolExecutor) RegisterTool(def ToolDefinition) error {
	if err := te.validateToolDefinition(def); err != nil {
		return fmt.Errorf("invalid tool definition: %w", err)
	}

	schemaMap := buildSchemaMap(def)
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
	if err != nil {
		return fmt.Errorf("failed to generate schema: %w", err)
	}

	te.mu.Lock()
	defer te.mu.Unlock()

	if _, exists := te.tools[def.Name]; !exists {
		te.order = append(te.order, def.Name)
	}
	te.tools[def.Name] = &def
	te.schemas[def.Name] = schema
	te.params[def.Name] = schemaMap

	te.logger.Info().Str("tool", def.Name).Msg("Tool registered")
	return nil
}

// GetTool returns a tool definition by name
func (te *ToolExecutor) GetTool(name string) *ToolDefinition {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return te.tools[name]
}

// ListTools returns all registered tool names in registration order
func (te *ToolExecutor) ListTools() []string {
	te.mu.RLock()
	defer te.mu.RUnlock()

	return append([]string(nil), te.order...)
}

// Schema returns the backend-facing schema of every tool, in registration
// order so the request prefix stays stable between calls.
func (te *ToolExecutor) Schema() []ToolSchema {
	te.mu.RLock()
	defer te.mu.RUnlock()

	out := make([]ToolSchema, 0, len(te.order))
	for _, name := range te.order {
		def := te.tools[name]
		out = append(out, ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			InputSchema: te.params[name],
		})
	}
	return out
}

// Invoke executes a tool. It always returns a Result; every failure mode
// (unknown tool, invalid input, handler error, panic, timeout) is reported
// through Result.Error.
func (te *ToolExecutor) Invoke(ctx context.Context, name string, params map[string]interface{}) Result {
	ctx, span := tracing.StartSpan(ctx, "triad.tools", "tool.invoke", attribute.String("tool", name))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, te.logger).With().Str("tool", name).Logger()

	start := time.Now()
	result := te.invoke(ctx, logger, name, params)
	observability.RecordToolExecution(name, time.Since(start), !result.Failed())
	if result.Failed() {
		span.SetAttributes(attribute.Bool("tool.error", true))
	}
	return result
}

func (te *ToolExecutor) invoke(ctx context.Context, logger zerolog.Logger, name string, params map[string]interface{}) Result {
	te.mu.RLock()
	tool := te.tools[name]
	schema := te.schemas[name]
	te.mu.RUnlock()

	if tool == nil {
		logger.Error().Msg("Tool not found")
		return Result{Error: fmt.Sprintf("tool not found: %s", name)}
	}

	if params == nil {
		params = map[string]interface{}{}
	}
	if err := validateParameters(schema, params); err != nil {
		logger.Warn().Err(err).Msg("Parameter validation failed")
		return Result{Error: fmt.Sprintf("parameter validation failed: %v", err)}
	}

	logger.Debug().Msg("Executing tool")

	timeoutCtx, cancel := context.WithTimeout(ctx, te.timeout)
	defer cancel()

	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Error().Interface("panic", r).Str("stack", string(debug.Stack())).Msg("Tool panicked")
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		res, err := tool.Handler(timeoutCtx, params)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			logger.Warn().Err(out.err).Msg("Tool execution failed")
			return Result{Error: errorMessage(out.err), System: out.result.System}
		}
		res := out.result
		if len(res.Output) > maxOutputSize {
			logger.Warn().Int("original", len(res.Output)).Msg("Output truncated")
			res.Output = truncate(res.Output, maxOutputSize) + "\n... [output truncated]"
		}
		return res

	case <-timeoutCtx.Done():
		logger.Error().Dur("timeout", te.timeout).Msg("Tool execution timeout")
		if errors.Is(timeoutCtx.Err(), context.DeadlineExceeded) {
			return Result{Error: fmt.Sprintf("tool execution timeout after %v", te.timeout)}
		}
		return Result{Error: "tool execution cancelled"}
	}
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func errorMessage(err error) string {
	var toolErr *ToolError
	if errors.As(err, &toolErr) {
		return toolErr.Message
	}
	return err.Error()
}

// validateToolDefinition validates a tool definition
func (te *ToolExecutor) validateToolDefinition(def ToolDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("tool description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("tool handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}
	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %q for %s", param.Type, param.Name)
		}
	}

	return nil
}

// buildSchemaMap generates a JSON Schema object from tool parameters
func buildSchemaMap(def ToolDefinition) map[string]interface{} {
	properties := make(map[string]interface{})
	required := []string{}

	for _, param := range def.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}
		if len(param.Enum) > 0 {
			paramSchema["enum"] = param.Enum
		}
		if param.Default != nil {
			paramSchema["default"] = param.Default
		}
		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	schemaMap := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schemaMap["required"] = required
	}
	return schemaMap
}

// validateParameters validates parameters against a JSON Schema
func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(params))
	if err != nil {
		return err
	}

	if !result.Valid() {
		errs := []string{}
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("validation errors: %v", errs)
	}

	return nil
}
