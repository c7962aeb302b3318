package backend

import (
	"context"
	"errors"
	"time"

	"github.com/harun/triad/internal/observability"
	"github.com/harun/triad/internal/tracing"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
)

// OpenAIConfig configures an OpenAICompleter.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	MaxRetries int
	Timeout    time.Duration
	Logger     zerolog.Logger
}

// OpenAICompleter implements TextCompleter with chat completions in JSON
// mode. It backs the lightweight structured decisions.
type OpenAICompleter struct {
	client    openai.Client
	model     string
	maxTokens int
	logger    zerolog.Logger
}

// NewOpenAICompleter creates a new OpenAI-backed completer.
func NewOpenAICompleter(cfg OpenAIConfig) *OpenAICompleter {
	observability.EnsureRegistered()

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}

	return &OpenAICompleter{
		client:    openai.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    cfg.Logger.With().Str("component", "decision").Logger(),
	}
}

// CompleteText returns the JSON text of the first choice.
func (c *OpenAICompleter) CompleteText(ctx context.Context, system, prompt string) (string, error) {
	ctx, span := tracing.StartSpan(ctx, "triad.backend", "decision.complete")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, c.logger)

	params := openai.ChatCompletionNewParams{
		Model: openai.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}

	start := time.Now()
	resp, err := c.client.Chat.Completions.New(ctx, params)
	observability.RecordBackendCall("decision", time.Since(start), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Msg("Decision call failed")
		return "", wrapOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return "", &BackendError{Message: "no response choices returned"}
	}

	logger.Debug().
		Int64("prompt_tokens", resp.Usage.PromptTokens).
		Int64("completion_tokens", resp.Usage.CompletionTokens).
		Msg("Decision call completed")

	return resp.Choices[0].Message.Content, nil
}

func wrapOpenAIError(err error) *BackendError {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &BackendError{Status: apiErr.StatusCode, Message: apiErr.Error(), Err: err}
	}
	return &BackendError{Message: err.Error(), Err: err}
}
