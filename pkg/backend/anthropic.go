package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/harun/triad/internal/observability"
	"github.com/harun/triad/internal/tracing"
	"github.com/harun/triad/pkg/conversation"
	"github.com/harun/triad/pkg/toolexecutor"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxTokens  int
	MaxRetries int
	Timeout    time.Duration
	Logger     zerolog.Logger
}

// AnthropicClient implements Client on the Anthropic Messages API.
type AnthropicClient struct {
	client    anthropic.Client
	model     string
	maxTokens int
	logger    zerolog.Logger
}

// NewAnthropicClient creates a new Anthropic-backed client.
func NewAnthropicClient(cfg AnthropicConfig) *AnthropicClient {
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

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	return &AnthropicClient{
		client:    anthropic.NewClient(opts...),
		model:     cfg.Model,
		maxTokens: maxTokens,
		logger:    cfg.Logger.With().Str("component", "backend").Logger(),
	}
}

// Complete sends the conversation and returns the response blocks.
func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	ctx, span := tracing.StartSpan(ctx, "triad.backend", "backend.complete",
		attribute.String("role", req.Role),
		attribute.Int("messages", len(req.Messages)),
	)
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, c.logger)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		Messages:  toMessageParams(req.Messages),
		MaxTokens: int64(c.maxTokens),
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = int64(req.MaxTokens)
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if len(req.Tools) > 0 {
		params.Tools = toToolParams(req.Tools)
	}

	start := time.Now()
	msg, err := c.client.Messages.New(ctx, params)
	observability.RecordBackendCall(req.Role, time.Since(start), err == nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error().Err(err).Str("role", req.Role).Msg("Backend call failed")
		return nil, wrapAnthropicError(err)
	}

	resp := &Response{
		Content:    fromContentBlocks(msg.Content),
		StopReason: string(msg.StopReason),
		Usage: Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
		Raw: msg.RawJSON(),
	}

	logger.Debug().
		Str("role", req.Role).
		Str("stop_reason", resp.StopReason).
		Int("input_tokens", resp.Usage.InputTokens).
		Int("output_tokens", resp.Usage.OutputTokens).
		Dur("duration", time.Since(start)).
		Msg("Backend call completed")

	return resp, nil
}

func wrapAnthropicError(err error) *BackendError {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return &BackendError{Status: apiErr.StatusCode, Message: apiErr.Error(), Err: err}
	}
	return &BackendError{Message: err.Error(), Err: err}
}

// toMessageParams maps history roles onto wire roles, merging adjacent
// turns that land on the same wire role. Messages without content are
// skipped.
func toMessageParams(msgs []conversation.Message) []anthropic.MessageParam {
	out := []anthropic.MessageParam{}
	for _, m := range msgs {
		if len(m.Content) == 0 {
			continue
		}
		role := anthropic.MessageParamRoleUser
		if m.Role.IsAssistant() {
			role = anthropic.MessageParamRoleAssistant
		}

		blocks := make([]anthropic.ContentBlockParamUnion, 0, len(m.Content))
		for _, block := range m.Content {
			if param, ok := toBlockParam(block); ok {
				blocks = append(blocks, param)
			}
		}
		if len(blocks) == 0 {
			continue
		}

		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content = append(out[n-1].Content, blocks...)
			continue
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}
	return out
}

func toBlockParam(block conversation.ContentBlock) (anthropic.ContentBlockParamUnion, bool) {
	switch block.Type {
	case conversation.BlockText:
		if block.Text == "" {
			return anthropic.ContentBlockParamUnion{}, false
		}
		return anthropic.NewTextBlock(block.Text), true

	case conversation.BlockToolUse:
		input := block.Input
		if len(input) == 0 {
			input = json.RawMessage(`{}`)
		}
		return anthropic.NewToolUseBlock(block.ID, input, block.Name), true

	case conversation.BlockToolResult:
		parts := make([]anthropic.ToolResultBlockParamContentUnion, 0, len(block.Content))
		for _, part := range block.Content {
			switch part.Type {
			case conversation.BlockText:
				parts = append(parts, anthropic.ToolResultBlockParamContentUnion{
					OfText: &anthropic.TextBlockParam{Text: part.Text},
				})
			case conversation.BlockImage:
				if part.Source == nil {
					continue
				}
				img := imageParam(part.Source)
				parts = append(parts, anthropic.ToolResultBlockParamContentUnion{OfImage: &img})
			}
		}
		result := anthropic.ToolResultBlockParam{
			ToolUseID: block.ToolUseID,
			Content:   parts,
			IsError:   anthropic.Bool(block.IsError),
		}
		return anthropic.ContentBlockParamUnion{OfToolResult: &result}, true

	case conversation.BlockImage:
		if block.Source == nil {
			return anthropic.ContentBlockParamUnion{}, false
		}
		img := imageParam(block.Source)
		return anthropic.ContentBlockParamUnion{OfImage: &img}, true
	}
	return anthropic.ContentBlockParamUnion{}, false
}

func imageParam(src *conversation.ImageSource) anthropic.ImageBlockParam {
	return anthropic.ImageBlockParam{
		Source: anthropic.ImageBlockParamSourceUnion{
			OfBase64: &anthropic.Base64ImageSourceParam{
				Data:      src.Data,
				MediaType: anthropic.Base64ImageSourceMediaType(src.MediaType),
			},
		},
	}
}

func toToolParams(schemas []toolexecutor.ToolSchema) []anthropic.ToolUnionParam {
	tools := make([]anthropic.ToolUnionParam, 0, len(schemas))
	for _, schema := range schemas {
		toolParam := anthropic.ToolParam{
			Name:        schema.Name,
			Description: anthropic.String(schema.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: schema.InputSchema["properties"],
			},
		}
		if required, ok := schema.InputSchema["required"].([]string); ok {
			toolParam.InputSchema.Required = required
		}
		tools = append(tools, anthropic.ToolUnionParam{OfTool: &toolParam})
	}
	return tools
}

func fromContentBlocks(blocks []anthropic.ContentBlockUnion) []conversation.ContentBlock {
	out := make([]conversation.ContentBlock, 0, len(blocks))
	for _, block := range blocks {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			out = append(out, conversation.NewTextBlock(b.Text))
		case anthropic.ToolUseBlock:
			out = append(out, conversation.NewToolUseBlock(b.ID, b.Name, json.RawMessage(b.JSON.Input.Raw())))
		}
	}
	return out
}

// AnthropicCompleter adapts a Client to TextCompleter.
type AnthropicCompleter struct {
	client    Client
	maxTokens int
}

// NewAnthropicCompleter creates a TextCompleter on top of client.
func NewAnthropicCompleter(client Client, maxTokens int) *AnthropicCompleter {
	return &AnthropicCompleter{client: client, maxTokens: maxTokens}
}

// CompleteText sends prompt as a single user turn.
func (c *AnthropicCompleter) CompleteText(ctx context.Context, system, prompt string) (string, error) {
	resp, err := c.client.Complete(ctx, Request{
		Role:      "decision",
		System:    system,
		Messages:  []conversation.Message{conversation.NewTextMessage(conversation.RoleUser, prompt)},
		MaxTokens: c.maxTokens,
	})
	if err != nil {
		return "", err
	}
	text := resp.Text()
	if text == "" {
		return "", &BackendError{Message: fmt.Sprintf("empty reply (stop reason %q)", resp.StopReason)}
	}
	return text, nil
}
