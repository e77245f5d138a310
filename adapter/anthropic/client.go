// Package anthropic implements adapter.ModelAdapter on top of the Anthropic
// Claude Messages API using github.com/anthropics/anthropic-sdk-go. It
// translates the engine's provider-independent content.Message/Block union
// into Anthropic's MessageParam/ContentBlockParamUnion types and maps
// streaming events back into adapter.Delta values.
package anthropic

import (
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"context"

	"github.com/tickline/tickline/adapter"
	"github.com/tickline/tickline/content"
)

// MessagesClient captures the subset of the Anthropic SDK used by the
// adapter, satisfied by *sdk.MessageService so callers can substitute a
// fake in tests.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
	NewStreaming(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) *ssestream.Stream[sdk.MessageStreamEventUnion]
}

// Options configures a Client.
type Options struct {
	// DefaultModel is used when a render's ModelOptions.Model is empty.
	DefaultModel string
	// MaxTokens is the completion cap applied when ModelOptions.MaxTokens is
	// zero.
	MaxTokens int
	// Temperature is applied when ModelOptions.Temperature is nil.
	Temperature float64
}

// Client implements adapter.ModelAdapter on top of Anthropic Messages.
type Client struct {
	msg          MessagesClient
	defaultModel string
	maxTokens    int
	temperature  float64
}

// New builds an Anthropic-backed adapter from a Messages client.
func New(msg MessagesClient, opts Options) (*Client, error) {
	if msg == nil {
		return nil, errors.New("anthropic: messages client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("anthropic: default model is required")
	}
	return &Client{
		msg:          msg,
		defaultModel: opts.DefaultModel,
		maxTokens:    opts.MaxTokens,
		temperature:  opts.Temperature,
	}, nil
}

// NewFromAPIKey constructs a Client using the SDK's default HTTP client,
// reading ANTHROPIC_API_KEY conventions from the provided key directly.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("anthropic: api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(apiKey))
	return New(&ac.Messages, opts)
}

// Metadata describes this adapter instance.
func (c *Client) Metadata() adapter.Metadata {
	return adapter.Metadata{
		ID:       "anthropic",
		Provider: "anthropic",
		Model:    c.defaultModel,
		Type:     adapter.AdapterTypeLanguage,
		Capabilities: []adapter.Capability{
			"text", "tool_use", "reasoning", "streaming",
		},
	}
}

// PrepareInput translates a ModelInput into an Anthropic MessageNewParams.
func (c *Client) PrepareInput(_ context.Context, in adapter.ModelInput) (adapter.ProviderRequest, error) {
	if len(in.Messages) == 0 {
		return nil, errors.New("anthropic: messages are required")
	}
	msgs, system, err := encodeMessages(in.Messages)
	if err != nil {
		return nil, err
	}
	tools, err := encodeTools(in.Tools)
	if err != nil {
		return nil, err
	}

	modelID := c.defaultModel
	maxTokens := c.maxTokens
	temperature := c.temperature
	if in.ModelOptions != nil {
		if in.ModelOptions.Model != "" {
			modelID = in.ModelOptions.Model
		}
		if in.ModelOptions.MaxTokens > 0 {
			maxTokens = in.ModelOptions.MaxTokens
		}
		if in.ModelOptions.Temperature != nil {
			temperature = float64(*in.ModelOptions.Temperature)
		}
	}
	if maxTokens <= 0 {
		return nil, errors.New("anthropic: max_tokens must be positive")
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(modelID),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if len(system) > 0 {
		params.System = system
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	if temperature > 0 {
		params.Temperature = sdk.Float(temperature)
	}
	return &params, nil
}

// Execute performs a non-streaming Messages.New call.
func (c *Client) Execute(ctx context.Context, req adapter.ProviderRequest) (adapter.ProviderResponse, error) {
	params, ok := req.(*sdk.MessageNewParams)
	if !ok {
		return nil, fmt.Errorf("anthropic: unexpected request type %T", req)
	}
	msg, err := c.msg.New(ctx, *params)
	if err != nil {
		return nil, adapter.NewError("anthropic", classifyErr(err), "messages.new failed", err)
	}
	return msg, nil
}

// ExecuteStream performs a streaming Messages.New call.
func (c *Client) ExecuteStream(ctx context.Context, req adapter.ProviderRequest) (adapter.ChunkStream, error) {
	params, ok := req.(*sdk.MessageNewParams)
	if !ok {
		return nil, fmt.Errorf("anthropic: unexpected request type %T", req)
	}
	stream := c.msg.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, adapter.NewError("anthropic", classifyErr(err), "messages.new (stream) failed", err)
	}
	return &chunkStream{stream: stream, toolBlocks: make(map[int]*toolBuf)}, nil
}

// ProcessOutput translates a non-streaming *sdk.Message into a ModelOutput.
func (c *Client) ProcessOutput(resp adapter.ProviderResponse) (adapter.ModelOutput, error) {
	msg, ok := resp.(*sdk.Message)
	if !ok {
		return adapter.ModelOutput{}, fmt.Errorf("anthropic: unexpected response type %T", resp)
	}
	var blocks []content.Block
	for _, block := range msg.Content {
		switch block.Type {
		case "text":
			if block.Text != "" {
				blocks = append(blocks, content.TextBlock{Text: block.Text})
			}
		case "tool_use":
			blocks = append(blocks, content.ToolUseBlock{ToolUseID: block.ID, Name: block.Name, Input: json.RawMessage(block.Input)})
		}
	}
	return adapter.ModelOutput{
		Message:    content.Message{Role: content.RoleAssistant, Content: blocks},
		Usage:      usageOf(msg.Usage),
		StopReason: mapStopReason(string(msg.StopReason)),
	}, nil
}

// ReconstructRaw is unsupported: the Anthropic adapter never needs to
// round-trip an accumulated Result back into a provider response shape.
func (c *Client) ReconstructRaw(adapter.Result) (adapter.ProviderResponse, error) {
	return nil, adapter.ErrReconstructUnsupported
}

func usageOf(u sdk.Usage) adapter.Usage {
	return adapter.Usage{
		InputTokens:  int(u.InputTokens),
		OutputTokens: int(u.OutputTokens),
		TotalTokens:  int(u.InputTokens + u.OutputTokens),
	}
}

func mapStopReason(raw string) adapter.StopReason {
	switch raw {
	case "end_turn", "stop_sequence":
		return adapter.StopStop
	case "max_tokens":
		return adapter.StopMaxTokens
	case "tool_use":
		return adapter.StopToolUse
	case "":
		return adapter.StopUnspecified
	default:
		return adapter.StopOther
	}
}

func classifyErr(err error) adapter.ErrorKind {
	if isRateLimited(err) {
		return adapter.ErrorKindRateLimited
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 401, 403:
			return adapter.ErrorKindAuth
		case 400, 422:
			return adapter.ErrorKindInvalidInput
		}
	}
	return adapter.ErrorKindUpstream
}

func isRateLimited(err error) bool {
	var apiErr *sdk.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == 429
}

func encodeMessages(msgs []content.Message) ([]sdk.MessageParam, []sdk.TextBlockParam, error) {
	conversation := make([]sdk.MessageParam, 0, len(msgs))
	system := make([]sdk.TextBlockParam, 0, len(msgs))

	for _, m := range msgs {
		if m.Role == content.RoleSystem {
			for _, b := range m.Content {
				if t, ok := b.(content.TextBlock); ok && t.Text != "" {
					system = append(system, sdk.TextBlockParam{Text: t.Text})
				}
			}
			continue
		}

		blocks, err := encodeBlocks(m.Content)
		if err != nil {
			return nil, nil, err
		}
		if len(blocks) == 0 {
			continue
		}
		switch m.Role {
		case content.RoleUser, content.RoleTool:
			// Tool results travel back to Anthropic inside a user-role
			// message, per the Messages API's tool_result convention.
			conversation = append(conversation, sdk.NewUserMessage(blocks...))
		case content.RoleAssistant:
			conversation = append(conversation, sdk.NewAssistantMessage(blocks...))
		default:
			return nil, nil, fmt.Errorf("anthropic: unsupported message role %q", m.Role)
		}
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("anthropic: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeBlocks(blocks []content.Block) ([]sdk.ContentBlockParamUnion, error) {
	out := make([]sdk.ContentBlockParamUnion, 0, len(blocks))
	for _, b := range blocks {
		switch v := b.(type) {
		case content.TextBlock:
			if v.Text != "" {
				out = append(out, sdk.NewTextBlock(v.Text))
			}
		case content.ToolUseBlock:
			var input any
			if len(v.Input) > 0 {
				if err := json.Unmarshal(v.Input, &input); err != nil {
					return nil, fmt.Errorf("anthropic: decode tool_use input: %w", err)
				}
			}
			out = append(out, sdk.NewToolUseBlock(v.ToolUseID, input, v.Name))
		case content.ToolResultBlock:
			out = append(out, sdk.NewToolResultBlock(v.ToolUseID, toolResultText(v.Content), v.IsError))
		default:
			// Reasoning, media, and structured blocks are provider-specific
			// and are not re-encoded for Anthropic here.
		}
	}
	return out, nil
}

func toolResultText(blocks []content.Block) string {
	var out string
	for _, b := range blocks {
		if t, ok := b.(content.TextBlock); ok {
			out += t.Text
		}
	}
	return out
}

func encodeTools(defs []content.ToolDefinition) ([]sdk.ToolUnionParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]sdk.ToolUnionParam, 0, len(defs))
	for _, def := range defs {
		schema, err := toolInputSchema(def.Input)
		if err != nil {
			return nil, fmt.Errorf("anthropic: tool %q schema: %w", def.Name, err)
		}
		u := sdk.ToolUnionParamOfTool(schema, def.Name)
		if u.OfTool != nil {
			u.OfTool.Description = sdk.String(def.Description)
		}
		out = append(out, u)
	}
	return out, nil
}

func toolInputSchema(raw json.RawMessage) (sdk.ToolInputSchemaParam, error) {
	if len(raw) == 0 {
		return sdk.ToolInputSchemaParam{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return sdk.ToolInputSchemaParam{}, err
	}
	return sdk.ToolInputSchemaParam{ExtraFields: m}, nil
}
