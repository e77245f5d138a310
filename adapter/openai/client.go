// Package openai implements adapter.ModelAdapter on top of the OpenAI Chat
// Completions API using github.com/openai/openai-go. It translates the
// engine's provider-independent content.Message/Block union into OpenAI
// ChatCompletionMessageParamUnion values and maps streaming chunks back into
// adapter.Delta values.
package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/tickline/tickline/adapter"
	"github.com/tickline/tickline/content"
)

// ChatClient captures the subset of the OpenAI SDK used by the adapter,
// satisfied by the client's Chat.Completions service.
type ChatClient interface {
	New(ctx context.Context, body oai.ChatCompletionNewParams, opts ...option.RequestOption) (*oai.ChatCompletion, error)
	NewStreaming(ctx context.Context, body oai.ChatCompletionNewParams, opts ...option.RequestOption) *streamOf
}

// Options configures a Client.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// Client implements adapter.ModelAdapter on top of OpenAI Chat Completions.
type Client struct {
	chat         ChatClient
	defaultModel string
	maxTokens    int
	temperature  float64
}

// New builds an OpenAI-backed adapter from a Chat Completions client.
func New(chat ChatClient, opts Options) (*Client, error) {
	if chat == nil {
		return nil, errors.New("openai: chat client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("openai: default model is required")
	}
	return &Client{chat: chat, defaultModel: opts.DefaultModel, maxTokens: opts.MaxTokens, temperature: opts.Temperature}, nil
}

// NewFromAPIKey constructs a Client using the SDK's default HTTP client.
func NewFromAPIKey(apiKey string, opts Options) (*Client, error) {
	if apiKey == "" {
		return nil, errors.New("openai: api key is required")
	}
	c := oai.NewClient(option.WithAPIKey(apiKey))
	return New(&c.Chat.Completions, opts)
}

func (c *Client) Metadata() adapter.Metadata {
	return adapter.Metadata{
		ID: "openai", Provider: "openai", Model: c.defaultModel,
		Type:         adapter.AdapterTypeLanguage,
		Capabilities: []adapter.Capability{"text", "tool_use", "streaming"},
	}
}

// PrepareInput translates a ModelInput into an OpenAI ChatCompletionNewParams.
func (c *Client) PrepareInput(_ context.Context, in adapter.ModelInput) (adapter.ProviderRequest, error) {
	if len(in.Messages) == 0 {
		return nil, errors.New("openai: messages are required")
	}
	msgs, err := encodeMessages(in.Messages)
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

	params := oai.ChatCompletionNewParams{
		Model:    modelID,
		Messages: msgs,
	}
	if maxTokens > 0 {
		params.MaxTokens = oai.Int(int64(maxTokens))
	}
	if temperature > 0 {
		params.Temperature = oai.Float(temperature)
	}
	if len(tools) > 0 {
		params.Tools = tools
	}
	return &params, nil
}

// Execute performs a non-streaming chat completion.
func (c *Client) Execute(ctx context.Context, req adapter.ProviderRequest) (adapter.ProviderResponse, error) {
	params, ok := req.(*oai.ChatCompletionNewParams)
	if !ok {
		return nil, fmt.Errorf("openai: unexpected request type %T", req)
	}
	resp, err := c.chat.New(ctx, *params)
	if err != nil {
		return nil, adapter.NewError("openai", classifyErr(err), "chat.completions.new failed", err)
	}
	return resp, nil
}

// ExecuteStream performs a streaming chat completion.
func (c *Client) ExecuteStream(ctx context.Context, req adapter.ProviderRequest) (adapter.ChunkStream, error) {
	params, ok := req.(*oai.ChatCompletionNewParams)
	if !ok {
		return nil, fmt.Errorf("openai: unexpected request type %T", req)
	}
	stream := c.chat.NewStreaming(ctx, *params)
	if err := stream.Err(); err != nil {
		return nil, adapter.NewError("openai", classifyErr(err), "chat.completions.new (stream) failed", err)
	}
	return &chunkStream{stream: stream, toolIndex: make(map[int64]*toolBuf)}, nil
}

// ProcessOutput translates a non-streaming *oai.ChatCompletion into a ModelOutput.
func (c *Client) ProcessOutput(resp adapter.ProviderResponse) (adapter.ModelOutput, error) {
	cc, ok := resp.(*oai.ChatCompletion)
	if !ok {
		return adapter.ModelOutput{}, fmt.Errorf("openai: unexpected response type %T", resp)
	}
	if len(cc.Choices) == 0 {
		return adapter.ModelOutput{}, errors.New("openai: response has no choices")
	}
	choice := cc.Choices[0]
	var blocks []content.Block
	if choice.Message.Content != "" {
		blocks = append(blocks, content.TextBlock{Text: choice.Message.Content})
	}
	for _, tc := range choice.Message.ToolCalls {
		blocks = append(blocks, content.ToolUseBlock{
			ToolUseID: tc.ID, Name: tc.Function.Name, Input: json.RawMessage(tc.Function.Arguments),
		})
	}
	return adapter.ModelOutput{
		Message: content.Message{Role: content.RoleAssistant, Content: blocks},
		Usage: adapter.Usage{
			InputTokens: int(cc.Usage.PromptTokens), OutputTokens: int(cc.Usage.CompletionTokens),
			TotalTokens: int(cc.Usage.TotalTokens),
		},
		StopReason: mapFinishReason(string(choice.FinishReason)),
	}, nil
}

// ReconstructRaw is unsupported: the OpenAI adapter never round-trips an
// accumulated Result into a ChatCompletion.
func (c *Client) ReconstructRaw(adapter.Result) (adapter.ProviderResponse, error) {
	return nil, adapter.ErrReconstructUnsupported
}

func mapFinishReason(raw string) adapter.StopReason {
	switch raw {
	case "stop":
		return adapter.StopStop
	case "length":
		return adapter.StopMaxTokens
	case "tool_calls", "function_call":
		return adapter.StopToolUse
	case "content_filter":
		return adapter.StopContentFilter
	case "":
		return adapter.StopUnspecified
	default:
		return adapter.StopOther
	}
}

func classifyErr(err error) adapter.ErrorKind {
	var apiErr *oai.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 429:
			return adapter.ErrorKindRateLimited
		case 401, 403:
			return adapter.ErrorKindAuth
		case 400, 422:
			return adapter.ErrorKindInvalidInput
		}
	}
	return adapter.ErrorKindUpstream
}

func encodeMessages(msgs []content.Message) ([]oai.ChatCompletionMessageParamUnion, error) {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, m := range msgs {
		text := textOf(m.Content)
		switch m.Role {
		case content.RoleSystem:
			if text != "" {
				out = append(out, oai.SystemMessage(text))
			}
		case content.RoleUser:
			if text != "" {
				out = append(out, oai.UserMessage(text))
			}
		case content.RoleAssistant:
			msg := oai.AssistantMessage(text)
			for _, b := range m.Content {
				if tu, ok := b.(content.ToolUseBlock); ok {
					msg.OfAssistant.ToolCalls = append(msg.OfAssistant.ToolCalls, oai.ChatCompletionMessageToolCallParam{
						ID: tu.ToolUseID,
						Function: oai.ChatCompletionMessageToolCallFunctionParam{
							Name: tu.Name, Arguments: string(tu.Input),
						},
					})
				}
			}
			out = append(out, msg)
		case content.RoleTool:
			for _, b := range m.Content {
				if tr, ok := b.(content.ToolResultBlock); ok {
					out = append(out, oai.ToolMessage(toolResultText(tr.Content), tr.ToolUseID))
				}
			}
		default:
			return nil, fmt.Errorf("openai: unsupported message role %q", m.Role)
		}
	}
	return out, nil
}

func textOf(blocks []content.Block) string {
	var out string
	for _, b := range blocks {
		if t, ok := b.(content.TextBlock); ok {
			out += t.Text
		}
	}
	return out
}

func toolResultText(blocks []content.Block) string { return textOf(blocks) }

func encodeTools(defs []content.ToolDefinition) ([]oai.ChatCompletionToolParam, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	out := make([]oai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		var params map[string]any
		if len(def.Input) > 0 {
			if err := json.Unmarshal(def.Input, &params); err != nil {
				return nil, fmt.Errorf("openai: tool %q schema: %w", def.Name, err)
			}
		}
		out = append(out, oai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        def.Name,
				Description: oai.String(def.Description),
				Parameters:  params,
			},
		})
	}
	return out, nil
}
