// Package bedrock implements adapter.ModelAdapter on top of the Amazon
// Bedrock Converse API using aws-sdk-go-v2's bedrockruntime service client.
// It translates the engine's provider-independent content.Message/Block
// union into Bedrock's types.Message/ContentBlock union and maps
// ConverseStream events back into adapter.Delta values.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/aws/protocol/document"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	"github.com/aws/smithy-go"

	"github.com/tickline/tickline/adapter"
	"github.com/tickline/tickline/content"
)

// ConverseClient captures the subset of the Bedrock Runtime client used by
// the adapter, satisfied by *bedrockruntime.Client.
type ConverseClient interface {
	Converse(ctx context.Context, in *bedrockruntime.ConverseInput, opts ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
	ConverseStream(ctx context.Context, in *bedrockruntime.ConverseStreamInput, opts ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseStreamOutput, error)
}

// Options configures a Client.
type Options struct {
	DefaultModel string
	MaxTokens    int
	Temperature  float64
}

// Client implements adapter.ModelAdapter on top of Bedrock Converse.
type Client struct {
	rt           ConverseClient
	defaultModel string
	maxTokens    int
	temperature  float64
}

// New builds a Bedrock-backed adapter from a ConverseClient.
func New(rt ConverseClient, opts Options) (*Client, error) {
	if rt == nil {
		return nil, errors.New("bedrock: runtime client is required")
	}
	if opts.DefaultModel == "" {
		return nil, errors.New("bedrock: default model id is required")
	}
	return &Client{rt: rt, defaultModel: opts.DefaultModel, maxTokens: opts.MaxTokens, temperature: opts.Temperature}, nil
}

// NewFromConfig constructs a Client from a loaded aws.Config.
func NewFromConfig(cfg aws.Config, opts Options) (*Client, error) {
	return New(bedrockruntime.NewFromConfig(cfg), opts)
}

func (c *Client) Metadata() adapter.Metadata {
	return adapter.Metadata{
		ID: "bedrock", Provider: "bedrock", Model: c.defaultModel,
		Type:         adapter.AdapterTypeLanguage,
		Capabilities: []adapter.Capability{"text", "tool_use", "streaming"},
	}
}

// bedrockRequest bundles the pieces of a ConverseInput so Execute and
// ExecuteStream can build the respective *ConverseInput/*ConverseStreamInput
// from one PrepareInput result.
type bedrockRequest struct {
	modelID   string
	messages  []types.Message
	system    []types.SystemContentBlock
	inference *types.InferenceConfiguration
	tools     *types.ToolConfiguration
}

// PrepareInput translates a ModelInput into a bedrockRequest.
func (c *Client) PrepareInput(_ context.Context, in adapter.ModelInput) (adapter.ProviderRequest, error) {
	if len(in.Messages) == 0 {
		return nil, errors.New("bedrock: messages are required")
	}
	msgs, system, err := encodeMessages(in.Messages)
	if err != nil {
		return nil, err
	}
	toolCfg, err := encodeTools(in.Tools)
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

	inference := &types.InferenceConfiguration{}
	if maxTokens > 0 {
		mt := int32(maxTokens)
		inference.MaxTokens = &mt
	}
	if temperature > 0 {
		t := float32(temperature)
		inference.Temperature = &t
	}

	return &bedrockRequest{modelID: modelID, messages: msgs, system: system, inference: inference, tools: toolCfg}, nil
}

// Execute performs a non-streaming Converse call.
func (c *Client) Execute(ctx context.Context, req adapter.ProviderRequest) (adapter.ProviderResponse, error) {
	br, ok := req.(*bedrockRequest)
	if !ok {
		return nil, fmt.Errorf("bedrock: unexpected request type %T", req)
	}
	out, err := c.rt.Converse(ctx, &bedrockruntime.ConverseInput{
		ModelId: aws.String(br.modelID), Messages: br.messages, System: br.system,
		InferenceConfig: br.inference, ToolConfig: br.tools,
	})
	if err != nil {
		return nil, adapter.NewError("bedrock", classifyErr(err), "converse failed", err)
	}
	return out, nil
}

// ExecuteStream performs a streaming ConverseStream call.
func (c *Client) ExecuteStream(ctx context.Context, req adapter.ProviderRequest) (adapter.ChunkStream, error) {
	br, ok := req.(*bedrockRequest)
	if !ok {
		return nil, fmt.Errorf("bedrock: unexpected request type %T", req)
	}
	out, err := c.rt.ConverseStream(ctx, &bedrockruntime.ConverseStreamInput{
		ModelId: aws.String(br.modelID), Messages: br.messages, System: br.system,
		InferenceConfig: br.inference, ToolConfig: br.tools,
	})
	if err != nil {
		return nil, adapter.NewError("bedrock", classifyErr(err), "converse_stream failed", err)
	}
	return &chunkStream{events: out.GetStream(), toolBlocks: make(map[int32]*toolBuf)}, nil
}

// ProcessOutput translates a non-streaming *bedrockruntime.ConverseOutput
// into a ModelOutput.
func (c *Client) ProcessOutput(resp adapter.ProviderResponse) (adapter.ModelOutput, error) {
	out, ok := resp.(*bedrockruntime.ConverseOutput)
	if !ok {
		return adapter.ModelOutput{}, fmt.Errorf("bedrock: unexpected response type %T", resp)
	}
	msgOut, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return adapter.ModelOutput{}, errors.New("bedrock: converse output has no message")
	}
	blocks, err := decodeBlocks(msgOut.Value.Content)
	if err != nil {
		return adapter.ModelOutput{}, err
	}
	var usage adapter.Usage
	if out.Usage != nil {
		usage = adapter.Usage{
			InputTokens:  int(aws.ToInt32(out.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(out.Usage.OutputTokens)),
			TotalTokens:  int(aws.ToInt32(out.Usage.TotalTokens)),
		}
	}
	return adapter.ModelOutput{
		Message:    content.Message{Role: content.RoleAssistant, Content: blocks},
		Usage:      usage,
		StopReason: mapStopReason(out.StopReason),
	}, nil
}

// ReconstructRaw is unsupported: the Bedrock adapter never round-trips an
// accumulated Result into a ConverseOutput.
func (c *Client) ReconstructRaw(adapter.Result) (adapter.ProviderResponse, error) {
	return nil, adapter.ErrReconstructUnsupported
}

func mapStopReason(raw types.StopReason) adapter.StopReason {
	switch raw {
	case types.StopReasonEndTurn, types.StopReasonStopSequence:
		return adapter.StopStop
	case types.StopReasonMaxTokens:
		return adapter.StopMaxTokens
	case types.StopReasonToolUse:
		return adapter.StopToolUse
	case types.StopReasonContentFiltered, types.StopReasonGuardrailIntervened:
		return adapter.StopContentFilter
	case "":
		return adapter.StopUnspecified
	default:
		return adapter.StopOther
	}
}

func classifyErr(err error) adapter.ErrorKind {
	var throttle *types.ThrottlingException
	if errors.As(err, &throttle) {
		return adapter.ErrorKindRateLimited
	}
	var access *types.AccessDeniedException
	if errors.As(err, &access) {
		return adapter.ErrorKindAuth
	}
	var badReq *types.ValidationException
	if errors.As(err, &badReq) {
		return adapter.ErrorKindInvalidInput
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return adapter.ErrorKindUpstream
	}
	return adapter.ErrorKindUpstream
}

func encodeMessages(msgs []content.Message) ([]types.Message, []types.SystemContentBlock, error) {
	out := make([]types.Message, 0, len(msgs))
	var system []types.SystemContentBlock

	for _, m := range msgs {
		if m.Role == content.RoleSystem {
			for _, b := range m.Content {
				if t, ok := b.(content.TextBlock); ok && t.Text != "" {
					system = append(system, &types.SystemContentBlockMemberText{Value: t.Text})
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
		var role types.ConversationRole
		switch m.Role {
		case content.RoleUser, content.RoleTool:
			role = types.ConversationRoleUser
		case content.RoleAssistant:
			role = types.ConversationRoleAssistant
		default:
			return nil, nil, fmt.Errorf("bedrock: unsupported message role %q", m.Role)
		}
		out = append(out, types.Message{Role: role, Content: blocks})
	}
	if len(out) == 0 {
		return nil, nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return out, system, nil
}

func encodeBlocks(blocks []content.Block) ([]types.ContentBlock, error) {
	out := make([]types.ContentBlock, 0, len(blocks))
	for _, b := range blocks {
		switch v := b.(type) {
		case content.TextBlock:
			if v.Text != "" {
				out = append(out, &types.ContentBlockMemberText{Value: v.Text})
			}
		case content.ToolUseBlock:
			var input any
			if len(v.Input) > 0 {
				if err := json.Unmarshal(v.Input, &input); err != nil {
					return nil, fmt.Errorf("bedrock: decode tool_use input: %w", err)
				}
			}
			out = append(out, &types.ContentBlockMemberToolUse{Value: types.ToolUseBlock{
				ToolUseId: aws.String(v.ToolUseID), Name: aws.String(v.Name), Input: document.NewLazyDocument(input),
			}})
		case content.ToolResultBlock:
			status := types.ToolResultStatusSuccess
			if v.IsError {
				status = types.ToolResultStatusError
			}
			out = append(out, &types.ContentBlockMemberToolResult{Value: types.ToolResultBlock{
				ToolUseId: aws.String(v.ToolUseID),
				Content:   []types.ToolResultContentBlock{&types.ToolResultContentBlockMemberText{Value: toolResultText(v.Content)}},
				Status:    status,
			}})
		default:
			// Reasoning, media, and structured blocks are provider-specific
			// and are not re-encoded for Bedrock here.
		}
	}
	return out, nil
}

func decodeBlocks(blocks []types.ContentBlock) ([]content.Block, error) {
	out := make([]content.Block, 0, len(blocks))
	for _, b := range blocks {
		switch v := b.(type) {
		case *types.ContentBlockMemberText:
			if v.Value != "" {
				out = append(out, content.TextBlock{Text: v.Value})
			}
		case *types.ContentBlockMemberToolUse:
			raw, err := json.Marshal(lazyDocumentValue(v.Value.Input))
			if err != nil {
				return nil, fmt.Errorf("bedrock: encode tool_use input: %w", err)
			}
			out = append(out, content.ToolUseBlock{
				ToolUseID: aws.ToString(v.Value.ToolUseId), Name: aws.ToString(v.Value.Name), Input: raw,
			})
		}
	}
	return out, nil
}

func lazyDocumentValue(doc document.Interface) any {
	if doc == nil {
		return nil
	}
	var v any
	_ = doc.UnmarshalSmithyDocument(&v)
	return v
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

func encodeTools(defs []content.ToolDefinition) (*types.ToolConfiguration, error) {
	if len(defs) == 0 {
		return nil, nil
	}
	tools := make([]types.Tool, 0, len(defs))
	for _, def := range defs {
		var schema any
		if len(def.Input) > 0 {
			if err := json.Unmarshal(def.Input, &schema); err != nil {
				return nil, fmt.Errorf("bedrock: tool %q schema: %w", def.Name, err)
			}
		}
		tools = append(tools, &types.ToolMemberToolSpec{Value: types.ToolSpecification{
			Name:        aws.String(def.Name),
			Description: aws.String(def.Description),
			InputSchema: &types.ToolInputSchemaMemberJson{Value: document.NewLazyDocument(schema)},
		}})
	}
	return &types.ToolConfiguration{Tools: tools}, nil
}
