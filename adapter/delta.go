// Package adapter defines the provider-independent streaming contract
// (AdapterDelta) that every model provider integration must speak, plus the
// accumulator that folds a delta stream into one canonical message.
//
// Concrete provider adapters (adapter/anthropic, adapter/openai,
// adapter/bedrock) translate their own wire formats into AdapterDelta values;
// the session engine never imports a provider SDK directly.
package adapter

import "encoding/json"

// StopReason is the canonical reason generation stopped, normalized across
// providers.
type StopReason string

const (
	StopUnspecified   StopReason = "UNSPECIFIED"
	StopStop          StopReason = "STOP"
	StopMaxTokens     StopReason = "MAX_TOKENS"
	StopToolUse       StopReason = "TOOL_USE"
	StopContentFilter StopReason = "CONTENT_FILTER"
	StopError         StopReason = "ERROR"
	StopOther         StopReason = "OTHER"
)

// DeltaType discriminates the kind of streaming chunk carried by a Delta.
type DeltaType string

const (
	DeltaMessageStart  DeltaType = "message_start"
	DeltaText          DeltaType = "text"
	DeltaReasoning     DeltaType = "reasoning"
	DeltaToolCallStart DeltaType = "tool_call_start"
	DeltaToolCallDelta DeltaType = "tool_call_delta"
	DeltaToolCallEnd   DeltaType = "tool_call_end"
	DeltaToolCall      DeltaType = "tool_call"
	DeltaUsage         DeltaType = "usage"
	DeltaMessageEnd    DeltaType = "message_end"
	DeltaError         DeltaType = "error"
	DeltaRaw           DeltaType = "raw"
)

// Usage reports token consumption for a call. Fields are normalized across
// provider synonyms (prompt_tokens | promptTokens | inputTokens, etc.) by
// each adapter's mapChunk before a Usage value ever reaches the accumulator.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Max returns the field-wise maximum of u and o. Providers report partial
// usage then final totals; merging by max avoids double counting while still
// converging on the final total.
func (u Usage) Max(o Usage) Usage {
	return Usage{
		InputTokens:  max(u.InputTokens, o.InputTokens),
		OutputTokens: max(u.OutputTokens, o.OutputTokens),
		TotalTokens:  max(u.TotalTokens, o.TotalTokens),
	}
}

// Delta is one chunk of the provider-independent streaming contract. Only the
// fields relevant to Type are populated; the rest are zero-valued.
type Delta struct {
	Type DeltaType

	// Text/Reasoning carry incremental content for DeltaText/DeltaReasoning.
	Text string

	// ToolCallID/ToolCallName identify the tool call for
	// DeltaToolCallStart/DeltaToolCallDelta/DeltaToolCallEnd/DeltaToolCall.
	ToolCallID   string
	ToolCallName string

	// ToolCallArgDelta carries an incremental argument JSON fragment for
	// DeltaToolCallDelta. Not guaranteed to be valid JSON on its own.
	ToolCallArgDelta string

	// ToolCallInput carries the complete, already-parsed arguments for
	// DeltaToolCallEnd (when the provider supplies a parsed value rather than
	// a raw fragment stream) and DeltaToolCall.
	ToolCallInput json.RawMessage

	// Usage carries a usage delta for DeltaUsage, and the final usage (if any)
	// for DeltaMessageEnd.
	Usage *Usage

	// StopReason is set on DeltaMessageEnd.
	StopReason StopReason

	// Err carries the failure for DeltaError.
	Err error

	// Raw carries an opaque provider-specific passthrough payload for
	// DeltaRaw.
	Raw any
}
