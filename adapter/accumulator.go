package adapter

import (
	"encoding/json"

	"github.com/tickline/tickline/content"
)

// pendingToolCall tracks one in-flight tool call while its argument JSON is
// still streaming in.
type pendingToolCall struct {
	name   string
	argBuf []byte
	// input is set once a DeltaToolCallEnd/DeltaToolCall supplies a
	// pre-parsed value, bypassing argBuf.
	input json.RawMessage
	done  bool
}

// Accumulator folds an AdapterDelta stream into one canonical assistant
// Message plus usage, stop reason, and diagnostic metadata. One Accumulator
// corresponds to one tick of model output.
type Accumulator struct {
	text      string
	reasoning content.ReasoningBlock
	hasText   bool
	hasReason bool

	order []string // tool call ids in first-seen order
	calls map[string]*pendingToolCall

	usage      Usage
	hasUsage   bool
	stopReason StopReason
	model      string
	err        error
	chunks     int
	raw        []any
}

// NewAccumulator returns an empty Accumulator ready to Fold deltas.
func NewAccumulator() *Accumulator {
	return &Accumulator{calls: make(map[string]*pendingToolCall)}
}

// Fold applies one delta to the accumulator's state. Fold never returns an
// error: malformed tool-call JSON is captured as a validation concern at tool
// execution time, per the engine's failure model, not here.
func (a *Accumulator) Fold(d Delta) {
	a.chunks++
	switch d.Type {
	case DeltaMessageStart:
		// No state change; marks the start of a new canonical message.
	case DeltaText:
		a.hasText = true
		a.text += d.Text
	case DeltaReasoning:
		a.hasReason = true
		a.reasoning.Text += d.Text
	case DeltaToolCallStart:
		a.ensureOrder(d.ToolCallID)
		a.calls[d.ToolCallID] = &pendingToolCall{name: d.ToolCallName}
	case DeltaToolCallDelta:
		pc, ok := a.calls[d.ToolCallID]
		if !ok {
			a.ensureOrder(d.ToolCallID)
			pc = &pendingToolCall{name: d.ToolCallName}
			a.calls[d.ToolCallID] = pc
		}
		pc.argBuf = append(pc.argBuf, d.ToolCallArgDelta...)
	case DeltaToolCallEnd:
		pc, ok := a.calls[d.ToolCallID]
		if !ok {
			a.ensureOrder(d.ToolCallID)
			pc = &pendingToolCall{}
			a.calls[d.ToolCallID] = pc
		}
		if d.ToolCallInput != nil {
			pc.input = d.ToolCallInput
		} else if len(pc.argBuf) > 0 {
			var probe any
			if json.Unmarshal(pc.argBuf, &probe) == nil {
				pc.input = json.RawMessage(pc.argBuf)
			} else {
				// Parse failure: store the raw string so downstream tool
				// execution surfaces a validation error rather than losing
				// the call entirely.
				raw, _ := json.Marshal(string(pc.argBuf))
				pc.input = raw
			}
		}
		pc.done = true
	case DeltaToolCall:
		// A complete, non-streamed call replaces any partial entry.
		a.ensureOrder(d.ToolCallID)
		a.calls[d.ToolCallID] = &pendingToolCall{
			name:  d.ToolCallName,
			input: d.ToolCallInput,
			done:  true,
		}
	case DeltaUsage:
		if d.Usage != nil {
			if a.hasUsage {
				a.usage = a.usage.Max(*d.Usage)
			} else {
				a.usage = *d.Usage
				a.hasUsage = true
			}
		}
	case DeltaMessageEnd:
		a.stopReason = d.StopReason
		if d.Usage != nil {
			// A message_end usage value takes precedence over prior partials.
			a.usage = *d.Usage
			a.hasUsage = true
		}
	case DeltaError:
		a.err = d.Err
		a.stopReason = StopError
	case DeltaRaw:
		a.raw = append(a.raw, d.Raw)
	}
}

func (a *Accumulator) ensureOrder(id string) {
	if _, ok := a.calls[id]; ok {
		return
	}
	for _, existing := range a.order {
		if existing == id {
			return
		}
	}
	a.order = append(a.order, id)
}

// Err returns the error stored by a DeltaError chunk, if any.
func (a *Accumulator) Err() error { return a.err }

// Result is the canonical output of accumulation: one assistant Message plus
// call metadata needed by the engine to execute tools.
type Result struct {
	Message    content.Message
	ToolCalls  []content.ToolUseBlock
	Usage      Usage
	StopReason StopReason
	Model      string
	Chunks     int
	Raw        []any
}

// Build materializes the accumulated state into a Result. The message
// content is the ordered concatenation of: text block (if any), reasoning
// block (if any, unredacted), then one tool_use block per tool call in
// first-seen order.
func (a *Accumulator) Build() Result {
	var blocks []content.Block
	if a.hasText {
		blocks = append(blocks, content.TextBlock{Text: a.text})
	}
	if a.hasReason {
		blocks = append(blocks, a.reasoning)
	}
	var calls []content.ToolUseBlock
	for _, id := range a.order {
		pc := a.calls[id]
		if pc == nil {
			continue
		}
		tu := content.ToolUseBlock{
			ToolUseID: id,
			Name:      pc.name,
			Input:     pc.input,
		}
		blocks = append(blocks, tu)
		calls = append(calls, tu)
	}
	return Result{
		Message: content.Message{
			Role:    content.RoleAssistant,
			Content: blocks,
		},
		ToolCalls:  calls,
		Usage:      a.usage,
		StopReason: a.stopReason,
		Model:      a.model,
		Chunks:     a.chunks,
		Raw:        a.raw,
	}
}
