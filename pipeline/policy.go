// Package pipeline implements the content delivery pipeline sitting between
// a session's event bus and a connected client: what gets forwarded, when,
// and how fast.
package pipeline

import (
	"github.com/tickline/tickline/content"
)

// PolicyKind selects a built-in ContentPolicy behavior.
type PolicyKind string

const (
	// PolicyFull forwards every message unchanged.
	PolicyFull PolicyKind = "full"
	// PolicyTextOnly strips non-text blocks (tool_use, tool_result, images,
	// reasoning) from forwarded messages.
	PolicyTextOnly PolicyKind = "text_only"
	// PolicySummarized replaces tool_use/tool_result blocks with a short
	// textual summary while keeping assistant/user text untouched.
	PolicySummarized PolicyKind = "summarized"
	// PolicyCustom delegates entirely to a caller-supplied function.
	PolicyCustom PolicyKind = "custom"
)

// SummarizeFunc renders a tool_use/tool_result pair into a user-facing
// summary string for PolicySummarized.
type SummarizeFunc func(call content.ToolUseBlock, result *content.ToolResultBlock) string

// FilterFunc implements PolicyCustom: given a message, return the message to
// forward (possibly rewritten) and whether to forward it at all.
type FilterFunc func(content.Message) (content.Message, bool)

// ContentPolicy decides what to forward to a client for a given timeline
// message.
type ContentPolicy struct {
	kind      PolicyKind
	summarize SummarizeFunc
	filter    FilterFunc
}

// NewFullPolicy forwards every message verbatim.
func NewFullPolicy() ContentPolicy { return ContentPolicy{kind: PolicyFull} }

// NewTextOnlyPolicy keeps only TextBlock content.
func NewTextOnlyPolicy() ContentPolicy { return ContentPolicy{kind: PolicyTextOnly} }

// NewSummarizedPolicy keeps text blocks and compresses tool_use/tool_result
// pairs via summarize. If summarize is nil, a default one-line summarizer is
// used.
func NewSummarizedPolicy(summarize SummarizeFunc) ContentPolicy {
	if summarize == nil {
		summarize = defaultSummarize
	}
	return ContentPolicy{kind: PolicySummarized, summarize: summarize}
}

// NewCustomPolicy delegates filtering entirely to filter.
func NewCustomPolicy(filter FilterFunc) ContentPolicy {
	return ContentPolicy{kind: PolicyCustom, filter: filter}
}

// Apply transforms msg per the policy, returning the message to forward and
// whether it should be forwarded at all (false means drop silently).
func (p ContentPolicy) Apply(msg content.Message) (content.Message, bool) {
	switch p.kind {
	case PolicyFull, "":
		return msg, true
	case PolicyTextOnly:
		return p.applyTextOnly(msg)
	case PolicySummarized:
		return p.applySummarized(msg)
	case PolicyCustom:
		if p.filter == nil {
			return msg, true
		}
		return p.filter(msg)
	default:
		return msg, true
	}
}

func (p ContentPolicy) applyTextOnly(msg content.Message) (content.Message, bool) {
	var kept []content.Block
	for _, b := range msg.Content {
		if _, ok := b.(content.TextBlock); ok {
			kept = append(kept, b)
		}
	}
	if len(kept) == 0 {
		return msg, false
	}
	out := msg
	out.Content = kept
	return out, true
}

func (p ContentPolicy) applySummarized(msg content.Message) (content.Message, bool) {
	var out []content.Block
	var pendingCall *content.ToolUseBlock
	for _, b := range msg.Content {
		switch v := b.(type) {
		case content.TextBlock:
			out = append(out, v)
		case content.ToolUseBlock:
			call := v
			pendingCall = &call
		case content.ToolResultBlock:
			if pendingCall != nil && pendingCall.ToolUseID == v.ToolUseID {
				out = append(out, content.TextBlock{Text: p.summarize(*pendingCall, &v)})
				pendingCall = nil
				continue
			}
			out = append(out, content.TextBlock{Text: p.summarize(content.ToolUseBlock{Name: v.Name, ToolUseID: v.ToolUseID}, &v)})
		}
	}
	if pendingCall != nil {
		out = append(out, content.TextBlock{Text: p.summarize(*pendingCall, nil)})
	}
	if len(out) == 0 {
		return msg, false
	}
	result := msg
	result.Content = out
	return result, true
}

func defaultSummarize(call content.ToolUseBlock, result *content.ToolResultBlock) string {
	if result == nil {
		return "called " + call.Name
	}
	if result.IsError {
		return "tool " + call.Name + " failed"
	}
	return "tool " + call.Name + " completed"
}
