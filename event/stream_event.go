// Package event defines the session's public event bus (StreamEvent) and the
// typed, bounded-replay EventBuffer every session owns.
package event

import "github.com/tickline/tickline/adapter"

// Type discriminates a StreamEvent's kind.
type Type string

const (
	TypeExecutionStart        Type = "execution_start"
	TypeTickStart              Type = "tick_start"
	TypeContentDelta           Type = "content_delta"
	TypeContentBlockStart      Type = "content_block_start"
	TypeContentBlockEnd        Type = "content_block_end"
	TypeToolCallStart          Type = "tool_call_start"
	TypeToolCall               Type = "tool_call"
	TypeToolResult             Type = "tool_result"
	TypeToolConfirmationReq    Type = "tool_confirmation_request"
	TypeTickEnd                Type = "tick_end"
	TypeExecutionEnd           Type = "execution_end"
	TypeSpawnStart             Type = "spawn_start"
	TypeSpawnEnd               Type = "spawn_end"
	TypeError                  Type = "error"

	// TypeWildcard is never the Type of a real event; it is used as the
	// subscription key meaning "every event type".
	TypeWildcard Type = "*"
)

// StreamEvent is the public, session-scoped event bus payload. Every event
// carries SessionID when it crosses the session boundary (e.g. once handed to
// the gateway).
type StreamEvent struct {
	Type      Type
	SessionID string

	ContentDelta      string
	BlockID            string
	BlockType          string
	ToolCallID         string
	ToolCallName       string
	ToolCallInput      any
	ToolCallSummary    string
	ToolResult         any
	ToolResultIsError  bool
	ConfirmToolUseID   string
	ConfirmArguments   any
	ConfirmMessage     string
	ConfirmMetadata    map[string]any
	Usage              *adapter.Usage
	StopReason         adapter.StopReason
	NewTimelineEntries int
	Output             any
	Err                error
}
