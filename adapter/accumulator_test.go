package adapter

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tickline/tickline/content"
)

func TestAccumulatorTextAndToolCall(t *testing.T) {
	acc := NewAccumulator()
	acc.Fold(Delta{Type: DeltaMessageStart})
	acc.Fold(Delta{Type: DeltaText, Text: "2"})
	acc.Fold(Delta{Type: DeltaText, Text: "+2="})
	acc.Fold(Delta{Type: DeltaToolCallStart, ToolCallID: "t1", ToolCallName: "calc"})
	acc.Fold(Delta{Type: DeltaToolCallDelta, ToolCallID: "t1", ToolCallArgDelta: `{"expr":`})
	acc.Fold(Delta{Type: DeltaToolCallDelta, ToolCallID: "t1", ToolCallArgDelta: `"2+2"}`})
	acc.Fold(Delta{Type: DeltaToolCallEnd, ToolCallID: "t1"})
	acc.Fold(Delta{Type: DeltaUsage, Usage: &Usage{InputTokens: 10, OutputTokens: 1}})
	acc.Fold(Delta{Type: DeltaMessageEnd, StopReason: StopToolUse, Usage: &Usage{InputTokens: 10, OutputTokens: 4, TotalTokens: 14}})

	res := acc.Build()
	require.Equal(t, StopToolUse, res.StopReason)
	require.Equal(t, Usage{InputTokens: 10, OutputTokens: 4, TotalTokens: 14}, res.Usage)
	require.Len(t, res.ToolCalls, 1)
	require.Equal(t, "t1", res.ToolCalls[0].ToolUseID)
	require.JSONEq(t, `{"expr":"2+2"}`, string(res.ToolCalls[0].Input))

	require.Len(t, res.Message.Content, 2)
	text, ok := res.Message.Content[0].(content.TextBlock)
	require.True(t, ok)
	require.Equal(t, "2+2=", text.Text)
	tu, ok := res.Message.Content[1].(content.ToolUseBlock)
	require.True(t, ok)
	require.Equal(t, "calc", tu.Name)
}

func TestAccumulatorUsageMergesByMax(t *testing.T) {
	acc := NewAccumulator()
	acc.Fold(Delta{Type: DeltaUsage, Usage: &Usage{InputTokens: 5}})
	acc.Fold(Delta{Type: DeltaUsage, Usage: &Usage{InputTokens: 3, OutputTokens: 2}})
	acc.Fold(Delta{Type: DeltaUsage, Usage: &Usage{OutputTokens: 7}})

	res := acc.Build()
	require.Equal(t, Usage{InputTokens: 5, OutputTokens: 7}, res.Usage)
}

func TestAccumulatorMessageEndUsageTakesPrecedence(t *testing.T) {
	acc := NewAccumulator()
	acc.Fold(Delta{Type: DeltaUsage, Usage: &Usage{InputTokens: 100, OutputTokens: 100}})
	acc.Fold(Delta{Type: DeltaMessageEnd, StopReason: StopStop, Usage: &Usage{InputTokens: 12, OutputTokens: 3, TotalTokens: 15}})

	res := acc.Build()
	require.Equal(t, Usage{InputTokens: 12, OutputTokens: 3, TotalTokens: 15}, res.Usage)
}

func TestAccumulatorUnparseableToolArgsStoreRawString(t *testing.T) {
	acc := NewAccumulator()
	acc.Fold(Delta{Type: DeltaToolCallStart, ToolCallID: "t1", ToolCallName: "broken"})
	acc.Fold(Delta{Type: DeltaToolCallDelta, ToolCallID: "t1", ToolCallArgDelta: `{not json`})
	acc.Fold(Delta{Type: DeltaToolCallEnd, ToolCallID: "t1"})

	res := acc.Build()
	require.Len(t, res.ToolCalls, 1)
	var s string
	require.NoError(t, json.Unmarshal(res.ToolCalls[0].Input, &s))
	require.Equal(t, "{not json", s)
}

func TestAccumulatorCompleteToolCallReplacesPartial(t *testing.T) {
	acc := NewAccumulator()
	acc.Fold(Delta{Type: DeltaToolCallStart, ToolCallID: "t1", ToolCallName: "partial"})
	acc.Fold(Delta{Type: DeltaToolCallDelta, ToolCallID: "t1", ToolCallArgDelta: `{"a":1`})
	acc.Fold(Delta{Type: DeltaToolCall, ToolCallID: "t1", ToolCallName: "final", ToolCallInput: json.RawMessage(`{"a":1}`)})

	res := acc.Build()
	require.Len(t, res.ToolCalls, 1)
	require.Equal(t, "final", res.ToolCalls[0].Name)
	require.JSONEq(t, `{"a":1}`, string(res.ToolCalls[0].Input))
}

func TestAccumulatorMultipleToolCallsPreserveFirstSeenOrder(t *testing.T) {
	acc := NewAccumulator()
	acc.Fold(Delta{Type: DeltaToolCallStart, ToolCallID: "b", ToolCallName: "second"})
	acc.Fold(Delta{Type: DeltaToolCallStart, ToolCallID: "a", ToolCallName: "first"})
	acc.Fold(Delta{Type: DeltaToolCallEnd, ToolCallID: "b"})
	acc.Fold(Delta{Type: DeltaToolCallEnd, ToolCallID: "a"})

	res := acc.Build()
	require.Len(t, res.ToolCalls, 2)
	require.Equal(t, "second", res.ToolCalls[0].Name)
	require.Equal(t, "first", res.ToolCalls[1].Name)
}

func TestAccumulatorErrorTerminatesWithStoredMessage(t *testing.T) {
	acc := NewAccumulator()
	acc.Fold(Delta{Type: DeltaText, Text: "partial"})
	acc.Fold(Delta{Type: DeltaError, Err: errors.New("upstream boom")})

	require.EqualError(t, acc.Err(), "upstream boom")
	res := acc.Build()
	require.Equal(t, StopError, res.StopReason)
}
