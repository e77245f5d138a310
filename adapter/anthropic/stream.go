package anthropic

import (
	"context"
	"io"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/tickline/tickline/adapter"
)

// toolBuf tracks the id/name of a tool_use content block between its
// content_block_start and content_block_stop events, since
// content_block_delta/_stop events carry only a block index.
type toolBuf struct {
	id   string
	name string
}

// streamChunk carries one raw Anthropic SSE event plus any tool id/name
// resolved for it by chunkStream.Recv, since MapChunk sees one event in
// isolation and cannot track cross-event index state itself.
type streamChunk struct {
	event      sdk.MessageStreamEventUnion
	toolID     string
	toolName   string
	stopReason string
}

// chunkStream adapts *ssestream.Stream[sdk.MessageStreamEventUnion] to
// adapter.ChunkStream, resolving each content block's tool id/name as blocks
// open and close.
type chunkStream struct {
	stream     *ssestream.Stream[sdk.MessageStreamEventUnion]
	toolBlocks map[int]*toolBuf
	stopReason string
}

func (s *chunkStream) Recv(ctx context.Context) (adapter.ProviderChunk, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	if !s.stream.Next() {
		if err := s.stream.Err(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	evt := s.stream.Current()
	chunk := streamChunk{event: evt}

	switch ev := evt.AsAny().(type) {
	case sdk.ContentBlockStartEvent:
		if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			s.toolBlocks[int(ev.Index)] = &toolBuf{id: tu.ID, name: tu.Name}
		}
	case sdk.ContentBlockDeltaEvent:
		if tb, ok := s.toolBlocks[int(ev.Index)]; ok {
			chunk.toolID, chunk.toolName = tb.id, tb.name
		}
	case sdk.ContentBlockStopEvent:
		if tb, ok := s.toolBlocks[int(ev.Index)]; ok {
			chunk.toolID, chunk.toolName = tb.id, tb.name
			delete(s.toolBlocks, int(ev.Index))
		}
	case sdk.MessageDeltaEvent:
		s.stopReason = string(ev.Delta.StopReason)
	case sdk.MessageStopEvent:
		chunk.stopReason = s.stopReason
	}
	return chunk, nil
}

func (s *chunkStream) Close() error { return s.stream.Close() }

// MapChunk translates one Anthropic SSE event into the provider-independent
// Delta contract.
func (c *Client) MapChunk(raw adapter.ProviderChunk) (adapter.Delta, bool) {
	sc, ok := raw.(streamChunk)
	if !ok {
		return adapter.Delta{}, false
	}
	switch ev := sc.event.AsAny().(type) {
	case sdk.MessageStartEvent:
		return adapter.Delta{Type: adapter.DeltaMessageStart}, true

	case sdk.ContentBlockStartEvent:
		if tu, ok := ev.ContentBlock.AsAny().(sdk.ToolUseBlock); ok {
			return adapter.Delta{Type: adapter.DeltaToolCallStart, ToolCallID: tu.ID, ToolCallName: tu.Name}, true
		}
		return adapter.Delta{}, false

	case sdk.ContentBlockDeltaEvent:
		switch d := ev.Delta.AsAny().(type) {
		case sdk.TextDelta:
			if d.Text == "" {
				return adapter.Delta{}, false
			}
			return adapter.Delta{Type: adapter.DeltaText, Text: d.Text}, true
		case sdk.InputJSONDelta:
			if d.PartialJSON == "" || sc.toolID == "" {
				return adapter.Delta{}, false
			}
			return adapter.Delta{
				Type: adapter.DeltaToolCallDelta, ToolCallID: sc.toolID, ToolCallName: sc.toolName,
				ToolCallArgDelta: d.PartialJSON,
			}, true
		case sdk.ThinkingDelta:
			if d.Thinking == "" {
				return adapter.Delta{}, false
			}
			return adapter.Delta{Type: adapter.DeltaReasoning, Text: d.Thinking}, true
		default:
			return adapter.Delta{}, false
		}

	case sdk.ContentBlockStopEvent:
		if sc.toolID != "" {
			return adapter.Delta{Type: adapter.DeltaToolCallEnd, ToolCallID: sc.toolID, ToolCallName: sc.toolName}, true
		}
		return adapter.Delta{}, false

	case sdk.MessageDeltaEvent:
		u := adapter.Usage{
			InputTokens:  int(ev.Usage.InputTokens),
			OutputTokens: int(ev.Usage.OutputTokens),
			TotalTokens:  int(ev.Usage.InputTokens + ev.Usage.OutputTokens),
		}
		return adapter.Delta{Type: adapter.DeltaUsage, Usage: &u}, true

	case sdk.MessageStopEvent:
		return adapter.Delta{Type: adapter.DeltaMessageEnd, StopReason: mapStopReason(sc.stopReason)}, true

	default:
		return adapter.Delta{}, false
	}
}
