package bedrock

import (
	"context"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"

	"github.com/tickline/tickline/adapter"
)

// toolBuf tracks the id/name of a tool_use content block between its
// content-block-start and content-block-stop events, since
// ContentBlockDeltaEvent/ContentBlockStopEvent carry only a block index.
type toolBuf struct {
	id   string
	name string
}

// streamChunk carries one raw Converse stream event plus any tool id/name
// resolved for it by chunkStream.Recv.
type streamChunk struct {
	event    types.ConverseStreamOutput
	toolID   string
	toolName string
}

// chunkStream adapts the Bedrock ConverseStream event reader to
// adapter.ChunkStream.
type chunkStream struct {
	events     *bedrockruntime.ConverseStreamEventStream
	toolBlocks map[int32]*toolBuf
}

func (s *chunkStream) Recv(ctx context.Context) (adapter.ProviderChunk, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case ev, ok := <-s.events.Events():
		if !ok {
			if err := s.events.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		chunk := streamChunk{event: ev}
		switch e := ev.(type) {
		case *types.ConverseStreamOutputMemberContentBlockStart:
			if tu, ok := e.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
				s.toolBlocks[e.Value.ContentBlockIndex] = &toolBuf{
					id: aws.ToString(tu.Value.ToolUseId), name: aws.ToString(tu.Value.Name),
				}
			}
		case *types.ConverseStreamOutputMemberContentBlockDelta:
			if tb, ok := s.toolBlocks[aws.ToInt32(e.Value.ContentBlockIndex)]; ok {
				chunk.toolID, chunk.toolName = tb.id, tb.name
			}
		case *types.ConverseStreamOutputMemberContentBlockStop:
			if tb, ok := s.toolBlocks[aws.ToInt32(e.Value.ContentBlockIndex)]; ok {
				chunk.toolID, chunk.toolName = tb.id, tb.name
				delete(s.toolBlocks, aws.ToInt32(e.Value.ContentBlockIndex))
			}
		}
		return chunk, nil
	}
}

func (s *chunkStream) Close() error { return s.events.Close() }

// MapChunk translates one Converse stream event into the provider-independent
// Delta contract.
func (c *Client) MapChunk(raw adapter.ProviderChunk) (adapter.Delta, bool) {
	sc, ok := raw.(streamChunk)
	if !ok {
		return adapter.Delta{}, false
	}
	switch e := sc.event.(type) {
	case *types.ConverseStreamOutputMemberMessageStart:
		return adapter.Delta{Type: adapter.DeltaMessageStart}, true

	case *types.ConverseStreamOutputMemberContentBlockStart:
		if _, ok := e.Value.Start.(*types.ContentBlockStartMemberToolUse); ok {
			return adapter.Delta{Type: adapter.DeltaToolCallStart, ToolCallID: sc.toolID, ToolCallName: sc.toolName}, true
		}
		return adapter.Delta{}, false

	case *types.ConverseStreamOutputMemberContentBlockDelta:
		switch d := e.Value.Delta.(type) {
		case *types.ContentBlockDeltaMemberText:
			if d.Value == "" {
				return adapter.Delta{}, false
			}
			return adapter.Delta{Type: adapter.DeltaText, Text: d.Value}, true
		case *types.ContentBlockDeltaMemberToolUse:
			if d.Value.Input == nil || *d.Value.Input == "" || sc.toolID == "" {
				return adapter.Delta{}, false
			}
			return adapter.Delta{
				Type: adapter.DeltaToolCallDelta, ToolCallID: sc.toolID, ToolCallName: sc.toolName,
				ToolCallArgDelta: *d.Value.Input,
			}, true
		case *types.ContentBlockDeltaMemberReasoningContent:
			return adapter.Delta{}, false
		default:
			return adapter.Delta{}, false
		}

	case *types.ConverseStreamOutputMemberContentBlockStop:
		if sc.toolID != "" {
			return adapter.Delta{Type: adapter.DeltaToolCallEnd, ToolCallID: sc.toolID, ToolCallName: sc.toolName}, true
		}
		return adapter.Delta{}, false

	case *types.ConverseStreamOutputMemberMetadata:
		if e.Value.Usage == nil {
			return adapter.Delta{}, false
		}
		u := adapter.Usage{
			InputTokens:  int(aws.ToInt32(e.Value.Usage.InputTokens)),
			OutputTokens: int(aws.ToInt32(e.Value.Usage.OutputTokens)),
			TotalTokens:  int(aws.ToInt32(e.Value.Usage.TotalTokens)),
		}
		return adapter.Delta{Type: adapter.DeltaUsage, Usage: &u}, true

	case *types.ConverseStreamOutputMemberMessageStop:
		return adapter.Delta{Type: adapter.DeltaMessageEnd, StopReason: mapStopReason(e.Value.StopReason)}, true

	default:
		return adapter.Delta{}, false
	}
}
