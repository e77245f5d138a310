package openai

import (
	"context"
	"io"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/tickline/tickline/adapter"
)

// streamOf is the concrete stream type returned by the Chat Completions
// streaming endpoint; ChatClient.NewStreaming returns one directly rather
// than wrapping it, since *ssestream.Stream already exposes Next/Current/Err.
type streamOf = ssestream.Stream[oai.ChatCompletionChunk]

// toolBuf tracks the id/name of a tool call between the chunk that first
// introduces it and the chunks that carry its incremental argument JSON,
// since OpenAI only repeats the id/name on the first delta for that index.
type toolBuf struct {
	id   string
	name string
}

// streamChunk carries one raw chat-completion chunk plus the tool id/name
// resolved for its delta by chunkStream.Recv.
type streamChunk struct {
	chunk      oai.ChatCompletionChunk
	toolID     string
	toolName   string
	finishSeen bool
}

// chunkStream adapts *ssestream.Stream[oai.ChatCompletionChunk] to
// adapter.ChunkStream.
type chunkStream struct {
	stream    *streamOf
	toolIndex map[int64]*toolBuf
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
	chunk := s.stream.Current()
	out := streamChunk{chunk: chunk}

	if len(chunk.Choices) == 0 {
		return out, nil
	}
	choice := chunk.Choices[0]
	for _, tc := range choice.Delta.ToolCalls {
		tb, ok := s.toolIndex[tc.Index]
		if !ok {
			tb = &toolBuf{}
			s.toolIndex[tc.Index] = tb
		}
		if tc.ID != "" {
			tb.id = tc.ID
		}
		if tc.Function.Name != "" {
			tb.name = tc.Function.Name
		}
		out.toolID, out.toolName = tb.id, tb.name
	}
	if choice.FinishReason != "" {
		out.finishSeen = true
	}
	return out, nil
}

func (s *chunkStream) Close() error { return s.stream.Close() }

// MapChunk translates one chat-completion chunk into the provider-independent
// Delta contract.
func (c *Client) MapChunk(raw adapter.ProviderChunk) (adapter.Delta, bool) {
	sc, ok := raw.(streamChunk)
	if !ok {
		return adapter.Delta{}, false
	}
	if len(sc.chunk.Choices) == 0 {
		if sc.chunk.Usage.TotalTokens > 0 {
			u := adapter.Usage{
				InputTokens:  int(sc.chunk.Usage.PromptTokens),
				OutputTokens: int(sc.chunk.Usage.CompletionTokens),
				TotalTokens:  int(sc.chunk.Usage.TotalTokens),
			}
			return adapter.Delta{Type: adapter.DeltaUsage, Usage: &u}, true
		}
		return adapter.Delta{}, false
	}

	choice := sc.chunk.Choices[0]
	switch {
	case len(choice.Delta.ToolCalls) > 0:
		tc := choice.Delta.ToolCalls[0]
		if tc.Function.Arguments != "" {
			return adapter.Delta{
				Type: adapter.DeltaToolCallDelta, ToolCallID: sc.toolID, ToolCallName: sc.toolName,
				ToolCallArgDelta: tc.Function.Arguments,
			}, true
		}
		return adapter.Delta{Type: adapter.DeltaToolCallStart, ToolCallID: sc.toolID, ToolCallName: sc.toolName}, true

	case choice.Delta.Content != "":
		return adapter.Delta{Type: adapter.DeltaText, Text: choice.Delta.Content}, true

	case choice.FinishReason != "":
		return adapter.Delta{Type: adapter.DeltaMessageEnd, StopReason: mapFinishReason(string(choice.FinishReason))}, true

	default:
		return adapter.Delta{}, false
	}
}
