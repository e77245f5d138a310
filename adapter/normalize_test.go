package adapter

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tickline/tickline/content"
)

func TestExtractSystemPromptJoinsConsecutiveLeadingSystemMessages(t *testing.T) {
	msgs := []content.Message{
		{Role: content.RoleSystem, Content: []content.Block{content.TextBlock{Text: "be terse"}}},
		{Role: content.RoleSystem, Content: []content.Block{content.TextBlock{Text: "use tools sparingly"}}},
		{Role: content.RoleUser, Content: []content.Block{content.TextBlock{Text: "hi"}}},
	}
	system, rest := ExtractSystemPrompt(msgs)
	require.Equal(t, "be terse\n\nuse tools sparingly", system)
	require.Len(t, rest, 1)
	require.Equal(t, content.RoleUser, rest[0].Role)
}

func TestExtractSystemPromptNoLeadingSystem(t *testing.T) {
	msgs := []content.Message{{Role: content.RoleUser}}
	system, rest := ExtractSystemPrompt(msgs)
	require.Empty(t, system)
	require.Len(t, rest, 1)
}

func TestDataURLRoundTrip(t *testing.T) {
	b64 := EncodeBase64([]byte("hello"))
	url := DataURLFor(b64, "image/png")
	mediaType, payload, ok := DecodeDataURL(url)
	require.True(t, ok)
	require.Equal(t, "image/png", mediaType)
	decoded, err := DecodeBase64(payload)
	require.NoError(t, err)
	require.Equal(t, "hello", string(decoded))
}

func TestNormalizeUsageSynonyms(t *testing.T) {
	u := NormalizeUsage(map[string]int{"promptTokens": 5, "completion_tokens": 2})
	require.Equal(t, Usage{InputTokens: 5, OutputTokens: 2, TotalTokens: 7}, u)
}

func TestMapStopReasonUnknownFallsBackToOther(t *testing.T) {
	table := map[string]StopReason{"end_turn": StopStop}
	require.Equal(t, StopStop, MapStopReason("end_turn", table))
	require.Equal(t, StopOther, MapStopReason("weird", table))
}
