package pipeline

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tickline/tickline/content"
)

func TestTextOnlyPolicyDropsNonTextBlocks(t *testing.T) {
	p := NewTextOnlyPolicy()
	msg := content.Message{
		Role: content.RoleAssistant,
		Content: []content.Block{
			content.TextBlock{Text: "hello"},
			content.ToolUseBlock{ToolUseID: "t1", Name: "search"},
		},
	}
	out, keep := p.Apply(msg)
	require.True(t, keep)
	require.Len(t, out.Content, 1)
	require.Equal(t, content.TextBlock{Text: "hello"}, out.Content[0])
}

func TestTextOnlyPolicyDropsMessageWithNoText(t *testing.T) {
	p := NewTextOnlyPolicy()
	msg := content.Message{Content: []content.Block{content.ToolUseBlock{Name: "search"}}}
	_, keep := p.Apply(msg)
	require.False(t, keep)
}

func TestSummarizedPolicyPairsToolUseAndResult(t *testing.T) {
	p := NewSummarizedPolicy(nil)
	msg := content.Message{
		Content: []content.Block{
			content.TextBlock{Text: "let me check"},
			content.ToolUseBlock{ToolUseID: "t1", Name: "search"},
			content.ToolResultBlock{ToolUseID: "t1", Name: "search"},
		},
	}
	out, keep := p.Apply(msg)
	require.True(t, keep)
	require.Len(t, out.Content, 2)
	require.Equal(t, content.TextBlock{Text: "let me check"}, out.Content[0])
	require.Equal(t, content.TextBlock{Text: "tool search completed"}, out.Content[1])
}

func TestSummarizedPolicyMarksErrors(t *testing.T) {
	p := NewSummarizedPolicy(nil)
	msg := content.Message{
		Content: []content.Block{
			content.ToolUseBlock{ToolUseID: "t1", Name: "search"},
			content.ToolResultBlock{ToolUseID: "t1", Name: "search", IsError: true},
		},
	}
	out, keep := p.Apply(msg)
	require.True(t, keep)
	require.Equal(t, content.TextBlock{Text: "tool search failed"}, out.Content[0])
}

func TestCustomPolicyDelegatesToFilter(t *testing.T) {
	p := NewCustomPolicy(func(m content.Message) (content.Message, bool) {
		return m, m.Role == content.RoleAssistant
	})
	keep := func(role content.Role) bool {
		_, ok := p.Apply(content.Message{Role: role})
		return ok
	}
	require.True(t, keep(content.RoleAssistant))
	require.False(t, keep(content.RoleUser))
}
