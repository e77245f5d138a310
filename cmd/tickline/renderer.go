package main

import (
	"github.com/tickline/tickline/content"
	"github.com/tickline/tickline/session"
)

// chatRenderer is the default single-agent renderer this binary boots
// every app with: it echoes the engine's live conversation timeline back
// verbatim plus a fixed system prompt and tool list. Real deployments
// supply their own session.Renderer; this one exists so `tickline serve`
// produces a working chat agent out of the box.
type chatRenderer struct {
	systemPrompt string
	tools        []content.ToolDefinition
	model        string
	maxTokens    int
	temperature  *float32
}

func newChatRenderer(systemPrompt string, tools []content.ToolDefinition, model string, maxTokens int, temperature *float32) *chatRenderer {
	return &chatRenderer{systemPrompt: systemPrompt, tools: tools, model: model, maxTokens: maxTokens, temperature: temperature}
}

func (r *chatRenderer) Render(state session.ComponentState, _ int) (content.RenderedInput, session.ComponentState, error) {
	timeline, _ := state[session.TimelineStateKey].([]content.TimelineEntry)

	var system []content.TimelineEntry
	if r.systemPrompt != "" {
		system = []content.TimelineEntry{{
			Kind: "system",
			Message: content.Message{
				Role:    content.RoleSystem,
				Content: []content.Block{content.TextBlock{Text: r.systemPrompt}},
			},
		}}
	}

	return content.RenderedInput{
		System:   system,
		Timeline: timeline,
		Tools:    r.tools,
		ModelOptions: &content.ModelOptions{
			Model: r.model, MaxTokens: r.maxTokens, Temperature: r.temperature,
		},
	}, state, nil
}
