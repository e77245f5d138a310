package session

import "github.com/tickline/tickline/content"

// Renderer turns the agent definition and current session state into a
// RenderedInput. It is an opaque collaborator: the engine does not interpret
// how rendering happens, only its output shape. Implementations realize the
// declarative component model referenced in spec.md §1/§9 as a pure function
// of (state, lastTick).
type Renderer interface {
	Render(state ComponentState, lastTick int) (content.RenderedInput, ComponentState, error)
}

// RendererFunc adapts a plain function to the Renderer interface.
type RendererFunc func(state ComponentState, lastTick int) (content.RenderedInput, ComponentState, error)

// Render implements Renderer.
func (f RendererFunc) Render(state ComponentState, lastTick int) (content.RenderedInput, ComponentState, error) {
	return f(state, lastTick)
}
