package content

import "encoding/json"

type (
	// ToolDefinition describes a tool exposed to the model for one render. Names
	// are unique within a session render.
	ToolDefinition struct {
		Name                 string
		Description          string
		Input                json.RawMessage
		Output               json.RawMessage
		RequiresConfirmation bool
		ProviderOptions      map[string]any
	}

	// ModelOptions carries model-selection and sampling knobs produced by a
	// render. Fields are optional; adapters apply their own defaults when a
	// field is zero-valued.
	ModelOptions struct {
		Model       string
		Temperature *float32
		MaxTokens   int
	}

	// TimelineEntry wraps a Message with rendering metadata. Kind distinguishes
	// ordinary conversational messages from renderer-specific entries (e.g.
	// section markers); Tags carry arbitrary renderer annotations.
	TimelineEntry struct {
		Kind    string
		Message Message
		Tags    []string
	}

	// RenderedInput is the opaque output of the renderer: the component model
	// that turns an agent definition and session state into a model-ready
	// input. The core never inspects how it is produced.
	RenderedInput struct {
		Timeline     []TimelineEntry
		System       []TimelineEntry
		Tools        []ToolDefinition
		ModelOptions *ModelOptions
		Sections     map[string]string
		Ephemeral    []Block
	}
)
