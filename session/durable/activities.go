package durable

import (
	"context"
)

// TickResult is the serializable outcome of one Engine.RunTick call, carried
// back from the activity to the workflow across Temporal's history boundary.
type TickResult struct {
	Terminal   bool
	StopReason string
	OutputText string
}

// Activities bundles the Temporal activities this package registers. It
// holds the Registry rather than a single Engine because one worker process
// can host the tick-loop workflow for many concurrent sessions.
type Activities struct {
	registry *Registry
}

// NewActivities builds an Activities bound to registry.
func NewActivities(registry *Registry) *Activities {
	return &Activities{registry: registry}
}

// RunTick looks up the Engine for sessionID and drives exactly one
// scheduling tick. Activities retry on transient failure under Temporal's
// default retry policy, so this must be safe to call again after a partial
// failure — Engine.RunTick already is, since its internal state transitions
// happen under the Engine's own mutex, not here.
func (a *Activities) RunTick(ctx context.Context, sessionID string) (TickResult, error) {
	e, err := a.registry.Get(sessionID)
	if err != nil {
		return TickResult{}, err
	}

	res, terminal, err := e.RunTick(ctx)
	if err != nil {
		return TickResult{}, err
	}

	return TickResult{
		Terminal:   terminal,
		StopReason: string(res.StopReason),
		OutputText: res.Output.Text(),
	}, nil
}
