package durable

import (
	"context"
	"errors"

	"go.temporal.io/api/serviceerror"
	"go.temporal.io/sdk/client"
	"go.temporal.io/sdk/worker"
)

// NewWorker registers TickLoopWorkflow and the Activities bound to registry
// on a new worker.Worker for taskQueue. The caller starts it (w.Run or
// w.Start) and owns its lifecycle.
func NewWorker(c client.Client, taskQueue string, registry *Registry) worker.Worker {
	w := worker.New(c, taskQueue, worker.Options{})
	a := NewActivities(registry)
	w.RegisterWorkflow(TickLoopWorkflow)
	w.RegisterActivity(a.RunTick)
	return w
}

// StartTickLoop kicks off a TickLoopWorkflow execution for sessionID. The
// workflow id is derived from sessionID so a second StartTickLoop call for
// an already-running session attaches to the existing workflow run instead
// of starting a duplicate (Temporal rejects a conflicting start by default).
func StartTickLoop(ctx context.Context, c client.Client, taskQueue, sessionID string) (client.WorkflowRun, error) {
	run, err := c.ExecuteWorkflow(ctx, client.StartWorkflowOptions{
		ID:        "tickline-session-" + sessionID,
		TaskQueue: taskQueue,
	}, TickLoopWorkflow, sessionID)
	var already *serviceerror.WorkflowExecutionAlreadyStarted
	if errors.As(err, &already) {
		return c.GetWorkflow(ctx, "tickline-session-"+sessionID, ""), nil
	}
	return run, err
}

// AbortTickLoop signals a running tick-loop workflow to stop.
func AbortTickLoop(ctx context.Context, c client.Client, sessionID string) error {
	return c.SignalWorkflow(ctx, "tickline-session-"+sessionID, "", AbortSignalName, nil)
}
