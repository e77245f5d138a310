package durable

import (
	"time"

	"go.temporal.io/sdk/temporal"
	"go.temporal.io/sdk/workflow"
)

// AbortSignalName is the signal a caller sends to interrupt a running
// tick-loop workflow from outside, generalizing the teacher's
// WorkflowContext signal-channel pattern from "workflow control" to
// "session abort."
const AbortSignalName = "tickline.abort"

// TickLoopResult is the workflow's return value once the loop reaches a
// terminal tick or is aborted.
type TickLoopResult struct {
	Aborted    bool
	StopReason string
	OutputText string
}

// TickLoopWorkflow drives Engine.RunTick, registered as an activity, until
// one tick reports terminal or an AbortSignalName signal arrives. It is the
// workflow-history-replayed counterpart to Engine.runLoop's for-loop: the
// activity options' retry policy takes over the job runLoop's bare err
// check did in-process.
func TickLoopWorkflow(ctx workflow.Context, sessionID string) (TickLoopResult, error) {
	ao := workflow.ActivityOptions{
		StartToCloseTimeout: 2 * time.Minute,
		RetryPolicy: &temporal.RetryPolicy{
			InitialInterval:    time.Second,
			BackoffCoefficient: 2.0,
			MaximumInterval:    30 * time.Second,
			MaximumAttempts:    5,
		},
	}
	ctx = workflow.WithActivityOptions(ctx, ao)

	abortCh := workflow.GetSignalChannel(ctx, AbortSignalName)
	var a *Activities // nil receiver used only as a typed handle to name the registered activity

	for {
		var aborted bool
		selector := workflow.NewSelector(ctx)
		var result TickResult
		var activityErr error
		future := workflow.ExecuteActivity(ctx, a.RunTick, sessionID)
		selector.AddFuture(future, func(f workflow.Future) {
			activityErr = f.Get(ctx, &result)
		})
		selector.AddReceive(abortCh, func(c workflow.ReceiveChannel, more bool) {
			c.Receive(ctx, nil)
			aborted = true
		})
		selector.Select(ctx)

		if aborted {
			return TickLoopResult{Aborted: true}, nil
		}
		if activityErr != nil {
			return TickLoopResult{}, activityErr
		}
		if result.Terminal {
			return TickLoopResult{StopReason: result.StopReason, OutputText: result.OutputText}, nil
		}
	}
}
