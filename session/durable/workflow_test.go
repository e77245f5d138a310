package durable

import (
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.temporal.io/sdk/testsuite"
)

func TestTickLoopWorkflowRunsUntilTerminal(t *testing.T) {
	ts := testsuite.WorkflowTestSuite{}
	env := ts.NewTestWorkflowEnvironment()

	calls := 0
	env.RegisterActivity((&Activities{}).RunTick)
	env.OnActivity("RunTick", mock.Anything, "sess-1").Return(
		func() (TickResult, error) {
			calls++
			if calls < 3 {
				return TickResult{Terminal: false}, nil
			}
			return TickResult{Terminal: true, StopReason: "stop", OutputText: "done"}, nil
		},
	)

	env.ExecuteWorkflow(TickLoopWorkflow, "sess-1")

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result TickLoopResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.False(t, result.Aborted)
	require.Equal(t, "stop", result.StopReason)
	require.Equal(t, "done", result.OutputText)
	require.Equal(t, 3, calls)
}

func TestTickLoopWorkflowAbortSignal(t *testing.T) {
	ts := testsuite.WorkflowTestSuite{}
	env := ts.NewTestWorkflowEnvironment()

	env.RegisterActivity((&Activities{}).RunTick)
	env.OnActivity("RunTick", mock.Anything, "sess-2").Return(TickResult{Terminal: false}, nil)

	env.RegisterDelayedCallback(func() {
		env.SignalWorkflow(AbortSignalName, nil)
	}, 0)

	env.ExecuteWorkflow(TickLoopWorkflow, "sess-2")

	require.True(t, env.IsWorkflowCompleted())
	require.NoError(t, env.GetWorkflowError())

	var result TickLoopResult
	require.NoError(t, env.GetWorkflowResult(&result))
	require.True(t, result.Aborted)
}
