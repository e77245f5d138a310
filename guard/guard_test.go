package guard_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tickline/tickline/guard"
)

func TestCreateGuardAllows(t *testing.T) {
	g := guard.CreateGuard(guard.Config{Name: "always-allow"}, func(guard.Envelope) (bool, error) {
		return true, nil
	})
	result, err := g(context.Background(), guard.Envelope{Args: 42}, func(ctx context.Context, args any) (any, error) {
		return args, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, result)
}

func TestCreateGuardDeniesWithConfiguredReason(t *testing.T) {
	g := guard.CreateGuard(guard.Config{
		Name:   "deny-all",
		Reason: func(guard.Envelope) string { return "nope" },
	}, func(guard.Envelope) (bool, error) {
		return false, nil
	})
	_, err := g(context.Background(), guard.Envelope{}, func(ctx context.Context, args any) (any, error) {
		t.Fatal("next should not run")
		return nil, nil
	})
	require.Error(t, err)
	var gerr *guard.GuardError
	require.ErrorAs(t, err, &gerr)
	require.Equal(t, "nope", gerr.Reason)
}

func TestCreateGuardPropagatesOtherErrors(t *testing.T) {
	sentinel := errors.New("boom")
	g := guard.CreateGuard(guard.Config{Name: "x"}, func(guard.Envelope) (bool, error) {
		return false, sentinel
	})
	_, err := g(context.Background(), guard.Envelope{}, func(ctx context.Context, args any) (any, error) {
		return nil, nil
	})
	require.ErrorIs(t, err, sentinel)
}

func TestToolGuardrailFirstMatchWins(t *testing.T) {
	tg := &guard.ToolGuardrail{
		Rules: []guard.Rule{
			{Patterns: []string{"fs:*"}, Action: guard.ActionDeny, Reason: "filesystem tools are disabled"},
			{Patterns: []string{"*"}, Action: guard.ActionAllow},
		},
	}
	mw := tg.Middleware()

	_, err := mw(context.Background(), guard.Envelope{Args: guard.ToolCall{Name: "fs:write"}}, func(ctx context.Context, args any) (any, error) {
		t.Fatal("next should not run for denied tool")
		return nil, nil
	})
	require.Error(t, err)
	var denied *guard.GuardrailDenied
	require.ErrorAs(t, err, &denied)
	require.Equal(t, "fs:write", denied.ToolName)

	result, err := mw(context.Background(), guard.Envelope{Args: guard.ToolCall{Name: "web:search"}}, func(ctx context.Context, args any) (any, error) {
		return "ran", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ran", result)
}

func TestToolGuardrailFallsBackToClassify(t *testing.T) {
	tg := &guard.ToolGuardrail{
		Classify: func(call guard.ToolCall, env guard.Envelope) (*guard.Classification, error) {
			if call.Name == "danger:explode" {
				return &guard.Classification{Action: guard.ActionDeny, Reason: "classified as dangerous"}, nil
			}
			return nil, nil
		},
	}
	mw := tg.Middleware()

	_, err := mw(context.Background(), guard.Envelope{Args: guard.ToolCall{Name: "danger:explode"}}, func(ctx context.Context, args any) (any, error) {
		t.Fatal("next should not run")
		return nil, nil
	})
	require.Error(t, err)

	result, err := mw(context.Background(), guard.Envelope{Args: guard.ToolCall{Name: "safe:noop"}}, func(ctx context.Context, args any) (any, error) {
		return "ok", nil
	})
	require.NoError(t, err)
	require.Equal(t, "ok", result)
}
