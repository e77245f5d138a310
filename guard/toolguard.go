package guard

import (
	"context"
	"path"
)

// RuleAction is the outcome a ToolGuardrail rule applies when its pattern
// matches.
type RuleAction string

const (
	ActionAllow RuleAction = "allow"
	ActionDeny  RuleAction = "deny"
)

// Rule is one first-match-wins entry in a ToolGuardrail's rule list.
// Patterns use shell glob syntax (stdlib path.Match's "*" wildcard).
type Rule struct {
	Patterns []string
	Action   RuleAction
	Reason   string
}

// ToolCall is the tool invocation a ToolGuardrail judges.
type ToolCall struct {
	Name  string
	Input any
}

// Classification is the result of a ToolGuardrail's fallback classify hook.
type Classification struct {
	Action RuleAction
	Reason string
}

// GuardrailDenied extends GuardError with the GUARD_DENIED code, raised when
// a ToolGuardrail rule or its classify hook denies a tool call.
type GuardrailDenied struct {
	*GuardError
	ToolName string
}

const GuardDeniedCode = "GUARD_DENIED"

// NewGuardrailDenied builds a GuardrailDenied for toolName.
func NewGuardrailDenied(toolName, reason string) *GuardrailDenied {
	return &GuardrailDenied{
		GuardError: &GuardError{Reason: reason, GuardType: GuardDeniedCode, Guard: "tool-guardrail"},
		ToolName:   toolName,
	}
}

// ToolGuardrail evaluates rules first-match-wins against a tool name; if no
// rule matches, Classify (when set) runs as a fallback.
type ToolGuardrail struct {
	Name     string
	Rules    []Rule
	Classify func(call ToolCall, env Envelope) (*Classification, error)
}

// Middleware wraps the tool:run procedure with this guardrail's allow/deny
// logic, per spec.md §4.12: rules evaluated first-match-wins by glob
// pattern, classify running only when no rule matches.
func (g *ToolGuardrail) Middleware() Middleware {
	return func(ctx context.Context, env Envelope, next Next) (any, error) {
		call, ok := env.Args.(ToolCall)
		if !ok {
			return next(ctx, env.Args)
		}

		for _, rule := range g.Rules {
			if !matchesAny(rule.Patterns, call.Name) {
				continue
			}
			if rule.Action == ActionDeny {
				return nil, NewGuardrailDenied(call.Name, denyReason(rule.Reason))
			}
			return next(ctx, env.Args)
		}

		if g.Classify != nil {
			result, err := g.Classify(call, env)
			if err != nil {
				return nil, err
			}
			if result != nil && result.Action == ActionDeny {
				return nil, NewGuardrailDenied(call.Name, denyReason(result.Reason))
			}
		}

		return next(ctx, env.Args)
	}
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

func denyReason(reason string) string {
	if reason == "" {
		return "tool call denied by guardrail"
	}
	return reason
}
