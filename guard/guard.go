// Package guard implements the middleware chain described in spec.md §4.12:
// a guard wraps one named procedure (tool:run, model:generate, ...) and
// either lets the call through or fails it with a structured GuardError,
// following the same Cause-preserving error chain pattern as
// toolerrors.ToolError.
package guard

import (
	"context"
	"fmt"
)

// Envelope carries everything a guard needs to judge a call.
type Envelope struct {
	OperationName string
	Args          any
	Context       context.Context
	Metadata      map[string]any
}

// GuardError is the structured failure a guard raises when it denies a
// call. Cause mirrors toolerrors.ToolError's chain so nested guard
// rejections (a guard wrapping another guarded procedure) keep the full
// causal trail.
type GuardError struct {
	Reason    string
	GuardType string
	Guard     string
	Cause     *GuardError
}

func (e *GuardError) Error() string {
	if e == nil {
		return ""
	}
	if e.Guard != "" {
		return fmt.Sprintf("%s: %s (guard=%s)", e.GuardType, e.Reason, e.Guard)
	}
	return fmt.Sprintf("%s: %s", e.GuardType, e.Reason)
}

func (e *GuardError) Unwrap() error {
	if e == nil || e.Cause == nil {
		return nil
	}
	return e.Cause
}

// NewGuardError builds a GuardError for the named guard.
func NewGuardError(reason, guardType, guard string) *GuardError {
	return &GuardError{Reason: reason, GuardType: guardType, Guard: guard}
}

// Next invokes the next link in the middleware chain (the wrapped
// procedure, or the next guard).
type Next func(ctx context.Context, args any) (any, error)

// Middleware wraps one procedure call.
type Middleware func(ctx context.Context, env Envelope, next Next) (any, error)

// Config configures a guard's failure reporting.
type Config struct {
	// Name identifies this guard in GuardError.Guard.
	Name string
	// Reason computes the denial message for an envelope. Defaults to
	// "Guard check failed".
	Reason func(Envelope) string
}

// CreateGuard builds a Middleware from a boolean/throwing check function,
// per spec.md §4.12:
//   - fn returns true  -> next() runs.
//   - fn returns false -> the middleware raises GuardError(reason, "guard", name).
//   - fn returns a *GuardError -> propagates unchanged (custom subtypes like
//     GuardrailDenied survive intact).
//   - fn returns any other error -> propagates as-is.
func CreateGuard(cfg Config, fn func(Envelope) (bool, error)) Middleware {
	name := cfg.Name
	reasonFn := cfg.Reason
	if reasonFn == nil {
		reasonFn = func(Envelope) string { return "Guard check failed" }
	}
	return func(ctx context.Context, env Envelope, next Next) (any, error) {
		ok, err := fn(env)
		if err != nil {
			var gerr *GuardError
			if ge, isGuard := err.(*GuardError); isGuard {
				gerr = ge
			}
			if gerr != nil {
				return nil, gerr
			}
			return nil, err
		}
		if !ok {
			return nil, NewGuardError(reasonFn(env), "guard", name)
		}
		return next(ctx, env.Args)
	}
}

// Chain composes middlewares around a terminal procedure, outermost first,
// threading operationName/metadata through every layer while letting each
// layer's Args reflect whatever the call site passes in.
func Chain(operationName string, metadata map[string]any, terminal Next, middlewares ...Middleware) Next {
	next := terminal
	for i := len(middlewares) - 1; i >= 0; i-- {
		mw := middlewares[i]
		wrapped := next
		next = func(ctx context.Context, args any) (any, error) {
			env := Envelope{OperationName: operationName, Args: args, Context: ctx, Metadata: metadata}
			return mw(ctx, env, wrapped)
		}
	}
	return next
}
