package adapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/tickline/tickline/content"
)

type (
	// Capability names a provider feature an adapter supports.
	Capability string

	// Metadata describes a concrete adapter implementation.
	Metadata struct {
		ID           string
		Provider     string
		Model        string
		Type         AdapterType
		Capabilities []Capability
	}

	// AdapterType distinguishes language model adapters from embedding
	// adapters.
	AdapterType string

	// ModelInput is the normalized request built by the session engine from a
	// RenderedInput: system-first messages, tool definitions, and model
	// options.
	ModelInput struct {
		RunID        string
		Messages     []content.Message
		Tools        []content.ToolDefinition
		ModelOptions *content.ModelOptions
	}

	// ModelOutput is the result of a non-streaming invocation.
	ModelOutput struct {
		Message    content.Message
		Usage      Usage
		StopReason StopReason
	}

	// ProviderChunk is an opaque provider-specific streaming unit. Concrete
	// adapters define their own underlying type (e.g. an SSE event struct);
	// the engine only ever holds it long enough to call MapChunk.
	ProviderChunk any

	// ProviderRequest and ProviderResponse are opaque provider-specific
	// request/response values produced by PrepareInput and consumed by
	// Execute/ProcessOutput.
	ProviderRequest  any
	ProviderResponse any

	// ChunkStream delivers provider-specific streaming chunks. Implementations
	// wrap a provider SDK's SSE/stream reader.
	ChunkStream interface {
		Recv(ctx context.Context) (ProviderChunk, error)
		Close() error
	}

	// ModelAdapter is the contract the session engine depends on to call a
	// model provider without knowing its wire format.
	ModelAdapter interface {
		// PrepareInput translates a normalized ModelInput into a
		// provider-specific request.
		PrepareInput(ctx context.Context, in ModelInput) (ProviderRequest, error)

		// Execute performs a non-streaming invocation.
		Execute(ctx context.Context, req ProviderRequest) (ProviderResponse, error)

		// ExecuteStream performs a streaming invocation when supported.
		ExecuteStream(ctx context.Context, req ProviderRequest) (ChunkStream, error)

		// MapChunk translates one provider-specific chunk into the
		// provider-independent Delta contract. ok=false (with a zero Delta)
		// means the chunk carries no observable event (e.g. a provider
		// heartbeat).
		MapChunk(chunk ProviderChunk) (delta Delta, ok bool)

		// ProcessOutput translates a non-streaming ProviderResponse into a
		// ModelOutput.
		ProcessOutput(resp ProviderResponse) (ModelOutput, error)

		// ReconstructRaw rebuilds a provider-shaped response from accumulated
		// streaming state, for adapters that need to round-trip the
		// accumulator idempotence property (§8 invariant 10). Optional:
		// adapters that cannot reconstruct return ErrReconstructUnsupported.
		ReconstructRaw(acc Result) (ProviderResponse, error)

		// Metadata describes this adapter instance.
		Metadata() Metadata
	}
)

const (
	AdapterTypeLanguage  AdapterType = "language"
	AdapterTypeEmbedding AdapterType = "embedding"
)

// ErrReconstructUnsupported is returned by ReconstructRaw when an adapter
// cannot rebuild a provider response from accumulated state.
var ErrReconstructUnsupported = fmt.Errorf("adapter: raw reconstruction unsupported")

// Error is a structured provider failure. The session engine converts it to
// an execution_end{stopReason=ERROR} plus an error stream event.
type Error struct {
	Adapter string
	Kind    ErrorKind
	Message string
	Cause   error
}

// ErrorKind classifies an adapter failure for retry/backoff decisions.
type ErrorKind string

const (
	ErrorKindRateLimited   ErrorKind = "rate_limited"
	ErrorKindAuth          ErrorKind = "auth"
	ErrorKindInvalidInput  ErrorKind = "invalid_input"
	ErrorKindUpstream      ErrorKind = "upstream"
	ErrorKindUnsupported   ErrorKind = "unsupported"
	ErrorKindTransport     ErrorKind = "transport"
)

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "adapter %s: %s", e.Adapter, e.Message)
	if e.Cause != nil {
		fmt.Fprintf(&b, ": %v", e.Cause)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError constructs an Error with the given adapter id, kind, message, and
// optional cause.
func NewError(adapterID string, kind ErrorKind, message string, cause error) *Error {
	return &Error{Adapter: adapterID, Kind: kind, Message: message, Cause: cause}
}
