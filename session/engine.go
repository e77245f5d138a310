package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tickline/tickline/adapter"
	"github.com/tickline/tickline/content"
	"github.com/tickline/tickline/event"
	"github.com/tickline/tickline/telemetry"
	"github.com/tickline/tickline/tool"
)

// SteerMode controls how Send behaves when the session is already running.
type SteerMode string

const (
	// ModeSteer makes the message available at the next tick boundary of the
	// in-flight execution (no abort).
	ModeSteer SteerMode = "steer"
	// ModeQueue defers the message until the in-flight execution reaches
	// execution_end, then starts a new execution.
	ModeQueue SteerMode = "queue"
)

// DefaultFanout is the default number of tool calls the engine executes
// concurrently within one tick.
const DefaultFanout = 8

type pendingMessage struct {
	msg  content.Message
	mode SteerMode
}

// SendResult is the terminal outcome of one execution.
type SendResult struct {
	StopReason adapter.StopReason
	Output     content.Message
	Usage      adapter.Usage
}

// ExecutionHandle represents one live async run of a session.
type ExecutionHandle struct {
	SessionID   string
	ExecutionID string
	TraceID     string

	events *event.Buffer
	result chan SendResult
	err    chan error
}

// Events returns the session's event buffer. Because one Engine serializes
// its executions, the buffer's history for the window between
// execution_start and this handle's execution_end is exactly this
// execution's events.
func (h *ExecutionHandle) Events() *event.Buffer { return h.events }

// Wait blocks until the execution completes (or ctx is canceled) and returns
// its terminal result.
func (h *ExecutionHandle) Wait(ctx context.Context) (SendResult, error) {
	select {
	case r := <-h.result:
		return r, nil
	case err := <-h.err:
		return SendResult{}, err
	case <-ctx.Done():
		return SendResult{}, ctx.Err()
	}
}

// Engine schedules ticks for exactly one session: render, call the model,
// execute tools, loop until the model yields. Engine is single-threaded
// cooperative per spec.md §5: every state mutation happens while holding mu,
// and at most one tick is ever executing at a time.
type Engine struct {
	mu sync.Mutex

	id       string
	status   Status
	tick     int
	timeline []content.TimelineEntry
	queue    []pendingMessage
	usage    adapter.Usage
	state    ComponentState

	renderer    Renderer
	modelAdapter adapter.ModelAdapter
	tools       map[string]tool.Tool
	schemaCache *tool.SchemaCache
	fanout      int

	bus       *event.Buffer
	telemetry *telemetry.Recorder

	pendingConfirm map[string]chan tool.ConfirmResponse

	currentCancel context.CancelFunc
	executing     bool

	hibernated bool
}

// Config configures a new Engine.
type Config struct {
	SessionID    string
	Renderer     Renderer
	Adapter      adapter.ModelAdapter
	Tools        []tool.Tool
	SchemaCache  *tool.SchemaCache
	Fanout       int
	// Telemetry receives tick/tool observability. Defaults to telemetry.Noop().
	Telemetry    *telemetry.Recorder
	EventBuffer  *event.Buffer
}

// New constructs an idle Engine at tick 0 with an empty timeline.
func New(cfg Config) *Engine {
	fanout := cfg.Fanout
	if fanout <= 0 {
		fanout = DefaultFanout
	}
	toolMap := make(map[string]tool.Tool, len(cfg.Tools))
	for _, t := range cfg.Tools {
		toolMap[t.Metadata().Name] = t
	}
	buf := cfg.EventBuffer
	if buf == nil {
		buf = event.New(event.WithLogger(slog.Default()))
	}
	rec := cfg.Telemetry
	if rec == nil {
		rec = telemetry.Noop()
	}
	schemaCache := cfg.SchemaCache
	if schemaCache == nil {
		schemaCache = tool.NewSchemaCache()
	}
	return &Engine{
		id:             cfg.SessionID,
		status:         StatusIdle,
		state:          ComponentState{},
		renderer:       cfg.Renderer,
		modelAdapter:   cfg.Adapter,
		tools:          toolMap,
		schemaCache:    schemaCache,
		fanout:         fanout,
		bus:            buf,
		telemetry:      rec,
		pendingConfirm: make(map[string]chan tool.ConfirmResponse),
	}
}

// ID returns the session identifier.
func (e *Engine) ID() string { return e.id }

// Events returns the session's shared event bus.
func (e *Engine) Events() *event.Buffer { return e.bus }

// Snapshot returns the current externally visible Session state.
func (e *Engine) Snapshot() Session {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Session{
		ID:              e.id,
		Status:          e.status,
		CurrentTick:     e.tick,
		Timeline:        append([]content.TimelineEntry(nil), e.timeline...),
		QueuedMessages:  pendingMessagesOf(e.queue),
		CumulativeUsage: e.usage,
		ComponentState:  e.state.Clone(),
	}
}

func pendingMessagesOf(pm []pendingMessage) []content.Message {
	out := make([]content.Message, 0, len(pm))
	for _, p := range pm {
		out = append(out, p.msg)
	}
	return out
}

// Send enqueues a user message. If the session is idle, it starts a new
// execution. If the session is running, mode controls whether the message
// steers the in-flight execution at the next tick boundary (ModeSteer) or
// waits for execution_end before starting a new execution (ModeQueue).
func (e *Engine) Send(ctx context.Context, msg content.Message, mode SteerMode) *ExecutionHandle {
	e.mu.Lock()
	e.queue = append(e.queue, pendingMessage{msg: msg, mode: mode})
	shouldStart := e.status == StatusIdle && !e.executing
	e.mu.Unlock()

	if shouldStart {
		return e.startExecution(ctx)
	}
	// Already running: the caller does not get a fresh handle for a message
	// folded into the in-flight execution; they should retain the handle
	// returned by the original Send/Run call. Callers that need a handle
	// regardless (e.g. gateway RPC) can call Current().
	return e.Current()
}

// Interrupt aborts any in-flight execution, then enqueues msg so a new
// execution starts immediately once the abort completes.
func (e *Engine) Interrupt(ctx context.Context, msg content.Message, reason string) *ExecutionHandle {
	e.Abort(reason)
	return e.Send(ctx, msg, ModeSteer)
}

// Abort cancels any in-flight model/tool call and transitions running→idle.
// Pending queued messages are preserved.
func (e *Engine) Abort(reason string) {
	e.mu.Lock()
	cancel := e.currentCancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Current returns a handle to the in-flight execution's shared event bus
// when one exists, or nil otherwise. It does not expose a new Wait channel
// for executions started by a different Send call.
func (e *Engine) Current() *ExecutionHandle {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.executing {
		return nil
	}
	return &ExecutionHandle{SessionID: e.id, events: e.bus}
}

// RespondToConfirmation resolves the outstanding confirmation waiter for
// toolUseID, if any. Returns false if no confirmation is pending for that id.
func (e *Engine) RespondToConfirmation(toolUseID string, resp tool.ConfirmResponse) bool {
	e.mu.Lock()
	ch, ok := e.pendingConfirm[toolUseID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case ch <- resp:
	default:
	}
	return true
}

// startExecution transitions idle→queued→running and launches the tick loop
// on its own goroutine, returning a handle the caller can await.
func (e *Engine) startExecution(ctx context.Context) *ExecutionHandle {
	e.mu.Lock()
	e.status = StatusQueued
	// Messages deferred with ModeQueue belong to this new execution.
	for i := range e.queue {
		e.queue[i].mode = ModeSteer
	}
	executionID := uuid.NewString()
	traceID := uuid.NewString()
	runCtx, cancel := context.WithCancel(ctx)
	e.currentCancel = cancel
	e.executing = true
	e.status = StatusRunning
	e.mu.Unlock()

	handle := &ExecutionHandle{
		SessionID:   e.id,
		ExecutionID: executionID,
		TraceID:     traceID,
		events:      e.bus,
		result:      make(chan SendResult, 1),
		err:         make(chan error, 1),
	}

	e.bus.Push(event.StreamEvent{Type: event.TypeExecutionStart, SessionID: e.id})

	go e.runLoop(runCtx, handle)

	return handle
}

// runLoop drives ticks until the model yields a terminal stop reason.
func (e *Engine) runLoop(ctx context.Context, handle *ExecutionHandle) {
	var final SendResult
	for {
		res, terminal, err := e.runTick(ctx)
		if err != nil {
			e.finishExecution(StatusAborted)
			handle.err <- err
			return
		}
		final = res
		if terminal {
			break
		}
	}

	e.mu.Lock()
	more := len(e.queue) > 0
	e.executing = false
	e.currentCancel = nil
	e.status = StatusIdle
	e.mu.Unlock()

	handle.result <- final

	if more {
		// spec.md §4.5: "on idle with non-empty queue" self-transition.
		e.startExecution(context.Background())
	}
}

// RunTick executes exactly one scheduling tick and reports whether it ended
// the execution. It is the single unit runLoop's goroutine drives in a plain
// for-loop; an alternate Engine driver that wants ticks to survive a process
// restart (see session/durable) schedules this same call as a workflow
// activity instead, so the tick body itself never needs to know which driver
// is in charge.
func (e *Engine) RunTick(ctx context.Context) (SendResult, bool, error) {
	return e.runTick(ctx)
}

func (e *Engine) finishExecution(status Status) {
	e.mu.Lock()
	e.executing = false
	e.currentCancel = nil
	e.status = status
	e.mu.Unlock()
}

// runTick executes exactly one render→model→(tools?) iteration (spec.md §4.5
// "Execution procedure"). terminal is true when this tick ended the
// execution (stopReason ∈ {STOP, MAX_TOKENS, CONTENT_FILTER, ERROR}) or the
// context was canceled.
func (e *Engine) runTick(ctx context.Context) (res SendResult, terminal bool, err error) {
	select {
	case <-ctx.Done():
		e.bus.Push(event.StreamEvent{Type: event.TypeExecutionEnd, SessionID: e.id, StopReason: adapter.StopOther})
		return SendResult{StopReason: adapter.StopOther}, true, nil
	default:
	}

	e.mu.Lock()
	e.tick++
	tick := e.tick
	// Step 1: drain steer-mode messages into the timeline. Queue-mode
	// messages remain queued until this execution ends.
	remaining := e.queue[:0:0]
	for _, p := range e.queue {
		if p.mode == ModeSteer {
			e.timeline = append(e.timeline, content.TimelineEntry{Kind: "message", Message: p.msg})
		} else {
			remaining = append(remaining, p)
		}
	}
	e.queue = remaining
	state := e.state.Clone()
	state[TimelineStateKey] = append([]content.TimelineEntry(nil), e.timeline...)
	toolsSnapshot := e.tools
	e.mu.Unlock()

	start := time.Now()
	var tickModel string
	var toolCallCount int
	var tickErr error
	ctx, span := e.telemetry.TickStarted(ctx, e.id, tick)
	defer func() {
		e.telemetry.TickFinished(ctx, span, e.id, telemetry.TickOutcome{
			Tick: tick, Duration: time.Since(start), Usage: res.Usage,
			Model: tickModel, ToolCalls: toolCallCount, StopReason: res.StopReason, Err: tickErr,
		})
	}()

	e.bus.Push(event.StreamEvent{Type: event.TypeTickStart, SessionID: e.id})

	rendered, newState, rErr := e.renderer.Render(state, tick-1)
	if rErr != nil {
		tickErr = rErr
		e.bus.Push(event.StreamEvent{Type: event.TypeError, SessionID: e.id, Err: rErr})
		e.bus.Push(event.StreamEvent{Type: event.TypeExecutionEnd, SessionID: e.id, StopReason: adapter.StopError})
		return SendResult{StopReason: adapter.StopError}, true, nil
	}
	e.mu.Lock()
	e.state = newState
	e.mu.Unlock()

	modelIn := e.deriveModelInput(rendered)
	if modelIn.ModelOptions != nil {
		tickModel = modelIn.ModelOptions.Model
	}

	acc, mErr := e.streamModel(ctx, modelIn)
	if mErr != nil {
		tickErr = mErr
		e.bus.Push(event.StreamEvent{Type: event.TypeError, SessionID: e.id, Err: mErr})
		e.bus.Push(event.StreamEvent{Type: event.TypeExecutionEnd, SessionID: e.id, StopReason: adapter.StopError})
		return SendResult{StopReason: adapter.StopError}, true, nil
	}

	result := acc.Build()

	e.mu.Lock()
	e.timeline = append(e.timeline, content.TimelineEntry{Kind: "message", Message: result.Message})
	e.usage = e.usage.Max(result.Usage)
	cumUsage := e.usage
	e.mu.Unlock()

	if len(result.ToolCalls) > 0 {
		toolCallCount = len(result.ToolCalls)
		if err := e.executeToolCalls(ctx, tick, result.ToolCalls, toolsSnapshot); err != nil {
			e.bus.Push(event.StreamEvent{Type: event.TypeError, SessionID: e.id, Err: err})
		}
	}

	e.bus.Push(event.StreamEvent{Type: event.TypeTickEnd, SessionID: e.id, Usage: &cumUsage})

	terminal = result.StopReason != adapter.StopToolUse
	if terminal {
		e.bus.Push(event.StreamEvent{
			Type:               event.TypeExecutionEnd,
			SessionID:          e.id,
			StopReason:         result.StopReason,
			Usage:              &cumUsage,
			NewTimelineEntries: 1,
			Output:             result.Message,
		})
		return SendResult{StopReason: result.StopReason, Output: result.Message, Usage: cumUsage}, true, nil
	}
	return SendResult{StopReason: result.StopReason, Output: result.Message, Usage: cumUsage}, false, nil
}

func (e *Engine) deriveModelInput(rendered content.RenderedInput) adapter.ModelInput {
	var messages []content.Message
	for _, t := range rendered.System {
		messages = append(messages, t.Message)
	}
	for _, t := range rendered.Timeline {
		messages = append(messages, t.Message)
	}
	return adapter.ModelInput{
		Messages:     messages,
		Tools:        rendered.Tools,
		ModelOptions: rendered.ModelOptions,
	}
}

// streamModel calls the adapter's streaming path, translating each provider
// chunk into a StreamEvent and folding it into an Accumulator.
func (e *Engine) streamModel(ctx context.Context, in adapter.ModelInput) (*adapter.Accumulator, error) {
	req, err := e.modelAdapter.PrepareInput(ctx, in)
	if err != nil {
		return nil, err
	}
	stream, err := e.modelAdapter.ExecuteStream(ctx, req)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	acc := adapter.NewAccumulator()
	openBlocks := map[string]bool{}

	for {
		chunk, err := stream.Recv(ctx)
		if err != nil {
			if err.Error() == "EOF" {
				break
			}
			return nil, err
		}
		if chunk == nil {
			break
		}
		delta, ok := e.modelAdapter.MapChunk(chunk)
		if !ok {
			continue
		}
		acc.Fold(delta)
		e.emitForDelta(delta, openBlocks)
		if delta.Type == adapter.DeltaMessageEnd || delta.Type == adapter.DeltaError {
			break
		}
	}
	if acc.Err() != nil {
		return acc, acc.Err()
	}
	return acc, nil
}

// emitForDelta bridges one AdapterDelta to the public StreamEvent bus,
// bracketing each content block with content_block_start/_end.
func (e *Engine) emitForDelta(d adapter.Delta, openBlocks map[string]bool) {
	switch d.Type {
	case adapter.DeltaText:
		if !openBlocks["text"] {
			openBlocks["text"] = true
			e.bus.Push(event.StreamEvent{Type: event.TypeContentBlockStart, SessionID: e.id, BlockID: "text", BlockType: "text"})
		}
		e.bus.Push(event.StreamEvent{Type: event.TypeContentDelta, SessionID: e.id, ContentDelta: d.Text, BlockID: "text"})
	case adapter.DeltaReasoning:
		if !openBlocks["reasoning"] {
			openBlocks["reasoning"] = true
			e.bus.Push(event.StreamEvent{Type: event.TypeContentBlockStart, SessionID: e.id, BlockID: "reasoning", BlockType: "reasoning"})
		}
		e.bus.Push(event.StreamEvent{Type: event.TypeContentDelta, SessionID: e.id, ContentDelta: d.Text, BlockID: "reasoning"})
	case adapter.DeltaToolCallStart:
		e.bus.Push(event.StreamEvent{Type: event.TypeToolCallStart, SessionID: e.id, ToolCallID: d.ToolCallID, ToolCallName: d.ToolCallName})
		e.bus.Push(event.StreamEvent{Type: event.TypeContentBlockStart, SessionID: e.id, BlockID: d.ToolCallID, BlockType: "tool_use"})
	case adapter.DeltaToolCallEnd, adapter.DeltaToolCall:
		e.bus.Push(event.StreamEvent{Type: event.TypeToolCall, SessionID: e.id, ToolCallID: d.ToolCallID, ToolCallName: d.ToolCallName, ToolCallInput: d.ToolCallInput})
		e.bus.Push(event.StreamEvent{Type: event.TypeContentBlockEnd, SessionID: e.id, BlockID: d.ToolCallID})
	case adapter.DeltaMessageEnd:
		if openBlocks["text"] {
			e.bus.Push(event.StreamEvent{Type: event.TypeContentBlockEnd, SessionID: e.id, BlockID: "text"})
		}
		if openBlocks["reasoning"] {
			e.bus.Push(event.StreamEvent{Type: event.TypeContentBlockEnd, SessionID: e.id, BlockID: "reasoning"})
		}
	}
}

// executeToolCalls runs approved tool calls concurrently up to the fanout
// limit, appending tool_result entries to the timeline in tool_use order.
func (e *Engine) executeToolCalls(ctx context.Context, tick int, calls []content.ToolUseBlock, tools map[string]tool.Tool) error {
	results := make([]content.ToolResultBlock, len(calls))
	var wg sync.WaitGroup
	sem := make(chan struct{}, e.fanout)

	run := func(i int, call content.ToolUseBlock) {
		defer wg.Done()
		results[i] = e.runOneToolCall(ctx, tick, call, tools)
	}

	for i, call := range calls {
		t := tools[call.Name]
		sequential := t != nil && t.Metadata().Sequential
		if sequential {
			wg.Add(1)
			run(i, call)
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, call content.ToolUseBlock) {
			defer func() { <-sem }()
			run(i, call)
		}(i, call)
	}
	wg.Wait()

	e.mu.Lock()
	for _, r := range results {
		e.timeline = append(e.timeline, content.TimelineEntry{
			Kind: "message",
			Message: content.Message{
				Role:    content.RoleTool,
				Content: []content.Block{r},
			},
		})
	}
	e.mu.Unlock()
	return nil
}

func (e *Engine) runOneToolCall(ctx context.Context, tick int, call content.ToolUseBlock, tools map[string]tool.Tool) content.ToolResultBlock {
	e.bus.Push(event.StreamEvent{Type: event.TypeToolCallStart, SessionID: e.id, ToolCallID: call.ToolUseID, ToolCallName: call.Name})

	t, ok := tools[call.Name]
	if !ok {
		return e.errorResult(call, fmt.Sprintf("unknown tool %q", call.Name))
	}
	meta := t.Metadata()

	if meta.RequiresConfirmation {
		resp, err := e.awaitConfirmation(ctx, call, meta)
		if err != nil {
			return e.errorResult(call, err.Error())
		}
		if !resp.Approved {
			return content.ToolResultBlock{
				ToolUseID: call.ToolUseID,
				Name:      call.Name,
				IsError:   true,
				Content:   []content.Block{content.TextBlock{Text: "rejected: " + resp.Reason}},
			}
		}
	}

	if err := tool.ValidateInput(e.schemaCache, call.Name, meta.InputSchema, call.Input); err != nil {
		return e.errorResult(call, err.Error())
	}

	toolCtx := tool.Context{
		SessionID: e.id,
		Tick:      tick,
		Ctx:       ctx,
		Confirm:   func(req tool.ConfirmRequest) (tool.ConfirmResponse, error) { return e.requestConfirmation(ctx, req) },
	}

	toolStart := time.Now()
	out, err := t.Run(toolCtx, call.Input)
	e.telemetry.ToolInvoked(ctx, e.id, call.Name, time.Since(toolStart), err)
	if err != nil {
		te := tool.FromError(err)
		e.bus.Push(event.StreamEvent{Type: event.TypeToolResult, SessionID: e.id, ToolCallID: call.ToolUseID, ToolCallName: call.Name, ToolResultIsError: true})
		return content.ToolResultBlock{
			ToolUseID: call.ToolUseID,
			Name:      call.Name,
			IsError:   true,
			Content:   []content.Block{content.TextBlock{Text: te.Error()}},
		}
	}

	e.bus.Push(event.StreamEvent{Type: event.TypeToolResult, SessionID: e.id, ToolCallID: call.ToolUseID, ToolCallName: call.Name, ToolResult: out.Content})
	return content.ToolResultBlock{
		ToolUseID: call.ToolUseID,
		Name:      call.Name,
		Content:   out.Content,
	}
}

func (e *Engine) errorResult(call content.ToolUseBlock, msg string) content.ToolResultBlock {
	return content.ToolResultBlock{
		ToolUseID: call.ToolUseID,
		Name:      call.Name,
		IsError:   true,
		Content:   []content.Block{content.TextBlock{Text: msg}},
	}
}

// awaitConfirmation emits tool_confirmation_request and blocks until
// RespondToConfirmation resolves it or ctx is canceled.
func (e *Engine) awaitConfirmation(ctx context.Context, call content.ToolUseBlock, meta tool.Metadata) (tool.ConfirmResponse, error) {
	return e.requestConfirmation(ctx, tool.ConfirmRequest{
		ToolUseID: call.ToolUseID,
		Name:      call.Name,
		Arguments: call.Input,
	})
}

func (e *Engine) requestConfirmation(ctx context.Context, req tool.ConfirmRequest) (tool.ConfirmResponse, error) {
	ch := make(chan tool.ConfirmResponse, 1)
	e.mu.Lock()
	e.pendingConfirm[req.ToolUseID] = ch
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.pendingConfirm, req.ToolUseID)
		e.mu.Unlock()
	}()

	var argsAny any
	_ = json.Unmarshal(req.Arguments, &argsAny)
	e.bus.Push(event.StreamEvent{
		Type:             event.TypeToolConfirmationReq,
		SessionID:        e.id,
		ConfirmToolUseID: req.ToolUseID,
		ToolCallName:     req.Name,
		ConfirmArguments: argsAny,
		ConfirmMessage:   req.Message,
		ConfirmMetadata:  req.Metadata,
	})

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return tool.ConfirmResponse{}, ctx.Err()
	}
}
