// Package agent implements the turn orchestrator: the state machine
// that drives one conversational turn from user input through model
// calls, tool execution, compaction, and snapshotting.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mlukens/codewright/internal/compaction"
	"github.com/mlukens/codewright/internal/events"
	"github.com/mlukens/codewright/internal/llm"
	"github.com/mlukens/codewright/internal/policy"
	"github.com/mlukens/codewright/internal/retry"
	"github.com/mlukens/codewright/internal/router"
	"github.com/mlukens/codewright/internal/snapshot"
	"github.com/mlukens/codewright/internal/tools"
)

// DefaultMaxIterations bounds model/tool round-trips within one turn.
const DefaultMaxIterations = 10

// Confirmer answers Prompt-gated tool authorizations. Implementations
// ask the user; tests answer directly.
type Confirmer interface {
	Confirm(ctx context.Context, toolName string, args map[string]any) (bool, error)
}

// ConfirmerFunc adapts a function to the Confirmer interface.
type ConfirmerFunc func(ctx context.Context, toolName string, args map[string]any) (bool, error)

// Confirm implements Confirmer.
func (f ConfirmerFunc) Confirm(ctx context.Context, toolName string, args map[string]any) (bool, error) {
	return f(ctx, toolName, args)
}

// TurnResult is what one completed turn produced.
type TurnResult struct {
	Turn       int           `json:"turn"`
	Content    string        `json:"content"`
	Model      string        `json:"model"`
	Iterations int           `json:"iterations"`
	ToolCalls  int           `json:"tool_calls"`
	Elapsed    time.Duration `json:"elapsed"`
}

// turnState is the snapshot payload persisted at end of turn.
type turnState struct {
	Turn     int                  `json:"turn"`
	Model    string               `json:"model"`
	Messages []compaction.Message `json:"messages"`
}

// Orchestrator drives turns. One turn at a time; RunTurn is not
// reentrant and serializes through an internal mutex.
type Orchestrator struct {
	logger    *slog.Logger
	client    llm.Client
	history   *compaction.Engine
	router    *router.Router
	retry     *retry.Manager
	guard     *policy.Guard
	registry  *tools.Registry
	snapshots *snapshot.Manager
	bus       *events.Bus
	confirmer Confirmer

	defaultModel  string
	systemPrompt  string
	maxIterations int

	mu    sync.Mutex
	state State
	turn  int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithSnapshots enables end-of-turn state persistence.
func WithSnapshots(m *snapshot.Manager) Option {
	return func(o *Orchestrator) { o.snapshots = m }
}

// WithEvents attaches an observability bus.
func WithEvents(b *events.Bus) Option {
	return func(o *Orchestrator) { o.bus = b }
}

// WithConfirmer sets the Prompt-gate handler. Without one, Prompt
// decisions are treated as declined.
func WithConfirmer(c Confirmer) Option {
	return func(o *Orchestrator) { o.confirmer = c }
}

// WithSystemPrompt sets the system message prepended to every
// provider call.
func WithSystemPrompt(p string) Option {
	return func(o *Orchestrator) { o.systemPrompt = p }
}

// WithMaxIterations overrides the per-turn round-trip budget.
func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

// New creates an orchestrator over the given collaborators.
func New(
	logger *slog.Logger,
	client llm.Client,
	history *compaction.Engine,
	rt *router.Router,
	rm *retry.Manager,
	guard *policy.Guard,
	registry *tools.Registry,
	defaultModel string,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		logger:        logger,
		client:        client,
		history:       history,
		router:        rt,
		retry:         rm,
		guard:         guard,
		registry:      registry,
		defaultModel:  defaultModel,
		maxIterations: DefaultMaxIterations,
		state:         StateIdle,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// State returns the orchestrator's current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Turn returns the number of completed turns.
func (o *Orchestrator) Turn() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.turn
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	prev := o.state
	o.state = s
	o.mu.Unlock()

	if prev != s {
		o.logger.Debug("state transition", "from", prev.String(), "to", s.String())
	}
}

// Terminate marks the session as cleanly ended. Subsequent RunTurn
// calls fail.
func (o *Orchestrator) Terminate() {
	o.setState(StateTerminated)
}

// RunTurn executes one full turn: route, call the provider, execute
// any requested tools, repeat until the model responds without tool
// calls, then compact and snapshot as configured.
func (o *Orchestrator) RunTurn(ctx context.Context, input string) (*TurnResult, error) {
	o.mu.Lock()
	switch o.state {
	case StateTerminated, StateFatal:
		state := o.state
		o.mu.Unlock()
		return nil, fmt.Errorf("session is %s, cannot run turn", state)
	case StateIdle:
		o.turn++
	default:
		state := o.state
		o.mu.Unlock()
		return nil, fmt.Errorf("turn already in progress (state %s)", state)
	}
	turn := o.turn
	o.state = StateRouting
	o.mu.Unlock()

	start := time.Now()
	o.bus.Emit(events.SourceOrchestrator, events.KindTurnStart, map[string]any{
		"turn":      turn,
		"input_len": len(input),
	})

	o.history.AddMessage(input, compaction.UserMessage)

	model, decision := o.router.Route(input, o.defaultModel)
	o.bus.Emit(events.SourceRouter, events.KindRouteDecision, map[string]any{
		"request_id": decision.RequestID,
		"class":      decision.Class,
		"model":      model,
		"routed":     decision.Routed,
	})

	result, err := o.runIterations(ctx, turn, model, start)
	if err != nil {
		// A fatal transition sticks; any other failure ends the turn
		// and leaves the session usable.
		if o.State() != StateFatal {
			o.setState(StateIdle)
		}
		o.bus.Emit(events.SourceOrchestrator, events.KindTurnComplete, map[string]any{
			"turn":       turn,
			"state":      "error",
			"elapsed_ms": time.Since(start).Milliseconds(),
		})
		return nil, err
	}

	o.endOfTurn(ctx, turn, model)

	o.setState(StateIdle)
	result.Elapsed = time.Since(start)
	o.bus.Emit(events.SourceOrchestrator, events.KindTurnComplete, map[string]any{
		"turn":       turn,
		"state":      "ok",
		"iterations": result.Iterations,
		"elapsed_ms": result.Elapsed.Milliseconds(),
	})
	return result, nil
}

// runIterations is the model/tool round-trip loop within one turn.
func (o *Orchestrator) runIterations(ctx context.Context, turn int, model string, start time.Time) (*TurnResult, error) {
	totalToolCalls := 0
	overflowRecovered := false

	for iter := 1; iter <= o.maxIterations; iter++ {
		o.setState(StateAwaitingProvider)

		resp, err := o.callProvider(ctx, turn, iter, model)
		if err != nil {
			// A context overflow is not transient: shrink the history
			// and retry once within the same turn.
			if isContextOverflow(err) && !overflowRecovered {
				overflowRecovered = true
				o.logger.Warn("context overflow, forcing compaction", "turn", turn, "error", err)
				o.bus.Emit(events.SourceCompaction, events.KindOverflowRecovery, map[string]any{
					"turn":  turn,
					"model": model,
				})

				o.setState(StateCompacting)
				if _, cerr := o.history.Compact(ctx); cerr != nil {
					return nil, &ErrProviderFailure{Model: model, Err: err}
				}

				o.setState(StateAwaitingProvider)
				resp, err = o.callProvider(ctx, turn, iter, model)
			}
			if err != nil {
				// An overflow that survives forced compaction cannot be
				// recovered: the history is already at its floor, so every
				// future call would fail the same way.
				if overflowRecovered && isContextOverflow(err) {
					o.logger.Error("context overflow persists after forced compaction", "turn", turn, "error", err)
					o.setState(StateFatal)
				}
				return nil, &ErrProviderFailure{Model: model, Err: err}
			}
		}

		o.setState(StateInterpretingResponse)

		// The assistant entry is always persisted. When it carries tool
		// calls they are stored with it, so replaying the history gives
		// a provider each request immediately before its results.
		if len(resp.Message.ToolCalls) > 0 {
			o.history.AddAssistantToolCalls(resp.Message.Content, toolCallRecords(resp.Message.ToolCalls))
		} else {
			o.history.AddMessage(resp.Message.Content, compaction.AssistantMessage)
		}

		if len(resp.Message.ToolCalls) == 0 {
			return &TurnResult{
				Turn:       turn,
				Content:    resp.Message.Content,
				Model:      resp.Model,
				Iterations: iter,
				ToolCalls:  totalToolCalls,
			}, nil
		}

		o.setState(StateExecutingTools)
		o.executeToolCalls(ctx, turn, resp.Message.ToolCalls)
		totalToolCalls += len(resp.Message.ToolCalls)
	}

	return nil, &ErrTurnLimit{Iterations: o.maxIterations}
}

// callProvider makes one retry-wrapped model call over the visible
// history.
func (o *Orchestrator) callProvider(ctx context.Context, turn, iter int, model string) (*llm.ChatResponse, error) {
	req := llm.ChatRequest{
		Model:    model,
		Messages: o.buildMessages(),
		Tools:    o.registry.List(),
	}

	o.bus.Emit(events.SourceOrchestrator, events.KindLLMCall, map[string]any{
		"turn":  turn,
		"iter":  iter,
		"model": model,
	})

	var resp *llm.ChatResponse
	err := o.retry.Do(ctx, "chat", func(ctx context.Context) error {
		var cerr error
		resp, cerr = o.client.Chat(ctx, req)
		return cerr
	})
	if err != nil {
		return nil, err
	}

	o.bus.Emit(events.SourceOrchestrator, events.KindLLMResponse, map[string]any{
		"turn":       turn,
		"iter":       iter,
		"model":      resp.Model,
		"tokens_in":  resp.InputTokens,
		"tokens_out": resp.OutputTokens,
		"tool_calls": len(resp.Message.ToolCalls),
	})
	return resp, nil
}

// buildMessages renders the visible history as provider messages, with
// the system prompt first.
func (o *Orchestrator) buildMessages() []llm.Message {
	visible := o.history.Visible()

	msgs := make([]llm.Message, 0, len(visible)+1)
	if o.systemPrompt != "" {
		msgs = append(msgs, llm.Message{Role: "system", Content: o.systemPrompt})
	}
	for _, m := range visible {
		msg := llm.Message{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, rec := range m.ToolCalls {
			var call llm.ToolCall
			call.ID = rec.ID
			call.Function.Name = rec.Name
			call.Function.Arguments = rec.Arguments
			msg.ToolCalls = append(msg.ToolCalls, call)
		}
		msgs = append(msgs, msg)
	}
	return msgs
}

// toolCallRecords converts provider tool calls to their history form.
func toolCallRecords(calls []llm.ToolCall) []compaction.ToolCallRecord {
	records := make([]compaction.ToolCallRecord, len(calls))
	for i, call := range calls {
		records[i] = compaction.ToolCallRecord{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		}
	}
	return records
}

// toolOutcome pairs a tool call with its result text.
type toolOutcome struct {
	call    llm.ToolCall
	content string
	ok      bool
	skipped bool
}

// executeToolCalls authorizes and runs one batch of tool calls.
// Authorization and prompting are sequential; allowed calls then run
// concurrently. Results are appended to the history in request order
// regardless of completion order, so the transcript stays
// deterministic.
func (o *Orchestrator) executeToolCalls(ctx context.Context, turn int, calls []llm.ToolCall) {
	outcomes := make([]toolOutcome, len(calls))

	for i, call := range calls {
		outcomes[i].call = call
		name := call.Function.Name

		decision := o.guard.Authorize(name)
		o.bus.Emit(events.SourceOrchestrator, events.KindToolCall, map[string]any{
			"turn":     turn,
			"tool":     name,
			"decision": decision.String(),
		})

		switch decision {
		case policy.Deny:
			// The tool is never executed; the model sees the denial as
			// an ordinary tool result and the turn continues.
			outcomes[i].content = fmt.Sprintf("Error: tool %q blocked by policy", name)
			outcomes[i].skipped = true
			o.logger.Info("tool denied by policy", "turn", turn, "tool", name)
			o.bus.Emit(events.SourceOrchestrator, events.KindToolDenied, map[string]any{
				"turn": turn,
				"tool": name,
			})

		case policy.Prompt:
			approved := false
			if o.confirmer != nil {
				ok, err := o.confirmer.Confirm(ctx, name, call.Function.Arguments)
				if err != nil {
					o.logger.Warn("confirmation failed", "tool", name, "error", err)
				}
				approved = ok && err == nil
			}
			if !approved {
				outcomes[i].content = fmt.Sprintf("Error: tool %q not approved by user", name)
				outcomes[i].skipped = true
				o.logger.Info("tool declined", "turn", turn, "tool", name)
			}
		}
	}

	var wg sync.WaitGroup
	for i := range outcomes {
		if outcomes[i].skipped {
			continue
		}
		wg.Add(1)
		go func(oc *toolOutcome) {
			defer wg.Done()
			o.runTool(ctx, turn, oc)
		}(&outcomes[i])
	}
	wg.Wait()

	for _, oc := range outcomes {
		o.history.AddToolResult(oc.call.Function.Name, oc.call.ID, oc.content)
	}
}

func (o *Orchestrator) runTool(ctx context.Context, turn int, oc *toolOutcome) {
	name := oc.call.Function.Name
	started := time.Now()

	result, err := o.registry.ExecuteArgs(ctx, name, oc.call.Function.Arguments)
	if err != nil {
		oc.content = fmt.Sprintf("Error: %v", err)
	} else {
		oc.content = result
		oc.ok = true
	}

	o.logger.Debug("tool executed",
		"turn", turn,
		"tool", name,
		"ok", oc.ok,
		"duration", time.Since(started),
	)
	o.bus.Emit(events.SourceOrchestrator, events.KindToolDone, map[string]any{
		"turn":        turn,
		"tool":        name,
		"ok":          oc.ok,
		"duration_ms": time.Since(started).Milliseconds(),
	})
}

// endOfTurn runs the automatic compaction check and persists the turn
// snapshot. Neither failure ends the session.
func (o *Orchestrator) endOfTurn(ctx context.Context, turn int, model string) {
	if o.history.AutoEnabled() && o.history.ShouldCompact() && o.history.Due() {
		o.setState(StateCompacting)
		result, err := o.history.Compact(ctx)
		if err != nil {
			o.logger.Warn("automatic compaction failed", "turn", turn, "error", err)
		} else if result.MessagesCompacted > 0 {
			o.bus.Emit(events.SourceCompaction, events.KindCompaction, map[string]any{
				"evicted":  result.MessagesCompacted,
				"retained": result.MessagesProcessed - result.MessagesCompacted,
				"ratio":    result.CompressionRatio,
				"forced":   false,
			})
		}
	}

	if o.snapshots == nil {
		return
	}

	o.setState(StateSnapshotting)
	state := turnState{
		Turn:     turn,
		Model:    model,
		Messages: o.history.Visible(),
	}
	info, err := o.snapshots.Save(turn, state, "end of turn")
	if err != nil {
		// Snapshot failure degrades rollback, not the conversation.
		o.logger.Warn("snapshot failed", "turn", turn, "error", err)
		return
	}
	if info != nil {
		o.bus.Emit(events.SourceSnapshot, events.KindSnapshotSaved, map[string]any{
			"turn":  turn,
			"bytes": info.SizeBytes,
		})
	}
	if _, err := o.snapshots.Cleanup(); err != nil {
		o.logger.Warn("snapshot cleanup failed", "error", err)
	}
}

// Rollback restores the conversation history from a stored turn
// snapshot, discarding anything after it.
func (o *Orchestrator) Rollback(ctx context.Context, turn int) error {
	if o.snapshots == nil {
		return fmt.Errorf("snapshots not configured")
	}

	var state turnState
	if err := o.snapshots.Load(turn, &state); err != nil {
		return err
	}

	o.history.Replace(state.Messages)

	o.mu.Lock()
	o.turn = state.Turn
	o.mu.Unlock()

	o.logger.Info("rolled back to snapshot", "turn", turn, "messages", len(state.Messages))
	return nil
}
