// Package engine implements the control loop: a state machine that
// plans a task list from a user goal, confirms it, then executes turns
// autonomously until the list is done, a budget is hit, or the user
// interrupts. All history and task mutation happens on the loop's own
// goroutine; the inbound and outbound queues are the only structures
// shared with producers and consumers.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/yushui2022/easy-coding-agents/llm"
	"github.com/yushui2022/easy-coding-agents/memory"
	"github.com/yushui2022/easy-coding-agents/queue"
	"github.com/yushui2022/easy-coding-agents/tasks"
	"github.com/yushui2022/easy-coding-agents/tools"
)

// State is the control loop's current phase.
type State string

const (
	StateIdle                 State = "idle"
	StatePlanning             State = "planning"
	StateAwaitingConfirmation State = "awaiting_confirmation"
	StateExecuting            State = "executing"
	StateCheckpoint           State = "checkpoint"
	StateTerminated           State = "terminated"
)

// Config bounds one engine instance.
type Config struct {
	Model              string
	Temperature        *float64
	SystemPrompt       string
	MaxAutonomousTurns int
	MaxPlanningRounds  int
	// StatusInterval is how often to emit an elapsed-time status event
	// while a model call is in flight. Zero disables status events.
	StatusInterval time.Duration
	// IndependentToolBatches permits concurrent execution of a tool-call
	// batch. Results are reassembled in call order either way.
	IndependentToolBatches bool
}

// Deps are the collaborators the engine coordinates. Everything is
// passed in explicitly; the engine holds no ambient globals.
type Deps struct {
	Stream     *llm.StreamHandler
	Memory     *memory.Manager
	Tracker    *tasks.Tracker
	Dispatcher *tools.Dispatcher
	Registry   *tools.Registry
	Decider    tools.Decider
	Logger     *slog.Logger
}

// Engine is the top-level state machine.
type Engine struct {
	cfg        Config
	stream     *llm.StreamHandler
	memory     *memory.Manager
	tracker    *tasks.Tracker
	dispatcher *tools.Dispatcher
	registry   *tools.Registry
	decider    tools.Decider
	breaker    *CircuitBreaker
	log        *slog.Logger

	inbound  *queue.Queue[Action]
	outbound *queue.Queue[Event]
	emitter  *emitter

	systemPrompt string

	mu          sync.Mutex
	state       State
	interrupted atomic.Bool
	quit        atomic.Bool
}

// New wires an engine from its collaborators.
func New(cfg Config, deps Deps) *Engine {
	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxPlanningRounds <= 0 {
		cfg.MaxPlanningRounds = 3
	}
	out := queue.New[Event]()
	e := &Engine{
		cfg:        cfg,
		stream:     deps.Stream,
		memory:     deps.Memory,
		tracker:    deps.Tracker,
		dispatcher: deps.Dispatcher,
		registry:   deps.Registry,
		decider:    deps.Decider,
		breaker:    NewCircuitBreaker(3, 30*time.Second),
		log:        log,
		inbound:    queue.New[Action](),
		outbound:   out,
		emitter:    &emitter{sessionID: deps.Memory.SessionID(), out: out},
		state:      StateIdle,
	}
	return e
}

// Submit pushes user input onto the inbound buffer. Safe to call from
// any goroutine, including while the loop is executing (steering).
func (e *Engine) Submit(text string) error {
	err := e.inbound.Push(Action{Kind: ActionUserInput, Text: text})
	if err == nil {
		e.emitter.emit(EventUserInput, map[string]interface{}{"content": text})
	}
	return err
}

// Interrupt asks the loop to pause after the in-flight call completes.
// In-progress tasks revert to pending and memory is persisted; the
// conversation context is kept. A pause, not a reset.
func (e *Engine) Interrupt() {
	e.interrupted.Store(true)
}

// Stop requests a clean shutdown once the current work settles.
func (e *Engine) Stop() {
	e.quit.Store(true)
	_ = e.inbound.Push(Action{Kind: ActionStop})
}

// Events returns the outbound buffer the UI consumes.
func (e *Engine) Events() *queue.Queue[Event] { return e.outbound }

// State returns the current phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	prev := e.state
	e.state = s
	e.mu.Unlock()
	if prev != s {
		e.emitter.emit(EventStateChange, map[string]interface{}{
			"from": string(prev),
			"to":   string(s),
		})
	}
}

// Run drives the loop until Stop, queue close, or ctx cancellation.
func (e *Engine) Run(ctx context.Context) error {
	defer e.outbound.Close()
	defer e.inbound.Close()

	longTerm, err := e.memory.LongTermContext()
	if err != nil {
		e.log.Warn("long-term store unreadable", "error", err)
	}
	e.systemPrompt = buildSystemPrompt(e.cfg.SystemPrompt, longTerm)

	if resumed, err := e.memory.Resume(); err != nil {
		e.log.Warn("session resume failed", "error", err)
	} else if resumed {
		// Resuming adopts the previous session's id.
		e.emitter.setSessionID(e.memory.SessionID())
		e.emitter.emit(EventStatus, map[string]interface{}{
			"message": "resumed previous session " + e.memory.SessionID(),
		})
	}

	e.setState(StateIdle)
	for {
		action, err := e.inbound.Pop(ctx)
		if err != nil {
			e.setState(StateTerminated)
			if errors.Is(err, queue.ErrClosed) {
				return nil
			}
			return err
		}
		switch action.Kind {
		case ActionStop:
			e.setState(StateTerminated)
			e.emitter.emit(EventSessionEnd, nil)
			return nil
		case ActionToolResults:
			// Leftovers from a paused run; fold them in so the next
			// goal sees the full conversation.
			e.memory.Append(action.Results...)
		case ActionUserInput:
			e.interrupted.Store(false)
			if err := e.handleGoal(ctx, action.Text); err != nil {
				if ctx.Err() != nil {
					e.setState(StateTerminated)
					return err
				}
				e.emitter.emit(EventError, map[string]interface{}{"error": err.Error()})
				e.setState(StateIdle)
			}
			if e.quit.Load() {
				e.setState(StateTerminated)
				e.emitter.emit(EventSessionEnd, nil)
				return nil
			}
		}
	}
}

// handleGoal walks the state machine for one user goal.
func (e *Engine) handleGoal(ctx context.Context, text string) error {
	e.memory.Append(llm.UserMessage(text))

	next := StatePlanning
	if e.tracker.HasUnfinished() {
		// Resuming a paused plan; no need to re-plan.
		next = StateExecuting
	}

	for {
		var err error
		e.setState(next)
		switch next {
		case StatePlanning:
			next, err = e.plan(ctx)
		case StateAwaitingConfirmation:
			next, err = e.confirm(ctx)
		case StateExecuting:
			next, err = e.execute(ctx)
		case StateCheckpoint:
			next, err = e.checkpoint(ctx)
		case StateIdle:
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// plan asks the model for a task list and waits for it to land in the
// tracker via set_plan. A plain reply with no tool calls means the goal
// did not need a plan.
func (e *Engine) plan(ctx context.Context) (State, error) {
	// A terminal task list belongs to a previous goal. Clear it so only
	// a plan produced for this goal can reach confirmation.
	if e.tracker.Len() > 0 && e.tracker.AllDone() {
		e.tracker.SetList(nil)
	}
	for round := 0; round < e.cfg.MaxPlanningRounds; round++ {
		if e.takeInterrupt() {
			return e.pause(), nil
		}
		nudge := llm.SystemMessage(planningNudge)
		resp, stopped, err := e.turn(ctx, &nudge)
		if err != nil {
			return StateIdle, err
		}
		if stopped {
			return e.pause(), nil
		}
		if e.tracker.Len() > 0 {
			e.emitter.emit(EventPlanUpdated, map[string]interface{}{
				"plan":  e.tracker.Render(),
				"tasks": e.tracker.Len(),
			})
			return StateAwaitingConfirmation, nil
		}
		if len(resp.Message.ToolCalls) == 0 {
			return StateIdle, nil
		}
	}
	e.emitter.emit(EventWarning, map[string]interface{}{
		"message": "model produced no task list; returning control",
	})
	return StateIdle, nil
}

// confirm presents the plan and blocks on the decision port.
func (e *Engine) confirm(ctx context.Context) (State, error) {
	if e.decider == nil {
		e.memory.Append(llm.UserMessage("Plan confirmed. Work through the tasks in order."))
		return StateExecuting, nil
	}
	prompt := "Proposed plan:\n\n" + e.tracker.Render() + "\n\nProceed?"
	choice, err := e.decider.RequestDecision(ctx, prompt, []string{"proceed", "revise", "cancel"}, true)
	if err != nil {
		return StateIdle, err
	}
	switch strings.ToLower(strings.TrimSpace(choice)) {
	case "proceed", "yes", "y", "":
		e.memory.Append(llm.UserMessage("Plan confirmed. Work through the tasks in order."))
		return StateExecuting, nil
	case "cancel", "no", "n":
		e.tracker.SetList(nil)
		e.memory.Append(llm.UserMessage("Plan rejected. Stop here."))
		return StateIdle, nil
	default:
		e.memory.Append(llm.UserMessage("Revise the plan: " + choice))
		return StatePlanning, nil
	}
}

// execute repeats the turn cycle until every task is terminal, a fatal
// error occurs, the turn ceiling is reached, or the user interrupts.
func (e *Engine) execute(ctx context.Context) (State, error) {
	turns := 0
	for {
		if e.takeInterrupt() {
			return e.pause(), nil
		}
		if e.tracker.AllDone() {
			return StateCheckpoint, nil
		}
		if e.cfg.MaxAutonomousTurns > 0 && turns >= e.cfg.MaxAutonomousTurns {
			e.emitter.emit(EventTurnLimit, map[string]interface{}{"turns": turns})
			e.tracker.RevertInProgress()
			return StateIdle, nil
		}
		e.focusNext()

		stateMsg := systemStateMessage(e.tracker)
		resp, stopped, err := e.turn(ctx, &stateMsg)
		turns++
		if err != nil {
			if errors.Is(err, ErrCircuitOpen) {
				e.emitter.emit(EventError, map[string]interface{}{
					"error": "repeated model failures; pausing autonomous execution",
				})
				return e.pause(), nil
			}
			return StateIdle, err
		}
		if stopped {
			return e.pause(), nil
		}
		if len(resp.Message.ToolCalls) == 0 && e.tracker.HasUnfinished() {
			// The model replied without acting while work remains.
			e.memory.Append(llm.SystemMessage(autonomyNudge))
		}
	}
}

// checkpoint reports completed work and asks whether to proceed to a
// next phase.
func (e *Engine) checkpoint(ctx context.Context) (State, error) {
	summary := e.tracker.Render()
	e.emitter.emit(EventCheckpoint, map[string]interface{}{"summary": summary})
	if e.decider == nil {
		return StateIdle, nil
	}
	choice, err := e.decider.RequestDecision(ctx,
		"All tasks are finished.\n\n"+summary+"\n\nStart a next phase? Answer 'done' or describe it.",
		[]string{"done"}, true)
	if err != nil {
		return StateIdle, err
	}
	switch strings.ToLower(strings.TrimSpace(choice)) {
	case "", "done", "no", "stop":
		return StateIdle, nil
	default:
		e.memory.Append(llm.UserMessage(choice))
		return StatePlanning, nil
	}
}

// turn runs one model call, folds queued inbound work into history
// first, and re-enqueues any tool results as the next inbound item.
func (e *Engine) turn(ctx context.Context, stateMsg *llm.Message) (*llm.Response, bool, error) {
	e.drainInbound()
	e.ensureCeiling(ctx)

	req := e.buildRequest(stateMsg)
	var final *llm.Response
	err := e.breaker.Execute(func() error {
		resp, err := e.consumeStream(ctx, req)
		if err != nil {
			return err
		}
		final = resp
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	e.memory.Append(final.Message)
	e.emitter.emit(EventAssistantDone, map[string]interface{}{
		"text": final.Message.Content,
	})

	stopped := false
	if len(final.Message.ToolCalls) > 0 {
		results, stop := e.runTools(ctx, final.Message.ToolCalls)
		stopped = stop
		_ = e.inbound.Push(Action{Kind: ActionToolResults, Results: results})
		// Fold them in now so the ceiling check and the persisted
		// snapshot see the completed turn. The queue round-trip keeps
		// any user steering pushed during tool execution ahead of the
		// results in history.
		e.drainInbound()
	}

	e.ensureCeiling(ctx)
	if err := e.memory.PersistTurn(); err != nil {
		e.log.Warn("session persist failed", "error", err)
	}
	return final, stopped, nil
}

// consumeStream forwards streaming events to the outbound buffer and
// returns the final response.
func (e *Engine) consumeStream(ctx context.Context, req llm.Request) (*llm.Response, error) {
	events := e.stream.Run(ctx, req)
	start := time.Now()

	var tick <-chan time.Time
	if e.cfg.StatusInterval > 0 {
		t := time.NewTicker(e.cfg.StatusInterval)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-tick:
			e.emitter.emit(EventStatus, map[string]interface{}{
				"elapsed_seconds": int(time.Since(start).Seconds()),
			})
		case ev, ok := <-events:
			if !ok {
				return nil, &llm.TransportError{ClientError: llm.ClientError{
					Message: "stream ended without a final response",
				}}
			}
			switch ev.Kind {
			case llm.EventTextDelta:
				e.emitter.emit(EventTextDelta, map[string]interface{}{"delta": ev.Delta})
			case llm.EventDone:
				return ev.Response, nil
			case llm.EventError:
				return nil, ev.Err
			}
		}
	}
}

// runTools dispatches a tool-call batch and reports whether the user
// stopped execution through a guard intervention.
func (e *Engine) runTools(ctx context.Context, calls []llm.ToolCall) ([]llm.Message, bool) {
	for _, c := range calls {
		e.emitter.emit(EventToolCallStart, map[string]interface{}{
			"name": c.Name, "call_id": c.ID,
		})
	}
	outcomes := e.dispatcher.DispatchBatch(ctx, calls, e.cfg.IndependentToolBatches)
	msgs := make([]llm.Message, 0, len(outcomes))
	stop := false
	for i, o := range outcomes {
		data := map[string]interface{}{
			"name": calls[i].Name, "call_id": calls[i].ID,
		}
		if o.Message.ToolResult != nil {
			data["ok"] = o.Message.ToolResult.OK
			data["result"] = o.Message.ToolResult.Content
		}
		e.emitter.emit(EventToolCallEnd, data)
		msgs = append(msgs, o.Message)
		if o.Stop {
			stop = true
		}
	}
	return msgs, stop
}

func (e *Engine) buildRequest(stateMsg *llm.Message) llm.Request {
	history := e.memory.Messages()
	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.SystemMessage(e.systemPrompt))
	msgs = append(msgs, history...)
	if stateMsg != nil {
		// Transient: reflects the live tracker, never written to history.
		msgs = append(msgs, *stateMsg)
	}
	return llm.Request{
		Model:       e.cfg.Model,
		Messages:    msgs,
		Tools:       e.registry.Definitions(),
		Temperature: e.cfg.Temperature,
	}
}

// drainInbound folds queued actions into history without blocking, in
// push order: user steering first if it arrived first, tool results
// where the queue round-trip placed them.
func (e *Engine) drainInbound() {
	for {
		action, ok := e.inbound.TryPop()
		if !ok {
			return
		}
		switch action.Kind {
		case ActionUserInput:
			e.memory.Append(llm.UserMessage(action.Text))
		case ActionToolResults:
			e.memory.Append(action.Results...)
		case ActionStop:
			e.quit.Store(true)
			e.interrupted.Store(true)
		}
	}
}

func (e *Engine) ensureCeiling(ctx context.Context) {
	res := e.memory.EnsureCeiling(ctx)
	if res.Warning != "" {
		e.emitter.emit(EventWarning, map[string]interface{}{"message": res.Warning})
	}
}

// focusNext marks the next pending task in-progress when nothing is.
func (e *Engine) focusNext() {
	if e.tracker.InProgress() != nil {
		return
	}
	next := e.tracker.NextPending()
	if next == nil {
		return
	}
	if err := e.tracker.UpdateStatus(next.ID, tasks.StatusInProgress); err != nil {
		e.log.Warn("focus update failed", "task", next.ID, "error", err)
		return
	}
	e.emitter.emit(EventStatus, map[string]interface{}{
		"focus": next.Description, "task_id": next.ID,
	})
}

func (e *Engine) takeInterrupt() bool {
	return e.interrupted.Swap(false)
}

// pause reverts any in-progress task, persists memory, and hands
// control back at Idle with the conversation intact.
func (e *Engine) pause() State {
	e.tracker.RevertInProgress()
	if err := e.memory.PersistTurn(); err != nil {
		e.log.Warn("persist on pause failed", "error", err)
	}
	e.emitter.emit(EventStatus, map[string]interface{}{
		"message": "paused; task state saved",
	})
	return StateIdle
}
