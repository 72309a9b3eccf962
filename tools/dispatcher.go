package tools

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/yushui2022/easy-coding-agents/llm"
)

// Decision option labels presented when the guard intercepts a
// non-interactive repeated call.
const (
	ChoiceStop  = "stop"
	ChoiceRetry = "retry once ignoring the guard"
	ChoiceSkip  = "skip and continue"
)

// Decider is the abstract "request user decision" port. The UI layer
// implements it; core logic only ever calls through this seam.
type Decider interface {
	RequestDecision(ctx context.Context, prompt string, options []string, allowFreeText bool) (string, error)
}

// Outcome reports both the tool-result message and whether the user
// elected to stop the autonomous loop.
type Outcome struct {
	Message llm.Message
	Stop    bool
}

// Dispatcher executes resolved tool calls through the registry,
// applying the repetition guard and output truncation. Every outcome
// becomes a tool-result message; tool-level failures are never
// propagated as errors.
type Dispatcher struct {
	registry *Registry
	guard    *Guard
	decider  Decider
	limits   Limits
	log      *slog.Logger
}

// NewDispatcher wires the dispatcher. decider may be nil, in which
// case guard interventions for non-interactive tools degrade to skip.
func NewDispatcher(registry *Registry, guard *Guard, decider Decider, limits Limits, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{registry: registry, guard: guard, decider: decider, limits: limits, log: log}
}

// Dispatch executes one tool call.
func (d *Dispatcher) Dispatch(ctx context.Context, call llm.ToolCall) Outcome {
	reg := d.registry.Get(call.Name)
	if reg == nil {
		return Outcome{Message: llm.ToolResultMessage(call.ID,
			fmt.Sprintf("unknown tool: %s", call.Name), false)}
	}

	switch d.guard.Check(call.Name, call.Arguments, reg.Definition.Interactive) {
	case VerdictRemind:
		d.log.Warn("repetitive interactive call intercepted", "tool", call.Name)
		return Outcome{Message: llm.ToolResultMessage(call.ID,
			"This question was already asked and answered. Read the user's "+
				"previous answer in the conversation and act on it instead of asking again.",
			false)}
	case VerdictAskUser:
		return d.intervene(ctx, call)
	}

	return Outcome{Message: d.execute(ctx, call)}
}

// DispatchBatch executes a batch of tool calls. Batches declared
// independent run concurrently; results are reassembled in original
// call order before being folded into history. Retries of tool calls
// are never automatic.
func (d *Dispatcher) DispatchBatch(ctx context.Context, calls []llm.ToolCall, independent bool) []Outcome {
	outcomes := make([]Outcome, len(calls))
	if !independent || len(calls) < 2 {
		for i, call := range calls {
			outcomes[i] = d.Dispatch(ctx, call)
			if outcomes[i].Stop {
				for j := i + 1; j < len(calls); j++ {
					outcomes[j] = Outcome{Message: llm.ToolResultMessage(calls[j].ID,
						"skipped: execution stopped by user", false)}
				}
				break
			}
		}
		return outcomes
	}

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		g.Go(func() error {
			outcomes[i] = d.Dispatch(gctx, call)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// intervene surfaces the stop/retry/skip choice for a repeated
// non-interactive call.
func (d *Dispatcher) intervene(ctx context.Context, call llm.ToolCall) Outcome {
	d.log.Warn("repetitive call intercepted", "tool", call.Name)
	if d.decider == nil {
		return Outcome{Message: llm.ToolResultMessage(call.ID,
			"repeated call skipped: identical invocation was blocked by the repetition guard", false)}
	}

	prompt := fmt.Sprintf("The tool %q has been called repeatedly with identical arguments. How should it proceed?", call.Name)
	choice, err := d.decider.RequestDecision(ctx, prompt, []string{ChoiceStop, ChoiceRetry, ChoiceSkip}, false)
	if err != nil {
		choice = ChoiceSkip
	}

	switch choice {
	case ChoiceStop:
		return Outcome{
			Message: llm.ToolResultMessage(call.ID, "execution stopped by user", false),
			Stop:    true,
		}
	case ChoiceRetry:
		d.guard.Reset(call.Name)
		return Outcome{Message: d.execute(ctx, call)}
	default:
		return Outcome{Message: llm.ToolResultMessage(call.ID,
			"call skipped by user; choose a different approach", false)}
	}
}

// execute runs the tool, recovering panics and converting every
// failure into a failed tool-result message.
func (d *Dispatcher) execute(ctx context.Context, call llm.ToolCall) (msg llm.Message) {
	defer func() {
		if r := recover(); r != nil {
			// The call did execute; it must count toward repetition.
			d.guard.Record(call.Name, call.Arguments)
			d.log.Error("tool panicked", "tool", call.Name, "panic", r)
			msg = llm.ToolResultMessage(call.ID, fmt.Sprintf("tool %s panicked: %v", call.Name, r), false)
		}
	}()

	reg := d.registry.Get(call.Name)
	output, err := reg.Func(ctx, call.Arguments)
	d.guard.Record(call.Name, call.Arguments)
	if err != nil {
		d.log.Warn("tool failed", "tool", call.Name, "error", err)
		return llm.ToolResultMessage(call.ID, fmt.Sprintf("tool error (%s): %v", call.Name, err), false)
	}

	return llm.ToolResultMessage(call.ID, d.limits.Apply(call.Name, output), true)
}
