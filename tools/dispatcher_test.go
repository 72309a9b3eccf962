package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yushui2022/easy-coding-agents/llm"
)

// scriptedDecider returns canned answers to decision requests.
type scriptedDecider struct {
	answers []string
	asked   int
	prompts []string
}

func (d *scriptedDecider) RequestDecision(ctx context.Context, prompt string, options []string, allowFreeText bool) (string, error) {
	d.prompts = append(d.prompts, prompt)
	if d.asked >= len(d.answers) {
		return "", errors.New("no scripted answer left")
	}
	answer := d.answers[d.asked]
	d.asked++
	return answer, nil
}

func newTestDispatcher(decider Decider) (*Dispatcher, *Registry, *Guard) {
	reg := NewRegistry()
	guard := NewGuard(10, 3)
	return NewDispatcher(reg, guard, decider, DefaultLimits(), nil), reg, guard
}

func echoTool(reg *Registry, name string) *atomic.Int32 {
	var calls atomic.Int32
	reg.Register(Definition{Name: name, Description: "echo"}, func(ctx context.Context, args json.RawMessage) (string, error) {
		calls.Add(1)
		return "echo:" + string(args), nil
	})
	return &calls
}

func call(name, args string) llm.ToolCall {
	return llm.ToolCall{ID: "call_" + name, Name: name, Arguments: json.RawMessage(args)}
}

func TestDispatchSuccess(t *testing.T) {
	d, reg, _ := newTestDispatcher(nil)
	echoTool(reg, "echo")

	out := d.Dispatch(context.Background(), call("echo", `{"v":1}`))
	require.NotNil(t, out.Message.ToolResult)
	assert.True(t, out.Message.ToolResult.OK)
	assert.Equal(t, "call_echo", out.Message.ToolResult.CallID)
	assert.Contains(t, out.Message.Content, `echo:{"v":1}`)
	assert.False(t, out.Stop)
}

func TestDispatchUnknownTool(t *testing.T) {
	d, _, _ := newTestDispatcher(nil)
	out := d.Dispatch(context.Background(), call("missing", `{}`))
	require.NotNil(t, out.Message.ToolResult)
	assert.False(t, out.Message.ToolResult.OK)
	assert.Contains(t, out.Message.Content, "unknown tool")
}

func TestDispatchToolErrorBecomesFailedResult(t *testing.T) {
	d, reg, _ := newTestDispatcher(nil)
	reg.Register(Definition{Name: "broken"}, func(ctx context.Context, args json.RawMessage) (string, error) {
		return "", errors.New("disk on fire")
	})

	out := d.Dispatch(context.Background(), call("broken", `{}`))
	require.NotNil(t, out.Message.ToolResult)
	assert.False(t, out.Message.ToolResult.OK)
	assert.Contains(t, out.Message.Content, "disk on fire")
}

func TestDispatchPanicRecovered(t *testing.T) {
	d, reg, _ := newTestDispatcher(nil)
	reg.Register(Definition{Name: "bomb"}, func(ctx context.Context, args json.RawMessage) (string, error) {
		panic("boom")
	})

	out := d.Dispatch(context.Background(), call("bomb", `{}`))
	require.NotNil(t, out.Message.ToolResult)
	assert.False(t, out.Message.ToolResult.OK)
	assert.Contains(t, out.Message.Content, "panicked")
}

func TestDispatchRepeatedPanicIsIntercepted(t *testing.T) {
	d, reg, _ := newTestDispatcher(nil)
	var executions atomic.Int32
	reg.Register(Definition{Name: "bomb"}, func(ctx context.Context, args json.RawMessage) (string, error) {
		executions.Add(1)
		panic("boom")
	})

	// Panicking calls executed, so they count toward repetition.
	for i := 0; i < 3; i++ {
		out := d.Dispatch(context.Background(), call("bomb", `{"same":true}`))
		assert.Contains(t, out.Message.Content, "panicked")
	}
	out := d.Dispatch(context.Background(), call("bomb", `{"same":true}`))

	assert.Equal(t, int32(3), executions.Load(), "4th call must not execute")
	assert.Contains(t, out.Message.Content, "repetition guard")
}

func TestDispatchFourthIdenticalCallIntercepted(t *testing.T) {
	decider := &scriptedDecider{answers: []string{ChoiceSkip}}
	d, reg, _ := newTestDispatcher(decider)
	calls := echoTool(reg, "echo")

	for i := 0; i < 3; i++ {
		out := d.Dispatch(context.Background(), call("echo", `{"same":true}`))
		assert.True(t, out.Message.ToolResult.OK)
	}
	out := d.Dispatch(context.Background(), call("echo", `{"same":true}`))

	assert.Equal(t, int32(3), calls.Load(), "4th call must not execute")
	assert.False(t, out.Message.ToolResult.OK)
	assert.Contains(t, out.Message.Content, "skipped by user")
	assert.Equal(t, 1, decider.asked)
}

func TestDispatchInterventionStop(t *testing.T) {
	decider := &scriptedDecider{answers: []string{ChoiceStop}}
	d, reg, _ := newTestDispatcher(decider)
	echoTool(reg, "echo")

	for i := 0; i < 3; i++ {
		d.Dispatch(context.Background(), call("echo", `{}`))
	}
	out := d.Dispatch(context.Background(), call("echo", `{}`))
	assert.True(t, out.Stop)
	assert.Contains(t, out.Message.Content, "stopped by user")
}

func TestDispatchInterventionRetryIgnoresGuardOnce(t *testing.T) {
	decider := &scriptedDecider{answers: []string{ChoiceRetry}}
	d, reg, _ := newTestDispatcher(decider)
	calls := echoTool(reg, "echo")

	for i := 0; i < 3; i++ {
		d.Dispatch(context.Background(), call("echo", `{}`))
	}
	out := d.Dispatch(context.Background(), call("echo", `{}`))

	assert.Equal(t, int32(4), calls.Load(), "retry must execute the call")
	assert.True(t, out.Message.ToolResult.OK)
	assert.False(t, out.Stop)
}

func TestDispatchInteractiveToolGetsReminder(t *testing.T) {
	decider := &scriptedDecider{}
	d, reg, guard := newTestDispatcher(decider)
	reg.Register(Definition{Name: "ask_user", Interactive: true}, func(ctx context.Context, args json.RawMessage) (string, error) {
		return "answer", nil
	})

	args := json.RawMessage(`{"question":"proceed?"}`)
	for i := 0; i < 3; i++ {
		guard.Record("ask_user", args)
	}

	out := d.Dispatch(context.Background(), llm.ToolCall{ID: "c1", Name: "ask_user", Arguments: args})
	assert.False(t, out.Message.ToolResult.OK)
	assert.Contains(t, out.Message.Content, "previous answer")
	assert.Zero(t, decider.asked, "interactive repeats inject a reminder, not a decision request")
}

func TestDispatchNilDeciderSkips(t *testing.T) {
	d, reg, _ := newTestDispatcher(nil)
	calls := echoTool(reg, "echo")

	for i := 0; i < 3; i++ {
		d.Dispatch(context.Background(), call("echo", `{}`))
	}
	out := d.Dispatch(context.Background(), call("echo", `{}`))
	assert.Equal(t, int32(3), calls.Load())
	assert.False(t, out.Message.ToolResult.OK)
	assert.Contains(t, out.Message.Content, "repetition guard")
}

func TestDispatchBatchSequentialStopsRemaining(t *testing.T) {
	decider := &scriptedDecider{answers: []string{ChoiceStop}}
	d, reg, guard := newTestDispatcher(decider)
	calls := echoTool(reg, "echo")
	echoTool(reg, "other")

	args := json.RawMessage(`{"same":true}`)
	for i := 0; i < 3; i++ {
		guard.Record("echo", args)
	}

	outcomes := d.DispatchBatch(context.Background(), []llm.ToolCall{
		{ID: "c1", Name: "echo", Arguments: args},
		{ID: "c2", Name: "other", Arguments: json.RawMessage(`{}`)},
	}, false)

	require.Len(t, outcomes, 2)
	assert.True(t, outcomes[0].Stop)
	assert.Contains(t, outcomes[1].Message.Content, "skipped: execution stopped by user")
	assert.Equal(t, int32(0), calls.Load())
}

func TestDispatchBatchIndependentPreservesOrder(t *testing.T) {
	d, reg, _ := newTestDispatcher(nil)
	for i := 0; i < 5; i++ {
		echoTool(reg, fmt.Sprintf("tool%d", i))
	}

	var batch []llm.ToolCall
	for i := 0; i < 5; i++ {
		batch = append(batch, llm.ToolCall{
			ID:        fmt.Sprintf("c%d", i),
			Name:      fmt.Sprintf("tool%d", i),
			Arguments: json.RawMessage(fmt.Sprintf(`{"i":%d}`, i)),
		})
	}

	outcomes := d.DispatchBatch(context.Background(), batch, true)
	require.Len(t, outcomes, 5)
	for i, o := range outcomes {
		require.NotNil(t, o.Message.ToolResult)
		assert.Equal(t, fmt.Sprintf("c%d", i), o.Message.ToolResult.CallID,
			"results must be reassembled in original call order")
	}
}

func TestDispatchBatchIndependentGuardIsConcurrencySafe(t *testing.T) {
	d, reg, _ := newTestDispatcher(nil)
	calls := echoTool(reg, "echo")

	// Every call in an independent batch touches the same guard from
	// its own goroutine; the race detector covers the rest.
	for iter := 0; iter < 20; iter++ {
		var batch []llm.ToolCall
		for i := 0; i < 8; i++ {
			batch = append(batch, llm.ToolCall{
				ID:        fmt.Sprintf("c%d", i),
				Name:      "echo",
				Arguments: json.RawMessage(fmt.Sprintf(`{"iter":%d,"i":%d}`, iter, i)),
			})
		}
		outcomes := d.DispatchBatch(context.Background(), batch, true)
		require.Len(t, outcomes, 8)
		for _, o := range outcomes {
			require.NotNil(t, o.Message.ToolResult)
			assert.True(t, o.Message.ToolResult.OK)
		}
	}
	assert.Equal(t, int32(160), calls.Load())
}
