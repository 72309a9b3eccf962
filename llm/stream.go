package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// StreamHandler wraps one model call and exposes it as a restartable,
// finite sequence of events. It reassembles fragmented tool-call
// arguments, retries empty or malformed packets and transport faults
// under the shared RetryPolicy, and surfaces non-retryable API errors
// immediately. Retry counters are local to one call.
type StreamHandler struct {
	client         Client
	policy         RetryPolicy
	attemptTimeout time.Duration
}

// NewStreamHandler creates a handler over the given client. A zero
// attemptTimeout disables the per-attempt deadline.
func NewStreamHandler(client Client, policy RetryPolicy, attemptTimeout time.Duration) *StreamHandler {
	return &StreamHandler{client: client, policy: policy, attemptTimeout: attemptTimeout}
}

// Run performs the call and returns the event channel. The channel is
// closed after exactly one terminal Done or Error event. On a
// retryable failure the whole request is restarted; deltas already
// forwarded from a failed attempt must be discarded by the consumer
// when it sees the next attempt's output (the terminal Done carries
// the authoritative message).
func (h *StreamHandler) Run(ctx context.Context, req Request) <-chan StreamEvent {
	out := make(chan StreamEvent, 64)

	go func() {
		defer close(out)

		resp, err := Retry(ctx, h.policy, func(ctx context.Context) (*Response, error) {
			return h.attempt(ctx, req, out)
		})
		if err != nil {
			out <- StreamEvent{Kind: EventError, Err: err}
			return
		}

		for i := range resp.Message.ToolCalls {
			tc := resp.Message.ToolCalls[i]
			out <- StreamEvent{Kind: EventToolCallComplete, ToolCall: &tc}
		}
		out <- StreamEvent{Kind: EventDone, Response: resp}
	}()

	return out
}

// attempt performs a single underlying request, forwarding deltas to
// out and accumulating the final response.
func (h *StreamHandler) attempt(ctx context.Context, req Request, out chan<- StreamEvent) (*Response, error) {
	if h.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.attemptTimeout)
		defer cancel()
	}

	events, err := h.client.Stream(ctx, req)
	if err != nil {
		return nil, err
	}

	asm := newCallAssembler()
	var text strings.Builder
	var final *Response

	for ev := range events {
		switch ev.Kind {
		case EventTextDelta:
			text.WriteString(ev.Delta)
			out <- ev
		case EventToolCallDelta:
			asm.feed(ev)
			out <- ev
		case EventDone:
			final = ev.Response
		case EventError:
			if ev.Err != nil {
				return nil, ev.Err
			}
			return nil, &TransportError{ClientError{Message: "stream terminated with unspecified error"}}
		}
	}

	if final == nil {
		// Channel closed without a terminal event: connection reset
		// mid-stream. Retryable.
		return nil, &TransportError{ClientError{Message: "stream closed before completion"}}
	}

	// Prefer accumulated deltas and assembled calls when the adapter
	// streamed them; otherwise trust the final response as-is.
	if text.Len() > 0 && final.Message.Content == "" {
		final.Message.Content = text.String()
	}
	if calls := asm.calls(); len(calls) > 0 && len(final.Message.ToolCalls) == 0 {
		final.Message.ToolCalls = calls
	}

	if final.Empty() {
		return nil, fmt.Errorf("%w (model=%s)", ErrEmptyResponse, req.Model)
	}
	return final, nil
}

// callAssembler merges tool-call argument fragments delivered out of
// band into complete ToolCall values, keyed by stream index.
type callAssembler struct {
	partials map[int]*partialCall
}

type partialCall struct {
	id   string
	name string
	args strings.Builder
}

func newCallAssembler() *callAssembler {
	return &callAssembler{partials: make(map[int]*partialCall)}
}

func (a *callAssembler) feed(ev StreamEvent) {
	p, ok := a.partials[ev.Index]
	if !ok {
		p = &partialCall{}
		a.partials[ev.Index] = p
	}
	if ev.CallID != "" {
		p.id = ev.CallID
	}
	if ev.Name != "" {
		p.name += ev.Name
	}
	p.args.WriteString(ev.Delta)
}

func (a *callAssembler) calls() []ToolCall {
	if len(a.partials) == 0 {
		return nil
	}
	indexes := make([]int, 0, len(a.partials))
	for i := range a.partials {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	calls := make([]ToolCall, 0, len(indexes))
	for _, i := range indexes {
		p := a.partials[i]
		if p.name == "" {
			continue
		}
		id := p.id
		if id == "" {
			id = "call_" + uuid.New().String()[:8]
		}
		args := p.args.String()
		if args == "" || !json.Valid([]byte(args)) {
			args = "{}"
		}
		calls = append(calls, ToolCall{ID: id, Name: p.name, Arguments: json.RawMessage(args)})
	}
	return calls
}
