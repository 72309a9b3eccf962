package engine

import (
	"sync"
	"time"

	"github.com/yushui2022/easy-coding-agents/llm"
	"github.com/yushui2022/easy-coding-agents/queue"
)

// EventKind identifies the type of outbound engine event.
type EventKind string

const (
	EventStateChange   EventKind = "state_change"
	EventUserInput     EventKind = "user_input"
	EventTextDelta     EventKind = "assistant_text_delta"
	EventAssistantDone EventKind = "assistant_text_end"
	EventToolCallStart EventKind = "tool_call_start"
	EventToolCallEnd   EventKind = "tool_call_end"
	EventPlanUpdated   EventKind = "plan_updated"
	EventCheckpoint    EventKind = "checkpoint"
	EventStatus        EventKind = "status"
	EventTurnLimit     EventKind = "turn_limit"
	EventWarning       EventKind = "warning"
	EventError         EventKind = "error"
	EventSessionEnd    EventKind = "session_end"
)

// Event is a typed event pushed onto the outbound buffer for the UI.
type Event struct {
	Kind      EventKind              `json:"kind"`
	Timestamp time.Time              `json:"timestamp"`
	SessionID string                 `json:"session_id"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// emitter wraps the outbound queue. Pushing after close is a no-op so the
// loop never stalls on a departed consumer. The session id is guarded
// because Submit emits from arbitrary goroutines while resuming a
// previous session replaces the id.
type emitter struct {
	mu        sync.Mutex
	sessionID string
	out       *queue.Queue[Event]
}

func (e *emitter) setSessionID(id string) {
	e.mu.Lock()
	e.sessionID = id
	e.mu.Unlock()
}

func (e *emitter) emit(kind EventKind, data map[string]interface{}) {
	e.mu.Lock()
	id := e.sessionID
	e.mu.Unlock()
	_ = e.out.Push(Event{
		Kind:      kind,
		Timestamp: time.Now(),
		SessionID: id,
		Data:      data,
	})
}

// ActionKind identifies a unit of inbound work for the control loop.
type ActionKind string

const (
	ActionUserInput   ActionKind = "user_input"
	ActionToolResults ActionKind = "tool_results"
	ActionStop        ActionKind = "stop"
)

// Action is one item on the inbound buffer: user text, a batch of tool
// results re-enqueued by the loop itself, or a stop request.
type Action struct {
	Kind    ActionKind
	Text    string
	Results []llm.Message
}
