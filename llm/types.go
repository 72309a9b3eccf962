// Package llm defines the boundary to the language-model collaborator:
// the message and request/response wire types, the error taxonomy, the
// shared retry policy, and the streaming response handler that the
// engine consumes one turn at a time.
package llm

import (
	"context"
	"encoding/json"
	"time"
)

// Role identifies who produced a message in a conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a model-initiated tool invocation.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolResult holds the outcome of executing one tool call.
type ToolResult struct {
	CallID  string `json:"call_id"`
	Content string `json:"content"`
	OK      bool   `json:"ok"`
}

// Message is the fundamental unit of conversation. Messages are
// immutable once appended to history; append order is the sole source
// of truth for sequencing.
type Message struct {
	Role       Role        `json:"role"`
	Content    string      `json:"content"`
	ToolCalls  []ToolCall  `json:"tool_calls,omitempty"`
	ToolResult *ToolResult `json:"tool_result,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// SystemMessage creates a system Message.
func SystemMessage(text string) Message {
	return Message{Role: RoleSystem, Content: text, Timestamp: time.Now()}
}

// UserMessage creates a user Message.
func UserMessage(text string) Message {
	return Message{Role: RoleUser, Content: text, Timestamp: time.Now()}
}

// AssistantMessage creates an assistant Message with optional tool calls.
func AssistantMessage(text string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: text, ToolCalls: calls, Timestamp: time.Now()}
}

// ToolResultMessage creates a tool Message wrapping one execution result.
func ToolResultMessage(callID, content string, ok bool) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		ToolResult: &ToolResult{CallID: callID, Content: content, OK: ok},
		Timestamp:  time.Now(),
	}
}

// ToolDefinition describes a tool for the model (serializable metadata).
type ToolDefinition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Request is the input to one model call.
type Request struct {
	Model       string           `json:"model"`
	Messages    []Message        `json:"messages"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Temperature *float64         `json:"temperature,omitempty"`
	MaxTokens   *int             `json:"max_tokens,omitempty"`
}

// Usage tracks token consumption reported (or estimated) per call.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Response is the final result of one model call.
type Response struct {
	ID      string  `json:"id"`
	Model   string  `json:"model"`
	Message Message `json:"message"`
	Usage   Usage   `json:"usage"`
}

// Empty reports whether the response carries neither text nor tool
// calls. Empty responses are treated as malformed packets and retried.
func (r *Response) Empty() bool {
	return r == nil || (r.Message.Content == "" && len(r.Message.ToolCalls) == 0)
}

// EventKind identifies the type of a streaming event.
type EventKind string

const (
	EventTextDelta        EventKind = "text_delta"
	EventToolCallDelta    EventKind = "tool_call_delta"
	EventToolCallComplete EventKind = "tool_call_complete"
	EventDone             EventKind = "done"
	EventError            EventKind = "error"
)

// StreamEvent is a single event from a streaming response. The sequence
// for one call is finite: deltas, then completed tool calls, then
// exactly one Done or Error.
type StreamEvent struct {
	Kind EventKind `json:"kind"`

	// Delta carries incremental text for EventTextDelta, or an
	// argument fragment for EventToolCallDelta.
	Delta string `json:"delta,omitempty"`

	// Index identifies which in-flight tool call a delta belongs to.
	Index int `json:"index,omitempty"`

	// Name is set on the first fragment of a tool call.
	Name string `json:"name,omitempty"`

	// CallID is set on the first fragment of a tool call.
	CallID string `json:"call_id,omitempty"`

	// ToolCall is the reassembled call for EventToolCallComplete.
	ToolCall *ToolCall `json:"tool_call,omitempty"`

	// Response is the final accumulated response for EventDone.
	Response *Response `json:"response,omitempty"`

	// Err is set for EventError.
	Err error `json:"-"`
}

// Client is the language-model collaborator boundary. Implementations
// perform exactly one request per call; retry and backoff live in the
// StreamHandler, not in the adapter.
type Client interface {
	// Complete sends a blocking request and returns the full response.
	Complete(ctx context.Context, req Request) (*Response, error)

	// Stream sends a request and returns a channel of stream events.
	// The channel is closed after the terminal Done or Error event.
	Stream(ctx context.Context, req Request) (<-chan StreamEvent, error)
}
