package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/teilomillet/gollm"
)

// GollmClient implements Client on top of a gollm.LLM instance. It
// performs exactly one request per call; retries belong to the
// StreamHandler.
type GollmClient struct {
	provider string
	model    string
	llm      gollm.LLM
}

// NewGollmClient creates a client for the given provider and model.
// An empty apiKey lets gollm read it from the environment.
func NewGollmClient(provider, model, apiKey string) (*GollmClient, error) {
	opts := []gollm.ConfigOption{
		gollm.SetProvider(provider),
		gollm.SetModel(model),
		gollm.SetMaxRetries(0), // retries are handled by the StreamHandler
		gollm.SetLogLevel(gollm.LogLevelWarn),
	}
	if apiKey != "" {
		opts = append(opts, gollm.SetAPIKey(apiKey))
	}

	l, err := gollm.NewLLM(opts...)
	if err != nil {
		return nil, fmt.Errorf("create %s client: %w", provider, err)
	}
	return &GollmClient{provider: provider, model: model, llm: l}, nil
}

// Complete sends a blocking request and returns the full response.
func (c *GollmClient) Complete(ctx context.Context, req Request) (*Response, error) {
	prompt := c.translateRequest(req)
	c.applyRequestOptions(req)

	text, err := c.llm.Generate(ctx, prompt)
	if err != nil {
		return nil, c.translateError(err)
	}
	return c.buildResponse(req, text), nil
}

// Stream sends a request and returns a channel of stream events.
func (c *GollmClient) Stream(ctx context.Context, req Request) (<-chan StreamEvent, error) {
	prompt := c.translateRequest(req)
	c.applyRequestOptions(req)

	ch := make(chan StreamEvent, 64)

	if !c.llm.SupportsStreaming() {
		go func() {
			defer close(ch)
			text, err := c.llm.Generate(ctx, prompt)
			if err != nil {
				ch <- StreamEvent{Kind: EventError, Err: c.translateError(err)}
				return
			}
			resp := c.buildResponse(req, text)
			ch <- StreamEvent{Kind: EventTextDelta, Delta: resp.Message.Content}
			ch <- StreamEvent{Kind: EventDone, Response: resp}
		}()
		return ch, nil
	}

	stream, err := c.llm.Stream(ctx, prompt)
	if err != nil {
		return nil, c.translateError(err)
	}

	go func() {
		defer close(ch)
		defer stream.Close()

		var full strings.Builder
		for {
			token, err := stream.Next(ctx)
			if err == io.EOF {
				break
			}
			if err != nil {
				ch <- StreamEvent{Kind: EventError, Err: c.translateError(err)}
				return
			}
			if token == nil {
				continue
			}
			full.WriteString(token.Text)
			ch <- StreamEvent{Kind: EventTextDelta, Delta: token.Text}
		}

		resp := c.buildResponse(req, full.String())
		ch <- StreamEvent{Kind: EventDone, Response: resp}
	}()

	return ch, nil
}

// translateRequest converts a Request into a gollm Prompt. gollm takes
// one prompt string, so the conversation is flattened with role tags.
func (c *GollmClient) translateRequest(req Request) *gollm.Prompt {
	var system string
	var parts []string

	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem:
			system += msg.Content + "\n"
		case RoleUser:
			parts = append(parts, msg.Content)
		case RoleAssistant:
			if msg.Content != "" {
				parts = append(parts, "[Assistant]: "+msg.Content)
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, fmt.Sprintf("[Assistant called %s]: %s", tc.Name, string(tc.Arguments)))
			}
		case RoleTool:
			prefix := "[Tool Result]"
			if msg.ToolResult != nil && !msg.ToolResult.OK {
				prefix = "[Tool Error]"
			}
			parts = append(parts, prefix+": "+msg.Content)
		}
	}

	promptText := strings.Join(parts, "\n")
	if promptText == "" {
		promptText = "Hello"
	}

	opts := []gollm.PromptOption{}
	if system != "" {
		opts = append(opts, gollm.WithSystemPrompt(strings.TrimSpace(system), gollm.CacheTypeEphemeral))
	}
	if req.MaxTokens != nil {
		opts = append(opts, gollm.WithMaxLength(*req.MaxTokens))
	}
	if len(req.Tools) > 0 {
		tools := make([]gollm.Tool, 0, len(req.Tools))
		for _, t := range req.Tools {
			tools = append(tools, gollm.Tool{
				Type: "function",
				Function: gollm.Function{
					Name:        t.Name,
					Description: t.Description,
					Parameters:  t.Parameters,
				},
			})
		}
		opts = append(opts, gollm.WithTools(tools))
		opts = append(opts, gollm.WithToolChoice("auto"))
	}

	return gollm.NewPrompt(promptText, opts...)
}

func (c *GollmClient) applyRequestOptions(req Request) {
	if req.Model != "" {
		c.llm.SetOption("model", req.Model)
	}
	if req.Temperature != nil {
		c.llm.SetOption("temperature", *req.Temperature)
	}
	if req.MaxTokens != nil {
		c.llm.SetOption("max_tokens", *req.MaxTokens)
	}
}

// buildResponse constructs a Response, extracting tool calls that
// gollm returns embedded in the response text.
func (c *GollmClient) buildResponse(req Request, text string) *Response {
	model := req.Model
	if model == "" {
		model = c.model
	}

	calls := parseEmbeddedToolCalls(text)
	cleaned := text
	if len(calls) > 0 {
		cleaned = stripEmbeddedToolCalls(text)
	}

	msg := AssistantMessage(cleaned, calls...)
	inTokens := estimateRequestTokens(req)
	outTokens := len(text) / 4

	return &Response{
		ID:      "resp_" + uuid.New().String()[:8],
		Model:   model,
		Message: msg,
		Usage: Usage{
			InputTokens:  inTokens,
			OutputTokens: outTokens,
			TotalTokens:  inTokens + outTokens,
		},
	}
}

// parseEmbeddedToolCalls extracts tool calls that arrive as a JSON
// array in the response text.
func parseEmbeddedToolCalls(text string) []ToolCall {
	start := strings.Index(text, `[{"name"`)
	if start == -1 {
		return nil
	}

	var raw []struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal([]byte(text[start:]), &raw); err != nil {
		return nil
	}

	calls := make([]ToolCall, 0, len(raw))
	for _, rc := range raw {
		args := rc.Arguments
		if len(args) == 0 {
			args = json.RawMessage("{}")
		}
		calls = append(calls, ToolCall{
			ID:        "call_" + uuid.New().String()[:8],
			Name:      rc.Name,
			Arguments: args,
		})
	}
	return calls
}

func stripEmbeddedToolCalls(text string) string {
	if idx := strings.Index(text, `[{"name"`); idx != -1 {
		return strings.TrimSpace(text[:idx])
	}
	return text
}

// translateError classifies a gollm error into the taxonomy. gollm
// flattens provider errors into strings, so classification is by
// message content.
func (c *GollmClient) translateError(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	wrap := func(status int) error {
		e := ErrorFromStatusCode(status, msg, nil)
		return e
	}
	switch {
	case strings.Contains(lower, "401"), strings.Contains(lower, "unauthorized"),
		strings.Contains(lower, "invalid api key"), strings.Contains(lower, "403"):
		return wrap(401)
	case strings.Contains(lower, "429"), strings.Contains(lower, "rate limit"):
		return wrap(429)
	case strings.Contains(lower, "context length"), strings.Contains(lower, "too many tokens"):
		return wrap(413)
	case strings.Contains(lower, "400"), strings.Contains(lower, "invalid request"):
		return wrap(400)
	case strings.Contains(lower, "500"), strings.Contains(lower, "internal server"),
		strings.Contains(lower, "502"), strings.Contains(lower, "503"):
		return wrap(500)
	case strings.Contains(lower, "timeout"), strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "connection refused"), strings.Contains(lower, "eof"):
		return &TransportError{ClientError{Message: msg, Cause: err}}
	default:
		return &TransportError{ClientError{Message: msg, Cause: err}}
	}
}

func estimateRequestTokens(req Request) int {
	total := 0
	for _, msg := range req.Messages {
		total += len(msg.Content) / 4
	}
	if total == 0 {
		total = 10
	}
	return total
}
