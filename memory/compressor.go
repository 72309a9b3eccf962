package memory

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yushui2022/easy-coding-agents/llm"
)

// Digest is the structured summary produced by medium-term
// compression. The schema is fixed: intent, decisions, file changes,
// open items.
type Digest struct {
	Intent      string   `json:"intent"`
	Decisions   []string `json:"decisions,omitempty"`
	FileChanges []string `json:"file_changes,omitempty"`
	OpenItems   []string `json:"open_items,omitempty"`
}

// CompressionError signals that summarization failed; the manager
// falls back to hard truncation.
type CompressionError struct {
	Cause error
}

func (e *CompressionError) Error() string {
	return fmt.Sprintf("memory: compression failed: %v", e.Cause)
}

func (e *CompressionError) Unwrap() error { return e.Cause }

// summaryHeader marks synthetic summary messages so later passes can
// recognize them. Summaries are monotonic: once a span is summarized
// it is never re-expanded within the same session.
const summaryHeader = "[Conversation summary: earlier history was compressed to stay within the context budget]"

// Compressor is the medium-term tier: it sends a droppable span to the
// model and substitutes it with a single synthetic assistant message.
type Compressor struct {
	client llm.Client
	model  string
}

// NewCompressor creates a compressor using the given model collaborator.
func NewCompressor(client llm.Client, model string) *Compressor {
	return &Compressor{client: client, model: model}
}

// Summarize condenses a span of messages into one summary Message.
func (c *Compressor) Summarize(ctx context.Context, span []llm.Message) (llm.Message, error) {
	if len(span) == 0 {
		return llm.Message{}, &CompressionError{Cause: fmt.Errorf("empty span")}
	}

	req := llm.Request{
		Model: c.model,
		Messages: []llm.Message{
			llm.UserMessage(buildSummaryPrompt(span)),
		},
	}

	resp, err := c.client.Complete(ctx, req)
	if err != nil {
		return llm.Message{}, &CompressionError{Cause: err}
	}
	if resp.Empty() {
		return llm.Message{}, &CompressionError{Cause: llm.ErrEmptyResponse}
	}

	digest := ParseDigest(resp.Message.Content)
	return NewSummaryMessage(digest), nil
}

// NewSummaryMessage renders a Digest into the synthetic assistant
// message that replaces the summarized span.
func NewSummaryMessage(d Digest) llm.Message {
	var b strings.Builder
	b.WriteString(summaryHeader)
	b.WriteString("\n\n## Intent\n")
	b.WriteString(d.Intent)
	writeSection(&b, "Decisions", d.Decisions)
	writeSection(&b, "File Changes", d.FileChanges)
	writeSection(&b, "Open Items", d.OpenItems)
	msg := llm.AssistantMessage(b.String())
	msg.Timestamp = time.Now()
	return msg
}

// IsSummary reports whether a message is a synthetic summary.
func IsSummary(m llm.Message) bool {
	return m.Role == llm.RoleAssistant && strings.HasPrefix(m.Content, summaryHeader)
}

func writeSection(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	b.WriteString("\n\n## " + title + "\n")
	for _, it := range items {
		b.WriteString("- " + it + "\n")
	}
}

func buildSummaryPrompt(span []llm.Message) string {
	var b strings.Builder
	b.WriteString("Compress the following conversation history into a concise digest.\n")
	b.WriteString("Use exactly these markdown sections: ## Intent, ## Decisions, ## File Changes, ## Open Items.\n")
	b.WriteString("Each section after Intent is a bullet list. Omit a section only when truly empty.\n\nHistory:\n")
	for _, m := range span {
		b.WriteString(fmt.Sprintf("[%s] %s\n", m.Role, m.Content))
		for _, tc := range m.ToolCalls {
			b.WriteString(fmt.Sprintf("[%s called %s] %s\n", m.Role, tc.Name, string(tc.Arguments)))
		}
	}
	return b.String()
}

// ParseDigest extracts the fixed digest sections from model output.
// Unrecognized leading text is folded into Intent so a sloppy response
// still yields a usable digest.
func ParseDigest(text string) Digest {
	var d Digest
	section := "intent"
	var intent []string

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "## ") {
			switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(trimmed, "## "))) {
			case "intent", "background":
				section = "intent"
			case "decisions", "key decisions":
				section = "decisions"
			case "file changes", "progress":
				section = "files"
			case "open items", "current state", "pending":
				section = "open"
			default:
				section = "intent"
			}
			continue
		}
		if trimmed == "" {
			continue
		}
		item := strings.TrimSpace(strings.TrimPrefix(trimmed, "- "))
		switch section {
		case "intent":
			intent = append(intent, trimmed)
		case "decisions":
			d.Decisions = append(d.Decisions, item)
		case "files":
			d.FileChanges = append(d.FileChanges, item)
		case "open":
			d.OpenItems = append(d.OpenItems, item)
		}
	}

	d.Intent = strings.Join(intent, " ")
	return d
}
