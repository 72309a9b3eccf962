package tools

import (
	"fmt"
	"strings"
)

// TruncationMode specifies how oversized output is cut.
type TruncationMode string

const (
	TruncateHeadTail TruncationMode = "head_tail"
	TruncateTail     TruncationMode = "tail"
)

// Limits configures per-tool output truncation.
type Limits struct {
	CharLimits map[string]int
	LineLimits map[string]int
	Modes      map[string]TruncationMode

	// DefaultChars applies to tools with no explicit entry.
	DefaultChars int
}

// DefaultLimits returns the standard truncation configuration.
func DefaultLimits() Limits {
	return Limits{
		DefaultChars: 30000,
		CharLimits: map[string]int{
			"read_file": 50000,
			"shell":     30000,
			"grep":      20000,
		},
		LineLimits: map[string]int{
			"shell": 256,
			"grep":  200,
		},
		Modes: map[string]TruncationMode{
			"read_file": TruncateHeadTail,
			"shell":     TruncateHeadTail,
			"grep":      TruncateTail,
		},
	}
}

// TruncateOutput applies character-based truncation.
func TruncateOutput(output string, maxChars int, mode TruncationMode) string {
	if len(output) <= maxChars {
		return output
	}
	removed := len(output) - maxChars
	switch mode {
	case TruncateTail:
		return fmt.Sprintf("[output truncated: first %d characters removed]\n\n", removed) +
			output[len(output)-maxChars:]
	default: // head_tail
		half := maxChars / 2
		return output[:half] +
			fmt.Sprintf("\n\n[output truncated: %d characters removed from the middle; re-run with narrower parameters if you need them]\n\n", removed) +
			output[len(output)-half:]
	}
}

// TruncateLines applies line-based truncation with a head/tail split.
func TruncateLines(output string, maxLines int) string {
	lines := strings.Split(output, "\n")
	if len(lines) <= maxLines {
		return output
	}
	head := maxLines / 2
	tail := maxLines - head
	omitted := len(lines) - head - tail
	return strings.Join(lines[:head], "\n") +
		fmt.Sprintf("\n[... %d lines omitted ...]\n", omitted) +
		strings.Join(lines[len(lines)-tail:], "\n")
}

// Apply runs the full truncation pipeline for a tool's output:
// character truncation first (handles pathological sizes), then line
// truncation for readability.
func (l Limits) Apply(toolName, output string) string {
	maxChars, ok := l.CharLimits[toolName]
	if !ok {
		maxChars = l.DefaultChars
	}
	if maxChars <= 0 {
		maxChars = 30000
	}
	mode, ok := l.Modes[toolName]
	if !ok {
		mode = TruncateHeadTail
	}
	out := TruncateOutput(output, maxChars, mode)
	if maxLines, ok := l.LineLimits[toolName]; ok && maxLines > 0 {
		out = TruncateLines(out, maxLines)
	}
	return out
}
