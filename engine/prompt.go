package engine

import (
	"strings"

	"github.com/yushui2022/easy-coding-agents/llm"
	"github.com/yushui2022/easy-coding-agents/tasks"
)

const defaultSystemPrompt = `You are an autonomous coding assistant. You break a goal into an
ordered task list with set_plan, then work through the tasks one at a
time, marking each in-progress with update_task before you start and
done when it is finished. Prefer acting over asking; use ask_user only
when a decision genuinely requires the user. Keep replies short and
concrete. When every task is done, summarize what changed and stop
calling tools.`

const planningNudge = `The user has given you a goal. Call set_plan now with an ordered list
of concrete subtasks. Do not start working until the plan is confirmed.`

const autonomyNudge = `There are unfinished tasks in your plan. Continue working on the next
one; do not wait for further user input.`

// buildSystemPrompt assembles the static part of the system message:
// base instructions plus the long-term memory artifact, when present.
func buildSystemPrompt(base, longTerm string) string {
	if base == "" {
		base = defaultSystemPrompt
	}
	if strings.TrimSpace(longTerm) == "" {
		return base
	}
	return base + "\n\n# Long-Term Memory\n\n" + longTerm
}

// systemStateMessage renders the current task list into a transient
// system message injected before each model call during execution. It is
// never appended to history, so it always reflects the live tracker.
func systemStateMessage(tracker *tasks.Tracker) llm.Message {
	var b strings.Builder
	b.WriteString("# Current Task State\n\n")
	b.WriteString(tracker.Render())
	if t := tracker.InProgress(); t != nil {
		b.WriteString("\n\nNext action: finish the in-progress task: " + t.Description)
	} else if t := tracker.NextPending(); t != nil {
		b.WriteString("\n\nNext action: mark the next pending task in-progress and start it: " + t.Description)
	}
	return llm.SystemMessage(b.String())
}
