package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"

	"github.com/yushui2022/easy-coding-agents/engine"
	"github.com/yushui2022/easy-coding-agents/queue"
)

var (
	toolStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	warnStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
	errStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
	panelStyle   = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	promptStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("5")).Bold(true)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
)

// console is the terminal adapter: it renders outbound engine events
// and implements the decision port by prompting on stdin. One instance
// owns both streams so reads never race.
type console struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

func newConsole(in io.Reader, out io.Writer) *console {
	return &console{in: bufio.NewReader(in), out: out}
}

// RequestDecision prompts with numbered options plus optional free text
// and returns the chosen option or the typed answer.
func (c *console) RequestDecision(ctx context.Context, prompt string, options []string, allowFreeText bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintln(c.out)
	fmt.Fprintln(c.out, panelStyle.Render(prompt))
	for i, opt := range options {
		fmt.Fprintf(c.out, "  %d. %s\n", i+1, opt)
	}
	if allowFreeText && len(options) > 0 {
		fmt.Fprintln(c.out, dimStyle.Render("  (or type your own answer)"))
	}

	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		fmt.Fprint(c.out, promptStyle.Render("> "))
		line, err := c.in.ReadString('\n')
		if err != nil {
			return "", err
		}
		line = strings.TrimSpace(line)
		if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(options) {
			return options[n-1], nil
		}
		if line == "" && len(options) > 0 {
			continue
		}
		if !allowFreeText && len(options) > 0 {
			fmt.Fprintln(c.out, warnStyle.Render("pick one of the numbered options"))
			continue
		}
		return line, nil
	}
}

func (c *console) readLine(prompt string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprint(c.out, promptStyle.Render(prompt))
	return c.in.ReadString('\n')
}

func (c *console) notice(msg string) {
	fmt.Fprintln(c.out, dimStyle.Render("\n"+msg))
}

// renderLoop consumes the outbound buffer until it closes, signalling
// idle so the goal prompt reappears between runs.
func (c *console) renderLoop(ctx context.Context, events *queue.Queue[engine.Event], idle chan<- struct{}) {
	streaming := false
	for {
		ev, err := events.Pop(ctx)
		if err != nil {
			return
		}
		switch ev.Kind {
		case engine.EventTextDelta:
			streaming = true
			fmt.Fprint(c.out, str(ev.Data, "delta"))
		case engine.EventAssistantDone:
			if !streaming {
				if text := str(ev.Data, "text"); text != "" {
					fmt.Fprint(c.out, text)
				}
			}
			fmt.Fprintln(c.out)
			streaming = false
		case engine.EventToolCallStart:
			fmt.Fprintln(c.out, toolStyle.Render("→ "+str(ev.Data, "name")))
		case engine.EventToolCallEnd:
			mark := successStyle.Render("✓")
			if ok, isBool := ev.Data["ok"].(bool); isBool && !ok {
				mark = errStyle.Render("✗")
			}
			fmt.Fprintf(c.out, "%s %s %s\n", mark, str(ev.Data, "name"),
				dimStyle.Render(preview(str(ev.Data, "result"), 120)))
		case engine.EventPlanUpdated:
			fmt.Fprintln(c.out, panelStyle.Render(str(ev.Data, "plan")))
		case engine.EventCheckpoint:
			fmt.Fprintln(c.out, panelStyle.Render("Checkpoint\n\n"+str(ev.Data, "summary")))
		case engine.EventStatus:
			if focus := str(ev.Data, "focus"); focus != "" {
				fmt.Fprintln(c.out, dimStyle.Render("working on: "+focus))
			} else if msg := str(ev.Data, "message"); msg != "" {
				fmt.Fprintln(c.out, dimStyle.Render(msg))
			} else if sec, ok := ev.Data["elapsed_seconds"].(int); ok {
				fmt.Fprintln(c.out, dimStyle.Render(fmt.Sprintf("still thinking... (%ds)", sec)))
			}
		case engine.EventTurnLimit:
			fmt.Fprintln(c.out, warnStyle.Render("autonomous turn limit reached; pausing"))
		case engine.EventWarning:
			fmt.Fprintln(c.out, warnStyle.Render(str(ev.Data, "message")))
		case engine.EventError:
			fmt.Fprintln(c.out, errStyle.Render("error: "+str(ev.Data, "error")))
		case engine.EventStateChange:
			if str(ev.Data, "to") == string(engine.StateIdle) {
				select {
				case idle <- struct{}{}:
				default:
				}
			}
		case engine.EventSessionEnd:
			fmt.Fprintln(c.out, dimStyle.Render("session ended"))
		}
	}
}

func str(data map[string]interface{}, key string) string {
	if data == nil {
		return ""
	}
	s, _ := data[key].(string)
	return s
}

func preview(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
