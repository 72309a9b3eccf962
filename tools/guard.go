package tools

import (
	"encoding/json"
	"sync"
)

// Verdict is the guard's decision for a pending tool call.
type Verdict int

const (
	// VerdictAllow executes the call normally.
	VerdictAllow Verdict = iota
	// VerdictRemind blocks an interactive tool and injects a reminder
	// directing the model to act on the user's prior answer.
	VerdictRemind
	// VerdictAskUser blocks a non-interactive tool and surfaces a
	// user-facing choice among stop, retry, or skip.
	VerdictAskUser
)

// Guard detects repetitive tool calls. It keeps a sliding window of
// the last K executed signatures per tool; when the same signature
// recurs more than threshold consecutive times the guard intervenes
// instead of executing. Signatures live only in process memory. Safe
// for concurrent use; independent tool batches dispatch in parallel.
type Guard struct {
	window    int
	threshold int

	mu     sync.Mutex
	recent map[string][]string // tool name -> last window signatures
}

// NewGuard creates a guard. window bounds retained history per tool;
// threshold is the number of consecutive identical executions after
// which the next identical call is intercepted.
func NewGuard(window, threshold int) *Guard {
	if window <= 0 {
		window = 10
	}
	if threshold <= 0 {
		threshold = 3
	}
	return &Guard{
		window:    window,
		threshold: threshold,
		recent:    make(map[string][]string),
	}
}

// Check decides whether a call may execute. It does not record the
// call; Record is called only after actual execution.
func (g *Guard) Check(name string, args json.RawMessage, interactive bool) Verdict {
	sig := Signature(name, args)
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.consecutive(name, sig) < g.threshold {
		return VerdictAllow
	}
	if interactive {
		return VerdictRemind
	}
	return VerdictAskUser
}

// Record registers an executed call in the sliding window.
func (g *Guard) Record(name string, args json.RawMessage) {
	sig := Signature(name, args)
	g.mu.Lock()
	defer g.mu.Unlock()
	window := append(g.recent[name], sig)
	if len(window) > g.window {
		window = window[len(window)-g.window:]
	}
	g.recent[name] = window
}

// Reset clears the window for one tool. Used after the user elects to
// retry once ignoring the guard.
func (g *Guard) Reset(name string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.recent, name)
}

// consecutive counts how many trailing executions of the tool share
// the given signature. Callers hold mu.
func (g *Guard) consecutive(name, sig string) int {
	window := g.recent[name]
	count := 0
	for i := len(window) - 1; i >= 0; i-- {
		if window[i] != sig {
			break
		}
		count++
	}
	return count
}
