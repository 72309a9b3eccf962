// Package memory implements the three-tier conversation memory: the
// short-term snapshot with its token ceiling, the medium-term
// compressor that summarizes older spans, the long-term append-only
// store, and session persistence.
package memory

import (
	"github.com/pkoukk/tiktoken-go"

	"github.com/yushui2022/easy-coding-agents/llm"
)

// messageOverheadTokens approximates per-message framing cost.
const messageOverheadTokens = 4

// Estimator produces approximate token counts. Ceilings are soft
// budgets enforced via a consistent estimator, not a bit-exact match
// with any provider tokenizer.
type Estimator struct {
	enc *tiktoken.Tiktoken
}

// NewEstimator returns an estimator backed by the cl100k_base encoding
// when available, falling back to a chars/4 heuristic otherwise (the
// encoding tables may be unreachable offline).
func NewEstimator() *Estimator {
	enc, err := tiktoken.GetEncoding(tiktoken.MODEL_CL100K_BASE)
	if err != nil {
		return &Estimator{}
	}
	return &Estimator{enc: enc}
}

// Count estimates the token count of a text fragment.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if e.enc == nil {
		return (len(text) + 3) / 4
	}
	return len(e.enc.Encode(text, nil, nil))
}

// CountMessage estimates the token cost of one message including tool
// call arguments and framing overhead.
func (e *Estimator) CountMessage(m llm.Message) int {
	n := messageOverheadTokens + e.Count(m.Content)
	for _, tc := range m.ToolCalls {
		n += e.Count(tc.Name) + e.Count(string(tc.Arguments))
	}
	return n
}

// CountMessages sums CountMessage over a slice.
func (e *Estimator) CountMessages(msgs []llm.Message) int {
	total := 0
	for _, m := range msgs {
		total += e.CountMessage(m)
	}
	return total
}
