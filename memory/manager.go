package memory

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/yushui2022/easy-coding-agents/llm"
)

// Config holds memory tier parameters.
type Config struct {
	// TokenCeiling is the soft budget for the short-term snapshot. It
	// must never be exceeded after a turn completes.
	TokenCeiling int

	// ProtectedTurns is the recent window (in user/assistant turns)
	// that the FIFO slide never drops.
	ProtectedTurns int

	// StartupMessages bounds how much history a resumed session loads.
	StartupMessages int
}

// CompressResult reports what a ceiling-enforcement pass did.
type CompressResult struct {
	Dropped       int
	Summarized    bool
	HardTruncated bool
	Warning       string
}

// Manager owns the short-term snapshot and mediates tiering. It is
// mutated exclusively by the engine's thread of control; the queues
// are the only concurrently shared structures in the core.
type Manager struct {
	cfg        Config
	est        *Estimator
	compressor *Compressor
	longTerm   *LongTermStore
	sessions   *SessionStore

	sessionID string
	createdAt time.Time
	messages  []llm.Message
	tokens    int
	log       *slog.Logger
}

// NewManager creates a manager for a fresh session. compressor may be
// nil, in which case ceiling enforcement degrades to FIFO plus hard
// truncation.
func NewManager(cfg Config, est *Estimator, compressor *Compressor, longTerm *LongTermStore, sessions *SessionStore, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		cfg:        cfg,
		est:        est,
		compressor: compressor,
		longTerm:   longTerm,
		sessions:   sessions,
		sessionID:  uuid.New().String(),
		createdAt:  time.Now(),
		log:        log,
	}
}

// SessionID returns the current session identifier.
func (m *Manager) SessionID() string { return m.sessionID }

// Tokens returns the running approximate token count.
func (m *Manager) Tokens() int { return m.tokens }

// Messages returns a copy of the snapshot messages.
func (m *Manager) Messages() []llm.Message {
	out := make([]llm.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Append adds messages to the snapshot and updates the token count.
func (m *Manager) Append(msgs ...llm.Message) {
	for _, msg := range msgs {
		m.messages = append(m.messages, msg)
		m.tokens += m.est.CountMessage(msg)
	}
}

// Resume loads the tail of the most recent persisted session into the
// fresh snapshot. Returns false when there is nothing to resume.
func (m *Manager) Resume() (bool, error) {
	if m.sessions == nil {
		return false, nil
	}
	latest, err := m.sessions.Latest()
	if err != nil || latest == "" {
		return false, err
	}
	rec, err := m.sessions.Load(latest, m.cfg.StartupMessages)
	if err != nil {
		return false, err
	}
	m.sessionID = rec.ID
	m.createdAt = rec.CreatedAt
	m.messages = rec.Messages
	m.tokens = m.est.CountMessages(rec.Messages)
	m.log.Info("session resumed", "session_id", rec.ID, "messages", len(rec.Messages))
	return true, nil
}

// LongTermContext returns the full long-term artifact for injection
// into the initial context of a new session.
func (m *Manager) LongTermContext() (string, error) {
	if m.longTerm == nil {
		return "", nil
	}
	return m.longTerm.Load()
}

// Promote appends a durable entry to the long-term store. Promotion
// happens only on explicit tool invocation, never by inference.
func (m *Manager) Promote(entry LongTermEntry) error {
	if m.longTerm == nil {
		return nil
	}
	return m.longTerm.Append(entry)
}

// PersistTurn serializes the current snapshot to the session store.
func (m *Manager) PersistTurn() error {
	if m.sessions == nil {
		return nil
	}
	return m.sessions.Save(&SessionRecord{
		ID:        m.sessionID,
		CreatedAt: m.createdAt,
		Messages:  m.messages,
	})
}

// EnsureCeiling enforces the token ceiling using the hybrid strategy:
// a pure FIFO slide of the oldest messages outside the protected
// recent window when that alone satisfies the ceiling; the medium-term
// compressor otherwise. Compression failure falls back to hard
// truncation of the oldest span so the ceiling is never left violated.
func (m *Manager) EnsureCeiling(ctx context.Context) CompressResult {
	var res CompressResult
	if m.cfg.TokenCeiling <= 0 || m.tokens <= m.cfg.TokenCeiling {
		return res
	}

	boundary := m.protectedBoundary()
	protectedTokens := m.est.CountMessages(m.messages[boundary:])

	if protectedTokens <= m.cfg.TokenCeiling {
		// FIFO is free and safe; drop only as many as needed.
		i := 0
		for m.tokens > m.cfg.TokenCeiling && i < boundary {
			m.tokens -= m.est.CountMessage(m.messages[i])
			i++
		}
		m.messages = m.messages[i:]
		res.Dropped = i
		m.log.Debug("memory fifo slide", "dropped", i, "tokens", m.tokens)
		return res
	}

	// FIFO cannot satisfy the ceiling without touching protected
	// content: summarize the droppable span instead.
	if m.compressor != nil && boundary > 0 {
		summary, err := m.compressor.Summarize(ctx, m.messages[:boundary])
		if err == nil {
			kept := make([]llm.Message, 0, len(m.messages)-boundary+1)
			kept = append(kept, summary)
			kept = append(kept, m.messages[boundary:]...)
			m.messages = kept
			m.tokens = m.est.CountMessages(m.messages)
			res.Summarized = true
			res.Dropped = boundary
			if m.tokens <= m.cfg.TokenCeiling {
				return res
			}
			// Summary plus protected window still over budget.
		} else {
			res.Warning = err.Error()
			m.log.Warn("memory compression failed, hard-truncating", "error", err)
		}
	}

	// Last resort: drop oldest messages regardless of protection. A
	// freshly produced summary stays; it is the only record of what was
	// already compressed away.
	for m.tokens > m.cfg.TokenCeiling && len(m.messages) > 1 {
		idx := 0
		if IsSummary(m.messages[0]) {
			idx = 1
		}
		m.tokens -= m.est.CountMessage(m.messages[idx])
		m.messages = append(m.messages[:idx], m.messages[idx+1:]...)
		res.Dropped++
	}
	res.HardTruncated = true
	if res.Warning == "" {
		res.Warning = "context over budget; oldest messages were dropped without summarization"
	}
	return res
}

// protectedBoundary returns the index of the first message inside the
// protected recent window.
func (m *Manager) protectedBoundary() int {
	if m.cfg.ProtectedTurns <= 0 {
		return len(m.messages)
	}
	turns := 0
	for i := len(m.messages) - 1; i >= 0; i-- {
		r := m.messages[i].Role
		if r == llm.RoleUser || r == llm.RoleAssistant {
			turns++
			if turns >= m.cfg.ProtectedTurns {
				return i
			}
		}
	}
	return 0
}
