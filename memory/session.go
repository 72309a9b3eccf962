package memory

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/yushui2022/easy-coding-agents/llm"
)

const (
	// defaultRetainMessages is how much history a session file keeps;
	// retention on disk is independent of the in-memory ceiling.
	defaultRetainMessages = 20

	// toolPreviewChars bounds persisted tool payloads and arguments.
	toolPreviewChars = 400
)

// SessionRecord is the on-disk representation of a snapshot.
type SessionRecord struct {
	ID        string        `json:"id"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	Messages  []llm.Message `json:"messages"`
}

// SessionStore persists session records as human-readable JSON files,
// one per session id, rewritten after every turn.
type SessionStore struct {
	dir    string
	retain int
}

// NewSessionStore creates the store, making the directory if needed.
// retain <= 0 uses the default of 20 messages.
func NewSessionStore(dir string, retain int) (*SessionStore, error) {
	if retain <= 0 {
		retain = defaultRetainMessages
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("session store: %w", err)
	}
	return &SessionStore{dir: dir, retain: retain}, nil
}

func (s *SessionStore) path(id string) string {
	return filepath.Join(s.dir, "session_"+id+".json")
}

// Save persists the record, truncating to the most recent retained
// messages and eliding long tool payloads to a bounded preview. The
// write is atomic (temp file + rename).
func (s *SessionStore) Save(rec *SessionRecord) error {
	out := *rec
	out.UpdatedAt = time.Now()

	msgs := rec.Messages
	if len(msgs) > s.retain {
		msgs = msgs[len(msgs)-s.retain:]
	}
	out.Messages = make([]llm.Message, len(msgs))
	for i, m := range msgs {
		out.Messages[i] = elideMessage(m)
	}

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return fmt.Errorf("session save: %w", err)
	}

	tmp := s.path(rec.ID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("session save: %w", err)
	}
	if err := os.Rename(tmp, s.path(rec.ID)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("session save: %w", err)
	}
	return nil
}

// Load reads a session record, returning at most limit of its most
// recent messages in original order. limit <= 0 returns all retained.
func (s *SessionStore) Load(id string, limit int) (*SessionRecord, error) {
	data, err := os.ReadFile(s.path(id))
	if err != nil {
		return nil, fmt.Errorf("session load: %w", err)
	}
	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("session load: %w", err)
	}
	if limit > 0 && len(rec.Messages) > limit {
		rec.Messages = rec.Messages[len(rec.Messages)-limit:]
	}
	return &rec, nil
}

// Latest returns the id of the most recently updated session, or ""
// when none exist.
func (s *SessionStore) Latest() (string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", fmt.Errorf("session latest: %w", err)
	}

	type candidate struct {
		id  string
		mod time.Time
	}
	var found []candidate
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "session_") || !strings.HasSuffix(name, ".json") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		id := strings.TrimSuffix(strings.TrimPrefix(name, "session_"), ".json")
		found = append(found, candidate{id: id, mod: info.ModTime()})
	}
	if len(found) == 0 {
		return "", nil
	}
	sort.Slice(found, func(i, j int) bool { return found[i].mod.After(found[j].mod) })
	return found[0].id, nil
}

// elideMessage bounds tool payloads and arguments for persistence.
func elideMessage(m llm.Message) llm.Message {
	if m.Role == llm.RoleTool && len(m.Content) > toolPreviewChars {
		preview := m.Content[:toolPreviewChars] +
			fmt.Sprintf("\n... [%d chars elided]", len(m.Content)-toolPreviewChars)
		m.Content = preview
		if m.ToolResult != nil {
			tr := *m.ToolResult
			tr.Content = preview
			m.ToolResult = &tr
		}
	}
	if len(m.ToolCalls) > 0 {
		calls := make([]llm.ToolCall, len(m.ToolCalls))
		copy(calls, m.ToolCalls)
		for i, tc := range calls {
			if len(tc.Arguments) > toolPreviewChars {
				elided, _ := json.Marshal(string(tc.Arguments[:toolPreviewChars]) + "... [elided]")
				calls[i].Arguments = elided
			}
		}
		m.ToolCalls = calls
	}
	return m
}
