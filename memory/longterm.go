package memory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// EntryKind classifies a long-term entry.
type EntryKind string

const (
	EntryPreference EntryKind = "preference"
	EntryDecision   EntryKind = "decision"
)

// LongTermEntry is a durable, append-only fact. Entries are created on
// explicit detection (the memorize tool), never auto-deleted.
type LongTermEntry struct {
	Kind EntryKind
	Text string
}

// LongTermStore manages the single durable text artifact holding
// cross-session experience. It is read wholly at session start and
// only ever appended to.
type LongTermStore struct {
	path string
	mu   sync.Mutex
}

// NewLongTermStore creates a store backed by the given file path.
func NewLongTermStore(path string) *LongTermStore {
	return &LongTermStore{path: path}
}

// Load returns the full artifact content, or "" when it does not exist.
func (s *LongTermStore) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("load long-term memory: %w", err)
	}
	return string(data), nil
}

// Append writes one entry as a new section. The file is never rewritten.
func (s *LongTermStore) Append(entry LongTermEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(entry.Text) == "" {
		return fmt.Errorf("append long-term memory: empty entry")
	}

	if dir := filepath.Dir(s.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("append long-term memory: %w", err)
		}
	}

	title := "Key Decision"
	if entry.Kind == EntryPreference {
		title = "User Preference"
	}
	section := fmt.Sprintf("\n## %s (%s)\n%s\n",
		title, time.Now().Format("2006-01-02 15:04"), strings.TrimSpace(entry.Text))

	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("append long-term memory: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString(section); err != nil {
		return fmt.Errorf("append long-term memory: %w", err)
	}
	return nil
}
