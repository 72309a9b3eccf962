package memory

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLongTermLoadMissingFile(t *testing.T) {
	store := NewLongTermStore(filepath.Join(t.TempDir(), "MEMORY.md"))
	content, err := store.Load()
	require.NoError(t, err)
	assert.Empty(t, content)
}

func TestLongTermAppendIsAppendOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "MEMORY.md")
	store := NewLongTermStore(path)

	require.NoError(t, store.Append(LongTermEntry{Kind: EntryPreference, Text: "prefer table tests"}))
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	require.NoError(t, store.Append(LongTermEntry{Kind: EntryDecision, Text: "sessions persist as JSON"}))
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(string(second), string(first)),
		"existing content must never be rewritten")
	assert.Contains(t, string(second), "## User Preference")
	assert.Contains(t, string(second), "## Key Decision")
	assert.Contains(t, string(second), "prefer table tests")
	assert.Contains(t, string(second), "sessions persist as JSON")
}

func TestLongTermRejectsEmptyEntry(t *testing.T) {
	store := NewLongTermStore(filepath.Join(t.TempDir(), "MEMORY.md"))
	assert.Error(t, store.Append(LongTermEntry{Kind: EntryDecision, Text: "   "}))
}

func TestLongTermCreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "MEMORY.md")
	store := NewLongTermStore(path)
	require.NoError(t, store.Append(LongTermEntry{Kind: EntryPreference, Text: "dark mode"}))

	content, err := store.Load()
	require.NoError(t, err)
	assert.Contains(t, content, "dark mode")
}
