package tools

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yushui2022/easy-coding-agents/memory"
	"github.com/yushui2022/easy-coding-agents/tasks"
)

func builtinFixture(t *testing.T, decider Decider) (*Registry, *tasks.Tracker, *memory.Manager) {
	t.Helper()
	reg := NewRegistry()
	tracker := tasks.NewTracker()
	store := memory.NewLongTermStore(filepath.Join(t.TempDir(), "MEMORY.md"))
	mem := memory.NewManager(memory.Config{TokenCeiling: 100000}, memory.NewEstimator(), nil, store, nil, nil)
	RegisterBuiltins(reg, tracker, mem, decider)
	return reg, tracker, mem
}

func run(t *testing.T, reg *Registry, name, args string) (string, error) {
	t.Helper()
	tool := reg.Get(name)
	require.NotNil(t, tool, "tool %s not registered", name)
	return tool.Func(context.Background(), json.RawMessage(args))
}

func TestSetPlanPopulatesTracker(t *testing.T) {
	reg, tracker, _ := builtinFixture(t, nil)

	out, err := run(t, reg, "set_plan", `{"tasks":["write parser","add tests"]}`)
	require.NoError(t, err)
	assert.Contains(t, out, "2 tasks")
	require.Equal(t, 2, tracker.Len())
	assert.Equal(t, "write parser", tracker.Tasks()[0].Description)
}

func TestSetPlanRejectsEmptyList(t *testing.T) {
	reg, tracker, _ := builtinFixture(t, nil)
	_, err := run(t, reg, "set_plan", `{"tasks":[]}`)
	assert.Error(t, err)
	assert.Zero(t, tracker.Len())
}

func TestUpdateTask(t *testing.T) {
	reg, tracker, _ := builtinFixture(t, nil)
	list := tracker.SetList([]string{"a"})

	out, err := run(t, reg, "update_task",
		`{"id":"`+list[0].ID+`","status":"done","note":"finished early"}`)
	require.NoError(t, err)
	assert.Contains(t, out, "done")

	got := tracker.Tasks()[0]
	assert.Equal(t, tasks.StatusDone, got.Status)
	assert.Equal(t, "finished early", got.Notes)
}

func TestUpdateTaskUnknownID(t *testing.T) {
	reg, _, _ := builtinFixture(t, nil)
	_, err := run(t, reg, "update_task", `{"id":"nope","status":"done"}`)
	assert.ErrorIs(t, err, tasks.ErrTaskNotFound)
}

func TestListTasks(t *testing.T) {
	reg, tracker, _ := builtinFixture(t, nil)
	tracker.SetList([]string{"a", "b"})
	out, err := run(t, reg, "list_tasks", `{}`)
	require.NoError(t, err)
	assert.Contains(t, out, "a")
	assert.Contains(t, out, "b")
}

func TestMemorizePromotes(t *testing.T) {
	reg, _, mem := builtinFixture(t, nil)

	_, err := run(t, reg, "memorize", `{"kind":"preference","text":"always run gofmt"}`)
	require.NoError(t, err)

	content, err := mem.LongTermContext()
	require.NoError(t, err)
	assert.Contains(t, content, "always run gofmt")
	assert.Contains(t, content, "User Preference")
}

func TestAskUserRoutesThroughDecider(t *testing.T) {
	decider := &scriptedDecider{answers: []string{"go ahead"}}
	reg, _, _ := builtinFixture(t, decider)

	out, err := run(t, reg, "ask_user", `{"question":"may I delete the branch?"}`)
	require.NoError(t, err)
	assert.Equal(t, "go ahead", out)
	require.Len(t, decider.prompts, 1)
	assert.Contains(t, decider.prompts[0], "delete the branch")
}

func TestAskChoiceRoutesThroughDecider(t *testing.T) {
	decider := &scriptedDecider{answers: []string{"postgres"}}
	reg, _, _ := builtinFixture(t, decider)

	out, err := run(t, reg, "ask_choice", `{"question":"which db?","options":["sqlite","postgres"]}`)
	require.NoError(t, err)
	assert.Equal(t, "postgres", out)
}

func TestInteractiveToolsFlagged(t *testing.T) {
	reg, _, _ := builtinFixture(t, nil)
	assert.True(t, reg.Get("ask_user").Definition.Interactive)
	assert.True(t, reg.Get("ask_choice").Definition.Interactive)
	assert.False(t, reg.Get("set_plan").Definition.Interactive)
}
