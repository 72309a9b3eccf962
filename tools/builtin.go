package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/yushui2022/easy-coding-agents/memory"
	"github.com/yushui2022/easy-coding-agents/tasks"
)

// RegisterBuiltins installs the tools the loop itself owns: task list
// management, long-term memory promotion, and the interactive question
// tools routed through the decision port. Everything else (files,
// shell, search) is registered by the host as an external collaborator.
func RegisterBuiltins(reg *Registry, tracker *tasks.Tracker, mem *memory.Manager, decider Decider) {
	reg.Register(Definition{
		Name:        "set_plan",
		Description: "Replace the task list with a new ordered plan. Use once per planning phase.",
		Parameters: objectSchema(map[string]interface{}{
			"tasks": map[string]interface{}{
				"type":        "array",
				"items":       map[string]interface{}{"type": "string"},
				"description": "Ordered subtask descriptions",
			},
		}, "tasks"),
	}, func(ctx context.Context, raw json.RawMessage) (string, error) {
		args, err := ParseArgs(raw)
		if err != nil {
			return "", err
		}
		descriptions, ok := StringSliceArg(args, "tasks")
		if !ok || len(descriptions) == 0 {
			return "", fmt.Errorf("set_plan: 'tasks' must be a non-empty string array")
		}
		list := tracker.SetList(descriptions)
		return fmt.Sprintf("plan set with %d tasks\n%s", len(list), tracker.Render()), nil
	})

	reg.Register(Definition{
		Name:        "update_task",
		Description: "Update the status of a task (pending, in-progress, done, blocked).",
		Parameters: objectSchema(map[string]interface{}{
			"id":     map[string]interface{}{"type": "string", "description": "Task id"},
			"status": map[string]interface{}{"type": "string", "enum": []string{"pending", "in-progress", "done", "blocked"}},
			"note":   map[string]interface{}{"type": "string", "description": "Optional progress note"},
		}, "id", "status"),
	}, func(ctx context.Context, raw json.RawMessage) (string, error) {
		args, err := ParseArgs(raw)
		if err != nil {
			return "", err
		}
		id, _ := StringArg(args, "id")
		status, _ := StringArg(args, "status")
		if err := tracker.UpdateStatus(id, tasks.Status(status)); err != nil {
			return "", err
		}
		if note, ok := StringArg(args, "note"); ok && note != "" {
			_ = tracker.AppendNote(id, note)
		}
		return fmt.Sprintf("task %s -> %s\n%s", id, status, tracker.Render()), nil
	})

	reg.Register(Definition{
		Name:        "list_tasks",
		Description: "Show the current task list and statuses.",
		Parameters:  objectSchema(map[string]interface{}{}),
	}, func(ctx context.Context, raw json.RawMessage) (string, error) {
		return tracker.Render(), nil
	})

	reg.Register(Definition{
		Name: "memorize",
		Description: "Save a durable user preference or key decision to long-term memory. " +
			"Use only for facts that should survive this session.",
		Parameters: objectSchema(map[string]interface{}{
			"kind": map[string]interface{}{"type": "string", "enum": []string{"preference", "decision"}},
			"text": map[string]interface{}{"type": "string", "description": "The fact to remember"},
		}, "kind", "text"),
	}, func(ctx context.Context, raw json.RawMessage) (string, error) {
		args, err := ParseArgs(raw)
		if err != nil {
			return "", err
		}
		kind, _ := StringArg(args, "kind")
		text, _ := StringArg(args, "text")
		entry := memory.LongTermEntry{Kind: memory.EntryKind(kind), Text: text}
		if err := mem.Promote(entry); err != nil {
			return "", err
		}
		return "saved to long-term memory", nil
	})

	reg.Register(Definition{
		Name:        "ask_user",
		Description: "Ask the user a free-text question. Use for clarification or confirmation.",
		Parameters: objectSchema(map[string]interface{}{
			"question": map[string]interface{}{"type": "string"},
		}, "question"),
		Interactive: true,
	}, func(ctx context.Context, raw json.RawMessage) (string, error) {
		args, err := ParseArgs(raw)
		if err != nil {
			return "", err
		}
		question, _ := StringArg(args, "question")
		return decider.RequestDecision(ctx, question, nil, true)
	})

	reg.Register(Definition{
		Name:        "ask_choice",
		Description: "Ask the user to pick one of several options.",
		Parameters: objectSchema(map[string]interface{}{
			"question": map[string]interface{}{"type": "string"},
			"options": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
		}, "question", "options"),
		Interactive: true,
	}, func(ctx context.Context, raw json.RawMessage) (string, error) {
		args, err := ParseArgs(raw)
		if err != nil {
			return "", err
		}
		question, _ := StringArg(args, "question")
		options, _ := StringSliceArg(args, "options")
		return decider.RequestDecision(ctx, question, options, true)
	})
}

func objectSchema(properties map[string]interface{}, required ...string) map[string]interface{} {
	schema := map[string]interface{}{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}
