// Package tasks maintains the ordered task list that keeps the
// autonomous loop on track. All mutation goes through the Tracker; the
// engine only reads statuses to decide loop continuation.
package tasks

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
	StatusBlocked    Status = "blocked"
)

// ErrTaskNotFound is returned when an operation names an unknown id.
// The list is left unmodified.
var ErrTaskNotFound = errors.New("tasks: task not found")

// ErrInProgressConflict is returned when a second task would be marked
// in-progress while another still is.
var ErrInProgressConflict = errors.New("tasks: another task is already in-progress")

// Task is one entry in the ordered list.
type Task struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	Status      Status `json:"status"`
	Notes       string `json:"notes,omitempty"`
}

// Terminal reports whether the task has reached a final status.
func (t Task) Terminal() bool {
	return t.Status == StatusDone || t.Status == StatusBlocked
}

// Tracker holds the ordered task list for the active goal.
type Tracker struct {
	tasks []Task
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// SetList replaces the whole list, used at planning time. Every task
// starts pending and receives a fresh id.
func (tr *Tracker) SetList(descriptions []string) []Task {
	tr.tasks = make([]Task, 0, len(descriptions))
	for _, d := range descriptions {
		tr.tasks = append(tr.tasks, Task{
			ID:          uuid.New().String()[:8],
			Description: d,
			Status:      StatusPending,
		})
	}
	return tr.Tasks()
}

// Tasks returns a copy of the list.
func (tr *Tracker) Tasks() []Task {
	out := make([]Task, len(tr.tasks))
	copy(out, tr.tasks)
	return out
}

// Len returns the number of tasks.
func (tr *Tracker) Len() int { return len(tr.tasks) }

// UpdateStatus changes one task's status. Marking a task in-progress
// while another is still in-progress fails; at most one task may be
// in-progress at a time.
func (tr *Tracker) UpdateStatus(id string, status Status) error {
	idx := tr.find(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if status == StatusInProgress {
		for i, t := range tr.tasks {
			if i != idx && t.Status == StatusInProgress {
				return fmt.Errorf("%w: %s", ErrInProgressConflict, t.ID)
			}
		}
	}
	tr.tasks[idx].Status = status
	return nil
}

// SetDescription mutates one task's description.
func (tr *Tracker) SetDescription(id, description string) error {
	idx := tr.find(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	tr.tasks[idx].Description = description
	return nil
}

// AppendNote adds a note line to one task.
func (tr *Tracker) AppendNote(id, note string) error {
	idx := tr.find(id)
	if idx < 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if tr.tasks[idx].Notes != "" {
		tr.tasks[idx].Notes += "\n"
	}
	tr.tasks[idx].Notes += note
	return nil
}

// NextPending returns the in-progress task if one exists, otherwise
// the first pending task, otherwise nil.
func (tr *Tracker) NextPending() *Task {
	for i := range tr.tasks {
		if tr.tasks[i].Status == StatusInProgress {
			t := tr.tasks[i]
			return &t
		}
	}
	for i := range tr.tasks {
		if tr.tasks[i].Status == StatusPending {
			t := tr.tasks[i]
			return &t
		}
	}
	return nil
}

// InProgress returns the currently in-progress task, or nil.
func (tr *Tracker) InProgress() *Task {
	for i := range tr.tasks {
		if tr.tasks[i].Status == StatusInProgress {
			t := tr.tasks[i]
			return &t
		}
	}
	return nil
}

// HasUnfinished reports whether any task is pending or in-progress.
func (tr *Tracker) HasUnfinished() bool {
	for _, t := range tr.tasks {
		if !t.Terminal() {
			return true
		}
	}
	return false
}

// AllDone reports whether every task reached a terminal status. An
// empty list counts as done.
func (tr *Tracker) AllDone() bool {
	return !tr.HasUnfinished()
}

// RevertInProgress moves any in-progress task back to pending. Used
// when an interrupt pauses the loop so no task is left in-progress
// indefinitely.
func (tr *Tracker) RevertInProgress() {
	for i := range tr.tasks {
		if tr.tasks[i].Status == StatusInProgress {
			tr.tasks[i].Status = StatusPending
		}
	}
}

// Render returns a textual view of the list for prompt injection.
func (tr *Tracker) Render() string {
	if len(tr.tasks) == 0 {
		return "(no active task list)"
	}
	var b strings.Builder
	b.WriteString("Current task list:\n")
	for i, t := range tr.tasks {
		marker := "[ ]"
		note := ""
		switch t.Status {
		case StatusDone:
			marker = "[x]"
			note = " (done - do not repeat)"
		case StatusInProgress:
			marker = "[>]"
			note = " (current focus)"
		case StatusBlocked:
			marker = "[!]"
			note = " (blocked)"
		}
		fmt.Fprintf(&b, "%d. %s %s (id=%s)%s\n", i+1, marker, t.Description, t.ID, note)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (tr *Tracker) find(id string) int {
	for i, t := range tr.tasks {
		if t.ID == id {
			return i
		}
	}
	return -1
}
