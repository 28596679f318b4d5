// Package tasks implements the Task Store (spec §4.5, C5): the lifecycle of long-running
// tool calls (submitted -> working -> completed|failed|cancelled), session-isolated and
// backed by either an in-process map (stdio) or an external store (http/sse, multi
// replica). Grounded on the teacher's toolcall.Store contract
// (mcpsvr/mcp/toolcall/toolcall.go): Put/Get/Delete with access-condition preconditions,
// generalized here into the spec's named operations.
package tasks

import (
	"errors"
	"fmt"
	"time"
)

// Status is the fixed state-machine value of a Task Record (spec §4.5).
type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusWorking   Status = "working"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s can never transition further (spec §4.5 "reject transitions
// out of terminal states").
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Task is the persisted record of spec §6 "Persisted state layout":
// {taskId, sessionId, status, createdAt, ttl, statusMessage, result?}.
type Task struct {
	ID            string
	SessionID     string
	ToolName      string
	Status        Status
	StatusMessage string
	CreatedAt     time.Time
	TTL           time.Duration
	Request       map[string]interface{}
	Result        interface{} // only meaningful once Status is completed/failed
}

// ErrNotFound is returned for any operation addressing a task that doesn't exist, or that
// exists under a different sessionId (session isolation makes the two indistinguishable
// to the caller, per spec §4.5 "invisible to another [session]").
var ErrNotFound = errors.New("tasks: not found")

// ErrTerminalTransition is returned by UpdateStatus/Cancel when the task has already
// reached a terminal state (spec §4.5 "must reject transitions out of terminal states").
var ErrTerminalTransition = errors.New("tasks: task already in a terminal state")

// ErrNotTerminal is returned by GetResult when the task exists but has not reached
// completed/failed yet (spec S2: "task is not completed yet" — distinct from ErrNotFound
// so a cancelled task's payload request reports the right reason).
var ErrNotTerminal = errors.New("tasks: task is not completed yet")

// Page is one page of ListTasks.
type Page struct {
	Tasks      []*Task
	NextCursor string // empty means no further pages
}

// Store is the Task Store contract (spec §4.5). Every operation is scoped by sessionId;
// implementations must make records written under one session invisible to another.
type Store interface {
	// CreateTask inserts a new record with Status=submitted (spec §4.5 "createTask").
	CreateTask(opts CreateOptions) (*Task, error)

	// UpdateStatus transitions a task's status, rejecting any transition out of a terminal
	// state (spec §4.5 "updateTaskStatus"). Callers that might be racing a cancellation
	// must call GetTask first and check for StatusCancelled themselves — this method does
	// not retroactively "undo" a concurrent cancel, it only refuses to leave a terminal
	// state once written.
	UpdateStatus(id, sessionID string, status Status, message string) error

	// StoreResult writes a terminal result. terminalStatus must be completed or failed;
	// repeated calls with the same (status, result) are idempotent (spec §4.5
	// "storeTaskResult").
	StoreResult(id, sessionID string, terminalStatus Status, result interface{}) error

	GetTask(id, sessionID string) (*Task, error)

	// GetResult returns the stored result, only once the task is terminal.
	GetResult(id, sessionID string) (interface{}, error)

	ListTasks(sessionID, cursor string) (Page, error)

	// Cancel transitions a non-terminal task to cancelled with message, returning
	// ErrTerminalTransition if it has already reached a terminal state.
	Cancel(id, sessionID, message string) error
}

// CreateOptions is the input to Store.CreateTask.
type CreateOptions struct {
	ID        string
	SessionID string
	ToolName  string
	Request   map[string]interface{}
	TTL       time.Duration
}

// IsCancelled is the poll-check the Execution Engine must perform (a) immediately before
// transitioning to working and (b) before writing any result (spec §4.5 "Cancellation
// semantics").
func IsCancelled(store Store, id, sessionID string) (bool, error) {
	t, err := store.GetTask(id, sessionID)
	if err != nil {
		return false, err
	}
	return t.Status == StatusCancelled, nil
}

// ValidateResultWrite enforces the terminalStatus constraint shared by both backends.
func ValidateResultWrite(terminalStatus Status) error {
	if terminalStatus != StatusCompleted && terminalStatus != StatusFailed {
		return fmt.Errorf("tasks: storeResult requires completed or failed, got %q", terminalStatus)
	}
	return nil
}
