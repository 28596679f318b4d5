package local

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apify/apify-mcp-server-sub001/internal/tasks"
)

func TestCreateAndGetTask(t *testing.T) {
	s := New()
	defer s.Close()

	task, err := s.CreateTask(tasks.CreateOptions{ID: "t1", SessionID: "s1", ToolName: "call-actor"})
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusSubmitted, task.Status)

	got, err := s.GetTask("t1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "call-actor", got.ToolName)
}

func TestSessionIsolation(t *testing.T) {
	s := New()
	defer s.Close()

	_, err := s.CreateTask(tasks.CreateOptions{ID: "t1", SessionID: "s1"})
	require.NoError(t, err)

	_, err = s.GetTask("t1", "s2")
	assert.ErrorIs(t, err, tasks.ErrNotFound)
}

func TestTerminalStateRejectsFurtherTransitions(t *testing.T) {
	s := New()
	defer s.Close()

	_, err := s.CreateTask(tasks.CreateOptions{ID: "t1", SessionID: "s1"})
	require.NoError(t, err)
	require.NoError(t, s.StoreResult("t1", "s1", tasks.StatusCompleted, "ok"))

	err = s.UpdateStatus("t1", "s1", tasks.StatusWorking, "")
	assert.ErrorIs(t, err, tasks.ErrTerminalTransition)
}

func TestStoreResultIdempotentOnSameValue(t *testing.T) {
	s := New()
	defer s.Close()

	_, err := s.CreateTask(tasks.CreateOptions{ID: "t1", SessionID: "s1"})
	require.NoError(t, err)
	require.NoError(t, s.StoreResult("t1", "s1", tasks.StatusCompleted, "ok"))
	require.NoError(t, s.StoreResult("t1", "s1", tasks.StatusCompleted, "ok"))

	result, err := s.GetResult("t1", "s1")
	require.NoError(t, err)
	assert.Equal(t, "ok", result)
}

func TestCancelFromNonTerminal(t *testing.T) {
	s := New()
	defer s.Close()

	_, err := s.CreateTask(tasks.CreateOptions{ID: "t1", SessionID: "s1"})
	require.NoError(t, err)
	require.NoError(t, s.Cancel("t1", "s1", "user requested"))

	got, err := s.GetTask("t1", "s1")
	require.NoError(t, err)
	assert.Equal(t, tasks.StatusCancelled, got.Status)

	err = s.Cancel("t1", "s1", "again")
	assert.ErrorIs(t, err, tasks.ErrTerminalTransition)
}

func TestGetResultBeforeTerminalFails(t *testing.T) {
	s := New()
	defer s.Close()

	_, err := s.CreateTask(tasks.CreateOptions{ID: "t1", SessionID: "s1"})
	require.NoError(t, err)

	_, err = s.GetResult("t1", "s1")
	assert.ErrorIs(t, err, tasks.ErrNotTerminal)
}
