// Package local implements an in-memory tasks.Store for the stdio transport, grounded on
// JeffreyRichter-MCP/mcpsvr/resources/localresources/store.go: a map guarded by a
// sync.RWMutex plus a background expiry sweep, generalized from ETag-guarded resource
// records to the Task Store's status state machine.
package local

import (
	"sync"
	"time"

	"github.com/apify/apify-mcp-server-sub001/internal/tasks"
)

type record struct {
	task      tasks.Task
	expiresAt time.Time
}

// Store is a process-local, single-replica Task Store. Valid only for the stdio transport
// (spec §6 "stdio may use an in-memory task store").
type Store struct {
	mu      sync.RWMutex
	records map[string]*record // key: sessionID + "\x00" + taskID

	stopSweep chan struct{}
}

// New returns a Store with a background expiry sweep running every minute, mirroring the
// teacher's localToolCallStore.expiry loop.
func New() *Store {
	s := &Store{records: map[string]*record{}, stopSweep: make(chan struct{})}
	go s.expiry()
	return s
}

// Close stops the background sweep. Safe to call once.
func (s *Store) Close() { close(s.stopSweep) }

func (s *Store) expiry() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSweep:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for k, r := range s.records {
				if !r.expiresAt.IsZero() && now.After(r.expiresAt) {
					delete(s.records, k)
				}
			}
			s.mu.Unlock()
		}
	}
}

func key(sessionID, taskID string) string { return sessionID + "\x00" + taskID }

func (s *Store) CreateTask(opts tasks.CreateOptions) (*tasks.Task, error) {
	t := &tasks.Task{
		ID:        opts.ID,
		SessionID: opts.SessionID,
		ToolName:  opts.ToolName,
		Status:    tasks.StatusSubmitted,
		CreatedAt: time.Now(),
		TTL:       opts.TTL,
		Request:   opts.Request,
	}
	r := &record{task: *t}
	if opts.TTL > 0 {
		r.expiresAt = t.CreatedAt.Add(opts.TTL)
	}
	s.mu.Lock()
	s.records[key(opts.SessionID, opts.ID)] = r
	s.mu.Unlock()
	return t, nil
}

func (s *Store) UpdateStatus(id, sessionID string, status tasks.Status, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key(sessionID, id)]
	if !ok {
		return tasks.ErrNotFound
	}
	if r.task.Status.Terminal() {
		return tasks.ErrTerminalTransition
	}
	r.task.Status = status
	r.task.StatusMessage = message
	return nil
}

func (s *Store) StoreResult(id, sessionID string, terminalStatus tasks.Status, result interface{}) error {
	if err := tasks.ValidateResultWrite(terminalStatus); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key(sessionID, id)]
	if !ok {
		return tasks.ErrNotFound
	}
	if r.task.Status.Terminal() && r.task.Status != terminalStatus {
		return tasks.ErrTerminalTransition
	}
	// Idempotent on repeated same-value writes (spec §4.5): re-storing the same terminal
	// status/result is a no-op success, not an error.
	r.task.Status = terminalStatus
	r.task.Result = result
	return nil
}

func (s *Store) GetTask(id, sessionID string) (*tasks.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[key(sessionID, id)]
	if !ok {
		return nil, tasks.ErrNotFound
	}
	cp := r.task
	return &cp, nil
}

func (s *Store) GetResult(id, sessionID string) (interface{}, error) {
	t, err := s.GetTask(id, sessionID)
	if err != nil {
		return nil, err
	}
	if !t.Status.Terminal() {
		return nil, tasks.ErrNotTerminal
	}
	return t.Result, nil
}

// ListTasks returns every task for sessionID. The in-memory backend has no natural
// pagination boundary, so it returns a single page; cursor is accepted but ignored.
func (s *Store) ListTasks(sessionID, _ string) (tasks.Page, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*tasks.Task
	for _, r := range s.records {
		if r.task.SessionID == sessionID {
			cp := r.task
			out = append(out, &cp)
		}
	}
	return tasks.Page{Tasks: out}, nil
}

func (s *Store) Cancel(id, sessionID, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[key(sessionID, id)]
	if !ok {
		return tasks.ErrNotFound
	}
	if r.task.Status.Terminal() {
		return tasks.ErrTerminalTransition
	}
	r.task.Status = tasks.StatusCancelled
	r.task.StatusMessage = message
	return nil
}

var _ tasks.Store = (*Store)(nil)
