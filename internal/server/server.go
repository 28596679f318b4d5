// Package server implements the Server Core (spec §4.9, C9): binding the protocol to a
// transport, declaring capabilities, registering request handlers, and tearing down on
// SIGINT. Grounded on the teacher's own choice to hand-roll the wire protocol
// (mcpsvr/mcp/schema.go) rather than depend on a third-party MCP server framework for the
// message shapes — this package mirrors that by hand-rolling the JSON-RPC method-dispatch
// table too (the same "dispatch table keyed by name" idiom as
// mcpsvr/policies.go's toolNameToProcessPhaseFunc and the mcpsvr/v20250808.go route
// table), bound to stdio or streamable-HTTP/SSE framing instead of the teacher's
// API-versioned REST routes.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"

	"github.com/apify/apify-mcp-server-sub001/internal/catalog"
	"github.com/apify/apify-mcp-server-sub001/internal/dispatch"
	"github.com/apify/apify-mcp-server-sub001/internal/mcpproto"
	"github.com/apify/apify-mcp-server-sub001/internal/progress"
	"github.com/apify/apify-mcp-server-sub001/internal/registry"
	"github.com/apify/apify-mcp-server-sub001/internal/tasks"
)

// Capabilities is the fixed declaration of spec §6.
var Capabilities = map[string]interface{}{
	"tools": map[string]interface{}{"listChanged": true},
	"tasks": map[string]interface{}{
		"list":     map[string]interface{}{},
		"cancel":   map[string]interface{}{},
		"requests": map[string]interface{}{"tools": map[string]interface{}{"call": map[string]interface{}{}}},
	},
	"resources": map[string]interface{}{},
	"prompts":   map[string]interface{}{},
	"logging":   map[string]interface{}{},
}

// ToolLoader resolves the session's tool selectors through the catalog and upserts the
// result into Registry (spec §4.9 "load tools ... via the Tool Catalog").
type ToolLoader interface {
	Resolve(ctx context.Context, opts catalog.Options) ([]*registry.Entry, error)
}

// Server is the MCP protocol server bound to one transport instance.
type Server struct {
	Registry   *registry.Registry
	Dispatcher *dispatch.Dispatcher
	Tasks      tasks.Store
	Loader     ToolLoader
	LoadOptions catalog.Options
	UIMode     string
	Logger     *slog.Logger

	logLevel *slog.LevelVar

	mu       sync.Mutex
	sessions map[string]*session

	// toolOrder is the name order catalog.Resolve last computed (category/dependency
	// precedence, spec §8 property 4 and scenario S1: "tools/list returns entries in the
	// same order the catalog resolved them in"). Registry.List() deliberately makes no
	// ordering promise, so the order has to be remembered here at the point it's known.
	toolOrder []string

	// writeMu guards writes to the active stdio transport so that asynchronous
	// notifications/progress frames (emitted from a task's goroutine) never interleave
	// mid-write with a tools/call response (spec §5 "Progress notifications ... always
	// carry the progress token").
	writeMu sync.Mutex
	notify  func(method string, params interface{})
}

type session struct {
	id        string
	clientInfo string
	protocolVersion string
	authToken string
}

// New returns a Server with an adjustable log level, filtered per spec §4.9 ("a logging
// proxy that filters outbound log messages by the currently-set level").
func New(reg *registry.Registry, d *dispatch.Dispatcher, store tasks.Store, loader ToolLoader, uiMode string, logger *slog.Logger) *Server {
	lvl := &slog.LevelVar{}
	s := &Server{Registry: reg, Dispatcher: d, Tasks: store, Loader: loader, UIMode: uiMode, Logger: logger, logLevel: lvl, sessions: map[string]*session{}}
	if logger != nil {
		s.Logger = slog.New(s.LoggingHandler(logger.Handler()))
	}
	return s
}

// rpcRequest / rpcResponse are the minimal JSON-RPC 2.0 envelopes the spec's wire protocol
// rides on.
type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

const (
	errCodeInvalidParams = -32602
	errCodeInternal      = -32603
)

// Handle routes one JSON-RPC request for sess, returning nil when no response should be
// written (notifications, or a cancelled call per spec §5 "no response for a cancelled
// request").
func (s *Server) Handle(ctx context.Context, sess *session, req rpcRequest) *rpcResponse {
	var result interface{}
	var rpcErr *rpcError
	noResponse := false

	switch req.Method {
	case "initialize":
		result = s.handleInitialize(sess, req.Params)
	case "tools/list":
		result = s.handleToolsList()
	case "tools/call":
		result, rpcErr, noResponse = s.handleToolsCall(ctx, sess, req.Params)
	case "tasks/list":
		result, rpcErr = s.handleTasksList(sess, req.Params)
	case "tasks/get":
		result, rpcErr = s.handleTasksGet(sess, req.Params)
	case "tasks/get-payload":
		result, rpcErr = s.handleTasksGetPayload(sess, req.Params)
	case "tasks/cancel":
		result, rpcErr = s.handleTasksCancel(sess, req.Params)
	case "logging/set-level":
		result, rpcErr = s.handleLoggingSetLevel(req.Params)
	case "resources/list":
		result = mcpproto.ListResourcesResult{}
	case "prompts/list":
		result = mcpproto.ListPromptsResult{}
	default:
		rpcErr = &rpcError{Code: errCodeInvalidParams, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}

	if noResponse {
		return nil
	}
	if req.ID == nil {
		return nil // notification: never respond
	}
	return &rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result, Error: rpcErr}
}

func (s *Server) handleInitialize(sess *session, params json.RawMessage) interface{} {
	var p struct {
		ProtocolVersion string                `json:"protocolVersion"`
		ClientInfo      mcpproto.Implementation `json:"clientInfo"`
	}
	_ = json.Unmarshal(params, &p)
	sess.protocolVersion = p.ProtocolVersion
	sess.clientInfo = p.ClientInfo.Name

	return struct {
		ProtocolVersion string                  `json:"protocolVersion"`
		Capabilities    map[string]interface{}  `json:"capabilities"`
		ServerInfo      mcpproto.Implementation `json:"serverInfo"`
	}{
		ProtocolVersion: p.ProtocolVersion,
		Capabilities:    Capabilities,
		ServerInfo:      mcpproto.Implementation{Name: "apify-mcp-server", Version: "1.0.0"},
	}
}

// handleToolsList implements spec §4.9/§6's tool-list projection: public fields only,
// mode-dependent `_meta` filtering, in the catalog-resolved order (spec §8 property 4,
// scenario S1).
func (s *Server) handleToolsList() mcpproto.ListToolsResult {
	entries := s.orderedEntries()
	tools := make([]mcpproto.Tool, 0, len(entries))
	for _, e := range entries {
		tools = append(tools, e.ToMCP(s.UIMode))
	}
	return mcpproto.ListToolsResult{Tools: tools}
}

// orderedEntries returns the registry's current entries sorted by s.toolOrder (the order
// catalog.Resolve last produced), with any entry catalog.Resolve didn't place — added or
// left over through some other path — appended afterward in name order so nothing already
// in the registry is ever silently dropped from the list.
func (s *Server) orderedEntries() []*registry.Entry {
	s.mu.Lock()
	order := s.toolOrder
	s.mu.Unlock()

	byName := map[string]*registry.Entry{}
	for _, e := range s.Registry.List() {
		byName[e.Name] = e
	}

	out := make([]*registry.Entry, 0, len(byName))
	seen := make(map[string]bool, len(order))
	for _, name := range order {
		if e, ok := byName[name]; ok {
			out = append(out, e)
			seen[name] = true
		}
	}
	for _, name := range s.Registry.Names() {
		if !seen[name] {
			out = append(out, byName[name])
		}
	}
	return out
}

func (s *Server) handleToolsCall(ctx context.Context, sess *session, params json.RawMessage) (interface{}, *rpcError, bool) {
	var p mcpproto.CallToolRequestParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &rpcError{Code: errCodeInvalidParams, Message: err.Error()}, false
	}

	args := map[string]interface{}{}
	if p.Arguments != nil {
		args = *p.Arguments
	}

	req := dispatch.Request{
		ToolName:        p.Name,
		Arguments:       args,
		SessionID:       sess.id,
		AuthToken:       sess.authToken,
		WantsTask:       p.Task != nil && *p.Task,
		Transport:       "stdio",
		ProtocolVersion: sess.protocolVersion,
		ClientInfo:      sess.clientInfo,
	}
	if p.Meta != nil && p.Meta.ProgressToken != nil {
		req.ProgressToken = *p.Meta.ProgressToken
	}

	resp, err := s.Dispatcher.Dispatch(ctx, req, nil)
	if err != nil {
		return nil, &rpcError{Code: errCodeInternal, Message: err.Error()}, false
	}
	if resp.Aborted {
		return nil, nil, true // no response sent, per MCP cancellation rules
	}
	if resp.TaskHandle != nil {
		return mcpproto.CallToolTaskResult{Task: *resp.TaskHandle}, nil, false
	}
	return resp.Result, nil, false
}

func (s *Server) handleTasksList(sess *session, params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		Cursor string `json:"cursor"`
	}
	_ = json.Unmarshal(params, &p)
	page, err := s.Tasks.ListTasks(sess.id, p.Cursor)
	if err != nil {
		return nil, &rpcError{Code: errCodeInternal, Message: err.Error()}
	}
	summaries := make([]mcpproto.TaskSummary, 0, len(page.Tasks))
	for _, t := range page.Tasks {
		summaries = append(summaries, taskSummary(t))
	}
	result := mcpproto.ListTasksResult{Tasks: summaries}
	if page.NextCursor != "" {
		c := mcpproto.Cursor(page.NextCursor)
		result.NextCursor = &c
	}
	return result, nil
}

func (s *Server) handleTasksGet(sess *session, params json.RawMessage) (interface{}, *rpcError) {
	var p mcpproto.GetTaskRequestParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &rpcError{Code: errCodeInvalidParams, Message: err.Error()}
	}
	t, err := s.Tasks.GetTask(p.TaskID, sess.id)
	if err != nil {
		return nil, &rpcError{Code: errCodeInvalidParams, Message: err.Error()}
	}
	return mcpproto.GetTaskResult{TaskSummary: taskSummary(t)}, nil
}

func (s *Server) handleTasksGetPayload(sess *session, params json.RawMessage) (interface{}, *rpcError) {
	var p mcpproto.GetTaskPayloadRequestParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &rpcError{Code: errCodeInvalidParams, Message: err.Error()}
	}
	result, err := s.Tasks.GetResult(p.TaskID, sess.id)
	if err != nil {
		return nil, &rpcError{Code: errCodeInvalidParams, Message: err.Error()}
	}
	if res, ok := result.(*mcpproto.CallToolResult); ok && res != nil {
		return res, nil
	}
	return mcpproto.CallToolResult{}, nil
}

func (s *Server) handleTasksCancel(sess *session, params json.RawMessage) (interface{}, *rpcError) {
	var p mcpproto.CancelTaskRequestParams
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &rpcError{Code: errCodeInvalidParams, Message: err.Error()}
	}
	if err := s.Tasks.Cancel(p.TaskID, sess.id, "cancelled by client"); err != nil {
		return nil, &rpcError{Code: errCodeInvalidParams, Message: err.Error()}
	}
	t, err := s.Tasks.GetTask(p.TaskID, sess.id)
	if err != nil {
		return nil, &rpcError{Code: errCodeInvalidParams, Message: err.Error()}
	}
	return mcpproto.CancelTaskResult{TaskSummary: taskSummary(t)}, nil
}

func taskSummary(t *tasks.Task) mcpproto.TaskSummary {
	msg := t.StatusMessage
	return mcpproto.TaskSummary{
		TaskHandle:    mcpproto.TaskHandle{TaskID: t.ID, Status: mcpproto.TaskStatus(t.Status), CreatedAt: t.CreatedAt},
		StatusMessage: &msg,
	}
}

func (s *Server) handleLoggingSetLevel(params json.RawMessage) (interface{}, *rpcError) {
	var p struct {
		Level string `json:"level"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &rpcError{Code: errCodeInvalidParams, Message: err.Error()}
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(p.Level)); err != nil {
		return nil, &rpcError{Code: errCodeInvalidParams, Message: err.Error()}
	}
	s.logLevel.Set(lvl)
	return struct{}{}, nil
}

// LoggingHandler returns an slog.Handler that drops records below the level last set via
// logging/set-level (spec §4.9 "installs a logging proxy that filters outbound log
// messages by the currently-set level").
func (s *Server) LoggingHandler(inner slog.Handler) slog.Handler {
	return levelFilterHandler{inner: inner, level: s.logLevel}
}

type levelFilterHandler struct {
	inner slog.Handler
	level *slog.LevelVar
}

func (h levelFilterHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return level >= h.level.Level() && h.inner.Enabled(ctx, level)
}
func (h levelFilterHandler) Handle(ctx context.Context, r slog.Record) error { return h.inner.Handle(ctx, r) }
func (h levelFilterHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return levelFilterHandler{inner: h.inner.WithAttrs(attrs), level: h.level}
}
func (h levelFilterHandler) WithGroup(name string) slog.Handler {
	return levelFilterHandler{inner: h.inner.WithGroup(name), level: h.level}
}

// ServeStdio reads newline-delimited JSON-RPC requests from r and writes responses to w,
// injecting a fresh session id per spec §6 ("for stdio, a UUID is generated on connect").
// It installs a single SIGINT handler that cancels ctx and returns (spec §4.9).
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer, authToken string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	go func() {
		<-sigCh
		cancel()
	}()

	sess := &session{id: uuid.NewString(), authToken: authToken}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	enc := json.NewEncoder(w)

	s.notify = func(method string, params interface{}) {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		_ = enc.Encode(rpcNotification{JSONRPC: "2.0", Method: method, Params: params})
	}

	s.loadToolsForSession(ctx, authToken)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		var req rpcRequest
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			continue // malformed frame; skip rather than tear down the whole session
		}
		resp := s.Handle(ctx, sess, req)
		if resp == nil {
			continue
		}
		s.writeMu.Lock()
		err := enc.Encode(resp)
		s.writeMu.Unlock()
		if err != nil {
			return err
		}
	}
	return scanner.Err()
}

// rpcNotification is a JSON-RPC 2.0 notification (no id, no response expected).
type rpcNotification struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

// EmitProgress implements progress.Emitter (spec §4.8/§6 "emits notifications/progress").
// Bound into the Dispatcher by cmd/mcpserver so every Progress Tracker created for this
// server instance reports back over whichever transport is currently active.
func (s *Server) EmitProgress(token progress.Token, prog int64, message string) {
	if s.notify == nil {
		return
	}
	s.notify("notifications/progress", mcpproto.ProgressNotificationParams{
		ProgressToken: mcpproto.ProgressToken(token), Progress: float64(prog), Message: &message,
	})
}

// ServeHTTP implements the streamable-HTTP/SSE transport (spec §6): each request supplies
// its own session id via transport-level headers (spec §6 "for HTTP, the session id is
// provided by the transport").
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessID := r.Header.Get("Mcp-Session-Id")
	if sessID == "" {
		sessID = uuid.NewString()
		w.Header().Set("Mcp-Session-Id", sessID)
	}
	authToken := bearerToken(r.Header.Get("Authorization"))

	s.mu.Lock()
	sess, ok := s.sessions[sessID]
	if !ok {
		sess = &session{id: sessID, authToken: authToken}
		s.sessions[sessID] = sess
	}
	s.mu.Unlock()

	if !ok {
		if s.notify == nil {
			s.notify = func(method string, params interface{}) {
				s.writeMu.Lock()
				defer s.writeMu.Unlock()
				// Best-effort: the simple request/response HTTP transport has no open
				// stream to push an out-of-band notification on for an unrelated request;
				// dropping it here is the documented streaming gap of SPEC_FULL.md §10
				// (full SSE push is not implemented).
				if s.Logger != nil {
					s.Logger.Debug("http transport: notification dropped", "method", method)
				}
			}
		}
		s.loadToolsForSession(r.Context(), authToken)
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := s.Handle(r.Context(), sess, req)
	w.Header().Set("Content-Type", "application/json")
	if resp == nil {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	_ = json.NewEncoder(w).Encode(resp)
}

// loadToolsForSession resolves LoadOptions through the Tool Catalog and upserts the result
// (spec §4.9 "Load sequencing ... load tools ... via the Tool Catalog"). Failures are
// logged and otherwise non-fatal: a session with zero remote-job tools can still use
// whatever internal tools were selected.
func (s *Server) loadToolsForSession(ctx context.Context, authToken string) {
	if s.Loader == nil {
		return
	}
	opts := s.LoadOptions
	opts.AuthToken = authToken
	opts.UIMode = s.UIMode
	entries, err := s.Loader.Resolve(ctx, opts)
	if err != nil {
		if s.Logger != nil {
			s.Logger.Error("load tools", "error", err)
		}
		return
	}

	order := make([]string, 0, len(entries))
	for _, e := range entries {
		order = append(order, e.Name)
	}
	s.mu.Lock()
	s.toolOrder = order
	s.mu.Unlock()

	s.Registry.Upsert(entries, true)
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && header[:len(prefix)] == prefix {
		return header[len(prefix):]
	}
	return ""
}

// Close closes the registry and detaches handlers (spec §4.9 "On teardown, close the
// registry and detach handlers").
func (s *Server) Close() {
	s.Registry.Close()
}
