// Package dispatch implements the Request Dispatcher (spec §4.6, C6): the per-call
// pipeline that authorizes, resolves, validates, decides sync-vs-task, executes, and
// classifies the outcome of every inbound tools/call. Grounded on the teacher's
// policy-chain idea (svrcore.Policy func(context.Context, *ReqRes) bool in
// svrcore/svrcore.go), adapted from an HTTP middleware chain into a fixed sequence of
// named steps specific to one MCP tool call rather than a generic chain any route can
// configure — the spec pins the exact steps, so a registrable-policy abstraction would
// only add indirection no caller needs.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/apify/apify-mcp-server-sub001/internal/actorrun"
	"github.com/apify/apify-mcp-server-sub001/internal/apifyclient"
	"github.com/apify/apify-mcp-server-sub001/internal/mcpproto"
	"github.com/apify/apify-mcp-server-sub001/internal/progress"
	"github.com/apify/apify-mcp-server-sub001/internal/registry"
	"github.com/apify/apify-mcp-server-sub001/internal/tasks"
)

// Status is the unified toolStatus taxonomy of spec §7.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSoftFail  Status = "soft_fail"
	StatusFailed    Status = "failed"
	StatusAborted   Status = "aborted"
)

// Telemetry receives one event per completed call (spec §4.6 step 7).
type Telemetry interface {
	Emit(event Event)
}

// Event is the per-call telemetry record (spec §4.6 step 7).
type Event struct {
	ToolName        string
	SessionID       string
	Transport       string
	ProtocolVersion string
	ClientInfo      string
	ExecutionTime   time.Duration
	Status          Status
}

// Request is the inbound call, already carrying the session/auth context the server core
// attached (spec §4.6 step 1 "authorize & enrich").
type Request struct {
	ToolName        string
	Arguments       map[string]interface{}
	SessionID       string
	ProgressToken   progress.Token
	AuthToken       string
	Unauthenticated bool
	RentedIDs       []string
	WantsTask       bool // caller requested task semantics (spec §4.6 step 4)

	Transport       string
	ProtocolVersion string
	ClientInfo      string
}

// Response is what the dispatcher hands back to the server core: either an immediate
// CallToolResult, a task handle (sync-vs-task decided "task"), or neither when the call
// was aborted (per MCP cancellation rules, the transport must send nothing in that case).
type Response struct {
	Result     *mcpproto.CallToolResult
	TaskHandle *mcpproto.TaskHandle
	Aborted    bool
}

// Dispatcher wires the registry, task store, execution engine and telemetry sink together.
type Dispatcher struct {
	Registry    *registry.Registry
	Tasks       tasks.Store
	Engine      *actorrun.Engine
	Telemetry   Telemetry
	EmitProgress progress.Emitter
	PlatformMaxMbytes int

	// DefaultToolTimeout is used when the tool declares none (spec §5 "defaults: 60s for a
	// tool call").
	DefaultToolTimeout time.Duration
}

// frame adapts one call's Request into the registry.Context / mcpproxy.RemoteContext
// handlers see.
type frame struct {
	req     Request
	tracker *progress.Tracker
}

func (f frame) Arguments() map[string]interface{} { return f.req.Arguments }
func (f frame) SessionID() string                  { return f.req.SessionID }
func (f frame) AuthToken() string                  { return f.req.AuthToken }

// Dispatch runs the full spec §4.6 pipeline for one tools/call request.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, abortSignal <-chan struct{}) (Response, error) {
	start := time.Now()

	entry, ok := d.Registry.Get(req.ToolName) // step 2
	if !ok {
		return Response{Result: unknownToolResult(req.ToolName, d.Registry.Names())}, nil
	}

	if entry.Validator != nil { // step 3
		if err := entry.Validator.Validate(req.Arguments); err != nil {
			d.telemetry(req, start, StatusSoftFail)
			return Response{Result: invalidArgumentsResult(err, entry.InputSchema)}, nil
		}
	}

	// step 4; a "required" tool always runs as a task
	wantsTask := (req.WantsTask || entry.Execution.TaskSupport == mcpproto.TaskSupportRequired) &&
		entry.Execution.TaskSupport != mcpproto.TaskSupportNone
	if wantsTask {
		return d.dispatchAsTask(ctx, req, entry, abortSignal, start)
	}

	if d.DefaultToolTimeout > 0 { // the task path above stays unbounded
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.DefaultToolTimeout)
		defer cancel()
	}

	tracker := progress.New(req.ProgressToken, d.EmitProgress, "")
	result, status := d.execute(ctx, req, entry, tracker, abortSignal)
	d.telemetry(req, start, status)
	if status == StatusAborted {
		return Response{Aborted: true}, nil
	}
	return Response{Result: result}, nil
}

// dispatchAsTask implements spec §4.6 step 6 / §5's "task creation must complete before
// execution starts; never schedule execution synchronously in the call handler".
func (d *Dispatcher) dispatchAsTask(ctx context.Context, req Request, entry *registry.Entry, abortSignal <-chan struct{}, start time.Time) (Response, error) {
	taskID := uuid.NewString()
	task, err := d.Tasks.CreateTask(tasks.CreateOptions{
		ID: taskID, SessionID: req.SessionID, ToolName: req.ToolName, Request: req.Arguments,
	})
	if err != nil {
		return Response{}, fmt.Errorf("dispatch: create task: %w", err)
	}

	go d.runTask(context.Background(), req, entry, task.ID, abortSignal, start) // deferred continuation (spec §5)

	return Response{TaskHandle: &mcpproto.TaskHandle{TaskID: task.ID, Status: mcpproto.TaskStatus(tasks.StatusSubmitted), CreatedAt: task.CreatedAt}}, nil
}

// runTask is the task-path execution of spec §4.6 step 6: a pre-flight cancellation check
// before transitioning to working, execute, then a second cancellation check before
// writing the result. Emits exactly one telemetry event per spec §4.6 step 7 ("one event
// per call") on every terminal branch, including the already-cancelled-before-start and
// cancelled-while-executing paths — a task-dispatched call is still a call.
func (d *Dispatcher) runTask(ctx context.Context, req Request, entry *registry.Entry, taskID string, abortSignal <-chan struct{}, start time.Time) {
	cancelled, err := tasks.IsCancelled(d.Tasks, taskID, req.SessionID)
	if err != nil || cancelled {
		d.telemetry(req, start, StatusAborted) // already cancelled before we even started
		return
	}
	if err := d.Tasks.UpdateStatus(taskID, req.SessionID, tasks.StatusWorking, ""); err != nil {
		d.telemetry(req, start, StatusFailed)
		return
	}

	tracker := progress.New(req.ProgressToken, d.EmitProgress, taskID)
	result, status := d.execute(ctx, req, entry, tracker, abortSignal)
	d.telemetry(req, start, status)

	cancelled, err = tasks.IsCancelled(d.Tasks, taskID, req.SessionID)
	if err != nil || cancelled {
		return // cancelled while we were executing; do not write a result over it
	}

	switch status {
	case StatusSucceeded, StatusSoftFail:
		_ = d.Tasks.StoreResult(taskID, req.SessionID, tasks.StatusCompleted, result)
	case StatusFailed:
		_ = d.Tasks.StoreResult(taskID, req.SessionID, tasks.StatusFailed, result)
	case StatusAborted:
		_ = d.Tasks.Cancel(taskID, req.SessionID, "execution aborted")
	}
}

// execute runs entry's handler (internal) or the Execution Engine (remote job), catching
// and classifying any error per spec §4.6 step 5 / §7.
func (d *Dispatcher) execute(ctx context.Context, req Request, entry *registry.Entry, tracker *progress.Tracker, abortSignal <-chan struct{}) (result *mcpproto.CallToolResult, status Status) {
	defer func() {
		if r := recover(); r != nil {
			result = errorResult(fmt.Sprintf("internal error: %v", r))
			status = StatusFailed
		}
	}()

	switch entry.Kind {
	case registry.KindInternal, registry.KindActorMCP:
		if entry.Handler == nil {
			return errorResult("tool has no handler"), StatusFailed
		}
		res, err := entry.Handler(frame{req: req, tracker: tracker})
		return classifyHandlerResult(res, err)

	case registry.KindActor:
		memory := entry.MemoryMbytes
		runResult, err := d.Engine.Execute(ctx, entry.ActorFullName, req.Arguments,
			apifyclient.CallOptions{MemoryMbytes: memory, PlatformMaxMbytes: d.PlatformMaxMbytes}, tracker, abortSignal)
		return classifyActorRunResult(runResult, err)

	default:
		return errorResult(fmt.Sprintf("unrecognized tool kind %q", entry.Kind)), StatusFailed
	}
}

func classifyHandlerResult(res *mcpproto.CallToolResult, err error) (*mcpproto.CallToolResult, Status) {
	if err != nil {
		return classifyError(err)
	}
	if res != nil && res.IsError != nil && *res.IsError {
		return res, StatusSoftFail
	}
	return res, StatusSucceeded
}

func classifyActorRunResult(run *actorrun.Result, err error) (*mcpproto.CallToolResult, Status) {
	if errors.Is(err, actorrun.ErrAborted) {
		return nil, StatusAborted
	}
	if err != nil {
		return classifyError(err)
	}
	return actorRunResultToMCP(run), StatusSucceeded
}

// classifyError implements spec §4.6 step 5 / §7's HTTP-status taxonomy.
func classifyError(err error) (*mcpproto.CallToolResult, Status) {
	var statusErr *apifyclient.StatusError
	if errors.As(err, &statusErr) {
		if statusErr.IsClientError() {
			return errorResult(statusErr.Error()), StatusSoftFail
		}
		return errorResult(statusErr.Error()), StatusFailed
	}
	return errorResult(err.Error()), StatusFailed
}

func actorRunResultToMCP(run *actorrun.Result) *mcpproto.CallToolResult {
	structured := map[string]interface{}{
		"runId":        run.RunID,
		"datasetId":    run.DatasetID,
		"itemCount":    run.ItemCount,
		"schema":       run.Schema,
		"previewItems": run.PreviewItems,
		"truncated":    run.Truncated,
	}
	return &mcpproto.CallToolResult{StructuredContent: &structured}
}

func errorResult(message string) *mcpproto.CallToolResult {
	isErr := true
	return &mcpproto.CallToolResult{
		Content: []mcpproto.ContentBlock{mcpproto.NewTextContent(message)},
		IsError: &isErr,
	}
}

// invalidArgumentsResult implements spec §7's soft_fail contract and scenario S3: the
// content carries the violation message, and the input schema rides along in
// StructuredContent so the caller can correct its next attempt without a second round
// trip to discover the shape.
func invalidArgumentsResult(validationErr error, schema mcpproto.JSONSchema) *mcpproto.CallToolResult {
	res := errorResult(fmt.Sprintf("invalid arguments: %s", validationErr.Error()))
	structured := map[string]interface{}{"inputSchema": schema}
	res.StructuredContent = &structured
	return res
}

// unknownToolResult implements spec §4.6 step 2: a structured error listing available
// tool names, treated as a user error rather than a fatal.
func unknownToolResult(name string, available []string) *mcpproto.CallToolResult {
	sort.Strings(available)
	return errorResult(fmt.Sprintf("unknown tool %q; available tools: %v", name, available))
}

func (d *Dispatcher) telemetry(req Request, start time.Time, status Status) {
	if d.Telemetry == nil {
		return
	}
	d.Telemetry.Emit(Event{
		ToolName: req.ToolName, SessionID: req.SessionID, Transport: req.Transport,
		ProtocolVersion: req.ProtocolVersion, ClientInfo: req.ClientInfo,
		ExecutionTime: time.Since(start), Status: status,
	})
}
