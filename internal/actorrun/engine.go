// Package actorrun implements the Execution Engine for remote-job tool calls (spec §4.7,
// C7): start/wait/abort racing, paginated result fetch, shallow schema inference, and a
// character-budgeted preview. Grounded on the teacher's phase-processing loop
// (mcpsvr/tool_call_add.go's ProcessPhase state machine) generalized from a local counting
// demo to driving a real remote job to completion.
package actorrun

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/apify/apify-mcp-server-sub001/internal/apifyclient"
	"github.com/apify/apify-mcp-server-sub001/internal/catalog"
	"github.com/apify/apify-mcp-server-sub001/internal/progress"
	"github.com/apify/apify-mcp-server-sub001/internal/registry"
	"github.com/apify/apify-mcp-server-sub001/internal/schema"
)

const defaultPreviewCharBudget = 50_000

// Client is the subset of apifyclient.Client the engine needs, narrowed to an interface
// so tests can fake the remote platform.
type Client interface {
	StartRun(ctx context.Context, actorFullName string, input map[string]interface{}, opts apifyclient.CallOptions) (*apifyclient.Run, error)
	GetRun(ctx context.Context, runID string) (*apifyclient.Run, error)
	AbortRun(ctx context.Context, runID string, graceful bool) error
	ListDatasetItems(ctx context.Context, datasetID string, offset, limit int) (apifyclient.DatasetPage, error)
	GetDefaultBuildViews(ctx context.Context, actorFullName string) (map[string]apifyclient.StorageView, error)
}

// Result is spec §4.7 step 7's returned shape.
type Result struct {
	RunID         string
	DatasetID     string
	ItemCount     int
	Schema        map[string]interface{}
	PreviewItems  []map[string]interface{}
	Truncated     bool
}

// Engine runs one remote-job tool call end to end.
type Engine struct {
	Client           Client
	PlatformMaxMbytes int
	PageSize         int
	// PreviewCharBudget overrides the spec's ~50,000-char preview budget (spec §4.7 step
	// 6); zero means use the default.
	PreviewCharBudget int
}

// New returns an Engine with the spec's preview page size and char-budget defaults.
func New(client Client, platformMaxMbytes int) *Engine {
	return &Engine{Client: client, PlatformMaxMbytes: platformMaxMbytes, PageSize: 1000, PreviewCharBudget: defaultPreviewCharBudget}
}

func (e *Engine) previewBudget() int {
	if e.PreviewCharBudget > 0 {
		return e.PreviewCharBudget
	}
	return defaultPreviewCharBudget
}

// Execute drives one remote job call (spec §4.7 steps 1-7). abortSignal is closed to
// request cancellation; per MCP cancellation rules the caller must send no response when
// Execute returns ErrAborted.
func (e *Engine) Execute(ctx context.Context, actorFullName string, input map[string]interface{}, opts apifyclient.CallOptions, tracker *progress.Tracker, abortSignal <-chan struct{}) (*Result, error) {
	run, err := e.Client.StartRun(ctx, actorFullName, schema.DecodeArguments(input), opts)
	if err != nil {
		return nil, fmt.Errorf("actorrun: start: %w", err)
	}

	if tracker != nil {
		tracker.StartRunUpdates(ctx, runStatusAdapter{e.Client}, run.ID, 0)
		defer tracker.Stop()
	}

	finalRun, err := e.waitOrAbort(ctx, run.ID, abortSignal)
	if err != nil {
		return nil, err
	}
	if finalRun == nil {
		return nil, ErrAborted
	}

	items, err := e.fetchAllItems(ctx, finalRun.DatasetID)
	if err != nil {
		return nil, fmt.Errorf("actorrun: fetch items: %w", err)
	}

	views, err := e.Client.GetDefaultBuildViews(ctx, actorFullName)
	if err != nil {
		views = nil // non-fatal: preview projection just falls back to "keep everything" path
	}

	inferred := InferSchema(items)
	preview, truncated := BuildPreview(items, views, e.previewBudget())

	return &Result{
		RunID:        finalRun.ID,
		DatasetID:    finalRun.DatasetID,
		ItemCount:    len(items),
		Schema:       inferred,
		PreviewItems: preview,
		Truncated:    truncated,
	}, nil
}

// ErrAborted is returned when abortSignal fired before completion; per spec the dispatcher
// must send no response for the aborted call.
var ErrAborted = fmt.Errorf("actorrun: aborted")

// waitOrAbort races completion against abortSignal (spec §4.7 step 3). On abort it issues a
// non-graceful remote abort and returns (nil, nil) so the caller treats it as ErrAborted;
// failures of the abort RPC itself are logged here and otherwise ignored.
func (e *Engine) waitOrAbort(ctx context.Context, runID string, abortSignal <-chan struct{}) (*apifyclient.Run, error) {
	done := make(chan result, 1)
	pollCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		run, err := e.waitForCompletion(pollCtx, runID)
		done <- result{run, err}
	}()

	select {
	case <-abortSignal:
		cancel()
		if err := e.Client.AbortRun(context.Background(), runID, false); err != nil { // best-effort
			slog.Warn("actorrun: abort failed", "runId", runID, "error", err)
		}
		return nil, nil
	case r := <-done:
		return r.run, r.err
	case <-ctx.Done():
		cancel()
		if err := e.Client.AbortRun(context.Background(), runID, false); err != nil {
			slog.Warn("actorrun: abort failed", "runId", runID, "error", err)
		}
		return nil, nil
	}
}

type result struct {
	run *apifyclient.Run
	err error
}

func (e *Engine) waitForCompletion(ctx context.Context, runID string) (*apifyclient.Run, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		run, err := e.Client.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		if isTerminalStatus(run.Status) {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func isTerminalStatus(status string) bool {
	switch status {
	case "SUCCEEDED", "FAILED", "ABORTED", "TIMED-OUT":
		return true
	default:
		return false
	}
}

func (e *Engine) fetchAllItems(ctx context.Context, datasetID string) ([]map[string]interface{}, error) {
	var all []map[string]interface{}
	offset := 0
	for {
		page, err := e.Client.ListDatasetItems(ctx, datasetID, offset, e.PageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if len(page.Items) < e.PageSize {
			return all, nil
		}
		offset += len(page.Items)
	}
}

type runStatusAdapter struct{ c Client }

func (a runStatusAdapter) FetchRunStatus(ctx context.Context, runID string) (progress.RunStatus, error) {
	run, err := a.c.GetRun(ctx, runID)
	if err != nil {
		return progress.RunStatus{}, err
	}
	return progress.RunStatus{Status: run.Status, StatusMessage: run.StatusMessage}, nil
}

// Builder implements catalog.ActorToolBuilder, normalizing a fetched definition's input
// schema and wiring a Handler that calls Execute.
type Builder struct {
	Normalizer *schema.Normalizer
	Engine     *Engine
}

func (b *Builder) BuildActorTool(def *catalog.ActorDefinition) (*registry.Entry, error) {
	normalized, err := b.Normalizer.Normalize(def.FullName, def.InputSchema, nil)
	if err != nil {
		return nil, fmt.Errorf("actorrun: normalize %s: %w", def.FullName, err)
	}
	name := registry.EncodeActorName(def.FullName)
	return &registry.Entry{
		Kind:          registry.KindActor,
		Name:          name,
		Description:   def.Description,
		InputSchema:   normalized.Schema,
		Validator:     normalized.Validator,
		ActorFullName: def.FullName,
		MemoryMbytes:  def.MemoryMbytes,
	}, nil
}

var _ catalog.ActorToolBuilder = (*Builder)(nil)
