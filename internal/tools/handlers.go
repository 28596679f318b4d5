package tools

import (
	"context"
	"fmt"

	"github.com/apify/apify-mcp-server-sub001/internal/actorrun"
	"github.com/apify/apify-mcp-server-sub001/internal/apifyclient"
	"github.com/apify/apify-mcp-server-sub001/internal/mcpproto"
	"github.com/apify/apify-mcp-server-sub001/internal/registry"
)

func stringArg(args map[string]interface{}, key string) string {
	if v, ok := args[key].(string); ok {
		return v
	}
	return ""
}

func intArg(args map[string]interface{}, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

func textResult(text string) *mcpproto.CallToolResult {
	return &mcpproto.CallToolResult{Content: []mcpproto.ContentBlock{mcpproto.NewTextContent(text)}}
}

func structuredResult(text string, structured map[string]interface{}) *mcpproto.CallToolResult {
	return &mcpproto.CallToolResult{
		Content:           []mcpproto.ContentBlock{mcpproto.NewTextContent(text)},
		StructuredContent: &structured,
	}
}

// errResult implements spec §7's "user-visible failure behavior": the offending tool name
// and a pointer to the recovery tools. It does not include a schema.
func errResult(toolName, message string) *mcpproto.CallToolResult {
	isErr := true
	msg := fmt.Sprintf("%s: %s (try store-search or fetch-actor-details to find the right actor)", toolName, message)
	return &mcpproto.CallToolResult{
		Content: []mcpproto.ContentBlock{mcpproto.NewTextContent(msg)},
		IsError: &isErr,
	}
}

// --- store-search ---------------------------------------------------------------------

func storeSearchSchema() mcpproto.JSONSchema {
	return mcpproto.JSONSchema{
		"type": "object",
		"properties": map[string]interface{}{
			"search": map[string]interface{}{"type": "string", "description": "**REQUIRED** free-text search term"},
			"limit":  map[string]interface{}{"type": "number", "description": "max results, default 10"},
		},
		"required": []interface{}{"search"},
	}
}

func storeSearchEntry(deps Deps, name string, ui bool) *registry.Entry {
	return &registry.Entry{
		Kind:        registry.KindInternal,
		Name:        name,
		Description: "Search the Actor store by keyword, returning candidate actors to run with call-actor.",
		InputSchema: storeSearchSchema(),
		Validator:   mustCompile(name, storeSearchSchema()),
		Execution:   taskNone(),
		Meta:        uiMeta(ui),
		Handler:     storeSearchHandler(deps, name),
	}
}

func storeSearchHandler(deps Deps, name string) registry.Handler {
	return func(ctx registry.Context) (*mcpproto.CallToolResult, error) {
		args := ctx.Arguments()
		term := stringArg(args, "search")
		if term == "" {
			return errResult(name, "missing required field \"search\""), nil
		}
		limit := intArg(args, "limit", 10)
		hits, err := deps.Client.SearchActors(context.Background(), term, limit)
		if err != nil {
			return nil, err
		}
		items := make([]interface{}, 0, len(hits))
		for _, h := range hits {
			items = append(items, map[string]interface{}{
				"fullName": h.FullName, "title": h.Title, "description": h.Description, "username": h.Username,
			})
		}
		return structuredResult(fmt.Sprintf("found %d actors for %q", len(hits), term),
			map[string]interface{}{"items": items}), nil
	}
}

// --- fetch-actor-details ---------------------------------------------------------------

func fetchActorDetailsSchema() mcpproto.JSONSchema {
	return mcpproto.JSONSchema{
		"type": "object",
		"properties": map[string]interface{}{
			"actor": map[string]interface{}{"type": "string", "description": "**REQUIRED** actor full name (owner/name)"},
		},
		"required": []interface{}{"actor"},
	}
}

func fetchActorDetailsEntry(deps Deps, name string, ui bool) *registry.Entry {
	return &registry.Entry{
		Kind:        registry.KindInternal,
		Name:        name,
		Description: "Fetch an actor's title, description and input schema so a call-actor call can be built correctly.",
		InputSchema: fetchActorDetailsSchema(),
		Validator:   mustCompile(name, fetchActorDetailsSchema()),
		Execution:   taskNone(),
		Meta:        uiMeta(ui),
		Handler:     fetchActorDetailsHandler(deps, name),
	}
}

func fetchActorDetailsHandler(deps Deps, name string) registry.Handler {
	return func(ctx registry.Context) (*mcpproto.CallToolResult, error) {
		args := ctx.Arguments()
		actor := stringArg(args, "actor")
		if actor == "" {
			return errResult(name, "missing required field \"actor\""), nil
		}
		def, err := deps.Fetcher.FetchDefinition(context.Background(), actor)
		if err != nil {
			return nil, err
		}
		return structuredResult(fmt.Sprintf("details for %s", actor), map[string]interface{}{
			"fullName":    def.FullName,
			"title":       def.Title,
			"description": def.Description,
			"inputSchema": def.InputSchema,
		}), nil
	}
}

// --- call-actor ---------------------------------------------------------------------
//
// call-actor is the ad hoc invocation path: unlike the per-actor Tool Entries the catalog
// preloads for selected actors (registry.KindActor, fixed ActorFullName, own schema), this
// meta-tool accepts any actor identifier at call time and runs it through the same
// Execution Engine. Spec §4.3: "call-actor is forced-async with widget metadata in openai
// mode, synchronous without widget metadata in default mode" — the two Variants below share
// one input schema (checked by TestBuild_ModeVariantSchemaParity in tools_test.go) and differ only in
// Execution/Meta.

func callActorSchema() mcpproto.JSONSchema {
	return mcpproto.JSONSchema{
		"type": "object",
		"properties": map[string]interface{}{
			"actor": map[string]interface{}{"type": "string", "description": "**REQUIRED** actor full name (owner/name)"},
			"input": map[string]interface{}{"type": "object", "description": "actor input, validated against its own schema"},
			"memoryMbytes": map[string]interface{}{"type": "number", "description": "memory ceiling override"},
		},
		"required": []interface{}{"actor", "input"},
	}
}

func callActorEntry(deps Deps, openai bool) *registry.Entry {
	name := "call-actor"
	e := &registry.Entry{
		Kind:        registry.KindInternal,
		Name:        name,
		Description: "Run an actor by full name with the given input and wait for its result.",
		InputSchema: callActorSchema(),
		Validator:   mustCompile(name, callActorSchema()),
		Handler:     callActorHandler(deps),
	}
	if openai {
		e.Execution = mcpproto.ToolExecution{TaskSupport: mcpproto.TaskSupportRequired}
		e.Meta = mcpproto.Meta{"openai/outputTemplate": "actor-run-widget"}
	} else {
		e.Execution = taskOptional()
	}
	return e
}

func callActorHandler(deps Deps) registry.Handler {
	return func(ctx registry.Context) (*mcpproto.CallToolResult, error) {
		args := ctx.Arguments()
		actor := stringArg(args, "actor")
		if actor == "" {
			return errResult("call-actor", "missing required field \"actor\""), nil
		}
		input, _ := args["input"].(map[string]interface{})
		def, err := deps.Fetcher.FetchDefinition(context.Background(), actor)
		if err != nil {
			return nil, err
		}
		actorEntry, err := deps.Builder.BuildActorTool(def)
		if err != nil {
			return nil, err
		}
		if actorEntry.Validator != nil {
			if verr := actorEntry.Validator.Validate(input); verr != nil {
				return errResult("call-actor", fmt.Sprintf("invalid input for %s: %v", actor, verr)), nil
			}
		}
		var memory *int
		if m, ok := args["memoryMbytes"].(float64); ok {
			mm := int(m)
			memory = &mm
		}
		runResult, err := deps.Engine.Execute(context.Background(), actor, input,
			apifyclient.CallOptions{MemoryMbytes: memory, PlatformMaxMbytes: deps.PlatformMaxMbytes}, nil, nil)
		if err != nil {
			return nil, err
		}
		return structuredResult(fmt.Sprintf("run %s completed with %d items", runResult.RunID, runResult.ItemCount),
			map[string]interface{}{
				"runId": runResult.RunID, "datasetId": runResult.DatasetID,
				"itemCount": runResult.ItemCount, "schema": runResult.Schema,
				"previewItems": runResult.PreviewItems, "truncated": runResult.Truncated,
			}), nil
	}
}

// --- get-actor-run / get-actor-output ---------------------------------------------------

func runRefSchema() mcpproto.JSONSchema {
	return mcpproto.JSONSchema{
		"type": "object",
		"properties": map[string]interface{}{
			"runId": map[string]interface{}{"type": "string", "description": "**REQUIRED** run id returned by call-actor"},
		},
		"required": []interface{}{"runId"},
	}
}

func getActorRunEntry(deps Deps, openai bool) *registry.Entry {
	name := "get-actor-run"
	e := &registry.Entry{
		Kind:        registry.KindInternal,
		Name:        name,
		Description: "Check the status of a previously started actor run.",
		InputSchema: runRefSchema(),
		Validator:   mustCompile(name, runRefSchema()),
		Execution:   taskNone(),
		Handler:     getActorRunHandler(deps, name),
	}
	if openai {
		e.Meta = mcpproto.Meta{"openai/outputTemplate": "actor-run-status-widget"}
	}
	return e
}

func getActorRunHandler(deps Deps, name string) registry.Handler {
	return func(ctx registry.Context) (*mcpproto.CallToolResult, error) {
		runID := stringArg(ctx.Arguments(), "runId")
		if runID == "" {
			return errResult(name, "missing required field \"runId\""), nil
		}
		run, err := deps.Client.GetRun(context.Background(), runID)
		if err != nil {
			return nil, err
		}
		return structuredResult(fmt.Sprintf("run %s is %s", run.ID, run.Status), map[string]interface{}{
			"runId": run.ID, "status": run.Status, "statusMessage": run.StatusMessage, "datasetId": run.DatasetID,
		}), nil
	}
}

func getActorOutputEntry(deps Deps, openai bool) *registry.Entry {
	name := "get-actor-output"
	e := &registry.Entry{
		Kind:        registry.KindInternal,
		Name:        name,
		Description: "Fetch a size-bounded preview of a run's output dataset, with an inferred schema.",
		InputSchema: runRefSchema(),
		Validator:   mustCompile(name, runRefSchema()),
		Execution:   taskNone(),
		Handler:     getActorOutputHandler(deps, name),
	}
	if openai {
		e.Meta = mcpproto.Meta{"openai/outputTemplate": "actor-output-widget"}
	}
	return e
}

func getActorOutputHandler(deps Deps, name string) registry.Handler {
	return func(ctx registry.Context) (*mcpproto.CallToolResult, error) {
		runID := stringArg(ctx.Arguments(), "runId")
		if runID == "" {
			return errResult(name, "missing required field \"runId\""), nil
		}
		run, err := deps.Client.GetRun(context.Background(), runID)
		if err != nil {
			return nil, err
		}
		page, err := deps.Client.ListDatasetItems(context.Background(), run.DatasetID, 0, 1000)
		if err != nil {
			return nil, err
		}
		views, err := deps.Client.GetDefaultBuildViews(context.Background(), run.ID)
		if err != nil {
			views = nil // best-effort: a missing build-views lookup still returns the raw items
		}
		budget := deps.PreviewCharBudget
		if budget <= 0 {
			budget = 50000
		}
		preview, truncated := actorrun.BuildPreview(page.Items, views, budget)
		return structuredResult(fmt.Sprintf("%d items from run %s", len(page.Items), run.ID), map[string]interface{}{
			"runId": run.ID, "datasetId": run.DatasetID, "itemCount": len(page.Items),
			"schema": actorrun.InferSchema(page.Items), "previewItems": preview, "truncated": truncated,
		}), nil
	}
}

// --- docs-search / fetch-apify-docs -----------------------------------------------------

func docsSearchSchema() mcpproto.JSONSchema {
	return mcpproto.JSONSchema{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{"type": "string", "description": "**REQUIRED** documentation search query"},
			"limit": map[string]interface{}{"type": "number", "description": "max results, default 5"},
		},
		"required": []interface{}{"query"},
	}
}

func docsSearchEntry(deps Deps) *registry.Entry {
	name := "docs-search"
	return &registry.Entry{
		Kind:        registry.KindInternal,
		Name:        name,
		Description: "Search Apify documentation, returning candidate page paths for fetch-apify-docs.",
		InputSchema: docsSearchSchema(),
		Validator:   mustCompile(name, docsSearchSchema()),
		Execution:   taskNone(),
		Handler:     docsSearchHandler(deps, name),
	}
}

func docsSearchHandler(deps Deps, name string) registry.Handler {
	return func(ctx registry.Context) (*mcpproto.CallToolResult, error) {
		query := stringArg(ctx.Arguments(), "query")
		if query == "" {
			return errResult(name, "missing required field \"query\""), nil
		}
		limit := intArg(ctx.Arguments(), "limit", 5)
		pages, err := deps.Client.SearchApifyDocs(context.Background(), query, limit)
		if err != nil {
			return nil, err
		}
		items := make([]interface{}, 0, len(pages))
		for _, p := range pages {
			items = append(items, map[string]interface{}{"path": p.Path, "title": p.Title})
		}
		return structuredResult(fmt.Sprintf("found %d docs pages for %q", len(pages), query),
			map[string]interface{}{"items": items}), nil
	}
}

func fetchApifyDocsSchema() mcpproto.JSONSchema {
	return mcpproto.JSONSchema{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string", "description": "**REQUIRED** documentation page path, from docs-search"},
		},
		"required": []interface{}{"path"},
	}
}

func fetchApifyDocsEntry(deps Deps) *registry.Entry {
	name := "fetch-apify-docs"
	return &registry.Entry{
		Kind:        registry.KindInternal,
		Name:        name,
		Description: "Fetch the full content of one Apify documentation page by path.",
		InputSchema: fetchApifyDocsSchema(),
		Validator:   mustCompile(name, fetchApifyDocsSchema()),
		Execution:   taskNone(),
		Handler:     fetchApifyDocsHandler(deps, name),
	}
}

func fetchApifyDocsHandler(deps Deps, name string) registry.Handler {
	return func(ctx registry.Context) (*mcpproto.CallToolResult, error) {
		path := stringArg(ctx.Arguments(), "path")
		if path == "" {
			return errResult(name, "missing required field \"path\""), nil
		}
		page, err := deps.Client.FetchApifyDocs(context.Background(), path)
		if err != nil {
			return nil, err
		}
		return structuredResult(page.Content, map[string]interface{}{"path": page.Path, "title": page.Title}), nil
	}
}

// --- add-actor / remove-actor (spec §6 "enableAddingActors") ----------------------------

func actorRefSchema() mcpproto.JSONSchema {
	return mcpproto.JSONSchema{
		"type": "object",
		"properties": map[string]interface{}{
			"actor": map[string]interface{}{"type": "string", "description": "**REQUIRED** actor full name (owner/name)"},
		},
		"required": []interface{}{"actor"},
	}
}

func addActorEntry(deps Deps) *registry.Entry {
	name := "add-actor"
	return &registry.Entry{
		Kind: registry.KindInternal, Name: name,
		Description: "Fetch an actor's definition and add it as a tool for the rest of this session.",
		InputSchema: actorRefSchema(),
		Validator:   mustCompile(name, actorRefSchema()),
		Annotations: &mcpproto.ToolAnnotations{DestructiveHint: boolPtr(false)},
		Execution:   taskNone(),
		Handler:     addActorHandler(deps, name),
	}
}

func addActorHandler(deps Deps, name string) registry.Handler {
	return func(ctx registry.Context) (*mcpproto.CallToolResult, error) {
		actor := stringArg(ctx.Arguments(), "actor")
		if actor == "" {
			return errResult(name, "missing required field \"actor\""), nil
		}
		def, err := deps.Fetcher.FetchDefinition(context.Background(), actor)
		if err != nil {
			return nil, err
		}
		entry, err := deps.Builder.BuildActorTool(def)
		if err != nil {
			return nil, err
		}
		deps.Registry.Upsert([]*registry.Entry{entry}, true)
		return textResult(fmt.Sprintf("added %s as tool %q", actor, entry.Name)), nil
	}
}

func removeActorEntry(deps Deps) *registry.Entry {
	name := "remove-actor"
	return &registry.Entry{
		Kind: registry.KindInternal, Name: name,
		Description: "Remove a previously added actor tool from this session.",
		InputSchema: actorRefSchema(),
		Validator:   mustCompile(name, actorRefSchema()),
		Annotations: &mcpproto.ToolAnnotations{DestructiveHint: boolPtr(true)},
		Execution:   taskNone(),
		Handler:     removeActorHandler(deps),
	}
}

func removeActorHandler(deps Deps) registry.Handler {
	return func(ctx registry.Context) (*mcpproto.CallToolResult, error) {
		actor := stringArg(ctx.Arguments(), "actor")
		if actor == "" {
			return errResult("remove-actor", "missing required field \"actor\""), nil
		}
		name := registry.EncodeActorName(actor)
		removed := deps.Registry.Remove([]string{name}, true)
		if len(removed) == 0 {
			return errResult("remove-actor", fmt.Sprintf("actor %q is not currently loaded as a tool", actor)), nil
		}
		return textResult(fmt.Sprintf("removed tool %q", name)), nil
	}
}

func boolPtr(b bool) *bool { return &b }

// uiMeta marks the UI-category variant of a discovery tool with widget metadata, stripped
// outside openai mode by registry.Entry.ToMCP's _meta filter (spec §4.9, §6).
func uiMeta(ui bool) mcpproto.Meta {
	if !ui {
		return nil
	}
	return mcpproto.Meta{"openai/outputTemplate": "actor-picker-widget"}
}
