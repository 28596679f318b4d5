// Package mcpproxy implements the Remote-Server Tool Proxy (spec §4.4, C4): wrapping a
// remote job's own standby MCP endpoint as local Tool Entries whose invocation opens a
// client to that endpoint, forwards the call, and closes it. Grounded on the
// open/forward/close client lifecycle used by mark3labs/mcp-go's client package (the
// library the retrieval pack's agent-framework repos use to *consume* an MCP server),
// mirrored here on the server side of the same protocol.
package mcpproxy

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	mcpclient "github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/apify/apify-mcp-server-sub001/internal/catalog"
	"github.com/apify/apify-mcp-server-sub001/internal/mcpproto"
	"github.com/apify/apify-mcp-server-sub001/internal/registry"
	"github.com/apify/apify-mcp-server-sub001/internal/schema"
)

// URLResolver deterministically derives a remote job's standby MCP endpoint URL from its
// identity and declared web-server path (spec §4.4 step 1). Concrete resolution is a
// platform-specific URL template, injected so this package stays testable without a real
// client.
type URLResolver func(ownerOrID, webServerPath string) string

// Loader implements catalog.RemoteMCPLoader.
type Loader struct {
	ResolveURL URLResolver
	// Dial opens a client to serverURL. Defaults to a real SSE client via mcp-go; tests
	// inject a fake.
	Dial func(ctx context.Context, serverURL, authToken string) (Client, error)
}

// Client is the minimal surface mcpproxy needs from an MCP client connection.
type Client interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
	Close() error
}

// NewLoader returns a Loader that dials real remote MCP servers over HTTP/SSE.
func NewLoader(resolve URLResolver) *Loader {
	return &Loader{ResolveURL: resolve, Dial: dialSSE}
}

func dialSSE(ctx context.Context, serverURL, authToken string) (Client, error) {
	c, err := mcpclient.NewSSEMCPClient(serverURL, mcpclient.WithHeaders(map[string]string{
		"Authorization": "Bearer " + authToken,
	}))
	if err != nil {
		return nil, err
	}
	if err := c.Start(ctx); err != nil {
		return nil, err
	}
	if _, err := c.Initialize(ctx, mcp.InitializeRequest{}); err != nil {
		_ = c.Close()
		return nil, err
	}
	return sseClientAdapter{c}, nil
}

type sseClientAdapter struct{ c *mcpclient.Client }

func (a sseClientAdapter) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	res, err := a.c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	return res.Tools, nil
}

func (a sseClientAdapter) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return a.c.CallTool(ctx, req)
}

func (a sseClientAdapter) Close() error { return a.c.Close() }

// LoadRemoteTools implements spec §4.4 steps 1-5. Absent auth means remote-MCP tools are
// silently skipped; a connection/list failure is logged here and returns a nil slice and
// nil error, so the caller moves on to the next job (spec §4.4).
func (l *Loader) LoadRemoteTools(ctx context.Context, def *catalog.ActorDefinition, authToken string) ([]*registry.Entry, error) {
	if authToken == "" {
		return nil, nil
	}
	serverURL := l.ResolveURL(def.FullName, def.WebServerPath)
	serverID := schema.ServerURLHash(serverURL)

	client, err := l.Dial(ctx, serverURL, authToken)
	if err != nil {
		slog.Warn("mcpproxy: connect failed, skipping remote tools", "server", serverURL, "error", err)
		return nil, nil //nolint:nilerr // connection failure is logged and swallowed here
	}
	defer client.Close()

	tools, err := client.ListTools(ctx)
	if err != nil {
		slog.Warn("mcpproxy: list tools failed, skipping remote tools", "server", serverURL, "error", err)
		return nil, nil //nolint:nilerr
	}

	entries := make([]*registry.Entry, 0, len(tools))
	for _, t := range tools {
		entries = append(entries, l.wrapTool(serverURL, serverID, t))
	}
	return entries, nil
}

func (l *Loader) wrapTool(serverURL, serverID string, t mcp.Tool) *registry.Entry {
	name := namespacedName(serverID, t.Name)
	var inputSchema mcpproto.JSONSchema
	if raw, err := t.InputSchema.MarshalJSON(); err == nil {
		m := map[string]interface{}{}
		if json.Unmarshal(raw, &m) == nil {
			inputSchema = m
		}
	}

	return &registry.Entry{
		Kind:           registry.KindActorMCP,
		Name:           name,
		Description:    t.Description,
		InputSchema:    inputSchema,
		Execution:      mcpproto.ToolExecution{TaskSupport: mcpproto.TaskSupportOptional},
		OriginToolName: t.Name,
		ServerID:       serverID,
		ServerURL:      serverURL,
		Handler:        l.buildHandler(serverURL, t.Name),
	}
}

// buildHandler returns a registry.Handler that opens a fresh client to serverURL per call,
// forwards the request under its origin name, and closes the client (spec §4.4 step 4:
// "per-call client open/forward/close", never a pooled long-lived connection, so a
// misbehaving remote server can't leak a connection across unrelated calls).
func (l *Loader) buildHandler(serverURL, originName string) registry.Handler {
	return func(ctx registry.Context) (*mcpproto.CallToolResult, error) {
		rc, ok := ctx.(RemoteContext)
		if !ok {
			return nil, fmt.Errorf("mcpproxy: dispatcher context missing auth token")
		}
		client, err := l.Dial(context.Background(), serverURL, rc.AuthToken())
		if err != nil {
			return nil, fmt.Errorf("mcpproxy: dial %s: %w", serverURL, err)
		}
		defer client.Close()

		res, err := client.CallTool(context.Background(), originName, ctx.Arguments())
		if err != nil {
			return nil, fmt.Errorf("mcpproxy: call %s on %s: %w", originName, serverURL, err)
		}
		return adaptResult(res), nil
	}
}

// RemoteContext extends registry.Context with the caller's auth token, needed to dial the
// remote server on the caller's behalf.
type RemoteContext interface {
	registry.Context
	AuthToken() string
}

// adaptResult re-encodes a mark3labs/mcp-go result as our own wire type. Round-tripping
// through JSON rather than hand-mapping every content-block variant keeps this adapter
// stable as the upstream client library's content union grows.
func adaptResult(res *mcp.CallToolResult) *mcpproto.CallToolResult {
	raw, err := json.Marshal(res)
	if err != nil {
		return &mcpproto.CallToolResult{IsError: boolPtr(true)}
	}
	out := &mcpproto.CallToolResult{}
	if err := json.Unmarshal(raw, out); err != nil {
		return &mcpproto.CallToolResult{IsError: boolPtr(true)}
	}
	return out
}

func boolPtr(b bool) *bool { return &b }

// namespacedName builds "prefix-originName", truncated to the registry's 64-char limit
// (spec §4.4 step 5).
func namespacedName(serverID, originName string) string {
	name := serverID + "-" + originName
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

