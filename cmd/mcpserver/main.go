// Command mcpserver is the thin CLI shell of spec §1 ("The CLI ... thin shells that
// initialize the core and relay bytes"): it loads Config, wires the Schema Normalizer,
// Tool Registry, Mode-Aware Tool Catalog, Remote-Server Tool Proxy, Task Store, Request
// Dispatcher, Execution Engine, Progress Tracker and Server Core together, then serves one
// transport until a shutdown signal arrives. Grounded on mcpsvr/main.go's own
// three-way task-store backend switch (local / Azurite / managed-identity Azure) and its
// errorLogger/metricsLogger/shutdownMgr construction, adapted from an HTTP policy chain to
// an MCP transport.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/apify/apify-mcp-server-sub001/internal/actorrun"
	"github.com/apify/apify-mcp-server-sub001/internal/aids"
	"github.com/apify/apify-mcp-server-sub001/internal/apifyclient"
	"github.com/apify/apify-mcp-server-sub001/internal/catalog"
	"github.com/apify/apify-mcp-server-sub001/internal/config"
	"github.com/apify/apify-mcp-server-sub001/internal/dispatch"
	"github.com/apify/apify-mcp-server-sub001/internal/mcpproxy"
	"github.com/apify/apify-mcp-server-sub001/internal/registry"
	"github.com/apify/apify-mcp-server-sub001/internal/schema"
	"github.com/apify/apify-mcp-server-sub001/internal/server"
	"github.com/apify/apify-mcp-server-sub001/internal/shutdown"
	"github.com/apify/apify-mcp-server-sub001/internal/tasks"
	taskslocal "github.com/apify/apify-mcp-server-sub001/internal/tasks/local"
	tasksblob "github.com/apify/apify-mcp-server-sub001/internal/tasks/external"
	"github.com/apify/apify-mcp-server-sub001/internal/telemetry"
	"github.com/apify/apify-mcp-server-sub001/internal/tools"
)

var (
	errorLogger   = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	metricsLogger = slog.New(slog.NewTextHandler(os.Stderr, nil))
)

func main() {
	c := config.Get()

	shutdownMgr := shutdown.New(shutdown.Config{
		Logger:            errorLogger,
		HealthProbeDelay:  2 * time.Second,
		CancellationDelay: 3 * time.Second,
	})

	client := apifyclient.New(c.APIBaseURL, c.APIToken)

	normalizer := schema.New()
	engine := actorrun.New(client, c.PlatformMaxMemoryMbytes)
	engine.PreviewCharBudget = c.PreviewCharBudget
	builder := &actorrun.Builder{Normalizer: normalizer, Engine: engine}

	reg := registry.New()

	deps := tools.Deps{
		Client:            client,
		Engine:            engine,
		Fetcher:           client,
		Builder:           builder,
		Registry:          reg,
		PlatformMaxMbytes: c.PlatformMaxMemoryMbytes,
		PreviewCharBudget: c.PreviewCharBudget,
	}
	staticIndex := tools.Build(deps, c.EnableAddingActors)

	cat := &catalog.Catalog{
		Static:        staticIndex,
		Fetcher:       client,
		Builder:       builder,
		DefaultActors: defaultActorSet,
	}
	if !c.SkyfireMode {
		cat.RemoteMCP = mcpproxy.NewLoader(standbyURLResolver(c.APIBaseURL))
	}

	taskStore := newTaskStore(c, shutdownMgr)

	var tele dispatch.Telemetry
	if c.TelemetryEnabled {
		tele = telemetry.New(prometheus.DefaultRegisterer, string(c.TelemetryEnv))
	}

	disp := &dispatch.Dispatcher{
		Registry:          reg,
		Tasks:             taskStore,
		Engine:            engine,
		Telemetry:         tele,
		PlatformMaxMbytes: c.PlatformMaxMemoryMbytes,
		DefaultToolTimeout: time.Duration(c.ToolCallTimeoutSeconds) * time.Second,
	}

	srv := server.New(reg, disp, taskStore, cat, string(c.UIMode), errorLogger)
	disp.EmitProgress = srv.EmitProgress
	srv.LoadOptions = catalog.Options{
		Selectors:       selectorValues(c.Tools),
		ExplicitActors:  explicitActors(c.Actors),
		AddActorEnabled: c.EnableAddingActors,
	}
	defer srv.Close()

	switch c.TransportType {
	case config.TransportStdio:
		runStdio(shutdownMgr, srv, c)
	case config.TransportHTTP, config.TransportSSE:
		runHTTP(shutdownMgr, srv, c)
	default:
		fmt.Fprintf(os.Stderr, "mcpserver: unsupported transport %q\n", c.TransportType)
		os.Exit(1)
	}
}

// defaultActorSet is the fallback remote-job list used when a session supplies no
// selectors at all and add-actor is disabled (spec §4.3 step 3). Empty here: a
// deployment names its own defaults via APIFY_MCP_ACTORS.
var defaultActorSet []string

func selectorValues(s config.Selectors) []string {
	if !s.Set {
		return nil
	}
	return s.Values
}

func explicitActors(s config.Selectors) *[]string {
	if !s.Set {
		return nil
	}
	v := s.Values
	return &v
}

// standbyURLResolver implements mcpproxy.URLResolver the way the platform's own standby
// MCP endpoints are addressed: owner/name (or id) mapped to a subdomain of the same host
// serving the platform API, with the job's declared web-server path appended.
func standbyURLResolver(apiBaseURL string) mcpproxy.URLResolver {
	host := strings.TrimPrefix(strings.TrimPrefix(apiBaseURL, "https://"), "http://")
	host = strings.TrimPrefix(host, "api.")
	return func(ownerOrID, webServerPath string) string {
		subdomain := strings.ReplaceAll(ownerOrID, "/", "--")
		return fmt.Sprintf("https://%s.%s%s", subdomain, host, webServerPath)
	}
}

// newTaskStore implements decision 2 of DESIGN.md's "Further design decisions": stdio with
// no ExternalTaskStore gets the in-memory local store; every other case (http/sse, or stdio
// with ExternalTaskStore set) gets the azure-blob backend, grounded on mcpsvr/main.go's own
// Azurite-vs-managed-identity branch.
func newTaskStore(c *config.Config, shutdownMgr *shutdown.Manager) tasks.Store {
	if c.TransportType == config.TransportStdio && c.ExternalTaskStore == "" {
		return taskslocal.New()
	}

	var blobClient *azblob.Client
	switch {
	case c.AzuriteAccount != "":
		cred := aids.Must(azblob.NewSharedKeyCredential(c.AzuriteAccount, c.AzuriteKey))
		blobClient = aids.Must(azblob.NewClientWithSharedKeyCredential(c.AzureBlobURL, cred, nil))
	default:
		cred := aids.Must(azidentity.NewDefaultAzureCredential(nil))
		blobClient = aids.Must(azblob.NewClient(c.AzureBlobURL, cred, nil))
	}
	return tasksblob.New(blobClient, "apify-mcp-tasks")
}

func runStdio(shutdownMgr *shutdown.Manager, srv *server.Server, c *config.Config) {
	metricsLogger.Info("mcpserver: serving stdio")
	if err := srv.ServeStdio(shutdownMgr.Context, os.Stdin, os.Stdout, c.APIToken); err != nil {
		errorLogger.Error("mcpserver: stdio transport exited", "error", err)
		os.Exit(1)
	}
}

func runHTTP(shutdownMgr *shutdown.Manager, srv *server.Server, c *config.Config) {
	mux := http.NewServeMux()
	mux.HandleFunc("/mcp", srv.ServeHTTP)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/debug/", shutdownMgr.DebugMux())

	addr := ":8080"
	if v := os.Getenv("PORT"); v != "" {
		addr = ":" + v
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		BaseContext:       func(_ net.Listener) context.Context { return shutdownMgr.Context },
		ReadHeaderTimeout: 5 * time.Second,
	}

	metricsLogger.Info("mcpserver: serving http", "addr", addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errorLogger.Error("mcpserver: http transport exited", "error", err)
		os.Exit(1)
	}
}
