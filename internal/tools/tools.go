// Package tools builds the fixed table of static internal tools (spec §4.3's "internal
// tools" half of the catalog input) and their handlers, grounded on the teacher's
// buildToolInfos (mcpsvr/policies.go) which assembles a fixed named tool list for a server
// instance — generalized here from one static list to the categorized, mode-variant
// StaticIndex the Mode-Aware Tool Catalog (internal/catalog) consumes.
package tools

import (
	"context"
	"fmt"

	"github.com/apify/apify-mcp-server-sub001/internal/actorrun"
	"github.com/apify/apify-mcp-server-sub001/internal/apifyclient"
	"github.com/apify/apify-mcp-server-sub001/internal/catalog"
	"github.com/apify/apify-mcp-server-sub001/internal/mcpproto"
	"github.com/apify/apify-mcp-server-sub001/internal/registry"
	"github.com/apify/apify-mcp-server-sub001/internal/schema"
)

// Client is the remote-platform surface the static internal tools need beyond actor
// execution (search, docs, run/output inspection). Implemented by internal/apifyclient.
// Client; kept as an interface so handler construction stays unit-testable against a fake.
type Client interface {
	SearchActors(ctx context.Context, term string, limit int) ([]apifyclient.StoreListing, error)
	SearchApifyDocs(ctx context.Context, term string, limit int) ([]apifyclient.DocPage, error)
	FetchApifyDocs(ctx context.Context, docPath string) (*apifyclient.DocPage, error)
	GetRun(ctx context.Context, runID string) (*apifyclient.Run, error)
	ListDatasetItems(ctx context.Context, datasetID string, offset, limit int) (apifyclient.DatasetPage, error)
	GetDefaultBuildViews(ctx context.Context, actorFullName string) (map[string]apifyclient.StorageView, error)
}

// Deps wires the collaborators the static internal tool handlers call into.
type Deps struct {
	Client            Client
	Engine            *actorrun.Engine
	Fetcher           catalog.ActorDefinitionFetcher
	Builder           catalog.ActorToolBuilder
	Registry          *registry.Registry
	PlatformMaxMbytes int
	PreviewCharBudget int
}

// Build assembles the fixed StaticIndex of spec §4.3, with one StaticTool per logical
// internal tool name and mode variants (default/openai) populated where the tool has two
// (call-actor, get-actor-run, get-actor-output). addActorEnabled gates the dev-category
// registry-mutating tools (spec §6 "enableAddingActors").
func Build(deps Deps, addActorEnabled bool) catalog.StaticIndex {
	idx := catalog.StaticIndex{
		RunDependencyNames: []string{"get-actor-run", "get-actor-output"},
	}

	idx.Tools = append(idx.Tools,
		catalog.StaticTool{
			Name:       "store-search",
			Categories: []catalog.Category{catalog.CategoryActors},
			Variants:   catalog.ModeVariants{Default: storeSearchEntry(deps, "store-search", false)},
		},
		catalog.StaticTool{
			Name:       "docs-search",
			Categories: []catalog.Category{catalog.CategoryDocs},
			Variants:   catalog.ModeVariants{Default: docsSearchEntry(deps)},
		},
		catalog.StaticTool{
			Name:       "fetch-actor-details",
			Categories: []catalog.Category{catalog.CategoryActors},
			Variants:   catalog.ModeVariants{Default: fetchActorDetailsEntry(deps, "fetch-actor-details", false)},
		},
		catalog.StaticTool{
			Name:       "call-actor",
			Categories: []catalog.Category{catalog.CategoryActors},
			Variants: catalog.ModeVariants{
				Default: callActorEntry(deps, false),
				OpenAI:  callActorEntry(deps, true),
			},
		},
		catalog.StaticTool{
			Name:       "get-actor-run",
			Categories: []catalog.Category{catalog.CategoryRuns},
			Variants: catalog.ModeVariants{
				Default: getActorRunEntry(deps, false),
				OpenAI:  getActorRunEntry(deps, true),
			},
		},
		catalog.StaticTool{
			Name:       "get-actor-output",
			Categories: []catalog.Category{catalog.CategoryStorage},
			Variants: catalog.ModeVariants{
				Default: getActorOutputEntry(deps, false),
				OpenAI:  getActorOutputEntry(deps, true),
			},
		},
		catalog.StaticTool{
			Name:       "fetch-apify-docs",
			Categories: []catalog.Category{catalog.CategoryDocs},
			Variants:   catalog.ModeVariants{Default: fetchApifyDocsEntry(deps)},
		},
		catalog.StaticTool{
			Name:       "store-search-internal",
			Categories: []catalog.Category{catalog.CategoryUI},
			Variants:   catalog.ModeVariants{Default: storeSearchEntry(deps, "store-search-internal", true)},
		},
		catalog.StaticTool{
			Name:       "fetch-actor-details-internal",
			Categories: []catalog.Category{catalog.CategoryUI},
			Variants:   catalog.ModeVariants{Default: fetchActorDetailsEntry(deps, "fetch-actor-details-internal", true)},
		},
	)

	if addActorEnabled {
		idx.Tools = append(idx.Tools,
			catalog.StaticTool{
				Name:       "add-actor",
				Categories: []catalog.Category{catalog.CategoryDev},
				Variants:   catalog.ModeVariants{Default: addActorEntry(deps)},
			},
			catalog.StaticTool{
				Name:       "remove-actor",
				Categories: []catalog.Category{catalog.CategoryDev},
				Variants:   catalog.ModeVariants{Default: removeActorEntry(deps)},
			},
		)
	}

	return idx
}

// mustCompile panics only at startup wiring time (Build is called once from cmd/mcpserver);
// a failure here means a hand-written static schema is malformed, a programming error the
// spec's "skip with a warning" leniency is meant for remote-job schemas, not our own fixed
// ones (spec §4.1 applies to loaded definitions, not the static table itself).
func mustCompile(name string, schemaDoc mcpproto.JSONSchema) registry.Validator {
	v, err := schema.CompileStatic(name, schemaDoc)
	if err != nil {
		panic(fmt.Sprintf("tools: static schema for %q does not compile: %v", name, err))
	}
	return v
}

func taskOptional() mcpproto.ToolExecution {
	return mcpproto.ToolExecution{TaskSupport: mcpproto.TaskSupportOptional}
}

func taskNone() mcpproto.ToolExecution {
	return mcpproto.ToolExecution{TaskSupport: mcpproto.TaskSupportNone}
}
