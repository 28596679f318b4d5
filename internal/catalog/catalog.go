// Package catalog implements the Mode-Aware Tool Catalog (spec §4.3, C3): it turns a
// session's selector list into the concrete set of Tool Registry entries that session
// should see, resolving categories, mode variants, remote-job identifiers and dependency
// auto-injection. Grounded on the teacher's buildToolInfos (mcpsvr/policies.go), which
// plays the analogous "turn configuration into the tool set for this server instance"
// role, generalized from a single static set to the spec's per-session selector algebra.
package catalog

import (
	"context"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/apify/apify-mcp-server-sub001/internal/registry"
)

// Category is one of the fixed internal-tool groupings of spec §4.3.
type Category string

const (
	CategoryActors       Category = "actors"
	CategoryDocs         Category = "docs"
	CategoryRuns         Category = "runs"
	CategoryStorage      Category = "storage"
	CategoryDev          Category = "dev"
	CategoryUI           Category = "ui"
	CategoryExperimental Category = "experimental"
)

// ModeVariants holds the default/openai pair for a mode-variant internal tool. Most
// internal tools only populate one of the two; those with a genuine variant pair (e.g.
// call-actor) populate both and share an input schema (checked by tests, not here).
type ModeVariants struct {
	Default *registry.Entry
	OpenAI  *registry.Entry
}

// Entry picks the variant for a UI mode, falling back to Default when OpenAI is unset.
func (m ModeVariants) Entry(uiMode string) *registry.Entry {
	if uiMode == "openai" && m.OpenAI != nil {
		return m.OpenAI
	}
	return m.Default
}

// StaticTool is one internal tool as known to the catalog, independent of session state.
type StaticTool struct {
	Name       string // logical name, shared by both variants (e.g. "call-actor")
	Categories []Category
	Variants   ModeVariants
}

// StaticIndex is the fixed table of internal tools, built once at startup by the internal
// tools package and handed to the Catalog; this indirection keeps the tools package (which
// owns handler closures) from being imported by the catalog (which only needs metadata).
type StaticIndex struct {
	Tools []StaticTool

	// Dependencies auto-injected after call-actor/remote-job tools (spec §4.3 step 6),
	// resolved by logical name against this same index.
	RunDependencyNames []string
}

func (idx StaticIndex) byName(name string) (StaticTool, bool) {
	for _, t := range idx.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return StaticTool{}, false
}

func (idx StaticIndex) byCategory(cat Category) []StaticTool {
	var out []StaticTool
	for _, t := range idx.Tools {
		for _, c := range t.Categories {
			if c == cat {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

// ActorDefinition is the subset of a remote job's definition the catalog needs to build a
// Tool Entry for it (spec §4.1/§4.3): its normalized input schema, an optional MCP
// web-server path (routed to the Remote-Server Tool Proxy, C4) and display metadata.
type ActorDefinition struct {
	FullName      string // "owner/name"
	Title         string
	Description   string
	InputSchema   map[string]interface{}
	MemoryMbytes  *int
	WebServerPath string // non-empty => also load remote-MCP tools via RemoteMCPLoader
}

// ActorDefinitionFetcher resolves a remote-job identifier (owner/name or id) to its
// definition. Implemented by internal/apifyclient; declared here to avoid a dependency
// from catalog onto the HTTP client package.
type ActorDefinitionFetcher interface {
	FetchDefinition(ctx context.Context, identifier string) (*ActorDefinition, error)
}

// ActorToolBuilder turns a fetched definition into a registry Entry (normalizing its
// schema via internal/schema and compiling a validator). Kept as an interface so the
// catalog package doesn't need to import the normalizer directly.
type ActorToolBuilder interface {
	BuildActorTool(def *ActorDefinition) (*registry.Entry, error)
}

// RemoteMCPLoader implements C4: given a definition with a web-server path, returns the
// set of Remote-MCP Tool Entries it exposes (empty + nil error if auth is absent, per
// spec §4.4 "silently skipped").
type RemoteMCPLoader interface {
	LoadRemoteTools(ctx context.Context, def *ActorDefinition, authToken string) ([]*registry.Entry, error)
}

// Catalog resolves session selectors into concrete Tool Entries.
type Catalog struct {
	Static   StaticIndex
	Fetcher  ActorDefinitionFetcher
	Builder  ActorToolBuilder
	RemoteMCP RemoteMCPLoader

	// DefaultActors is the fallback remote-job set used when no selectors at all are given
	// and AddActorEnabled is false (spec §4.3 step 3).
	DefaultActors []string
}

// Options is the input to the selector-resolution algorithm (spec §4.3).
type Options struct {
	Selectors []string // raw selector strings: category | internal tool name | remote-job id

	// ExplicitActors distinguishes "not provided" (nil) from "explicitly empty" (non-nil,
	// len==0, meaning "none") per spec §4.3 step 3 / §6.
	ExplicitActors *[]string

	UIMode          string // "default" | "openai"
	AddActorEnabled bool
	AuthToken       string
}

// Resolve runs the full selector-resolution algorithm (spec §4.3 steps 1-7) and returns
// the ordered, deduplicated Tool Entries the session should see.
func (c *Catalog) Resolve(ctx context.Context, opts Options) ([]*registry.Entry, error) {
	selectors := normalizeSelectors(opts.Selectors) // step 1

	var internalEntries []*registry.Entry
	var remoteSelectors []string

	for _, sel := range selectors { // step 2
		if tools := c.Static.byCategory(Category(sel)); len(tools) > 0 {
			for _, t := range tools {
				if e := t.Variants.Entry(opts.UIMode); e != nil {
					internalEntries = append(internalEntries, e)
				}
			}
			continue
		}
		if t, ok := c.Static.byName(sel); ok {
			if e := t.Variants.Entry(opts.UIMode); e != nil {
				internalEntries = append(internalEntries, e)
			}
			continue
		}
		remoteSelectors = append(remoteSelectors, sel)
	}

	actorIDs := decideActorSet(opts, remoteSelectors, c.DefaultActors) // step 3

	actorEntries, err := c.loadActorTools(ctx, actorIDs, opts.AuthToken) // step 4
	if err != nil {
		return nil, err
	}

	result := append(internalEntries, actorEntries...)

	if opts.UIMode == "openai" { // step 5
		for _, t := range c.Static.byCategory(CategoryUI) {
			if e := t.Variants.Entry(opts.UIMode); e != nil {
				result = append(result, e)
			}
		}
	}

	result = c.injectRunDependencies(result, opts.UIMode) // step 6

	return dedupeByName(result), nil // step 7
}

// normalizeSelectors trims whitespace and drops empty entries (spec §4.3 step 1).
func normalizeSelectors(selectors []string) []string {
	out := make([]string, 0, len(selectors))
	for _, s := range selectors {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// decideActorSet implements spec §4.3 step 3. An explicit (even empty) actors field wins
// outright; otherwise remote-job selectors observed in step 2 win; otherwise, only when
// there were no selectors at all and add-actor is disabled, fall back to the default set.
func decideActorSet(opts Options, remoteSelectors, defaults []string) []string {
	if opts.ExplicitActors != nil {
		return *opts.ExplicitActors
	}
	if len(remoteSelectors) > 0 {
		return remoteSelectors
	}
	if len(opts.Selectors) == 0 && !opts.AddActorEnabled {
		return defaults
	}
	return nil
}

// loadActorTools fetches and builds Tool Entries for each remote-job id concurrently
// (spec §5 "fetching several remote-job definitions concurrently when loading tools"),
// then, for any definition with a web-server path, loads its remote-MCP tools too.
func (c *Catalog) loadActorTools(ctx context.Context, ids []string, authToken string) ([]*registry.Entry, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	defs := make([]*ActorDefinition, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			def, err := c.Fetcher.FetchDefinition(gctx, id)
			if err != nil {
				return err
			}
			defs[i] = def
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var entries []*registry.Entry
	for _, def := range defs {
		if def == nil {
			continue
		}
		entry, err := c.Builder.BuildActorTool(def)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)

		if def.WebServerPath != "" && authToken != "" && c.RemoteMCP != nil {
			remote, err := c.RemoteMCP.LoadRemoteTools(ctx, def, authToken)
			if err != nil {
				continue // a loader error skips this job's remote tools; other jobs proceed (spec §4.4)
			}
			entries = append(entries, remote...)
		}
	}
	return entries, nil
}

// injectRunDependencies appends get-actor-run/get-actor-output (mode-appropriate variant)
// immediately after call-actor when present, or at the end if call-actor is absent but a
// remote-job tool is (spec §4.3 step 6).
func (c *Catalog) injectRunDependencies(entries []*registry.Entry, uiMode string) []*registry.Entry {
	hasRunnable := false
	callActorIdx := -1
	for i, e := range entries {
		if e.Kind == registry.KindActor {
			hasRunnable = true
		}
		if e.Name == "call-actor" || (i < len(entries) && logicalNameIs(c.Static, e.Name, "call-actor")) {
			callActorIdx = i
			hasRunnable = true
		}
	}
	if !hasRunnable {
		return entries
	}

	var deps []*registry.Entry
	for _, depName := range c.Static.RunDependencyNames {
		t, ok := c.Static.byName(depName)
		if !ok {
			continue
		}
		if e := t.Variants.Entry(uiMode); e != nil {
			deps = append(deps, e)
		}
	}
	if len(deps) == 0 {
		return entries
	}

	if callActorIdx < 0 {
		return append(entries, deps...)
	}
	out := make([]*registry.Entry, 0, len(entries)+len(deps))
	out = append(out, entries[:callActorIdx+1]...)
	out = append(out, deps...)
	out = append(out, entries[callActorIdx+1:]...)
	return out
}

func logicalNameIs(idx StaticIndex, entryName, logical string) bool {
	t, ok := idx.byName(logical)
	if !ok {
		return false
	}
	return (t.Variants.Default != nil && t.Variants.Default.Name == entryName) ||
		(t.Variants.OpenAI != nil && t.Variants.OpenAI.Name == entryName)
}

// dedupeByName keeps the first occurrence of each tool name (spec §4.3 step 7), preserving
// overall order.
func dedupeByName(entries []*registry.Entry) []*registry.Entry {
	seen := map[string]bool{}
	out := make([]*registry.Entry, 0, len(entries))
	for _, e := range entries {
		if seen[e.Name] {
			continue
		}
		seen[e.Name] = true
		out = append(out, e)
	}
	return out
}

// SortedCategoryNames is a small helper for building a "known categories" hint in error
// messages and docs tools, kept deterministic for tests.
func SortedCategoryNames() []string {
	names := []string{
		string(CategoryActors), string(CategoryDocs), string(CategoryRuns),
		string(CategoryStorage), string(CategoryDev), string(CategoryUI),
		string(CategoryExperimental),
	}
	sort.Strings(names)
	return names
}
