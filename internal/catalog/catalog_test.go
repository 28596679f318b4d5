package catalog

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apify/apify-mcp-server-sub001/internal/registry"
)

func entry(name string) *registry.Entry { return &registry.Entry{Kind: registry.KindInternal, Name: name} }

func testIndex() StaticIndex {
	return StaticIndex{
		Tools: []StaticTool{
			{Name: "store-search", Categories: []Category{CategoryActors, CategoryDocs}, Variants: ModeVariants{Default: entry("store-search")}},
			{Name: "call-actor", Categories: []Category{CategoryActors}, Variants: ModeVariants{
				Default: entry("call-actor"),
				OpenAI:  entry("call-actor-openai"),
			}},
			{Name: "get-actor-run", Categories: []Category{CategoryRuns}, Variants: ModeVariants{Default: entry("get-actor-run")}},
			{Name: "get-actor-output", Categories: []Category{CategoryRuns}, Variants: ModeVariants{Default: entry("get-actor-output")}},
			{Name: "store-search-internal", Categories: []Category{CategoryUI}, Variants: ModeVariants{OpenAI: entry("store-search-internal")}},
		},
		RunDependencyNames: []string{"get-actor-run", "get-actor-output"},
	}
}

type fakeFetcher struct{}

func (fakeFetcher) FetchDefinition(_ context.Context, id string) (*ActorDefinition, error) {
	return &ActorDefinition{FullName: id, InputSchema: map[string]interface{}{"type": "object"}}, nil
}

type fakeBuilder struct{}

func (fakeBuilder) BuildActorTool(def *ActorDefinition) (*registry.Entry, error) {
	return &registry.Entry{Kind: registry.KindActor, Name: registry.EncodeActorName(def.FullName), ActorFullName: def.FullName}, nil
}

func newTestCatalog() *Catalog {
	return &Catalog{Static: testIndex(), Fetcher: fakeFetcher{}, Builder: fakeBuilder{}, DefaultActors: []string{"apify/default-actor"}}
}

func TestResolve_CategoryExpansion(t *testing.T) {
	c := newTestCatalog()
	got, err := c.Resolve(context.Background(), Options{Selectors: []string{"actors"}, UIMode: "default"})
	require.NoError(t, err)
	names := namesOf(got)
	assert.Contains(t, names, "store-search")
	assert.Contains(t, names, "call-actor")
}

func TestResolve_ModeVariantSelection(t *testing.T) {
	c := newTestCatalog()
	got, err := c.Resolve(context.Background(), Options{Selectors: []string{"call-actor"}, UIMode: "openai"})
	require.NoError(t, err)
	assert.Equal(t, []string{"call-actor-openai", "get-actor-run", "get-actor-output", "store-search-internal"}, namesOf(got))
}

func TestResolve_NoSelectorsFallsBackToDefaults(t *testing.T) {
	c := newTestCatalog()
	got, err := c.Resolve(context.Background(), Options{UIMode: "default"})
	require.NoError(t, err)
	names := namesOf(got)
	require.Len(t, names, 3) // actor tool + its two injected dependencies
	assert.Equal(t, registry.EncodeActorName("apify/default-actor"), names[0])
}

func TestResolve_ExplicitEmptyActorsMeansNone(t *testing.T) {
	c := newTestCatalog()
	empty := []string{}
	got, err := c.Resolve(context.Background(), Options{ExplicitActors: &empty, UIMode: "default"})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestResolve_OpenAIModeAppendsUICategory(t *testing.T) {
	c := newTestCatalog()
	got, err := c.Resolve(context.Background(), Options{UIMode: "openai", AddActorEnabled: true})
	require.NoError(t, err)
	assert.Contains(t, namesOf(got), "store-search-internal")
}

func TestResolve_DependencyInjectionPlacedAfterCallActor(t *testing.T) {
	c := newTestCatalog()
	got, err := c.Resolve(context.Background(), Options{Selectors: []string{"store-search", "call-actor"}, UIMode: "default"})
	require.NoError(t, err)
	assert.Equal(t, []string{"store-search", "call-actor", "get-actor-run", "get-actor-output"}, namesOf(got))
}

func TestResolve_DeduplicatesByName(t *testing.T) {
	c := newTestCatalog()
	got, err := c.Resolve(context.Background(), Options{Selectors: []string{"call-actor", "call-actor"}, UIMode: "default"})
	require.NoError(t, err)
	assert.Equal(t, 1, countName(got, "call-actor"))
}

func countName(entries []*registry.Entry, name string) int {
	n := 0
	for _, e := range entries {
		if e.Name == name {
			n++
		}
	}
	return n
}

func namesOf(entries []*registry.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}
