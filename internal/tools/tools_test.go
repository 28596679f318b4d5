package tools

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apify/apify-mcp-server-sub001/internal/catalog"
	"github.com/apify/apify-mcp-server-sub001/internal/registry"
)

func namesOf(entries []*registry.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

// TestBuild_ModeVariantSchemaParity checks spec §8 property 2: every tool with both a
// default and openai variant exposes structurally identical input schemas.
func TestBuild_ModeVariantSchemaParity(t *testing.T) {
	idx := Build(Deps{PlatformMaxMbytes: 4096}, true)
	for _, tool := range idx.Tools {
		if tool.Variants.Default == nil || tool.Variants.OpenAI == nil {
			continue
		}
		if diff := cmp.Diff(tool.Variants.Default.InputSchema, tool.Variants.OpenAI.InputSchema); diff != "" {
			t.Errorf("tool %q: default/openai input schema mismatch (-default +openai):\n%s", tool.Name, diff)
		}
	}
}

// TestBuild_CallActorVariantsDifferOnExecutionAndMeta pins the spec §4.3 contrast: "call-actor
// is forced-async with widget metadata in openai mode, synchronous without widget metadata
// in default mode".
func TestBuild_CallActorVariantsDifferOnExecutionAndMeta(t *testing.T) {
	idx := Build(Deps{}, false)
	tool, ok := byName(idx, "call-actor")
	require.True(t, ok)
	assert.Equal(t, "required", string(tool.Variants.OpenAI.Execution.TaskSupport))
	assert.Equal(t, "optional", string(tool.Variants.Default.Execution.TaskSupport))
	assert.NotEmpty(t, tool.Variants.OpenAI.Meta)
	assert.Empty(t, tool.Variants.Default.Meta)
}

// TestBuild_AddActorGatedByFlag mirrors spec §6 "enableAddingActors".
func TestBuild_AddActorGatedByFlag(t *testing.T) {
	idx := Build(Deps{}, false)
	_, ok := byName(idx, "add-actor")
	assert.False(t, ok)

	idx = Build(Deps{}, true)
	_, ok = byName(idx, "add-actor")
	assert.True(t, ok)
}

// TestS1_SelectorResolutionOpenAIMode reproduces spec §8 scenario S1 end to end: category
// expansion, dependency injection immediately after call-actor, a directly-named tool, and
// unconditional ui-category append in openai mode, with no remote-job tools loaded.
func TestS1_SelectorResolutionOpenAIMode(t *testing.T) {
	idx := Build(Deps{}, false)
	c := &catalog.Catalog{Static: idx}

	got, err := c.Resolve(context.Background(), catalog.Options{
		Selectors: []string{"actors", "fetch-apify-docs"},
		UIMode:    "openai",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"store-search", "fetch-actor-details", "call-actor",
		"get-actor-run", "get-actor-output",
		"fetch-apify-docs",
		"store-search-internal", "fetch-actor-details-internal",
	}, namesOf(got))
}

func byName(idx catalog.StaticIndex, name string) (catalog.StaticTool, bool) {
	for _, t := range idx.Tools {
		if t.Name == name {
			return t, true
		}
	}
	return catalog.StaticTool{}, false
}
