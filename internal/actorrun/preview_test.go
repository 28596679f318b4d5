package actorrun

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/apify/apify-mcp-server-sub001/internal/apifyclient"
)

func TestInferSchema_OptionalFieldMarking(t *testing.T) {
	items := []map[string]interface{}{
		{"url": "a", "title": "x"},
		{"url": "b"},
	}
	s := InferSchema(items)
	required := s["required"].([]string)
	assert.Contains(t, required, "url")
	assert.NotContains(t, required, "title")
}

func TestInferSchema_NestedObjectRecursion(t *testing.T) {
	items := []map[string]interface{}{
		{"meta": map[string]interface{}{"depth": float64(1)}},
	}
	s := InferSchema(items)
	props := s["properties"].(map[string]interface{})
	meta := props["meta"].(map[string]interface{})
	assert.Equal(t, "object", meta["type"])
}

func TestBuildPreview_KeepsAllUnderBudget(t *testing.T) {
	items := []map[string]interface{}{{"a": "1"}, {"a": "2"}}
	preview, truncated := BuildPreview(items, nil, 50_000)
	assert.False(t, truncated)
	assert.Len(t, preview, 2)
}

func TestBuildPreview_TruncatesWithSentinel(t *testing.T) {
	items := make([]map[string]interface{}, 200)
	for i := range items {
		items[i] = map[string]interface{}{"payload": strings.Repeat("x", 2000)}
	}
	preview, truncated := BuildPreview(items, nil, 50_000)
	require.True(t, truncated)
	last := preview[len(preview)-1]
	assert.Equal(t, true, last["truncationInfo"])
	assert.Equal(t, 200, last["originalItemCount"])
}

func TestBuildPreview_NeverDropsToZeroWithOneItem(t *testing.T) {
	items := []map[string]interface{}{{"payload": strings.Repeat("x", 100_000)}}
	preview, truncated := BuildPreview(items, nil, 50_000)
	require.True(t, truncated)
	require.GreaterOrEqual(t, len(preview), 1)
}

func TestBuildPreview_ProjectsToImportantFields(t *testing.T) {
	items := make([]map[string]interface{}, 100)
	for i := range items {
		items[i] = map[string]interface{}{"keep": "k", "drop": strings.Repeat("y", 2000)}
	}
	view := apifyclient.StorageView{}
	view.Transformation.Fields = []string{"keep"}
	views := map[string]apifyclient.StorageView{"overview": view}
	preview, truncated := BuildPreview(items, views, 50_000)
	require.True(t, truncated)
	first := preview[0]
	_, hasDrop := first["drop"]
	assert.False(t, hasDrop)
}
