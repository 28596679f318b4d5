package actorrun

import (
	"encoding/json"

	"github.com/apify/apify-mcp-server-sub001/internal/apifyclient"
)

// InferSchema performs shallow type inference over observed items (spec §4.7 step 5):
// each top-level field's JSON type, optional fields marked, nested objects recursed into,
// and the object elements of an array field, across all items, merged into one union
// "items" schema (arrays with no object elements get no "items").
func InferSchema(items []map[string]interface{}) map[string]interface{} {
	if len(items) == 0 {
		return map[string]interface{}{"type": "object", "properties": map[string]interface{}{}}
	}

	fieldTypes := map[string]string{}
	fieldSeenCount := map[string]int{}
	nested := map[string][]map[string]interface{}{}
	arrayItems := map[string][]map[string]interface{}{}

	for _, item := range items {
		for k, v := range item {
			fieldSeenCount[k]++
			t := jsonType(v)
			if prev, ok := fieldTypes[k]; ok && prev != t {
				fieldTypes[k] = "mixed"
			} else {
				fieldTypes[k] = t
			}
			if m, ok := v.(map[string]interface{}); ok {
				nested[k] = append(nested[k], m)
			}
			if arr, ok := v.([]interface{}); ok {
				for _, el := range arr {
					if m, ok := el.(map[string]interface{}); ok {
						arrayItems[k] = append(arrayItems[k], m)
					}
				}
			}
		}
	}

	props := map[string]interface{}{}
	required := []string{}
	for k, t := range fieldTypes {
		prop := map[string]interface{}{"type": t}
		if sub, ok := nested[k]; ok && t == "object" {
			prop = InferSchema(sub)
		}
		if sub, ok := arrayItems[k]; ok && t == "array" {
			prop["items"] = InferSchema(sub)
		}
		props[k] = prop
		if fieldSeenCount[k] == len(items) {
			required = append(required, k)
		}
	}

	return map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

func jsonType(v interface{}) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case float64, json.Number, int, int64:
		return "number"
	case string:
		return "string"
	case []interface{}:
		return "array"
	case map[string]interface{}:
		return "object"
	default:
		return "string"
	}
}

// BuildPreview implements spec §4.7 step 6: keep every item if already under budget;
// otherwise project each item onto the union of fields the job's storage views declare
// important, then drop tail items until under budget, appending a sentinel item. It never
// drops to zero items when at least one exists.
func BuildPreview(items []map[string]interface{}, views map[string]apifyclient.StorageView, charBudget int) ([]map[string]interface{}, bool) {
	if len(items) == 0 {
		return nil, false
	}

	if jsonLen(items) <= charBudget {
		return items, false
	}

	important := importantFields(views)
	projected := items
	if len(important) > 0 {
		projected = make([]map[string]interface{}, len(items))
		for i, item := range items {
			projected[i] = project(item, important)
		}
	}

	kept := projected
	for len(kept) > 1 && jsonLenWithSentinel(kept, len(items)) > charBudget {
		kept = kept[:len(kept)-1]
	}

	sentinel := map[string]interface{}{
		"truncationInfo":           true,
		"originalItemCount":        len(items),
		"itemCountAfterTruncation": len(kept),
	}
	return append(append([]map[string]interface{}{}, kept...), sentinel), true
}

func importantFields(views map[string]apifyclient.StorageView) map[string]bool {
	out := map[string]bool{}
	for _, v := range views {
		for _, f := range v.Transformation.Fields {
			out[f] = true
		}
		for f := range v.Display.Properties {
			out[f] = true
		}
	}
	return out
}

func project(item map[string]interface{}, fields map[string]bool) map[string]interface{} {
	out := map[string]interface{}{}
	for k, v := range item {
		if fields[k] {
			out[k] = v
		}
	}
	if len(out) == 0 {
		return item // views declared nothing useful; better to keep the whole item than emit {}
	}
	return out
}

func jsonLen(items []map[string]interface{}) int {
	b, err := json.Marshal(items)
	if err != nil {
		return charBudgetOverflow
	}
	return len(b)
}

func jsonLenWithSentinel(items []map[string]interface{}, originalCount int) int {
	withSentinel := append(append([]map[string]interface{}{}, items...), map[string]interface{}{
		"truncationInfo": true, "originalItemCount": originalCount, "itemCountAfterTruncation": len(items),
	})
	return jsonLen(withSentinel)
}

const charBudgetOverflow = 1 << 30
