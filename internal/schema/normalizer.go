// Package schema implements the Schema Normalizer (spec §4.1, C1): turning an arbitrary
// remote-job input schema into a canonical, validator-ready JSON Schema and a pre-compiled
// validator. The pipeline walks/patches schema documents as raw JSON via gjson/sjson
// rather than a closed Go struct, because editor-hint shapes (proxy, requestListSources,
// pseudoUrls, ...) are heterogeneous and schema-design, not domain, data.
package schema

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/santhosh-tekuri/jsonschema/v6"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const (
	descriptionCap  = 1000
	enumCharCap     = 200
	maxEnumExamples = 20
	dotToken        = "-dot-"
)

// editorShapes gives the fixed nested shape each editor hint implies (spec §4.1 step 2).
// The collaborator platform specifies these constants; they are not derived from the raw
// schema.
var editorShapes = map[string]map[string]interface{}{
	"proxy": {
		"type": "object",
		"properties": map[string]interface{}{
			"useApifyProxy": map[string]interface{}{"type": "boolean"},
			"apifyProxyGroups": map[string]interface{}{
				"type":  "array",
				"items": map[string]interface{}{"type": "string"},
			},
		},
	},
	"requestListSources": {
		"type": "array",
		"items": map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"url": map[string]interface{}{"type": "string"}},
			"required":   []interface{}{"url"},
		},
	},
	"pseudoUrls": {
		"type": "array",
		"items": map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"purl": map[string]interface{}{"type": "string"}},
		},
	},
	"globs": {
		"type": "array",
		"items": map[string]interface{}{
			"type":       "object",
			"properties": map[string]interface{}{"glob": map[string]interface{}{"type": "string"}},
		},
	},
	"keyValue": {
		"type":                 "object",
		"additionalProperties": true,
	},
	"resourcePicker": {
		"type": "object",
		"properties": map[string]interface{}{
			"id":  map[string]interface{}{"type": "string"},
			"url": map[string]interface{}{"type": "string"},
		},
	},
}

// editorArrayItemType is used by step 3's editor-derived fallback.
var editorArrayItemType = map[string]string{
	"requestListSources": "object",
	"stringList":         "string",
	"json":                "object",
	"globs":               "object",
	"select":              "string",
}

// Validator adapts a compiled jsonschema.Schema to registry.Validator.
type Validator struct {
	schema *jsonschema.Schema
}

func (v *Validator) Validate(args map[string]interface{}) error {
	return v.schema.Validate(args)
}

// Definition is the cached, normalized result for one remote job's input schema.
type Definition struct {
	Schema    map[string]interface{}
	Validator *Validator
}

// Normalizer runs the fixed pipeline of spec §4.1 and caches results per owner/id, "never
// invalidated during a session's lifetime (acceptable because definitions change rarely)"
// (spec §3 "Schema cache").
type Normalizer struct {
	mu    sync.Mutex
	cache *lru.Cache[string, *Definition]
}

// New returns a Normalizer with a cache sized for the process's expected distinct remote
// jobs per session; size is generous because entries are small and never invalidated.
func New() *Normalizer {
	c, _ := lru.New[string, *Definition](2048)
	return &Normalizer{cache: c}
}

// Normalize runs the full pipeline on rawSchema for the given owner/id key, returning a
// cached result on repeat calls. whitelist, when non-nil, restricts the output's top-level
// properties (spec §4.1 "Whitelisting").
func (n *Normalizer) Normalize(ownerOrID string, rawSchema map[string]interface{}, whitelist []string) (*Definition, error) {
	if d, ok := n.cache.Get(ownerOrID); ok {
		return d, nil
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if d, ok := n.cache.Get(ownerOrID); ok { // re-check under lock
		return d, nil
	}

	buf, err := json.Marshal(rawSchema)
	if err != nil {
		return nil, fmt.Errorf("schema: marshal input: %w", err)
	}

	buf = stripExternalRefs(buf)
	buf = applyWhitelist(buf, whitelist)

	props := gjson.GetBytes(buf, "properties")
	required := stringSlice(gjson.GetBytes(buf, "required"))

	if props.IsObject() {
		props.ForEach(func(key, prop gjson.Result) bool {
			path := "properties." + escapeGJSONKey(key.String())
			isRequired := contains(required, key.String())
			buf = markRequired(buf, path, isRequired)                  // step 1
			buf = buildEditorNestedProperties(buf, path, prop)          // step 2
			buf = inferArrayItemType(buf, path, prop)                   // step 3
			buf = filterPropertyFields(buf, path)                       // step 4
			buf = shortenDescriptionAndEnum(buf, path)                  // step 5
			buf = addEnumsAndExamplesToDescription(buf, path)           // step 6
			return true
		})
	}

	buf = encodeDotPropertyNames(buf) // step 7

	var normalized map[string]interface{}
	if err := json.Unmarshal(buf, &normalized); err != nil {
		return nil, fmt.Errorf("schema: unmarshal normalized: %w", err)
	}

	compiler := jsonschema.NewCompiler()
	// additionalProperties stays permissive: out-of-band parameters (e.g. a payment id) may
	// be added by the dispatcher after validation (spec §4.1 "Validator compilation").
	compiled, err := compileLenient(compiler, ownerOrID, normalized)
	if err != nil {
		return nil, fmt.Errorf("schema: compile: %w", err)
	}

	def := &Definition{Schema: normalized, Validator: &Validator{schema: compiled}}
	n.cache.Add(ownerOrID, def)
	return def, nil
}

// CompileStatic compiles a plain JSON Schema outside the remote-job normalization pipeline,
// for internal tools' own fixed input schemas (spec §4.1's "pre-compile to a fast
// validator" applies to every Tool Entry, not only remote-job ones).
func CompileStatic(id string, schemaDoc map[string]interface{}) (*Validator, error) {
	compiled, err := compileLenient(jsonschema.NewCompiler(), id, schemaDoc)
	if err != nil {
		return nil, err
	}
	return &Validator{schema: compiled}, nil
}

func compileLenient(compiler *jsonschema.Compiler, id string, schemaDoc map[string]interface{}) (*jsonschema.Schema, error) {
	url := "mem://" + id
	if err := compiler.AddResource(url, schemaDoc); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// stripExternalRefs removes $schema, $ref, and schemaVersion from the root, because the
// validator can't resolve external references (spec §4.1 "Additionally strip...").
func stripExternalRefs(buf []byte) []byte {
	for _, key := range []string{"$schema", "$ref", "schemaVersion"} {
		buf, _ = sjson.DeleteBytes(buf, key)
	}
	return buf
}

// applyWhitelist removes properties not in whitelist and shrinks required accordingly
// (spec §4.1 "Whitelisting"). A nil/empty whitelist is a no-op.
func applyWhitelist(buf []byte, whitelist []string) []byte {
	if len(whitelist) == 0 {
		return buf
	}
	allowed := map[string]bool{}
	for _, w := range whitelist {
		allowed[w] = true
	}
	props := gjson.GetBytes(buf, "properties")
	if props.IsObject() {
		props.ForEach(func(key, _ gjson.Result) bool {
			if !allowed[key.String()] {
				buf, _ = sjson.DeleteBytes(buf, "properties."+escapeGJSONKey(key.String()))
			}
			return true
		})
	}
	required := stringSlice(gjson.GetBytes(buf, "required"))
	kept := make([]string, 0, len(required))
	for _, r := range required {
		if allowed[r] {
			kept = append(kept, r)
		}
	}
	buf, _ = sjson.SetBytes(buf, "required", kept)
	return buf
}

// markRequired prepends "**REQUIRED**" to a required property's description (spec §4.1
// step 1). Idempotent: a description that already carries the marker is left alone.
func markRequired(buf []byte, path string, isRequired bool) []byte {
	if !isRequired {
		return buf
	}
	desc := gjson.GetBytes(buf, path+".description").String()
	if strings.HasPrefix(desc, "**REQUIRED**") {
		return buf
	}
	buf, _ = sjson.SetBytes(buf, path+".description", "**REQUIRED** "+desc)
	return buf
}

// buildEditorNestedProperties injects the fixed shape implied by an editor hint (spec
// §4.1 step 2).
func buildEditorNestedProperties(buf []byte, path string, prop gjson.Result) []byte {
	editor := prop.Get("editor").String()
	shape, ok := editorShapes[editor]
	if !ok {
		return buf
	}
	if shape["properties"] != nil && !prop.Get("properties").Exists() {
		buf, _ = sjson.SetBytes(buf, path+".properties", shape["properties"])
	}
	if shape["items"] != nil && !prop.Get("items").Exists() {
		buf, _ = sjson.SetBytes(buf, path+".items", shape["items"])
	}
	if shape["additionalProperties"] != nil && !prop.Get("additionalProperties").Exists() {
		buf, _ = sjson.SetBytes(buf, path+".additionalProperties", shape["additionalProperties"])
	}
	return buf
}

// inferArrayItemType fills items.type by priority when missing (spec §4.1 step 3):
// explicit items.type -> prefill[0] type -> default[0] type -> editor-derived default.
func inferArrayItemType(buf []byte, path string, prop gjson.Result) []byte {
	if prop.Get("type").String() != "array" {
		return buf
	}
	if prop.Get("items.type").Exists() {
		return buf
	}

	var inferred string
	if first := prop.Get("prefill.0"); first.Exists() {
		inferred = jsonKindOf(first)
	} else if first := prop.Get("default.0"); first.Exists() {
		inferred = jsonKindOf(first)
	} else if t, ok := editorArrayItemType[prop.Get("editor").String()]; ok {
		inferred = t
	}
	if inferred == "" {
		return buf
	}
	if !prop.Get("items").Exists() {
		buf, _ = sjson.SetBytes(buf, path+".items", map[string]interface{}{"type": inferred})
	} else {
		buf, _ = sjson.SetBytes(buf, path+".items.type", inferred)
	}
	return buf
}

func jsonKindOf(r gjson.Result) string {
	switch r.Type {
	case gjson.String:
		return "string"
	case gjson.Number:
		return "number"
	case gjson.True, gjson.False:
		return "boolean"
	case gjson.JSON:
		if r.IsArray() {
			return "array"
		}
		return "object"
	default:
		return ""
	}
}

var keptPropertyFields = []string{"title", "description", "enum", "type", "default", "prefill", "properties", "items", "required"}

// filterPropertyFields drops UI-only fields, keeping only the whitelisted set (spec §4.1
// step 4).
func filterPropertyFields(buf []byte, path string) []byte {
	prop := gjson.GetBytes(buf, path)
	if !prop.IsObject() {
		return buf
	}
	kept := map[string]bool{}
	for _, f := range keptPropertyFields {
		kept[f] = true
	}
	prop.ForEach(func(key, _ gjson.Result) bool {
		if !kept[key.String()] {
			buf, _ = sjson.DeleteBytes(buf, path+"."+escapeGJSONKey(key.String()))
		}
		return true
	})
	return buf
}

// shortenDescriptionAndEnum truncates an over-long description and prunes an over-long
// enum list (spec §4.1 step 5).
func shortenDescriptionAndEnum(buf []byte, path string) []byte {
	if desc := gjson.GetBytes(buf, path+".description"); desc.Exists() && len(desc.String()) > descriptionCap {
		buf, _ = sjson.SetBytes(buf, path+".description", desc.String()[:descriptionCap]+"…")
	}
	if enum := gjson.GetBytes(buf, path+".enum"); enum.IsArray() {
		kept := []interface{}{}
		total := 0
		for _, v := range enum.Array() {
			s := v.String()
			if total+len(s) > enumCharCap && len(kept) > 0 {
				break
			}
			kept = append(kept, v.Value())
			total += len(s)
		}
		buf, _ = sjson.SetBytes(buf, path+".enum", kept)
	}
	return buf
}

// addEnumsAndExamplesToDescription appends "Possible values" / "Example values" prose and
// sets examples from prefill/default (spec §4.1 step 6).
func addEnumsAndExamplesToDescription(buf []byte, path string) []byte {
	prop := gjson.GetBytes(buf, path)
	desc := prop.Get("description").String()

	if enum := prop.Get("enum"); enum.IsArray() {
		vals := enum.Array()
		n := len(vals)
		if n > maxEnumExamples {
			n = maxEnumExamples
		}
		names := make([]string, 0, n)
		for _, v := range vals[:n] {
			names = append(names, v.String())
		}
		desc = strings.TrimSpace(desc + " Possible values: " + strings.Join(names, ","))
	}

	example := prop.Get("prefill")
	if !example.Exists() {
		example = prop.Get("default")
	}
	if example.Exists() {
		desc = strings.TrimSpace(desc + " Example values: " + example.Raw)
		examples := example.Value()
		if _, isArray := examples.([]interface{}); !isArray {
			examples = []interface{}{examples}
		}
		buf, _ = sjson.SetBytes(buf, path+".examples", examples)
	}

	if desc != "" {
		buf, _ = sjson.SetBytes(buf, path+".description", desc)
	}
	return buf
}

// encodeDotPropertyNames replaces "." with dotToken in property keys (spec §4.1 step 7,
// §8 property 10): "no encoded key contains a '.'" and decode(encode(k))==k.
func encodeDotPropertyNames(buf []byte) []byte {
	props := gjson.GetBytes(buf, "properties")
	if !props.IsObject() {
		return buf
	}
	renames := map[string]string{}
	props.ForEach(func(key, _ gjson.Result) bool {
		k := key.String()
		if strings.Contains(k, ".") {
			renames[k] = EncodePropertyName(k)
		}
		return true
	})
	for from, to := range renames {
		val := gjson.GetBytes(buf, "properties."+escapeGJSONKey(from))
		buf, _ = sjson.SetRawBytes(buf, "properties."+escapeGJSONKey(to), []byte(val.Raw))
		buf, _ = sjson.DeleteBytes(buf, "properties."+escapeGJSONKey(from))
	}
	required := stringSlice(gjson.GetBytes(buf, "required"))
	for i, r := range required {
		if to, ok := renames[r]; ok {
			required[i] = to
		}
	}
	if len(renames) > 0 {
		buf, _ = sjson.SetBytes(buf, "required", required)
	}
	return buf
}

// EncodePropertyName is the forward half of the dot-encoding round trip.
func EncodePropertyName(k string) string { return strings.ReplaceAll(k, ".", dotToken) }

// DecodePropertyName is the mirror decoder applied to incoming arguments before forwarding
// to the remote job (spec §4.1 step 7). decode(encode(k)) == k for all k.
func DecodePropertyName(k string) string { return strings.ReplaceAll(k, dotToken, ".") }

// DecodeArguments mirror-decodes every top-level key of args, returning a new map; used by
// the Execution Engine just before forwarding validated arguments to the remote job.
func DecodeArguments(args map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		out[DecodePropertyName(k)] = v
	}
	return out
}

func stringSlice(r gjson.Result) []string {
	if !r.IsArray() {
		return nil
	}
	out := make([]string, 0)
	for _, v := range r.Array() {
		out = append(out, v.String())
	}
	return out
}

func contains(ss []string, s string) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

// escapeGJSONKey escapes characters gjson/sjson paths treat specially (".", "*", "?") so a
// literal property key of arbitrary shape can be addressed as a single path segment.
func escapeGJSONKey(key string) string {
	r := strings.NewReplacer(".", `\.`, "*", `\*`, "?", `\?`)
	return r.Replace(key)
}

// ServerURLHash returns the stable hex-prefix used to namespace remote-MCP tool names
// (spec §4.4 step 5): 12 hex characters of SHA-256 of the server URL.
func ServerURLHash(serverURL string) string {
	sum := sha256.Sum256([]byte(serverURL))
	return hex.EncodeToString(sum[:])[:12]
}

// SortedKeys is a small helper used by callers that need deterministic iteration over a
// normalized schema's properties (e.g. building prose listings in tool descriptions).
func SortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var _ = strconv.Itoa // keep strconv imported for future numeric-enum formatting paths
