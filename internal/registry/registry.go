// Package registry implements the Tool Registry (spec §4.2, C2): the in-memory mapping
// from tool name to tool entry, grounded on the teacher's Put/Get/Delete store contract
// (mcpsvr/resources/localresources/store.go) generalized from a resource store to an
// in-process map since Tool Entries are never persisted, only cached per server instance.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/apify/apify-mcp-server-sub001/internal/mcpproto"
)

// Kind tags the three Tool Entry variants of spec §3.
type Kind string

const (
	KindInternal  Kind = "internal"
	KindActor     Kind = "actor"      // remote-job tool
	KindActorMCP  Kind = "actor-mcp"  // remote-MCP tool
)

// Handler is the invocation signature of internal and remote-MCP tools. The call frame is
// built in package dispatch and seen here only through the Context interface below, which
// avoids an import cycle.
type Handler func(ctx Context) (*mcpproto.CallToolResult, error)

// Context is the minimal frame a Handler receives; package dispatch builds the concrete
// value and passes it through, but Registry only needs the shape to stay decoupled.
type Context interface {
	Arguments() map[string]interface{}
	SessionID() string
}

// Entry is the tagged-variant Tool Entry of spec §3. Exactly one of the Kind-specific
// fields is meaningful for a given Kind; this is a deliberate sum-type-by-convention
// (spec §9 "Design Notes: tagged variants for tools") rather than an interface hierarchy,
// because most call sites need the common fields regardless of kind.
type Entry struct {
	Kind Kind

	Name        string
	Description string
	InputSchema mcpproto.JSONSchema
	OutputSchema *mcpproto.JSONSchema
	Annotations *mcpproto.ToolAnnotations
	Meta        mcpproto.Meta
	Execution   mcpproto.ToolExecution

	// Validator is pre-compiled at load time (schema.Normalizer); entries whose schema fails
	// compilation are not inserted (spec §4.1). Remote-MCP entries carry a nil Validator,
	// and the dispatcher skips validation for a nil Validator.
	Validator Validator

	// Handler is set for internal and remote-MCP (actor-mcp) tools.
	Handler Handler

	// Actor (remote-job) tool fields.
	ActorFullName string // "owner/name"
	MemoryMbytes  *int

	// Actor-MCP (remote-MCP) tool fields.
	OriginToolName string
	ServerID       string // hex-prefix of sha256(ServerURL)
	ServerURL      string
}

// Validator compiles & validates a set of call arguments. Implemented by package schema.
type Validator interface {
	Validate(args map[string]interface{}) error
}

// Clone returns a deep-enough copy of e suitable for per-mode mutation (e.g. injecting a
// skyfire-pay-id property): spec §9 "Ownership of tool entries ... clone first; never
// mutate in place (known past-bug pattern)".
func (e *Entry) Clone() *Entry {
	cp := *e
	if e.OutputSchema != nil {
		os := *e.OutputSchema
		cp.OutputSchema = &os
	}
	if e.Annotations != nil {
		ann := *e.Annotations
		cp.Annotations = &ann
	}
	if e.Meta != nil {
		m := make(mcpproto.Meta, len(e.Meta))
		for k, v := range e.Meta {
			m[k] = v
		}
		cp.Meta = m
	}
	if e.InputSchema != nil {
		cp.InputSchema = cloneJSON(e.InputSchema)
	}
	return &cp
}

func cloneJSON(m map[string]interface{}) map[string]interface{} {
	cp := make(map[string]interface{}, len(m))
	for k, v := range m {
		if nested, ok := v.(map[string]interface{}); ok {
			cp[k] = cloneJSON(nested)
		} else {
			cp[k] = v
		}
	}
	return cp
}

// ToMCP projects Entry to the public, wire-safe mcpproto.Tool (spec §6 "Tool-list
// projection"): handlers, validators and remote-origin fields are never exposed.
func (e *Entry) ToMCP(uiMode string) mcpproto.Tool {
	meta := filterMeta(e.Meta, uiMode)
	return mcpproto.Tool{
		BaseMetadata: mcpproto.BaseMetadata{Name: e.Name},
		Description:  ptrOrNil(e.Description),
		InputSchema:  e.InputSchema,
		OutputSchema: e.OutputSchema,
		Annotations:  e.Annotations,
		Meta:         meta,
		Execution:    e.Execution,
	}
}

func ptrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// filterMeta strips "openai/*" keys outside openai mode (spec §4.9, §6, §8 property 3).
// When only openai/* keys exist, the resulting map is nil (absent on the wire).
func filterMeta(meta mcpproto.Meta, uiMode string) mcpproto.Meta {
	if meta == nil {
		return nil
	}
	if uiMode == "openai" {
		out := make(mcpproto.Meta, len(meta))
		for k, v := range meta {
			out[k] = v
		}
		return out
	}
	out := make(mcpproto.Meta, len(meta))
	for k, v := range meta {
		if len(k) >= 7 && k[:7] == "openai/" {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// ChangeFunc is invoked after an upsert/remove that requested notification, with the names
// that call upserted or actually removed. It does not receive the full set of names left
// in the registry.
type ChangeFunc func(names []string)

// Registry is the in-memory Tool Entry store of spec §4.2. Safe for concurrent use; all
// mutation is serialized behind mu, matching spec §5 ("mutation ... must serialize these
// [registry] mutations").
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	onChange ChangeFunc
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: map[string]*Entry{}}
}

// RegisterChangeHandler installs the single change-handler slot. Registering while a
// handler is already registered is a programming error and returns an error (spec §4.2).
func (r *Registry) RegisterChangeHandler(fn ChangeFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.onChange != nil {
		return errors.New("registry: a change handler is already registered")
	}
	r.onChange = fn
	return nil
}

// UnregisterChangeHandler clears the change-handler slot. Unregistering when absent is an
// error (spec §4.2).
func (r *Registry) UnregisterChangeHandler() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.onChange == nil {
		return errors.New("registry: no change handler is registered")
	}
	r.onChange = nil
	return nil
}

// Upsert inserts or replaces entries by name. Tool Entries are immutable once inserted;
// callers that need to change one must build a new *Entry and Upsert it (spec §3, §9).
func (r *Registry) Upsert(entries []*Entry, notify bool) {
	r.mu.Lock()
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		r.entries[e.Name] = e
		names = append(names, e.Name)
	}
	onChange := r.onChange
	r.mu.Unlock()
	if notify && onChange != nil {
		onChange(names)
	}
}

// Remove deletes entries by name, returning the names actually removed.
func (r *Registry) Remove(names []string, notify bool) []string {
	r.mu.Lock()
	removed := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := r.entries[n]; ok {
			delete(r.entries, n)
			removed = append(removed, n)
		}
	}
	onChange := r.onChange
	r.mu.Unlock()
	if notify && onChange != nil && len(removed) > 0 {
		onChange(removed)
	}
	return removed
}

// Get looks up an entry by name.
func (r *Registry) Get(name string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e, ok
}

// List returns all current entries in unspecified (map iteration) order (spec §4.2);
// callers that need a stable order (e.g. tools/list) must sort explicitly.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}

// Names returns the sorted list of currently-registered tool names, used to build the
// "available tools" hint in an unknown-tool error (spec §4.6 step 2).
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.entries))
	for n := range r.entries {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Close drops all entries and clears the change handler (spec §4.2 "close()").
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = map[string]*Entry{}
	r.onChange = nil
}

// ValidName reports whether name fits the length bound and character set of spec §3.
func ValidName(name string) bool {
	if len(name) == 0 || len(name) > 64 {
		return false
	}
	for _, c := range name {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
		default:
			return false
		}
	}
	return true
}

const (
	actorNameSeparator = "--"
	dotReplacement     = "-dot-"
)

// EncodeActorName deterministically maps an "owner/name" remote-job identity to a
// registry-safe tool name (spec §3: "Slash ... mapped to a dedicated separator; dot is
// also escaped"). Reversing it is not exposed by the registry: the actorFullName field on
// the Entry is the source of truth, per spec.
func EncodeActorName(ownerSlashName string) string {
	out := make([]byte, 0, len(ownerSlashName)+8)
	for i := 0; i < len(ownerSlashName); i++ {
		switch ownerSlashName[i] {
		case '/':
			out = append(out, actorNameSeparator...)
		case '.':
			out = append(out, dotReplacement...)
		default:
			out = append(out, ownerSlashName[i])
		}
	}
	name := string(out)
	if len(name) > 64 {
		name = name[:64]
	}
	return name
}

// Errorf builds an error in the style used across this package for registry invariant
// violations, which the dispatcher must never let escape as a generic panic.
func Errorf(format string, args ...any) error { return fmt.Errorf("registry: "+format, args...) }
