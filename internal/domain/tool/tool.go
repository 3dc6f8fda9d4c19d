// Package tool defines the Tool abstraction, the mode-gated registry
// that exposes tool schemas to the provider, and the result shape tools
// return to the agent loop.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Mode gates which tools are visible and executable. ReadOnly is the
// conservative default; Full unlocks everything.
type Mode string

const (
	ModeReadOnly Mode = "read_only"
	ModeFull     Mode = "full"
)

// readOnlyAllowed is the explicit allow-list for ModeReadOnly. Every
// other registered tool is blocked in that mode.
var readOnlyAllowed = map[string]bool{
	"read":            true,
	"web_search":      true,
	"fetch_url":       true,
	"scheduler.list":  true,
}

// maxResultBytes is the default cap on ToolResult content; truncation
// happens at a UTF-8 rune boundary and appends a marker.
const maxResultBytes = 100 * 1024
const truncationMarker = "\n...[truncated]"

// Tool is the abstraction every built-in and future tool implements.
type Tool interface {
	Name() string
	Description() string
	Schema() map[string]interface{}
	// AllowedInMode reports whether this tool may run under mode.
	AllowedInMode(mode Mode) bool
	Execute(ctx context.Context, args map[string]interface{}) (*Result, error)
}

// Result is what a tool returns to the agent loop.
type Result struct {
	Success   bool
	Content   string
	Error     string
	Truncated bool
	Metadata  map[string]interface{}
}

// NewResult builds a successful result, truncating content to
// maxResultBytes on a UTF-8 boundary when it exceeds the cap.
func NewResult(content string) *Result {
	truncated := false
	if len(content) > maxResultBytes {
		content = truncateUTF8(content, maxResultBytes) + truncationMarker
		truncated = true
	}
	return &Result{Success: true, Content: content, Truncated: truncated}
}

// NewErrorResult builds a failed result.
func NewErrorResult(errMsg string) *Result {
	return &Result{Success: false, Error: errMsg}
}

func truncateUTF8(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !isUTF8Boundary(s[cut]) {
		cut--
	}
	return s[:cut]
}

// isUTF8Boundary reports whether b can start a rune (is not a
// continuation byte), so cutting just before it leaves valid UTF-8.
func isUTF8Boundary(b byte) bool {
	return b&0xC0 != 0x80
}

func (r *Result) MarshalJSON() ([]byte, error) {
	return json.Marshal(map[string]interface{}{
		"success":   r.Success,
		"content":   r.Content,
		"error":     r.Error,
		"truncated": r.Truncated,
	})
}

// Definition is a tool's schema as exported to the provider.
type Definition struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Parameters  map[string]interface{} `json:"parameters"`
}

// Registry holds every registered tool and filters by mode both on
// lookup and when exporting schemas.
type Registry interface {
	Register(tool Tool) error
	Get(name string, mode Mode) (Tool, bool)
	List(mode Mode) []Definition
	Has(name string) bool
}

// InMemoryRegistry is the default Registry implementation.
type InMemoryRegistry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

func NewInMemoryRegistry() *InMemoryRegistry {
	return &InMemoryRegistry{tools: make(map[string]Tool)}
}

func (r *InMemoryRegistry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := t.Name()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = t
	return nil
}

// Get returns the tool only if it is both registered and allowed in
// mode. A mode-blocked tool is invisible, not merely denied.
func (r *InMemoryRegistry) Get(name string, mode Mode) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, exists := r.tools[name]
	if !exists || !t.AllowedInMode(mode) {
		return nil, false
	}
	return t, true
}

func (r *InMemoryRegistry) List(mode Mode) []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	defs := make([]Definition, 0, len(r.tools))
	for _, t := range r.tools {
		if !t.AllowedInMode(mode) {
			continue
		}
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Schema(),
		})
	}
	return defs
}

func (r *InMemoryRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, exists := r.tools[name]
	return exists
}

// ParseArguments decodes a tool call's raw JSON argument string into a
// generic map. An empty string is treated as no arguments.
func ParseArguments(raw string) (map[string]interface{}, error) {
	if raw == "" {
		return map[string]interface{}{}, nil
	}
	var args map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("parse tool arguments: %w", err)
	}
	return args, nil
}

// ReadOnlyGate is embedded by tools that only ever run under ModeFull
// except for the fixed ReadOnly allow-list; most built-ins compose it
// instead of re-implementing AllowedInMode.
type ReadOnlyGate struct {
	name string
}

func NewReadOnlyGate(name string) ReadOnlyGate {
	return ReadOnlyGate{name: name}
}

func (g ReadOnlyGate) AllowedInMode(mode Mode) bool {
	if mode == ModeFull {
		return true
	}
	return readOnlyAllowed[g.name]
}
