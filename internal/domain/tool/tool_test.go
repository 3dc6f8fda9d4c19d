package tool

import (
	"context"
	"strings"
	"testing"
)

type stubTool struct {
	ReadOnlyGate
	name string
}

func (s stubTool) Name() string                           { return s.name }
func (s stubTool) Description() string                    { return "stub" }
func (s stubTool) Schema() map[string]interface{}          { return map[string]interface{}{} }
func (s stubTool) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	return NewResult("ok"), nil
}

func newStub(name string) Tool {
	return stubTool{ReadOnlyGate: NewReadOnlyGate(name), name: name}
}

func TestRegistryReadOnlyModeHidesGatedTools(t *testing.T) {
	reg := NewInMemoryRegistry()
	for _, name := range []string{"bash", "edit", "write", "read"} {
		if err := reg.Register(newStub(name)); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	for _, name := range []string{"bash", "edit", "write"} {
		if _, ok := reg.Get(name, ModeReadOnly); ok {
			t.Fatalf("expected %s to be hidden in ModeReadOnly", name)
		}
	}
	if _, ok := reg.Get("read", ModeReadOnly); !ok {
		t.Fatal("expected read to remain visible in ModeReadOnly")
	}
}

func TestRegistryFullModeExposesEverything(t *testing.T) {
	reg := NewInMemoryRegistry()
	_ = reg.Register(newStub("bash"))
	_ = reg.Register(newStub("edit"))

	if _, ok := reg.Get("bash", ModeFull); !ok {
		t.Fatal("expected bash visible in ModeFull")
	}
	if _, ok := reg.Get("edit", ModeFull); !ok {
		t.Fatal("expected edit visible in ModeFull")
	}
}

func TestRegistryListFiltersSchemaExportByMode(t *testing.T) {
	reg := NewInMemoryRegistry()
	_ = reg.Register(newStub("bash"))
	_ = reg.Register(newStub("read"))

	defs := reg.List(ModeReadOnly)
	if len(defs) != 1 || defs[0].Name != "read" {
		t.Fatalf("expected only read exported in ModeReadOnly, got %v", defs)
	}
}

func TestNewResultUntouchedBelowLimit(t *testing.T) {
	r := NewResult("hello world")
	if r.Truncated {
		t.Fatal("expected no truncation below the cap")
	}
	if r.Content != "hello world" {
		t.Fatalf("content mutated unexpectedly: %q", r.Content)
	}
}

func TestNewResultTruncatesAtUTF8Boundary(t *testing.T) {
	// A multi-byte rune repeated so the naive byte cut would land mid-rune.
	content := strings.Repeat("€", maxResultBytes) // 3 bytes per rune, well over cap
	r := NewResult(content)

	if !r.Truncated {
		t.Fatal("expected truncation above the cap")
	}
	if !strings.HasSuffix(r.Content, truncationMarker) {
		t.Fatalf("expected truncation marker suffix, got tail: %q", r.Content[len(r.Content)-20:])
	}
	if len(r.Content) > maxResultBytes+len(truncationMarker) {
		t.Fatalf("content exceeds max_bytes + marker_len: %d", len(r.Content))
	}
	body := strings.TrimSuffix(r.Content, truncationMarker)
	if !isValidUTF8(body) {
		t.Fatal("truncated content is not valid UTF-8")
	}
}

func isValidUTF8(s string) bool {
	for _, r := range s {
		if r == '�' {
			return false
		}
	}
	return true
}
