package tool

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestResolveWorkspacePathStaysUnderRoot(t *testing.T) {
	root := t.TempDir()

	resolved, err := resolveWorkspacePath(root, "notes/today.txt")
	if err != nil {
		t.Fatalf("resolveWorkspacePath: %v", err)
	}

	rootAbs, err := filepath.Abs(root)
	if err != nil {
		t.Fatalf("abs root: %v", err)
	}
	if resolved != rootAbs && !strings.HasPrefix(resolved, rootAbs+string(filepath.Separator)) {
		t.Fatalf("resolved path %q escapes workspace root %q", resolved, rootAbs)
	}
	if strings.Contains(resolved, "..") {
		t.Fatalf("resolved path contains traversal: %q", resolved)
	}
}

func TestResolveWorkspacePathRejectsTraversal(t *testing.T) {
	root := t.TempDir()
	if _, err := resolveWorkspacePath(root, "../../etc/passwd"); err == nil {
		t.Fatal("expected traversal to be rejected")
	}
}

func TestResolveWorkspacePathRejectsForbiddenPrefix(t *testing.T) {
	_, err := resolveWorkspacePath("/", "etc/passwd")
	if err == nil {
		t.Fatal("expected forbidden system prefix to be rejected")
	}
	if !strings.Contains(err.Error(), "forbidden") {
		t.Fatalf("expected the forbidden-prefix check to reject the path, got: %v", err)
	}
}

func TestResolveWorkspacePathErrorSanitizesAbsolutePath(t *testing.T) {
	root := t.TempDir()
	_, err := resolveWorkspacePath(root, "../outside")
	if err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(err.Error(), root) {
		t.Fatalf("error message leaked workspace root: %v", err)
	}
	if !strings.Contains(err.Error(), "<workspace>") {
		t.Fatalf("expected sanitized <workspace> marker, got: %v", err)
	}
}
