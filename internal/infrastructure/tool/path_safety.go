package tool

import (
	"fmt"
	"path/filepath"
	"strings"
)

// forbiddenPrefixes is the set of absolute system directories a
// path-safe tool may never resolve into, even when reached by a
// workspace-relative path.
var forbiddenPrefixes = []string{
	"/bin", "/usr", "/etc", "/System", "/proc", "/sys", "/dev", "/boot",
}

// resolveWorkspacePath canonicalizes a caller-supplied path against
// workspaceRoot, rejecting traversal sequences before canonicalization
// and forbidden system prefixes after. Error messages never leak the
// real absolute path; they report the sanitized <workspace>/... form.
func resolveWorkspacePath(workspaceRoot, rawPath string) (string, error) {
	if strings.Contains(rawPath, "..") {
		return "", fmt.Errorf("path escapes workspace: %s", sanitizeDisplayPath(workspaceRoot, rawPath))
	}

	joined := filepath.Join(workspaceRoot, rawPath)
	resolved, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("invalid path: %s", sanitizeDisplayPath(workspaceRoot, rawPath))
	}

	rootAbs, err := filepath.Abs(workspaceRoot)
	if err != nil {
		return "", fmt.Errorf("invalid workspace root")
	}

	rootPrefix := rootAbs
	if !strings.HasSuffix(rootPrefix, string(filepath.Separator)) {
		rootPrefix += string(filepath.Separator)
	}
	if resolved != rootAbs && !strings.HasPrefix(resolved, rootPrefix) {
		return "", fmt.Errorf("path escapes workspace: %s", sanitizeDisplayPath(workspaceRoot, rawPath))
	}

	for _, prefix := range forbiddenPrefixes {
		if resolved == prefix || strings.HasPrefix(resolved, prefix+string(filepath.Separator)) {
			return "", fmt.Errorf("path resolves into forbidden system location: %s", sanitizeDisplayPath(workspaceRoot, rawPath))
		}
	}

	return resolved, nil
}

// sanitizeDisplayPath renders a path for error messages as
// "<workspace>/rel" instead of the real absolute path.
func sanitizeDisplayPath(workspaceRoot, rawPath string) string {
	rel := strings.TrimPrefix(rawPath, workspaceRoot)
	rel = strings.TrimPrefix(rel, string(filepath.Separator))
	return "<workspace>/" + rel
}
