package tool

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"time"

	domaintool "github.com/saorsa-labs/fae/internal/domain/tool"
	"go.uber.org/zap"
)

// ReadFileTool reads a file's contents relative to a workspace root,
// enforcing the shared path-safety rules.
type ReadFileTool struct {
	domaintool.ReadOnlyGate
	workspaceRoot string
	logger        *zap.Logger
}

func NewReadFileTool(workspaceRoot string, logger *zap.Logger) *ReadFileTool {
	return &ReadFileTool{ReadOnlyGate: domaintool.NewReadOnlyGate("read"), workspaceRoot: workspaceRoot, logger: logger}
}

func (t *ReadFileTool) Name() string        { return "read" }
func (t *ReadFileTool) Description() string { return "Read a file's contents from the workspace." }
func (t *ReadFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{"type": "string", "description": "Workspace-relative file path"},
		},
		"required": []string{"path"},
	}
}

func (t *ReadFileTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	path, _ := args["path"].(string)
	if path == "" {
		return domaintool.NewErrorResult("'path' parameter is required"), nil
	}

	resolved, err := resolveWorkspacePath(t.workspaceRoot, path)
	if err != nil {
		return domaintool.NewErrorResult(err.Error()), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		t.logger.Warn("read file failed", zap.String("path", path), zap.Error(err))
		return domaintool.NewErrorResult(fmt.Sprintf("read failed: %s", sanitizeDisplayPath(t.workspaceRoot, path))), nil
	}
	return domaintool.NewResult(string(data)), nil
}

// WriteFileTool writes (overwriting) a file's contents.
type WriteFileTool struct {
	workspaceRoot string
	logger        *zap.Logger
}

func NewWriteFileTool(workspaceRoot string, logger *zap.Logger) *WriteFileTool {
	return &WriteFileTool{workspaceRoot: workspaceRoot, logger: logger}
}

func (t *WriteFileTool) Name() string                            { return "write" }
func (t *WriteFileTool) Description() string                     { return "Write (overwrite) a file in the workspace." }
func (t *WriteFileTool) AllowedInMode(mode domaintool.Mode) bool  { return mode == domaintool.ModeFull }
func (t *WriteFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":    map[string]interface{}{"type": "string"},
			"content": map[string]interface{}{"type": "string"},
		},
		"required": []string{"path", "content"},
	}
}

func (t *WriteFileTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	path, _ := args["path"].(string)
	content, _ := args["content"].(string)
	if path == "" {
		return domaintool.NewErrorResult("'path' parameter is required"), nil
	}

	resolved, err := resolveWorkspacePath(t.workspaceRoot, path)
	if err != nil {
		return domaintool.NewErrorResult(err.Error()), nil
	}

	if err := os.MkdirAll(parentDir(resolved), 0o755); err != nil {
		return domaintool.NewErrorResult(fmt.Sprintf("write failed: %s", sanitizeDisplayPath(t.workspaceRoot, path))), nil
	}
	if err := os.WriteFile(resolved, []byte(content), 0o644); err != nil {
		t.logger.Warn("write file failed", zap.String("path", path), zap.Error(err))
		return domaintool.NewErrorResult(fmt.Sprintf("write failed: %s", sanitizeDisplayPath(t.workspaceRoot, path))), nil
	}
	return domaintool.NewResult(fmt.Sprintf("wrote %d bytes to %s", len(content), sanitizeDisplayPath(t.workspaceRoot, path))), nil
}

func parentDir(path string) string {
	idx := strings.LastIndex(path, "/")
	if idx < 0 {
		return "."
	}
	return path[:idx]
}

// EditFileTool replaces the first occurrence of oldText with newText
// in a file.
type EditFileTool struct {
	workspaceRoot string
	logger        *zap.Logger
}

func NewEditFileTool(workspaceRoot string, logger *zap.Logger) *EditFileTool {
	return &EditFileTool{workspaceRoot: workspaceRoot, logger: logger}
}

func (t *EditFileTool) Name() string                           { return "edit" }
func (t *EditFileTool) Description() string                    { return "Replace the first occurrence of a string in a workspace file." }
func (t *EditFileTool) AllowedInMode(mode domaintool.Mode) bool { return mode == domaintool.ModeFull }
func (t *EditFileTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path":     map[string]interface{}{"type": "string"},
			"old_text": map[string]interface{}{"type": "string"},
			"new_text": map[string]interface{}{"type": "string"},
		},
		"required": []string{"path", "old_text", "new_text"},
	}
}

func (t *EditFileTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	path, _ := args["path"].(string)
	oldText, _ := args["old_text"].(string)
	newText, _ := args["new_text"].(string)
	if path == "" || oldText == "" {
		return domaintool.NewErrorResult("'path' and 'old_text' parameters are required"), nil
	}

	resolved, err := resolveWorkspacePath(t.workspaceRoot, path)
	if err != nil {
		return domaintool.NewErrorResult(err.Error()), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return domaintool.NewErrorResult(fmt.Sprintf("edit failed: %s", sanitizeDisplayPath(t.workspaceRoot, path))), nil
	}

	content := string(data)
	if !strings.Contains(content, oldText) {
		return domaintool.NewErrorResult("old_text not found in file"), nil
	}
	updated := strings.Replace(content, oldText, newText, 1)

	if err := os.WriteFile(resolved, []byte(updated), 0o644); err != nil {
		t.logger.Warn("edit file failed", zap.String("path", path), zap.Error(err))
		return domaintool.NewErrorResult(fmt.Sprintf("edit failed: %s", sanitizeDisplayPath(t.workspaceRoot, path))), nil
	}
	return domaintool.NewResult(fmt.Sprintf("edited %s", sanitizeDisplayPath(t.workspaceRoot, path))), nil
}

// shellMetacharacters are stripped when BashTool runs through a
// restricted path.
var shellMetacharacters = regexp.MustCompile("[;&|`$(){}<>\\\\]")

// BashTool runs a shell command with a bounded timeout, polling for
// completion rather than blocking indefinitely on Wait.
type BashTool struct {
	workspaceRoot string
	restricted    bool
	sandboxed     bool
	dataDir       string
	configDir     string
	cacheDir      string
	logger        *zap.Logger
}

// NewBashTool constructs the bash tool. When sandboxed is true, the
// FAE_DATA_DIR/FAE_CONFIG_DIR/FAE_CACHE_DIR env vars are injected into
// the child process per the app-container contract.
func NewBashTool(workspaceRoot string, restricted, sandboxed bool, dataDir, configDir, cacheDir string, logger *zap.Logger) *BashTool {
	return &BashTool{
		workspaceRoot: workspaceRoot,
		restricted:    restricted,
		sandboxed:     sandboxed,
		dataDir:       dataDir,
		configDir:     configDir,
		cacheDir:      cacheDir,
		logger:        logger,
	}
}

func (t *BashTool) Name() string                           { return "bash" }
func (t *BashTool) Description() string                    { return "Execute a shell command in the workspace." }
func (t *BashTool) AllowedInMode(mode domaintool.Mode) bool { return mode == domaintool.ModeFull }
func (t *BashTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"command":         map[string]interface{}{"type": "string"},
			"timeout_seconds": map[string]interface{}{"type": "integer", "default": 30},
		},
		"required": []string{"command"},
	}
}

func (t *BashTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	command, _ := args["command"].(string)
	if command == "" {
		return domaintool.NewErrorResult("'command' parameter is required"), nil
	}

	timeout := 30 * time.Second
	if v, ok := args["timeout_seconds"].(float64); ok && v > 0 {
		timeout = time.Duration(v) * time.Second
	}

	if t.restricted {
		command = shellMetacharacters.ReplaceAllString(command, "")
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command("/bin/sh", "-c", command)
	cmd.Dir = t.workspaceRoot

	if t.sandboxed {
		cmd.Env = append(os.Environ(),
			"FAE_DATA_DIR="+t.dataDir,
			"FAE_CONFIG_DIR="+t.configDir,
			"FAE_CACHE_DIR="+t.cacheDir,
		)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return domaintool.NewErrorResult(fmt.Sprintf("failed to start command: %v", err)), nil
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case err := <-done:
			output := stdout.String() + stderr.String()
			if err != nil {
				return &domaintool.Result{Success: false, Content: output, Error: err.Error()}, nil
			}
			return domaintool.NewResult(output), nil

		case <-execCtx.Done():
			_ = cmd.Process.Kill()
			<-done
			return domaintool.NewErrorResult(fmt.Sprintf("command timed out after %s", timeout)), nil

		case <-ticker.C:
			// poll; cmd.Wait() above delivers completion asynchronously
		}
	}
}

// FetchURLTool performs an HTTP GET and returns the body as text.
type FetchURLTool struct {
	domaintool.ReadOnlyGate
	client *http.Client
	logger *zap.Logger
}

func NewFetchURLTool(logger *zap.Logger) *FetchURLTool {
	return &FetchURLTool{
		ReadOnlyGate: domaintool.NewReadOnlyGate("fetch_url"),
		client:       &http.Client{Timeout: 20 * time.Second},
		logger:       logger,
	}
}

func (t *FetchURLTool) Name() string        { return "fetch_url" }
func (t *FetchURLTool) Description() string { return "Fetch a URL over HTTP(S) and return its body as text." }
func (t *FetchURLTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"url": map[string]interface{}{"type": "string"},
		},
		"required": []string{"url"},
	}
}

func (t *FetchURLTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	url, _ := args["url"].(string)
	if url == "" {
		return domaintool.NewErrorResult("'url' parameter is required"), nil
	}
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		return domaintool.NewErrorResult("url must be http(s)"), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return domaintool.NewErrorResult(err.Error()), nil
	}

	resp, err := t.client.Do(req)
	if err != nil {
		t.logger.Warn("fetch_url request failed", zap.String("url", url), zap.Error(err))
		return domaintool.NewErrorResult(fmt.Sprintf("request failed: %v", err)), nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResultBytesForFetch))
	if err != nil {
		return domaintool.NewErrorResult(fmt.Sprintf("read body failed: %v", err)), nil
	}

	if resp.StatusCode >= 400 {
		return domaintool.NewErrorResult(fmt.Sprintf("fetch_url: HTTP %d", resp.StatusCode)), nil
	}
	return domaintool.NewResult(string(body)), nil
}

const maxResultBytesForFetch = 200 * 1024
