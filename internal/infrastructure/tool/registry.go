package tool

import (
	"github.com/saorsa-labs/fae/internal/domain/repository"
	domaintool "github.com/saorsa-labs/fae/internal/domain/tool"
	"go.uber.org/zap"
)

// Deps aggregates everything RegisterAllTools needs to construct and
// wire the built-in tool set. This is the single registration entry
// point for the tool layer.
type Deps struct {
	Registry domaintool.Registry
	Logger   *zap.Logger

	WorkspaceRoot string

	BashRestricted bool
	Sandboxed      bool
	DataDir        string
	ConfigDir      string
	CacheDir       string

	WebSearchEndpoint string

	// Tasks is nil-able: when nil, scheduler.list is not registered
	// (e.g. a build with no scheduler wired up).
	Tasks repository.TaskRepository

	// PermissionStore and JIT are nil-able: when both are nil, no
	// Apple-ecosystem tools are registered (desktop/CI builds).
	PermissionStore *PermissionStore
	JIT             JITRequester
	AppleTools      []AppleToolFactory
}

// AppleToolFactory builds an Apple-ecosystem tool that RegisterAllTools
// wraps in an AvailabilityGate before registering it.
type AppleToolFactory struct {
	Capability string
	Build      func() domaintool.Tool
}

// RegisterAllTools registers the fixed built-in tool set plus any
// configured Apple-ecosystem tools, returning the count successfully
// registered.
func RegisterAllTools(deps Deps) int {
	var tools []domaintool.Tool

	tools = append(tools,
		NewReadFileTool(deps.WorkspaceRoot, deps.Logger),
		NewWriteFileTool(deps.WorkspaceRoot, deps.Logger),
		NewEditFileTool(deps.WorkspaceRoot, deps.Logger),
		NewBashTool(deps.WorkspaceRoot, deps.BashRestricted, deps.Sandboxed, deps.DataDir, deps.ConfigDir, deps.CacheDir, deps.Logger),
		NewFetchURLTool(deps.Logger),
		NewWebSearchTool(deps.WebSearchEndpoint, deps.Logger),
	)

	if deps.Tasks != nil {
		tools = append(tools, NewSchedulerListTool(deps.Tasks, deps.Logger))
	}

	if deps.PermissionStore != nil {
		for _, f := range deps.AppleTools {
			tools = append(tools, NewAvailabilityGate(f.Build(), f.Capability, deps.PermissionStore, deps.JIT))
		}
	}

	registered := 0
	for _, t := range tools {
		if err := deps.Registry.Register(t); err != nil {
			deps.Logger.Warn("failed to register tool", zap.String("tool", t.Name()), zap.Error(err))
			continue
		}
		deps.Logger.Debug("registered tool", zap.String("tool", t.Name()))
		registered++
	}

	deps.Logger.Info("tool layer initialized", zap.Int("registered", registered))
	return registered
}
