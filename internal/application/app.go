package application

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/saorsa-labs/fae/internal/domain/service"
	domaintool "github.com/saorsa-labs/fae/internal/domain/tool"
	"github.com/saorsa-labs/fae/internal/domain/valueobject"
	"github.com/saorsa-labs/fae/internal/infrastructure/config"
	"github.com/saorsa-labs/fae/internal/infrastructure/eventbus"
	"github.com/saorsa-labs/fae/internal/infrastructure/intelligence"
	"github.com/saorsa-labs/fae/internal/infrastructure/llm"
	"github.com/saorsa-labs/fae/internal/infrastructure/llm/anthropic"
	"github.com/saorsa-labs/fae/internal/infrastructure/llm/gemini"
	"github.com/saorsa-labs/fae/internal/infrastructure/llm/openai"
	"github.com/saorsa-labs/fae/internal/infrastructure/persistence"
	"github.com/saorsa-labs/fae/internal/infrastructure/persistence/memorystore"
	"github.com/saorsa-labs/fae/internal/infrastructure/scheduler"
	"github.com/saorsa-labs/fae/internal/infrastructure/sideload"
	infratool "github.com/saorsa-labs/fae/internal/infrastructure/tool"
	"github.com/saorsa-labs/fae/pkg/safego"
	"go.uber.org/zap"
)

// App is the composition root: it wires every layer — config, the LLM
// provider fallback chain, the tool registry, the three persistence
// stores, the agent loop, the pipeline coordinator, the command router,
// the scheduler dispatcher, and the stdio bridge — into one running
// process, and owns their shutdown order.
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	bus        eventbus.Bus
	memory     *memorystore.Store
	pipeline   *Pipeline
	router     *Router
	dispatcher *scheduler.Dispatcher
	bridge     *sideload.Bridge

	cancel context.CancelFunc
	done   chan struct{}
}

// NewApp constructs every subsystem but starts nothing; call Start to
// run it.
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	bus := eventbus.NewInMemoryBus(logger, 128)

	providerRouter := llm.NewRouter(logger)
	for _, p := range cfg.Providers.List {
		provider, err := buildProvider(p, logger)
		if err != nil {
			return nil, err
		}
		providerRouter.AddProvider(provider)
	}

	registry := domaintool.NewInMemoryRegistry()

	sessions := persistence.NewSessionStore(cfg.Dirs.Data)

	taskStore := persistence.NewSchedulerStore(cfg.Scheduler.SnapshotPath)
	if err := taskStore.Load(); err != nil {
		return nil, fmt.Errorf("load scheduler snapshot: %w", err)
	}

	memory, err := memorystore.Open(cfg.Memory.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	permissions := infratool.NewPermissionStore()
	jit := &eventPublishingJIT{bus: bus}

	registered := infratool.RegisterAllTools(infratool.Deps{
		Registry:          registry,
		Logger:            logger,
		WorkspaceRoot:     cfg.Dirs.Workspace,
		BashRestricted:    cfg.Tools.BashRestricted,
		Sandboxed:         cfg.Tools.Sandboxed,
		DataDir:           cfg.Dirs.Data,
		ConfigDir:         cfg.Dirs.ConfigDir,
		CacheDir:          cfg.Dirs.Cache,
		WebSearchEndpoint: cfg.WebSearch.Endpoint,
		Tasks:             taskStore,
		PermissionStore:   permissions,
		JIT:               jit,
	})
	logger.Info("tools registered", zap.Int("count", registered))

	agentCfg := service.Config{
		MaxTurns:            cfg.Agent.MaxTurns,
		MaxToolCallsPerTurn: cfg.Agent.MaxToolCallsPerTurn,
		RequestTimeoutSecs:  cfg.Agent.RequestTimeoutSecs,
		ToolTimeoutSecs:     cfg.Agent.ToolTimeoutSecs,
		MaxAttempts:         cfg.Agent.MaxAttempts,
		BaseDelayMs:         cfg.Agent.BaseDelayMs,
		FailureThreshold:    cfg.Agent.FailureThreshold,
		RecoveryTimeoutSecs: cfg.Agent.RecoveryTimeoutSecs,
	}
	agent := service.NewAgentLoop(providerRouter, registry, agentCfg, logger)

	pipeline := NewPipeline(agent, sessions, bus, logger)
	pipeline.SetMemory(memory)
	pipeline.SetNoise(intelligence.NewNoiseController(
		cfg.Noise.DailyBudget,
		time.Duration(cfg.Noise.CooldownSecs)*time.Second,
	).WithQuietHours(cfg.Noise.QuietStartHour, cfg.Noise.QuietEndHour))

	router := NewRouter(cfg, bus, taskStore, pipeline, permissions, jit, logger)

	dispatcher := scheduler.NewDispatcher(taskStore, pipeline, bus, logger)

	bridge := sideload.NewBridge(os.Stdin, os.Stdout, router, bus, logger)

	return &App{
		cfg:        cfg,
		logger:     logger,
		bus:        bus,
		memory:     memory,
		pipeline:   pipeline,
		router:     router,
		dispatcher: dispatcher,
		bridge:     bridge,
	}, nil
}

// buildProvider constructs the llm.Provider matching p.Type.
func buildProvider(p config.ProviderConfig, logger *zap.Logger) (llm.Provider, error) {
	cfg := llm.Config{Name: p.Name, Type: p.Type, BaseURL: p.BaseURL, APIKey: p.APIKey, Model: p.Model}
	switch p.Type {
	case "anthropic":
		return anthropic.New(cfg, logger), nil
	case "openai":
		return openai.New(cfg, logger), nil
	case "gemini":
		return gemini.New(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown provider type %q for provider %q", p.Type, p.Name)
	}
}

// Start runs the stdio bridge, the scheduler dispatcher, and the
// memory-pressure monitor as the runtime's three long-running tasks. It
// blocks until the bridge exits (stdin EOF or a successful
// runtime.stop); canceling ctx stops the dispatcher, the monitor and the
// bridge's event forwarder, but not the bridge's stdin reader.
func (a *App) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.done = make(chan struct{})

	safego.Go(a.logger, "scheduler-dispatcher", func() { a.dispatcher.Run(ctx) })
	safego.Go(a.logger, "memory-pressure-monitor", func() { a.pipeline.RunMemoryMonitor(ctx) })

	err := a.bridge.Run(ctx)
	close(a.done)
	return err
}

// Stop cancels every background task and waits (up to ctx's deadline)
// for Start's bridge loop to return, then closes the memory store.
func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	if a.done != nil {
		select {
		case <-a.done:
		case <-ctx.Done():
		}
	}
	a.bus.Close()
	return a.memory.Close()
}

// Logger returns the application's root logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// eventPublishingJIT implements infratool.JITRequester by publishing a
// capability.request event for the host to answer asynchronously via
// capability.grant/deny; AvailabilityGate and the router's own
// capability.request handler both poll the permission store rather than
// blocking on this call directly.
type eventPublishingJIT struct {
	bus eventbus.Bus
}

func (j *eventPublishingJIT) RequestPermission(ctx context.Context, capability string) error {
	evt, err := valueobject.NewEvent(uuid.NewString(), "capability.request", map[string]interface{}{
		"capability": capability,
	})
	if err != nil {
		return err
	}
	j.bus.Publish(evt)
	return nil
}
