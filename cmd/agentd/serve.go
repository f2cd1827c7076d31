package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentd/internal/assemble"
	"github.com/fyrsmithlabs/agentd/internal/config"
	"github.com/fyrsmithlabs/agentd/internal/contextcache"
	"github.com/fyrsmithlabs/agentd/internal/events"
	"github.com/fyrsmithlabs/agentd/internal/flow"
	"github.com/fyrsmithlabs/agentd/internal/httpapi"
	"github.com/fyrsmithlabs/agentd/internal/logging"
	"github.com/fyrsmithlabs/agentd/internal/model"
	"github.com/fyrsmithlabs/agentd/internal/optimize"
	"github.com/fyrsmithlabs/agentd/internal/resilience"
	"github.com/fyrsmithlabs/agentd/internal/resource"
	"github.com/fyrsmithlabs/agentd/internal/scrub"
	"github.com/fyrsmithlabs/agentd/internal/source"
	"github.com/fyrsmithlabs/agentd/internal/store"
	"github.com/fyrsmithlabs/agentd/internal/telemetry"
	"github.com/fyrsmithlabs/agentd/internal/tool"
)

func newServeCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the agentd HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to config file")
	return cmd
}

// run initializes every component and serves until ctx is cancelled.
//
// Initialization order matters: telemetry before logging (the logger can
// bridge into the OTEL provider), the cache and bus before the assembler,
// and the resource manager before the coordinator.
func run(ctx context.Context, configPath string) error {
	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetryConfig(cfg))
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	log, err := logging.NewLogger(loggingConfig(cfg), tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	log.Info(ctx, "starting agentd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("telemetry", tel.IsEnabled()))

	scrubber, err := scrub.New(log)
	if err != nil {
		return fmt.Errorf("initializing secret scrubber: %w", err)
	}

	cache, err := contextcache.New(ctx, cfg.Cache, log)
	if err != nil {
		return fmt.Errorf("initializing context cache: %w", err)
	}

	bus, err := newBus(cfg, log)
	if err != nil {
		return fmt.Errorf("initializing event bus: %w", err)
	}
	defer bus.Close()

	// Every invalidation event names the stale cache namespace, whether
	// it is a conversation ID or a workspace path.
	if err := bus.Subscribe(func(ctx context.Context, ev events.Event) {
		cache.Invalidate(ctx, ev.Namespace)
	}); err != nil {
		return fmt.Errorf("subscribing cache invalidation: %w", err)
	}

	if cfg.Events.WatchPath != "" {
		watcher, err := events.NewWatcher(cfg.Events.WatchPath, bus, log)
		if err != nil {
			return fmt.Errorf("initializing workspace watcher: %w", err)
		}
		go watcher.Run(ctx)
	}

	history, adapters, err := newAdapters(cfg)
	if err != nil {
		return fmt.Errorf("initializing context sources: %w", err)
	}

	breakers := resilience.NewRegistry(cfg.Breaker)
	assembler := assemble.New(cfg.Assembly, optimize.New(cfg.Optimize), adapters, log,
		assemble.WithCache(cache),
		assemble.WithScrubber(scrubber),
		assemble.WithBreakers(breakers))

	resources := resource.NewManager(cfg.Resource, log)
	checker := resource.NewChecker(resources, 0, log,
		resource.MemorySignal, resource.GoroutineSignal(0))
	go checker.Run(ctx)

	invoker, err := model.NewInvoker(cfg.Model)
	if err != nil {
		return fmt.Errorf("initializing model invoker: %w", err)
	}

	var executor tool.Executor
	if cfg.Tools.MCPCommand != "" {
		mcpExec, err := tool.NewMCPExecutor(ctx, cfg.Tools)
		if err != nil {
			return fmt.Errorf("connecting MCP tool server: %w", err)
		}
		defer mcpExec.Close()
		executor = mcpExec
		log.Info(ctx, "mcp tool server connected", zap.String("command", cfg.Tools.MCPCommand))
	}

	var st *store.Store
	if cfg.Store.Path != "" {
		st, err = store.New(cfg.Store.Path)
		if err != nil {
			return fmt.Errorf("initializing request store: %w", err)
		}
	}

	coordinator := flow.New(cfg, flow.Deps{
		Resources: resources,
		Assembler: assembler,
		Invoker:   invoker,
		Executor:  executor,
		Store:     st,
		Bus:       bus,
		History:   history,
		Breakers:  breakers,
		Log:       log,
		Pressure:  checker.Degraded,
	})

	srv := httpapi.NewServer(cfg.Server, coordinator, checker, log)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn(shutdownCtx, "http shutdown incomplete", zap.Error(err))
		}
	}()

	if err := srv.Start(); err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	log.Info(context.Background(), "shutdown complete")
	return nil
}

// newBus selects NATS when a URL is configured and falls back to the
// in-process bus otherwise.
func newBus(cfg *config.Config, log *logging.Logger) (events.Bus, error) {
	if cfg.Events.NATSURL == "" {
		return events.NewMemoryBus(), nil
	}
	return events.NewNATSBus(cfg.Events.NATSURL, cfg.Events.SubjectPrefix, log)
}

// newAdapters builds the enabled context source adapters. The history store
// is returned separately because the coordinator appends turns to it.
func newAdapters(cfg *config.Config) (*source.HistoryStore, []source.Adapter, error) {
	var history *source.HistoryStore
	var adapters []source.Adapter

	if cfg.Sources.History {
		history = source.NewHistoryStore(nil)
		adapters = append(adapters, history)
	}
	if cfg.Sources.Scratch {
		adapters = append(adapters, source.NewScratchPad(nil))
	}
	if cfg.Sources.Vector {
		// nil embedding func selects chromem's default, which reads
		// OPENAI_API_KEY from the environment.
		vs, err := source.NewVectorSource(cfg.Sources.VectorPath, nil, nil)
		if err != nil {
			return nil, nil, err
		}
		adapters = append(adapters, vs)
	}
	if cfg.Sources.Repository {
		adapters = append(adapters, source.NewRepositorySource(cfg.Sources.RepoPath, nil))
	}
	return history, adapters, nil
}

func telemetryConfig(cfg *config.Config) *telemetry.Config {
	tc := telemetry.NewDefaultConfig()
	tc.Enabled = cfg.Observability.EnableTelemetry
	if cfg.Observability.ServiceName != "" {
		tc.ServiceName = cfg.Observability.ServiceName
	}
	if cfg.Observability.Endpoint != "" {
		tc.Endpoint = cfg.Observability.Endpoint
	}
	tc.ServiceVersion = version
	return tc
}

func loggingConfig(cfg *config.Config) *logging.Config {
	lc := logging.NewDefaultConfig()
	if cfg.Logging.Format != "" {
		lc.Format = cfg.Logging.Format
	}
	if cfg.Logging.Level != "" {
		if level, err := logging.LevelFromString(cfg.Logging.Level); err == nil {
			lc.Level = level
		}
	}
	lc.Output.OTEL = cfg.Observability.EnableTelemetry
	return lc
}
