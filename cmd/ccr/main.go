// Package main is the process entry point: it loads configuration,
// wires every collaborator the gateway needs, and runs the HTTP surface
// until a shutdown signal arrives. Follows the established
// cmd/nexus/main.go startup/signal/logging shape, adapted from cobra
// subcommands to the flag package since this module carries no cobra
// dependency.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/robfig/cron/v3"

	"github.com/ccr-gateway/ccr/internal/agents"
	"github.com/ccr-gateway/ccr/internal/config"
	"github.com/ccr-gateway/ccr/internal/gateway"
	"github.com/ccr-gateway/ccr/internal/hooks"
	"github.com/ccr-gateway/ccr/internal/memory"
	"github.com/ccr-gateway/ccr/internal/memory/embeddings/ollama"
	"github.com/ccr-gateway/ccr/internal/metrics"
	"github.com/ccr-gateway/ccr/internal/plugins"
	"github.com/ccr-gateway/ccr/internal/routing"
	"github.com/ccr-gateway/ccr/internal/skills"
	"github.com/ccr-gateway/ccr/internal/tracing"
)

// version is overridden at build time via -ldflags (a common
// "-X main.version=..." build-command convention).
var version = "dev"

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)
	gateway.Version = version

	configPath := flag.String("config", defaultConfigPath(), "path to the ccr config document")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	if *debug {
		logger = slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
		slog.SetDefault(logger)
	}

	if err := run(*configPath, logger); err != nil {
		slog.Error("ccr exited with error", "error", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".ccr", "config.json")
	}
	return "ccr.config.json"
}

func run(configPath string, logger *slog.Logger) error {
	logger.Info("starting ccr gateway", "version", version, "config", configPath)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	hooksReg := hooks.NewRegistry(logger)
	pluginsReg := plugins.NewRegistry(logger)
	skillsMgr := skills.NewManager(logger)

	var memManager *memory.Manager
	if cfg.Memory.Enabled {
		store, err := memory.Open(cfg.Memory.DBPath)
		if err != nil {
			return fmt.Errorf("open memory store: %w", err)
		}
		provider := ollama.New(ollama.Config{BaseURL: cfg.Memory.EmbeddingBaseURL, Model: cfg.Memory.EmbeddingModel})
		memManager = memory.NewManager(store, provider)
	}

	pipeline := buildPipeline(cfg, memManager)

	table, providers := routingConfigFrom(cfg)
	router := routing.New(table, providers, nil)

	mtr := metrics.New()
	tracer, shutdownTracer := tracing.New(tracing.Config{ServiceName: "ccr-gateway", Enabled: true}, logger)

	if cfg.Hooks.Enabled && cfg.Hooks.Directory != "" {
		watchExtensionDir(cfg.Hooks.Directory, logger, "hooks")
	}
	if cfg.Plugins.Enabled && cfg.Plugins.Directory != "" {
		if err := pluginsReg.Discover(cfg.Plugins.Directory); err != nil {
			logger.Warn("plugin discovery failed", "error", err)
		}
		watchExtensionDir(cfg.Plugins.Directory, logger, "plugins")
	}
	if cfg.Skills.Enabled && cfg.Skills.Directory != "" {
		if err := skillsMgr.DiscoverDir(cfg.Skills.Directory); err != nil {
			logger.Warn("skill discovery failed", "error", err)
		}
		watchExtensionDir(cfg.Skills.Directory, logger, "skills")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var sweeper *cron.Cron
	if cfg.Memory.Enabled && memManager != nil {
		sweeper = startRetentionSweep(ctx, cfg, memManager, logger)
	}

	srv := gateway.New(gateway.Deps{
		Config:     cfg,
		ConfigPath: configPath,
		Router:     router,
		Memory:     memManager,
		Pipeline:   pipeline,
		Hooks:      hooksReg,
		Plugins:    pluginsReg,
		Skills:     skillsMgr,
		Metrics:    mtr,
		Tracer:     tracer,
		Logger:     logger,
		StartTime:  time.Now(),
		RestartFunc: func() {
			logger.Warn("restart requested; exiting for supervisor re-exec")
			os.Exit(0)
		},
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("gateway: %w", err)
		}
	}

	if sweeper != nil {
		sweepCtx := sweeper.Stop()
		<-sweepCtx.Done()
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = shutdownTracer(shutdownCtx)

	logger.Info("ccr gateway stopped gracefully")
	return nil
}

// buildPipeline wires the three canonical agents (§4.I) in the
// precedence order that also governs tool-name collisions: image
// analysis first, sub-agent spawning second, memory tools last.
func buildPipeline(cfg *config.Config, memManager *memory.Manager) *agents.Pipeline {
	var active []agents.Agent

	imageModel := ""
	if cfg.Router.Image != nil {
		imageModel = cfg.Router.Image.Model
	}
	active = append(active, agents.NewImageAgent(imageModel))

	if cfg.SubAgent.Enabled {
		active = append(active, agents.NewSubAgent(agents.SubAgentConfig{
			Model:         cfg.Router.Default.Model,
			ReadOnlyTools: cfg.SubAgent.AllowedTypes,
		}))
	}

	if cfg.Memory.Enabled && memManager != nil {
		active = append(active, agents.NewMemoryAgent(memManager))
	}

	return agents.NewPipeline(active...)
}

func routingConfigFrom(cfg *config.Config) (routing.Table, []routing.ProviderConfig) {
	toTarget := func(e *config.RouteEntry) *routing.RouteTarget {
		if e == nil {
			return nil
		}
		return &routing.RouteTarget{Provider: e.Provider, Model: e.Model}
	}

	table := routing.Table{
		Default:              routing.RouteTarget{Provider: cfg.Router.Default.Provider, Model: cfg.Router.Default.Model},
		LongContext:          toTarget(cfg.Router.LongContext),
		Background:           toTarget(cfg.Router.Background),
		WebSearch:            toTarget(cfg.Router.WebSearch),
		Think:                toTarget(cfg.Router.Think),
		Image:                toTarget(cfg.Router.Image),
		LongContextThreshold: cfg.Router.LongContextThreshold,
	}

	providers := make([]routing.ProviderConfig, len(cfg.Providers))
	for i, p := range cfg.Providers {
		providers[i] = routing.ProviderConfig{Name: p.Name, Models: p.Models}
	}
	return table, providers
}

// watchExtensionDir watches a hooks/plugins/skills directory: file
// system changes are logged so an operator can see a reload opportunity.
// The registries themselves only ingest new handlers on registration, so
// hot reload here is a notify-and-log mechanism rather than an automatic
// re-discovery loop, matching how fsnotify is used for config files in
// the rest of the ecosystem.
func watchExtensionDir(dir string, logger *slog.Logger, kind string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		logger.Warn("failed to start directory watcher", "kind", kind, "error", err)
		return
	}
	if err := watcher.Add(dir); err != nil {
		logger.Warn("failed to watch directory", "kind", kind, "dir", dir, "error", err)
		watcher.Close()
		return
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				logger.Info("extension directory changed", "kind", kind, "path", ev.Name, "op", ev.Op.String())
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("extension directory watch error", "kind", kind, "error", err)
			}
		}
	}()
}

// startRetentionSweep schedules memory.Manager.Cleanup on a fixed hourly
// cron schedule ("0 * * * *"), the supplemented retention-sweep feature
// described in SPEC_FULL.md.
func startRetentionSweep(ctx context.Context, cfg *config.Config, mgr *memory.Manager, logger *slog.Logger) *cron.Cron {
	schedule := "0 * * * *"
	c := cron.New()
	minImportance := cfg.Memory.RetentionMinImportance
	maxAgeDays := cfg.Memory.RetentionMaxAgeDays
	if maxAgeDays == 0 {
		maxAgeDays = 90
	}
	_, err := c.AddFunc(schedule, func() {
		n, err := mgr.Cleanup(ctx, minImportance, maxAgeDays)
		if err != nil {
			logger.Warn("retention sweep failed", "error", err)
			return
		}
		logger.Info("retention sweep completed", "removed", n)
	})
	if err != nil {
		logger.Warn("failed to schedule retention sweep", "error", err)
		return nil
	}
	c.Start()
	return c
}
