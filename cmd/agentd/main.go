// Command agentd runs the agent backend: an HTTP API in front of the
// orchestration loop, backed by a session store, a tool registry, and a
// model provider selected by configuration.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/mwielgat/agentd/builtin"
	"github.com/mwielgat/agentd/config"
	"github.com/mwielgat/agentd/core"
	"github.com/mwielgat/agentd/decision"
	"github.com/mwielgat/agentd/decision/anthropic"
	"github.com/mwielgat/agentd/decision/openai"
	"github.com/mwielgat/agentd/dispatch"
	"github.com/mwielgat/agentd/httpapi"
	"github.com/mwielgat/agentd/invoker"
	"github.com/mwielgat/agentd/logging"
	"github.com/mwielgat/agentd/memory"
	"github.com/mwielgat/agentd/orchestrator"
	"github.com/mwielgat/agentd/tool"
)

func main() {
	configPath := flag.String("config", "", "path to the config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "agentd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	path, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	logger := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: os.Stdout,
	})

	store, err := newStore(cfg)
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("store.close.failed", "error", err.Error())
		}
	}()

	registry := tool.NewRegistry()
	if err := registerTools(cfg, registry, store); err != nil {
		return fmt.Errorf("register tools: %w", err)
	}

	provider, err := newProvider(cfg)
	if err != nil {
		return err
	}
	engine := decision.NewEngine(provider, func(o *decision.Options) {
		if cfg.Provider.Instructions != "" {
			o.Instructions = cfg.Provider.Instructions
		}
		o.Memory = sessionMemory(store)
		o.Logger = logger
	})

	inv := invoker.New(registry, func(o *invoker.Options) {
		o.MaxParallel = cfg.Loop.MaxParallelTools
		o.Logger = logger
	})

	dispatcher := dispatch.New(func(o *dispatch.Options) { o.Logger = logger })
	dispatcher.Subscribe(dispatch.NewLoggingSubscriber(logger))
	hub := httpapi.NewHub(logger)
	dispatcher.Subscribe(hub)

	loop := orchestrator.New(store, engine, inv, registry, func(o *orchestrator.Options) {
		o.MaxIterations = cfg.Loop.MaxIterations
		o.TurnTimeout = cfg.Loop.TurnTimeout()
		o.Dispatcher = dispatcher
		o.Logger = logger
		if cfg.Session.SummarizeAfter > 0 {
			o.Summarizer = decision.NewSummarizer(provider)
			o.SummarizeAfter = cfg.Session.SummarizeAfter
		}
	})

	var sweeper *memory.Sweeper
	if cfg.Session.TTL() > 0 {
		sweeper = memory.NewSweeper(store, cfg.Session.TTL(), cfg.Session.SweepInterval(), logger)
		sweeper.Start()
		defer sweeper.Stop()
	}

	srv := httpapi.NewServer(cfg.Listen.Addr(), loop, store, func(o *httpapi.Options) {
		o.Hub = hub
		o.Logger = logger
	})

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server.start", "addr", cfg.Listen.Addr(), "provider", cfg.Provider.Name, "store", cfg.Store.Driver)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("server.shutdown", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	dispatcher.Wait()
	return nil
}

func newStore(cfg *config.Config) (memory.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return memory.NewGormStore(cfg.Store.DSN)
	default:
		return memory.NewInMemoryStore(), nil
	}
}

func newProvider(cfg *config.Config) (decision.Provider, error) {
	switch cfg.Provider.Name {
	case "openai":
		return openai.NewProvider(func(o *openai.Options) {
			if cfg.Provider.Model != "" {
				o.Model = cfg.Provider.Model
			}
			o.APIKey = cfg.Provider.APIKey
		}), nil
	case "anthropic":
		return anthropic.NewProvider(func(o *anthropic.Options) {
			if cfg.Provider.Model != "" {
				o.Model = anthropicsdk.Model(cfg.Provider.Model)
			}
			o.APIKey = cfg.Provider.APIKey
		}), nil
	case "mock":
		return decision.NewMockProvider(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider.Name)
	}
}

// sessionMemory exposes the session's working memory to the decision engine.
// The session id travels on the request context.
func sessionMemory(store memory.Store) decision.MemoryLookup {
	return func(ctx context.Context) (map[string]string, error) {
		id, ok := core.SessionIDFromContext(ctx)
		if !ok {
			return nil, nil
		}
		return store.GetState(ctx, id)
	}
}

func registerTools(cfg *config.Config, registry *tool.Registry, store memory.Store) error {
	tools := []tool.Tool{
		builtin.NewWeatherTool(),
		builtin.NewSaveMemoryTool(store),
	}
	if cfg.Workspace.Path != "" {
		ws, err := builtin.NewWorkspace(cfg.Workspace.Path)
		if err != nil {
			return err
		}
		tools = append(tools, ws.Tools()...)
	}
	return registry.RegisterAll(tools...)
}
