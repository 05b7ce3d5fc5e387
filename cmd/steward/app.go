package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql

	"github.com/stewardhq/steward/internal/agent"
	"github.com/stewardhq/steward/internal/buildinfo"
	"github.com/stewardhq/steward/internal/chat"
	"github.com/stewardhq/steward/internal/config"
	"github.com/stewardhq/steward/internal/connwatch"
	"github.com/stewardhq/steward/internal/delivery"
	"github.com/stewardhq/steward/internal/httpkit"
	"github.com/stewardhq/steward/internal/llm"
	"github.com/stewardhq/steward/internal/memory"
	"github.com/stewardhq/steward/internal/metrics"
	"github.com/stewardhq/steward/internal/scheduler"
	"github.com/stewardhq/steward/internal/search"
	"github.com/stewardhq/steward/internal/todo"
	"github.com/stewardhq/steward/internal/tools"
	"github.com/stewardhq/steward/internal/webpage"
	"github.com/stewardhq/steward/internal/workbook"
)

// appOptions selects what newApp wires beyond the conversation core.
type appOptions struct {
	// serving enables durable history, outbound delivery and the
	// scheduler's timers. One-shot commands leave it off.
	serving bool
}

// app holds the long-lived components shared by the subcommands.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	chat    *chat.Service
	sched   *scheduler.Scheduler
	router  *delivery.Router
	mqtt    *delivery.MQTT
	metrics *metrics.Recorder
	watch   *connwatch.Manager

	llm      *llm.MultiClient
	whatsapp *delivery.WhatsApp

	closers []func() error
}

// newApp builds the pipeline: model client, tool registry, stores,
// delivery channels and the chat service.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}

	httpClient := httpkit.NewClient(
		httpkit.WithTimeout(60*time.Second),
		httpkit.WithUserAgent(buildinfo.UserAgent()),
		httpkit.WithRetry(2, time.Second, logger),
	)

	// --- LLM client ---
	a.llm, err = createLLMClient(cfg, logger)
	if err != nil {
		return nil, err
	}

	// --- Tools ---
	registry := tools.NewRegistry(logger,
		tools.WithMaxParallel(cfg.Assistant.MaxParallelTools),
		tools.WithObserver(a.metrics),
	)

	wbPath := filepath.Join(cfg.DataDir, "workbook.db")
	wbDB, err := sql.Open("sqlite3", wbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open workbook %s: %w", wbPath, err)
	}
	wb, err := workbook.New(wbDB, logger, loc)
	if err != nil {
		wbDB.Close()
		return nil, fmt.Errorf("open workbook %s: %w", wbPath, err)
	}
	a.closers = append(a.closers, wb.Close)
	if err := wb.Register(registry); err != nil {
		return nil, err
	}

	searchMgr := search.NewManager(logger, cfg.Search.Primary)
	if cfg.Search.Perplexity.Configured() {
		searchMgr.Register(search.NewPerplexity(cfg.Search.Perplexity))
	}
	if cfg.Search.SearXNG.Configured() {
		searchMgr.Register(search.NewSearXNG(cfg.Search.SearXNG.URL))
	}
	if searchMgr.Configured() {
		if err := registry.Register(searchMgr.Tool()); err != nil {
			return nil, err
		}
		logger.Info("web search enabled", "providers", searchMgr.Providers())
	}

	if cfg.Todoist.Configured() {
		if err := registry.Register(todo.NewTodoist(cfg.Todoist, logger).Tool()); err != nil {
			return nil, err
		}
	}
	if cfg.GitHub.Configured() {
		gh, err := todo.NewGitHub(httpClient, cfg.GitHub, logger)
		if err != nil {
			return nil, fmt.Errorf("github: %w", err)
		}
		if err := registry.Register(gh.Tool()); err != nil {
			return nil, err
		}
	}

	if err := registry.Register(webpage.NewReader(nil, 0).Tool()); err != nil {
		return nil, err
	}

	// --- Scheduler ---
	// The executor closes over a.chat, which is assigned below; timers
	// are only armed by start, after construction completes.
	store, err := openSchedulerStore(cfg)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	a.sched = scheduler.New(logger, store, func(ctx context.Context, task *scheduler.Task, exec *scheduler.Execution) error {
		return runScheduledTask(ctx, task, exec, taskExecDeps{
			handler:        a.chat,
			recorder:       a.metrics,
			defaultSession: cfg.Assistant.DefaultSession,
			logger:         logger,
		})
	}, scheduler.WithLocation(loc))
	if err := registry.Register(a.sched.Tool()); err != nil {
		return nil, err
	}

	// --- Conversation memory ---
	var sessions memory.Sessions
	if opts.serving && cfg.Assistant.Memory == "sqlite" {
		memPath := filepath.Join(cfg.DataDir, "memory.db")
		mem, err := memory.NewSQLiteStore(memPath)
		if err != nil {
			return nil, fmt.Errorf("open memory database %s: %w", memPath, err)
		}
		a.closers = append(a.closers, mem.Close)
		if n, m, err := mem.Stats(ctx); err == nil {
			logger.Info("memory database opened", "path", memPath, "sessions", n, "messages", m)
		}
		sessions = mem
	} else {
		sessions = memory.NewLocalStore()
	}

	// --- Delivery ---
	a.router = delivery.NewRouter(logger)
	if opts.serving {
		if cfg.WhatsApp.Configured() {
			a.whatsapp = delivery.NewWhatsApp(cfg.WhatsApp, cfg.Assistant.Name, httpClient, logger)
			a.router.Register(a.whatsapp)
		}
		if cfg.MQTT.Configured() {
			a.mqtt = delivery.NewMQTT(cfg.MQTT, logger)
			a.router.Register(a.mqtt)
		}
		if cfg.Email.Configured() {
			a.router.Register(delivery.NewEmail(cfg.Email, logger))
		}
		logger.Info("delivery channels", "channels", a.router.Channels(), "notify", cfg.Notify)
	}

	persona, err := loadPersona(cfg.Assistant.PersonaFile)
	if err != nil {
		return nil, err
	}

	// --- Agent loop and chat pipeline ---
	loop := agent.NewLoop(logger, a.llm, registry, agent.Config{
		Model:         cfg.Models.Default,
		MaxIterations: cfg.Assistant.MaxIterations,
	})
	loop.SetRecorder(a.metrics)

	a.chat = chat.New(logger, loop, sessions, chat.Config{
		Name:          cfg.Assistant.Name,
		Persona:       persona,
		Location:      loc,
		HistoryLimit:  cfg.Assistant.HistoryLimit,
		HistoryTokens: cfg.Assistant.HistoryTokens,
		Notify:        cfg.Notify,
		Tools:         registry.Names(),
	},
		chat.WithJournal(wb),
		chat.WithDeliverer(a.router),
		chat.WithRecorder(a.metrics),
	)

	logger.Info("assistant ready",
		"name", cfg.Assistant.Name,
		"model", cfg.Models.Default,
		"tools", registry.Names(),
		"timezone", loc.String(),
	)
	return a, nil
}

// start connects MQTT, starts the scheduler, registers the configured
// check-ins and begins watching external services. Only serve calls it.
func (a *app) start(ctx context.Context) error {
	if a.mqtt != nil {
		if err := a.mqtt.Start(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	a.watch = connwatch.NewManager(a.logger)
	model := a.cfg.Models.Default
	a.watch.Watch(ctx, "llm", func(ctx context.Context) error {
		return a.llm.PingModel(ctx, model)
	}, connwatch.DefaultBackoff())
	if a.whatsapp != nil {
		a.watch.Watch(ctx, delivery.ChannelWhatsApp, a.whatsapp.Ping, connwatch.DefaultBackoff())
	}
	if a.mqtt != nil {
		a.watch.Watch(ctx, delivery.ChannelMQTT, a.mqtt.Ping, connwatch.DefaultBackoff())
	}

	if err := a.sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	return ensureCheckins(ctx, a.sched, a.cfg)
}

// Close stops background work and releases stores in reverse order of
// acquisition.
func (a *app) Close() {
	if a.watch != nil {
		a.watch.Stop()
	}
	if a.sched != nil {
		a.sched.Stop()
	}
	if a.mqtt != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := a.mqtt.Stop(stopCtx); err != nil {
			a.logger.Error("mqtt shutdown failed", "error", err)
		}
		cancel()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

// createLLMClient builds a multi-provider client. Each model listed in
// config is mapped to its provider; unlisted models go to Ollama.
func createLLMClient(cfg *config.Config, logger *slog.Logger) (*llm.MultiClient, error) {
	ollama := llm.NewOllamaClient(cfg.Models.OllamaURL, logger)
	multi := llm.NewMultiClient(ollama)
	multi.AddProvider(config.ProviderOllama, ollama)

	if cfg.OpenAI.APIKey != "" {
		c, err := llm.NewOpenAIClient(llm.OpenAIConfig{APIKey: cfg.OpenAI.APIKey, BaseURL: cfg.OpenAI.BaseURL}, logger)
		if err != nil {
			return nil, fmt.Errorf("openai: %w", err)
		}
		multi.AddProvider(config.ProviderOpenAI, c)
	}
	if cfg.Anthropic.APIKey != "" {
		c, err := llm.NewAnthropicClient(llm.AnthropicConfig{APIKey: cfg.Anthropic.APIKey}, logger)
		if err != nil {
			return nil, fmt.Errorf("anthropic: %w", err)
		}
		multi.AddProvider(config.ProviderAnthropic, c)
	}

	for _, m := range cfg.Models.Available {
		multi.AddModel(m.Name, m.Provider)
	}

	provider := multi.Provider(cfg.Models.Default)
	if provider == "" {
		provider = config.ProviderOllama
		if p := cfg.ProviderFor(cfg.Models.Default); p != "" && p != provider {
			logger.Warn("default model provider has no credentials, falling back to ollama",
				"model", cfg.Models.Default, "provider", p)
		}
	}
	logger.Info("LLM client initialized", "default_model", cfg.Models.Default, "default_provider", provider)
	return multi, nil
}

func openSchedulerStore(cfg *config.Config) (*scheduler.Store, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data directory %s: %w", cfg.DataDir, err)
	}
	path := filepath.Join(cfg.DataDir, "scheduler.db")
	store, err := scheduler.NewStore(path)
	if err != nil {
		return nil, fmt.Errorf("open scheduler database %s: %w", path, err)
	}
	return store, nil
}

// loadPersona reads the persona override. An empty path means the
// built-in persona.
func loadPersona(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("persona file %s does not exist", path)
		}
		return "", fmt.Errorf("read persona file: %w", err)
	}
	return string(data), nil
}
