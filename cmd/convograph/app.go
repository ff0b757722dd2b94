package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"

	"github.com/soochol/convograph/internal/api"
	"github.com/soochol/convograph/internal/completion"
	"github.com/soochol/convograph/internal/config"
	"github.com/soochol/convograph/internal/db"
	"github.com/soochol/convograph/internal/engine"
	"github.com/soochol/convograph/internal/graph"
	"github.com/soochol/convograph/internal/knowledge"
	"github.com/soochol/convograph/internal/model"
	"github.com/soochol/convograph/internal/notify"
	"github.com/soochol/convograph/internal/repository"
	"github.com/soochol/convograph/internal/services"
	"github.com/soochol/convograph/internal/templates"
	"github.com/soochol/convograph/internal/tools"
)

const eventBufferTTL = 30 * time.Minute

// app holds the wired components of a running server.
type app struct {
	server        *api.Server
	conversations *services.ConversationService
	events        *services.EventLog
	janitor       *services.InterruptJanitor
	closers       []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// buildApp wires storage, providers, the engine and the HTTP server from
// cfg. Without a database URL all state lives in memory.
func buildApp(ctx context.Context, cfg *config.Config) (_ *app, err error) {
	a := &app{}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	templateRepo, threadRepo, err := openRepositories(ctx, cfg, a)
	if err != nil {
		return nil, err
	}

	llms, skipped := model.BuildAll(cfg.Providers)
	for _, name := range skipped {
		slog.Warn("provider has unknown type, skipped", "provider", name)
	}
	if len(llms) == 0 {
		slog.Warn("no providers configured; agent nodes will fail")
	}
	retry := completion.DefaultRetryPolicy()
	retry.MaxRetries = cfg.Completion.Retries
	if d := cfg.Completion.Backoff(); d > 0 {
		retry.InitialDelay = d
	}
	completer := completion.New(llms, cfg.Completion.Model,
		completion.WithClassifierModel(cfg.Completion.ClassifierModel),
		completion.WithTimeout(cfg.Completion.Timeout()),
		completion.WithRetryPolicy(retry),
	)

	toolReg := tools.NewDefaultRegistry()
	var engineOpts []engine.Option
	var store *knowledge.Store
	if cfg.Knowledge.DatabaseURL != "" {
		embedder := knowledge.NewGenAIEmbedder(cfg.Knowledge.APIKey, cfg.Knowledge.EmbeddingModel, cfg.Knowledge.Dimensions)
		store, err = knowledge.Open(ctx, cfg.Knowledge.DatabaseURL, embedder, cfg.Knowledge.Dimensions)
		if err != nil {
			return nil, fmt.Errorf("knowledge store: %w", err)
		}
		a.closers = append(a.closers, store.Close)
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		engineOpts = append(engineOpts, engine.WithRetriever(store))
		slog.Info("knowledge retrieval enabled", "model", cfg.Knowledge.EmbeddingModel)
	}
	eng := engine.New(completer, toolReg, engineOpts...)

	templateSvc := services.NewTemplateService(templateRepo, toolReg.Has)
	if err := seedTemplates(ctx, templateSvc, cfg.Templates.Dir); err != nil {
		return nil, err
	}

	bus := engine.NewEventBus()
	a.events = services.NewEventLog(bus, eventBufferTTL)
	a.closers = append(a.closers, a.events.Stop)
	locker := services.NewThreadLocker(cfg.Concurrency.GlobalMax, cfg.Concurrency.LockWait())
	a.conversations = services.NewConversationService(eng, templateSvc, threadRepo, completer, bus, locker,
		services.WithMaxSteps(cfg.Engine.MaxStepsPerMessage))

	if ttl := cfg.Interrupts.TTL(); ttl > 0 {
		a.janitor, err = services.NewInterruptJanitor(a.conversations, ttl, cfg.Interrupts.SweepCron)
		if err != nil {
			return nil, err
		}
	}

	if targets := cfg.Notify.Targets; len(targets) > 0 {
		dispatcher, err := notify.NewDispatcher(notify.NewDefaultRegistry(nil), targets)
		if err != nil {
			return nil, err
		}
		notifier := services.NewApprovalNotifier(bus, dispatcher, cfg.Notify.Timeout())
		a.closers = append(a.closers, notifier.Stop)
		slog.Info("approval notifications enabled", "targets", len(targets))
	}

	a.server = api.NewServer(a.conversations, templateSvc, toolReg)
	a.server.SetEventLog(a.events)
	a.server.SetThreadLocker(locker)
	if cfg.Auth.JWTSecret != "" {
		a.server.SetApprover(api.NewApprover(cfg.Auth.JWTSecret, cfg.Auth.Issuer))
	}
	if store != nil {
		a.server.SetKnowledge(store)
	}
	return a, nil
}

func openRepositories(ctx context.Context, cfg *config.Config, a *app) (repository.TemplateRepository, repository.ThreadRepository, error) {
	memTemplates := repository.NewMemoryTemplateRepository()
	memThreads := repository.NewMemoryThreadRepository()
	if cfg.Database.URL == "" {
		slog.Info("no database configured, using in-memory storage")
		return memTemplates, memThreads, nil
	}

	database, err := db.New(ctx, cfg.Database.URL)
	if err != nil {
		return nil, nil, err
	}
	a.closers = append(a.closers, func() { database.Close() })
	if err := database.Migrate(ctx); err != nil {
		return nil, nil, err
	}
	slog.Info("using PostgreSQL storage")
	return repository.NewPersistentTemplateRepository(memTemplates, database),
		repository.NewPersistentThreadRepository(memThreads, database), nil
}

// seedTemplates stores the bundled templates and those found in dir that
// are not stored yet.
func seedTemplates(ctx context.Context, svc *services.TemplateService, dir string) error {
	tpls, err := templates.Builtin()
	if err != nil {
		return fmt.Errorf("bundled templates: %w", err)
	}
	if dir != "" {
		fromDir, err := graph.LoadDir(dir)
		if err != nil {
			return fmt.Errorf("templates dir: %w", err)
		}
		tpls = append(tpls, fromDir...)
	}
	n, err := svc.Seed(ctx, tpls)
	if err != nil {
		return fmt.Errorf("seed templates: %w", err)
	}
	slog.Info("templates seeded", "created", n, "available", len(tpls))
	return nil
}
