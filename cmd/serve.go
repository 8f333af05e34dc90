package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/waorchestrator/internal/agentcore"
	"github.com/nextlevelbuilder/waorchestrator/internal/automation"
	"github.com/nextlevelbuilder/waorchestrator/internal/config"
	"github.com/nextlevelbuilder/waorchestrator/internal/conversation"
	"github.com/nextlevelbuilder/waorchestrator/internal/egress"
	"github.com/nextlevelbuilder/waorchestrator/internal/eventbus"
	"github.com/nextlevelbuilder/waorchestrator/internal/flow"
	"github.com/nextlevelbuilder/waorchestrator/internal/ingress"
	"github.com/nextlevelbuilder/waorchestrator/internal/kv"
	"github.com/nextlevelbuilder/waorchestrator/internal/providers"
	"github.com/nextlevelbuilder/waorchestrator/internal/runtime"
	"github.com/nextlevelbuilder/waorchestrator/internal/store"
	"github.com/nextlevelbuilder/waorchestrator/internal/store/pg"
	"github.com/nextlevelbuilder/waorchestrator/internal/tools"
	"github.com/nextlevelbuilder/waorchestrator/internal/transport"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator: ingress consumer + automation sweeper",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return fmt.Errorf("serve: load config: %w", err)
	}

	db, err := sql.Open("pgx", cfg.Database.DSN)
	if err != nil {
		return fmt.Errorf("serve: open database: %w", err)
	}
	defer db.Close()
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}
	repo := pg.New(db)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()
	redisKV := kv.NewRedisKV(redisClient)
	redisStream := kv.NewRedisStream(redisClient)

	bus := eventbus.New()
	convStore := conversation.New(repo, log,
		conversation.WithCacheTTL(secondsToDuration(cfg.Conversation.CacheTTLSeconds)),
		conversation.WithMaxMessages(cfg.Conversation.MaxMessages),
		conversation.WithHistoryDays(cfg.Conversation.PgHistoryDays),
	)

	reg := runtime.NewRegistry(log)
	router := runtime.NewRouter(repo, reg, log)

	bridgeTransport := transport.NewBridgeTransport(func(botID string) string {
		return cfg.Transport.BridgeURL + "?bot_id=" + botID
	}, log)

	flowEng := flow.New(repo, router, log)
	router.SetFlowEvaluator(flowEng)

	toolRegistry := tools.NewRegistry(repo, tools.DefaultBuiltinDescriptors())
	executor := tools.NewExecutor(repo, convStore, flowEng, router, tools.NewMemoryClientDirectory(), bus,
		tools.WithChatLabeler(router),
	)

	primary, fallback, err := buildProviders(cfg)
	if err != nil {
		return fmt.Errorf("serve: build providers: %w", err)
	}
	failover := providers.NewFailoverClient(primary, fallback, providers.ModelMapping(cfg.Providers.ModelMapping))

	engine := agentcore.New(repo, redisKV, convStore, toolRegistry, executor, failover, bus, router, log,
		agentcore.WithLockTTL(cfg.Lock.TTL),
		agentcore.WithMaxIterations(cfg.Tools.MaxIterations),
		agentcore.WithMaxPendingRetries(cfg.Lock.MaxPendingRetries),
	)

	sweeper := automation.New(repo, redisKV, log, func(ctx context.Context, a store.Automation, sess store.Session) error {
		content := fmt.Sprintf("[Automation: %s] %s", a.Name, a.Prompt)
		return engine.HandleInbound(ctx, a.BotID, sess.ID, agentcore.InboundMessage{Content: content, Type: store.MessageText})
	})

	consumer := ingress.NewConsumer(redisStream, repo, flowEng, engine, bus, "waorchestrator-1", log)
	outConsumer := egress.NewConsumer(redisStream, reg, "waorchestrator-1", log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := startBots(ctx, repo, reg, bridgeTransport, log); err != nil {
		return fmt.Errorf("serve: start bots: %w", err)
	}

	go func() {
		if err := consumer.Run(ctx); err != nil {
			log.Error("serve: ingress consumer stopped", "error", err)
		}
	}()
	go func() {
		if err := outConsumer.Run(ctx); err != nil {
			log.Error("serve: egress consumer stopped", "error", err)
		}
	}()

	checkInterval := secondsToDuration(cfg.Automation.CheckIntervalMS / 1000)
	go sweeper.Run(ctx, checkInterval)

	log.Info("serve: orchestrator running")
	<-ctx.Done()
	log.Info("serve: shutting down")

	consumer.FlushPending()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	reg.ShutdownAll(shutdownCtx)
	return nil
}

// buildProviders constructs the primary/fallback Provider pair from
// config.Providers.Available, dispatching on ProviderCredential.Kind.
// An empty Fallback name is a valid configuration (spec.md §4.6.1
// treats "no failover configured" as a deployment choice).
func buildProviders(cfg *config.Config) (primary, fallback providers.Provider, err error) {
	byName := make(map[string]config.ProviderCredential, len(cfg.Providers.Available))
	for _, p := range cfg.Providers.Available {
		byName[p.Name] = p
	}

	primary, err = buildProvider(byName, cfg.Providers.Primary)
	if err != nil {
		return nil, nil, fmt.Errorf("primary provider: %w", err)
	}
	if cfg.Providers.Fallback == "" {
		return primary, nil, nil
	}
	fallback, err = buildProvider(byName, cfg.Providers.Fallback)
	if err != nil {
		return nil, nil, fmt.Errorf("fallback provider: %w", err)
	}
	return primary, fallback, nil
}

func buildProvider(byName map[string]config.ProviderCredential, name string) (providers.Provider, error) {
	cred, ok := byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q", name)
	}
	wire := providers.NewHTTPWireClient(cred.BaseURL, cred.APIKey)
	switch cred.Kind {
	case "gemini":
		return providers.NewGeminiProvider(wire, wire), nil
	case "openai":
		return providers.NewOpenAIProvider(wire, cred.Name), nil
	default:
		return nil, fmt.Errorf("unsupported provider kind %q", cred.Kind)
	}
}

// startBots registers every tenant bot's transport and opens its
// long-lived bridge session (spec.md §5: one session per bot). A
// single bot's dial failure is logged, not fatal — BridgeTransport
// retries with backoff on its own listenLoop once started.
func startBots(ctx context.Context, repo store.Repository, reg *runtime.Registry, t transport.Transport, log *slog.Logger) error {
	bots, err := repo.ListBots(ctx)
	if err != nil {
		return fmt.Errorf("list bots: %w", err)
	}
	for _, b := range bots {
		reg.Register(b.ID, t)
		if err := t.StartSession(ctx, b.ID); err != nil {
			log.Error("serve: start bot session failed", "bot_id", b.ID, "error", err)
		}
	}
	return nil
}

const shutdownGrace = 10 * time.Second

func secondsToDuration(n int) time.Duration { return time.Duration(n) * time.Second }
