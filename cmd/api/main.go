package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/audit-agent/backend/internal/api/handlers"
	"github.com/audit-agent/backend/internal/audit"
	"github.com/audit-agent/backend/internal/cache/redis"
	"github.com/audit-agent/backend/internal/catalog"
	"github.com/audit-agent/backend/internal/classifier"
	"github.com/audit-agent/backend/internal/engineer"
	"github.com/audit-agent/backend/internal/llm"
	"github.com/audit-agent/backend/internal/metrics"
	"github.com/audit-agent/backend/internal/middleware/ratelimit"
	"github.com/audit-agent/backend/internal/middleware/security"
	"github.com/audit-agent/backend/internal/middleware/validation"
	"github.com/audit-agent/backend/internal/orchestrator"
	"github.com/audit-agent/backend/internal/query"
	"github.com/audit-agent/backend/internal/resolver"
	"github.com/audit-agent/backend/internal/router"
	"github.com/audit-agent/backend/internal/session"
	"github.com/audit-agent/backend/internal/storage/sqlite"
	"github.com/audit-agent/backend/pkg/config"
	appLogger "github.com/audit-agent/backend/pkg/logger"
)

const (
	reapInterval   = time.Minute
	shutdownPeriod = 15 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Audit Agent API Server")
	metrics.Init()

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	readyChecks := []handlers.ReadyCheck{handlers.PingCheck("sqlite", sqliteClient)}

	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(
			cfg.Redis.Host,
			cfg.Redis.Port,
			cfg.Redis.Password,
			cfg.Redis.DB,
			time.Duration(cfg.Redis.SnapshotTTL)*time.Second,
		)
		if err != nil {
			appLogger.Warn("Redis unavailable, continuing without snapshot cache", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
			readyChecks = append(readyChecks, handlers.PingCheck("redis", redisClient))
		}
	}

	aliases, err := catalog.LoadAliases(cfg.Catalog.AliasesPath)
	if err != nil {
		appLogger.Fatal("Failed to load alias table", zap.Error(err))
	}

	var catalogOpts []catalog.Option
	if redisClient != nil {
		catalogOpts = append(catalogOpts, catalog.WithCache(redisClient))
	}
	auditCatalog := catalog.New(catalog.NewStoreSource(sqliteClient, aliases), catalogOpts...)
	if !auditCatalog.Refresh(ctx) {
		appLogger.Warn("Catalog is empty at startup, audit requests will report no data until it refreshes")
	}
	auditCatalog.StartAutoRefresh(ctx, time.Duration(cfg.Catalog.RefreshIntervalSec)*time.Second)
	readyChecks = append(readyChecks, handlers.ReadyCheck{Name: "catalog", Check: func(ctx context.Context) error {
		if auditCatalog.Snapshot().IsEmpty() {
			return errors.New("catalog is empty")
		}
		return nil
	}})

	entityResolver := resolver.New(auditCatalog)

	intents := classifier.New(classifier.FileStore(cfg.Classifier.ModelPath))
	if err := intents.Load(); err != nil {
		appLogger.Fatal("Failed to load intent classifier, run auditctl train-classifier first",
			zap.String("model_path", cfg.Classifier.ModelPath),
			zap.Error(err),
		)
	}

	llmClient := llm.NewClient(llm.Config{
		APIKey:      cfg.LLM.APIKey,
		BaseURL:     cfg.LLM.BaseURL,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     time.Duration(cfg.LLM.TimeoutSec) * time.Second,
	})

	var notifier router.Notifier = engineer.NewLogNotifier()
	if redisClient != nil {
		notifier = engineer.NewRedisNotifier(redisClient)
	}

	messageRouter := router.New(intents, llmClient, sqliteClient, notifier, router.Config{
		Threshold:        cfg.Router.ConfidenceThreshold,
		StructuredLabels: cfg.Router.StructuredLabels,
	})

	var runner audit.Runner = audit.NewSSHRunner(audit.SSHConfig{
		Host:     cfg.SSH.Host,
		Username: cfg.SSH.Username,
		Password: cfg.SSH.Password,
		Timeout:  time.Duration(cfg.Execution.TimeoutSec) * time.Second,
	})
	if cfg.Execution.DryRun {
		appLogger.Warn("Audit execution is in dry-run mode, no commands will reach devices")
		runner = audit.DryRunRunner{}
	}

	executor := audit.NewExecutor(entityResolver, auditCatalog, sqliteClient, runner, audit.Config{
		ScriptsDir:  cfg.Execution.ScriptsDir,
		Timeout:     time.Duration(cfg.Execution.TimeoutSec) * time.Second,
		MaxParallel: cfg.Execution.MaxParallel,
	})

	queryEngine := query.NewEngine(sqliteClient, entityResolver)

	orch := orchestrator.New(messageRouter, sqliteClient)
	orch.Register(router.TargetRetrieval, queryEngine)
	orch.Register(router.TargetExecution, executor)

	sessions := session.NewManager(session.Config{
		HistoryLimit: cfg.Session.HistoryLimit,
		IdleTimeout:  time.Duration(cfg.Session.IdleTimeoutMin) * time.Minute,
		QueueSize:    cfg.Session.QueueSize,
	})
	sessions.StartReaper(ctx, reapInterval)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	allowOrigins := "*"
	if len(cfg.Server.AllowedOrigins) > 0 {
		allowOrigins = strings.Join(cfg.Server.AllowedOrigins, ",")
	}

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: allowOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, " + ratelimit.SessionHeader,
		AllowMethods: "GET, POST, PATCH, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.Development,
	}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
		Logger:               appLogger.Named("ratelimit"),
	})
	defer limiter.Stop()

	// WriteTimeout bounds the whole request, so messages get a little less.
	messageTimeout := time.Duration(cfg.Server.WriteTimeout)*time.Second - time.Second

	handlers.Register(app, handlers.Set{
		Chat:      handlers.NewChatHandler(orch, sessions, sqliteClient, messageTimeout),
		WebSocket: handlers.NewWebSocketHandler(orch, sessions, messageTimeout),
		Catalog:   handlers.NewCatalogHandler(auditCatalog, entityResolver),
		Engineer:  handlers.NewEngineerHandler(engineer.NewService(sqliteClient)),
		Health:    handlers.NewHealthHandler(readyChecks...),
	},
		limiter.Middleware(),
		validation.ChatMiddleware(validation.Config{
			MaxMessageLength: cfg.Server.MaxMessageLen,
			Logger:           appLogger.Named("validation"),
		}),
	)
	app.Get("/metrics", metrics.MetricsHandler())

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := app.ShutdownWithTimeout(shutdownPeriod); err != nil {
		appLogger.Warn("Server shutdown incomplete", zap.Error(err))
	}
	stop()
	sessions.Close()
	appLogger.Info("Server stopped")
}
