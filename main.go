package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/theworld-inc/theworld-engine/pkg/auth"
	"github.com/theworld-inc/theworld-engine/pkg/config"
	"github.com/theworld-inc/theworld-engine/pkg/database"
	"github.com/theworld-inc/theworld-engine/pkg/embedding"
	"github.com/theworld-inc/theworld-engine/pkg/handlers"
	"github.com/theworld-inc/theworld-engine/pkg/llm"
	"github.com/theworld-inc/theworld-engine/pkg/mcp"
	"github.com/theworld-inc/theworld-engine/pkg/middleware"
	"github.com/theworld-inc/theworld-engine/pkg/repositories"
	"github.com/theworld-inc/theworld-engine/pkg/secrets"
	"github.com/theworld-inc/theworld-engine/pkg/services"
	"github.com/theworld-inc/theworld-engine/pkg/services/dataplane"
	"github.com/theworld-inc/theworld-engine/pkg/trace"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfg, err := config.Load(Version)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := newLogger(cfg.Env)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Configuration loaded",
		zap.String("environment", cfg.Env),
		zap.String("version", cfg.Version),
		zap.Bool("auth_verification", cfg.Auth.EnableVerification),
		zap.String("database", cfg.Database.Database),
	)

	ctx := context.Background()

	// Migrations run over database/sql; the engine itself uses pgx pools.
	migrationDB, err := sql.Open("pgx", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("Failed to open migration connection", zap.Error(err))
	}
	if err := database.RunMigrations(migrationDB, cfg.MigrationsPath, logger); err != nil {
		logger.Fatal("Failed to run migrations", zap.Error(err))
	}
	_ = migrationDB.Close()

	db, err := database.NewConnection(ctx, &database.Config{
		URL:            cfg.Database.ConnectionString(),
		MaxConnections: cfg.Database.MaxConnections,
	})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	cipher, err := secrets.NewCipher(cfg.SecretCipherKey)
	if err != nil {
		logger.Fatal("Failed to initialize secret cipher", zap.Error(err))
	}

	// Repositories
	reasoningRepo := repositories.NewReasoningRepository()
	catalogRepo := repositories.NewCatalogRepository()
	llmConfigRepo := repositories.NewLLMConfigRepository()
	runtimeConfigRepo := repositories.NewRuntimeConfigRepository()
	activeTenantRepo := repositories.NewActiveTenantRepository()

	// External collaborators
	embedder := embedding.NewProvider(embedding.Config{
		Endpoint:  cfg.Embedding.Endpoint,
		Dimension: cfg.Embedding.Dimension,
		Timeout:   time.Duration(cfg.Embedding.TimeoutMS) * time.Millisecond,
	}, logger)
	invoker := llm.NewClient(logger)
	dataService := dataplane.NewMCPDataService(dataplane.Config{
		Endpoint: cfg.DataPlane.Endpoint,
		Timeout:  time.Duration(cfg.DataPlane.TimeoutMS) * time.Millisecond,
	}, logger)

	// Services
	graphService := services.NewGraphToolService(catalogRepo, embedder, logger)
	contextService := services.NewContextService(reasoningRepo, logger)
	llmConfigService := services.NewTenantLLMConfigService(llmConfigRepo, cipher, invoker, logger)
	observabilityService := services.NewObservabilityConfigService(runtimeConfigRepo, logger)
	forwarder := trace.NewLangfuseForwarder(observabilityService.Provider(), logger)
	sink := trace.NewSink(reasoningRepo, forwarder, logger)
	executor := services.NewReasoningExecutor(invoker, dataService, logger)
	reasoningService := services.NewReasoningService(
		reasoningRepo, catalogRepo, graphService,
		contextService, llmConfigService, invoker, executor, sink, logger)

	// Middleware chain: trace id -> request log -> auth -> tenant DB scope ->
	// active tenant touch.
	traceMW := middleware.TraceID()
	logMW := middleware.RequestLogger(logger)
	authMW := auth.Middleware(auth.Config{
		EnableVerification: cfg.Auth.EnableVerification,
		Secret:             cfg.Auth.Secret,
	}, logger)
	tenantMW := database.WithTenantContext(db, logger)
	touchMW := middleware.ActiveTenantTouch(activeTenantRepo, logger)

	protect := func(h http.Handler) http.Handler {
		return traceMW(logMW(authMW(tenantMW(touchMW(h)))))
	}
	wrap := func(h http.HandlerFunc) http.Handler {
		return protect(h)
	}

	mux := http.NewServeMux()

	handlers.NewHealthHandler(cfg).RegisterRoutes(mux)
	handlers.NewReasoningHandler(reasoningService, logger).RegisterRoutes(mux, wrap)
	handlers.NewConfigHandler(llmConfigService, observabilityService, logger).RegisterRoutes(mux, wrap)
	handlers.NewMCPGraphHandler(graphService, logger).RegisterRoutes(mux, wrap)

	// MCP transport for agent callers, same tool surface and middleware chain.
	mcpServer := mcp.NewServer("theworld-engine", cfg.Version, logger)
	mcp.RegisterGraphTools(mcpServer, graphService)
	mux.Handle("/mcp", protect(mcpServer.NewStreamableHTTPServer()))

	addr := cfg.BindAddr + ":" + cfg.Port
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Starting theworld-engine",
		zap.String("addr", addr),
		zap.String("version", cfg.Version))
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatal("Server failed", zap.Error(err))
	}
}

func newLogger(env string) (*zap.Logger, error) {
	if env == "local" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
