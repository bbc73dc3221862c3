package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"speedchat-backend/internal/config"
	"speedchat-backend/internal/handler"
	"speedchat-backend/internal/llm"
	"speedchat-backend/internal/middleware"
	"speedchat-backend/internal/observability"
	"speedchat-backend/internal/service"
	"speedchat-backend/internal/storage"
	"speedchat-backend/internal/tools"
	"speedchat-backend/pkg/logger"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./configs/config.yaml", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}

	ctx := context.Background()

	shutdownTracing, err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.Tracing.Enabled,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
	})
	if err != nil {
		logger.Fatalf("Failed to init tracing: %v", err)
	}

	store, err := openStorage(cfg.Storage)
	if err != nil {
		logger.Fatalf("Failed to open storage: %v", err)
	}
	if err := store.Init(); err != nil {
		logger.Fatalf("Failed to init storage: %v", err)
	}

	var usage storage.UsageStore = store
	var redisUsage *storage.RedisUsageStore
	if cfg.Usage.Backend == "redis" {
		redisUsage, err = storage.NewRedisUsageStore(ctx, cfg.Usage.RedisAddr, cfg.Usage.RedisDB, cfg.Usage.KeyPrefix)
		if err != nil {
			logger.Fatalf("Failed to connect usage store: %v", err)
		}
		usage = redisUsage
	}

	resolver, err := newResolver(cfg)
	if err != nil {
		logger.Fatalf("Failed to init models: %v", err)
	}
	if err := cfg.ValidateModels(func(id string) bool {
		_, ok := resolver.Catalog().Lookup(id)
		return ok
	}); err != nil {
		logger.Fatalf("Invalid config: %v", err)
	}

	toolbox := newToolbox(ctx, cfg, store)

	persister := service.NewTurnPersister(store, time.Now)
	titles := service.NewTitleGenerator(resolver, store, cfg.Chat.TitleModel, cfg.Chat.TitleTimeout, time.Now)
	orchestrator := service.NewOrchestrator(
		store,
		usage,
		resolver,
		toolbox,
		titles,
		persister,
		service.NewActiveTurns(),
		service.OrchestratorConfig{
			DefaultModel:  cfg.Chat.DefaultModel,
			MaxSteps:      cfg.Chat.MaxSteps,
			StreamTimeout: cfg.Chat.StreamTimeout,
			EnableMemory:  cfg.Chat.EnableMemory,
			Prompt: service.PromptBuilder{
				SystemPrompt: cfg.Chat.SystemPrompt,
				MaxHistory:   cfg.Chat.MaxHistoryMessages,
			},
		},
		time.Now,
	)
	chatService := service.NewChatService(store, usage, persister)

	auth := middleware.NewAuth(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	chatHandler := handler.NewChatHandler(orchestrator, chatService, cfg.Chat.HeartbeatInterval)
	accountHandler := handler.NewAccountHandler(resolver, chatService)

	router := setupRouter(cfg)
	handler.RegisterRoutes(router, auth.RequireAuth(), chatHandler, accountHandler)

	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        router,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		MaxHeaderBytes: cfg.Server.MaxHeaderBytes,
	}

	stopBackup := startBackups(store, cfg.Storage.BackupInterval)

	go func() {
		logger.Infof("Server listening on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	}

	stopBackup()
	if err := toolbox.Close(); err != nil {
		logger.Warnf("Closing MCP clients: %v", err)
	}
	if redisUsage != nil {
		if err := redisUsage.Close(); err != nil {
			logger.Warnf("Closing usage store: %v", err)
		}
	}
	if err := store.Close(); err != nil {
		logger.Errorf("Closing storage: %v", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warnf("Flushing traces: %v", err)
	}
	logger.Info("Server stopped")
}

func openStorage(cfg config.StorageConfig) (storage.Storage, error) {
	switch cfg.Type {
	case "memory":
		return storage.NewMemoryStorage(), nil
	case "disk":
		return storage.NewDiskStorage(cfg.DataDir), nil
	case "sqlite", "postgres":
		return storage.OpenSQLStorage(cfg.Type, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.Type)
	}
}

func newResolver(cfg *config.Config) (*llm.Resolver, error) {
	creds := make(map[string]llm.Credentials)
	for name, p := range cfg.Providers.ByName() {
		creds[name] = llm.Credentials{
			APIKey:  p.APIKey,
			BaseURL: p.BaseURL,
			Timeout: p.Timeout,
		}
	}
	return llm.NewResolver(
		llm.DefaultCatalog(),
		llm.DefaultRegistry(),
		creds,
		cfg.Chat.MaxOutputTokens,
		llm.WithRetryPolicy(llm.RetryPolicy{
			MaxAttempts: cfg.Chat.RetryAttempts,
			Backoff:     cfg.Chat.RetryBackoff,
		}),
	)
}

func newToolbox(ctx context.Context, cfg *config.Config, store storage.Storage) *tools.Toolbox {
	search := tools.NewWebSearchTool(tools.SearchConfig{
		APIKey:        cfg.Search.APIKey,
		BaseURL:       cfg.Search.BaseURL,
		NumResults:    cfg.Search.NumResults,
		MaxCharacters: cfg.Search.MaxCharacters,
		Timeout:       cfg.Search.Timeout,
	})
	if cfg.Search.APIKey == "" {
		logger.Warn("No search API key configured, web search returns no results")
	}

	var mcpTools *tools.MCPTools
	if len(cfg.Tools.MCPServers) > 0 {
		servers := make([]tools.MCPServer, 0, len(cfg.Tools.MCPServers))
		for _, s := range cfg.Tools.MCPServers {
			servers = append(servers, tools.MCPServer{Name: s.Name, URL: s.URL})
		}
		mcpTools = tools.LoadMCPTools(ctx, servers, cfg.Tools.LoadTimeout)
	}
	return tools.NewToolbox(search, store, cfg.Chat.EnableMemory, mcpTools)
}

func startBackups(store storage.Storage, interval time.Duration) func() {
	if interval <= 0 {
		return func() {}
	}
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				if err := store.Backup(); err != nil {
					logger.Errorf("Storage backup failed: %v", err)
				}
			case <-done:
				return
			}
		}
	}()
	return func() {
		ticker.Stop()
		close(done)
	}
}

func setupRouter(cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	if cfg.Tracing.Enabled {
		router.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}

	corsConfig := cors.Config{
		AllowOrigins:     cfg.CORS.AllowedOrigins,
		AllowMethods:     cfg.CORS.AllowedMethods,
		AllowHeaders:     cfg.CORS.AllowedHeaders,
		ExposeHeaders:    cfg.CORS.ExposedHeaders,
		AllowCredentials: cfg.CORS.AllowCredentials,
		MaxAge:           time.Duration(cfg.CORS.MaxAge) * time.Second,
	}
	router.Use(cors.New(corsConfig))

	return router
}
