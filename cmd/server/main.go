package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	agentbiz "github.com/lk2023060901/agentchat-backend/internal/agent/biz"
	agentdata "github.com/lk2023060901/agentchat-backend/internal/agent/data"
	agentservice "github.com/lk2023060901/agentchat-backend/internal/agent/service"
	assistantbiz "github.com/lk2023060901/agentchat-backend/internal/assistant/biz"
	assistantdata "github.com/lk2023060901/agentchat-backend/internal/assistant/data"
	"github.com/lk2023060901/agentchat-backend/internal/assistant/llm"
	assistantservice "github.com/lk2023060901/agentchat-backend/internal/assistant/service"
	"github.com/lk2023060901/agentchat-backend/internal/assistant/tokens"
	"github.com/lk2023060901/agentchat-backend/internal/assistant/tools"
	"github.com/lk2023060901/agentchat-backend/internal/auth"
	"github.com/lk2023060901/agentchat-backend/internal/conf"
	creditbiz "github.com/lk2023060901/agentchat-backend/internal/credit/biz"
	creditdata "github.com/lk2023060901/agentchat-backend/internal/credit/data"
	creditservice "github.com/lk2023060901/agentchat-backend/internal/credit/service"
	"github.com/lk2023060901/agentchat-backend/internal/data"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/logger"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/sse"
	"github.com/lk2023060901/agentchat-backend/internal/server"
	"github.com/lk2023060901/agentchat-backend/internal/websearch"
	"github.com/lk2023060901/agentchat-backend/internal/websearch/provider"
)

var (
	configFile = flag.String("config", "configs/config.yaml", "config file path")
)

func main() {
	flag.Parse()

	// Load configuration
	config, err := conf.LoadConfig(*configFile)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log, err := logger.New(&config.Log)
	if err != nil {
		panic("failed to initialize logger: " + err.Error())
	}
	defer func() { _ = log.Sync() }()
	logger.SetGlobal(log)

	log.Info("config loaded successfully", zap.String("path", *configFile))

	// Initialize data layer
	d, cleanup, err := data.NewData(config, log)
	if err != nil {
		log.Fatal("failed to initialize data layer", zap.Error(err))
	}
	defer cleanup()

	// Initialize repositories
	agentRepo := agentdata.NewAgentRepo(d.DB)
	planRepo := agentdata.NewPlanRepo(d.DB)
	accountRepo := creditdata.NewAccountRepo(d.DB)
	chatRepo := assistantdata.NewChatRepo(d.DB)
	memoryRepo := assistantdata.NewMemoryRepo(d.DB)

	registry, err := llm.NewRegistry(config.Providers, config.Models)
	if err != nil {
		log.Fatal("failed to build model registry", zap.Error(err))
	}
	log.Info("model registry ready", zap.Strings("models", registry.IDs()))

	feeRate, err := config.Credit.FeeRate()
	if err != nil {
		log.Fatal("invalid credit config", zap.Error(err))
	}

	// Initialize use cases
	agentUseCase := agentbiz.NewAgentUseCase(agentRepo, planRepo, d.Redis)
	creditUseCase := creditbiz.NewCreditUseCase(accountRepo, accountRepo, agentUseCase, agentUseCase, registry)
	chatUseCase := assistantbiz.NewChatUseCase(chatRepo, memoryRepo)

	var searcher tools.Searcher
	if config.WebSearch.Provider.ID != "" {
		ws, err := websearch.NewService(config.WebSearch, provider.NewFactory())
		if err != nil {
			log.Fatal("failed to initialize web search", zap.Error(err))
		}
		defer ws.Close()
		searcher = ws
		log.Info("web search enabled", zap.String("provider", string(config.WebSearch.Provider.ID)))
	}

	counter, err := tokens.NewCounter(config.Completion.Estimator, config.Completion.Encoding)
	if err != nil {
		log.Warn("token counter unavailable, falling back to heuristic", zap.Error(err))
	}

	orchestrator := llm.NewOrchestrator(
		registry,
		tools.NewConnector(searcher, config.Tools, nil),
		nil,
		counter,
		config.Completion,
	)
	completionUseCase := assistantbiz.NewCompletionUseCase(
		agentUseCase,
		orchestrator,
		creditUseCase,
		chatUseCase,
		config.Credit.Retry,
		feeRate,
	)

	// Initialize services
	services := server.Services{
		Completion: assistantservice.NewCompletionService(completionUseCase, log, sse.WithHeartbeat(config.Server.Heartbeat)),
		Credit:     creditservice.NewCreditService(creditUseCase, config.Credit.Retry, feeRate, log),
		Agent:      agentservice.NewAgentService(agentUseCase),
		RateLimit:  d.Redis,
		Health: map[string]server.HealthCheck{
			"database": d.DB.HealthCheck,
			"redis":    d.Redis.Ping,
		},
	}
	jwtManager := auth.NewJWTManager(config.Auth.JWTSecret, config.Auth.JWTIssuer)
	httpServer := server.NewHTTPServer(config, log, jwtManager, services)

	go func() {
		if err := httpServer.Start(); err != nil {
			log.Fatal("failed to start HTTP server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")

	// 进行中的补全在关闭期间继续结算
	ctx, cancel := context.WithTimeout(context.Background(), config.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Stop(ctx); err != nil {
		log.Error("HTTP server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}
