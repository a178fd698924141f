package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	agentservice "github.com/lk2023060901/agentchat-backend/internal/agent/service"
	assistantservice "github.com/lk2023060901/agentchat-backend/internal/assistant/service"
	"github.com/lk2023060901/agentchat-backend/internal/auth"
	"github.com/lk2023060901/agentchat-backend/internal/auth/middleware"
	"github.com/lk2023060901/agentchat-backend/internal/conf"
	creditservice "github.com/lk2023060901/agentchat-backend/internal/credit/service"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/logger"
)

// HealthCheck 依赖的健康检查，例如数据库和 Redis
type HealthCheck func(ctx context.Context) error

// Services HTTP 层依赖的各业务服务
type Services struct {
	Completion *assistantservice.CompletionService
	Credit     *creditservice.CreditService
	Agent      *agentservice.AgentService
	// RateLimit 为 nil 时 /completion 不限流
	RateLimit middleware.WindowCounter
	Health    map[string]HealthCheck
}

type HTTPServer struct {
	server *http.Server
	logger *logger.Logger
}

func NewHTTPServer(config *conf.Config, log *logger.Logger, jwt *auth.JWTManager, svc Services) *HTTPServer {
	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	return &HTTPServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           NewRouter(config, log, jwt, svc),
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: log,
	}
}

// NewRouter 组装中间件和路由
func NewRouter(config *conf.Config, log *logger.Logger, jwt *auth.JWTManager, svc Services) *gin.Engine {
	if config.Server.Mode != "" {
		gin.SetMode(config.Server.Mode)
	}

	router := gin.New()
	router.Use(logger.GinRecovery(log))
	router.Use(logger.GinLogger(log, logger.MiddlewareOptions{SkipPaths: []string{"/health"}}))
	router.Use(middleware.CORS())

	router.GET("/health", healthHandler(svc.Health))

	api := router.Group("/api/v1")
	api.Use(middleware.JWTAuth(jwt, log))

	var completionMW []gin.HandlerFunc
	if svc.RateLimit != nil && config.Server.RateLimit.MaxRequests > 0 {
		completionMW = append(completionMW, middleware.CompletionRateLimiter(
			svc.RateLimit, config.Server.RateLimit.MaxRequests, config.Server.RateLimit.WindowSeconds, log))
	}
	svc.Completion.RegisterRoutes(api, completionMW...)
	svc.Credit.RegisterRoutes(api)
	svc.Agent.RegisterRoutes(api)
	return router
}

func healthHandler(checks map[string]HealthCheck) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status, code := "ok", http.StatusOK
		deps := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check(ctx); err != nil {
				deps[name] = err.Error()
				status, code = "degraded", http.StatusServiceUnavailable
				continue
			}
			deps[name] = "ok"
		}
		c.JSON(code, gin.H{
			"status":       status,
			"dependencies": deps,
			"time":         time.Now().Format(time.RFC3339),
		})
	}
}

func (s *HTTPServer) Start() error {
	s.logger.Info("starting HTTP server", zap.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Stop(ctx context.Context) error {
	s.logger.Info("stopping HTTP server")
	return s.server.Shutdown(ctx)
}
