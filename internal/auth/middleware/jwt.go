package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lk2023060901/agentchat-backend/internal/auth"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/logger"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/response"
)

// ContextUserID gin 上下文中保存用户 ID 的键
const ContextUserID = "user_id"

// JWTAuth JWT 认证中间件
func JWTAuth(jwtManager *auth.JWTManager, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var token string

		// 优先从 Authorization header 获取 token
		if authHeader := c.GetHeader("Authorization"); authHeader != "" {
			t, err := auth.ExtractTokenFromHeader(authHeader)
			if err != nil {
				response.Unauthorized(c, err.Error())
				c.Abort()
				return
			}
			token = t
		} else {
			// EventSource 无法设置请求头，允许 query 参数
			token = c.Query("token")
			if token == "" {
				response.Unauthorized(c, "missing authorization")
				c.Abort()
				return
			}
		}

		claims, err := jwtManager.Verify(token)
		if err != nil {
			log.Warn("invalid access token", zap.Error(err), zap.String("ip", c.ClientIP()))
			response.Unauthorized(c, "invalid or expired token")
			c.Abort()
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), claims.UserID))
		c.Next()
	}
}

// CORS 跨域中间件
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		if origin := c.Request.Header.Get("Origin"); origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Request-ID")
			c.Header("Access-Control-Expose-Headers", "Content-Type, X-Request-ID, X-RateLimit-Limit, X-RateLimit-Remaining, Retry-After")
			c.Header("Access-Control-Allow-Credentials", "true")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
