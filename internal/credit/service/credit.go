package service

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/lk2023060901/agentchat-backend/internal/credit/biz"
	"github.com/lk2023060901/agentchat-backend/internal/credit/types"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/logger"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/response"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreditService 额度 HTTP 服务
type CreditService struct {
	uc             *biz.CreditUseCase
	retry          biz.RetryPolicy
	defaultFeeRate decimal.Decimal
	logger         *logger.Logger
}

// NewCreditService 创建额度服务
func NewCreditService(uc *biz.CreditUseCase, retry biz.RetryPolicy, defaultFeeRate decimal.Decimal, log *logger.Logger) *CreditService {
	return &CreditService{
		uc:             uc,
		retry:          retry,
		defaultFeeRate: defaultFeeRate,
		logger:         log,
	}
}

// RegisterRoutes 注册 /credits 路由
func (s *CreditService) RegisterRoutes(rg *gin.RouterGroup) {
	credits := rg.Group("/credits")
	credits.GET("/balance", s.GetBalance)
	credits.GET("/logs", s.ListLogs)
	credits.POST("/preview", s.Preview)
	credits.POST("/transfer", s.Transfer)
}

// GetBalance 查询当前用户余额
func (s *CreditService) GetBalance(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		response.Unauthorized(c, "unauthorized")
		return
	}

	acc, err := s.uc.GetBalance(c.Request.Context(), userID)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, toBalanceResponse(acc))
}

// ListLogs 分页查询当前用户流水
func (s *CreditService) ListLogs(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req ListLogsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.Page == 0 {
		req.Page = 1
	}
	if req.PageSize == 0 {
		req.PageSize = 20
	}

	items, total, err := s.uc.ListLogs(c.Request.Context(), userID, req.PageSize, (req.Page-1)*req.PageSize)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, &ListLogsResponse{Items: items, Total: total, Page: req.Page, PageSize: req.PageSize})
}

// Preview 预估一次对话消耗的额度，不写入
func (s *CreditService) Preview(c *gin.Context) {
	var req PreviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	preview, err := s.uc.CalculateCredits(req.Model, req.Messages, req.Output, req.Tools)
	if err != nil {
		response.HandleError(c, err)
		return
	}
	response.Success(c, preview)
}

// Transfer 为付费智能体向所有者转账，冲突时按策略重试
func (s *CreditService) Transfer(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req TransferRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	var result *types.TransferResult
	err := biz.RetryOnConflict(c.Request.Context(), s.retry, func(ctx context.Context) error {
		var err error
		result, err = s.uc.TransferCredits(ctx, userID, req.AgentID, s.defaultFeeRate, req.Metadata)
		return err
	})
	if err != nil {
		s.logger.WithContext(c.Request.Context()).Warn("转账失败",
			zap.String("agent_id", req.AgentID),
			zap.Error(err),
		)
		response.HandleError(c, err)
		return
	}
	response.Success(c, result)
}
