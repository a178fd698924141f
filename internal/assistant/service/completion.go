package service

import (
	"context"
	"errors"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lk2023060901/agentchat-backend/internal/assistant/biz"
	"github.com/lk2023060901/agentchat-backend/internal/assistant/types"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/logger"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/response"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/sse"
)

// CompletionService 流式补全 HTTP 服务
type CompletionService struct {
	uc         *biz.CompletionUseCase
	streamOpts []sse.Option
	logger     *logger.Logger
}

// NewCompletionService 创建补全服务；opts 作用于每个响应流
func NewCompletionService(uc *biz.CompletionUseCase, log *logger.Logger, opts ...sse.Option) *CompletionService {
	return &CompletionService{uc: uc, streamOpts: opts, logger: log}
}

// RegisterRoutes 注册 /completion 路由，middleware 只作用于该路由
func (s *CompletionService) RegisterRoutes(rg *gin.RouterGroup, middleware ...gin.HandlerFunc) {
	rg.POST("/completion", append(middleware, s.Completion)...)
}

// Completion 流式补全
// @Summary Streaming completion with tools and credit accounting
// @Tags completion
// @Accept json
// @Produce text/event-stream
// @Param request body types.CompletionRequest true "Completion Request"
// @Router /api/v1/completion [post]
func (s *CompletionService) Completion(c *gin.Context) {
	userID := c.GetString("user_id")
	if userID == "" {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req types.CompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.UserID != "" && req.UserID != userID {
		response.Unauthorized(c, "uid does not match token")
		return
	}

	ctx := c.Request.Context()
	if s.logger != nil {
		ctx = logger.ToContext(ctx, s.logger)
	}
	ctx = logger.WithChatID(logger.WithUserID(ctx, userID), req.ChatID)
	completion, err := s.uc.Start(ctx, &biz.CompletionInput{
		AgentID: req.AgentID,
		UserID:  userID,
		ChatID:  req.ChatID,
		Message: types.Message{Role: types.RoleUser, Content: types.ItemsContent(req.MessageData.Content...)},
		Config:  req.Config,
	})
	if err != nil {
		response.HandleError(c, err)
		return
	}

	stream := sse.NewStream(c, s.streamOpts...)
	if err := sse.Relay(ctx, stream, completion.Frames()); err != nil && !errors.Is(err, context.Canceled) {
		logger.FromContext(ctx).Warn("写出补全流失败", zap.Error(err))
	}
	// 客户端已断开或写入失败，停止生成；Relay 正常返回时流已结束，Cancel 无副作用
	completion.Cancel()
	_ = stream.Close()

	settlement, err := s.uc.Finish(ctx, completion)
	if err != nil {
		logger.FromContext(ctx).Error("补全结算失败", zap.Error(err))
		return
	}
	fields := []zap.Field{
		zap.String("msg_id", settlement.Result.MsgID),
		zap.Bool("aborted", settlement.Result.Aborted),
	}
	if settlement.Preview != nil {
		fields = append(fields, zap.Int64("credits", settlement.Preview.TotalCredits))
	}
	if settlement.Transfer != nil {
		fields = append(fields, zap.Int64("agent_fee", settlement.Transfer.Fee), zap.Int64("agent_net", settlement.Transfer.Net))
	}
	logger.FromContext(ctx).Info("补全请求完成", fields...)
}
