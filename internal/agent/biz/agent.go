package biz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lk2023060901/agentchat-backend/internal/agent/types"
	credittypes "github.com/lk2023060901/agentchat-backend/internal/credit/types"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/logger"
	"go.uber.org/zap"
)

const (
	// AgentCacheTTL 智能体缓存时长
	AgentCacheTTL = time.Hour
	// PlanCacheTTL 订阅计划缓存时长
	PlanCacheTTL = 15 * time.Minute
)

// AgentRepo 智能体存储
type AgentRepo interface {
	GetByID(ctx context.Context, id string) (*types.Agent, error)
}

// PlanRepo 订阅计划存储
type PlanRepo interface {
	GetByUserID(ctx context.Context, userID string) (*types.Plan, error)
}

// Cache 读穿缓存，由 internal/pkg/redis.Client 实现
type Cache interface {
	Key(parts ...string) string
	GetJSON(ctx context.Context, key string, dest any) (bool, error)
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
}

// AgentUseCase 智能体与订阅计划查询
type AgentUseCase struct {
	agents AgentRepo
	plans  PlanRepo
	cache  Cache
}

// NewAgentUseCase 创建用例；cache 为 nil 时直接读库
func NewAgentUseCase(agents AgentRepo, plans PlanRepo, cache Cache) *AgentUseCase {
	return &AgentUseCase{agents: agents, plans: plans, cache: cache}
}

// GetAgent 读取智能体，带 1 小时缓存
func (uc *AgentUseCase) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	if id == "" {
		return nil, ErrAgentNotFound
	}

	var agent types.Agent
	key := uc.cacheKey("agent", id)
	if uc.readCache(ctx, key, &agent) {
		return &agent, nil
	}

	found, err := uc.agents.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	uc.writeCache(ctx, key, found, AgentCacheTTL)
	return found, nil
}

// ResolveForUser 取对话所用的智能体；草稿只对所有者可见
func (uc *AgentUseCase) ResolveForUser(ctx context.Context, id, userID string) (*types.Agent, error) {
	agent, err := uc.GetAgent(ctx, id)
	if err != nil {
		return nil, err
	}
	if agent.IsDraft() && agent.OwnerID != userID {
		return nil, ErrAgentUnauthorized
	}
	return agent, nil
}

// GetAgentPricing 供额度转账使用
func (uc *AgentUseCase) GetAgentPricing(ctx context.Context, agentID string) (*credittypes.AgentPricing, error) {
	agent, err := uc.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return &credittypes.AgentPricing{AgentID: agent.ID, OwnerID: agent.OwnerID, Price: agent.Price}, nil
}

// GetPlan 用户订阅计划，带 15 分钟缓存。没有订阅记录时返回空串
func (uc *AgentUseCase) GetPlan(ctx context.Context, userID string) (string, error) {
	var plan types.Plan
	key := uc.cacheKey("plan", userID)
	if uc.readCache(ctx, key, &plan) {
		return plan.Plan, nil
	}

	found, err := uc.plans.GetByUserID(ctx, userID)
	if errors.Is(err, ErrPlanNotFound) {
		found = &types.Plan{UserID: userID}
	} else if err != nil {
		return "", fmt.Errorf("load plan: %w", err)
	}
	uc.writeCache(ctx, key, found, PlanCacheTTL)
	return found.Plan, nil
}

// InvalidateAgent 智能体变更后清除缓存
func (uc *AgentUseCase) InvalidateAgent(ctx context.Context, id string) error {
	if uc.cache == nil {
		return nil
	}
	return uc.cache.Del(ctx, uc.cacheKey("agent", id))
}

func (uc *AgentUseCase) cacheKey(kind, id string) string {
	if uc.cache == nil {
		return ""
	}
	return uc.cache.Key(kind, id)
}

// readCache 缓存故障只记日志，回退到数据库
func (uc *AgentUseCase) readCache(ctx context.Context, key string, dest any) bool {
	if uc.cache == nil {
		return false
	}
	ok, err := uc.cache.GetJSON(ctx, key, dest)
	if err != nil {
		logger.FromContext(ctx).Warn("读取缓存失败", zap.String("key", key), zap.Error(err))
		return false
	}
	return ok
}

func (uc *AgentUseCase) writeCache(ctx context.Context, key string, value any, ttl time.Duration) {
	if uc.cache == nil {
		return
	}
	if err := uc.cache.SetJSON(ctx, key, value, ttl); err != nil {
		logger.FromContext(ctx).Warn("写入缓存失败", zap.String("key", key), zap.Error(err))
	}
}
