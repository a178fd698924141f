package biz

import (
	"context"

	"github.com/lk2023060901/agentchat-backend/internal/credit/types"
)

// AccountRepo 额度账户与流水存储
type AccountRepo interface {
	// GetAccount 读取账户，不存在时返回 ErrAccountNotFound
	GetAccount(ctx context.Context, userID string) (*types.Account, error)

	// ApplyDebit 条件更新：仅当每个桶 remaining >= take 时
	// 增加 used、减少 remaining。前置条件不满足时返回 false
	ApplyDebit(ctx context.Context, userID string, takes types.Takes) (bool, error)

	// ApplyCredit 条件更新：仅当桶的 remaining 仍等于 expectedRemaining 时
	// 把 amount 加到该桶。前置条件不满足时返回 false
	ApplyCredit(ctx context.Context, userID string, bucket types.Bucket, amount, expectedRemaining int64) (bool, error)

	// AppendLogs 追加流水
	AppendLogs(ctx context.Context, entries []*types.LogEntry) error

	// ListLogs 按时间倒序分页读取流水
	ListLogs(ctx context.Context, userID string, limit, offset int) ([]*types.LogEntry, int64, error)
}

// Transactor 在同一事务中执行 fn
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// AgentResolver 解析智能体的所有者和单次价格
type AgentResolver interface {
	GetAgentPricing(ctx context.Context, agentID string) (*types.AgentPricing, error)
}

// PlanResolver 查询用户订阅计划，例如 free / plus / pro / pro-plus
type PlanResolver interface {
	GetPlan(ctx context.Context, userID string) (string, error)
}

// PricingCatalog 模型计费目录
type PricingCatalog interface {
	Lookup(modelID string) (types.ModelPricing, bool)
}
