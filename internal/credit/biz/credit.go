package biz

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lk2023060901/agentchat-backend/internal/assistant/tokens"
	assistanttypes "github.com/lk2023060901/agentchat-backend/internal/assistant/types"
	"github.com/lk2023060901/agentchat-backend/internal/credit/types"
	apperrors "github.com/lk2023060901/agentchat-backend/internal/pkg/errors"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/logger"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CreditUseCase 多桶额度账本。
//
// 账户只通过条件更新修改，进程内不加锁；冲突时返回
// ErrConcurrentUpdateConflict，由调用方决定是否重试（见 RetryOnConflict）。
type CreditUseCase struct {
	repo    AccountRepo
	tx      Transactor
	agents  AgentResolver
	plans   PlanResolver
	pricing PricingCatalog
	now     func() time.Time
}

// NewCreditUseCase 创建额度用例
func NewCreditUseCase(repo AccountRepo, tx Transactor, agents AgentResolver, plans PlanResolver, pricing PricingCatalog) *CreditUseCase {
	return &CreditUseCase{
		repo:    repo,
		tx:      tx,
		agents:  agents,
		plans:   plans,
		pricing: pricing,
		now:     time.Now,
	}
}

// GetBalance 查询账户余额
func (uc *CreditUseCase) GetBalance(ctx context.Context, userID string) (*types.Account, error) {
	return uc.repo.GetAccount(ctx, userID)
}

// ListLogs 分页查询流水
func (uc *CreditUseCase) ListLogs(ctx context.Context, userID string, limit, offset int) ([]*types.LogEntry, int64, error) {
	return uc.repo.ListLogs(ctx, userID, limit, offset)
}

// DeductCredits 按 free→referral→plan→topUp 扣减 credits。
//
// 余额不足返回 ErrInsufficientCredits 且不做任何写入；条件更新失败返回
// ErrConcurrentUpdateConflict，本方法不重试。成功后重新读取账户，
// 为每个扣减量非零的桶写一条 deduct 流水。
func (uc *CreditUseCase) DeductCredits(ctx context.Context, userID string, credits int64, metadata map[string]any) (*types.DeductResult, error) {
	if credits < 0 {
		return nil, apperrors.Newf(apperrors.ErrInvalidCreditAmount, "credits must be >= 0, got %d", credits)
	}

	var result *types.DeductResult
	err := uc.tx.InTx(ctx, func(ctx context.Context) error {
		takes, after, err := uc.debit(ctx, userID, credits)
		if err != nil {
			return err
		}
		if err := uc.repo.AppendLogs(ctx, uc.deductLogs(userID, takes, after, metadata)); err != nil {
			return fmt.Errorf("append deduct logs: %w", err)
		}
		result = &types.DeductResult{Takes: takes, Remaining: types.RemainingOf(after)}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("额度扣减完成",
		zap.String("user_id", userID),
		zap.Int64("credits", credits),
		zap.Any("takes", result.Takes),
	)
	return result, nil
}

// debit 拆分并执行条件更新，返回扣减量和更新后的账户
func (uc *CreditUseCase) debit(ctx context.Context, userID string, credits int64) (types.Takes, *types.Account, error) {
	acc, err := uc.repo.GetAccount(ctx, userID)
	if err != nil {
		return types.Takes{}, nil, err
	}

	takes, uncovered := types.Split(acc, credits)
	if uncovered > 0 {
		return types.Takes{}, nil, apperrors.Newf(apperrors.ErrInsufficientCredits,
			"need %d, available %d", credits, acc.TotalRemaining())
	}
	if takes.Total() == 0 {
		return takes, acc, nil
	}

	ok, err := uc.repo.ApplyDebit(ctx, userID, takes)
	if err != nil {
		return types.Takes{}, nil, fmt.Errorf("apply debit: %w", err)
	}
	if !ok {
		return types.Takes{}, nil, ErrConcurrentUpdateConflict
	}

	after, err := uc.repo.GetAccount(ctx, userID)
	if err != nil {
		return types.Takes{}, nil, fmt.Errorf("reload account: %w", err)
	}
	return takes, after, nil
}

func (uc *CreditUseCase) deductLogs(userID string, takes types.Takes, after *types.Account, metadata map[string]any) []*types.LogEntry {
	var entries []*types.LogEntry
	for _, b := range types.BucketOrder {
		take := takes.Get(b)
		if take == 0 {
			continue
		}
		remaining := after.Bucket(b).Remaining
		entries = append(entries, uc.newLog(userID, types.EventDeduct, string(b), -take,
			ptr(remaining+take), ptr(remaining), metadata))
	}
	return entries
}

// CalculateCredits 仅预估，不写入。每一项单独向上取整后再求和
func (uc *CreditUseCase) CalculateCredits(modelID string, input []assistanttypes.Message, outputText string, tools []assistanttypes.Tool) (*types.CreditPreview, error) {
	model, ok := uc.pricing.Lookup(modelID)
	if !ok {
		return nil, apperrors.New(apperrors.ErrModelNotFound, modelID)
	}

	p := &types.CreditPreview{
		ModelID:      modelID,
		InputTokens:  tokens.EstimateMessages(input),
		OutputTokens: tokens.EstimateTokens(outputText),
		ToolTokens:   tokens.EstimateToolsTokens(tools),
	}
	p.InputCreditsUsed = creditsFor(p.InputTokens, model.InputCreditsPer1000Tokens)
	p.OutputCreditsUsed = creditsFor(p.OutputTokens, model.OutputCreditsPer1000Tokens)
	p.ToolCreditsUsed = creditsFor(p.ToolTokens, model.InputCreditsPer1000Tokens)
	p.TotalCredits = p.InputCreditsUsed + p.OutputCreditsUsed + p.ToolCreditsUsed
	return p, nil
}

// TransferCredits 调用付费智能体时，把价格从调用方转给智能体所有者。
//
// 费率按所有者的订阅计划分档，未知计划使用 defaultFeeRate。调用方即所有者
// 或价格不为正时直接跳过。付款方扣减、收款方 plan 入账以及所有流水
// 在同一事务中完成，任一步失败整体回滚。
func (uc *CreditUseCase) TransferCredits(ctx context.Context, fromUserID, agentID string, defaultFeeRate decimal.Decimal, metadata map[string]any) (*types.TransferResult, error) {
	agent, err := uc.agents.GetAgentPricing(ctx, agentID)
	if err != nil {
		return nil, err
	}

	result := &types.TransferResult{
		AgentID:     agentID,
		PayerID:     fromUserID,
		RecipientID: agent.OwnerID,
		Price:       agent.Price,
	}
	switch {
	case fromUserID == agent.OwnerID:
		result.Skipped, result.Reason = true, "caller owns the agent"
		return result, nil
	case agent.Price <= 0:
		result.Skipped, result.Reason = true, "agent is free"
		return result, nil
	}

	plan, err := uc.plans.GetPlan(ctx, agent.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("resolve owner plan: %w", err)
	}
	result.FeeRate = FeeRateForPlan(plan, defaultFeeRate)
	result.Fee, result.Net = ComputeFee(agent.Price, result.FeeRate)
	if result.Net <= 0 {
		return nil, apperrors.Newf(apperrors.ErrTransferTooSmall, "price %d, fee %d", agent.Price, result.Fee)
	}

	meta := mergeMetadata(metadata, map[string]any{
		"agent_id":     agentID,
		"payer_id":     fromUserID,
		"recipient_id": agent.OwnerID,
		"fee_rate":     result.FeeRate.String(),
	})

	err = uc.tx.InTx(ctx, func(ctx context.Context) error {
		takes, payerAfter, err := uc.debit(ctx, fromUserID, agent.Price)
		if err != nil {
			return err
		}
		result.PayerTakes = takes

		recipient, err := uc.repo.GetAccount(ctx, agent.OwnerID)
		if err != nil {
			return fmt.Errorf("load recipient: %w", err)
		}
		before := recipient.Plan.Remaining
		ok, err := uc.repo.ApplyCredit(ctx, agent.OwnerID, types.BucketPlan, result.Net, before)
		if err != nil {
			return fmt.Errorf("apply credit: %w", err)
		}
		if !ok {
			return ErrConcurrentUpdateConflict
		}

		entries := uc.deductLogs(fromUserID, takes, payerAfter, meta)
		entries = append(entries,
			uc.newLog(fromUserID, types.EventPlatformFee, types.SourceFee, result.Fee, nil, nil, meta),
			uc.newLog(agent.OwnerID, types.EventCreditTransfer, string(types.BucketPlan), result.Net,
				ptr(before), ptr(before+result.Net), meta),
		)
		return uc.repo.AppendLogs(ctx, entries)
	})
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Info("智能体付费转账完成",
		zap.String("agent_id", agentID),
		zap.String("payer_id", fromUserID),
		zap.String("recipient_id", agent.OwnerID),
		zap.Int64("price", agent.Price),
		zap.Int64("fee", result.Fee),
		zap.Int64("net", result.Net),
	)
	return result, nil
}

func (uc *CreditUseCase) newLog(userID string, event types.LogEvent, source string, delta int64, before, after *int64, metadata map[string]any) *types.LogEntry {
	return &types.LogEntry{
		LogID:         uuid.NewString(),
		UserID:        userID,
		Event:         event,
		Source:        source,
		CreditsDelta:  delta,
		CreditsBefore: before,
		CreditsAfter:  after,
		Metadata:      metadata,
		Timestamp:     uc.now().UTC(),
	}
}

// IsConflict 是否为可重试的并发冲突
func IsConflict(err error) bool {
	return errors.Is(err, ErrConcurrentUpdateConflict)
}

func mergeMetadata(base, extra map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}

func ptr(v int64) *int64 { return &v }
