package biz

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	agenttypes "github.com/lk2023060901/agentchat-backend/internal/agent/types"
	"github.com/lk2023060901/agentchat-backend/internal/assistant/llm"
	"github.com/lk2023060901/agentchat-backend/internal/assistant/types"
	creditbiz "github.com/lk2023060901/agentchat-backend/internal/credit/biz"
	credittypes "github.com/lk2023060901/agentchat-backend/internal/credit/types"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/logger"
)

// AgentResolver 解析并校验智能体使用权限
type AgentResolver interface {
	ResolveForUser(ctx context.Context, id, userID string) (*agenttypes.Agent, error)
}

// Orchestrator 流式补全编排
type Orchestrator interface {
	Start(ctx context.Context, req *llm.Request) (*llm.Run, error)
	Options() llm.Options
}

// Ledger 计费
type Ledger interface {
	CalculateCredits(modelID string, input []types.Message, outputText string, tools []types.Tool) (*credittypes.CreditPreview, error)
	DeductCredits(ctx context.Context, userID string, credits int64, metadata map[string]any) (*credittypes.DeductResult, error)
	TransferCredits(ctx context.Context, fromUserID, agentID string, defaultFeeRate decimal.Decimal, metadata map[string]any) (*credittypes.TransferResult, error)
}

// CompletionInput 一次补全请求
type CompletionInput struct {
	AgentID string
	UserID  string
	ChatID  string
	Message types.Message
	Config  types.CompletionConfig
}

// Completion 进行中的补全
type Completion struct {
	run    *llm.Run
	input  *CompletionInput
	agent  *agenttypes.Agent
	cancel context.CancelFunc
}

// Frames 输出帧
func (c *Completion) Frames() <-chan *types.Frame {
	return c.run.Frames()
}

// Cancel 中止补全，已经产出的内容在 Finish 中照常计费
func (c *Completion) Cancel() {
	c.cancel()
}

// Settlement 流结束后的计费和保存结果
type Settlement struct {
	Result   *llm.Result
	Preview  *credittypes.CreditPreview
	Deduct   *credittypes.DeductResult
	Transfer *credittypes.TransferResult
}

// CompletionUseCase 串联智能体、编排、计费和历史
type CompletionUseCase struct {
	agents       AgentResolver
	orchestrator Orchestrator
	ledger       Ledger
	chats        *ChatUseCase
	retry        creditbiz.RetryPolicy
	feeRate      decimal.Decimal
}

// NewCompletionUseCase 创建 CompletionUseCase
func NewCompletionUseCase(agents AgentResolver, orchestrator Orchestrator, ledger Ledger, chats *ChatUseCase, retry creditbiz.RetryPolicy, feeRate decimal.Decimal) *CompletionUseCase {
	return &CompletionUseCase{
		agents:       agents,
		orchestrator: orchestrator,
		ledger:       ledger,
		chats:        chats,
		retry:        retry,
		feeRate:      feeRate,
	}
}

// Start 校验智能体、加载上下文并开始流式补全。
// 未知模型和无权使用的智能体在发出任何帧之前返回错误
func (uc *CompletionUseCase) Start(ctx context.Context, in *CompletionInput) (*Completion, error) {
	var agent *agenttypes.Agent
	persona := in.Config.Instructions
	if in.AgentID != "" {
		a, err := uc.agents.ResolveForUser(ctx, in.AgentID, in.UserID)
		if err != nil {
			return nil, err
		}
		agent = a
		persona = a.Persona
	}

	history, memories, err := uc.chats.LoadContext(ctx, in.UserID, in.ChatID)
	if err != nil {
		return nil, err
	}

	var (
		runCtx context.Context
		cancel context.CancelFunc
	)
	if timeout := uc.orchestrator.Options().RequestTimeout; timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	run, err := uc.orchestrator.Start(runCtx, &llm.Request{
		Persona:  persona,
		Memories: memories,
		History:  history,
		NewTurn:  in.Message,
		Config:   in.Config,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	go func() {
		run.Wait()
		cancel()
	}()

	return &Completion{run: run, input: in, agent: agent, cancel: cancel}, nil
}

// Finish 等待补全结束后计费并保存本轮对话。
// 客户端断开后仍然执行，已经产出的内容照常计费
func (uc *CompletionUseCase) Finish(ctx context.Context, c *Completion) (*Settlement, error) {
	result := c.run.Wait()
	ctx = context.WithoutCancel(ctx)
	log := logger.FromContext(ctx).With(zap.String("msg_id", result.MsgID), zap.String("model", result.ModelID))

	s := &Settlement{Result: result}
	if result.FullResponse == "" && result.ToolCalls == 0 {
		log.Info("补全未产生内容，不计费", zap.Bool("aborted", result.Aborted), zap.Error(result.Err))
		return s, uc.save(ctx, c, result, 0)
	}

	preview, err := uc.ledger.CalculateCredits(result.ModelID, result.Prompt, result.FullResponse, result.Tools)
	if err != nil {
		return s, err
	}
	s.Preview = preview

	meta := map[string]any{
		"msg_id":  result.MsgID,
		"chat_id": c.input.ChatID,
		"model":   result.ModelID,
		"aborted": result.Aborted,
	}

	var charged int64
	err = creditbiz.RetryOnConflict(ctx, uc.retry, func(ctx context.Context) error {
		res, err := uc.ledger.DeductCredits(ctx, c.input.UserID, preview.TotalCredits, meta)
		if err != nil {
			return err
		}
		s.Deduct = res
		charged = preview.TotalCredits
		return nil
	})
	if err != nil {
		log.Warn("扣减额度失败", zap.Int64("credits", preview.TotalCredits), zap.Error(err))
		return s, errors.Join(err, uc.save(ctx, c, result, 0))
	}

	if c.agent != nil && c.agent.Price > 0 {
		err = creditbiz.RetryOnConflict(ctx, uc.retry, func(ctx context.Context) error {
			res, err := uc.ledger.TransferCredits(ctx, c.input.UserID, c.agent.ID, uc.feeRate, meta)
			if err != nil {
				return err
			}
			s.Transfer = res
			return nil
		})
		if err != nil {
			log.Warn("智能体转账失败", zap.String("agent_id", c.agent.ID), zap.Error(err))
			return s, errors.Join(err, uc.save(ctx, c, result, charged))
		}
	}

	log.Info("补全结算完成",
		zap.Int64("credits", charged),
		zap.Int("tool_calls", result.ToolCalls),
		zap.Bool("aborted", result.Aborted),
	)
	return s, uc.save(ctx, c, result, charged)
}

func (uc *CompletionUseCase) save(ctx context.Context, c *Completion, result *llm.Result, credits int64) error {
	agentID := ""
	if c.agent != nil {
		agentID = c.agent.ID
	}
	return uc.chats.SaveTurn(ctx, &Turn{
		ChatID:  c.input.ChatID,
		UserID:  c.input.UserID,
		AgentID: agentID,
		MsgID:   result.MsgID,
		Model:   result.ModelID,
		User:    c.input.Message,
		Answer:  result.FullResponse,
		Credits: credits,
	})
}
