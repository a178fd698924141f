package service

import (
	assistanttypes "github.com/lk2023060901/agentchat-backend/internal/assistant/types"
	"github.com/lk2023060901/agentchat-backend/internal/credit/types"
)

// PreviewRequest 额度预估请求
type PreviewRequest struct {
	Model    string                   `json:"model" binding:"required"`
	Messages []assistanttypes.Message `json:"messages"`
	Output   string                   `json:"output"`
	Tools    []assistanttypes.Tool    `json:"tools"`
}

// TransferRequest 智能体付费转账请求
type TransferRequest struct {
	AgentID  string         `json:"agent_id" binding:"required"`
	Metadata map[string]any `json:"metadata"`
}

// ListLogsRequest 流水查询
type ListLogsRequest struct {
	Page     int `form:"page" binding:"omitempty,min=1"`
	PageSize int `form:"page_size" binding:"omitempty,min=1,max=100"`
}

// BalanceResponse 余额
type BalanceResponse struct {
	UserID         string              `json:"user_id"`
	Free           types.BucketBalance `json:"free"`
	Referral       types.BucketBalance `json:"referral"`
	Plan           types.BucketBalance `json:"plan"`
	TopUp          types.BucketBalance `json:"topUp"`
	TotalRemaining int64               `json:"total_remaining"`
}

// ListLogsResponse 流水列表
type ListLogsResponse struct {
	Items    []*types.LogEntry `json:"items"`
	Total    int64             `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"page_size"`
}

func toBalanceResponse(acc *types.Account) *BalanceResponse {
	return &BalanceResponse{
		UserID:         acc.UserID,
		Free:           acc.Free,
		Referral:       acc.Referral,
		Plan:           acc.Plan,
		TopUp:          acc.TopUp,
		TotalRemaining: acc.TotalRemaining(),
	}
}
