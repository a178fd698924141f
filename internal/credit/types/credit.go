package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bucket 额度来源
type Bucket string

const (
	BucketFree     Bucket = "free"
	BucketReferral Bucket = "referral"
	BucketPlan     Bucket = "plan"
	BucketTopUp    Bucket = "topUp"
)

// BucketOrder 固定扣减顺序
var BucketOrder = []Bucket{BucketFree, BucketReferral, BucketPlan, BucketTopUp}

// BucketBalance 单个额度桶
type BucketBalance struct {
	Used      int64 `json:"used"`
	Remaining int64 `json:"remaining"`
}

// Account 用户额度账户，四个桶相互独立
type Account struct {
	UserID      string        `json:"user_id"`
	Free        BucketBalance `json:"free"`
	Referral    BucketBalance `json:"referral"`
	Plan        BucketBalance `json:"plan"`
	TopUp       BucketBalance `json:"topUp"`
	LastUpdated time.Time     `json:"last_updated"`
}

// Bucket 按名称取桶
func (a *Account) Bucket(b Bucket) BucketBalance {
	switch b {
	case BucketFree:
		return a.Free
	case BucketReferral:
		return a.Referral
	case BucketPlan:
		return a.Plan
	case BucketTopUp:
		return a.TopUp
	}
	return BucketBalance{}
}

// TotalRemaining 四个桶剩余之和
func (a *Account) TotalRemaining() int64 {
	return a.Free.Remaining + a.Referral.Remaining + a.Plan.Remaining + a.TopUp.Remaining
}

// Takes 每个桶本次扣减的数量
type Takes struct {
	Free     int64 `json:"free"`
	Referral int64 `json:"referral"`
	Plan     int64 `json:"plan"`
	TopUp    int64 `json:"topUp"`
}

// Get 按名称取扣减量
func (t Takes) Get(b Bucket) int64 {
	switch b {
	case BucketFree:
		return t.Free
	case BucketReferral:
		return t.Referral
	case BucketPlan:
		return t.Plan
	case BucketTopUp:
		return t.TopUp
	}
	return 0
}

func (t *Takes) set(b Bucket, v int64) {
	switch b {
	case BucketFree:
		t.Free = v
	case BucketReferral:
		t.Referral = v
	case BucketPlan:
		t.Plan = v
	case BucketTopUp:
		t.TopUp = v
	}
}

// Total 扣减总量
func (t Takes) Total() int64 {
	return t.Free + t.Referral + t.Plan + t.TopUp
}

// Split 按 free→referral→plan→topUp 的固定优先级拆分扣减量。
// 返回各桶扣减量和未能覆盖的剩余量（大于 0 表示余额不足）。
func Split(acc *Account, credits int64) (Takes, int64) {
	var takes Takes
	need := credits
	for _, b := range BucketOrder {
		if need <= 0 {
			break
		}
		take := min(need, acc.Bucket(b).Remaining)
		if take <= 0 {
			continue
		}
		takes.set(b, take)
		need -= take
	}
	return takes, need
}

// Remaining 各桶剩余额度快照
type Remaining struct {
	Free     int64 `json:"free"`
	Referral int64 `json:"referral"`
	Plan     int64 `json:"plan"`
	TopUp    int64 `json:"topUp"`
}

// RemainingOf 取账户剩余快照
func RemainingOf(acc *Account) Remaining {
	return Remaining{
		Free:     acc.Free.Remaining,
		Referral: acc.Referral.Remaining,
		Plan:     acc.Plan.Remaining,
		TopUp:    acc.TopUp.Remaining,
	}
}

// LogEvent 流水事件类型
type LogEvent string

const (
	EventDeduct         LogEvent = "deduct"
	EventCreditTransfer LogEvent = "credit_transfer"
	EventPlatformFee    LogEvent = "platform_fee"
)

// SourceFee platform_fee 流水的来源标记
const SourceFee = "fee"

// LogEntry 不可变的额度流水
type LogEntry struct {
	LogID         string         `json:"log_id"`
	UserID        string         `json:"user_id"`
	Event         LogEvent       `json:"event"`
	Source        string         `json:"source"`
	CreditsDelta  int64          `json:"credits_delta"`
	CreditsBefore *int64         `json:"credits_before,omitempty"`
	CreditsAfter  *int64         `json:"credits_after,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
}

// DeductResult 扣减结果
type DeductResult struct {
	Takes     Takes     `json:"takes"`
	Remaining Remaining `json:"remaining"`
}

// ModelPricing 模型计费，单位为每 1000 token 消耗的额度
type ModelPricing struct {
	ID                         string          `json:"id"`
	Label                      string          `json:"label"`
	Provider                   string          `json:"provider"`
	InputCreditsPer1000Tokens  decimal.Decimal `json:"input_credits_per_1000_tokens"`
	OutputCreditsPer1000Tokens decimal.Decimal `json:"output_credits_per_1000_tokens"`
}

// CreditPreview 计费预估，不产生任何写入
type CreditPreview struct {
	ModelID           string `json:"model_id"`
	InputTokens       int    `json:"input_tokens"`
	OutputTokens      int    `json:"output_tokens"`
	ToolTokens        int    `json:"tool_tokens"`
	InputCreditsUsed  int64  `json:"input_credits_used"`
	OutputCreditsUsed int64  `json:"output_credits_used"`
	ToolCreditsUsed   int64  `json:"tool_credits_used"`
	TotalCredits      int64  `json:"total_credits"`
}

// TransferResult 付费智能体转账结果
type TransferResult struct {
	Skipped     bool            `json:"skipped"`
	Reason      string          `json:"reason,omitempty"`
	AgentID     string          `json:"agent_id"`
	PayerID     string          `json:"payer_id"`
	RecipientID string          `json:"recipient_id"`
	Price       int64           `json:"price"`
	FeeRate     decimal.Decimal `json:"fee_rate"`
	Fee         int64           `json:"fee"`
	Net         int64           `json:"net"`
	PayerTakes  Takes           `json:"payer_takes"`
}

// AgentPricing 转账所需的智能体信息
type AgentPricing struct {
	AgentID string
	OwnerID string
	Price   int64
}
