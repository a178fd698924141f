package types

import "time"

// Status 智能体发布状态
type Status string

const (
	StatusDraft     Status = "draft"
	StatusPublished Status = "published"
)

// Agent 对话使用的智能体：人设提示词、价格和所有者
type Agent struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Name      string    `json:"name"`
	Emoji     string    `json:"emoji"`
	Persona   string    `json:"persona"` // system prompt
	Price     int64     `json:"price"`   // 每次调用转给所有者的 credits
	Status    Status    `json:"status"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsDraft 草稿只允许所有者使用
func (a *Agent) IsDraft() bool {
	return a.Status == StatusDraft
}

// Plan 用户订阅计划
type Plan struct {
	UserID    string    `json:"user_id"`
	Plan      string    `json:"plan"` // free | plus | pro | pro-plus
	UpdatedAt time.Time `json:"updated_at"`
}
