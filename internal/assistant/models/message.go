package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lk2023060901/agentchat-backend/internal/assistant/types"
)

// ChatMessage 对话消息表，每个 chat_id 下按时间排序
type ChatMessage struct {
	ID        string         `gorm:"primaryKey;type:uuid"`
	ChatID    string         `gorm:"type:varchar(64);not null;index:idx_chat_messages_chat,priority:1"`
	UserID    string         `gorm:"type:varchar(64);not null;index"`
	AgentID   string         `gorm:"type:varchar(64)"`
	MsgID     string         `gorm:"type:varchar(64);index"`
	Role      string         `gorm:"type:varchar(20);not null"` // user | assistant
	Content   MessageContent `gorm:"type:jsonb;not null"`
	Model     string         `gorm:"type:varchar(100)"`
	Credits   int64          `gorm:"not null;default:0"`
	CreatedAt time.Time      `gorm:"not null;index:idx_chat_messages_chat,priority:2"`
}

// TableName specifies the table name
func (ChatMessage) TableName() string {
	return "chat_messages"
}

// MessageContent 以 jsonb 保存字符串或内容项数组
type MessageContent struct {
	types.Content
}

func (c *MessageContent) Scan(value any) error {
	var raw []byte
	switch v := value.(type) {
	case nil:
		c.Content = types.Content{}
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported jsonb type %T", value)
	}
	return json.Unmarshal(raw, &c.Content)
}

func (c MessageContent) Value() (driver.Value, error) {
	raw, err := json.Marshal(c.Content)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// UserMemory 用户记忆，渲染进系统提示词
type UserMemory struct {
	ID        string    `gorm:"primaryKey;type:uuid"`
	UserID    string    `gorm:"type:varchar(64);not null;index"`
	Content   string    `gorm:"type:text;not null"`
	CreatedAt time.Time `gorm:"not null"`
}

// TableName specifies the table name
func (UserMemory) TableName() string {
	return "user_memories"
}
