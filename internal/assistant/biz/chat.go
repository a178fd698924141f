package biz

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/lk2023060901/agentchat-backend/internal/assistant/types"
)

const (
	// DefaultHistoryMessages 每次补全最多加载的历史消息条数，token 预算由 Trim 再控制
	DefaultHistoryMessages = 50
	// DefaultMemoryLimit 每次补全最多加载的记忆条数
	DefaultMemoryLimit = 20
)

// StoredMessage 已保存的对话消息
type StoredMessage struct {
	ID        string
	ChatID    string
	UserID    string
	AgentID   string
	MsgID     string
	Role      types.Role
	Content   types.Content
	Model     string
	Credits   int64
	CreatedAt time.Time
}

// ChatRepo 对话消息存储
type ChatRepo interface {
	Append(ctx context.Context, msgs ...*StoredMessage) error
	// ListRecent 返回最近 limit 条，按时间正序
	ListRecent(ctx context.Context, chatID, userID string, limit int) ([]*StoredMessage, error)
}

// MemoryRepo 用户记忆存储
type MemoryRepo interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]string, error)
}

// Turn 一轮对话：用户输入和最终回答
type Turn struct {
	ChatID  string
	UserID  string
	AgentID string
	MsgID   string
	Model   string
	User    types.Message
	Answer  string
	Credits int64
}

// ChatUseCase 对话历史和记忆
type ChatUseCase struct {
	chats    ChatRepo
	memories MemoryRepo
	now      func() time.Time
}

// NewChatUseCase 创建 ChatUseCase
func NewChatUseCase(chats ChatRepo, memories MemoryRepo) *ChatUseCase {
	return &ChatUseCase{chats: chats, memories: memories, now: time.Now}
}

// LoadContext 加载对话历史和用户记忆
func (uc *ChatUseCase) LoadContext(ctx context.Context, userID, chatID string) ([]types.Message, []string, error) {
	var history []types.Message
	if chatID != "" {
		stored, err := uc.chats.ListRecent(ctx, chatID, userID, DefaultHistoryMessages)
		if err != nil {
			return nil, nil, fmt.Errorf("load chat history: %w", err)
		}
		history = make([]types.Message, 0, len(stored))
		for _, m := range stored {
			history = append(history, types.Message{Role: m.Role, Content: m.Content})
		}
	}

	memories, err := uc.memories.ListByUser(ctx, userID, DefaultMemoryLimit)
	if err != nil {
		return nil, nil, fmt.Errorf("load memories: %w", err)
	}
	return history, memories, nil
}

// SaveTurn 保存用户消息和回答；回答为空时只保存用户消息
func (uc *ChatUseCase) SaveTurn(ctx context.Context, turn *Turn) error {
	if turn.ChatID == "" {
		return nil
	}

	now := uc.now().UTC()
	msgs := []*StoredMessage{{
		ID:        uuid.NewString(),
		ChatID:    turn.ChatID,
		UserID:    turn.UserID,
		AgentID:   turn.AgentID,
		MsgID:     turn.MsgID,
		Role:      types.RoleUser,
		Content:   turn.User.Content,
		Model:     turn.Model,
		CreatedAt: now,
	}}
	if turn.Answer != "" {
		msgs = append(msgs, &StoredMessage{
			ID:        uuid.NewString(),
			ChatID:    turn.ChatID,
			UserID:    turn.UserID,
			AgentID:   turn.AgentID,
			MsgID:     turn.MsgID,
			Role:      types.RoleAssistant,
			Content:   types.StringContent(turn.Answer),
			Model:     turn.Model,
			Credits:   turn.Credits,
			CreatedAt: now.Add(time.Millisecond),
		})
	}

	if err := uc.chats.Append(ctx, msgs...); err != nil {
		return fmt.Errorf("save chat turn: %w", err)
	}
	return nil
}
