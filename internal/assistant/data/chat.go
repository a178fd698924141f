package data

import (
	"context"
	"fmt"
	"slices"

	"github.com/lk2023060901/agentchat-backend/internal/assistant/biz"
	"github.com/lk2023060901/agentchat-backend/internal/assistant/models"
	"github.com/lk2023060901/agentchat-backend/internal/assistant/types"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/database"
)

// ChatRepo implements the chat message repository using GORM
type ChatRepo struct {
	db *database.DB
}

// NewChatRepo creates a new chat repository
func NewChatRepo(db *database.DB) *ChatRepo {
	return &ChatRepo{db: db}
}

var (
	_ biz.ChatRepo   = (*ChatRepo)(nil)
	_ biz.MemoryRepo = (*MemoryRepo)(nil)
)

// Append 批量写入消息
func (r *ChatRepo) Append(ctx context.Context, msgs ...*biz.StoredMessage) error {
	if len(msgs) == 0 {
		return nil
	}
	rows := make([]*models.ChatMessage, 0, len(msgs))
	for _, m := range msgs {
		rows = append(rows, toModel(m))
	}
	if err := r.db.Conn(ctx).Create(&rows).Error; err != nil {
		return fmt.Errorf("failed to create chat messages: %w", err)
	}
	return nil
}

// ListRecent 取最近 limit 条后按时间正序返回
func (r *ChatRepo) ListRecent(ctx context.Context, chatID, userID string, limit int) ([]*biz.StoredMessage, error) {
	var rows []models.ChatMessage
	if err := r.db.Conn(ctx).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}

	slices.Reverse(rows)
	out := make([]*biz.StoredMessage, 0, len(rows))
	for i := range rows {
		out = append(out, toDomain(&rows[i]))
	}
	return out, nil
}

func toModel(m *biz.StoredMessage) *models.ChatMessage {
	return &models.ChatMessage{
		ID:        m.ID,
		ChatID:    m.ChatID,
		UserID:    m.UserID,
		AgentID:   m.AgentID,
		MsgID:     m.MsgID,
		Role:      string(m.Role),
		Content:   models.MessageContent{Content: m.Content},
		Model:     m.Model,
		Credits:   m.Credits,
		CreatedAt: m.CreatedAt,
	}
}

func toDomain(m *models.ChatMessage) *biz.StoredMessage {
	return &biz.StoredMessage{
		ID:        m.ID,
		ChatID:    m.ChatID,
		UserID:    m.UserID,
		AgentID:   m.AgentID,
		MsgID:     m.MsgID,
		Role:      types.Role(m.Role),
		Content:   m.Content.Content,
		Model:     m.Model,
		Credits:   m.Credits,
		CreatedAt: m.CreatedAt,
	}
}

// MemoryRepo implements the user memory repository using GORM
type MemoryRepo struct {
	db *database.DB
}

// NewMemoryRepo creates a new memory repository
func NewMemoryRepo(db *database.DB) *MemoryRepo {
	return &MemoryRepo{db: db}
}

// ListByUser 按时间正序返回最近的记忆
func (r *MemoryRepo) ListByUser(ctx context.Context, userID string, limit int) ([]string, error) {
	var rows []models.UserMemory
	if err := r.db.Conn(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list memories: %w", err)
	}

	out := make([]string, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		out = append(out, rows[i].Content)
	}
	return out, nil
}
