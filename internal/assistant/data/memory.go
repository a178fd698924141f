package data

import (
	"context"
	"sync"
	"time"

	"github.com/lk2023060901/agentchat-backend/internal/assistant/biz"
)

// MemoryStore 进程内的对话和记忆存储，用于测试和本地开发
type MemoryStore struct {
	mu       sync.RWMutex
	messages []*biz.StoredMessage
	memories map[string][]memoryEntry
}

type memoryEntry struct {
	content   string
	createdAt time.Time
}

// NewMemoryStore 创建空存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{memories: make(map[string][]memoryEntry)}
}

var (
	_ biz.ChatRepo   = (*MemoryStore)(nil)
	_ biz.MemoryRepo = (*MemoryStore)(nil)
)

// Append 保存消息副本
func (s *MemoryStore) Append(ctx context.Context, msgs ...*biz.StoredMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		cp := *m
		s.messages = append(s.messages, &cp)
	}
	return nil
}

// ListRecent 最近 limit 条，按写入顺序
func (s *MemoryStore) ListRecent(ctx context.Context, chatID, userID string, limit int) ([]*biz.StoredMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*biz.StoredMessage
	for _, m := range s.messages {
		if m.ChatID == chatID && m.UserID == userID {
			cp := *m
			out = append(out, &cp)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// AddMemory 添加一条记忆
func (s *MemoryStore) AddMemory(userID, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.memories[userID] = append(s.memories[userID], memoryEntry{content: content, createdAt: time.Now()})
}

// ListByUser 最近 limit 条记忆，按时间正序
func (s *MemoryStore) ListByUser(ctx context.Context, userID string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := s.memories[userID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.content
	}
	return out, nil
}
