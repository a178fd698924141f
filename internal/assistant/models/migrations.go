package models

// AllModels 对话域需要迁移的表
func AllModels() []any {
	return []any{
		&ChatMessage{},
		&UserMemory{},
	}
}
