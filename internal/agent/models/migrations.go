package models

// AllModels 智能体域需要迁移的表
func AllModels() []any {
	return []any{
		&Agent{},
		&UserPlan{},
	}
}
