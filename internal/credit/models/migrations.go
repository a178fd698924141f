package models

// AllModels 额度域需要迁移的表
func AllModels() []any {
	return []any{
		&CreditAccount{},
		&CreditLog{},
	}
}
