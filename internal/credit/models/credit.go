package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// CreditAccount 额度账户表，四个桶展开为独立列，便于条件更新
type CreditAccount struct {
	UserID            string    `gorm:"primaryKey;type:varchar(64)"`
	FreeUsed          int64     `gorm:"not null;default:0"`
	FreeRemaining     int64     `gorm:"not null;default:0;check:free_remaining >= 0"`
	ReferralUsed      int64     `gorm:"not null;default:0"`
	ReferralRemaining int64     `gorm:"not null;default:0;check:referral_remaining >= 0"`
	PlanUsed          int64     `gorm:"not null;default:0"`
	PlanRemaining     int64     `gorm:"not null;default:0;check:plan_remaining >= 0"`
	TopUpUsed         int64     `gorm:"not null;default:0"`
	TopUpRemaining    int64     `gorm:"not null;default:0;check:top_up_remaining >= 0"`
	LastUpdated       time.Time `gorm:"not null"`
	CreatedAt         time.Time `gorm:"not null"`
}

func (CreditAccount) TableName() string {
	return "credit_accounts"
}

// CreditLog 额度流水表，只追加
type CreditLog struct {
	ID            string `gorm:"primaryKey;type:uuid"`
	UserID        string `gorm:"type:varchar(64);not null;index:idx_credit_logs_user_time,priority:1"`
	Event         string `gorm:"type:varchar(32);not null"`
	Source        string `gorm:"type:varchar(32);not null"`
	CreditsDelta  int64  `gorm:"not null"`
	CreditsBefore *int64
	CreditsAfter  *int64
	Metadata      JSONMap   `gorm:"type:jsonb;not null;default:'{}'"`
	CreatedAt     time.Time `gorm:"not null;index:idx_credit_logs_user_time,priority:2,sort:desc"`
}

func (CreditLog) TableName() string {
	return "credit_logs"
}

// JSONMap jsonb 列
type JSONMap map[string]any

func (m *JSONMap) Scan(value any) error {
	if value == nil {
		*m = JSONMap{}
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported jsonb type %T", value)
	}
	return json.Unmarshal(raw, m)
}

func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}
