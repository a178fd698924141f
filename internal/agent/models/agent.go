package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"gorm.io/gorm"
)

// Agent agents 表
type Agent struct {
	ID        string         `gorm:"type:uuid;primarykey"`
	OwnerID   string         `gorm:"type:varchar(64);not null;index:idx_agents_owner_id,where:deleted_at IS NULL"`
	Name      string         `gorm:"size:255;not null"`
	Emoji     string         `gorm:"size:10;default:'🤖'"`
	Persona   string         `gorm:"type:text;not null"`
	Price     int64          `gorm:"not null;default:0;check:price >= 0"`
	Status    string         `gorm:"size:20;not null;default:'draft';index"`
	Tags      StringArray    `gorm:"type:jsonb;not null;default:'[]'"`
	CreatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt time.Time      `gorm:"not null;default:CURRENT_TIMESTAMP"`
	DeletedAt gorm.DeletedAt `gorm:"index:idx_agents_deleted_at"`
}

func (Agent) TableName() string {
	return "agents"
}

// UserPlan user_plans 表，每个用户一行
type UserPlan struct {
	UserID    string    `gorm:"type:varchar(64);primarykey"`
	Plan      string    `gorm:"size:32;not null;default:'free'"`
	UpdatedAt time.Time `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

func (UserPlan) TableName() string {
	return "user_plans"
}

// StringArray 以 JSONB 存储的字符串数组
type StringArray []string

// Scan implements sql.Scanner interface
func (s *StringArray) Scan(value any) error {
	if value == nil {
		*s = []string{}
		return nil
	}
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, s)
	case string:
		return json.Unmarshal([]byte(v), s)
	}
	return nil
}

// Value implements driver.Valuer interface
func (s StringArray) Value() (driver.Value, error) {
	if s == nil {
		return json.Marshal([]string{})
	}
	return json.Marshal(s)
}
