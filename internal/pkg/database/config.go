package database

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Config PostgreSQL 连接配置
type Config struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"` // disable, require, verify-ca, verify-full
	Timezone string `mapstructure:"timezone"`

	// 连接池
	MaxIdleConns    int           `mapstructure:"maxidleconns"`
	MaxOpenConns    int           `mapstructure:"maxopenconns"`
	ConnMaxLifetime time.Duration `mapstructure:"connmaxlifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"connmaxidletime"`

	// GORM
	LogLevel      string        `mapstructure:"loglevel"` // silent, error, warn, info
	SlowThreshold time.Duration `mapstructure:"slowthreshold"`
	PrepareStmt   bool          `mapstructure:"preparestmt"`
	AutoMigrate   bool          `mapstructure:"automigrate"`
}

// DefaultConfig 本地开发默认值
func DefaultConfig() *Config {
	return &Config{
		Host:            "localhost",
		Port:            5432,
		User:            "postgres",
		Password:        "postgres",
		DBName:          "agentchat",
		SSLMode:         "disable",
		Timezone:        "UTC",
		MaxIdleConns:    10,
		MaxOpenConns:    50,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 10 * time.Minute,
		LogLevel:        "warn",
		SlowThreshold:   200 * time.Millisecond,
		PrepareStmt:     true,
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	switch {
	case c.Host == "":
		return errors.New("database host is required")
	case c.Port <= 0 || c.Port > 65535:
		return errors.New("database port must be between 1 and 65535")
	case c.User == "":
		return errors.New("database user is required")
	case c.DBName == "":
		return errors.New("database name is required")
	case !slices.Contains([]string{"disable", "require", "verify-ca", "verify-full"}, c.SSLMode):
		return errors.New("invalid SSL mode, must be one of: disable, require, verify-ca, verify-full")
	case !slices.Contains([]string{"silent", "error", "warn", "info"}, c.LogLevel):
		return errors.New("invalid log level, must be one of: silent, error, warn, info")
	case c.MaxIdleConns < 0 || c.MaxOpenConns < 0:
		return errors.New("connection pool sizes must be >= 0")
	case c.MaxOpenConns > 0 && c.MaxIdleConns > c.MaxOpenConns:
		return errors.New("max idle connections cannot exceed max open connections")
	}
	return nil
}

// DSN 生成 pgx DSN
func (c *Config) DSN() string {
	tz := c.Timezone
	if tz == "" {
		tz = "UTC"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode, tz)
}
