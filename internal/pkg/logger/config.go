package logger

import (
	"errors"
	"slices"
	"strings"
)

// Config 日志配置
type Config struct {
	Level            string     `mapstructure:"level"`            // debug, info, warn, error
	Format           string     `mapstructure:"format"`           // json, console
	Output           string     `mapstructure:"output"`           // console, file, both
	File             FileConfig `mapstructure:"file"`             // 文件输出配置
	EnableCaller     bool       `mapstructure:"enablecaller"`     // 输出调用位置
	EnableStacktrace bool       `mapstructure:"enablestacktrace"` // error 级别附带堆栈
}

// FileConfig 文件滚动配置
type FileConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"maxsize"`    // MB
	MaxAge     int    `mapstructure:"maxage"`     // 天
	MaxBackups int    `mapstructure:"maxbackups"` // 保留文件数
	Compress   bool   `mapstructure:"compress"`
}

var (
	validLevels  = []string{"debug", "info", "warn", "error", "dpanic", "panic", "fatal"}
	validFormats = []string{"json", "console"}
	validOutputs = []string{"console", "file", "both"}
)

// DefaultConfig 默认配置：JSON 输出到控制台
func DefaultConfig() *Config {
	return &Config{
		Level:            "info",
		Format:           "json",
		Output:           "console",
		EnableCaller:     true,
		EnableStacktrace: true,
		File: FileConfig{
			Filename:   "logs/agentchat.log",
			MaxSize:    100,
			MaxAge:     30,
			MaxBackups: 10,
			Compress:   true,
		},
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if !slices.Contains(validLevels, strings.ToLower(c.Level)) {
		return errors.New("invalid log level, must be one of: " + strings.Join(validLevels, ", "))
	}
	if !slices.Contains(validFormats, c.Format) {
		return errors.New("invalid log format, must be 'json' or 'console'")
	}
	if !slices.Contains(validOutputs, c.Output) {
		return errors.New("invalid log output, must be 'console', 'file' or 'both'")
	}
	if !c.writesFile() {
		return nil
	}

	switch {
	case c.File.Filename == "":
		return errors.New("log file filename is required when output is 'file' or 'both'")
	case c.File.MaxSize <= 0:
		return errors.New("log file maxsize must be greater than 0")
	case c.File.MaxAge <= 0:
		return errors.New("log file maxage must be greater than 0")
	case c.File.MaxBackups < 0:
		return errors.New("log file maxbackups must be greater than or equal to 0")
	}
	return nil
}

func (c *Config) writesFile() bool {
	return c.Output == "file" || c.Output == "both"
}

func (c *Config) writesConsole() bool {
	return c.Output == "console" || c.Output == "both"
}
