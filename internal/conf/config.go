package conf

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/lk2023060901/agentchat-backend/internal/assistant/llm"
	"github.com/lk2023060901/agentchat-backend/internal/assistant/tools"
	creditbiz "github.com/lk2023060901/agentchat-backend/internal/credit/biz"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/database"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/logger"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/redis"
	"github.com/lk2023060901/agentchat-backend/internal/websearch"
	"github.com/lk2023060901/agentchat-backend/internal/websearch/crawler"
)

// EnvPrefix 环境变量前缀，例如 AGENTCHAT_AUTH_JWT_SECRET
const EnvPrefix = "AGENTCHAT"

type Config struct {
	Server     ServerConfig         `mapstructure:"server"`
	Database   database.Config      `mapstructure:"database"`
	Redis      redis.Config         `mapstructure:"redis"`
	Log        logger.Config        `mapstructure:"log"`
	Auth       AuthConfig           `mapstructure:"auth"`
	Completion llm.Options          `mapstructure:"completion"`
	Providers  []llm.ProviderConfig `mapstructure:"providers"`
	Models     []llm.ModelConfig    `mapstructure:"models"`
	WebSearch  websearch.Config     `mapstructure:"websearch"`
	Tools      tools.Config         `mapstructure:"tools"`
	Credit     CreditConfig         `mapstructure:"credit"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"` // debug | release | test
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	// Heartbeat SSE 空闲时的心跳间隔，0 表示关闭
	Heartbeat time.Duration   `mapstructure:"heartbeat"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig /completion 的固定窗口限流，MaxRequests 为 0 时关闭
type RateLimitConfig struct {
	MaxRequests   int `mapstructure:"max_requests"`
	WindowSeconds int `mapstructure:"window_seconds"`
}

type AuthConfig struct {
	JWTSecret string `mapstructure:"jwt_secret"`
	JWTIssuer string `mapstructure:"jwt_issuer"`
}

// CreditConfig 额度相关配置
type CreditConfig struct {
	// DefaultFeeRate 未知订阅计划使用的平台费率，字符串形式避免浮点误差
	DefaultFeeRate string                `mapstructure:"default_fee_rate"`
	Retry          creditbiz.RetryPolicy `mapstructure:"retry"`
}

// FeeRate 解析默认费率，取值范围 [0, 1)
func (c CreditConfig) FeeRate() (decimal.Decimal, error) {
	rate, err := decimal.NewFromString(c.DefaultFeeRate)
	if err != nil {
		return decimal.Zero, fmt.Errorf("credit.default_fee_rate: %w", err)
	}
	if rate.IsNegative() || rate.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("credit.default_fee_rate must be in [0, 1), got %s", rate)
	}
	return rate, nil
}

// LoadConfig 读取配置文件，环境变量优先
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetConfigFile(path)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

// Validate 校验各段配置
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}
	if c.Auth.JWTSecret == "" {
		errs = append(errs, errors.New("auth.jwt_secret is required"))
	}
	if len(c.Models) == 0 {
		errs = append(errs, errors.New("at least one model is required"))
	}
	if err := c.Database.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Redis.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := c.Log.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.WebSearch.Provider.ID != "" {
		if err := c.WebSearch.Provider.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("websearch.provider: %w", err))
		}
	}
	if _, err := c.Credit.FeeRate(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.heartbeat", 15*time.Second)
	v.SetDefault("server.rate_limit.window_seconds", 60)

	db := database.DefaultConfig()
	v.SetDefault("database.host", db.Host)
	v.SetDefault("database.port", db.Port)
	v.SetDefault("database.user", db.User)
	v.SetDefault("database.dbname", db.DBName)
	v.SetDefault("database.sslmode", db.SSLMode)
	v.SetDefault("database.timezone", db.Timezone)
	v.SetDefault("database.maxidleconns", db.MaxIdleConns)
	v.SetDefault("database.maxopenconns", db.MaxOpenConns)
	v.SetDefault("database.connmaxlifetime", db.ConnMaxLifetime)
	v.SetDefault("database.connmaxidletime", db.ConnMaxIdleTime)
	v.SetDefault("database.loglevel", db.LogLevel)
	v.SetDefault("database.slowthreshold", db.SlowThreshold)
	v.SetDefault("database.preparestmt", db.PrepareStmt)

	rd := redis.DefaultConfig()
	v.SetDefault("redis.mode", string(rd.Mode))
	v.SetDefault("redis.addr", rd.Addr)
	v.SetDefault("redis.pool_size", rd.PoolSize)
	v.SetDefault("redis.min_idle_conns", rd.MinIdleConns)
	v.SetDefault("redis.dial_timeout", rd.DialTimeout)
	v.SetDefault("redis.read_timeout", rd.ReadTimeout)
	v.SetDefault("redis.write_timeout", rd.WriteTimeout)
	v.SetDefault("redis.max_retries", rd.MaxRetries)
	v.SetDefault("redis.key_prefix", rd.KeyPrefix)

	lg := logger.DefaultConfig()
	v.SetDefault("log.level", lg.Level)
	v.SetDefault("log.format", lg.Format)
	v.SetDefault("log.output", lg.Output)
	v.SetDefault("log.enablecaller", lg.EnableCaller)
	v.SetDefault("log.enablestacktrace", lg.EnableStacktrace)
	v.SetDefault("log.file.filename", lg.File.Filename)
	v.SetDefault("log.file.maxsize", lg.File.MaxSize)
	v.SetDefault("log.file.maxage", lg.File.MaxAge)
	v.SetDefault("log.file.maxbackups", lg.File.MaxBackups)
	v.SetDefault("log.file.compress", lg.File.Compress)

	v.SetDefault("auth.jwt_issuer", "agentchat-backend")

	opts := llm.DefaultOptions()
	v.SetDefault("completion.max_tool_depth", opts.MaxToolDepth)
	v.SetDefault("completion.history_limit_tokens", opts.HistoryLimitTokens)
	v.SetDefault("completion.frame_buffer", opts.FrameBuffer)
	v.SetDefault("completion.request_timeout", opts.RequestTimeout)
	v.SetDefault("completion.estimator", opts.Estimator)
	v.SetDefault("completion.encoding", opts.Encoding)

	cr := crawler.DefaultConfig()
	v.SetDefault("websearch.crawler.timeout", cr.Timeout)
	v.SetDefault("websearch.crawler.max_bytes", cr.MaxBytes)
	v.SetDefault("websearch.crawler.max_chars", cr.MaxChars)
	v.SetDefault("websearch.crawler.concurrency", cr.Concurrency)
	v.SetDefault("websearch.fetch_top", 3)

	tc := tools.DefaultConfig()
	v.SetDefault("tools.connect_timeout", tc.ConnectTimeout)
	v.SetDefault("tools.call_timeout", tc.CallTimeout)

	retry := creditbiz.DefaultRetryPolicy()
	v.SetDefault("credit.default_fee_rate", "0.15")
	v.SetDefault("credit.retry.max_retries", retry.MaxRetries)
	v.SetDefault("credit.retry.initial_interval", retry.InitialInterval)
	v.SetDefault("credit.retry.max_interval", retry.MaxInterval)
}
