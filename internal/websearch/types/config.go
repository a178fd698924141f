package types

import "slices"

type ProviderID string

const (
	ProviderTavily  ProviderID = "tavily"
	ProviderSearXNG ProviderID = "searxng"
	ProviderExa     ProviderID = "exa"
)

// ProviderConfig 搜索服务配置
type ProviderConfig struct {
	ID   ProviderID `json:"id" mapstructure:"id"`
	Name string     `json:"name" mapstructure:"name"`

	APIHost string `json:"api_host" mapstructure:"api_host"`
	// APIKey 多个 key 用逗号分隔，轮流使用
	APIKey string `json:"api_key,omitempty" mapstructure:"api_key"`

	// SearXNG Basic Auth
	BasicAuthUsername string `json:"basic_auth_username,omitempty" mapstructure:"basic_auth_username"`
	BasicAuthPassword string `json:"basic_auth_password,omitempty" mapstructure:"basic_auth_password"`

	Timeout    int `json:"timeout,omitempty" mapstructure:"timeout"`         // seconds
	MaxRetries int `json:"max_retries,omitempty" mapstructure:"max_retries"` // default: 3
	MaxResults int `json:"max_results,omitempty" mapstructure:"max_results"` // default: 5
}

// Validate 校验配置
func (c *ProviderConfig) Validate() error {
	if c.ID == "" {
		return ErrInvalidProviderID
	}
	if c.APIHost == "" {
		return ErrInvalidAPIHost
	}

	if c.ID == ProviderSearXNG {
		if c.BasicAuthUsername != "" && c.BasicAuthPassword == "" {
			return ErrMissingBasicAuthPassword
		}
		return nil
	}
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// KnownProvider 是否为内置支持的搜索服务
func KnownProvider(id ProviderID) bool {
	return slices.Contains([]ProviderID{ProviderTavily, ProviderSearXNG, ProviderExa}, id)
}
