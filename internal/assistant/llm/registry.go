package llm

import (
	"fmt"
	"sort"
	"sync"

	credittypes "github.com/lk2023060901/agentchat-backend/internal/credit/types"
	"github.com/shopspring/decimal"
)

// 适配器类型
const (
	AdapterOpenAI    = "openai"
	AdapterAnthropic = "anthropic"
)

// ProviderConfig 服务商连接配置
type ProviderConfig struct {
	Name      string            `mapstructure:"name"`
	Type      string            `mapstructure:"type"` // openai | anthropic
	BaseURL   string            `mapstructure:"base_url"`
	APIKey    string            `mapstructure:"api_key"`
	Headers   map[string]string `mapstructure:"headers"`
	MaxTokens int               `mapstructure:"max_tokens"`
}

// ModelConfig 对外暴露的模型及其计费
type ModelConfig struct {
	ID                         string  `mapstructure:"id"`
	Label                      string  `mapstructure:"label"`
	Provider                   string  `mapstructure:"provider"`
	UpstreamModel              string  `mapstructure:"upstream_model"`
	InputCreditsPer1000Tokens  float64 `mapstructure:"input_credits_per_1000_tokens"`
	OutputCreditsPer1000Tokens float64 `mapstructure:"output_credits_per_1000_tokens"`
}

// Model 注册表中的一个模型
type Model struct {
	ID       string
	Upstream string
	Provider string
	Adapter  ProviderAdapter
	Pricing  credittypes.ModelPricing
}

// Registry 模型 id → 适配器与计费
type Registry struct {
	mu     sync.RWMutex
	models map[string]*Model
}

// NewRegistry 按配置构建注册表
func NewRegistry(providers []ProviderConfig, models []ModelConfig) (*Registry, error) {
	adapters := make(map[string]ProviderAdapter, len(providers))
	for _, p := range providers {
		adapter, err := NewAdapter(p)
		if err != nil {
			return nil, err
		}
		adapters[p.Name] = adapter
	}

	r := &Registry{models: make(map[string]*Model, len(models))}
	for _, m := range models {
		adapter, ok := adapters[m.Provider]
		if !ok {
			return nil, fmt.Errorf("%w: model %s references provider %q", ErrProviderNotConfigured, m.ID, m.Provider)
		}
		upstream := m.UpstreamModel
		if upstream == "" {
			upstream = m.ID
		}
		r.Register(&Model{
			ID:       m.ID,
			Upstream: upstream,
			Provider: m.Provider,
			Adapter:  adapter,
			Pricing: credittypes.ModelPricing{
				ID:                         m.ID,
				Label:                      m.Label,
				Provider:                   m.Provider,
				InputCreditsPer1000Tokens:  decimal.NewFromFloat(m.InputCreditsPer1000Tokens),
				OutputCreditsPer1000Tokens: decimal.NewFromFloat(m.OutputCreditsPer1000Tokens),
			},
		})
	}
	return r, nil
}

// NewAdapter 按类型创建适配器
func NewAdapter(cfg ProviderConfig) (ProviderAdapter, error) {
	switch cfg.Type {
	case AdapterOpenAI, "":
		return NewOpenAIAdapter(cfg), nil
	case AdapterAnthropic:
		return NewAnthropicAdapter(cfg), nil
	}
	return nil, fmt.Errorf("unsupported provider type %q for %s", cfg.Type, cfg.Name)
}

// Register 注册或覆盖模型
func (r *Registry) Register(m *Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m.Upstream == "" {
		m.Upstream = m.ID
	}
	r.models[m.ID] = m
}

// Resolve 取模型；未知模型返回 ErrModelNotFound
func (r *Registry) Resolve(id string) (*Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	return m, nil
}

// Lookup 计费目录查询
func (r *Registry) Lookup(id string) (credittypes.ModelPricing, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[id]
	if !ok {
		return credittypes.ModelPricing{}, false
	}
	return m.Pricing, true
}

// IDs 已注册的模型 id，升序
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.models))
	for id := range r.models {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
