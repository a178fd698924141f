package provider

import (
	"fmt"
	"maps"
	"slices"

	"github.com/lk2023060901/agentchat-backend/internal/websearch/types"
)

// Constructor 根据配置创建搜索服务
type Constructor func(*types.ProviderConfig) (Provider, error)

// Factory 按 ProviderID 选择构造函数。
// 只在启动时注册，注册完成后可并发调用 Create
type Factory struct {
	constructors map[types.ProviderID]Constructor
}

// NewFactory 创建带内置 tavily、searxng、exa 的 Factory
func NewFactory() *Factory {
	return &Factory{constructors: map[types.ProviderID]Constructor{
		types.ProviderTavily:  NewTavilyProvider,
		types.ProviderSearXNG: NewSearXNGProvider,
		types.ProviderExa:     NewExaProvider,
	}}
}

// Register 注册或覆盖构造函数
func (f *Factory) Register(id types.ProviderID, constructor Constructor) {
	f.constructors[id] = constructor
}

// Create 校验配置并创建搜索服务
func (f *Factory) Create(config *types.ProviderConfig) (Provider, error) {
	constructor, ok := f.constructors[config.ID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", types.ErrProviderNotFound, config.ID)
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", config.ID, err)
	}
	return constructor(config)
}

// ListProviders 已注册的 ProviderID，按字母序
func (f *Factory) ListProviders() []types.ProviderID {
	return slices.Sorted(maps.Keys(f.constructors))
}
