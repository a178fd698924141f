package websearch

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lk2023060901/agentchat-backend/internal/pkg/logger"
	"github.com/lk2023060901/agentchat-backend/internal/websearch/crawler"
	"github.com/lk2023060901/agentchat-backend/internal/websearch/provider"
	"github.com/lk2023060901/agentchat-backend/internal/websearch/types"
)

// Config web_search 工具配置
type Config struct {
	Provider types.ProviderConfig `mapstructure:"provider"`
	Crawler  crawler.Config       `mapstructure:"crawler"`
	// FetchContent 为搜索结果补抓正文，取前 FetchTop 条
	FetchContent bool `mapstructure:"fetch_content"`
	FetchTop     int  `mapstructure:"fetch_top"`
}

// Service 组合搜索服务和网页抓取
type Service struct {
	provider provider.Provider
	crawler  *crawler.Crawler
	cfg      Config
}

// NewService 创建 Service。未配置搜索服务时只支持直接抓取 URL
func NewService(cfg Config, factory *provider.Factory) (*Service, error) {
	var p provider.Provider
	if cfg.Provider.ID != "" {
		var err error
		if p, err = factory.Create(&cfg.Provider); err != nil {
			return nil, fmt.Errorf("create search provider %s: %w", cfg.Provider.ID, err)
		}
	}

	c, err := crawler.New(cfg.Crawler)
	if err != nil {
		return nil, fmt.Errorf("create crawler: %w", err)
	}
	return &Service{provider: p, crawler: c, cfg: cfg}, nil
}

// Close 释放抓取资源
func (s *Service) Close() {
	s.crawler.Close()
}

// NewServiceWith 使用已有的 provider，provider 可以为 nil
func NewServiceWith(p provider.Provider, c *crawler.Crawler, cfg Config) *Service {
	return &Service{provider: p, crawler: c, cfg: cfg}
}

// Search 执行搜索，可选为前几条结果补抓正文
func (s *Service) Search(ctx context.Context, query string) ([]*types.SearchResult, error) {
	if s.provider == nil {
		return nil, types.ErrNotConfigured
	}

	resp, err := s.provider.Search(ctx, &types.SearchRequest{Query: query})
	if err != nil {
		return nil, err
	}
	logger.FromContext(ctx).Debug("web search done",
		zap.String("provider", string(resp.Provider)),
		zap.Int("results", len(resp.Results)),
		zap.Int64("took_ms", resp.Took))

	if !s.cfg.FetchContent {
		return resp.Results, nil
	}

	var urls []string
	var pending []*types.SearchResult
	for _, r := range resp.Results {
		if r.Content == "" && len(urls) < max(s.cfg.FetchTop, 1) {
			urls = append(urls, r.URL)
			pending = append(pending, r)
		}
	}
	for i, page := range s.crawler.Crawl(ctx, urls) {
		pending[i].Content = page.Content
	}
	return resp.Results, nil
}

// Fetch 直接抓取指定 URL
func (s *Service) Fetch(ctx context.Context, urls []string) []*types.SearchResult {
	return s.crawler.Crawl(ctx, urls)
}

// Run 处理一次 web_search 调用：query 走搜索，urls 走抓取，两者至少一个
func (s *Service) Run(ctx context.Context, query string, urls []string) ([]*types.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" && len(urls) == 0 {
		return nil, types.ErrEmptyQuery
	}

	var results []*types.SearchResult
	if query != "" {
		found, err := s.Search(ctx, query)
		if err != nil {
			return nil, err
		}
		results = append(results, found...)
	}
	if len(urls) > 0 {
		results = append(results, s.Fetch(ctx, urls)...)
	}
	return results, nil
}

// FormatResults 渲染成给模型看的文本
func FormatResults(results []*types.SearchResult) string {
	if len(results) == 0 {
		return "No results found."
	}

	var b strings.Builder
	for i, r := range results {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "[%d] %s\nURL: %s", i+1, r.Title, r.URL)
		if r.Snippet != "" {
			fmt.Fprintf(&b, "\n%s", r.Snippet)
		}
		if r.Content != "" && r.Content != r.Snippet {
			fmt.Fprintf(&b, "\nContent:\n%s", r.Content)
		}
	}
	return b.String()
}
