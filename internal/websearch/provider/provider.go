package provider

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tidwall/gjson"

	whttp "github.com/lk2023060901/agentchat-backend/internal/websearch/http"
	"github.com/lk2023060901/agentchat-backend/internal/websearch/types"
)

const (
	defaultTimeout    = 30 * time.Second
	defaultMaxRetries = 3
	defaultMaxResults = 5
	maxErrorBody      = 512
)

// Provider defines the interface for search providers
type Provider interface {
	// Search executes a search query
	Search(ctx context.Context, req *types.SearchRequest) (*types.SearchResponse, error)

	// GetID returns the provider ID
	GetID() types.ProviderID

	// GetName returns the provider name
	GetName() string

	// Validate validates the provider configuration
	Validate() error
}

// RequestBuilder 每次重试都重新构造请求，避免 body 被读完
type RequestBuilder func(ctx context.Context, apiKey string) (*http.Request, error)

// BaseProvider provides common functionality for all providers
type BaseProvider struct {
	config     *types.ProviderConfig
	httpClient *http.Client

	mu       sync.Mutex
	apiKeys  []string
	keyIndex int

	// initialInterval 第一次重试前的等待时间，测试里调小
	initialInterval time.Duration
}

// NewBaseProvider creates a new base provider
func NewBaseProvider(config *types.ProviderConfig) *BaseProvider {
	timeout := time.Duration(config.Timeout) * time.Second
	if timeout == 0 {
		timeout = defaultTimeout
	}

	var apiKeys []string
	for _, k := range strings.Split(config.APIKey, ",") {
		if k = strings.TrimSpace(k); k != "" {
			apiKeys = append(apiKeys, k)
		}
	}

	return &BaseProvider{
		config:          config,
		httpClient:      whttp.NewHTTPClient(timeout),
		apiKeys:         apiKeys,
		initialInterval: 500 * time.Millisecond,
	}
}

// GetID returns the provider ID
func (b *BaseProvider) GetID() types.ProviderID {
	return b.config.ID
}

// GetName returns the provider name
func (b *BaseProvider) GetName() string {
	if b.config.Name == "" {
		return string(b.config.ID)
	}
	return b.config.Name
}

// Validate validates the provider configuration
func (b *BaseProvider) Validate() error {
	return b.config.Validate()
}

// GetAPIKey returns the current API key and advances the rotation
func (b *BaseProvider) GetAPIKey() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.apiKeys) == 0 {
		return ""
	}
	key := b.apiKeys[b.keyIndex]
	b.keyIndex = (b.keyIndex + 1) % len(b.apiKeys)
	return key
}

// MaxResults 请求未指定时使用配置值
func (b *BaseProvider) MaxResults(req *types.SearchRequest) int {
	if req.MaxResults > 0 {
		return req.MaxResults
	}
	if b.config.MaxResults > 0 {
		return b.config.MaxResults
	}
	return defaultMaxResults
}

// Endpoint 拼接 API 地址
func (b *BaseProvider) Endpoint(path string) string {
	return strings.TrimRight(b.config.APIHost, "/") + path
}

// SetDefaultHeaders sets the headers every provider request carries
func (b *BaseProvider) SetDefaultHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", whttp.UserAgent)
}

// DoRequest 执行请求并返回响应体。网络错误、429 和 5xx 按指数退避重试，
// 其余非 2xx 直接返回 ProviderError
func (b *BaseProvider) DoRequest(ctx context.Context, build RequestBuilder) ([]byte, error) {
	maxRetries := b.config.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	expo := backoff.NewExponentialBackOff()
	expo.InitialInterval = b.initialInterval
	policy := backoff.WithContext(backoff.WithMaxRetries(expo, uint64(maxRetries-1)), ctx)

	var body []byte
	operation := func() error {
		req, err := build(ctx, b.GetAPIKey())
		if err != nil {
			return backoff.Permanent(fmt.Errorf("failed to create request: %w", err))
		}

		resp, err := b.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			return &types.ProviderError{Provider: b.GetID(), Message: "request failed", Err: err}
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return &types.ProviderError{Provider: b.GetID(), StatusCode: resp.StatusCode, Message: "read body failed", Err: err}
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			perr := &types.ProviderError{
				Provider:   b.GetID(),
				StatusCode: resp.StatusCode,
				Message:    errorMessage(data, resp.Status),
			}
			if perr.Retryable() {
				return perr
			}
			return backoff.Permanent(perr)
		}

		body = data
		return nil
	}

	if err := backoff.Retry(operation, policy); err != nil {
		return nil, err
	}
	return body, nil
}

// errorMessage 从常见的错误结构中取出可读信息
func errorMessage(body []byte, status string) string {
	if gjson.ValidBytes(body) {
		for _, path := range []string{"error.message", "detail", "message", "error"} {
			if v := gjson.GetBytes(body, path); v.Exists() && v.Type == gjson.String && v.Str != "" {
				return v.Str
			}
		}
	}
	if s := strings.TrimSpace(string(body)); s != "" {
		if len(s) > maxErrorBody {
			s = s[:maxErrorBody]
		}
		return s
	}
	return status
}
