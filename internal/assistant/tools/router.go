package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lk2023060901/agentchat-backend/internal/assistant/llm"
	"github.com/lk2023060901/agentchat-backend/internal/assistant/tools/mcp"
	"github.com/lk2023060901/agentchat-backend/internal/assistant/types"
	apperrors "github.com/lk2023060901/agentchat-backend/internal/pkg/errors"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/logger"
)

// Config 工具服务配置
type Config struct {
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	CallTimeout    time.Duration `mapstructure:"call_timeout"`
	// Servers 对所有请求生效的工具服务，和请求里的 mcp_server 合并
	Servers []types.ToolServerConfig `mapstructure:"servers"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		ConnectTimeout: 10 * time.Second,
		CallTimeout:    60 * time.Second,
	}
}

// RemoteClient 已连接的远程工具服务
type RemoteClient interface {
	Name() string
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, arguments json.RawMessage) (string, error)
	Close() error
}

// DialFunc 连接远程工具服务
type DialFunc func(ctx context.Context, server types.ToolServerConfig) (RemoteClient, error)

// Connector 为每次补全请求建立工具会话
type Connector struct {
	searcher Searcher
	cfg      Config
	dial     DialFunc
}

// NewConnector 创建 Connector；searcher 为 nil 时不提供 web_search
func NewConnector(searcher Searcher, cfg Config, client *http.Client) *Connector {
	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	return &Connector{
		searcher: searcher,
		cfg:      cfg,
		dial: func(ctx context.Context, s types.ToolServerConfig) (RemoteClient, error) {
			conn, err := mcp.Dial(ctx, mcp.Options{
				Name:       serverName(s),
				URL:        s.URL,
				Transport:  s.Transport,
				AuthToken:  s.AuthToken,
				Headers:    s.Headers,
				HTTPClient: client,
			})
			if err != nil {
				return nil, err
			}
			return conn, nil
		},
	}
}

// WithDialer 替换连接方式
func (c *Connector) WithDialer(dial DialFunc) *Connector {
	c.dial = dial
	return c
}

type connected struct {
	client RemoteClient
	tools  []mcp.Tool
}

// Connect 并发连接所有工具服务。单个服务失败只记日志并跳过
func (c *Connector) Connect(ctx context.Context, cfg *types.CompletionConfig) (llm.ToolSession, error) {
	log := logger.FromContext(ctx)

	servers := make([]types.ToolServerConfig, 0, len(c.cfg.Servers)+len(cfg.ToolServers))
	servers = append(servers, c.cfg.Servers...)
	servers = append(servers, cfg.ToolServers...)

	conns := make([]*connected, len(servers))
	g, gctx := errgroup.WithContext(ctx)
	for i, server := range servers {
		g.Go(func() error {
			name := serverName(server)
			dialCtx, cancel := context.WithTimeout(gctx, c.cfg.ConnectTimeout)
			defer cancel()

			client, err := c.dial(dialCtx, server)
			if err != nil {
				log.Warn("工具服务器连接失败，已降级跳过", zap.String("server", name), zap.Error(err))
				return nil
			}
			tools, err := client.ListTools(dialCtx)
			if err != nil {
				log.Warn("工具服务器获取工具列表失败，已降级跳过", zap.String("server", name), zap.Error(err))
				_ = client.Close()
				return nil
			}
			conns[i] = &connected{client: client, tools: tools}
			return nil
		})
	}
	_ = g.Wait()

	s := &Session{
		byName:      make(map[string][]RemoteClient),
		callTimeout: c.cfg.CallTimeout,
	}
	if cfg.WebSearchEnabled() && c.searcher != nil {
		s.searcher = c.searcher
		s.tools = append(s.tools, WebSearchTool())
	}
	for _, conn := range conns {
		if conn == nil {
			continue
		}
		s.clients = append(s.clients, conn.client)
		for _, t := range conn.tools {
			if t.Name == "" || (t.Name == types.WebSearchToolName && s.searcher != nil) {
				continue
			}
			if _, seen := s.byName[t.Name]; !seen {
				s.tools = append(s.tools, types.NewFunctionTool(t.Name, t.Description, t.InputSchema))
			}
			s.byName[t.Name] = append(s.byName[t.Name], conn.client)
		}
	}

	if ctx.Err() != nil {
		_ = s.Close()
		return nil, ctx.Err()
	}
	log.Debug("工具会话就绪",
		zap.Int("servers", len(servers)),
		zap.Int("connected", len(s.clients)),
		zap.Int("tools", len(s.tools)))
	return s, nil
}

func serverName(s types.ToolServerConfig) string {
	if s.Name != "" {
		return s.Name
	}
	return s.URL
}

// Session 一次请求内可用的工具
type Session struct {
	searcher    Searcher
	tools       []types.Tool
	clients     []RemoteClient
	byName      map[string][]RemoteClient
	callTimeout time.Duration

	closeOnce sync.Once
	closeErr  error
}

// Tools 内置工具在前，远程工具按服务配置顺序
func (s *Session) Tools() []types.Tool {
	return s.tools
}

// Call 执行工具。多个服务提供同名工具时同时调用，取第一个成功的结果
func (s *Session) Call(ctx context.Context, name, arguments string) (string, error) {
	if name == types.WebSearchToolName && s.searcher != nil {
		return runWebSearch(ctx, s.searcher, arguments)
	}

	clients := s.byName[name]
	if len(clients) == 0 {
		return "", apperrors.Newf(apperrors.ErrToolExecution, "unknown tool %s", name)
	}

	args := json.RawMessage(strings.TrimSpace(arguments))
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if !json.Valid(args) {
		return "", apperrors.Newf(apperrors.ErrToolExecution, "invalid arguments for %s", name)
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()
	return race(callCtx, clients, name, args)
}

type outcome struct {
	server string
	output string
	err    error
}

// race 所有服务都失败才返回错误；拿到结果后取消其余调用
func race(ctx context.Context, clients []RemoteClient, name string, args json.RawMessage) (string, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan outcome, len(clients))
	for _, client := range clients {
		go func() {
			out, err := client.CallTool(ctx, name, args)
			results <- outcome{server: client.Name(), output: out, err: err}
		}()
	}

	errs := make([]error, 0, len(clients))
	for range clients {
		o := <-results
		if o.err == nil {
			return o.output, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", o.server, o.err))
	}
	return "", apperrors.Wrap(errors.Join(errs...), apperrors.ErrToolExecution, "all tool servers failed for "+name)
}

// Close 关闭所有连接，可重复调用
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		for _, c := range s.clients {
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", c.Name(), err))
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
