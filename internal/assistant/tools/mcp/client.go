package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

// 传输方式
const (
	TransportHTTP = "http"
	TransportSSE  = "sse"
)

const (
	clientName    = "agentchat-backend"
	clientVersion = "1.0.0"
	maxListPages  = 20
)

// ErrUnsupportedTransport 未知的传输方式
var ErrUnsupportedTransport = errors.New("unsupported tool server transport")

// ToolError 工具执行返回 isError
type ToolError struct {
	Message string
}

func (e *ToolError) Error() string {
	return "tool reported error: " + e.Message
}

// Tool 服务端声明的工具
type Tool struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// Options 连接参数
type Options struct {
	Name       string
	URL        string
	Transport  string
	AuthToken  string
	Headers    map[string]string
	HTTPClient *http.Client
}

// Client 单个工具服务的会话
type Client struct {
	name    string
	session *gomcp.ClientSession
	cancel  context.CancelFunc
}

// Dial 建立连接并完成 initialize 握手。
// ctx 只约束握手，会话本身在 Close 前一直有效
func Dial(ctx context.Context, opts Options) (*Client, error) {
	httpClient := withHeaders(opts.HTTPClient, opts.AuthToken, opts.Headers)

	var transport gomcp.Transport
	switch opts.Transport {
	case "", TransportHTTP:
		transport = &gomcp.StreamableClientTransport{Endpoint: opts.URL, HTTPClient: httpClient}
	case TransportSSE:
		transport = &gomcp.SSEClientTransport{Endpoint: opts.URL, HTTPClient: httpClient}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedTransport, opts.Transport)
	}

	sessionCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, cancel)

	client := gomcp.NewClient(&gomcp.Implementation{Name: clientName, Version: clientVersion}, nil)
	session, err := client.Connect(sessionCtx, transport, nil)
	if !stop() {
		if err == nil {
			_ = session.Close()
		}
		return nil, fmt.Errorf("connect %s: %w", opts.URL, ctx.Err())
	}
	if err != nil {
		cancel()
		return nil, fmt.Errorf("connect %s: %w", opts.URL, err)
	}
	return &Client{name: opts.Name, session: session, cancel: cancel}, nil
}

// Name 配置中的服务名
func (c *Client) Name() string {
	return c.name
}

// ServerName 服务端在 initialize 中声明的名字
func (c *Client) ServerName() string {
	if res := c.session.InitializeResult(); res != nil && res.ServerInfo != nil {
		return res.ServerInfo.Name
	}
	return ""
}

// ListTools 获取全部工具，处理分页
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	var (
		tools  []Tool
		params = &gomcp.ListToolsParams{}
	)
	for range maxListPages {
		page, err := c.session.ListTools(ctx, params)
		if err != nil {
			return nil, fmt.Errorf("tools/list: %w", err)
		}
		for _, t := range page.Tools {
			tool, err := toTool(t)
			if err != nil {
				return nil, err
			}
			tools = append(tools, tool)
		}
		if page.NextCursor == "" {
			break
		}
		params = &gomcp.ListToolsParams{Cursor: page.NextCursor}
	}
	return tools, nil
}

// CallTool 调用工具，返回渲染后的文本结果
func (c *Client) CallTool(ctx context.Context, name string, arguments json.RawMessage) (string, error) {
	params := &gomcp.CallToolParams{Name: name}
	if trimmed := strings.TrimSpace(string(arguments)); trimmed != "" && trimmed != "null" {
		params.Arguments = arguments
	}

	result, err := c.session.CallTool(ctx, params)
	if err != nil {
		return "", fmt.Errorf("tools/call %s: %w", name, err)
	}

	text, err := renderContent(result)
	if err != nil {
		return "", err
	}
	if result.IsError {
		return "", &ToolError{Message: text}
	}
	return text, nil
}

// Close 关闭会话
func (c *Client) Close() error {
	defer c.cancel()
	return c.session.Close()
}

func toTool(t *gomcp.Tool) (Tool, error) {
	tool := Tool{Name: t.Name, Description: t.Description}
	if t.InputSchema == nil {
		return tool, nil
	}
	schema, err := json.Marshal(t.InputSchema)
	if err != nil {
		return Tool{}, fmt.Errorf("encode schema of %s: %w", t.Name, err)
	}
	tool.InputSchema = schema
	return tool, nil
}

// renderContent text 块按行拼接，其它类型保留 JSON
func renderContent(r *gomcp.CallToolResult) (string, error) {
	parts := make([]string, 0, len(r.Content))
	for _, block := range r.Content {
		if text, ok := block.(*gomcp.TextContent); ok {
			parts = append(parts, text.Text)
			continue
		}
		raw, err := json.Marshal(block)
		if err != nil {
			return "", fmt.Errorf("encode tool content: %w", err)
		}
		parts = append(parts, string(raw))
	}
	if len(parts) == 0 && r.StructuredContent != nil {
		raw, err := json.Marshal(r.StructuredContent)
		if err != nil {
			return "", fmt.Errorf("encode structured content: %w", err)
		}
		return string(raw), nil
	}
	return strings.Join(parts, "\n"), nil
}

// withHeaders 复制 client 并在每个请求上附加鉴权和自定义头。
// 会话期间保持长连接，超时由 ctx 控制
func withHeaders(base *http.Client, token string, headers map[string]string) *http.Client {
	c := &http.Client{}
	if base != nil {
		*c = *base
	}
	c.Timeout = 0

	h := make(http.Header, len(headers)+1)
	for k, v := range headers {
		h.Set(k, v)
	}
	if token != "" {
		h.Set("Authorization", "Bearer "+token)
	}
	if len(h) == 0 {
		return c
	}

	rt := c.Transport
	if rt == nil {
		rt = http.DefaultTransport
	}
	c.Transport = &headerTransport{base: rt, headers: h}
	return c
}

type headerTransport struct {
	base    http.RoundTripper
	headers http.Header
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header[k] = v
	}
	return t.base.RoundTrip(req)
}
