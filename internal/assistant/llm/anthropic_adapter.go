package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/lk2023060901/agentchat-backend/internal/assistant/types"
	"github.com/tidwall/gjson"
)

const (
	defaultAnthropicBaseURL   = "https://api.anthropic.com"
	anthropicVersion          = "2023-06-01"
	defaultAnthropicMaxTokens = 4096
)

// AnthropicAdapter Anthropic messages 流式协议
type AnthropicAdapter struct {
	name      string
	baseURL   string
	apiKey    string
	headers   map[string]string
	maxTokens int
}

// NewAnthropicAdapter 创建 Anthropic 适配器
func NewAnthropicAdapter(cfg ProviderConfig) *AnthropicAdapter {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicAdapter{
		name:      cfg.Name,
		baseURL:   baseURL,
		apiKey:    cfg.APIKey,
		headers:   cfg.Headers,
		maxTokens: maxTokens,
	}
}

func (a *AnthropicAdapter) Name() string {
	return a.name
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float32           `json:"temperature,omitempty"`
	TopP        *float32           `json:"top_p,omitempty"`
	Stream      bool               `json:"stream"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	Source    *anthropicImage `json:"source,omitempty"`
}

type anthropicImage struct {
	Type string `json:"type"`
	URL  string `json:"url"`
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// BuildRequest 构造 POST {base}/v1/messages。system 消息合并为 system 字段，
// tool 消息转为 user 的 tool_result 块，相邻同角色消息合并
func (a *AnthropicAdapter) BuildRequest(ctx context.Context, req *StreamRequest) (*http.Request, error) {
	body := anthropicRequest{
		Model:       req.Model,
		MaxTokens:   a.maxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      true,
	}

	var system []string
	for _, m := range req.Messages {
		if m.Role == types.RoleSystem {
			system = append(system, renderText(m.Content))
			continue
		}
		role, blocks := toAnthropicBlocks(m, req.SupportsMedia)
		if len(blocks) == 0 {
			continue
		}
		if n := len(body.Messages); n > 0 && body.Messages[n-1].Role == role {
			body.Messages[n-1].Content = append(body.Messages[n-1].Content, blocks...)
			continue
		}
		body.Messages = append(body.Messages, anthropicMessage{Role: role, Content: blocks})
	}
	body.System = strings.Join(system, "\n\n")

	for _, t := range req.Tools {
		schema := t.Function.Parameters
		if len(schema) == 0 {
			schema = emptyParameters
		}
		body.Tools = append(body.Tools, anthropicTool{
			Name:        t.Function.Name,
			Description: t.Function.Description,
			InputSchema: schema,
		})
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/v1/messages", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("x-api-key", a.apiKey)
	httpReq.Header.Set("anthropic-version", anthropicVersion)
	for k, v := range a.headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

func toAnthropicBlocks(m types.Message, supportsMedia bool) (string, []anthropicBlock) {
	switch m.Role {
	case types.RoleTool:
		return "user", []anthropicBlock{{
			Type:      "tool_result",
			ToolUseID: m.ToolCallID,
			Content:   renderText(m.Content),
		}}
	case types.RoleAssistant:
		var blocks []anthropicBlock
		if text := renderText(m.Content); text != "" {
			blocks = append(blocks, anthropicBlock{Type: "text", Text: text})
		}
		for _, tc := range m.ToolCalls {
			input := json.RawMessage(tc.Function.Arguments)
			if !json.Valid(input) {
				input = json.RawMessage(`{}`)
			}
			blocks = append(blocks, anthropicBlock{Type: "tool_use", ID: tc.ID, Name: tc.Function.Name, Input: input})
		}
		return "assistant", blocks
	}

	if !m.Content.IsStructured() {
		if m.Content.Text == "" {
			return "user", nil
		}
		return "user", []anthropicBlock{{Type: "text", Text: m.Content.Text}}
	}
	var blocks []anthropicBlock
	for _, item := range m.Content.Items {
		switch item.Type {
		case types.ContentText:
			blocks = append(blocks, anthropicBlock{Type: "text", Text: item.Text})
		case types.ContentImageURL:
			if supportsMedia && item.ImageURL != nil {
				blocks = append(blocks, anthropicBlock{Type: "image", Source: &anthropicImage{Type: "url", URL: item.ImageURL.URL}})
			}
		case types.ContentFile:
			if text := fileText(item.File); text != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: text})
			}
		}
	}
	return "user", blocks
}

// ParseStreamFrame 处理 content_block_start / content_block_delta / error 事件，
// 其余事件忽略。工具参数以 input_json_delta 分片到达，按块 index 累积
func (a *AnthropicAdapter) ParseStreamFrame(line string) (*Delta, error) {
	data, ok := dataPayload(line)
	if !ok {
		return nil, nil
	}
	if !gjson.Valid(data) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformedStreamChunk)
	}

	event := gjson.Parse(data)
	index := int(event.Get("index").Int())
	switch event.Get("type").String() {
	case "content_block_start":
		block := event.Get("content_block")
		if block.Get("type").String() != "tool_use" {
			return nil, nil
		}
		return &Delta{ToolCalls: []types.ToolCallRef{{
			ID:       block.Get("id").String(),
			Index:    index,
			Type:     types.ToolTypeFunction,
			Function: types.FunctionCall{Name: block.Get("name").String()},
		}}}, nil
	case "content_block_delta":
		delta := event.Get("delta")
		switch delta.Get("type").String() {
		case "text_delta":
			return &Delta{Content: delta.Get("text").String()}, nil
		case "input_json_delta":
			return &Delta{ToolCalls: []types.ToolCallRef{{
				Index:    index,
				Function: types.FunctionCall{Arguments: delta.Get("partial_json").String()},
			}}}, nil
		}
	case "error":
		return &Delta{ErrorMessage: event.Get("error.message").String()}, nil
	}
	return nil, nil
}

func (a *AnthropicAdapter) ErrorMessage(status int, body []byte) string {
	return providerErrorMessage(status, body, http.StatusText(status))
}
