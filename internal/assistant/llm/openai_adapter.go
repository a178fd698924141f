package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/lk2023060901/agentchat-backend/internal/assistant/types"
	"github.com/sashabaranov/go-openai"
	"github.com/tidwall/gjson"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// emptyParameters 工具未声明参数时使用的空 schema
var emptyParameters = json.RawMessage(`{"type":"object","properties":{}}`)

// OpenAIAdapter OpenAI 兼容的 chat/completions 流式协议
type OpenAIAdapter struct {
	name    string
	baseURL string
	apiKey  string
	headers map[string]string
}

// NewOpenAIAdapter 创建 OpenAI 兼容适配器
func NewOpenAIAdapter(cfg ProviderConfig) *OpenAIAdapter {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	return &OpenAIAdapter{
		name:    cfg.Name,
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		headers: cfg.Headers,
	}
}

func (a *OpenAIAdapter) Name() string {
	return a.name
}

// BuildRequest 构造 POST {base}/chat/completions
func (a *OpenAIAdapter) BuildRequest(ctx context.Context, req *StreamRequest) (*http.Request, error) {
	body := openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(req.Messages)),
		Stream:   true,
	}
	for _, m := range req.Messages {
		body.Messages = append(body.Messages, toOpenAIMessage(m, req.SupportsMedia))
	}
	for _, t := range req.Tools {
		params := t.Function.Parameters
		if len(params) == 0 {
			params = emptyParameters
		}
		body.Tools = append(body.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  params,
			},
		})
	}
	if req.Temperature != nil {
		body.Temperature = *req.Temperature
	}
	if req.TopP != nil {
		body.TopP = *req.TopP
	}
	if req.FrequencyPenalty != nil {
		body.FrequencyPenalty = *req.FrequencyPenalty
	}
	if req.PresencePenalty != nil {
		body.PresencePenalty = *req.PresencePenalty
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+"/chat/completions", bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if a.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+a.apiKey)
	}
	for k, v := range a.headers {
		httpReq.Header.Set(k, v)
	}
	return httpReq, nil
}

// ParseStreamFrame 解析 `data: {...}` 行
func (a *OpenAIAdapter) ParseStreamFrame(line string) (*Delta, error) {
	data, ok := dataPayload(line)
	if !ok || data == "[DONE]" {
		return nil, nil
	}
	if !gjson.Valid(data) {
		return nil, fmt.Errorf("%w: invalid json", ErrMalformedStreamChunk)
	}
	if msg := gjson.Get(data, "error.message"); msg.Exists() {
		return &Delta{ErrorMessage: msg.String()}, nil
	}

	var chunk openai.ChatCompletionStreamResponse
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedStreamChunk, err)
	}
	if len(chunk.Choices) == 0 {
		return nil, nil
	}

	delta := chunk.Choices[0].Delta
	out := &Delta{Content: delta.Content}
	for i, tc := range delta.ToolCalls {
		index := i
		if tc.Index != nil {
			index = *tc.Index
		}
		out.ToolCalls = append(out.ToolCalls, types.ToolCallRef{
			ID:    tc.ID,
			Index: index,
			Type:  string(tc.Type),
			Function: types.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return out, nil
}

func (a *OpenAIAdapter) ErrorMessage(status int, body []byte) string {
	return providerErrorMessage(status, body, http.StatusText(status))
}

func toOpenAIMessage(m types.Message, supportsMedia bool) openai.ChatCompletionMessage {
	out := openai.ChatCompletionMessage{
		Role:       string(m.Role),
		ToolCallID: m.ToolCallID,
	}
	for _, tc := range m.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, openai.ToolCall{
			ID:   tc.ID,
			Type: openai.ToolTypeFunction,
			Function: openai.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}

	if !m.Content.IsStructured() || m.Role != types.RoleUser {
		out.Content = renderText(m.Content)
		return out
	}

	for _, item := range m.Content.Items {
		switch item.Type {
		case types.ContentText:
			out.MultiContent = append(out.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeText,
				Text: item.Text,
			})
		case types.ContentImageURL:
			if !supportsMedia || item.ImageURL == nil {
				continue
			}
			out.MultiContent = append(out.MultiContent, openai.ChatMessagePart{
				Type: openai.ChatMessagePartTypeImageURL,
				ImageURL: &openai.ChatMessageImageURL{
					URL:    item.ImageURL.URL,
					Detail: openai.ImageURLDetail(item.ImageURL.Detail),
				},
			})
		case types.ContentFile:
			if text := fileText(item.File); text != "" {
				out.MultiContent = append(out.MultiContent, openai.ChatMessagePart{
					Type: openai.ChatMessagePartTypeText,
					Text: text,
				})
			}
		}
	}
	if len(out.MultiContent) == 0 {
		out.Content = ""
	}
	return out
}

// renderText 结构化内容中只保留文本和内联文件
func renderText(c types.Content) string {
	if !c.IsStructured() {
		return c.Text
	}
	var parts []string
	for _, item := range c.Items {
		switch item.Type {
		case types.ContentText:
			parts = append(parts, item.Text)
		case types.ContentFile:
			if text := fileText(item.File); text != "" {
				parts = append(parts, text)
			}
		}
	}
	return strings.Join(parts, "\n")
}

func fileText(f *types.FileContent) string {
	if !f.Inlined() {
		return ""
	}
	if f.FileName == "" {
		return f.FileData
	}
	return "[" + f.FileName + "]\n" + f.FileData
}

// dataPayload 取 SSE `data:` 行的内容
func dataPayload(line string) (string, bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "data:")), true
}
