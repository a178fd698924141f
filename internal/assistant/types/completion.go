package types

// CompletionRequest POST /completion 请求体
type CompletionRequest struct {
	AgentID     string           `json:"aid,omitempty"`
	UserID      string           `json:"uid"`
	ChatID      string           `json:"chat_id" binding:"required"`
	MessageData MessageData      `json:"messageData"`
	Config      CompletionConfig `json:"config"`
}

// MessageData 本轮用户输入
type MessageData struct {
	Content []ContentItem `json:"content" binding:"required,min=1"`
}

// CompletionConfig 本轮生成配置
type CompletionConfig struct {
	Model            string             `json:"model" binding:"required"`
	Instructions     string             `json:"instructions,omitempty"`
	Tools            []string           `json:"tools,omitempty"`
	ToolServers      []ToolServerConfig `json:"mcp_server,omitempty"`
	Temperature      *float32           `json:"temperature,omitempty"`
	TopP             *float32           `json:"top_p,omitempty"`
	FrequencyPenalty *float32           `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float32           `json:"presence_penalty,omitempty"`
	SupportsMedia    bool               `json:"supportsMedia,omitempty"`
}

// WebSearchEnabled 是否启用内置联网搜索
func (c CompletionConfig) WebSearchEnabled() bool {
	for _, t := range c.Tools {
		if t == WebSearchToolName {
			return true
		}
	}
	return false
}

// WebSearchToolName 内置联网搜索工具名
const WebSearchToolName = "web_search"

// 远程工具服务传输方式
const (
	TransportHTTP = "http"
	TransportSSE  = "sse"
)

// ToolServerConfig 远程工具服务配置
type ToolServerConfig struct {
	Name      string            `json:"name" mapstructure:"name"`
	URL       string            `json:"url" mapstructure:"url"`
	Transport string            `json:"transport,omitempty" mapstructure:"transport"` // http | sse
	AuthToken string            `json:"auth_token,omitempty" mapstructure:"auth_token"`
	Headers   map[string]string `json:"headers,omitempty" mapstructure:"headers"`
}
