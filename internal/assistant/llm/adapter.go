package llm

import (
	"context"
	"net/http"

	"github.com/lk2023060901/agentchat-backend/internal/assistant/types"
)

// StreamRequest 一次流式补全请求，与具体服务商无关
type StreamRequest struct {
	Model            string
	Messages         []types.Message
	Tools            []types.Tool
	Temperature      *float32
	TopP             *float32
	FrequencyPenalty *float32
	PresencePenalty  *float32
	SupportsMedia    bool
}

// Delta 解析后的一帧增量
type Delta struct {
	Content   string
	ToolCalls []types.ToolCallRef
	// ErrorMessage 服务商在流中返回的错误
	ErrorMessage string
}

// ProviderAdapter 服务商协议适配器。
//
// BuildRequest 只构造请求，不发送；ParseStreamFrame 解析响应体中的一行，
// 返回 nil, nil 表示该行无需处理（空行、事件名、[DONE] 等）。
type ProviderAdapter interface {
	Name() string
	BuildRequest(ctx context.Context, req *StreamRequest) (*http.Request, error)
	ParseStreamFrame(line string) (*Delta, error)
	ErrorMessage(status int, body []byte) string
}
