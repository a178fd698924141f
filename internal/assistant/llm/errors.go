package llm

import (
	"strings"

	apperrors "github.com/lk2023060901/agentchat-backend/internal/pkg/errors"
	"github.com/tidwall/gjson"
)

var (
	// ErrModelNotFound 注册表中没有该模型
	ErrModelNotFound = apperrors.New(apperrors.ErrModelNotFound)

	// ErrMalformedStreamChunk 无法解析的流式帧，记录后跳过
	ErrMalformedStreamChunk = apperrors.New(apperrors.ErrMalformedStreamChunk)

	// ErrProviderNotConfigured 模型引用了未配置的服务商
	ErrProviderNotConfigured = apperrors.New(apperrors.ErrProviderNotConfigured)
)

// providerErrorMessage 从错误响应体中提取可读消息
func providerErrorMessage(status int, body []byte, statusText string) string {
	for _, path := range []string{"error.message", "message", "error"} {
		if r := gjson.GetBytes(body, path); r.Exists() && r.Type == gjson.String && r.String() != "" {
			return r.String()
		}
	}
	if msg := strings.TrimSpace(string(body)); msg != "" && !gjson.ValidBytes(body) {
		if len(msg) > 512 {
			msg = msg[:512]
		}
		return msg
	}
	if statusText != "" {
		return statusText
	}
	return "upstream provider error"
}
