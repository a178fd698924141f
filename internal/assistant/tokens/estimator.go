// Package tokens 提供基于字符数的 token 估算。
//
// 估算规则：ceil(ceil(len/4) * 1.02)，len 以 UTF-16 码元计，
// 与前端计数保持一致。不依赖真实分词器。
package tokens

import (
	"encoding/json"
	"strings"
	"unicode/utf16"

	"github.com/lk2023060901/agentchat-backend/internal/assistant/types"
)

const (
	charsPerToken = 4
	// bufferPercent 2% 安全余量，以百分比整数运算避免浮点误差
	bufferPercent = 102
)

// EstimateTokens 估算一段文本的 token 数
func EstimateTokens(text string) int {
	base := ceilDiv(textLength(text), charsPerToken)
	return ceilDiv(base*bufferPercent, 100)
}

// EstimateToolsTokens 估算工具定义列表序列化后的 token 数
func EstimateToolsTokens(tools []types.Tool) int {
	if len(tools) == 0 {
		return 0
	}
	raw, err := json.Marshal(tools)
	if err != nil {
		return 0
	}
	return EstimateTokens(string(raw))
}

// EstimateMessages 估算消息列表的 token 数
func EstimateMessages(messages []types.Message) int {
	return EstimateTokens(Flatten(messages))
}

// Flatten 直接拼接消息中所有计入预算的文本，不加分隔符：
// 字符串内容、text 项、内联 file 数据、助手 tool_calls 参数、tool 消息内容。
// image_url 永远跳过。
func Flatten(messages []types.Message) string {
	var parts []string
	for _, m := range messages {
		parts = appendContent(parts, m.Content)
		if m.Role == types.RoleAssistant {
			for _, tc := range m.ToolCalls {
				if tc.Function.Arguments != "" {
					parts = append(parts, tc.Function.Arguments)
				}
			}
		}
	}
	return strings.Join(parts, "")
}

func appendContent(parts []string, c types.Content) []string {
	if !c.IsStructured() {
		if c.Text != "" {
			parts = append(parts, c.Text)
		}
		return parts
	}

	for _, item := range c.Items {
		switch item.Type {
		case types.ContentText:
			if item.Text != "" {
				parts = append(parts, item.Text)
			}
		case types.ContentFile:
			if item.File.Inlined() {
				parts = append(parts, item.File.FileData)
			}
		}
	}
	return parts
}

// textLength 按 UTF-16 码元计算长度
func textLength(s string) int {
	n := 0
	for _, r := range s {
		if l := utf16.RuneLen(r); l > 0 {
			n += l
		} else {
			n++
		}
	}
	return n
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
