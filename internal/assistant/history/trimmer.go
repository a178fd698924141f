// Package history 按 token 预算裁剪对话历史。
package history

import (
	"github.com/lk2023060901/agentchat-backend/internal/assistant/tokens"
	"github.com/lk2023060901/agentchat-backend/internal/assistant/types"
)

// DefaultLimitTokens 默认上下文预算
const DefaultLimitTokens = 16000

// Trim 组装 system + history + newTurn，并从最旧的消息开始裁剪直到满足预算。
//
// 下标 0 固定为 system，最后一条（本轮输入）永不移除。
// 位于游标处且带 tool_calls 的助手消息会与紧随其后的配对 tool 消息一起移除，
// 保证裁剪结果中不出现孤立的 tool 消息。若唯一可移除的组包含最新一条，则停止。
func Trim(system types.Message, history []types.Message, newTurn types.Message, limitTokens int) []types.Message {
	if limitTokens <= 0 {
		limitTokens = DefaultLimitTokens
	}

	out := make([]types.Message, 0, len(history)+2)
	out = append(out, system)
	out = append(out, dropOrphanTools(history)...)
	out = append(out, newTurn)

	for tokens.EstimateMessages(out) > limitTokens && len(out) > 2 {
		end := groupEnd(out, 1)
		if end >= len(out)-1 {
			break
		}
		out = append(out[:1], out[end+1:]...)
	}
	return out
}

// groupEnd 返回从 i 开始需要一起移除的最后一个下标
func groupEnd(msgs []types.Message, i int) int {
	if !msgs[i].HasToolCalls() {
		return i
	}

	ids := make(map[string]struct{}, len(msgs[i].ToolCalls))
	for _, tc := range msgs[i].ToolCalls {
		ids[tc.ID] = struct{}{}
	}

	end := i
	for j := i + 1; j < len(msgs); j++ {
		if msgs[j].Role != types.RoleTool {
			break
		}
		if _, ok := ids[msgs[j].ToolCallID]; !ok {
			break
		}
		end = j
	}
	return end
}

// dropOrphanTools 去掉前面没有对应 tool_calls 的 tool 消息，
// 历史来自存储，可能已被截断过
func dropOrphanTools(history []types.Message) []types.Message {
	seen := make(map[string]struct{})
	out := make([]types.Message, 0, len(history))
	for _, m := range history {
		if m.HasToolCalls() {
			for _, tc := range m.ToolCalls {
				seen[tc.ID] = struct{}{}
			}
		}
		if m.Role == types.RoleTool {
			if _, ok := seen[m.ToolCallID]; !ok {
				continue
			}
		}
		out = append(out, m)
	}
	return out
}
