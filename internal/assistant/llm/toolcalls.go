package llm

import (
	"sort"

	"github.com/google/uuid"
	"github.com/lk2023060901/agentchat-backend/internal/assistant/types"
)

// toolCallAccumulator 按 index 合并工具调用增量：id/name/type 覆盖，arguments 拼接
type toolCallAccumulator struct {
	calls map[int]*types.ToolCallRef
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{calls: make(map[int]*types.ToolCallRef)}
}

func (a *toolCallAccumulator) Merge(d types.ToolCallRef) {
	c, ok := a.calls[d.Index]
	if !ok {
		c = &types.ToolCallRef{Index: d.Index}
		a.calls[d.Index] = c
	}
	if d.ID != "" {
		c.ID = d.ID
	}
	if d.Type != "" {
		c.Type = d.Type
	}
	if d.Function.Name != "" {
		c.Function.Name = d.Function.Name
	}
	c.Function.Arguments += d.Function.Arguments
}

func (a *toolCallAccumulator) Len() int {
	return len(a.calls)
}

// Calls 按 index 升序返回；缺失的 id 生成 call_<uuid>
func (a *toolCallAccumulator) Calls() []types.ToolCallRef {
	out := make([]types.ToolCallRef, 0, len(a.calls))
	for _, c := range a.calls {
		call := *c
		if call.ID == "" {
			call.ID = "call_" + uuid.NewString()
			c.ID = call.ID
		}
		if call.Type == "" {
			call.Type = types.ToolTypeFunction
		}
		out = append(out, call)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}
