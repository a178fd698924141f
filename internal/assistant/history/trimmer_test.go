package history

import (
	"fmt"
	"strings"
	"testing"

	"github.com/lk2023060901/agentchat-backend/internal/assistant/tokens"
	"github.com/lk2023060901/agentchat-backend/internal/assistant/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func text(role types.Role, n int) types.Message {
	return types.NewTextMessage(role, strings.Repeat("x", n))
}

func toolPair(id string, argLen, resultLen int) []types.Message {
	return []types.Message{
		{
			Role:      types.RoleAssistant,
			ToolCalls: []types.ToolCallRef{{ID: id, Type: "function", Function: types.FunctionCall{Name: "web_search", Arguments: strings.Repeat("a", argLen)}}},
		},
		types.NewToolMessage(id, strings.Repeat("r", resultLen)),
	}
}

// assertPaired 每条 tool 消息前面都有声明该 id 的助手消息
func assertPaired(t *testing.T, msgs []types.Message) {
	t.Helper()
	declared := map[string]bool{}
	for _, m := range msgs {
		for _, tc := range m.ToolCalls {
			declared[tc.ID] = true
		}
		if m.Role == types.RoleTool {
			assert.True(t, declared[m.ToolCallID], "orphan tool message %s", m.ToolCallID)
		}
	}
}

func TestTrimUnderBudgetUnchanged(t *testing.T) {
	sys := text(types.RoleSystem, 10)
	hist := []types.Message{text(types.RoleUser, 10), text(types.RoleAssistant, 10)}
	newTurn := text(types.RoleUser, 10)

	got := Trim(sys, hist, newTurn, 1000)
	require.Len(t, got, 4)
	assert.Equal(t, sys, got[0])
	assert.Equal(t, newTurn, got[3])
}

func TestTrimDropsOldestFirst(t *testing.T) {
	sys := text(types.RoleSystem, 40)
	hist := []types.Message{
		types.NewTextMessage(types.RoleUser, "old-"+strings.Repeat("x", 396)),
		types.NewTextMessage(types.RoleAssistant, "mid-"+strings.Repeat("x", 396)),
		types.NewTextMessage(types.RoleUser, "new-"+strings.Repeat("x", 396)),
	}
	newTurn := text(types.RoleUser, 40)

	// 每条历史约 102 token，预算只够保留一条
	got := Trim(sys, hist, newTurn, 150)
	require.Len(t, got, 3)
	assert.True(t, strings.HasPrefix(got[1].Content.String(), "new-"))
	assert.LessOrEqual(t, tokens.EstimateMessages(got), 150)
}

func TestTrimRemovesToolPairTogether(t *testing.T) {
	sys := text(types.RoleSystem, 4)
	hist := append(toolPair("call_1", 400, 400), text(types.RoleAssistant, 40))
	newTurn := text(types.RoleUser, 40)

	got := Trim(sys, hist, newTurn, 60)
	assertPaired(t, got)
	require.Len(t, got, 3)
	assert.Equal(t, types.RoleAssistant, got[1].Role)
	assert.False(t, got[1].HasToolCalls())
}

func TestTrimMultipleToolResults(t *testing.T) {
	sys := text(types.RoleSystem, 4)
	assistant := types.Message{
		Role: types.RoleAssistant,
		ToolCalls: []types.ToolCallRef{
			{ID: "a", Function: types.FunctionCall{Name: "t", Arguments: "{}"}},
			{ID: "b", Index: 1, Function: types.FunctionCall{Name: "t", Arguments: "{}"}},
		},
	}
	hist := []types.Message{
		assistant,
		types.NewToolMessage("a", strings.Repeat("r", 800)),
		types.NewToolMessage("b", strings.Repeat("r", 800)),
		text(types.RoleAssistant, 8),
	}

	got := Trim(sys, hist, text(types.RoleUser, 8), 20)
	assertPaired(t, got)
	assert.Len(t, got, 3)
}

func TestTrimNeverDropsSystemOrNewest(t *testing.T) {
	sys := text(types.RoleSystem, 4000)
	newTurn := text(types.RoleUser, 4000)
	hist := []types.Message{text(types.RoleUser, 100), text(types.RoleAssistant, 100)}

	got := Trim(sys, hist, newTurn, 10)
	require.Len(t, got, 2)
	assert.Equal(t, sys, got[0])
	assert.Equal(t, newTurn, got[1])
}

func TestTrimStopsWhenGroupReachesNewest(t *testing.T) {
	sys := text(types.RoleSystem, 4)
	pair := toolPair("c9", 400, 400)
	// 最新一条本身就是 tool 结果，它所属的组不可移除
	got := Trim(sys, pair[:1], pair[1], 10)
	require.Len(t, got, 3)
	assertPaired(t, got)
}

func TestTrimDropsStoredOrphans(t *testing.T) {
	sys := text(types.RoleSystem, 4)
	hist := []types.Message{types.NewToolMessage("gone", "stale"), text(types.RoleAssistant, 4)}

	got := Trim(sys, hist, text(types.RoleUser, 4), 1000)
	assertPaired(t, got)
	assert.Len(t, got, 3)
}

func TestTrimInvariantAcrossSizes(t *testing.T) {
	for n := 0; n < 12; n++ {
		t.Run(fmt.Sprintf("history_%d", n), func(t *testing.T) {
			var hist []types.Message
			for i := 0; i < n; i++ {
				if i%3 == 0 {
					hist = append(hist, toolPair(fmt.Sprintf("c%d", i), 50, 300)...)
					continue
				}
				hist = append(hist, text(types.RoleUser, 200))
			}
			sys := text(types.RoleSystem, 40)
			newTurn := text(types.RoleUser, 40)

			got := Trim(sys, hist, newTurn, 200)
			assertPaired(t, got)
			if len(got) > 2 {
				assert.LessOrEqual(t, tokens.EstimateMessages(got), 200)
			}
			assert.Equal(t, newTurn, got[len(got)-1])
		})
	}
}
