package llm

import (
	"strings"

	"github.com/lk2023060901/agentchat-backend/internal/assistant/types"
)

const defaultPersona = "You are a helpful assistant."

const webSearchPolicy = `You have access to the web_search tool. Call it when the question needs current or
external information, or when the user gives you URLs to read. Pass "query" to search and
"urls" to fetch specific pages. Cite the sources you used. Do not call it for questions you
can answer from the conversation alone.`

// BuildSystemPrompt 人设 + 记忆块 + 联网搜索策略
func BuildSystemPrompt(persona string, memories []string, webSearch bool) types.Message {
	var b strings.Builder
	persona = strings.TrimSpace(persona)
	if persona == "" {
		persona = defaultPersona
	}
	b.WriteString(persona)

	if len(memories) > 0 {
		b.WriteString("\n\nThings you remember about the user:\n")
		for _, m := range memories {
			m = strings.TrimSpace(m)
			if m == "" {
				continue
			}
			b.WriteString("- ")
			b.WriteString(m)
			b.WriteByte('\n')
		}
	}

	if webSearch {
		b.WriteString("\n\n")
		b.WriteString(webSearchPolicy)
	}
	return types.NewTextMessage(types.RoleSystem, strings.TrimRight(b.String(), "\n"))
}
