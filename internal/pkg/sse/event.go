package sse

import (
	"encoding/json"
	"strings"
)

// Event SSE 事件，Type 为空时只输出 data 行
type Event struct {
	Type string
	Data any
}

// FormatSSE 格式化为 SSE 消息格式
func (e Event) FormatSSE() (string, error) {
	data, err := json.Marshal(e.Data)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	if e.Type != "" {
		b.WriteString("event: ")
		b.WriteString(e.Type)
		b.WriteString("\n")
	}
	b.WriteString("data: ")
	b.Write(data)
	b.WriteString("\n\n")
	return b.String(), nil
}
