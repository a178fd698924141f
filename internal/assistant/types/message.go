package types

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Role 消息角色
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// 内容项类型
const (
	ContentText     = "text"
	ContentImageURL = "image_url"
	ContentFile     = "file"
)

// ContentItem 多模态内容项：text | image_url | file
type ContentItem struct {
	Type     string       `json:"type"`
	Text     string       `json:"text,omitempty"`
	ImageURL *ImageURL    `json:"image_url,omitempty"`
	File     *FileContent `json:"file,omitempty"`
}

// ImageURL 图片引用，不计入 token 预算
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// FileContent 文件内容。只有 FileData 内联时才计入 token 预算
type FileContent struct {
	FileName string `json:"filename,omitempty"`
	FileData string `json:"file_data,omitempty"`
	FileURL  string `json:"file_url,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

// Inlined 文件数据是否随消息内联
func (f *FileContent) Inlined() bool {
	return f != nil && f.FileData != ""
}

// TextItem 构造文本内容项
func TextItem(text string) ContentItem {
	return ContentItem{Type: ContentText, Text: text}
}

// Content 消息内容，兼容旧版纯字符串和结构化数组两种形式
type Content struct {
	Text  string
	Items []ContentItem

	structured bool
}

// StringContent 旧版字符串内容
func StringContent(s string) Content {
	return Content{Text: s}
}

// ItemsContent 结构化内容
func ItemsContent(items ...ContentItem) Content {
	return Content{Items: items, structured: true}
}

// IsStructured 是否为数组形式
func (c Content) IsStructured() bool {
	return c.structured
}

// String 返回全部文本，结构化内容拼接 text 项
func (c Content) String() string {
	if !c.structured {
		return c.Text
	}
	var buf bytes.Buffer
	for _, item := range c.Items {
		if item.Type != ContentText {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteByte('\n')
		}
		buf.WriteString(item.Text)
	}
	return buf.String()
}

func (c Content) MarshalJSON() ([]byte, error) {
	if c.structured {
		if c.Items == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(c.Items)
	}
	return json.Marshal(c.Text)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*c = Content{}
		return nil
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = StringContent(s)
		return nil
	case data[0] == '[':
		var items []ContentItem
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*c = ItemsContent(items...)
		return nil
	}
	return fmt.Errorf("content must be a string or an array, got %q", data[:1])
}

// FunctionCall 工具调用的函数名和参数（参数为累积的 JSON 字符串）
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCallRef 助手消息声明的工具调用。流式参数按 Index 累积
type ToolCallRef struct {
	ID       string       `json:"id"`
	Index    int          `json:"index"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// Message 对话消息
type Message struct {
	Role       Role          `json:"role"`
	Content    Content       `json:"content"`
	ToolCalls  []ToolCallRef `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}

// HasToolCalls 助手消息是否声明了工具调用
func (m Message) HasToolCalls() bool {
	return m.Role == RoleAssistant && len(m.ToolCalls) > 0
}

// NewTextMessage 构造纯文本消息
func NewTextMessage(role Role, text string) Message {
	return Message{Role: role, Content: StringContent(text)}
}

// NewToolMessage 构造工具结果消息
func NewToolMessage(toolCallID, result string) Message {
	return Message{Role: RoleTool, Content: StringContent(result), ToolCallID: toolCallID}
}
