package types

// FrameType SSE 帧类型
type FrameType string

const (
	FrameText  FrameType = "text"
	FrameEvent FrameType = "event"
	FrameError FrameType = "error"
	FrameAbort FrameType = "abort"
)

// ModelRef 帧中携带的模型信息
type ModelRef struct {
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// Frame 输出流的一帧，序列化为 `data: <JSON>\n\n`
type Frame struct {
	Response   string        `json:"response"`
	MsgID      string        `json:"msg_id"`
	Type       FrameType     `json:"type"`
	Created    int64         `json:"created"`
	Model      *ModelRef     `json:"model,omitempty"`
	Role       string        `json:"role,omitempty"`
	ToolCalls  []ToolCallRef `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
}
