package types

import "encoding/json"

// ToolTypeFunction 目前唯一支持的工具类型
const ToolTypeFunction = "function"

// Tool 提供给模型的工具定义
type Tool struct {
	Type     string         `json:"type"`
	Function FunctionSchema `json:"function"`
}

// FunctionSchema 函数签名，Parameters 为 JSON Schema
type FunctionSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

// NewFunctionTool 构造 function 类型的工具
func NewFunctionTool(name, description string, parameters json.RawMessage) Tool {
	return Tool{
		Type:     ToolTypeFunction,
		Function: FunctionSchema{Name: name, Description: description, Parameters: parameters},
	}
}
