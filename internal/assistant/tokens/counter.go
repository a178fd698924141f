package tokens

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"
)

// Counter token 计数器
type Counter interface {
	Count(text string) int
	Name() string
}

// Heuristic 字符启发式计数，预算和计费均使用它
type Heuristic struct{}

func (Heuristic) Count(text string) int { return EstimateTokens(text) }
func (Heuristic) Name() string          { return "heuristic" }

// Tiktoken 真实 BPE 计数，仅用于诊断日志对比估算偏差
type Tiktoken struct {
	encoding string
	enc      *tiktoken.Tiktoken
}

// NewTiktoken 加载指定编码，例如 cl100k_base
func NewTiktoken(encoding string) (*Tiktoken, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return nil, fmt.Errorf("load tiktoken encoding %s: %w", encoding, err)
	}
	return &Tiktoken{encoding: encoding, enc: enc}, nil
}

func (t *Tiktoken) Count(text string) int {
	return len(t.enc.Encode(text, nil, nil))
}

func (t *Tiktoken) Name() string { return "tiktoken:" + t.encoding }

// NewCounter 按名称创建计数器，未知名称或加载失败时回退到启发式
func NewCounter(name, encoding string) (Counter, error) {
	if name != "tiktoken" {
		return Heuristic{}, nil
	}
	if encoding == "" {
		encoding = "cl100k_base"
	}
	tk, err := NewTiktoken(encoding)
	if err != nil {
		return Heuristic{}, err
	}
	return tk, nil
}
