package llm

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lk2023060901/agentchat-backend/internal/assistant/history"
	"github.com/lk2023060901/agentchat-backend/internal/assistant/tokens"
	"github.com/lk2023060901/agentchat-backend/internal/assistant/types"
	apperrors "github.com/lk2023060901/agentchat-backend/internal/pkg/errors"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/logger"
	"go.uber.org/zap"
)

const (
	defaultMaxToolDepth = 8
	defaultFrameBuffer  = 64
	maxErrorBodyBytes   = 64 << 10
	maxStreamLineBytes  = 1 << 20
)

// errStreamFailed 错误帧已发出，整棵任务树停止
var errStreamFailed = errors.New("stream failed")

// ToolSession 一次补全请求内的工具集合，请求结束时关闭
type ToolSession interface {
	Tools() []types.Tool
	Call(ctx context.Context, name, arguments string) (string, error)
	Close() error
}

// ToolConnector 为一次请求连接工具服务
type ToolConnector interface {
	Connect(ctx context.Context, cfg *types.CompletionConfig) (ToolSession, error)
}

// Options 编排参数
type Options struct {
	MaxToolDepth       int           `mapstructure:"max_tool_depth"`
	HistoryLimitTokens int           `mapstructure:"history_limit_tokens"`
	FrameBuffer        int           `mapstructure:"frame_buffer"`
	RequestTimeout     time.Duration `mapstructure:"request_timeout"`
	Estimator          string        `mapstructure:"estimator"` // heuristic | tiktoken
	Encoding           string        `mapstructure:"encoding"`
}

// DefaultOptions 默认编排参数
func DefaultOptions() Options {
	return Options{
		MaxToolDepth:       defaultMaxToolDepth,
		HistoryLimitTokens: history.DefaultLimitTokens,
		FrameBuffer:        defaultFrameBuffer,
		RequestTimeout:     5 * time.Minute,
		Estimator:          "heuristic",
		Encoding:           "cl100k_base",
	}
}

// Request 一次补全
type Request struct {
	MsgID    string
	Persona  string
	Memories []string
	History  []types.Message
	NewTurn  types.Message
	Config   types.CompletionConfig
}

// Result 流结束后的汇总，供计费和持久化使用
type Result struct {
	MsgID        string
	ModelID      string
	FullResponse string
	Prompt       []types.Message
	Tools        []types.Tool
	ToolCalls    int
	Aborted      bool
	Err          error
}

// Run 一次进行中的补全
type Run struct {
	emitter *Emitter
	done    chan struct{}
	result  *Result
}

// Frames 输出帧，关闭表示结束
func (r *Run) Frames() <-chan *types.Frame {
	return r.emitter.Frames()
}

// Wait 等待结束并返回汇总
func (r *Run) Wait() *Result {
	<-r.done
	return r.result
}

// Orchestrator 流式补全编排器
type Orchestrator struct {
	registry *Registry
	tools    ToolConnector
	client   *http.Client
	counter  tokens.Counter
	opts     Options
}

// NewOrchestrator 创建编排器
func NewOrchestrator(registry *Registry, tools ToolConnector, client *http.Client, counter tokens.Counter, opts Options) *Orchestrator {
	if client == nil {
		client = http.DefaultClient
	}
	if counter == nil {
		counter = tokens.Heuristic{}
	}
	if opts.MaxToolDepth <= 0 {
		opts.MaxToolDepth = defaultMaxToolDepth
	}
	if opts.HistoryLimitTokens <= 0 {
		opts.HistoryLimitTokens = history.DefaultLimitTokens
	}
	if opts.FrameBuffer <= 0 {
		opts.FrameBuffer = defaultFrameBuffer
	}
	return &Orchestrator{registry: registry, tools: tools, client: client, counter: counter, opts: opts}
}

// Options 当前编排参数
func (o *Orchestrator) Options() Options {
	return o.opts
}

// Start 开始一次补全。未知模型在任何网络调用前返回 ErrModelNotFound；
// 其余失败都以帧的形式出现在输出流里
func (o *Orchestrator) Start(ctx context.Context, req *Request) (*Run, error) {
	model, err := o.registry.Resolve(req.Config.Model)
	if err != nil {
		return nil, err
	}
	if req.MsgID == "" {
		req.MsgID = uuid.NewString()
	}

	run := &Run{
		emitter: NewEmitter(o.opts.FrameBuffer),
		done:    make(chan struct{}),
		result:  &Result{MsgID: req.MsgID, ModelID: model.ID},
	}
	go o.run(ctx, model, req, run)
	return run, nil
}

func (o *Orchestrator) run(ctx context.Context, model *Model, req *Request, run *Run) {
	defer close(run.done)
	defer run.emitter.Close()

	log := logger.FromContext(ctx).With(
		zap.String("model", model.ID),
		zap.String("provider", model.Provider),
		zap.String("msg_id", req.MsgID),
	)

	system := BuildSystemPrompt(req.Persona, req.Memories, req.Config.WebSearchEnabled())
	prompt := history.Trim(system, req.History, req.NewTurn, o.opts.HistoryLimitTokens)
	run.result.Prompt = prompt
	log.Debug("提示词构建完成",
		zap.Int("messages", len(prompt)),
		zap.Int("estimated_tokens", tokens.EstimateMessages(prompt)),
		zap.String("counter", o.counter.Name()),
		zap.Int("counted_tokens", o.counter.Count(tokens.Flatten(prompt))),
	)

	t := &task{
		o:      o,
		model:  model,
		req:    req,
		out:    run.emitter,
		result: run.result,
		log:    log,
	}

	session, err := o.tools.Connect(ctx, &req.Config)
	if err != nil {
		t.finish(ctx, err)
		return
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.Warn("关闭工具会话失败", zap.Error(err))
		}
	}()
	t.session = session
	t.tools = session.Tools()
	run.result.Tools = t.tools

	full, err := t.stream(ctx, prompt, types.RoleAssistant, 0)
	run.result.FullResponse = full
	t.finish(ctx, err)
}

// task 任务树共享的状态；每层递归是树上的一个节点
type task struct {
	o       *Orchestrator
	model   *Model
	req     *Request
	out     *Emitter
	session ToolSession
	tools   []types.Tool
	result  *Result
	log     *logger.Logger
}

func (t *task) finish(ctx context.Context, err error) {
	switch {
	case err == nil:
		t.log.Info("补全完成", zap.Int("tool_calls", t.result.ToolCalls), zap.Int("response_len", len(t.result.FullResponse)))
	case isAbort(ctx, err):
		t.result.Aborted = true
		t.out.Abort(t.frame(types.FrameAbort, "aborted", ""))
		t.log.Info("补全已中止", zap.Error(err))
	case errors.Is(err, errStreamFailed):
		t.result.Err = err
	default:
		t.result.Err = err
		t.log.Error("补全异常", zap.Error(err))
		_ = t.out.Send(ctx, t.frame(types.FrameError, "internal error", ""))
	}
}

// stream 一次服务商调用及其工具调用子树，返回本节点及子节点累计的文本
func (t *task) stream(ctx context.Context, messages []types.Message, role types.Role, depth int) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	httpReq, err := t.model.Adapter.BuildRequest(ctx, &StreamRequest{
		Model:            t.model.Upstream,
		Messages:         messages,
		Tools:            t.tools,
		Temperature:      t.req.Config.Temperature,
		TopP:             t.req.Config.TopP,
		FrequencyPenalty: t.req.Config.FrequencyPenalty,
		PresencePenalty:  t.req.Config.PresencePenalty,
		SupportsMedia:    t.req.Config.SupportsMedia,
	})
	if err != nil {
		return "", err
	}

	resp, err := t.o.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", t.fail(ctx, fmt.Sprintf("provider request failed: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		msg := t.model.Adapter.ErrorMessage(resp.StatusCode, body)
		t.log.Warn("服务商返回错误", zap.Int("status", resp.StatusCode), zap.String("message", msg))
		return "", t.fail(ctx, msg)
	}

	var own strings.Builder
	calls := newToolCallAccumulator()
	reader := bufio.NewReaderSize(resp.Body, 64<<10)
	for {
		if err := ctx.Err(); err != nil {
			return own.String(), err
		}
		line, readErr := reader.ReadString('\n')
		if len(line) > maxStreamLineBytes {
			t.log.Warn("流式帧过大，已跳过", zap.Int("bytes", len(line)))
			line = ""
		}
		if line != "" {
			if err := t.handleLine(ctx, line, role, &own, calls); err != nil {
				return own.String(), err
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			if ctx.Err() != nil {
				return own.String(), ctx.Err()
			}
			return own.String(), t.fail(ctx, fmt.Sprintf("provider stream interrupted: %v", readErr))
		}
	}

	if calls.Len() == 0 {
		return own.String(), nil
	}
	return t.runTools(ctx, messages, own.String(), calls.Calls(), depth)
}

func (t *task) handleLine(ctx context.Context, line string, role types.Role, own *strings.Builder, calls *toolCallAccumulator) error {
	delta, err := t.model.Adapter.ParseStreamFrame(line)
	if err != nil {
		t.log.Warn("跳过无法解析的流式帧", zap.Error(err), zap.String("line", truncate(line, 256)))
		return nil
	}
	if delta == nil {
		return nil
	}
	if delta.ErrorMessage != "" {
		return t.fail(ctx, delta.ErrorMessage)
	}
	for _, tc := range delta.ToolCalls {
		calls.Merge(tc)
	}
	if delta.Content == "" {
		return nil
	}
	own.WriteString(delta.Content)
	return t.out.Send(ctx, t.frame(types.FrameText, delta.Content, string(role)))
}

// runTools 按 index 顺序逐个执行工具调用，每个成功的调用之后递归一次。
// 续写请求里的 assistant 消息只列出已经有结果的调用
func (t *task) runTools(ctx context.Context, messages []types.Message, text string, calls []types.ToolCallRef, depth int) (string, error) {
	var full strings.Builder
	full.WriteString(text)
	t.result.ToolCalls += len(calls)

	if depth+1 > t.o.opts.MaxToolDepth {
		t.log.Warn("工具调用深度超限", zap.Int("depth", depth))
		err := t.out.Send(ctx, t.frame(types.FrameError, apperrors.FormatError(apperrors.ErrToolDepthExceeded), ""))
		return full.String(), err
	}

	results := make([]types.Message, 0, len(calls))
	for i, call := range calls {
		if err := ctx.Err(); err != nil {
			return full.String(), err
		}

		progress := t.frame(types.FrameEvent, "calling tool "+call.Function.Name, string(types.RoleAssistant))
		progress.ToolCalls = []types.ToolCallRef{call}
		if err := t.out.Send(ctx, progress); err != nil {
			return full.String(), err
		}

		output, callErr := t.session.Call(ctx, call.Function.Name, call.Function.Arguments)
		if err := ctx.Err(); err != nil {
			return full.String(), err
		}
		if callErr != nil {
			t.log.Warn("工具调用失败", zap.String("tool", call.Function.Name), zap.String("call_id", call.ID), zap.Error(callErr))
			msg := fmt.Sprintf("tool %s failed: %v", call.Function.Name, callErr)
			f := t.frame(types.FrameError, msg, string(types.RoleTool))
			f.ToolCallID = call.ID
			if err := t.out.Send(ctx, f); err != nil {
				return full.String(), err
			}
			results = append(results, types.NewToolMessage(call.ID, "Error: "+msg))
			continue
		}

		f := t.frame(types.FrameEvent, output, string(types.RoleTool))
		f.ToolCallID = call.ID
		if err := t.out.Send(ctx, f); err != nil {
			return full.String(), err
		}
		results = append(results, types.NewToolMessage(call.ID, output))

		next := make([]types.Message, 0, len(messages)+1+len(results))
		next = append(next, messages...)
		next = append(next, types.Message{
			Role:      types.RoleAssistant,
			Content:   types.StringContent(text),
			ToolCalls: calls[:i+1],
		})
		next = append(next, results...)

		child, err := t.stream(ctx, next, types.RoleTool, depth+1)
		full.WriteString(child)
		if err != nil {
			return full.String(), err
		}
	}
	return full.String(), nil
}

// fail 发送一个错误帧并终止任务树
func (t *task) fail(ctx context.Context, msg string) error {
	if err := t.out.Send(ctx, t.frame(types.FrameError, msg, "")); err != nil {
		return err
	}
	return fmt.Errorf("%w: %w", errStreamFailed, apperrors.New(apperrors.ErrUpstreamProvider, msg))
}

func (t *task) frame(typ types.FrameType, text, role string) *types.Frame {
	return &types.Frame{
		Response: text,
		MsgID:    t.req.MsgID,
		Type:     typ,
		Created:  time.Now().Unix(),
		Model:    &types.ModelRef{Name: t.model.ID, Provider: t.model.Provider},
		Role:     role,
	}
}

// isAbort 取消和超时都视为中止，不产生错误帧
func isAbort(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return true
	}
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		apperrors.Is(err, apperrors.ErrAborted)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
