package llm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lk2023060901/agentchat-backend/internal/assistant/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSession struct {
	mu     sync.Mutex
	tools  []types.Tool
	args   []string
	output string
	reply  func(name, arguments string) string
	err    error
	closed bool
}

func (s *fakeSession) Tools() []types.Tool { return s.tools }

func (s *fakeSession) Call(_ context.Context, name, arguments string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.args = append(s.args, name+" "+arguments)
	if s.err != nil {
		return "", s.err
	}
	if s.reply != nil {
		return s.reply(name, arguments), nil
	}
	return s.output, nil
}

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeConnector struct{ session *fakeSession }

func (c *fakeConnector) Connect(context.Context, *types.CompletionConfig) (ToolSession, error) {
	return c.session, nil
}

func writeChunks(w http.ResponseWriter, chunks ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, c := range chunks {
		fmt.Fprintf(w, "data: %s\n\n", c)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
	}
}

func contentChunk(text string) string {
	return fmt.Sprintf(`{"choices":[{"index":0,"delta":{"content":%q}}]}`, text)
}

func newTestOrchestrator(t *testing.T, srv *httptest.Server, session *fakeSession, opts Options) *Orchestrator {
	t.Helper()
	registry, err := NewRegistry(
		[]ProviderConfig{{Name: "test", Type: AdapterOpenAI, BaseURL: srv.URL, APIKey: "sk-test"}},
		[]ModelConfig{{ID: "model-x", Provider: "test", InputCreditsPer1000Tokens: 5, OutputCreditsPer1000Tokens: 10}},
	)
	require.NoError(t, err)
	if session == nil {
		session = &fakeSession{}
	}
	return NewOrchestrator(registry, &fakeConnector{session: session}, srv.Client(), nil, opts)
}

func newRequest() *Request {
	return &Request{
		MsgID:   "msg-1",
		Persona: "You are a test agent.",
		NewTurn: types.NewTextMessage(types.RoleUser, "hi"),
		Config:  types.CompletionConfig{Model: "model-x"},
	}
}

func collect(t *testing.T, run *Run) []*types.Frame {
	t.Helper()
	var frames []*types.Frame
	timeout := time.After(5 * time.Second)
	for {
		select {
		case f, ok := <-run.Frames():
			if !ok {
				return frames
			}
			frames = append(frames, f)
		case <-timeout:
			t.Fatal("stream did not close")
		}
	}
}

func frameTypes(frames []*types.Frame) []types.FrameType {
	out := make([]types.FrameType, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

func TestOrchestrator_RelaysText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		writeChunks(w, contentChunk("Hello"), contentChunk(" world"), "[DONE]")
	}))
	defer srv.Close()

	session := &fakeSession{}
	o := newTestOrchestrator(t, srv, session, DefaultOptions())
	run, err := o.Start(context.Background(), newRequest())
	require.NoError(t, err)

	frames := collect(t, run)
	require.Len(t, frames, 2)
	assert.Equal(t, "Hello", frames[0].Response)
	assert.Equal(t, " world", frames[1].Response)
	for _, f := range frames {
		assert.Equal(t, types.FrameText, f.Type)
		assert.Equal(t, "msg-1", f.MsgID)
		assert.Equal(t, "assistant", f.Role)
		assert.Equal(t, &types.ModelRef{Name: "model-x", Provider: "test"}, f.Model)
	}

	res := run.Wait()
	assert.Equal(t, "Hello world", res.FullResponse)
	assert.NoError(t, res.Err)
	assert.False(t, res.Aborted)
	assert.Equal(t, types.RoleSystem, res.Prompt[0].Role)
	assert.True(t, session.closed)
}

func TestOrchestrator_SkipsMalformedFrames(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeChunks(w, contentChunk("a"), `{"choices":[{"delta":{"content":"b"`, contentChunk("c"), "[DONE]")
	}))
	defer srv.Close()

	o := newTestOrchestrator(t, srv, nil, DefaultOptions())
	run, err := o.Start(context.Background(), newRequest())
	require.NoError(t, err)

	frames := collect(t, run)
	assert.Equal(t, []types.FrameType{types.FrameText, types.FrameText}, frameTypes(frames))
	assert.Equal(t, "ac", run.Wait().FullResponse)
}

func TestOrchestrator_AssemblesSplitToolCall(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if requests.Add(1) == 1 {
			writeChunks(w,
				`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"lookup","arguments":"{\"qu"}}]}}]}`,
				`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ery\":1}"}}]}}]}`,
				"[DONE]",
			)
			return
		}
		assert.Contains(t, string(body), `"tool_call_id":"call_1"`)
		assert.Contains(t, string(body), `"content":"42"`)
		writeChunks(w, contentChunk("answer"), "[DONE]")
	}))
	defer srv.Close()

	session := &fakeSession{
		tools:  []types.Tool{types.NewFunctionTool("lookup", "look things up", nil)},
		output: "42",
	}
	o := newTestOrchestrator(t, srv, session, DefaultOptions())
	run, err := o.Start(context.Background(), newRequest())
	require.NoError(t, err)

	frames := collect(t, run)
	require.Equal(t, []types.FrameType{types.FrameEvent, types.FrameEvent, types.FrameText}, frameTypes(frames))

	require.Len(t, frames[0].ToolCalls, 1)
	assert.Equal(t, "call_1", frames[0].ToolCalls[0].ID)
	assert.Equal(t, `{"query":1}`, frames[0].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "42", frames[1].Response)
	assert.Equal(t, "tool", frames[1].Role)
	assert.Equal(t, "call_1", frames[1].ToolCallID)
	assert.Equal(t, "answer", frames[2].Response)
	assert.Equal(t, "tool", frames[2].Role)

	assert.Equal(t, []string{`lookup {"query":1}`}, session.args)
	res := run.Wait()
	assert.Equal(t, "answer", res.FullResponse)
	assert.Equal(t, 1, res.ToolCalls)
	assert.Equal(t, int32(2), requests.Load())
}

func TestOrchestrator_SiblingToolCallsRunInIndexOrder(t *testing.T) {
	var (
		mu     sync.Mutex
		bodies []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		bodies = append(bodies, string(body))
		n := len(bodies)
		mu.Unlock()

		switch n {
		case 1:
			// index 1 先到
			writeChunks(w,
				`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"t","arguments":"{\"v\":\"B\"}"}}]}}]}`,
				`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"t","arguments":"{\"v\":\"A\"}"}}]}}]}`,
				"[DONE]",
			)
		case 2:
			writeChunks(w, contentChunk("after-A"), "[DONE]")
		default:
			writeChunks(w, contentChunk("after-B"), "[DONE]")
		}
	}))
	defer srv.Close()

	session := &fakeSession{
		tools: []types.Tool{types.NewFunctionTool("t", "test tool", nil)},
		reply: func(_, arguments string) string {
			return "R:" + strings.TrimSuffix(strings.TrimPrefix(arguments, `{"v":"`), `"}`)
		},
	}
	o := newTestOrchestrator(t, srv, session, DefaultOptions())
	run, err := o.Start(context.Background(), newRequest())
	require.NoError(t, err)

	frames := collect(t, run)
	require.Equal(t, []types.FrameType{
		types.FrameEvent, types.FrameEvent, types.FrameText,
		types.FrameEvent, types.FrameEvent, types.FrameText,
	}, frameTypes(frames))

	assert.Equal(t, "call_a", frames[0].ToolCalls[0].ID)
	assert.Equal(t, "R:A", frames[1].Response)
	assert.Equal(t, "call_a", frames[1].ToolCallID)
	assert.Equal(t, "after-A", frames[2].Response)
	assert.Equal(t, "call_b", frames[3].ToolCalls[0].ID)
	assert.Equal(t, "R:B", frames[4].Response)
	assert.Equal(t, "call_b", frames[4].ToolCallID)
	assert.Equal(t, "after-B", frames[5].Response)
	assert.Equal(t, []string{`t {"v":"A"}`, `t {"v":"B"}`}, session.args)

	res := run.Wait()
	assert.Equal(t, "after-Aafter-B", res.FullResponse)
	assert.Equal(t, 2, res.ToolCalls)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, bodies, 3)
	assert.Contains(t, bodies[1], `"content":"R:A"`)
	assert.NotContains(t, bodies[1], `"call_b"`)
	for _, want := range []string{`"tool_call_id":"call_a"`, `"content":"R:A"`, `"tool_call_id":"call_b"`, `"content":"R:B"`} {
		assert.Contains(t, bodies[2], want)
	}
}

func TestOrchestrator_ToolFailureContinues(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		writeChunks(w,
			contentChunk("checking"),
			`{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"name":"broken","arguments":"{}"}}]}}]}`,
			"[DONE]",
		)
	}))
	defer srv.Close()

	session := &fakeSession{err: errors.New("server unavailable")}
	o := newTestOrchestrator(t, srv, session, DefaultOptions())
	run, err := o.Start(context.Background(), newRequest())
	require.NoError(t, err)

	frames := collect(t, run)
	require.Equal(t, []types.FrameType{types.FrameText, types.FrameEvent, types.FrameError}, frameTypes(frames))
	assert.True(t, strings.HasPrefix(frames[1].ToolCalls[0].ID, "call_"))
	assert.Equal(t, frames[1].ToolCalls[0].ID, frames[2].ToolCallID)
	assert.Contains(t, frames[2].Response, "server unavailable")

	res := run.Wait()
	assert.NoError(t, res.Err)
	assert.Equal(t, int32(1), requests.Load())
}

func TestOrchestrator_DepthLimit(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		writeChunks(w, `{"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"c","function":{"name":"loop","arguments":"{}"}}]}}]}`)
	}))
	defer srv.Close()

	opts := DefaultOptions()
	opts.MaxToolDepth = 1
	o := newTestOrchestrator(t, srv, &fakeSession{output: "again"}, opts)
	run, err := o.Start(context.Background(), newRequest())
	require.NoError(t, err)

	frames := collect(t, run)
	assert.Equal(t, []types.FrameType{types.FrameEvent, types.FrameEvent, types.FrameError}, frameTypes(frames))
	assert.Equal(t, int32(2), requests.Load())
}

func TestOrchestrator_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"invalid api key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	o := newTestOrchestrator(t, srv, nil, DefaultOptions())
	run, err := o.Start(context.Background(), newRequest())
	require.NoError(t, err)

	frames := collect(t, run)
	require.Len(t, frames, 1)
	assert.Equal(t, types.FrameError, frames[0].Type)
	assert.Equal(t, "invalid api key", frames[0].Response)

	res := run.Wait()
	assert.Error(t, res.Err)
	assert.False(t, res.Aborted)
}

func TestOrchestrator_InStreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeChunks(w, contentChunk("partial"), `{"error":{"message":"overloaded"}}`, contentChunk("never"))
	}))
	defer srv.Close()

	o := newTestOrchestrator(t, srv, nil, DefaultOptions())
	run, err := o.Start(context.Background(), newRequest())
	require.NoError(t, err)

	frames := collect(t, run)
	assert.Equal(t, []types.FrameType{types.FrameText, types.FrameError}, frameTypes(frames))
	assert.Equal(t, "partial", run.Wait().FullResponse)
}

func TestOrchestrator_CancellationEmitsSingleAbort(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeChunks(w, contentChunk("first"))
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()

	o := newTestOrchestrator(t, srv, nil, DefaultOptions())
	ctx, cancel := context.WithCancel(context.Background())
	run, err := o.Start(ctx, newRequest())
	require.NoError(t, err)

	first := <-run.Frames()
	require.Equal(t, types.FrameText, first.Type)
	cancel()

	rest := collect(t, run)
	require.Len(t, rest, 1)
	assert.Equal(t, types.FrameAbort, rest[0].Type)

	res := run.Wait()
	assert.True(t, res.Aborted)
	assert.NoError(t, res.Err)
	assert.Equal(t, "first", res.FullResponse)
}

func TestOrchestrator_UnknownModel(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	o := newTestOrchestrator(t, srv, nil, DefaultOptions())
	req := newRequest()
	req.Config.Model = "nope"
	_, err := o.Start(context.Background(), req)
	assert.ErrorIs(t, err, ErrModelNotFound)
	assert.Equal(t, int32(0), hits.Load())
}
