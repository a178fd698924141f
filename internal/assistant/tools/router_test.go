package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lk2023060901/agentchat-backend/internal/assistant/tools/mcp"
	"github.com/lk2023060901/agentchat-backend/internal/assistant/types"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/logger"
	"github.com/lk2023060901/agentchat-backend/internal/websearch"
	wstypes "github.com/lk2023060901/agentchat-backend/internal/websearch/types"
)

type fakeRemote struct {
	name    string
	tools   []mcp.Tool
	listErr error
	delay   time.Duration
	output  string
	callErr error

	calls     atomic.Int32
	cancelled atomic.Bool
	closed    atomic.Int32
}

func (f *fakeRemote) Name() string { return f.name }

func (f *fakeRemote) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return f.tools, f.listErr
}

func (f *fakeRemote) CallTool(ctx context.Context, name string, args json.RawMessage) (string, error) {
	f.calls.Add(1)
	select {
	case <-time.After(f.delay):
	case <-ctx.Done():
		f.cancelled.Store(true)
		return "", ctx.Err()
	}
	if f.callErr != nil {
		return "", f.callErr
	}
	return fmt.Sprintf("%s(%s)=%s", name, args, f.output), nil
}

func (f *fakeRemote) Close() error {
	f.closed.Add(1)
	return nil
}

type fakeSearcher struct {
	mu      sync.Mutex
	query   string
	urls    []string
	results []*wstypes.SearchResult
	err     error
}

func (f *fakeSearcher) Run(ctx context.Context, query string, urls []string) ([]*wstypes.SearchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.query, f.urls = query, urls
	return f.results, f.err
}

func connector(searcher Searcher, remotes map[string]*fakeRemote, dialErr map[string]error) *Connector {
	c := NewConnector(searcher, Config{}, nil)
	return c.WithDialer(func(ctx context.Context, s types.ToolServerConfig) (RemoteClient, error) {
		if err := dialErr[s.Name]; err != nil {
			return nil, err
		}
		return remotes[s.Name], nil
	})
}

func toolNames(tools []types.Tool) []string {
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Function.Name
	}
	return names
}

func servers(names ...string) []types.ToolServerConfig {
	out := make([]types.ToolServerConfig, len(names))
	for i, n := range names {
		out[i] = types.ToolServerConfig{Name: n, URL: "http://" + n}
	}
	return out
}

func TestConnector_PartialFailure(t *testing.T) {
	good := &fakeRemote{name: "good", tools: []mcp.Tool{{Name: "calc"}, {Name: "weather"}}}
	badList := &fakeRemote{name: "bad-list", listErr: errors.New("boom")}
	remotes := map[string]*fakeRemote{"good": good, "bad-list": badList}

	core, logs := observer.New(zapcore.DebugLevel)
	ctx := logger.ToContext(context.Background(), &logger.Logger{Logger: zap.New(core)})

	c := connector(&fakeSearcher{}, remotes, map[string]error{"down": errors.New("connection refused")})
	session, err := c.Connect(ctx, &types.CompletionConfig{
		Tools:       []string{types.WebSearchToolName},
		ToolServers: servers("down", "good", "bad-list"),
	})
	require.NoError(t, err)

	degraded := map[string]string{}
	for _, entry := range logs.FilterLevelExact(zapcore.WarnLevel).All() {
		degraded[entry.ContextMap()["server"].(string)] = entry.Message
	}
	assert.Equal(t, map[string]string{
		"down":     "工具服务器连接失败，已降级跳过",
		"bad-list": "工具服务器获取工具列表失败，已降级跳过",
	}, degraded)
	ready := logs.FilterMessage("工具会话就绪").All()
	require.Len(t, ready, 1)
	assert.EqualValues(t, 1, ready[0].ContextMap()["connected"])

	assert.Equal(t, []string{types.WebSearchToolName, "calc", "weather"}, toolNames(session.Tools()))
	assert.EqualValues(t, 1, badList.closed.Load())

	require.NoError(t, session.Close())
	require.NoError(t, session.Close())
	assert.EqualValues(t, 1, good.closed.Load())
}

func TestConnector_ToolMerging(t *testing.T) {
	a := &fakeRemote{name: "a", tools: []mcp.Tool{{Name: "calc", Description: "from a"}, {Name: types.WebSearchToolName}}}
	b := &fakeRemote{name: "b", tools: []mcp.Tool{{Name: "calc", Description: "from b"}, {Name: ""}}}
	remotes := map[string]*fakeRemote{"a": a, "b": b}

	tests := []struct {
		name      string
		tools     []string
		searcher  Searcher
		wantTools []string
	}{
		{name: "web search enabled shadows remote", tools: []string{types.WebSearchToolName}, searcher: &fakeSearcher{}, wantTools: []string{types.WebSearchToolName, "calc"}},
		{name: "web search disabled exposes remote", wantTools: []string{"calc", types.WebSearchToolName}},
		{name: "no searcher configured", tools: []string{types.WebSearchToolName}, wantTools: []string{"calc", types.WebSearchToolName}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := connector(tt.searcher, remotes, nil)
			session, err := c.Connect(context.Background(), &types.CompletionConfig{Tools: tt.tools, ToolServers: servers("a", "b")})
			require.NoError(t, err)
			defer session.Close()

			assert.Equal(t, tt.wantTools, toolNames(session.Tools()))
			for _, tool := range session.Tools() {
				if tool.Function.Name == "calc" {
					assert.Equal(t, "from a", tool.Function.Description)
				}
			}
		})
	}
}

func TestConnector_GlobalServersFirst(t *testing.T) {
	remotes := map[string]*fakeRemote{
		"global":  {name: "global", tools: []mcp.Tool{{Name: "g"}}},
		"request": {name: "request", tools: []mcp.Tool{{Name: "r"}}},
	}
	c := NewConnector(nil, Config{Servers: servers("global")}, nil).WithDialer(func(ctx context.Context, s types.ToolServerConfig) (RemoteClient, error) {
		return remotes[s.Name], nil
	})

	session, err := c.Connect(context.Background(), &types.CompletionConfig{ToolServers: servers("request")})
	require.NoError(t, err)
	defer session.Close()
	assert.Equal(t, []string{"g", "r"}, toolNames(session.Tools()))
}

func TestConnector_CancelledContext(t *testing.T) {
	remote := &fakeRemote{name: "a", tools: []mcp.Tool{{Name: "calc"}}}
	c := connector(nil, map[string]*fakeRemote{"a": remote}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Connect(ctx, &types.CompletionConfig{ToolServers: servers("a")})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSession_CallRace(t *testing.T) {
	tests := []struct {
		name       string
		remotes    []*fakeRemote
		want       string
		wantErr    bool
		wantCancel string
	}{
		{
			name: "fast failure slow success",
			remotes: []*fakeRemote{
				{name: "fast", delay: time.Millisecond, callErr: errors.New("nope")},
				{name: "slow", delay: 50 * time.Millisecond, output: "slow"},
			},
			want: `calc({"x":1})=slow`,
		},
		{
			name: "first success wins",
			remotes: []*fakeRemote{
				{name: "slow", delay: 5 * time.Second, output: "slow"},
				{name: "fast", delay: time.Millisecond, output: "fast"},
			},
			want:       `calc({"x":1})=fast`,
			wantCancel: "slow",
		},
		{
			name: "all fail",
			remotes: []*fakeRemote{
				{name: "a", callErr: errors.New("a down")},
				{name: "b", callErr: errors.New("b down")},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			remotes := map[string]*fakeRemote{}
			var names []string
			for _, r := range tt.remotes {
				r.tools = []mcp.Tool{{Name: "calc"}}
				remotes[r.name] = r
				names = append(names, r.name)
			}
			session, err := connector(nil, remotes, nil).Connect(context.Background(), &types.CompletionConfig{ToolServers: servers(names...)})
			require.NoError(t, err)
			defer session.Close()

			out, err := session.Call(context.Background(), "calc", `{"x":1}`)
			for _, r := range tt.remotes {
				assert.Eventually(t, func() bool { return r.calls.Load() == 1 }, time.Second, time.Millisecond, r.name)
			}
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrToolExecution)
				assert.Contains(t, err.Error(), "all tool servers failed")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
			if tt.wantCancel != "" {
				assert.Eventually(t, remotes[tt.wantCancel].cancelled.Load, time.Second, 5*time.Millisecond)
			}
		})
	}
}

func TestSession_CallErrors(t *testing.T) {
	remote := &fakeRemote{name: "a", tools: []mcp.Tool{{Name: "calc"}}}
	session, err := connector(nil, map[string]*fakeRemote{"a": remote}, nil).Connect(context.Background(), &types.CompletionConfig{ToolServers: servers("a")})
	require.NoError(t, err)
	defer session.Close()

	_, err = session.Call(context.Background(), "missing", "{}")
	assert.ErrorIs(t, err, ErrToolExecution)

	_, err = session.Call(context.Background(), "calc", `{"x":`)
	assert.ErrorIs(t, err, ErrToolExecution)
	assert.EqualValues(t, 0, remote.calls.Load())

	out, err := session.Call(context.Background(), "calc", "")
	require.NoError(t, err)
	assert.Equal(t, "calc({})=", out)
}

func TestSession_WebSearch(t *testing.T) {
	results := []*wstypes.SearchResult{{Title: "Go", URL: "https://go.dev", Snippet: "The Go language"}}
	searcher := &fakeSearcher{results: results}
	session, err := connector(searcher, nil, nil).Connect(context.Background(), &types.CompletionConfig{Tools: []string{types.WebSearchToolName}})
	require.NoError(t, err)
	defer session.Close()

	out, err := session.Call(context.Background(), types.WebSearchToolName, `{"query":"golang","urls":[" https://a ",""]}`)
	require.NoError(t, err)
	assert.Equal(t, websearch.FormatResults(results), out)
	assert.Equal(t, "golang", searcher.query)
	assert.Equal(t, []string{"https://a"}, searcher.urls)

	_, err = session.Call(context.Background(), types.WebSearchToolName, `not json`)
	assert.ErrorIs(t, err, ErrToolExecution)

	searcher.err = wstypes.ErrEmptyQuery
	_, err = session.Call(context.Background(), types.WebSearchToolName, `{}`)
	assert.ErrorIs(t, err, ErrToolExecution)
	assert.ErrorIs(t, err, wstypes.ErrEmptyQuery)
}

type addInput struct {
	A int `json:"a"`
	B int `json:"b"`
}

func TestConnector_RealToolServer(t *testing.T) {
	server := gomcp.NewServer(&gomcp.Implementation{Name: "calc", Version: "1"}, nil)
	gomcp.AddTool(server, &gomcp.Tool{Name: "add", Description: "add numbers"},
		func(_ context.Context, _ *gomcp.CallToolRequest, in addInput) (*gomcp.CallToolResult, any, error) {
			return &gomcp.CallToolResult{Content: []gomcp.Content{&gomcp.TextContent{Text: strconv.Itoa(in.A + in.B)}}}, nil, nil
		})
	srv := httptest.NewServer(gomcp.NewStreamableHTTPHandler(func(*http.Request) *gomcp.Server { return server }, nil))
	defer func() {
		srv.CloseClientConnections()
		srv.Close()
	}()

	c := NewConnector(nil, Config{}, srv.Client())
	session, err := c.Connect(context.Background(), &types.CompletionConfig{
		ToolServers: []types.ToolServerConfig{{Name: "calc", URL: srv.URL, Transport: types.TransportHTTP}},
	})
	require.NoError(t, err)
	defer session.Close()

	require.Len(t, session.Tools(), 1)
	assert.Equal(t, "add", session.Tools()[0].Function.Name)
	params := session.Tools()[0].Function.Parameters
	assert.Equal(t, "object", gjson.GetBytes(params, "type").String())
	assert.Equal(t, "integer", gjson.GetBytes(params, "properties.a.type").String())

	out, err := session.Call(context.Background(), "add", `{"a":1,"b":2}`)
	require.NoError(t, err)
	assert.Equal(t, "3", out)
}
