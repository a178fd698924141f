package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/agentchat-backend/internal/websearch/types"
)

func TestNewBaseProvider(t *testing.T) {
	config := &types.ProviderConfig{
		ID:      types.ProviderTavily,
		Name:    "Tavily",
		APIHost: "https://api.tavily.com",
		APIKey:  "test-key",
		Timeout: 30,
	}

	base := NewBaseProvider(config)
	assert.NotNil(t, base)
	assert.Equal(t, types.ProviderTavily, base.GetID())
	assert.Equal(t, "Tavily", base.GetName())
	assert.Equal(t, "test-key", base.GetAPIKey())
	assert.Equal(t, 30*time.Second, base.httpClient.Timeout)
}

func TestBaseProvider_GetAPIKey_Rotation(t *testing.T) {
	base := NewBaseProvider(&types.ProviderConfig{
		ID:      types.ProviderTavily,
		APIHost: "https://api.tavily.com",
		APIKey:  "key1, key2,,key3",
	})

	assert.Equal(t, "key1", base.GetAPIKey())
	assert.Equal(t, "key2", base.GetAPIKey())
	assert.Equal(t, "key3", base.GetAPIKey())
	assert.Equal(t, "key1", base.GetAPIKey())
}

func TestBaseProvider_GetAPIKey_Concurrent(t *testing.T) {
	base := NewBaseProvider(&types.ProviderConfig{
		ID:      types.ProviderTavily,
		APIHost: "https://api.tavily.com",
		APIKey:  "a,b",
	})

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		counts = map[string]int{}
	)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k := base.GetAPIKey()
			mu.Lock()
			counts[k]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, counts["a"])
	assert.Equal(t, 50, counts["b"])
}

func TestProviderConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  *types.ProviderConfig
		wantErr error
	}{
		{
			name: "valid tavily config",
			config: &types.ProviderConfig{
				ID:      types.ProviderTavily,
				APIHost: "https://api.tavily.com",
				APIKey:  "test-key",
			},
		},
		{
			name: "valid searxng config",
			config: &types.ProviderConfig{
				ID:      types.ProviderSearXNG,
				APIHost: "https://search.example.com",
			},
		},
		{
			name: "searxng basic auth without password",
			config: &types.ProviderConfig{
				ID:                types.ProviderSearXNG,
				APIHost:           "https://search.example.com",
				BasicAuthUsername: "admin",
			},
			wantErr: types.ErrMissingBasicAuthPassword,
		},
		{
			name: "missing provider ID",
			config: &types.ProviderConfig{
				APIHost: "https://api.test.com",
				APIKey:  "test-key",
			},
			wantErr: types.ErrInvalidProviderID,
		},
		{
			name: "missing API host",
			config: &types.ProviderConfig{
				ID:     types.ProviderTavily,
				APIKey: "test-key",
			},
			wantErr: types.ErrInvalidAPIHost,
		},
		{
			name: "missing API key for non-SearXNG provider",
			config: &types.ProviderConfig{
				ID:      types.ProviderExa,
				APIHost: "https://api.exa.ai",
			},
			wantErr: types.ErrMissingAPIKey,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func fastProvider[T Provider](t *testing.T, ctor func(*types.ProviderConfig) (Provider, error), cfg *types.ProviderConfig) T {
	t.Helper()
	p, err := ctor(cfg)
	require.NoError(t, err)
	typed := p.(T)
	return typed
}

func TestTavilyProvider_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Bearer tv-key", r.Header.Get("Authorization"))

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "golang generics", body["query"])
		assert.Equal(t, "basic", body["search_depth"])
		assert.EqualValues(t, 3, body["max_results"])

		_, _ = w.Write([]byte(`{"results":[{"title":"Go","url":"https://go.dev","content":"The Go language","score":0.9}]}`))
	}))
	defer srv.Close()

	p := fastProvider[*TavilyProvider](t, NewTavilyProvider, &types.ProviderConfig{
		ID: types.ProviderTavily, APIHost: srv.URL + "/", APIKey: "tv-key", MaxResults: 3,
	})

	resp, err := p.Search(context.Background(), &types.SearchRequest{Query: "golang generics"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, types.ProviderTavily, resp.Provider)
	assert.Equal(t, &types.SearchResult{Title: "Go", URL: "https://go.dev", Snippet: "The Go language", Score: 0.9}, resp.Results[0])
}

func TestSearXNGProvider_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "rust", r.URL.Query().Get("q"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "admin", user)
		assert.Equal(t, "secret", pass)

		_, _ = w.Write([]byte(`{"results":[
			{"title":"a","url":"https://a","content":"A"},
			{"title":"b","url":"https://b","content":"B"},
			{"title":"c","url":"https://c","content":"C"}]}`))
	}))
	defer srv.Close()

	p := fastProvider[*SearXNGProvider](t, NewSearXNGProvider, &types.ProviderConfig{
		ID: types.ProviderSearXNG, APIHost: srv.URL, BasicAuthUsername: "admin", BasicAuthPassword: "secret",
	})

	resp, err := p.Search(context.Background(), &types.SearchRequest{Query: "rust", MaxResults: 2})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "https://b", resp.Results[1].URL)
	assert.Equal(t, "B", resp.Results[1].Snippet)
}

func TestExaProvider_Search(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "exa-key", r.Header.Get("x-api-key"))
		_, _ = w.Write([]byte(`{"results":[
			{"title":"h","url":"https://h","text":"full text","highlights":["one","two"]},
			{"title":"t","url":"https://t","text":"only text"}]}`))
	}))
	defer srv.Close()

	p := fastProvider[*ExaProvider](t, NewExaProvider, &types.ProviderConfig{
		ID: types.ProviderExa, APIHost: srv.URL, APIKey: "exa-key",
	})

	resp, err := p.Search(context.Background(), &types.SearchRequest{Query: "q"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "one\ntwo", resp.Results[0].Snippet)
	assert.Equal(t, "full text", resp.Results[0].Content)
	assert.Equal(t, "only text", resp.Results[1].Snippet)
}

func TestProvider_EmptyQuery(t *testing.T) {
	p, err := NewTavilyProvider(&types.ProviderConfig{ID: types.ProviderTavily, APIHost: "http://unused", APIKey: "k"})
	require.NoError(t, err)

	_, err = p.Search(context.Background(), &types.SearchRequest{})
	assert.ErrorIs(t, err, types.ErrEmptyQuery)
}

func TestBaseProvider_DoRequest(t *testing.T) {
	tests := []struct {
		name       string
		statuses   []int
		body       string
		wantCalls  int32
		wantStatus int
		wantMsg    string
	}{
		{name: "retries server errors then succeeds", statuses: []int{503, 502, 200}, body: `{}`, wantCalls: 3},
		{name: "gives up after max retries", statuses: []int{500, 500, 500, 500}, body: `{"error":{"message":"boom"}}`, wantCalls: 3, wantStatus: 500, wantMsg: "boom"},
		{name: "client error is not retried", statuses: []int{400}, body: `{"detail":"bad query"}`, wantCalls: 1, wantStatus: 400, wantMsg: "bad query"},
		{name: "plain text error body", statuses: []int{401}, body: "unauthorized", wantCalls: 1, wantStatus: 401, wantMsg: "unauthorized"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				n := calls.Add(1)
				w.WriteHeader(tt.statuses[n-1])
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			base := NewBaseProvider(&types.ProviderConfig{ID: types.ProviderTavily, APIHost: srv.URL, APIKey: "k", MaxRetries: 3})
			base.initialInterval = time.Millisecond

			body, err := base.DoRequest(context.Background(), func(ctx context.Context, _ string) (*http.Request, error) {
				return http.NewRequestWithContext(ctx, http.MethodGet, base.Endpoint("/x"), nil)
			})
			assert.Equal(t, tt.wantCalls, calls.Load())

			if tt.wantStatus == 0 {
				require.NoError(t, err)
				assert.Equal(t, tt.body, string(body))
				return
			}
			var perr *types.ProviderError
			require.ErrorAs(t, err, &perr)
			assert.Equal(t, tt.wantStatus, perr.StatusCode)
			assert.Equal(t, tt.wantMsg, perr.Message)
		})
	}
}
