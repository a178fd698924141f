package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/lk2023060901/agentchat-backend/internal/websearch/types"
)

// SearXNGProvider implements the SearXNG search API
type SearXNGProvider struct {
	*BaseProvider
}

// NewSearXNGProvider creates a new SearXNG provider
func NewSearXNGProvider(config *types.ProviderConfig) (Provider, error) {
	return &SearXNGProvider{BaseProvider: NewBaseProvider(config)}, nil
}

type searxngResponse struct {
	Results []struct {
		Title         string  `json:"title"`
		URL           string  `json:"url"`
		Content       string  `json:"content"`
		Score         float32 `json:"score"`
		PublishedDate string  `json:"publishedDate,omitempty"`
	} `json:"results"`
}

// Search executes a search query using the SearXNG API.
// SearXNG 不支持指定返回条数，结果在本地截断
func (p *SearXNGProvider) Search(ctx context.Context, req *types.SearchRequest) (*types.SearchResponse, error) {
	if req.Query == "" {
		return nil, types.ErrEmptyQuery
	}
	startTime := time.Now()

	params := url.Values{}
	params.Set("q", req.Query)
	params.Set("format", "json")
	params.Set("pageno", "1")
	apiURL := p.Endpoint("/search") + "?" + params.Encode()

	body, err := p.DoRequest(ctx, func(ctx context.Context, _ string) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
		if err != nil {
			return nil, err
		}
		p.SetDefaultHeaders(httpReq)
		if p.config.BasicAuthUsername != "" {
			httpReq.SetBasicAuth(p.config.BasicAuthUsername, p.config.BasicAuthPassword)
		}
		return httpReq, nil
	})
	if err != nil {
		return nil, err
	}

	var searxngResp searxngResponse
	if err := json.Unmarshal(body, &searxngResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	limit := min(p.MaxResults(req), len(searxngResp.Results))
	results := make([]*types.SearchResult, limit)
	for i, r := range searxngResp.Results[:limit] {
		results[i] = &types.SearchResult{
			Title:       r.Title,
			URL:         r.URL,
			Snippet:     r.Content,
			Score:       r.Score,
			PublishedAt: r.PublishedDate,
		}
	}

	return &types.SearchResponse{
		Query:    req.Query,
		Results:  results,
		Took:     time.Since(startTime).Milliseconds(),
		Provider: p.GetID(),
	}, nil
}
