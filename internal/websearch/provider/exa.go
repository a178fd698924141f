package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lk2023060901/agentchat-backend/internal/websearch/types"
)

// ExaProvider implements the Exa AI search API
type ExaProvider struct {
	*BaseProvider
}

// NewExaProvider creates a new Exa provider
func NewExaProvider(config *types.ProviderConfig) (Provider, error) {
	return &ExaProvider{BaseProvider: NewBaseProvider(config)}, nil
}

type exaRequest struct {
	Query          string         `json:"query"`
	NumResults     int            `json:"numResults,omitempty"`
	IncludeDomains []string       `json:"includeDomains,omitempty"`
	ExcludeDomains []string       `json:"excludeDomains,omitempty"`
	Type           string         `json:"type,omitempty"` // "neural", "keyword", or "auto"
	Contents       map[string]any `json:"contents,omitempty"`
}

type exaResponse struct {
	Results []struct {
		Title         string   `json:"title"`
		URL           string   `json:"url"`
		Text          string   `json:"text,omitempty"`
		Highlights    []string `json:"highlights,omitempty"`
		Score         float32  `json:"score"`
		PublishedDate string   `json:"publishedDate,omitempty"`
	} `json:"results"`
}

// Search executes a search query using the Exa API
func (p *ExaProvider) Search(ctx context.Context, req *types.SearchRequest) (*types.SearchResponse, error) {
	if req.Query == "" {
		return nil, types.ErrEmptyQuery
	}
	startTime := time.Now()

	reqBody, err := json.Marshal(exaRequest{
		Query:          req.Query,
		NumResults:     p.MaxResults(req),
		IncludeDomains: req.IncludeDomains,
		ExcludeDomains: req.ExcludeDomains,
		Type:           "auto",
		Contents: map[string]any{
			"text":       map[string]any{"maxCharacters": 2000},
			"highlights": true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := p.DoRequest(ctx, func(ctx context.Context, apiKey string) (*http.Request, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.Endpoint("/search"), bytes.NewReader(reqBody))
		if err != nil {
			return nil, err
		}
		p.SetDefaultHeaders(httpReq)
		httpReq.Header.Set("x-api-key", apiKey)
		return httpReq, nil
	})
	if err != nil {
		return nil, err
	}

	var exaResp exaResponse
	if err := json.Unmarshal(body, &exaResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	results := make([]*types.SearchResult, len(exaResp.Results))
	for i, r := range exaResp.Results {
		// 有 highlights 时用作摘要，正文放 Content
		snippet := strings.Join(r.Highlights, "\n")
		if snippet == "" {
			snippet = r.Text
		}
		results[i] = &types.SearchResult{
			Title:       r.Title,
			URL:         r.URL,
			Snippet:     snippet,
			Content:     r.Text,
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
