package tools

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/lk2023060901/agentchat-backend/internal/assistant/types"
	apperrors "github.com/lk2023060901/agentchat-backend/internal/pkg/errors"
	"github.com/lk2023060901/agentchat-backend/internal/websearch"
	wstypes "github.com/lk2023060901/agentchat-backend/internal/websearch/types"
)

// Searcher 执行 web_search，由 websearch.Service 实现
type Searcher interface {
	Run(ctx context.Context, query string, urls []string) ([]*wstypes.SearchResult, error)
}

var webSearchSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {"type": "string", "description": "Search engine query"},
		"urls": {"type": "array", "items": {"type": "string"}, "description": "Web pages to read directly"}
	}
}`)

// WebSearchTool 内置联网搜索工具的声明
func WebSearchTool() types.Tool {
	return types.NewFunctionTool(
		types.WebSearchToolName,
		"Search the web for up-to-date information, or read the content of specific web pages. Provide a query, a list of urls, or both.",
		webSearchSchema,
	)
}

type webSearchArgs struct {
	Query string   `json:"query"`
	URLs  []string `json:"urls"`
}

func runWebSearch(ctx context.Context, searcher Searcher, arguments string) (string, error) {
	var args webSearchArgs
	if strings.TrimSpace(arguments) != "" {
		if err := json.Unmarshal([]byte(arguments), &args); err != nil {
			return "", apperrors.Wrap(err, apperrors.ErrToolExecution, "invalid web_search arguments")
		}
	}

	var urls []string
	for _, u := range args.URLs {
		if u = strings.TrimSpace(u); u != "" {
			urls = append(urls, u)
		}
	}

	results, err := searcher.Run(ctx, args.Query, urls)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrToolExecution, "web_search failed")
	}
	return websearch.FormatResults(results), nil
}
