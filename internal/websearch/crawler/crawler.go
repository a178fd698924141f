package crawler

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/lk2023060901/agentchat-backend/internal/pkg/logger"
	"github.com/lk2023060901/agentchat-backend/internal/pkg/workerpool"
	whttp "github.com/lk2023060901/agentchat-backend/internal/websearch/http"
	"github.com/lk2023060901/agentchat-backend/internal/websearch/types"
)

// Config 抓取配置
type Config struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxBytes    int64         `mapstructure:"max_bytes"`
	MaxChars    int           `mapstructure:"max_chars"`
	Concurrency int           `mapstructure:"concurrency"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		Timeout:     15 * time.Second,
		MaxBytes:    2 << 20,
		MaxChars:    8000,
		Concurrency: 4,
	}
}

// Crawler 抓取网页并提取正文文本。
// 所有 Crawl 调用共享同一个 worker 池，Concurrency 是进程级上限
type Crawler struct {
	client *http.Client
	pool   *workerpool.Pool
	cfg    Config
}

// New 创建 Crawler，用完需要 Close
func New(cfg Config) (*Crawler, error) {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	if cfg.MaxChars <= 0 {
		cfg.MaxChars = def.MaxChars
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = def.Concurrency
	}
	pool, err := workerpool.New(workerpool.Config{Workers: cfg.Concurrency}, logger.L().Named("crawler").Logger)
	if err != nil {
		return nil, err
	}
	return &Crawler{client: whttp.NewHTTPClient(cfg.Timeout), pool: pool, cfg: cfg}, nil
}

// Close 释放 worker 池
func (c *Crawler) Close() {
	c.pool.Shutdown()
}

// Crawl 并发抓取多个 URL，结果顺序与输入一致。
// 单个页面失败只记日志，结果里 Content 为空、Snippet 带错误信息
func (c *Crawler) Crawl(ctx context.Context, urls []string) []*types.SearchResult {
	results := make([]*types.SearchResult, len(urls))

	tasks := make([]func(), len(urls))
	for i, u := range urls {
		tasks[i] = func() {
			title, text, err := c.Fetch(ctx, u)
			if err != nil {
				logger.FromContext(ctx).Warn("crawl failed", zap.String("url", u), zap.Error(err))
				results[i] = &types.SearchResult{URL: u, Snippet: "failed to fetch: " + err.Error()}
				return
			}
			results[i] = &types.SearchResult{
				Title:   title,
				URL:     u,
				Snippet: snippet(text),
				Content: text,
			}
		}
	}
	if err := c.pool.RunAll(tasks...); err != nil {
		logger.FromContext(ctx).Warn("crawl aborted", zap.Error(err))
	}

	for i, r := range results {
		if r == nil {
			results[i] = &types.SearchResult{URL: urls[i], Snippet: "failed to fetch: crawler closed"}
		}
	}
	return results
}

// Fetch 抓取单个 URL，返回标题和正文
func (c *Crawler) Fetch(ctx context.Context, url string) (string, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", whttp.UserAgent)
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.5")

	resp, err := c.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", "", fmt.Errorf("HTTP error: %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.cfg.MaxBytes))
	if err != nil {
		return "", "", fmt.Errorf("failed to read response: %w", err)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" || strings.Contains(contentType, "html") {
		title, text, err := ExtractText(string(body))
		if err != nil {
			return "", "", err
		}
		return title, truncate(text, c.cfg.MaxChars), nil
	}
	if strings.HasPrefix(contentType, "text/") || strings.Contains(contentType, "json") {
		return "", truncate(strings.TrimSpace(string(body)), c.cfg.MaxChars), nil
	}
	return "", "", fmt.Errorf("unsupported content type %q", contentType)
}

// skipped 这些元素的内容不是正文
var skipped = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"svg":      true,
	"iframe":   true,
	"head":     true,
	"nav":      true,
	"footer":   true,
}

var blocks = map[string]bool{
	"br": true, "p": true, "div": true, "li": true, "tr": true, "section": true, "article": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true, "pre": true, "blockquote": true,
}

// ExtractText 从 HTML 提取标题和纯文本
func ExtractText(htmlContent string) (string, string, error) {
	doc, err := html.Parse(strings.NewReader(htmlContent))
	if err != nil {
		return "", "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	var (
		text strings.Builder
		walk func(*html.Node)
	)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && skipped[n.Data] {
			return
		}
		if n.Type == html.TextNode {
			text.WriteString(strings.Join(strings.Fields(n.Data), " "))
			text.WriteString(" ")
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && blocks[n.Data] {
			text.WriteString("\n")
		}
	}
	walk(doc)

	var lines []string
	for _, line := range strings.Split(text.String(), "\n") {
		if line = strings.Join(strings.Fields(line), " "); line != "" {
			lines = append(lines, line)
		}
	}
	return findTitle(doc), strings.Join(lines, "\n"), nil
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.Data == "title" && n.FirstChild != nil {
		return strings.TrimSpace(n.FirstChild.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func snippet(text string) string {
	return truncate(strings.ReplaceAll(text, "\n", " "), 300)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
