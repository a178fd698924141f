package types

// SearchResponse 搜索结果
type SearchResponse struct {
	Query    string          `json:"query"`
	Results  []*SearchResult `json:"results"`
	Took     int64           `json:"took"` // milliseconds
	Provider ProviderID      `json:"provider"`
}

// SearchResult 单条结果。Content 只有抓取过正文时才有
type SearchResult struct {
	Title       string  `json:"title"`
	URL         string  `json:"url"`
	Snippet     string  `json:"snippet"`
	Content     string  `json:"content,omitempty"`
	Score       float32 `json:"score,omitempty"`
	PublishedAt string  `json:"published_at,omitempty"`
}
