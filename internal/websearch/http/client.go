package http

import (
	"net"
	"net/http"
	"time"
)

// UserAgent 搜索和抓取请求使用的 UA
const UserAgent = "Mozilla/5.0 (compatible; AgentChat/1.0)"

// NewHTTPClient 搜索服务和网页抓取共用的客户端。
// timeout 覆盖整个请求，包括读完 body
func NewHTTPClient(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			DialContext:           dialer.DialContext,
			TLSHandshakeTimeout:   5 * time.Second,
			ResponseHeaderTimeout: timeout,
			MaxIdleConnsPerHost:   8,
			IdleConnTimeout:       time.Minute,
		},
	}
}
