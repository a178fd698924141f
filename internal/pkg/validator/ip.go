package validator

import (
	"net"
	"strings"
)

// UnknownIP 无法识别客户端地址时使用的占位值
const UnknownIP = "unknown"

// NormalizeIP 规范化 IP 地址，去掉 IPv6 zone (fe80::1%eth0 -> fe80::1)
func NormalizeIP(ip string) string {
	if idx := strings.IndexByte(ip, '%'); idx != -1 {
		return ip[:idx]
	}
	return ip
}

// ClientIP 返回可用作限流 key 的客户端地址。
// 非法地址统一归为 UnknownIP
func ClientIP(ip string) string {
	normalized := NormalizeIP(strings.TrimSpace(ip))
	if parsed := net.ParseIP(normalized); parsed != nil {
		return parsed.String()
	}
	return UnknownIP
}
