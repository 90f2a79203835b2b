package middleware

import (
	"strings"
	"sync"
	"time"

	"github.com/beego/beego/v2/server/web"
	beecontext "github.com/beego/beego/v2/server/web/context"
)

// SecurityHeaders 安全头中间件
func SecurityHeaders() web.FilterFunc {
	return func(ctx *beecontext.Context) {
		headers := map[string]string{
			"X-Content-Type-Options":    "nosniff",
			"X-Frame-Options":           "DENY",
			"X-XSS-Protection":          "1; mode=block",
			"Strict-Transport-Security": "max-age=31536000; includeSubDomains",
			"Referrer-Policy":           "strict-origin-when-cross-origin",
		}

		for key, value := range headers {
			ctx.Output.Header(key, value)
		}
	}
}

// RateLimitFilter API限流中间件,按客户端IP滑动窗口计数
func RateLimitFilter(requests int, window time.Duration) web.FilterFunc {
	limiter := NewRateLimiter(requests, window)
	return func(ctx *beecontext.Context) {
		if !limiter.Allow(getClientIP(ctx)) {
			ctx.Output.SetStatus(429)
			ctx.Output.Header("Content-Type", "application/json")
			ctx.Output.Body([]byte(`{"success": false, "error": "请求过于频繁,请稍后重试"}`))
		}
	}
}

// getClientIP 获取客户端IP
func getClientIP(ctx *beecontext.Context) string {
	// 检查X-Forwarded-For头（代理服务器）
	if xff := ctx.Input.Header("X-Forwarded-For"); xff != "" {
		// X-Forwarded-For可能包含多个IP，取第一个
		if idx := strings.Index(xff, ","); idx > 0 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	// 检查X-Real-IP头
	if xri := ctx.Input.Header("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}

	// 使用RemoteAddr
	return strings.Split(ctx.Input.IP(), ":")[0]
}

// RateLimiter 简单的内存限流器
type RateLimiter struct {
	requests int
	window   time.Duration
	mu       sync.Mutex
	clients  map[string][]time.Time
}

// NewRateLimiter 创建限流器
func NewRateLimiter(requests int, window time.Duration) *RateLimiter {
	rl := &RateLimiter{
		requests: requests,
		window:   window,
		clients:  make(map[string][]time.Time),
	}

	// 启动清理goroutine
	go rl.cleanup()

	return rl
}

// Allow 检查是否允许请求
func (rl *RateLimiter) Allow(clientIP string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-rl.window)

	// 移除过期请求
	validRequests := make([]time.Time, 0)
	for _, reqTime := range rl.clients[clientIP] {
		if reqTime.After(windowStart) {
			validRequests = append(validRequests, reqTime)
		}
	}

	// 检查是否超过限制
	if len(validRequests) >= rl.requests {
		rl.clients[clientIP] = validRequests
		return false
	}

	// 添加新请求
	rl.clients[clientIP] = append(validRequests, now)

	return true
}

// cleanup 清理过期数据
func (rl *RateLimiter) cleanup() {
	for {
		time.Sleep(rl.window)

		rl.mu.Lock()
		windowStart := time.Now().Add(-rl.window)
		for clientIP, requests := range rl.clients {
			validRequests := make([]time.Time, 0)
			for _, reqTime := range requests {
				if reqTime.After(windowStart) {
					validRequests = append(validRequests, reqTime)
				}
			}

			if len(validRequests) == 0 {
				delete(rl.clients, clientIP)
			} else {
				rl.clients[clientIP] = validRequests
			}
		}
		rl.mu.Unlock()
	}
}
