package middleware

import (
	"time"

	"github.com/aihub/docqa-go/internal/logger"
	"github.com/beego/beego/v2/server/web"
	beecontext "github.com/beego/beego/v2/server/web/context"
	"go.uber.org/zap"
)

// MiddlewareManager 中间件管理器
type MiddlewareManager struct {
	globalFilters []web.FilterFunc
	routeFilters  map[string][]web.FilterFunc
}

// NewMiddlewareManager 创建中间件管理器
func NewMiddlewareManager() *MiddlewareManager {
	return &MiddlewareManager{
		globalFilters: make([]web.FilterFunc, 0),
		routeFilters:  make(map[string][]web.FilterFunc),
	}
}

// AddGlobalFilter 添加全局过滤器
func (mm *MiddlewareManager) AddGlobalFilter(filter web.FilterFunc) {
	mm.globalFilters = append(mm.globalFilters, filter)
}

// AddRouteFilter 添加路由特定过滤器
func (mm *MiddlewareManager) AddRouteFilter(pattern string, filter web.FilterFunc) {
	mm.routeFilters[pattern] = append(mm.routeFilters[pattern], filter)
}

// ApplyAllFilters 应用所有过滤器
func (mm *MiddlewareManager) ApplyAllFilters() {
	for _, filter := range mm.globalFilters {
		web.InsertFilter("/*", web.BeforeRouter, filter)
	}
	for pattern, filters := range mm.routeFilters {
		for _, filter := range filters {
			web.InsertFilter(pattern, web.BeforeRouter, filter)
		}
	}
}

// SetupDefaultMiddlewares 设置默认中间件
func (mm *MiddlewareManager) SetupDefaultMiddlewares() {
	// 全局中间件
	mm.AddGlobalFilter(CORSMiddleware)
	mm.AddGlobalFilter(SecurityHeaders())
	mm.AddGlobalFilter(ValidationMiddleware())
	mm.AddGlobalFilter(mm.loggingMiddleware())

	// API路由中间件
	mm.AddRouteFilter("/api/*", RateLimitFilter(120, time.Minute))
}

// loggingMiddleware 请求日志中间件
func (mm *MiddlewareManager) loggingMiddleware() web.FilterFunc {
	return func(ctx *beecontext.Context) {
		logger.Debug("Request started",
			zap.String("method", ctx.Input.Method()),
			zap.String("path", ctx.Input.URI()),
			zap.String("remote_addr", getClientIP(ctx)))
	}
}
