package controllers

import (
	"net/http"

	"github.com/aihub/docqa-go/app/bootstrap"
	"github.com/aihub/docqa-go/internal/services"
)

// RootController 根控制器
type RootController struct {
	BaseController
}

func (c *RootController) Index() {
	c.JSONSuccess(map[string]string{"message": "Document QA Service API"})
}

// HealthController 健康检查控制器
type HealthController struct {
	BaseController
}

func (c *HealthController) Health() {
	c.JSONSuccess(map[string]string{"status": "healthy"})
}

// Components 返回各中间件组件的健康状态
func (c *HealthController) Components() {
	app := bootstrap.GetApp()
	if app == nil || app.GetMiddlewareManager() == nil {
		c.JSONError(http.StatusServiceUnavailable, "中间件管理器未初始化")
		return
	}

	health, err := app.GetMiddlewareManager().CheckHealth()
	if err != nil {
		c.JSONError(http.StatusInternalServerError, err.Error())
		return
	}

	c.JSONSuccess(health)
}

// MetricsController 指标控制器
type MetricsController struct {
	BaseController
	metricsService *services.MetricsService
}

func (c *MetricsController) Prepare() {
	if c.metricsService == nil {
		c.metricsService = services.NewMetricsService()
	}
}

// Metrics 返回Prometheus格式的指标
func (c *MetricsController) Metrics() {
	c.Ctx.Output.Header("Content-Type", "text/plain; charset=utf-8")
	c.metricsService.ServeHTTP(c.Ctx.ResponseWriter, c.Ctx.Request)
}
