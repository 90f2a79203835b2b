package router

import (
	"github.com/aihub/docqa-go/app/controllers"
	"github.com/beego/beego/v2/server/web"
)

// Init registers all routes. Must be called after config is loaded.
func Init() {
	web.Router("/", &controllers.RootController{}, "get:Index")
	web.Router("/health", &controllers.HealthController{}, "get:Health")
	web.Router("/health/components", &controllers.HealthController{}, "get:Components")
	web.Router("/metrics", &controllers.MetricsController{}, "get:Metrics")

	// 文档路由
	documentController := &controllers.DocumentController{}
	web.Router("/api/documents", documentController, "get:List")
	web.Router("/api/documents/upload", documentController, "post:Upload")
	// 注意：具体路由必须在参数路由之前，否则/upload会被:id匹配
	web.Router("/api/documents/:id", documentController, "get:Get;delete:Delete")
	web.Router("/api/documents/:id/status", documentController, "get:Status")

	// 问答路由
	queryController := &controllers.QueryController{}
	web.Router("/api/query/stream", queryController, "post:Stream")
}
