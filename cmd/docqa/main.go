package main

import (
	"log"
	"strconv"

	appmiddleware "github.com/aihub/docqa-go/app/middleware"

	"github.com/aihub/docqa-go/app/bootstrap"
	"github.com/aihub/docqa-go/app/router"
	"github.com/aihub/docqa-go/internal/config"
	"github.com/aihub/docqa-go/internal/logger"
	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"
)

func main() {
	app, err := bootstrap.Init()
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer app.Shutdown()
	bootstrap.SetGlobalApp(app)

	// 配置Beego全局设置
	web.BConfig.AppName = "Document QA Service"
	web.BConfig.CopyRequestBody = true
	if port, err := strconv.Atoi(config.AppConfig.Server.Port); err == nil {
		web.BConfig.Listen.HTTPPort = port
	} else {
		web.BConfig.Listen.HTTPPort = 8001
	}

	// 过滤器与路由
	mm := appmiddleware.NewMiddlewareManager()
	mm.SetupDefaultMiddlewares()
	mm.ApplyAllFilters()
	router.Init()

	logger.Info("🚀 Starting Document QA Service", zap.Int("port", web.BConfig.Listen.HTTPPort))
	web.Run()
}
