package controllers

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/aihub/docqa-go/app/bootstrap"
	"github.com/aihub/docqa-go/internal/services"
	"github.com/go-playground/validator/v10"
)

var queryValidator = validator.New()

// QueryController 问答控制器,以SSE流式返回回答
type QueryController struct {
	BaseController
	answerService *services.AnswerService
}

func (c *QueryController) Prepare() {
	if c.answerService == nil {
		app := bootstrap.GetApp()
		if app != nil {
			c.answerService = app.GetAnswerService()
		}
	}
}

type queryStreamRequest struct {
	Query       string `json:"query" validate:"required,min=1,max=2000"`
	DocumentIDs []uint `json:"document_ids" validate:"max=100"`
	TopK        int    `json:"top_k" validate:"gte=0,lte=50"`
}

// POST /api/query/stream
func (c *QueryController) Stream() {
	tenantID, ok := c.getAuthenticatedTenantID()
	if !ok {
		return
	}
	if c.answerService == nil {
		c.JSONError(http.StatusServiceUnavailable, "问答服务未初始化")
		return
	}

	var req queryStreamRequest
	if err := json.Unmarshal(c.Ctx.Input.RequestBody, &req); err != nil {
		c.JSONError(http.StatusBadRequest, "请求格式错误")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		c.JSONError(http.StatusBadRequest, "query不能为空")
		return
	}
	if err := queryValidator.Struct(&req); err != nil {
		c.JSONError(http.StatusBadRequest, fmt.Sprintf("请求参数无效: %v", err))
		return
	}

	ctx := c.Ctx.Request.Context()
	events, err := c.answerService.AnswerStream(ctx, services.QueryRequest{
		TenantID:    tenantID,
		Query:       req.Query,
		DocumentIDs: req.DocumentIDs,
		TopK:        req.TopK,
	})
	if err != nil {
		log.Printf("[query] AnswerStream error: %v", err)
		c.JSONError(http.StatusInternalServerError, err.Error())
		return
	}

	w := c.Ctx.ResponseWriter
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	flusher, canFlush := c.Ctx.ResponseWriter.ResponseWriter.(http.Flusher)

	for event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			log.Printf("[query] marshal stream event error: %v", err)
			continue
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
			// 客户端断开,上游通过ctx感知并停止生成
			return
		}
		if canFlush {
			flusher.Flush()
		}
	}

	fmt.Fprint(w, "data: [DONE]\n\n")
	if canFlush {
		flusher.Flush()
	}
}
