package controllers

import (
	"errors"
	"log"
	"net/http"
	"strconv"

	"github.com/aihub/docqa-go/app/bootstrap"
	apperrors "github.com/aihub/docqa-go/internal/errors"
	"github.com/aihub/docqa-go/internal/services"
)

// DocumentController 文档管理控制器
type DocumentController struct {
	BaseController
	documentService *services.DocumentService
}

func (c *DocumentController) Prepare() {
	if c.documentService == nil {
		app := bootstrap.GetApp()
		if app != nil {
			c.documentService = app.GetDocumentService()
		}
	}
}

func (c *DocumentController) serviceReady() bool {
	if c.documentService == nil {
		c.JSONError(http.StatusServiceUnavailable, "文档服务未初始化")
		return false
	}
	return true
}

// POST /api/documents/upload
func (c *DocumentController) Upload() {
	tenantID, ok := c.getAuthenticatedTenantID()
	if !ok {
		return
	}
	if !c.serviceReady() {
		return
	}

	file, header, err := c.GetFile("file")
	if err != nil {
		c.JSONError(http.StatusBadRequest, "缺少上传文件")
		return
	}
	defer file.Close()

	log.Printf("[document] Upload request - Tenant ID: %d, File: %s, Size: %d bytes",
		tenantID, header.Filename, header.Size)

	document, err := c.documentService.Upload(
		tenantID,
		header.Filename,
		header.Header.Get("Content-Type"),
		header.Size,
		file,
	)
	if err != nil {
		log.Printf("[document] Upload error: %v", err)
		c.writeServiceError(err)
		return
	}

	log.Printf("[document] Upload accepted - Document ID: %d, Status: %s",
		document.DocumentID, document.Status)
	c.JSONSuccess(document)
}

// GET /api/documents
func (c *DocumentController) List() {
	tenantID, ok := c.getAuthenticatedTenantID()
	if !ok {
		return
	}
	if !c.serviceReady() {
		return
	}

	page, _ := strconv.Atoi(c.GetString("page", "1"))
	limit, _ := strconv.Atoi(c.GetString("limit", "20"))

	documents, total, err := c.documentService.List(tenantID, page, limit)
	if err != nil {
		c.JSONError(http.StatusInternalServerError, "获取文档列表失败")
		return
	}

	c.JSONSuccess(map[string]interface{}{
		"documents": documents,
		"total":     total,
		"page":      page,
		"limit":     limit,
	})
}

// GET /api/documents/:id
func (c *DocumentController) Get() {
	tenantID, ok := c.getAuthenticatedTenantID()
	if !ok {
		return
	}
	documentID, ok := c.mustParseUintParam(":id")
	if !ok {
		return
	}
	if !c.serviceReady() {
		return
	}

	document, err := c.documentService.Get(tenantID, documentID)
	if err != nil {
		c.JSONError(http.StatusNotFound, "文档不存在")
		return
	}

	c.JSONSuccess(document)
}

// GET /api/documents/:id/status
func (c *DocumentController) Status() {
	tenantID, ok := c.getAuthenticatedTenantID()
	if !ok {
		return
	}
	documentID, ok := c.mustParseUintParam(":id")
	if !ok {
		return
	}
	if !c.serviceReady() {
		return
	}

	status, err := c.documentService.Status(tenantID, documentID)
	if err != nil {
		c.JSONError(http.StatusNotFound, "文档不存在")
		return
	}

	c.JSONSuccess(status)
}

// DELETE /api/documents/:id
func (c *DocumentController) Delete() {
	tenantID, ok := c.getAuthenticatedTenantID()
	if !ok {
		return
	}
	documentID, ok := c.mustParseUintParam(":id")
	if !ok {
		return
	}
	if !c.serviceReady() {
		return
	}

	if err := c.documentService.Delete(c.Ctx.Request.Context(), tenantID, documentID); err != nil {
		log.Printf("[document] Delete error: %v", err)
		c.writeServiceError(err)
		return
	}

	c.JSONSuccess(map[string]string{"message": "删除成功"})
}

// writeServiceError 把业务错误映射为HTTP状态码
func (c *DocumentController) writeServiceError(err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		c.JSONError(appErr.HTTPCode, appErr.Message)
		return
	}
	c.JSONError(http.StatusInternalServerError, err.Error())
}
