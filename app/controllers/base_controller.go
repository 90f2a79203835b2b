package controllers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/aihub/docqa-go/internal/auth"
	"github.com/aihub/docqa-go/internal/config"
	"github.com/aihub/docqa-go/internal/logger"
	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"
)

// BaseController provides helpers for consistent JSON responses.
type BaseController struct {
	web.Controller
}

// JSON writes a JSON response with the supplied HTTP status code.
func (c *BaseController) JSON(status int, payload interface{}) {
	c.Ctx.Output.SetStatus(status)
	c.Data["json"] = payload
	c.ServeJSON()
}

// JSONSuccess writes a standard success envelope.
func (c *BaseController) JSONSuccess(data interface{}) {
	c.JSON(http.StatusOK, map[string]interface{}{
		"success": true,
		"data":    data,
	})
}

// JSONError writes an error envelope with message.
func (c *BaseController) JSONError(status int, message string) {
	c.JSON(status, map[string]interface{}{
		"success": false,
		"error":   message,
	})
}

// getAuthenticatedTenantID 获取认证租户ID
// 所有语料操作都必须落在某个租户下,租户之间完全隔离
func (c *BaseController) getAuthenticatedTenantID() (uint, bool) {
	// 1. 首先尝试从Authorization header验证JWT
	authHeader := c.Ctx.Input.Header("Authorization")
	if authHeader != "" {
		if token, err := auth.ExtractTokenFromHeader(authHeader); err == nil {
			jwtService := auth.NewJWTService(config.AppConfig.JWT.Secret, "docqa-go", 24*time.Hour)
			if claims, err := jwtService.ValidateToken(token); err == nil && claims.TenantID != 0 {
				return claims.TenantID, true
			}
			logger.Warn("Invalid JWT token",
				zap.String("path", c.Ctx.Request.RequestURI),
				zap.String("ip", c.getClientIP()))
		}
	}

	// 2. 尝试从X-Tenant-Id header获取（网关注入模式）
	tenantIDHeader := c.Ctx.Input.Header("X-Tenant-Id")
	if tenantIDHeader != "" {
		if tenantID, err := strconv.ParseUint(tenantIDHeader, 10, 32); err == nil && tenantID != 0 {
			return uint(tenantID), true
		}
	}

	// 3. 尝试从查询参数获取（用于测试）
	tenantIDParam := c.GetString("tenant_id")
	if tenantIDParam != "" {
		if tenantID, err := strconv.ParseUint(tenantIDParam, 10, 32); err == nil && tenantID != 0 {
			return uint(tenantID), true
		}
	}

	// 安全检查：生产环境绝对不允许默认租户ID
	if config.AppConfig.Server.Env == "production" {
		c.JSONError(http.StatusUnauthorized, "未认证的请求")
		return 0, false
	}

	// 开发/测试环境：记录安全警告
	logger.Warn("SECURITY WARNING: Using default tenant ID in non-production environment",
		zap.String("path", c.Ctx.Request.RequestURI),
		zap.String("method", c.Ctx.Request.Method),
		zap.String("ip", c.getClientIP()))

	return 1, true
}

// mustParseUintParam 解析URL参数为uint
func (c *BaseController) mustParseUintParam(key string) (uint, bool) {
	raw := c.Ctx.Input.Param(key)
	value, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || value == 0 {
		c.JSONError(http.StatusBadRequest, "参数格式错误")
		return 0, false
	}
	return uint(value), true
}

// getClientIP 获取客户端真实IP地址
func (c *BaseController) getClientIP() string {
	// 尝试从X-Forwarded-For头获取（代理服务器）
	xForwardedFor := c.Ctx.Input.Header("X-Forwarded-For")
	if xForwardedFor != "" {
		// X-Forwarded-For可能包含多个IP，取第一个
		ips := strings.Split(xForwardedFor, ",")
		return strings.TrimSpace(ips[0])
	}

	// 尝试从X-Real-IP头获取
	xRealIP := c.Ctx.Input.Header("X-Real-IP")
	if xRealIP != "" {
		return xRealIP
	}

	// 回退到RemoteAddr
	return c.Ctx.Input.IP()
}
