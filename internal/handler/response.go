// Package handler 提供 HTTP 请求处理
package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/chandrabosep/AVALOOT/internal/dto"
	bizerr "github.com/chandrabosep/AVALOOT/pkg/errors"
	"github.com/chandrabosep/AVALOOT/pkg/logger"
)

// Success 返回成功响应
func Success(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithPagination 返回分页成功响应
func SuccessWithPagination(c *gin.Context, items interface{}, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewPagedResponse(items, total, page, pageSize))
}

// Error 返回业务错误响应, 非业务错误按内部错误处理
func Error(c *gin.Context, err error) {
	ErrorWithData(c, err, nil)
}

// ErrorWithData 返回带数据的错误响应
// 交易已上链但后续步骤失败时, data 携带交易哈希
func ErrorWithData(c *gin.Context, err error, data interface{}) {
	bizErr := bizerr.FromError(err)
	if bizErr.HTTPStatus >= http.StatusInternalServerError {
		logger.Error("request failed",
			zap.String("trace_id", GetTraceID(c)),
			zap.String("path", c.FullPath()),
			zap.String("code", bizErr.Code),
			zap.Error(err))
	}

	resp := dto.NewErrorResponse(bizErr)
	resp.Data = data
	c.JSON(bizErr.HTTPStatus, resp)
}

// BadRequest 返回参数错误响应
func BadRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, &dto.Response{
		Code:    bizerr.ErrInvalidRequest.Code,
		Message: message,
	})
}

// GetTraceID 从 context 获取 TraceID
func GetTraceID(c *gin.Context) string {
	traceID, _ := c.Get("trace_id")
	if t, ok := traceID.(string); ok {
		return t
	}
	return ""
}
