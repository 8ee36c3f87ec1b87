package common

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"backend/internal/rag"
)

// ResponseSuccess 返回成功响应
func ResponseSuccess(c *gin.Context, data any) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Data: data})
}

// ResponseSuccessMessage 返回成功响应（带消息）
func ResponseSuccessMessage(c *gin.Context, message string, data any) {
	c.JSON(http.StatusOK, APIResponse{Success: true, Message: message, Data: data})
}

// ResponseError 返回错误响应
func ResponseError(c *gin.Context, status int, message string) {
	c.JSON(status, ErrorResponse{Success: false, Message: message})
}

// ResponseDomainError 按错误类别映射 HTTP 状态码。
// 参数错误 400、不存在 404、提取失败 422、外部能力不可用 503，其余 500。
func ResponseDomainError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, rag.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, rag.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, rag.ErrExtractionFailed):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, rag.ErrCapabilityUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, rag.ErrInvalidConfig):
		status = http.StatusInternalServerError
	}
	c.JSON(status, ErrorResponse{Success: false, Message: err.Error()})
}
