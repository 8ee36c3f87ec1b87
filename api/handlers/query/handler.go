package query

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	response "backend/api/handlers/common"
	"backend/internal/rag"
)

// Service 问答能力。
type Service interface {
	Ask(ctx context.Context, question string) (*rag.AskResult, error)
}

// Handler 问答处理器
type Handler struct {
	svc Service
}

// NewHandler 创建问答处理器
func NewHandler(svc Service) *Handler {
	return &Handler{svc: svc}
}

// AskRequest 问答请求体。
type AskRequest struct {
	Question string `json:"question" binding:"required"`
}

// Ask 提问
// @Summary 针对已摄取文档或 CMDB 提问
// @Accept json
// @Produce json
// @Param request body AskRequest true "问题"
// @Success 200 {object} response.APIResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /ask [post]
func (h *Handler) Ask(c *gin.Context) {
	var req AskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ResponseError(c, http.StatusBadRequest, "请求体不合法: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		response.ResponseError(c, http.StatusBadRequest, "问题不能为空")
		return
	}

	result, err := h.svc.Ask(c.Request.Context(), req.Question)
	if err != nil {
		response.ResponseDomainError(c, err)
		return
	}

	response.ResponseSuccess(c, result)
}
