package servicenowapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	response "backend/api/handlers/common"
	"backend/internal/servicenow"
)

// Lookup 主机查询能力。
type Lookup interface {
	LookupHost(ctx context.Context, host string) (*servicenow.HostRecord, error)
	Configured() bool
}

// Handler ServiceNow 查询处理器
type Handler struct {
	lookup Lookup
}

// NewHandler 创建 ServiceNow 查询处理器，lookup 可为 nil（未接入）。
func NewHandler(lookup Lookup) *Handler {
	return &Handler{lookup: lookup}
}

// HostRequest 主机查询请求体。
type HostRequest struct {
	Host string `json:"host" binding:"required"`
}

// LookupHost 查询 CMDB 主机记录
// @Summary 按主机名查询 CMDB 记录
// @Accept json
// @Produce json
// @Param request body HostRequest true "主机名"
// @Success 200 {object} response.APIResponse
// @Failure 400 {object} response.ErrorResponse
// @Router /servicenow/host [post]
func (h *Handler) LookupHost(c *gin.Context) {
	var req HostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ResponseError(c, http.StatusBadRequest, "请求体不合法: "+err.Error())
		return
	}
	host := strings.TrimSpace(req.Host)
	if host == "" {
		response.ResponseError(c, http.StatusBadRequest, "主机名不能为空")
		return
	}

	if h.lookup == nil || !h.lookup.Configured() {
		response.ResponseSuccess(c, gin.H{"message": "ServiceNow integration is not configured"})
		return
	}

	record, err := h.lookup.LookupHost(c.Request.Context(), host)
	if err != nil {
		if errors.Is(err, servicenow.ErrHostNotFound) {
			response.ResponseSuccess(c, gin.H{"message": "No CMDB record found for host \"" + host + "\""})
			return
		}
		response.ResponseError(c, http.StatusBadGateway, "CMDB 查询失败: "+err.Error())
		return
	}

	response.ResponseSuccess(c, record)
}
