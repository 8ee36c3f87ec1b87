package documents

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	response "backend/api/handlers/common"
	"backend/internal/rag"
)

// Service 文档侧服务能力。
type Service interface {
	Ingest(ctx context.Context, filename string, data []byte) (*rag.IngestResult, error)
	ListDocuments(ctx context.Context) ([]*rag.Document, error)
	DeleteDocument(ctx context.Context, id string) error
}

// Handler 文档处理器
type Handler struct {
	svc            Service
	maxUploadBytes int64
}

// NewHandler 创建文档处理器
func NewHandler(svc Service, maxUploadBytes int64) *Handler {
	if maxUploadBytes <= 0 {
		maxUploadBytes = 50 << 20
	}
	return &Handler{svc: svc, maxUploadBytes: maxUploadBytes}
}

// Upload 上传并摄取 PDF 文档
// @Summary 上传 PDF 文档
// @Accept multipart/form-data
// @Produce json
// @Param file formData file true "PDF 文件"
// @Success 200 {object} response.APIResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 413 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Router /upload [post]
func (h *Handler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		response.ResponseError(c, http.StatusBadRequest, "未找到上传文件: "+err.Error())
		return
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".pdf") {
		response.ResponseError(c, http.StatusBadRequest, "仅支持 PDF 文件")
		return
	}
	// 过大的文件在读入前就拒绝
	if header.Size > h.maxUploadBytes {
		response.ResponseError(c, http.StatusRequestEntityTooLarge, "文件超过大小上限")
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, h.maxUploadBytes+1))
	if err != nil {
		response.ResponseError(c, http.StatusInternalServerError, "读取文件失败: "+err.Error())
		return
	}
	if int64(len(data)) > h.maxUploadBytes {
		response.ResponseError(c, http.StatusRequestEntityTooLarge, "文件超过大小上限")
		return
	}

	result, err := h.svc.Ingest(c.Request.Context(), header.Filename, data)
	if err != nil {
		response.ResponseDomainError(c, err)
		return
	}

	response.ResponseSuccessMessage(c, "文档摄取完成", result)
}

// List 列出全部已摄取文档
// @Summary 文档列表
// @Produce json
// @Success 200 {object} response.APIResponse
// @Router /documents [get]
func (h *Handler) List(c *gin.Context) {
	docs, err := h.svc.ListDocuments(c.Request.Context())
	if err != nil {
		response.ResponseDomainError(c, err)
		return
	}

	response.ResponseSuccess(c, gin.H{
		"documents": docs,
		"total":     len(docs),
	})
}

// Delete 删除文档及其向量
// @Summary 删除文档
// @Produce json
// @Param id path string true "文档 ID"
// @Success 200 {object} response.APIResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /documents/{id} [delete]
func (h *Handler) Delete(c *gin.Context) {
	id := c.Param("id")
	if id == "" {
		response.ResponseError(c, http.StatusBadRequest, "缺少文档 ID")
		return
	}

	if err := h.svc.DeleteDocument(c.Request.Context(), id); err != nil {
		response.ResponseDomainError(c, err)
		return
	}

	response.ResponseSuccessMessage(c, "文档已删除", gin.H{"document_id": id})
}
