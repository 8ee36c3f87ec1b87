package api

import (
	"github.com/gin-gonic/gin"
)

// RegisterRoutes 注册全部 API 路由
func RegisterRoutes(router *gin.Engine, h *Handlers) {
	router.POST("/upload", h.Documents.Upload)
	router.GET("/documents", h.Documents.List)
	router.DELETE("/documents/:id", h.Documents.Delete)

	router.POST("/ask", h.Query.Ask)

	snGroup := router.Group("/servicenow")
	{
		snGroup.POST("/host", h.ServiceNow.LookupHost)
	}
}
