package pipelineapi

import "github.com/gin-gonic/gin"

// SetupRoutes регистрирует маршруты управления пайплайном.
func SetupRoutes(r *gin.RouterGroup, handler *Handler) {
	r.POST("/run", handler.Run)
	r.POST("/stages/:stage/run", handler.RunStage)
	r.POST("/cancel", handler.Cancel)
	r.GET("/status", handler.Status)
	r.GET("/alerts", handler.Alerts)
}
