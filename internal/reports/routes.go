package reports

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ethmed_go/internal/httputil"
	"ethmed_go/pkg/analytics"
)

// SetupRoutes регистрирует маршруты отчётов в группе /api.
func SetupRoutes(r *gin.RouterGroup, service *analytics.Service, logger *zap.Logger) {
	httputil.UseFormFieldNames()
	handler := NewHandler(service, logger)

	r.GET("/reports/top-products", handler.TopProducts)
	r.GET("/channels/:channel_name/activity", handler.ChannelActivity)
	r.GET("/search/messages", handler.SearchMessages)
	r.GET("/reports/visual-content", handler.VisualContent)
}
