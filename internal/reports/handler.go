package reports

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ethmed_go/internal/httputil"
	"ethmed_go/pkg/analytics"
)

// Handler обслуживает аналитические отчёты по хранилищу.
type Handler struct {
	Service *analytics.Service
	Log     *zap.Logger
}

// NewHandler создаёт обработчик отчётов.
func NewHandler(service *analytics.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Service: service, Log: logger}
}

// TopProducts обрабатывает GET /api/reports/top-products.
//
// Параметры: limit (1..100, по умолчанию 10), min_mentions (>=1, по умолчанию 1),
// date_from и date_to в формате YYYY-MM-DD.
func (h *Handler) TopProducts(c *gin.Context) {
	var q analytics.TopProductsQuery
	if !h.bind(c, &q) {
		return
	}
	resp, err := h.Service.TopProducts(q)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// ChannelActivity обрабатывает GET /api/channels/:channel_name/activity.
// Неизвестный канал — 404.
func (h *Handler) ChannelActivity(c *gin.Context) {
	q := analytics.ChannelActivityQuery{Channel: c.Param("channel_name")}
	if !h.bind(c, &q) {
		return
	}
	resp, err := h.Service.ChannelActivity(q)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// SearchMessages обрабатывает GET /api/search/messages.
func (h *Handler) SearchMessages(c *gin.Context) {
	var q analytics.SearchQuery
	if !h.bind(c, &q) {
		return
	}
	resp, err := h.Service.SearchMessages(q)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// VisualContent обрабатывает GET /api/reports/visual-content.
func (h *Handler) VisualContent(c *gin.Context) {
	var q analytics.VisualContentQuery
	if !h.bind(c, &q) {
		return
	}
	resp, err := h.Service.VisualContent(q)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// bind разбирает query-параметры. Ошибка разбора числа или флага отдаётся как нарушение правила parse.
func (h *Handler) bind(c *gin.Context, q any) bool {
	err := c.ShouldBindQuery(q)
	if err == nil {
		return true
	}
	if ve, ok := analytics.FromValidator(err); ok {
		httputil.RespondValidation(c, ve.Fields)
		return false
	}
	h.Log.Debug("[REPORTS] не удалось разобрать параметры", zap.Error(err))
	httputil.RespondValidation(c, []analytics.FieldError{{Field: "query", Rule: "parse"}})
	return false
}

func (h *Handler) fail(c *gin.Context, err error) {
	var ve *analytics.ValidationError
	switch {
	case errors.As(err, &ve):
		httputil.RespondValidation(c, ve.Fields)
	case errors.Is(err, analytics.ErrChannelNotFound):
		httputil.RespondError(c, http.StatusNotFound, "channel not found")
	default:
		h.Log.Error("[REPORTS] ошибка запроса", zap.String("path", c.FullPath()), zap.Error(err))
		httputil.RespondError(c, http.StatusInternalServerError, "internal server error")
	}
}
