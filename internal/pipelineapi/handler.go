package pipelineapi

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"ethmed_go/internal/httputil"
	"ethmed_go/internal/monitoring"
	"ethmed_go/models"
	"ethmed_go/pkg/pipeline"
)

// Orchestrator — то, что API нужно от оркестратора.
type Orchestrator interface {
	CanRun(mode string) error
	RunAll(ctx context.Context) (*pipeline.RunState, error)
	RunStage(ctx context.Context, name string) (*pipeline.RunState, error)
	Cancel() bool
	Status() *pipeline.RunState
	History() []models.PipelineRun
	Stages() []pipeline.StageInfo
}

// Handler запускает и отслеживает запуски пайплайна. Запуск выполняется в фоне,
// ход выполнения смотрится через /pipeline/status.
type Handler struct {
	Orch    Orchestrator
	Monitor *monitoring.Monitor
	Log     *zap.Logger

	base context.Context
	wg   sync.WaitGroup
}

// NewHandler создаёт обработчик. Запуски живут в контексте base: его отмена останавливает их.
func NewHandler(base context.Context, orch Orchestrator, monitor *monitoring.Monitor, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{Orch: orch, Monitor: monitor, Log: logger, base: base}
}

// Run обрабатывает POST /pipeline/run — полный запуск графа.
func (h *Handler) Run(c *gin.Context) {
	h.start(c, pipeline.ModeFull, func(ctx context.Context) (*pipeline.RunState, error) {
		return h.Orch.RunAll(ctx)
	})
}

// RunStage обрабатывает POST /pipeline/stages/:stage/run.
// 404 — неизвестная стадия, 409 — не выполнены входные стадии или уже идёт запуск.
func (h *Handler) RunStage(c *gin.Context) {
	name := c.Param("stage")
	h.start(c, name, func(ctx context.Context) (*pipeline.RunState, error) {
		return h.Orch.RunStage(ctx, name)
	})
}

func (h *Handler) start(c *gin.Context, mode string, run func(ctx context.Context) (*pipeline.RunState, error)) {
	if err := h.Orch.CanRun(mode); err != nil {
		h.reject(c, err)
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		rs, err := run(h.base)
		if errors.Is(err, pipeline.ErrRunInProgress) {
			// запуск успели занять между проверкой и стартом
			h.Log.Warn("[PIPELINE] запуск отклонён", zap.String("mode", mode), zap.Error(err))
			return
		}
		if err != nil {
			h.Log.Error("[PIPELINE] запуск завершился ошибкой", zap.String("mode", mode), zap.Error(err))
		}
		if rs != nil && h.Monitor != nil {
			h.Monitor.Check()
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"status": "запущено", "mode": mode})
}

func (h *Handler) reject(c *gin.Context, err error) {
	var pre *pipeline.StagePrerequisiteError
	switch {
	case errors.Is(err, pipeline.ErrUnknownStage):
		httputil.RespondError(c, http.StatusNotFound, err.Error())
	case errors.Is(err, pipeline.ErrRunInProgress):
		httputil.RespondError(c, http.StatusConflict, err.Error())
	case errors.As(err, &pre):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{
			"error":   err.Error(),
			"stage":   pre.Stage,
			"missing": pre.Missing,
		})
	default:
		h.Log.Error("[PIPELINE] не удалось запустить", zap.Error(err))
		httputil.RespondError(c, http.StatusInternalServerError, "internal server error")
	}
}

// Cancel обрабатывает POST /pipeline/cancel.
func (h *Handler) Cancel(c *gin.Context) {
	if !h.Orch.Cancel() {
		c.JSON(http.StatusOK, gin.H{"status": "нет активного запуска"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "запуск остановлен"})
}

// Status обрабатывает GET /pipeline/status: активный или последний запуск, история и граф стадий.
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"current": h.Orch.Status(),
		"history": h.Orch.History(),
		"stages":  h.Orch.Stages(),
	})
}

// Alerts обрабатывает GET /pipeline/alerts: правила проверяются на момент запроса.
func (h *Handler) Alerts(c *gin.Context) {
	if h.Monitor == nil {
		c.JSON(http.StatusOK, gin.H{"alerts": []monitoring.Alert{}})
		return
	}
	stats, alerts := h.Monitor.Check()
	c.JSON(http.StatusOK, gin.H{"stats": stats, "alerts": alerts})
}

// Wait дожидается фоновых запусков.
func (h *Handler) Wait() {
	h.wg.Wait()
}
