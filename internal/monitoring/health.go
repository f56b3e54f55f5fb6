package monitoring

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Pinger — проверка доступности базы.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Health собирает ответ GET /health.
type Health struct {
	DB        Pinger
	LastBuild func() time.Time
	Monitor   *Monitor
	Timeout   time.Duration
}

// Handler отдаёт 200, если база отвечает, иначе 503. Состояние пайплайна только сообщается.
func (h *Health) Handler(c *gin.Context) {
	timeout := h.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	status, code, database := "healthy", http.StatusOK, "connected"
	if err := h.DB.Ping(ctx); err != nil {
		status, code, database = "unhealthy", http.StatusServiceUnavailable, "unreachable"
	}

	body := gin.H{
		"status":    status,
		"database":  database,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if h.LastBuild != nil {
		if at := h.LastBuild(); !at.IsZero() {
			body["last_build"] = at.UTC().Format(time.RFC3339)
		} else {
			body["last_build"] = nil
		}
	}
	if h.Monitor != nil {
		body["pipeline_healthy"] = h.Monitor.IsHealthy()
	}
	c.JSON(code, body)
}
