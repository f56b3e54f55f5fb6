package httputil

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"ethmed_go/pkg/analytics"
)

// RespondError отправляет сообщение об ошибке в едином формате и прекращает обработку запроса.
// Используем AbortWithStatusJSON, чтобы последующие обработчики не выполнялись, даже если забыли вернуть управление.
func RespondError(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"error": msg})
}

// RespondValidation отвечает 400 со списком нарушенных правил.
func RespondValidation(c *gin.Context, details []analytics.FieldError) {
	if details == nil {
		details = []analytics.FieldError{}
	}
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
		"error":   "validation_error",
		"details": details,
	})
}

var registerOnce sync.Once

// UseFormFieldNames заставляет валидатор gin называть поля по тегу form,
// чтобы в ответе были имена query-параметров, а не полей структуры.
func UseFormFieldNames() {
	registerOnce.Do(func() {
		if v, ok := binding.Validator.Engine().(*validator.Validate); ok {
			v.RegisterTagNameFunc(analytics.FormFieldName)
		}
	})
}
