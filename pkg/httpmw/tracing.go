package httpmw

import (
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"example.com/foodorder/pkg/logger"
)

// HTTP заголовки для трассировки.
const (
	HeaderTraceID       = "X-Trace-ID"
	HeaderCorrelationID = "X-Correlation-ID"
)

// Tracing извлекает или генерирует trace_id/correlation_id, кладёт их в
// context запроса и логирует начало и конец обработки — HTTP-аналог
// прежних gRPC TracingUnaryInterceptor/LoggingUnaryInterceptor.
func Tracing() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		traceID := c.GetHeader(HeaderTraceID)
		if traceID == "" {
			traceID = uuid.New().String()
		}
		correlationID := c.GetHeader(HeaderCorrelationID)
		if correlationID == "" {
			correlationID = uuid.New().String()
		}

		ctx := logger.NewContextWithIDs(c.Request.Context(), traceID, correlationID)
		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderTraceID, traceID)
		c.Header(HeaderCorrelationID, correlationID)

		log := logger.FromContext(ctx)
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("client_ip", c.ClientIP()).
			Msg("Входящий запрос")

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()
		event := log.Info()
		if status >= 500 {
			event = log.Error()
		} else if status >= 400 {
			event = log.Warn()
		}
		event.
			Int("status", status).
			Dur("duration", duration).
			Msg("Запрос завершён")
	}
}

// Recovery перехватывает панику в обработчике, логирует stack trace и
// возвращает 500 вместо падения процесса.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log := logger.FromContext(c.Request.Context())
				log.Error().
					Interface("panic", r).
					Str("stack", string(debug.Stack())).
					Str("path", c.Request.URL.Path).
					Msg("Перехвачена паника в HTTP handler")
				c.AbortWithStatusJSON(500, gin.H{
					"error":   "internal_error",
					"message": "Внутренняя ошибка сервера",
				})
			}
		}()
		c.Next()
	}
}
