package logger

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MiddlewareConfig tunes the request logger.
type MiddlewareConfig struct {
	Debug bool
	// ErrorClassifier downgrades expected domain errors to warn level.
	ErrorClassifier func(err error) bool
}

const requestIDHeader = "X-Request-ID"

// GinMiddleware logs one line per request with a stable request ID.
func GinMiddleware(cfg MiddlewareConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header(requestIDHeader, requestID)
		c.Set("request_id", requestID)

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("duration", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		}

		var lastErr error
		if len(c.Errors) > 0 {
			lastErr = c.Errors.Last().Err
			fields = append(fields, zap.Error(lastErr))
		}

		log := zap.L()
		switch {
		case status >= 500:
			log.Error("http request", fields...)
		case status >= 400 || lastErr != nil:
			if cfg.ErrorClassifier != nil && cfg.ErrorClassifier(lastErr) {
				// expected domain outcome, not operational noise
				log.Info("http request", fields...)
			} else {
				log.Warn("http request", fields...)
			}
		case cfg.Debug:
			log.Debug("http request", fields...)
		default:
			log.Info("http request", fields...)
		}
	}
}
