package handler

import (
	"net/http"

	"github.com/haatos/simple-cd/internal"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"
)

// APIKeyMiddleware rejects requests without a known webhook key.
func APIKeyMiddleware(apiKeyService APIKeyServicer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			value := c.Request().Header.Get(internal.WebhookTriggerKeyHeader)
			if value == "" {
				return newError(nil, http.StatusUnauthorized, "missing api key")
			}
			if _, err := apiKeyService.Authenticate(c.Request().Context(), value); err != nil {
				return newError(err, http.StatusUnauthorized, "invalid api key")
			}
			return next(c)
		}
	}
}

func RequestLogger(logger *zap.Logger) echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogLatency:  true,
		LogRemoteIP: true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			fields := []zap.Field{
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency),
				zap.String("remote_ip", v.RemoteIP),
			}
			if v.Error != nil {
				fields = append(fields, zap.Error(v.Error))
			}
			logger.Info("request", fields...)
			return nil
		},
	})
}
