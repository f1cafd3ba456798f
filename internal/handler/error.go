package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type errorResponse struct {
	Message string `json:"message"`
}

// NewErrorHandler renders every error as a JSON message. Internal errors
// are logged and never returned to the caller.
func NewErrorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		code := http.StatusInternalServerError
		message := "something went terribly wrong"

		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if m, ok := he.Message.(string); ok {
				message = m
			} else {
				message = http.StatusText(code)
			}
			if he.Internal != nil {
				err = he.Internal
			}
		}

		fields := []zap.Field{
			zap.String("path", c.Request().URL.Path),
			zap.Int("status", code),
			zap.Error(err),
		}
		if code >= http.StatusInternalServerError {
			logger.Error("handler error", fields...)
		} else {
			logger.Debug("handler error", fields...)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(code)
		} else {
			err = c.JSON(code, errorResponse{Message: message})
		}
		if err != nil {
			logger.Error("err writing error response", zap.Error(err))
		}
	}
}

func newError(err error, status int, message string) error {
	e := echo.NewHTTPError(status, message)
	if err != nil {
		e = e.WithInternal(err)
	}
	return e
}
