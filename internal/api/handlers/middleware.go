package handlers

import (
	"fmt"
	"time"

	"cfprogress/internal/metrics"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/rs/zerolog"
)

type ctxKey string

const loggerKey ctxKey = "logger"

// requestLogger returns the logger stored by RequestLogger, or a no-op one
func requestLogger(c *fiber.Ctx) zerolog.Logger {
	if l, ok := c.Locals(loggerKey).(zerolog.Logger); ok {
		return l
	}
	return zerolog.Nop()
}

// RequestLogger logs every request with its request id and records it in
// the HTTP metrics. It must run after the requestid middleware.
func RequestLogger(log zerolog.Logger, m *metrics.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		reqID := fmt.Sprint(c.Locals(requestid.ConfigDefault.ContextKey))
		if reqID == "" || reqID == "<nil>" {
			reqID = "unknown"
		}
		requestLog := log.With().Str("request_id", reqID).Logger()
		c.Locals(loggerKey, requestLog)

		err := c.Next()
		if err != nil {
			// Let the error handler write the response so the status is final
			if herr := c.App().ErrorHandler(c, err); herr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		status := c.Response().StatusCode()
		duration := time.Since(start)
		route := c.Route().Path
		m.ObserveHTTP(route, c.Method(), status, duration)

		event := requestLog.Info()
		if status >= fiber.StatusInternalServerError {
			event = requestLog.Error()
		}
		event.
			Str("method", c.Method()).
			Str("path", c.Path()).
			Str("route", route).
			Str("ip", c.IP()).
			Int("status", status).
			Int("bytes", len(c.Response().Body())).
			Dur("duration", duration).
			Msg("HTTP request")

		return nil
	}
}
