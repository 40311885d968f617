package middleware

import (
	"context"
	"net/http"

	httpclient "github.com/carousell/ct-go/pkg/httpclient"
	"github.com/labstack/echo/v4"
)

const (
	XRequestID     = "x-request-id"
	XCorrelationID = "x-correlation-id"
)

type requestIDKey struct{}

// GetRequestID returns the id assigned by RequestID, falling back to the
// inbound headers when the middleware did not run.
func GetRequestID(c echo.Context) string {
	if id, ok := c.Get(XRequestID).(string); ok && id != "" {
		return id
	}
	if id := GetRequestIDFromContext(c.Request().Context()); id != "" {
		return id
	}
	return requestIDFromHeader(c.Request().Header)
}

// GetRequestIDFromContext is used as the correlation id of published events.
func GetRequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFromHeader(h http.Header) string {
	if id := h.Get(XRequestID); id != "" {
		return id
	}
	return h.Get(XCorrelationID)
}

type RequestIDConfig struct {
	Skipper  Skipper
	Generate func() string
}

var DefaultRequestIDConfig = RequestIDConfig{
	Skipper:  DefaultSkipper,
	Generate: httpclient.GenerateCorrelationID,
}

func RequestID() echo.MiddlewareFunc {
	return RequestIDWithConfig(DefaultRequestIDConfig)
}

// RequestIDWithConfig keeps the caller's x-request-id (or x-correlation-id)
// and generates one otherwise. The id is echoed on the response.
func RequestIDWithConfig(config RequestIDConfig) echo.MiddlewareFunc {
	if config.Skipper == nil {
		config.Skipper = DefaultSkipper
	}
	if config.Generate == nil {
		config.Generate = DefaultRequestIDConfig.Generate
	}

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if config.Skipper(c) {
				return next(c)
			}
			id := requestIDFromHeader(c.Request().Header)
			if id == "" {
				id = config.Generate()
			}
			c.SetRequest(c.Request().WithContext(WithRequestID(c.Request().Context(), id)))
			c.Set(XRequestID, id)
			c.Response().Header().Set(XRequestID, id)
			return next(c)
		}
	}
}
