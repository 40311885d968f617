package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"google.golang.org/grpc/codes"

	"github.com/nguyentranbao-ct/chat-relay/internal/models"
)

// statusClientClosed is reported when the caller went away mid request.
const statusClientClosed = 499

// HTTPStatus maps an error onto the response status through its grpc code.
func HTTPStatus(err error) int {
	switch models.Code(err) {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument, codes.OutOfRange:
		return http.StatusBadRequest
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// NewResponseError builds the payload written for err.
func NewResponseError(err error) *ResponseError {
	var re *ResponseError
	if errors.As(err, &re) {
		return re
	}

	resp := &ResponseError{Err: err}
	var he *echo.HTTPError
	switch {
	case errors.As(err, &he):
		resp.Status = he.Code
		resp.Message = fmt.Sprint(he.Message)
	case errors.Is(err, context.Canceled):
		resp.Status = statusClientClosed
		resp.Message = "request canceled"
	default:
		resp.Status = HTTPStatus(err)
		resp.Code = models.Code(err).String()
		resp.Message = err.Error()
		if resp.Status == http.StatusInternalServerError {
			resp.Message = http.StatusText(http.StatusInternalServerError)
		}
	}
	return resp
}

// ErrorHandler writes errors as ResponseError json.
func ErrorHandler(log Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if err == nil || c.Response().Committed {
			return
		}

		resp := NewResponseError(err)
		if resp.Status == http.StatusNotFound && isNotFoundHandler(c.Handler()) {
			resp.Message = "no route matched"
		}
		if resp.Status >= http.StatusInternalServerError {
			log.Errorw("request failed", "uri", c.Request().RequestURI, "error", err)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(resp.Status)
		} else {
			err = c.JSON(resp.Status, resp)
		}
		if err != nil {
			log.Errorw("could not response", "code", resp.Status, "response_body", resp)
		}
	}
}
