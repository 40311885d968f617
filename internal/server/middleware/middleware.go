package middleware

import (
	"fmt"

	"github.com/labstack/echo/v4"
)

var DefaultSkipper = func(c echo.Context) bool {
	return false
}

type Skipper func(c echo.Context) bool

// Logger is satisfied by the ct-go named loggers.
type Logger interface {
	Debugw(template string, args ...interface{})
	Infow(template string, args ...interface{})
	Warnw(template string, args ...interface{})
	Errorw(template string, args ...interface{})
}

// Response is the envelope of the operator REST api.
type Response struct {
	Status  int         `json:"-"`
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
}

// ResponseError is written for every failed request. Message is the only
// field platform webhooks look at.
type ResponseError struct {
	Status  int    `json:"-"`
	Err     error  `json:"-"`
	Success bool   `json:"success"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *ResponseError) Error() string {
	return fmt.Sprintf("status: %d, code: %s; message: %s", e.Status, e.Code, e.Message)
}

func (e *ResponseError) Unwrap() error {
	return e.Err
}
