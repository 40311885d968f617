package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/nguyentranbao-ct/chat-relay/internal/models"
	"github.com/nguyentranbao-ct/chat-relay/internal/usecase"
	"github.com/nguyentranbao-ct/chat-relay/pkg/ctxval"
)

const ContextKeyOperator = "operator"

// SessionAuth resolves "Authorization: Bearer <session token>" to an
// operator allowed to chat.
func SessionAuth(auth usecase.AuthUsecase) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			header := c.Request().Header.Get(echo.HeaderAuthorization)
			if header == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header format")
			}

			op, err := auth.Authenticate(c.Request().Context(), token)
			if err != nil {
				return err
			}
			SetOperator(c, op)
			return next(c)
		}
	}
}

func SetOperator(c echo.Context, op *models.Operator) {
	c.Set(ContextKeyOperator, op)
	ctxval.SetOperatorID(c.Request().Context(), op.ID)
}

func GetOperator(c echo.Context) *models.Operator {
	op, _ := c.Get(ContextKeyOperator).(*models.Operator)
	return op
}

func GetOperatorID(c echo.Context) string {
	if op := GetOperator(c); op != nil {
		return op.ID
	}
	return ctxval.OperatorID(c.Request().Context())
}
