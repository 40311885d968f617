package middleware

import (
	"fmt"
	"net/http"
	"reflect"
	"runtime"

	"github.com/labstack/echo/v4"
)

var (
	echoContextType = reflect.TypeOf((*echo.Context)(nil)).Elem()
	errorType       = reflect.TypeOf((*error)(nil)).Elem()
)

// WrapHandler adapts a typed handler to echo. The handler has the shape
//
//	func(c echo.Context, req T) error
//	func(c echo.Context, req T) (R, error)
//
// where T is a struct filled by BindAndValidate. Results are written in the
// Response envelope; a handler without a result answers 204.
func WrapHandler(f interface{}) echo.HandlerFunc {
	h, err := wrapHandler(f)
	if err != nil {
		panic(err)
	}
	return h
}

func wrapHandler(f interface{}) (echo.HandlerFunc, error) {
	fVal := reflect.ValueOf(f)
	if fVal.Kind() != reflect.Func {
		return nil, fmt.Errorf("wrap handler: not a function: %T", f)
	}
	fTyp := fVal.Type()
	name := runtime.FuncForPC(fVal.Pointer()).Name()

	if fTyp.NumIn() != 2 {
		return nil, fmt.Errorf("[%s] want 2 arguments, got %d", name, fTyp.NumIn())
	}
	if !fTyp.In(0).Implements(echoContextType) {
		return nil, fmt.Errorf("[%s] first argument must be echo.Context", name)
	}
	reqType := fTyp.In(1)
	if reqType.Kind() != reflect.Struct {
		return nil, fmt.Errorf("[%s] second argument must be a struct, got %s", name, reqType.Kind())
	}
	numOut := fTyp.NumOut()
	if numOut < 1 || numOut > 2 {
		return nil, fmt.Errorf("[%s] want 1 or 2 results, got %d", name, numOut)
	}
	if !fTyp.Out(numOut - 1).Implements(errorType) {
		return nil, fmt.Errorf("[%s] last result must be error", name)
	}

	return func(c echo.Context) error {
		req := reflect.New(reqType)
		if err := BindAndValidate(c, req.Interface()); err != nil {
			return err
		}

		out := fVal.Call([]reflect.Value{reflect.ValueOf(c), req.Elem()})
		if errVal := out[numOut-1]; !errVal.IsNil() {
			return errVal.Interface().(error)
		}

		if c.Response().Committed {
			return nil
		}
		if numOut == 1 {
			return c.NoContent(http.StatusNoContent)
		}

		data := out[0].Interface()
		if resp, ok := data.(*Response); ok {
			return c.JSON(resp.Status, resp)
		}
		return c.JSON(http.StatusOK, &Response{Status: http.StatusOK, Success: true, Data: data})
	}, nil
}
