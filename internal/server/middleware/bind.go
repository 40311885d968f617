package middleware

import (
	"fmt"
	"net/http"
	"reflect"

	"github.com/cstockton/go-conv"
	"github.com/labstack/echo/v4"
)

// BindAndValidate binds the request body, params, query, headers and the
// authenticated operator, then validates the result.
func BindAndValidate(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return err
	}

	if err := bindHeader(c.Request().Header, req); err != nil {
		return err
	}

	if err := bindOperator(c, req); err != nil {
		return err
	}

	if err := c.Validate(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	return nil
}

// bindOperator fills fields tagged `operator:"id|email|name"` from the
// operator resolved by SessionAuth.
func bindOperator(c echo.Context, dst interface{}) error {
	op := GetOperator(c)
	if op == nil {
		return nil
	}

	return bindStruct(dst, "operator", func(tagValue string) (interface{}, error) {
		switch tagValue {
		case "id":
			return op.ID, nil
		case "email":
			return op.Email, nil
		case "name":
			return op.Name, nil
		default:
			return nil, fmt.Errorf("binding operator field %s is not supported", tagValue)
		}
	})
}

// bindHeader decodes headers into fields tagged `header:"<header_name>"`.
func bindHeader(header http.Header, dst interface{}) error {
	return bindStruct(dst, "header", func(tagValue string) (interface{}, error) {
		return header.Get(tagValue), nil
	})
}

// bindStruct sets every field of the struct pointed to by dst that carries
// tagName, converting the looked up value to the field type.
func bindStruct(dst interface{}, tagName string, lookup func(tagValue string) (interface{}, error)) error {
	ptr := reflect.ValueOf(dst)
	if ptr.Kind() != reflect.Ptr {
		return fmt.Errorf("non-pointer passed to bind")
	}

	indirect := reflect.Indirect(ptr)
	structType := indirect.Type()
	for i := 0; i < structType.NumField(); i++ {
		structField := structType.Field(i)
		tagValue := structField.Tag.Get(tagName)
		if tagValue == "-" || tagValue == "" {
			continue
		}

		field := indirect.Field(i)
		value, err := lookup(tagValue)
		if err != nil {
			return err
		}
		if err := conv.Infer(field, value); err != nil {
			return fmt.Errorf("cannot parse %s.%s as %s from: %#v / %s",
				structType.Name(), structField.Name, field.Type(), value, err)
		}
	}

	return nil
}
