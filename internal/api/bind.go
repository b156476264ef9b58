// Package api holds what every feature module shares: the service bundle
// handed to module builders and request binding that reports failures as
// VALIDATION errors.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/vyrodovalexey/assetgw/internal/service"
	"github.com/vyrodovalexey/assetgw/internal/util"
)

// Services is the bundle module builders receive from the assembler.
type Services struct {
	Images *service.ImageService
}

var registerTagNames sync.Once

// useWireNames makes validation errors name fields as clients send them
// (json or form tag) instead of by Go field name.
func useWireNames() {
	registerTagNames.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		v.RegisterTagNameFunc(func(f reflect.StructField) string {
			for _, key := range []string{"json", "form"} {
				name, _, _ := strings.Cut(f.Tag.Get(key), ",")
				if name == "-" {
					return ""
				}
				if name != "" {
					return name
				}
			}
			return f.Name
		})
	})
}

// BindJSON decodes and validates the request body into dst.
func BindJSON(c *gin.Context, dst any) error {
	useWireNames()
	if err := c.ShouldBindJSON(dst); err != nil {
		return bindError(err)
	}
	return nil
}

// BindQuery decodes and validates the query string into dst.
func BindQuery(c *gin.Context, dst any) error {
	useWireNames()
	if err := c.ShouldBindQuery(dst); err != nil {
		return bindError(err)
	}
	return nil
}

// Validate checks v against its binding tags, reporting failures the same
// way BindJSON does.
func Validate(v any) error {
	useWireNames()
	if err := binding.Validator.ValidateStruct(v); err != nil {
		return bindError(err)
	}
	return nil
}

// UUIDParam returns the path parameter name, which must be a UUID.
func UUIDParam(c *gin.Context, name string) (string, error) {
	raw := c.Param(name)
	id, err := uuid.Parse(raw)
	if err != nil {
		verr := util.NewValidationError("invalid path parameter")
		verr.AddField(name, "must be a valid UUID")
		return "", verr
	}
	return id.String(), nil
}

// bindError turns a binding failure into a *util.ValidationError.
func bindError(err error) error {
	var (
		fieldErrs validator.ValidationErrors
		syntaxErr *json.SyntaxError
		typeErr   *json.UnmarshalTypeError
		sizeErr   *http.MaxBytesError
	)

	switch {
	case errors.As(err, &fieldErrs):
		verr := util.NewValidationError("request validation failed")
		for _, fe := range fieldErrs {
			verr.AddField(fe.Field(), describe(fe))
		}
		return verr
	case errors.As(err, &typeErr):
		verr := util.NewValidationError("request validation failed")
		verr.AddField(typeErr.Field, "must be of type "+typeErr.Type.String())
		return verr
	case errors.As(err, &syntaxErr), errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return util.NewValidationError("malformed request body")
	case errors.As(err, &sizeErr):
		return util.NewValidationError(fmt.Sprintf("request body exceeds %d bytes", sizeErr.Limit))
	default:
		return util.NewValidationError("invalid request")
	}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if fe.Kind() == reflect.String {
			return "must be at least " + fe.Param() + " characters"
		}
		return "must be at least " + fe.Param()
	case "max":
		if fe.Kind() == reflect.String {
			return "must be at most " + fe.Param() + " characters"
		}
		return "must be at most " + fe.Param()
	default:
		return "failed " + fe.Tag() + " validation"
	}
}
