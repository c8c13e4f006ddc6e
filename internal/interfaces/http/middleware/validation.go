package middleware

import (
	"errors"
	"net/http"
	"reflect"
	"strings"

	"github.com/connectorhq/magento-connector/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// RequestIDKey is the header and gin key of the request id.
const RequestIDKey = "X-Request-ID"

// SetupValidator makes gin's validator report fields by their JSON (or
// query form) name.
func SetupValidator() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name, _, _ := strings.Cut(fld.Tag.Get(tag), ",")
			switch name {
			case "-":
				return ""
			case "":
				continue
			default:
				return name
			}
		}
		return ""
	})
}

// FormatValidationErrors turns a binding error into an error response. An
// error that is not a validation failure is reported as unparsable JSON.
func FormatValidationErrors(err error, requestID string) dto.Response {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return dto.NewErrorResponseWithRequestID(dto.ErrCodeInvalidJSON, "Request body could not be parsed", requestID)
	}
	details := make([]dto.ValidationDetail, 0, len(verrs))
	for _, e := range verrs {
		details = append(details, dto.ValidationDetail{Field: e.Field(), Message: fieldMessage(e)})
	}
	return dto.NewValidationErrorResponse("Request validation failed", requestID, details)
}

// HandleValidationError writes a 400 for err.
func HandleValidationError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, FormatValidationErrors(err, getRequestIDFromContext(c)))
}

func getRequestIDFromContext(c *gin.Context) string {
	if id := c.GetString(RequestIDKey); id != "" {
		return id
	}
	return c.GetHeader(RequestIDKey)
}

// fieldMessage covers the tags used by the backend and sync requests.
func fieldMessage(e validator.FieldError) string {
	param := e.Param()
	switch e.Tag() {
	case "required":
		return "is required"
	case "required_if":
		field, value, _ := strings.Cut(param, " ")
		return "is required when " + strings.ToLower(field) + " is " + value
	case "oneof":
		return "must be one of " + strings.Join(strings.Fields(param), ", ")
	case "url":
		return "must be an absolute URL"
	case "uuid":
		return "must be a UUID"
	case "min", "gte":
		if e.Kind() == reflect.String {
			return "must be at least " + param + " characters"
		}
		return "must be at least " + param
	case "max", "lte":
		if e.Kind() == reflect.String {
			return "must be at most " + param + " characters"
		}
		return "must be at most " + param
	default:
		return "fails the " + e.Tag() + " rule"
	}
}
