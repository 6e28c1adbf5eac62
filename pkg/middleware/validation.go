package middleware

import (
	"reflect"
	"regexp"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/tilestock/stock-service/pkg/errors"
)

var validateOnce sync.Once

var skuRegex = regexp.MustCompile(`^[A-Z0-9][A-Z0-9-]{2,49}$`)

var customValidators = map[string]validator.Func{
	"sku":            validateSKU,
	"payment_method": oneOfValidator("cash", "card", "bank_transfer", "credit"),
	"payment_status": oneOfValidator("pending", "partial", "paid"),
	"sale_status":    oneOfValidator("pending", "confirmed", "delivered", "cancelled"),
	"txn_type":       oneOfValidator("stock_in", "stock_out", "adjustment", "sale", "return"),
}

// InitValidator registers the custom validators on gin's binding engine.
// Field names in errors follow the json tags.
func InitValidator() *validator.Validate {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return nil
	}

	validateOnce.Do(func() {
		for tag, fn := range customValidators {
			_ = v.RegisterValidation(tag, fn)
		}
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
	})
	return v
}

func validateSKU(fl validator.FieldLevel) bool {
	return skuRegex.MatchString(fl.Field().String())
}

func oneOfValidator(values ...string) validator.Func {
	allowed := make(map[string]bool, len(values))
	for _, v := range values {
		allowed[v] = true
	}
	return func(fl validator.FieldLevel) bool {
		return allowed[fl.Field().String()]
	}
}

// ValidationErrorFormatter formats validation errors of the value bound into
// obj as a map from field path ("items[0].quantity") to message
func ValidationErrorFormatter(err error, obj interface{}) map[string]string {
	fields := make(map[string]string)
	validationErrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return fields
	}

	// named structs prefix the namespace with their type name, anonymous
	// ones start at the first field
	prefix := ""
	if root := rootTypeName(obj); root != "" {
		prefix = root + "."
	}
	for _, e := range validationErrors {
		fields[strings.TrimPrefix(e.Namespace(), prefix)] = formatValidationError(e)
	}
	return fields
}

func rootTypeName(obj interface{}) string {
	t := reflect.TypeOf(obj)
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	return t.Name()
}

func formatValidationError(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		return "must be at least " + e.Param()
	case "max":
		return "must be at most " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	case "sku":
		return "must be a valid SKU (uppercase alphanumeric with dashes)"
	case "payment_method":
		return "must be one of: cash, card, bank_transfer, credit"
	case "payment_status":
		return "must be one of: pending, partial, paid"
	case "sale_status":
		return "must be one of: pending, confirmed, delivered, cancelled"
	case "txn_type":
		return "must be one of: stock_in, stock_out, adjustment, sale, return"
	case "oneof":
		return "must be one of: " + e.Param()
	default:
		return "is invalid"
	}
}

// BindAndValidate binds the JSON body into obj and validates it
func BindAndValidate(c *gin.Context, obj interface{}) *errors.AppError {
	if err := c.ShouldBindJSON(obj); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			return errors.ErrValidation("validation failed").WithDetails(ValidationErrorFormatter(validationErrors, obj))
		}
		return errors.ErrBadRequest("invalid request body: " + err.Error())
	}
	return nil
}

// BindQuery binds and validates query parameters into obj
func BindQuery(c *gin.Context, obj interface{}) *errors.AppError {
	if err := c.ShouldBindQuery(obj); err != nil {
		if validationErrors, ok := err.(validator.ValidationErrors); ok {
			return errors.ErrValidation("invalid query").WithDetails(ValidationErrorFormatter(validationErrors, obj))
		}
		return errors.ErrBadRequest("invalid query: " + err.Error())
	}
	return nil
}
