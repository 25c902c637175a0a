package middleware

import (
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

// invalidFormat is the engine's code for malformed input.
const invalidFormat = "invalid-format"

var (
	pinPattern    = regexp.MustCompile(`^[0-9]{4}$`)
	cvvPattern    = regexp.MustCompile(`^[0-9]{3}$`)
	expiryPattern = regexp.MustCompile(`^(0[1-9]|1[0-2])/[0-9]{2}$`)
	cardPattern   = regexp.MustCompile(`^([0-9]{6}|[0-9]{16})$`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	pattern := func(re *regexp.Regexp) validator.Func {
		return func(fl validator.FieldLevel) bool { return re.MatchString(fl.Field().String()) }
	}
	v.RegisterValidation("pin", pattern(pinPattern))
	v.RegisterValidation("cvv", pattern(cvvPattern))
	v.RegisterValidation("mmyy", pattern(expiryPattern))
	v.RegisterValidation("cardnumber", pattern(cardPattern))
	return v
}

type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Type    string `json:"type"`
}

type BadRequestErrorResponse struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details []ValidationError `json:"details"`
}

// ValidateRequest returns one entry per failed field, or nil.
func ValidateRequest(obj any) []ValidationError {
	err := validate.Struct(obj)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []ValidationError{{Message: "Invalid value", Type: invalidFormat}}
	}

	validationErrors := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		validationErrors = append(validationErrors, ValidationError{
			Field:   fe.Field(),
			Message: getErrorMsg(fe),
			Type:    fe.Tag(),
		})
	}
	return validationErrors
}

func getErrorMsg(err validator.FieldError) string {
	switch err.Tag() {
	case "required":
		return "This field is required"
	case "max":
		return "Value is too long"
	case "pin":
		return "PIN must be exactly 4 digits"
	case "cvv":
		return "CVV must be exactly 3 digits"
	case "mmyy":
		return "Expiry must be in MM/YY format"
	case "cardnumber":
		return "Card number must be 6 or 16 digits"
	default:
		return "Invalid value"
	}
}

func RespondWithValidationError(c *gin.Context, validationErrors []ValidationError) {
	c.JSON(http.StatusBadRequest, BadRequestErrorResponse{
		Code:    invalidFormat,
		Message: "Invalid request data",
		Details: validationErrors,
	})
}

func RespondWithError(c *gin.Context, code int, message string) {
	c.JSON(code, gin.H{
		"message": message,
	})
}
