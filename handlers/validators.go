package handlers

import (
	"fmt"
	"reflect"
	"strings"

	"cart-order-service/models"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// RegisterValidators installs the domain tags on gin's validator engine and
// reports fields by their json name.
func RegisterValidators() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected validator engine %T", binding.Validator.Engine())
	}
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return f.Name
		}
		return name
	})
	if err := v.RegisterValidation("order_status", func(fl validator.FieldLevel) bool {
		return models.OrderStatus(fl.Field().String()).Valid()
	}); err != nil {
		return err
	}
	return v.RegisterValidation("payment_method", func(fl validator.FieldLevel) bool {
		return models.PaymentMethod(fl.Field().String()).Valid()
	})
}
