package service

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"shopcatalog/internal/domain/catalog"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// messages maps "Struct.Field.tag" to the message clients see.
var messages = map[string]string{
	"NewProductType.Name.required":    "Missing product type name",
	"NewProductType.Files.min":        "At least one image is required",
	"UpdateProductType.Name.required": "Missing product type name",
	"NewProduct.Name.required":        "Missing product name",
	"NewProduct.Stock.gte":            "Stock must not be negative",
	"UpdateProduct.Name.required":     "Missing product name",
	"UpdateProduct.Stock.gte":         "Stock must not be negative",
}

// validateInput runs struct validation and turns the first failure into a
// *catalog.ValidationError.
func validateInput(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}

	fe := fieldErrs[0]
	msg, ok := messages[fe.Namespace()+"."+fe.Tag()]
	if !ok {
		msg = fmt.Sprintf("%s is invalid", fe.Field())
	}
	return catalog.Invalid(fe.Field(), msg)
}
