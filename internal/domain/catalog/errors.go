package catalog

import (
	"errors"
	"fmt"
)

var ErrProductTypeNotFound = errors.New("product type not found")

// ValidationError is a client error: the request was rejected before any state changed.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Invalid builds a ValidationError for field.
func Invalid(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// TxError wraps a failed begin, statement or commit. The transaction has been
// rolled back when it is returned.
type TxError struct {
	Op  string
	Err error
}

func (e *TxError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }

func txErr(op string, err error) error {
	return &TxError{Op: op, Err: err}
}
