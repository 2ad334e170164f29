package extract

import (
	"errors"
	"fmt"
)

var (
	// ErrExtraction covers model failures, timeouts and unparseable output.
	// Retrying may succeed.
	ErrExtraction = errors.New("EXTRACTION_FAILED")
	// ErrValidation means the model answered but a required field is missing.
	ErrValidation = errors.New("EXTRACTION_INVALID")
)

// Error carries the failure kind (ErrExtraction or ErrValidation), the
// operation that failed and the cause. errors.Is matches both the kind and
// anything in the cause chain.
type Error struct {
	Kind error
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%v: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() []error {
	return []error{e.Kind, e.Err}
}

func extractionErr(op string, err error) error {
	return &Error{Kind: ErrExtraction, Op: op, Err: err}
}

func validationErr(op string, err error) error {
	return &Error{Kind: ErrValidation, Op: op, Err: err}
}
