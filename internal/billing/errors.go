package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidLineItem marks a line item with a negative or malformed
	// quantity, unit price or VAT rate.
	ErrInvalidLineItem = errors.New("invalid line item")
	// ErrInvalidDiscount marks a discount whose value fails bounds validation
	// against its base amount.
	ErrInvalidDiscount = errors.New("invalid discount")
)

// ValidationError identifies the line that failed validation. Line is 1-based;
// 0 denotes the invoice-level global discount.
type ValidationError struct {
	Line   int
	Reason string
	kind   error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Line == 0 {
		return fmt.Sprintf("global discount: %s", e.Reason)
	}
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

// Unwrap exposes the sentinel so callers can use errors.Is.
func (e *ValidationError) Unwrap() error { return e.kind }

func invalidItem(line int, reason string) error {
	return &ValidationError{Line: line, Reason: reason, kind: ErrInvalidLineItem}
}

func invalidDiscount(line int, reason string) error {
	return &ValidationError{Line: line, Reason: reason, kind: ErrInvalidDiscount}
}
