package billing

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// DiscountType distinguishes percentage reductions from absolute deductions.
type DiscountType string

const (
	// DiscountPercent interprets the discount value as a percentage of the base amount.
	DiscountPercent DiscountType = "PERCENT"
	// DiscountAmount interprets the discount value as an absolute currency deduction.
	DiscountAmount DiscountType = "AMOUNT"
)

// Valid reports whether the discount type is one of the known variants.
func (t DiscountType) Valid() bool {
	return t == DiscountPercent || t == DiscountAmount
}

// DiscountSource records where a resolved line discount came from.
type DiscountSource string

const (
	// SourceProduct marks a discount inherited from the product's policy.
	SourceProduct DiscountSource = "FROM_PRODUCT"
	// SourceManual marks a discount entered explicitly on the line.
	SourceManual DiscountSource = "MANUAL"
	// SourceNone marks a line without any discount.
	SourceNone DiscountSource = "NONE"
)

// LineItem is one raw invoice line before processing. Quantity, UnitPrice and
// VATRate must be non-negative; VATRate is expressed in percentage points
// (8.1 means 8.1%). DiscountValue and DiscountType are optional and, when both
// are present, take precedence over any product policy.
type LineItem struct {
	Description    string
	Quantity       decimal.Decimal
	UnitPrice      decimal.Decimal
	VATRate        decimal.Decimal
	ProductID      *uuid.UUID
	DiscountValue  *decimal.Decimal
	DiscountType   *DiscountType
	DiscountSource DiscountSource
}

// ProcessedLineItem is a priced line. Monetary fields are rounded to centimes.
// Order is the 1-based position of the line in the input sequence.
type ProcessedLineItem struct {
	Order                  int
	Description            string
	Quantity               decimal.Decimal
	UnitPrice              decimal.Decimal
	VATRate                decimal.Decimal
	ProductID              *uuid.UUID
	DiscountValue          *decimal.Decimal
	DiscountType           *DiscountType
	DiscountSource         DiscountSource
	SubtotalBeforeDiscount decimal.Decimal
	DiscountAmount         decimal.Decimal
	Total                  decimal.Decimal
}

// GlobalDiscount is an invoice-wide reduction applied after line discounts.
type GlobalDiscount struct {
	Value decimal.Decimal
	Type  DiscountType
}

// Totals are the invoice-level aggregates. Subtotal is the post-global-discount,
// pre-VAT amount.
type Totals struct {
	Subtotal             decimal.Decimal
	VATAmount            decimal.Decimal
	Total                decimal.Decimal
	GlobalDiscountAmount *decimal.Decimal
}

// DiscountPolicy is a product-level default discount. It applies only when
// Active is true and both Value and Type are set.
type DiscountPolicy struct {
	Value  *decimal.Decimal
	Type   *DiscountType
	Active bool
}

// PolicyLookup fetches the discount policy attached to a product. A missing
// product is not an error: implementations return (nil, nil).
type PolicyLookup interface {
	DiscountPolicy(ctx context.Context, productID uuid.UUID) (*DiscountPolicy, error)
}
