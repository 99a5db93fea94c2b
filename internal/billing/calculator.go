package billing

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

var hundred = decimal.NewFromInt(100)

// round2 rounds to centimes, half away from zero.
func round2(d decimal.Decimal) decimal.Decimal { return d.Round(2) }

// Calculator prices raw line items and aggregates invoice totals. Policies is
// consulted for product-level default discounts; it may be nil, in which case
// lines without an explicit discount resolve to none.
type Calculator struct {
	Policies PolicyLookup
}

// Process validates every line item, resolves and validates discounts, prices
// each line and aggregates invoice totals with the optional global discount.
// The batch is atomic: any invalid line or discount fails the whole call and
// no partial result is returned. Output preserves input order.
func (c *Calculator) Process(ctx context.Context, items []LineItem, global *GlobalDiscount) ([]ProcessedLineItem, Totals, error) {
	if err := validateItems(items); err != nil {
		return nil, Totals{}, err
	}
	processed, err := c.resolve(ctx, items)
	if err != nil {
		return nil, Totals{}, err
	}
	totals, err := Aggregate(processed, global)
	if err != nil {
		return nil, Totals{}, err
	}
	return processed, totals, nil
}

// validateItems rejects the whole batch before any discount resolution starts.
func validateItems(items []LineItem) error {
	for i, it := range items {
		switch {
		case it.Quantity.IsNegative():
			return invalidItem(i+1, "quantity must not be negative")
		case it.UnitPrice.IsNegative():
			return invalidItem(i+1, "unit price must not be negative")
		case it.VATRate.IsNegative():
			return invalidItem(i+1, "vat rate must not be negative")
		}
	}
	return nil
}

// resolve prices all lines. Product policy lookups are independent per line,
// so they fan out concurrently; the first failure cancels the rest.
func (c *Calculator) resolve(ctx context.Context, items []LineItem) ([]ProcessedLineItem, error) {
	processed := make([]ProcessedLineItem, len(items))
	g, ctx := errgroup.WithContext(ctx)
	for i, it := range items {
		g.Go(func() error {
			line, err := c.resolveLine(ctx, i+1, it)
			if err != nil {
				return err
			}
			processed[i] = line
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return processed, nil
}

func (c *Calculator) resolveLine(ctx context.Context, order int, it LineItem) (ProcessedLineItem, error) {
	value := it.DiscountValue
	typ := it.DiscountType
	source := it.DiscountSource

	manual := source == SourceManual || (value != nil && typ != nil)
	if !manual && it.ProductID != nil && c.Policies != nil {
		policy, err := c.Policies.DiscountPolicy(ctx, *it.ProductID)
		if err != nil {
			return ProcessedLineItem{}, fmt.Errorf("lookup discount policy: %w", err)
		}
		if policy != nil && policy.Active && policy.Value != nil && policy.Type != nil {
			value = policy.Value
			typ = policy.Type
			source = SourceProduct
		}
	}
	if manual && (source == "" || source == SourceNone) {
		source = SourceManual
	}
	if value == nil || typ == nil {
		value = nil
		typ = nil
		source = SourceNone
	}
	return priceLine(order, it, value, typ, source)
}

// priceLine computes one line's monetary breakdown. An amount discount never
// drives the line total negative.
func priceLine(order int, it LineItem, value *decimal.Decimal, typ *DiscountType, source DiscountSource) (ProcessedLineItem, error) {
	before := round2(it.Quantity.Mul(it.UnitPrice))
	discount := decimal.Zero
	if value != nil && typ != nil {
		var err error
		discount, err = discountFor(order, *value, *typ, before)
		if err != nil {
			return ProcessedLineItem{}, err
		}
		// Rounded at source so that discount and total stay additive.
		discount = round2(discount)
	}
	total := before.Sub(discount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	return ProcessedLineItem{
		Order:                  order,
		Description:            it.Description,
		Quantity:               it.Quantity,
		UnitPrice:              it.UnitPrice,
		VATRate:                it.VATRate,
		ProductID:              it.ProductID,
		DiscountValue:          value,
		DiscountType:           typ,
		DiscountSource:         source,
		SubtotalBeforeDiscount: before,
		DiscountAmount:         discount,
		Total:                  total,
	}, nil
}

// discountFor validates the value/type pair against its base amount and
// returns the unrounded reduction. Percent values must lie in [0,100], amount
// values in [0,base]. line 0 means the invoice-level global discount.
func discountFor(line int, value decimal.Decimal, typ DiscountType, base decimal.Decimal) (decimal.Decimal, error) {
	if value.IsNegative() {
		return decimal.Zero, invalidDiscount(line, "discount value must not be negative")
	}
	switch typ {
	case DiscountPercent:
		if value.GreaterThan(hundred) {
			return decimal.Zero, invalidDiscount(line, fmt.Sprintf("percent discount %s exceeds 100", value))
		}
		return base.Mul(value).Div(hundred), nil
	case DiscountAmount:
		if value.GreaterThan(base) {
			return decimal.Zero, invalidDiscount(line, fmt.Sprintf("amount discount %s exceeds base %s", value, round2(base)))
		}
		return value, nil
	default:
		return decimal.Zero, invalidDiscount(line, fmt.Sprintf("unknown discount type %q", typ))
	}
}

// Aggregate combines priced lines into invoice totals. VAT is computed per
// line on its post-line-discount amount and rounded to centimes before
// summation. The global discount is validated against the sum of line totals
// and subtracted from the aggregate subtotal only; per-line VAT bases are not
// redistributed.
func Aggregate(lines []ProcessedLineItem, global *GlobalDiscount) (Totals, error) {
	linesSubtotal := decimal.Zero
	vat := decimal.Zero
	for _, ln := range lines {
		linesSubtotal = linesSubtotal.Add(ln.Total)
		vat = vat.Add(round2(ln.Total.Mul(ln.VATRate).Div(hundred)))
	}

	totals := Totals{Subtotal: round2(linesSubtotal)}
	if global != nil {
		amount, err := discountFor(0, global.Value, global.Type, linesSubtotal)
		if err != nil {
			return Totals{}, err
		}
		amount = round2(amount)
		totals.GlobalDiscountAmount = &amount
		totals.Subtotal = round2(linesSubtotal.Sub(amount))
	}
	totals.VATAmount = round2(vat)
	totals.Total = totals.Subtotal.Add(totals.VATAmount)
	return totals, nil
}
