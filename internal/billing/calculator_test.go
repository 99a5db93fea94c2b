package billing_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/facturio/facturio-api/internal/billing"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func typePtr(t billing.DiscountType) *billing.DiscountType { return &t }

type stubPolicies struct {
	mu       sync.Mutex
	calls    int
	policies map[uuid.UUID]*billing.DiscountPolicy
	err      error
}

func (s *stubPolicies) DiscountPolicy(_ context.Context, id uuid.UUID) (*billing.DiscountPolicy, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return s.policies[id], nil
}

func TestProcessLineWithoutDiscount(t *testing.T) {
	calc := &billing.Calculator{}
	items := []billing.LineItem{{
		Description: "Consulting",
		Quantity:    dec("8"),
		UnitPrice:   dec("180"),
		VATRate:     dec("7.7"),
	}}

	processed, totals, err := calc.Process(context.Background(), items, nil)
	require.NoError(t, err)
	require.Len(t, processed, 1)

	line := processed[0]
	assert.Equal(t, 1, line.Order)
	assert.True(t, line.SubtotalBeforeDiscount.Equal(dec("1440.00")), "subtotal before discount: %s", line.SubtotalBeforeDiscount)
	assert.True(t, line.DiscountAmount.IsZero())
	assert.True(t, line.Total.Equal(dec("1440.00")))
	assert.Equal(t, billing.SourceNone, line.DiscountSource)

	assert.True(t, totals.Subtotal.Equal(dec("1440.00")), "subtotal: %s", totals.Subtotal)
	assert.True(t, totals.VATAmount.Equal(dec("110.88")), "vat: %s", totals.VATAmount)
	assert.True(t, totals.Total.Equal(dec("1550.88")), "total: %s", totals.Total)
	assert.Nil(t, totals.GlobalDiscountAmount)
}

func TestProcessPercentLineDiscount(t *testing.T) {
	calc := &billing.Calculator{}
	items := []billing.LineItem{{
		Quantity:      dec("1"),
		UnitPrice:     dec("100"),
		VATRate:       dec("8.1"),
		DiscountValue: decPtr("20"),
		DiscountType:  typePtr(billing.DiscountPercent),
	}}

	processed, _, err := calc.Process(context.Background(), items, nil)
	require.NoError(t, err)

	line := processed[0]
	assert.True(t, line.SubtotalBeforeDiscount.Equal(dec("100")))
	assert.True(t, line.DiscountAmount.Equal(dec("20")))
	assert.True(t, line.Total.Equal(dec("80")))
	assert.Equal(t, billing.SourceManual, line.DiscountSource)
}

func TestProcessAmountDiscountNeverNegative(t *testing.T) {
	calc := &billing.Calculator{}
	items := []billing.LineItem{{
		Quantity:      dec("1"),
		UnitPrice:     dec("50"),
		VATRate:       dec("8.1"),
		DiscountValue: decPtr("50"),
		DiscountType:  typePtr(billing.DiscountAmount),
	}}

	processed, totals, err := calc.Process(context.Background(), items, nil)
	require.NoError(t, err)
	assert.True(t, processed[0].Total.IsZero())
	assert.True(t, totals.Total.IsZero())
}

func TestProcessRejectsInvalidLines(t *testing.T) {
	calc := &billing.Calculator{}
	tests := []struct {
		name string
		item billing.LineItem
	}{
		{"negative quantity", billing.LineItem{Quantity: dec("-1"), UnitPrice: dec("10"), VATRate: dec("8.1")}},
		{"negative unit price", billing.LineItem{Quantity: dec("1"), UnitPrice: dec("-10"), VATRate: dec("8.1")}},
		{"negative vat rate", billing.LineItem{Quantity: dec("1"), UnitPrice: dec("10"), VATRate: dec("-8.1")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := []billing.LineItem{
				{Quantity: dec("1"), UnitPrice: dec("10"), VATRate: dec("8.1")},
				tt.item,
			}
			_, _, err := calc.Process(context.Background(), items, nil)
			require.ErrorIs(t, err, billing.ErrInvalidLineItem)

			var verr *billing.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, 2, verr.Line)
		})
	}
}

func TestProcessRejectsOutOfBoundsDiscounts(t *testing.T) {
	calc := &billing.Calculator{}
	tests := []struct {
		name  string
		value string
		typ   billing.DiscountType
	}{
		{"percent above 100", "101", billing.DiscountPercent},
		{"negative value", "-5", billing.DiscountPercent},
		{"amount above base", "100.01", billing.DiscountAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			items := []billing.LineItem{{
				Quantity:      dec("1"),
				UnitPrice:     dec("100"),
				VATRate:       dec("8.1"),
				DiscountValue: decPtr(tt.value),
				DiscountType:  typePtr(tt.typ),
			}}
			_, _, err := calc.Process(context.Background(), items, nil)
			require.ErrorIs(t, err, billing.ErrInvalidDiscount)

			var verr *billing.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, 1, verr.Line)
		})
	}
}

func TestManualDiscountWinsOverProductPolicy(t *testing.T) {
	productID := uuid.New()
	policies := &stubPolicies{policies: map[uuid.UUID]*billing.DiscountPolicy{
		productID: {Value: decPtr("50"), Type: typePtr(billing.DiscountPercent), Active: true},
	}}
	calc := &billing.Calculator{Policies: policies}

	items := []billing.LineItem{{
		Quantity:      dec("1"),
		UnitPrice:     dec("100"),
		VATRate:       dec("8.1"),
		ProductID:     &productID,
		DiscountValue: decPtr("10"),
		DiscountType:  typePtr(billing.DiscountPercent),
	}}

	processed, _, err := calc.Process(context.Background(), items, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, policies.calls, "explicit discount must skip the policy lookup")
	assert.True(t, processed[0].DiscountAmount.Equal(dec("10")))
	assert.Equal(t, billing.SourceManual, processed[0].DiscountSource)
}

func TestProductPolicyResolution(t *testing.T) {
	active := uuid.New()
	inactive := uuid.New()
	partial := uuid.New()
	missing := uuid.New()
	policies := &stubPolicies{policies: map[uuid.UUID]*billing.DiscountPolicy{
		active:   {Value: decPtr("25"), Type: typePtr(billing.DiscountPercent), Active: true},
		inactive: {Value: decPtr("25"), Type: typePtr(billing.DiscountPercent), Active: false},
		partial:  {Value: decPtr("25"), Active: true},
	}}
	calc := &billing.Calculator{Policies: policies}

	items := []billing.LineItem{
		{Quantity: dec("1"), UnitPrice: dec("100"), VATRate: dec("8.1"), ProductID: &active},
		{Quantity: dec("1"), UnitPrice: dec("100"), VATRate: dec("8.1"), ProductID: &inactive},
		{Quantity: dec("1"), UnitPrice: dec("100"), VATRate: dec("8.1"), ProductID: &partial},
		{Quantity: dec("1"), UnitPrice: dec("100"), VATRate: dec("8.1"), ProductID: &missing},
	}

	processed, _, err := calc.Process(context.Background(), items, nil)
	require.NoError(t, err)
	require.Len(t, processed, 4)
	assert.Equal(t, 4, policies.calls)

	assert.Equal(t, billing.SourceProduct, processed[0].DiscountSource)
	assert.True(t, processed[0].Total.Equal(dec("75")))
	for i := 1; i < 4; i++ {
		assert.Equal(t, billing.SourceNone, processed[i].DiscountSource, "line %d", i+1)
		assert.True(t, processed[i].Total.Equal(dec("100")), "line %d", i+1)
	}
	// Input ordering survives the concurrent lookups.
	for i, line := range processed {
		assert.Equal(t, i+1, line.Order)
	}
}

func TestPolicyLookupErrorFailsBatch(t *testing.T) {
	productID := uuid.New()
	policies := &stubPolicies{err: errors.New("connection refused")}
	calc := &billing.Calculator{Policies: policies}

	items := []billing.LineItem{{Quantity: dec("1"), UnitPrice: dec("10"), VATRate: dec("8.1"), ProductID: &productID}}
	_, _, err := calc.Process(context.Background(), items, nil)
	require.Error(t, err)
}

func TestVATRoundedPerLineBeforeSummation(t *testing.T) {
	calc := &billing.Calculator{}
	// 100.33 x 8.1% = 8.12673 -> 8.13 per line. Two lines give 16.26, whereas
	// rounding the aggregate 16.25346 once would give 16.25.
	items := []billing.LineItem{
		{Quantity: dec("1"), UnitPrice: dec("100.33"), VATRate: dec("8.1")},
		{Quantity: dec("1"), UnitPrice: dec("100.33"), VATRate: dec("8.1")},
	}
	_, totals, err := calc.Process(context.Background(), items, nil)
	require.NoError(t, err)
	assert.True(t, totals.VATAmount.Equal(dec("16.26")), "vat: %s", totals.VATAmount)
}

func TestGlobalDiscount(t *testing.T) {
	calc := &billing.Calculator{}
	items := []billing.LineItem{
		{Quantity: dec("1"), UnitPrice: dec("100"), VATRate: dec("8.1")},
		{Quantity: dec("1"), UnitPrice: dec("50"), VATRate: dec("2.6")},
	}

	t.Run("percent", func(t *testing.T) {
		_, totals, err := calc.Process(context.Background(), items, &billing.GlobalDiscount{Value: dec("10"), Type: billing.DiscountPercent})
		require.NoError(t, err)
		require.NotNil(t, totals.GlobalDiscountAmount)
		assert.True(t, totals.GlobalDiscountAmount.Equal(dec("15.00")))
		assert.True(t, totals.Subtotal.Equal(dec("135.00")))
		// VAT stays on the pre-global-discount per-line amounts: 8.10 + 1.30.
		assert.True(t, totals.VATAmount.Equal(dec("9.40")), "vat: %s", totals.VATAmount)
		assert.True(t, totals.Total.Equal(dec("144.40")))
	})

	t.Run("amount", func(t *testing.T) {
		_, totals, err := calc.Process(context.Background(), items, &billing.GlobalDiscount{Value: dec("50"), Type: billing.DiscountAmount})
		require.NoError(t, err)
		require.NotNil(t, totals.GlobalDiscountAmount)
		assert.True(t, totals.GlobalDiscountAmount.Equal(dec("50.00")))
		assert.True(t, totals.Subtotal.Equal(dec("100.00")))
	})

	t.Run("amount exceeding subtotal", func(t *testing.T) {
		small := []billing.LineItem{{Quantity: dec("1"), UnitPrice: dec("40"), VATRate: dec("8.1")}}
		_, _, err := calc.Process(context.Background(), small, &billing.GlobalDiscount{Value: dec("50"), Type: billing.DiscountAmount})
		require.ErrorIs(t, err, billing.ErrInvalidDiscount)

		var verr *billing.ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, 0, verr.Line, "global discount errors carry line 0")
	})
}

func TestAggregateIdempotent(t *testing.T) {
	calc := &billing.Calculator{}
	items := []billing.LineItem{
		{Quantity: dec("3"), UnitPrice: dec("33.35"), VATRate: dec("8.1")},
		{Quantity: dec("2"), UnitPrice: dec("12.45"), VATRate: dec("2.6"), DiscountValue: decPtr("5"), DiscountType: typePtr(billing.DiscountPercent)},
	}
	global := &billing.GlobalDiscount{Value: dec("7.5"), Type: billing.DiscountPercent}

	processed, first, err := calc.Process(context.Background(), items, global)
	require.NoError(t, err)

	second, err := billing.Aggregate(processed, global)
	require.NoError(t, err)

	assert.True(t, first.Subtotal.Equal(second.Subtotal))
	assert.True(t, first.VATAmount.Equal(second.VATAmount))
	assert.True(t, first.Total.Equal(second.Total))
	require.NotNil(t, second.GlobalDiscountAmount)
	assert.True(t, first.GlobalDiscountAmount.Equal(*second.GlobalDiscountAmount))
}

func TestProcessEmptyBatch(t *testing.T) {
	calc := &billing.Calculator{}
	processed, totals, err := calc.Process(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, processed)
	assert.True(t, totals.Subtotal.IsZero())
	assert.True(t, totals.Total.IsZero())
}
