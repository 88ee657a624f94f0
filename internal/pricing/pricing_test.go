package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"marketcore/internal/common/money"
)

func cartWith(items []LineItem) *CartSnapshot {
	var declared int64
	for _, it := range items {
		declared += it.Quantity * it.UnitPrice
	}
	return &CartSnapshot{
		OrderID:          "order-1",
		Items:            items,
		DeclaredSubtotal: declared,
		Currency:         money.USD,
		PaymentMethodID:  "card",
	}
}

func TestComputeTotalSubtotal(t *testing.T) {
	cart := cartWith([]LineItem{
		{ProductID: "p1", Quantity: 2, UnitPrice: 1500},
		{ProductID: "p2", Quantity: 1, UnitPrice: 250},
	})

	totals := ComputeTotal(cart, nil)

	assert.Equal(t, int64(3250), totals.SubTotal)
	assert.Equal(t, int64(3250), totals.Total)
}

func TestComputeTotalNilCart(t *testing.T) {
	assert.Equal(t, Totals{}, ComputeTotal(nil, nil))
}

func TestComputeTotalTaxCeiling(t *testing.T) {
	tests := []struct {
		name     string
		subTotal int64
		taxRate  int64
		want     int64
	}{
		// rate 800 means 8.00%; the scaled formula yields 8 on 10000.
		{"worked example", 10000, 800, 8},
		{"rounds up", 10001, 800, 9},
		{"zero rate", 10000, 0, 0},
		{"tiny subtotal still taxed", 1, 800, 1},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cart := cartWith([]LineItem{{ProductID: "p", Quantity: 1, UnitPrice: tc.subTotal}})
			cart.TaxRate = tc.taxRate

			totals := ComputeTotal(cart, nil)
			assert.Equal(t, tc.want, totals.TotalTaxes)
			assert.Equal(t, tc.subTotal+tc.want, totals.Total)
		})
	}
}

func TestComputeTotalFixedDiscount(t *testing.T) {
	cart := cartWith([]LineItem{{ProductID: "p", Quantity: 1, UnitPrice: 5000}})
	d := &DiscountDescriptor{Code: "TEN", Type: DiscountFixed, Value: 10}

	totals := ComputeTotal(cart, d)

	assert.Equal(t, int64(1000), totals.Discount)
	assert.Equal(t, int64(4000), totals.Total)
}

func TestComputeTotalPercentageClamp(t *testing.T) {
	cart := cartWith([]LineItem{{ProductID: "p", Quantity: 1, UnitPrice: 10000}})
	d := &DiscountDescriptor{
		Code:             "HALF",
		Type:             DiscountPercentage,
		Value:            50,
		MaxDiscountValue: 10,
	}

	totals := ComputeTotal(cart, d)

	// Raw discount 5000 clamped to max 10 major units.
	assert.Equal(t, int64(1000), totals.Discount)
}

func TestComputeTotalFixedDiscountNotClamped(t *testing.T) {
	cart := cartWith([]LineItem{{ProductID: "p", Quantity: 1, UnitPrice: 10000}})
	d := &DiscountDescriptor{
		Code:             "BIG",
		Type:             DiscountFixed,
		Value:            50,
		MaxDiscountValue: 10,
	}

	totals := ComputeTotal(cart, d)

	// The clamp only applies to percentage and payment discounts.
	assert.Equal(t, int64(5000), totals.Discount)
}

func TestComputeTotalMinCartGate(t *testing.T) {
	cart := cartWith([]LineItem{{ProductID: "p", Quantity: 1, UnitPrice: 1500}})
	d := &DiscountDescriptor{Code: "GATED", Type: DiscountPercentage, Value: 50, MinCartValue: 20}

	totals := ComputeTotal(cart, d)

	// $15.00 does not exceed the $20 minimum.
	assert.Equal(t, int64(0), totals.Discount)

	cart = cartWith([]LineItem{{ProductID: "p", Quantity: 1, UnitPrice: 2001}})
	totals = ComputeTotal(cart, d)
	assert.Equal(t, int64(1001), totals.Discount)
}

func TestComputeTotalMinCartGateExactBoundary(t *testing.T) {
	// preDiscountTotal must strictly exceed minCartValue*100.
	cart := cartWith([]LineItem{{ProductID: "p", Quantity: 1, UnitPrice: 2000}})
	d := &DiscountDescriptor{Code: "GATED", Type: DiscountPercentage, Value: 10, MinCartValue: 20}

	totals := ComputeTotal(cart, d)
	assert.Equal(t, int64(0), totals.Discount)
}

func TestComputeTotalUsesDeclaredSubtotalForGate(t *testing.T) {
	// The gate reads the cart-declared subtotal, not the recomputed one.
	// The two can diverge while a promotion is in flight.
	cart := cartWith([]LineItem{{ProductID: "p", Quantity: 1, UnitPrice: 1500}})
	cart.DeclaredSubtotal = 2500
	d := &DiscountDescriptor{Code: "GATED", Type: DiscountPercentage, Value: 10, MinCartValue: 20}

	totals := ComputeTotal(cart, d)

	// Gate passes on the declared 2500 even though the recomputed
	// subtotal is 1500; the percentage also applies to the declared value.
	assert.Equal(t, int64(250), totals.Discount)
	assert.Equal(t, int64(1500), totals.SubTotal)
}

func TestComputeTotalPaymentConditional(t *testing.T) {
	cart := cartWith([]LineItem{{ProductID: "p", Quantity: 1, UnitPrice: 10000}})
	cart.PaymentMethodID = "crypto"
	cart.TokenSymbol = "ETH"

	d := &DiscountDescriptor{
		Code:           "ETHONLY",
		Type:           DiscountPayment,
		Value:          10,
		PaymentMethods: map[string]bool{"crypto:ETH": true},
	}

	totals := ComputeTotal(cart, d)
	assert.Equal(t, int64(1000), totals.Discount)

	cart.TokenSymbol = "DAI"
	totals = ComputeTotal(cart, d)
	assert.Equal(t, int64(0), totals.Discount)
}

func TestComputeTotalExcludeShipping(t *testing.T) {
	cart := cartWith([]LineItem{{ProductID: "p", Quantity: 1, UnitPrice: 1900}})
	cart.Shipping = &ShippingOption{ID: "std", Amount: 200}
	d := &DiscountDescriptor{Code: "D", Type: DiscountPercentage, Value: 10, MinCartValue: 20, ExcludeShipping: true}

	// 1900 declared + 0 shipping does not pass the $20 gate.
	totals := ComputeTotal(cart, d)
	assert.Equal(t, int64(0), totals.Discount)

	// With shipping included the gate passes.
	d.ExcludeShipping = false
	totals = ComputeTotal(cart, d)
	assert.Equal(t, int64(210), totals.Discount)
}

func TestComputeTotalDonationAndFloor(t *testing.T) {
	cart := cartWith([]LineItem{{ProductID: "p", Quantity: 1, UnitPrice: 500}})
	cart.Donation = 250
	d := &DiscountDescriptor{Code: "HUGE", Type: DiscountFixed, Value: 100}

	totals := ComputeTotal(cart, d)

	// 500 - 10000 + 250 would be negative; total floors at zero.
	assert.Equal(t, int64(0), totals.Total)
	assert.Equal(t, int64(250), totals.Donation)
}

func TestComputeTotalInvariant(t *testing.T) {
	carts := []*CartSnapshot{
		cartWith([]LineItem{{ProductID: "a", Quantity: 3, UnitPrice: 333}}),
		cartWith([]LineItem{{ProductID: "b", Quantity: 1, UnitPrice: 99999}}),
		cartWith(nil),
	}
	carts[0].TaxRate = 825
	carts[0].Donation = 100
	carts[1].Shipping = &ShippingOption{ID: "express", Amount: 1500}

	d := &DiscountDescriptor{Code: "D", Type: DiscountPercentage, Value: 15}

	for _, cart := range carts {
		totals := ComputeTotal(cart, d)
		want := money.Max(0, totals.SubTotal+totals.Shipping-totals.Discount+totals.Donation+totals.TotalTaxes)
		assert.Equal(t, want, totals.Total)
		assert.GreaterOrEqual(t, totals.Total, int64(0))
	}
}
