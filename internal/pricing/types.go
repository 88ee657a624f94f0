// Package pricing computes deterministic order totals and evaluates discount
// eligibility. Everything here is pure: no I/O, no clocks beyond the ones
// passed in, and ComputeTotal never fails.
package pricing

import (
	"time"

	"marketcore/internal/common/money"
)

// LineItem is a single cart line in minor currency units.
type LineItem struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// ShippingOption is the cart's selected shipping method.
type ShippingOption struct {
	ID     string `json:"id"`
	Label  string `json:"label,omitempty"`
	Amount int64  `json:"amount"`
}

// CartSnapshot is the immutable cart submitted for settlement.
//
// DeclaredSubtotal is the subtotal the cart itself recorded, which can
// legitimately diverge from the recomputed one while a promotion is in
// flight; the discount minimum-cart gate reads the declared value.
type CartSnapshot struct {
	OrderID          string          `json:"order_id"`
	Items            []LineItem      `json:"items"`
	Shipping         *ShippingOption `json:"shipping,omitempty"`
	DeclaredSubtotal int64           `json:"declared_subtotal"`
	Donation         int64           `json:"donation"`
	// TaxRate is scaled by 1/10000: 800 means 8.00%.
	TaxRate         int64          `json:"tax_rate"`
	Currency        money.Currency `json:"currency"`
	PaymentMethodID string         `json:"payment_method_id"`
	TokenSymbol     string         `json:"token_symbol,omitempty"`
	CustomerID      string         `json:"customer_id,omitempty"`
	DiscountCode    string         `json:"discount_code,omitempty"`
}

// PaymentMethodKey returns the eligibility-map key for the cart's active
// payment method. Crypto methods are keyed per token.
func (c *CartSnapshot) PaymentMethodKey() string {
	if c.PaymentMethodID == "crypto" && c.TokenSymbol != "" {
		return "crypto:" + c.TokenSymbol
	}
	return c.PaymentMethodID
}

// DiscountType is the closed set of discount kinds.
type DiscountType string

const (
	DiscountFixed      DiscountType = "fixed"
	DiscountPercentage DiscountType = "percentage"
	DiscountPayment    DiscountType = "payment"
)

// DiscountDescriptor is seller-owned discount configuration, read-only to
// the settlement core. Uses is incremented exactly once per settled order
// that applied the discount; the settlement store owns that write.
type DiscountDescriptor struct {
	Code string       `json:"code"`
	Type DiscountType `json:"discount_type"`
	// Value is an amount in major units for fixed discounts, a percentage
	// for the other types.
	Value int64 `json:"value"`
	// MinCartValue and MaxDiscountValue are in major units; 0 means unset.
	MinCartValue     int64 `json:"min_cart_value,omitempty"`
	MaxDiscountValue int64 `json:"max_discount_value,omitempty"`
	ExcludeShipping  bool  `json:"exclude_shipping,omitempty"`
	ExcludeTaxes     bool  `json:"exclude_taxes,omitempty"`
	OnePerCustomer   bool  `json:"one_per_customer,omitempty"`
	Uses             int64 `json:"uses"`
	// MaxUses of 0 means unlimited.
	MaxUses   int64      `json:"max_uses,omitempty"`
	StartTime time.Time  `json:"start_time"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	// PaymentMethods maps a method key (see PaymentMethodKey) to
	// eligibility for payment-conditional discounts.
	PaymentMethods map[string]bool `json:"payment_methods,omitempty"`
}

// Totals is the deterministic breakdown of an order. All amounts are in
// minor currency units.
type Totals struct {
	SubTotal   int64 `json:"sub_total"`
	Shipping   int64 `json:"shipping"`
	Discount   int64 `json:"discount"`
	Donation   int64 `json:"donation"`
	TotalTaxes int64 `json:"total_taxes"`
	Total      int64 `json:"total"`
	TaxRate    int64 `json:"tax_rate"`
}
