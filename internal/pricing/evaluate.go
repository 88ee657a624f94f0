package pricing

import (
	"time"

	"marketcore/internal/common/errs"
)

// Evaluate checks whether a discount is applicable to a cart at the given
// time. alreadyRedeemed reports whether the cart's customer has redeemed
// this code before; resolving customer identity is the caller's concern and
// the one-per-customer rule is only enforced when an identity is supplied.
func Evaluate(d *DiscountDescriptor, cart *CartSnapshot, now time.Time, alreadyRedeemed bool) error {
	if d == nil {
		return errs.Validation("unknown discount")
	}
	if cart == nil {
		return errs.Validation("missing cart")
	}

	if !d.StartTime.IsZero() && now.Before(d.StartTime) {
		return errs.Validation("discount %q is not active yet", d.Code)
	}
	if d.EndTime != nil && now.After(*d.EndTime) {
		return errs.Validation("discount %q has expired", d.Code)
	}

	if d.MaxUses > 0 && d.Uses >= d.MaxUses {
		return errs.Validation("discount %q usage limit reached", d.Code)
	}

	if d.OnePerCustomer && cart.CustomerID != "" && alreadyRedeemed {
		return errs.Validation("discount %q already redeemed by this customer", d.Code)
	}

	if d.Type == DiscountPayment && !d.PaymentMethods[cart.PaymentMethodKey()] {
		return errs.Validation("discount %q is not valid for payment method %q", d.Code, cart.PaymentMethodKey())
	}

	return nil
}
