package pricing

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"marketcore/internal/common/errs"
)

func TestEvaluateTimeWindow(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	end := now.Add(24 * time.Hour)
	cart := cartWith(nil)

	d := &DiscountDescriptor{Code: "D", Type: DiscountFixed, Value: 5, StartTime: now.Add(time.Hour)}
	err := Evaluate(d, cart, now, false)
	assert.True(t, errs.Is(err, errs.KindValidation))

	d = &DiscountDescriptor{Code: "D", Type: DiscountFixed, Value: 5, StartTime: now.Add(-time.Hour), EndTime: &end}
	assert.NoError(t, Evaluate(d, cart, now, false))

	assert.Error(t, Evaluate(d, cart, end.Add(time.Minute), false))
}

func TestEvaluateOpenEndedWindow(t *testing.T) {
	now := time.Now().UTC()
	d := &DiscountDescriptor{Code: "D", Type: DiscountFixed, Value: 5, StartTime: now.Add(-time.Hour)}

	// No end time means the window never closes.
	assert.NoError(t, Evaluate(d, cartWith(nil), now.Add(1000*time.Hour), false))
}

func TestEvaluateUsageCap(t *testing.T) {
	now := time.Now().UTC()
	d := &DiscountDescriptor{Code: "D", Type: DiscountFixed, Value: 5, Uses: 3, MaxUses: 3}

	err := Evaluate(d, cartWith(nil), now, false)
	assert.True(t, errs.Is(err, errs.KindValidation))

	d.MaxUses = 0 // unlimited
	assert.NoError(t, Evaluate(d, cartWith(nil), now, false))
}

func TestEvaluateOnePerCustomer(t *testing.T) {
	now := time.Now().UTC()
	d := &DiscountDescriptor{Code: "D", Type: DiscountFixed, Value: 5, OnePerCustomer: true}

	cart := cartWith(nil)
	cart.CustomerID = "cust-1"
	assert.Error(t, Evaluate(d, cart, now, true))
	assert.NoError(t, Evaluate(d, cart, now, false))

	// Without a supplied identity the rule is not enforceable.
	cart.CustomerID = ""
	assert.NoError(t, Evaluate(d, cart, now, true))
}

func TestEvaluatePaymentMethodEligibility(t *testing.T) {
	now := time.Now().UTC()
	d := &DiscountDescriptor{
		Code:           "D",
		Type:           DiscountPayment,
		Value:          10,
		PaymentMethods: map[string]bool{"card": true},
	}

	cart := cartWith(nil)
	cart.PaymentMethodID = "card"
	assert.NoError(t, Evaluate(d, cart, now, false))

	cart.PaymentMethodID = "paypal"
	err := Evaluate(d, cart, now, false)
	assert.True(t, errs.Is(err, errs.KindValidation))
}

func TestEvaluateNilInputs(t *testing.T) {
	assert.Error(t, Evaluate(nil, cartWith(nil), time.Now(), false))
	assert.Error(t, Evaluate(&DiscountDescriptor{Code: "D"}, nil, time.Now(), false))
}
