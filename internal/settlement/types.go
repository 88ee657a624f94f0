// Package settlement owns payment records and their state machine. A record
// is created Pending and only ever moves along Pending -> Paid -> Refunded
// or Pending -> Rejected; every other move is a conflict. The wire values
// below are case-sensitive and shared with external callers, so they never
// change spelling.
package settlement

import (
	"time"

	"github.com/oklog/ulid/v2"

	"marketcore/internal/common/errs"
	"marketcore/internal/common/money"
)

// PaymentType is the closed set of settlement methods.
type PaymentType string

const (
	TypeCrypto       PaymentType = "Crypto"
	TypeCryptoEscrow PaymentType = "CryptoEscrow"
	TypeCard         PaymentType = "Card"
	TypeOnlineWallet PaymentType = "OnlineWallet"
	TypeOffline      PaymentType = "Offline"
)

// Valid reports whether t is a known payment type.
func (t PaymentType) Valid() bool {
	switch t {
	case TypeCrypto, TypeCryptoEscrow, TypeCard, TypeOnlineWallet, TypeOffline:
		return true
	}
	return false
}

// Escrowed reports whether settlement state must be mirrored to the ledger
// escrow before it becomes durable here.
func (t PaymentType) Escrowed() bool { return t == TypeCryptoEscrow }

// ProcessorBacked reports whether an external processor holds the captured
// funds, so refunds must be confirmed there first.
func (t PaymentType) ProcessorBacked() bool {
	return t == TypeCard || t == TypeOnlineWallet
}

// PaymentState is the settlement state of a payment record.
type PaymentState string

const (
	StatePending  PaymentState = "Pending"
	StatePaid     PaymentState = "Paid"
	StateRejected PaymentState = "Rejected"
	StateRefunded PaymentState = "Refunded"
)

// Valid reports whether s is a known state.
func (s PaymentState) Valid() bool {
	switch s {
	case StatePending, StatePaid, StateRejected, StateRefunded:
		return true
	}
	return false
}

var transitions = map[PaymentState][]PaymentState{
	StatePending: {StatePaid, StateRejected},
	StatePaid:    {StateRefunded},
}

// CanTransition reports whether s -> to is a legal move. A same-state move
// is not a transition; callers treat it as an idempotent no-op.
func (s PaymentState) CanTransition(to PaymentState) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions can leave s.
func (s PaymentState) Terminal() bool {
	return len(transitions[s]) == 0
}

// PaymentRecord is the durable settlement record for one order payment.
type PaymentRecord struct {
	PaymentCode   string       `json:"payment_code"`
	OrderID       string       `json:"order_id"`
	ShopID        string       `json:"shop_id,omitempty"`
	Type          PaymentType  `json:"payment_type"`
	State         PaymentState `json:"state"`
	Amount        money.Money  `json:"amount"`
	Authenticated bool         `json:"authenticated"`
	TxHash        string       `json:"tx_hash,omitempty"`
	PayloadCID    string       `json:"payload_cid"`
	DiscountCode  string       `json:"discount_code,omitempty"`
	CustomerID    string       `json:"customer_id,omitempty"`
	ListingID     string       `json:"listing_id,omitempty"`
	OfferID       string       `json:"offer_id,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
	PaidAt        *time.Time   `json:"paid_at,omitempty"`
	RefundedAt    *time.Time   `json:"refunded_at,omitempty"`
}

// NewPaymentRecord creates a Pending record with a fresh payment code.
func NewPaymentRecord(orderID, shopID string, typ PaymentType, amount money.Money) (*PaymentRecord, error) {
	if orderID == "" {
		return nil, errs.Validation("order ID is required")
	}
	if !typ.Valid() {
		return nil, errs.Validation("unknown payment type %q", typ)
	}
	if amount.AmountMinor < 0 {
		return nil, errs.Validation("payment amount must not be negative")
	}

	now := time.Now().UTC()
	return &PaymentRecord{
		PaymentCode: ulid.Make().String(),
		OrderID:     orderID,
		ShopID:      shopID,
		Type:        typ,
		State:       StatePending,
		Amount:      amount,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Transitioned returns a copy of p moved to the target state with the
// matching timestamps set. It does not touch storage; the store's
// compare-and-set write is what makes the move durable.
func (p *PaymentRecord) Transitioned(to PaymentState, now time.Time) (*PaymentRecord, error) {
	if !p.State.CanTransition(to) {
		return nil, errs.StateConflict("payment %s cannot move from %s to %s", p.PaymentCode, p.State, to)
	}

	next := *p
	next.State = to
	next.UpdatedAt = now
	switch to {
	case StatePaid:
		next.PaidAt = &now
	case StateRefunded:
		next.RefundedAt = &now
	}
	return &next, nil
}
