package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/oklog/ulid/v2"
)

// Event represents a domain event envelope
type Event struct {
	ID            string          `json:"event_id"`
	Type          string          `json:"type"`
	Version       int             `json:"version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	ShopID        string          `json:"shop_id"`
	AggregateType string          `json:"aggregate_type"`
	AggregateID   string          `json:"aggregate_id"`
	Data          json.RawMessage `json:"data"`
}

// NewEvent creates a new event
func NewEvent(eventType, shopID, aggregateType, aggregateID string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:            ulid.Make().String(),
		Type:          eventType,
		Version:       1,
		OccurredAt:    time.Now().UTC(),
		ShopID:        shopID,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		Data:          dataBytes,
	}, nil
}

// WithCorrelation adds a correlation ID
func (e *Event) WithCorrelation(correlationID string) *Event {
	e.CorrelationID = correlationID
	return e
}

// DecodeData decodes the event data into a struct
func (e *Event) DecodeData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// EventPublisher publishes events to a message broker
type EventPublisher interface {
	Publish(ctx context.Context, event *Event) error
}

// Settlement event types
const (
	EventPaymentCreated  = "settlement.payment.created"
	EventPaymentPaid     = "settlement.payment.paid"
	EventPaymentRejected = "settlement.payment.rejected"
	EventPaymentRefunded = "settlement.payment.refunded"

	EventOfferCreated   = "settlement.offer.created"
	EventOfferAccepted  = "settlement.offer.accepted"
	EventOfferFinalized = "settlement.offer.finalized"
	EventOfferWithdrawn = "settlement.offer.withdrawn"

	EventDiscountRedeemed = "settlement.discount.redeemed"
)

// PaymentEventData is the payload for settlement.payment.* events.
type PaymentEventData struct {
	OrderID     string `json:"order_id"`
	PaymentCode string `json:"payment_code"`
	Type        string `json:"payment_type"`
	State       string `json:"state"`
	AmountMinor int64  `json:"amount_minor"`
	Currency    string `json:"currency"`
	TxHash      string `json:"tx_hash,omitempty"`
}

// OfferEventData is the payload for settlement.offer.* events.
type OfferEventData struct {
	ListingID string `json:"listing_id"`
	OfferID   string `json:"offer_id"`
	Status    string `json:"status"`
	TxHash    string `json:"tx_hash,omitempty"`
	IPFSHash  string `json:"ipfs_hash,omitempty"`
}

// DiscountRedeemedData is the payload for settlement.discount.redeemed events.
type DiscountRedeemedData struct {
	Code       string `json:"code"`
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id,omitempty"`
}
