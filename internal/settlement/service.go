package settlement

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"marketcore/internal/backends"
	"marketcore/internal/chain"
	"marketcore/internal/common/database"
	"marketcore/internal/common/errs"
	"marketcore/internal/common/events"
	"marketcore/internal/common/middleware"
	"marketcore/internal/common/money"
	"marketcore/internal/contentstore"
	"marketcore/internal/pricing"
)

// ContentReader fetches an immutable payload by its content identifier.
// *contentstore.Client satisfies it.
type ContentReader interface {
	Get(ctx context.Context, id string, timeout time.Duration) (json.RawMessage, error)
}

// OfferClient drives the escrow lifecycle on the ledger.
// *chain.Orchestrator satisfies it.
type OfferClient interface {
	MakeOffer(ctx context.Context, req chain.MakeOfferRequest) (*chain.OfferRef, common.Hash, error)
	AcceptOffer(ctx context.Context, ref chain.OfferRef, actor chain.Identity) (*chain.OfferRecord, error)
	FinalizeOffer(ctx context.Context, ref chain.OfferRef, actor chain.Identity) (*chain.OfferRecord, error)
	WithdrawOffer(ctx context.Context, ref chain.OfferRef, actor chain.Identity) (*chain.OfferRecord, error)
}

// Config holds settlement service configuration.
type Config struct {
	// ContentReadTimeout bounds the payload fetch during payment submission.
	ContentReadTimeout time.Duration `envconfig:"SETTLEMENT_CONTENT_READ_TIMEOUT" default:"10s"`
	// EscrowFinalizeWindow is how long escrowed funds stay disputable.
	EscrowFinalizeWindow time.Duration `envconfig:"SETTLEMENT_ESCROW_FINALIZE_WINDOW" default:"672h"`
}

// Service validates submitted payments against their immutable payloads,
// owns the settlement state machine, and mirrors escrowed payments onto the
// ledger before their state moves become durable.
type Service struct {
	store     Store
	content   ContentReader
	offers    OfferClient
	publisher events.EventPublisher
	seller    chain.Identity
	cfg       Config
	logger    *slog.Logger

	// Optional processor adapter for card and wallet refunds.
	processor backends.Processor
}

// NewService creates a settlement service. offers may be nil when no ledger
// is configured; escrowed payment types are then rejected at submission.
func NewService(store Store, content ContentReader, offers OfferClient, publisher events.EventPublisher, seller chain.Identity, cfg Config, logger *slog.Logger) *Service {
	return &Service{
		store:     store,
		content:   content,
		offers:    offers,
		publisher: publisher,
		seller:    seller,
		cfg:       cfg,
		logger:    logger,
	}
}

// SetProcessor sets the payment processor adapter.
func (s *Service) SetProcessor(p backends.Processor) { s.processor = p }

// SubmitPaymentRequest is a request to settle an order.
type SubmitPaymentRequest struct {
	OrderID       string `json:"order_id" validate:"required"`
	ShopID        string `json:"shop_id,omitempty"`
	PayloadCID    string `json:"payload_cid" validate:"required"`
	Type          string `json:"payment_type" validate:"required,oneof=Crypto CryptoEscrow Card OnlineWallet Offline"`
	AmountMinor   int64  `json:"amount_minor" validate:"gte=0"`
	Currency      string `json:"currency" validate:"required"`
	Authenticated bool   `json:"authenticated"`
	// ListingID is required for escrowed payments.
	ListingID string `json:"listing_id,omitempty"`
}

// SubmitPayment fetches the cart payload, reprices it, verifies the
// submitted amount against the recomputed total, and creates a Pending
// record. Escrowed payments additionally escrow the full amount on the
// ledger before the record is stored.
func (s *Service) SubmitPayment(ctx context.Context, req *SubmitPaymentRequest) (*PaymentRecord, error) {
	raw, err := s.content.Get(ctx, req.PayloadCID, s.cfg.ContentReadTimeout)
	if err != nil {
		return nil, err
	}

	var cart pricing.CartSnapshot
	if err := json.Unmarshal(raw, &cart); err != nil {
		return nil, errs.Decode(err, "payload %s is not a cart snapshot", req.PayloadCID)
	}
	if cart.OrderID != req.OrderID {
		return nil, errs.Validation("payload %s belongs to order %s, not %s", req.PayloadCID, cart.OrderID, req.OrderID)
	}

	discount, err := s.resolveDiscount(ctx, &cart)
	if err != nil {
		return nil, err
	}

	totals := pricing.ComputeTotal(&cart, discount)
	if totals.Total != req.AmountMinor {
		return nil, errs.Validation("submitted amount %d does not match computed total %d for order %s",
			req.AmountMinor, totals.Total, req.OrderID)
	}

	rec, err := NewPaymentRecord(req.OrderID, req.ShopID, PaymentType(req.Type), money.Money{
		AmountMinor: req.AmountMinor,
		Currency:    money.Currency(req.Currency),
	})
	if err != nil {
		return nil, err
	}
	rec.Authenticated = req.Authenticated
	rec.PayloadCID = req.PayloadCID
	rec.DiscountCode = cart.DiscountCode
	rec.CustomerID = cart.CustomerID

	if rec.Type.Escrowed() {
		if err := s.escrowPayment(ctx, rec, req.ListingID); err != nil {
			return nil, err
		}
	}

	if err := s.store.CreatePayment(ctx, rec); err != nil {
		return nil, err
	}

	s.publish(ctx, events.EventPaymentCreated, rec)
	s.logger.Info("payment created",
		"payment_code", rec.PaymentCode,
		"order_id", rec.OrderID,
		"payment_type", rec.Type,
		"amount_minor", rec.Amount.AmountMinor,
		"currency", rec.Amount.Currency,
	)
	return rec, nil
}

// resolveDiscount loads and gates the cart's discount, returning nil when
// the cart carries none.
func (s *Service) resolveDiscount(ctx context.Context, cart *pricing.CartSnapshot) (*pricing.DiscountDescriptor, error) {
	if cart.DiscountCode == "" {
		return nil, nil
	}

	discount, err := s.store.GetDiscount(ctx, cart.DiscountCode)
	if err != nil {
		if database.IsNotFound(err) {
			return nil, errs.Validation("unknown discount code %q", cart.DiscountCode)
		}
		return nil, err
	}

	redeemed := false
	if discount.OnePerCustomer && cart.CustomerID != "" {
		redeemed, err = s.store.HasRedeemed(ctx, discount.Code, cart.CustomerID)
		if err != nil {
			return nil, err
		}
	}

	if err := pricing.Evaluate(discount, cart, time.Now().UTC(), redeemed); err != nil {
		return nil, err
	}
	return discount, nil
}

func (s *Service) escrowPayment(ctx context.Context, rec *PaymentRecord, listingID string) error {
	if s.offers == nil {
		return errs.Validation("escrowed payments are not enabled")
	}
	listing, ok := new(big.Int).SetString(listingID, 10)
	if !ok {
		return errs.Validation("listing ID %q is not a decimal integer", listingID)
	}

	payloadHash, err := contentstore.ToFixedWidth(rec.PayloadCID)
	if err != nil {
		return err
	}

	ref, txHash, err := s.offers.MakeOffer(ctx, chain.MakeOfferRequest{
		ListingID:      listing,
		PayloadHash:    payloadHash,
		FinalizeWindow: s.cfg.EscrowFinalizeWindow,
		Value:          big.NewInt(rec.Amount.AmountMinor),
		Buyer:          chain.Identity{},
	})
	if err != nil {
		return err
	}

	rec.ListingID = ref.ListingID.String()
	rec.OfferID = ref.OfferID.String()
	rec.TxHash = txHash.Hex()

	s.publishOffer(ctx, events.EventOfferCreated, rec, chain.OfferCreated)
	return nil
}

// TransitionState moves a payment to the target state. Same-state requests
// are idempotent no-ops. Escrowed payments mirror the move to the ledger
// first, so a revert there leaves the durable state untouched. A lost
// compare-and-set race is re-read and retried once.
func (s *Service) TransitionState(ctx context.Context, paymentCode string, to PaymentState, txHash string) (*PaymentRecord, error) {
	if !to.Valid() {
		return nil, errs.Validation("unknown payment state %q", to)
	}

	rec, err := s.store.GetPayment(ctx, paymentCode)
	if err != nil {
		return nil, err
	}

	for attempt := 0; ; attempt++ {
		if rec.State == to {
			return rec, nil
		}

		next, err := rec.Transitioned(to, time.Now().UTC())
		if err != nil {
			return nil, err
		}
		if txHash != "" {
			next.TxHash = txHash
		}

		if rec.Type.Escrowed() {
			if err := s.mirrorEscrow(ctx, next, to); err != nil {
				return nil, err
			}
		} else if to == StateRefunded && s.processor != nil && rec.Type.ProcessorBacked() {
			err := s.processor.Refund(ctx, backends.RefundRequest{
				PaymentCode: rec.PaymentCode,
				OrderID:     rec.OrderID,
				AmountMinor: rec.Amount.AmountMinor,
				Currency:    string(rec.Amount.Currency),
			})
			if err != nil {
				return nil, err
			}
		}

		var redeem *DiscountRedemption
		if to == StatePaid && rec.DiscountCode != "" {
			redeem = &DiscountRedemption{
				Code:           rec.DiscountCode,
				CustomerID:     rec.CustomerID,
				OrderID:        rec.OrderID,
				OnePerCustomer: s.discountOnePerCustomer(ctx, rec.DiscountCode),
			}
		}

		err = s.store.TransitionPayment(ctx, next, rec.State, redeem)
		if errs.Is(err, errs.KindStateConflict) && attempt == 0 {
			rec, err = s.store.GetPayment(ctx, paymentCode)
			if err != nil {
				return nil, err
			}
			continue
		}
		if err != nil {
			return nil, err
		}

		s.publishTransition(ctx, next, redeem)
		s.logger.Info("payment state changed",
			"payment_code", next.PaymentCode,
			"order_id", next.OrderID,
			"from", rec.State,
			"to", next.State,
		)
		return next, nil
	}
}

// mirrorEscrow applies the ledger-side move that corresponds to the target
// settlement state. Rejection and refund both return escrowed funds to the
// buyer.
func (s *Service) mirrorEscrow(ctx context.Context, rec *PaymentRecord, to PaymentState) error {
	if s.offers == nil {
		return errs.Validation("escrowed payments are not enabled")
	}

	listing, ok := new(big.Int).SetString(rec.ListingID, 10)
	if !ok {
		return errs.Validation("payment %s has no ledger listing", rec.PaymentCode)
	}
	offer, ok := new(big.Int).SetString(rec.OfferID, 10)
	if !ok {
		return errs.Validation("payment %s has no ledger offer", rec.PaymentCode)
	}
	ref := chain.OfferRef{ListingID: listing, OfferID: offer}

	switch to {
	case StatePaid:
		offerRec, err := s.offers.AcceptOffer(ctx, ref, s.seller)
		if err != nil {
			return err
		}
		s.publishOffer(ctx, events.EventOfferAccepted, rec, offerRec.Status)
	case StateRejected, StateRefunded:
		offerRec, err := s.offers.WithdrawOffer(ctx, ref, s.seller)
		if err != nil {
			return err
		}
		s.publishOffer(ctx, events.EventOfferWithdrawn, rec, offerRec.Status)
	}
	return nil
}

// FinalizeEscrow releases escrowed funds to the seller once the dispute
// window has passed. Only valid for Paid escrowed payments.
func (s *Service) FinalizeEscrow(ctx context.Context, paymentCode string) (*PaymentRecord, error) {
	rec, err := s.store.GetPayment(ctx, paymentCode)
	if err != nil {
		return nil, err
	}
	if !rec.Type.Escrowed() {
		return nil, errs.Validation("payment %s is not escrowed", paymentCode)
	}
	if s.offers == nil {
		return nil, errs.Validation("escrowed payments are not enabled")
	}
	if rec.State != StatePaid {
		return nil, errs.StateConflict("payment %s is %s, only Paid escrows can finalize", paymentCode, rec.State)
	}

	listing, _ := new(big.Int).SetString(rec.ListingID, 10)
	offer, _ := new(big.Int).SetString(rec.OfferID, 10)
	if listing == nil || offer == nil {
		return nil, errs.Validation("payment %s has no ledger offer", paymentCode)
	}

	offerRec, err := s.offers.FinalizeOffer(ctx, chain.OfferRef{ListingID: listing, OfferID: offer}, s.seller)
	if err != nil {
		return nil, err
	}
	s.publishOffer(ctx, events.EventOfferFinalized, rec, offerRec.Status)
	return rec, nil
}

// GetPayment retrieves a payment record by code.
func (s *Service) GetPayment(ctx context.Context, paymentCode string) (*PaymentRecord, error) {
	return s.store.GetPayment(ctx, paymentCode)
}

// GetPaymentByOrder retrieves the most recent payment record for an order.
func (s *Service) GetPaymentByOrder(ctx context.Context, orderID string) (*PaymentRecord, error) {
	return s.store.GetPaymentByOrder(ctx, orderID)
}

// ListPayments returns recent payment records, newest first, scoped to a
// shop when shopID is non-empty.
func (s *Service) ListPayments(ctx context.Context, shopID string, limit, offset int) ([]*PaymentRecord, error) {
	return s.store.ListPayments(ctx, shopID, limit, offset)
}

func (s *Service) discountOnePerCustomer(ctx context.Context, code string) bool {
	d, err := s.store.GetDiscount(ctx, code)
	if err != nil {
		return false
	}
	return d.OnePerCustomer
}

func (s *Service) publishTransition(ctx context.Context, rec *PaymentRecord, redeem *DiscountRedemption) {
	switch rec.State {
	case StatePaid:
		s.publish(ctx, events.EventPaymentPaid, rec)
	case StateRejected:
		s.publish(ctx, events.EventPaymentRejected, rec)
	case StateRefunded:
		s.publish(ctx, events.EventPaymentRefunded, rec)
	}

	if redeem != nil {
		event, err := events.NewEvent(events.EventDiscountRedeemed, rec.ShopID, "discount", redeem.Code,
			events.DiscountRedeemedData{
				Code:       redeem.Code,
				OrderID:    redeem.OrderID,
				CustomerID: redeem.CustomerID,
			})
		if err == nil {
			_ = s.publisher.Publish(ctx, event.WithCorrelation(middleware.GetCorrelationID(ctx)))
		}
	}
}

func (s *Service) publish(ctx context.Context, eventType string, rec *PaymentRecord) {
	event, err := events.NewEvent(eventType, rec.ShopID, "payment", rec.PaymentCode, events.PaymentEventData{
		OrderID:     rec.OrderID,
		PaymentCode: rec.PaymentCode,
		Type:        string(rec.Type),
		State:       string(rec.State),
		AmountMinor: rec.Amount.AmountMinor,
		Currency:    string(rec.Amount.Currency),
		TxHash:      rec.TxHash,
	})
	if err != nil {
		return
	}
	if err := s.publisher.Publish(ctx, event.WithCorrelation(middleware.GetCorrelationID(ctx))); err != nil {
		s.logger.Warn("event publish failed", "event_type", eventType, "error", err)
	}
}

func (s *Service) publishOffer(ctx context.Context, eventType string, rec *PaymentRecord, status chain.OfferStatus) {
	event, err := events.NewEvent(eventType, rec.ShopID, "offer", rec.OfferID, events.OfferEventData{
		ListingID: rec.ListingID,
		OfferID:   rec.OfferID,
		Status:    status.String(),
		TxHash:    rec.TxHash,
		IPFSHash:  rec.PayloadCID,
	})
	if err != nil {
		return
	}
	if err := s.publisher.Publish(ctx, event.WithCorrelation(middleware.GetCorrelationID(ctx))); err != nil {
		s.logger.Warn("event publish failed", "event_type", eventType, "error", err)
	}
}
