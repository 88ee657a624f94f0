package chain

import (
	"context"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"marketcore/internal/common/errs"
	"marketcore/internal/contentstore"
)

// ContentPutter stores a transition record and returns its native content
// identifier. *contentstore.Client satisfies it.
type ContentPutter interface {
	PutJSON(ctx context.Context, v any) (string, error)
}

// Clock lets tests drive the polling loops.
type Clock interface {
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Orchestrator drives the escrowed offer lifecycle. Every state-changing
// call embeds the identifier of an off-ledger transition record, then polls
// the contract until the new state is observable, so callers only see
// durably confirmed transitions.
type Orchestrator struct {
	sub          Submitter
	content      ContentPutter
	marketplace  common.Address
	pollInterval time.Duration
	clock        Clock
	logger       *slog.Logger
}

func NewOrchestrator(sub Submitter, content ContentPutter, marketplace common.Address, pollInterval time.Duration, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		sub:          sub,
		content:      content,
		marketplace:  marketplace,
		pollInterval: pollInterval,
		clock:        realClock{},
		logger:       logger,
	}
}

// WithClock swaps the polling clock. Intended for tests.
func (o *Orchestrator) WithClock(c Clock) *Orchestrator {
	o.clock = c
	return o
}

// transitionRecord is the off-ledger document whose digest accompanies each
// lifecycle call.
type transitionRecord struct {
	Action    string    `json:"action"`
	ListingID string    `json:"listingId"`
	OfferID   string    `json:"offerId,omitempty"`
	Actor     string    `json:"actor"`
	CreatedAt time.Time `json:"createdAt"`
}

// MakeOfferRequest describes a new escrowed offer. A zero Currency address
// means the ledger's native token, in which case Value rides along as the
// transaction value.
type MakeOfferRequest struct {
	ListingID      *big.Int
	PayloadHash    [32]byte
	FinalizeWindow time.Duration
	Value          *big.Int
	Currency       common.Address
	Affiliate      common.Address
	Commission     *big.Int
	Arbitrator     common.Address
	Buyer          Identity
}

// MakeOffer escrows funds against a listing and returns the offer reference
// once the ledger has assigned an offer ID.
func (o *Orchestrator) MakeOffer(ctx context.Context, req MakeOfferRequest) (*OfferRef, common.Hash, error) {
	commission := req.Commission
	if commission == nil {
		commission = new(big.Int)
	}
	finalizes := big.NewInt(int64(req.FinalizeWindow / time.Second))

	data, err := marketplaceABI.Pack("makeOffer",
		req.ListingID, req.PayloadHash, finalizes,
		req.Affiliate, commission, req.Value, req.Currency, req.Arbitrator)
	if err != nil {
		return nil, common.Hash{}, errs.Validation("packing makeOffer: %v", err)
	}

	var txValue *big.Int
	if req.Currency == (common.Address{}) {
		txValue = req.Value
	}

	txHash, err := o.sub.Submit(ctx, Call{To: o.marketplace, Value: txValue, Data: data})
	if err != nil {
		return nil, common.Hash{}, err
	}

	receipt, err := o.waitForReceipt(ctx, txHash)
	if err != nil {
		return nil, txHash, err
	}

	offerID, err := o.offerIDFromLogs(receipt)
	if err != nil {
		return nil, txHash, err
	}

	ref := &OfferRef{ListingID: req.ListingID, OfferID: offerID}
	o.logger.Info("offer created",
		"listing_id", req.ListingID.String(),
		"offer_id", offerID.String(),
		"tx_hash", txHash.Hex())
	return ref, txHash, nil
}

// AcceptOffer moves an offer to Accepted on behalf of the seller and blocks
// until the ledger reflects it.
func (o *Orchestrator) AcceptOffer(ctx context.Context, ref OfferRef, seller Identity) (*OfferRecord, error) {
	return o.transition(ctx, ref, seller, "acceptOffer", OfferAccepted)
}

// FinalizeOffer releases escrowed funds to the seller.
func (o *Orchestrator) FinalizeOffer(ctx context.Context, ref OfferRef, actor Identity) (*OfferRecord, error) {
	return o.transition(ctx, ref, actor, "finalize", OfferFinalized)
}

// WithdrawOffer returns escrowed funds to the buyer. Valid for rejection of
// a pending offer and for refund flows.
func (o *Orchestrator) WithdrawOffer(ctx context.Context, ref OfferRef, actor Identity) (*OfferRecord, error) {
	return o.transition(ctx, ref, actor, "withdrawOffer", OfferWithdrawn)
}

func (o *Orchestrator) transition(ctx context.Context, ref OfferRef, actor Identity, method string, want OfferStatus) (*OfferRecord, error) {
	cid, err := o.content.PutJSON(ctx, transitionRecord{
		Action:    method,
		ListingID: ref.ListingID.String(),
		OfferID:   ref.OfferID.String(),
		Actor:     actor.Address.Hex(),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}

	hash, err := contentstore.ToFixedWidth(cid)
	if err != nil {
		return nil, err
	}

	data, err := marketplaceABI.Pack(method, ref.ListingID, ref.OfferID, hash)
	if err != nil {
		return nil, errs.Validation("packing %s: %v", method, err)
	}

	txHash, err := o.sub.Submit(ctx, o.buildCall(method, data, actor))
	if err != nil {
		return nil, err
	}

	o.logger.Info("offer transition submitted",
		"method", method,
		"listing_id", ref.ListingID.String(),
		"offer_id", ref.OfferID.String(),
		"proxied", actor.Proxy != nil,
		"tx_hash", txHash.Hex())

	return o.waitForStatus(ctx, ref, want)
}

// buildCall targets the marketplace directly, or wraps the calldata in the
// actor's proxy execute when a proxy identity is set. Proxied calls carry a
// precomputed gas limit because node-side estimation cannot see through the
// relay.
func (o *Orchestrator) buildCall(method string, data []byte, actor Identity) Call {
	if actor.Proxy == nil {
		return Call{To: o.marketplace, Data: data}
	}

	wrapped, err := proxyABI.Pack("execute", uint8(0), o.marketplace, new(big.Int), data)
	if err != nil {
		// Static ABI and fixed argument types; cannot fail at runtime.
		panic(err)
	}
	return Call{
		To:       *actor.Proxy,
		GasLimit: proxyGasLimit(methodGasBase(method)),
		Data:     wrapped,
	}
}

// waitForStatus polls the offer record every pollInterval until it reaches
// want. Read failures are logged and retried indefinitely; only context
// cancellation or a conflicting terminal state stops the loop.
func (o *Orchestrator) waitForStatus(ctx context.Context, ref OfferRef, want OfferStatus) (*OfferRecord, error) {
	for {
		rec, err := o.sub.OfferState(ctx, ref)
		switch {
		case err != nil:
			o.logger.Warn("offer state read failed, retrying",
				"listing_id", ref.ListingID.String(),
				"offer_id", ref.OfferID.String(),
				"error", err)
		case rec.Status == want:
			return rec, nil
		case rec.Status.Terminal():
			return nil, errs.StateConflict("offer %s/%s is %s, expected %s",
				ref.ListingID, ref.OfferID, rec.Status, want)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-o.clock.After(o.pollInterval):
		}
	}
}

func (o *Orchestrator) waitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	for {
		receipt, err := o.sub.Receipt(ctx, txHash)
		switch {
		case err != nil:
			o.logger.Warn("receipt poll failed, retrying", "tx_hash", txHash.Hex(), "error", err)
		case receipt != nil && receipt.Status != types.ReceiptStatusSuccessful:
			return nil, errs.LedgerRevert(nil, "transaction %s reverted", txHash.Hex())
		case receipt != nil:
			return receipt, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-o.clock.After(o.pollInterval):
		}
	}
}

func (o *Orchestrator) offerIDFromLogs(receipt *types.Receipt) (*big.Int, error) {
	createdID := marketplaceABI.Events["OfferCreated"].ID
	for _, lg := range receipt.Logs {
		if lg.Address != o.marketplace || len(lg.Topics) < 4 || lg.Topics[0] != createdID {
			continue
		}
		return new(big.Int).SetBytes(lg.Topics[3].Bytes()), nil
	}
	return nil, errs.Decode(nil, "transaction %s emitted no offer creation event", receipt.TxHash.Hex())
}
