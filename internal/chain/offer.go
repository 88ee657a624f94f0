// Package chain builds, submits, and confirms marketplace ledger
// transactions for the escrowed offer lifecycle, optionally relaying calls
// through a seller's delegated proxy identity to change gas accounting.
package chain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// OfferStatus is the on-chain status of an offer. Transitions are
// one-directional: Created -> Accepted -> Finalized, or Created ->
// Withdrawn. The core only observes these via polling, never mutates them
// directly.
type OfferStatus uint8

const (
	OfferNone OfferStatus = iota
	OfferCreated
	OfferAccepted
	OfferFinalized
	OfferWithdrawn
)

func (s OfferStatus) String() string {
	switch s {
	case OfferNone:
		return "none"
	case OfferCreated:
		return "created"
	case OfferAccepted:
		return "accepted"
	case OfferFinalized:
		return "finalized"
	case OfferWithdrawn:
		return "withdrawn"
	}
	return "unknown"
}

// Terminal reports whether the status can never change again.
func (s OfferStatus) Terminal() bool {
	return s == OfferFinalized || s == OfferWithdrawn
}

// OfferRef identifies an offer on the ledger.
type OfferRef struct {
	ListingID *big.Int
	OfferID   *big.Int
}

// OfferRecord mirrors the marketplace contract's offers accessor.
type OfferRecord struct {
	ListingID   *big.Int
	OfferID     *big.Int
	Value       *big.Int
	Commission  *big.Int
	Refund      *big.Int
	Currency    common.Address
	Buyer       common.Address
	Affiliate   common.Address
	Arbitrator  common.Address
	FinalizesAt uint32
	Status      OfferStatus
}

// Identity is an on-chain actor. When Proxy is set, state-changing calls
// are relayed through the delegated proxy identity's execute entry point
// instead of hitting the marketplace directly.
type Identity struct {
	Address common.Address
	Proxy   *common.Address
}
