package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"marketcore/internal/common/errs"
)

// Config holds ledger connection configuration.
type Config struct {
	RPCURL             string        `envconfig:"CHAIN_RPC_URL" default:"http://localhost:8545"`
	ChainID            int64         `envconfig:"CHAIN_ID" default:"1"`
	MarketplaceAddress string        `envconfig:"CHAIN_MARKETPLACE_ADDRESS" default:""`
	SignerKey          string        `envconfig:"CHAIN_SIGNER_KEY" default:""`
	PollInterval       time.Duration `envconfig:"CHAIN_POLL_INTERVAL" default:"5s"`
}

// Call is a prepared ledger transaction. A zero GasLimit means the limit is
// estimated at submission time.
type Call struct {
	To       common.Address
	Value    *big.Int
	GasLimit uint64
	Data     []byte
}

// Submitter abstracts the ledger node so the orchestrator can be exercised
// without one.
type Submitter interface {
	// Submit signs and broadcasts a transaction, returning its hash.
	Submit(ctx context.Context, call Call) (common.Hash, error)
	// OfferState reads the current on-chain record for an offer.
	OfferState(ctx context.Context, ref OfferRef) (*OfferRecord, error)
	// Receipt returns the mined receipt for a transaction, or nil while it
	// is still pending.
	Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EthSubmitter signs with a local key and talks JSON-RPC to a ledger node.
type EthSubmitter struct {
	client      *ethclient.Client
	key         *ecdsa.PrivateKey
	from        common.Address
	chainID     *big.Int
	marketplace common.Address
	logger      *slog.Logger
}

func NewEthSubmitter(ctx context.Context, cfg Config, logger *slog.Logger) (*EthSubmitter, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, errs.Network(err, "dialing ledger node at %s", cfg.RPCURL)
	}

	key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.SignerKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("parsing signer key: %w", err)
	}

	if !common.IsHexAddress(cfg.MarketplaceAddress) {
		return nil, errs.Validation("marketplace address %q is not a hex address", cfg.MarketplaceAddress)
	}

	return &EthSubmitter{
		client:      client,
		key:         key,
		from:        crypto.PubkeyToAddress(key.PublicKey),
		chainID:     big.NewInt(cfg.ChainID),
		marketplace: common.HexToAddress(cfg.MarketplaceAddress),
		logger:      logger,
	}, nil
}

// From returns the signing address.
func (s *EthSubmitter) From() common.Address { return s.from }

// Marketplace returns the marketplace contract address.
func (s *EthSubmitter) Marketplace() common.Address { return s.marketplace }

func (s *EthSubmitter) Close() { s.client.Close() }

func (s *EthSubmitter) Submit(ctx context.Context, call Call) (common.Hash, error) {
	nonce, err := s.client.PendingNonceAt(ctx, s.from)
	if err != nil {
		return common.Hash{}, errs.Network(err, "fetching pending nonce")
	}

	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, errs.Network(err, "fetching gas price")
	}

	value := call.Value
	if value == nil {
		value = new(big.Int)
	}

	gasLimit := call.GasLimit
	if gasLimit == 0 {
		gasLimit, err = s.client.EstimateGas(ctx, ethereum.CallMsg{
			From:  s.from,
			To:    &call.To,
			Value: value,
			Data:  call.Data,
		})
		if err != nil {
			// Estimation executes the call; failure here means the
			// transaction would revert.
			return common.Hash{}, errs.LedgerRevert(err, "call to %s would revert", call.To)
		}
	}

	tx := types.NewTransaction(nonce, call.To, value, gasLimit, gasPrice, call.Data)
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(s.chainID), s.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("signing transaction: %w", err)
	}

	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, errs.LedgerRevert(err, "ledger node rejected transaction")
	}

	s.logger.Info("transaction submitted",
		"tx_hash", signed.Hash().Hex(),
		"to", call.To.Hex(),
		"gas_limit", gasLimit,
		"nonce", nonce)
	return signed.Hash(), nil
}

func (s *EthSubmitter) OfferState(ctx context.Context, ref OfferRef) (*OfferRecord, error) {
	data, err := marketplaceABI.Pack("offers", ref.ListingID, ref.OfferID)
	if err != nil {
		return nil, fmt.Errorf("packing offers call: %w", err)
	}

	out, err := s.client.CallContract(ctx, ethereum.CallMsg{To: &s.marketplace, Data: data}, nil)
	if err != nil {
		return nil, errs.Network(err, "reading offer %s/%s", ref.ListingID, ref.OfferID)
	}

	vals, err := marketplaceABI.Unpack("offers", out)
	if err != nil {
		return nil, errs.Decode(err, "decoding offer %s/%s", ref.ListingID, ref.OfferID)
	}

	rec := &OfferRecord{
		ListingID:   ref.ListingID,
		OfferID:     ref.OfferID,
		Value:       vals[0].(*big.Int),
		Commission:  vals[1].(*big.Int),
		Refund:      vals[2].(*big.Int),
		Currency:    vals[3].(common.Address),
		Buyer:       vals[4].(common.Address),
		Affiliate:   vals[5].(common.Address),
		Arbitrator:  vals[6].(common.Address),
		FinalizesAt: vals[7].(uint32),
		Status:      OfferStatus(vals[8].(uint8)),
	}
	return rec, nil
}

func (s *EthSubmitter) Receipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	receipt, err := s.client.TransactionReceipt(ctx, txHash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Network(err, "fetching receipt for %s", txHash.Hex())
	}
	return receipt, nil
}
