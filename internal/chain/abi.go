package chain

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const marketplaceABIJSON = `[
  {"type":"function","name":"makeOffer","stateMutability":"payable","inputs":[
    {"name":"listingID","type":"uint256"},
    {"name":"ipfsHash","type":"bytes32"},
    {"name":"finalizes","type":"uint256"},
    {"name":"affiliate","type":"address"},
    {"name":"commission","type":"uint256"},
    {"name":"value","type":"uint256"},
    {"name":"currency","type":"address"},
    {"name":"arbitrator","type":"address"}],"outputs":[]},
  {"type":"function","name":"acceptOffer","stateMutability":"nonpayable","inputs":[
    {"name":"listingID","type":"uint256"},
    {"name":"offerID","type":"uint256"},
    {"name":"ipfsHash","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"finalize","stateMutability":"nonpayable","inputs":[
    {"name":"listingID","type":"uint256"},
    {"name":"offerID","type":"uint256"},
    {"name":"ipfsHash","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"withdrawOffer","stateMutability":"nonpayable","inputs":[
    {"name":"listingID","type":"uint256"},
    {"name":"offerID","type":"uint256"},
    {"name":"ipfsHash","type":"bytes32"}],"outputs":[]},
  {"type":"function","name":"offers","stateMutability":"view","inputs":[
    {"name":"listingID","type":"uint256"},
    {"name":"offerID","type":"uint256"}],"outputs":[
    {"name":"value","type":"uint256"},
    {"name":"commission","type":"uint256"},
    {"name":"refund","type":"uint256"},
    {"name":"currency","type":"address"},
    {"name":"buyer","type":"address"},
    {"name":"affiliate","type":"address"},
    {"name":"arbitrator","type":"address"},
    {"name":"finalizes","type":"uint32"},
    {"name":"status","type":"uint8"}]},
  {"type":"event","name":"OfferCreated","inputs":[
    {"name":"party","type":"address","indexed":true},
    {"name":"listingID","type":"uint256","indexed":true},
    {"name":"offerID","type":"uint256","indexed":true},
    {"name":"ipfsHash","type":"bytes32","indexed":false}]}
]`

const proxyABIJSON = `[
  {"type":"function","name":"execute","stateMutability":"payable","inputs":[
    {"name":"callType","type":"uint8"},
    {"name":"target","type":"address"},
    {"name":"value","type":"uint256"},
    {"name":"data","type":"bytes"}],"outputs":[]}
]`

var (
	marketplaceABI = mustABI(marketplaceABIJSON)
	proxyABI       = mustABI(proxyABIJSON)
)

func mustABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic(err)
	}
	return parsed
}
