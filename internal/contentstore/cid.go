// Package contentstore reads and writes immutable payloads against a
// content-addressed store over its HTTP API, memoizing reads and converting
// between the store's native base58 identifiers and the fixed-width
// representation the ledger contract expects.
package contentstore

import (
	"github.com/mr-tron/base58"

	"marketcore/internal/common/errs"
)

// A native identifier is base58(<fn code><digest length><digest>). The
// on-chain representation keeps only the 32-byte digest.
const (
	multihashSHA256 = 0x12
	digestLength    = 0x20
)

// ToFixedWidth strips the two-byte multihash prefix from a native content
// identifier, yielding the 32-byte value embedded in ledger transactions.
func ToFixedWidth(nativeID string) ([32]byte, error) {
	var fixed [32]byte

	raw, err := base58.Decode(nativeID)
	if err != nil {
		return fixed, errs.Validation("content identifier %q is not base58: %v", nativeID, err)
	}
	if len(raw) != 2+digestLength {
		return fixed, errs.Validation("content identifier %q has length %d, want %d", nativeID, len(raw), 2+digestLength)
	}
	if raw[0] != multihashSHA256 || raw[1] != digestLength {
		return fixed, errs.Validation("content identifier %q has unsupported multihash prefix 0x%02x%02x", nativeID, raw[0], raw[1])
	}

	copy(fixed[:], raw[2:])
	return fixed, nil
}

// ToNative re-adds the multihash prefix and base58-encodes, restoring the
// store's native identifier. ToNative(ToFixedWidth(x)) == x for all valid x.
func ToNative(fixed [32]byte) string {
	raw := make([]byte, 0, 2+digestLength)
	raw = append(raw, multihashSHA256, digestLength)
	raw = append(raw, fixed[:]...)
	return base58.Encode(raw)
}
