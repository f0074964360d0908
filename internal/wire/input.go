// Package wire implements the binary (de)serialization of transactions and
// block headers described by the node's consensus protocol: fixed-width,
// little-endian fields, a compressed trailing signature list, and the two
// block-header layouts (64-byte and 33-byte addresses).
package wire

import (
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// TransactionInput refers to a prior output by (tx hash, index). Signed
// inputs additionally carry the (r, s) pair bound to the owning
// transaction's unsigned prefix.
type TransactionInput struct {
	TxHash chainhash.Hash
	Index  uint8

	SignatureR *big.Int
	SignatureS *big.Int

	// PrivateKey is populated only on the signing/client side; it never
	// appears on the wire.
	PrivateKey *big.Int
}

// Signed reports whether this input carries a signature.
func (in *TransactionInput) Signed() bool {
	return in.SignatureR != nil && in.SignatureS != nil
}

func (in TransactionInput) encode() []byte {
	out := make([]byte, 0, 33)
	out = append(out, in.TxHash[:]...)
	out = append(out, in.Index)
	return out
}

// Outpoint is the (tx hash, index) key used for UTXO lookups and the
// double-spend test; it matches the store's ad-hoc composite key.
type Outpoint struct {
	TxHash chainhash.Hash
	Index  uint8
}

func (in TransactionInput) outpoint() Outpoint {
	return Outpoint{TxHash: in.TxHash, Index: in.Index}
}

// Outpoint returns the (tx hash, index) key this input spends, for use by
// the UTXO store and block pipeline.
func (in TransactionInput) Outpoint() Outpoint {
	return in.outpoint()
}

// decodeInput reads one (tx hash, index) pair starting at off.
func decodeInput(buf []byte, off int) (TransactionInput, int, error) {
	if off+33 > len(buf) {
		return TransactionInput{}, 0, ErrTruncated
	}
	var in TransactionInput
	copy(in.TxHash[:], buf[off:off+32])
	in.Index = buf[off+32]
	return in, off + 33, nil
}
