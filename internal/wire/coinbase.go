package wire

import (
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rawblock/denaro-node/internal/cryptoprim"
)

// NewCoinbaseTransaction builds the single-input, single-output transaction
// that mints a block's reward plus fees to the miner's address. Its single
// input is (blockHash, 0); sentinel 36 replaces a signature list since a
// coinbase is authorized by inclusion in a valid block, not by a signature.
func NewCoinbaseTransaction(version Version, blockHash chainhash.Hash, minerAddress cryptoprim.Point, amount uint64) *Transaction {
	return &Transaction{
		Version:  version,
		Coinbase: true,
		Inputs:   []TransactionInput{{TxHash: blockHash, Index: 0}},
		Outputs:  []TransactionOutput{{Address: minerAddress, Amount: amount}},
	}
}

// EncodeCoinbase renders a coinbase transaction's wire form: the unsigned
// prefix followed by the sentinel-36 specifier byte, with no signature list.
func (tx *Transaction) EncodeCoinbase() ([]byte, error) {
	prefix, err := tx.unsignedCoinbasePrefix()
	if err != nil {
		return nil, err
	}
	return append(prefix, specifierCoinbase), nil
}

// unsignedCoinbasePrefix is like unsignedPrefix but omits the regular
// specifier byte, since a coinbase always terminates with sentinel 36
// instead of 0 (no message) or 1 (message present).
func (tx *Transaction) unsignedCoinbasePrefix() ([]byte, error) {
	if len(tx.Inputs) != 1 || len(tx.Outputs) != 1 {
		return nil, ErrBadSpecifier
	}
	out := make([]byte, 0, 1+1+33+1+64+9)
	out = append(out, tx.Version)
	out = append(out, 1)
	out = append(out, tx.Inputs[0].encode()...)
	out = append(out, 1)
	out = append(out, tx.Outputs[0].encode(tx.Version)...)
	return out, nil
}

// HashCoinbase is SHA-256 of the coinbase's full wire form.
func (tx *Transaction) HashCoinbase() (chainhash.Hash, error) {
	enc, err := tx.EncodeCoinbase()
	if err != nil {
		return chainhash.Hash{}, err
	}
	return chainhash.HashH(enc), nil
}
