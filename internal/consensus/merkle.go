package consensus

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/rawblock/denaro-node/internal/wire"
)

// MerkleRoot17972 is the hard-coded merkle root the id-17972 exception
// accepts even though it does not match either computed mode (spec §4.4,
// §4.5 step 7; a recorded consensus-history wart, not a bug).
const MerkleRoot17972 = "cb52390983d1902bf7d0eb96ed3f8adc359d34b6617dcccd2b610349e0ee8d15"

// ExceptionBlockID is the one block whose header is accepted without the
// difficulty and proof-of-work checks when its miner address, timestamp
// and nonce match the recorded values, and whose merkle root may be
// MerkleRoot17972 instead of a computed root.
const ExceptionBlockID = 17972

// MerkleRootOrdered hashes each transaction's encoded bytes, in the order
// given (the miner's own order), then hashes the concatenation of those
// digests. Used for blocks with id < LegacyMerkleBoundary.
func MerkleRootOrdered(txs []*wire.Transaction) (string, error) {
	return merkleRoot(txs, false)
}

// MerkleRootSorted is like MerkleRootOrdered but first sorts the
// transactions' encoded bytes lexicographically. Used from
// LegacyMerkleBoundary onward.
func MerkleRootSorted(txs []*wire.Transaction) (string, error) {
	return merkleRoot(txs, true)
}

func merkleRoot(txs []*wire.Transaction, sortFirst bool) (string, error) {
	encoded := make([][]byte, len(txs))
	for i, tx := range txs {
		enc, err := tx.Encode()
		if err != nil {
			return "", err
		}
		encoded[i] = enc
	}
	if sortFirst {
		sort.Slice(encoded, func(i, j int) bool {
			return bytes.Compare(encoded[i], encoded[j]) < 0
		})
	}

	var buf bytes.Buffer
	for _, enc := range encoded {
		digest := sha256.Sum256(enc)
		buf.Write(digest[:])
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}

// MerkleRootForBlock picks the mode appropriate to a block's id, per the
// legacy boundary.
func MerkleRootForBlock(id int64, txs []*wire.Transaction) (string, error) {
	if id >= LegacyMerkleBoundary {
		return MerkleRootSorted(txs)
	}
	return MerkleRootOrdered(txs)
}
