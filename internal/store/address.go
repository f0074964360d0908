package store

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"

	"github.com/rawblock/denaro-node/internal/cryptoprim"
	"github.com/rawblock/denaro-node/internal/wire"
)

// addressHex renders an output's address as full-hex for storage and
// address-indexed lookups; point equality remains the canonical
// comparison (spec.md §9's open question), this is only an indexed-query
// shortcut.
func addressHex(o wire.TransactionOutput) string {
	return cryptoprim.PointToFullHex(o.Address)
}

// addressToPoint parses a stored address string back into a point,
// accepting either the full-hex or base58-compressed form.
func addressToPoint(addr string) (cryptoprim.Point, error) {
	return cryptoprim.ParseAddress(addr)
}

// outpointHasher accumulates (tx_hash,index) pairs and produces
// GetUnspentOutputsHash's stable digest: sort the pairs, concatenate,
// SHA-256 once. Sorting makes the result independent of row scan order.
type outpointHasher struct {
	entries [][]byte
}

func newOutpointHasher() *outpointHasher {
	return &outpointHasher{}
}

func (h *outpointHasher) add(txHash []byte, index uint8) {
	entry := make([]byte, len(txHash)+1)
	copy(entry, txHash)
	entry[len(txHash)] = index
	h.entries = append(h.entries, entry)
}

func (h *outpointHasher) sum() string {
	sort.Slice(h.entries, func(i, j int) bool {
		a, b := h.entries[i], h.entries[j]
		for k := range a {
			if a[k] != b[k] {
				return a[k] < b[k]
			}
		}
		return false
	})
	digest := sha256.New()
	for _, e := range h.entries {
		digest.Write(e)
	}
	return hex.EncodeToString(digest.Sum(nil))
}
