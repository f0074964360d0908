package consensus

import (
	"math"
	"strings"
)

const hexCharset = "0123456789abcdef"

// CheckProofOfWork tests blockHash (lowercase hex) against the difficulty
// the previous block established. previousHash is empty for the genesis
// block, which always passes (there is nothing to anchor to yet).
//
// Let d = floor(difficulty), f = difficulty - d. The hash passes iff:
//  1. its first d hex characters equal the last d hex characters of
//     previousHash, and
//  2. when f > 0, the hex character at position d lies in the first
//     ceil(16*(1-f)) characters of "0123456789abcdef".
func CheckProofOfWork(difficulty float64, previousHash, blockHash string) bool {
	if previousHash == "" {
		return true
	}

	d := int(math.Floor(difficulty))
	f := difficulty - float64(d)

	if d > 0 {
		if d > len(previousHash) || d > len(blockHash) {
			return false
		}
		if !strings.HasPrefix(blockHash, previousHash[len(previousHash)-d:]) {
			return false
		}
	}

	if f > 0 {
		if d >= len(blockHash) {
			return false
		}
		count := int(math.Ceil(16 * (1 - f)))
		allowed := hexCharset[:count]
		return strings.ContainsRune(allowed, rune(blockHash[d]))
	}
	return true
}
