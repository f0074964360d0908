package wire

import (
	"errors"

	"github.com/rawblock/denaro-node/internal/cryptoprim"
)

// ErrZeroAmount is returned when an output's amount is not strictly positive.
var ErrZeroAmount = errors.New("wire: output amount must be greater than zero")

// TransactionOutput pairs a destination point with a smallest-unit amount.
type TransactionOutput struct {
	Address cryptoprim.Point
	Amount  uint64 // smallest units (1 unit = 1,000,000 smallest)
}

// Verify checks the invariants required of every output: the address must
// encode a point on the curve and the amount must be positive. This is the
// same check the coinbase output must additionally pass under version >= 2
// (spec §4.5 step 8).
func (o TransactionOutput) Verify() error {
	if !cryptoprim.IsOnCurve(o.Address) {
		return cryptoprim.ErrNotOnCurve
	}
	if o.Amount == 0 {
		return ErrZeroAmount
	}
	return nil
}

// addressWidth returns the wire width of an address for a transaction
// version: 64 raw bytes for version 1 (full-hex), 33 for version 3
// (compressed). Version 2 is reserved for block-header differentiation and
// never appears in a transaction's output list.
func addressWidth(version uint8) int {
	if version == 3 {
		return 33
	}
	return 64
}

func (o TransactionOutput) encode(version uint8) []byte {
	var addrBytes []byte
	if version == 3 {
		addrBytes = cryptoprim.PointToCompressedBytes(o.Address)
	} else {
		addrBytes = cryptoprim.PointToFullBytes(o.Address)
	}

	amountBytes := cryptoprim.AmountToLEBytes(o.Amount)
	out := make([]byte, 0, len(addrBytes)+1+len(amountBytes))
	out = append(out, addrBytes...)
	out = append(out, byte(len(amountBytes)))
	out = append(out, amountBytes...)
	return out
}

// decodeOutput reads one output starting at off and returns it along with
// the offset of the byte following it.
func decodeOutput(buf []byte, off int, version uint8) (TransactionOutput, int, error) {
	width := addressWidth(version)
	if off+width+1 > len(buf) {
		return TransactionOutput{}, 0, ErrTruncated
	}
	var addr cryptoprim.Point
	var err error
	if version == 3 {
		addr, err = cryptoprim.CompressedBytesToPoint(buf[off : off+width])
	} else {
		addr, err = cryptoprim.FullBytesToPoint(buf[off : off+width])
	}
	if err != nil {
		return TransactionOutput{}, 0, err
	}
	off += width

	amountLen := int(buf[off])
	off++
	if off+amountLen > len(buf) {
		return TransactionOutput{}, 0, ErrTruncated
	}
	amount := cryptoprim.LEBytesToAmount(buf[off : off+amountLen])
	off += amountLen

	return TransactionOutput{Address: addr, Amount: amount}, off, nil
}
