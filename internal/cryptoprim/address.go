package cryptoprim

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math/big"

	"github.com/btcsuite/btcd/btcutil/base58"
)

// parity byte convention for compressed addresses: 42 = even y, 43 = odd y.
const (
	parityEven byte = 42
	parityOdd  byte = 43
)

var (
	// ErrBadAddress covers any address that cannot be parsed into a point.
	ErrBadAddress = errors.New("cryptoprim: malformed address")
	// ErrNotOnCurve is returned when a parsed point fails the curve check.
	ErrNotOnCurve = errors.New("cryptoprim: point not on curve")
)

func le32(n *big.Int) []byte {
	out := make([]byte, 32)
	b := n.Bytes()
	// big.Int.Bytes() is big-endian; reverse into a little-endian 32-byte field.
	for i, v := range b {
		out[len(b)-1-i] = v
	}
	return out
}

func leToInt(b []byte) *big.Int {
	rev := make([]byte, len(b))
	for i, v := range b {
		rev[len(b)-1-i] = v
	}
	return new(big.Int).SetBytes(rev)
}

// PointToFullBytes encodes a point as the raw 64-byte x‖y little-endian wire
// form used directly in transaction/block binary fields.
func PointToFullBytes(p Point) []byte {
	return append(le32(p.X), le32(p.Y)...)
}

// FullBytesToPoint decodes the raw 64-byte little-endian x‖y wire form.
func FullBytesToPoint(raw []byte) (Point, error) {
	if len(raw) != 64 {
		return Point{}, ErrBadAddress
	}
	return Point{X: leToInt(raw[:32]), Y: leToInt(raw[32:])}, nil
}

// PointToFullHex encodes a point as 64 raw bytes (x‖y, little-endian) hex.
func PointToFullHex(p Point) string {
	return hex.EncodeToString(PointToFullBytes(p))
}

// FullHexToPoint decodes the 64-byte little-endian x‖y hex form.
func FullHexToPoint(s string) (Point, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Point{}, ErrBadAddress
	}
	return FullBytesToPoint(raw)
}

// PointToCompressedBytes encodes a point as the raw 33-byte parity‖x wire
// form: 42 for an even y, 43 for an odd y.
func PointToCompressedBytes(p Point) []byte {
	parity := parityEven
	if p.Y.Bit(0) == 1 {
		parity = parityOdd
	}
	return append([]byte{parity}, le32(p.X)...)
}

// CompressedBytesToPoint decodes the raw 33-byte parity‖x wire form and
// recovers y via the modular square root of the curve equation.
func CompressedBytesToPoint(raw []byte) (Point, error) {
	if len(raw) != 33 {
		return Point{}, ErrBadAddress
	}
	parity := raw[0]
	if parity != parityEven && parity != parityOdd {
		return Point{}, ErrBadAddress
	}
	x := leToInt(raw[1:])
	y := yFromX(x, parity == parityOdd)
	if y == nil {
		return Point{}, ErrNotOnCurve
	}
	return Point{X: x, Y: y}, nil
}

// PointToCompressed encodes a point as parity‖x (33 raw bytes), base58-wrapped
// — the human-readable v3 address string, as opposed to the fixed-width raw
// wire form used inside a transaction's binary outputs.
func PointToCompressed(p Point) string {
	return base58.Encode(PointToCompressedBytes(p))
}

// CompressedToPoint decodes a base58, parity‖x compressed address string.
func CompressedToPoint(s string) (Point, error) {
	return CompressedBytesToPoint(base58.Decode(s))
}

// ParseAddress accepts either wire form. It tries hex first (64-byte
// full-hex), then falls back to base58 (33-byte compressed), matching the
// node's historical "hex first, then base58" parsing order.
func ParseAddress(s string) (Point, error) {
	if p, err := FullHexToPoint(s); err == nil {
		if !IsOnCurve(p) {
			return Point{}, ErrNotOnCurve
		}
		return p, nil
	}
	p, err := CompressedToPoint(s)
	if err != nil {
		return Point{}, err
	}
	if !IsOnCurve(p) {
		return Point{}, ErrNotOnCurve
	}
	return p, nil
}

// PointsEqual is the canonical address-equality test: compare at the point
// level, not at the byte/string level, since the same point has two valid
// wire encodings (full-hex and compressed).
func PointsEqual(a, b Point) bool {
	if a.X == nil || a.Y == nil || b.X == nil || b.Y == nil {
		return false
	}
	return a.X.Cmp(b.X) == 0 && a.Y.Cmp(b.Y) == 0
}

// AmountToLEBytes renders smallest-unit integer amounts as the minimal
// little-endian byte string used by the length-prefixed wire encoding.
func AmountToLEBytes(smallest uint64) []byte {
	if smallest == 0 {
		return []byte{0}
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], smallest)
	n := 8
	for n > 1 && buf[n-1] == 0 {
		n--
	}
	return buf[:n]
}

// LEBytesToAmount parses the length-prefixed little-endian smallest-unit
// integer produced by AmountToLEBytes.
func LEBytesToAmount(b []byte) uint64 {
	var buf [8]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint64(buf[:])
}
