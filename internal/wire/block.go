package wire

import (
	"encoding/binary"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rawblock/denaro-node/internal/cryptoprim"
)

// header byte widths, before the address field which varies with the miner
// address form.
const (
	headerLenFullHex    = 138 // no version byte, 64-byte address
	headerLenCompressed = 108 // version byte + 33-byte address
	headerVersionMarker = 2
)

var (
	ErrBadHeaderLength = errors.New("wire: unrecognized block header length")
	ErrBadHeaderVersion = errors.New("wire: unsupported block header version")
)

// BlockHeader is the parsed form of a block's `content` bytes, over which
// proof-of-work is computed.
type BlockHeader struct {
	PreviousHash chainhash.Hash
	Address      cryptoprim.Point
	MerkleRoot   chainhash.Hash
	Timestamp    uint32
	// DifficultyX10 is the difficulty with one fractional digit folded into
	// an integer (difficulty * 10), the wire representation.
	DifficultyX10 uint16
	Nonce         uint32
}

// BuildHeaderBytes renders the header's `content` bytes. compressed selects
// the 33-byte address form (with a leading version-2 marker byte); the
// full-hex form omits the version byte entirely and is always 138 bytes.
func BuildHeaderBytes(h BlockHeader, compressed bool) []byte {
	var addrBytes []byte
	if compressed {
		addrBytes = cryptoprim.PointToCompressedBytes(h.Address)
	} else {
		addrBytes = cryptoprim.PointToFullBytes(h.Address)
	}

	size := len(addrBytes) + 32 + 32 + 4 + 2 + 4
	if compressed {
		size++
	}
	out := make([]byte, 0, size)
	if compressed {
		out = append(out, headerVersionMarker)
	}
	out = append(out, h.PreviousHash[:]...)
	out = append(out, addrBytes...)
	out = append(out, h.MerkleRoot[:]...)

	var ts [4]byte
	binary.LittleEndian.PutUint32(ts[:], h.Timestamp)
	out = append(out, ts[:]...)

	var diff [2]byte
	binary.LittleEndian.PutUint16(diff[:], h.DifficultyX10)
	out = append(out, diff[:]...)

	var nonce [4]byte
	binary.LittleEndian.PutUint32(nonce[:], h.Nonce)
	out = append(out, nonce[:]...)

	return out
}

// SplitHeaderBytes parses a block's `content` bytes back into a BlockHeader.
// Length alone distinguishes the two layouts: 138 bytes is the legacy
// no-version/64-byte-address form; any other length must carry a version
// byte of 2 (the only version this node emits) followed by a 33-byte
// compressed address, for a total of 108 bytes.
func SplitHeaderBytes(content []byte) (BlockHeader, error) {
	var h BlockHeader

	if len(content) == headerLenFullHex {
		off := 0
		copy(h.PreviousHash[:], content[off:off+32])
		off += 32
		addr, err := cryptoprim.FullBytesToPoint(content[off : off+64])
		if err != nil {
			return BlockHeader{}, err
		}
		h.Address = addr
		off += 64
		return parseHeaderTail(h, content, off)
	}

	if len(content) != headerLenCompressed {
		return BlockHeader{}, ErrBadHeaderLength
	}
	if content[0] != headerVersionMarker {
		return BlockHeader{}, ErrBadHeaderVersion
	}
	off := 1
	copy(h.PreviousHash[:], content[off:off+32])
	off += 32
	addr, err := cryptoprim.CompressedBytesToPoint(content[off : off+33])
	if err != nil {
		return BlockHeader{}, err
	}
	h.Address = addr
	off += 33
	return parseHeaderTail(h, content, off)
}

func parseHeaderTail(h BlockHeader, content []byte, off int) (BlockHeader, error) {
	if off+32+4+2+4 > len(content) {
		return BlockHeader{}, ErrTruncated
	}
	copy(h.MerkleRoot[:], content[off:off+32])
	off += 32
	h.Timestamp = binary.LittleEndian.Uint32(content[off : off+4])
	off += 4
	h.DifficultyX10 = binary.LittleEndian.Uint16(content[off : off+2])
	off += 2
	h.Nonce = binary.LittleEndian.Uint32(content[off : off+4])
	return h, nil
}

