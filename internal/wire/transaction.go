package wire

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"math/big"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rawblock/denaro-node/internal/cryptoprim"
)

// Version selects the address width and message-length encoding used by a
// transaction: 1 is the legacy full-hex (64-byte) address form, 2 is
// reserved for block-header differentiation and never appears on a
// transaction, 3 switches outputs to the 33-byte compressed form and widens
// the optional message's length prefix to two bytes.
type Version = uint8

const (
	VersionFullHex     Version = 1
	VersionHeaderOnly  Version = 2
	VersionCompressed  Version = 3
	specifierNone      byte    = 0
	specifierMessage   byte    = 1
	specifierCoinbase  byte    = 36
	maxInputsOrOutputs         = 255
)

var (
	ErrTooManyInputs   = errors.New("wire: too many inputs")
	ErrTooManyOutputs  = errors.New("wire: too many outputs")
	ErrBadSpecifier    = errors.New("wire: unrecognized specifier byte")
	ErrDuplicateInput  = errors.New("wire: duplicate (tx_hash, index) within transaction")
	ErrSignatureCount  = errors.New("wire: signature count does not divide evenly among inputs")
	ErrUnsignedInput   = errors.New("wire: input carries no signature")
)

// Transaction is the spendable unit of the ledger: a list of prior-output
// references consumed by the inputs, and a list of new outputs created.
type Transaction struct {
	Version Version
	Inputs  []TransactionInput
	Outputs []TransactionOutput
	Message []byte

	// Coinbase marks a transaction produced by NewCoinbaseTransaction: it
	// encodes with the sentinel-36 specifier and carries no signatures.
	Coinbase bool

	cachedHash *chainhash.Hash
	// ownerKeys holds the base58/hex-independent public key string owning
	// each input's spent output, in input order. The validation pipeline
	// populates this from the store before decode-time signature
	// grouping can resolve rule (c); it is never part of the wire form.
	ownerKeys []string
	// pendingSignatures holds a raw signature list decode could not yet
	// distribute because it needs owner keys the pipeline hasn't supplied.
	pendingSignatures [][2]*big.Int
}

// SetOwnerKeys records, per input and in input order, the public key that
// owns the output each input spends. The pipeline calls this after
// resolving each input's previous output from the store and before relying
// on signature-group distribution or per-input verification.
func (tx *Transaction) SetOwnerKeys(keys []string) {
	tx.ownerKeys = keys
}

// unsignedPrefix renders version+inputs+outputs+specifier+message, the
// exact byte string every input's signature is bound to.
func (tx *Transaction) unsignedPrefix() ([]byte, error) {
	if len(tx.Inputs) > maxInputsOrOutputs {
		return nil, ErrTooManyInputs
	}
	if len(tx.Outputs) > maxInputsOrOutputs {
		return nil, ErrTooManyOutputs
	}

	var buf bytes.Buffer
	buf.WriteByte(tx.Version)
	buf.WriteByte(byte(len(tx.Inputs)))
	for _, in := range tx.Inputs {
		buf.Write(in.encode())
	}
	buf.WriteByte(byte(len(tx.Outputs)))
	for _, out := range tx.Outputs {
		buf.Write(out.encode(tx.Version))
	}

	if len(tx.Message) == 0 {
		buf.WriteByte(specifierNone)
		return buf.Bytes(), nil
	}

	buf.WriteByte(specifierMessage)
	if tx.Version == VersionCompressed {
		var n [2]byte
		binary.LittleEndian.PutUint16(n[:], uint16(len(tx.Message)))
		buf.Write(n[:])
	} else {
		buf.WriteByte(byte(len(tx.Message)))
	}
	buf.Write(tx.Message)
	return buf.Bytes(), nil
}

// Encode renders the full wire form: unsigned prefix followed by the
// deduplicated (r,s) signature list and a trailing r=0 sentinel.
func (tx *Transaction) Encode() ([]byte, error) {
	if tx.Coinbase {
		return tx.EncodeCoinbase()
	}

	prefix, err := tx.unsignedPrefix()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.Write(prefix)

	seen := make(map[string]bool)
	for _, in := range tx.Inputs {
		if !in.Signed() {
			return nil, ErrUnsignedInput
		}
		var rsBuf [64]byte
		copy(rsBuf[:32], leBytes32(in.SignatureR))
		copy(rsBuf[32:], leBytes32(in.SignatureS))
		key := string(rsBuf[:])
		if seen[key] {
			continue
		}
		seen[key] = true
		buf.Write(rsBuf[:])
	}
	var zero [64]byte
	buf.Write(zero[:])

	return buf.Bytes(), nil
}

// Sign binds every input that carries a private key but no signature yet to
// this transaction's unsigned prefix.
func (tx *Transaction) Sign() error {
	prefix, err := tx.unsignedPrefix()
	if err != nil {
		return err
	}
	msgHex := hex.EncodeToString(prefix)

	for i := range tx.Inputs {
		in := &tx.Inputs[i]
		if in.Signed() || in.PrivateKey == nil {
			continue
		}
		r, s, err := cryptoprim.Sign(in.PrivateKey, msgHex)
		if err != nil {
			return err
		}
		in.SignatureR, in.SignatureS = r, s
	}
	return nil
}

// Hash is SHA-256 of the full encoded transaction.
func (tx *Transaction) Hash() (chainhash.Hash, error) {
	if tx.cachedHash != nil {
		return *tx.cachedHash, nil
	}
	enc, err := tx.Encode()
	if err != nil {
		return chainhash.Hash{}, err
	}
	h := chainhash.HashH(enc)
	tx.cachedHash = &h
	return h, nil
}

// Fee computes output_amount subtracted from the supplied input_amount; the
// caller (the validation pipeline) sources input_amount from the store
// since a Transaction alone cannot see the outputs it spends.
func (tx *Transaction) Fee(inputAmount uint64) (uint64, error) {
	var outputAmount uint64
	for _, out := range tx.Outputs {
		if out.Amount == 0 {
			return 0, ErrZeroAmount
		}
		outputAmount += out.Amount
	}
	if inputAmount < outputAmount {
		return 0, ErrInsufficientInput
	}
	return inputAmount - outputAmount, nil
}

// ErrInsufficientInput is returned when a transaction's inputs do not cover
// its outputs.
var ErrInsufficientInput = errors.New("wire: input amount less than output amount")

// CheckNoDuplicateInputs enforces the per-transaction uniqueness invariant
// on (tx_hash, index) pairs.
func (tx *Transaction) CheckNoDuplicateInputs() error {
	seen := make(map[Outpoint]bool, len(tx.Inputs))
	for _, in := range tx.Inputs {
		op := in.outpoint()
		if seen[op] {
			return ErrDuplicateInput
		}
		seen[op] = true
	}
	return nil
}

// DecodeTransaction parses the wire form produced by Encode, recovering
// public keys from signatures where needed so it can apply the
// three signature-distribution rules.
func DecodeTransaction(buf []byte) (*Transaction, error) {
	if len(buf) < 3 {
		return nil, ErrTruncated
	}
	off := 0
	version := buf[off]
	off++

	nIn := int(buf[off])
	off++
	inputs := make([]TransactionInput, 0, nIn)
	for i := 0; i < nIn; i++ {
		in, next, err := decodeInput(buf, off)
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, in)
		off = next
	}

	if off >= len(buf) {
		return nil, ErrTruncated
	}
	nOut := int(buf[off])
	off++
	outputs := make([]TransactionOutput, 0, nOut)
	for i := 0; i < nOut; i++ {
		out, next, err := decodeOutput(buf, off, version)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
		off = next
	}

	if off >= len(buf) {
		return nil, ErrTruncated
	}
	specifier := buf[off]
	off++

	tx := &Transaction{Version: version, Inputs: inputs, Outputs: outputs}

	if specifier == specifierCoinbase {
		tx.Coinbase = true
		return tx, nil
	}
	if specifier == specifierMessage {
		var msgLen int
		if version == VersionCompressed {
			if off+2 > len(buf) {
				return nil, ErrTruncated
			}
			msgLen = int(binary.LittleEndian.Uint16(buf[off : off+2]))
			off += 2
		} else {
			if off >= len(buf) {
				return nil, ErrTruncated
			}
			msgLen = int(buf[off])
			off++
		}
		if off+msgLen > len(buf) {
			return nil, ErrTruncated
		}
		tx.Message = append([]byte(nil), buf[off:off+msgLen]...)
		off += msgLen
	} else if specifier != specifierNone {
		return nil, ErrBadSpecifier
	}

	signatures := make([][2]*big.Int, 0)
	for {
		if off+64 > len(buf) {
			return nil, ErrTruncated
		}
		r := beFromLE(buf[off : off+32])
		s := beFromLE(buf[off+32 : off+64])
		off += 64
		if r.Sign() == 0 {
			break
		}
		signatures = append(signatures, [2]*big.Int{r, s})
	}

	if err := tx.distributeSignatures(signatures); err != nil {
		return nil, err
	}

	return tx, nil
}

// NeedsOwnerKeys reports whether this transaction's signature distribution
// could not be resolved at decode time and is waiting on SetOwnerKeys plus
// ResolveSignatures — true only when the signature count falls under rule
// (c): neither a single shared signature nor a one-per-input count.
func (tx *Transaction) NeedsOwnerKeys() bool {
	return len(tx.pendingSignatures) > 0
}

// ResolveSignatures finishes rule (c) distribution once the pipeline has
// populated owner keys via SetOwnerKeys.
func (tx *Transaction) ResolveSignatures() error {
	if len(tx.pendingSignatures) == 0 {
		return nil
	}
	sigs := tx.pendingSignatures
	tx.pendingSignatures = nil
	return groupByRecoveredKey(tx, sigs)
}

// distributeSignatures applies the three decode-time rules, in order: a
// single shared signature, a positional one-per-input mapping, or (absent
// owner keys at decode time) defers to ResolveSignatures once the pipeline
// has looked up each input's spent output.
func (tx *Transaction) distributeSignatures(signatures [][2]*big.Int) error {
	switch {
	case len(signatures) == 0:
		return nil
	case len(signatures) == 1:
		for i := range tx.Inputs {
			tx.Inputs[i].SignatureR = signatures[0][0]
			tx.Inputs[i].SignatureS = signatures[0][1]
		}
		return nil
	case len(signatures) == len(tx.Inputs):
		for i := range tx.Inputs {
			tx.Inputs[i].SignatureR = signatures[i][0]
			tx.Inputs[i].SignatureS = signatures[i][1]
		}
		return nil
	case tx.ownerKeys != nil:
		return groupByRecoveredKey(tx, signatures)
	default:
		tx.pendingSignatures = signatures
		return nil
	}
}

// groupByRecoveredKey resolves case (c): each input's spent output
// determines its owning public key, inputs are grouped by first-seen key
// order, and the i-th signature is assigned to the i-th group. The caller
// (the validation pipeline, which has store access) must populate each
// input's recovered key via SetOwnerKeys before this path is reachable;
// absent that, DecodeTransaction cannot resolve grouping on its own since
// the wire form carries no public keys.
func groupByRecoveredKey(tx *Transaction, signatures [][2]*big.Int) error {
	if tx.ownerKeys == nil || len(tx.ownerKeys) != len(tx.Inputs) {
		return ErrSignatureCount
	}
	order := make([]string, 0)
	groups := make(map[string][]int)
	for i, key := range tx.ownerKeys {
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], i)
	}
	if len(order) != len(signatures) {
		return ErrSignatureCount
	}
	for gi, key := range order {
		for _, idx := range groups[key] {
			tx.Inputs[idx].SignatureR = signatures[gi][0]
			tx.Inputs[idx].SignatureS = signatures[gi][1]
		}
	}
	return nil
}

// leBytes32 renders n as a 32-byte little-endian field, matching the
// codec's convention for every multi-byte integer, signatures included.
func leBytes32(n *big.Int) []byte {
	be := make([]byte, 32)
	n.FillBytes(be)
	out := make([]byte, 32)
	for i, v := range be {
		out[31-i] = v
	}
	return out
}

// beFromLE reads a little-endian field back into a big.Int.
func beFromLE(b []byte) *big.Int {
	rev := make([]byte, len(b))
	for i, v := range b {
		rev[len(b)-1-i] = v
	}
	return new(big.Int).SetBytes(rev)
}

// VerifySignatures checks every input's (r,s) pair against the supplied
// owner points, in input order, over the transaction's unsigned prefix.
// Signature checks are deduplicated per (public_key, (r,s)) pair so a
// shared signature across several inputs is only verified once.
func (tx *Transaction) VerifySignatures(owners []cryptoprim.Point) error {
	if len(owners) != len(tx.Inputs) {
		return ErrSignatureCount
	}
	prefix, err := tx.unsignedPrefix()
	if err != nil {
		return err
	}
	msgHex := hex.EncodeToString(prefix)

	type checked struct{ pub, r, s string }
	seen := make(map[checked]bool)
	for i, in := range tx.Inputs {
		if !in.Signed() {
			return ErrUnsignedInput
		}
		key := checked{cryptoprim.PointToFullHex(owners[i]), in.SignatureR.String(), in.SignatureS.String()}
		if seen[key] {
			continue
		}
		if err := cryptoprim.Verify(owners[i], msgHex, in.SignatureR, in.SignatureS); err != nil {
			return err
		}
		seen[key] = true
	}
	return nil
}
