// Package pipeline implements the end-to-end block validate-and-commit
// procedure: parse candidate header bytes, check them against the
// current consensus target, verify every transaction, recompute the
// merkle root, and atomically commit or reject (spec.md §4.5).
package pipeline

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rawblock/denaro-node/internal/consensus"
	"github.com/rawblock/denaro-node/internal/cryptoprim"
	"github.com/rawblock/denaro-node/internal/store"
	"github.com/rawblock/denaro-node/internal/wire"
)

// MaxBlockSizeHex is the maximum total serialized (hex) size of a
// block's transactions.
const MaxBlockSizeHex = 4096 * 1024

// maxConflictLookup bounds the narrow legacy double-spend exception
// (spec.md §4.5 step 5) to at most 5 conflicting outpoints.
const maxConflictLookup = 5

// the id-17972 exception's recorded exact header fields (spec.md §9's
// "hard-coded block" legacy branch).
const (
	exceptionAddress   = "dbda85e237b90aa669da00f2859e0010b0a62e0fb6e55ba6ca3ce8a961a60c64410bcfb6a038310a3bb6f1a4aaa2de1192cc10e380a774bb6f9c6ca8547f11ab"
	exceptionTimestamp = 1638463765
	exceptionNonce     = 17660081
)

var (
	ErrNoPreviousHash   = errors.New("pipeline: content does not extend the chain tip")
	ErrBadDifficulty    = errors.New("pipeline: content difficulty does not match current target")
	ErrStaleTimestamp   = errors.New("pipeline: timestamp not after previous block")
	ErrFutureTimestamp  = errors.New("pipeline: timestamp in the future")
	ErrBlockTooLarge    = errors.New("pipeline: transactions exceed max block size")
	ErrDoubleSpend      = errors.New("pipeline: duplicate or already-spent input in block")
	ErrBadMerkleRoot    = errors.New("pipeline: merkle root mismatch")
	ErrBadProofOfWork   = errors.New("pipeline: block hash fails proof-of-work target")
	ErrCoinbaseInvalid  = errors.New("pipeline: coinbase output invalid")
)

// Clock abstracts wall-clock time so tests can pin it; time.Now in
// production.
type Clock func() time.Time

// Pipeline wires a Store to the consensus rules; it holds no mutable
// chain state of its own. It keeps no difficulty cache: Commit and
// CurrentDifficulty recompute the target from the store on every call.
type Pipeline struct {
	Store store.Store
	Now   Clock
}

// New returns a Pipeline using time.Now as its clock.
func New(s store.Store) *Pipeline {
	return &Pipeline{Store: s, Now: time.Now}
}

// Submission is the pipeline's input: a candidate block's header bytes
// plus the non-coinbase transactions it claims to carry.
type Submission struct {
	Content      []byte
	Transactions []*wire.Transaction
}

// CurrentDifficulty returns the difficulty the next block submitted to s
// must satisfy — the same computation Commit performs, exposed for
// get_mining_info without requiring a full Submission.
func CurrentDifficulty(ctx context.Context, s store.Store) (float64, error) {
	last, lastErr := s.GetLastBlock(ctx)
	hasLast := lastErr == nil
	if lastErr != nil && lastErr != store.ErrNotFound {
		return 0, fmt.Errorf("pipeline: load last block: %w", lastErr)
	}
	return nextDifficultyFor(ctx, s, last, hasLast)
}

func nextDifficultyFor(ctx context.Context, s store.Store, last store.Block, hasLast bool) (float64, error) {
	if !hasLast {
		return consensus.StartDifficulty, nil
	}
	info := &consensus.LastBlockInfo{ID: last.ID, Difficulty: last.Difficulty, Timestamp: last.Timestamp}
	if last.ID >= consensus.BlocksCount && last.ID%consensus.BlocksCount == 0 {
		window, err := s.GetBlockByID(ctx, last.ID-consensus.BlocksCount+1)
		if err != nil {
			return 0, fmt.Errorf("pipeline: load retarget window block: %w", err)
		}
		info.RetargetWindowTimestamp = window.Timestamp
	}
	return consensus.NextDifficulty(info), nil
}

// Commit validates sub against the current chain tip and consensus
// rules, and on success atomically commits the block, its transactions,
// and the resulting UTXO delta. It returns the committed block id.
func (p *Pipeline) Commit(ctx context.Context, sub Submission) (int64, error) {
	header, err := wire.SplitHeaderBytes(sub.Content)
	if err != nil {
		return 0, fmt.Errorf("pipeline: parse header: %w", err)
	}

	last, lastErr := p.Store.GetLastBlock(ctx)
	hasLast := lastErr == nil
	if lastErr != nil && lastErr != store.ErrNotFound {
		return 0, fmt.Errorf("pipeline: load last block: %w", lastErr)
	}

	blockNo := int64(1)
	if hasLast {
		blockNo = last.ID + 1
	}

	difficulty, err := nextDifficultyFor(ctx, p.Store, last, hasLast)
	if err != nil {
		return 0, err
	}

	isException := blockNo == consensus.ExceptionBlockID
	if isException {
		// the one recorded consensus-history block whose header was
		// accepted by its exact fields rather than by PoW/merkle checks.
		if cryptoprim.PointToFullHex(header.Address) != exceptionAddress ||
			int64(header.Timestamp) != exceptionTimestamp || header.Nonce != exceptionNonce {
			return 0, ErrBadProofOfWork
		}
	} else {
		if header.DifficultyX10 != uint16(math.Round(difficulty*10)) {
			return 0, ErrBadDifficulty
		}
		contentHash := cryptoprim.Sha256Hex(sub.Content)
		prevHexHash := ""
		if hasLast {
			prevHexHash = hex.EncodeToString(last.Hash[:])
		}
		if !consensus.CheckProofOfWork(difficulty, prevHexHash, contentHash) {
			return 0, ErrBadProofOfWork
		}
	}

	if hasLast && header.PreviousHash != last.Hash {
		return 0, ErrNoPreviousHash
	}

	contentTime := int64(header.Timestamp)
	if hasLast && contentTime <= last.Timestamp {
		return 0, ErrStaleTimestamp
	}
	if contentTime > p.Now().Unix() {
		return 0, ErrFutureTimestamp
	}

	total := 0
	for _, tx := range sub.Transactions {
		enc, err := tx.Encode()
		if err != nil {
			return 0, fmt.Errorf("pipeline: encode transaction: %w", err)
		}
		total += len(enc) * 2
	}
	if total > MaxBlockSizeHex {
		return 0, ErrBlockTooLarge
	}

	spent, err := p.checkDoubleSpend(ctx, sub.Transactions)
	if err != nil {
		return 0, err
	}

	var fees uint64
	for _, tx := range sub.Transactions {
		var inputAmount uint64
		ownerKeys := make([]string, len(tx.Inputs))
		owners := make([]cryptoprim.Point, len(tx.Inputs))
		for i, in := range tx.Inputs {
			out, addr, err := p.Store.GetOutput(ctx, in.Outpoint())
			if err != nil {
				return 0, fmt.Errorf("pipeline: resolve input: %w", err)
			}
			inputAmount += out.Amount
			ownerKeys[i] = addr
			owners[i] = out.Address
		}
		if tx.NeedsOwnerKeys() {
			tx.SetOwnerKeys(ownerKeys)
			if err := tx.ResolveSignatures(); err != nil {
				return 0, fmt.Errorf("pipeline: resolve signatures: %w", err)
			}
		}
		if err := tx.VerifySignatures(owners); err != nil {
			return 0, fmt.Errorf("pipeline: verify signatures: %w", err)
		}
		fee, err := tx.Fee(inputAmount)
		if err != nil {
			return 0, fmt.Errorf("pipeline: compute fee: %w", err)
		}
		fees += fee
	}

	merkle, err := consensus.MerkleRootForBlock(blockNo, sub.Transactions)
	if err != nil {
		return 0, fmt.Errorf("pipeline: compute merkle root: %w", err)
	}
	wantMerkle := hex.EncodeToString(header.MerkleRoot[:])
	if merkle != wantMerkle {
		if isException && wantMerkle == consensus.MerkleRoot17972 {
			// accepted: the one recorded consensus-history exception.
		} else {
			return 0, ErrBadMerkleRoot
		}
	}

	reward := consensus.BlockReward(blockNo)
	rewardSmallest := uint64(reward*1_000_000) + fees

	// a 138-byte header carries no version byte (full-hex, 64-byte miner
	// address); anything else is a compressed (33-byte address) header,
	// so the coinbase output adopts the matching transaction version.
	const fullHexHeaderLen = 138
	cbVersion := wire.VersionFullHex
	if len(sub.Content) != fullHexHeaderLen {
		cbVersion = wire.VersionCompressed
	}
	blockHash := cryptoprim.Sha256Hex(sub.Content)
	coinbase := wire.NewCoinbaseTransaction(cbVersion, hashFromHex(blockHash), header.Address, rewardSmallest)
	if cbVersion >= wire.VersionHeaderOnly {
		if err := coinbase.Outputs[0].Verify(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrCoinbaseInvalid, err)
		}
	}

	allTxs := append([]*wire.Transaction{coinbase}, sub.Transactions...)
	err = p.Store.AddBlock(ctx, store.Block{
		ID:         blockNo,
		Hash:       hashFromHex(blockHash),
		Content:    sub.Content,
		Address:    cryptoprim.PointToFullHex(header.Address),
		Random:     header.Nonce,
		Difficulty: difficulty,
		Reward:     rewardSmallest,
		Timestamp:  contentTime,
	}, allTxs, spent)
	if err != nil {
		return 0, fmt.Errorf("pipeline: commit block: %w", err)
	}

	return blockNo, nil
}

// checkDoubleSpend builds the flat list of outpoints every transaction
// in the batch spends, rejects in-batch duplicates, and checks them
// against the unspent set — applying the narrow legacy exception for up
// to maxConflictLookup conflicts.
func (p *Pipeline) checkDoubleSpend(ctx context.Context, txs []*wire.Transaction) ([]wire.Outpoint, error) {
	var all []wire.Outpoint
	seen := make(map[wire.Outpoint]bool)
	for _, tx := range txs {
		for _, in := range tx.Inputs {
			op := in.Outpoint()
			if seen[op] {
				return nil, ErrDoubleSpend
			}
			seen[op] = true
			all = append(all, op)
		}
	}
	if len(all) == 0 {
		return nil, nil
	}

	present, err := p.Store.GetUnspentOutputs(ctx, all)
	if err != nil {
		return nil, fmt.Errorf("pipeline: query unspent outputs: %w", err)
	}
	presentSet := make(map[wire.Outpoint]bool, len(present))
	for _, op := range present {
		presentSet[op] = true
	}

	var missing []wire.Outpoint
	for _, op := range all {
		if !presentSet[op] {
			missing = append(missing, op)
		}
	}
	if len(missing) == 0 {
		return all, nil
	}
	if len(missing) > maxConflictLookup {
		return nil, ErrDoubleSpend
	}
	if _, ok, err := p.Store.GetTransactionHashByContainsMultiOutpoint(ctx, missing); err != nil {
		return nil, fmt.Errorf("pipeline: legacy conflict lookup: %w", err)
	} else if ok {
		// a committed transaction already spends one of them.
		return nil, ErrDoubleSpend
	}
	return all, nil
}

// hashFromHex decodes a forward (non-reversed) SHA-256 hex digest into a
// chainhash.Hash array, matching cryptoprim.Sha256Hex's output — never
// chainhash.NewHashFromStr, which reverses bytes for Bitcoin's txid
// display convention and would silently corrupt every comparison here.
func hashFromHex(s string) chainhash.Hash {
	var h chainhash.Hash
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h
	}
	copy(h[:], raw)
	return h
}
