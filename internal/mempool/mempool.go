// Package mempool orders and admits pending transactions and periodically
// scrubs entries that are no longer valid (spec.md §4.6). It wraps a
// store.Store the way the block pipeline does — the mempool holds no
// transaction state of its own beyond the per-process scrub cooldown.
package mempool

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rawblock/denaro-node/internal/cryptoprim"
	"github.com/rawblock/denaro-node/internal/store"
	"github.com/rawblock/denaro-node/internal/wire"
)

// scrubCooldown is the minimum interval between scrub passes, regardless
// of how often the probabilistic trigger fires.
const scrubCooldown = 600 * time.Second

// scrubProbability is the chance any single Admit call also triggers a
// scrub pass, subject to scrubCooldown.
const scrubProbability = 0.05

var (
	// ErrConflict reports a transaction whose hash is already pending or
	// already committed — gossip treats this as idempotent success.
	ErrConflict = errors.New("mempool: transaction already present")
	// ErrDoubleSpend reports an input already claimed by another pending
	// transaction, or no longer unspent.
	ErrDoubleSpend = errors.New("mempool: input already spent")
)

// Mempool manages the pending-transaction pool backed by a Store.
type Mempool struct {
	Store store.Store

	mu        sync.Mutex
	lastScrub time.Time
}

// New returns a Mempool over s.
func New(s store.Store) *Mempool {
	return &Mempool{Store: s}
}

// Admit validates tx against the current UTXO and pending-spent sets and,
// on success, adds it to the pending pool. It may also trigger a scrub
// pass (probabilistically, subject to scrubCooldown).
func (m *Mempool) Admit(ctx context.Context, tx *wire.Transaction) error {
	hash, err := tx.Hash()
	if err != nil {
		return err
	}
	if _, _, err := m.Store.GetTransaction(ctx, hash); err == nil {
		return ErrConflict
	}

	outpoints := make([]wire.Outpoint, len(tx.Inputs))
	owners := make([]string, len(tx.Inputs))
	for i, in := range tx.Inputs {
		outpoints[i] = in.Outpoint()
	}

	conflicted, err := m.Store.GetPendingSpentOutputs(ctx, outpoints)
	if err != nil {
		return err
	}
	if len(conflicted) > 0 {
		return ErrDoubleSpend
	}

	unspent, err := m.Store.GetUnspentOutputs(ctx, outpoints)
	if err != nil {
		return err
	}
	if len(unspent) != len(outpoints) {
		return ErrDoubleSpend
	}

	var inputAmount uint64
	ownerAddrs := make([]cryptoprim.Point, len(tx.Inputs))
	for i, op := range outpoints {
		out, addr, err := m.Store.GetOutput(ctx, op)
		if err != nil {
			return err
		}
		inputAmount += out.Amount
		owners[i] = addr
		ownerAddrs[i] = out.Address
	}
	if tx.NeedsOwnerKeys() {
		tx.SetOwnerKeys(owners)
		if err := tx.ResolveSignatures(); err != nil {
			return err
		}
	}
	if err := tx.VerifySignatures(ownerAddrs); err != nil {
		return err
	}
	if _, err := tx.Fee(inputAmount); err != nil {
		return err
	}

	if err := m.Store.AddPendingTransaction(ctx, tx); err != nil {
		return err
	}

	if m.shouldScrub() {
		go m.Scrub(context.Background())
	}
	return nil
}

func (m *Mempool) shouldScrub() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if time.Since(m.lastScrub) < scrubCooldown {
		return false
	}
	if cryptoRandFloat64() >= scrubProbability {
		return false
	}
	m.lastScrub = time.Now()
	return true
}

// cryptoRandFloat64 returns a cryptographically random float64 in [0, 1).
func cryptoRandFloat64() float64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 1 // never trigger the scrub on a broken RNG
	}
	n := binary.BigEndian.Uint64(b[:]) >> 11
	return float64(n) / float64(1<<53)
}

// Scrub removes pending transactions whose inputs are no longer unspent,
// that conflict with an earlier-kept pending entry, or that duplicate a
// transaction already committed on-chain (spec.md §4.6).
func (m *Mempool) Scrub(ctx context.Context) {
	pending, err := m.Store.GetPendingTransactions(ctx, 1<<30)
	if err != nil {
		log.Printf("mempool: scrub: list pending: %v", err)
		return
	}

	seen := make(map[wire.Outpoint]bool)
	var drop []chainhash.Hash
	for _, tx := range pending {
		hash, err := tx.Hash()
		if err != nil {
			continue
		}
		if _, _, err := m.Store.GetTransaction(ctx, hash); err == nil {
			drop = append(drop, hash)
			continue
		}

		outpoints := make([]wire.Outpoint, len(tx.Inputs))
		for i, in := range tx.Inputs {
			outpoints[i] = in.Outpoint()
		}
		unspent, err := m.Store.GetUnspentOutputs(ctx, outpoints)
		if err != nil || len(unspent) != len(outpoints) {
			drop = append(drop, hash)
			continue
		}

		conflict := false
		for _, op := range outpoints {
			if seen[op] {
				conflict = true
				break
			}
		}
		if conflict {
			drop = append(drop, hash)
			continue
		}
		for _, op := range outpoints {
			seen[op] = true
		}
	}

	if len(drop) == 0 {
		return
	}
	if err := m.Store.RemovePendingTransactions(ctx, drop); err != nil {
		log.Printf("mempool: scrub: remove: %v", err)
	}
}

// Select returns the prefix of pending transactions, ordered fee-per-byte
// descending then byte-length ascending then byte lexicographic, whose
// cumulative serialized size (hex chars) does not exceed maxSizeHex — the
// greedy fill a miner uses to build a candidate block.
func (m *Mempool) Select(ctx context.Context, maxSizeHex int) ([]*wire.Transaction, error) {
	all, err := m.Store.GetPendingTransactions(ctx, 1<<30)
	if err != nil {
		return nil, err
	}

	type scored struct {
		tx      *wire.Transaction
		enc     []byte
		feeRate float64
	}
	list := make([]scored, 0, len(all))
	for _, tx := range all {
		enc, err := tx.Encode()
		if err != nil {
			continue
		}
		var inputAmount uint64
		for _, in := range tx.Inputs {
			out, _, err := m.Store.GetOutput(ctx, in.Outpoint())
			if err == nil {
				inputAmount += out.Amount
			}
		}
		fee, err := tx.Fee(inputAmount)
		if err != nil {
			continue
		}
		rate := float64(fee) / float64(len(enc))
		list = append(list, scored{tx: tx, enc: enc, feeRate: rate})
	}

	sort.Slice(list, func(i, j int) bool {
		if list[i].feeRate != list[j].feeRate {
			return list[i].feeRate > list[j].feeRate
		}
		if len(list[i].enc) != len(list[j].enc) {
			return len(list[i].enc) < len(list[j].enc)
		}
		return hex.EncodeToString(list[i].enc) < hex.EncodeToString(list[j].enc)
	})

	var out []*wire.Transaction
	total := 0
	for _, s := range list {
		size := len(s.enc) * 2
		if total+size > maxSizeHex {
			break
		}
		total += size
		out = append(out, s.tx)
	}
	return out, nil
}
