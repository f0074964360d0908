package peer

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/rawblock/denaro-node/internal/mempool"
	"github.com/rawblock/denaro-node/internal/pipeline"
	"github.com/rawblock/denaro-node/internal/store"
	"github.com/rawblock/denaro-node/internal/wire"
)

// compareWindow is how many of the chain's most recent blocks sync
// compares newest-first against a remote to find a common ancestor.
const compareWindow = 500

// fetchChunk is the chunk size sync re-fetches blocks in once a common
// ancestor (or the chain tip, on a simple catch-up) is known.
const fetchChunk = 1000

// ErrSyncInProgress reports that a sync is already running; Sync is
// single-flight per process.
var ErrSyncInProgress = errors.New("peer: sync already in progress")

// remoteBlock is the wire shape returned by a peer's /get_block and
// /get_blocks endpoints: the block's header content (hex) plus its
// non-coinbase transactions (hex), matching what this node's own RPC
// surface serves so sync can feed a peer's response straight back into
// the pipeline.
type remoteBlock struct {
	ID           int64    `json:"id"`
	Hash         string   `json:"hash"`
	Content      string   `json:"content"`
	Transactions []string `json:"transactions"`
}

type remoteBlockEnvelope struct {
	Block        remoteBlock `json:"block"`
	Transactions []string    `json:"transactions"`
}

// Syncer drives the reorg-aware catch-up procedure against remote peers
// (spec.md §4.7).
type Syncer struct {
	Registry *Registry
	Client   *Client
	Pipeline *pipeline.Pipeline
	Store    store.Store
	Mempool  *mempool.Mempool

	mu      sync.Mutex
	syncing bool
}

// NewSyncer wires a Syncer over the given collaborators.
func NewSyncer(reg *Registry, client *Client, p *pipeline.Pipeline, s store.Store, mp *mempool.Mempool) *Syncer {
	return &Syncer{Registry: reg, Client: client, Pipeline: p, Store: s, Mempool: mp}
}

// Sync picks nodeURL (or a random recent peer if empty), compares tips,
// rolls back to any common ancestor, and replays blocks through the
// pipeline until the local chain matches the peer's.
func (s *Syncer) Sync(ctx context.Context, nodeURL string) error {
	s.mu.Lock()
	if s.syncing {
		s.mu.Unlock()
		return ErrSyncInProgress
	}
	s.syncing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.syncing = false
		s.mu.Unlock()
	}()

	if nodeURL == "" {
		recent := s.Registry.Recent(time.Now())
		if len(recent) == 0 {
			return nil
		}
		nodeURL = recent[rand.Intn(len(recent))]
	}

	localCache, commonAncestor, err := s.reconcileTip(ctx, nodeURL)
	if err != nil {
		return err
	}

	if err := s.fetchAndApply(ctx, nodeURL); err != nil {
		if localCache != nil {
			if delErr := s.Store.DeleteBlocks(ctx, commonAncestor); delErr == nil {
				s.applyBlocks(ctx, localCache)
			}
		}
		return err
	}

	s.Registry.Touch(nodeURL, time.Now())
	return nil
}

// reconcileTip compares the local tip against the remote's block at the
// same height; on a mismatch it walks back compareWindow blocks to find
// the common ancestor, rolls back past it, and returns the removed
// blocks (newest-last) so the caller can restore them if the follow-up
// replay fails.
func (s *Syncer) reconcileTip(ctx context.Context, nodeURL string) ([]remoteBlock, int64, error) {
	last, err := s.Store.GetLastBlock(ctx)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	if last.ID <= compareWindow {
		return nil, 0, nil
	}

	remoteTip, err := s.fetchBlock(ctx, nodeURL, fmt.Sprintf("%d", last.ID))
	if err != nil {
		return nil, 0, err
	}
	if remoteTip.Hash == hex.EncodeToString(last.Hash[:]) {
		return nil, 0, nil
	}

	offset := last.ID - compareWindow
	remoteBlocks, err := s.fetchBlocks(ctx, nodeURL, offset, compareWindow)
	if err != nil {
		return nil, 0, err
	}
	localBlocks, err := s.Store.GetBlocksRange(ctx, offset, compareWindow)
	if err != nil {
		return nil, 0, err
	}
	if len(localBlocks) > len(remoteBlocks) {
		return nil, 0, nil // we are longer; do not roll back
	}

	for i := len(localBlocks) - 1; i >= 0; i-- {
		if i >= len(remoteBlocks) {
			continue
		}
		if hex.EncodeToString(localBlocks[i].Hash[:]) == remoteBlocks[i].Hash {
			ancestorID := localBlocks[i].ID
			cache, err := s.rollBackTo(ctx, ancestorID)
			if err != nil {
				return nil, 0, err
			}
			return cache, ancestorID, nil
		}
	}
	return nil, 0, nil
}

// rollBackTo removes every block after ancestorID, restores their
// inputs' outputs to the UTXO set, and re-admits their non-coinbase
// transactions to the pending pool — then returns the removed blocks
// (as remoteBlock values, for local replay on failure).
func (s *Syncer) rollBackTo(ctx context.Context, ancestorID int64) ([]remoteBlock, error) {
	last, err := s.Store.GetLastBlock(ctx)
	if err != nil {
		return nil, err
	}
	removed, err := s.Store.GetBlocksRange(ctx, ancestorID+1, last.ID-ancestorID)
	if err != nil {
		return nil, err
	}

	cache := make([]remoteBlock, 0, len(removed))
	removedTxs := make(map[int64][]*wire.Transaction, len(removed))
	for _, b := range removed {
		txs, err := s.Store.GetBlockTransactions(ctx, b.Hash)
		if err != nil {
			return nil, err
		}
		removedTxs[b.ID] = txs

		var hexTxs []string
		for _, tx := range txs {
			if tx.Coinbase {
				continue
			}
			enc, err := tx.Encode()
			if err != nil {
				continue
			}
			hexTxs = append(hexTxs, hex.EncodeToString(enc))
		}
		cache = append(cache, remoteBlock{ID: b.ID, Hash: hex.EncodeToString(b.Hash[:]), Content: hex.EncodeToString(b.Content), Transactions: hexTxs})
	}

	if err := s.Store.DeleteBlocks(ctx, ancestorID); err != nil {
		return nil, err
	}
	if s.Mempool != nil {
		for _, txs := range removedTxs {
			for _, tx := range txs {
				if tx.Coinbase {
					continue
				}
				_ = s.Mempool.Admit(ctx, tx)
			}
		}
	}
	return cache, nil
}

// fetchAndApply pulls subsequent blocks from nodeURL in chunks of
// fetchChunk and feeds each through the pipeline until the peer has
// nothing left to offer.
func (s *Syncer) fetchAndApply(ctx context.Context, nodeURL string) error {
	for {
		var nextID int64 = 1
		if last, err := s.Store.GetLastBlock(ctx); err == nil {
			nextID = last.ID + 1
		} else if err != store.ErrNotFound {
			return err
		}

		blocks, err := s.fetchBlocks(ctx, nodeURL, nextID, fetchChunk)
		if err != nil {
			return err
		}
		if len(blocks) == 0 {
			return nil
		}
		if err := s.applyBlocks(ctx, blocks); err != nil {
			return err
		}
	}
}

func (s *Syncer) applyBlocks(ctx context.Context, blocks []remoteBlock) error {
	for _, b := range blocks {
		content, err := hex.DecodeString(b.Content)
		if err != nil {
			return fmt.Errorf("peer: decode block content: %w", err)
		}
		txs := make([]*wire.Transaction, 0, len(b.Transactions))
		for _, txHex := range b.Transactions {
			raw, err := hex.DecodeString(txHex)
			if err != nil {
				return fmt.Errorf("peer: decode transaction: %w", err)
			}
			tx, err := wire.DecodeTransaction(raw)
			if err != nil {
				return fmt.Errorf("peer: parse transaction: %w", err)
			}
			if tx.Coinbase {
				continue
			}
			txs = append(txs, tx)
		}
		if _, err := s.Pipeline.Commit(ctx, pipeline.Submission{Content: content, Transactions: txs}); err != nil {
			return fmt.Errorf("peer: commit synced block %d: %w", b.ID, err)
		}
	}
	return nil
}

func (s *Syncer) fetchBlock(ctx context.Context, nodeURL, idOrHash string) (remoteBlock, error) {
	raw, err := s.Client.GetBlock(ctx, nodeURL, idOrHash)
	if err != nil {
		return remoteBlock{}, err
	}
	var env remoteBlockEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return remoteBlock{}, &ErrMalformed{err}
	}
	env.Block.Transactions = env.Transactions
	return env.Block, nil
}

func (s *Syncer) fetchBlocks(ctx context.Context, nodeURL string, offset, limit int64) ([]remoteBlock, error) {
	raw, err := s.Client.GetBlocks(ctx, nodeURL, offset, limit)
	if err != nil {
		return nil, err
	}
	var envs []remoteBlockEnvelope
	if err := json.Unmarshal(raw, &envs); err != nil {
		return nil, &ErrMalformed{err}
	}
	out := make([]remoteBlock, 0, len(envs))
	for _, e := range envs {
		b := e.Block
		b.Transactions = e.Transactions
		out = append(out, b)
	}
	return out, nil
}
