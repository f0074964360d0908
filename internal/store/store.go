// Package store defines the abstract ledger contract the block pipeline,
// mempool, and RPC surface depend on, plus a Postgres-backed
// implementation. Depending on the interface rather than a concrete type
// breaks the cyclic pipeline/store/transaction dependency the same way
// the teacher's APIHandler depends on *db.PostgresStore through a struct
// field rather than a package-level singleton.
package store

import (
	"context"
	"errors"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rawblock/denaro-node/internal/wire"
)

// ErrNotFound is returned by single-item lookups that find nothing.
var ErrNotFound = errors.New("store: not found")

// Block is the persisted record of a committed block.
type Block struct {
	ID         int64
	Hash       chainhash.Hash
	Content    []byte
	Address    string // display-form miner address (hex or base58)
	Random     uint32
	Difficulty float64
	Reward     uint64 // smallest units, includes fees
	Timestamp  int64
}

// SpendableOutput is one entry of an address's unspent-output set, with
// the amount denormalized in so callers needn't re-fetch the owning
// transaction.
type SpendableOutput struct {
	wire.Outpoint
	Amount uint64
}

// Store is the single abstraction boundary spec.md §4.3 requires between
// the pipeline/mempool/peer layers and durable storage. Every
// multi-statement mutation (AddBlock's full commit, DeleteBlocks) is
// atomic: callers never observe a partial state.
type Store interface {
	// AddBlock commits a new block and every consequence of it in one
	// transaction: the block row, its transactions (coinbase included),
	// the new unspent outputs they create, the removal of the outputs
	// they spend, and the removal of the spent/accepted entries from the
	// pending pool. On any failure the whole commit rolls back and no
	// partial state is visible.
	AddBlock(ctx context.Context, block Block, txs []*wire.Transaction, spent []wire.Outpoint) error

	// DeleteBlocks removes every block with id > idGreaterThan, cascading
	// to its transactions and the unspent rows they created, and restores
	// each deleted non-coinbase transaction's inputs to the unspent set
	// (the reorg primitive; spec.md §4.7 step 4).
	DeleteBlocks(ctx context.Context, idGreaterThan int64) error

	// GetLastBlock returns the chain tip, or ErrNotFound on an empty chain.
	GetLastBlock(ctx context.Context) (Block, error)
	// GetBlockByID returns the block at the given height.
	GetBlockByID(ctx context.Context, id int64) (Block, error)
	// GetBlockByHash returns the block with the given hash.
	GetBlockByHash(ctx context.Context, hash chainhash.Hash) (Block, error)
	// GetBlocksRange returns up to limit blocks starting at block id
	// offset (blocks with id >= offset), ordered by id ascending.
	GetBlocksRange(ctx context.Context, offset, limit int64) ([]Block, error)
	// GetBlockTransactions returns every transaction committed in the
	// given block, coinbase included; the order of the returned
	// transactions is not defined.
	GetBlockTransactions(ctx context.Context, hash chainhash.Hash) ([]*wire.Transaction, error)

	// GetTransaction returns a committed or pending transaction by hash,
	// and the hash of the block that committed it (zero value if still
	// pending).
	GetTransaction(ctx context.Context, hash chainhash.Hash) (tx *wire.Transaction, blockHash chainhash.Hash, err error)

	// GetUnspentOutputs returns the subset of the given outpoints that
	// are currently unspent — the primary double-spend test.
	GetUnspentOutputs(ctx context.Context, outpoints []wire.Outpoint) ([]wire.Outpoint, error)
	// GetOutput resolves one outpoint to the output it refers to, plus
	// the base58/hex address string owning it, for fee computation and
	// signature-group resolution.
	GetOutput(ctx context.Context, op wire.Outpoint) (wire.TransactionOutput, string, error)
	// GetSpendableOutputs returns every unspent output owned by address.
	GetSpendableOutputs(ctx context.Context, address string) ([]SpendableOutput, error)
	// GetUnspentOutputsHash returns a stable hash over the ordered set of
	// unspent (tx_hash,index) pairs, used by peers to cheaply compare
	// chain tips without transferring the whole set.
	GetUnspentOutputsHash(ctx context.Context) (string, error)

	// AddPendingTransaction inserts tx into the pending pool and marks
	// its inputs as pending-spent. It rejects a transaction whose inputs
	// cannot be resolved or whose outputs exceed its inputs; it does not
	// verify signatures. The in-memory implementation also rejects an
	// input that is already pending-spent or not unspent; the Postgres
	// implementation does not check either.
	AddPendingTransaction(ctx context.Context, tx *wire.Transaction) error
	// RemovePendingTransaction drops one pending transaction by hash.
	RemovePendingTransaction(ctx context.Context, hash chainhash.Hash) error
	// RemovePendingTransactions drops every pending transaction whose
	// hash is in hashes.
	RemovePendingTransactions(ctx context.Context, hashes []chainhash.Hash) error
	// GetPendingTransactions returns up to limit pending transactions,
	// ordered fee-per-byte descending (spec.md §4.6).
	GetPendingTransactions(ctx context.Context, limit int) ([]*wire.Transaction, error)
	// GetPendingSpentOutputs returns the subset of outpoints referenced
	// by any pending transaction — the mempool conflict test.
	GetPendingSpentOutputs(ctx context.Context, outpoints []wire.Outpoint) ([]wire.Outpoint, error)
	// GetTransactionHashByContainsMultiOutpoint implements the narrow
	// legacy exception (spec.md §4.5 step 5): for up to 5 conflicting
	// outpoints, look up a committed transaction whose hex contains the
	// outpoint's (tx_hash||index) substring, rather than treating every
	// conflict as a hard double-spend.
	GetTransactionHashByContainsMultiOutpoint(ctx context.Context, outpoints []wire.Outpoint) (chainhash.Hash, bool, error)
}
