package store

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rawblock/denaro-node/internal/wire"
)

// MemoryStore is an in-process Store implementation used by package
// tests across consensus/pipeline/mempool/peer/api so they can exercise
// real Store semantics without a running Postgres — the teacher's own
// test suites favor exercising real collaborators over mocks wherever
// practical.
type MemoryStore struct {
	mu sync.Mutex

	blocks      map[int64]Block
	blockByHash map[chainhash.Hash]int64

	txs        map[chainhash.Hash]storedTx
	pendingTxs map[chainhash.Hash]storedTx

	unspent       map[wire.Outpoint]string
	pendingSpent  map[wire.Outpoint]bool
}

type storedTx struct {
	tx        *wire.Transaction
	blockHash chainhash.Hash
	fee       uint64
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blocks:       make(map[int64]Block),
		blockByHash:  make(map[chainhash.Hash]int64),
		txs:          make(map[chainhash.Hash]storedTx),
		pendingTxs:   make(map[chainhash.Hash]storedTx),
		unspent:      make(map[wire.Outpoint]string),
		pendingSpent: make(map[wire.Outpoint]bool),
	}
}

func (m *MemoryStore) AddBlock(ctx context.Context, block Block, txs []*wire.Transaction, spent []wire.Outpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks[block.ID] = block
	m.blockByHash[block.Hash] = block.ID

	for _, t := range txs {
		h, err := t.Hash()
		if err != nil {
			return err
		}
		var fee uint64
		if !t.Coinbase {
			var inputAmount uint64
			for _, in := range t.Inputs {
				if st, ok := m.txs[in.TxHash]; ok && int(in.Index) < len(st.tx.Outputs) {
					inputAmount += st.tx.Outputs[in.Index].Amount
				}
			}
			fee, _ = t.Fee(inputAmount)
		}
		m.txs[h] = storedTx{tx: t, blockHash: block.Hash, fee: fee}
		for i, o := range t.Outputs {
			m.unspent[wire.Outpoint{TxHash: h, Index: uint8(i)}] = addressHex(o)
		}
		delete(m.pendingTxs, h)
	}
	for _, op := range spent {
		delete(m.unspent, op)
		delete(m.pendingSpent, op)
	}
	return nil
}

func (m *MemoryStore) DeleteBlocks(ctx context.Context, idGreaterThan int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, b := range m.blocks {
		if id <= idGreaterThan {
			continue
		}
		for h, st := range m.txs {
			if st.blockHash != b.Hash {
				continue
			}
			delete(m.txs, h)
			for i := range st.tx.Outputs {
				delete(m.unspent, wire.Outpoint{TxHash: h, Index: uint8(i)})
			}
			if st.tx.Coinbase {
				continue
			}
			for _, in := range st.tx.Inputs {
				if owner, ok := m.txs[in.TxHash]; ok && int(in.Index) < len(owner.tx.Outputs) {
					m.unspent[in.Outpoint()] = addressHex(owner.tx.Outputs[in.Index])
				}
			}
			m.pendingTxs[h] = storedTx{tx: st.tx}
		}
		delete(m.blocks, id)
		delete(m.blockByHash, b.Hash)
	}
	return nil
}

func (m *MemoryStore) GetLastBlock(ctx context.Context) (Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *Block
	for _, b := range m.blocks {
		if best == nil || b.ID > best.ID {
			bb := b
			best = &bb
		}
	}
	if best == nil {
		return Block{}, ErrNotFound
	}
	return *best, nil
}

func (m *MemoryStore) GetBlockByID(ctx context.Context, id int64) (Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.blocks[id]
	if !ok {
		return Block{}, ErrNotFound
	}
	return b, nil
}

func (m *MemoryStore) GetBlockByHash(ctx context.Context, hash chainhash.Hash) (Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.blockByHash[hash]
	if !ok {
		return Block{}, ErrNotFound
	}
	return m.blocks[id], nil
}

func (m *MemoryStore) GetBlocksRange(ctx context.Context, offset, limit int64) ([]Block, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]int64, 0, len(m.blocks))
	for id := range m.blocks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	var out []Block
	for _, id := range ids {
		if id < offset {
			continue
		}
		if int64(len(out)) >= limit {
			break
		}
		out = append(out, m.blocks[id])
	}
	return out, nil
}

func (m *MemoryStore) GetBlockTransactions(ctx context.Context, hash chainhash.Hash) ([]*wire.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*wire.Transaction
	for _, st := range m.txs {
		if st.blockHash == hash {
			out = append(out, st.tx)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetTransaction(ctx context.Context, hash chainhash.Hash) (*wire.Transaction, chainhash.Hash, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.txs[hash]; ok {
		return st.tx, st.blockHash, nil
	}
	if st, ok := m.pendingTxs[hash]; ok {
		return st.tx, chainhash.Hash{}, nil
	}
	return nil, chainhash.Hash{}, ErrNotFound
}

func (m *MemoryStore) GetUnspentOutputs(ctx context.Context, outpoints []wire.Outpoint) ([]wire.Outpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []wire.Outpoint
	for _, op := range outpoints {
		if _, ok := m.unspent[op]; ok {
			out = append(out, op)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetOutput(ctx context.Context, op wire.Outpoint) (wire.TransactionOutput, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.txs[op.TxHash]
	if !ok || int(op.Index) >= len(st.tx.Outputs) {
		return wire.TransactionOutput{}, "", ErrNotFound
	}
	out := st.tx.Outputs[op.Index]
	return out, addressHex(out), nil
}

func (m *MemoryStore) GetSpendableOutputs(ctx context.Context, address string) ([]SpendableOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []SpendableOutput
	for op, addr := range m.unspent {
		if addr != address {
			continue
		}
		st := m.txs[op.TxHash]
		out = append(out, SpendableOutput{Outpoint: op, Amount: st.tx.Outputs[op.Index].Amount})
	}
	return out, nil
}

func (m *MemoryStore) GetUnspentOutputsHash(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hasher := newOutpointHasher()
	for op := range m.unspent {
		hasher.add(op.TxHash[:], op.Index)
	}
	return hasher.sum(), nil
}

func (m *MemoryStore) AddPendingTransaction(ctx context.Context, tx *wire.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, err := tx.Hash()
	if err != nil {
		return err
	}
	var inputAmount uint64
	for _, in := range tx.Inputs {
		op := in.Outpoint()
		if m.pendingSpent[op] {
			return fmt.Errorf("store: input already spent by a pending transaction")
		}
		addr, ok := m.unspent[op]
		if !ok {
			return fmt.Errorf("store: input not unspent")
		}
		st := m.txs[op.TxHash]
		inputAmount += st.tx.Outputs[op.Index].Amount
		_ = addr
	}
	fee, err := tx.Fee(inputAmount)
	if err != nil {
		return err
	}
	m.pendingTxs[h] = storedTx{tx: tx, fee: fee}
	for _, in := range tx.Inputs {
		m.pendingSpent[in.Outpoint()] = true
	}
	return nil
}

func (m *MemoryStore) RemovePendingTransaction(ctx context.Context, hash chainhash.Hash) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.pendingTxs[hash]; ok {
		for _, in := range st.tx.Inputs {
			delete(m.pendingSpent, in.Outpoint())
		}
	}
	delete(m.pendingTxs, hash)
	return nil
}

func (m *MemoryStore) RemovePendingTransactions(ctx context.Context, hashes []chainhash.Hash) error {
	for _, h := range hashes {
		if err := m.RemovePendingTransaction(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryStore) GetPendingTransactions(ctx context.Context, limit int) ([]*wire.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	type withFee struct {
		tx  *wire.Transaction
		enc []byte
	}
	var list []withFee
	for _, st := range m.pendingTxs {
		enc, err := st.tx.Encode()
		if err != nil {
			continue
		}
		list = append(list, withFee{tx: st.tx, enc: enc})
	}
	sort.Slice(list, func(i, j int) bool {
		fi := float64(m.pendingTxs[mustHash(list[i].tx)].fee) / float64(len(list[i].enc))
		fj := float64(m.pendingTxs[mustHash(list[j].tx)].fee) / float64(len(list[j].enc))
		if fi != fj {
			return fi > fj
		}
		if len(list[i].enc) != len(list[j].enc) {
			return len(list[i].enc) < len(list[j].enc)
		}
		return hex.EncodeToString(list[i].enc) < hex.EncodeToString(list[j].enc)
	})
	var out []*wire.Transaction
	for i, e := range list {
		if i >= limit {
			break
		}
		out = append(out, e.tx)
	}
	return out, nil
}

func mustHash(tx *wire.Transaction) chainhash.Hash {
	h, _ := tx.Hash()
	return h
}

func (m *MemoryStore) GetPendingSpentOutputs(ctx context.Context, outpoints []wire.Outpoint) ([]wire.Outpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []wire.Outpoint
	for _, op := range outpoints {
		if m.pendingSpent[op] {
			out = append(out, op)
		}
	}
	return out, nil
}

func (m *MemoryStore) GetTransactionHashByContainsMultiOutpoint(ctx context.Context, outpoints []wire.Outpoint) (chainhash.Hash, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, op := range outpoints {
		needle := hex.EncodeToString(op.TxHash[:]) + fmt.Sprintf("%02x", op.Index)
		for h, st := range m.txs {
			enc, err := st.tx.Encode()
			if err != nil {
				continue
			}
			if containsHex(enc, needle) {
				return h, true, nil
			}
		}
	}
	return chainhash.Hash{}, false, nil
}

func containsHex(enc []byte, needle string) bool {
	return len(needle) > 0 && len(hex.EncodeToString(enc)) >= len(needle) &&
		indexOfHex(hex.EncodeToString(enc), needle) >= 0
}

func indexOfHex(haystack, needle string) int {
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return i
		}
	}
	return -1
}
