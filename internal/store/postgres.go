package store

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rawblock/denaro-node/internal/wire"
)

// PostgresStore is the durable Store implementation, grounded on the
// teacher's pgxpool-plus-explicit-transaction pattern: every mutation
// opens a transaction, defers Rollback, and commits only once every
// statement in the operation has succeeded.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a pool against dsn and sets the minimum
// connection count spec.md §5 calls for.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse dsn: %w", err)
	}
	cfg.MinConns = 3

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: connect: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// InitSchema creates every table this store depends on, idempotently.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func txAddresses(store *PostgresStore, ctx context.Context, tx pgx.Tx, in wire.TransactionInput) (string, error) {
	var addr string
	err := tx.QueryRow(ctx, `SELECT address FROM unspent_outputs WHERE tx_hash=$1 AND index=$2`,
		in.TxHash[:], in.Index).Scan(&addr)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	return addr, err
}

func outputArrays(outputs []wire.TransactionOutput) ([]string, []int64) {
	addrs := make([]string, len(outputs))
	amounts := make([]int64, len(outputs))
	for i, o := range outputs {
		addrs[i] = cryptoAddrString(o)
		amounts[i] = int64(o.Amount)
	}
	return addrs, amounts
}

// cryptoAddrString renders an output's address in full-hex form; it is a
// small indirection so the storage layer never needs to know which
// encoding a particular transaction version used on the wire, matching
// the open question in spec.md §9 (point equality is canonical; string
// forms are index-only shortcuts).
func cryptoAddrString(o wire.TransactionOutput) string {
	return addressHex(o)
}

// AddBlock implements Store.
func (s *PostgresStore) AddBlock(ctx context.Context, block Block, txs []*wire.Transaction, spent []wire.Outpoint) error {
	dbTx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer dbTx.Rollback(ctx)

	_, err = dbTx.Exec(ctx, `INSERT INTO blocks (id, hash, content, address, random, difficulty, reward, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		block.ID, block.Hash[:], block.Content, block.Address, block.Random, block.Difficulty, int64(block.Reward), block.Timestamp)
	if err != nil {
		return fmt.Errorf("store: insert block: %w", err)
	}

	allHashes := make([]chainhash.Hash, 0, len(txs))
	for _, t := range txs {
		enc, err := t.Encode()
		if err != nil {
			return fmt.Errorf("store: encode transaction: %w", err)
		}
		h, err := t.Hash()
		if err != nil {
			return fmt.Errorf("store: hash transaction: %w", err)
		}
		allHashes = append(allHashes, h)

		inAddrs := make([]string, len(t.Inputs))
		for i, in := range t.Inputs {
			addr, err := txAddresses(s, ctx, dbTx, in)
			if err != nil {
				return fmt.Errorf("store: resolve input address: %w", err)
			}
			inAddrs[i] = addr
		}
		outAddrs, outAmounts := outputArrays(t.Outputs)

		var fee int64
		if !t.Coinbase {
			var inputAmount uint64
			for _, in := range t.Inputs {
				var amt int64
				if err := dbTx.QueryRow(ctx, `SELECT outputs_amounts[index+1] FROM transactions tr
					JOIN unspent_outputs u ON u.tx_hash = tr.tx_hash
					WHERE tr.tx_hash=$1 AND u.index=$2`, in.TxHash[:], in.Index).Scan(&amt); err == nil {
					inputAmount += uint64(amt)
				}
			}
			f, err := t.Fee(inputAmount)
			if err == nil {
				fee = int64(f)
			}
		}

		_, err = dbTx.Exec(ctx, `INSERT INTO transactions (block_hash, tx_hash, tx_hex, inputs_addresses, outputs_addresses, outputs_amounts, fees)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			block.Hash[:], h[:], hex.EncodeToString(enc), inAddrs, outAddrs, outAmounts, fee)
		if err != nil {
			return fmt.Errorf("store: insert transaction: %w", err)
		}

		for idx, o := range t.Outputs {
			_, err = dbTx.Exec(ctx, `INSERT INTO unspent_outputs (tx_hash, index, address) VALUES ($1,$2,$3)
				ON CONFLICT (tx_hash, index) DO NOTHING`, h[:], idx, cryptoAddrString(o))
			if err != nil {
				return fmt.Errorf("store: insert unspent output: %w", err)
			}
		}
	}

	for _, op := range spent {
		if _, err := dbTx.Exec(ctx, `DELETE FROM unspent_outputs WHERE tx_hash=$1 AND index=$2`, op.TxHash[:], op.Index); err != nil {
			return fmt.Errorf("store: remove unspent output: %w", err)
		}
		if _, err := dbTx.Exec(ctx, `DELETE FROM pending_spent_outputs WHERE tx_hash=$1 AND index=$2`, op.TxHash[:], op.Index); err != nil {
			return fmt.Errorf("store: remove pending-spent output: %w", err)
		}
	}
	for _, h := range allHashes {
		if _, err := dbTx.Exec(ctx, `DELETE FROM pending_transactions WHERE tx_hash=$1`, h[:]); err != nil {
			return fmt.Errorf("store: remove pending transaction: %w", err)
		}
	}

	if err := dbTx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// DeleteBlocks implements Store.
func (s *PostgresStore) DeleteBlocks(ctx context.Context, idGreaterThan int64) error {
	dbTx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer dbTx.Rollback(ctx)

	var oldTipID int64
	var oldTipHash []byte
	err = dbTx.QueryRow(ctx, `SELECT id, hash FROM blocks WHERE id > $1 ORDER BY id DESC LIMIT 1`, idGreaterThan).
		Scan(&oldTipID, &oldTipHash)
	if err == pgx.ErrNoRows {
		return nil // nothing to roll back
	}
	if err != nil {
		return fmt.Errorf("store: load old tip: %w", err)
	}
	var newTipHash []byte
	if err := dbTx.QueryRow(ctx, `SELECT hash FROM blocks WHERE id = $1`, idGreaterThan).Scan(&newTipHash); err != nil && err != pgx.ErrNoRows {
		return fmt.Errorf("store: load new tip: %w", err)
	}
	if _, err := dbTx.Exec(ctx, `INSERT INTO reorg_events (id, old_tip_id, new_tip_id, old_tip_hash, new_tip_hash, occurred_at)
		VALUES ($1,$2,$3,$4,$5,$6)`, uuid.NewString(), oldTipID, idGreaterThan, oldTipHash, newTipHash, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: record reorg event: %w", err)
	}

	rows, err := dbTx.Query(ctx, `SELECT hash, tx_hash, tx_hex FROM transactions tr
		JOIN blocks b ON b.hash = tr.block_hash WHERE b.id > $1`, idGreaterThan)
	if err != nil {
		return fmt.Errorf("store: select removed transactions: %w", err)
	}
	type removed struct {
		blockHash []byte
		txHash    []byte
		txHex     string
	}
	var removedTxs []removed
	for rows.Next() {
		var r removed
		if err := rows.Scan(&r.blockHash, &r.txHash, &r.txHex); err != nil {
			rows.Close()
			return fmt.Errorf("store: scan removed transaction: %w", err)
		}
		removedTxs = append(removedTxs, r)
	}
	rows.Close()

	for _, r := range removedTxs {
		raw, err := hex.DecodeString(r.txHex)
		if err != nil {
			continue
		}
		tx, err := wire.DecodeTransaction(raw)
		if err != nil || tx.Coinbase {
			continue
		}
		for _, in := range tx.Inputs {
			addr, _ := txAddressByOutpointCommitted(ctx, dbTx, in.Outpoint())
			if addr == "" {
				continue
			}
			if _, err := dbTx.Exec(ctx, `INSERT INTO unspent_outputs (tx_hash, index, address) VALUES ($1,$2,$3)
				ON CONFLICT (tx_hash, index) DO NOTHING`, in.TxHash[:], in.Index, addr); err != nil {
				return fmt.Errorf("store: restore unspent output: %w", err)
			}
		}
		if _, err := dbTx.Exec(ctx, `INSERT INTO pending_transactions (tx_hash, tx_hex, inputs_addresses, fees)
			VALUES ($1,$2,'{}',0) ON CONFLICT (tx_hash) DO NOTHING`, r.txHash, r.txHex); err != nil {
			return fmt.Errorf("store: re-admit pending transaction: %w", err)
		}
	}

	if _, err := dbTx.Exec(ctx, `DELETE FROM blocks WHERE id > $1`, idGreaterThan); err != nil {
		return fmt.Errorf("store: delete blocks: %w", err)
	}

	if err := dbTx.Commit(ctx); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func txAddressByOutpointCommitted(ctx context.Context, tx pgx.Tx, op wire.Outpoint) (string, error) {
	var addr string
	err := tx.QueryRow(ctx, `SELECT outputs_addresses[$2+1] FROM transactions WHERE tx_hash=$1`, op.TxHash[:], op.Index).Scan(&addr)
	if err == pgx.ErrNoRows {
		return "", nil
	}
	return addr, err
}

// GetLastBlock implements Store.
func (s *PostgresStore) GetLastBlock(ctx context.Context) (Block, error) {
	return s.scanBlockRow(ctx, `SELECT id, hash, content, address, random, difficulty, reward, timestamp
		FROM blocks ORDER BY id DESC LIMIT 1`)
}

// GetBlockByID implements Store.
func (s *PostgresStore) GetBlockByID(ctx context.Context, id int64) (Block, error) {
	return s.scanBlockRow(ctx, `SELECT id, hash, content, address, random, difficulty, reward, timestamp
		FROM blocks WHERE id=$1`, id)
}

// GetBlockByHash implements Store.
func (s *PostgresStore) GetBlockByHash(ctx context.Context, hash chainhash.Hash) (Block, error) {
	return s.scanBlockRow(ctx, `SELECT id, hash, content, address, random, difficulty, reward, timestamp
		FROM blocks WHERE hash=$1`, hash[:])
}

func (s *PostgresStore) scanBlockRow(ctx context.Context, query string, args ...any) (Block, error) {
	var b Block
	var hashBytes, contentBytes []byte
	var random int64
	row := s.pool.QueryRow(ctx, query, args...)
	err := row.Scan(&b.ID, &hashBytes, &contentBytes, &b.Address, &random, &b.Difficulty, &b.Reward, &b.Timestamp)
	if err == pgx.ErrNoRows {
		return Block{}, ErrNotFound
	}
	if err != nil {
		return Block{}, fmt.Errorf("store: scan block: %w", err)
	}
	copy(b.Hash[:], hashBytes)
	b.Content = contentBytes
	b.Random = uint32(random)
	return b, nil
}

// GetBlocksRange implements Store.
func (s *PostgresStore) GetBlocksRange(ctx context.Context, offset, limit int64) ([]Block, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, hash, content, address, random, difficulty, reward, timestamp
		FROM blocks WHERE id >= $1 ORDER BY id ASC LIMIT $2`, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query blocks range: %w", err)
	}
	defer rows.Close()

	var out []Block
	for rows.Next() {
		var b Block
		var hashBytes, contentBytes []byte
		var random int64
		if err := rows.Scan(&b.ID, &hashBytes, &contentBytes, &b.Address, &random, &b.Difficulty, &b.Reward, &b.Timestamp); err != nil {
			return nil, fmt.Errorf("store: scan block: %w", err)
		}
		copy(b.Hash[:], hashBytes)
		b.Content = contentBytes
		b.Random = uint32(random)
		out = append(out, b)
	}
	return out, nil
}

// GetBlockTransactions implements Store.
func (s *PostgresStore) GetBlockTransactions(ctx context.Context, hash chainhash.Hash) ([]*wire.Transaction, error) {
	rows, err := s.pool.Query(ctx, `SELECT tx_hex FROM transactions WHERE block_hash=$1`, hash[:])
	if err != nil {
		return nil, fmt.Errorf("store: query block transactions: %w", err)
	}
	defer rows.Close()

	var out []*wire.Transaction
	for rows.Next() {
		var hexStr string
		if err := rows.Scan(&hexStr); err != nil {
			return nil, fmt.Errorf("store: scan transaction: %w", err)
		}
		raw, err := hex.DecodeString(hexStr)
		if err != nil {
			return nil, fmt.Errorf("store: decode transaction hex: %w", err)
		}
		tx, err := wire.DecodeTransaction(raw)
		if err != nil {
			return nil, fmt.Errorf("store: decode transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, nil
}

// GetTransaction implements Store.
func (s *PostgresStore) GetTransaction(ctx context.Context, hash chainhash.Hash) (*wire.Transaction, chainhash.Hash, error) {
	var hexStr string
	var blockHashBytes []byte
	err := s.pool.QueryRow(ctx, `SELECT tx_hex, block_hash FROM transactions WHERE tx_hash=$1`, hash[:]).Scan(&hexStr, &blockHashBytes)
	if err == pgx.ErrNoRows {
		err = s.pool.QueryRow(ctx, `SELECT tx_hex FROM pending_transactions WHERE tx_hash=$1`, hash[:]).Scan(&hexStr)
		if err == pgx.ErrNoRows {
			return nil, chainhash.Hash{}, ErrNotFound
		}
		if err != nil {
			return nil, chainhash.Hash{}, fmt.Errorf("store: query pending transaction: %w", err)
		}
		raw, decErr := hex.DecodeString(hexStr)
		if decErr != nil {
			return nil, chainhash.Hash{}, fmt.Errorf("store: decode transaction hex: %w", decErr)
		}
		tx, decErr := wire.DecodeTransaction(raw)
		if decErr != nil {
			return nil, chainhash.Hash{}, fmt.Errorf("store: decode transaction: %w", decErr)
		}
		return tx, chainhash.Hash{}, nil
	}
	if err != nil {
		return nil, chainhash.Hash{}, fmt.Errorf("store: query transaction: %w", err)
	}
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, chainhash.Hash{}, fmt.Errorf("store: decode transaction hex: %w", err)
	}
	tx, err := wire.DecodeTransaction(raw)
	if err != nil {
		return nil, chainhash.Hash{}, fmt.Errorf("store: decode transaction: %w", err)
	}
	var blockHash chainhash.Hash
	copy(blockHash[:], blockHashBytes)
	return tx, blockHash, nil
}

// GetUnspentOutputs implements Store.
func (s *PostgresStore) GetUnspentOutputs(ctx context.Context, outpoints []wire.Outpoint) ([]wire.Outpoint, error) {
	var out []wire.Outpoint
	for _, op := range outpoints {
		var exists bool
		err := s.pool.QueryRow(ctx, `SELECT true FROM unspent_outputs WHERE tx_hash=$1 AND index=$2`, op.TxHash[:], op.Index).Scan(&exists)
		if err == pgx.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("store: query unspent output: %w", err)
		}
		out = append(out, op)
	}
	return out, nil
}

// GetOutput implements Store.
func (s *PostgresStore) GetOutput(ctx context.Context, op wire.Outpoint) (wire.TransactionOutput, string, error) {
	var addr string
	var amount int64
	err := s.pool.QueryRow(ctx, `SELECT outputs_addresses[$2+1], outputs_amounts[$2+1] FROM transactions WHERE tx_hash=$1`,
		op.TxHash[:], op.Index).Scan(&addr, &amount)
	if err == pgx.ErrNoRows {
		return wire.TransactionOutput{}, "", ErrNotFound
	}
	if err != nil {
		return wire.TransactionOutput{}, "", fmt.Errorf("store: query output: %w", err)
	}
	point, err := addressToPoint(addr)
	if err != nil {
		return wire.TransactionOutput{}, "", fmt.Errorf("store: parse output address: %w", err)
	}
	return wire.TransactionOutput{Address: point, Amount: uint64(amount)}, addr, nil
}

// GetSpendableOutputs implements Store.
func (s *PostgresStore) GetSpendableOutputs(ctx context.Context, address string) ([]SpendableOutput, error) {
	rows, err := s.pool.Query(ctx, `SELECT u.tx_hash, u.index, t.outputs_amounts[u.index+1]
		FROM unspent_outputs u JOIN transactions t ON t.tx_hash = u.tx_hash WHERE u.address=$1`, address)
	if err != nil {
		return nil, fmt.Errorf("store: query spendable outputs: %w", err)
	}
	defer rows.Close()

	var out []SpendableOutput
	for rows.Next() {
		var hashBytes []byte
		var index int
		var amount int64
		if err := rows.Scan(&hashBytes, &index, &amount); err != nil {
			return nil, fmt.Errorf("store: scan spendable output: %w", err)
		}
		var so SpendableOutput
		copy(so.TxHash[:], hashBytes)
		so.Index = uint8(index)
		so.Amount = uint64(amount)
		out = append(out, so)
	}
	return out, nil
}

// GetUnspentOutputsHash implements Store.
func (s *PostgresStore) GetUnspentOutputsHash(ctx context.Context) (string, error) {
	rows, err := s.pool.Query(ctx, `SELECT tx_hash, index FROM unspent_outputs ORDER BY tx_hash, index`)
	if err != nil {
		return "", fmt.Errorf("store: query unspent outputs: %w", err)
	}
	defer rows.Close()

	hasher := newOutpointHasher()
	for rows.Next() {
		var hashBytes []byte
		var index int
		if err := rows.Scan(&hashBytes, &index); err != nil {
			return "", fmt.Errorf("store: scan unspent output: %w", err)
		}
		hasher.add(hashBytes, uint8(index))
	}
	return hasher.sum(), nil
}

// AddPendingTransaction implements Store.
func (s *PostgresStore) AddPendingTransaction(ctx context.Context, tx *wire.Transaction) error {
	enc, err := tx.Encode()
	if err != nil {
		return fmt.Errorf("store: encode pending transaction: %w", err)
	}
	hash, err := tx.Hash()
	if err != nil {
		return fmt.Errorf("store: hash pending transaction: %w", err)
	}

	inAddrs := make([]string, len(tx.Inputs))
	var inputAmount uint64
	for i, in := range tx.Inputs {
		out, addr, err := s.GetOutput(ctx, in.Outpoint())
		if err != nil {
			return fmt.Errorf("store: resolve pending input: %w", err)
		}
		inAddrs[i] = addr
		inputAmount += out.Amount
	}
	fee, err := tx.Fee(inputAmount)
	if err != nil {
		return fmt.Errorf("store: pending transaction fee: %w", err)
	}

	_, err = s.pool.Exec(ctx, `INSERT INTO pending_transactions (tx_hash, tx_hex, inputs_addresses, fees)
		VALUES ($1,$2,$3,$4)`, hash[:], hex.EncodeToString(enc), inAddrs, int64(fee))
	if err != nil {
		return fmt.Errorf("store: insert pending transaction: %w", err)
	}

	for _, in := range tx.Inputs {
		if _, err := s.pool.Exec(ctx, `INSERT INTO pending_spent_outputs (tx_hash, index) VALUES ($1,$2)
			ON CONFLICT DO NOTHING`, in.TxHash[:], in.Index); err != nil {
			return fmt.Errorf("store: insert pending-spent output: %w", err)
		}
	}
	return nil
}

// RemovePendingTransaction implements Store.
func (s *PostgresStore) RemovePendingTransaction(ctx context.Context, hash chainhash.Hash) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM pending_transactions WHERE tx_hash=$1`, hash[:])
	if err != nil {
		return fmt.Errorf("store: remove pending transaction: %w", err)
	}
	return nil
}

// RemovePendingTransactions implements Store.
func (s *PostgresStore) RemovePendingTransactions(ctx context.Context, hashes []chainhash.Hash) error {
	for _, h := range hashes {
		if err := s.RemovePendingTransaction(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

// GetPendingTransactions implements Store.
func (s *PostgresStore) GetPendingTransactions(ctx context.Context, limit int) ([]*wire.Transaction, error) {
	rows, err := s.pool.Query(ctx, `SELECT tx_hex FROM pending_transactions
		ORDER BY fees::numeric / length(tx_hex) DESC, length(tx_hex) ASC, tx_hex ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: query pending transactions: %w", err)
	}
	defer rows.Close()

	var out []*wire.Transaction
	for rows.Next() {
		var hexStr string
		if err := rows.Scan(&hexStr); err != nil {
			return nil, fmt.Errorf("store: scan pending transaction: %w", err)
		}
		raw, err := hex.DecodeString(hexStr)
		if err != nil {
			continue
		}
		tx, err := wire.DecodeTransaction(raw)
		if err != nil {
			continue
		}
		out = append(out, tx)
	}
	return out, nil
}

// GetPendingSpentOutputs implements Store.
func (s *PostgresStore) GetPendingSpentOutputs(ctx context.Context, outpoints []wire.Outpoint) ([]wire.Outpoint, error) {
	var out []wire.Outpoint
	for _, op := range outpoints {
		var exists bool
		err := s.pool.QueryRow(ctx, `SELECT true FROM pending_spent_outputs WHERE tx_hash=$1 AND index=$2`, op.TxHash[:], op.Index).Scan(&exists)
		if err == pgx.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("store: query pending-spent output: %w", err)
		}
		out = append(out, op)
	}
	return out, nil
}

// GetTransactionHashByContainsMultiOutpoint implements Store.
func (s *PostgresStore) GetTransactionHashByContainsMultiOutpoint(ctx context.Context, outpoints []wire.Outpoint) (chainhash.Hash, bool, error) {
	for _, op := range outpoints {
		needle := hex.EncodeToString(op.TxHash[:]) + fmt.Sprintf("%02x", op.Index)
		var hashBytes []byte
		err := s.pool.QueryRow(ctx, `SELECT tx_hash FROM transactions WHERE tx_hex LIKE '%' || $1 || '%' LIMIT 1`, needle).Scan(&hashBytes)
		if err == pgx.ErrNoRows {
			continue
		}
		if err != nil {
			return chainhash.Hash{}, false, fmt.Errorf("store: legacy contains lookup: %w", err)
		}
		var h chainhash.Hash
		copy(h[:], hashBytes)
		return h, true, nil
	}
	return chainhash.Hash{}, false, nil
}
