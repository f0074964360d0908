package pipeline

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"math/big"
	"testing"
	"time"

	"github.com/rawblock/denaro-node/internal/consensus"
	"github.com/rawblock/denaro-node/internal/cryptoprim"
	"github.com/rawblock/denaro-node/internal/store"
	"github.com/rawblock/denaro-node/internal/wire"
)

func point(t *testing.T, k int64) cryptoprim.Point {
	t.Helper()
	return cryptoprim.PublicKeyFromPrivate(big.NewInt(k))
}

func mustHexBytes(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("decode hex: %v", err)
	}
	return b
}

func genesisHeader(t *testing.T, miner cryptoprim.Point, ts uint32) wire.BlockHeader {
	t.Helper()
	merkle, err := consensus.MerkleRootForBlock(1, nil)
	if err != nil {
		t.Fatalf("MerkleRootForBlock: %v", err)
	}
	h := wire.BlockHeader{
		Address:       miner,
		Timestamp:     ts,
		DifficultyX10: uint16(consensus.StartDifficulty * 10),
	}
	copy(h.MerkleRoot[:], mustHexBytes(t, merkle))
	return h
}

// mineContent searches the header's nonce (its last 4 bytes,
// little-endian) until its content hash meets the start-difficulty
// proof-of-work target for extending prev.
func mineContent(t *testing.T, h wire.BlockHeader, prev store.Block) []byte {
	t.Helper()
	content := wire.BuildHeaderBytes(h, false)
	prevHex := hex.EncodeToString(prev.Hash[:])
	for nonce := uint64(0); nonce < 1<<32; nonce++ {
		binary.LittleEndian.PutUint32(content[len(content)-4:], uint32(nonce))
		if consensus.CheckProofOfWork(consensus.StartDifficulty, prevHex, cryptoprim.Sha256Hex(content)) {
			return content
		}
	}
	t.Fatalf("no nonce meets the proof-of-work target")
	return nil
}

func TestCommitGenesisBlock(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	p := New(s)
	p.Now = func() time.Time { return time.Unix(2_000_000_000, 0) }

	miner := point(t, 1)
	header := genesisHeader(t, miner, 1_700_000_000)
	content := wire.BuildHeaderBytes(header, false)

	id, err := p.Commit(ctx, Submission{Content: content})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if id != 1 {
		t.Fatalf("expected block id 1, got %d", id)
	}

	last, err := s.GetLastBlock(ctx)
	if err != nil {
		t.Fatalf("GetLastBlock: %v", err)
	}
	if last.Reward != 100_000_000 {
		t.Fatalf("expected 100-unit coinbase reward in smallest units, got %d", last.Reward)
	}
}

func TestCommitRejectsBadDifficulty(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	p := New(s)
	p.Now = func() time.Time { return time.Unix(2_000_000_000, 0) }

	header := genesisHeader(t, point(t, 1), 1_700_000_000)
	header.DifficultyX10 = uint16(consensus.StartDifficulty*10) + 1
	content := wire.BuildHeaderBytes(header, false)

	if _, err := p.Commit(ctx, Submission{Content: content}); err != ErrBadDifficulty {
		t.Fatalf("expected ErrBadDifficulty, got %v", err)
	}
}

func TestCommitRejectsBadMerkleRoot(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	p := New(s)
	p.Now = func() time.Time { return time.Unix(2_000_000_000, 0) }

	header := genesisHeader(t, point(t, 1), 1_700_000_000)
	header.MerkleRoot[0] ^= 0xff
	content := wire.BuildHeaderBytes(header, false)

	if _, err := p.Commit(ctx, Submission{Content: content}); err != ErrBadMerkleRoot {
		t.Fatalf("expected ErrBadMerkleRoot, got %v", err)
	}
}

func TestCommitRejectsFutureTimestamp(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	p := New(s)
	p.Now = func() time.Time { return time.Unix(1_000_000_000, 0) }

	header := genesisHeader(t, point(t, 1), 1_700_000_000)
	content := wire.BuildHeaderBytes(header, false)

	if _, err := p.Commit(ctx, Submission{Content: content}); err != ErrFutureTimestamp {
		t.Fatalf("expected ErrFutureTimestamp, got %v", err)
	}
}

func TestCommitRejectsStaleTimestamp(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	p := New(s)
	p.Now = func() time.Time { return time.Unix(2_000_000_000, 0) }

	miner := point(t, 1)
	header := genesisHeader(t, miner, 1_700_000_000)
	content := wire.BuildHeaderBytes(header, false)
	if _, err := p.Commit(ctx, Submission{Content: content}); err != nil {
		t.Fatalf("Commit genesis: %v", err)
	}

	last, err := s.GetLastBlock(ctx)
	if err != nil {
		t.Fatalf("GetLastBlock: %v", err)
	}

	merkle2, err := consensus.MerkleRootForBlock(2, nil)
	if err != nil {
		t.Fatalf("MerkleRootForBlock: %v", err)
	}
	header2 := wire.BlockHeader{
		PreviousHash:  last.Hash,
		Address:       miner,
		Timestamp:     1_700_000_000,
		DifficultyX10: uint16(consensus.StartDifficulty * 10),
	}
	copy(header2.MerkleRoot[:], mustHexBytes(t, merkle2))
	content2 := mineContent(t, header2, last)

	if _, err := p.Commit(ctx, Submission{Content: content2}); err != ErrStaleTimestamp {
		t.Fatalf("expected ErrStaleTimestamp, got %v", err)
	}
}

func TestCommitRejectsOversizedBlock(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	p := New(s)
	p.Now = func() time.Time { return time.Unix(2_000_000_000, 0) }

	header := genesisHeader(t, point(t, 1), 1_700_000_000)
	content := wire.BuildHeaderBytes(header, false)

	huge := &wire.Transaction{
		Version: wire.VersionFullHex,
		Message: make([]byte, MaxBlockSizeHex),
	}

	if _, err := p.Commit(ctx, Submission{Content: content, Transactions: []*wire.Transaction{huge}}); err != ErrBlockTooLarge {
		t.Fatalf("expected ErrBlockTooLarge, got %v", err)
	}
}

func TestCommitSpendChainAndRejectsDoubleSpend(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	p := New(s)
	p.Now = func() time.Time { return time.Unix(2_000_000_000, 0) }

	miner := point(t, 1)
	header := genesisHeader(t, miner, 1_700_000_000)
	content := wire.BuildHeaderBytes(header, false)
	if _, err := p.Commit(ctx, Submission{Content: content}); err != nil {
		t.Fatalf("Commit genesis: %v", err)
	}

	last, err := s.GetLastBlock(ctx)
	if err != nil {
		t.Fatalf("GetLastBlock: %v", err)
	}
	txs, err := s.GetBlockTransactions(ctx, last.Hash)
	if err != nil || len(txs) != 1 {
		t.Fatalf("expected 1 coinbase transaction in genesis block, got %v err %v", txs, err)
	}
	cbHash, err := txs[0].Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}

	spend := &wire.Transaction{
		Version: wire.VersionFullHex,
		Inputs:  []wire.TransactionInput{{TxHash: cbHash, Index: 0, PrivateKey: big.NewInt(1)}},
		Outputs: []wire.TransactionOutput{{Address: point(t, 2), Amount: 90_000_000}},
	}
	if err := spend.Sign(); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	merkle2, err := consensus.MerkleRootForBlock(2, []*wire.Transaction{spend})
	if err != nil {
		t.Fatalf("MerkleRootForBlock: %v", err)
	}
	header2 := wire.BlockHeader{
		PreviousHash:  last.Hash,
		Address:       miner,
		Timestamp:     1_700_000_100,
		DifficultyX10: uint16(consensus.StartDifficulty * 10),
	}
	copy(header2.MerkleRoot[:], mustHexBytes(t, merkle2))
	content2 := mineContent(t, header2, last)

	if _, err := p.Commit(ctx, Submission{Content: content2, Transactions: []*wire.Transaction{spend}}); err != nil {
		t.Fatalf("Commit spend block: %v", err)
	}

	hash, err := s.GetUnspentOutputsHash(ctx)
	if err != nil {
		t.Fatalf("GetUnspentOutputsHash: %v", err)
	}
	if hash == "" {
		t.Fatalf("expected non-empty unspent-set digest")
	}

	doubleSpend := &wire.Transaction{
		Version: wire.VersionFullHex,
		Inputs:  []wire.TransactionInput{{TxHash: cbHash, Index: 0, PrivateKey: big.NewInt(1)}},
		Outputs: []wire.TransactionOutput{{Address: point(t, 3), Amount: 1_000_000}},
	}
	if err := doubleSpend.Sign(); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	merkle3, err := consensus.MerkleRootForBlock(3, []*wire.Transaction{doubleSpend})
	if err != nil {
		t.Fatalf("MerkleRootForBlock: %v", err)
	}
	last2, err := s.GetLastBlock(ctx)
	if err != nil {
		t.Fatalf("GetLastBlock: %v", err)
	}
	header3 := wire.BlockHeader{
		PreviousHash:  last2.Hash,
		Address:       miner,
		Timestamp:     1_700_000_200,
		DifficultyX10: uint16(consensus.StartDifficulty * 10),
	}
	copy(header3.MerkleRoot[:], mustHexBytes(t, merkle3))
	content3 := mineContent(t, header3, last2)

	if _, err := p.Commit(ctx, Submission{Content: content3, Transactions: []*wire.Transaction{doubleSpend}}); err != ErrDoubleSpend {
		t.Fatalf("expected ErrDoubleSpend, got %v", err)
	}
}
