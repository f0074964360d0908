package mempool

import (
	"context"
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/rawblock/denaro-node/internal/cryptoprim"
	"github.com/rawblock/denaro-node/internal/store"
	"github.com/rawblock/denaro-node/internal/wire"
)

func point(t *testing.T, k int64) cryptoprim.Point {
	t.Helper()
	return cryptoprim.PublicKeyFromPrivate(big.NewInt(k))
}

func seedCoinbase(t *testing.T, s store.Store, miner cryptoprim.Point, amount uint64) chainhash.Hash {
	t.Helper()
	cb := wire.NewCoinbaseTransaction(wire.VersionFullHex, chainhash.Hash{1}, miner, amount)
	hash, err := cb.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if err := s.AddBlock(context.Background(), store.Block{ID: 1, Hash: chainhash.Hash{1}}, []*wire.Transaction{cb}, nil); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}
	return hash
}

func TestAdmitAcceptsValidTransaction(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	mp := New(s)

	miner := point(t, 1)
	cbHash := seedCoinbase(t, s, miner, 100_000_000)

	spend := &wire.Transaction{
		Version: wire.VersionFullHex,
		Inputs:  []wire.TransactionInput{{TxHash: cbHash, Index: 0, PrivateKey: big.NewInt(1)}},
		Outputs: []wire.TransactionOutput{{Address: point(t, 2), Amount: 90_000_000}},
	}
	if err := spend.Sign(); err != nil {
		t.Fatalf("Sign: %v", err)
	}

	if err := mp.Admit(ctx, spend); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	pending, err := s.GetPendingTransactions(ctx, 10)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected 1 pending transaction, got %v err %v", pending, err)
	}
}

func TestAdmitRejectsDoubleSpendAgainstPending(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	mp := New(s)

	miner := point(t, 1)
	cbHash := seedCoinbase(t, s, miner, 100_000_000)

	spend1 := &wire.Transaction{
		Version: wire.VersionFullHex,
		Inputs:  []wire.TransactionInput{{TxHash: cbHash, Index: 0, PrivateKey: big.NewInt(1)}},
		Outputs: []wire.TransactionOutput{{Address: point(t, 2), Amount: 90_000_000}},
	}
	if err := spend1.Sign(); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := mp.Admit(ctx, spend1); err != nil {
		t.Fatalf("Admit spend1: %v", err)
	}

	spend2 := &wire.Transaction{
		Version: wire.VersionFullHex,
		Inputs:  []wire.TransactionInput{{TxHash: cbHash, Index: 0, PrivateKey: big.NewInt(1)}},
		Outputs: []wire.TransactionOutput{{Address: point(t, 3), Amount: 50_000_000}},
	}
	if err := spend2.Sign(); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := mp.Admit(ctx, spend2); err != ErrDoubleSpend {
		t.Fatalf("expected ErrDoubleSpend, got %v", err)
	}
}

func TestAdmitRejectsAlreadyCommittedTransaction(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	mp := New(s)

	miner := point(t, 1)
	cbHash := seedCoinbase(t, s, miner, 100_000_000)

	spend := &wire.Transaction{
		Version: wire.VersionFullHex,
		Inputs:  []wire.TransactionInput{{TxHash: cbHash, Index: 0, PrivateKey: big.NewInt(1)}},
		Outputs: []wire.TransactionOutput{{Address: point(t, 2), Amount: 90_000_000}},
	}
	if err := spend.Sign(); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	spendOutpoint := wire.Outpoint{TxHash: cbHash, Index: 0}
	if err := s.AddBlock(ctx, store.Block{ID: 2, Hash: chainhash.Hash{2}}, []*wire.Transaction{spend}, []wire.Outpoint{spendOutpoint}); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}

	if err := mp.Admit(ctx, spend); err != ErrConflict {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestSelectReturnsAdmittedTransaction(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	mp := New(s)

	miner := point(t, 1)
	cb := wire.NewCoinbaseTransaction(wire.VersionFullHex, chainhash.Hash{1}, miner, 200_000_000)
	cbHash, err := cb.Hash()
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if err := s.AddBlock(ctx, store.Block{ID: 1, Hash: chainhash.Hash{1}}, []*wire.Transaction{cb}, nil); err != nil {
		t.Fatalf("AddBlock: %v", err)
	}

	lowFee := &wire.Transaction{
		Version: wire.VersionFullHex,
		Inputs:  []wire.TransactionInput{{TxHash: cbHash, Index: 0, PrivateKey: big.NewInt(1)}},
		Outputs: []wire.TransactionOutput{{Address: point(t, 2), Amount: 199_999_000}},
	}
	if err := lowFee.Sign(); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if err := mp.Admit(ctx, lowFee); err != nil {
		t.Fatalf("Admit: %v", err)
	}

	selected, err := mp.Select(ctx, 1<<20)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(selected) != 1 {
		t.Fatalf("expected 1 selected transaction, got %d", len(selected))
	}
}
