package peer

import (
	"context"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rawblock/denaro-node/internal/consensus"
	"github.com/rawblock/denaro-node/internal/cryptoprim"
	"github.com/rawblock/denaro-node/internal/mempool"
	"github.com/rawblock/denaro-node/internal/pipeline"
	"github.com/rawblock/denaro-node/internal/store"
	"github.com/rawblock/denaro-node/internal/wire"
)

func genesisContentHex(t *testing.T) string {
	t.Helper()
	miner := cryptoprim.PublicKeyFromPrivate(big.NewInt(1))
	merkle, err := consensus.MerkleRootForBlock(1, nil)
	if err != nil {
		t.Fatalf("MerkleRootForBlock: %v", err)
	}
	header := wire.BlockHeader{
		Address:       miner,
		Timestamp:     1_700_000_000,
		DifficultyX10: uint16(consensus.StartDifficulty * 10),
	}
	copy(header.MerkleRoot[:], mustDecode(t, merkle))
	return hex.EncodeToString(wire.BuildHeaderBytes(header, false))
}

func mustDecode(t *testing.T, s string) []byte {
	t.Helper()
	b, err := hex.DecodeString(s)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	return b
}

func TestSyncerCatchesUpFromEmptyChain(t *testing.T) {
	contentHex := genesisContentHex(t)
	contentBytes := mustDecode(t, contentHex)
	blockHash := cryptoprim.Sha256Hex(contentBytes)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/get_blocks":
			offset := r.URL.Query().Get("offset")
			body := fmt.Sprintf(`{"ok":true,"result":[{"block":{"id":1,"hash":%q,"content":%q},"transactions":[]}]}`, blockHash, contentHex)
			if offset != "1" {
				body = `{"ok":true,"result":[]}`
			}
			w.Write([]byte(body))
		default:
			w.Write([]byte(`{"ok":false,"error":"unhandled"}`))
		}
	}))
	defer srv.Close()

	localStore := store.NewMemoryStore()
	p := pipeline.New(localStore)
	mp := mempool.New(localStore)
	reg := NewRegistry()
	reg.Add(srv.URL)
	client := NewClient("https://self.invalid")
	syncer := NewSyncer(reg, client, p, localStore, mp)

	if err := syncer.Sync(context.Background(), srv.URL); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	last, err := localStore.GetLastBlock(context.Background())
	if err != nil {
		t.Fatalf("GetLastBlock: %v", err)
	}
	if last.ID != 1 {
		t.Fatalf("expected chain tip at block 1, got %d", last.ID)
	}
}

func TestSyncerSingleFlight(t *testing.T) {
	localStore := store.NewMemoryStore()
	p := pipeline.New(localStore)
	mp := mempool.New(localStore)
	reg := NewRegistry()
	client := NewClient("https://self.invalid")
	syncer := NewSyncer(reg, client, p, localStore, mp)

	syncer.mu.Lock()
	syncer.syncing = true
	syncer.mu.Unlock()

	if err := syncer.Sync(context.Background(), "https://peer.invalid"); err != ErrSyncInProgress {
		t.Fatalf("expected ErrSyncInProgress, got %v", err)
	}
}
