package api

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/gin-gonic/gin"

	"github.com/rawblock/denaro-node/internal/consensus"
	"github.com/rawblock/denaro-node/internal/cryptoprim"
	"github.com/rawblock/denaro-node/internal/mempool"
	"github.com/rawblock/denaro-node/internal/peer"
	"github.com/rawblock/denaro-node/internal/pipeline"
	"github.com/rawblock/denaro-node/internal/store"
	"github.com/rawblock/denaro-node/internal/wire"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T) (*gin.Engine, store.Store, *pipeline.Pipeline) {
	t.Helper()
	s := store.NewMemoryStore()
	p := pipeline.New(s)
	p.Now = func() time.Time { return time.Unix(2_000_000_000, 0) }
	mp := mempool.New(s)
	reg := peer.NewRegistry()
	client := peer.NewClient("https://self.invalid")
	g := peer.NewGossiper(reg, client, 10, 5)
	syncer := peer.NewSyncer(reg, client, p, s, mp)
	wsHub := NewHub()
	go wsHub.Run()
	return SetupRouter(s, p, mp, reg, g, syncer, wsHub), s, p
}

func decodeEnvelope(t *testing.T, body []byte) (bool, json.RawMessage) {
	t.Helper()
	var env struct {
		OK     bool            `json:"ok"`
		Result json.RawMessage `json:"result"`
		Error  string          `json:"error"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		t.Fatalf("unmarshal envelope: %v; body=%s", err, body)
	}
	return env.OK, env.Result
}

func commitGenesis(t *testing.T, p *pipeline.Pipeline, minerKey int64) []byte {
	t.Helper()
	miner := cryptoprim.PublicKeyFromPrivate(big.NewInt(minerKey))
	merkle, err := consensus.MerkleRootForBlock(1, nil)
	if err != nil {
		t.Fatalf("MerkleRootForBlock: %v", err)
	}
	header := wire.BlockHeader{
		Address:       miner,
		Timestamp:     1_700_000_000,
		DifficultyX10: uint16(consensus.StartDifficulty * 10),
	}
	mb, err := hex.DecodeString(merkle)
	if err != nil {
		t.Fatalf("decode merkle: %v", err)
	}
	copy(header.MerkleRoot[:], mb)
	content := wire.BuildHeaderBytes(header, false)
	if _, err := p.Commit(context.Background(), pipeline.Submission{Content: content}); err != nil {
		t.Fatalf("commit genesis: %v", err)
	}
	return content
}

func TestGetMiningInfoReflectsChainTip(t *testing.T) {
	r, _, p := newTestRouter(t)
	commitGenesis(t, p, 1)

	req := httptest.NewRequest(http.MethodGet, "/get_mining_info", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", w.Code, w.Body.String())
	}
	ok, result := decodeEnvelope(t, w.Body.Bytes())
	if !ok {
		t.Fatalf("expected ok=true, got body=%s", w.Body.String())
	}
	var info struct {
		LastBlock struct {
			ID int64 `json:"id"`
		} `json:"lastBlock"`
	}
	if err := json.Unmarshal(result, &info); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if info.LastBlock.ID != 1 {
		t.Fatalf("expected lastBlock.id=1, got %d", info.LastBlock.ID)
	}
}

func TestGetBlockAndGetBlocksRoundTrip(t *testing.T) {
	r, _, p := newTestRouter(t)
	content := commitGenesis(t, p, 1)

	req := httptest.NewRequest(http.MethodGet, "/get_block?block=1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	ok, result := decodeEnvelope(t, w.Body.Bytes())
	if !ok {
		t.Fatalf("expected ok=true, got %s", w.Body.String())
	}
	var env blockEnvelope
	if err := json.Unmarshal(result, &env); err != nil {
		t.Fatalf("unmarshal block envelope: %v", err)
	}
	if env.Block.Content != hex.EncodeToString(content) {
		t.Fatalf("get_block content mismatch")
	}

	req2 := httptest.NewRequest(http.MethodGet, "/get_blocks?offset=1&limit=10", nil)
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req2)
	ok2, result2 := decodeEnvelope(t, w2.Body.Bytes())
	if !ok2 {
		t.Fatalf("expected ok=true, got %s", w2.Body.String())
	}
	var envs []blockEnvelope
	if err := json.Unmarshal(result2, &envs); err != nil {
		t.Fatalf("unmarshal block envelopes: %v", err)
	}
	if len(envs) != 1 || envs[0].Block.ID != 1 {
		t.Fatalf("expected one block with id 1, got %+v", envs)
	}
}

func TestPushTxRejectsDuplicateWithinDedupWindow(t *testing.T) {
	r, s, p := newTestRouter(t)
	commitGenesis(t, p, 1)

	last, err := s.GetLastBlock(context.Background())
	if err != nil {
		t.Fatalf("GetLastBlock: %v", err)
	}
	coinbaseTxs, err := s.GetBlockTransactions(context.Background(), last.Hash)
	if err != nil {
		t.Fatalf("GetBlockTransactions: %v", err)
	}
	coinbase := coinbaseTxs[0]

	spender := cryptoprim.PublicKeyFromPrivate(big.NewInt(2))
	tx := &wire.Transaction{
		Version: wire.VersionFullHex,
		Inputs: []wire.TransactionInput{{
			TxHash:     mustCoinbaseHash(t, coinbase),
			Index:      0,
			PrivateKey: big.NewInt(1),
		}},
		Outputs: []wire.TransactionOutput{{Address: spender, Amount: coinbase.Outputs[0].Amount}},
	}
	if err := tx.Sign(); err != nil {
		t.Fatalf("sign: %v", err)
	}
	enc, err := tx.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	txHex := hex.EncodeToString(enc)

	form := url.Values{"tx_hex": {txHex}}
	req := httptest.NewRequest(http.MethodGet, "/push_tx?"+form.Encode(), nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	ok, _ := decodeEnvelope(t, w.Body.Bytes())
	if !ok {
		t.Fatalf("expected first push_tx to be accepted, got %s", w.Body.String())
	}

	req2 := httptest.NewRequest(http.MethodGet, "/push_tx?"+form.Encode(), nil)
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req2)
	ok2, result2 := decodeEnvelope(t, w2.Body.Bytes())
	if !ok2 {
		t.Fatalf("expected duplicate resubmission to still be ok=true, got %s", w2.Body.String())
	}
	var dup struct {
		Duplicate bool `json:"duplicate"`
	}
	if err := json.Unmarshal(result2, &dup); err != nil || !dup.Duplicate {
		t.Fatalf("expected duplicate=true on resubmission, got %s", result2)
	}
}

func mustCoinbaseHash(t *testing.T, tx *wire.Transaction) chainhash.Hash {
	t.Helper()
	h, err := tx.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return h
}

func TestAddNodeAndGetNodes(t *testing.T) {
	r, _, _ := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/add_node?url=https://peer.example", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if ok, _ := decodeEnvelope(t, w.Body.Bytes()); !ok {
		t.Fatalf("add_node failed: %s", w.Body.String())
	}

	req2 := httptest.NewRequest(http.MethodGet, "/get_nodes", nil)
	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req2)
	ok2, result2 := decodeEnvelope(t, w2.Body.Bytes())
	if !ok2 {
		t.Fatalf("get_nodes failed: %s", w2.Body.String())
	}
	var nodes []struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(result2, &nodes); err != nil {
		t.Fatalf("unmarshal nodes: %v", err)
	}
	if len(nodes) != 1 || nodes[0].URL != "https://peer.example" {
		t.Fatalf("expected one registered peer, got %+v", nodes)
	}
}
