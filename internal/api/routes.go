package api

import (
	"context"
	"encoding/hex"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/gin-gonic/gin"

	"github.com/rawblock/denaro-node/internal/consensus"
	"github.com/rawblock/denaro-node/internal/cryptoprim"
	"github.com/rawblock/denaro-node/internal/mempool"
	"github.com/rawblock/denaro-node/internal/peer"
	"github.com/rawblock/denaro-node/internal/pipeline"
	"github.com/rawblock/denaro-node/internal/store"
	"github.com/rawblock/denaro-node/internal/wire"
	"github.com/rawblock/denaro-node/pkg/models"
)

// maxGetBlocksLimit caps a single get_blocks page (spec.md §6).
const maxGetBlocksLimit = 1000

// APIHandler wires the node's RPC surface to the ledger, mempool, and
// peer subsystems, the same dependency-injection shape the teacher's
// APIHandler uses for *db.PostgresStore/*bitcoin.Client.
type APIHandler struct {
	Store    store.Store
	Pipeline *pipeline.Pipeline
	Mempool  *mempool.Mempool
	Registry *peer.Registry
	Gossiper *peer.Gossiper
	Syncer   *peer.Syncer
	wsHub    *Hub

	recentTxHashes *recentHashCache
}

// recentTxCacheCapacity mirrors the original node's `deque(maxlen=100)`.
const recentTxCacheCapacity = 100

// SetupRouter builds the Gin engine: the teacher's CORS middleware and
// route-group/APIHandler-DI pattern, reused verbatim, wired to the
// ledger's denaro RPC surface (spec.md §6) instead of forensics
// endpoints.
func SetupRouter(s store.Store, p *pipeline.Pipeline, mp *mempool.Mempool, reg *peer.Registry, g *peer.Gossiper, syncer *peer.Syncer, wsHub *Hub) *gin.Engine {
	r := gin.Default()

	allowedOrigins := os.Getenv("ALLOWED_ORIGINS")
	r.Use(func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	})

	handler := &APIHandler{
		Store: s, Pipeline: p, Mempool: mp, Registry: reg, Gossiper: g, Syncer: syncer, wsHub: wsHub,
		recentTxHashes: newRecentHashCache(recentTxCacheCapacity),
	}

	pub := r.Group("/")
	{
		pub.GET("/", handler.handleIndex)
		pub.GET("/get_mining_info", handler.handleGetMiningInfo)
		pub.GET("/get_block", handler.handleGetBlock)
		pub.GET("/get_blocks", handler.handleGetBlocks)
		pub.GET("/get_address_info", handler.handleGetAddressInfo)
		pub.GET("/get_transaction", handler.handleGetTransaction)
		pub.GET("/get_nodes", handler.handleGetNodes)
		pub.GET("/api/v1/stream", wsHub.Subscribe)
	}

	gossip := r.Group("/")
	gossip.Use(AuthMiddleware())
	gossip.Use(NewRateLimiter(120, 20).Middleware())
	{
		gossip.GET("/push_tx", handler.handlePushTx)
		gossip.POST("/push_tx", handler.handlePushTx)
		gossip.GET("/push_block", handler.handlePushBlock)
		gossip.POST("/push_block", handler.handlePushBlock)
		gossip.GET("/add_node", handler.handleAddNode)
		gossip.POST("/add_node", handler.handleAddNode)
		gossip.GET("/sync_blockchain", handler.handleSyncBlockchain)
	}

	return r
}

// ok renders the {ok:true, result} envelope spec.md §6 mandates.
func ok(c *gin.Context, result interface{}) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "result": result})
}

// fail renders the {ok:false, error} envelope with the given HTTP status.
func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"ok": false, "error": msg})
}

func (h *APIHandler) handleIndex(c *gin.Context) {
	ok(c, gin.H{"name": "denaro-node", "version": 1})
}

func blockToDTO(b store.Block) models.BlockDTO {
	return models.BlockDTO{
		ID:         b.ID,
		Hash:       hex.EncodeToString(b.Hash[:]),
		Address:    b.Address,
		Random:     b.Random,
		Difficulty: strconv.FormatFloat(b.Difficulty, 'f', -1, 64),
		Reward:     b.Reward,
		Timestamp:  b.Timestamp,
	}
}

func txToDTO(tx *wire.Transaction) (models.TransactionDTO, error) {
	hash, err := tx.Hash()
	if err != nil {
		return models.TransactionDTO{}, err
	}
	dto := models.TransactionDTO{
		TxHash:  hex.EncodeToString(hash[:]),
		Version: tx.Version,
		Message: string(tx.Message),
	}
	for _, in := range tx.Inputs {
		dto.Inputs = append(dto.Inputs, models.TxInDTO{TxHash: hex.EncodeToString(in.TxHash[:]), Index: in.Index})
	}
	for _, out := range tx.Outputs {
		dto.Outputs = append(dto.Outputs, models.TxOutDTO{Address: cryptoprim.PointToFullHex(out.Address), Amount: out.Amount})
	}
	return dto, nil
}

// blockEnvelope matches the wire shape internal/peer's Syncer expects
// from a remote node's /get_block and /get_blocks responses: the
// header's hex content plus its non-coinbase transactions' hex.
type blockEnvelope struct {
	Block        blockContent `json:"block"`
	Transactions []string     `json:"transactions"`
}

type blockContent struct {
	ID      int64  `json:"id"`
	Hash    string `json:"hash"`
	Content string `json:"content"`
}

func buildEnvelope(s store.Store, ctx context.Context, b store.Block) (blockEnvelope, error) {
	txs, err := s.GetBlockTransactions(ctx, b.Hash)
	if err != nil {
		return blockEnvelope{}, err
	}
	env := blockEnvelope{Block: blockContent{ID: b.ID, Hash: hex.EncodeToString(b.Hash[:]), Content: hex.EncodeToString(b.Content)}}
	for _, tx := range txs {
		if tx.Coinbase {
			continue
		}
		enc, err := tx.Encode()
		if err != nil {
			continue
		}
		env.Transactions = append(env.Transactions, hex.EncodeToString(enc))
	}
	return env, nil
}

func (h *APIHandler) handleGetBlock(c *gin.Context) {
	q := c.Query("block")
	if q == "" {
		fail(c, http.StatusBadRequest, "missing block parameter")
		return
	}

	var block store.Block
	var err error
	if id, parseErr := strconv.ParseInt(q, 10, 64); parseErr == nil {
		block, err = h.Store.GetBlockByID(c.Request.Context(), id)
	} else {
		var hash chainhash.Hash
		raw, decErr := hex.DecodeString(q)
		if decErr != nil || len(raw) != chainhash.HashSize {
			fail(c, http.StatusBadRequest, "invalid block identifier")
			return
		}
		copy(hash[:], raw)
		block, err = h.Store.GetBlockByHash(c.Request.Context(), hash)
	}
	if err == store.ErrNotFound {
		fail(c, http.StatusNotFound, "block not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	env, err := buildEnvelope(h.Store, c.Request.Context(), block)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	ok(c, env)
}

func (h *APIHandler) handleGetBlocks(c *gin.Context) {
	offset, _ := strconv.ParseInt(c.DefaultQuery("offset", "1"), 10, 64)
	limit, _ := strconv.ParseInt(c.DefaultQuery("limit", "50"), 10, 64)
	if limit <= 0 || limit > maxGetBlocksLimit {
		limit = maxGetBlocksLimit
	}

	blocks, err := h.Store.GetBlocksRange(c.Request.Context(), offset, limit)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	envs := make([]blockEnvelope, 0, len(blocks))
	for _, b := range blocks {
		env, err := buildEnvelope(h.Store, c.Request.Context(), b)
		if err != nil {
			continue
		}
		envs = append(envs, env)
	}
	ok(c, envs)
}

func (h *APIHandler) handleGetMiningInfo(c *gin.Context) {
	ctx := c.Request.Context()
	last, err := h.Store.GetLastBlock(ctx)
	if err != nil && err != store.ErrNotFound {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	difficulty, err := pipeline.CurrentDifficulty(ctx, h.Store)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	pending, err := h.Store.GetPendingTransactions(ctx, 1<<30)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	info := models.MiningInfoDTO{
		Difficulty:        strconv.FormatFloat(difficulty, 'f', -1, 64),
		PendingTxCount:    len(pending),
		CirculatingSupply: uint64(consensus.CirculatingSupply(last.ID)),
	}
	if err == nil {
		info.LastBlock = blockToDTO(last)
	}
	ok(c, info)
}

func (h *APIHandler) handleGetAddressInfo(c *gin.Context) {
	address := c.Query("address")
	if address == "" {
		fail(c, http.StatusBadRequest, "missing address parameter")
		return
	}
	parsed, err := cryptoprim.ParseAddress(address)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid address")
		return
	}

	spendable, err := h.Store.GetSpendableOutputs(c.Request.Context(), cryptoprim.PointToFullHex(parsed))
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	info := models.AddressInfoDTO{Address: address}
	for _, o := range spendable {
		info.Balance += o.Amount
		info.SpendableOutputs = append(info.SpendableOutputs, models.TxOutRef{
			TxHash: hex.EncodeToString(o.TxHash[:]), Index: o.Index, Amount: o.Amount,
		})
	}
	ok(c, info)
}

func (h *APIHandler) handleGetTransaction(c *gin.Context) {
	q := c.Query("tx_hash")
	raw, err := hex.DecodeString(q)
	if err != nil || len(raw) != chainhash.HashSize {
		fail(c, http.StatusBadRequest, "invalid tx_hash")
		return
	}
	var hash chainhash.Hash
	copy(hash[:], raw)

	tx, blockHash, err := h.Store.GetTransaction(c.Request.Context(), hash)
	if err == store.ErrNotFound {
		fail(c, http.StatusNotFound, "transaction not found")
		return
	}
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	dto, err := txToDTO(tx)
	if err != nil {
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}

	result := gin.H{"transaction": dto, "pending": blockHash == (chainhash.Hash{})}
	if blockHash != (chainhash.Hash{}) {
		result["blockHash"] = hex.EncodeToString(blockHash[:])
	}
	ok(c, result)
}

func (h *APIHandler) handleGetNodes(c *gin.Context) {
	now := h.Registry.All()
	nodes := make([]models.NodeDTO, 0, len(now))
	for _, u := range now {
		nodes = append(nodes, models.NodeDTO{URL: u})
	}
	ok(c, nodes)
}

func senderURL(c *gin.Context) string {
	return c.GetHeader("Sender-Node")
}

func (h *APIHandler) handlePushTx(c *gin.Context) {
	txHex := c.Query("tx_hex")
	if txHex == "" {
		txHex = c.PostForm("tx_hex")
	}
	raw, err := hex.DecodeString(txHex)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid tx_hex")
		return
	}
	tx, err := wire.DecodeTransaction(raw)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	hash, err := tx.Hash()
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	hashHex := hex.EncodeToString(hash[:])
	if h.recentTxHashes.Contains(hashHex) {
		ok(c, gin.H{"duplicate": true})
		return
	}

	if err := h.Mempool.Admit(c.Request.Context(), tx); err != nil {
		if err == mempool.ErrConflict {
			ok(c, gin.H{"duplicate": true})
			return
		}
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	h.recentTxHashes.Add(hashHex)

	if h.Gossiper != nil {
		go h.Gossiper.Propagate(context.Background(), "/push_tx", url.Values{"tx_hex": {txHex}}, senderURL(c))
	}
	ok(c, gin.H{"accepted": true})
}

func (h *APIHandler) handlePushBlock(c *gin.Context) {
	blockContentHex := c.Query("block_content")
	if blockContentHex == "" {
		blockContentHex = c.PostForm("block_content")
	}
	txsHex := c.QueryArray("txs")
	if len(txsHex) == 0 {
		txsHex = c.PostFormArray("txs")
	}

	content, err := hex.DecodeString(blockContentHex)
	if err != nil {
		fail(c, http.StatusBadRequest, "invalid block_content")
		return
	}
	txs := make([]*wire.Transaction, 0, len(txsHex))
	for _, txHex := range txsHex {
		raw, err := hex.DecodeString(txHex)
		if err != nil {
			fail(c, http.StatusBadRequest, "invalid tx hex in txs")
			return
		}
		tx, err := wire.DecodeTransaction(raw)
		if err != nil {
			fail(c, http.StatusBadRequest, err.Error())
			return
		}
		txs = append(txs, tx)
	}

	id, err := h.Pipeline.Commit(c.Request.Context(), pipeline.Submission{Content: content, Transactions: txs})
	if err != nil {
		if h.Syncer != nil {
			go h.Syncer.Sync(context.Background(), "")
		}
		fail(c, http.StatusBadRequest, err.Error())
		return
	}

	if h.Gossiper != nil {
		args := url.Values{"block_content": {blockContentHex}}
		for _, t := range txsHex {
			args.Add("txs", t)
		}
		go h.Gossiper.Propagate(context.Background(), "/push_block", args, senderURL(c))
	}
	ok(c, gin.H{"blockId": id})
}

func (h *APIHandler) handleAddNode(c *gin.Context) {
	nodeURL := c.Query("url")
	if nodeURL == "" {
		nodeURL = c.PostForm("url")
	}
	if nodeURL == "" {
		fail(c, http.StatusBadRequest, "missing url")
		return
	}
	added := h.Registry.Add(nodeURL)
	if h.Gossiper != nil && added {
		go h.Gossiper.Propagate(context.Background(), "/add_node", url.Values{"url": {nodeURL}}, senderURL(c))
	}
	ok(c, gin.H{"added": added})
}

func (h *APIHandler) handleSyncBlockchain(c *gin.Context) {
	if h.Syncer == nil {
		fail(c, http.StatusServiceUnavailable, "sync not configured")
		return
	}
	if err := h.Syncer.Sync(c.Request.Context(), c.Query("node")); err != nil {
		if err == peer.ErrSyncInProgress {
			ok(c, gin.H{"syncing": true})
			return
		}
		fail(c, http.StatusInternalServerError, err.Error())
		return
	}
	ok(c, gin.H{"synced": true})
}
