// Package models holds the JSON-facing DTOs returned by the public RPC
// surface — the wire-level wire.Transaction/wire.BlockHeader types are
// never marshaled directly so the public API is decoupled from the binary
// codec's internal representation.
package models

// TxOutDTO describes one transaction output as surfaced over JSON.
type TxOutDTO struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

// TxInDTO describes one transaction input as surfaced over JSON.
type TxInDTO struct {
	TxHash string `json:"txHash"`
	Index  uint8  `json:"index"`
}

// TransactionDTO is the JSON rendering of a wire.Transaction, used by
// get_transaction responses.
type TransactionDTO struct {
	TxHash  string     `json:"txHash"`
	Version uint8      `json:"version"`
	Inputs  []TxInDTO  `json:"inputs"`
	Outputs []TxOutDTO `json:"outputs"`
	Message string     `json:"message,omitempty"`
	Fee     uint64      `json:"fee"`
}

// BlockDTO is the JSON rendering of a committed block, used by get_block
// and get_blocks responses.
type BlockDTO struct {
	ID         int64  `json:"id"`
	Hash       string `json:"hash"`
	Address    string `json:"address"`
	Random     uint32 `json:"random"`
	Difficulty string `json:"difficulty"`
	Reward     uint64 `json:"reward"`
	Timestamp  int64  `json:"timestamp"`
}

// MiningInfoDTO is returned by get_mining_info: the chain tip plus the
// difficulty the next block must satisfy.
type MiningInfoDTO struct {
	LastBlock        BlockDTO `json:"lastBlock"`
	Difficulty       string   `json:"difficulty"`
	PendingTxCount   int      `json:"pendingTransactions"`
	CirculatingSupply uint64  `json:"circulatingSupply"`
}

// AddressInfoDTO is returned by get_address_info: balance and spendable
// outputs for an address. get_address_info does not fill RecentTxHashes,
// so it is always empty.
type AddressInfoDTO struct {
	Address          string     `json:"address"`
	Balance          uint64     `json:"balance"`
	SpendableOutputs []TxOutRef `json:"spendableOutputs"`
	RecentTxHashes   []string   `json:"recentTransactions"`
}

// TxOutRef identifies a spendable output by its (tx_hash, index) key.
type TxOutRef struct {
	TxHash string `json:"txHash"`
	Index  uint8  `json:"index"`
	Amount uint64 `json:"amount"`
}

// NodeDTO describes a peer in the node registry, returned by get_nodes.
type NodeDTO struct {
	URL          string `json:"url"`
	LastSeenUnix int64  `json:"lastSeen"`
}
