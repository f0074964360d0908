package store

// schemaSQL mirrors the abstract schema of spec.md §6, plus the
// reorg_events audit table this expansion adds (grounded on the
// teacher's evidence_edge audit-hash rows) for operational visibility
// into rollbacks. Amounts are stored in smallest units (bigint); the
// composite (tx_hash, index) key used for UTXO lookups is represented as
// two columns rather than a row type so ANY($1::bytea[], $2::int[])-style
// bulk matches stay simple.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS blocks (
	id         BIGINT PRIMARY KEY,
	hash       BYTEA NOT NULL UNIQUE,
	content    BYTEA NOT NULL,
	address    TEXT NOT NULL,
	random     BIGINT NOT NULL,
	difficulty NUMERIC(6,1) NOT NULL,
	reward     BIGINT NOT NULL,
	timestamp  BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	block_hash        BYTEA NOT NULL REFERENCES blocks(hash) ON DELETE CASCADE,
	tx_hash           BYTEA NOT NULL,
	tx_hex            TEXT NOT NULL,
	inputs_addresses  TEXT[] NOT NULL DEFAULT '{}',
	outputs_addresses TEXT[] NOT NULL DEFAULT '{}',
	outputs_amounts   BIGINT[] NOT NULL DEFAULT '{}',
	fees              BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (tx_hash)
);
CREATE INDEX IF NOT EXISTS transactions_block_hash_idx ON transactions(block_hash);

CREATE TABLE IF NOT EXISTS pending_transactions (
	tx_hash          BYTEA PRIMARY KEY,
	tx_hex           TEXT NOT NULL,
	inputs_addresses TEXT[] NOT NULL DEFAULT '{}',
	fees             BIGINT NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS unspent_outputs (
	tx_hash BYTEA NOT NULL REFERENCES transactions(tx_hash) ON DELETE CASCADE,
	index   SMALLINT NOT NULL,
	address TEXT NOT NULL,
	PRIMARY KEY (tx_hash, index)
);
CREATE INDEX IF NOT EXISTS unspent_outputs_address_idx ON unspent_outputs(address);

CREATE TABLE IF NOT EXISTS pending_spent_outputs (
	tx_hash BYTEA NOT NULL,
	index   SMALLINT NOT NULL,
	PRIMARY KEY (tx_hash, index)
);

CREATE TABLE IF NOT EXISTS reorg_events (
	id            UUID PRIMARY KEY,
	old_tip_id    BIGINT NOT NULL,
	new_tip_id    BIGINT NOT NULL,
	old_tip_hash  BYTEA NOT NULL,
	new_tip_hash  BYTEA,
	occurred_at   BIGINT NOT NULL
);
`
