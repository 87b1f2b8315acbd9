package store

// schema is applied by Open against a fresh database (tests use an
// in-memory sqlite3 instance; production runs migrations out of band, but
// keeping the DDL next to the Go types that read/write these columns keeps
// the two from drifting).
const schema = `
CREATE TABLE IF NOT EXISTS chain_txs (
	hash TEXT NOT NULL,
	chain TEXT NOT NULL,
	height INTEGER NOT NULL,
	datetime INTEGER NOT NULL,
	protocol TEXT NOT NULL,
	protocol_version INTEGER NOT NULL,
	content BLOB,
	PRIMARY KEY (chain, hash)
);

CREATE TABLE IF NOT EXISTS pending_txs (
	tx_hash TEXT PRIMARY KEY,
	chain TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_messages (
	id TEXT PRIMARY KEY,
	item_hash TEXT NOT NULL,
	sender TEXT NOT NULL,
	chain TEXT NOT NULL,
	type TEXT NOT NULL,
	signature TEXT,
	item_type TEXT NOT NULL,
	item_content BLOB,
	time INTEGER NOT NULL,
	channel TEXT,
	reception_time INTEGER NOT NULL,
	retries INTEGER NOT NULL DEFAULT 0,
	next_attempt INTEGER NOT NULL,
	fetched INTEGER NOT NULL DEFAULT 0,
	check_message INTEGER NOT NULL DEFAULT 1,
	origin TEXT NOT NULL,
	source_tx_hash TEXT,
	source_chain TEXT NOT NULL,
	source_height INTEGER NOT NULL DEFAULT 0,
	UNIQUE (item_hash, sender, source_chain, source_height)
);

CREATE TABLE IF NOT EXISTS message_status (
	item_hash TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	reception_time INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	item_hash TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	chain TEXT NOT NULL,
	sender TEXT NOT NULL,
	signature TEXT,
	item_type TEXT NOT NULL,
	item_content BLOB,
	content BLOB NOT NULL,
	time INTEGER NOT NULL,
	channel TEXT,
	size INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS rejected_messages (
	item_hash TEXT NOT NULL,
	message BLOB NOT NULL,
	error_code TEXT NOT NULL,
	details BLOB,
	traceback TEXT
);

CREATE TABLE IF NOT EXISTS forgotten_messages (
	item_hash TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	chain TEXT NOT NULL,
	sender TEXT NOT NULL,
	signature TEXT,
	item_type TEXT NOT NULL,
	time INTEGER NOT NULL,
	channel TEXT,
	forgotten_by TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS message_confirmations (
	item_hash TEXT NOT NULL,
	tx_hash TEXT NOT NULL,
	chain TEXT NOT NULL,
	height INTEGER NOT NULL,
	PRIMARY KEY (item_hash, tx_hash)
);

CREATE TABLE IF NOT EXISTS stored_files (
	hash TEXT PRIMARY KEY,
	size INTEGER NOT NULL,
	type TEXT NOT NULL,
	ref_count INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS file_tags (
	owner TEXT NOT NULL,
	tag TEXT NOT NULL,
	hash TEXT NOT NULL,
	PRIMARY KEY (owner, tag)
);

CREATE TABLE IF NOT EXISTS file_pins (
	hash TEXT NOT NULL,
	owner TEXT NOT NULL,
	reason TEXT NOT NULL,
	until INTEGER,
	PRIMARY KEY (hash, owner, reason)
);

CREATE TABLE IF NOT EXISTS aggregate_elements (
	address TEXT NOT NULL,
	key TEXT NOT NULL,
	item_hash TEXT NOT NULL,
	time INTEGER NOT NULL,
	PRIMARY KEY (address, key)
);

CREATE TABLE IF NOT EXISTS vm_instances (
	item_hash TEXT PRIMARY KEY,
	type TEXT NOT NULL,
	owner TEXT NOT NULL,
	allow_amend INTEGER NOT NULL,
	resources_vcpus INTEGER NOT NULL,
	resources_memory INTEGER NOT NULL,
	resources_seconds INTEGER NOT NULL,
	rootfs_parent_ref TEXT,
	rootfs_parent_use_latest INTEGER NOT NULL DEFAULT 0,
	rootfs_persistence TEXT,
	rootfs_size_mib INTEGER NOT NULL,
	volumes BLOB NOT NULL,
	compute_units INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS vm_versions (
	vm_hash TEXT PRIMARY KEY,
	owner TEXT NOT NULL,
	current_version TEXT NOT NULL
);
`
