package model

import "time"

// ChainTx is an immutable record of a blockchain transaction carrying a
// sync envelope. hash is unique per chain.
type ChainTx struct {
	Hash            string
	Chain           Chain
	Height          uint64
	Datetime        time.Time
	Protocol        ChainProtocol
	ProtocolVersion int
	Content         []byte // raw JSON or, for off_chain_sync, a bare hash string
}

// PendingTx references a ChainTx awaiting expansion into candidate
// messages. Deleted once every candidate has been admitted (or the tx is
// found to carry none).
type PendingTx struct {
	TxHash string
	Chain  Chain
}
