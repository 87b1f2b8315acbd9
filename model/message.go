package model

import (
	"encoding/json"
	"time"
)

// Message is a fully processed, persisted message: invariant I4 holds for
// it (sha256(item_content) == item_hash whenever ItemType is inline).
type Message struct {
	ItemHash      string
	Type          MessageType
	Chain         Chain
	Sender        string
	Signature     string
	ItemType      ItemType
	ItemContent   json.RawMessage
	Content       *MessageContent
	Time          time.Time
	Channel       string
	Size          int
	Confirmations []MessageConfirmation
}

// Confirmed reports whether this message has at least one on-chain
// confirmation.
func (m *Message) Confirmed() bool {
	return len(m.Confirmations) > 0
}

// MessageStatus is the single source of truth for where item_hash
// currently lives; I1 requires exactly one row per item_hash.
type MessageStatus struct {
	ItemHash      string
	Status        MessageStatusKind
	ReceptionTime time.Time
}

// RejectedMessage records a permanently failed candidate.
type RejectedMessage struct {
	ItemHash  string
	Message   json.RawMessage
	ErrorCode ErrorCode
	Details   map[string]any
	Traceback string
}

// ForgottenMessage is the tombstone left after a forget message removes a
// processed message.
type ForgottenMessage struct {
	ItemHash    string
	Type        MessageType
	Chain       Chain
	Sender      string
	Signature   string
	ItemType    ItemType
	Time        time.Time
	Channel     string
	ForgottenBy []string
}

// MessageConfirmation is the many-to-many join between a message and the
// ChainTx(es) that confirmed it; I5 requires this set is append-only except
// via ChainTx cascade delete.
type MessageConfirmation struct {
	ItemHash string
	TxHash   string
	Chain    Chain
	Height   uint64
}
