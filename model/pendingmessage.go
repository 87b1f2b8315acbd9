package model

import (
	"encoding/json"
	"time"
)

// PendingMessage sits in the admission queue between the Publisher and the
// Pending-Message Processor.
type PendingMessage struct {
	ID             string
	ItemHash       string
	Sender         string
	Chain          Chain
	Type           MessageType
	Signature      string
	ItemType       ItemType
	ItemContent    json.RawMessage // present once Fetched, or always for inline
	Time           time.Time
	Channel        string
	ReceptionTime  time.Time
	Retries        int
	NextAttempt    time.Time
	Fetched        bool
	CheckMessage   bool
	Origin         Origin
	SourceTxHash   string
	SourceChain    Chain
	SourceHeight   uint64
}

// Key returns the dedup logical key for this candidate.
func (m *PendingMessage) Key() LogicalKey {
	return LogicalKey{
		ItemHash:     m.ItemHash,
		Sender:       m.Sender,
		SourceChain:  m.SourceChain,
		SourceHeight: m.SourceHeight,
	}
}

// AuthorizedMessageFields lists the only fields a wire message_dict is
// allowed to carry into admission; anything else is dropped.
var AuthorizedMessageFields = map[string]bool{
	"item_hash":    true,
	"item_content": true,
	"item_type":    true,
	"chain":        true,
	"channel":      true,
	"sender":       true,
	"type":         true,
	"time":         true,
	"signature":    true,
}

// MessageDict is the wire form accepted on admission, already filtered to
// AuthorizedMessageFields.
type MessageDict struct {
	ItemHash    string          `json:"item_hash"`
	ItemContent json.RawMessage `json:"item_content,omitempty"`
	ItemType    ItemType        `json:"item_type"`
	Chain       Chain           `json:"chain"`
	Channel     string          `json:"channel,omitempty"`
	Sender      string          `json:"sender"`
	Type        MessageType     `json:"type"`
	Time        float64         `json:"time"`
	Signature   string          `json:"signature,omitempty"`
}

// FilterAuthorizedFields drops any key of raw not in AuthorizedMessageFields
// before decoding it into a MessageDict.
func FilterAuthorizedFields(raw map[string]json.RawMessage) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(AuthorizedMessageFields))
	for k, v := range raw {
		if AuthorizedMessageFields[k] {
			out[k] = v
		}
	}
	return out
}
