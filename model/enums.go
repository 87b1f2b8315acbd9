// Package model defines the shared data model for the Core Channel Node:
// chain transactions, the pending-message admission queue, processed
// messages, and the content types each message type carries.
package model

// Chain identifies a source blockchain. The set is open; chains unknown to
// this build are still accepted as opaque strings so the store and broker
// never reject a tx because of an unrecognized chain name.
type Chain string

// ChainProtocol selects how ChainTx.Content should be interpreted by the
// Chain Data Service.
type ChainProtocol string

const (
	ProtocolOnChainSync   ChainProtocol = "on_chain_sync"
	ProtocolOffChainSync  ChainProtocol = "off_chain_sync"
	ProtocolSmartContract ChainProtocol = "smart_contract"
)

// ItemType says where a message's content bytes live.
type ItemType string

const (
	ItemTypeInline  ItemType = "inline"
	ItemTypeStorage ItemType = "storage"
	ItemTypeIPFS    ItemType = "ipfs"
)

// MessageType selects the type handler and content schema.
type MessageType string

const (
	MessageTypeAggregate MessageType = "aggregate"
	MessageTypePost      MessageType = "post"
	MessageTypeStore     MessageType = "store"
	MessageTypeProgram   MessageType = "program"
	MessageTypeInstance  MessageType = "instance"
	MessageTypeForget    MessageType = "forget"
)

// MessageStatusKind is the single source of truth for where an item_hash
// currently lives (pending_messages, messages, rejected_messages, or
// forgotten_messages).
type MessageStatusKind string

const (
	StatusPending    MessageStatusKind = "pending"
	StatusProcessed  MessageStatusKind = "processed"
	StatusRejected   MessageStatusKind = "rejected"
	StatusForgotten  MessageStatusKind = "forgotten"
	StatusRemoving   MessageStatusKind = "removing"
)

// Origin records how a PendingMessage first entered the system.
type Origin string

const (
	OriginOnChain  Origin = "onchain"
	OriginP2P      Origin = "p2p"
	OriginAPI      Origin = "api"
)
