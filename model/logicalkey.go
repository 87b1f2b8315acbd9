package model

import "fmt"

// LogicalKey is the dedup identity of a pending message: the same
// (item_hash, sender, source_chain, source_height) admitted twice collapses
// to one PendingMessage row.
type LogicalKey struct {
	ItemHash     string
	Sender       string
	SourceChain  Chain
	SourceHeight uint64
}

func (k LogicalKey) String() string {
	return fmt.Sprintf("%s/%s/%s/%d", k.ItemHash, k.Sender, k.SourceChain, k.SourceHeight)
}
