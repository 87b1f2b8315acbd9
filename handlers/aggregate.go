package handlers

import (
	"context"
	"database/sql"

	"github.com/aleph-im/go-ccn/model"
	"github.com/aleph-im/go-ccn/store"
)

// aggregateHandler upserts the (owner, key) element, resolving conflicting
// writers by content-time, ties broken by item_hash (spec.md §4.5).
type aggregateHandler struct{}

func (aggregateHandler) Apply(ctx context.Context, tx *sql.Tx, st *store.Store, msg *model.Message) error {
	content := msg.Content.Aggregate
	if content == nil || content.Key == "" {
		return rejectf(model.ErrContentValidationFailed, "aggregate content missing key")
	}

	existing, err := store.GetAggregateElement(ctx, tx, content.Address, content.Key)
	if err != nil && err != store.ErrNotFound {
		return err
	}
	if existing != nil {
		wins := msg.Time.Unix() > existing.Time ||
			(msg.Time.Unix() == existing.Time && msg.ItemHash > existing.ItemHash)
		if !wins {
			return nil // message still commits as a Message row; it just doesn't become the current element
		}
	}

	return store.UpsertAggregateElementTx(ctx, tx, store.AggregateElement{
		Address:  content.Address,
		Key:      content.Key,
		ItemHash: msg.ItemHash,
		Time:     msg.Time.Unix(),
	})
}
