package handlers

import (
	"context"
	"database/sql"
	"time"

	"github.com/aleph-im/go-ccn/model"
	"github.com/aleph-im/go-ccn/store"
)

// storeHandler pins the referenced content, increments its reference count,
// and enforces a per-sender quota (spec.md §4.5) via CostEstimator.
type storeHandler struct{}

func (storeHandler) Apply(ctx context.Context, tx *sql.Tx, st *store.Store, msg *model.Message) error {
	content := msg.Content.Store
	if content == nil || content.ItemHash == "" {
		return rejectf(model.ErrContentValidationFailed, "store content missing item_hash")
	}

	if _, err := store.GetStoredFile(ctx, tx, content.ItemHash); err == store.ErrNotFound {
		if err := store.InsertStoredFileTx(ctx, tx, &model.StoredFile{
			Hash: content.ItemHash, Type: model.ItemType(content.ItemType), CreatedAt: time.Now(),
		}); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if err := NewCostEstimator().CheckFilePinTx(ctx, tx, msg.Sender); err != nil {
		return err
	}

	if err := store.IncrefStoredFileTx(ctx, tx, content.ItemHash); err != nil {
		return err
	}
	return store.InsertFilePinTx(ctx, tx, &model.FilePin{Hash: content.ItemHash, Owner: msg.Sender, Reason: msg.ItemHash})
}
