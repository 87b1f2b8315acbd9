package handlers

import (
	"context"
	"database/sql"

	"github.com/aleph-im/go-ccn/model"
	"github.com/aleph-im/go-ccn/store"
)

// forgetHandler tombstones each named target the sender is authorized to
// remove; forgetting a forget is disallowed (spec.md §4.5).
type forgetHandler struct{}

func (forgetHandler) Apply(ctx context.Context, tx *sql.Tx, st *store.Store, msg *model.Message) error {
	content := msg.Content.Forget
	if content == nil || len(content.Hashes) == 0 {
		return rejectf(model.ErrContentValidationFailed, "forget content missing hashes")
	}

	var missing []string
	for _, hash := range content.Hashes {
		target, err := st.GetMessage(ctx, hash)
		if err == store.ErrNotFound {
			missing = append(missing, hash)
			continue
		}
		if err != nil {
			return err
		}
		if target.Type == model.MessageTypeForget {
			return model.NewRejection(model.ErrPermissionDenied, map[string]any{"hash": hash, "reason": "cannot forget a forget message"})
		}
		if target.Sender != msg.Sender && content.Address != target.Sender {
			return model.NewRejection(model.ErrPermissionDenied, map[string]any{"hash": hash, "owner": target.Sender})
		}
		if err := store.ForgetMessageTx(ctx, tx, target, msg.ItemHash); err != nil {
			return err
		}
		if target.Type == model.MessageTypeProgram || target.Type == model.MessageTypeInstance {
			if err := store.DeleteVMTx(ctx, tx, hash); err != nil {
				return err
			}
		}
	}
	if len(missing) > 0 {
		return model.NewRejection(model.ErrContentValidationFailed, map[string]any{"missing_hashes": missing})
	}
	return nil
}
