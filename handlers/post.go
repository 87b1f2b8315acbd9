package handlers

import (
	"context"
	"database/sql"

	"github.com/aleph-im/go-ccn/model"
	"github.com/aleph-im/go-ccn/store"
)

// postHandler amends a prior post when ref cites an existing item and the
// sender matches its original author; otherwise it is a standalone post.
type postHandler struct{}

func (postHandler) Apply(ctx context.Context, tx *sql.Tx, st *store.Store, msg *model.Message) error {
	content := msg.Content.Post
	if content == nil {
		return rejectf(model.ErrContentValidationFailed, "post content missing")
	}
	if content.Ref == "" {
		return nil
	}

	target, err := st.GetMessage(ctx, content.Ref)
	if err == store.ErrNotFound {
		return model.NewRejection(model.ErrContentValidationFailed, map[string]any{"missing_ref": content.Ref})
	}
	if err != nil {
		return err
	}
	if target.Sender != msg.Sender {
		return model.NewRejection(model.ErrPermissionDenied, map[string]any{"ref": content.Ref, "owner": target.Sender})
	}
	return nil
}
