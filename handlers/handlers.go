// Package handlers implements the per-MessageType commit logic: aggregate
// (last-writer-wins), post (amend), store (pin/refcount/quota), program and
// instance (volume resolution), and forget (tombstone authorization).
package handlers

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/aleph-im/go-ccn/model"
	"github.com/aleph-im/go-ccn/store"
)

// Handler runs a message type's side effects inside the same transaction
// that will commit its Message row, and may veto the commit by returning a
// *model.RejectionError.
type Handler interface {
	Apply(ctx context.Context, tx *sql.Tx, st *store.Store, msg *model.Message) error
}

// Registry dispatches to the Handler registered for a MessageType.
type Registry struct {
	handlers map[model.MessageType]Handler
}

// NewRegistry wires up the six handlers spec.md §4.5 names.
func NewRegistry() *Registry {
	exe := executableHandler{}
	return &Registry{handlers: map[model.MessageType]Handler{
		model.MessageTypeAggregate: aggregateHandler{},
		model.MessageTypePost:      postHandler{},
		model.MessageTypeStore:     storeHandler{},
		model.MessageTypeProgram:   exe,
		model.MessageTypeInstance:  exe,
		model.MessageTypeForget:    forgetHandler{},
	}}
}

// Apply looks up msg.Type's Handler and delegates; an unregistered type is
// a CONTENT_VALIDATION_FAILED rejection rather than a silent no-op commit.
func (r *Registry) Apply(ctx context.Context, tx *sql.Tx, st *store.Store, msg *model.Message) error {
	h, ok := r.handlers[msg.Type]
	if !ok {
		return model.NewRejection(model.ErrContentValidationFailed, map[string]any{"unknown_type": string(msg.Type)})
	}
	return h.Apply(ctx, tx, st, msg)
}

func rejectf(code model.ErrorCode, format string, args ...any) error {
	return model.NewRejection(code, map[string]any{"reason": fmt.Sprintf(format, args...)})
}
