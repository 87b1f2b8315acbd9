// Package publisher implements the Message Publisher admission gate:
// idempotent insertion of well-formed candidates into pending_messages
// plus the pending-message broker queue.
package publisher

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aleph-im/go-ccn/broker"
	"github.com/aleph-im/go-ccn/log"
	"github.com/aleph-im/go-ccn/model"
	"github.com/aleph-im/go-ccn/store"
)

var validMessageTypes = map[model.MessageType]bool{
	model.MessageTypeAggregate: true,
	model.MessageTypePost:      true,
	model.MessageTypeStore:     true,
	model.MessageTypeProgram:   true,
	model.MessageTypeInstance:  true,
	model.MessageTypeForget:    true,
}

var validItemTypes = map[model.ItemType]bool{
	model.ItemTypeInline:  true,
	model.ItemTypeStorage: true,
	model.ItemTypeIPFS:    true,
}

// Publisher is the admission gate every ingress path (peer pub/sub, tx
// confirmation, API submission) calls through.
type Publisher struct {
	store  *store.Store
	broker broker.Publisher
	log    log.Logger
}

// New builds a Publisher.
func New(st *store.Store, b broker.Publisher) *Publisher {
	return &Publisher{store: st, broker: b, log: log.New("component", "publisher")}
}

// AddPendingMessageInput bundles the call's non-message_dict parameters.
type AddPendingMessageInput struct {
	ReceptionTime time.Time
	Origin        model.Origin
	TxHash        string // empty if not tx-confirmed
	SourceChain   model.Chain
	SourceHeight  uint64
	CheckMessage  bool
}

// AddPendingMessage is add_pending_message: parse, validate, idempotently
// upsert, attach a confirmation if tx-sourced, and publish for eager
// processing. When the candidate is malformed it records the rejection
// itself (keyed by whatever item_hash can be recovered) and returns a nil
// PendingMessage with a *model.RejectionError carrying INVALID_FORMAT.
func (p *Publisher) AddPendingMessage(ctx context.Context, rawDict map[string]json.RawMessage, in AddPendingMessageInput) (*model.PendingMessage, error) {
	filtered := model.FilterAuthorizedFields(rawDict)
	raw, err := json.Marshal(filtered)
	if err != nil {
		return nil, err
	}
	var dict model.MessageDict
	if err := json.Unmarshal(raw, &dict); err != nil {
		rej := model.NewRejection(model.ErrInvalidFormat, map[string]any{"parse_error": err.Error()})
		if recErr := p.recordRejection(ctx, extractItemHash(filtered), raw, in.ReceptionTime, rej); recErr != nil {
			return nil, recErr
		}
		return nil, rej
	}

	if err := validateWellFormed(dict); err != nil {
		rej := err.(*model.RejectionError)
		if recErr := p.recordRejection(ctx, dict.ItemHash, raw, in.ReceptionTime, rej); recErr != nil {
			return nil, recErr
		}
		return nil, rej
	}

	key := model.LogicalKey{ItemHash: dict.ItemHash, Sender: dict.Sender, SourceChain: in.SourceChain, SourceHeight: in.SourceHeight}

	existing, err := p.store.FindPendingMessageByKey(ctx, key)
	if err != nil && err != store.ErrNotFound {
		return nil, err
	}
	var pm *model.PendingMessage
	if existing != nil {
		pm = existing
	} else {
		pm = &model.PendingMessage{
			ID:            uuid.NewString(),
			ItemHash:      dict.ItemHash,
			Sender:        dict.Sender,
			Chain:         dict.Chain,
			Type:          dict.Type,
			Signature:     dict.Signature,
			ItemType:      dict.ItemType,
			ItemContent:   dict.ItemContent,
			Time:          time.Unix(int64(dict.Time), 0).UTC(),
			Channel:       dict.Channel,
			ReceptionTime: in.ReceptionTime,
			NextAttempt:   in.ReceptionTime,
			Fetched:       dict.ItemType == model.ItemTypeInline,
			CheckMessage:  in.CheckMessage,
			Origin:        in.Origin,
			SourceTxHash:  in.TxHash,
			SourceChain:   in.SourceChain,
			SourceHeight:  in.SourceHeight,
		}
		if err := p.store.InsertPendingMessage(ctx, pm); err != nil {
			return nil, err
		}
		if err := p.store.InsertStatusIfAbsent(ctx, pm.ItemHash, in.ReceptionTime); err != nil {
			return nil, err
		}
	}

	if in.TxHash != "" {
		if err := p.store.InsertConfirmationIfAbsent(ctx, model.MessageConfirmation{
			ItemHash: pm.ItemHash, TxHash: in.TxHash, Chain: in.SourceChain, Height: in.SourceHeight,
		}); err != nil {
			return nil, err
		}
	}

	if p.broker != nil {
		if err := p.broker.Publish(ctx, broker.PendingMsgExchange, []byte(pm.ID)); err != nil {
			p.log.Warn("failed to publish pending-message notification", "id", pm.ID, "err", err)
		}
	}

	return pm, nil
}

// recordRejection persists a candidate rejected at admission — a status
// row (created if this item_hash was never seen before) and the
// rejected_messages row itself — per spec.md §4.3 step 2's "rejection
// recorded with INVALID_FORMAT" before returning null. itemHash may be
// empty if the candidate's own item_hash field didn't survive parsing;
// there is nothing to key a row on in that case, so recording is skipped.
func (p *Publisher) recordRejection(ctx context.Context, itemHash string, raw []byte, receptionTime time.Time, rej *model.RejectionError) error {
	if itemHash == "" {
		return nil
	}
	if err := p.store.InsertStatusIfAbsent(ctx, itemHash, receptionTime); err != nil {
		return err
	}
	return p.store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.RejectMessage(ctx, tx, itemHash, raw, rej, "")
	})
}

// extractItemHash best-effort reads the item_hash field straight out of
// the filtered field map, for the case where typed unmarshaling into
// MessageDict failed before dict.ItemHash could be populated.
func extractItemHash(filtered map[string]json.RawMessage) string {
	raw, ok := filtered["item_hash"]
	if !ok {
		return ""
	}
	var hash string
	if err := json.Unmarshal(raw, &hash); err != nil {
		return ""
	}
	return hash
}

func validateWellFormed(d model.MessageDict) error {
	if len(d.ItemHash) != 64 {
		return model.NewRejection(model.ErrInvalidFormat, map[string]any{"field": "item_hash"})
	}
	if d.Time <= 0 {
		return model.NewRejection(model.ErrInvalidFormat, map[string]any{"field": "time"})
	}
	if !validMessageTypes[d.Type] {
		return model.NewRejection(model.ErrInvalidFormat, map[string]any{"field": "type", "value": string(d.Type)})
	}
	if !validItemTypes[d.ItemType] {
		return model.NewRejection(model.ErrInvalidFormat, map[string]any{"field": "item_type", "value": string(d.ItemType)})
	}
	if d.Chain == "" {
		return model.NewRejection(model.ErrInvalidFormat, map[string]any{"field": "chain"})
	}
	if d.ItemType == model.ItemTypeInline {
		if !model.VerifyItemHash(d.ItemHash, d.ItemContent) {
			return model.NewRejection(model.ErrInvalidFormat, map[string]any{"field": "item_hash", "reason": fmt.Sprintf("does not match sha256(item_content)")})
		}
	}
	return nil
}
