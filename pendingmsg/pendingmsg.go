// Package pendingmsg is the Pending-Message Processor: it fetches,
// verifies, parses, and hands off each due PendingMessage to its type
// handler, committing, rejecting, or rescheduling it in one transaction.
package pendingmsg

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/aleph-im/go-ccn/broker"
	"github.com/aleph-im/go-ccn/chainsig"
	"github.com/aleph-im/go-ccn/handlers"
	"github.com/aleph-im/go-ccn/log"
	"github.com/aleph-im/go-ccn/model"
	"github.com/aleph-im/go-ccn/scheduler"
	"github.com/aleph-im/go-ccn/storageservice"
	"github.com/aleph-im/go-ccn/store"
)

const fetchTimeout = 60 * time.Second

// outcome is the sum type replacing exception-for-control-flow across the
// processing pipeline (spec.md §9 Design Notes).
type outcome int

const (
	outcomeCommitted outcome = iota
	outcomeRejected
	outcomeRetryLater
)

// Processor drives PendingMessage rows through fetch/verify/parse/handle.
type Processor struct {
	store     *store.Store
	storage   *storageservice.Service
	chainsig  *chainsig.Registry
	handlers  *handlers.Registry
	scheduler *scheduler.Scheduler
	log       log.Logger

	semaphores map[model.MessageType]*semaphore.Weighted
	inFlight   sync.Map // model.LogicalKey -> struct{}
}

// Config bounds per-type concurrency; a type absent from Limits gets
// defaultLimit permits.
type Config struct {
	Limits       map[model.MessageType]int
	DefaultLimit int64
}

// New builds a Processor.
func New(st *store.Store, storage *storageservice.Service, sig *chainsig.Registry, h *handlers.Registry, sched *scheduler.Scheduler, cfg Config) *Processor {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = 20
	}
	sems := make(map[model.MessageType]*semaphore.Weighted)
	for _, t := range []model.MessageType{
		model.MessageTypeAggregate, model.MessageTypePost, model.MessageTypeStore,
		model.MessageTypeProgram, model.MessageTypeInstance, model.MessageTypeForget,
	} {
		limit := cfg.DefaultLimit
		if n, ok := cfg.Limits[t]; ok {
			limit = int64(n)
		}
		sems[t] = semaphore.NewWeighted(limit)
	}
	return &Processor{
		store: st, storage: storage, chainsig: sig, handlers: h, scheduler: sched,
		log: log.New("component", "pendingmsg"), semaphores: sems,
	}
}

// Process runs one PendingMessage through the pipeline end to end. The
// caller (the scan loop or a direct broker notification) is responsible for
// bounding per-type concurrency by calling this from within the permit the
// semaphore for pm.Type grants; ProcessBounded does this for you.
func (p *Processor) Process(ctx context.Context, pm *model.PendingMessage) error {
	key := pm.Key()
	if _, loaded := p.inFlight.LoadOrStore(key, struct{}{}); loaded {
		return nil // another worker already owns this logical key
	}
	defer p.inFlight.Delete(key)

	out, rejErr, retryErr := p.evaluate(ctx, pm)

	switch out {
	case outcomeCommitted:
		return nil
	case outcomeRejected:
		return p.reject(ctx, pm, rejErr)
	case outcomeRetryLater:
		return p.retryLater(ctx, pm, retryErr)
	default:
		return fmt.Errorf("pendingmsg: unreachable outcome %d", out)
	}
}

// ProcessBounded acquires pm.Type's semaphore before calling Process,
// blocking if that type's concurrency limit is already saturated.
func (p *Processor) ProcessBounded(ctx context.Context, pm *model.PendingMessage) error {
	sem, ok := p.semaphores[pm.Type]
	if !ok {
		sem = p.semaphores[model.MessageTypePost] // unreachable: all six types are pre-registered
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sem.Release(1)
	return p.Process(ctx, pm)
}

// evaluate runs fetch/verify/parse/handle and returns which of the three
// outcomes applies, carrying whichever error is relevant.
func (p *Processor) evaluate(ctx context.Context, pm *model.PendingMessage) (outcome, *model.RejectionError, error) {
	content := pm.ItemContent
	if !pm.Fetched {
		fetched, out, rej, err := p.fetchContent(ctx, pm)
		if out != outcomeCommitted {
			return out, rej, err
		}
		content = fetched
		if markErr := p.store.MarkFetched(ctx, pm.ID, content); markErr != nil {
			return outcomeRetryLater, nil, markErr
		}
	}

	if !model.VerifyItemHash(pm.ItemHash, content) {
		return outcomeRejected, model.NewRejection(model.ErrContentHashMismatch, map[string]any{"item_hash": pm.ItemHash}), nil
	}

	if pm.CheckMessage {
		sigBytes, err := decodeSignature(pm.Signature)
		if err != nil {
			return outcomeRejected, model.NewRejection(model.ErrInvalidSignature, map[string]any{"sender": pm.Sender, "reason": "signature is not hex"}), nil
		}
		ok, err := p.chainsig.Verify(pm.Chain, pm.Sender, content, sigBytes)
		if err != nil {
			return outcomeRetryLater, nil, err
		}
		if !ok {
			return outcomeRejected, model.NewRejection(model.ErrInvalidSignature, map[string]any{"sender": pm.Sender}), nil
		}
	}

	parsedContent, err := model.ParseContent(pm.Type, content)
	if err != nil {
		if rej, ok := err.(*model.RejectionError); ok {
			return outcomeRejected, rej, nil
		}
		return outcomeRetryLater, nil, err
	}

	msg := &model.Message{
		ItemHash: pm.ItemHash, Type: pm.Type, Chain: pm.Chain, Sender: pm.Sender,
		Signature: pm.Signature, ItemType: pm.ItemType, ItemContent: content,
		Content: parsedContent, Time: pm.Time, Channel: pm.Channel, Size: len(content),
	}

	commitErr := p.store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := p.handlers.Apply(ctx, tx, p.store, msg); err != nil {
			return err
		}
		return store.CommitMessage(ctx, tx, msg, pm.ID)
	})
	if commitErr == nil {
		return outcomeCommitted, nil, nil
	}
	if rej, ok := commitErr.(*model.RejectionError); ok {
		return outcomeRejected, rej, nil
	}
	return outcomeRetryLater, nil, commitErr
}

func (p *Processor) fetchContent(ctx context.Context, pm *model.PendingMessage) ([]byte, outcome, *model.RejectionError, error) {
	if pm.ItemType == model.ItemTypeInline {
		return pm.ItemContent, outcomeCommitted, nil, nil
	}
	res := p.storage.Fetch(ctx, pm.ItemHash, pm.ItemType, fetchTimeout)
	if res.Unavailable {
		return nil, outcomeRetryLater, nil, res.Err
	}
	if res.Invalid || res.Bytes == nil {
		return nil, outcomeRejected, model.NewRejection(model.ErrContentUnavailable, map[string]any{"item_hash": pm.ItemHash}), nil
	}
	return res.Bytes, outcomeCommitted, nil, nil
}

func (p *Processor) reject(ctx context.Context, pm *model.PendingMessage, rej *model.RejectionError) error {
	p.log.Debug("rejecting pending message", "item_hash", pm.ItemHash, "code", rej.Code)
	raw, _ := json.Marshal(pm)
	return p.store.WithTx(ctx, func(tx *sql.Tx) error {
		return store.RejectMessage(ctx, tx, pm.ItemHash, raw, rej, pm.ID)
	})
}

func (p *Processor) retryLater(ctx context.Context, pm *model.PendingMessage, cause error) error {
	if p.scheduler.ExceededRetries(pm.Retries) {
		return p.reject(ctx, pm, model.NewRejection(model.ErrExceededRetries, map[string]any{"retries": pm.Retries, "cause": causeString(cause)}))
	}
	next := p.scheduler.NextAttempt(time.Now(), pm.Retries+1)
	p.log.Debug("rescheduling pending message", "item_hash", pm.ItemHash, "retries", pm.Retries+1, "next_attempt", next, "cause", causeString(cause))
	return p.store.UpdatePendingMessageRetry(ctx, pm.ID, pm.Retries+1, next)
}

// decodeSignature turns the wire-JSON signature string into the raw bytes
// every Verifier expects, mirroring Ed25519Verifier's existing hex
// treatment of sender. Ethereum signers conventionally emit a 0x-prefixed
// hex string; the prefix is optional here so non-EVM chains that just hex
// encode their raw signature bytes also decode correctly.
func decodeSignature(sig string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(sig, "0x"))
}

func causeString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// Run consumes pending-message notifications (each delivery body is a
// PendingMessage ID) until ctx is cancelled, dispatching each to
// ProcessBounded in its own goroutine so a slow fetch on one message
// doesn't stall the queue, and acking as soon as the delivery is handed
// off — ProcessBounded's own per-key and per-type bounds, not broker
// redelivery, govern retry.
func (p *Processor) Run(ctx context.Context, deliveries <-chan broker.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			id := string(d.Body)
			pm, err := p.store.GetPendingMessageByID(ctx, id)
			if err != nil {
				if err == store.ErrNotFound {
					d.Ack()
					continue
				}
				p.log.Error("failed to load pending message", "id", id, "err", err)
				d.Nack(true)
				continue
			}
			d.Ack()
			go func() {
				if err := p.ProcessBounded(ctx, pm); err != nil {
					p.log.Error("failed to process pending message", "id", id, "err", err)
				}
			}()
		}
	}
}
