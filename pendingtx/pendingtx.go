// Package pendingtx is the Pending-Tx Processor: it consumes tx_hash
// notifications off the broker, expands each via the Chain Data Service,
// and feeds candidates to the Message Publisher.
package pendingtx

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aleph-im/go-ccn/broker"
	"github.com/aleph-im/go-ccn/chaindata"
	"github.com/aleph-im/go-ccn/log"
	"github.com/aleph-im/go-ccn/model"
	"github.com/aleph-im/go-ccn/publisher"
	"github.com/aleph-im/go-ccn/store"
)

// Processor drains the pending-tx queue.
type Processor struct {
	store     *store.Store
	chaindata *chaindata.Service
	publisher *publisher.Publisher
	seenIDs   chaindata.SeenIDs
	log       log.Logger
}

// New builds a Processor. seenIDs is per-worker, never shared, per
// spec.md §5.
func New(st *store.Store, cd *chaindata.Service, pub *publisher.Publisher, seenIDs chaindata.SeenIDs) *Processor {
	return &Processor{store: st, chaindata: cd, publisher: pub, seenIDs: seenIDs, log: log.New("component", "pendingtx")}
}

// HandlePendingTx is handle_pending_tx: look up the PendingTx, expand it,
// admit each candidate, and report whether the PendingTx row (and its
// broker ack) should be retired.
//
// Candidates == nil means "content currently unavailable"; the caller must
// not delete PendingTx nor ack, so redelivery retries. Candidates != nil
// (including empty) means this tx is fully handled.
func (p *Processor) HandlePendingTx(ctx context.Context, txHash string) (done bool, err error) {
	pt, err := p.store.GetPendingTx(ctx, txHash)
	if err != nil {
		if err == store.ErrNotFound {
			p.log.Debug("pending tx already handled", "tx_hash", txHash)
			return true, nil
		}
		return false, err
	}

	tx, err := p.loadChainTx(ctx, pt)
	if err != nil {
		return false, err
	}

	candidates, err := p.chaindata.GetTxMessages(ctx, tx, p.seenIDs)
	if err != nil {
		if _, ok := err.(*chaindata.InvalidContent); ok {
			p.log.Warn("tx content invalid, retiring without admitting anything", "tx_hash", txHash, "err", err)
			candidates = []json.RawMessage{}
		} else {
			return false, err
		}
	}
	if candidates == nil {
		return false, nil
	}

	checkMessage := tx.Protocol != model.ProtocolSmartContract
	for _, candidate := range candidates {
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(candidate, &fields); err != nil {
			p.log.Warn("candidate message is not an object, skipping", "tx_hash", txHash, "err", err)
			continue
		}
		if _, err := p.publisher.AddPendingMessage(ctx, fields, publisher.AddPendingMessageInput{
			ReceptionTime: time.Now().UTC(),
			Origin:        model.OriginOnChain,
			TxHash:        tx.Hash,
			SourceChain:   tx.Chain,
			SourceHeight:  tx.Height,
			CheckMessage:  checkMessage,
		}); err != nil {
			if _, ok := err.(*model.RejectionError); ok {
				p.log.Debug("candidate rejected at admission", "tx_hash", txHash, "err", err)
				continue
			}
			return false, err
		}
	}

	if err := p.store.DeletePendingTx(ctx, txHash); err != nil {
		return false, err
	}
	return true, nil
}

func (p *Processor) loadChainTx(ctx context.Context, pt *model.PendingTx) (*model.ChainTx, error) {
	// Looks up the ChainTx row the PendingTx refers to by (chain, tx_hash).
	return p.store.GetChainTx(ctx, pt.Chain, pt.TxHash)
}

// Run consumes deliveries from the pending-tx queue until ctx is
// cancelled, coordinating ack with DeletePendingTx so redelivery never
// loses a tx but may replay admission (idempotent, see publisher.P1).
func (p *Processor) Run(ctx context.Context, deliveries <-chan broker.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return
		case d, ok := <-deliveries:
			if !ok {
				return
			}
			txHash := string(d.Body)
			done, err := p.HandlePendingTx(ctx, txHash)
			if err != nil {
				p.log.Error("failed to handle pending tx", "tx_hash", txHash, "err", err)
				d.Nack(true)
				continue
			}
			if done {
				d.Ack()
			} else {
				d.Nack(true)
			}
		}
	}
}
