package handlers

import (
	"context"
	"database/sql"

	"github.com/aleph-im/go-ccn/model"
	"github.com/aleph-im/go-ccn/store"
)

// perSenderFileQuota bounds the number of distinct blobs one sender may pin.
const perSenderFileQuota = 10000

// perSenderComputeUnitQuota bounds the total compute units (spec.md §4.5's
// quota enforcement) one sender may have committed across live
// program/instance VMs at once.
const perSenderComputeUnitQuota = 1000

// CostEstimator enforces the per-sender quotas spec.md §4.5 requires for
// both store pins and program/instance compute, grounded on
// original_source's services/cost.py (its Decimal GiB/vCPU pricing reduced
// to integer compute units and a pin count, since this core tracks no
// token ledger to price against).
type CostEstimator struct{}

// NewCostEstimator builds a CostEstimator.
func NewCostEstimator() *CostEstimator { return &CostEstimator{} }

// CheckFilePinTx rejects with QUOTA_EXCEEDED if owner has already pinned
// perSenderFileQuota distinct files, inside tx.
func (CostEstimator) CheckFilePinTx(ctx context.Context, tx *sql.Tx, owner string) error {
	count, err := store.CountFilePinsByOwnerTx(ctx, tx, owner)
	if err != nil {
		return err
	}
	if count >= perSenderFileQuota {
		return model.NewRejection(model.ErrQuotaExceeded, map[string]any{"owner": owner, "quota": perSenderFileQuota})
	}
	return nil
}

// CheckExecutable rejects with QUOTA_EXCEEDED if committing exe would push
// owner's total outstanding compute units over perSenderComputeUnitQuota.
func (CostEstimator) CheckExecutable(ctx context.Context, st *store.Store, exe *model.Executable) error {
	units := model.ComputeUnits(exe.Resources)
	existing, err := st.SumVMComputeUnits(ctx, exe.Address)
	if err != nil {
		return err
	}
	if existing+units > perSenderComputeUnitQuota {
		return model.NewRejection(model.ErrQuotaExceeded, map[string]any{
			"owner": exe.Address, "quota": perSenderComputeUnitQuota, "requested": units, "existing": existing,
		})
	}
	return nil
}
