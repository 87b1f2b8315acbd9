package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/aleph-im/go-ccn/model"
)

// UpsertVMTx writes vm's vm_instances row and points its vm_versions
// current_version at vm.ItemHash, inside tx. Amendment chains aren't
// implemented, so vm_hash is always vm.ItemHash: every commit is its own
// VM, not a new version of a prior one.
func UpsertVMTx(ctx context.Context, tx *sql.Tx, vm *model.VMInstance) error {
	volumes, err := json.Marshal(vm.Volumes)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO vm_instances (item_hash, type, owner, allow_amend, resources_vcpus, resources_memory,
		 resources_seconds, rootfs_parent_ref, rootfs_parent_use_latest, rootfs_persistence, rootfs_size_mib, volumes, compute_units)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		vm.ItemHash, string(vm.Type), vm.Owner, vm.AllowAmend, vm.Resources.Vcpus, vm.Resources.Memory,
		vm.Resources.Seconds, vm.Rootfs.Parent.Ref, vm.Rootfs.Parent.UseLatest, vm.Rootfs.Persistence,
		vm.Rootfs.SizeMiB, volumes, vm.ComputeUnits); err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO vm_versions (vm_hash, owner, current_version) VALUES (?, ?, ?)
		 ON CONFLICT (vm_hash) DO UPDATE SET current_version = excluded.current_version`,
		vm.ItemHash, vm.Owner, vm.ItemHash)
	return err
}

// DeleteVMTx removes itemHash's vm_instances and vm_versions rows, inside
// tx; a no-op (not an error) if itemHash never committed a VM.
func DeleteVMTx(ctx context.Context, tx *sql.Tx, itemHash string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM vm_instances WHERE item_hash = ?`, itemHash); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, `DELETE FROM vm_versions WHERE vm_hash = ?`, itemHash)
	return err
}

// GetVM fetches a committed VM's vm_instances row by item_hash.
func (s *Store) GetVM(ctx context.Context, itemHash string) (*model.VMInstance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT item_hash, type, owner, allow_amend, resources_vcpus, resources_memory, resources_seconds,
		 rootfs_parent_ref, rootfs_parent_use_latest, rootfs_persistence, rootfs_size_mib, volumes
		 FROM vm_instances WHERE item_hash = ?`, itemHash)
	var (
		vm         model.VMInstance
		typ        string
		parentRef  sql.NullString
		persist    sql.NullString
		volumesRaw []byte
	)
	if err := row.Scan(&vm.ItemHash, &typ, &vm.Owner, &vm.AllowAmend, &vm.Resources.Vcpus, &vm.Resources.Memory,
		&vm.Resources.Seconds, &parentRef, &vm.Rootfs.Parent.UseLatest, &persist, &vm.Rootfs.SizeMiB, &volumesRaw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	vm.Type = model.MessageType(typ)
	vm.Rootfs.Parent.Ref = parentRef.String
	vm.Rootfs.Persistence = persist.String
	if err := json.Unmarshal(volumesRaw, &vm.Volumes); err != nil {
		return nil, err
	}
	return &vm, nil
}

// SumVMComputeUnits totals ComputeUnits across every vm_instances row owner
// currently has committed, the quota basis CostEstimator checks against.
func (s *Store) SumVMComputeUnits(ctx context.Context, owner string) (int, error) {
	var total sql.NullInt64
	row := s.db.QueryRowContext(ctx, `SELECT SUM(compute_units) FROM vm_instances WHERE owner = ?`, owner)
	if err := row.Scan(&total); err != nil {
		return 0, err
	}
	return int(total.Int64), nil
}

// GetVMVersion fetches the current-version pointer for vmHash.
func (s *Store) GetVMVersion(ctx context.Context, vmHash string) (*model.VMVersion, error) {
	row := s.db.QueryRowContext(ctx, `SELECT vm_hash, owner, current_version FROM vm_versions WHERE vm_hash = ?`, vmHash)
	var v model.VMVersion
	if err := row.Scan(&v.VMHash, &v.Owner, &v.CurrentVersion); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &v, nil
}
