package handlers

import (
	"context"
	"database/sql"

	"github.com/aleph-im/go-ccn/model"
	"github.com/aleph-im/go-ccn/store"
)

// executableHandler resolves every volume a program or instance declares
// (rootfs.parent, volumes[*], and for program messages the code/runtime/
// optional data volumes) to an existing StoredFile via ref (exact pin) or
// use_latest (tag), rejecting with VM_VOLUME_NOT_FOUND and the full list of
// missing refs in one pass (spec.md §4.5), then commits the VM row and its
// current-version pointer.
type executableHandler struct{}

func (executableHandler) Apply(ctx context.Context, tx *sql.Tx, st *store.Store, msg *model.Message) error {
	exe, err := executableOf(msg.Content)
	if err != nil {
		return err
	}

	var missing []string
	resolve := func(owner string, ref model.VolumeRef, label string) {
		if ref.Ref == "" && !ref.UseLatest {
			return // ephemeral/host-persisted volumes carry no ref
		}
		hash := ref.Ref
		if ref.UseLatest {
			resolved, rerr := st.ResolveTag(ctx, owner, label)
			if rerr != nil {
				missing = append(missing, label+":latest")
				return
			}
			hash = resolved
		}
		if _, ferr := st.GetStoredFile(ctx, hash); ferr == store.ErrNotFound {
			missing = append(missing, hash)
		}
	}

	resolve(exe.Address, exe.Rootfs.Parent, "rootfs")
	for _, v := range exe.Volumes {
		if v.Ephemeral || v.Persistence != "" {
			continue
		}
		ref := model.VolumeRef{Ref: v.Ref, UseLatest: v.UseLatest}
		resolve(exe.Address, ref, volumeLabel(v))
	}

	if msg.Content.Type == model.MessageTypeProgram {
		prog := msg.Content.Program
		resolve(exe.Address, prog.CodeVolume, "code")
		resolve(exe.Address, prog.RuntimeVolume, "runtime")
		if prog.DataVolume != nil {
			resolve(exe.Address, *prog.DataVolume, "data")
		}
	}

	if len(missing) > 0 {
		return model.NewRejection(model.ErrVMVolumeNotFound, map[string]any{"errors": missing})
	}

	est := NewCostEstimator()
	if err := est.CheckExecutable(ctx, st, exe); err != nil {
		return err
	}

	vm := &model.VMInstance{
		ItemHash: msg.ItemHash, Type: msg.Type, Owner: exe.Address, AllowAmend: exe.AllowAmend,
		Resources: exe.Resources, Rootfs: exe.Rootfs, Volumes: committedVolumes(exe),
		ComputeUnits: model.ComputeUnits(exe.Resources),
	}
	return store.UpsertVMTx(ctx, tx, vm)
}

// committedVolumes classifies every volumes[*] entry the way spec.md §8's
// scenarios check (Ephemeral/Persistent/Immutable counts); rootfs is
// tracked separately on the VMInstance row, not counted here.
func committedVolumes(exe *model.Executable) []model.VMVolume {
	out := make([]model.VMVolume, 0, len(exe.Volumes))
	for _, v := range exe.Volumes {
		out = append(out, model.VMVolume{
			Type: model.ClassifyVolume(v), Mount: v.Mount, Name: v.Name,
			SizeMiB: v.SizeMiB, Ref: v.Ref, UseLatest: v.UseLatest,
		})
	}
	return out
}

func executableOf(mc *model.MessageContent) (*model.Executable, error) {
	switch mc.Type {
	case model.MessageTypeProgram:
		return &mc.Program.Executable, nil
	case model.MessageTypeInstance:
		return &mc.Instance.Executable, nil
	default:
		return nil, rejectf(model.ErrContentValidationFailed, "not an executable message type: %s", string(mc.Type))
	}
}

func volumeLabel(v model.MachineVolume) string {
	if v.Name != "" {
		return v.Name
	}
	return v.Mount
}
