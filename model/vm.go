package model

// VMVolumeType classifies a committed volume by its lifecycle, matching
// the breakdown spec.md §8's scenarios assert on: torn down with the VM,
// surviving restarts, or resolved once from an immutable ref.
type VMVolumeType string

const (
	VMVolumeEphemeral  VMVolumeType = "ephemeral"
	VMVolumePersistent VMVolumeType = "persistent"
	VMVolumeImmutable  VMVolumeType = "immutable"
)

// VMVolume is one committed volumes[*] entry, tagged with its resolved
// VMVolumeType.
type VMVolume struct {
	Type      VMVolumeType
	Mount     string
	Name      string
	SizeMiB   int
	Ref       string
	UseLatest bool
}

// ClassifyVolume maps a wire MachineVolume to its VMVolumeType.
func ClassifyVolume(v MachineVolume) VMVolumeType {
	switch {
	case v.Ephemeral:
		return VMVolumeEphemeral
	case v.Persistence != "":
		return VMVolumePersistent
	default:
		return VMVolumeImmutable
	}
}

// VMInstance is the committed row for a program or instance message: the
// resource/rootfs declaration plus every volumes[*] entry, classified.
type VMInstance struct {
	ItemHash     string
	Type         MessageType // program or instance
	Owner        string
	AllowAmend   bool
	Resources    Resources
	Rootfs       RootfsVolume
	Volumes      []VMVolume
	ComputeUnits int
}

// ComputeUnits returns ceil(max(vcpus, memory/2048)), the compute-unit
// sizing original_source's services/cost.py ports from (Decimal pricing
// math reduced to integer units, since this core tracks no token ledger).
func ComputeUnits(r Resources) int {
	cpu := r.Vcpus
	memoryUnits := (r.Memory + 2047) / 2048
	if cpu >= memoryUnits {
		return cpu
	}
	return memoryUnits
}

// VolumeCounts tallies VMInstance.Volumes by type, the shape spec.md §8
// Scenario 1's {Ephemeral:1, Persistent:3, Immutable:1} breakdown checks.
func (vm *VMInstance) VolumeCounts() map[VMVolumeType]int {
	counts := map[VMVolumeType]int{}
	for _, v := range vm.Volumes {
		counts[v.Type]++
	}
	return counts
}

// VMVersion is the current-version pointer for a VM: which committed
// item_hash is authoritative for vm_hash right now. Amendment chains
// (allow_amend + replaces) are not implemented, so vm_hash and
// CurrentVersion are always equal to the VM's own item_hash.
type VMVersion struct {
	VMHash         string
	Owner          string
	CurrentVersion string
}
