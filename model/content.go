package model

import "encoding/json"

// AggregateContent upserts an element in the (owner, key) aggregate store.
type AggregateContent struct {
	Key     string         `json:"key"`
	Address string         `json:"address"`
	Content map[string]any `json:"content"`
}

// PostContent stores or amends a post; Ref, when set, names the post this
// one amends.
type PostContent struct {
	Type    string         `json:"type"`
	Address string         `json:"address"`
	Content map[string]any `json:"content"`
	Ref     string         `json:"ref,omitempty"`
}

// StoreContent pins referenced content and tracks it for quota/GC purposes.
type StoreContent struct {
	Address  string `json:"address"`
	Time     float64 `json:"time"`
	ItemType string `json:"item_type"`
	ItemHash string `json:"item_hash"`
}

// Resources bounds the compute a program/instance may consume.
type Resources struct {
	Vcpus   int `json:"vcpus"`
	Memory  int `json:"memory"`
	Seconds int `json:"seconds"`
}

// Requirements carries placement hints such as required CPU architecture.
type Requirements struct {
	CPU struct {
		Architecture string `json:"architecture,omitempty"`
	} `json:"cpu,omitempty"`
}

// VolumeRef names a StoredFile by exact pin (Ref) or by latest-tag
// (UseLatest); exactly the shape original_source's InstanceContent fixtures
// use for rootfs.parent and volumes[*].
type VolumeRef struct {
	Ref       string `json:"ref,omitempty"`
	UseLatest bool   `json:"use_latest,omitempty"`
}

// RootfsVolume is the boot volume every instance/program carries.
type RootfsVolume struct {
	Parent      VolumeRef `json:"parent"`
	Persistence string    `json:"persistence"`
	Name        string    `json:"name,omitempty"`
	SizeMiB     int       `json:"size_mib"`
}

// MachineVolume is one of volumes[*]: ephemeral (no backing ref, torn down
// with the VM), host-persisted (survives VM restarts, no tag/ref needed),
// or immutable (resolved once from ref/tag and mounted read-only).
type MachineVolume struct {
	Mount       string `json:"mount"`
	Ephemeral   bool   `json:"ephemeral,omitempty"`
	Persistence string `json:"persistence,omitempty"` // "host" | "store" | ""
	Ref         string `json:"ref,omitempty"`
	UseLatest   bool   `json:"use_latest,omitempty"`
	Name        string `json:"name,omitempty"`
	SizeMiB     int    `json:"size_mib,omitempty"`
}

// Immutable reports whether this volume must resolve to an existing
// StoredFile before the VM can start (i.e. it is neither ephemeral nor
// host/store persisted).
func (v MachineVolume) Immutable() bool {
	return !v.Ephemeral && v.Persistence == ""
}

// Executable is the shape program and instance content share: environment,
// resource/requirement bounds, and the volume set.
type Executable struct {
	Address       string            `json:"address"`
	AllowAmend    bool              `json:"allow_amend"`
	Variables     map[string]string `json:"variables,omitempty"`
	Environment   map[string]any    `json:"environment,omitempty"`
	Resources     Resources         `json:"resources"`
	Requirements  Requirements      `json:"requirements,omitempty"`
	Rootfs        RootfsVolume      `json:"rootfs"`
	AuthorizedKeys []string         `json:"authorized_keys,omitempty"`
	Volumes       []MachineVolume   `json:"volumes,omitempty"`
}

// ProgramContent is a serverless function declaration: besides the
// rootfs/volumes every Executable carries, it names the code and runtime
// it boots, plus an optional data volume.
type ProgramContent struct {
	Executable
	CodeVolume    VolumeRef  `json:"code"`
	RuntimeVolume VolumeRef  `json:"runtime"`
	DataVolume    *VolumeRef `json:"data,omitempty"`
	Entrypoint    string     `json:"entrypoint,omitempty"`
}

// InstanceContent is a long-running VM declaration.
type InstanceContent struct {
	Executable
}

// ForgetContent names prior messages to tombstone.
type ForgetContent struct {
	Address string   `json:"address"`
	Hashes  []string `json:"hashes"`
	Reason  string   `json:"reason,omitempty"`
}

// MessageContent is the tagged sum of every content schema, keyed by the
// MessageType that selects which field is populated. Raw always holds the
// original bytes so unknown fields survive round-tripping even though the
// typed struct only knows the shape current at build time.
type MessageContent struct {
	Type MessageType
	Raw  json.RawMessage

	Aggregate *AggregateContent
	Post      *PostContent
	Store     *StoreContent
	Program   *ProgramContent
	Instance  *InstanceContent
	Forget    *ForgetContent
}

// ParseContent dispatches on typ to populate the matching field of
// MessageContent, the single point where json.RawMessage becomes a typed
// value.
func ParseContent(typ MessageType, raw json.RawMessage) (*MessageContent, error) {
	mc := &MessageContent{Type: typ, Raw: raw}
	var err error
	switch typ {
	case MessageTypeAggregate:
		mc.Aggregate = &AggregateContent{}
		err = json.Unmarshal(raw, mc.Aggregate)
	case MessageTypePost:
		mc.Post = &PostContent{}
		err = json.Unmarshal(raw, mc.Post)
	case MessageTypeStore:
		mc.Store = &StoreContent{}
		err = json.Unmarshal(raw, mc.Store)
	case MessageTypeProgram:
		mc.Program = &ProgramContent{}
		err = json.Unmarshal(raw, mc.Program)
	case MessageTypeInstance:
		mc.Instance = &InstanceContent{}
		err = json.Unmarshal(raw, mc.Instance)
	case MessageTypeForget:
		mc.Forget = &ForgetContent{}
		err = json.Unmarshal(raw, mc.Forget)
	default:
		return nil, NewRejection(ErrContentValidationFailed, map[string]any{"unknown_type": string(typ)})
	}
	if err != nil {
		return nil, NewRejection(ErrContentValidationFailed, map[string]any{"parse_error": err.Error()})
	}
	return mc, nil
}
