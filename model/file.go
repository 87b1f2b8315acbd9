package model

import "time"

// StoredFile is a content-addressed blob known to the storage service,
// reference counted for GC.
type StoredFile struct {
	Hash      string
	Size      int64
	Type      ItemType
	RefCount  int
	CreatedAt time.Time
}

// FileTag binds a mutable name to the latest hash of a logical artifact,
// used when a volume reference sets UseLatest.
type FileTag struct {
	Owner string
	Tag   string
	Hash  string
}

// FilePin is a caller-held reason a StoredFile must not be garbage
// collected (e.g. "message:<item_hash>" or "tx:<tx_hash>").
type FilePin struct {
	Hash   string
	Owner  string
	Reason string
	Until  *time.Time
}
